package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/internal/identity"
)

// newTokenCmd は開発用のトークンを発行するコマンドを返す。
func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		email   string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "開発用のベアラートークンを発行する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return errors.New("--subject を指定してください")
			}
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			if cfg.UsesDefaultSecret() {
				fmt.Fprintln(cmd.ErrOrStderr(), "警告: 開発用の署名鍵でトークンを発行します")
			}
			token, err := identity.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(subject, email, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "主体ID（user_idクレーム）")
	cmd.Flags().StringVar(&email, "email", "", "メールアドレス")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "ロール（カンマ区切り）")
	cmd.Flags().DurationVar(&ttl, "ttl", identity.DefaultTTL, "有効期間")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示する",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
