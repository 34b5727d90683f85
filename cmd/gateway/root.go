package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/internal/logging"
)

// rootOptions はすべてのサブコマンドで共有するフラグ。
type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "API Gateway",
		Long:          "ルート照合・レート制限・トークン検証を行い、内部サービスへリクエストを転送するAPI Gateway。",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", os.Getenv("GATEWAY_CONFIG"), "設定ファイル（YAML）のパス")

	cmd.AddCommand(
		newServeCmd(opts),
		newRoutesCmd(opts),
		newTokenCmd(opts),
		newAuditCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load は設定を読み込み、設定に従ったロガーを生成する。
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
