package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/internal/registry"
	"github.com/nao1215/edgegate/internal/route"
)

func newRoutesCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "検証済みのルート表を表示する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			entries, err := cfg.ServiceEntries()
			if err != nil {
				return err
			}
			reg, err := registry.New(entries...)
			if err != nil {
				return err
			}
			tbl, err := route.NewTable(cfg.RouteList(), reg)
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), output, tbl.Routes(), reg)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "出力形式（table, yaml）")
	return cmd
}

// routeView はroutesコマンドの1行分の表示内容。
type routeView struct {
	Prefix     string   `yaml:"prefix"`
	Service    string   `yaml:"service"`
	Target     string   `yaml:"target"`
	Auth       string   `yaml:"auth"`
	Roles      []string `yaml:"roles,omitempty"`
	TimeoutMS  int64    `yaml:"timeout_ms"`
	MaxRetries int      `yaml:"max_retries"`
}

func printRoutes(w io.Writer, format string, routes []route.Route, reg *registry.Registry) error {
	views := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		entry, err := reg.Resolve(rt.Service)
		if err != nil {
			return err
		}
		views = append(views, routeView{
			Prefix:     rt.Prefix,
			Service:    rt.Service,
			Target:     entry.BaseURL.String(),
			Auth:       string(rt.Auth),
			Roles:      rt.Roles,
			TimeoutMS:  entry.Timeout.Milliseconds(),
			MaxRetries: entry.MaxRetries,
		})
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return fmt.Errorf("YAMLの出力に失敗: %w", err)
		}
		return enc.Close()
	case "table", "":
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Prefix", "Service", "Target", "Auth", "Roles", "Timeout", "Retries"})
		for _, v := range views {
			t.AppendRow(table.Row{
				v.Prefix,
				v.Service,
				v.Target,
				v.Auth,
				strings.Join(v.Roles, ","),
				fmt.Sprintf("%dms", v.TimeoutMS),
				v.MaxRetries,
			})
		}
		t.Render()
		return nil
	default:
		return fmt.Errorf("不明な出力形式です: %q", format)
	}
}
