package main

import (
	"errors"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/edgegate/internal/audit"
	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/pkg/event"
)

// newAuditCmd はSQLiteに記録された監査イベントを表示するコマンドを返す。
func newAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "記録されたトラフィックイベントを表示する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			if cfg.Audit.Backend != "sqlite" {
				return errors.New("AUDIT_BACKEND=sqlite の場合のみ利用できます")
			}
			sink, err := audit.OpenSQLite(cmd.Context(), cfg.Audit.SQLitePath, zap.NewNop())
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			if summary {
				counts, err := sink.CountByType(cmd.Context())
				if err != nil {
					return err
				}
				printAuditSummary(cmd.OutOrStdout(), counts)
				return nil
			}
			events, err := sink.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printAuditEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "表示する件数")
	cmd.Flags().BoolVar(&summary, "summary", false, "種類ごとの件数を表示する")
	return cmd
}

func printAuditEvents(w io.Writer, events []*event.Event) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"When", "Type", "Method", "Path", "Client", "Request ID", "Data"})
	for _, e := range events {
		t.AppendRow(table.Row{
			humanize.Time(e.CreatedAt),
			e.EventType,
			e.Method,
			e.Path,
			e.ClientKey,
			e.RequestID,
			string(e.Data),
		})
	}
	t.Render()
}

func printAuditSummary(w io.Writer, counts map[event.Type]int) {
	types := make([]string, 0, len(counts))
	total := 0
	for typ, n := range counts {
		types = append(types, string(typ))
		total += n
	}
	sort.Strings(types)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Type", "Count"})
	for _, typ := range types {
		t.AppendRow(table.Row{typ, humanize.Comma(int64(counts[event.Type(typ)]))})
	}
	t.AppendFooter(table.Row{"Total", humanize.Comma(int64(total))})
	t.Render()
}
