package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"foodlab/internal/adapters/export"
	"foodlab/internal/adapters/modules"
	"foodlab/internal/backup"
	"foodlab/internal/core"
)

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import a pathogen result file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := a.importer.ImportFile(ctx, args[0])
			notice := modules.ImportNotice(report, err)
			fmt.Fprintln(cmd.OutOrStdout(), notice.Message)
			for _, e := range report.Errors {
				fmt.Fprintln(cmd.ErrOrStderr(), "  "+e)
			}
			return err
		})
	},
}

var (
	exportTitle string
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the dashboard as a paginated A4 PDF report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			a.aggregation.Refresh(ctx)
			a.exporter.Load(ctx)
			wctx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := a.exporter.Wait(wctx); err != nil {
				return fmt.Errorf("load export capabilities: %w", err)
			}
			art, err := a.exporter.Export(ctx, exportTitle)
			if err != nil {
				return err
			}
			if exportOut != "" {
				if err := os.WriteFile(exportOut, art.Data, 0o644); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d pages)\n", export.MsgExported, art.Key, art.Pages)
			return nil
		})
	},
}

var statsFilter struct {
	kind, day, month, start, end string
	raw                          bool
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dashboard statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			f, err := core.ParseFilter(statsFilter.kind, statsFilter.day, statsFilter.month, statsFilter.start, statsFilter.end, time.Now())
			if err != nil {
				return err
			}
			md := summaryMarkdown(a.aggregation.Compute(ctx, f))
			if statsFilter.raw {
				fmt.Fprint(cmd.OutOrStdout(), md)
				return nil
			}
			r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
			if err != nil {
				return err
			}
			out, err := r.Render(md)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var backupOut string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot every category into a JSON backup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			notice, res := a.backup.HandleBackup(ctx)
			if notice.Level != modules.LevelSuccess {
				return errors.New(notice.Message)
			}
			if backupOut != "" {
				if err := os.WriteFile(backupOut, res.Data, 0o644); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", notice.Message, res.Key)
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file|backup-key>",
	Short: "Replace every category from a backup file or a stored backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			var report backup.RestoreReport
			payload, err := os.ReadFile(args[0])
			switch {
			case err == nil:
				report, err = a.backup.Restore(ctx, payload)
			case errors.Is(err, fs.ErrNotExist):
				report, err = a.backup.RestoreKey(ctx, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), backup.MsgRestored+"\n", len(report.Tables))
			if len(report.Skipped) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %s\n", strings.Join(report.Skipped, ", "))
			}
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportTitle, "title", "t", "", "report title")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "also write the PDF to this path")
	backupCmd.Flags().StringVarP(&backupOut, "out", "o", "", "also write the backup to this path")
	statsCmd.Flags().StringVar(&statsFilter.kind, "filter", "all", "all, day, month or range")
	statsCmd.Flags().StringVar(&statsFilter.day, "day", "", "YYYY-MM-DD (day filter, default today)")
	statsCmd.Flags().StringVar(&statsFilter.month, "month", "", "YYYY-MM (month filter, default this month)")
	statsCmd.Flags().StringVar(&statsFilter.start, "start", "", "range start YYYY-MM-DD")
	statsCmd.Flags().StringVar(&statsFilter.end, "end", "", "range end YYYY-MM-DD")
	statsCmd.Flags().BoolVar(&statsFilter.raw, "raw", false, "print markdown without terminal styling")
}

// summaryMarkdown lays a summary out as a markdown document.
func summaryMarkdown(s core.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 检测统计\n\n%s · 总检测数 **%d**\n\n", s.Window, s.Total)
	b.WriteString("| 类别 | 检测数 | 合格 | 合格率 | 阳性 |\n|---|---:|---:|---:|---:|\n")
	for _, st := range s.Stats {
		rate := "-"
		if st.HasPassRate {
			rate = fmt.Sprintf("%d%%", st.PassRate)
		}
		fmt.Fprintf(&b, "| %s | %d | %d | %s | %d |\n", st.Title, st.Count, st.Pass, rate, st.Positive)
	}
	if len(s.Alerts) > 0 {
		b.WriteString("\n## 预警\n\n")
		for _, a := range s.Alerts {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if len(s.Canteens) > 0 {
		b.WriteString("\n## 食堂合格率\n\n| 食堂 | 检测数 | 合格 | 合格率 |\n|---|---:|---:|---:|\n")
		for _, c := range s.Canteens {
			fmt.Fprintf(&b, "| %s | %d | %d | %d%% |\n", c.Canteen, c.Total, c.Passed, c.PassRate)
		}
	}
	return b.String()
}
