package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/webdevavi/aureus/internal/entity"
	"github.com/webdevavi/aureus/internal/export"
	"github.com/webdevavi/aureus/internal/synthesis"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <report.json>",
	Short: "Export a synthesized report to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output .xlsx path (default: next to the input)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	_, logger, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	raw, err := synthesis.Decode(data)
	if err != nil {
		return err
	}
	if synthesis.IsSentinel(raw) {
		return fmt.Errorf("%s holds a failed synthesis, nothing to export", args[0])
	}
	rep, err := entity.ParseFinancialReport(raw)
	if err != nil {
		return err
	}

	b, err := export.NewService(logger).ReportXLSX(rep)
	if err != nil {
		return err
	}
	out := exportOutput
	if out == "" {
		out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".xlsx"
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return err
	}
	okColor.Fprint(cmd.OutOrStdout(), "exported ")
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d metrics, %d charts)\n", out, len(rep.KeyMetrics), len(rep.Charts))
	return nil
}
