package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/app"
	"github.com/webdevavi/aureus/internal/synthesis"
)

var (
	extractCompany  string
	extractOutDir   string
	extractNoVision bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Run the extraction chain locally and write pages, context and report JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractCompany, "company", "", "company name for the report prompt (required)")
	extractCmd.Flags().StringVarP(&extractOutDir, "output", "o", "out", "directory for pages.json, context.json and report.json")
	extractCmd.Flags().BoolVar(&extractNoVision, "no-vision", false, "skip remote vision analysis of chart pages")
	_ = extractCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	src := args[0]
	ft, err := constants.ParseFileType(filepath.Ext(src))
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if extractNoVision {
		cfg.Pipeline.EnableVision = false
	}
	if err := cfg.ValidatePipeline(); err != nil {
		return err
	}
	if err := os.MkdirAll(extractOutDir, 0o755); err != nil {
		return err
	}
	work, err := os.MkdirTemp(cfg.OCR.WorkDir, "reportctl_")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	ctx := cmd.Context()
	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("extracting "+filepath.Base(src)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSetRenderBlankState(true),
	)
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " synthesizing report"
	progress := func(done, total int) {
		bar.ChangeMax(total)
		_ = bar.Set(done)
		if done == total {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
			spin.Start()
		}
	}

	started := time.Now()
	art, err := deps.Processor.Build(ctx, src, ft, extractCompany, work, progress)
	spin.Stop()
	if err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(extractOutDir, "pages.json"), art.Pages); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(extractOutDir, "context.json"), art.Context, 0o644); err != nil {
		return err
	}
	report, err := synthesis.Encode(art.Result.Report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(extractOutDir, "report.json"), report, 0o644); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if art.Result.Sentinel {
		warnColor.Fprintf(out, "synthesis failed after %d attempts: %v\n", art.Result.Attempts, art.Result.Err)
	} else {
		okColor.Fprint(out, "report ready ")
		fmt.Fprintf(out, "in %s\n", time.Since(started).Round(time.Second))
	}
	failed := 0
	for _, p := range art.Pages {
		if p.Engine == constants.EngineFailed {
			failed++
		}
	}
	keyColor.Fprint(out, "pages: ")
	fmt.Fprintf(out, "%d (%d failed)\n", len(art.Pages), failed)
	keyColor.Fprint(out, "context: ")
	fmt.Fprintf(out, "%d bytes, %s\n", len(art.Context), strings.ToLower(cfg.Pipeline.Compression))
	keyColor.Fprint(out, "output: ")
	fmt.Fprintln(out, extractOutDir)
	if art.Result.Sentinel {
		return fmt.Errorf("no report produced")
	}
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
