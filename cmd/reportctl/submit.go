package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/webdevavi/aureus/internal/apiclient"
	"github.com/webdevavi/aureus/internal/ingest"
)

var (
	submitAPIURL  string
	submitCompany string
	watchInitial  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>...",
	Short: "Create a report per source document and queue it for extraction",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubmit,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>...",
	Short: "Submit pdf and txt files as they appear under the given directories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, watchCmd} {
		c.Flags().StringVar(&submitAPIURL, "api", "", "reports API base URL (default API_BASE_URL)")
		c.Flags().StringVar(&submitCompany, "company", "", "company name (default derived from the file name)")
		rootCmd.AddCommand(c)
	}
	watchCmd.Flags().BoolVar(&watchInitial, "initial", false, "also submit files already present")
}

func newSubmitter() (*ingest.Submitter, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	base := submitAPIURL
	if base == "" {
		base = cfg.Server.APIBaseURL
	}
	return ingest.NewSubmitter(apiclient.New(base, logger), logger), nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	s, err := newSubmitter()
	if err != nil {
		return err
	}
	failed := 0
	for _, path := range args {
		if !submitOne(cmd.Context(), cmd.OutOrStdout(), s, path) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := newSubmitter()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, errs, err := ingest.Watch(ctx, ingest.WatchConfig{Roots: args, InitialScan: watchInitial, SkipHidden: true}, nil)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	out := cmd.OutOrStdout()
	keyColor.Fprintf(out, "watching %v\n", args)
	for {
		select {
		case path, ok := <-events:
			if !ok {
				return nil
			}
			submitOne(ctx, out, s, path)
		case err, ok := <-errs:
			if ok {
				warnColor.Fprintf(out, "watch error: %v\n", err)
			}
		}
	}
}

func submitOne(ctx context.Context, out io.Writer, s *ingest.Submitter, path string) bool {
	res, err := s.Submit(ctx, path, submitCompany)
	if err != nil {
		warnColor.Fprintf(out, "failed ")
		fmt.Fprintf(out, "%s: %v\n", path, err)
		return false
	}
	okColor.Fprintf(out, "submitted ")
	fmt.Fprintf(out, "%s as report %d (%s)\n", path, res.ReportID, res.Company)
	return true
}
