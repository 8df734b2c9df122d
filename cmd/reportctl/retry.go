package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/webdevavi/aureus/internal/apiclient"
)

var retryAPIURL string

var retryCmd = &cobra.Command{
	Use:   "retry <report-id>",
	Short: "Re-queue the first failed or missing stage of a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func init() {
	retryCmd.Flags().StringVar(&retryAPIURL, "api", "", "reports API base URL (default API_BASE_URL)")
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid report id %q", args[0])
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	base := retryAPIURL
	if base == "" {
		base = cfg.Server.APIBaseURL
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	res, err := apiclient.New(base, logger).Retry(ctx, id)
	if err != nil {
		return fmt.Errorf("retry report %d: %w", id, err)
	}

	out := cmd.OutOrStdout()
	if res.Queued {
		okColor.Fprintf(out, "queued ")
	} else {
		warnColor.Fprintf(out, "not queued ")
	}
	fmt.Fprintf(out, "report %d", res.ReportID)
	if res.RetryStage != "" {
		fmt.Fprintf(out, " stage=%s", res.RetryStage)
	}
	fmt.Fprintf(out, ": %s\n", res.Message)
	return nil
}
