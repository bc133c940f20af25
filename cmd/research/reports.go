package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stock-lstm-research/internal/sqs"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Follow the epoch report queue and print each report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		queue := e.cfg.AWS.EpochQueueURL
		if queue == "" {
			return fmt.Errorf("EPOCH_QUEUE_URL is not set")
		}
		only, _ := cmd.Flags().GetString("task")

		client, err := sqs.NewClient(ctx, e.cfg.AWS.Region)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		return sqs.ConsumeEpochReports(ctx, client, queue, e.logger, func(ctx context.Context, r sqs.EpochReport) error {
			if only != "" && r.Task != only {
				return nil
			}
			writeReport(out, r)
			return nil
		})
	},
}

func init() {
	reportsCmd.Flags().String("task", "", "only print reports of this task")
}

// writeReport prints one line per report. Epochs arrive 1-based.
func writeReport(w io.Writer, r sqs.EpochReport) {
	keys := make([]string, 0, len(r.Logs))
	for k := range r.Logs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.6g", k, r.Logs[k])
	}
	fmt.Fprintf(w, "%s %s [%s] epoch %d: %s\n",
		r.RecordedAt.Format(time.DateTime), r.Task, r.Run, r.Epoch, strings.Join(parts, " "))
}
