package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/hookline/internal/store"
)

var logLimit int

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs [endpoint-id]",
	Short: "Show recent delivery attempts for an endpoint",
	Long: `Show the newest delivery attempts recorded for an endpoint, newest first.

Examples:
  hookctl logs wh_123
  hookctl logs wh_123 --limit 50 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		pool, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		entries, err := store.NewDeliveryLog(pool).Recent(ctx, args[0], logLimit)
		if err != nil {
			return fmt.Errorf("failed to read delivery log: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			printOutput(w, entries)
			return nil
		}
		if len(entries) == 0 {
			fmt.Fprintf(w, "No delivery attempts for %s\n", args[0])
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(w, "%s  %-14s attempt=%d event=%s delivery=%s",
				e.At.Local().Format(time.DateTime), e.Outcome, e.Attempt, e.EventType, e.DeliveryID)
			if e.HTTPStatus != 0 {
				fmt.Fprintf(w, " status=%d", e.HTTPStatus)
			}
			if e.Error != "" {
				fmt.Fprintf(w, " error=%q", e.Error)
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVar(&logLimit, "limit", 20, "maximum number of attempts to show")
}
