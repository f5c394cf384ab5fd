package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/hookline/internal/delivery"
	"github.com/austindbirch/hookline/internal/queue"
)

var recordLimit int

// queueCmd represents the queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the delivery queue",
	Long:  `Inspect job counts and job records of the delivery queue in Redis.`,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		st, closeFn, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		stats, err := st.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read queue stats: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			printOutput(w, stats)
			return nil
		}
		fmt.Fprintf(w, "Queue %s:\n", st.Name())
		fmt.Fprintf(w, "  Waiting:   %d\n", stats.Waiting)
		fmt.Fprintf(w, "  Delayed:   %d\n", stats.Delayed)
		fmt.Fprintf(w, "  Active:    %d\n", stats.Active)
		fmt.Fprintf(w, "  Completed: %d\n", stats.Completed)
		fmt.Fprintf(w, "  Failed:    %d\n", stats.Failed)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list [state]",
	Short: "List job records in a state (waiting, delayed, active, completed, failed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state := queue.State(args[0])
		if !state.Valid() {
			return fmt.Errorf("invalid state %q", args[0])
		}
		return listRecords(cmd, state)
	},
}

var queueFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List abandoned deliveries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRecords(cmd, queue.StateFailed)
	},
}

// jobView is a queue record with its delivery job decoded
type jobView struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	DeliveryID   string    `json:"delivery_id,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	EndpointID   string    `json:"endpoint_id,omitempty"`
	EventType    string    `json:"event_type,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	RunAt        time.Time `json:"run_at"`
	FailedReason string    `json:"failed_reason,omitempty"`
}

func toJobView(rec queue.Record) jobView {
	v := jobView{
		ID:           rec.ID,
		State:        string(rec.State),
		RunAt:        rec.RunAt,
		FailedReason: rec.FailedReason,
	}
	if job, err := delivery.DecodeJob(rec.Body); err == nil {
		v.DeliveryID = job.DeliveryID
		v.TenantID = job.TenantID
		v.EndpointID = job.EndpointID
		v.EventType = job.EventType
		v.Attempt = job.Attempt
	}
	return v
}

func listRecords(cmd *cobra.Command, state queue.State) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	st, closeFn, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	recs, err := st.Records(ctx, state, recordLimit)
	if err != nil {
		return fmt.Errorf("failed to list %s jobs: %w", state, err)
	}
	views := make([]jobView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, toJobView(rec))
	}

	w := cmd.OutOrStdout()
	if outputJSON {
		printOutput(w, views)
		return nil
	}
	if len(views) == 0 {
		fmt.Fprintf(w, "No %s jobs\n", state)
		return nil
	}
	fmt.Fprintf(w, "%d %s jobs:\n", len(views), state)
	for _, v := range views {
		fmt.Fprintf(w, "  %s  endpoint=%s event=%s attempt=%d", v.ID, v.EndpointID, v.EventType, v.Attempt)
		if v.FailedReason != "" {
			fmt.Fprintf(w, " reason=%q", v.FailedReason)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueFailedCmd)

	queueCmd.PersistentFlags().IntVar(&recordLimit, "limit", 20, "maximum number of records to list (0 for all)")
}
