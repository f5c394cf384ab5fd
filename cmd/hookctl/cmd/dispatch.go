package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/austindbirch/hookline/internal/api"
)

var payloadFile string

// dispatchCmd represents the dispatch command
var dispatchCmd = &cobra.Command{
	Use:     "dispatch [tenant-id] [event-type] [payload-json]",
	Aliases: []string{"publish"},
	Short:   "Dispatch an event to every subscribed endpoint of a tenant",
	Long: `Dispatch an event through the ingest API. The event is fanned out to
every active endpoint of the tenant and delivered asynchronously.

Examples:
  hookctl dispatch tenant_1 email.sent '{"emailId":"e_1"}'
  hookctl dispatch tenant_1 reply.received --file reply.json
  cat reply.json | hookctl dispatch tenant_1 reply.received --file -`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readPayload(cmd, args[2:], payloadFile)
		if err != nil {
			return err
		}
		payload, err := parseJSON(string(raw))
		if err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, err := makeHTTPRequest(ctx, http.MethodPost, "/v1/events", api.EventRequest{
			TenantID:  args[0],
			EventType: args[1],
			Payload:   payload,
		})
		if err != nil {
			return fmt.Errorf("failed to dispatch event: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("dispatch rejected (HTTP %d): %s", resp.StatusCode, string(body))
		}

		var out api.EventResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			printOutput(w, out)
			return nil
		}
		fmt.Fprintf(w, "Event accepted: %s\n", args[1])
		if out.RequestID != "" {
			fmt.Fprintf(w, "  Request ID: %s\n", out.RequestID)
		}
		if out.Warning != "" {
			fmt.Fprintf(w, "  Warning: %s\n", out.Warning)
		}
		return nil
	},
}

// eventTypesCmd represents the event-types command
var eventTypesCmd = &cobra.Command{
	Use:   "event-types",
	Short: "List the event types the ingest API knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, err := makeHTTPRequest(ctx, http.MethodGet, "/v1/event-types", nil)
		if err != nil {
			return fmt.Errorf("failed to list event types: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("list event types failed (HTTP %d)", resp.StatusCode)
		}

		var out struct {
			EventTypes []string `json:"event_types"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputJSON {
			printOutput(w, out)
			return nil
		}
		for _, et := range out.EventTypes {
			fmt.Fprintln(w, et)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(eventTypesCmd)

	dispatchCmd.Flags().StringVarP(&payloadFile, "file", "f", "", "read the payload from a file (- for stdin)")
}
