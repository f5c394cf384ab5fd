package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the ingest service",
	Long:  `Check the health of the ingest service and its dependencies via /healthz.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, err := makeHTTPRequest(ctx, http.MethodGet, "/healthz", nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		w := cmd.OutOrStdout()
		if outputJSON {
			var body map[string]any
			_ = json.NewDecoder(resp.Body).Decode(&body)
			printOutput(w, map[string]any{"status_code": resp.StatusCode, "body": body})
			return nil
		}
		if resp.StatusCode == http.StatusOK {
			fmt.Fprintln(w, "✓ Service is healthy")
		} else {
			fmt.Fprintf(w, "✗ Service is unhealthy (HTTP %d)\n", resp.StatusCode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
