package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusURL    string
	statusFollow bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a one-shot status snapshot from a running ada serve",
	Long: `Fetch GET /api/status from a running telemetry API and print it. With
--follow, re-fetches every 2 seconds until interrupted.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://127.0.0.1:4317", "Telemetry API base URL")
	statusCmd.Flags().BoolVar(&statusFollow, "follow", false, "Keep polling instead of exiting after one snapshot")
}

func runStatus(cmd *cobra.Command, args []string) error {
	for {
		if err := printStatus(statusURL); err != nil {
			return err
		}
		if !statusFollow {
			return nil
		}
		time.Sleep(2 * time.Second)
	}
}

func printStatus(baseURL string) error {
	resp, err := http.Get(baseURL + "/api/status")
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("status: decode response: %w", err)
	}

	pretty, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}
