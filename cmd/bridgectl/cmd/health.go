package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the bridge",
	Long:  `Check the bridge health endpoint, including browser session pool availability.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, body, err := makeRequest("GET", "/health", nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		if outputJSON {
			printResponse(status, body)
			return nil
		}

		if status == 200 {
			fmt.Println("✓ Bridge is healthy")
		} else {
			fmt.Printf("✗ Bridge is unhealthy (HTTP %d)\n", status)
		}
		if dest, ok := body["destination"].(string); ok && dest != "" {
			fmt.Printf("  destination: %s\n", dest)
		}
		if sessions, ok := body["sessions"].(map[string]any); ok {
			fmt.Printf("  sessions: %v/%v available\n", sessions["available"], sessions["pool_size"])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
