package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	sendPayloadFile string
	sendDirect      bool
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [payload]",
	Short: "Send a webhook payload through the bridge",
	Long: `Send a JSON payload to the bridge, which relays it to the configured
destination through a browser session.

The payload can be given as an argument, read from a file with --file, or
piped on stdin. Use --direct to bypass the browser and forward over plain
HTTP instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(args)
		if err != nil {
			return err
		}
		if !json.Valid(payload) {
			return fmt.Errorf("payload is not valid JSON")
		}

		path := "/webhook"
		if sendDirect {
			path = "/webhook/direct"
		}
		status, body, err := makeRequest("POST", path, payload)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		printResponse(status, body)
		switch {
		case status >= 200 && status < 300:
			return nil
		default:
			return fmt.Errorf("delivery failed with HTTP %d", status)
		}
	},
}

func readPayload(args []string) ([]byte, error) {
	if sendPayloadFile != "" {
		return os.ReadFile(sendPayloadFile)
	}
	if len(args) == 1 {
		return []byte(args[0]), nil
	}
	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		return io.ReadAll(os.Stdin)
	}
	return nil, fmt.Errorf("no payload: pass it as an argument, via --file, or on stdin")
}

func init() {
	sendCmd.Flags().StringVarP(&sendPayloadFile, "file", "f", "", "read the payload from a file")
	sendCmd.Flags().BoolVar(&sendDirect, "direct", false, "bypass the browser and forward over plain HTTP")
	rootCmd.AddCommand(sendCmd)
}
