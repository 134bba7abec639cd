package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fedplane/pkg/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const requestTimeout = 60 * time.Second

// siteClient returns a client authenticated with the configured site key. It
// prints a hint and returns nil when no key is configured.
func siteClient(cmd *cobra.Command) *client.Client {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the FEDPLANE_TOKEN environment variable")
		return nil
	}
	return client.New(viper.GetString("url"), token)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, requestTimeout)
}

func printError(cmd *cobra.Command, err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusColor(status string) string {
	switch status {
	case "SUCCESS", "CONNECTED":
		return colorGreen
	case "FAILED", "PENDING_FAILED", "DISCONNECTED":
		return colorRed
	case "PREPARING", "RUNNING", "AGGREGATING":
		return colorYellow
	case "STANDBY", "PENDING_SUCCESS", "PENDING_AGGREGATING":
		return colorCyan
	default:
		return ""
	}
}

func statusIcon(status string) string {
	switch statusColor(status) {
	case colorGreen:
		return colorGreen + "✓" + colorReset
	case colorRed:
		return colorRed + "✗" + colorReset
	case colorYellow:
		return colorYellow + "⏳" + colorReset
	case colorCyan:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	c := statusColor(status)
	if c == "" {
		return status
	}
	return statusIcon(status) + " " + c + status + colorReset
}

func formatTimeWithRelative(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(t), colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
