package cmd

import (
	"strconv"

	"fedplane/pkg/api"

	"github.com/spf13/cobra"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Start and drive batches (coordinator only)",
}

var batchStartCmd = &cobra.Command{
	Use:   "start [project_id]",
	Short: "Start a new batch with one run per participant",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := siteClient(cmd)
		if c == nil {
			return
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		result, err := c.StartBatch(ctx, args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Batch %d started with %d runs\n", result.Batch, len(result.Runs))
		printRunTable(cmd, result.Runs)
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status [project_id] [batch] [status]",
	Short: "Move every run of a batch to a new status",
	Long: `Move every run of a batch to a new status in one step.

Example:
  flctl batch status <project-id> 3 AGGREGATING
  flctl batch status <project-id> 3 PENDING_AGGREGATING --increase-round`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		batch, err := strconv.Atoi(args[1])
		if err != nil {
			cmd.Printf("Error: invalid batch %q\n", args[1])
			return
		}
		increase, _ := cmd.Flags().GetBool("increase-round")

		c := siteClient(cmd)
		if c == nil {
			return
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		runs, err := c.TransitionBatch(ctx, args[0], batch, api.StatusChangeRequest{Status: args[2], IncreaseRound: increase})
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Batch %d moved to %s\n", batch, colorizeStatus(args[2]))
		printRunTable(cmd, runs)
	},
}

func init() {
	batchStatusCmd.Flags().Bool("increase-round", false, "Advance the current task's round")

	batchCmd.AddCommand(batchStartCmd, batchStatusCmd)
	rootCmd.AddCommand(batchCmd)
}
