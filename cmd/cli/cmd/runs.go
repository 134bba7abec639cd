package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"fedplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List, inspect and update runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list [project_id]",
	Short: "List the runs of a project visible to this site",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		merged, _ := cmd.Flags().GetBool("merged")

		c := siteClient(cmd)
		if c == nil {
			return
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if merged {
			views, err := c.ListMergedRuns(ctx, args[0])
			if err != nil {
				printError(cmd, err)
				return
			}
			if len(views) == 0 {
				cmd.Println("No batches.")
				return
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "BATCH\tSTATUS\tRUNS\tUPDATED")
			for _, m := range views {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", m.Batch, m.Status, len(m.RunIDs), relativeTime(m.UpdatedAt)+" ago")
			}
			w.Flush()
			return
		}

		runs, err := c.ListRuns(ctx, args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(runs) == 0 {
			cmd.Println("No runs.")
			return
		}
		printRunTable(cmd, runs)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run_id]",
	Short: "Show a run with its current task and files",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := siteClient(cmd)
		if c == nil {
			return
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		run, err := c.GetRun(ctx, args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		printRun(cmd, run)
	},
}

var runsStatusCmd = &cobra.Command{
	Use:   "status [run_id] [status]",
	Short: "Move a run to a new status",
	Long: `Move a run to a new status. For a coordinator run the whole batch follows.

Example:
  flctl runs status <run-id> RUNNING
  flctl runs status <run-id> PENDING_SUCCESS`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		increase, _ := cmd.Flags().GetBool("increase-round")

		c := siteClient(cmd)
		if c == nil {
			return
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		run, err := c.UpdateRunStatus(ctx, args[0], api.StatusChangeRequest{Status: args[1], IncreaseRound: increase})
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Run %s is now %s\n", run.ID, colorizeStatus(run.Status))
	},
}

func printRunTable(cmd *cobra.Command, runs []api.RunResponse) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tBATCH\tROLE\tSITE\tTASK\tROUND\tSTATUS")
	for i := range runs {
		r := &runs[i]
		round := "-"
		if t := r.CurrentTask(); t != nil {
			round = roundOf(t)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.Batch, r.Role, shortID(r.SiteUID), r.CurSeq, round, r.Status)
	}
	w.Flush()
}

// roundOf renders current_round/total_round from the task config.
func roundOf(t *api.Task) string {
	cur := gjson.GetBytes(t.Config, "current_round")
	total := gjson.GetBytes(t.Config, "total_round")
	if !cur.Exists() {
		return "-"
	}
	if !total.Exists() {
		return cur.String()
	}
	return cur.String() + "/" + total.String()
}

func printRun(cmd *cobra.Command, run *api.RunResponse) {
	cmd.Printf("%s %sRun Details%s\n", statusIcon(run.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, run.ID)
	cmd.Printf("%sProject:%s     %s\n", colorDim, colorReset, run.ProjectID)
	cmd.Printf("%sSite:%s        %s\n", colorDim, colorReset, run.SiteUID)
	cmd.Printf("%sRole:%s        %s\n", colorDim, colorReset, run.Role)
	cmd.Printf("%sBatch:%s       %d\n", colorDim, colorReset, run.Batch)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(run.Status))
	if t := run.CurrentTask(); t != nil {
		cmd.Printf("%sTask:%s        %d/%d %s (round %s)\n", colorDim, colorReset, run.CurSeq, len(run.Tasks), t.Model, roundOf(t))
	}
	cmd.Printf("%sUpdated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(run.UpdatedAt))

	printFileList(cmd, "Artifacts", run.Artifacts)
	printFileList(cmd, "Mid artifacts", run.MidArtifacts)
	printFileList(cmd, "Logs", run.Logs)
}

func printFileList(cmd *cobra.Command, label string, files []string) {
	if len(files) == 0 {
		return
	}
	cmd.Printf("%s%s:%s\n  %s\n", colorDim, label, colorReset, strings.Join(files, "\n  "))
}

func init() {
	runsListCmd.Flags().Bool("merged", false, "Show one summary per batch")
	runsStatusCmd.Flags().Bool("increase-round", false, "Advance the current task's round (coordinator only)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatusCmd)
	rootCmd.AddCommand(runsCmd)
}
