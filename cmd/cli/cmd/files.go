package cmd

import (
	"os"
	"path/filepath"

	"fedplane/pkg/client"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Upload, list and download run files",
}

var filesUploadCmd = &cobra.Command{
	Use:   "upload [run_id] [file]",
	Short: "Attach a file to a run",
	Long: `Attach a file to a run for a task round. kind is one of artifacts, logs or
mid_artifacts.

Example:
  flctl files upload <run-id> model.pt --task 1 --round 2 --kind mid_artifacts`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		taskSeq, _ := cmd.Flags().GetInt("task")
		roundSeq, _ := cmd.Flags().GetInt("round")
		kind, _ := cmd.Flags().GetString("kind")

		if taskSeq < 1 || roundSeq < 1 {
			cmd.Println("Error: --task and --round are required")
			return
		}

		c := siteClient(cmd)
		if c == nil {
			return
		}

		f, err := os.Open(args[1])
		if err != nil {
			printError(cmd, err)
			return
		}
		defer f.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		result, err := c.UploadFile(ctx, client.FileUpload{
			RunID:    args[0],
			TaskSeq:  taskSeq,
			RoundSeq: roundSeq,
			Kind:     kind,
			FileName: filepath.Base(args[1]),
			Content:  f,
		})
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Uploaded %s\n", result.Path)
	},
}

var filesListCmd = &cobra.Command{
	Use:   "list [run_id...]",
	Short: "List files of one or more runs",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		taskSeq, _ := cmd.Flags().GetInt("task")
		roundSeq, _ := cmd.Flags().GetInt("round")
		kind, _ := cmd.Flags().GetString("kind")

		c := siteClient(cmd)
		if c == nil {
			return
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		files, err := c.ListFiles(ctx, client.FileFilter{RunIDs: args, TaskSeq: taskSeq, RoundSeq: roundSeq, Kind: kind})
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(files) == 0 {
			cmd.Println("No files.")
			return
		}
		for _, f := range files {
			cmd.Println(f)
		}
	},
}

var filesDownloadCmd = &cobra.Command{
	Use:   "download [path...]",
	Short: "Download files as a zip bundle",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")

		c := siteClient(cmd)
		if c == nil {
			return
		}

		out, err := os.Create(output)
		if err != nil {
			printError(cmd, err)
			return
		}
		defer out.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()

		if err := c.DownloadBundle(ctx, args, out); err != nil {
			out.Close()
			os.Remove(output)
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Saved %d files to %s\n", len(args), output)
	},
}

func init() {
	filesUploadCmd.Flags().Int("task", 0, "Task sequence number (required)")
	filesUploadCmd.Flags().Int("round", 0, "Round number (required)")
	filesUploadCmd.Flags().String("kind", "artifacts", "File kind: artifacts, logs or mid_artifacts")

	filesListCmd.Flags().Int("task", 0, "Only files of this task (requires --round)")
	filesListCmd.Flags().Int("round", 0, "Only files of this round (requires --task)")
	filesListCmd.Flags().String("kind", "artifacts", "File kind: artifacts, logs or mid_artifacts")

	filesDownloadCmd.Flags().StringP("output", "o", "bundle.zip", "Destination zip file")

	filesCmd.AddCommand(filesUploadCmd, filesListCmd, filesDownloadCmd)
	rootCmd.AddCommand(filesCmd)
}
