package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var diffContext int

var diffCmd = &cobra.Command{
	Use:   "diff [working-path]",
	Short: "Show uncommitted edits",
	Long:  `Show the edits made in the working copy since it was last opened or committed, as a unified diff.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().IntVarP(&diffContext, "context", "U", 3, "Unchanged lines shown around each change")
}

func runDiff(cmd *cobra.Command, args []string) error {
	doc, err := documentFor(cmd.Context(), args)
	if err != nil {
		return err
	}
	d, err := doc.Diff(cmd.Context(), diffContext)
	if err != nil {
		return err
	}
	if d.Empty() {
		fmt.Fprintln(output(cmd), "No changes.")
		return nil
	}
	rec := doc.Record()
	return d.WriteUnified(output(cmd), "a/"+rec.Path, "b/"+rec.Path)
}
