package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var closeCmd = &cobra.Command{
	Use:   "close [working-path]",
	Short: "Forget an open document",
	Long:  `Stop tracking a working copy. The file itself is left on disk.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClose,
}

func init() {
	rootCmd.AddCommand(closeCmd)
}

func runClose(cmd *cobra.Command, args []string) error {
	doc, err := documentFor(cmd.Context(), args)
	if err != nil {
		return err
	}
	path := doc.Record().WorkingPath
	if err := current.sessions.Close(cmd.Context(), path); err != nil {
		return err
	}
	fmt.Fprintf(output(cmd), "Closed %s\n", path)
	return nil
}
