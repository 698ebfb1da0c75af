package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent commit messages",
	Long:  `Show the commit messages entered recently, most recent first.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	messages, err := current.sessions.History(cmd.Context())
	if err != nil {
		return err
	}
	for i, msg := range messages {
		fmt.Fprintf(output(cmd), "%2d  %s\n", i+1, msg)
	}
	return nil
}
