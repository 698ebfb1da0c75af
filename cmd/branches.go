package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var branchesCmd = &cobra.Command{
	Use:   "branches [working-path]",
	Short: "List the branches of a document's repository",
	Long:  `List the branches of the repository the next commit of a document goes to. The current branch is marked with "*".`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBranches,
}

func init() {
	rootCmd.AddCommand(branchesCmd)
}

func runBranches(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	doc, err := documentFor(ctx, args)
	if err != nil {
		return err
	}
	if err := current.authenticate(ctx); err != nil {
		return err
	}

	names, err := current.api.ListBranches(ctx, doc.Repo())
	if err != nil {
		return err
	}
	branch := doc.Version().Branch
	for _, name := range names {
		marker := " "
		if name == branch {
			marker = "*"
		}
		fmt.Fprintf(output(cmd), "%s %s\n", marker, name)
	}
	return nil
}
