package cmd

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/adalundhe/docsync/core/session"
	"github.com/adalundhe/docsync/core/versioning"
)

var openCmd = &cobra.Command{
	Use:   "open <owner/repo/branch/path> [working-path]",
	Short: "Open a repository file as a local working copy",
	Long: `Fetch a file from GitHub and write it to a local working copy. The branch may
also be a commit SHA. Branch names containing "/" are written URL-encoded
(feature%2Fx). The working copy defaults to the file's name in the current
directory.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	loc, err := session.ParseLocation(args[0])
	if err != nil {
		return err
	}
	workingPath := path.Base(loc.Path)
	if len(args) == 2 {
		workingPath = args[1]
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := current.authenticate(ctx); err != nil {
		return err
	}
	doc, err := current.sessions.Open(ctx, loc, workingPath)
	if err != nil {
		return err
	}

	rec := doc.Record()
	fmt.Fprintf(output(cmd), "Opened %s at %s (head %s)\n", loc, rec.WorkingPath, versioning.ShortHash(rec.HeadCommit))
	return nil
}
