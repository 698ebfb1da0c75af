package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/docsync/core/session"
	"github.com/adalundhe/docsync/core/versioning"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List open documents",
	Long:  `List the open working copies with their location, head commit and whether they have uncommitted edits.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	recs, err := current.sessions.List(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(output(cmd), "No open documents.")
		return nil
	}

	w := tabwriter.NewWriter(output(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKING COPY\tLOCATION\tHEAD\tSTATE\tUPDATED")
	for _, rec := range recs {
		loc := session.Location{Owner: rec.Account, Repo: rec.Repo, Branch: rec.Branch, Path: rec.Path}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.WorkingPath,
			loc,
			versioning.ShortHash(rec.HeadCommit),
			workingState(cmd, rec),
			rec.UpdatedAt.Format(time.DateTime),
		)
	}
	return w.Flush()
}

func workingState(cmd *cobra.Command, rec session.Record) string {
	doc, err := current.sessions.Resume(cmd.Context(), rec.WorkingPath)
	if err != nil {
		return "unknown"
	}
	modified, err := doc.Modified(cmd.Context())
	switch {
	case err != nil:
		return "missing"
	case modified:
		return "modified"
	default:
		return "clean"
	}
}
