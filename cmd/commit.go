package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/adalundhe/docsync/core/commit"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/session"
	"github.com/adalundhe/docsync/core/versioning"
)

var (
	commitMessage string
	commitBranch  string
	commitNotify  string
	commitIssue   int
	commitChoice  string
)

var commitCmd = &cobra.Command{
	Use:   "commit [working-path]",
	Short: "Commit the working copy back to GitHub",
	Long: `Commit the working copy to the branch it was opened from, or to --branch.
When the file changed on GitHub since it was opened docsync asks whether to
merge, commit to a new branch or overwrite. When you cannot push it offers to
fork the repository. Pass --choice to answer without a terminal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCommit,
}

func init() {
	rootCmd.AddCommand(commitCmd)

	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message (defaults to \"Update <file>\")")
	commitCmd.Flags().StringVarP(&commitBranch, "branch", "b", "", "Target branch (defaults to the current one)")
	commitCmd.Flags().StringVar(&commitNotify, "notify", "", "User to mention in the message")
	commitCmd.Flags().IntVar(&commitIssue, "issue", 0, "Issue number to reference in the message")
	commitCmd.Flags().StringVar(&commitChoice, "choice", "", "Answer to a conflict or fork decision (merge, new-branch, overwrite, fork, cancel)")
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	doc, err := documentFor(ctx, args)
	if err != nil {
		return err
	}
	if err := current.authenticate(ctx); err != nil {
		return err
	}

	decider := current.decider
	if commitChoice != "" {
		decider = fixedDecider(host.Choice(commitChoice))
	}

	out, err := commitDocument(ctx, doc, session.CommitRequest{
		Branch:  commitBranch,
		Message: commitMessage,
		Notify:  commitNotify,
		Issue:   commitIssue,
	}, decider)
	if err != nil {
		return err
	}
	return report(output(cmd), out)
}

// commitDocument runs one commit and answers its decisions with decider.
func commitDocument(ctx context.Context, doc *session.Document, req session.CommitRequest, decider host.Decider) (*commit.Outcome, error) {
	out, err := doc.Commit(ctx, req)
	if err != nil {
		return nil, err
	}
	if out.NeedsDecision() {
		return doc.Settle(ctx, out, decider)
	}
	return out, nil
}

// report prints a terminal outcome. A fatal outcome is returned as error.
func report(w io.Writer, out *commit.Outcome) error {
	switch out.Status {
	case commit.OutcomeSuccess:
		fmt.Fprintf(w, "Committed %s to %s@%s\n", versioning.ShortHash(out.CommitSHA), out.Repo, out.Branch)
		if out.Reference != "" {
			fmt.Fprintln(w, out.Reference)
		}
		if out.Reload {
			fmt.Fprintln(w, "The working copy was updated with the merged content.")
		}
		return nil
	case commit.OutcomeCancelled:
		fmt.Fprintln(w, "Commit cancelled. Your edit stays in the working copy.")
		return nil
	case commit.OutcomeFatal:
		if out.Err != nil {
			return out.Err
		}
		return errors.New("commit failed")
	default:
		return fmt.Errorf("commit ended waiting for a decision (%s)", out.Status)
	}
}

// documentFor resumes the document named by args, or the only open one.
func documentFor(ctx context.Context, args []string) (*session.Document, error) {
	if len(args) == 1 {
		return current.sessions.Resume(ctx, args[0])
	}

	recs, err := current.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, errors.New("no document is open; run 'docsync open' first")
	case 1:
		return current.sessions.Resume(ctx, recs[0].WorkingPath)
	default:
		return nil, fmt.Errorf("%d documents are open; name the working copy", len(recs))
	}
}
