package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/docsync/core/commit"
	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/session"
)

var (
	watchCommit   bool
	watchMessage  string
	watchChoice   string
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [pattern]",
	Short: "Watch open working copies for saves",
	Long: `Watch the open working copies, or those matching a glob pattern, and report
every save. With --commit-on-save each save commits the file. A save made while
the previous commit of the same file is still running is skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchCommit, "commit-on-save", false, "Commit each saved working copy")
	watchCmd.Flags().StringVarP(&watchMessage, "message", "m", "", "Commit message used for every save")
	watchCmd.Flags().StringVar(&watchChoice, "choice", "", "Answer to conflict or fork decisions")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", host.DefaultDebounce, "Quiet period before a save is reported")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	paths, err := watchedPaths(ctx, args)
	if err != nil {
		return err
	}
	if watchCommit {
		if err := current.authenticate(ctx); err != nil {
			return err
		}
	}

	w, err := host.NewWatcher(host.WatchConfig{Files: paths, Debounce: watchDebounce})
	if err != nil {
		return err
	}
	events, err := w.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(output(cmd), "Watching %d document(s). Press Ctrl-C to stop.\n", len(paths))

	decider := current.decider
	if watchChoice != "" {
		decider = fixedDecider(host.Choice(watchChoice))
	}
	c := &saveCommitter{w: output(cmd), decider: &serialDecider{next: decider}}
	for ev := range events {
		if !watchCommit {
			c.printf("Saved %s\n", ev.Path)
			continue
		}
		c.commit(ctx, ev)
	}
	c.wg.Wait()
	if watchCommit {
		c.printf("Made %d commit(s) while watching.\n", c.commits())
	}
	return nil
}

// watchedPaths returns the working paths of open documents matching args.
func watchedPaths(ctx context.Context, args []string) ([]string, error) {
	recs, err := current.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(recs))
	for _, rec := range recs {
		paths = append(paths, rec.WorkingPath)
	}
	if len(args) == 1 {
		if paths, err = host.SelectPaths(args[0], paths); err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("no open document to watch")
	}
	return paths, nil
}

// saveCommitter commits saved working copies concurrently, one attempt per
// document at a time.
type saveCommitter struct {
	decider host.Decider
	wg      sync.WaitGroup

	mu   sync.Mutex
	w    io.Writer
	docs map[string]*session.Document
}

// commits totals the commits made through every document seen so far.
func (c *saveCommitter) commits() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n uint64
	for _, doc := range c.docs {
		n += doc.Commits()
	}
	return n
}

func (c *saveCommitter) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *saveCommitter) commit(ctx context.Context, ev host.SaveEvent) {
	doc, err := current.sessions.Resume(ctx, ev.Path)
	if err != nil {
		c.printf("Skipped %s: %v\n", ev.Path, err)
		return
	}
	if doc.Status() == commit.StatusLoading {
		c.printf("Skipped %s: a commit is already in progress\n", ev.Path)
		return
	}
	c.mu.Lock()
	if c.docs == nil {
		c.docs = make(map[string]*session.Document)
	}
	c.docs[ev.Path] = doc
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.printf("%s", c.describe(ctx, ev.Path, doc))
	}()
}

func (c *saveCommitter) describe(ctx context.Context, path string, doc *session.Document) string {
	out, err := commitDocument(ctx, doc, session.CommitRequest{Message: watchMessage}, c.decider)
	switch {
	case errors.Is(err, commit.ErrCommitInProgress):
		return fmt.Sprintf("Skipped %s: a commit is already in progress\n", path)
	case err != nil:
		return fmt.Sprintf("Failed %s: %s\n", path, derrors.UserMessage(err))
	case out.Status == commit.OutcomeFatal && derrors.UserMessage(out.Err) == commit.MsgNothingToCommit:
		return fmt.Sprintf("No changes in %s\n", path)
	}

	var b strings.Builder
	if rerr := report(&b, out); rerr != nil {
		return fmt.Sprintf("Failed %s: %s\n", path, derrors.UserMessage(rerr))
	}
	return b.String()
}

// serialDecider presents one decision at a time.
type serialDecider struct {
	mu   sync.Mutex
	next host.Decider
}

func (d *serialDecider) Decide(ctx context.Context, dec *host.Decision) (host.Choice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next.Decide(ctx, dec)
}
