package session

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/adalundhe/docsync/core/commit"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/remote"
	"github.com/adalundhe/docsync/core/versioning"
)

// CommitRequest is a commit as the user entered it.
type CommitRequest struct {
	Branch  string
	Message string
	// Notify is a login mentioned at the start of the message.
	Notify string
	// Issue is an issue number referenced at the start of the message.
	Issue int
}

// Annotate prefixes message with "@user " and "#N " when set.
func Annotate(message, notify string, issue int) string {
	var b strings.Builder
	if notify = strings.TrimPrefix(strings.TrimSpace(notify), "@"); notify != "" {
		b.WriteString("@" + notify + " ")
	}
	if issue > 0 {
		b.WriteString("#" + strconv.Itoa(issue) + " ")
	}
	b.WriteString(message)
	return b.String()
}

// Document is one open file and its commit orchestrator.
type Document struct {
	mgr   *Manager
	state *versioning.VersionState
	wc    WorkingCopy
	orch  *commit.Orchestrator

	mu     sync.Mutex
	record Record
	// message is the user's text for the attempt awaiting a decision.
	message string
}

func (d *Document) Record() Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record
}

func (d *Document) Status() commit.Status {
	return d.orch.Status()
}

// Repo is where the next commit goes.
func (d *Document) Repo() remote.RepoRef {
	return d.orch.Repo()
}

func (d *Document) Version() versioning.Snapshot {
	return d.state.Read()
}

// Commits counts the commits made through this document since it was
// opened or resumed.
func (d *Document) Commits() uint64 {
	return d.state.Version()
}

func (d *Document) Pending() *host.Decision {
	return d.orch.Pending()
}

// Modified reports whether the working copy differs from the last
// synchronized content.
func (d *Document) Modified(ctx context.Context) (bool, error) {
	content, err := d.wc.Content(ctx)
	if err != nil {
		return false, err
	}
	return d.state.IsModified(content), nil
}

// Diff compares the last synchronized content with the working copy.
func (d *Document) Diff(ctx context.Context, contextLines int) (*versioning.FileDiff, error) {
	content, err := d.wc.Content(ctx)
	if err != nil {
		return nil, err
	}
	return versioning.Diff(d.state.Read().Baseline, content, contextLines), nil
}

// Commit runs one commit attempt under the document's commit lock. The
// message joins the history once the attempt succeeds, possibly after
// decisions.
func (d *Document) Commit(ctx context.Context, req CommitRequest) (*commit.Outcome, error) {
	unlock, err := d.mgr.lockDocument(d.workingPath())
	if err != nil {
		return nil, err
	}
	defer unlock()

	message := Annotate(req.Message, req.Notify, req.Issue)
	out, err := d.orch.Commit(ctx, commit.Request{Branch: req.Branch, Message: message})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.message = strings.TrimSpace(req.Message)
	d.mu.Unlock()
	return d.settled(ctx, out)
}

// Resolve answers the pending decision.
func (d *Document) Resolve(ctx context.Context, choice host.Choice) (*commit.Outcome, error) {
	unlock, err := d.mgr.lockDocument(d.workingPath())
	if err != nil {
		return nil, err
	}
	defer unlock()

	out, err := d.orch.Resolve(ctx, choice)
	if err != nil {
		return nil, err
	}
	return d.settled(ctx, out)
}

// Settle asks decider until the attempt ends.
func (d *Document) Settle(ctx context.Context, out *commit.Outcome, decider host.Decider) (*commit.Outcome, error) {
	for out.NeedsDecision() {
		choice, err := decider.Decide(ctx, out.Decision)
		if err != nil {
			d.Discard()
			return out, err
		}
		if out, err = d.Resolve(ctx, choice); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Discard drops a pending decision.
func (d *Document) Discard() {
	d.orch.Discard()
	d.mu.Lock()
	d.message = ""
	d.mu.Unlock()
}

func (d *Document) workingPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record.WorkingPath
}

// settled persists a successful outcome and reloads merged content into
// the working copy.
func (d *Document) settled(ctx context.Context, out *commit.Outcome) (*commit.Outcome, error) {
	if out.NeedsDecision() {
		return out, nil
	}
	d.mu.Lock()
	message := d.message
	d.message = ""
	d.mu.Unlock()
	if out.Status != commit.OutcomeSuccess {
		return out, nil
	}

	if message != "" {
		if err := d.mgr.cfg.Store.RecordMessage(ctx, message, d.mgr.cfg.HistorySize); err != nil {
			d.mgr.logger.Warn("message history", "error", err)
		}
	}

	if out.Reload {
		if err := d.wc.Write(out.Content); err != nil {
			d.mgr.logger.Warn("reload working copy", "path", d.record.WorkingPath, "error", err)
		}
	}
	d.wc.SetDirty(false)

	snap := d.state.Read()
	d.mu.Lock()
	d.record.Account = snap.Account
	d.record.Repo = out.Repo.Name
	d.record.Branch = snap.Branch
	d.record.ContentHash = snap.ContentHash
	d.record.HeadCommit = snap.HeadCommitRef
	d.record.Baseline = snap.Baseline
	d.record.UpdatedAt = d.mgr.cfg.Now()
	rec := d.record
	d.mu.Unlock()

	if err := d.mgr.cfg.Store.Save(ctx, rec); err != nil {
		return out, err
	}
	return out, nil
}
