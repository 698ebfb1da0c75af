// Package commit turns a local edit into a remote commit. A pure state
// machine decides each step; an event loop runs the remote calls it asks for.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/merge"
	"github.com/adalundhe/docsync/core/remote"
	"github.com/adalundhe/docsync/core/versioning"
)

var (
	ErrCommitInProgress  = errors.New("a commit is already in progress")
	ErrNoPendingDecision = errors.New("no decision is pending")
)

// DefaultBranchPrefix names branches created by the new-branch choice.
const DefaultBranchPrefix = "docsync-"

// Authenticator refreshes credentials after the remote rejected them.
type Authenticator interface {
	Reauthenticate(ctx context.Context) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) error

func (f AuthenticatorFunc) Reauthenticate(ctx context.Context) error {
	return f(ctx)
}

type Config struct {
	// Repo is where the document lives when the orchestrator is created.
	Repo    remote.RepoRef
	Path    string
	API     remote.API
	Merger  merge.Merger
	State   *versioning.VersionState
	Content host.ContentSupplier
	// Auth is optional. Without it a 401 is fatal.
	Auth Authenticator

	NewBranchPrefix   string
	AutoFork          bool
	ForkReadyAttempts int
	// ForkReady overrides the fork polling policy.
	ForkReady *derrors.RetryPolicy

	Now    func() time.Time
	Logger *slog.Logger
}

// Request is one user commit action.
type Request struct {
	// Branch is the target. Empty means the document's branch.
	Branch  string
	Message string
}

// OutcomeStatus is how a pass ended.
type OutcomeStatus int

const (
	OutcomeSuccess OutcomeStatus = iota
	OutcomeConflict
	OutcomeForkOffered
	OutcomeFatal
	OutcomeCancelled
)

var outcomeNames = map[OutcomeStatus]string{
	OutcomeSuccess:     "success",
	OutcomeConflict:    "conflict",
	OutcomeForkOffered: "fork-offered",
	OutcomeFatal:       "fatal",
	OutcomeCancelled:   "cancelled",
}

func (s OutcomeStatus) String() string {
	if name, ok := outcomeNames[s]; ok {
		return name
	}
	return "unknown"
}

// Outcome is the terminal result of a pass.
type Outcome struct {
	Status  OutcomeStatus
	Attempt string
	Repo    remote.RepoRef
	Branch  string
	// Reference links the resulting commit.
	Reference string
	CommitSHA string
	// Content is what was committed, or the pending content on a decision.
	Content string
	// Reload is set when Content differs from the working copy.
	Reload bool

	Decision *host.Decision
	Merge    *merge.Outcome
	Fallback *remote.CommitResult
	Err      error
}

// NeedsDecision reports whether the host must answer Decision.
func (o *Outcome) NeedsDecision() bool {
	return o != nil && o.Decision != nil && (o.Status == OutcomeConflict || o.Status == OutcomeForkOffered)
}

// Orchestrator commits one document. It runs one attempt at a time.
type Orchestrator struct {
	api      remote.API
	merger   merge.Merger
	state    *versioning.VersionState
	content  host.ContentSupplier
	auth     Authenticator
	path     string
	prefix   string
	autoFork bool
	forkPoll *derrors.RetryExecutor
	now      func() time.Time
	logger   *slog.Logger

	status atomic.Int32

	mu           sync.Mutex
	repoName     string
	pending      *attempt
	pendingState State
}

func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.API == nil:
		return nil, fmt.Errorf("commit: remote api required")
	case cfg.Merger == nil:
		return nil, fmt.Errorf("commit: merger required")
	case cfg.State == nil:
		return nil, fmt.Errorf("commit: version state required")
	case cfg.Content == nil:
		return nil, fmt.Errorf("commit: content supplier required")
	case cfg.Path == "" || cfg.Repo.Name == "":
		return nil, fmt.Errorf("commit: repository and path required")
	}
	if cfg.NewBranchPrefix == "" {
		cfg.NewBranchPrefix = DefaultBranchPrefix
	}
	if cfg.ForkReady == nil {
		cfg.ForkReady = forkReadyPolicy(cfg.ForkReadyAttempts)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		api:      cfg.API,
		merger:   cfg.Merger,
		state:    cfg.State,
		content:  cfg.Content,
		auth:     cfg.Auth,
		path:     cfg.Path,
		prefix:   cfg.NewBranchPrefix,
		autoFork: cfg.AutoFork,
		forkPoll: derrors.NewRetryExecutor(map[derrors.ErrorTier]*derrors.RetryPolicy{
			derrors.TierTransient: cfg.ForkReady,
		}),
		now:      cfg.Now,
		logger:   cfg.Logger.With("component", "commit", "path", cfg.Path),
		repoName: cfg.Repo.Name,
	}, nil
}

func (o *Orchestrator) Status() Status {
	return Status(o.status.Load())
}

// Repo is the repository the document currently lives in.
func (o *Orchestrator) Repo() remote.RepoRef {
	o.mu.Lock()
	defer o.mu.Unlock()
	return remote.RepoRef{Owner: o.state.Read().Account, Name: o.repoName}
}

// Pending returns the decision awaiting a Resolve, if any.
func (o *Orchestrator) Pending() *host.Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return nil
	}
	return o.pending.decision
}

// Discard drops a pending decision without touching the remote.
func (o *Orchestrator) Discard() {
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
}

// acquire marks the document loading. It fails while another pass runs.
func (o *Orchestrator) acquire() (Status, bool) {
	for {
		cur := o.status.Load()
		if Status(cur) == StatusLoading {
			return StatusLoading, false
		}
		if o.status.CompareAndSwap(cur, int32(StatusLoading)) {
			return Status(cur), true
		}
	}
}

// Commit runs one attempt. A new commit discards any pending decision.
func (o *Orchestrator) Commit(ctx context.Context, req Request) (*Outcome, error) {
	if _, ok := o.acquire(); !ok {
		return nil, ErrCommitInProgress
	}

	snap := o.state.Read()
	o.mu.Lock()
	o.pending = nil
	repo := remote.RepoRef{Owner: snap.Account, Name: o.repoName}
	o.mu.Unlock()

	target := req.Branch
	if target == "" {
		target = snap.Branch
	}
	message := req.Message
	if message == "" {
		message = "Update " + path.Base(o.path)
	}

	at := &attempt{
		id:           uuid.NewString(),
		message:      message,
		targetBranch: target,
		docBranch:    snap.Branch,
		base:         snap,
		docRepo:      repo,
		repo:         repo,
	}
	o.logger.Info("commit started", "attempt", at.id, "repo", repo.String(), "branch", target)

	m := o.newMachine(at, StateIdle)
	out := o.run(ctx, m, event{op: opStart})
	return o.finish(m, out), nil
}

// Resolve answers the pending decision.
func (o *Orchestrator) Resolve(ctx context.Context, choice host.Choice) (*Outcome, error) {
	prev, ok := o.acquire()
	if !ok {
		return nil, ErrCommitInProgress
	}

	o.mu.Lock()
	at, st := o.pending, o.pendingState
	if at == nil {
		o.mu.Unlock()
		o.status.Store(int32(prev))
		return nil, ErrNoPendingDecision
	}
	if !at.decision.Has(choice) {
		o.mu.Unlock()
		o.status.Store(int32(prev))
		return nil, fmt.Errorf("%w: %s", host.ErrInvalidChoice, choice)
	}
	o.pending = nil
	o.mu.Unlock()

	o.logger.Info("resolving", "attempt", at.id, "choice", string(choice))
	at.replayed = false
	m := o.newMachine(at, st)
	out := o.run(ctx, m, event{op: opResolve, choice: choice})
	return o.finish(m, out), nil
}

func (o *Orchestrator) newMachine(at *attempt, st State) *machine {
	return &machine{
		state:    st,
		at:       at,
		prefix:   o.prefix,
		autoFork: o.autoFork,
		canAuth:  o.auth != nil,
		now:      o.now,
		logger:   o.logger,
	}
}

func (o *Orchestrator) finish(m *machine, out *Outcome) *Outcome {
	next := StatusNone

	o.mu.Lock()
	switch out.Status {
	case OutcomeSuccess:
		if m.update != nil {
			o.state.Commit(*m.update)
			o.repoName = out.Repo.Name
		}
		next = StatusSuccess
	case OutcomeConflict, OutcomeForkOffered:
		o.pending, o.pendingState = m.at, m.state
		if out.Content == "" {
			out.Content = m.at.content
		}
	}
	o.mu.Unlock()

	o.status.Store(int32(next))
	o.logger.Info("commit finished",
		"attempt", out.Attempt,
		"status", out.Status.String(),
		"branch", out.Branch,
		"repo", out.Repo.String(),
	)
	if out.Err != nil {
		o.logger.Debug("commit error", "attempt", out.Attempt, "error", out.Err)
	}
	return out
}

// run drives the machine until it is terminal and every command it issued
// has reported back.
func (o *Orchestrator) run(ctx context.Context, m *machine, first event) *Outcome {
	events := make(chan event)
	inflight := 0

	dispatch := func(cmds []command) {
		for _, c := range cmds {
			inflight++
			o.logger.Debug("command", "attempt", m.at.id, "op", c.op.String(), "state", m.state.String())
			go func(c command) {
				events <- o.exec(ctx, c)
			}(c)
		}
	}

	dispatch(m.handle(first))
	for inflight > 0 {
		ev := <-events
		inflight--
		dispatch(m.handle(ev))
	}

	if m.outcome == nil {
		m.fatal(fmt.Errorf("commit stalled in state %s", m.state))
	}
	return m.outcome
}

// exec performs one command. It is the only place the orchestrator does I/O.
func (o *Orchestrator) exec(ctx context.Context, c command) event {
	ev := event{op: c.op, epoch: c.epoch, purpose: c.purpose}

	switch c.op {
	case opCapture:
		ev.content, ev.err = o.content.Content(ctx)
	case opCreateBranch:
		_, ev.err = o.api.CreateBranch(ctx, c.repo, c.from, c.branch)
	case opCreateRef:
		_, ev.err = o.api.CreateRef(ctx, c.repo, remote.BranchRef(c.branch), c.sha)
	case opFetch:
		ev.file, ev.err = o.api.GetContents(ctx, c.repo, o.path, c.branch)
	case opProbe:
		_, ev.err = o.api.GetRepository(ctx, c.repo)
	case opWrite:
		ev.content = c.content
		ev.result, ev.err = o.api.UpdateFile(ctx, c.repo, remote.FileUpdate{
			Path:    o.path,
			Branch:  c.branch,
			Message: c.message,
			Content: c.content,
			SHA:     c.sha,
		})
	case opMerge:
		ev.merge, ev.err = o.merger.Merge(ctx, c.merge)
	case opFallback:
		ev.result, ev.err = o.api.CreateDetachedCommit(ctx, c.repo, remote.DetachedCommit{
			Path:    o.path,
			Content: c.content,
			Message: c.message,
			Parent:  c.sha,
		})
	case opCompare:
		ev.comparison, ev.err = o.api.Compare(ctx, c.repo, c.sha, c.branch)
	case opReauth:
		ev.err = o.auth.Reauthenticate(ctx)
	case opFork:
		ev.repo, ev.err = o.forkAndWait(ctx, c.repo)
	case opServerMerge:
		ev.result, ev.err = o.api.MergeCommit(ctx, c.repo, c.branch, c.sha, c.message)
	case opReload:
		ev.file, ev.err = o.api.GetContents(ctx, c.repo, o.path, c.branch)
		if ev.err == nil {
			ev.head, ev.err = o.api.GetHead(ctx, c.repo, c.branch)
		}
	default:
		ev.err = fmt.Errorf("unknown command %s", c.op)
	}
	return ev
}
