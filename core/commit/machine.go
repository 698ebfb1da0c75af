package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/merge"
	"github.com/adalundhe/docsync/core/remote"
	"github.com/adalundhe/docsync/core/versioning"
)

const MsgNothingToCommit = "There are no changes to commit."

// op names both a command and the event reporting its completion.
type op int

const (
	opStart op = iota
	opResolve
	opCapture
	opCreateBranch
	opCreateRef
	opFetch
	opProbe
	opWrite
	opMerge
	opFallback
	opCompare
	opReauth
	opFork
	opServerMerge
	opReload
)

var opNames = map[op]string{
	opStart:        "start",
	opResolve:      "resolve",
	opCapture:      "capture_content",
	opCreateBranch: "create_branch",
	opCreateRef:    "create_ref",
	opFetch:        "fetch",
	opProbe:        "probe_access",
	opWrite:        "write",
	opMerge:        "merge",
	opFallback:     "fallback_commit",
	opCompare:      "compare",
	opReauth:       "reauthenticate",
	opFork:         "fork",
	opServerMerge:  "server_merge",
	opReload:       "reload",
}

func (o op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown"
}

// purpose tells fetch and write completions which step issued them.
type purpose int

const (
	forCommit purpose = iota
	forRace
	forOverwrite
	forFastForward
	forCreate
	forMerged
)

// command is a remote call or host request for the event loop to run.
type command struct {
	op      op
	epoch   int
	purpose purpose
	repo    remote.RepoRef
	branch  string
	from    string
	sha     string
	content string
	message string
	merge   merge.Request
}

// event reports a finished command, or starts or resumes an attempt.
type event struct {
	op      op
	epoch   int
	purpose purpose
	err     error

	content    string
	file       *remote.File
	head       *remote.Ref
	result     *remote.CommitResult
	repo       *remote.Repository
	comparison *remote.Comparison
	merge      merge.Outcome
	choice     host.Choice
}

// machine holds the state of one orchestration pass. handle is its
// transition function and never performs I/O.
type machine struct {
	state State
	at    *attempt

	prefix   string
	autoFork bool
	canAuth  bool
	now      func() time.Time
	logger   *slog.Logger

	outcome *Outcome
	update  *versioning.Update
}

func (m *machine) to(s State) {
	if !isValidTransition(m.state, s) {
		err := fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, m.state, s)
		m.logger.Error("commit state machine", "attempt", m.at.id, "error", err)
		m.state = StateFatal
		m.outcome = &Outcome{Status: OutcomeFatal, Attempt: m.at.id, Err: err}
		return
	}
	if s != m.state {
		m.logger.Debug("transition", "attempt", m.at.id, "from", m.state, "to", s)
	}
	m.state = s
}

func (m *machine) cmd(o op) command {
	return command{op: o, epoch: m.at.epoch, repo: m.at.repo, message: m.at.message}
}

// handle applies ev and returns the commands to run next.
func (m *machine) handle(ev event) []command {
	switch ev.op {
	case opStart:
		return m.start()
	case opResolve:
		return m.resolve(ev.choice)
	}

	if ev.epoch != m.at.epoch {
		return nil
	}
	if m.state.Terminal() {
		// a decision may be reached before the content arrives; keep it for
		// the follow-up choice
		if ev.op == opCapture && ev.err == nil {
			m.at.content, m.at.hasContent = ev.content, true
		}
		return nil
	}
	if ev.err != nil && errors.Is(ev.err, context.Canceled) {
		m.cancel(ev.err)
		return nil
	}

	switch ev.op {
	case opCapture:
		return m.onContent(ev)
	case opCreateBranch, opCreateRef:
		return m.onBranch(ev)
	case opFetch:
		return m.onFetch(ev)
	case opProbe:
		return m.onProbe(ev)
	case opWrite:
		return m.onWrite(ev)
	case opMerge:
		return m.onMerge(ev)
	case opFallback:
		return m.onFallback(ev)
	case opCompare:
		return m.onCompare(ev)
	case opReauth:
		return m.onReauth(ev)
	case opFork:
		return m.onFork(ev)
	case opServerMerge:
		return m.onServerMerge(ev)
	case opReload:
		return m.onReload(ev)
	}
	return nil
}

// =============================================================================
// Preparing
// =============================================================================

func (m *machine) start() []command {
	at := m.at
	m.to(StatePreparing)

	cmds := []command{m.cmd(opCapture)}
	if at.differentBranch() {
		at.gate = newJoinGate(2)
		cmds = append(cmds, m.createBranch())
	} else {
		at.gate = newJoinGate(1)
	}
	return cmds
}

func (m *machine) createBranch() command {
	c := m.cmd(opCreateBranch)
	c.from, c.branch = m.at.docBranch, m.at.targetBranch
	return c
}

func (m *machine) onContent(ev event) []command {
	at := m.at
	if ev.err != nil {
		return m.fail(ev.err, derrors.Classify(ev.err, derrors.IntentOther))
	}

	at.content, at.hasContent = ev.content, true
	if !at.differentBranch() && versioning.BlobHash(at.content) == at.base.ContentHash {
		m.fatal(derrors.NewSyncError(derrors.KindValidation, MsgNothingToCommit, nil))
		return nil
	}
	if at.gate.arrive() {
		return m.joined()
	}
	return nil
}

func (m *machine) onBranch(ev event) []command {
	at := m.at
	if ev.err == nil {
		return m.branchReady(false)
	}

	cl := derrors.Classify(ev.err, derrors.IntentBranchCreate)
	switch {
	case cl.Action == derrors.ActionBranchExists:
		return m.branchReady(true)
	case cl.Action == derrors.ActionReauthenticate:
		return m.reauthenticate(ev.err)
	case cl.Action == derrors.ActionRetryAsRef && !at.refRetried:
		// the document "branch" may be a commit SHA
		at.refRetried = true
		c := m.cmd(opCreateRef)
		c.branch, c.sha = at.targetBranch, at.base.HeadCommitRef
		return []command{c}
	case cl.Kind == derrors.KindAccessDenied || cl.Kind == derrors.KindNotFound:
		return m.offerFork(ev.err)
	}
	return m.fail(ev.err, cl)
}

func (m *machine) branchReady(alreadyExisted bool) []command {
	at := m.at
	at.branchAlreadyExists = alreadyExisted
	if at.gate.arrive() {
		return m.joined()
	}
	return nil
}

// joined runs once per gate, when content is present and the branch exists.
func (m *machine) joined() []command {
	if m.state == StateResolving {
		return m.fetch(forOverwrite)
	}
	m.to(StateCommitting)
	return m.fetch(forCommit)
}

// =============================================================================
// Committing
// =============================================================================

func (m *machine) fetch(p purpose) []command {
	c := m.cmd(opFetch)
	c.branch, c.purpose = m.at.targetBranch, p
	return []command{c}
}

func (m *machine) write(sha, content string, p purpose) []command {
	c := m.cmd(opWrite)
	c.branch, c.sha, c.content, c.purpose = m.at.targetBranch, sha, content, p
	return []command{c}
}

func (m *machine) onFetch(ev event) []command {
	at := m.at
	if ev.err != nil {
		return m.fetchFailed(ev)
	}

	at.latest = ev.file
	switch ev.purpose {
	case forCommit:
		if ev.file.SHA == at.base.ContentHash {
			return m.write(ev.file.SHA, at.content, forFastForward)
		}
		return m.startMerge()
	case forRace:
		return m.startMerge()
	default:
		return m.write(ev.file.SHA, at.content, forOverwrite)
	}
}

func (m *machine) fetchFailed(ev event) []command {
	at := m.at
	cl := derrors.Classify(ev.err, derrors.IntentContentFetch)
	if cl.Action == derrors.ActionReauthenticate {
		return m.reauthenticate(ev.err)
	}
	if cl.Kind != derrors.KindNotFound {
		return m.fail(ev.err, cl)
	}

	switch ev.purpose {
	case forCommit:
		if at.differentBranch() {
			return m.write("", at.content, forCreate)
		}
		// missing on the document's own branch: deleted, or no read access
		return []command{m.cmd(opProbe)}
	case forRace:
		return m.write("", at.content, forCreate)
	default:
		return m.write("", at.content, forOverwrite)
	}
}

func (m *machine) onProbe(ev event) []command {
	if ev.err != nil {
		cl := derrors.Classify(ev.err, derrors.IntentOther)
		switch {
		case cl.Action == derrors.ActionReauthenticate:
			return m.reauthenticate(ev.err)
		case cl.Kind == derrors.KindNotFound || cl.Kind == derrors.KindAccessDenied:
			return m.offerFork(derrors.NewSyncError(derrors.KindAccessDenied, derrors.MsgNoCommitRights, ev.err))
		}
		return m.fail(ev.err, cl)
	}
	return m.write("", m.at.content, forCreate)
}

func (m *machine) onWrite(ev event) []command {
	at := m.at
	if ev.err == nil {
		return m.succeed(ev.result, ev.content)
	}

	cl := derrors.Classify(ev.err, derrors.IntentCommit)
	switch cl.Action {
	case derrors.ActionReauthenticate:
		return m.reauthenticate(ev.err)
	case derrors.ActionOfferFork:
		return m.offerFork(ev.err)
	case derrors.ActionResolveConflict:
		switch ev.purpose {
		case forFastForward, forCreate:
			if !at.raceRetried {
				at.raceRetried = true
				return m.fetch(forRace)
			}
		case forMerged:
			// the merged body raced another writer; surface, never re-merge
			return m.fallbackCommit()
		case forOverwrite:
			return m.conflict(at.decision)
		}
	}

	// creating a file that appeared meanwhile is rejected for the missing sha
	if ev.purpose == forCreate && cl.Kind == derrors.KindValidation && !at.raceRetried {
		at.raceRetried = true
		return m.fetch(forRace)
	}
	return m.fail(ev.err, cl)
}

func (m *machine) succeed(result *remote.CommitResult, content string) []command {
	at := m.at
	m.update = &versioning.Update{
		ContentHash:   result.BlobSHA,
		HeadCommitRef: result.CommitSHA,
		Baseline:      content,
		Account:       at.repo.Owner,
		Branch:        at.targetBranch,
	}
	m.to(StateSuccess)
	m.outcome = &Outcome{
		Status:    OutcomeSuccess,
		Attempt:   at.id,
		Repo:      at.repo,
		Branch:    at.targetBranch,
		Reference: result.HTMLURL,
		CommitSHA: result.CommitSHA,
		Content:   content,
		Reload:    content != at.content,
	}
	return nil
}

// =============================================================================
// Merging
// =============================================================================

func (m *machine) startMerge() []command {
	at := m.at
	if at.mergeRequested {
		return m.fallbackCommit()
	}
	at.mergeRequested = true
	m.to(StateMerging)

	c := m.cmd(opMerge)
	c.merge = merge.Request{Ancestor: at.base.Baseline, Left: at.content, Right: at.latest.Content}
	return []command{c}
}

func (m *machine) onMerge(ev event) []command {
	at := m.at
	if ev.err != nil {
		return m.fail(ev.err, derrors.Classify(ev.err, derrors.IntentMerge))
	}

	out := ev.merge
	// a branch this attempt created starts at the document branch's head, so
	// a divergence there is an edit made since the document was opened
	out.DifferentBranch = at.differentBranch() && at.branchAlreadyExists
	at.merge = &out
	if out.Classification == merge.Clean {
		return m.write(at.latest.SHA, out.MergedContent, forMerged)
	}
	return m.fallbackCommit()
}

// fallbackCommit stores the user's raw content in a commit no branch points
// to, parented on the document's known head.
func (m *machine) fallbackCommit() []command {
	m.to(StateMerging)
	c := m.cmd(opFallback)
	c.content, c.sha = m.at.content, m.at.base.HeadCommitRef
	return []command{c}
}

func (m *machine) onFallback(ev event) []command {
	at := m.at
	if ev.err != nil {
		cl := derrors.Classify(ev.err, derrors.IntentCommit)
		switch cl.Action {
		case derrors.ActionReauthenticate:
			return m.reauthenticate(ev.err)
		case derrors.ActionOfferFork:
			return m.offerFork(ev.err)
		}
		return m.fail(ev.err, cl)
	}

	at.fallback = ev.result
	c := m.cmd(opCompare)
	c.sha, c.branch = at.base.HeadCommitRef, at.targetBranch
	return []command{c}
}

func (m *machine) onCompare(ev event) []command {
	at := m.at
	if ev.err != nil {
		m.logger.Debug("compare failed", "attempt", at.id, "error", ev.err)
	} else if ev.comparison != nil {
		at.diffRef = ev.comparison.PermalinkURL
		if at.diffRef == "" {
			at.diffRef = ev.comparison.HTMLURL
		}
	}
	if at.merge == nil {
		at.merge = &merge.Outcome{Classification: merge.ServiceFailed}
	}
	at.merge.DiffReference = at.diffRef
	return m.conflict(conflictDecision(at.merge))
}

func (m *machine) conflict(d *host.Decision) []command {
	at := m.at
	at.decision = d
	m.to(StateConflict)
	m.outcome = &Outcome{
		Status:   OutcomeConflict,
		Attempt:  at.id,
		Repo:     at.repo,
		Branch:   at.targetBranch,
		Content:  at.content,
		Decision: d,
		Merge:    at.merge,
		Fallback: at.fallback,
	}
	return nil
}

// =============================================================================
// Forking
// =============================================================================

func (m *machine) offerFork(cause error) []command {
	at := m.at
	if at.onFork {
		m.fatal(derrors.NewSyncError(derrors.KindAccessDenied, derrors.MsgNoCommitRights, cause))
		return nil
	}
	if m.autoFork {
		return m.startFork()
	}

	d := forkDecision()
	at.decision = d
	m.to(StateForkOffered)
	m.outcome = &Outcome{
		Status:   OutcomeForkOffered,
		Attempt:  at.id,
		Repo:     at.repo,
		Branch:   at.targetBranch,
		Content:  at.content,
		Decision: d,
		Err:      derrors.NewSyncError(derrors.KindAccessDenied, derrors.MsgNoCommitRights, cause),
	}
	return nil
}

func (m *machine) startFork() []command {
	m.to(StateForking)
	return []command{m.cmd(opFork)}
}

func (m *machine) onFork(ev event) []command {
	at := m.at
	if ev.err != nil {
		cl := derrors.Classify(ev.err, derrors.IntentOther)
		if cl.Action == derrors.ActionReauthenticate {
			return m.reauthenticate(ev.err)
		}
		return m.fail(ev.err, cl)
	}

	at.repo = ev.repo.Ref()
	at.onFork = true
	at.refRetried = false
	m.logger.Info("forked repository", "attempt", at.id, "fork", at.repo.String())

	// content may still be in flight when the fork was started from Preparing
	var pending int32
	if !at.hasContent {
		pending++
	}
	if at.differentBranch() {
		at.branchAlreadyExists = false
		at.gate = newJoinGate(pending + 1)
		return []command{m.createBranch()}
	}
	if pending > 0 {
		at.gate = newJoinGate(pending)
		return nil
	}
	m.to(StateCommitting)
	return m.fetch(forCommit)
}

// =============================================================================
// Reauthenticating
// =============================================================================

func (m *machine) reauthenticate(cause error) []command {
	at := m.at
	if at.replayed || !m.canAuth {
		return m.fail(cause, derrors.Classify(cause, derrors.IntentOther))
	}
	at.replayed = true
	at.epoch++
	m.to(StateReauthenticating)
	return []command{m.cmd(opReauth)}
}

func (m *machine) onReauth(ev event) []command {
	at := m.at
	if ev.err != nil {
		return m.fail(ev.err, derrors.Classify(ev.err, derrors.IntentOther))
	}

	if at.choice != "" {
		m.to(StateResolving)
		return m.dispatch(at.choice)
	}
	at.reset()
	return m.start()
}

// =============================================================================
// Resolving
// =============================================================================

func (m *machine) resolve(choice host.Choice) []command {
	at := m.at
	if choice == host.ChoiceCancel {
		m.cancel(nil)
		return nil
	}

	switch m.state {
	case StateForkOffered:
		at.choice = ""
		return m.startFork()
	case StateConflict:
		at.choice = choice
		m.to(StateResolving)
		return m.dispatch(choice)
	}
	m.fatal(ErrNoPendingDecision)
	return nil
}

func (m *machine) dispatch(choice host.Choice) []command {
	at := m.at
	switch choice {
	case host.ChoiceMerge:
		c := m.cmd(opServerMerge)
		c.branch, c.sha = at.targetBranch, at.fallback.CommitSHA
		return []command{c}
	case host.ChoiceNewBranch:
		at.targetBranch = m.prefix + strconv.FormatInt(m.now().UnixMilli(), 10)
		at.branchAlreadyExists, at.refRetried = false, false
		at.gate = newJoinGate(1)
		return []command{m.createBranch()}
	case host.ChoiceOverwrite:
		return m.fetch(forOverwrite)
	}
	m.fatal(fmt.Errorf("%w: %s", host.ErrInvalidChoice, choice))
	return nil
}

func (m *machine) onServerMerge(ev event) []command {
	at := m.at
	if ev.err != nil {
		cl := derrors.Classify(ev.err, derrors.IntentMerge)
		switch cl.Action {
		case derrors.ActionReauthenticate:
			return m.reauthenticate(ev.err)
		case derrors.ActionResolveConflict:
			return m.conflict(at.decision.Without(host.ChoiceMerge))
		case derrors.ActionOfferFork:
			return m.offerFork(ev.err)
		}
		return m.fail(ev.err, cl)
	}

	at.mergeResult = ev.result
	c := m.cmd(opReload)
	c.branch = at.targetBranch
	return []command{c}
}

func (m *machine) onReload(ev event) []command {
	at := m.at
	if ev.err != nil {
		cl := derrors.Classify(ev.err, derrors.IntentContentFetch)
		if cl.Action == derrors.ActionReauthenticate {
			return m.reauthenticate(ev.err)
		}
		return m.fail(ev.err, cl)
	}

	result := &remote.CommitResult{CommitSHA: ev.head.SHA, BlobSHA: ev.file.SHA}
	if at.mergeResult != nil {
		result.HTMLURL = at.mergeResult.HTMLURL
	}
	return m.succeed(result, ev.file.Content)
}

// =============================================================================
// Terminal helpers
// =============================================================================

func (m *machine) fail(cause error, cl derrors.Classification) []command {
	m.fatal(cl.Err(cause))
	return nil
}

func (m *machine) fatal(err error) {
	at := m.at
	m.to(StateFatal)
	m.outcome = &Outcome{
		Status:  OutcomeFatal,
		Attempt: at.id,
		Repo:    at.repo,
		Branch:  at.targetBranch,
		Err:     err,
	}
}

func (m *machine) cancel(cause error) {
	if cause == nil {
		cause = derrors.ErrCancelled
	}
	m.to(StateCancelled)
	m.outcome = &Outcome{
		Status:  OutcomeCancelled,
		Attempt: m.at.id,
		Repo:    m.at.repo,
		Branch:  m.at.targetBranch,
		Err:     cause,
	}
}
