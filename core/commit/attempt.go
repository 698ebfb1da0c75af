package commit

import (
	"sync/atomic"

	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/merge"
	"github.com/adalundhe/docsync/core/remote"
	"github.com/adalundhe/docsync/core/versioning"
)

// joinGate releases the commit step once every preparing operation has
// arrived. The last arrival takes the transition; fired makes the take a
// check-and-clear so no schedule of arrivals fires twice.
type joinGate struct {
	pending atomic.Int32
	fired   atomic.Bool
}

func newJoinGate(pending int32) *joinGate {
	g := &joinGate{}
	g.pending.Store(pending)
	return g
}

// arrive records one completed operation and reports whether the caller
// owns the transition.
func (g *joinGate) arrive() bool {
	if g.pending.Add(-1) > 0 {
		return false
	}
	return g.fired.CompareAndSwap(false, true)
}

// attempt is the context of one commit request. It survives a conflict or
// fork-offer decision so the follow-up choice can reuse it.
type attempt struct {
	id      string
	epoch   int
	message string

	// targetBranch is where the content goes. docBranch is the branch the
	// document lived on when the attempt started.
	targetBranch string
	docBranch    string

	content    string
	hasContent bool

	// gate stands in for a branchExists flag: it opens once the target
	// branch is resolved and content is captured.
	gate *joinGate
	// branchAlreadyExists is set when the target branch predates the attempt.
	branchAlreadyExists bool
	refRetried          bool

	base versioning.Snapshot
	// docRepo is where the document lived when the attempt started; repo is
	// the current target, a fork after forking.
	docRepo remote.RepoRef
	repo    remote.RepoRef
	onFork  bool

	replayed       bool
	raceRetried    bool
	mergeRequested bool

	latest   *remote.File
	merge    *merge.Outcome
	fallback *remote.CommitResult
	diffRef  string

	decision *host.Decision
	// choice is the resolution in progress, replayed after reauthentication.
	choice      host.Choice
	mergeResult *remote.CommitResult
}

func (a *attempt) differentBranch() bool {
	return a.targetBranch != a.docBranch
}

// reset clears everything a replay must recompute.
func (a *attempt) reset() {
	a.epoch++
	a.content, a.hasContent = "", false
	a.branchAlreadyExists, a.refRetried = false, false
	a.repo, a.onFork = a.docRepo, false
	a.raceRetried, a.mergeRequested = false, false
	a.latest, a.merge, a.fallback, a.diffRef = nil, nil, nil, ""
	a.decision, a.mergeResult = nil, nil
}
