package commit

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/merge"
	"github.com/adalundhe/docsync/core/remote"
	"github.com/adalundhe/docsync/core/versioning"
)

func TestJoinGate_FiresExactlyOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		g := newJoinGate(100)
		var fired atomic.Int32
		var wg sync.WaitGroup
		for j := 0; j < 100; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if g.arrive() {
					fired.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), fired.Load())
		assert.False(t, g.arrive(), "a fired gate stays closed")
	}
}

func TestJoinGate_ExtraArrivalsNeverFire(t *testing.T) {
	g := newJoinGate(1)
	assert.True(t, g.arrive())
	assert.False(t, g.arrive())
	assert.False(t, g.arrive())
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, isValidTransition(StateIdle, StatePreparing))
	assert.True(t, isValidTransition(StateMerging, StateConflict))
	assert.True(t, isValidTransition(StateConflict, StateResolving))
	assert.True(t, isValidTransition(StateForkOffered, StateCancelled))
	assert.True(t, isValidTransition(StateCommitting, StateFatal))
	assert.False(t, isValidTransition(StateSuccess, StateFatal))
	assert.False(t, isValidTransition(StateSuccess, StateCommitting))
	assert.False(t, isValidTransition(StateIdle, StateSuccess))

	for _, s := range []State{StateSuccess, StateConflict, StateForkOffered, StateFatal, StateCancelled} {
		assert.True(t, s.Terminal(), s.String())
	}
	assert.False(t, StateMerging.Terminal())
}

func testMachine(targetBranch string) *machine {
	at := &attempt{
		id:           "a1",
		message:      "edit",
		targetBranch: targetBranch,
		docBranch:    "main",
		base: versioning.Snapshot{
			ContentHash:   versioning.BlobHash("v0\n"),
			HeadCommitRef: "c0",
			Account:       "alice",
			Branch:        "main",
			Baseline:      "v0\n",
		},
		docRepo: remote.RepoRef{Owner: "alice", Name: "docs"},
		repo:    remote.RepoRef{Owner: "alice", Name: "docs"},
	}
	return &machine{
		state:   StateIdle,
		at:      at,
		prefix:  DefaultBranchPrefix,
		canAuth: true,
		now:     func() time.Time { return time.UnixMilli(42) },
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func ops(cmds []command) []op {
	out := make([]op, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.op)
	}
	return out
}

func TestMachine_JoinInEitherOrder(t *testing.T) {
	contentEv := event{op: opCapture, content: "v1\n"}
	branchEv := event{op: opCreateBranch}

	for name, order := range map[string][]event{
		"content first": {contentEv, branchEv},
		"branch first":  {branchEv, contentEv},
	} {
		t.Run(name, func(t *testing.T) {
			m := testMachine("feature")
			cmds := m.handle(event{op: opStart})
			assert.ElementsMatch(t, []op{opCapture, opCreateBranch}, ops(cmds))
			assert.Equal(t, StatePreparing, m.state)

			assert.Empty(t, m.handle(order[0]))
			next := m.handle(order[1])

			require.Len(t, next, 1)
			assert.Equal(t, opFetch, next[0].op)
			assert.Equal(t, "feature", next[0].branch)
			assert.Equal(t, StateCommitting, m.state)
		})
	}
}

func TestMachine_SameBranchSkipsBranchCreation(t *testing.T) {
	m := testMachine("main")
	assert.Equal(t, []op{opCapture}, ops(m.handle(event{op: opStart})))

	next := m.handle(event{op: opCapture, content: "v1\n"})
	require.Len(t, next, 1)
	assert.Equal(t, opFetch, next[0].op)
}

func TestMachine_NothingToCommit(t *testing.T) {
	m := testMachine("main")
	m.handle(event{op: opStart})

	assert.Empty(t, m.handle(event{op: opCapture, content: "v0\n"}))
	assert.Equal(t, StateFatal, m.state)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(m.outcome.Err))
}

func TestMachine_DropsStaleEpochs(t *testing.T) {
	m := testMachine("main")
	m.handle(event{op: opStart})
	m.handle(event{op: opCapture, content: "v1\n"})

	cmds := m.handle(event{op: opFetch, purpose: forCommit, err: remoteErr(401)})
	assert.Equal(t, []op{opReauth}, ops(cmds))
	assert.Equal(t, 1, cmds[0].epoch)

	// a completion issued before reauthentication is ignored
	assert.Empty(t, m.handle(event{op: opWrite, epoch: 0, err: remoteErr(409)}))
	assert.Equal(t, StateReauthenticating, m.state)

	cmds = m.handle(event{op: opReauth, epoch: 1})
	assert.Equal(t, []op{opCapture}, ops(cmds))
	assert.Equal(t, 2, cmds[0].epoch)
}

func TestMachine_SecondUnauthorizedIsFatal(t *testing.T) {
	m := testMachine("main")
	m.handle(event{op: opStart})
	m.handle(event{op: opCapture, content: "v1\n"})
	m.handle(event{op: opFetch, err: remoteErr(401)})
	m.handle(event{op: opReauth, epoch: 1})
	m.handle(event{op: opCapture, epoch: 2, content: "v1\n"})

	assert.Empty(t, m.handle(event{op: opFetch, epoch: 2, err: remoteErr(401)}))
	assert.Equal(t, StateFatal, m.state)
	assert.Equal(t, derrors.KindUnauthorized, derrors.KindOf(m.outcome.Err))
}

func TestMachine_ContentAfterForkOffer(t *testing.T) {
	m := testMachine("feature")
	m.handle(event{op: opStart})

	assert.Empty(t, m.handle(event{op: opCreateBranch, err: remoteErr(403)}))
	assert.Equal(t, StateForkOffered, m.state)

	// the capture lands after the decision and is kept for the fork
	m.handle(event{op: opCapture, content: "v1\n"})
	assert.Equal(t, "v1\n", m.at.content)

	assert.Equal(t, []op{opFork}, ops(m.handle(event{op: opResolve, choice: host.ChoiceFork})))
	fork := &remote.Repository{Owner: "bob", Name: "docs"}
	next := m.handle(event{op: opFork, repo: fork})
	require.Len(t, next, 1)
	assert.Equal(t, opCreateBranch, next[0].op)
	assert.Equal(t, remote.RepoRef{Owner: "bob", Name: "docs"}, next[0].repo)

	next = m.handle(event{op: opCreateBranch})
	require.Len(t, next, 1)
	assert.Equal(t, opFetch, next[0].op)
}

func TestMachine_ForkFinishesBeforeContent(t *testing.T) {
	m := testMachine("feature")
	m.autoFork = true
	m.handle(event{op: opStart})

	assert.Equal(t, []op{opFork}, ops(m.handle(event{op: opCreateBranch, err: remoteErr(403)})))
	next := m.handle(event{op: opFork, repo: &remote.Repository{Owner: "bob", Name: "docs"}})
	assert.Equal(t, []op{opCreateBranch}, ops(next))

	assert.Empty(t, m.handle(event{op: opCreateBranch}))
	next = m.handle(event{op: opCapture, content: "v1\n"})
	assert.Equal(t, []op{opFetch}, ops(next))
}

func TestMachine_MergeRequestedOnce(t *testing.T) {
	m := testMachine("main")
	m.handle(event{op: opStart})
	m.handle(event{op: opCapture, content: "mine\n"})

	latest := &remote.File{SHA: "other", Content: "theirs\n"}
	cmds := m.handle(event{op: opFetch, purpose: forCommit, file: latest})
	require.Len(t, cmds, 1)
	assert.Equal(t, opMerge, cmds[0].op)
	assert.Equal(t, merge.Request{Ancestor: "v0\n", Left: "mine\n", Right: "theirs\n"}, cmds[0].merge)

	cmds = m.handle(event{op: opMerge, merge: merge.Outcome{Classification: merge.Clean, MergedContent: "both\n"}})
	require.Len(t, cmds, 1)
	assert.Equal(t, forMerged, cmds[0].purpose)

	// the merged write races another writer
	cmds = m.handle(event{op: opWrite, purpose: forMerged, err: remoteErr(409)})
	assert.Equal(t, []op{opFallback}, ops(cmds))
	assert.Equal(t, "c0", cmds[0].sha)
}

func TestMachine_ResolveWithoutDecision(t *testing.T) {
	m := testMachine("main")

	assert.Empty(t, m.handle(event{op: opResolve, choice: host.ChoiceMerge}))
	assert.Equal(t, StateFatal, m.state)
	assert.ErrorIs(t, m.outcome.Err, ErrNoPendingDecision)
}

func TestMachine_NewBranchUsesClock(t *testing.T) {
	m := testMachine("main")
	m.state = StateConflict
	m.at.content, m.at.hasContent = "mine\n", true
	m.at.fallback = &remote.CommitResult{CommitSHA: "f1"}
	m.at.decision = conflictDecision(&merge.Outcome{Classification: merge.WithConflicts})

	cmds := m.handle(event{op: opResolve, choice: host.ChoiceNewBranch})
	require.Len(t, cmds, 1)
	assert.Equal(t, opCreateBranch, cmds[0].op)
	assert.Equal(t, "docsync-42", cmds[0].branch)
	assert.Equal(t, "main", cmds[0].from)
	assert.Equal(t, StateResolving, m.state)

	cmds = m.handle(event{op: opCreateBranch})
	require.Len(t, cmds, 1)
	assert.Equal(t, forOverwrite, cmds[0].purpose)
}

func remoteErr(status int) error {
	return derrors.NewRemoteError("test", "GET", "fake://test", status, nil, []byte(`{"message":"x"}`))
}
