package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/docsync/core/commit"
	"github.com/adalundhe/docsync/core/credentials"
	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/merge"
	"github.com/adalundhe/docsync/core/remote"
	"github.com/adalundhe/docsync/core/remote/remotetest"
	"github.com/adalundhe/docsync/core/versioning"
)

type countingAuth struct {
	calls atomic.Int32
}

func (a *countingAuth) Authenticate(_ context.Context, force bool) (*credentials.Credentials, error) {
	a.calls.Add(1)
	return &credentials.Credentials{Token: "refreshed"}, nil
}

type fixedMerger struct {
	outcome merge.Outcome
}

func (m fixedMerger) Merge(context.Context, merge.Request) (merge.Outcome, error) {
	return m.outcome, nil
}

type env struct {
	fake  *remotetest.Fake
	repo  remote.RepoRef
	seed  string
	store *Store
	auth  *countingAuth
	mgr   *Manager
	dir   string
}

func newEnv(t *testing.T, merger merge.Merger) *env {
	t.Helper()
	e := &env{
		fake:  remotetest.New("alice"),
		store: openTestStore(t),
		auth:  &countingAuth{},
		dir:   t.TempDir(),
	}
	e.repo = e.fake.AddRepo("alice", "docs")
	e.seed = e.fake.Push(e.repo, "main", "guide.md", "v0\n")
	e.mgr = e.newManager(t, merger)
	return e
}

func (e *env) newManager(t *testing.T, merger merge.Merger) *Manager {
	t.Helper()
	if merger == nil {
		merger = merge.NewResolver(merge.Options{})
	}
	mgr, err := NewManager(Config{
		API:    e.fake,
		Merger: merger,
		Store:  e.store,
		Auth:   e.auth,
		Now:    func() time.Time { return time.UnixMilli(1700000000000) },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return mgr
}

func (e *env) path(name string) string {
	return filepath.Join(e.dir, name)
}

func (e *env) open(t *testing.T, loc string) *Document {
	t.Helper()
	l, err := ParseLocation(loc)
	require.NoError(t, err)
	doc, err := e.mgr.Open(context.Background(), l, e.path("guide.md"))
	require.NoError(t, err)
	return doc
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestOpen_SeedsStateAndRecord(t *testing.T) {
	e := newEnv(t, nil)

	doc := e.open(t, "alice/docs/main/guide.md")

	assert.Equal(t, "v0\n", readFile(t, e.path("guide.md")))
	assert.Equal(t, versioning.Snapshot{
		ContentHash:   versioning.BlobHash("v0\n"),
		HeadCommitRef: e.seed,
		Account:       "alice",
		Branch:        "main",
		Baseline:      "v0\n",
	}, doc.Version())

	rec, err := e.store.Load(context.Background(), e.path("guide.md"))
	require.NoError(t, err)
	assert.Equal(t, e.seed, rec.HeadCommit)
	assert.Equal(t, "guide.md", rec.Path)

	modified, err := doc.Modified(context.Background())
	require.NoError(t, err)
	assert.False(t, modified)
}

func TestOpen_RetriesOnceAfterUnauthorized(t *testing.T) {
	e := newEnv(t, nil)
	e.fake.ExpireToken(1)

	e.open(t, "alice/docs/main/guide.md")

	assert.Equal(t, int32(1), e.auth.calls.Load())
	assert.Equal(t, 2, e.fake.Calls(remotetest.OpGetContents))
}

func TestOpen_MissingFile(t *testing.T) {
	e := newEnv(t, nil)
	loc, _ := ParseLocation("alice/docs/main/missing.md")

	_, err := e.mgr.Open(context.Background(), loc, e.path("missing.md"))

	require.Error(t, err)
	assert.Equal(t, ReasonFileNotFound, Reason(err))
	assert.Equal(t, derrors.MsgFileNotFound, derrors.UserMessage(err))
	assert.ErrorIs(t, err, derrors.ErrNotFound)
}

func TestOpen_NoAccessNamesOwnerContact(t *testing.T) {
	e := newEnv(t, nil)
	secret := e.fake.AddRepo("carol", "secret", remotetest.Private())
	e.fake.Push(secret, "main", "guide.md", "x\n")
	e.fake.AddUser(remote.User{Login: "carol", Email: "carol@example.com"})
	loc, _ := ParseLocation("carol/secret/main/guide.md")

	_, err := e.mgr.Open(context.Background(), loc, e.path("secret.md"))

	require.Error(t, err)
	assert.Equal(t, ReasonNoAccess, Reason(err))
	assert.Contains(t, derrors.UserMessage(err), MsgNoAccess)
	assert.Contains(t, derrors.UserMessage(err), "carol@example.com")
	_, statErr := os.Stat(e.path("secret.md"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpen_CommitSHAAsBranch(t *testing.T) {
	e := newEnv(t, nil)

	doc := e.open(t, "alice/docs/"+e.seed+"/guide.md")

	assert.Equal(t, e.seed, doc.Version().HeadCommitRef)
	assert.Equal(t, 1, e.fake.Calls(remotetest.OpGetCommit))
}

func TestDocument_CommitPersistsAndRecordsMessage(t *testing.T) {
	e := newEnv(t, nil)
	doc := e.open(t, "alice/docs/main/guide.md")
	writeFile(t, e.path("guide.md"), "v1\n")

	out, err := doc.Commit(context.Background(), CommitRequest{Message: "fix typo", Notify: "bob", Issue: 7})

	require.NoError(t, err)
	require.Equal(t, commit.OutcomeSuccess, out.Status, "%v", out.Err)
	content, _ := e.fake.File(e.repo, "main", "guide.md")
	assert.Equal(t, "v1\n", content)

	rec, err := e.store.Load(context.Background(), e.path("guide.md"))
	require.NoError(t, err)
	assert.Equal(t, versioning.BlobHash("v1\n"), rec.ContentHash)
	assert.Equal(t, e.fake.Head(e.repo, "main"), rec.HeadCommit)
	assert.Equal(t, "v1\n", rec.Baseline)

	history, err := e.mgr.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fix typo"}, history)

	info, err := e.fake.GetCommit(context.Background(), e.repo, out.CommitSHA)
	require.NoError(t, err)
	assert.Equal(t, "@bob #7 fix typo", info.Message)
}

func TestDocument_DiffAgainstBaseline(t *testing.T) {
	e := newEnv(t, nil)
	doc := e.open(t, "alice/docs/main/guide.md")

	d, err := doc.Diff(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, d.Empty())

	writeFile(t, e.path("guide.md"), "v0\nmore\n")
	d, err = doc.Diff(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Additions)
	assert.Equal(t, 0, d.Deletions)
}

func TestDocument_ReloadsMergedContent(t *testing.T) {
	e := newEnv(t, fixedMerger{outcome: merge.Outcome{Classification: merge.Clean, MergedContent: "mine\nv0\ntheirs\n"}})
	doc := e.open(t, "alice/docs/main/guide.md")
	e.fake.Push(e.repo, "main", "guide.md", "v0\ntheirs\n")
	writeFile(t, e.path("guide.md"), "mine\nv0\n")

	out, err := doc.Commit(context.Background(), CommitRequest{})

	require.NoError(t, err)
	require.Equal(t, commit.OutcomeSuccess, out.Status, "%v", out.Err)
	assert.True(t, out.Reload)
	assert.Equal(t, "mine\nv0\ntheirs\n", readFile(t, e.path("guide.md")))

	history, err := e.mgr.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDocument_SettleWithDecider(t *testing.T) {
	e := newEnv(t, nil)
	doc := e.open(t, "alice/docs/main/guide.md")
	e.fake.Push(e.repo, "main", "guide.md", "theirs\n")
	writeFile(t, e.path("guide.md"), "mine\n")

	out, err := doc.Commit(context.Background(), CommitRequest{Message: "mine"})
	require.NoError(t, err)
	require.Equal(t, commit.OutcomeConflict, out.Status)

	rec, err := e.store.Load(context.Background(), e.path("guide.md"))
	require.NoError(t, err)
	assert.Equal(t, e.seed, rec.HeadCommit)
	history, err := e.mgr.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)

	out, err = doc.Settle(context.Background(), out, host.DeciderFunc(func(_ context.Context, d *host.Decision) (host.Choice, error) {
		return d.DefaultChoice()
	}))

	require.NoError(t, err)
	require.Equal(t, commit.OutcomeSuccess, out.Status, "%v", out.Err)
	rec, err = e.store.Load(context.Background(), e.path("guide.md"))
	require.NoError(t, err)
	assert.Equal(t, out.Branch, rec.Branch)
	assert.NotEqual(t, "main", rec.Branch)

	history, err = e.mgr.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, history)
}

func TestDocument_CancelledAttemptKeepsNoHistory(t *testing.T) {
	e := newEnv(t, nil)
	doc := e.open(t, "alice/docs/main/guide.md")
	e.fake.Push(e.repo, "main", "guide.md", "theirs\n")
	writeFile(t, e.path("guide.md"), "mine\n")

	out, err := doc.Commit(context.Background(), CommitRequest{Message: "mine"})
	require.NoError(t, err)
	require.Equal(t, commit.OutcomeConflict, out.Status)

	out, err = doc.Resolve(context.Background(), host.ChoiceCancel)
	require.NoError(t, err)
	assert.Equal(t, commit.OutcomeCancelled, out.Status)

	history, err := e.mgr.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

// gatedMerger holds every merge until release is closed.
type gatedMerger struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (m *gatedMerger) Merge(ctx context.Context, _ merge.Request) (merge.Outcome, error) {
	if m.calls.Add(1) == 1 {
		close(m.started)
	}
	select {
	case <-m.release:
	case <-ctx.Done():
		return merge.Outcome{}, ctx.Err()
	}
	return merge.Outcome{Classification: merge.WithConflicts}, nil
}

func TestDocument_CommitExcludesOtherManagers(t *testing.T) {
	merger := &gatedMerger{started: make(chan struct{}), release: make(chan struct{})}
	e := newEnv(t, merger)
	first := e.open(t, "alice/docs/main/guide.md")
	e.fake.Push(e.repo, "main", "guide.md", "theirs\n")
	writeFile(t, e.path("guide.md"), "mine\n")

	// a second run over the same store, as a watch process beside a commit
	second, err := e.newManager(t, merger).Resume(context.Background(), e.path("guide.md"))
	require.NoError(t, err)
	require.NotSame(t, first, second)

	done := make(chan *commit.Outcome)
	go func() {
		out, err := first.Commit(context.Background(), CommitRequest{})
		assert.NoError(t, err)
		done <- out
	}()
	<-merger.started

	_, err = second.Commit(context.Background(), CommitRequest{})
	assert.ErrorIs(t, err, commit.ErrCommitInProgress)
	assert.Equal(t, int32(1), merger.calls.Load())

	close(merger.release)
	out := <-done
	require.NotNil(t, out)
	assert.Equal(t, commit.OutcomeConflict, out.Status)
	assert.Equal(t, 1, e.fake.Calls(remotetest.OpDetachedCommit))

	// released once the first attempt ends
	out, err = second.Commit(context.Background(), CommitRequest{})
	require.NoError(t, err)
	assert.Equal(t, commit.OutcomeConflict, out.Status)
	assert.Equal(t, int32(2), merger.calls.Load())
}

func TestManager_ResumeAndClose(t *testing.T) {
	e := newEnv(t, nil)
	doc := e.open(t, "alice/docs/main/guide.md")
	writeFile(t, e.path("guide.md"), "v1\n")
	_, err := doc.Commit(context.Background(), CommitRequest{})
	require.NoError(t, err)

	// a later run starts from the store
	fresh := e.newManager(t, nil)
	resumed, err := fresh.Resume(context.Background(), e.path("guide.md"))
	require.NoError(t, err)
	assert.Equal(t, doc.Version(), resumed.Version())

	writeFile(t, e.path("guide.md"), "v2\n")
	out, err := resumed.Commit(context.Background(), CommitRequest{})
	require.NoError(t, err)
	assert.Equal(t, commit.OutcomeSuccess, out.Status, "%v", out.Err)

	require.NoError(t, fresh.Close(context.Background(), e.path("guide.md")))
	_, err = e.newManager(t, nil).Resume(context.Background(), e.path("guide.md"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_ResumeReturnsOpenDocument(t *testing.T) {
	e := newEnv(t, nil)
	doc := e.open(t, "alice/docs/main/guide.md")

	again, err := e.mgr.Resume(context.Background(), e.path("guide.md"))

	require.NoError(t, err)
	assert.Same(t, doc, again)
}

func TestNewManager_Validates(t *testing.T) {
	_, err := NewManager(Config{})
	assert.Error(t, err)
}
