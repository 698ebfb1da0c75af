// Package session opens repository files as local working copies and keeps
// their version identity between runs.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/adalundhe/docsync/core/commit"
	"github.com/adalundhe/docsync/core/credentials"
	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/merge"
	"github.com/adalundhe/docsync/core/remote"
	"github.com/adalundhe/docsync/core/versioning"
)

const MsgNoAccess = "You do not have access to this repository."

// Context keys set on open failures.
const (
	ReasonKey          = "reason"
	ReasonFileNotFound = "file_not_found"
	ReasonNoAccess     = "no_access"
	OwnerContactKey    = "owner_contact"
)

// Authenticator refreshes the credentials the remote client uses.
// credentials.Manager implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, forceRefresh bool) (*credentials.Credentials, error)
}

// WorkingCopy is the local file a document is edited in.
type WorkingCopy interface {
	host.Document
	Write(content string) error
}

type Config struct {
	API    remote.API
	Merger merge.Merger
	Store  *Store
	// LockDir holds the commit lock files shared with other processes.
	// Empty means a locks directory beside the store.
	LockDir string
	// Auth is optional. Without it a 401 is final.
	Auth Authenticator

	NewBranchPrefix   string
	AutoFork          bool
	ForkReadyAttempts int
	ForkReady         *derrors.RetryPolicy
	HistorySize       int

	// NewWorkingCopy defaults to host.NewFileDocument.
	NewWorkingCopy func(path string) WorkingCopy
	Now            func() time.Time
	Logger         *slog.Logger
}

// Manager opens, resumes and closes documents. Documents it returns are
// cached per working path so one orchestrator serves each file.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	docs map[string]*Document
}

func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.API == nil:
		return nil, fmt.Errorf("session: remote api required")
	case cfg.Merger == nil:
		return nil, fmt.Errorf("session: merger required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("session: store required")
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.LockDir == "" {
		cfg.LockDir = defaultLockDir(cfg.Store.Path())
	}
	if cfg.NewWorkingCopy == nil {
		cfg.NewWorkingCopy = func(path string) WorkingCopy { return host.NewFileDocument(path) }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session"),
		docs:   make(map[string]*Document),
	}, nil
}

// Open fetches the file at loc, writes it to workingPath and records the
// session.
func (m *Manager) Open(ctx context.Context, loc Location, workingPath string) (*Document, error) {
	workingPath, err := filepath.Abs(workingPath)
	if err != nil {
		return nil, fmt.Errorf("resolve working path: %w", err)
	}
	repo := loc.RepoRef()

	file, err := m.withReauth(ctx, func() (*remote.File, error) {
		return m.cfg.API.GetContents(ctx, repo, loc.Path, loc.Branch)
	})
	if err != nil {
		cl := derrors.Classify(err, derrors.IntentContentFetch)
		if cl.Action == derrors.ActionProbeAccess {
			return nil, m.probe(ctx, loc, err)
		}
		return nil, cl.Err(err)
	}

	head, err := m.resolveHead(ctx, repo, loc.Branch)
	if err != nil {
		return nil, err
	}

	wc := m.cfg.NewWorkingCopy(workingPath)
	if err := wc.Write(file.Content); err != nil {
		return nil, err
	}
	wc.SetDirty(false)

	now := m.cfg.Now()
	rec := Record{
		WorkingPath: workingPath,
		Owner:       loc.Owner,
		Repo:        loc.Repo,
		Branch:      loc.Branch,
		Path:        loc.Path,
		Account:     loc.Owner,
		ContentHash: file.SHA,
		HeadCommit:  head,
		Baseline:    file.Content,
		OpenedAt:    now,
		UpdatedAt:   now,
	}
	if err := m.cfg.Store.Save(ctx, rec); err != nil {
		return nil, err
	}

	doc, err := m.document(rec, wc)
	if err != nil {
		return nil, err
	}
	m.logger.Info("opened", "location", loc.String(), "working_path", workingPath, "head", versioning.ShortHash(head))
	return doc, nil
}

// Resume rebuilds the document for workingPath from the store.
func (m *Manager) Resume(ctx context.Context, workingPath string) (*Document, error) {
	workingPath, err := filepath.Abs(workingPath)
	if err != nil {
		return nil, fmt.Errorf("resolve working path: %w", err)
	}

	m.mu.Lock()
	doc, ok := m.docs[workingPath]
	m.mu.Unlock()
	if ok {
		return doc, nil
	}

	rec, err := m.cfg.Store.Load(ctx, workingPath)
	if err != nil {
		return nil, err
	}
	return m.document(rec, m.cfg.NewWorkingCopy(workingPath))
}

// Close forgets the document. The working copy stays on disk.
func (m *Manager) Close(ctx context.Context, workingPath string) error {
	workingPath, err := filepath.Abs(workingPath)
	if err != nil {
		return fmt.Errorf("resolve working path: %w", err)
	}

	m.mu.Lock()
	delete(m.docs, workingPath)
	m.mu.Unlock()

	if err := m.cfg.Store.Delete(ctx, workingPath); err != nil {
		return err
	}
	m.logger.Info("closed", "working_path", workingPath)
	return nil
}

func (m *Manager) List(ctx context.Context) ([]Record, error) {
	return m.cfg.Store.List(ctx)
}

// History returns recent commit messages, most recent first.
func (m *Manager) History(ctx context.Context) ([]string, error) {
	return m.cfg.Store.Messages(ctx, m.cfg.HistorySize)
}

func (m *Manager) document(rec Record, wc WorkingCopy) (*Document, error) {
	state := versioning.NewVersionState(versioning.Snapshot{
		ContentHash:   rec.ContentHash,
		HeadCommitRef: rec.HeadCommit,
		Account:       rec.Account,
		Branch:        rec.Branch,
		Baseline:      rec.Baseline,
	})

	var auth commit.Authenticator
	if m.cfg.Auth != nil {
		auth = commit.AuthenticatorFunc(func(ctx context.Context) error {
			_, err := m.cfg.Auth.Authenticate(ctx, true)
			return err
		})
	}

	orch, err := commit.New(commit.Config{
		Repo:              remote.RepoRef{Owner: rec.Account, Name: rec.Repo},
		Path:              rec.Path,
		API:               m.cfg.API,
		Merger:            m.cfg.Merger,
		State:             state,
		Content:           wc,
		Auth:              auth,
		NewBranchPrefix:   m.cfg.NewBranchPrefix,
		AutoFork:          m.cfg.AutoFork,
		ForkReadyAttempts: m.cfg.ForkReadyAttempts,
		ForkReady:         m.cfg.ForkReady,
		Now:               m.cfg.Now,
		Logger:            m.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	doc := &Document{
		mgr:    m,
		record: rec,
		state:  state,
		wc:     wc,
		orch:   orch,
	}
	m.mu.Lock()
	m.docs[rec.WorkingPath] = doc
	m.mu.Unlock()
	return doc, nil
}

// withReauth runs fn and, on 401, forces a credential refresh and runs it
// once more.
func (m *Manager) withReauth(ctx context.Context, fn func() (*remote.File, error)) (*remote.File, error) {
	file, err := fn()
	if err == nil || m.cfg.Auth == nil {
		return file, err
	}
	if derrors.Classify(err, derrors.IntentContentFetch).Action != derrors.ActionReauthenticate {
		return nil, err
	}

	m.logger.Debug("reauthenticating", "error", err)
	if _, aerr := m.cfg.Auth.Authenticate(ctx, true); aerr != nil {
		return nil, aerr
	}
	return fn()
}

// probe tells a missing file from a repository the user cannot see.
func (m *Manager) probe(ctx context.Context, loc Location, cause error) error {
	_, err := m.cfg.API.GetRepository(ctx, loc.RepoRef())
	if err == nil {
		return derrors.NewSyncError(derrors.KindNotFound, derrors.MsgFileNotFound, cause).
			WithContext(ReasonKey, ReasonFileNotFound)
	}

	cl := derrors.Classify(err, derrors.IntentOther)
	if cl.Kind != derrors.KindNotFound && cl.Kind != derrors.KindAccessDenied {
		return cl.Err(err)
	}

	msg := MsgNoAccess
	contact := ""
	if u, uerr := m.cfg.API.GetUser(ctx, loc.Owner); uerr == nil {
		contact = u.Contact()
	}
	if contact != "" {
		msg += " Ask the owner for access: " + contact + "."
	}
	return derrors.NewSyncError(derrors.KindNotFound, msg, cause).
		WithContext(ReasonKey, ReasonNoAccess).
		WithContext(OwnerContactKey, contact)
}

// resolveHead returns the commit a branch points at. A 404 means the
// "branch" may be a commit SHA.
func (m *Manager) resolveHead(ctx context.Context, repo remote.RepoRef, branch string) (string, error) {
	ref, err := m.cfg.API.GetHead(ctx, repo, branch)
	if err == nil {
		return ref.SHA, nil
	}
	if derrors.StatusOf(err) != 404 {
		return "", derrors.Classify(err, derrors.IntentOther).Err(err)
	}

	info, cerr := m.cfg.API.GetCommit(ctx, repo, branch)
	if cerr != nil {
		return "", derrors.NewSyncError(derrors.KindNotFound, derrors.MsgBranchNotFound, cerr)
	}
	return info.SHA, nil
}

// Reason returns the open failure reason recorded on err, if any.
func Reason(err error) string {
	var se *derrors.SyncError
	if derrors.As(err, &se) {
		return se.Context[ReasonKey]
	}
	return ""
}
