// Package remotetest provides an in-memory repository API with error
// injection, operation hooks and call counters.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/remote"
	"github.com/adalundhe/docsync/core/versioning"
)

// Op names an API operation for counters, hooks and injected failures.
type Op string

const (
	OpGetContents     Op = "get_contents"
	OpGetHead         Op = "get_head"
	OpGetCommit       Op = "get_commit"
	OpCreateBranch    Op = "create_branch"
	OpCreateRef       Op = "create_ref"
	OpUpdateFile      Op = "update_file"
	OpDetachedCommit  Op = "detached_commit"
	OpMerge           Op = "merge"
	OpCompare         Op = "compare"
	OpFork            Op = "fork"
	OpGetRepository   Op = "get_repository"
	OpListBranches    Op = "list_branches"
	OpGetCurrentUser  Op = "get_current_user"
	OpGetUser         Op = "get_user"
	OpListUserRepos   Op = "list_user_repos"
	OpVerifyToken     Op = "verify_token"
	WebBase              = "https://github.test"
)

type commit struct {
	sha     string
	parents []string
	files   map[string]string
	message string
}

type repository struct {
	owner         string
	name          string
	private       bool
	fork          bool
	defaultBranch string
	writers       map[string]bool
	branches      map[string]string
	commits       map[string]*commit
	notReadyFor   int
}

type failure struct {
	status  int
	message string
}

// Fake is an in-memory remote.API. The zero value is not usable; call New.
type Fake struct {
	mu       sync.Mutex
	login    string
	repos    map[string]*repository
	users    map[string]*remote.User
	failures map[Op][]failure
	calls    map[Op]int
	before   func(Op)
	expired  int
	forkWait int
	seq      int
}

var _ remote.API = (*Fake)(nil)

// New returns an empty fake acting as login.
func New(login string) *Fake {
	f := &Fake{
		login:    login,
		repos:    make(map[string]*repository),
		users:    make(map[string]*remote.User),
		failures: make(map[Op][]failure),
		calls:    make(map[Op]int),
	}
	f.users[login] = &remote.User{Login: login, HTMLURL: WebBase + "/" + login}
	return f
}

// RepoOption configures AddRepo.
type RepoOption func(*repository)

// Private hides the repository from users without write access.
func Private() RepoOption {
	return func(r *repository) { r.private = true }
}

// Writers grants push access to logins besides the owner.
func Writers(logins ...string) RepoOption {
	return func(r *repository) {
		for _, l := range logins {
			r.writers[l] = true
		}
	}
}

// AddRepo creates a repository with an empty initial commit on its default
// branch "main".
func (f *Fake) AddRepo(owner, name string, opts ...RepoOption) remote.RepoRef {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := &repository{
		owner:         owner,
		name:          name,
		defaultBranch: "main",
		writers:       map[string]bool{owner: true},
		branches:      make(map[string]string),
		commits:       make(map[string]*commit),
	}
	for _, opt := range opts {
		opt(r)
	}
	root := f.newCommitLocked(r, nil, map[string]string{}, "initial commit")
	r.branches[r.defaultBranch] = root.sha
	f.repos[owner+"/"+name] = r
	if _, ok := f.users[owner]; !ok {
		f.users[owner] = &remote.User{Login: owner, HTMLURL: WebBase + "/" + owner}
	}
	return remote.RepoRef{Owner: owner, Name: name}
}

// AddUser registers a user profile.
func (f *Fake) AddUser(u remote.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Login] = &u
}

// Push commits content to path on branch as another writer, creating the
// branch from the default branch when missing. It returns the commit SHA.
func (f *Fake) Push(repo remote.RepoRef, branch, path, content string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.repos[repo.String()]
	head, ok := r.branches[branch]
	if !ok {
		head = r.branches[r.defaultBranch]
	}
	files := copyFiles(r.commits[head].files)
	files[path] = content
	c := f.newCommitLocked(r, []string{head}, files, "push")
	r.branches[branch] = c.sha
	return c.sha
}

// Delete removes path from branch as another writer.
func (f *Fake) Delete(repo remote.RepoRef, branch, path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.repos[repo.String()]
	head := r.branches[branch]
	files := copyFiles(r.commits[head].files)
	delete(files, path)
	c := f.newCommitLocked(r, []string{head}, files, "delete")
	r.branches[branch] = c.sha
	return c.sha
}

// File returns path's content at the head of branch.
func (f *Fake) File(repo remote.RepoRef, branch, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.repos[repo.String()]
	if !ok {
		return "", false
	}
	head, ok := r.branches[branch]
	if !ok {
		return "", false
	}
	content, ok := r.commits[head].files[path]
	return content, ok
}

// CommitFile returns path's content in an arbitrary commit.
func (f *Fake) CommitFile(repo remote.RepoRef, sha, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.repos[repo.String()]
	if !ok {
		return "", false
	}
	c, ok := r.commits[sha]
	if !ok {
		return "", false
	}
	content, ok := c.files[path]
	return content, ok
}

// CommitParents returns the parents of a commit.
func (f *Fake) CommitParents(repo remote.RepoRef, sha string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.repos[repo.String()].commits[sha]; ok {
		return append([]string(nil), c.parents...)
	}
	return nil
}

// Head returns the commit SHA branch points at.
func (f *Fake) Head(repo remote.RepoRef, branch string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.repos[repo.String()]; ok {
		return r.branches[branch]
	}
	return ""
}

func (f *Fake) HasBranch(repo remote.RepoRef, branch string) bool {
	return f.Head(repo, branch) != ""
}

func (f *Fake) HasRepo(repo remote.RepoRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.repos[repo.String()]
	return ok
}

// FailNext makes the next call of op fail with status and message.
func (f *Fake) FailNext(op Op, status int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], failure{status: status, message: message})
}

// ExpireToken makes the next n calls of any operation fail with 401.
func (f *Fake) ExpireToken(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = n
}

// SetForkReadyAfter makes a new fork invisible to the next n repository
// lookups.
func (f *Fake) SetForkReadyAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forkWait = n
}

// BeforeOp installs a hook run before every operation, outside the lock.
func (f *Fake) BeforeOp(fn func(Op)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = fn
}

func (f *Fake) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls counts every operation.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// =============================================================================
// Internals
// =============================================================================

func copyFiles(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for k, v := range files {
		out[k] = v
	}
	return out
}

func (f *Fake) newCommitLocked(r *repository, parents []string, files map[string]string, message string) *commit {
	f.seq++
	c := &commit{
		sha:     fmt.Sprintf("%040x", f.seq),
		parents: parents,
		files:   files,
		message: message,
	}
	r.commits[c.sha] = c
	return c
}

// enter counts the call, runs the hook and returns a pending injected error.
// On success the lock is held and the caller must unlock.
func (f *Fake) enter(ctx context.Context, op Op) error {
	f.mu.Lock()
	f.calls[op]++
	hook := f.before
	f.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if f.expired > 0 {
		f.expired--
		f.mu.Unlock()
		return remoteErr(op, http.StatusUnauthorized, "Bad credentials")
	}
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		f.mu.Unlock()
		return remoteErr(op, q[0].status, q[0].message)
	}
	return nil
}

func remoteErr(op Op, status int, message string) error {
	body, _ := json.Marshal(map[string]string{"message": message})
	return derrors.NewRemoteError(string(op), "FAKE", "fake://"+string(op), status, nil, body)
}

func (f *Fake) readable(r *repository) bool {
	return !r.private || r.writers[f.login]
}

func (f *Fake) repoLocked(op Op, ref remote.RepoRef) (*repository, error) {
	r, ok := f.repos[ref.String()]
	if !ok || !f.readable(r) {
		return nil, remoteErr(op, http.StatusNotFound, "Not Found")
	}
	return r, nil
}

func (f *Fake) writableLocked(op Op, ref remote.RepoRef) (*repository, error) {
	r, err := f.repoLocked(op, ref)
	if err != nil {
		return nil, err
	}
	if !r.writers[f.login] {
		return nil, remoteErr(op, http.StatusForbidden, "Resource not accessible by integration")
	}
	return r, nil
}

// resolve accepts a branch name or a commit SHA.
func (r *repository) resolve(ref string) (*commit, bool) {
	if ref == "" {
		ref = r.defaultBranch
	}
	if sha, ok := r.branches[ref]; ok {
		return r.commits[sha], true
	}
	c, ok := r.commits[ref]
	return c, ok
}

func (r *repository) ancestors(sha string) map[string]bool {
	seen := make(map[string]bool)
	stack := []string{sha}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if c, ok := r.commits[cur]; ok {
			stack = append(stack, c.parents...)
		}
	}
	return seen
}

// mergeBase walks head's history breadth first for the nearest commit that
// base also reaches.
func (r *repository) mergeBase(base, head string) *commit {
	reach := r.ancestors(base)
	queue := []string{head}
	seen := make(map[string]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if reach[cur] {
			return r.commits[cur]
		}
		if c, ok := r.commits[cur]; ok {
			queue = append(queue, c.parents...)
		}
	}
	return nil
}

func (f *Fake) htmlURL(r *repository, kind, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", WebBase, r.owner, r.name, kind, id)
}

// =============================================================================
// remote.API
// =============================================================================

func (f *Fake) GetContents(ctx context.Context, repo remote.RepoRef, path, ref string) (*remote.File, error) {
	if err := f.enter(ctx, OpGetContents); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(OpGetContents, repo)
	if err != nil {
		return nil, err
	}
	c, ok := r.resolve(ref)
	if !ok {
		return nil, remoteErr(OpGetContents, http.StatusNotFound, "No commit found for the ref "+ref)
	}
	content, ok := c.files[path]
	if !ok {
		return nil, remoteErr(OpGetContents, http.StatusNotFound, "Not Found")
	}
	return &remote.File{
		Path:    path,
		SHA:     versioning.BlobHash(content),
		Content: content,
		HTMLURL: f.htmlURL(r, "blob", ref+"/"+path),
	}, nil
}

func (f *Fake) GetHead(ctx context.Context, repo remote.RepoRef, branch string) (*remote.Ref, error) {
	if err := f.enter(ctx, OpGetHead); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(OpGetHead, repo)
	if err != nil {
		return nil, err
	}
	sha, ok := r.branches[branch]
	if !ok {
		return nil, remoteErr(OpGetHead, http.StatusNotFound, "Not Found")
	}
	return &remote.Ref{Name: remote.BranchRef(branch), SHA: sha}, nil
}

func (f *Fake) GetCommit(ctx context.Context, repo remote.RepoRef, sha string) (*remote.CommitInfo, error) {
	if err := f.enter(ctx, OpGetCommit); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(OpGetCommit, repo)
	if err != nil {
		return nil, err
	}
	c, ok := r.commits[sha]
	if !ok {
		return nil, remoteErr(OpGetCommit, http.StatusNotFound, "Not Found")
	}
	return &remote.CommitInfo{SHA: c.sha, TreeSHA: "tree-" + c.sha, Message: c.message, HTMLURL: f.htmlURL(r, "commit", c.sha)}, nil
}

func (f *Fake) CreateBranch(ctx context.Context, repo remote.RepoRef, from, to string) (*remote.Ref, error) {
	if err := f.enter(ctx, OpCreateBranch); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.writableLocked(OpCreateBranch, repo)
	if err != nil {
		return nil, err
	}
	sha, ok := r.branches[from]
	if !ok {
		return nil, remoteErr(OpCreateBranch, http.StatusNotFound, "Not Found")
	}
	if _, exists := r.branches[to]; exists {
		return nil, remoteErr(OpCreateBranch, http.StatusUnprocessableEntity, "Reference already exists")
	}
	r.branches[to] = sha
	return &remote.Ref{Name: remote.BranchRef(to), SHA: sha}, nil
}

func (f *Fake) CreateRef(ctx context.Context, repo remote.RepoRef, ref, sha string) (*remote.Ref, error) {
	if err := f.enter(ctx, OpCreateRef); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.writableLocked(OpCreateRef, repo)
	if err != nil {
		return nil, err
	}
	branch, ok := strings.CutPrefix(ref, "refs/heads/")
	if !ok {
		return nil, remoteErr(OpCreateRef, http.StatusUnprocessableEntity, "Reference name must start with 'refs/heads/'")
	}
	if _, exists := r.branches[branch]; exists {
		return nil, remoteErr(OpCreateRef, http.StatusUnprocessableEntity, "Reference already exists")
	}
	if _, ok := r.commits[sha]; !ok {
		return nil, remoteErr(OpCreateRef, http.StatusUnprocessableEntity, "Object does not exist")
	}
	r.branches[branch] = sha
	return &remote.Ref{Name: ref, SHA: sha}, nil
}

func (f *Fake) UpdateFile(ctx context.Context, repo remote.RepoRef, u remote.FileUpdate) (*remote.CommitResult, error) {
	if err := f.enter(ctx, OpUpdateFile); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.writableLocked(OpUpdateFile, repo)
	if err != nil {
		return nil, err
	}
	head, ok := r.branches[u.Branch]
	if !ok {
		return nil, remoteErr(OpUpdateFile, http.StatusNotFound, "Branch "+u.Branch+" not found")
	}

	files := copyFiles(r.commits[head].files)
	current, exists := files[u.Path]
	switch {
	case exists && u.SHA == "":
		return nil, remoteErr(OpUpdateFile, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
	case exists && versioning.BlobHash(current) != u.SHA:
		return nil, remoteErr(OpUpdateFile, http.StatusConflict, u.Path+" does not match "+u.SHA)
	case !exists && u.SHA != "":
		return nil, remoteErr(OpUpdateFile, http.StatusConflict, u.Path+" does not match "+u.SHA)
	}

	files[u.Path] = u.Content
	c := f.newCommitLocked(r, []string{head}, files, u.Message)
	r.branches[u.Branch] = c.sha
	return &remote.CommitResult{
		CommitSHA: c.sha,
		BlobSHA:   versioning.BlobHash(u.Content),
		HTMLURL:   f.htmlURL(r, "commit", c.sha),
	}, nil
}

func (f *Fake) CreateDetachedCommit(ctx context.Context, repo remote.RepoRef, dc remote.DetachedCommit) (*remote.CommitResult, error) {
	if err := f.enter(ctx, OpDetachedCommit); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.writableLocked(OpDetachedCommit, repo)
	if err != nil {
		return nil, err
	}
	parent, ok := r.commits[dc.Parent]
	if !ok {
		return nil, remoteErr(OpDetachedCommit, http.StatusNotFound, "Not Found")
	}
	files := copyFiles(parent.files)
	files[dc.Path] = dc.Content
	c := f.newCommitLocked(r, []string{parent.sha}, files, dc.Message)
	return &remote.CommitResult{
		CommitSHA: c.sha,
		BlobSHA:   versioning.BlobHash(dc.Content),
		HTMLURL:   f.htmlURL(r, "commit", c.sha),
	}, nil
}

// MergeCommit performs a file-level three-way merge: a path changed on both
// sides to different contents is a conflict.
func (f *Fake) MergeCommit(ctx context.Context, repo remote.RepoRef, branch, head, message string) (*remote.CommitResult, error) {
	if err := f.enter(ctx, OpMerge); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.writableLocked(OpMerge, repo)
	if err != nil {
		return nil, err
	}
	baseSHA, ok := r.branches[branch]
	if !ok {
		return nil, remoteErr(OpMerge, http.StatusNotFound, "Base does not exist")
	}
	theirs, ok := r.resolve(head)
	if !ok {
		return nil, remoteErr(OpMerge, http.StatusNotFound, "Head does not exist")
	}
	if r.ancestors(baseSHA)[theirs.sha] {
		return nil, nil
	}

	ours := r.commits[baseSHA]
	ancestor := r.mergeBase(baseSHA, theirs.sha)
	ancestorFiles := map[string]string{}
	if ancestor != nil {
		ancestorFiles = ancestor.files
	}

	merged := copyFiles(ours.files)
	for path, content := range theirs.files {
		base, inBase := ancestorFiles[path]
		mine, inMine := ours.files[path]
		switch {
		case inBase && content == base:
		case !inMine || (inBase && mine == base) || mine == content:
			merged[path] = content
		default:
			return nil, remoteErr(OpMerge, http.StatusConflict, "Merge conflict")
		}
	}

	c := f.newCommitLocked(r, []string{baseSHA, theirs.sha}, merged, message)
	r.branches[branch] = c.sha
	return &remote.CommitResult{CommitSHA: c.sha, HTMLURL: f.htmlURL(r, "commit", c.sha)}, nil
}

func (f *Fake) Compare(ctx context.Context, repo remote.RepoRef, base, head string) (*remote.Comparison, error) {
	if err := f.enter(ctx, OpCompare); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(OpCompare, repo)
	if err != nil {
		return nil, err
	}
	b, ok := r.resolve(base)
	if !ok {
		return nil, remoteErr(OpCompare, http.StatusNotFound, "Not Found")
	}
	h, ok := r.resolve(head)
	if !ok {
		return nil, remoteErr(OpCompare, http.StatusNotFound, "Not Found")
	}

	fromBase, fromHead := r.ancestors(b.sha), r.ancestors(h.sha)
	ahead, behind := 0, 0
	for sha := range fromHead {
		if !fromBase[sha] {
			ahead++
		}
	}
	for sha := range fromBase {
		if !fromHead[sha] {
			behind++
		}
	}
	status := "diverged"
	switch {
	case ahead == 0 && behind == 0:
		status = "identical"
	case behind == 0:
		status = "ahead"
	case ahead == 0:
		status = "behind"
	}

	spec := base + "..." + head
	return &remote.Comparison{
		HTMLURL:      f.htmlURL(r, "compare", spec),
		PermalinkURL: f.htmlURL(r, "compare", b.sha+"..."+h.sha),
		Status:       status,
		AheadBy:      ahead,
		BehindBy:     behind,
	}, nil
}

func (f *Fake) Fork(ctx context.Context, repo remote.RepoRef) (*remote.Repository, error) {
	if err := f.enter(ctx, OpFork); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	src, err := f.repoLocked(OpFork, repo)
	if err != nil {
		return nil, err
	}

	key := f.login + "/" + src.name
	if existing, ok := f.repos[key]; ok {
		return f.describe(existing), nil
	}

	fork := &repository{
		owner:         f.login,
		name:          src.name,
		private:       src.private,
		fork:          true,
		defaultBranch: src.defaultBranch,
		writers:       map[string]bool{f.login: true},
		branches:      make(map[string]string, len(src.branches)),
		commits:       make(map[string]*commit, len(src.commits)),
		notReadyFor:   f.forkWait,
	}
	for k, v := range src.branches {
		fork.branches[k] = v
	}
	for k, v := range src.commits {
		fork.commits[k] = v
	}
	f.repos[key] = fork
	return f.describe(fork), nil
}

func (f *Fake) describe(r *repository) *remote.Repository {
	return &remote.Repository{
		Owner:         r.owner,
		Name:          r.name,
		Private:       r.private,
		Fork:          r.fork,
		DefaultBranch: r.defaultBranch,
		HTMLURL:       fmt.Sprintf("%s/%s/%s", WebBase, r.owner, r.name),
		CanPush:       r.writers[f.login],
	}
}

func (f *Fake) GetRepository(ctx context.Context, repo remote.RepoRef) (*remote.Repository, error) {
	if err := f.enter(ctx, OpGetRepository); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(OpGetRepository, repo)
	if err != nil {
		return nil, err
	}
	if r.notReadyFor > 0 {
		r.notReadyFor--
		return nil, remoteErr(OpGetRepository, http.StatusNotFound, "Not Found")
	}
	return f.describe(r), nil
}

func (f *Fake) ListBranches(ctx context.Context, repo remote.RepoRef) ([]string, error) {
	if err := f.enter(ctx, OpListBranches); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(OpListBranches, repo)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(r.branches))
	for name := range r.branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) GetAuthenticatedUser(ctx context.Context) (*remote.User, error) {
	if err := f.enter(ctx, OpGetCurrentUser); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	u := *f.users[f.login]
	return &u, nil
}

func (f *Fake) GetUser(ctx context.Context, login string) (*remote.User, error) {
	if err := f.enter(ctx, OpGetUser); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	u, ok := f.users[login]
	if !ok {
		return nil, remoteErr(OpGetUser, http.StatusNotFound, "Not Found")
	}
	cp := *u
	return &cp, nil
}

func (f *Fake) ListUserRepos(ctx context.Context) ([]remote.Repository, error) {
	if err := f.enter(ctx, OpListUserRepos); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.repos))
	for k, r := range f.repos {
		if r.writers[f.login] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]remote.Repository, 0, len(keys))
	for _, k := range keys {
		out = append(out, *f.describe(f.repos[k]))
	}
	return out, nil
}

// VerifyToken accepts any token unless a failure is pending.
func (f *Fake) VerifyToken(ctx context.Context, _ string) (string, error) {
	if err := f.enter(ctx, OpVerifyToken); err != nil {
		return "", err
	}
	defer f.mu.Unlock()
	return f.login, nil
}
