// Package remote is the client for the hosted repository's REST API.
package remote

import (
	"context"
	"fmt"
	"strings"
)

// RepoRef names a repository.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoRef parses "owner/name".
func ParseRepoRef(s string) (RepoRef, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return RepoRef{}, fmt.Errorf("invalid repository %q: want owner/name", s)
	}
	return RepoRef{Owner: owner, Name: name}, nil
}

// File is a file's content at some ref.
type File struct {
	Path    string
	SHA     string
	Content string
	HTMLURL string
}

// Ref is a git reference and the commit it points at.
type Ref struct {
	Name string
	SHA  string
}

type CommitInfo struct {
	SHA     string
	TreeSHA string
	Message string
	HTMLURL string
}

// CommitResult is what a successful write returns.
type CommitResult struct {
	CommitSHA string
	BlobSHA   string
	HTMLURL   string
}

// FileUpdate creates or replaces a file on a branch. An empty SHA creates
// the file.
type FileUpdate struct {
	Path    string
	Branch  string
	Message string
	Content string
	SHA     string
}

// DetachedCommit is a commit reachable from no branch, parented on Parent.
type DetachedCommit struct {
	Path    string
	Content string
	Message string
	Parent  string
}

type Comparison struct {
	HTMLURL      string
	PermalinkURL string
	Status       string
	AheadBy      int
	BehindBy     int
}

type Repository struct {
	Owner         string
	Name          string
	Private       bool
	Fork          bool
	DefaultBranch string
	HTMLURL       string
	CanPush       bool
}

func (r *Repository) Ref() RepoRef {
	return RepoRef{Owner: r.Owner, Name: r.Name}
}

type User struct {
	Login   string
	Name    string
	Email   string
	HTMLURL string
}

// Contact is how to reach the user: email when public, profile otherwise.
func (u *User) Contact() string {
	if u.Email != "" {
		return u.Email
	}
	return u.HTMLURL
}

// API is the subset of the repository API docsync uses.
type API interface {
	GetContents(ctx context.Context, repo RepoRef, path, ref string) (*File, error)
	GetHead(ctx context.Context, repo RepoRef, branch string) (*Ref, error)
	GetCommit(ctx context.Context, repo RepoRef, sha string) (*CommitInfo, error)
	// CreateBranch creates to at the head of from.
	CreateBranch(ctx context.Context, repo RepoRef, from, to string) (*Ref, error)
	CreateRef(ctx context.Context, repo RepoRef, ref, sha string) (*Ref, error)
	UpdateFile(ctx context.Context, repo RepoRef, u FileUpdate) (*CommitResult, error)
	CreateDetachedCommit(ctx context.Context, repo RepoRef, c DetachedCommit) (*CommitResult, error)
	// MergeCommit merges head into branch. A nil result means nothing to merge.
	MergeCommit(ctx context.Context, repo RepoRef, branch, head, message string) (*CommitResult, error)
	Compare(ctx context.Context, repo RepoRef, base, head string) (*Comparison, error)
	Fork(ctx context.Context, repo RepoRef) (*Repository, error)
	GetRepository(ctx context.Context, repo RepoRef) (*Repository, error)
	ListBranches(ctx context.Context, repo RepoRef) ([]string, error)
	GetAuthenticatedUser(ctx context.Context) (*User, error)
	GetUser(ctx context.Context, login string) (*User, error)
	ListUserRepos(ctx context.Context) ([]Repository, error)
}

// BranchRef is the full ref name of a branch.
func BranchRef(branch string) string {
	return "refs/heads/" + branch
}
