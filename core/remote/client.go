package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	derrors "github.com/adalundhe/docsync/core/errors"
)

const (
	defaultUserAgent = "docsync"
	apiVersion       = "2022-11-28"
	maxResponseBytes = 32 << 20
	pageSize         = 100
	maxPages         = 10
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

type Options struct {
	BaseURL    string
	Tokens     TokenSource
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Retry retries idempotent reads. Writes are never retried.
	Retry  *derrors.RetryExecutor
	Cache  CacheConfig
	Logger *slog.Logger
}

// Client talks to the GitHub REST v3 API.
type Client struct {
	mu      sync.RWMutex
	baseURL string

	tokens    TokenSource
	userAgent string
	http      *http.Client
	retry     *derrors.RetryExecutor
	cache     *cache
	logger    *slog.Logger
}

var _ API = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote: base url required")
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.Retry == nil {
		opts.Retry = derrors.NewRetryExecutor(nil)
	}
	if opts.Tokens == nil {
		opts.Tokens = StaticToken("")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c, err := newCache(opts.Cache)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		tokens:    opts.Tokens,
		userAgent: opts.UserAgent,
		http:      opts.HTTPClient,
		retry:     opts.Retry,
		cache:     c,
		logger:    opts.Logger.With("component", "remote"),
	}, nil
}

// SetBaseURL points the client at another API, e.g. after the exchange
// named an enterprise host.
func (c *Client) SetBaseURL(base string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(base, "/")
	c.mu.Unlock()
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Close releases the caches.
func (c *Client) Close() {
	c.cache.close()
}

// =============================================================================
// Request plumbing
// =============================================================================

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	token  string
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) (*response, error) {
	var resp *response
	err := c.retry.Do(ctx, func() error {
		var err error
		resp, err = c.send(ctx, request{op: op, method: http.MethodGet, path: path, query: query})
		return err
	})
	return resp, err
}

func (c *Client) write(ctx context.Context, op, method, path string, body any) (*response, error) {
	return c.send(ctx, request{op: op, method: method, path: path, body: body})
}

func (c *Client) send(ctx context.Context, r request) (*response, error) {
	target := c.BaseURL() + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode: %w", r.op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.userAgent)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := r.token
	if token == "" {
		token = c.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", r.op, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w", r.op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", r.op, err)
	}

	c.logger.Debug("request",
		"op", r.op,
		"method", r.method,
		"path", r.path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, derrors.NewRemoteError(r.op, r.method, target, resp.StatusCode, resp.Header, payload)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: payload}, nil
}

func repoPath(repo RepoRef, parts ...string) string {
	var b strings.Builder
	b.WriteString("/repos/")
	b.WriteString(url.PathEscape(repo.Owner))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(repo.Name))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(p)
	}
	return b.String()
}

// escapePath escapes each segment of a slash-separated path.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func unexpected(op string, r *response) error {
	return derrors.NewSyncError(derrors.KindUnknown, derrors.MsgUnexpectedReply,
		fmt.Errorf("%s: unexpected payload (status %d)", op, r.status))
}

// =============================================================================
// Contents
// =============================================================================

func (c *Client) GetContents(ctx context.Context, repo RepoRef, path, ref string) (*File, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	resp, err := c.get(ctx, "get contents", repoPath(repo, "contents", escapePath(path)), q)
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(resp.body)
	if doc.IsArray() {
		return nil, derrors.NewSyncError(derrors.KindValidation, fmt.Sprintf("%s is a directory.", path), nil)
	}
	if doc.Get("type").String() != "file" || !doc.Get("sha").Exists() {
		return nil, unexpected("get contents", resp)
	}

	content, err := decodeContent(doc.Get("content").String(), doc.Get("encoding").String())
	if err != nil {
		return nil, derrors.NewSyncError(derrors.KindUnknown, derrors.MsgUnexpectedReply, err)
	}

	return &File{
		Path:    doc.Get("path").String(),
		SHA:     doc.Get("sha").String(),
		Content: content,
		HTMLURL: doc.Get("html_url").String(),
	}, nil
}

func decodeContent(content, encoding string) (string, error) {
	switch encoding {
	case "base64":
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("decode content: %w", err)
		}
		return string(raw), nil
	case "", "utf-8":
		return content, nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func (c *Client) UpdateFile(ctx context.Context, repo RepoRef, u FileUpdate) (*CommitResult, error) {
	body := map[string]any{
		"message": u.Message,
		"content": base64.StdEncoding.EncodeToString([]byte(u.Content)),
		"branch":  u.Branch,
	}
	if u.SHA != "" {
		body["sha"] = u.SHA
	}

	resp, err := c.write(ctx, "update file", http.MethodPut, repoPath(repo, "contents", escapePath(u.Path)), body)
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(resp.body)
	result := &CommitResult{
		CommitSHA: doc.Get("commit.sha").String(),
		BlobSHA:   doc.Get("content.sha").String(),
		HTMLURL:   doc.Get("commit.html_url").String(),
	}
	if result.CommitSHA == "" || result.BlobSHA == "" {
		return nil, unexpected("update file", resp)
	}
	return result, nil
}

// =============================================================================
// Refs and commits
// =============================================================================

func (c *Client) GetHead(ctx context.Context, repo RepoRef, branch string) (*Ref, error) {
	resp, err := c.get(ctx, "get head", repoPath(repo, "git", "ref", "heads", escapePath(branch)), nil)
	if err != nil {
		return nil, err
	}
	return parseRef("get head", resp)
}

func parseRef(op string, resp *response) (*Ref, error) {
	doc := gjson.ParseBytes(resp.body)
	ref := &Ref{Name: doc.Get("ref").String(), SHA: doc.Get("object.sha").String()}
	if ref.SHA == "" {
		return nil, unexpected(op, resp)
	}
	return ref, nil
}

func (c *Client) GetCommit(ctx context.Context, repo RepoRef, sha string) (*CommitInfo, error) {
	resp, err := c.get(ctx, "get commit", repoPath(repo, "git", "commits", url.PathEscape(sha)), nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(resp.body)
	info := &CommitInfo{
		SHA:     doc.Get("sha").String(),
		TreeSHA: doc.Get("tree.sha").String(),
		Message: doc.Get("message").String(),
		HTMLURL: doc.Get("html_url").String(),
	}
	if info.SHA == "" {
		return nil, unexpected("get commit", resp)
	}
	return info, nil
}

func (c *Client) CreateBranch(ctx context.Context, repo RepoRef, from, to string) (*Ref, error) {
	head, err := c.GetHead(ctx, repo, from)
	if err != nil {
		return nil, err
	}
	return c.CreateRef(ctx, repo, BranchRef(to), head.SHA)
}

func (c *Client) CreateRef(ctx context.Context, repo RepoRef, ref, sha string) (*Ref, error) {
	resp, err := c.write(ctx, "create ref", http.MethodPost, repoPath(repo, "git", "refs"),
		map[string]string{"ref": ref, "sha": sha})
	if err != nil {
		return nil, err
	}
	c.cache.invalidateBranches(repo)
	return parseRef("create ref", resp)
}

// CreateDetachedCommit writes a blob, a tree based on the parent's tree and a
// commit pointing at both. No ref is moved.
func (c *Client) CreateDetachedCommit(ctx context.Context, repo RepoRef, dc DetachedCommit) (*CommitResult, error) {
	parent, err := c.GetCommit(ctx, repo, dc.Parent)
	if err != nil {
		return nil, err
	}

	resp, err := c.write(ctx, "create blob", http.MethodPost, repoPath(repo, "git", "blobs"), map[string]string{
		"content":  base64.StdEncoding.EncodeToString([]byte(dc.Content)),
		"encoding": "base64",
	})
	if err != nil {
		return nil, err
	}
	blobSHA := gjson.GetBytes(resp.body, "sha").String()

	resp, err = c.write(ctx, "create tree", http.MethodPost, repoPath(repo, "git", "trees"), map[string]any{
		"base_tree": parent.TreeSHA,
		"tree": []map[string]string{{
			"path": strings.Trim(dc.Path, "/"),
			"mode": "100644",
			"type": "blob",
			"sha":  blobSHA,
		}},
	})
	if err != nil {
		return nil, err
	}
	treeSHA := gjson.GetBytes(resp.body, "sha").String()

	resp, err = c.write(ctx, "create commit", http.MethodPost, repoPath(repo, "git", "commits"), map[string]any{
		"message": dc.Message,
		"tree":    treeSHA,
		"parents": []string{parent.SHA},
	})
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(resp.body)
	result := &CommitResult{
		CommitSHA: doc.Get("sha").String(),
		BlobSHA:   blobSHA,
		HTMLURL:   doc.Get("html_url").String(),
	}
	if result.CommitSHA == "" {
		return nil, unexpected("create commit", resp)
	}
	return result, nil
}

func (c *Client) MergeCommit(ctx context.Context, repo RepoRef, branch, head, message string) (*CommitResult, error) {
	resp, err := c.write(ctx, "merge", http.MethodPost, repoPath(repo, "merges"), map[string]string{
		"base":           branch,
		"head":           head,
		"commit_message": message,
	})
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNoContent {
		return nil, nil
	}
	doc := gjson.ParseBytes(resp.body)
	return &CommitResult{
		CommitSHA: doc.Get("sha").String(),
		HTMLURL:   doc.Get("html_url").String(),
	}, nil
}

func (c *Client) Compare(ctx context.Context, repo RepoRef, base, head string) (*Comparison, error) {
	spec := url.PathEscape(base) + "..." + url.PathEscape(head)
	resp, err := c.get(ctx, "compare", repoPath(repo, "compare", spec), nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(resp.body)
	return &Comparison{
		HTMLURL:      doc.Get("html_url").String(),
		PermalinkURL: doc.Get("permalink_url").String(),
		Status:       doc.Get("status").String(),
		AheadBy:      int(doc.Get("ahead_by").Int()),
		BehindBy:     int(doc.Get("behind_by").Int()),
	}, nil
}

// =============================================================================
// Repositories and users
// =============================================================================

func parseRepository(r gjson.Result) Repository {
	return Repository{
		Owner:         r.Get("owner.login").String(),
		Name:          r.Get("name").String(),
		Private:       r.Get("private").Bool(),
		Fork:          r.Get("fork").Bool(),
		DefaultBranch: r.Get("default_branch").String(),
		HTMLURL:       r.Get("html_url").String(),
		CanPush:       r.Get("permissions.push").Bool(),
	}
}

func (c *Client) Fork(ctx context.Context, repo RepoRef) (*Repository, error) {
	resp, err := c.write(ctx, "fork", http.MethodPost, repoPath(repo, "forks"), map[string]any{})
	if err != nil {
		return nil, err
	}
	fork := parseRepository(gjson.ParseBytes(resp.body))
	if fork.Owner == "" || fork.Name == "" {
		return nil, unexpected("fork", resp)
	}
	c.cache.forgetRepository(fork.Ref())
	return &fork, nil
}

func (c *Client) GetRepository(ctx context.Context, repo RepoRef) (*Repository, error) {
	if cached, ok := c.cache.repository(repo); ok {
		return cached, nil
	}

	resp, err := c.get(ctx, "get repository", repoPath(repo), nil)
	if err != nil {
		return nil, err
	}
	r := parseRepository(gjson.ParseBytes(resp.body))
	c.cache.storeRepository(repo, &r)
	return &r, nil
}

func (c *Client) ListBranches(ctx context.Context, repo RepoRef) ([]string, error) {
	if cached, ok := c.cache.branches(repo); ok {
		return cached, nil
	}

	var names []string
	err := c.paginate(ctx, "list branches", repoPath(repo, "branches"), func(item gjson.Result) {
		names = append(names, item.Get("name").String())
	})
	if err != nil {
		return nil, err
	}

	c.cache.storeBranches(repo, names)
	return names, nil
}

func (c *Client) paginate(ctx context.Context, op, path string, each func(gjson.Result)) error {
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("per_page", fmt.Sprint(pageSize))
		q.Set("page", fmt.Sprint(page))

		resp, err := c.get(ctx, op, path, q)
		if err != nil {
			return err
		}
		items := gjson.ParseBytes(resp.body).Array()
		for _, item := range items {
			each(item)
		}
		if len(items) < pageSize {
			return nil
		}
	}
	return nil
}

func parseUser(r gjson.Result) *User {
	return &User{
		Login:   r.Get("login").String(),
		Name:    r.Get("name").String(),
		Email:   r.Get("email").String(),
		HTMLURL: r.Get("html_url").String(),
	}
}

func (c *Client) GetAuthenticatedUser(ctx context.Context) (*User, error) {
	resp, err := c.get(ctx, "get user", "/user", nil)
	if err != nil {
		return nil, err
	}
	return parseUser(gjson.ParseBytes(resp.body)), nil
}

func (c *Client) GetUser(ctx context.Context, login string) (*User, error) {
	if cached, ok := c.cache.user(login); ok {
		return cached, nil
	}

	resp, err := c.get(ctx, "get user", "/users/"+url.PathEscape(login), nil)
	if err != nil {
		return nil, err
	}
	u := parseUser(gjson.ParseBytes(resp.body))
	c.cache.storeUser(login, u)
	return u, nil
}

func (c *Client) ListUserRepos(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	err := c.paginate(ctx, "list repositories", "/user/repos", func(item gjson.Result) {
		repos = append(repos, parseRepository(item))
	})
	return repos, err
}

// VerifyToken checks token against GET /user without touching the active
// credentials.
func (c *Client) VerifyToken(ctx context.Context, token string) (string, error) {
	resp, err := c.send(ctx, request{op: "verify token", method: http.MethodGet, path: "/user", token: token})
	if err != nil {
		return "", err
	}
	login := gjson.GetBytes(resp.body, "login").String()
	if login == "" {
		return "", unexpected("verify token", resp)
	}
	return login, nil
}
