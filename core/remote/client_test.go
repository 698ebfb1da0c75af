package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "github.com/adalundhe/docsync/core/errors"
)

var testRepo = RepoRef{Owner: "octo", Name: "docs"}

func fastRetry() *derrors.RetryExecutor {
	fast := &derrors.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	return derrors.NewRetryExecutor(map[derrors.ErrorTier]*derrors.RetryPolicy{
		derrors.TierTransient:         fast,
		derrors.TierExternalDegrading: fast,
		derrors.TierExternalRateLimit: fast,
		derrors.TierPermanent:         {},
		derrors.TierUserFixable:       {},
	})
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{
		BaseURL: srv.URL,
		Tokens:  StaticToken("tok"),
		Retry:   fastRetry(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}

func TestClient_GetContents(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/docs/contents/guide/intro%20notes.md", r.URL.EscapedPath())
		assert.Equal(t, "feature/x", r.URL.Query().Get("ref"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, apiVersion, r.Header.Get("X-GitHub-Api-Version"))

		encoded := base64.StdEncoding.EncodeToString([]byte("hello\nworld\n"))
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"path":     "guide/intro notes.md",
			"sha":      "abc123",
			"encoding": "base64",
			"content":  encoded[:8] + "\n" + encoded[8:],
			"html_url": "https://github.test/octo/docs/blob/feature/x/guide/intro%20notes.md",
		})
	}))

	f, err := c.GetContents(context.Background(), testRepo, "guide/intro notes.md", "feature/x")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", f.Content)
	assert.Equal(t, "abc123", f.SHA)
	assert.Equal(t, "guide/intro notes.md", f.Path)
}

func TestClient_GetContentsDirectory(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"type": "file", "name": "a.md"}})
	}))

	_, err := c.GetContents(context.Background(), testRepo, "guide", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, derrors.ErrValidation)
}

func TestClient_NotFoundIsRemoteError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	}))

	_, err := c.GetContents(context.Background(), testRepo, "missing.md", "main")
	require.Error(t, err)

	var re *derrors.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
	assert.Equal(t, "Not Found", re.Message)
	assert.Equal(t, derrors.ActionProbeAccess, derrors.Classify(err, derrors.IntentContentFetch).Action)
}

func TestClient_RetriesReadsOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusBadGateway, map[string]any{"message": "bad gateway"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/main", "object": map[string]any{"sha": "c0ffee"}})
	}))

	ref, err := c.GetHead(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", ref.SHA)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_NeverRetriesWrites(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadGateway, map[string]any{"message": "bad gateway"})
	}))

	_, err := c.UpdateFile(context.Background(), testRepo, FileUpdate{Path: "a.md", Branch: "main", Message: "m", Content: "x", SHA: "s"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_UpdateFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/repos/octo/docs/contents/notes/a.md", r.URL.Path)

		body := decodeBody(t, r)
		assert.Equal(t, "Update a.md", body["message"])
		assert.Equal(t, "draft", body["branch"])
		assert.Equal(t, "oldsha", body["sha"])
		raw, err := base64.StdEncoding.DecodeString(body["content"].(string))
		require.NoError(t, err)
		assert.Equal(t, "new text", string(raw))

		writeJSON(w, http.StatusOK, map[string]any{
			"content": map[string]any{"sha": "blob1"},
			"commit":  map[string]any{"sha": "commit1", "html_url": "https://github.test/c/commit1"},
		})
	}))

	res, err := c.UpdateFile(context.Background(), testRepo, FileUpdate{
		Path: "notes/a.md", Branch: "draft", Message: "Update a.md", Content: "new text", SHA: "oldsha",
	})
	require.NoError(t, err)
	assert.Equal(t, "commit1", res.CommitSHA)
	assert.Equal(t, "blob1", res.BlobSHA)
	assert.Equal(t, "https://github.test/c/commit1", res.HTMLURL)
}

func TestClient_UpdateFileOmitsEmptySHA(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		_, present := body["sha"]
		assert.False(t, present)
		writeJSON(w, http.StatusCreated, map[string]any{
			"content": map[string]any{"sha": "blob1"},
			"commit":  map[string]any{"sha": "commit1"},
		})
	}))

	_, err := c.UpdateFile(context.Background(), testRepo, FileUpdate{Path: "new.md", Branch: "main", Message: "m", Content: "x"})
	require.NoError(t, err)
}

func TestClient_CreateDetachedCommit(t *testing.T) {
	var order []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/repos/octo/docs/git/commits/parent1":
			writeJSON(w, http.StatusOK, map[string]any{"sha": "parent1", "tree": map[string]any{"sha": "tree0"}})
		case "/repos/octo/docs/git/blobs":
			body := decodeBody(t, r)
			assert.Equal(t, "base64", body["encoding"])
			writeJSON(w, http.StatusCreated, map[string]any{"sha": "blob1"})
		case "/repos/octo/docs/git/trees":
			body := decodeBody(t, r)
			assert.Equal(t, "tree0", body["base_tree"])
			entry := body["tree"].([]any)[0].(map[string]any)
			assert.Equal(t, "docs/a.md", entry["path"])
			assert.Equal(t, "blob1", entry["sha"])
			writeJSON(w, http.StatusCreated, map[string]any{"sha": "tree1"})
		case "/repos/octo/docs/git/commits":
			body := decodeBody(t, r)
			assert.Equal(t, "tree1", body["tree"])
			assert.Equal(t, []any{"parent1"}, body["parents"])
			writeJSON(w, http.StatusCreated, map[string]any{"sha": "commit2", "html_url": "u"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))

	res, err := c.CreateDetachedCommit(context.Background(), testRepo, DetachedCommit{
		Path: "/docs/a.md", Content: "mine", Message: "m", Parent: "parent1",
	})
	require.NoError(t, err)
	assert.Equal(t, "commit2", res.CommitSHA)
	assert.Equal(t, "blob1", res.BlobSHA)
	assert.Equal(t, []string{
		"GET /repos/octo/docs/git/commits/parent1",
		"POST /repos/octo/docs/git/blobs",
		"POST /repos/octo/docs/git/trees",
		"POST /repos/octo/docs/git/commits",
	}, order)
}

func TestClient_MergeCommit(t *testing.T) {
	status := http.StatusCreated
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "main", body["base"])
		assert.Equal(t, "commit2", body["head"])
		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, map[string]any{"sha": "merge1", "html_url": "u"})
	}))

	res, err := c.MergeCommit(context.Background(), testRepo, "main", "commit2", "Merge")
	require.NoError(t, err)
	assert.Equal(t, "merge1", res.CommitSHA)

	status = http.StatusNoContent
	res, err = c.MergeCommit(context.Background(), testRepo, "main", "commit2", "Merge")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestClient_CreateBranch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/octo/docs/git/ref/heads/main":
			writeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/main", "object": map[string]any{"sha": "h1"}})
		case r.Method == http.MethodPost && r.URL.Path == "/repos/octo/docs/git/refs":
			body := decodeBody(t, r)
			assert.Equal(t, "refs/heads/docsync-1", body["ref"])
			assert.Equal(t, "h1", body["sha"])
			writeJSON(w, http.StatusCreated, map[string]any{"ref": "refs/heads/docsync-1", "object": map[string]any{"sha": "h1"}})
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))

	ref, err := c.CreateBranch(context.Background(), testRepo, "main", "docsync-1")
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/docsync-1", ref.Name)
}

func TestClient_CreateRefExists(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Reference already exists"})
	}))

	_, err := c.CreateRef(context.Background(), testRepo, BranchRef("x"), "h1")
	require.Error(t, err)
	assert.Equal(t, derrors.ActionBranchExists, derrors.Classify(err, derrors.IntentBranchCreate).Action)
}

func TestClient_ListBranchesPaginatesAndCaches(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/octo/docs/branches":
			calls.Add(1)
			page := r.URL.Query().Get("page")
			assert.Equal(t, "100", r.URL.Query().Get("per_page"))
			var items []map[string]any
			if page == "1" {
				for i := 0; i < pageSize; i++ {
					items = append(items, map[string]any{"name": fmt.Sprintf("b%03d", i)})
				}
			} else {
				items = append(items, map[string]any{"name": "last"})
			}
			writeJSON(w, http.StatusOK, items)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/octo/docs/git/refs":
			writeJSON(w, http.StatusCreated, map[string]any{"ref": "refs/heads/new", "object": map[string]any{"sha": "h"}})
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	ctx := context.Background()

	names, err := c.ListBranches(ctx, testRepo)
	require.NoError(t, err)
	assert.Len(t, names, pageSize+1)
	assert.Equal(t, "last", names[pageSize])
	assert.Equal(t, int32(2), calls.Load())

	_, err = c.ListBranches(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "served from cache")

	_, err = c.CreateRef(ctx, testRepo, BranchRef("new"), "h")
	require.NoError(t, err)

	_, err = c.ListBranches(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load(), "creating a ref drops the cached list")
}

func TestClient_GetUserCached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/users/mona", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"login": "mona", "name": "Mona", "email": "mona@example.test"})
	}))

	for i := 0; i < 3; i++ {
		u, err := c.GetUser(context.Background(), "mona")
		require.NoError(t, err)
		assert.Equal(t, "Mona", u.Name)
		assert.Equal(t, "mona@example.test", u.Email)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_GetRepository(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":           "docs",
			"owner":          map[string]any{"login": "octo"},
			"private":        true,
			"default_branch": "trunk",
			"permissions":    map[string]any{"push": false},
		})
	}))

	repo, err := c.GetRepository(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, testRepo, repo.Ref())
	assert.True(t, repo.Private)
	assert.False(t, repo.CanPush)
	assert.Equal(t, "trunk", repo.DefaultBranch)
}

func TestClient_Compare(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/docs/compare/main...docsync-1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"html_url":  "https://github.test/octo/docs/compare/main...docsync-1",
			"status":    "ahead",
			"ahead_by":  1,
			"behind_by": 0,
		})
	}))

	cmp, err := c.Compare(context.Background(), testRepo, "main", "docsync-1")
	require.NoError(t, err)
	assert.Equal(t, "ahead", cmp.Status)
	assert.Equal(t, 1, cmp.AheadBy)
}

func TestClient_VerifyTokenUsesGivenToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer candidate" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"login": "mona"})
	}))

	login, err := c.VerifyToken(context.Background(), "candidate")
	require.NoError(t, err)
	assert.Equal(t, "mona", login)

	_, err = c.VerifyToken(context.Background(), "other")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, derrors.StatusOf(err))
}

func TestClient_SetBaseURL(t *testing.T) {
	c, err := NewClient(Options{BaseURL: "https://api.github.test/"})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "https://api.github.test", c.BaseURL())
	c.SetBaseURL("https://ghe.test/api/v3/")
	assert.Equal(t, "https://ghe.test/api/v3", c.BaseURL())
}

func TestClient_CancelledContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetHead(ctx, testRepo, "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
