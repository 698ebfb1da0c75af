package versioning

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *VersionState {
	return NewVersionState(Snapshot{
		ContentHash:   BlobHash("hello\n"),
		HeadCommitRef: "c0",
		Account:       "octo",
		Branch:        "main",
		Baseline:      "hello\n",
	})
}

func TestBlobHash_MatchesGit(t *testing.T) {
	// git hash-object for "hello\n" and the empty blob.
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", BlobHash("hello\n"))
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", BlobHash(""))
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "ce01362", ShortHash("ce013625030ba8dba906f756967f9e9ca394464a"))
	assert.Equal(t, "abc", ShortHash("abc"))
}

func TestVersionState_CommitReplacesAllFields(t *testing.T) {
	v := seeded()

	got := v.Commit(Update{ContentHash: "h1", HeadCommitRef: "c1", Baseline: "hello world\n"})

	assert.Equal(t, Snapshot{
		ContentHash:   "h1",
		HeadCommitRef: "c1",
		Account:       "octo",
		Branch:        "main",
		Baseline:      "hello world\n",
	}, got)
	assert.Equal(t, got, v.Read())
	assert.Equal(t, uint64(1), v.Version())
}

func TestVersionState_CommitRelocates(t *testing.T) {
	v := seeded()

	v.Commit(Update{ContentHash: "h1", HeadCommitRef: "c1", Baseline: "x", Account: "me", Branch: "docsync-1"})

	s := v.Read()
	assert.Equal(t, "me", s.Account)
	assert.Equal(t, "docsync-1", s.Branch)
}

func TestVersionState_IsModified(t *testing.T) {
	v := seeded()
	assert.False(t, v.IsModified("hello\n"))
	assert.True(t, v.IsModified("hello there\n"))
}

func TestVersionState_ConcurrentReadersNeverSeeMixedValues(t *testing.T) {
	v := NewVersionState(Snapshot{ContentHash: "h0", HeadCommitRef: "c0", Baseline: "b0"})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	mixed := make(chan Snapshot, 1)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := v.Read()
				suffix := s.ContentHash[1:]
				if s.HeadCommitRef[1:] != suffix || s.Baseline[1:] != suffix {
					select {
					case mixed <- s:
					default:
					}
					return
				}
			}
		}()
	}

	for i := 1; i <= 200; i++ {
		n := string(rune('0' + i%10))
		v.Commit(Update{ContentHash: "h" + n, HeadCommitRef: "c" + n, Baseline: "b" + n})
	}
	close(stop)
	wg.Wait()

	select {
	case s := <-mixed:
		require.Failf(t, "partial update observed", "%+v", s)
	default:
	}
}
