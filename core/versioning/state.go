// Package versioning tracks the content identity of an open document.
package versioning

import "sync"

// Snapshot is a copy of a document's version fields.
type Snapshot struct {
	// ContentHash is the blob SHA of the last synchronized body.
	ContentHash string
	// HeadCommitRef is the commit that produced ContentHash.
	HeadCommitRef string
	// Account owns the repository the document lives in.
	Account string
	Branch  string
	// Baseline is the exact text used as the merge ancestor.
	Baseline string
}

// Update carries the values returned by a successful remote write.
// Account and Branch are optional and keep their current value when empty.
type Update struct {
	ContentHash   string
	HeadCommitRef string
	Baseline      string
	Account       string
	Branch        string
}

// VersionState is the single record of a document's identity. Only the
// commit orchestrator mutates it.
type VersionState struct {
	mu      sync.RWMutex
	current Snapshot
	version uint64
}

// NewVersionState seeds the state from the remote file a document was opened from.
func NewVersionState(seed Snapshot) *VersionState {
	return &VersionState{current: seed}
}

// Read returns the current snapshot.
func (v *VersionState) Read() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Commit replaces hash, commit ref and baseline together. Callers must only
// pass values returned by a successful remote write.
func (v *VersionState) Commit(u Update) Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := Snapshot{
		ContentHash:   u.ContentHash,
		HeadCommitRef: u.HeadCommitRef,
		Baseline:      u.Baseline,
		Account:       v.current.Account,
		Branch:        v.current.Branch,
	}
	if u.Account != "" {
		next.Account = u.Account
	}
	if u.Branch != "" {
		next.Branch = u.Branch
	}

	v.current = next
	v.version++
	return next
}

// Version counts successful commits since the state was seeded.
func (v *VersionState) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// IsModified reports whether content differs from the last synchronized body.
func (v *VersionState) IsModified(content string) bool {
	return BlobHash(content) != v.Read().ContentHash
}
