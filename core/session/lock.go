package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/adalundhe/docsync/core/commit"
	"github.com/adalundhe/docsync/core/storage"
)

func defaultLockDir(storePath string) string {
	if storePath == ":memory:" {
		return filepath.Join(os.TempDir(), "docsync-locks")
	}
	return filepath.Join(filepath.Dir(storePath), "locks")
}

// lockPath names the lock file of a working copy.
func lockPath(dir, workingPath string) string {
	sum := sha256.Sum256([]byte(workingPath))
	return filepath.Join(dir, hex.EncodeToString(sum[:12])+".lock")
}

// lockDocument takes the commit lock of workingPath without waiting. The
// lock is an OS file lock, so a watch process and a commit command on the
// same working copy exclude each other. A held lock is
// commit.ErrCommitInProgress.
func (m *Manager) lockDocument(workingPath string) (unlock func(), err error) {
	if err := storage.EnsureStandardDir(m.cfg.LockDir); err != nil {
		return nil, fmt.Errorf("lock directory: %w", err)
	}

	fl := flock.New(lockPath(m.cfg.LockDir, workingPath))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", workingPath, err)
	}
	if !locked {
		m.logger.Debug("commit lock held elsewhere", "working_path", workingPath)
		return nil, commit.ErrCommitInProgress
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			m.logger.Warn("release commit lock", "working_path", workingPath, "error", err)
		}
	}, nil
}
