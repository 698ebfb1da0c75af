// Package storage resolves the directories docsync keeps its state in.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

// AppName names every docsync directory.
const AppName = "docsync"

// Dirs holds the per-user directories, resolved with XDG overrides.
type Dirs struct {
	Config string // settings and encrypted credentials
	Data   string // session database
	Cache  string // regenerable data
	State  string // logs and the credential audit trail
}

// ProjectDirs are the directories docsync reads inside a working tree.
type ProjectDirs struct {
	Root   string // .docsync/
	Config string // .docsync/config.yaml (committed)
	Local  string // .docsync/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveDirsImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveDirsImpl() (*Dirs, error) {
	return &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
		Cache:  resolveDir("XDG_CACHE_HOME", platformCacheDefault()),
		State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
	}, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for the given root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	root := filepath.Join(projectRoot, "."+AppName)
	return &ProjectDirs{
		Root:   root,
		Config: filepath.Join(root, "config.yaml"),
		Local:  filepath.Join(root, "local"),
	}
}

// EnsureDir creates a directory with the given permissions, 0700 when perm is zero.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

// EnsureSensitiveDir creates a directory with restricted permissions (0700).
func EnsureSensitiveDir(path string) error {
	return EnsureDir(path, 0700)
}

// EnsureStandardDir creates a directory with standard permissions (0755).
func EnsureStandardDir(path string) error {
	return EnsureDir(path, 0755)
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// DataDir returns the data subdirectory path.
func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

// CacheDir returns the cache subdirectory path.
func (d *Dirs) CacheDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Cache}, subpath...)...)
}

// StateDir returns the state subdirectory path.
func (d *Dirs) StateDir(subpath ...string) string {
	return filepath.Join(append([]string{d.State}, subpath...)...)
}

// CredentialsDir holds the encrypted credential file and its salt.
func (d *Dirs) CredentialsDir() string {
	return d.ConfigDir("credentials")
}

// SessionDB is the SQLite file holding open documents and message history.
func (d *Dirs) SessionDB() string {
	return d.DataDir("sessions.db")
}

// AuditLog is the append-only credential audit trail.
func (d *Dirs) AuditLog() string {
	return d.StateDir("audit", "credentials.jsonl")
}

// LockDir holds the per-document commit locks.
func (d *Dirs) LockDir() string {
	return d.StateDir("locks")
}

// LogDir returns the log directory.
func (d *Dirs) LogDir() string {
	return d.StateDir("logs")
}

// EnsureAll creates all standard directories with appropriate permissions.
func (d *Dirs) EnsureAll() error {
	sensitiveDirs := []string{
		d.Config,
		d.CredentialsDir(),
		d.StateDir("audit"),
	}
	standardDirs := []string{
		d.Data,
		d.Cache,
		d.State,
		d.LogDir(),
		d.LockDir(),
	}

	for _, dir := range sensitiveDirs {
		if err := EnsureSensitiveDir(dir); err != nil {
			return err
		}
	}
	for _, dir := range standardDirs {
		if err := EnsureStandardDir(dir); err != nil {
			return err
		}
	}
	return nil
}
