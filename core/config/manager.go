// Package config loads docsync settings from layered YAML files and the
// environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adalundhe/docsync/core/storage"
	"gopkg.in/yaml.v3"
)

type Manager struct {
	current     atomic.Pointer[Config]
	dirs        *storage.Dirs
	projectRoot string
	file        string
	overrides   *Config
	watchers    []func(*Config)
	watcherMu   sync.RWMutex
}

type Config struct {
	Remote RemoteConfig `yaml:"remote"`
	Auth   AuthConfig   `yaml:"auth"`
	Merge  MergeConfig  `yaml:"merge"`
	Commit CommitConfig `yaml:"commit"`
	Cache  CacheConfig  `yaml:"cache"`
	Log    LogConfig    `yaml:"log"`
}

type RemoteConfig struct {
	APIBase   string        `yaml:"api_base"`
	WebBase   string        `yaml:"web_base"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`

	// TransientErrors are extra transport error patterns worth retrying,
	// such as a proxy's own failure text.
	TransientErrors []string `yaml:"transient_errors"`
}

type AuthConfig struct {
	// ExchangeURL is the authorization exchange. Empty means tokens are
	// validated directly against the remote API.
	ExchangeURL string `yaml:"exchange_url"`
	RevokeURL   string `yaml:"revoke_url"`
	ClientID    string `yaml:"client_id"`
	Profile     string `yaml:"profile"`
}

type MergeConfig struct {
	ServiceURL   string        `yaml:"service_url"`
	ResultHeader string        `yaml:"result_header"`
	Timeout      time.Duration `yaml:"timeout"`
}

type CommitConfig struct {
	NewBranchPrefix   string `yaml:"new_branch_prefix"`
	HistorySize       int    `yaml:"history_size"`
	AutoFork          bool   `yaml:"auto_fork"`
	ForkReadyAttempts int    `yaml:"fork_ready_attempts"`
}

type CacheConfig struct {
	BranchTTL     time.Duration `yaml:"branch_ttl"`
	BranchEntries int           `yaml:"branch_entries"`
	UserTTL       time.Duration `yaml:"user_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithProjectRoot sets the directory searched for .docsync/. Defaults to ".".
func WithProjectRoot(root string) Option {
	return func(m *Manager) { m.projectRoot = root }
}

// WithFile adds an explicit config file, applied after the standard layers.
func WithFile(path string) Option {
	return func(m *Manager) { m.file = path }
}

func NewManager(dirs *storage.Dirs, opts ...Option) *Manager {
	m := &Manager{
		dirs:        dirs,
		projectRoot: ".",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.current.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			APIBase:   "https://api.github.com",
			WebBase:   "https://github.com",
			Timeout:   30 * time.Second,
			UserAgent: "docsync",
		},
		Auth: AuthConfig{
			Profile: "default",
		},
		Merge: MergeConfig{
			ResultHeader: "X-Merge-Result",
			Timeout:      30 * time.Second,
		},
		Commit: CommitConfig{
			NewBranchPrefix:   "docsync-",
			HistorySize:       10,
			ForkReadyAttempts: 5,
		},
		Cache: CacheConfig{
			BranchTTL:     5 * time.Minute,
			BranchEntries: 64,
			UserTTL:       10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

func (m *Manager) Get() *Config {
	return m.current.Load()
}

// SetOverrides merges cfg over every loaded layer on the next Load. Zero
// fields leave the loaded value alone.
func (m *Manager) SetOverrides(cfg *Config) {
	m.overrides = cfg
}

func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadProjectConfig(cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	if err := m.loadLocalConfig(cfg); err != nil {
		return fmt.Errorf("local config: %w", err)
	}

	if m.file != "" {
		if _, err := os.Stat(m.file); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		if err := loadYAMLFile(m.file, cfg); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}

	applyEnvironment(cfg)

	if m.overrides != nil {
		DeepMerge(cfg, m.overrides)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	m.notifyWatchers(cfg)

	return nil
}

func (m *Manager) loadProjectConfig(cfg *Config) error {
	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	return loadYAMLFile(projectDirs.Config, cfg)
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	if m.dirs == nil {
		return nil
	}
	return loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg)
}

func (m *Manager) loadLocalConfig(cfg *Config) error {
	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	return loadYAMLFile(filepath.Join(projectDirs.Local, "config.yaml"), cfg)
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) {
	setString(&cfg.Remote.APIBase, "DOCSYNC_API_BASE")
	setString(&cfg.Remote.WebBase, "DOCSYNC_WEB_BASE")
	setDuration(&cfg.Remote.Timeout, "DOCSYNC_REMOTE_TIMEOUT")
	setString(&cfg.Auth.ExchangeURL, "DOCSYNC_EXCHANGE_URL")
	setString(&cfg.Auth.RevokeURL, "DOCSYNC_REVOKE_URL")
	setString(&cfg.Auth.ClientID, "DOCSYNC_CLIENT_ID")
	setString(&cfg.Auth.Profile, "DOCSYNC_PROFILE")
	setString(&cfg.Merge.ServiceURL, "DOCSYNC_MERGE_URL")
	setDuration(&cfg.Merge.Timeout, "DOCSYNC_MERGE_TIMEOUT")
	setString(&cfg.Commit.NewBranchPrefix, "DOCSYNC_BRANCH_PREFIX")
	setInt(&cfg.Commit.HistorySize, "DOCSYNC_HISTORY_SIZE")
	if v := os.Getenv("DOCSYNC_AUTO_FORK"); v != "" {
		cfg.Commit.AutoFork = strings.ToLower(v) == "true"
	}
	setString(&cfg.Log.Level, "DOCSYNC_LOG_LEVEL")
	setString(&cfg.Log.Format, "DOCSYNC_LOG_FORMAT")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate rejects settings docsync cannot run with.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"remote.api_base":   c.Remote.APIBase,
		"remote.web_base":   c.Remote.WebBase,
		"auth.exchange_url": c.Auth.ExchangeURL,
		"auth.revoke_url":   c.Auth.RevokeURL,
		"merge.service_url": c.Merge.ServiceURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: invalid url %q", name, raw)
		}
	}
	if c.Remote.APIBase == "" {
		return fmt.Errorf("remote.api_base: required")
	}
	for _, pattern := range c.Remote.TransientErrors {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("remote.transient_errors: %w", err)
		}
	}
	if c.Commit.HistorySize <= 0 {
		return fmt.Errorf("commit.history_size: must be positive, got %d", c.Commit.HistorySize)
	}
	if c.Commit.NewBranchPrefix == "" {
		return fmt.Errorf("commit.new_branch_prefix: required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}
