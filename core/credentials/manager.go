package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/storage"
)

// Environment variables consulted before any persisted token, in order.
var tokenEnvVars = []string{"DOCSYNC_TOKEN", "GITHUB_TOKEN"}

type Options struct {
	Profile string
	// APIBase is used when the exchange does not name an API.
	APIBase  string
	WebBase  string
	ClientID string

	Exchanger Exchanger
	Prompter  LoginPrompter
	Keychain  KeychainProvider
	Audit     *CredentialAuditLog
	Logger    *slog.Logger
}

// Manager owns the process-wide credentials. Acquisition is serialized so
// concurrent callers observing a 401 trigger a single refresh.
type Manager struct {
	mu sync.Mutex

	profile   string
	apiBase   string
	webBase   string
	clientID  string
	state     string
	exchanger Exchanger
	prompter  LoginPrompter
	store     secretStore
	audit     *CredentialAuditLog
	logger    *slog.Logger

	current  *Credentials
	source   Source
	rejected map[string]bool
}

func NewManager(dirs *storage.Dirs, opts Options) (*Manager, error) {
	if opts.Profile == "" {
		opts.Profile = "default"
	}
	if opts.Exchanger == nil {
		return nil, fmt.Errorf("credentials: exchanger required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Keychain == nil {
		opts.Keychain = newPlatformKeychain()
	}

	var store secretStore
	if opts.Keychain.Available() {
		store = &keychainStore{kc: opts.Keychain, service: "docsync:" + opts.Profile}
	} else {
		enc, err := NewEncryptedFileStore(dirs.CredentialsDir())
		if err != nil {
			return nil, fmt.Errorf("encrypted store: %w", err)
		}
		store = &fileStore{enc: enc, profile: opts.Profile}
	}

	m := &Manager{
		profile:   opts.Profile,
		apiBase:   opts.APIBase,
		webBase:   opts.WebBase,
		clientID:  opts.ClientID,
		exchanger: opts.Exchanger,
		prompter:  opts.Prompter,
		store:     store,
		audit:     opts.Audit,
		logger:    opts.Logger.With("component", "credentials", "profile", opts.Profile),
		rejected:  make(map[string]bool),
	}

	if m.clientID == "" {
		m.clientID, _ = store.get(keyClientID)
	}
	if m.state, _ = store.get(keyState); m.state == "" {
		m.state = uuid.NewString()
	}

	return m, nil
}

// Token returns the active token, empty before the first acquisition.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.Token
}

// Current returns a copy of the active credentials and where they came from.
func (m *Manager) Current() (*Credentials, Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, SourceNone, false
	}
	c := *m.current
	return &c, m.source, true
}

// GetCredentials returns usable credentials, authenticating when none are held.
func (m *Manager) GetCredentials(ctx context.Context) (*Credentials, error) {
	m.mu.Lock()
	if m.current != nil {
		c := *m.current
		m.mu.Unlock()
		return &c, nil
	}
	m.mu.Unlock()

	return m.Authenticate(ctx, false)
}

// Authenticate revalidates the held token through the exchanger. With
// forceRefresh the local credentials are discarded first and the exchange is
// asked to reset.
func (m *Manager) Authenticate(ctx context.Context, forceRefresh bool) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if forceRefresh {
		m.discardLocked("forced refresh")
	}

	held, source := m.lookupLocked()
	resp, err := m.exchanger.Exchange(ctx, ExchangeRequest{
		Reset:       forceRefresh,
		AccessToken: held,
		ClientID:    m.clientID,
		State:       m.state,
	})
	if err != nil {
		m.logger.Debug("exchange failed", "error", err)
		return nil, err
	}

	if resp.AccessToken != "" {
		method := m.exchanger.Method()
		if resp.AccessToken == held && source != SourceExchange && source != SourceNone {
			method = m.storedMethod(source)
		}
		action := AuditActionAcquired
		if forceRefresh || held != "" {
			action = AuditActionRefreshed
		}
		return m.adoptLocked(resp, method, source, action)
	}

	if held != "" {
		m.rejectLocked(held, source, "exchange did not accept token")
		// the environment is not ours to clear
		if source != SourceEnv {
			if err := m.store.clear(); err != nil {
				m.logger.Warn("clear credentials failed", "error", err)
			}
			m.current = nil
			m.source = SourceNone
		}
	}
	return m.loginLocked(ctx)
}

func (m *Manager) loginLocked(ctx context.Context) (*Credentials, error) {
	if m.prompter == nil {
		return nil, derrors.NewSyncError(derrors.KindUnauthorized, MsgNotLoggedIn, nil)
	}

	result, err := m.prompter.PromptLogin(ctx, AuthorizeURL(m.webBase, m.clientID, m.state))
	if err != nil {
		return nil, err
	}

	resp, err := m.exchanger.Exchange(ctx, ExchangeRequest{
		AccessToken: result.Token,
		ClientID:    m.clientID,
		State:       m.state,
	})
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, derrors.NewSyncError(derrors.KindUnauthorized, MsgNotLoggedIn, nil)
	}

	method := m.exchanger.Method()
	if result.Token != "" && resp.AccessToken == result.Token {
		method = AuthMethodToken
	}
	return m.adoptLocked(resp, method, SourceExchange, AuditActionAcquired)
}

// Do runs fn with credentials. When fn fails as unauthorized the credentials
// are force-refreshed and fn runs exactly once more.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, creds *Credentials) error) error {
	creds, err := m.GetCredentials(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, creds)
	if derrors.Classify(err, derrors.IntentOther).Kind != derrors.KindUnauthorized {
		return err
	}

	m.logger.Info("credentials rejected, refreshing")
	creds, err = m.Authenticate(ctx, true)
	if err != nil {
		return err
	}
	return fn(ctx, creds)
}

// Login stores a personal access token after the exchanger accepts it.
func (m *Manager) Login(ctx context.Context, token string) (*Credentials, error) {
	if token == "" {
		return nil, derrors.NewSyncError(derrors.KindValidation, "A token is required.", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	resp, err := m.exchanger.Exchange(ctx, ExchangeRequest{
		AccessToken: token,
		ClientID:    m.clientID,
		State:       m.state,
	})
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		m.recordLocked(AuditActionRejected, &Credentials{Token: token}, SourceExchange, "login token refused")
		return nil, derrors.NewSyncError(derrors.KindUnauthorized, "The token was not accepted.", nil)
	}

	delete(m.rejected, token)
	return m.adoptLocked(resp, AuthMethodToken, SourceExchange, AuditActionAcquired)
}

// Logout clears local credentials and asks the exchange to revoke its copy.
// A token set in the environment stays in effect.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := ""
	if m.current != nil {
		token = m.current.Token
	} else if stored, err := m.store.get(keyToken); err == nil {
		token = stored
	}

	if token != "" {
		if err := m.exchanger.Revoke(ctx, token); err != nil {
			m.logger.Warn("revoke failed", "error", err)
		}
	}

	if err := m.store.clear(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}

	if token != "" {
		m.recordLocked(AuditActionRevoked, &Credentials{Token: token}, m.source, "logout")
	}
	m.current = nil
	m.source = SourceNone
	return nil
}

func (m *Manager) lookupLocked() (string, Source) {
	for _, env := range tokenEnvVars {
		if v := os.Getenv(env); v != "" && !m.rejected[v] {
			return v, SourceEnv
		}
	}
	if v, err := m.store.get(keyToken); err == nil && !m.rejected[v] {
		return v, m.store.source()
	}
	return "", SourceNone
}

func (m *Manager) storedMethod(source Source) AuthMethod {
	if source == SourceEnv {
		return AuthMethodToken
	}
	if v, err := m.store.get(keyAuthMethod); err == nil && v != "" {
		return AuthMethod(v)
	}
	return m.exchanger.Method()
}

func (m *Manager) adoptLocked(resp *ExchangeResponse, method AuthMethod, source Source, action CredentialAuditAction) (*Credentials, error) {
	apiBase := m.apiBase
	if resp.APIURL != "" {
		apiBase = APIBaseFromURL(resp.APIURL)
	} else if source == SourceKeychain || source == SourceFile {
		if stored, err := m.store.get(keyAPIBase); err == nil {
			apiBase = stored
		}
	}
	if resp.ClientID != "" {
		m.clientID = resp.ClientID
	}
	if resp.State != "" {
		m.state = resp.State
	}

	creds := &Credentials{Token: resp.AccessToken, AuthMethod: method, APIBase: apiBase}

	if source != SourceEnv {
		err := m.store.setAll(map[string]string{
			keyToken:      creds.Token,
			keyAuthMethod: string(creds.AuthMethod),
			keyAPIBase:    creds.APIBase,
			keyClientID:   m.clientID,
			keyState:      m.state,
		})
		if err != nil {
			return nil, fmt.Errorf("persist credentials: %w", err)
		}
		source = m.store.source()
	}

	m.current = creds
	m.source = source
	m.recordLocked(action, creds, source, "")
	m.logger.Debug("credentials active", "method", creds.AuthMethod, "source", source, "token", creds.Fingerprint())

	c := *creds
	return &c, nil
}

func (m *Manager) discardLocked(reason string) {
	if m.current != nil {
		m.rejectLocked(m.current.Token, m.source, reason)
	}
	if err := m.store.clear(); err != nil {
		m.logger.Warn("clear credentials failed", "error", err)
	}
	m.current = nil
	m.source = SourceNone
}

func (m *Manager) rejectLocked(token string, source Source, reason string) {
	m.rejected[token] = true
	m.recordLocked(AuditActionRejected, &Credentials{Token: token}, source, reason)
}

func (m *Manager) recordLocked(action CredentialAuditAction, creds *Credentials, source Source, reason string) {
	if m.audit == nil {
		return
	}
	m.audit.Record(AuditEvent{
		Action:  action,
		Profile: m.profile,
		Creds:   creds,
		Source:  source,
		Reason:  reason,
	})
}

// AuditLog returns the audit trail, nil when auditing is off.
func (m *Manager) AuditLog() *CredentialAuditLog {
	return m.audit
}

// Profile returns the credential profile in use.
func (m *Manager) Profile() string {
	return m.profile
}
