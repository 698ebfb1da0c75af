package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/adalundhe/docsync/core/config"
	"github.com/adalundhe/docsync/core/credentials"
	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/host"
	"github.com/adalundhe/docsync/core/merge"
	"github.com/adalundhe/docsync/core/remote"
	"github.com/adalundhe/docsync/core/session"
	"github.com/adalundhe/docsync/core/storage"
)

// app is everything a command works with, built once per invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	api      remote.API
	client   *remote.Client
	creds    *credentials.Manager
	store    *session.Store
	sessions *session.Manager
	decider  host.Decider
}

// current is the app of the running command.
var current *app

// newApp builds the app for cmd. Tests replace it.
var newApp = buildApp

// tokenRef hands the remote client whatever token the credential manager
// holds. The manager is created after the client because token validation
// goes through the client.
type tokenRef struct {
	creds *credentials.Manager
}

func (t *tokenRef) Token() string {
	if t.creds == nil {
		return ""
	}
	return t.creds.Token()
}

func buildApp(cmd *cobra.Command) (*app, error) {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		return nil, fmt.Errorf("resolve directories: %w", err)
	}
	if err := dirs.EnsureAll(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	cfg, err := loadConfig(dirs)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, derrors.NewSyncError(derrors.KindMisconfigured, "Invalid configuration: "+err.Error(), err)
	}
	slog.SetDefault(logger)

	for _, pattern := range cfg.Remote.TransientErrors {
		if err := derrors.AddTransientPattern(pattern); err != nil {
			return nil, derrors.NewSyncError(derrors.KindMisconfigured, "Invalid configuration: "+err.Error(), err)
		}
	}

	tokens := &tokenRef{}
	client, err := remote.NewClient(remote.Options{
		BaseURL:   cfg.Remote.APIBase,
		Tokens:    tokens,
		UserAgent: cfg.Remote.UserAgent,
		Timeout:   cfg.Remote.Timeout,
		Cache: remote.CacheConfig{
			BranchTTL:     cfg.Cache.BranchTTL,
			BranchEntries: cfg.Cache.BranchEntries,
			ProfileTTL:    cfg.Cache.UserTTL,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	var exchanger credentials.Exchanger = credentials.NewTokenValidator(client)
	if cfg.Auth.ExchangeURL != "" {
		exchanger = credentials.NewOAuthExchanger(cfg.Auth.ExchangeURL, cfg.Auth.RevokeURL, cfg.Remote.Timeout)
	}

	auditStore, err := credentials.NewFileAuditStorage(dirs.AuditLog())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("audit log: %w", err)
	}

	creds, err := credentials.NewManager(dirs, credentials.Options{
		Profile:   cfg.Auth.Profile,
		APIBase:   cfg.Remote.APIBase,
		WebBase:   cfg.Remote.WebBase,
		ClientID:  cfg.Auth.ClientID,
		Exchanger: exchanger,
		Prompter:  newLoginPrompter(cmd.InOrStdin(), cmd.ErrOrStderr()),
		Audit:     credentials.NewCredentialAuditLog(auditStore),
		Logger:    logger,
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	tokens.creds = creds

	store, err := session.OpenStore(dirs.SessionDB())
	if err != nil {
		client.Close()
		return nil, err
	}

	a, err := assemble(cfg, dirs, logger, client, creds, store, merge.NewResolver(merge.Options{
		ServiceURL:   cfg.Merge.ServiceURL,
		ResultHeader: cfg.Merge.ResultHeader,
		Timeout:      cfg.Merge.Timeout,
		Logger:       logger,
	}))
	if err != nil {
		store.Close()
		client.Close()
		return nil, err
	}
	a.client = client
	a.decider = newDecider(cmd.InOrStdin(), cmd.ErrOrStderr())
	return a, nil
}

// loadConfig applies the command-line overrides over the config layers.
func loadConfig(dirs *storage.Dirs) (*config.Config, error) {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	mgr := config.NewManager(dirs, opts...)
	mgr.SetOverrides(&config.Config{
		Auth: config.AuthConfig{Profile: profile},
		Log:  config.LogConfig{Level: logLevel},
	})
	if err := mgr.Load(); err != nil {
		return nil, derrors.NewSyncError(derrors.KindMisconfigured, "Invalid configuration: "+err.Error(), err)
	}
	return mgr.Get(), nil
}

// assemble wires the session manager over api.
func assemble(cfg *config.Config, dirs *storage.Dirs, logger *slog.Logger, api remote.API, creds *credentials.Manager, store *session.Store, merger merge.Merger) (*app, error) {
	var auth session.Authenticator
	if creds != nil {
		auth = creds
	}
	sessions, err := session.NewManager(session.Config{
		API:               api,
		Merger:            merger,
		Store:             store,
		LockDir:           dirs.LockDir(),
		Auth:              auth,
		NewBranchPrefix:   cfg.Commit.NewBranchPrefix,
		AutoFork:          cfg.Commit.AutoFork,
		ForkReadyAttempts: cfg.Commit.ForkReadyAttempts,
		HistorySize:       cfg.Commit.HistorySize,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		api:      api,
		creds:    creds,
		store:    store,
		sessions: sessions,
	}, nil
}

// authenticate makes sure a token is held before the first remote call and
// follows the API base the exchange named.
func (a *app) authenticate(ctx context.Context) error {
	if a.creds == nil {
		return nil
	}
	c, err := a.creds.GetCredentials(ctx)
	if err != nil {
		return err
	}
	if a.client != nil && c.APIBase != "" && c.APIBase != a.client.BaseURL() {
		a.logger.Debug("switching api base", "api_base", c.APIBase)
		a.client.SetBaseURL(c.APIBase)
	}
	return nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close session store", "error", err)
		}
	}
	if a.client != nil {
		a.client.Close()
	}
}

// output is where command results go.
func output(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
