// Package credentials acquires, revalidates and persists the token docsync
// uses to talk to the repository API.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// AuthMethod records how a token was obtained.
type AuthMethod string

const (
	AuthMethodOAuth AuthMethod = "oauth"
	AuthMethodToken AuthMethod = "token"
)

// Source records where the active token was found.
type Source string

const (
	SourceNone     Source = ""
	SourceEnv      Source = "environment"
	SourceKeychain Source = "keychain"
	SourceFile     Source = "encrypted_file"
	SourceExchange Source = "exchange"
)

// Credentials are replaced and invalidated as a whole.
type Credentials struct {
	Token      string
	AuthMethod AuthMethod
	APIBase    string
}

// Fingerprint identifies a token in logs without revealing it.
func (c *Credentials) Fingerprint() string {
	if c == nil || c.Token == "" {
		return ""
	}
	return fingerprint(c.Token)
}

func fingerprint(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:4])
}

// APIBaseFromURL turns the exchange's api_url into a REST base.
func APIBaseFromURL(apiURL string) string {
	return strings.TrimRight(apiURL, "/") + "/api/v3"
}

// LoginResult is what the user did at the login prompt. An empty Token means
// the browser flow was completed instead of pasting a token.
type LoginResult struct {
	Token string
}

// LoginPrompter shows the authorize URL and waits for the user.
type LoginPrompter interface {
	PromptLogin(ctx context.Context, authorizeURL string) (LoginResult, error)
}

// LoginPrompterFunc adapts a function to LoginPrompter.
type LoginPrompterFunc func(ctx context.Context, authorizeURL string) (LoginResult, error)

func (f LoginPrompterFunc) PromptLogin(ctx context.Context, authorizeURL string) (LoginResult, error) {
	return f(ctx, authorizeURL)
}
