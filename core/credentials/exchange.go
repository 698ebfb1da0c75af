package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	derrors "github.com/adalundhe/docsync/core/errors"
)

// ExchangeRequest is sent to the authorization exchange.
type ExchangeRequest struct {
	Reset       bool   `json:"reset"`
	AccessToken string `json:"accessToken"`
	ClientID    string `json:"clientId"`
	State       string `json:"state"`
}

// ExchangeResponse is the exchange's reply. An empty AccessToken without an
// error means the user has to log in.
type ExchangeResponse struct {
	APIURL      string
	AccessToken string
	ClientID    string
	State       string
}

// Exchanger validates or trades tokens.
type Exchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error)
	Revoke(ctx context.Context, token string) error
	Method() AuthMethod
}

const proxyMarker = "#HGCR"

const (
	MsgExchangeUnreachable = "The authorization service cannot reach GitHub. Check its proxy and network configuration."
	MsgExchangeMisconfig   = "The authorization service is not configured: the client id or secret is missing."
	MsgNotLoggedIn         = "Not logged in. Run 'docsync auth login'."
)

// OAuthExchanger talks to an HTTP authorization exchange.
type OAuthExchanger struct {
	exchangeURL string
	revokeURL   string
	client      *http.Client
}

// NewOAuthExchanger creates an exchanger. revokeURL may be empty.
func NewOAuthExchanger(exchangeURL, revokeURL string, timeout time.Duration) *OAuthExchanger {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OAuthExchanger{
		exchangeURL: exchangeURL,
		revokeURL:   revokeURL,
		client:      &http.Client{Timeout: timeout},
	}
}

func (e *OAuthExchanger) Method() AuthMethod {
	return AuthMethodOAuth
}

func (e *OAuthExchanger) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode exchange request: %w", err)
	}

	status, payload, err := e.post(ctx, e.exchangeURL, body)
	if err != nil {
		return nil, err
	}

	if msg := gjson.GetBytes(payload, "error").String(); msg != "" {
		if strings.Contains(msg, proxyMarker) {
			return nil, derrors.NewSyncError(derrors.KindServiceUnavailable, MsgExchangeUnreachable, derrors.New(msg))
		}
		return nil, derrors.NewSyncError(derrors.KindMisconfigured, MsgExchangeMisconfig, derrors.New(msg)).
			WithStatusCode(status)
	}
	if status != http.StatusOK {
		return nil, derrors.NewSyncError(derrors.KindMisconfigured, MsgExchangeMisconfig,
			fmt.Errorf("exchange returned status %d", status)).WithStatusCode(status)
	}

	return &ExchangeResponse{
		APIURL:      gjson.GetBytes(payload, "api_url").String(),
		AccessToken: gjson.GetBytes(payload, "access_token").String(),
		ClientID:    gjson.GetBytes(payload, "client_id").String(),
		State:       gjson.GetBytes(payload, "state").String(),
	}, nil
}

// Revoke asks the exchange to forget its copy of the token.
func (e *OAuthExchanger) Revoke(ctx context.Context, token string) error {
	if e.revokeURL == "" || token == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"accessToken": token})
	if err != nil {
		return err
	}
	status, _, err := e.post(ctx, e.revokeURL, body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("revoke returned status %d", status)
	}
	return nil
}

func (e *OAuthExchanger) post(ctx context.Context, target string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, derrors.NewSyncError(derrors.KindMisconfigured, MsgExchangeMisconfig, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, derrors.NewSyncError(derrors.KindServiceUnavailable, MsgExchangeUnreachable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, derrors.NewSyncError(derrors.KindServiceUnavailable, MsgExchangeUnreachable, err)
	}
	return resp.StatusCode, payload, nil
}

// AuthorizeURL builds the browser login URL for the web base.
func AuthorizeURL(webBase, clientID, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("state", state)
	q.Set("scope", "public_repo,repo")
	return strings.TrimRight(webBase, "/") + "/login/oauth/authorize?" + q.Encode()
}

// TokenVerifier checks a token against the repository API and returns the
// login it belongs to.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// TokenValidator is the exchanger used without an exchange service: it
// accepts a token when the API accepts it.
type TokenValidator struct {
	verifier TokenVerifier
}

func NewTokenValidator(verifier TokenVerifier) *TokenValidator {
	return &TokenValidator{verifier: verifier}
}

func (v *TokenValidator) Method() AuthMethod {
	return AuthMethodToken
}

func (v *TokenValidator) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error) {
	if req.AccessToken == "" {
		return &ExchangeResponse{}, nil
	}
	if _, err := v.verifier.VerifyToken(ctx, req.AccessToken); err != nil {
		if derrors.Classify(err, derrors.IntentOther).Kind == derrors.KindUnauthorized {
			return &ExchangeResponse{}, nil
		}
		return nil, err
	}
	return &ExchangeResponse{AccessToken: req.AccessToken}, nil
}

// Revoke is a no-op: personal access tokens are revoked on GitHub.
func (v *TokenValidator) Revoke(context.Context, string) error {
	return nil
}
