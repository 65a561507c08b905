package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"enharness/internal/domain"
	"enharness/internal/ensek"
	"enharness/internal/state"
)

// expectedAlgorithm is the signing algorithm the service issues.
const expectedAlgorithm = "HS256"

// resetSuccessMessage is the body the reset endpoint reports on success.
const resetSuccessMessage = "Success"

// Client is the slice of the remote surface the manager needs.
type Client interface {
	Login(ctx context.Context, username, password string) (*ensek.Response, error)
	Reset(ctx context.Context, username, password, bearer string) (*ensek.Response, error)
	SetBearer(raw string)
}

// Manager owns the authentication token lifecycle: acquisition,
// structural validation and lazy refresh. It is the single source of
// truth for whether the run is authenticated.
type Manager struct {
	client      Client
	store       state.Store
	username    string
	password    string
	refreshSkew time.Duration
	logger      *zap.Logger

	current *domain.AuthToken
}

func NewManager(client Client, store state.Store, username, password string, refreshSkew time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		client:      client,
		store:       store,
		username:    username,
		password:    password,
		refreshSkew: refreshSkew,
		logger:      logger,
	}
}

func (m *Manager) Username() string { return m.username }

func (m *Manager) Password() string { return m.password }

// Login authenticates, extracts the access token, validates its
// structure and commits it to shared state.
func (m *Manager) Login(ctx context.Context) (domain.AuthToken, error) {
	resp, err := m.client.Login(ctx, m.username, m.password)
	if err != nil {
		return domain.AuthToken{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.AuthToken{}, &domain.AuthError{
			Kind:   domain.LoginFailed,
			Detail: fmt.Sprintf("login returned status %d", resp.StatusCode),
		}
	}
	raw, err := ExtractAccessToken(resp)
	if err != nil {
		return domain.AuthToken{}, err
	}
	return m.Adopt(raw)
}

// EnsureValidToken returns the held token, re-authenticating lazily
// when no token is held or the held one is expired or near expiry.
// Calling it twice without expiry elapsing returns the identical
// token and issues no second login request.
func (m *Manager) EnsureValidToken(ctx context.Context) (domain.AuthToken, error) {
	if m.current != nil && !m.current.ExpiresWithin(m.refreshSkew) {
		return *m.current, nil
	}
	if m.current != nil {
		m.logger.Info("token expired or near expiry, re-authenticating",
			zap.Time("expires_at", m.current.ExpiresAt))
	}
	return m.Login(ctx)
}

// Adopt validates a raw token string, makes it the held token and
// commits it to shared state (a controlled overwrite: token rotation
// is the one sanctioned replacement of a state entry).
func (m *Manager) Adopt(raw string) (domain.AuthToken, error) {
	tok, err := m.ValidateStructure(raw)
	if err != nil {
		return domain.AuthToken{}, err
	}
	m.current = &tok
	m.client.SetBearer(raw)
	m.store.Overwrite(state.KeyToken, raw)
	return tok, nil
}

// ValidateStructure asserts the token has exactly three dot-separated
// segments, the expected signing algorithm and a future expiry.
// Signature verification is out of scope: the harness holds no
// signing secret for the remote service.
func (m *Manager) ValidateStructure(raw string) (domain.AuthToken, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return domain.AuthToken{}, &domain.AuthError{
			Kind:   domain.MalformedToken,
			Detail: err.Error(),
		}
	}

	alg, _ := parsed.Header["alg"].(string)
	if alg != expectedAlgorithm {
		return domain.AuthToken{}, &domain.AuthError{
			Kind:   domain.WrongAlgorithm,
			Detail: fmt.Sprintf("expected %s, got %q", expectedAlgorithm, alg),
		}
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return domain.AuthToken{}, &domain.AuthError{
			Kind:   domain.MalformedToken,
			Detail: "payload has no usable exp claim",
		}
	}
	if !exp.Time.After(time.Now().UTC()) {
		return domain.AuthToken{}, &domain.AuthError{
			Kind:   domain.TokenExpired,
			Detail: fmt.Sprintf("token expired at %s", exp.Time.UTC().Format(time.RFC3339)),
		}
	}

	return domain.AuthToken{
		Raw:       raw,
		Algorithm: alg,
		ExpiresAt: exp.Time.UTC(),
	}, nil
}

// ResetOutcome carries everything the reset checks inspect.
type ResetOutcome struct {
	Response *ensek.Response
	Auth     ensek.AuthResponse
}

// ResetRequest performs the authorized reset call and decodes its
// body without judging it, so individual checks can assert the status
// and message separately.
func (m *Manager) ResetRequest(ctx context.Context) (*ResetOutcome, error) {
	tok, err := m.EnsureValidToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Reset(ctx, m.username, m.password, tok.Raw)
	if err != nil {
		return nil, err
	}
	out := &ResetOutcome{Response: resp}
	// A non-JSON error body is tolerated here; the status check reports it.
	_ = json.Unmarshal(resp.Body, &out.Auth)
	return out, nil
}

// Reset resets the remote test data and adopts the rotated token.
// It fails with an AuthError unless the service reports success.
func (m *Manager) Reset(ctx context.Context) (domain.AuthToken, error) {
	out, err := m.ResetRequest(ctx)
	if err != nil {
		return domain.AuthToken{}, err
	}
	if out.Response.StatusCode != http.StatusOK {
		return domain.AuthToken{}, &domain.AuthError{
			Kind:   domain.ResetFailed,
			Detail: fmt.Sprintf("reset returned status %d", out.Response.StatusCode),
		}
	}
	if out.Auth.Message != resetSuccessMessage {
		return domain.AuthToken{}, &domain.AuthError{
			Kind:   domain.ResetFailed,
			Detail: fmt.Sprintf("expected message %q, got %q", resetSuccessMessage, out.Auth.Message),
		}
	}
	if out.Auth.AccessToken != "" {
		return m.Adopt(out.Auth.AccessToken)
	}
	return m.EnsureValidToken(ctx)
}

// ExtractAccessToken pulls the access token out of a login or reset
// response body.
func ExtractAccessToken(resp *ensek.Response) (string, error) {
	if len(resp.Body) == 0 {
		return "", &domain.AuthError{Kind: domain.LoginFailed, Detail: "empty response body"}
	}
	var auth ensek.AuthResponse
	if err := json.Unmarshal(resp.Body, &auth); err != nil {
		return "", &domain.AuthError{Kind: domain.LoginFailed, Detail: "undecodable response body: " + err.Error()}
	}
	if auth.AccessToken == "" {
		return "", &domain.AuthError{Kind: domain.LoginFailed, Detail: "response lacks access_token"}
	}
	return auth.AccessToken, nil
}
