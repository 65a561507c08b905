package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"enharness/internal/domain"
	"enharness/internal/ensek"
	"enharness/internal/state"
	"enharness/internal/state/memory"
)

type fakeClient struct {
	loginCalls int
	loginResp  *ensek.Response
	loginErr   error
	resetResp  *ensek.Response
	resetErr   error
	bearer     string
}

func (f *fakeClient) Login(ctx context.Context, username, password string) (*ensek.Response, error) {
	f.loginCalls++
	return f.loginResp, f.loginErr
}

func (f *fakeClient) Reset(ctx context.Context, username, password, bearer string) (*ensek.Response, error) {
	return f.resetResp, f.resetErr
}

func (f *fakeClient) SetBearer(raw string) { f.bearer = raw }

func signedToken(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func validToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	return signedToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "test",
		"exp": time.Now().Add(ttl).Unix(),
		"iat": time.Now().Unix(),
	})
}

func newManager(client Client, store state.Store) *Manager {
	return NewManager(client, store, "test", "testing", 30*time.Second, zap.NewNop())
}

func TestValidateStructureAcceptsWellFormedToken(t *testing.T) {
	m := newManager(&fakeClient{}, memory.NewStore())

	raw := validToken(t, time.Hour)
	tok, err := m.ValidateStructure(raw)
	require.NoError(t, err)
	require.Equal(t, "HS256", tok.Algorithm)
	require.Equal(t, raw, tok.Raw)
	require.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)
}

func TestValidateStructureRejectsWrongAlgorithm(t *testing.T) {
	m := newManager(&fakeClient{}, memory.NewStore())

	raw := signedToken(t, jwt.SigningMethodHS384, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err := m.ValidateStructure(raw)

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, domain.WrongAlgorithm, authErr.Kind)
}

func TestValidateStructureRejectsExpiredToken(t *testing.T) {
	m := newManager(&fakeClient{}, memory.NewStore())

	raw := signedToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	_, err := m.ValidateStructure(raw)

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, domain.TokenExpired, authErr.Kind)
}

func TestValidateStructureRejectsMissingExpiry(t *testing.T) {
	m := newManager(&fakeClient{}, memory.NewStore())

	raw := signedToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "test"})
	_, err := m.ValidateStructure(raw)

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, domain.MalformedToken, authErr.Kind)
}

func TestValidateStructureRejectsTwoSegments(t *testing.T) {
	m := newManager(&fakeClient{}, memory.NewStore())

	_, err := m.ValidateStructure("only.twosegments")

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, domain.MalformedToken, authErr.Kind)
}

func TestLoginAdoptsAndCommitsToken(t *testing.T) {
	raw := validToken(t, time.Hour)
	client := &fakeClient{
		loginResp: jsonResponse(http.StatusOK, fmt.Sprintf(`{"access_token":%q}`, raw)),
	}
	store := memory.NewStore()
	m := newManager(client, store)

	tok, err := m.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, raw, tok.Raw)
	require.Equal(t, raw, client.bearer)

	stored, err := store.Get(state.KeyToken)
	require.NoError(t, err)
	require.Equal(t, raw, stored)
}

func TestLoginFailsOnRejectedCredentials(t *testing.T) {
	client := &fakeClient{
		loginResp: jsonResponse(http.StatusUnauthorized, `{"error":"invalid credentials"}`),
	}
	m := newManager(client, memory.NewStore())

	_, err := m.Login(context.Background())

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, domain.LoginFailed, authErr.Kind)
}

func TestEnsureValidTokenReusesHeldToken(t *testing.T) {
	raw := validToken(t, time.Hour)
	client := &fakeClient{
		loginResp: jsonResponse(http.StatusOK, fmt.Sprintf(`{"access_token":%q}`, raw)),
	}
	m := newManager(client, memory.NewStore())

	first, err := m.EnsureValidToken(context.Background())
	require.NoError(t, err)
	second, err := m.EnsureValidToken(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, client.loginCalls)
}

func TestEnsureValidTokenRefreshesNearExpiry(t *testing.T) {
	raw := validToken(t, time.Hour)
	client := &fakeClient{
		loginResp: jsonResponse(http.StatusOK, fmt.Sprintf(`{"access_token":%q}`, raw)),
	}
	m := newManager(client, memory.NewStore())

	_, err := m.Adopt(validToken(t, 5*time.Second))
	require.NoError(t, err)

	_, err = m.EnsureValidToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, client.loginCalls)
}

func TestResetAdoptsRotatedToken(t *testing.T) {
	held := validToken(t, time.Hour)
	rotated := validToken(t, 2*time.Hour)
	client := &fakeClient{
		resetResp: jsonResponse(http.StatusOK, fmt.Sprintf(`{"message":"Success","access_token":%q}`, rotated)),
	}
	store := memory.NewStore()
	m := newManager(client, store)
	_, err := m.Adopt(held)
	require.NoError(t, err)

	tok, err := m.Reset(context.Background())
	require.NoError(t, err)
	require.Equal(t, rotated, tok.Raw)

	stored, err := store.Get(state.KeyToken)
	require.NoError(t, err)
	require.Equal(t, rotated, stored)
}

func TestResetFailsOnUnexpectedMessage(t *testing.T) {
	client := &fakeClient{
		resetResp: jsonResponse(http.StatusOK, `{"message":"maintenance"}`),
	}
	m := newManager(client, memory.NewStore())
	_, err := m.Adopt(validToken(t, time.Hour))
	require.NoError(t, err)

	_, err = m.Reset(context.Background())

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, domain.ResetFailed, authErr.Kind)
}

func TestResetPropagatesTransportError(t *testing.T) {
	wrapped := &domain.TransportError{Op: "POST /ENSEK/reset", Err: errors.New("connection refused")}
	client := &fakeClient{resetErr: wrapped}
	m := newManager(client, memory.NewStore())
	_, err := m.Adopt(validToken(t, time.Hour))
	require.NoError(t, err)

	_, err = m.Reset(context.Background())

	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestExtractAccessTokenRejectsEmptyBody(t *testing.T) {
	_, err := ExtractAccessToken(jsonResponse(http.StatusOK, ""))

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, domain.LoginFailed, authErr.Kind)
}

func jsonResponse(status int, body string) *ensek.Response {
	return &ensek.Response{
		StatusCode:  status,
		Body:        []byte(body),
		ContentType: "application/json",
	}
}
