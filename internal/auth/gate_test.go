package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret  = "jwt-secret"
	testCronSecret = "cron-secret"
)

func signSession(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

type fakeAdmins struct {
	ids map[string]bool
	err error
}

func (f *fakeAdmins) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.ids[userID], nil
}

func newTestGate(admins AdminLookup) *Gate {
	return NewGate(Config{
		CronSecret:  testCronSecret,
		JWTSecret:   testJWTSecret,
		AdminEmails: []string{" Ops@Example.com "},
	}, admins, zap.NewNop())
}

func request() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/notifications/jobs/dispatch", nil)
}

func TestAuthorize_SecretInBearerHeader(t *testing.T) {
	r := request()
	r.Header.Set("Authorization", "Bearer "+testCronSecret)

	p, err := newTestGate(nil).Authorize(r)
	require.NoError(t, err)
	assert.Equal(t, KindSecret, p.Kind)
}

func TestAuthorize_SecretInCronHeader(t *testing.T) {
	r := request()
	r.Header.Set("X-Cron-Secret", testCronSecret)

	p, err := newTestGate(nil).Authorize(r)
	require.NoError(t, err)
	assert.Equal(t, KindSecret, p.Kind)
}

func TestAuthorize_WrongSecretWithoutSession(t *testing.T) {
	r := request()
	r.Header.Set("Authorization", "Bearer nope")
	r.Header.Set("X-Cron-Secret", "also-nope")

	_, err := newTestGate(nil).Authorize(r)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}

func TestAuthorize_NoCredentials(t *testing.T) {
	_, err := newTestGate(nil).Authorize(request())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorize_HashedSecret(t *testing.T) {
	hash, err := HashSecret("hashed-secret")
	require.NoError(t, err)
	gate := NewGate(Config{CronSecretHash: hash}, nil, zap.NewNop())

	r := request()
	r.Header.Set("X-Cron-Secret", "hashed-secret")
	_, err = gate.Authorize(r)
	require.NoError(t, err)

	r = request()
	r.Header.Set("X-Cron-Secret", "wrong")
	_, err = gate.Authorize(r)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorize_AdminSessionCookie(t *testing.T) {
	r := request()
	r.AddCookie(&http.Cookie{Name: "session", Value: signSession(t, jwt.MapClaims{"sub": "user-1"}, testJWTSecret)})

	p, err := newTestGate(&fakeAdmins{ids: map[string]bool{"user-1": true}}).Authorize(r)
	require.NoError(t, err)
	assert.Equal(t, KindAdmin, p.Kind)
	assert.Equal(t, "user-1", p.UserID)
}

func TestAuthorize_AdminByEmailIsCaseInsensitive(t *testing.T) {
	r := request()
	r.Header.Set("Authorization", "Bearer "+signSession(t, jwt.MapClaims{"sub": "user-2", "email": "OPS@example.COM"}, testJWTSecret))

	p, err := newTestGate(&fakeAdmins{}).Authorize(r)
	require.NoError(t, err)
	assert.Equal(t, "OPS@example.COM", p.Email)
}

func TestAuthorize_NonAdminSessionIsForbidden(t *testing.T) {
	r := request()
	r.AddCookie(&http.Cookie{Name: "session", Value: signSession(t, jwt.MapClaims{"sub": "user-3", "email": "someone@x.com"}, testJWTSecret)})

	_, err := newTestGate(&fakeAdmins{}).Authorize(r)
	var forbidden *ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, "user-3", forbidden.UserID)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestAuthorize_AdminLookupFailure(t *testing.T) {
	r := request()
	r.AddCookie(&http.Cookie{Name: "session", Value: signSession(t, jwt.MapClaims{"user_id": float64(42)}, testJWTSecret)})

	_, err := newTestGate(&fakeAdmins{err: errors.New("db down")}).Authorize(r)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

func TestAuthorize_InvalidSessions(t *testing.T) {
	cases := map[string]string{
		"wrong key":   signSession(t, jwt.MapClaims{"sub": "user-1"}, "other-secret"),
		"expired":     signSession(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}, testJWTSecret),
		"no subject":  signSession(t, jwt.MapClaims{"email": "ops@example.com"}, testJWTSecret),
		"not a token": "garbage",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			r := request()
			r.AddCookie(&http.Cookie{Name: "session", Value: token})
			_, err := newTestGate(&fakeAdmins{ids: map[string]bool{"user-1": true}}).Authorize(r)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestAuthorize_NoneAlgorithmRejected(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	r := request()
	r.AddCookie(&http.Cookie{Name: "session", Value: token})
	_, err = newTestGate(&fakeAdmins{ids: map[string]bool{"user-1": true}}).Authorize(r)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExtractBearer(t *testing.T) {
	r := request()
	assert.Equal(t, "", ExtractBearer(r))
	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", ExtractBearer(r))
	r.Header.Set("Authorization", "bearer  tok ")
	assert.Equal(t, "tok", ExtractBearer(r))
}
