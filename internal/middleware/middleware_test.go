package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"creditledger/internal/metrics"
	"creditledger/internal/model"
	"creditledger/internal/plan"
	"creditledger/internal/repository"
	"creditledger/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	w.Header().Set("X-UID", id.UID)
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func hmacToken(t *testing.T, secret, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   time.Now().Add(10 * time.Minute).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthMiddlewareSecret(t *testing.T) {
	v, err := NewSecretVerifier("secret", "", "")
	require.NoError(t, err)
	h := AuthMiddleware(v, zerolog.Nop())(okHandler)

	cases := map[string]struct {
		header string
		want   int
	}{
		"missing":   {"", http.StatusUnauthorized},
		"malformed": {"Token abc", http.StatusUnauthorized},
		"bad token": {"Bearer " + hmacToken(t, "other", "u1"), http.StatusUnauthorized},
		"valid":     {"Bearer " + hmacToken(t, "secret", "u1"), http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/me/credits", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := serve(h, req)
			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusOK {
				assert.Equal(t, "u1", rec.Header().Get("X-UID"))
			}
		})
	}
}

func publicKeyPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestSecretVerifierPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubPEM := publicKeyPEM(t, key)

	v, err := NewSecretVerifier(pubPEM, "", "")
	require.NoError(t, err)

	id, err := v.Verify(rsaToken(t, key, "k1", "", ""))
	require.NoError(t, err)
	assert.Equal(t, "user-123", id.UID)

	// The public key is not a secret; an HMAC token keyed with it must fail.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "victim-uid",
		"exp": time.Now().Add(10 * time.Minute).Unix(),
	}).SignedString([]byte(pubPEM))
	require.NoError(t, err)
	_, err = v.Verify(forged)
	assert.Error(t, err)

	h := AuthMiddleware(v, zerolog.Nop())(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/v1/me/credits", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

func TestSecretVerifierRejectsHMACSecretForRSAToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v, err := NewSecretVerifier("secret", "", "")
	require.NoError(t, err)
	_, err = v.Verify(rsaToken(t, key, "k1", "", ""))
	assert.Error(t, err)
}

func TestNewSecretVerifierRejectsBadKeys(t *testing.T) {
	_, err := NewSecretVerifier("", "", "")
	assert.Error(t, err)
	_, err = NewSecretVerifier("-----BEGIN PUBLIC KEY-----\nnot a key\n-----END PUBLIC KEY-----\n", "", "")
	assert.Error(t, err)
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) string {
	t.Helper()
	payload := map[string][]jwk{"keys": {{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func rsaToken(t *testing.T, key *rsa.PrivateKey, kid, issuer, audience string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": "user-123",
		"exp": now.Add(10 * time.Minute).Unix(),
		"iat": now.Unix(),
	})
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestAuthMiddlewareJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	issuer, audience := "https://issuer.example/", "https://api.example"

	v, err := NewJWKSVerifier(newJWKSServer(t, key, "test-key"), issuer, audience)
	require.NoError(t, err)
	h := AuthMiddleware(v, zerolog.Nop())(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+rsaToken(t, key, "test-key", issuer, audience))
	rec := serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-123", rec.Header().Get("X-UID"))

	badKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+rsaToken(t, badKey, "test-key", issuer, audience))
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+rsaToken(t, key, "test-key", issuer, "https://other.example"))
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

func TestNewJWKSVerifierRequiresURL(t *testing.T) {
	_, err := NewJWKSVerifier("", "", "")
	assert.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	token, ok := extractBearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	for _, h := range []string{"Bearer", "Bearer  ", "Token abc", ""} {
		_, ok := extractBearerToken(h)
		assert.False(t, ok, h)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	h := DevAuthMiddleware(zerolog.Nop())(okHandler)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "dev-user", rec.Header().Get("X-UID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "alice")
	rec = serve(h, req)
	assert.Equal(t, "alice", rec.Header().Get("X-UID"))
}

func newLedger() service.LedgerService {
	return service.NewLedgerService(repository.NewMemoryAccountRepo(), plan.DefaultCatalog(), nil, zerolog.Nop())
}

func withUser(uid string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/credits/consume", nil)
	return req.WithContext(WithIdentity(req.Context(), Identity{UID: uid}))
}

func TestRequireCreditsGatesHandler(t *testing.T) {
	ledger := newLedger()
	calls := 0
	h := RequireCredits(ledger, FixedCost(2), zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		snap, ok := CreditsFromContext(r.Context())
		require.True(t, ok)
		w.Header().Set("X-Remaining", strconv.Itoa(snap.CreditsRemaining))
		w.WriteHeader(http.StatusOK)
	}))

	rec := serve(h, withUser("u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-Remaining"))

	rec = serve(h, withUser("u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Remaining"))

	rec = serve(h, withUser("u1"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, 2, calls, "handler must not run when credits are short")
}

func TestRequireCreditsNeedsIdentity(t *testing.T) {
	h := RequireCredits(newLedger(), FixedCost(1), zerolog.Nop())(okHandler)
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireCreditsCostError(t *testing.T) {
	cost := func(*http.Request) (int, error) { return 0, errors.New("amount must be positive") }
	h := RequireCredits(newLedger(), cost, zerolog.Nop())(okHandler)
	rec := serve(h, withUser("u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type busyLedger struct{ service.LedgerService }

func (busyLedger) Consume(context.Context, string, int) (model.CreditsSnapshot, error) {
	return model.CreditsSnapshot{}, service.ErrTransientStoreConflict
}

func TestRequireCreditsTransientConflict(t *testing.T) {
	h := RequireCredits(busyLedger{newLedger()}, FixedCost(1), zerolog.Nop())(okHandler)
	rec := serve(h, withUser("u1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestLoggerMiddleware(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := LoggerMiddleware(zerolog.Nop(), m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = serve(h, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "418")))
}
