package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"creditledger/internal/util" // JWT helper

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Injected key type to avoid context collisions
type contextKey string

const (
	IdentityContextKey = contextKey("identity")
	CreditsContextKey  = contextKey("credits")
)

const defaultLeeway = 30 * time.Second

// Identity is the verified caller.
type Identity struct {
	UID   string
	Email string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(Identity)
	return id, ok && id.UID != ""
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(tokenString string) (Identity, error)
}

// SecretVerifier checks tokens signed with a shared secret or a PEM public key.
type SecretVerifier struct {
	keyMaterial string
	opts        []jwt.ParserOption
}

// NewSecretVerifier fixes the accepted algorithm family from keyMaterial up
// front, so a public key can never be replayed as an HMAC secret.
func NewSecretVerifier(keyMaterial, issuer, audience string) (*SecretVerifier, error) {
	if keyMaterial == "" {
		return nil, errors.New("jwt key must be set")
	}
	methods, err := util.KeyAlgorithms(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jwt key: %w", err)
	}
	opts := append(parserOptions(issuer, audience), jwt.WithValidMethods(methods))
	return &SecretVerifier{keyMaterial: keyMaterial, opts: opts}, nil
}

func (v *SecretVerifier) Verify(tokenString string) (Identity, error) {
	claims, err := util.ValidateJWT(tokenString, v.keyMaterial, v.opts...)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UID: claims.Subject, Email: claims.Email}, nil
}

// JWKSVerifier checks RSA-signed tokens against keys fetched from a JWKS endpoint.
type JWKSVerifier struct {
	keyfunc keyfunc.Keyfunc
	parser  *jwt.Parser
}

func NewJWKSVerifier(jwksURL, issuer, audience string) (*JWKSVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("jwks url must be set")
	}
	kf, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
	}
	opts := append(parserOptions(issuer, audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name, jwt.SigningMethodRS384.Name, jwt.SigningMethodRS512.Name}),
	)
	return &JWKSVerifier{keyfunc: kf, parser: jwt.NewParser(opts...)}, nil
}

func (v *JWKSVerifier) Verify(tokenString string) (Identity, error) {
	claims := &util.Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, v.keyfunc.Keyfunc)
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("token missing sub")
	}
	return Identity{UID: claims.Subject, Email: claims.Email}, nil
}

func parserOptions(issuer, audience string) []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithLeeway(defaultLeeway)}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return opts
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func AuthMiddleware(v Verifier, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug().Msg("Authorization header missing")
				http.Error(w, "Authorization header missing", http.StatusUnauthorized)
				return
			}
			tokenString, ok := extractBearerToken(authHeader)
			if !ok {
				logger.Debug().Msg("Invalid authorization header")
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}
			id, err := v.Verify(tokenString)
			if err != nil {
				logger.Warn().Err(err).Msg("Invalid token")
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// DevAuthMiddleware trusts the X-User-ID header, falling back to a fixed
// development user. Only wired when AUTH_DISABLED is set.
func DevAuthMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if uid == "" {
				uid = "dev-user"
			}
			id := Identity{UID: uid, Email: r.Header.Get("X-User-Email")}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
