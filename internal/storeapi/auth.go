package storeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var knownRoles = map[string]bool{
	"anon":          true,
	"authenticated": true,
	"service_role":  true,
}

var writeRoles = map[string]bool{
	"authenticated": true,
	"service_role":  true,
}

type apiKeyClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type roleKey struct{}

// RoleFromContext returns the role of the API key that authorized the request.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}

// Authenticator checks the API keys presented on the apikey and Authorization
// headers. Keys are HS256 tokens carrying a role claim.
type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(secret string, logger *slog.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// SignAPIKey mints a key for role. A zero ttl yields a key that never expires.
func SignAPIKey(secret, role string, ttl time.Duration) (string, error) {
	if !knownRoles[role] {
		return "", fmt.Errorf("unknown role %q", role)
	}
	claims := apiKeyClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "storegw",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verify validates token and returns its role.
func (a *Authenticator) Verify(token string) (string, error) {
	claims := &apiKeyClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !knownRoles[claims.Role] {
		return "", fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims.Role, nil
}

// Middleware rejects requests without a valid key. When both headers are
// present both must verify, and the bearer token decides the role.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("apikey")
		bearer, err := bearerToken(r.Header.Get("Authorization"))
		if err != nil {
			a.reject(w, r, err)
			return
		}
		if apiKey == "" && bearer == "" {
			a.reject(w, r, errors.New("no API key found in request"))
			return
		}

		var role string
		for _, token := range []string{apiKey, bearer} {
			if token == "" {
				continue
			}
			role, err = a.Verify(token)
			if err != nil {
				a.reject(w, r, err)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, role)))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Warn("rejected API key", "error", err, "path", r.URL.Path)
	writeStoreError(w, a.logger, http.StatusUnauthorized, "PGRST301", "invalid API key")
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("malformed Authorization header")
	}
	return token, nil
}
