package adminauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config configures JWT validation for the mutating admin endpoints
// (unblock, reload). Read-only dashboard endpoints stay open.
type Config struct {
	Enabled  bool
	Secret   string
	Issuer   string
	Audience string
}

// Guard validates bearer tokens on admin requests.
type Guard struct {
	config Config
	method jwt.SigningMethod
}

// New creates a guard. An enabled guard without a secret is a
// misconfiguration and is rejected.
func New(config Config) (*Guard, error) {
	if config.Enabled && config.Secret == "" {
		return nil, errors.New("admin auth enabled but no secret configured")
	}
	return &Guard{config: config, method: jwt.SigningMethodHS256}, nil
}

// Validate checks the request's bearer token. With auth disabled every
// request passes, which is the expected dev-mode posture.
func (g *Guard) Validate(r *http.Request) (bool, string) {
	if !g.config.Enabled {
		return true, ""
	}

	tokenString := extractToken(r)
	if tokenString == "" {
		return false, "missing bearer token"
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != g.method {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(g.config.Secret), nil
	})
	if err != nil {
		return false, "invalid token: " + err.Error()
	}
	if !token.Valid {
		return false, "token validation failed"
	}
	if g.config.Issuer != "" && claims.Issuer != g.config.Issuer {
		return false, "invalid issuer"
	}
	if g.config.Audience != "" {
		found := false
		for _, aud := range claims.Audience {
			if aud == g.config.Audience {
				found = true
				break
			}
		}
		if !found {
			return false, "invalid audience"
		}
	}
	return true, ""
}

// Middleware rejects unauthenticated requests with a JSON 401.
func (g *Guard) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ok, reason := g.Validate(r); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":  "unauthorized",
				"reason": reason,
			})
			return
		}
		next(w, r)
	}
}

// IssueToken mints a short-lived admin token.
func (g *Guard) IssueToken(subject string, ttl time.Duration) (string, error) {
	if g.config.Secret == "" {
		return "", errors.New("no secret configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if g.config.Issuer != "" {
		claims.Issuer = g.config.Issuer
	}
	if g.config.Audience != "" {
		claims.Audience = []string{g.config.Audience}
	}
	return jwt.NewWithClaims(g.method, claims).SignedString([]byte(g.config.Secret))
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	parts := strings.Split(auth, " ")
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
