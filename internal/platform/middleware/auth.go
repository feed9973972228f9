package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const subjectKey contextKey = "subject"

// Claims are the bearer token claims the backend understands.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// AuthConfig configures BearerAuth.
type AuthConfig struct {
	// SigningKey validates HS256 tokens.
	SigningKey []byte
	Issuer     string
	// AllowQueryToken also accepts ?token=, which websocket clients use
	// because they cannot set headers.
	AllowQueryToken bool
}

// BearerAuth rejects requests without a valid HS256 token and stores the
// claims on the request context.
func BearerAuth(cfg AuthConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := extractToken(c, cfg.AllowQueryToken)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := context.WithValue(c.Request().Context(), subjectKey, claims)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func extractToken(c echo.Context, allowQuery bool) (string, error) {
	if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errors.New("invalid authorization format")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if allowQuery {
		if tok := c.QueryParam("token"); tok != "" {
			return tok, nil
		}
	}
	return "", errors.New("missing authorization header")
}

// ClaimsFromContext returns the claims stored by BearerAuth.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(subjectKey).(*Claims)
	return claims
}

// SubjectFromContext returns the token subject, or "" when unauthenticated.
func SubjectFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

// IssueToken signs an HS256 token for subject valid for ttl.
func IssueToken(key []byte, issuer, subject, email string, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", errors.New("signing key is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
