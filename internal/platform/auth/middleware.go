package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	BearerKey    contextKey = "bearer_token"
)

// Claims are the token claims issued by the records API. The upstream user
// record carries a single "rol"; "roles" is accepted as well.
type Claims struct {
	jwt.RegisteredClaims
	Role  string   `json:"rol,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// AllRoles merges the single role claim with the role list.
func (c *Claims) AllRoles() []string {
	roles := make([]string, 0, len(c.Roles)+1)
	if c.Role != "" {
		roles = append(roles, c.Role)
	}
	for _, r := range c.Roles {
		if r != "" && r != c.Role {
			roles = append(roles, r)
		}
	}
	return roles
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// SigningKey verifies HS256 tokens shared with the records API.
	SigningKey []byte
	// AllowUnverified reads claims without checking the signature. Only for
	// development, where the records API remains the one enforcing auth.
	AllowUnverified bool
}

// WithBearer returns a context carrying the caller's bearer token. Outbound
// requests read the token from here; nothing is stored process-wide.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, BearerKey, token)
}

// BearerFromContext returns the bearer token in ctx, or "".
func BearerFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(BearerKey).(string)
	return tok
}

// ExtractBearer parses an Authorization header value.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// ParseUnverifiedClaims decodes claims without verifying the signature. Used
// to read the role and expiry of a token the records API already issued.
func ParseUnverifiedClaims(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("decode token claims: %w", err)
	}
	return claims, nil
}

func (cfg JWTConfig) parse(tokenStr string) (*Claims, error) {
	if len(cfg.SigningKey) == 0 {
		if cfg.AllowUnverified {
			return ParseUnverifiedClaims(tokenStr)
		}
		return nil, fmt.Errorf("no signing key configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// JWTMiddleware requires a bearer token, validates it and stores the token,
// subject and roles on the request context. The raw token is kept so calls
// to the records API can forward the caller's own credentials.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := ExtractBearer(c.Request().Header.Get("Authorization"))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			claims, err := cfg.parse(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			ctx = WithBearer(ctx, tokenStr)
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, UserRolesKey, claims.AllRoles())
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
