// Package auth verifies Supabase access tokens and carries the caller's
// identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
)

// DefaultAudience is the audience Supabase puts on user tokens.
const DefaultAudience = "authenticated"

const (
	leeway      = 30 * time.Second
	adminRole   = "admin"
	identityKey = "auth.identity"
)

var (
	// ErrMissingToken is returned when no bearer token was sent.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims are the Supabase access token claims talkd reads.
type Claims struct {
	jwt.RegisteredClaims
	Email       string         `json:"email,omitempty"`
	Role        string         `json:"role,omitempty"`
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
}

// Identity is the verified caller. The zero value is anonymous.
type Identity struct {
	UserID string
	Email  string
	Admin  bool
	// Token is the raw bearer token, forwarded to the backend.
	Token string
}

// Anonymous reports whether no token was presented.
func (i Identity) Anonymous() bool { return i.UserID == "" }

// Config configures a Verifier.
type Config struct {
	Secret         string
	Audience       string
	AllowAnonymous bool
	AdminUsers     []string
}

// Verifier checks HS256 tokens signed with the project JWT secret.
type Verifier struct {
	secret         []byte
	audience       string
	allowAnonymous bool
	admins         []string
	now            func() time.Time
}

// NewVerifier validates cfg. A Verifier without a secret only admits
// anonymous callers.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Secret == "" && !cfg.AllowAnonymous {
		return nil, errors.New("jwt secret is required when anonymous access is disabled")
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	return &Verifier{
		secret:         []byte(cfg.Secret),
		audience:       cfg.Audience,
		allowAnonymous: cfg.AllowAnonymous,
		admins:         slices.Clone(cfg.AdminUsers),
		now:            time.Now,
	}, nil
}

// Verify parses and validates a raw token.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: token verification is not configured", ErrInvalidToken)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	id := Identity{UserID: claims.Subject, Email: claims.Email, Token: raw}
	role, _ := claims.AppMetadata["role"].(string)
	id.Admin = role == adminRole || slices.Contains(v.admins, claims.Subject)
	return id, nil
}

// Middleware resolves the caller on every request. A missing token is
// anonymous when allowed; a bad token is always rejected.
func (v *Verifier) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := bearer(c.Request().Header.Get(echo.HeaderAuthorization))
			var id Identity
			switch {
			case errors.Is(err, ErrMissingToken):
				if !v.allowAnonymous {
					return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
				}
			case err != nil:
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			default:
				id, err = v.Verify(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
				}
			}

			c.Set(identityKey, id)
			ctx := WithIdentity(c.Request().Context(), id)
			if id.UserID != "" {
				ctx = logging.WithUserID(ctx, id.UserID)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireUser rejects anonymous callers.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if FromEcho(c).Anonymous() {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := FromEcho(c)
			if id.Anonymous() {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !id.Admin {
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			}
			return next(c)
		}
	}
}

// FromEcho returns the identity Middleware stored on c.
func FromEcho(c echo.Context) Identity {
	id, _ := c.Get(identityKey).(Identity)
	return id
}

type identityCtxKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// FromContext returns the identity on ctx, or the anonymous identity.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityCtxKey{}).(Identity)
	return id
}

func bearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("auth: authorization header must be a bearer token")
	}
	return strings.TrimSpace(token), nil
}
