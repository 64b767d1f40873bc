package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"campusmarket/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the bearer token payload issued by the identity service.
type Claims struct {
	Role     string `json:"role"`
	CampusID string `json:"campus,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid or expired token")

type Authenticator struct {
	Secret []byte
}

func (a Authenticator) Parse(raw string) (models.Caller, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.Subject == "" {
		return models.Caller{}, errInvalidToken
	}
	// Subject and campus are stored in uuid columns.
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return models.Caller{}, errInvalidToken
	}
	if claims.CampusID != "" {
		if _, err := uuid.Parse(claims.CampusID); err != nil {
			return models.Caller{}, errInvalidToken
		}
	}
	role := models.Role(claims.Role)
	switch role {
	case models.RoleUser, models.RoleModerator, models.RoleAdmin:
	case "":
		role = models.RoleUser
	default:
		return models.Caller{}, errInvalidToken
	}
	return models.Caller{
		UserID:   claims.Subject,
		Role:     role,
		CampusID: claims.CampusID,
		Email:    claims.Email,
	}, nil
}

// Issue signs a token for caller. Used by tooling and tests; production
// tokens come from the identity service with the same secret.
func (a Authenticator) Issue(caller models.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:     string(caller.Role),
		CampusID: caller.CampusID,
		Email:    caller.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

type callerKey struct{}

func withCaller(ctx context.Context, c models.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func callerFrom(ctx context.Context) (models.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(models.Caller)
	return c, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Middleware rejects requests without a valid bearer token. allowQuery also
// accepts ?token= for websocket clients that cannot set headers.
func (a Authenticator) Middleware(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" && allowQuery {
				raw = r.URL.Query().Get("token")
			}
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			caller, err := a.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}
