package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenAudience  = "relaycollab"
	scopeAdminRead = "admin:read"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// Principal is the caller a request or connection acts for.
type Principal struct {
	UserID string
	Scopes map[string]struct{}
}

func (p Principal) HasScope(scope string) bool {
	_, ok := p.Scopes[scope]
	return ok
}

// PrincipalResolver identifies the caller of r. room is empty for routes
// that are not scoped to a room. Failures are returned as *authError.
type PrincipalResolver interface {
	ResolvePrincipal(r *http.Request, room string) (Principal, error)
}

// JWTResolver accepts HS256 tokens with audience relaycollab. The user id is
// the sub claim; a room claim, when present, pins the token to one room.
type JWTResolver struct {
	Secret string
	Now    func() time.Time
}

func (j JWTResolver) ResolvePrincipal(r *http.Request, room string) (Principal, error) {
	raw, authErr := bearerToken(r)
	if authErr != nil {
		return Principal{}, authErr
	}
	now := j.Now
	if now == nil {
		now = time.Now
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte(j.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "token expired"}
		}
		return Principal{}, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid token"}
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid token claims"}
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return Principal{}, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing sub claim"}
	}
	if pinned, ok := claims["room"].(string); ok && pinned != "" && room != "" && pinned != room {
		return Principal{}, &authError{status: http.StatusForbidden, code: "forbidden", message: "room mismatch"}
	}
	return Principal{UserID: subject, Scopes: parseScopes(claims["scopes"])}, nil
}

// HeaderResolver trusts a user id set by a fronting proxy.
type HeaderResolver struct {
	UserHeader  string
	ScopeHeader string
}

func (h HeaderResolver) ResolvePrincipal(r *http.Request, _ string) (Principal, error) {
	userHeader := h.UserHeader
	if userHeader == "" {
		userHeader = "X-User-Id"
	}
	scopeHeader := h.ScopeHeader
	if scopeHeader == "" {
		scopeHeader = "X-User-Scopes"
	}
	user := strings.TrimSpace(r.Header.Get(userHeader))
	if user == "" {
		return Principal{}, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing " + userHeader + " header"}
	}
	return Principal{UserID: user, Scopes: parseScopes(r.Header.Get(scopeHeader))}, nil
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter that browser WebSocket clients must use.
func bearerToken(r *http.Request) (string, *authError) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid bearer token"}
		}
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), nil
	}
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return token, nil
	}
	return "", &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid bearer token"}
}

func parseScopes(v any) map[string]struct{} {
	out := map[string]struct{}{}
	switch typed := v.(type) {
	case []any:
		for _, item := range typed {
			if scope, ok := item.(string); ok && scope != "" {
				out[scope] = struct{}{}
			}
		}
	case []string:
		for _, scope := range typed {
			if scope != "" {
				out[scope] = struct{}{}
			}
		}
	case string:
		for _, scope := range strings.Fields(typed) {
			out[scope] = struct{}{}
		}
	}
	return out
}
