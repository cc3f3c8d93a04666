package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// User: аутентифицированный пользователь из токена
type User struct {
	ID          int
	IsSuperuser bool
}

// Claims: полезная нагрузка токена доступа: sub содержит id пользователя
type Claims struct {
	IsSuperuser bool `json:"is_superuser"`
	jwt.RegisteredClaims
}

type userCtxKey struct{}

// UserFromContext возвращает пользователя, положенного в контекст Authenticator
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(User)
	return u, ok
}

// Authenticator проверяет HS256-токены из заголовка Authorization
type Authenticator struct {
	secret []byte
}

// NewAuthenticator создаёт Authenticator с общим секретом
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Parse проверяет подпись и срок действия токена и извлекает пользователя
func (a *Authenticator) Parse(token string) (User, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return User{}, fmt.Errorf("invalid token: %w", err)
	}
	id, err := strconv.Atoi(claims.Subject)
	if err != nil || id <= 0 {
		return User{}, errors.New("invalid token: subject is not a user id")
	}
	return User{ID: id, IsSuperuser: claims.IsSuperuser}, nil
}

// RequireUser пропускает запрос только с действительным токеном
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(w, http.StatusUnauthorized, ErrorResponse{errCodeUnauthorized, "missing bearer token", map[string]interface{}{}})
			return
		}
		user, err := a.Parse(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, ErrorResponse{errCodeUnauthorized, "invalid token", map[string]interface{}{}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userCtxKey{}, user)))
	})
}

// RequireSuperuser дополнительно требует флаг is_superuser
func (a *Authenticator) RequireSuperuser(next http.Handler) http.Handler {
	return a.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, _ := UserFromContext(r.Context()); !u.IsSuperuser {
			writeError(w, http.StatusForbidden, ErrorResponse{errCodeForbidden, "superuser access required", map[string]interface{}{}})
			return
		}
		next.ServeHTTP(w, r)
	}))
}
