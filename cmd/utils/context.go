package utils

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const UserIDKey contextKey = "userID"

// Cookie names used for the browser session.
const (
	SessionCookie = "session_token"
	RefreshCookie = "refresh_token"
)

// WithUserID stores the authenticated user on the context.
func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserIDFromContext(r *http.Request) (uint, error) {
	userID, ok := r.Context().Value(UserIDKey).(uint)
	if !ok || userID == 0 {
		return 0, errors.New("user ID not found in context")
	}
	return userID, nil
}

// Authenticator validates access tokens taken from the session cookie or
// from a Bearer Authorization header.
type Authenticator struct {
	tokens *TokenIssuer
}

func NewAuthenticator(tokens *TokenIssuer) *Authenticator {
	return &Authenticator{tokens: tokens}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := tokenFromRequest(r)
		if tokenString == "" {
			RespondWithError(w, r, ErrUnauthorized)
			return
		}

		userID, err := a.tokens.ParseAccessToken(tokenString)
		if err != nil {
			RespondWithError(w, r, ErrUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
