package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey string

const (
	sessionIDKey ctxKey = "session_id"
	credKey      ctxKey = "credential"
)

const sessionCookie = "storefront_session"

// SessionMiddleware assigns each browser a session id cookie. The cookie is
// session-scoped: no Max-Age, gone when the browsing session ends.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sid string
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			sid = c.Value
		} else {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerMiddleware extracts the marketplace credential, if any. Guests simply
// have none; mutation endpoints answer those with a login prompt.
func BearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cred string
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			cred = strings.TrimPrefix(h, "Bearer ")
		}

		ctx := context.WithValue(r.Context(), credKey, cred)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getSessionID(ctx context.Context) string {
	if sid, ok := ctx.Value(sessionIDKey).(string); ok {
		return sid
	}
	return ""
}

func getCred(ctx context.Context) string {
	if cred, ok := ctx.Value(credKey).(string); ok {
		return cred
	}
	return ""
}
