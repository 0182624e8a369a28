package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const visitorContextKey contextKey = "visitor"

// VisitorCookieName is the cookie carrying the anonymous visitor id.
const VisitorCookieName = "licensure_visitor"

// DurableVisitorMaxAge keeps the visitor cookie for a year.
const DurableVisitorMaxAge = 365 * 24 * 60 * 60

// SecureCookies marks cookies Secure. Set in production.
var SecureCookies = false

// Visitor returns middleware that identifies the visitor by cookie, minting
// a new id when the cookie is missing or malformed. A durable cookie is
// re-issued on every state-changing request.
// maxAge is the cookie lifetime in seconds; 0 makes it a browser-session cookie.
func Visitor(maxAge int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cookie, err := r.Cookie(VisitorCookieName); err == nil {
				if parsed, err := uuid.Parse(cookie.Value); err == nil {
					id = parsed.String()
				}
			}
			switch {
			case id == "":
				id = uuid.NewString()
				SetVisitorCookie(w, id, maxAge)
				slog.Debug("visitor_created", "visitor_id", id)
			case maxAge > 0 && writes(r):
				// Durable cookies expire maxAge after the last write, like their slots.
				SetVisitorCookie(w, id, maxAge)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithVisitor(r.Context(), id)))
		})
	}
}

// writes reports whether r may change the visitor's state.
func writes(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// VisitorFromContext returns the visitor id set by Visitor.
func VisitorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(visitorContextKey).(string)
	return id, ok && id != ""
}

// ContextWithVisitor returns a context carrying the visitor id.
// Intended for use in tests.
func ContextWithVisitor(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, visitorContextKey, id)
}

// SetVisitorCookie sets the visitor cookie on the response.
func SetVisitorCookie(w http.ResponseWriter, id string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookieName,
		Value:    id,
		HttpOnly: true,
		Secure:   SecureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   maxAge,
	})
}
