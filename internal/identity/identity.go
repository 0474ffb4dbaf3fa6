// Package identity resolves caller identity for both request surfaces: the
// operator dashboard (bearer token verified against the external directory)
// and the visitor widget (contact session id header, validated downstream).
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/mrlongruoi/echo-desk/internal/apperr"
	"github.com/mrlongruoi/echo-desk/internal/orgdir"
)

// ContactSessionHeader carries the visitor's contact session id.
const ContactSessionHeader = "X-Contact-Session-ID"

type contextKey int

const (
	operatorKey contextKey = iota
	contactSessionKey
)

// OperatorFromContext extracts the resolved operator identity, if any.
func OperatorFromContext(ctx context.Context) *orgdir.Identity {
	if v, ok := ctx.Value(operatorKey).(*orgdir.Identity); ok {
		return v
	}
	return nil
}

// ContactSessionIDFromContext extracts the visitor's contact session id, if
// the request carried one. The id is unvalidated here; the conversation
// service checks existence and expiry on every operation.
func ContactSessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contactSessionKey).(string); ok {
		return v
	}
	return ""
}

// WithOperator returns a context carrying an operator identity. Exposed for
// handler tests.
func WithOperator(ctx context.Context, id *orgdir.Identity) context.Context {
	return context.WithValue(ctx, operatorKey, id)
}

// WithContactSessionID returns a context carrying a contact session id.
// Exposed for handler tests.
func WithContactSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contactSessionKey, sessionID)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// OperatorMiddleware authenticates dashboard requests. A missing or unknown
// token, or an identity without an organization claim, fails the request with
// a structured UNAUTHORIZED error. No retry, no fallback.
func OperatorMiddleware(resolver orgdir.Resolver, unauthorized func(w http.ResponseWriter, err *apperr.Error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w, apperr.Unauthorized("identity not found"))
				return
			}

			id, err := resolver.VerifyToken(r.Context(), token)
			if err != nil || id == nil {
				unauthorized(w, apperr.Unauthorized("identity not found"))
				return
			}
			if id.OrgID == "" {
				unauthorized(w, apperr.Unauthorized("organization not found"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), id)))
		})
	}
}

// VisitorMiddleware extracts the contact session id from widget requests. It
// deliberately does not hit the store: expiry must be enforced by every
// consuming operation, not once at the edge.
func VisitorMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := r.Header.Get(ContactSessionHeader)
			if sid == "" {
				sid = r.URL.Query().Get("contact_session_id")
			}
			if sid != "" {
				r = r.WithContext(WithContactSessionID(r.Context(), sid))
			}
			next.ServeHTTP(w, r)
		})
	}
}
