// Package middleware carries per-request metadata through the context and
// provides the HTTP middleware that populates it.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
)

type contextKey struct{ name string }

var originKey = contextKey{"origin"}

// WithOrigin returns a context with the request origin set. The verification
// engine reads it via OriginFrom when recording token provenance.
func WithOrigin(ctx context.Context, o domain.Origin) context.Context {
	return context.WithValue(ctx, originKey, o)
}

// OriginFrom returns the request origin from context and true if set.
func OriginFrom(ctx context.Context) (domain.Origin, bool) {
	o, ok := ctx.Value(originKey).(domain.Origin)
	return o, ok
}

// Origin records the remote address, port, and host of each request in the
// context. Best effort: an unparsable remote address yields an empty origin.
func Origin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o := domain.Origin{Host: r.Host}
		if ip, portStr, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			o.IP = ip
			if port, err := strconv.Atoi(portStr); err == nil {
				o.Port = port
			}
		} else {
			o.IP = r.RemoteAddr
		}
		next.ServeHTTP(w, r.WithContext(WithOrigin(r.Context(), o)))
	})
}
