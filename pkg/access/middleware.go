package access

import (
	"context"
	"net/http"

	"github.com/brightpath/pdcore/pkg/httputil"
	"github.com/brightpath/pdcore/pkg/observability"
)

// RoleHeader carries the authenticated caller's role, set by the upstream
// auth gateway
const RoleHeader = "X-User-Role"

// RoleFromHeader lifts the caller's role off the request into the context.
// Requests without a recognizable role are rejected before any handler runs.
func RoleFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := Role(r.Header.Get(RoleHeader))
		if !ValidRole(role) {
			httputil.WriteForbidden(w, "missing or unrecognized role")
			return
		}
		ctx := context.WithValue(r.Context(), observability.RoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RoleFromContext returns the role stashed by RoleFromHeader
func RoleFromContext(ctx context.Context) (Role, bool) {
	role, ok := ctx.Value(observability.RoleKey).(Role)
	return role, ok
}

// RequireModule gates a route on the access matrix: the caller's role must
// have moduleID enabled. Denials are fail-closed; a missing matrix or an
// unreachable store denies rather than letting traffic through.
func RequireModule(service *Service, moduleID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromContext(r.Context())
			if !ok {
				httputil.WriteForbidden(w, "missing or unrecognized role")
				return
			}

			cfg, err := service.Matrix(r.Context())
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).
					WithField("module_id", moduleID).
					Warn("module gate denied: matrix unavailable")
				httputil.WriteForbidden(w, "access denied")
				return
			}

			if !IsModuleEnabled(cfg, moduleID, role) {
				httputil.WriteForbidden(w, "access denied")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
