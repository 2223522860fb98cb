package rbac

import (
	"net/http"

	"github.com/platinummonkey/flowguard/pkg/httputil"
	"github.com/platinummonkey/flowguard/pkg/middleware"
)

// RequirePermission allows the request when the principal holds any of perms.
// Organization admins and API-key principals are not checked.
func RequirePermission(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := middleware.GetPrincipal(r)
			if principal == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			if principal.IsAPIKeyValidated || principal.HasPermission(perms...) {
				next.ServeHTTP(w, r)
				return
			}

			httputil.WriteForbidden(w, "Insufficient permissions")
		})
	}
}

// RequireOrganizationAdmin allows only the organization admin
func RequireOrganizationAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := middleware.GetPrincipal(r)
		if principal == nil {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}
		if !principal.IsOrganizationAdmin {
			httputil.WriteForbidden(w, "Organization admin required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
