package authz

import (
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// Gate integrates the engine into the HTTP pipeline. Every denial is
// enforced explicitly with a generic 403 — the response never reveals
// which rule failed; full detail lives in the audit trail and the
// engine's own error logs.
type Gate struct {
	Engine *Engine
	Logger *slog.Logger
}

// RequireAny admits the request when the principal holds at least one of
// the permissions.
func (g Gate) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principalID, ok := g.currentPrincipalID(r)
			if !ok {
				g.forbid(w, r, 0, perms, "no authenticated principal")
				return
			}
			for _, perm := range perms {
				if g.Engine.HasPermission(r.Context(), principalID, perm) {
					next.ServeHTTP(w, r)
					return
				}
			}
			g.forbid(w, r, principalID, perms, "denied")
		})
	}
}

// RequireAll admits the request only when the principal holds every
// permission.
func (g Gate) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principalID, ok := g.currentPrincipalID(r)
			if !ok {
				g.forbid(w, r, 0, perms, "no authenticated principal")
				return
			}
			for _, perm := range perms {
				if !g.Engine.HasPermission(r.Context(), principalID, perm) {
					g.forbid(w, r, principalID, perms, "denied")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireResource admits the request only when the principal may perform
// perm on the specific resource instance named by the URL parameter.
func (g Gate) RequireResource(resourceType ResourceType, perm Permission, urlParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := g.currentPrincipalID(r)
			if !ok {
				g.forbid(w, r, 0, []Permission{perm}, "no authenticated principal")
				return
			}
			resourceID, err := strconv.ParseInt(chi.URLParam(r, urlParam), 10, 64)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			if g.Engine.HasResourceAccess(r.Context(), principalID, resourceType, resourceID, perm) {
				next.ServeHTTP(w, r)
				return
			}
			g.forbid(w, r, principalID, []Permission{perm}, "denied")
		})
	}
}

func (g Gate) currentPrincipalID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Error("authz gate parse principal id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}

// forbid fails the request with a generic 403 and a structured denial
// record. Engine-internal errors have already been logged by the engine
// under their own category before the verdict reached the gate.
func (g Gate) forbid(w http.ResponseWriter, r *http.Request, principalID int64, perms []Permission, reason string) {
	if g.Logger != nil {
		names := make([]string, len(perms))
		for i, p := range perms {
			names[i] = string(p)
		}
		g.Logger.Warn("authz gate denied",
			slog.Int64("principal_id", principalID),
			slog.String("path", r.URL.Path),
			slog.String("permissions", strings.Join(names, ",")),
			slog.String("reason", reason))
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}
