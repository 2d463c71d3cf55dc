package authz

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-emr/meridian-emr/internal/platform/httpx"
)

// CatalogHandler exposes the role/permission catalog for administrative
// introspection. The catalog is compiled in; these endpoints are
// read-only.
type CatalogHandler struct {
	gate Gate
}

// NewCatalogHandler builds CatalogHandler instance.
func NewCatalogHandler(gate Gate) *CatalogHandler {
	return &CatalogHandler{gate: gate}
}

// MountRoutes registers catalog routes.
func (h *CatalogHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(PermUsersView, PermGrantsView))
		r.Get("/roles", h.roles)
		r.Get("/permissions", h.permissions)
	})
}

type roleResponse struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (h *CatalogHandler) roles(w http.ResponseWriter, r *http.Request) {
	roles := AllRoles()
	out := make([]roleResponse, len(roles))
	for i, role := range roles {
		perms := PermissionsForRole(role)
		names := make([]string, len(perms))
		for j, p := range perms {
			names[j] = string(p)
		}
		out[i] = roleResponse{Role: string(role), Permissions: names}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *CatalogHandler) permissions(w http.ResponseWriter, r *http.Request) {
	perms := AllPermissions()
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": names})
}
