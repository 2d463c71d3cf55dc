package grants

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/platform/httpx"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// Handler manages grant administration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	gate     authz.Gate
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate authz.Gate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, validate: validator.New()}
}

// MountRoutes registers grant administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(authz.PermGrantsView))
		r.Get("/principal/{principalID}", h.listForPrincipal)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAll(authz.PermGrantsAssign))
		r.Post("/", h.create)
		r.Post("/{id}/revoke", h.revoke)
	})
}

type createRequest struct {
	PrincipalID   int64      `json:"principal_id" validate:"required,gt=0"`
	ResourceType  string     `json:"resource_type" validate:"required"`
	ResourceID    int64      `json:"resource_id" validate:"required,gt=0"`
	Permission    string     `json:"permission" validate:"required"`
	EffectiveFrom *time.Time `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to"`
	Reason        string     `json:"reason" validate:"required"`
}

type grantResponse struct {
	ID            int64      `json:"id"`
	PrincipalID   int64      `json:"principal_id"`
	ResourceType  string     `json:"resource_type"`
	ResourceID    int64      `json:"resource_id"`
	Permission    string     `json:"permission"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Reason        string     `json:"reason"`
	GrantedBy     int64      `json:"granted_by"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	Active        bool       `json:"active"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	create := CreateRequest{
		PrincipalID:  req.PrincipalID,
		ResourceType: authz.ResourceType(req.ResourceType),
		ResourceID:   req.ResourceID,
		Permission:   authz.Permission(req.Permission),
		EffectiveTo:  req.EffectiveTo,
		Reason:       strings.TrimSpace(req.Reason),
		GrantedBy:    actorID(r),
	}
	if req.EffectiveFrom != nil {
		create.EffectiveFrom = *req.EffectiveFrom
	}
	grant, err := h.service.Create(r.Context(), create)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(grant, time.Now()))
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid grant id")
		return
	}
	if err := h.service.Revoke(r.Context(), actorID(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listForPrincipal(w http.ResponseWriter, r *http.Request) {
	principalID, err := strconv.ParseInt(chi.URLParam(r, "principalID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid principal id")
		return
	}
	list, err := h.service.ListForPrincipal(r.Context(), principalID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	now := time.Now()
	out := make([]grantResponse, len(list))
	for i := range list {
		out[i] = toResponse(&list[i], now)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": out})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrInvalidWindow), errors.Is(err, ErrAlreadyClosed):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("grants handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toResponse(g *authz.ResourceGrant, now time.Time) grantResponse {
	return grantResponse{
		ID:            g.ID,
		PrincipalID:   g.PrincipalID,
		ResourceType:  string(g.ResourceType),
		ResourceID:    g.ResourceID,
		Permission:    string(g.Permission),
		EffectiveFrom: g.EffectiveFrom,
		EffectiveTo:   g.EffectiveTo,
		Reason:        g.Reason,
		GrantedBy:     g.GrantedBy,
		RevokedAt:     g.RevokedAt,
		Active:        g.ActiveAt(now),
	}
}

func actorID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(sess.User()), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
