package patients

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

// Handler manages patient endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	engine   *authz.Engine
	gate     authz.Gate
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, engine *authz.Engine, gate authz.Gate) *Handler {
	return &Handler{logger: logger, service: service, engine: engine, gate: gate, validate: validator.New()}
}

// MountRoutes registers patient routes. The list endpoint authorizes
// inside the handler because its filter is the resource scope itself;
// detail routes go through the per-resource gate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAll(authz.PermPatientRegister))
		r.Post("/", h.register)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireResource(authz.ResourcePatient, authz.PermPatientView, "id"))
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireResource(authz.ResourcePatient, authz.PermPatientEdit, "id"))
		r.Put("/{id}", h.updateContact)
	})
}

type registerRequest struct {
	FirstName    string `json:"first_name" validate:"required"`
	LastName     string `json:"last_name" validate:"required"`
	DateOfBirth  string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`
}

type updateRequest struct {
	FirstName    string `json:"first_name" validate:"required"`
	LastName     string `json:"last_name" validate:"required"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`
}

type patientResponse struct {
	ID           int64  `json:"id"`
	MRN          string `json:"mrn"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	DateOfBirth  string `json:"date_of_birth"`
	ContactEmail string `json:"contact_email,omitempty"`
	IsActive     bool   `json:"is_active"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	principalID, ok := currentPrincipalID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	// Minimum-necessary: the scope limits the query, never the response.
	scope := h.engine.ListAccessibleResourceIDs(r.Context(), principalID, authz.ResourcePatient, authz.PermPatientView)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	list, paging, err := h.service.List(r.Context(), scope, page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]patientResponse, len(list))
	for i := range list {
		out[i] = toResponse(&list[i])
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"patients": out,
		"paging": map[string]any{
			"page":        paging.Page,
			"per_page":    paging.PerPage,
			"total":       paging.Total,
			"total_pages": paging.TotalPages,
		},
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date_of_birth")
		return
	}
	actor, _ := currentPrincipalID(r)
	patient, err := h.service.Register(r.Context(), actor, RegisterRequest{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DateOfBirth:  dob,
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(patient))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid patient id")
		return
	}
	actor, _ := currentPrincipalID(r)
	patient, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(patient))
}

func (h *Handler) updateContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid patient id")
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := currentPrincipalID(r)
	patient, err := h.service.UpdateContact(r.Context(), actor, id, req.FirstName, req.LastName, req.ContactEmail)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(patient))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, shared.ErrConflict):
		httpx.RespondError(w, httpx.ErrDuplicate)
	default:
		h.logger.Error("patients handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toResponse(p *Patient) patientResponse {
	return patientResponse{
		ID:           p.ID,
		MRN:          p.MRN,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		DateOfBirth:  p.DateOfBirth.Format("2006-01-02"),
		ContactEmail: p.ContactEmail,
		IsActive:     p.IsActive,
	}
}

func currentPrincipalID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(sess.User()), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
