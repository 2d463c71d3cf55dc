package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/platform/httpx"
)

// Handler serves the audit trail to compliance reviewers.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    authz.Gate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate authz.Gate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate}
}

// MountRoutes registers audit trail routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(authz.PermAuditView))
		r.Get("/", h.timeline)
		r.Get("/export", h.exportCSV)
	})
}

type timelineRowResponse struct {
	At       time.Time      `json:"at"`
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	rows := make([]timelineRowResponse, len(result.Rows))
	for i, row := range result.Rows {
		rows[i] = timelineRowResponse{
			At:       row.At,
			ActorID:  row.ActorID,
			Action:   row.Action,
			Entity:   row.Entity,
			EntityID: row.EntityID,
			Meta:     row.Meta,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": rows,
		"paging": map[string]any{
			"page":      result.Paging.Page,
			"page_size": result.Paging.PageSize,
			"has_next":  result.Paging.HasNext,
		},
	})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	data, err := h.service.ExportCSV(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-trail.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Entity: q.Get("entity"),
		Action: q.Get("action"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, &filterError{field: "from"}
		}
		filters.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, &filterError{field: "to"}
		}
		filters.To = t
	}
	if raw := q.Get("actor"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filters, &filterError{field: "actor"}
		}
		filters.Actor = id
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return filters, &filterError{field: "page"}
		}
		filters.Page = page
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return filters, &filterError{field: "page_size"}
		}
		filters.PageSize = size
	}
	return filters, nil
}

type filterError struct{ field string }

func (e *filterError) Error() string { return "invalid filter value: " + e.field }
