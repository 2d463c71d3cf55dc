package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-emr/meridian-emr/internal/platform/httpx"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

const stateSessionKey = "oidc_state"

// IdentityBroker is the slice of the OIDC flow the handler needs;
// *OIDC satisfies it and tests can stub it.
type IdentityBroker interface {
	AuthCodeURL(state string) string
	ExchangeAndVerify(ctx context.Context, code string) (Identity, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	broker         IdentityBroker
	sessionManager *shared.SessionManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance. broker may be nil when the
// deployment runs local-login only.
func NewHandler(logger *slog.Logger, service *Service, broker IdentityBroker, sessions *shared.SessionManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		broker:         broker,
		sessionManager: sessions,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.beginLogin)
	r.Get("/callback", h.completeLogin)
	r.Post("/local", h.localLogin)
	r.Post("/logout", h.logout)
}

type localLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// beginLogin starts the IdP authorization-code flow.
func (h *Handler) beginLogin(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Identity Provider Unavailable", "")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	state := uuid.NewString()
	sess.Set(stateSessionKey, state)
	http.Redirect(w, r, h.broker.AuthCodeURL(state), http.StatusFound)
}

// completeLogin finishes the code flow: state check, code exchange,
// identity resolution, session establishment.
func (h *Handler) completeLogin(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Identity Provider Unavailable", "")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.Get(stateSessionKey) == "" || sess.Get(stateSessionKey) != r.URL.Query().Get("state") {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Login State", "")
		return
	}
	sess.Delete(stateSessionKey)

	identity, err := h.broker.ExchangeAndVerify(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Error("oidc exchange", slog.Any("error", err))
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	account, err := h.service.ResolveIdentity(r.Context(), identity)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Warn("oidc identity refused", slog.String("subject", identity.Subject))
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
			return
		}
		h.logger.Error("oidc resolve identity", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.establishSession(w, r, sess, account)
}

// localLogin is the break-glass credential path for IdP outages.
func (h *Handler) localLogin(w http.ResponseWriter, r *http.Request) {
	var req localLoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	account, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	h.establishSession(w, r, sess, account)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && sess.ID != "" {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session record", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	httpx.NoContent(w)
}

func (h *Handler) establishSession(w http.ResponseWriter, r *http.Request, sess *shared.Session, account *Account) {
	sess.SetUser(strconv.FormatInt(account.ID, 10))
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, account.ID, expiresAt, clientIP(r), r.UserAgent()); err != nil {
		h.logger.Warn("register session record", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":    account.ID,
		"email":      account.Email,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
