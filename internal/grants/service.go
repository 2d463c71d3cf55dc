package grants

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// ErrInvalidWindow indicates effective_to not strictly after effective_from.
var ErrInvalidWindow = errors.New("grants: effective_to must be after effective_from")

// ErrAlreadyClosed indicates a revocation of a grant that is already
// revoked or whose window has already ended.
var ErrAlreadyClosed = errors.New("grants: grant window already closed")

// RepositoryPort defines data access methods for resource grants.
type RepositoryPort interface {
	Create(ctx context.Context, g authz.ResourceGrant) (*authz.ResourceGrant, error)
	Get(ctx context.Context, id int64) (*authz.ResourceGrant, error)
	MarkRevoked(ctx context.Context, id int64, at time.Time) error
	ListForPrincipal(ctx context.Context, principalID int64) ([]authz.ResourceGrant, error)
}

// CacheInvalidator drops a principal's cached authorization snapshot.
type CacheInvalidator interface {
	Invalidate(id int64)
}

// AuditRecorder persists administrative audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles grant administration. Grants are immutable records:
// creation opens a window, revocation closes it, nothing is deleted.
type Service struct {
	repo   RepositoryPort
	cache  CacheInvalidator
	audit  AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cache CacheInvalidator, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, now: time.Now}
}

// CreateRequest carries the fields of a new grant.
type CreateRequest struct {
	PrincipalID   int64
	ResourceType  authz.ResourceType
	ResourceID    int64
	Permission    authz.Permission
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Reason        string
	GrantedBy     int64
}

// Create validates and records a grant, then invalidates the principal's
// cached snapshot so the new access takes effect within the staleness
// bound.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*authz.ResourceGrant, error) {
	if req.EffectiveFrom.IsZero() {
		req.EffectiveFrom = s.now()
	}
	if req.EffectiveTo != nil && !req.EffectiveTo.After(req.EffectiveFrom) {
		return nil, ErrInvalidWindow
	}
	grant, err := s.repo.Create(ctx, authz.ResourceGrant{
		PrincipalID:   req.PrincipalID,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		Permission:    req.Permission,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		Reason:        req.Reason,
		GrantedBy:     req.GrantedBy,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(req.PrincipalID)
	s.recordAudit(ctx, req.GrantedBy, "grants.create", grant.ID, map[string]any{
		"principal_id":  grant.PrincipalID,
		"resource_type": string(grant.ResourceType),
		"resource_id":   grant.ResourceID,
		"permission":    string(grant.Permission),
		"reason":        grant.Reason,
	})
	return grant, nil
}

// Revoke stamps revoked_at on the grant, ending its validity immediately.
// The effective window stays untouched (a future-dated window must remain
// well-formed) and the row is preserved for the audit trail.
func (s *Service) Revoke(ctx context.Context, actorID, grantID int64) error {
	grant, err := s.repo.Get(ctx, grantID)
	if err != nil {
		return err
	}
	now := s.now()
	if grant.RevokedAt != nil {
		return ErrAlreadyClosed
	}
	if grant.EffectiveTo != nil && !grant.EffectiveTo.After(now) {
		return ErrAlreadyClosed
	}
	if err := s.repo.MarkRevoked(ctx, grantID, now); err != nil {
		return err
	}
	s.invalidate(grant.PrincipalID)
	s.recordAudit(ctx, actorID, "grants.revoke", grantID, map[string]any{
		"principal_id":  grant.PrincipalID,
		"resource_type": string(grant.ResourceType),
		"resource_id":   grant.ResourceID,
		"permission":    string(grant.Permission),
	})
	return nil
}

// ListForPrincipal returns the full grant history for one principal.
func (s *Service) ListForPrincipal(ctx context.Context, principalID int64) ([]authz.ResourceGrant, error) {
	return s.repo.ListForPrincipal(ctx, principalID)
}

func (s *Service) invalidate(principalID int64) {
	if s.cache != nil {
		s.cache.Invalidate(principalID)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, grantID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "resource_grant",
		EntityID: strconv.FormatInt(grantID, 10),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("grants audit record", slog.Any("error", err))
	}
}
