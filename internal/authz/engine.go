package authz

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// ErrAccessDenied is returned by the Require* wrappers when the verdict
// is no. It is the only authorization outcome surfaced as a typed error;
// internal failures still resolve to denial, never to a different type.
var ErrAccessDenied = errors.New("authz: access denied")

// PrincipalStore resolves principal snapshots by exact id. Implementations
// return shared.ErrNotFound when the principal does not exist and must
// propagate transport failures as distinguishable errors, never as an
// empty result.
type PrincipalStore interface {
	FindPrincipal(ctx context.Context, id int64) (*Principal, error)
}

// GrantStore answers explicit per-resource grant questions. Activity
// filtering (time window, not revoked) happens at the query boundary;
// store errors must propagate, never collapse into false.
type GrantStore interface {
	HasActiveGrant(ctx context.Context, principalID int64, resourceType ResourceType, resourceID int64, perm Permission) (bool, error)
	ActiveResourceIDs(ctx context.Context, principalID int64, resourceType ResourceType, perm Permission) ([]int64, error)
}

// PatientDirectory resolves patient ownership: the on-file contact email
// for a record, and the record id for a contact email. Lookups are exact.
type PatientDirectory interface {
	ContactEmail(ctx context.Context, patientID int64) (string, error)
	FindIDByEmail(ctx context.Context, email string) (int64, error)
}

// Decision outcome categories for the audit trail.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Decision is the structured record emitted for every denial and every
// internal authorization error.
type Decision struct {
	PrincipalID  int64
	Permission   Permission
	ResourceType ResourceType
	ResourceID   int64
	Outcome      string
	Reason       string
	At           time.Time
}

// AuditSink receives authorization decisions. A sink failure must never
// change a verdict; the engine logs it and moves on.
type AuditSink interface {
	RecordDecision(ctx context.Context, d Decision) error
}

// Observer counts verdicts and cache lookups for monitoring. Optional;
// the engine works without one.
type Observer interface {
	ObserveDecision(outcome string)
	ObserveCacheLookup(result string)
}

// Engine is the stateless authorization decision function. Every check
// re-derives its verdict from current data; there is no session-long
// authorization context.
type Engine struct {
	principals PrincipalStore
	grants     GrantStore
	patients   PatientDirectory
	cache      *PrincipalCache
	audit      AuditSink
	logger     *slog.Logger
	obs        Observer
	fetch      singleflight.Group
	now        func() time.Time
}

// NewEngine constructs an Engine. The cache is owned by the caller so its
// lifetime and invalidation contract stay explicit; mutation paths hold
// the same handle.
func NewEngine(principals PrincipalStore, grants GrantStore, patients PatientDirectory, cache *PrincipalCache, audit AuditSink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		principals: principals,
		grants:     grants,
		patients:   patients,
		cache:      cache,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// HasPermission reports whether the principal holds the permission
// globally. Missing, inactive, or unresolvable principals are denied;
// internal errors fail closed.
func (e *Engine) HasPermission(ctx context.Context, principalID int64, perm Permission) bool {
	p, err := e.resolve(ctx, principalID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			e.recordDenied(ctx, principalID, perm, "", 0, "principal not found")
			return false
		}
		e.recordError(ctx, principalID, perm, "", 0, err)
		return false
	}
	if !p.IsActive {
		e.recordDenied(ctx, principalID, perm, "", 0, "principal inactive")
		return false
	}
	if p.HasRole(RoleAdmin) || roleSetGrants(p, perm) {
		e.observeDecision(OutcomeAllowed)
		return true
	}
	e.recordDenied(ctx, principalID, perm, "", 0, "permission not granted by any role")
	return false
}

// HasPermissionCached is the non-suspending variant of HasPermission: it
// consults only the cache and denies on a miss. Required by call sites
// that cannot await I/O; it must never block on the store, so a miss is
// logged as a data-quality warning rather than resolved.
func (e *Engine) HasPermissionCached(principalID int64, perm Permission) bool {
	p, ok := e.cache.Get(principalID)
	if !ok {
		e.logger.Warn("authz cache miss on non-suspending path",
			slog.Int64("principal_id", principalID),
			slog.String("permission", string(perm)))
		return false
	}
	if !p.IsActive || (!p.HasRole(RoleAdmin) && !roleSetGrants(&p, perm)) {
		e.logger.Warn("authz denied on non-suspending path",
			slog.Int64("principal_id", principalID),
			slog.String("permission", string(perm)))
		return false
	}
	return true
}

// HasResourceAccess reports whether the principal may perform perm on one
// specific resource instance. Order of evaluation: admin bypass, the
// narrow ownership exception, role-level permission, then an explicit
// active grant. There is no blanket staff fallback: every
// non-administrative, non-self access needs a grant.
func (e *Engine) HasResourceAccess(ctx context.Context, principalID int64, resourceType ResourceType, resourceID int64, perm Permission) bool {
	p, err := e.resolve(ctx, principalID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			e.recordDenied(ctx, principalID, perm, resourceType, resourceID, "principal not found")
			return false
		}
		e.recordError(ctx, principalID, perm, resourceType, resourceID, err)
		return false
	}
	if !p.IsActive {
		e.recordDenied(ctx, principalID, perm, resourceType, resourceID, "principal inactive")
		return false
	}
	if p.HasRole(RoleAdmin) {
		e.observeDecision(OutcomeAllowed)
		return true
	}

	if e.ownershipApplies(p, resourceType, perm) {
		ownerEmail, err := e.patients.ContactEmail(ctx, resourceID)
		switch {
		case err != nil && errors.Is(err, shared.ErrNotFound):
			e.recordDenied(ctx, principalID, perm, resourceType, resourceID, "resource not found for ownership check")
			return false
		case err != nil:
			e.recordError(ctx, principalID, perm, resourceType, resourceID, err)
			return false
		case emailsMatch(p.Email, ownerEmail):
			e.observeDecision(OutcomeAllowed)
			return true
		}
		// Ownership claimed but the record is not theirs. Do not fall
		// through to the grant path.
		e.logger.Warn("authz ownership mismatch",
			slog.Int64("principal_id", principalID),
			slog.Int64("resource_id", resourceID))
		e.recordDenied(ctx, principalID, perm, resourceType, resourceID, "ownership mismatch")
		return false
	}

	if !roleSetGrants(p, perm) {
		e.recordDenied(ctx, principalID, perm, resourceType, resourceID, "permission not granted by any role")
		return false
	}

	ok, err := e.grants.HasActiveGrant(ctx, principalID, resourceType, resourceID, perm)
	if err != nil {
		e.recordError(ctx, principalID, perm, resourceType, resourceID, err)
		return false
	}
	if !ok {
		e.recordDenied(ctx, principalID, perm, resourceType, resourceID, "no active resource grant")
		return false
	}
	e.observeDecision(OutcomeAllowed)
	return true
}

// ListPermissions returns the union of catalog permissions over the
// principal's roles. Missing, inactive, or unresolvable principals yield
// the empty set.
func (e *Engine) ListPermissions(ctx context.Context, principalID int64) []Permission {
	p, err := e.resolve(ctx, principalID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			e.recordError(ctx, principalID, "", "", 0, err)
		}
		return nil
	}
	if !p.IsActive {
		return nil
	}
	held := make(map[Permission]struct{})
	for _, role := range p.Roles {
		for _, perm := range PermissionsForRole(role) {
			held[perm] = struct{}{}
		}
	}
	// Catalog order keeps the result deterministic.
	out := make([]Permission, 0, len(held))
	for _, perm := range AllPermissions() {
		if _, ok := held[perm]; ok {
			out = append(out, perm)
		}
	}
	return out
}

// ListAccessibleResourceIDs returns the resource ids of the given type the
// principal can reach with perm. Administrators get the unrestricted
// sentinel; the self-access role contributes the principal's own record;
// everything else comes from active grants, and only when the permission
// is held at role level. Non-admins never see unrestricted.
func (e *Engine) ListAccessibleResourceIDs(ctx context.Context, principalID int64, resourceType ResourceType, perm Permission) ResourceScope {
	p, err := e.resolve(ctx, principalID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			e.recordError(ctx, principalID, perm, resourceType, 0, err)
		}
		return ResourceScope{}
	}
	if !p.IsActive {
		return ResourceScope{}
	}
	if p.HasRole(RoleAdmin) {
		return ResourceScope{Unrestricted: true}
	}

	var ids []int64
	if e.ownershipApplies(p, resourceType, perm) {
		ownID, err := e.patients.FindIDByEmail(ctx, p.Email)
		switch {
		case err != nil && errors.Is(err, shared.ErrNotFound):
			// No record on file for this principal; nothing to add.
		case err != nil:
			e.recordError(ctx, principalID, perm, resourceType, 0, err)
			return ResourceScope{}
		default:
			ids = append(ids, ownID)
		}
	}

	if roleSetGrants(p, perm) {
		granted, err := e.grants.ActiveResourceIDs(ctx, principalID, resourceType, perm)
		if err != nil {
			e.recordError(ctx, principalID, perm, resourceType, 0, err)
			return ResourceScope{}
		}
		for _, id := range granted {
			if !containsID(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ResourceScope{IDs: ids}
}

// RequirePermission is HasPermission with exception-style control flow:
// it returns ErrAccessDenied on a no verdict. Internal failures still
// surface as the same denial, preserving the single fail-closed contract.
func (e *Engine) RequirePermission(ctx context.Context, principalID int64, perm Permission) error {
	if e.HasPermission(ctx, principalID, perm) {
		return nil
	}
	return ErrAccessDenied
}

// RequireResourceAccess is HasResourceAccess with exception-style control
// flow.
func (e *Engine) RequireResourceAccess(ctx context.Context, principalID int64, resourceType ResourceType, resourceID int64, perm Permission) error {
	if e.HasResourceAccess(ctx, principalID, resourceType, resourceID, perm) {
		return nil
	}
	return ErrAccessDenied
}

// Cache exposes the engine's cache handle so mutation paths can honor the
// invalidation contract.
func (e *Engine) Cache() *PrincipalCache {
	return e.cache
}

// SetObserver attaches a metrics observer.
func (e *Engine) SetObserver(obs Observer) {
	e.obs = obs
}

// resolve returns the principal snapshot, cache first. Concurrent misses
// for the same principal collapse into one store fetch.
func (e *Engine) resolve(ctx context.Context, id int64) (*Principal, error) {
	if p, ok := e.cache.Get(id); ok {
		e.observeCache("hit")
		return &p, nil
	}
	e.observeCache("miss")
	v, err, _ := e.fetch.Do(strconv.FormatInt(id, 10), func() (any, error) {
		p, err := e.principals.FindPrincipal(ctx, id)
		if err != nil {
			return nil, err
		}
		e.cache.Put(id, *p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Principal), nil
}

func (e *Engine) ownershipApplies(p *Principal, resourceType ResourceType, perm Permission) bool {
	return resourceType == ResourcePatient &&
		perm == PermPatientView &&
		p.HasRole(RolePatient) &&
		RoleGrants(RolePatient, PermPatientViewOwn)
}

func (e *Engine) recordDenied(ctx context.Context, principalID int64, perm Permission, resourceType ResourceType, resourceID int64, reason string) {
	e.emit(ctx, Decision{
		PrincipalID:  principalID,
		Permission:   perm,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      OutcomeDenied,
		Reason:       reason,
		At:           e.now(),
	})
}

func (e *Engine) recordError(ctx context.Context, principalID int64, perm Permission, resourceType ResourceType, resourceID int64, err error) {
	e.logger.Error("authz internal error",
		slog.Int64("principal_id", principalID),
		slog.String("permission", string(perm)),
		slog.String("resource_type", string(resourceType)),
		slog.Int64("resource_id", resourceID),
		slog.Any("error", err))
	e.emit(ctx, Decision{
		PrincipalID:  principalID,
		Permission:   perm,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      OutcomeError,
		Reason:       err.Error(),
		At:           e.now(),
	})
}

func (e *Engine) emit(ctx context.Context, d Decision) {
	e.observeDecision(d.Outcome)
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordDecision(ctx, d); err != nil {
		// Audit failures never feed back into the verdict.
		e.logger.Error("authz audit sink", slog.Any("error", err))
	}
}

func (e *Engine) observeCache(result string) {
	if e.obs != nil {
		e.obs.ObserveCacheLookup(result)
	}
}

func (e *Engine) observeDecision(outcome string) {
	if e.obs != nil {
		e.obs.ObserveDecision(outcome)
	}
}

func roleSetGrants(p *Principal, perm Permission) bool {
	for _, role := range p.Roles {
		if RoleGrants(role, perm) {
			return true
		}
	}
	return false
}

func emailsMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(normalizeEmail(a), normalizeEmail(b))
}

func normalizeEmail(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
