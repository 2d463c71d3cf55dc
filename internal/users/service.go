package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// ErrLastRole indicates a mutation that would strip the final role.
var ErrLastRole = errors.New("users: account must keep at least one role")

// ErrUnknownRole indicates a role outside the closed catalog.
var ErrUnknownRole = errors.New("users: unknown role")

// RepositoryPort defines data access methods for user accounts.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	FindByEmail(ctx context.Context, email string) ([]User, error)
	CreateUser(ctx context.Context, email, name, passwordHash string, roles []authz.Role) (*User, error)
	SetActive(ctx context.Context, id int64, active bool) error
	AddRole(ctx context.Context, id int64, role authz.Role) error
	RemoveRole(ctx context.Context, id int64, role authz.Role) error
	ReplaceRoles(ctx context.Context, id int64, roles []authz.Role) error
}

// CacheInvalidator drops a principal's cached authorization snapshot.
// Every mutation below must call it; TTL expiry alone is not the
// correctness mechanism.
type CacheInvalidator interface {
	Invalidate(id int64)
}

// AuditRecorder persists administrative audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles account and role administration.
type Service struct {
	repo   RepositoryPort
	cache  CacheInvalidator
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cache CacheInvalidator, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger}
}

// Register creates an account with its initial roles.
func (s *Service) Register(ctx context.Context, actorID int64, email, name, password string, roles []authz.Role) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if email == "" {
		return nil, fmt.Errorf("users: email required")
	}
	normalized, err := normalizeRoles(roles)
	if err != nil {
		return nil, err
	}
	var hash string
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = string(h)
	}
	user, err := s.repo.CreateUser(ctx, email, name, hash, normalized)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "users.register", user.ID, map[string]any{"email": email, "roles": roleNames(normalized)})
	return user, nil
}

// Get fetches one account.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// Deactivate disables the account. The record is kept; all authorization
// is cut off immediately via cache invalidation.
func (s *Service) Deactivate(ctx context.Context, actorID, id int64) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.invalidate(id)
	s.recordAudit(ctx, actorID, "users.deactivate", id, nil)
	return nil
}

// Reactivate re-enables the account.
func (s *Service) Reactivate(ctx context.Context, actorID, id int64) error {
	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return err
	}
	s.invalidate(id)
	s.recordAudit(ctx, actorID, "users.reactivate", id, nil)
	return nil
}

// AssignRole adds a role to the account.
func (s *Service) AssignRole(ctx context.Context, actorID, id int64, role authz.Role) error {
	if !authz.ValidRole(role) {
		return ErrUnknownRole
	}
	if _, err := s.repo.GetUser(ctx, id); err != nil {
		return err
	}
	if err := s.repo.AddRole(ctx, id, role); err != nil {
		return err
	}
	s.invalidate(id)
	s.recordAudit(ctx, actorID, "users.role_assign", id, map[string]any{"role": string(role)})
	return nil
}

// RemoveRole strips a role, refusing to leave the account role-less.
func (s *Service) RemoveRole(ctx context.Context, actorID, id int64, role authz.Role) error {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.HasRole(role) && len(user.Roles) <= 1 {
		return ErrLastRole
	}
	if err := s.repo.RemoveRole(ctx, id, role); err != nil {
		return err
	}
	s.invalidate(id)
	s.recordAudit(ctx, actorID, "users.role_remove", id, map[string]any{"role": string(role)})
	return nil
}

// ReplaceRoles swaps the full role set.
func (s *Service) ReplaceRoles(ctx context.Context, actorID, id int64, roles []authz.Role) error {
	normalized, err := normalizeRoles(roles)
	if err != nil {
		return err
	}
	if _, err := s.repo.GetUser(ctx, id); err != nil {
		return err
	}
	if err := s.repo.ReplaceRoles(ctx, id, normalized); err != nil {
		return err
	}
	s.invalidate(id)
	s.recordAudit(ctx, actorID, "users.roles_replace", id, map[string]any{"roles": roleNames(normalized)})
	return nil
}

func (s *Service) invalidate(id int64) {
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: formatID(entityID),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("users audit record", slog.Any("error", err))
	}
}

func normalizeRoles(roles []authz.Role) ([]authz.Role, error) {
	seen := make(map[authz.Role]struct{}, len(roles))
	out := make([]authz.Role, 0, len(roles))
	for _, role := range roles {
		if !authz.ValidRole(role) {
			return nil, ErrUnknownRole
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	if len(out) == 0 {
		return nil, ErrLastRole
	}
	return out, nil
}

func roleNames(roles []authz.Role) []string {
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	return out
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
