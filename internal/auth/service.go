package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials for the break-glass
// local login. Accounts without a password hash are IdP-only.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !account.IsActive || account.PasswordHash == "" {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return account, nil
}

// ResolveIdentity maps a verified IdP identity to an account. Resolution
// order: stored subject, then exact email with the subject back-filled.
// Unknown identities are refused — registration is an administrative act,
// never a side effect of login.
func (s *Service) ResolveIdentity(ctx context.Context, identity Identity) (*Account, error) {
	if identity.Subject == "" {
		return nil, shared.ErrInvalidCredentials
	}

	account, err := s.repo.FindBySubject(ctx, identity.Subject)
	switch {
	case err == nil:
		// linked before
	case errors.Is(err, shared.ErrNotFound) && identity.Email != "":
		account, err = s.repo.FindByEmail(ctx, identity.Email)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil, shared.ErrInvalidCredentials
			}
			return nil, err
		}
		if linkErr := s.repo.LinkSubject(ctx, account.ID, identity.Subject); linkErr != nil {
			return nil, linkErr
		}
		account.ExternalSubject = identity.Subject
	case errors.Is(err, shared.ErrNotFound):
		return nil, shared.ErrInvalidCredentials
	default:
		return nil, err
	}

	if !account.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	return account, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
