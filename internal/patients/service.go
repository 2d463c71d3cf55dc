package patients

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// RepositoryPort defines data access methods for patient records.
type RepositoryPort interface {
	Create(ctx context.Context, p Patient) (*Patient, error)
	Get(ctx context.Context, id int64) (*Patient, error)
	List(ctx context.Context, unrestricted bool, ids []int64, limit, offset int) ([]Patient, int, error)
	UpdateContact(ctx context.Context, id int64, firstName, lastName, contactEmail string) (*Patient, error)
}

// AuditRecorder persists administrative audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles patient registration and lookup.
type Service struct {
	repo   RepositoryPort
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// RegisterRequest carries the fields of a new patient record.
type RegisterRequest struct {
	FirstName    string
	LastName     string
	DateOfBirth  time.Time
	ContactEmail string
}

// Register creates a patient record with a fresh medical record number.
func (s *Service) Register(ctx context.Context, actorID int64, req RegisterRequest) (*Patient, error) {
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	if first == "" || last == "" {
		return nil, fmt.Errorf("patients: first and last name required")
	}
	patient, err := s.repo.Create(ctx, Patient{
		MRN:          newMRN(),
		FirstName:    first,
		LastName:     last,
		DateOfBirth:  req.DateOfBirth,
		ContactEmail: NormalizeEmail(req.ContactEmail),
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "patients.register", patient.ID, map[string]any{"mrn": patient.MRN})
	return patient, nil
}

// Get fetches one record. Access has already been decided by the gate;
// the read itself is audited for the HIPAA trail.
func (s *Service) Get(ctx context.Context, actorID, id int64) (*Patient, error) {
	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "patients.view", id, nil)
	return patient, nil
}

// List returns the records inside the caller's resource scope, paged.
// An unrestricted scope (admin) lists everything; otherwise the scope's
// ids bound the query.
func (s *Service) List(ctx context.Context, scope authz.ResourceScope, page, perPage int) ([]Patient, shared.Pagination, error) {
	page, perPage = shared.NormalizePage(page, perPage)
	offset := (page - 1) * perPage
	list, total, err := s.repo.List(ctx, scope.Unrestricted, scope.IDs, perPage, offset)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(page, perPage, total), nil
}

// UpdateContact edits the mutable contact fields.
func (s *Service) UpdateContact(ctx context.Context, actorID, id int64, firstName, lastName, contactEmail string) (*Patient, error) {
	patient, err := s.repo.UpdateContact(ctx, id, strings.TrimSpace(firstName), strings.TrimSpace(lastName), NormalizeEmail(contactEmail))
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "patients.update", id, nil)
	return patient, nil
}

// NormalizeEmail canonicalizes a contact email for exact matching: NFKC
// form, trimmed, lower case.
func NormalizeEmail(email string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(email)))
}

func newMRN() string {
	return "MRN-" + strings.ToUpper(uuid.NewString()[:13])
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, patientID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "patient",
		EntityID: strconv.FormatInt(patientID, 10),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("patients audit record", slog.Any("error", err))
	}
}
