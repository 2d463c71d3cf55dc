package patients

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

type memoryPatientRepo struct {
	patients map[int64]Patient
	nextID   int64
}

func newMemoryPatientRepo() *memoryPatientRepo {
	return &memoryPatientRepo{patients: make(map[int64]Patient)}
}

func (r *memoryPatientRepo) Create(ctx context.Context, p Patient) (*Patient, error) {
	for _, existing := range r.patients {
		if existing.MRN == p.MRN {
			return nil, shared.ErrConflict
		}
	}
	r.nextID++
	p.ID = r.nextID
	p.IsActive = true
	r.patients[p.ID] = p
	return &p, nil
}

func (r *memoryPatientRepo) Get(ctx context.Context, id int64) (*Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (r *memoryPatientRepo) List(ctx context.Context, unrestricted bool, ids []int64, limit, offset int) ([]Patient, int, error) {
	allowed := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	var matched []Patient
	for _, p := range r.patients {
		if !unrestricted {
			if _, ok := allowed[p.ID]; !ok {
				continue
			}
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (r *memoryPatientRepo) UpdateContact(ctx context.Context, id int64, firstName, lastName, contactEmail string) (*Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	p.FirstName = firstName
	p.LastName = lastName
	p.ContactEmail = contactEmail
	r.patients[id] = p
	return &p, nil
}

type memoryAudit struct {
	entries []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func newPatientService(t *testing.T) (*Service, *memoryPatientRepo, *memoryAudit) {
	t.Helper()
	repo := newMemoryPatientRepo()
	audit := &memoryAudit{}
	return NewService(repo, audit, nil), repo, audit
}

func TestRegisterAssignsMRNAndNormalizes(t *testing.T) {
	svc, repo, audit := newPatientService(t)

	patient, err := svc.Register(context.Background(), 4, RegisterRequest{
		FirstName:    "  Jo ",
		LastName:     " Doe ",
		DateOfBirth:  time.Date(1988, 6, 2, 0, 0, 0, 0, time.UTC),
		ContactEmail: " Jo.Doe@Example.org ",
	})
	require.NoError(t, err)
	require.Equal(t, "Jo", patient.FirstName)
	require.Equal(t, "Doe", patient.LastName)
	require.Equal(t, "jo.doe@example.org", patient.ContactEmail)
	require.NotEmpty(t, patient.MRN)
	require.Len(t, repo.patients, 1)

	require.Len(t, audit.entries, 1)
	require.Equal(t, "patients.register", audit.entries[0].Action)
}

func TestRegisterRequiresName(t *testing.T) {
	svc, _, _ := newPatientService(t)

	_, err := svc.Register(context.Background(), 4, RegisterRequest{FirstName: "", LastName: "Doe"})
	require.Error(t, err)
	_, err = svc.Register(context.Background(), 4, RegisterRequest{FirstName: "Jo", LastName: "  "})
	require.Error(t, err)
}

func TestRegisterGeneratesUniqueMRNs(t *testing.T) {
	svc, _, _ := newPatientService(t)
	ctx := context.Background()
	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		p, err := svc.Register(ctx, 4, RegisterRequest{FirstName: "Jo", LastName: "Doe"})
		require.NoError(t, err)
		_, dup := seen[p.MRN]
		require.False(t, dup, p.MRN)
		seen[p.MRN] = struct{}{}
	}
}

func TestGetAuditsEveryRead(t *testing.T) {
	svc, _, audit := newPatientService(t)
	ctx := context.Background()

	patient, err := svc.Register(ctx, 4, RegisterRequest{FirstName: "Jo", LastName: "Doe"})
	require.NoError(t, err)
	audit.entries = nil

	got, err := svc.Get(ctx, 2, patient.ID)
	require.NoError(t, err)
	require.Equal(t, patient.ID, got.ID)

	require.Len(t, audit.entries, 1)
	require.Equal(t, "patients.view", audit.entries[0].Action)
	require.Equal(t, int64(2), audit.entries[0].ActorID)

	_, err = svc.Get(ctx, 2, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
	// Failed reads do not land in the trail.
	require.Len(t, audit.entries, 1)
}

func TestListHonorsScope(t *testing.T) {
	svc, _, _ := newPatientService(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		p, err := svc.Register(ctx, 4, RegisterRequest{FirstName: "Jo", LastName: "Doe"})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	all, paging, err := svc.List(ctx, authz.ResourceScope{Unrestricted: true}, 1, 20)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, 3, paging.Total)

	scoped, _, err := svc.List(ctx, authz.ResourceScope{IDs: ids[:1]}, 1, 20)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.Equal(t, ids[0], scoped[0].ID)

	// Empty non-admin scope lists nothing, never everything.
	none, paging, err := svc.List(ctx, authz.ResourceScope{}, 1, 20)
	require.NoError(t, err)
	require.Empty(t, none)
	require.Equal(t, 0, paging.Total)
}

func TestListPaging(t *testing.T) {
	svc, _, _ := newPatientService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Register(ctx, 4, RegisterRequest{FirstName: "Jo", LastName: "Doe"})
		require.NoError(t, err)
	}

	pageOne, paging, err := svc.List(ctx, authz.ResourceScope{Unrestricted: true}, 1, 2)
	require.NoError(t, err)
	require.Len(t, pageOne, 2)
	require.Equal(t, 5, paging.Total)

	pageThree, _, err := svc.List(ctx, authz.ResourceScope{Unrestricted: true}, 3, 2)
	require.NoError(t, err)
	require.Len(t, pageThree, 1)
}

func TestUpdateContactNormalizesEmail(t *testing.T) {
	svc, repo, audit := newPatientService(t)
	ctx := context.Background()

	patient, err := svc.Register(ctx, 4, RegisterRequest{FirstName: "Jo", LastName: "Doe"})
	require.NoError(t, err)

	updated, err := svc.UpdateContact(ctx, 2, patient.ID, "Jo", "Doe-Smith", " New.Address@Example.org ")
	require.NoError(t, err)
	require.Equal(t, "new.address@example.org", updated.ContactEmail)
	require.Equal(t, "Doe-Smith", repo.patients[patient.ID].LastName)
	require.Equal(t, "patients.update", audit.entries[len(audit.entries)-1].Action)
}

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "jo@example.org", NormalizeEmail(" Jo@Example.ORG "))
	require.Equal(t, "", NormalizeEmail("   "))
	// NFKC folds compatibility forms such as fullwidth letters.
	require.Equal(t, "jo@example.org", NormalizeEmail("ｊｏ@example.org"))
}
