package grants

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

type memoryGrantRepo struct {
	grants map[int64]authz.ResourceGrant
	nextID int64
}

func newMemoryGrantRepo() *memoryGrantRepo {
	return &memoryGrantRepo{grants: make(map[int64]authz.ResourceGrant)}
}

func (r *memoryGrantRepo) Create(ctx context.Context, g authz.ResourceGrant) (*authz.ResourceGrant, error) {
	r.nextID++
	g.ID = r.nextID
	g.CreatedAt = time.Now()
	r.grants[g.ID] = g
	return &g, nil
}

func (r *memoryGrantRepo) Get(ctx context.Context, id int64) (*authz.ResourceGrant, error) {
	g, ok := r.grants[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &g, nil
}

func (r *memoryGrantRepo) MarkRevoked(ctx context.Context, id int64, at time.Time) error {
	g, ok := r.grants[id]
	if !ok || g.RevokedAt != nil {
		return shared.ErrNotFound
	}
	g.RevokedAt = &at
	r.grants[id] = g
	return nil
}

func (r *memoryGrantRepo) ListForPrincipal(ctx context.Context, principalID int64) ([]authz.ResourceGrant, error) {
	var out []authz.ResourceGrant
	for _, g := range r.grants {
		if g.PrincipalID == principalID {
			out = append(out, g)
		}
	}
	return out, nil
}

type recordingInvalidator struct {
	ids []int64
}

func (r *recordingInvalidator) Invalidate(id int64) {
	r.ids = append(r.ids, id)
}

type memoryAudit struct {
	entries []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func newGrantService(t *testing.T) (*Service, *memoryGrantRepo, *recordingInvalidator, *memoryAudit) {
	t.Helper()
	repo := newMemoryGrantRepo()
	invalidator := &recordingInvalidator{}
	audit := &memoryAudit{}
	svc := NewService(repo, invalidator, audit, nil)
	return svc, repo, invalidator, audit
}

func TestCreateGrantDefaultsAndAudits(t *testing.T) {
	svc, repo, invalidator, audit := newGrantService(t)
	fixed := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	grant, err := svc.Create(context.Background(), CreateRequest{
		PrincipalID:  3,
		ResourceType: authz.ResourcePatient,
		ResourceID:   100,
		Permission:   authz.PermPatientView,
		Reason:       "assigned to ward 4 rotation",
		GrantedBy:    1,
	})
	require.NoError(t, err)
	require.Equal(t, fixed, grant.EffectiveFrom)
	require.Nil(t, grant.EffectiveTo)
	require.True(t, grant.ActiveAt(fixed))
	require.Len(t, repo.grants, 1)

	require.Equal(t, []int64{3}, invalidator.ids)
	require.Len(t, audit.entries, 1)
	require.Equal(t, "grants.create", audit.entries[0].Action)
	require.Equal(t, int64(1), audit.entries[0].ActorID)
}

func TestCreateGrantRejectsInvertedWindow(t *testing.T) {
	svc, _, invalidator, _ := newGrantService(t)
	from := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	_, err := svc.Create(context.Background(), CreateRequest{
		PrincipalID:   3,
		ResourceType:  authz.ResourcePatient,
		ResourceID:    100,
		Permission:    authz.PermPatientView,
		EffectiveFrom: from,
		EffectiveTo:   &to,
		Reason:        "typo",
		GrantedBy:     1,
	})
	require.ErrorIs(t, err, ErrInvalidWindow)
	require.Empty(t, invalidator.ids)

	// Zero-length windows are invalid too.
	_, err = svc.Create(context.Background(), CreateRequest{
		PrincipalID:   3,
		ResourceType:  authz.ResourcePatient,
		ResourceID:    100,
		Permission:    authz.PermPatientView,
		EffectiveFrom: from,
		EffectiveTo:   &from,
		GrantedBy:     1,
	})
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestRevokeStampsRevokedAtAndInvalidates(t *testing.T) {
	svc, repo, invalidator, audit := newGrantService(t)
	created := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }

	grant, err := svc.Create(context.Background(), CreateRequest{
		PrincipalID:  3,
		ResourceType: authz.ResourcePatient,
		ResourceID:   100,
		Permission:   authz.PermPatientView,
		Reason:       "rotation",
		GrantedBy:    1,
	})
	require.NoError(t, err)
	invalidator.ids = nil

	revokedAt := created.Add(2 * time.Hour)
	svc.now = func() time.Time { return revokedAt }
	require.NoError(t, svc.Revoke(context.Background(), 1, grant.ID))

	stored := repo.grants[grant.ID]
	require.NotNil(t, stored.RevokedAt)
	require.Equal(t, revokedAt, *stored.RevokedAt)
	require.Nil(t, stored.EffectiveTo)
	require.False(t, stored.ActiveAt(revokedAt))
	require.False(t, stored.ActiveAt(revokedAt.Add(-time.Minute)))

	require.Equal(t, []int64{3}, invalidator.ids)
	require.Equal(t, "grants.revoke", audit.entries[len(audit.entries)-1].Action)
}

// Revoking a grant whose window has not opened yet must not bend the
// window itself: effective_from stays before effective_to, and the
// revocation marker alone kills the grant.
func TestRevokeFutureDatedGrantKeepsWindowWellFormed(t *testing.T) {
	svc, repo, _, _ := newGrantService(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	from := now.Add(48 * time.Hour)
	to := from.Add(24 * time.Hour)
	svc.now = func() time.Time { return now }

	grant, err := svc.Create(context.Background(), CreateRequest{
		PrincipalID:   3,
		ResourceType:  authz.ResourcePatient,
		ResourceID:    100,
		Permission:    authz.PermPatientView,
		EffectiveFrom: from,
		EffectiveTo:   &to,
		Reason:        "scheduled transfer, cancelled",
		GrantedBy:     1,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), 1, grant.ID))

	stored := repo.grants[grant.ID]
	require.NotNil(t, stored.RevokedAt)
	require.Equal(t, from, stored.EffectiveFrom)
	require.Equal(t, to, *stored.EffectiveTo)
	require.True(t, stored.EffectiveFrom.Before(*stored.EffectiveTo))
	require.False(t, stored.ActiveAt(from.Add(time.Hour)))
}

func TestRevokeTwiceIsAlreadyClosed(t *testing.T) {
	svc, _, _, _ := newGrantService(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	grant, err := svc.Create(context.Background(), CreateRequest{
		PrincipalID:  3,
		ResourceType: authz.ResourcePatient,
		ResourceID:   100,
		Permission:   authz.PermPatientView,
		GrantedBy:    1,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), 1, grant.ID))
	require.ErrorIs(t, svc.Revoke(context.Background(), 1, grant.ID), ErrAlreadyClosed)
}

func TestRevokeAlreadyClosed(t *testing.T) {
	svc, _, _, _ := newGrantService(t)
	created := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	end := created.Add(time.Hour)
	svc.now = func() time.Time { return created }

	grant, err := svc.Create(context.Background(), CreateRequest{
		PrincipalID:   3,
		ResourceType:  authz.ResourcePatient,
		ResourceID:    100,
		Permission:    authz.PermPatientView,
		EffectiveFrom: created,
		EffectiveTo:   &end,
		GrantedBy:     1,
	})
	require.NoError(t, err)

	svc.now = func() time.Time { return end.Add(time.Minute) }
	require.ErrorIs(t, svc.Revoke(context.Background(), 1, grant.ID), ErrAlreadyClosed)
}

func TestRevokeUnknownGrant(t *testing.T) {
	svc, _, _, _ := newGrantService(t)
	require.ErrorIs(t, svc.Revoke(context.Background(), 1, 999), shared.ErrNotFound)
}

func TestListForPrincipal(t *testing.T) {
	svc, _, _, _ := newGrantService(t)
	ctx := context.Background()

	for _, principalID := range []int64{3, 3, 4} {
		_, err := svc.Create(ctx, CreateRequest{
			PrincipalID:  principalID,
			ResourceType: authz.ResourcePatient,
			ResourceID:   100,
			Permission:   authz.PermPatientView,
			GrantedBy:    1,
		})
		require.NoError(t, err)
	}

	list, err := svc.ListForPrincipal(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 2)
}
