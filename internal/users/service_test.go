package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

type memoryUserRepo struct {
	users  map[int64]User
	nextID int64
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]User)}
}

func (r *memoryUserRepo) GetUser(ctx context.Context, id int64) (*User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &u, nil
}

func (r *memoryUserRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memoryUserRepo) FindByEmail(ctx context.Context, email string) ([]User, error) {
	var out []User
	for _, u := range r.users {
		if u.Email == email {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memoryUserRepo) CreateUser(ctx context.Context, email, name, passwordHash string, roles []authz.Role) (*User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return nil, shared.ErrConflict
		}
	}
	r.nextID++
	u := User{ID: r.nextID, Email: email, Name: name, IsActive: true, Roles: roles}
	r.users[u.ID] = u
	return &u, nil
}

func (r *memoryUserRepo) SetActive(ctx context.Context, id int64, active bool) error {
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	r.users[id] = u
	return nil
}

func (r *memoryUserRepo) AddRole(ctx context.Context, id int64, role authz.Role) error {
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	if !u.HasRole(role) {
		u.Roles = append(u.Roles, role)
	}
	r.users[id] = u
	return nil
}

func (r *memoryUserRepo) RemoveRole(ctx context.Context, id int64, role authz.Role) error {
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	var roles []authz.Role
	for _, existing := range u.Roles {
		if existing != role {
			roles = append(roles, existing)
		}
	}
	u.Roles = roles
	r.users[id] = u
	return nil
}

func (r *memoryUserRepo) ReplaceRoles(ctx context.Context, id int64, roles []authz.Role) error {
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Roles = roles
	r.users[id] = u
	return nil
}

type recordingInvalidator struct {
	ids []int64
}

func (r *recordingInvalidator) Invalidate(id int64) {
	r.ids = append(r.ids, id)
}

type memoryAudit struct {
	entries []shared.AuditLog
	err     error
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

func newUserService(t *testing.T) (*Service, *memoryUserRepo, *recordingInvalidator, *memoryAudit) {
	t.Helper()
	repo := newMemoryUserRepo()
	invalidator := &recordingInvalidator{}
	audit := &memoryAudit{}
	return NewService(repo, invalidator, audit, nil), repo, invalidator, audit
}

func TestRegisterNormalizesAndAudits(t *testing.T) {
	svc, repo, _, audit := newUserService(t)

	user, err := svc.Register(context.Background(), 1, "  Dr.Chen@Meridian.Test ", " Li Chen ", "s3cr3tpass", []authz.Role{authz.RoleDoctor, authz.RoleDoctor})
	require.NoError(t, err)
	require.Equal(t, "dr.chen@meridian.test", user.Email)
	require.Equal(t, []authz.Role{authz.RoleDoctor}, user.Roles)
	require.True(t, user.IsActive)
	require.Len(t, repo.users, 1)

	require.Len(t, audit.entries, 1)
	require.Equal(t, "users.register", audit.entries[0].Action)
	require.Equal(t, int64(1), audit.entries[0].ActorID)
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	svc, _, _, _ := newUserService(t)

	_, err := svc.Register(context.Background(), 1, "x@meridian.test", "X", "", []authz.Role{"superuser"})
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestRegisterRejectsEmptyRoleSet(t *testing.T) {
	svc, _, _, _ := newUserService(t)

	_, err := svc.Register(context.Background(), 1, "x@meridian.test", "X", "", nil)
	require.ErrorIs(t, err, ErrLastRole)
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	svc, _, _, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, 1, "x@meridian.test", "X", "", []authz.Role{authz.RoleStaff})
	require.NoError(t, err)
	_, err = svc.Register(ctx, 1, "x@meridian.test", "Y", "", []authz.Role{authz.RoleStaff})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeactivateInvalidatesCache(t *testing.T) {
	svc, repo, invalidator, audit := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, 1, "n@meridian.test", "N", "", []authz.Role{authz.RoleNurse})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, 1, user.ID))
	require.False(t, repo.users[user.ID].IsActive)
	require.Contains(t, invalidator.ids, user.ID)
	require.Equal(t, "users.deactivate", audit.entries[len(audit.entries)-1].Action)

	require.NoError(t, svc.Reactivate(ctx, 1, user.ID))
	require.True(t, repo.users[user.ID].IsActive)
}

func TestAssignRoleInvalidatesCache(t *testing.T) {
	svc, repo, invalidator, _ := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, 1, "n@meridian.test", "N", "", []authz.Role{authz.RoleNurse})
	require.NoError(t, err)
	invalidator.ids = nil

	require.NoError(t, svc.AssignRole(ctx, 1, user.ID, authz.RoleStaff))
	require.ElementsMatch(t, []authz.Role{authz.RoleNurse, authz.RoleStaff}, repo.users[user.ID].Roles)
	require.Equal(t, []int64{user.ID}, invalidator.ids)

	require.ErrorIs(t, svc.AssignRole(ctx, 1, user.ID, "superuser"), ErrUnknownRole)
	require.ErrorIs(t, svc.AssignRole(ctx, 1, 999, authz.RoleStaff), shared.ErrNotFound)
}

func TestRemoveRoleKeepsAtLeastOne(t *testing.T) {
	svc, repo, _, _ := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, 1, "n@meridian.test", "N", "", []authz.Role{authz.RoleNurse, authz.RoleStaff})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveRole(ctx, 1, user.ID, authz.RoleStaff))
	require.Equal(t, []authz.Role{authz.RoleNurse}, repo.users[user.ID].Roles)

	require.ErrorIs(t, svc.RemoveRole(ctx, 1, user.ID, authz.RoleNurse), ErrLastRole)
}

func TestReplaceRolesValidatesSet(t *testing.T) {
	svc, repo, invalidator, _ := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, 1, "n@meridian.test", "N", "", []authz.Role{authz.RoleNurse})
	require.NoError(t, err)
	invalidator.ids = nil

	require.NoError(t, svc.ReplaceRoles(ctx, 1, user.ID, []authz.Role{authz.RoleDoctor, authz.RoleStaff}))
	require.ElementsMatch(t, []authz.Role{authz.RoleDoctor, authz.RoleStaff}, repo.users[user.ID].Roles)
	require.Equal(t, []int64{user.ID}, invalidator.ids)

	require.ErrorIs(t, svc.ReplaceRoles(ctx, 1, user.ID, nil), ErrLastRole)
	require.ErrorIs(t, svc.ReplaceRoles(ctx, 1, user.ID, []authz.Role{"superuser"}), ErrUnknownRole)
}

func TestAuditFailureDoesNotBlockMutation(t *testing.T) {
	svc, repo, _, audit := newUserService(t)
	audit.err = context.DeadlineExceeded
	ctx := context.Background()

	user, err := svc.Register(ctx, 1, "n@meridian.test", "N", "", []authz.Role{authz.RoleNurse})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, 1, user.ID))
	require.False(t, repo.users[user.ID].IsActive)
}
