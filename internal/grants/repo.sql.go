package grants

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// Repository provides PostgreSQL backed persistence for resource grants.
// It is the engine's grant store: the activity predicate lives in SQL so
// stale grants cannot leak through application code.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const grantColumns = `id, principal_id, resource_type, resource_id, permission, effective_from, effective_to, reason, granted_by, revoked_at, created_at`

// HasActiveGrant reports whether an active grant exists for exactly the
// given (principal, resource type, resource id, permission) tuple.
// Implements authz.GrantStore.
func (r *Repository) HasActiveGrant(ctx context.Context, principalID int64, resourceType authz.ResourceType, resourceID int64, perm authz.Permission) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM resource_grants
		WHERE principal_id = $1 AND resource_type = $2 AND resource_id = $3 AND permission = $4
		  AND revoked_at IS NULL AND effective_from <= NOW() AND (effective_to IS NULL OR effective_to > NOW())
	)`, principalID, string(resourceType), resourceID, string(perm)).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ActiveResourceIDs returns the resource ids of the given type the
// principal holds an active grant for. Implements authz.GrantStore.
func (r *Repository) ActiveResourceIDs(ctx context.Context, principalID int64, resourceType authz.ResourceType, perm authz.Permission) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT resource_id FROM resource_grants
		WHERE principal_id = $1 AND resource_type = $2 AND permission = $3
		  AND revoked_at IS NULL AND effective_from <= NOW() AND (effective_to IS NULL OR effective_to > NOW())
		ORDER BY resource_id`, principalID, string(resourceType), string(perm))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Create inserts a grant row and returns it.
func (r *Repository) Create(ctx context.Context, g authz.ResourceGrant) (*authz.ResourceGrant, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO resource_grants
		(principal_id, resource_type, resource_id, permission, effective_from, effective_to, reason, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING `+grantColumns,
		g.PrincipalID, string(g.ResourceType), g.ResourceID, string(g.Permission), g.EffectiveFrom, g.EffectiveTo, g.Reason, g.GrantedBy)
	return scanGrant(row)
}

// Get fetches one grant by id.
func (r *Repository) Get(ctx context.Context, id int64) (*authz.ResourceGrant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+grantColumns+` FROM resource_grants WHERE id = $1`, id)
	return scanGrant(row)
}

// MarkRevoked stamps revoked_at, ending the grant's validity without
// touching its effective window. Rows are never deleted.
func (r *Repository) MarkRevoked(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE resource_grants SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListForPrincipal returns every grant, active or not, for one principal.
func (r *Repository) ListForPrincipal(ctx context.Context, principalID int64) ([]authz.ResourceGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+grantColumns+` FROM resource_grants WHERE principal_id = $1 ORDER BY created_at DESC, id DESC`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGrants(rows)
}

// ExpiredBetween returns grants whose effective_to fell inside the
// half-open interval [from, to). Used by the nightly sweep.
func (r *Repository) ExpiredBetween(ctx context.Context, from, to time.Time) ([]authz.ResourceGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+grantColumns+` FROM resource_grants
		WHERE revoked_at IS NULL AND effective_to IS NOT NULL AND effective_to >= $1 AND effective_to < $2
		ORDER BY effective_to, id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGrants(rows)
}

func collectGrants(rows pgx.Rows) ([]authz.ResourceGrant, error) {
	var out []authz.ResourceGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func scanGrant(row pgx.Row) (*authz.ResourceGrant, error) {
	var g authz.ResourceGrant
	var resourceType, permission string
	err := row.Scan(&g.ID, &g.PrincipalID, &resourceType, &g.ResourceID, &permission,
		&g.EffectiveFrom, &g.EffectiveTo, &g.Reason, &g.GrantedBy, &g.RevokedAt, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	g.ResourceType = authz.ResourceType(resourceType)
	g.Permission = authz.Permission(permission)
	return &g, nil
}
