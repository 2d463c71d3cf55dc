package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/platform/db"
	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// Repository provides PostgreSQL backed persistence for user accounts and
// their role assignments. It also serves as the engine's principal store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `u.id, u.email, u.name, COALESCE(u.external_subject, ''), u.is_active, u.created_at, u.updated_at,
	COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')`

const userGroup = `GROUP BY u.id, u.email, u.name, u.external_subject, u.is_active, u.created_at, u.updated_at`

// GetUser fetches one account with its roles.
func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u LEFT JOIN user_roles r ON r.user_id = u.id WHERE u.id = $1 `+userGroup, id)
	return scanUser(row)
}

// ListUsers returns all accounts ordered by id.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users u LEFT JOIN user_roles r ON r.user_id = u.id `+userGroup+` ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// FindByEmail returns accounts matching the email exactly. Partial
// matching is deliberately unsupported.
func (r *Repository) FindByEmail(ctx context.Context, email string) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users u LEFT JOIN user_roles r ON r.user_id = u.id WHERE lower(u.email) = lower($1) `+userGroup+` ORDER BY u.id`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// FindBySubject returns the account linked to an external IdP subject.
func (r *Repository) FindBySubject(ctx context.Context, subject string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u LEFT JOIN user_roles r ON r.user_id = u.id WHERE u.external_subject = $1 `+userGroup, subject)
	return scanUser(row)
}

// CreateUser inserts an account with its initial roles in one transaction.
func (r *Repository) CreateUser(ctx context.Context, email, name, passwordHash string, roles []authz.Role) (*User, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO users (email, name, password_hash, is_active, created_at, updated_at) VALUES ($1, $2, $3, TRUE, NOW(), NOW()) RETURNING id`, email, name, passwordHash).Scan(&id)
		if err != nil {
			return mapPGError(err)
		}
		for _, role := range roles {
			if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role, created_at) VALUES ($1, $2, NOW())`, id, string(role)); err != nil {
				return mapPGError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetUser(ctx, id)
}

// SetActive flips the account's active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetExternalSubject links the account to an IdP subject.
func (r *Repository) SetExternalSubject(ctx context.Context, id int64, subject string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET external_subject = $2, updated_at = NOW() WHERE id = $1`, id, subject)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AddRole assigns a role; duplicate assignments are ignored.
func (r *Repository) AddRole(ctx context.Context, id int64, role authz.Role) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role, created_at) VALUES ($1, $2, NOW()) ON CONFLICT DO NOTHING`, id, string(role))
	return err
}

// RemoveRole unassigns a role.
func (r *Repository) RemoveRole(ctx context.Context, id int64, role authz.Role) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, id, string(role))
	return err
}

// ReplaceRoles swaps the full role set in one transaction.
func (r *Repository) ReplaceRoles(ctx context.Context, id int64, roles []authz.Role) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
			return err
		}
		for _, role := range roles {
			if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role, created_at) VALUES ($1, $2, NOW())`, id, string(role)); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindPrincipal resolves the authorization snapshot for a principal.
// Implements authz.PrincipalStore.
func (r *Repository) FindPrincipal(ctx context.Context, id int64) (*authz.Principal, error) {
	user, err := r.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return &authz.Principal{
		ID:              user.ID,
		Email:           user.Email,
		ExternalSubject: user.ExternalSubject,
		IsActive:        user.IsActive,
		Roles:           user.Roles,
	}, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var user User
	var roles []string
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.ExternalSubject, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &roles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	user.Roles = make([]authz.Role, len(roles))
	for i, role := range roles {
		user.Roles[i] = authz.Role(role)
	}
	return &user, nil
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrConflict
	}
	return err
}
