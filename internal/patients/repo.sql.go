package patients

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-emr/meridian-emr/internal/shared"
)

// Repository provides PostgreSQL backed persistence for patient records.
// It also serves as the engine's ownership directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const patientColumns = `id, mrn, first_name, last_name, date_of_birth, contact_email, is_active, created_at, updated_at`

// Create inserts a patient record.
func (r *Repository) Create(ctx context.Context, p Patient) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO patients
		(mrn, first_name, last_name, date_of_birth, contact_email, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, lower($5), TRUE, NOW(), NOW())
		RETURNING `+patientColumns,
		p.MRN, p.FirstName, p.LastName, p.DateOfBirth, p.ContactEmail)
	return scanPatient(row)
}

// Get fetches one record by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

// List returns records ordered by id. When unrestricted is false the
// result is limited to the given ids; an empty id set yields an empty
// page. This is where minimum-necessary filtering lands in SQL.
func (r *Repository) List(ctx context.Context, unrestricted bool, ids []int64, limit, offset int) ([]Patient, int, error) {
	if !unrestricted && len(ids) == 0 {
		return nil, 0, nil
	}

	var total int
	var rows pgx.Rows
	var err error
	if unrestricted {
		if err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = r.pool.Query(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		if err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE id = ANY($1)`, ids).Scan(&total); err != nil {
			return nil, 0, err
		}
		rows, err = r.pool.Query(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = ANY($1) ORDER BY id LIMIT $2 OFFSET $3`, ids, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

// UpdateContact updates the mutable contact fields.
func (r *Repository) UpdateContact(ctx context.Context, id int64, firstName, lastName, contactEmail string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `UPDATE patients
		SET first_name = $2, last_name = $3, contact_email = lower($4), updated_at = NOW()
		WHERE id = $1
		RETURNING `+patientColumns, id, firstName, lastName, contactEmail)
	return scanPatient(row)
}

// ContactEmail returns the on-file email for a record. Implements
// authz.PatientDirectory.
func (r *Repository) ContactEmail(ctx context.Context, patientID int64) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, `SELECT contact_email FROM patients WHERE id = $1`, patientID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", err
	}
	return email, nil
}

// FindIDByEmail resolves a record id from an exact contact email match.
// Implements authz.PatientDirectory.
func (r *Repository) FindIDByEmail(ctx context.Context, email string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM patients WHERE contact_email = lower($1) ORDER BY id LIMIT 1`, email).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.ContactEmail, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrConflict
		}
		return nil, err
	}
	return &p, nil
}
