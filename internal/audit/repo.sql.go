package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads the audit trail from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineQuery = `SELECT occurred_at, actor_id, action, entity, entity_id, meta
	FROM audit_logs
	WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
	  AND ($2::timestamptz IS NULL OR occurred_at < $2)
	  AND ($3::bigint = 0 OR actor_id = $3)
	  AND ($4::text = '' OR entity = $4)
	  AND ($5::text = '' OR action = $5)
	ORDER BY occurred_at DESC, id DESC`

// TimelineWindow returns one page of the filtered trail.
func (r *PGRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineQuery+` LIMIT $6 OFFSET $7`,
		nullableTime(filters.From), nullableTime(filters.To), filters.Actor, filters.Entity, filters.Action, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

// TimelineAll returns the whole filtered trail, for export.
func (r *PGRepository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineQuery,
		nullableTime(filters.From), nullableTime(filters.To), filters.Actor, filters.Entity, filters.Action)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

func collectRows(rows pgx.Rows) ([]TimelineRow, error) {
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var meta []byte
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
