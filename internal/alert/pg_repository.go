package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const alertColumns = `id, title, content, priority, start_time, end_time, status, created_by, created_at`

func scanAlert(row pgx.Row, extra ...any) (*HealthAlert, error) {
	var a HealthAlert
	dest := []any{
		&a.ID,
		&a.Title,
		&a.Content,
		&a.Priority,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.CreatedBy,
		&a.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, a *HealthAlert) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO health_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.Title, a.Content, a.Priority, a.StartTime, a.EndTime, a.Status, a.CreatedBy, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *PgRepository) ListActive(ctx context.Context, now time.Time) ([]HealthAlert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM health_alerts
		WHERE status = 'ACTIVE'
		  AND end_time > $1
		ORDER BY start_time DESC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []HealthAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ExpireDue(ctx context.Context, now time.Time) ([]Expired, error) {
	rows, err := r.pool.Query(ctx, `
		WITH due AS (
			SELECT id, status AS prior
			FROM health_alerts
			WHERE status IN ('ACTIVE', 'DRAFT')
			  AND end_time <= $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE health_alerts h
		SET status = 'EXPIRED'
		FROM due
		WHERE h.id = due.id
		RETURNING h.id, h.title, h.content, h.priority, h.start_time, h.end_time,
		          h.status, h.created_by, h.created_at, due.prior
	`, now)
	if err != nil {
		return nil, fmt.Errorf("expire alerts: %w", err)
	}
	defer rows.Close()

	var result []Expired
	for rows.Next() {
		var prior Status
		a, err := scanAlert(rows, &prior)
		if err != nil {
			return nil, err
		}
		result = append(result, Expired{Alert: *a, Prior: prior})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
