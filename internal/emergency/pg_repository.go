package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/campus-care-coordination/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const requestColumns = `
	id, user_id, latitude, longitude, address, details, status, created_at, resolved_at, resolved_by`

func scanRequest(row pgx.Row) (*AmbulanceRequest, error) {
	var r AmbulanceRequest

	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Latitude,
		&r.Longitude,
		&r.Address,
		&r.Details,
		&r.Status,
		&r.CreatedAt,
		&r.ResolvedAt,
		&r.ResolvedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &r, nil
}

func collectRequests(rows pgx.Rows) ([]AmbulanceRequest, error) {
	defer rows.Close()

	var result []AmbulanceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PgRepository) CreateGated(ctx context.Context, req *AmbulanceRequest, gate GateFunc) error {
	return db.InTx(ctx, p.pool, func(tx pgx.Tx) error {
		// Held until commit; concurrent submissions from one user queue here.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, req.UserID.String()); err != nil {
			return fmt.Errorf("lock cooldown: %w", err)
		}

		var last *time.Time
		err := tx.QueryRow(ctx, `
			SELECT last_submitted_at FROM ambulance_cooldowns WHERE user_id = $1
		`, req.UserID).Scan(&last)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("load cooldown: %w", err)
		}

		if err := gate(last); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ambulance_requests (`+requestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, req.ID, req.UserID, req.Latitude, req.Longitude, req.Address, req.Details,
			req.Status, req.CreatedAt, req.ResolvedAt, req.ResolvedBy)
		if err != nil {
			return fmt.Errorf("insert ambulance request: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ambulance_cooldowns (user_id, last_submitted_at)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET last_submitted_at = EXCLUDED.last_submitted_at
		`, req.UserID, req.CreatedAt)
		if err != nil {
			return fmt.Errorf("record cooldown: %w", err)
		}
		return nil
	})
}

func (p *PgRepository) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*AmbulanceRequest, bool, error) {
	var result *AmbulanceRequest
	var changed bool

	err := db.InTx(ctx, p.pool, func(tx pgx.Tx) error {
		r, err := scanRequest(tx.QueryRow(ctx, `
			SELECT`+requestColumns+` FROM ambulance_requests WHERE id = $1 FOR UPDATE
		`, id))
		if err != nil {
			return err
		}

		changed, err = fn(r)
		if err != nil {
			return err
		}
		result = r
		if !changed {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE ambulance_requests
			SET status = $2,
			    resolved_at = $3,
			    resolved_by = $4
			WHERE id = $1
		`, r.ID, r.Status, r.ResolvedAt, r.ResolvedBy)
		if err != nil {
			return fmt.Errorf("update ambulance request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func (p *PgRepository) ListPending(ctx context.Context, limit int) ([]AmbulanceRequest, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT`+requestColumns+`
		FROM ambulance_requests
		WHERE status = 'PENDING'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (p *PgRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]AmbulanceRequest, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT`+requestColumns+`
		FROM ambulance_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}
