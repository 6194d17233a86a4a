package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/campus-care-coordination/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `
	id, student_id, provider_id, support_id, service, start_time, duration_minutes,
	status, location, notes, checked_in, checked_in_at, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var location *string

	err := row.Scan(
		&a.ID,
		&a.StudentID,
		&a.ProviderID,
		&a.SupportID,
		&a.Service,
		&a.StartTime,
		&a.Duration,
		&a.Status,
		&location,
		&a.Notes,
		&a.CheckedIn,
		&a.CheckedInAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if location != nil {
		loc := Location(*location)
		a.Location = &loc
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
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

// attachHistory loads history for every appointment in list with one query.
func attachHistory(ctx context.Context, q querier, list []Appointment) error {
	if len(list) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(list))
	index := make(map[uuid.UUID]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		index[list[i].ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT appointment_id, status, prior_status, action, actor_id, occurred_at
		FROM appointment_history
		WHERE appointment_id = ANY($1)
		ORDER BY appointment_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var apptID uuid.UUID
		var h HistoryEntry
		if err := rows.Scan(&apptID, &h.Status, &h.PriorStatus, &h.Action, &h.ActorID, &h.Timestamp); err != nil {
			return err
		}
		i := index[apptID]
		list[i].History = append(list[i].History, h)
	}
	return rows.Err()
}

func insertHistory(ctx context.Context, q querier, id uuid.UUID, from int, entries []HistoryEntry) error {
	for i, h := range entries {
		_, err := q.Exec(ctx, `
			INSERT INTO appointment_history (appointment_id, position, status, prior_status, action, actor_id, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, from+i, h.Status, h.PriorStatus, h.Action, h.ActorID, h.Timestamp)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return nil
}

func getOne(ctx context.Context, q querier, id uuid.UUID, lock bool) (*Appointment, error) {
	sql := `SELECT` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}

	a, err := scanAppointment(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, err
	}

	list := []Appointment{*a}
	if err := attachHistory(ctx, q, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (`+appointmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, a.ID, a.StudentID, a.ProviderID, a.SupportID, a.Service, a.StartTime, a.Duration,
			a.Status, a.Location, a.Notes, a.CheckedIn, a.CheckedInAt, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return insertHistory(ctx, tx, a.ID, 0, a.History)
	})
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getOne(ctx, r.pool, id, false)
}

func (r *PgRepository) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Appointment, bool, error) {
	var result *Appointment
	var changed bool

	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		a, err := getOne(ctx, tx, id, true)
		if err != nil {
			return err
		}

		before := len(a.History)
		changed, err = fn(a)
		if err != nil {
			return err
		}
		result = a
		if !changed {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE appointments
			SET provider_id = $2,
			    support_id = $3,
			    service = $4,
			    start_time = $5,
			    duration_minutes = $6,
			    status = $7,
			    location = $8,
			    checked_in = $9,
			    checked_in_at = $10,
			    updated_at = $11
			WHERE id = $1
		`, a.ID, a.ProviderID, a.SupportID, a.Service, a.StartTime, a.Duration,
			a.Status, a.Location, a.CheckedIn, a.CheckedInAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		return insertHistory(ctx, tx, a.ID, before, a.History[before:])
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func (r *PgRepository) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE student_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
	if err != nil {
		return nil, err
	}

	list, err := collectAppointments(rows)
	if err != nil {
		return nil, err
	}
	return list, attachHistory(ctx, r.pool, list)
}

func (r *PgRepository) ListUpcoming(ctx context.Context, studentID uuid.UUID, from time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE student_id = $1
		  AND start_time >= $2
		  AND status NOT IN ('DENIED', 'CANCELLED', 'COMPLETED')
		ORDER BY start_time
	`, studentID, from)
	if err != nil {
		return nil, err
	}

	list, err := collectAppointments(rows)
	if err != nil {
		return nil, err
	}
	return list, attachHistory(ctx, r.pool, list)
}

func (r *PgRepository) ListAwaitingDecision(ctx context.Context, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE status IN ('PENDING', 'RESCHEDULED')
		ORDER BY start_time
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}

	list, err := collectAppointments(rows)
	if err != nil {
		return nil, err
	}
	return list, attachHistory(ctx, r.pool, list)
}
