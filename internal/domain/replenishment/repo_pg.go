package replenishment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =========== Schedule Store ===========

type scheduleStorePG struct{ pool *pgxpool.Pool }

func NewScheduleStorePG(pool *pgxpool.Pool) ScheduleStore { return &scheduleStorePG{pool: pool} }

const rowCols = `id, rx_id, reminder_date, compliance_date, delinquency_days, created_at, updated_at`

func scanRow(row pgx.Row) (*ScheduleRow, error) {
	var r ScheduleRow
	err := row.Scan(&r.ID, &r.RxID, &r.ReminderDate, &r.ComplianceDate, &r.DelinquencyDays,
		&r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (s *scheduleStorePG) Create(ctx context.Context, row *ScheduleRow) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO schedule_row (rx_id, reminder_date, compliance_date, delinquency_days)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		row.RxID, row.ReminderDate, row.ComplianceDate, row.DelinquencyDays).
		Scan(&row.ID, &row.CreatedAt, &row.UpdatedAt)
}

func (s *scheduleStorePG) Update(ctx context.Context, id int64, patch RowPatch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedule_row SET
			reminder_date    = CASE WHEN $2 THEN $3 ELSE reminder_date END,
			compliance_date  = CASE WHEN $4 THEN $5 ELSE compliance_date END,
			delinquency_days = CASE WHEN $6 THEN $7 ELSE delinquency_days END,
			updated_at = NOW()
		WHERE id = $1`,
		id,
		patch.ReminderDate.Set, patch.ReminderDate.Value,
		patch.ComplianceDate.Set, patch.ComplianceDate.Value,
		patch.DelinquencyDays.Set, patch.DelinquencyDays.Value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *scheduleStorePG) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedule_row WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *scheduleStorePG) DeleteAll(ctx context.Context, rxID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM schedule_row WHERE rx_id = $1`, rxID)
	return err
}

func (s *scheduleStorePG) List(ctx context.Context, rxID uuid.UUID) ([]*ScheduleRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+rowCols+` FROM schedule_row
		WHERE rx_id = $1
		ORDER BY reminder_date ASC NULLS LAST, id ASC`, rxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ScheduleRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// =========== Profile Repository ===========

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository { return &profileRepoPG{pool: pool} }

const profileCols = `rx_id, patient_id, cadence, initial_dispensing_date,
	automail_flag, do_not_send, notes, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.RxID, &p.PatientID, &p.Cadence, &p.InitialDispensingDate,
		&p.AutomailFlag, &p.DoNotSend, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *profileRepoPG) Get(ctx context.Context, rxID uuid.UUID) (*Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx,
		`SELECT `+profileCols+` FROM replenishment_profile WHERE rx_id = $1`, rxID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *Profile) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO replenishment_profile (rx_id, patient_id, cadence, initial_dispensing_date,
			automail_flag, do_not_send, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (rx_id) DO UPDATE SET
			cadence = EXCLUDED.cadence,
			initial_dispensing_date = EXCLUDED.initial_dispensing_date,
			automail_flag = EXCLUDED.automail_flag,
			do_not_send = EXCLUDED.do_not_send,
			notes = EXCLUDED.notes,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		p.RxID, p.PatientID, p.Cadence, p.InitialDispensingDate,
		p.AutomailFlag, p.DoNotSend, p.Notes).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *profileRepoPG) SetCadence(ctx context.Context, rxID uuid.UUID, c Cadence) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE replenishment_profile SET cadence = $2, updated_at = NOW() WHERE rx_id = $1`, rxID, c)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *profileRepoPG) Delete(ctx context.Context, rxID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM replenishment_profile WHERE rx_id = $1`, rxID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *profileRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Profile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+profileCols+` FROM replenishment_profile
		WHERE patient_id = $1 ORDER BY created_at ASC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
