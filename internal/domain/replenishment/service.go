package replenishment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// batchSize is the rolling reminder horizon: schedules grow in batches of
// seven rows, whether generated initially or appended after a terminal
// compliance entry.
const batchSize = 7

// Service owns the replenishment scheduling rules: generating future reminder
// dates from a base date and cadence, re-basing trailing reminders when a
// compliance date is recorded, and maintaining the seven-row horizon.
//
// Every operation validates before the first store mutation. Store failures
// abort only the remaining steps; row updates already committed stay in place
// (no transaction spans a rebase batch, and each update is idempotent for the
// same inputs).
type Service struct {
	rows     ScheduleStore
	profiles ProfileRepository
}

func NewService(rows ScheduleStore, profiles ProfileRepository) *Service {
	return &Service{rows: rows, profiles: profiles}
}

// GenerateInitialSchedule creates the first batch of reminder rows for a
// prescription: seven dates at successive cadence intervals after the initial
// dispensing date (the dispensing date itself is not a reminder). An unset
// cadence is a no-op and produces no rows.
func (s *Service) GenerateInitialSchedule(ctx context.Context, rxID uuid.UUID, initialDispensingDate time.Time, cadence Cadence) ([]*ScheduleRow, error) {
	return s.ExtendFrom(ctx, rxID, initialDispensingDate, cadence)
}

// ExtendFrom appends a batch of seven reminder rows anchored at baseDate,
// each one cadence interval after the previous, starting at
// baseDate + interval. Rows are persisted individually; on a store failure
// the rows created so far remain.
func (s *Service) ExtendFrom(ctx context.Context, rxID uuid.UUID, baseDate time.Time, cadence Cadence) ([]*ScheduleRow, error) {
	if !cadence.IsSet() {
		return nil, nil
	}

	d := TruncateToDate(baseDate)
	rows := make([]*ScheduleRow, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		d = cadence.Next(d)
		reminder := d
		row := &ScheduleRow{RxID: rxID, ReminderDate: &reminder}
		if err := s.rows.Create(ctx, row); err != nil {
			return rows, &StoreError{Op: "create schedule row", Err: err}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RecordCompliance records the date a patient actually reordered against the
// row identified by rowID, then re-bases every later row onto the compliance
// date. Delinquency days are persisted only when the compliance date is on or
// after the reminder date; a compliance date before the reminder is a
// recognized correction state and stores the date alone, leaving any prior
// delinquency value cleared. Recording compliance on the terminal row appends
// a fresh batch of seven rows instead of rebasing.
func (s *Service) RecordCompliance(ctx context.Context, rxID uuid.UUID, rowID int64, complianceDate time.Time) error {
	rows, err := s.rows.List(ctx, rxID)
	if err != nil {
		return &StoreError{Op: "list schedule rows", Err: err}
	}
	idx := indexOf(rows, rowID)
	if idx < 0 {
		return ErrNotFound
	}
	row := rows[idx]
	if row.ReminderDate == nil {
		return &ValidationError{Field: "compliance_date", Reason: "row has no reminder date"}
	}

	c := TruncateToDate(complianceDate)
	patch := RowPatch{ComplianceDate: SetDate(c)}
	if gap := DaysBetween(*row.ReminderDate, c); gap >= 0 {
		patch.DelinquencyDays = SetInt(gap)
	} else {
		patch.DelinquencyDays = ClearInt()
	}
	if err := s.rows.Update(ctx, rowID, patch); err != nil {
		return &StoreError{Op: "update compliance", Err: err}
	}

	cadence, err := s.cadenceFor(ctx, rxID)
	if err != nil {
		return err
	}
	if !cadence.IsSet() {
		return nil
	}

	if idx == len(rows)-1 {
		_, err := s.ExtendFrom(ctx, rxID, c, cadence)
		return err
	}
	return s.rebase(ctx, rows[idx+1:], c, cadence)
}

// rebase overwrites the reminder date of each trailing row with successive
// cadence steps from the anchor date. Each update is an independent store
// call; a failure leaves earlier updates committed.
func (s *Service) rebase(ctx context.Context, trailing []*ScheduleRow, anchor time.Time, cadence Cadence) error {
	d := anchor
	for _, row := range trailing {
		d = cadence.Next(d)
		if err := s.rows.Update(ctx, row.ID, RowPatch{ReminderDate: SetDate(d)}); err != nil {
			return &StoreError{Op: "rebase reminder date", Err: err}
		}
	}
	return nil
}

// EditReminderDate applies a reminder-cell edit. A date on a compliance-free
// row updates it; a date with rowID zero creates a new persisted row so the
// entry has an id as soon as it has a date. Clearing the date deletes the row
// outright when it carries no compliance date, and is rejected when it does:
// a row cannot exist with compliance but no reminder.
func (s *Service) EditReminderDate(ctx context.Context, rxID uuid.UUID, rowID int64, newDate *time.Time) (*ScheduleRow, error) {
	if rowID == 0 {
		if newDate == nil {
			return nil, nil
		}
		d := TruncateToDate(*newDate)
		row := &ScheduleRow{RxID: rxID, ReminderDate: &d}
		if err := s.rows.Create(ctx, row); err != nil {
			return nil, &StoreError{Op: "create schedule row", Err: err}
		}
		return row, nil
	}

	rows, err := s.rows.List(ctx, rxID)
	if err != nil {
		return nil, &StoreError{Op: "list schedule rows", Err: err}
	}
	idx := indexOf(rows, rowID)
	if idx < 0 {
		return nil, ErrNotFound
	}
	row := rows[idx]

	if newDate == nil {
		if row.ComplianceDate != nil {
			return nil, &ValidationError{Field: "reminder_date", Reason: "cannot clear reminder on a row with a compliance date"}
		}
		if err := s.rows.Delete(ctx, rowID); err != nil {
			return nil, &StoreError{Op: "delete schedule row", Err: err}
		}
		return nil, nil
	}

	d := TruncateToDate(*newDate)
	patch := RowPatch{ReminderDate: SetDate(d)}
	if row.ComplianceDate != nil {
		// Reminder moved under an existing compliance date: keep the
		// delinquency metric consistent with the sign rule.
		if gap := DaysBetween(d, *row.ComplianceDate); gap >= 0 {
			patch.DelinquencyDays = SetInt(gap)
		} else {
			patch.DelinquencyDays = ClearInt()
		}
	}
	if err := s.rows.Update(ctx, rowID, patch); err != nil {
		return nil, &StoreError{Op: "update reminder date", Err: err}
	}
	row.ReminderDate = &d
	return row, nil
}

// ChangeCadence stores the new cadence and recomputes the reminder dates of
// every row after the last compliant one, anchored at that row's compliance
// date. Rows at or before the anchor are never modified. With no compliant
// row the cadence change affects future generation only.
func (s *Service) ChangeCadence(ctx context.Context, rxID uuid.UUID, newCadence Cadence) error {
	if !newCadence.IsSet() {
		return &ValidationError{Field: "cadence", Reason: "cadence must be one of the defined values"}
	}
	if err := s.profiles.SetCadence(ctx, rxID, newCadence); err != nil {
		return &StoreError{Op: "set cadence", Err: err}
	}

	rows, err := s.rows.List(ctx, rxID)
	if err != nil {
		return &StoreError{Op: "list schedule rows", Err: err}
	}

	anchor := -1
	for i, row := range rows {
		if row.ComplianceDate != nil {
			anchor = i
		}
	}
	if anchor < 0 {
		return nil
	}

	d := *rows[anchor].ComplianceDate
	for _, row := range rows[anchor+1:] {
		if row.ReminderDate == nil {
			continue
		}
		d = newCadence.Next(d)
		if err := s.rows.Update(ctx, row.ID, RowPatch{ReminderDate: SetDate(d)}); err != nil {
			return &StoreError{Op: "rebase reminder date", Err: err}
		}
	}
	return nil
}

// ListSchedule returns the ordered schedule rows for a prescription.
func (s *Service) ListSchedule(ctx context.Context, rxID uuid.UUID) ([]*ScheduleRow, error) {
	rows, err := s.rows.List(ctx, rxID)
	if err != nil {
		return nil, &StoreError{Op: "list schedule rows", Err: err}
	}
	return rows, nil
}

// DeleteSchedule removes every schedule row and the profile for a
// prescription. The two deletes are independent calls: if the row delete
// succeeds and the profile delete fails, the orphaned profile is an accepted,
// recoverable state (profile editing recreates rows as needed).
func (s *Service) DeleteSchedule(ctx context.Context, rxID uuid.UUID) error {
	if err := s.rows.DeleteAll(ctx, rxID); err != nil {
		return &StoreError{Op: "delete schedule rows", Err: err}
	}
	if err := s.profiles.Delete(ctx, rxID); err != nil && !errors.Is(err, ErrNotFound) {
		return &StoreError{Op: "delete profile", Err: err}
	}
	return nil
}

// GetProfile returns the replenishment profile for a prescription.
func (s *Service) GetProfile(ctx context.Context, rxID uuid.UUID) (*Profile, error) {
	return s.profiles.Get(ctx, rxID)
}

// SaveProfile upserts the profile. Establishing a defined cadence with an
// initial dispensing date on a prescription that has no rows yet generates
// the initial batch.
func (s *Service) SaveProfile(ctx context.Context, p *Profile) error {
	if p.RxID == uuid.Nil {
		return &ValidationError{Field: "rx_id", Reason: "rx_id is required"}
	}
	if p.AutomailFlag == "" {
		p.AutomailFlag = AutomailNone
	}
	if err := s.profiles.Upsert(ctx, p); err != nil {
		return &StoreError{Op: "upsert profile", Err: err}
	}

	if !p.Cadence.IsSet() || p.InitialDispensingDate == nil {
		return nil
	}
	rows, err := s.rows.List(ctx, p.RxID)
	if err != nil {
		return &StoreError{Op: "list schedule rows", Err: err}
	}
	if len(rows) > 0 {
		return nil
	}
	_, err = s.GenerateInitialSchedule(ctx, p.RxID, *p.InitialDispensingDate, p.Cadence)
	return err
}

// ListProfilesByPatient returns every replenishment profile for a patient.
func (s *Service) ListProfilesByPatient(ctx context.Context, patientID uuid.UUID) ([]*Profile, error) {
	return s.profiles.ListByPatient(ctx, patientID)
}

func (s *Service) cadenceFor(ctx context.Context, rxID uuid.UUID) (Cadence, error) {
	p, err := s.profiles.Get(ctx, rxID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CadenceNone, nil
		}
		return CadenceNone, &StoreError{Op: "get profile", Err: err}
	}
	return p.Cadence, nil
}

func indexOf(rows []*ScheduleRow, id int64) int {
	for i, r := range rows {
		if r.ID == id {
			return i
		}
	}
	return -1
}
