package replenishment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DateField carries an optional date for a partial row update. Unset fields
// leave the column unchanged; Set with a nil Value clears it.
type DateField struct {
	Set   bool
	Value *time.Time
}

// IntField is the integer counterpart of DateField.
type IntField struct {
	Set   bool
	Value *int
}

func SetDate(t time.Time) DateField { return DateField{Set: true, Value: &t} }
func SetInt(v int) IntField         { return IntField{Set: true, Value: &v} }
func ClearInt() IntField            { return IntField{Set: true} }

// RowPatch is a partial update of a schedule row.
type RowPatch struct {
	ReminderDate    DateField
	ComplianceDate  DateField
	DelinquencyDays IntField
}

// ScheduleStore persists schedule rows. List returns rows for a prescription
// ordered by reminder date ascending, null reminder dates last.
type ScheduleStore interface {
	Create(ctx context.Context, row *ScheduleRow) error
	Update(ctx context.Context, id int64, patch RowPatch) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context, rxID uuid.UUID) error
	List(ctx context.Context, rxID uuid.UUID) ([]*ScheduleRow, error)
}

// ProfileRepository persists per-prescription replenishment configuration.
type ProfileRepository interface {
	Get(ctx context.Context, rxID uuid.UUID) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
	SetCadence(ctx context.Context, rxID uuid.UUID, c Cadence) error
	Delete(ctx context.Context, rxID uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Profile, error)
}
