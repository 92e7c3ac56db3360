package replenishment

import (
	"time"

	"github.com/google/uuid"
)

// Cadence is the configured interval category governing how often a patient
// should be reminded to reorder lenses.
type Cadence string

const (
	CadenceNone         Cadence = ""
	CadenceTwelveWeeks  Cadence = "12_weeks"
	CadenceTwentyFourWk Cadence = "24_weeks"
	CadenceOneMonth     Cadence = "1_month"
	CadenceThreeMonths  Cadence = "3_months"
	CadenceSixMonths    Cadence = "6_months"
	CadenceOneYear      Cadence = "1_year"
)

var cadences = map[Cadence]bool{
	CadenceTwelveWeeks:  true,
	CadenceTwentyFourWk: true,
	CadenceOneMonth:     true,
	CadenceThreeMonths:  true,
	CadenceSixMonths:    true,
	CadenceOneYear:      true,
}

// ParseCadence validates a cadence token. The empty string is the valid
// "unset" cadence; anything else must be one of the six defined values.
func ParseCadence(s string) (Cadence, error) {
	c := Cadence(s)
	if c == CadenceNone || cadences[c] {
		return c, nil
	}
	return CadenceNone, &ValidationError{Field: "cadence", Reason: "unknown cadence value"}
}

// IsSet reports whether the cadence is one of the six defined values.
func (c Cadence) IsSet() bool { return cadences[c] }

// Next returns d advanced by one cadence interval. Week-based cadences add a
// fixed day count; month and year cadences add calendar months clamped to the
// last day of the target month. Unset cadence returns d unchanged.
func (c Cadence) Next(d time.Time) time.Time {
	switch c {
	case CadenceTwelveWeeks:
		return d.AddDate(0, 0, 84)
	case CadenceTwentyFourWk:
		return d.AddDate(0, 0, 168)
	case CadenceOneMonth:
		return addMonthsClamped(d, 1)
	case CadenceThreeMonths:
		return addMonthsClamped(d, 3)
	case CadenceSixMonths:
		return addMonthsClamped(d, 6)
	case CadenceOneYear:
		return addMonthsClamped(d, 12)
	}
	return d
}

// addMonthsClamped adds n calendar months keeping the day of month, clamping
// to the last day of the target month (Jan 31 + 1 month = Feb 29 in 2024).
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, day := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// TruncateToDate drops the time-of-day component, normalizing to UTC midnight.
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns b - a in whole calendar days.
func DaysBetween(a, b time.Time) int {
	return int(TruncateToDate(b).Sub(TruncateToDate(a)).Hours() / 24)
}

// RowState is the explicit per-row state of a schedule entry.
type RowState int

const (
	RowEmpty RowState = iota
	RowReminderOnly
	RowReminderAndCompliance
	RowInvalid
)

func (s RowState) String() string {
	switch s {
	case RowEmpty:
		return "empty"
	case RowReminderOnly:
		return "reminder_only"
	case RowReminderAndCompliance:
		return "reminder_and_compliance"
	}
	return "invalid"
}

// ScheduleRow maps to the schedule_row table: one reminder entry for a
// prescription. ID is zero for a row not yet persisted.
type ScheduleRow struct {
	ID              int64      `db:"id" json:"id"`
	RxID            uuid.UUID  `db:"rx_id" json:"rx_id"`
	ReminderDate    *time.Time `db:"reminder_date" json:"reminder_date,omitempty"`
	ComplianceDate  *time.Time `db:"compliance_date" json:"compliance_date,omitempty"`
	DelinquencyDays *int       `db:"delinquency_days" json:"delinquency_days,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// State classifies the row. A compliance date without a reminder date is the
// one combination the schedule must never hold.
func (r *ScheduleRow) State() RowState {
	switch {
	case r.ReminderDate == nil && r.ComplianceDate == nil:
		return RowEmpty
	case r.ReminderDate != nil && r.ComplianceDate == nil:
		return RowReminderOnly
	case r.ReminderDate != nil && r.ComplianceDate != nil:
		return RowReminderAndCompliance
	}
	return RowInvalid
}

// AutomailFlag enumerates how reorder reminders are mailed for a prescription.
type AutomailFlag string

const (
	AutomailNone        AutomailFlag = "none"
	AutomailEnabled     AutomailFlag = "automail"
	AutomailDiffAddress AutomailFlag = "automail_diff_address"
	AutomailNotes       AutomailFlag = "notes_for_automail"
)

var automailFlags = map[AutomailFlag]bool{
	AutomailNone:        true,
	AutomailEnabled:     true,
	AutomailDiffAddress: true,
	AutomailNotes:       true,
}

func ParseAutomailFlag(s string) (AutomailFlag, error) {
	if s == "" {
		return AutomailNone, nil
	}
	f := AutomailFlag(s)
	if automailFlags[f] {
		return f, nil
	}
	return AutomailNone, &ValidationError{Field: "automail_flag", Reason: "unknown automail flag"}
}

// Profile maps to the replenishment_profile table: per-prescription
// replenishment configuration. The scheduler reads only Cadence from it.
type Profile struct {
	RxID                  uuid.UUID    `db:"rx_id" json:"rx_id"`
	PatientID             uuid.UUID    `db:"patient_id" json:"patient_id"`
	Cadence               Cadence      `db:"cadence" json:"cadence"`
	InitialDispensingDate *time.Time   `db:"initial_dispensing_date" json:"initial_dispensing_date,omitempty"`
	AutomailFlag          AutomailFlag `db:"automail_flag" json:"automail_flag"`
	DoNotSend             bool         `db:"do_not_send" json:"do_not_send"`
	Notes                 *string      `db:"notes" json:"notes,omitempty"`
	CreatedAt             time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at" json:"updated_at"`
}
