package replenishment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Store --

type mockScheduleStore struct {
	rows   map[int64]*ScheduleRow
	nextID int64
	// failOn makes the nth Update call fail (1-based); 0 disables.
	failOn  int
	updates int
}

func newMockScheduleStore() *mockScheduleStore {
	return &mockScheduleStore{rows: make(map[int64]*ScheduleRow)}
}

func (m *mockScheduleStore) Create(_ context.Context, row *ScheduleRow) error {
	m.nextID++
	row.ID = m.nextID
	row.CreatedAt = time.Now()
	row.UpdatedAt = time.Now()
	cp := *row
	m.rows[row.ID] = &cp
	return nil
}

func (m *mockScheduleStore) Update(_ context.Context, id int64, patch RowPatch) error {
	m.updates++
	if m.failOn > 0 && m.updates >= m.failOn {
		return fmt.Errorf("connection reset")
	}
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if patch.ReminderDate.Set {
		row.ReminderDate = patch.ReminderDate.Value
	}
	if patch.ComplianceDate.Set {
		row.ComplianceDate = patch.ComplianceDate.Value
	}
	if patch.DelinquencyDays.Set {
		row.DelinquencyDays = patch.DelinquencyDays.Value
	}
	row.UpdatedAt = time.Now()
	return nil
}

func (m *mockScheduleStore) Delete(_ context.Context, id int64) error {
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *mockScheduleStore) DeleteAll(_ context.Context, rxID uuid.UUID) error {
	for id, row := range m.rows {
		if row.RxID == rxID {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *mockScheduleStore) List(_ context.Context, rxID uuid.UUID) ([]*ScheduleRow, error) {
	var out []*ScheduleRow
	for _, row := range m.rows {
		if row.RxID == rxID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.ReminderDate == nil && b.ReminderDate == nil:
			return a.ID < b.ID
		case a.ReminderDate == nil:
			return false
		case b.ReminderDate == nil:
			return true
		case a.ReminderDate.Equal(*b.ReminderDate):
			return a.ID < b.ID
		}
		return a.ReminderDate.Before(*b.ReminderDate)
	})
	return out, nil
}

type mockProfileRepo struct {
	profiles map[uuid.UUID]*Profile
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{profiles: make(map[uuid.UUID]*Profile)}
}

func (m *mockProfileRepo) Get(_ context.Context, rxID uuid.UUID) (*Profile, error) {
	p, ok := m.profiles[rxID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProfileRepo) Upsert(_ context.Context, p *Profile) error {
	cp := *p
	m.profiles[p.RxID] = &cp
	return nil
}

func (m *mockProfileRepo) SetCadence(_ context.Context, rxID uuid.UUID, c Cadence) error {
	p, ok := m.profiles[rxID]
	if !ok {
		return ErrNotFound
	}
	p.Cadence = c
	return nil
}

func (m *mockProfileRepo) Delete(_ context.Context, rxID uuid.UUID) error {
	if _, ok := m.profiles[rxID]; !ok {
		return ErrNotFound
	}
	delete(m.profiles, rxID)
	return nil
}

func (m *mockProfileRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Profile, error) {
	var out []*Profile
	for _, p := range m.profiles {
		if p.PatientID == patientID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestService() (*Service, *mockScheduleStore, *mockProfileRepo) {
	store := newMockScheduleStore()
	profiles := newMockProfileRepo()
	return NewService(store, profiles), store, profiles
}

func setupSchedule(t *testing.T, svc *Service, profiles *mockProfileRepo, cadence Cadence, start time.Time) (uuid.UUID, []*ScheduleRow) {
	t.Helper()
	rxID := uuid.New()
	profiles.profiles[rxID] = &Profile{RxID: rxID, PatientID: uuid.New(), Cadence: cadence}
	rows, err := svc.GenerateInitialSchedule(context.Background(), rxID, start, cadence)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return rxID, rows
}

func reminderDates(rows []*ScheduleRow) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.ReminderDate == nil {
			out = append(out, "nil")
			continue
		}
		out = append(out, r.ReminderDate.Format("2006-01-02"))
	}
	return out
}

// -- Generation --

func TestGenerateInitialSchedule_OneMonth(t *testing.T) {
	svc, _, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	want := []string{"2024-02-01", "2024-03-01", "2024-04-01", "2024-05-01", "2024-06-01", "2024-07-01", "2024-08-01"}
	got := reminderDates(rows)
	if len(got) != 7 {
		t.Fatalf("expected 7 rows, got %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	listed, err := svc.ListSchedule(context.Background(), rxID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 7 {
		t.Errorf("expected 7 persisted rows, got %d", len(listed))
	}
	for _, r := range listed {
		if r.ID == 0 {
			t.Error("persisted row has no id")
		}
		if r.ComplianceDate != nil {
			t.Error("fresh row should have no compliance date")
		}
	}
}

func TestGenerateInitialSchedule_EveryCadenceProducesSeven(t *testing.T) {
	start := date(2024, time.January, 1)
	for _, cadence := range []Cadence{CadenceTwelveWeeks, CadenceTwentyFourWk, CadenceOneMonth, CadenceThreeMonths, CadenceSixMonths, CadenceOneYear} {
		svc, _, profiles := newTestService()
		_, rows := setupSchedule(t, svc, profiles, cadence, start)
		if len(rows) != 7 {
			t.Fatalf("%s: expected 7 rows, got %d", cadence, len(rows))
		}
		// First row is start + interval, not start itself.
		if rows[0].ReminderDate.Equal(start) {
			t.Errorf("%s: first reminder must not equal the base date", cadence)
		}
		for i := 1; i < len(rows); i++ {
			want := cadence.Next(*rows[i-1].ReminderDate)
			if !rows[i].ReminderDate.Equal(want) {
				t.Errorf("%s: row %d expected %s, got %s", cadence, i,
					want.Format("2006-01-02"), rows[i].ReminderDate.Format("2006-01-02"))
			}
		}
	}
}

func TestGenerateInitialSchedule_UnsetCadenceNoOp(t *testing.T) {
	svc, store, _ := newTestService()
	rows, err := svc.GenerateInitialSchedule(context.Background(), uuid.New(), date(2024, time.January, 1), CadenceNone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
	if len(store.rows) != 0 {
		t.Errorf("expected nothing persisted, got %d rows", len(store.rows))
	}
}

// -- RecordCompliance --

func TestRecordCompliance_SetsDelinquencyWhenLate(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	// Row 0 reminds on 2024-02-01; patient reorders 10 days late.
	err := svc.RecordCompliance(context.Background(), rxID, rows[0].ID, date(2024, time.February, 11))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := store.rows[rows[0].ID]
	if got.ComplianceDate == nil || !got.ComplianceDate.Equal(date(2024, time.February, 11)) {
		t.Fatal("compliance date not persisted")
	}
	if got.DelinquencyDays == nil || *got.DelinquencyDays != 10 {
		t.Errorf("expected delinquency 10, got %v", got.DelinquencyDays)
	}
}

func TestRecordCompliance_OnTimeZeroDelinquency(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	err := svc.RecordCompliance(context.Background(), rxID, rows[0].ID, date(2024, time.February, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := store.rows[rows[0].ID]
	if got.DelinquencyDays == nil || *got.DelinquencyDays != 0 {
		t.Errorf("expected delinquency 0, got %v", got.DelinquencyDays)
	}
}

func TestRecordCompliance_NegativeGapLeavesDelinquencyUnset(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	// Backdated entry: compliance before the reminder date.
	err := svc.RecordCompliance(context.Background(), rxID, rows[0].ID, date(2024, time.January, 20))
	if err != nil {
		t.Fatalf("a backdated compliance date is not an error: %v", err)
	}
	got := store.rows[rows[0].ID]
	if got.ComplianceDate == nil || !got.ComplianceDate.Equal(date(2024, time.January, 20)) {
		t.Fatal("compliance date should still be persisted")
	}
	if got.DelinquencyDays != nil {
		t.Errorf("delinquency must stay unset for a negative gap, got %d", *got.DelinquencyDays)
	}
}

func TestRecordCompliance_RebasesTrailingRowsOnly(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	before := make(map[int64]time.Time)
	for _, r := range rows {
		before[r.ID] = *r.ReminderDate
	}

	// Compliance on row 2 (2024-04-01 reminder), recorded 2024-04-15.
	k := 2
	c := date(2024, time.April, 15)
	if err := svc.RecordCompliance(context.Background(), rxID, rows[k].ID, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Rows 0..k keep their original reminder dates.
	for i := 0; i <= k; i++ {
		got := store.rows[rows[i].ID]
		if !got.ReminderDate.Equal(before[rows[i].ID]) {
			t.Errorf("row %d reminder changed: %s -> %s", i,
				before[rows[i].ID].Format("2006-01-02"), got.ReminderDate.Format("2006-01-02"))
		}
	}

	// Rows k+1..N-1 are successive intervals from the compliance date.
	want := c
	for i := k + 1; i < len(rows); i++ {
		want = CadenceOneMonth.Next(want)
		got := store.rows[rows[i].ID]
		if !got.ReminderDate.Equal(want) {
			t.Errorf("row %d: expected %s, got %s", i,
				want.Format("2006-01-02"), got.ReminderDate.Format("2006-01-02"))
		}
	}
}

func TestRecordCompliance_TerminalRowExtendsBySeven(t *testing.T) {
	svc, _, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceTwelveWeeks, date(2024, time.January, 1))

	last := rows[len(rows)-1]
	c := date(2025, time.May, 10)
	if err := svc.RecordCompliance(context.Background(), rxID, last.ID, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, _ := svc.ListSchedule(context.Background(), rxID)
	if len(listed) != 14 {
		t.Fatalf("expected 14 rows after terminal extension, got %d", len(listed))
	}
	// The appended rows start at c + interval.
	want := c
	for i := 7; i < 14; i++ {
		want = CadenceTwelveWeeks.Next(want)
		if !listed[i].ReminderDate.Equal(want) {
			t.Errorf("appended row %d: expected %s, got %s", i,
				want.Format("2006-01-02"), listed[i].ReminderDate.Format("2006-01-02"))
		}
	}
}

func TestRecordCompliance_UnknownRow(t *testing.T) {
	svc, _, profiles := newTestService()
	rxID, _ := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	err := svc.RecordCompliance(context.Background(), rxID, 999, date(2024, time.March, 1))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordCompliance_StoreFailureLeavesEarlierUpdates(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	// First update (the compliance write) succeeds, second (first rebase) fails.
	store.failOn = 2
	err := svc.RecordCompliance(context.Background(), rxID, rows[0].ID, date(2024, time.February, 5))
	var serr *StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	// The compliance mutation stays committed.
	got := store.rows[rows[0].ID]
	if got.ComplianceDate == nil {
		t.Error("compliance date should remain committed after a later step fails")
	}
	// Rows beyond the failed step keep their old dates.
	if !store.rows[rows[2].ID].ReminderDate.Equal(date(2024, time.April, 1)) {
		t.Error("rows past the failure point must be untouched")
	}
}

// -- EditReminderDate --

func TestEditReminderDate_UpdateExisting(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	d := date(2024, time.February, 20)
	row, err := svc.EditReminderDate(context.Background(), rxID, rows[0].ID, &d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !row.ReminderDate.Equal(d) {
		t.Error("returned row not updated")
	}
	if !store.rows[rows[0].ID].ReminderDate.Equal(d) {
		t.Error("store not updated")
	}
}

func TestEditReminderDate_NewRowGetsID(t *testing.T) {
	svc, _, profiles := newTestService()
	rxID := uuid.New()
	profiles.profiles[rxID] = &Profile{RxID: rxID, Cadence: CadenceOneMonth}

	d := date(2024, time.September, 1)
	row, err := svc.EditReminderDate(context.Background(), rxID, 0, &d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ID == 0 {
		t.Error("a row with a date must have an id")
	}
}

func TestEditReminderDate_ClearDeletesRow(t *testing.T) {
	svc, _, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	row, err := svc.EditReminderDate(context.Background(), rxID, rows[3].ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row != nil {
		t.Error("cleared row should return nil")
	}
	listed, _ := svc.ListSchedule(context.Background(), rxID)
	for _, r := range listed {
		if r.ID == rows[3].ID {
			t.Error("deleted row still present in List")
		}
	}
	if len(listed) != 6 {
		t.Errorf("expected 6 rows, got %d", len(listed))
	}
}

func TestEditReminderDate_ClearWithComplianceRejected(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	if err := svc.RecordCompliance(context.Background(), rxID, rows[0].ID, date(2024, time.February, 3)); err != nil {
		t.Fatalf("record compliance: %v", err)
	}

	_, err := svc.EditReminderDate(context.Background(), rxID, rows[0].ID, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "reminder_date" {
		t.Errorf("expected field 'reminder_date', got %q", verr.Field)
	}
	// Row left as-is.
	if store.rows[rows[0].ID].ReminderDate == nil {
		t.Error("row must be untouched after a rejected edit")
	}
}

func TestEditReminderDate_RecomputesDelinquencyUnderCompliance(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	if err := svc.RecordCompliance(context.Background(), rxID, rows[0].ID, date(2024, time.February, 10)); err != nil {
		t.Fatalf("record compliance: %v", err)
	}

	// Move the reminder earlier: gap widens to 15 days.
	d := date(2024, time.January, 26)
	if _, err := svc.EditReminderDate(context.Background(), rxID, rows[0].ID, &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := store.rows[rows[0].ID]
	if got.DelinquencyDays == nil || *got.DelinquencyDays != 15 {
		t.Errorf("expected delinquency 15, got %v", got.DelinquencyDays)
	}

	// Move the reminder after the compliance date: delinquency cleared.
	d2 := date(2024, time.March, 1)
	if _, err := svc.EditReminderDate(context.Background(), rxID, rows[0].ID, &d2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rows[rows[0].ID].DelinquencyDays != nil {
		t.Error("expected delinquency cleared for a negative gap")
	}
}

// -- ChangeCadence --

func TestChangeCadence_RebasesAfterLastCompliantRow(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	// Row 0 compliant on 2024-02-05 (this also rebases rows 1..6 at one month).
	c := date(2024, time.February, 5)
	if err := svc.RecordCompliance(context.Background(), rxID, rows[0].ID, c); err != nil {
		t.Fatalf("record compliance: %v", err)
	}

	if err := svc.ChangeCadence(context.Background(), rxID, CadenceTwelveWeeks); err != nil {
		t.Fatalf("change cadence: %v", err)
	}

	// Anchor row untouched.
	anchor := store.rows[rows[0].ID]
	if !anchor.ReminderDate.Equal(date(2024, time.February, 1)) {
		t.Error("anchor row reminder must not change")
	}
	if !anchor.ComplianceDate.Equal(c) {
		t.Error("anchor row compliance must not change")
	}

	// Trailing rows now step by 12 weeks from the compliance date.
	listed, _ := svc.ListSchedule(context.Background(), rxID)
	want := c
	for i := 1; i < len(listed); i++ {
		want = CadenceTwelveWeeks.Next(want)
		if !listed[i].ReminderDate.Equal(want) {
			t.Errorf("row %d: expected %s, got %s", i,
				want.Format("2006-01-02"), listed[i].ReminderDate.Format("2006-01-02"))
		}
	}

	// Cadence persisted on the profile.
	p, _ := profiles.Get(context.Background(), rxID)
	if p.Cadence != CadenceTwelveWeeks {
		t.Errorf("expected cadence persisted, got %s", p.Cadence)
	}
}

func TestChangeCadence_NoCompliantRowNoRebase(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, rows := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	before := make(map[int64]time.Time)
	for _, r := range rows {
		before[r.ID] = *r.ReminderDate
	}

	if err := svc.ChangeCadence(context.Background(), rxID, CadenceSixMonths); err != nil {
		t.Fatalf("change cadence: %v", err)
	}
	for id, want := range before {
		if !store.rows[id].ReminderDate.Equal(want) {
			t.Error("reminder dates must be unchanged when no row is compliant")
		}
	}
	p, _ := profiles.Get(context.Background(), rxID)
	if p.Cadence != CadenceSixMonths {
		t.Error("cadence should still be persisted for future generation")
	}
}

func TestChangeCadence_UnsetRejected(t *testing.T) {
	svc, _, profiles := newTestService()
	rxID, _ := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	err := svc.ChangeCadence(context.Background(), rxID, CadenceNone)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// -- DeleteSchedule / SaveProfile --

func TestDeleteSchedule_RemovesRowsAndProfile(t *testing.T) {
	svc, store, profiles := newTestService()
	rxID, _ := setupSchedule(t, svc, profiles, CadenceOneMonth, date(2024, time.January, 1))

	if err := svc.DeleteSchedule(context.Background(), rxID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.rows) != 0 {
		t.Errorf("expected no rows, got %d", len(store.rows))
	}
	if _, err := profiles.Get(context.Background(), rxID); !errors.Is(err, ErrNotFound) {
		t.Error("expected profile deleted")
	}
}

func TestDeleteSchedule_MissingProfileIsFine(t *testing.T) {
	svc, _, _ := newTestService()
	if err := svc.DeleteSchedule(context.Background(), uuid.New()); err != nil {
		t.Errorf("deleting a schedule with no profile should succeed: %v", err)
	}
}

func TestSaveProfile_EstablishingCadenceGeneratesRows(t *testing.T) {
	svc, store, _ := newTestService()
	rxID := uuid.New()
	start := date(2024, time.March, 1)
	p := &Profile{RxID: rxID, PatientID: uuid.New(), Cadence: CadenceThreeMonths, InitialDispensingDate: &start}

	if err := svc.SaveProfile(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.rows) != 7 {
		t.Fatalf("expected 7 generated rows, got %d", len(store.rows))
	}

	// Saving again must not duplicate the batch.
	if err := svc.SaveProfile(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.rows) != 7 {
		t.Errorf("expected batch not regenerated, got %d rows", len(store.rows))
	}
}

func TestSaveProfile_NoCadenceNoRows(t *testing.T) {
	svc, store, _ := newTestService()
	p := &Profile{RxID: uuid.New(), PatientID: uuid.New()}
	if err := svc.SaveProfile(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.rows) != 0 {
		t.Errorf("expected no rows, got %d", len(store.rows))
	}
	if p.AutomailFlag != AutomailNone {
		t.Errorf("expected automail flag defaulted to none, got %q", p.AutomailFlag)
	}
}
