package reporting

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/lenscare/lenscare/internal/platform/auth"
)

const dateLayout = "2006-01-02"

// DelinquencyEntry is one line of the delinquency report: a schedule row
// whose compliance was recorded on or after its reminder date, joined to
// the patient it belongs to.
type DelinquencyEntry struct {
	RxID            uuid.UUID `json:"rx_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	PatientLast     string    `json:"patient_last_name"`
	PatientFirst    string    `json:"patient_first_name"`
	ReminderDate    time.Time `json:"reminder_date"`
	ComplianceDate  time.Time `json:"compliance_date"`
	DelinquencyDays int       `json:"delinquency_days"`
}

// AutomailEntry is one line of the automail report: an upcoming reminder
// for a prescription whose profile has automail enabled, with the mailing
// address needed to send it.
type AutomailEntry struct {
	RxID         uuid.UUID `json:"rx_id"`
	PatientID    uuid.UUID `json:"patient_id"`
	PatientLast  string    `json:"patient_last_name"`
	PatientFirst string    `json:"patient_first_name"`
	ReminderDate time.Time `json:"reminder_date"`
	AutomailFlag string    `json:"automail_flag"`
	Notes        *string   `json:"notes,omitempty"`
	AddressLine1 *string   `json:"address_line1,omitempty"`
	AddressLine2 *string   `json:"address_line2,omitempty"`
	City         *string   `json:"city,omitempty"`
	State        *string   `json:"state,omitempty"`
	PostalCode   *string   `json:"postal_code,omitempty"`
}

// Report wraps a report's rows with the window it covers.
type Report struct {
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	GeneratedAt time.Time   `json:"generated_at"`
	Count       int         `json:"count"`
	Entries     interface{} `json:"entries"`
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates a new reporting handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole("admin", "optometrist"))
	reportGroup.GET("/delinquency", h.DelinquencyReport)
	reportGroup.GET("/automail", h.AutomailReport)
}

// ParseWindow reads from/to query parameters and validates the range.
func ParseWindow(from, to string) (time.Time, time.Time, error) {
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "from and to are required")
	}
	f, err := time.Parse(dateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
	}
	t, err := time.Parse(dateLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "to must not precede from")
	}
	return f, t, nil
}

// DelinquencyReport lists compliant rows in the window whose refill came
// in on or after the reminder date, most delinquent first.
func (h *Handler) DelinquencyReport(c echo.Context) error {
	from, to, err := ParseWindow(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return err
	}
	entries, err := h.queryDelinquency(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "storage failure")
	}
	return c.JSON(http.StatusOK, Report{
		From: from, To: to, GeneratedAt: time.Now(),
		Count: len(entries), Entries: entries,
	})
}

// AutomailReport lists reminders falling in the window for prescriptions
// with automail enabled and mailing not suppressed.
func (h *Handler) AutomailReport(c echo.Context) error {
	from, to, err := ParseWindow(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return err
	}
	entries, err := h.queryAutomail(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "storage failure")
	}
	return c.JSON(http.StatusOK, Report{
		From: from, To: to, GeneratedAt: time.Now(),
		Count: len(entries), Entries: entries,
	})
}

func (h *Handler) queryDelinquency(ctx context.Context, from, to time.Time) ([]DelinquencyEntry, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT r.rx_id, p.id, p.last_name, p.first_name,
		       r.reminder_date, r.compliance_date, r.delinquency_days
		FROM schedule_row r
		JOIN replenishment_profile rp ON rp.rx_id = r.rx_id
		JOIN patient p ON p.id = rp.patient_id
		WHERE r.reminder_date BETWEEN $1 AND $2
		  AND r.compliance_date IS NOT NULL
		  AND r.delinquency_days IS NOT NULL
		ORDER BY r.delinquency_days DESC, r.reminder_date ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []DelinquencyEntry{}
	for rows.Next() {
		var e DelinquencyEntry
		if err := rows.Scan(&e.RxID, &e.PatientID, &e.PatientLast, &e.PatientFirst,
			&e.ReminderDate, &e.ComplianceDate, &e.DelinquencyDays); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (h *Handler) queryAutomail(ctx context.Context, from, to time.Time) ([]AutomailEntry, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT r.rx_id, p.id, p.last_name, p.first_name, r.reminder_date,
		       rp.automail_flag, rp.notes,
		       p.address_line1, p.address_line2, p.city, p.state, p.postal_code
		FROM schedule_row r
		JOIN replenishment_profile rp ON rp.rx_id = r.rx_id
		JOIN patient p ON p.id = rp.patient_id
		WHERE r.reminder_date BETWEEN $1 AND $2
		  AND r.compliance_date IS NULL
		  AND rp.automail_flag <> 'none'
		  AND rp.do_not_send = FALSE
		ORDER BY r.reminder_date ASC, p.last_name ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []AutomailEntry{}
	for rows.Next() {
		var e AutomailEntry
		if err := rows.Scan(&e.RxID, &e.PatientID, &e.PatientLast, &e.PatientFirst, &e.ReminderDate,
			&e.AutomailFlag, &e.Notes,
			&e.AddressLine1, &e.AddressLine2, &e.City, &e.State, &e.PostalCode); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
