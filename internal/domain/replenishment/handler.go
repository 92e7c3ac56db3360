package replenishment

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lenscare/lenscare/internal/platform/auth"
)

// dateLayout is the wire format for all schedule dates.
const dateLayout = "2006-01-02"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "optometrist", "technician"))
	readGroup.GET("/rx/:rxID/schedule", h.GetSchedule)
	readGroup.GET("/rx/:rxID/profile", h.GetProfile)
	readGroup.GET("/patients/:id/profiles", h.ListProfilesByPatient)

	writeGroup := api.Group("", auth.RequireRole("admin", "optometrist"))
	writeGroup.PUT("/rx/:rxID/profile", h.SaveProfile)
	writeGroup.POST("/rx/:rxID/schedule/generate", h.GenerateSchedule)
	writeGroup.POST("/rx/:rxID/schedule/rows", h.CreateRow)
	writeGroup.PUT("/rx/:rxID/schedule/rows/:id/reminder", h.EditReminder)
	writeGroup.PUT("/rx/:rxID/schedule/rows/:id/compliance", h.RecordCompliance)
	writeGroup.PUT("/rx/:rxID/cadence", h.ChangeCadence)
	writeGroup.DELETE("/rx/:rxID/schedule", h.DeleteSchedule)
}

// rowResponse is the grid-facing view of a schedule row.
type rowResponse struct {
	ID              int64   `json:"id"`
	RxID            string  `json:"rx_id"`
	ReminderDate    *string `json:"reminder_date"`
	ComplianceDate  *string `json:"compliance_date"`
	DelinquencyDays *int    `json:"delinquency_days"`
	State           string  `json:"state"`
}

func toRowResponse(r *ScheduleRow) rowResponse {
	return rowResponse{
		ID:              r.ID,
		RxID:            r.RxID.String(),
		ReminderDate:    formatDate(r.ReminderDate),
		ComplianceDate:  formatDate(r.ComplianceDate),
		DelinquencyDays: r.DelinquencyDays,
		State:           r.State().String(),
	}
}

func toRowResponses(rows []*ScheduleRow) []rowResponse {
	out := make([]rowResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, toRowResponse(r))
	}
	return out
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

// parseDate rejects malformed date input at the edge; the scheduler operates
// only on already-validated calendar dates.
func parseDate(field, s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Reason: "date must be YYYY-MM-DD"}
	}
	return d, nil
}

func (h *Handler) GetSchedule(c echo.Context) error {
	rxID, err := uuid.Parse(c.Param("rxID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rx id")
	}
	rows, err := h.svc.ListSchedule(c.Request().Context(), rxID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toRowResponses(rows))
}

type generateRequest struct {
	InitialDispensingDate string `json:"initial_dispensing_date"`
	Cadence               string `json:"cadence"`
}

func (h *Handler) GenerateSchedule(c echo.Context) error {
	rxID, err := uuid.Parse(c.Param("rxID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rx id")
	}
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cadence, err := ParseCadence(req.Cadence)
	if err != nil {
		return httpError(err)
	}
	start, err := parseDate("initial_dispensing_date", req.InitialDispensingDate)
	if err != nil {
		return httpError(err)
	}
	rows, err := h.svc.GenerateInitialSchedule(c.Request().Context(), rxID, start, cadence)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, toRowResponses(rows))
}

type reminderEdit struct {
	// Date is nil when the user cleared the cell.
	Date *string `json:"date"`
}

func (h *Handler) CreateRow(c echo.Context) error {
	rxID, err := uuid.Parse(c.Param("rxID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rx id")
	}
	var req reminderEdit
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Date == nil {
		return httpError(&ValidationError{Field: "date", Reason: "date is required"})
	}
	d, err := parseDate("date", *req.Date)
	if err != nil {
		return httpError(err)
	}
	row, err := h.svc.EditReminderDate(c.Request().Context(), rxID, 0, &d)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, toRowResponse(row))
}

func (h *Handler) EditReminder(c echo.Context) error {
	rxID, rowID, err := scheduleRowParams(c)
	if err != nil {
		return err
	}
	var req reminderEdit
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var newDate *time.Time
	if req.Date != nil {
		d, err := parseDate("date", *req.Date)
		if err != nil {
			return httpError(err)
		}
		newDate = &d
	}
	row, err := h.svc.EditReminderDate(c.Request().Context(), rxID, rowID, newDate)
	if err != nil {
		return httpError(err)
	}
	if row == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, toRowResponse(row))
}

type complianceEdit struct {
	Date string `json:"date"`
}

func (h *Handler) RecordCompliance(c echo.Context) error {
	rxID, rowID, err := scheduleRowParams(c)
	if err != nil {
		return err
	}
	var req complianceEdit
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := parseDate("date", req.Date)
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.RecordCompliance(c.Request().Context(), rxID, rowID, d); err != nil {
		return httpError(err)
	}
	rows, err := h.svc.ListSchedule(c.Request().Context(), rxID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toRowResponses(rows))
}

type cadenceChange struct {
	Cadence string `json:"cadence"`
}

func (h *Handler) ChangeCadence(c echo.Context) error {
	rxID, err := uuid.Parse(c.Param("rxID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rx id")
	}
	var req cadenceChange
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cadence, err := ParseCadence(req.Cadence)
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.ChangeCadence(c.Request().Context(), rxID, cadence); err != nil {
		return httpError(err)
	}
	rows, err := h.svc.ListSchedule(c.Request().Context(), rxID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toRowResponses(rows))
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	rxID, err := uuid.Parse(c.Param("rxID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rx id")
	}
	if err := h.svc.DeleteSchedule(c.Request().Context(), rxID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetProfile(c echo.Context) error {
	rxID, err := uuid.Parse(c.Param("rxID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rx id")
	}
	p, err := h.svc.GetProfile(c.Request().Context(), rxID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type profileRequest struct {
	PatientID             string  `json:"patient_id"`
	Cadence               string  `json:"cadence"`
	InitialDispensingDate *string `json:"initial_dispensing_date"`
	AutomailFlag          string  `json:"automail_flag"`
	DoNotSend             bool    `json:"do_not_send"`
	Notes                 *string `json:"notes"`
}

func (h *Handler) SaveProfile(c echo.Context) error {
	rxID, err := uuid.Parse(c.Param("rxID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rx id")
	}
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return httpError(&ValidationError{Field: "patient_id", Reason: "invalid patient id"})
	}
	cadence, err := ParseCadence(req.Cadence)
	if err != nil {
		return httpError(err)
	}
	flag, err := ParseAutomailFlag(req.AutomailFlag)
	if err != nil {
		return httpError(err)
	}
	p := &Profile{
		RxID:         rxID,
		PatientID:    patientID,
		Cadence:      cadence,
		AutomailFlag: flag,
		DoNotSend:    req.DoNotSend,
		Notes:        req.Notes,
	}
	if req.InitialDispensingDate != nil {
		d, err := parseDate("initial_dispensing_date", *req.InitialDispensingDate)
		if err != nil {
			return httpError(err)
		}
		d = TruncateToDate(d)
		p.InitialDispensingDate = &d
	}
	if err := h.svc.SaveProfile(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProfilesByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	profiles, err := h.svc.ListProfilesByPatient(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profiles)
}

func scheduleRowParams(c echo.Context) (uuid.UUID, int64, error) {
	rxID, err := uuid.Parse(c.Param("rxID"))
	if err != nil {
		return uuid.Nil, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid rx id")
	}
	var rowID int64
	if err := echo.PathParamsBinder(c).Int64("id", &rowID).BindError(); err != nil || rowID <= 0 {
		return uuid.Nil, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid row id")
	}
	return rxID, rowID, nil
}

// httpError maps the domain error taxonomy onto HTTP responses. Validation
// failures name the offending field; store failures surface as a generic
// notice without internal detail.
func httpError(err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
			"field": verr.Field,
			"error": verr.Reason,
		})
	}
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "schedule row not found")
	}
	var serr *StoreError
	if errors.As(err, &serr) {
		return echo.NewHTTPError(http.StatusInternalServerError, "storage failure")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
