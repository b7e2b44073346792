package adherence

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medtrack/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/prescriptions")
	g.GET("", h.ListPrescriptions)
	g.GET("/calendar", h.GetCalendar)
	g.GET("/schedule", h.GetSchedule)
	g.GET("/stats", h.GetStats)
	// Marking is a patient action; doctors only read.
	g.POST("/mark-taken", h.MarkTaken, auth.DenyRole(auth.DoctorRoles...))

	// Doctors search histories; the history view never offers mark-taken.
	doctors := g.Group("", auth.RequireRole(auth.DoctorRoles...))
	doctors.GET("/history/:dni", h.GetPatientHistory)
}

// httpError translates an adherence error into an echo error.
func httpError(err error) *echo.HTTPError {
	var ae *Error
	msg := err.Error()
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	switch KindOf(err) {
	case KindValidation:
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	case KindAuth:
		return echo.NewHTTPError(http.StatusUnauthorized, msg)
	case KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, msg)
	case KindNetwork, KindUpstream:
		return echo.NewHTTPError(http.StatusBadGateway, msg)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, msg)
	}
}

func dayParam(c echo.Context) (DayKey, error) {
	raw := c.QueryParam("day")
	if raw == "" {
		return "", nil
	}
	return ParseDayKey(raw)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	v, err := h.svc.ListView(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetCalendar(c echo.Context) error {
	day, err := dayParam(c)
	if err != nil {
		return httpError(err)
	}
	v, err := h.svc.CalendarView(c.Request().Context(), day)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	day, err := dayParam(c)
	if err != nil {
		return httpError(err)
	}
	entries, err := h.svc.Schedule(c.Request().Context(), day)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"day":   orToday(day, h.svc),
		"items": entries,
	})
}

func orToday(day DayKey, svc *Service) DayKey {
	if day == "" {
		return svc.Today()
	}
	return day
}

func (h *Handler) GetStats(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		stats *ComplianceStats
		err   error
	)
	switch c.QueryParam("source") {
	case "", "local":
		stats, err = h.svc.Stats(ctx)
	case "upstream":
		stats, err = h.svc.ServerStats(ctx)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "source must be local or upstream")
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"stats": stats})
}

func (h *Handler) MarkTaken(c echo.Context) error {
	var req MarkTakenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.MarkTaken(c.Request().Context(), req.PrescriptionItemID)
	if err != nil && out == nil {
		return httpError(err)
	}
	if err != nil {
		// The mark went through but the refresh failed; report both.
		return c.JSON(http.StatusOK, map[string]interface{}{
			"result":        out.Result,
			"refresh_error": httpError(err).Message,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetPatientHistory(c echo.Context) error {
	hist, err := h.svc.SearchByPatient(c.Request().Context(), c.Param("dni"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hist)
}
