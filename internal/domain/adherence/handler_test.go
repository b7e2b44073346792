package adherence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medtrack/internal/platform/auth"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	svc, repo := newTestService()
	return NewHandler(svc), repo, echo.New()
}

func TestHandler_ListPrescriptions(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPrescriptions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var v View
	json.Unmarshal(rec.Body.Bytes(), &v)
	if len(v.Prescriptions) != 2 {
		t.Errorf("expected 2 prescriptions, got %d", len(v.Prescriptions))
	}
}

func TestHandler_ListPrescriptions_AuthError(t *testing.T) {
	h, repo, e := newTestHandler()
	repo.fetchErr = NewError(KindAuth, "fetch prescriptions", "session expired", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.ListPrescriptions(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if httpErr.Message != "session expired" {
		t.Errorf("expected message to be kept, got %v", httpErr.Message)
	}
}

func TestHandler_GetCalendar(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions/calendar?day=2024-05-03", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetCalendar(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		Day           string         `json:"day"`
		Prescriptions []Prescription `json:"prescriptions"`
		Days          []struct {
			Day    string `json:"day"`
			Marker string `json:"marker"`
		} `json:"days"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Day != "2024-05-03" {
		t.Errorf("expected day 2024-05-03, got %s", body.Day)
	}
	if len(body.Prescriptions) != 1 || body.Prescriptions[0].ID != "2" {
		t.Errorf("unexpected prescriptions %+v", body.Prescriptions)
	}
	found := false
	for _, d := range body.Days {
		if d.Day == "2024-05-01" && d.Marker == "actionable" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected 2024-05-01 to render as actionable, got %+v", body.Days)
	}
}

func TestHandler_GetCalendar_BadDay(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions/calendar?day=yesterday", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.GetCalendar(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetSchedule(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions/schedule", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetSchedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Day   string          `json:"day"`
		Items []ScheduleEntry `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Day != "2024-05-01" || len(body.Items) != 2 {
		t.Errorf("unexpected schedule %+v", body)
	}
}

func TestHandler_GetStats(t *testing.T) {
	h, repo, e := newTestHandler()
	repo.stats = &ComplianceStats{Total: 4, Taken: 3, Pending: 1, Percentage: 75}

	tests := []struct {
		query string
		want  int
	}{
		{"", 33},
		{"?source=local", 33},
		{"?source=upstream", 75},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions/stats"+tt.query, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		if err := h.GetStats(c); err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.query, err)
		}
		var body struct {
			Stats ComplianceStats `json:"stats"`
		}
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Stats.Percentage != tt.want {
			t.Errorf("%q: expected percentage %d, got %d", tt.query, tt.want, body.Stats.Percentage)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions/stats?source=elsewhere", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if err := h.GetStats(c); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestHandler_MarkTaken(t *testing.T) {
	h, repo, e := newTestHandler()

	body := `{"prescriptionItemId":"10"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions/mark-taken", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MarkTaken(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var out MarkOutcome
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Result.Status != StatusMarked {
		t.Errorf("expected marked, got %s", out.Result.Status)
	}
	if repo.markCalls != 1 {
		t.Errorf("expected one repository mark, got %d", repo.markCalls)
	}
}

func TestHandler_MarkTaken_MissingID(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions/mark-taken", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.MarkTaken(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_MarkTaken_UnknownItem(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions/mark-taken", strings.NewReader(`{"prescriptionItemId":"404"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.MarkTaken(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_MarkTaken_NetworkError(t *testing.T) {
	h, repo, e := newTestHandler()
	repo.markErr = NewError(KindNetwork, "mark taken", "records API unreachable", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions/mark-taken", strings.NewReader(`{"prescriptionItemId":"10"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.MarkTaken(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %v", err)
	}
}

func TestHandler_GetPatientHistory(t *testing.T) {
	h, repo, e := newTestHandler()
	repo.histories["12345678"] = &PatientHistory{Patient: Patient{ID: "5", DNI: "12345678", FullName: "Juan Soto"}}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("dni")
	c.SetParamValues("12345678")

	if err := h.GetPatientHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var hist PatientHistory
	json.Unmarshal(rec.Body.Bytes(), &hist)
	if hist.Patient.FullName != "Juan Soto" {
		t.Errorf("unexpected patient %+v", hist.Patient)
	}
}

func TestHandler_GetPatientHistory_NotFound(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("dni")
	c.SetParamValues("00000000")

	err := h.GetPatientHistory(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_RegisterRoutes_HistoryRequiresDoctor(t *testing.T) {
	h, repo, _ := newTestHandler()
	repo.histories["12345678"] = &PatientHistory{Patient: Patient{DNI: "12345678"}}

	withRoles := func(roles ...string) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				ctx := context.WithValue(c.Request().Context(), auth.UserRolesKey, roles)
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}
		}
	}

	tests := []struct {
		role string
		want int
	}{
		{auth.RolePatient, http.StatusForbidden},
		{auth.RoleDoctor, http.StatusOK},
		{auth.RoleProfessional, http.StatusOK},
		{auth.RoleAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		e := echo.New()
		e.Use(withRoles(tt.role))
		h.RegisterRoutes(e.Group("/api/v1"))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions/history/12345678", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Errorf("role %s: expected %d, got %d", tt.role, tt.want, rec.Code)
		}
	}
}

func TestHandler_RegisterRoutes_MarkTakenRejectsDoctors(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{auth.RoleDoctor, http.StatusForbidden},
		{auth.RoleProfessional, http.StatusForbidden},
		{auth.RolePatient, http.StatusOK},
		{auth.RoleAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		h, repo, _ := newTestHandler()
		e := echo.New()
		role := tt.role
		e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				ctx := context.WithValue(c.Request().Context(), auth.UserRolesKey, []string{role})
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}
		})
		h.RegisterRoutes(e.Group("/api/v1"))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions/mark-taken", strings.NewReader(`{"prescriptionItemId":"10"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Errorf("role %s: expected %d, got %d", tt.role, tt.want, rec.Code)
		}
		wantCalls := 0
		if tt.want == http.StatusOK {
			wantCalls = 1
		}
		if repo.markCalls != wantCalls {
			t.Errorf("role %s: expected %d repository marks, got %d", tt.role, wantCalls, repo.markCalls)
		}
	}
}
