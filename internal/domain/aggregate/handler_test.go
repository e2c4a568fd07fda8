package aggregate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(repo *mockRepo) (*Handler, *echo.Echo) {
	h := NewHandler(newTestService(repo))
	e := echo.New()
	return h, e
}

func TestHandler_GetPatientData_MissingID(t *testing.T) {
	h, e := newTestHandler(newMockRepo())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient-data", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetPatientData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "patient_id required" {
		t.Errorf("expected 'patient_id required', got %q", body["error"])
	}
}

func TestHandler_GetPatientData_EmptyDomains(t *testing.T) {
	repo := newMockRepo()
	h, e := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient-data?patient_id=p1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetPatientData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var bundle map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("unmarshal bundle: %v", err)
	}
	for _, key := range []string{"vitals", "appointments", "immunizations", "insurance",
		"prescriptions", "orders", "care_plans", "alerts"} {
		raw, ok := bundle[key]
		if !ok {
			t.Errorf("expected key %q present", key)
			continue
		}
		if string(raw) == "null" {
			t.Errorf("expected %q to be an empty array, got null", key)
		}
	}
}

func TestHandler_UpdatePatientData_NotWhitelisted(t *testing.T) {
	repo := newMockRepo()
	h, e := newTestHandler(repo)

	body := `{"table":"secret_table","id":"x","updates":{"a":1}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/patient-data", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.UpdatePatientData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if repo.mutationCount() != 0 {
		t.Error("expected no store mutation")
	}
}

func TestHandler_UpdatePatientData_MissingFields(t *testing.T) {
	h, e := newTestHandler(newMockRepo())

	body := `{"table":"patient_medications"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/patient-data", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.UpdatePatientData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_UpdatePatientData_Success(t *testing.T) {
	repo := newMockRepo()
	repo.seed("patient_medications", Row{"id": "m1", "patient_id": "p1", "dose": "10mg"})
	h, e := newTestHandler(repo)

	body := `{"table":"patient_medications","id":"m1","updates":{"dose":"20mg"}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/patient-data", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.UpdatePatientData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data Row `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Data["dose"] != "20mg" {
		t.Errorf("expected updated row in envelope, got %v", resp.Data)
	}
}

func TestHandler_CreatePatientData_RejectsPatients(t *testing.T) {
	repo := newMockRepo()
	h, e := newTestHandler(repo)

	body := `{"table":"patients","record":{"first_name":"x"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patient-data", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreatePatientData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if repo.mutationCount() != 0 {
		t.Error("expected no store mutation")
	}
}

func TestHandler_CreatePatientData_Success(t *testing.T) {
	repo := newMockRepo()
	h, e := newTestHandler(repo)

	body := `{"table":"patient_allergies","record":{"patient_id":"p1","allergen":"latex"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patient-data", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreatePatientData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data Row `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Data.ID() == "" {
		t.Error("expected generated id on inserted row")
	}
}

func TestHandler_DeletePatientData(t *testing.T) {
	repo := newMockRepo()
	repo.seed("patient_allergies", Row{"id": "a1", "patient_id": "p1"})
	h, e := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/patient-data?table=patient_allergies&id=a1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.DeletePatientData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp map[string]bool
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp["success"] {
		t.Error("expected success true")
	}
	if len(repo.rows["patient_allergies"]) != 0 {
		t.Error("expected the allergy to be deleted")
	}
}

func TestHandler_DeletePatientData_NotWhitelisted(t *testing.T) {
	repo := newMockRepo()
	repo.seed("appointments", Row{"id": "ap1"})
	h, e := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/patient-data?table=appointments&id=ap1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.DeletePatientData(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if len(repo.rows["appointments"]) != 1 {
		t.Error("expected the appointment to survive")
	}
}
