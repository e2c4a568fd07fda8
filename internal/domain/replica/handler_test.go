package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubLive struct {
	results []map[string]any
	err     error
}

func (s *stubLive) SearchPatients(_ context.Context, query string, limit int) ([]map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func doSearch(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	if err := h.SearchPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

type searchResponse struct {
	Data   []map[string]any `json:"data"`
	Source string           `json:"source"`
}

func TestSearchPatients_RequiresQuery(t *testing.T) {
	h := NewHandler(nil, nil, &stubLive{}, testLogger())
	rec := doSearch(t, h, "/api/v1/patients/search")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSearchPatients_LiveTier(t *testing.T) {
	live := &stubLive{results: []map[string]any{{"id": "p1", "last_name": "Webb"}}}
	h := NewHandler(nil, nil, live, testLogger())

	rec := doSearch(t, h, "/api/v1/patients/search?q=webb")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp searchResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Source != "live" {
		t.Errorf("expected live source, got %q", resp.Source)
	}
	if len(resp.Data) != 1 || resp.Data[0]["id"] != "p1" {
		t.Errorf("unexpected results: %v", resp.Data)
	}
}

func TestSearchPatients_LiveEmptyIsNotNull(t *testing.T) {
	h := NewHandler(nil, nil, &stubLive{}, testLogger())
	rec := doSearch(t, h, "/api/v1/patients/search?q=nobody")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]json.RawMessage
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if string(resp["data"]) == "null" {
		t.Error("expected empty array, got null")
	}
}

func TestSearchPatients_FallsBackToReplica(t *testing.T) {
	store := openTestStore(t)
	_, err := store.BulkUpsert(context.Background(), DomainPatients, []map[string]any{
		{"id": "p1", "first_name": "Marcus", "last_name": "Webb"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	live := &stubLive{err: fmt.Errorf("db down")}
	h := NewHandler(store, nil, live, testLogger())

	rec := doSearch(t, h, "/api/v1/patients/search?q=webb")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp searchResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Source != "replica" {
		t.Errorf("expected replica source, got %q", resp.Source)
	}
	if len(resp.Data) != 1 {
		t.Errorf("expected replica hit, got %v", resp.Data)
	}
}

func TestSearchPatients_AllTiersDown(t *testing.T) {
	live := &stubLive{err: fmt.Errorf("db down")}
	h := NewHandler(nil, nil, live, testLogger())

	rec := doSearch(t, h, "/api/v1/patients/search?q=webb")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when live and replica are both down, got %d", rec.Code)
	}
}

func TestCacheStatus(t *testing.T) {
	store := openTestStore(t)
	h := NewHandler(store, nil, &stubLive{}, testLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/status", nil)
	rec := httptest.NewRecorder()
	if err := h.CacheStatus(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st Status
	json.Unmarshal(rec.Body.Bytes(), &st)
	if !st.Available {
		t.Error("expected available status")
	}
}

func TestCacheStatus_Unavailable(t *testing.T) {
	h := NewHandler(nil, nil, &stubLive{}, testLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/status", nil)
	rec := httptest.NewRecorder()
	if err := h.CacheStatus(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var st Status
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Available {
		t.Error("expected unavailable status from nil store")
	}
}

func TestTriggerSync(t *testing.T) {
	store := openTestStore(t)
	src := newFakeSource()
	src.records[DomainPatients] = []map[string]any{{"id": "p1"}}
	sched := NewScheduler(store, src, 0, testLogger())
	h := NewHandler(store, sched, &stubLive{}, testLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/sync", nil)
	rec := httptest.NewRecorder()
	if err := h.TriggerSync(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report SyncReport
	json.Unmarshal(rec.Body.Bytes(), &report)
	if report.Synced[DomainPatients] != 1 {
		t.Errorf("expected synced count in report, got %v", report.Synced)
	}
}

func TestTriggerSync_Unavailable(t *testing.T) {
	sched := NewScheduler(nil, newFakeSource(), 0, testLogger())
	h := NewHandler(nil, sched, &stubLive{}, testLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/sync", nil)
	rec := httptest.NewRecorder()
	if err := h.TriggerSync(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
