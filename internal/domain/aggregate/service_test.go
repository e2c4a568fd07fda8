package aggregate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// mockRepo is a map-backed repository with per-table failure injection.
type mockRepo struct {
	mu      sync.Mutex
	rows    map[string][]Row // table -> rows
	failing map[string]bool  // table -> force error
	updates int
	inserts int
	deletes int
	limits  map[string]int // table -> last limit seen
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		rows:    make(map[string][]Row),
		failing: make(map[string]bool),
		limits:  make(map[string]int),
	}
}

func (m *mockRepo) seed(table string, rows ...Row) {
	m.rows[table] = append(m.rows[table], rows...)
}

func (m *mockRepo) GetByID(_ context.Context, table, id string) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[table] {
		return nil, fmt.Errorf("query failed")
	}
	for _, r := range m.rows[table] {
		if r.ID() == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, table, patientID string, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[table] {
		return nil, fmt.Errorf("query failed")
	}
	m.limits[table] = limit
	var out []Row
	for _, r := range m.rows[table] {
		if pid, _ := r["patient_id"].(string); pid == patientID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, table, id string, updates Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[table] {
		return nil, fmt.Errorf("store failed")
	}
	for _, r := range m.rows[table] {
		if r.ID() == id {
			for k, v := range updates {
				r[k] = v
			}
			m.updates++
			return r, nil
		}
	}
	return nil, fmt.Errorf("no row with id %s", id)
}

func (m *mockRepo) Insert(_ context.Context, table string, record Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[table] {
		return nil, fmt.Errorf("store failed")
	}
	if record.ID() == "" {
		record["id"] = fmt.Sprintf("gen-%d", m.inserts)
	}
	m.rows[table] = append(m.rows[table], record)
	m.inserts++
	return record, nil
}

func (m *mockRepo) Delete(_ context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[table] {
		return fmt.Errorf("store failed")
	}
	kept := m.rows[table][:0]
	for _, r := range m.rows[table] {
		if r.ID() != id {
			kept = append(kept, r)
		}
	}
	m.rows[table] = kept
	m.deletes++
	return nil
}

func (m *mockRepo) ListRecent(_ context.Context, table string, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[table] {
		return nil, fmt.Errorf("query failed")
	}
	out := m.rows[table]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) SearchPatients(_ context.Context, query string, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing["patients"] {
		return nil, fmt.Errorf("query failed")
	}
	return m.rows["patients"], nil
}

func (m *mockRepo) mutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates + m.inserts + m.deletes
}

func newTestService(repo *mockRepo) *Service {
	return NewService(repo, zerolog.New(os.Stderr))
}

func TestFetch_EmptyPatient(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	bundle, err := svc.Fetch(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.PatientID != "p1" {
		t.Errorf("expected patient_id p1, got %s", bundle.PatientID)
	}
	if bundle.Patient != nil {
		t.Error("expected nil patient for unknown id")
	}
	if bundle.Medications.Local == nil || bundle.Medications.DrChrono == nil {
		t.Error("expected non-nil medication collections")
	}
	if len(bundle.Vitals) != 0 || len(bundle.Appointments) != 0 {
		t.Error("expected empty collections for patient with no rows")
	}
}

func TestFetch_RequiresPatientID(t *testing.T) {
	svc := newTestService(newMockRepo())
	if _, err := svc.Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty patient id")
	}
}

func TestFetch_PopulatesDomains(t *testing.T) {
	repo := newMockRepo()
	repo.seed("patients", Row{"id": "p1", "first_name": "Marcus"})
	repo.seed("patient_medications",
		Row{"id": "m1", "patient_id": "p1", "name": "aspirin"},
		Row{"id": "m2", "patient_id": "p1", "name": "statin", "origin": "drchrono"},
		Row{"id": "m3", "patient_id": "p2", "name": "other"})
	repo.seed("patient_vitals", Row{"id": "v1", "patient_id": "p1"})
	svc := newTestService(repo)

	bundle, err := svc.Fetch(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Patient == nil || bundle.Patient["first_name"] != "Marcus" {
		t.Errorf("expected patient profile, got %v", bundle.Patient)
	}
	if len(bundle.Medications.Local) != 1 || bundle.Medications.Local[0].ID() != "m1" {
		t.Errorf("expected one local medication, got %v", bundle.Medications.Local)
	}
	if len(bundle.Medications.DrChrono) != 1 || bundle.Medications.DrChrono[0].ID() != "m2" {
		t.Errorf("expected one mirrored medication, got %v", bundle.Medications.DrChrono)
	}
	if len(bundle.Vitals) != 1 {
		t.Errorf("expected one vital, got %d", len(bundle.Vitals))
	}
}

func TestFetch_DomainFailureIsContained(t *testing.T) {
	repo := newMockRepo()
	repo.seed("patients", Row{"id": "p1"})
	repo.seed("patient_medications", Row{"id": "m1", "patient_id": "p1"})
	repo.seed("patient_allergies", Row{"id": "a1", "patient_id": "p1"})
	repo.failing["patient_allergies"] = true
	svc := newTestService(repo)

	bundle, err := svc.Fetch(context.Background(), "p1")
	if err != nil {
		t.Fatalf("expected contained failure, got: %v", err)
	}
	if len(bundle.Allergies.Local) != 0 {
		t.Error("expected empty allergies for the failing domain")
	}
	if len(bundle.Medications.Local) != 1 {
		t.Error("expected sibling domains to still populate")
	}
}

func TestFetch_PatientLookupFailureIsNonFatal(t *testing.T) {
	repo := newMockRepo()
	repo.seed("patients", Row{"id": "p1"})
	repo.seed("patient_problems", Row{"id": "pr1", "patient_id": "p1"})
	repo.failing["patients"] = true
	svc := newTestService(repo)

	bundle, err := svc.Fetch(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Patient != nil {
		t.Error("expected nil patient after failed profile lookup")
	}
	if len(bundle.Problems.Local) != 1 {
		t.Error("expected problems to populate despite profile failure")
	}
}

func TestFetch_CapsHighVolumeDomains(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	if _, err := svc.Fetch(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.limits["patient_vitals"] != recentCap {
		t.Errorf("expected vitals capped to %d, got %d", recentCap, repo.limits["patient_vitals"])
	}
	if repo.limits["appointments"] != recentCap {
		t.Errorf("expected appointments capped to %d, got %d", recentCap, repo.limits["appointments"])
	}
	if repo.limits["patient_medications"] != 0 {
		t.Errorf("expected medications uncapped, got %d", repo.limits["patient_medications"])
	}
}

func TestUpdate_RejectsNonWhitelistedTable(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	_, err := svc.Update(context.Background(), "secret_table", "x", Row{"a": 1})
	if err == nil {
		t.Fatal("expected whitelist rejection")
	}
	var notAllowed *ErrTableNotAllowed
	if !errors.As(err, &notAllowed) {
		t.Fatalf("expected ErrTableNotAllowed, got %T", err)
	}
	if repo.mutationCount() != 0 {
		t.Error("expected no store mutation for rejected table")
	}
}

func TestCreate_RejectsPatientsTable(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	if _, err := svc.Create(context.Background(), "patients", Row{"first_name": "x"}); err == nil {
		t.Fatal("expected patients to be excluded from the POST whitelist")
	}
	if repo.mutationCount() != 0 {
		t.Error("expected no store mutation")
	}
}

func TestDelete_RejectsBillingTables(t *testing.T) {
	repo := newMockRepo()
	repo.seed("billing_claims", Row{"id": "c1"})
	svc := newTestService(repo)

	if err := svc.Delete(context.Background(), "billing_claims", "c1"); err == nil {
		t.Fatal("expected billing_claims to be excluded from the DELETE whitelist")
	}
	if len(repo.rows["billing_claims"]) != 1 {
		t.Error("expected the claim to survive")
	}
}

func TestUpdate_StampsThroughRepo(t *testing.T) {
	repo := newMockRepo()
	repo.seed("patient_medications", Row{"id": "m1", "patient_id": "p1", "dose": "10mg", "name": "aspirin"})
	svc := newTestService(repo)

	row, err := svc.Update(context.Background(), "patient_medications", "m1", Row{"dose": "20mg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row["dose"] != "20mg" {
		t.Errorf("expected updated dose, got %v", row["dose"])
	}
	if row["name"] != "aspirin" {
		t.Errorf("expected unrelated field preserved, got %v", row["name"])
	}
}

func TestReplicaGateway_FetchDomain(t *testing.T) {
	repo := newMockRepo()
	repo.seed("patient_medications", Row{"id": "m1", "patient_id": "p1"})
	gw := NewReplicaGateway(repo)

	records, err := gw.FetchDomain(context.Background(), "medications", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0]["id"] != "m1" {
		t.Errorf("expected the seeded medication, got %v", records)
	}

	if _, err := gw.FetchDomain(context.Background(), "nonsense", 10); err == nil {
		t.Error("expected error for unknown replica domain")
	}
}
