// Package replica maintains a durable local copy of the clinical working set
// so read-only lookups keep working when the aggregator or its backing store
// is unreachable. Data is rebuilt wholesale by the sync scheduler; there is
// no live reconciliation.
package replica

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Domain enumerates the collections the replica carries.
type Domain string

const (
	DomainPatients     Domain = "patients"
	DomainMedications  Domain = "medications"
	DomainAllergies    Domain = "allergies"
	DomainProblems     Domain = "problems"
	DomainAppointments Domain = "appointments"
	DomainDocuments    Domain = "documents"
)

// Domains lists every replicated collection in sync order.
var Domains = []Domain{
	DomainPatients, DomainMedications, DomainAllergies,
	DomainProblems, DomainAppointments, DomainDocuments,
}

const schemaVersion = 1

// A schema version bump rebuilds the store from scratch; replicated data is
// disposable by design, so no migration is attempted.
const schema = `
CREATE TABLE IF NOT EXISTS patients (
	id TEXT PRIMARY KEY,
	first_name TEXT,
	last_name TEXT,
	email TEXT,
	phone TEXT,
	chart_number TEXT,
	record TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patients_last_name ON patients(last_name);
CREATE INDEX IF NOT EXISTS idx_patients_name ON patients(last_name, first_name);

CREATE TABLE IF NOT EXISTS medications (
	id TEXT PRIMARY KEY,
	patient_id TEXT,
	record TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_medications_patient ON medications(patient_id);

CREATE TABLE IF NOT EXISTS allergies (
	id TEXT PRIMARY KEY,
	patient_id TEXT,
	record TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_allergies_patient ON allergies(patient_id);

CREATE TABLE IF NOT EXISTS problems (
	id TEXT PRIMARY KEY,
	patient_id TEXT,
	record TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_problems_patient ON problems(patient_id);

CREATE TABLE IF NOT EXISTS appointments (
	id TEXT PRIMARY KEY,
	patient_id TEXT,
	scheduled_at TEXT,
	record TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_appointments_patient ON appointments(patient_id);
CREATE INDEX IF NOT EXISTS idx_appointments_scheduled ON appointments(scheduled_at);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	patient_id TEXT,
	record TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_patient ON documents(patient_id);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

var allTables = []string{
	"patients", "medications", "allergies", "problems",
	"appointments", "documents", "meta",
}

// ErrUnavailable is returned by read/write operations when the local store
// could not be opened.
var ErrUnavailable = fmt.Errorf("replica store unavailable")

// Store is the embedded local database. A nil *Store is a valid
// "unavailable" store: Status reports Available false and every other
// operation returns ErrUnavailable.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the replica database at path and ensures the
// schema matches schemaVersion, rebuilding it wholesale on mismatch.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db, log: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != 0 && version != schemaVersion {
		s.log.Warn().Int("have", version).Int("want", schemaVersion).
			Msg("replica schema version mismatch, rebuilding")
		for _, table := range allTables {
			if _, err := s.db.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func getString(record map[string]any, key string) string {
	switch v := record[key].(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// BulkUpsert writes a batch of records into the domain's collection in one
// transaction, keyed by each record's own id. Records without an id are
// skipped and counted against nothing.
func (s *Store) BulkUpsert(ctx context.Context, domain Domain, records []map[string]any) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	n := 0
	for _, record := range records {
		id := getString(record, "id")
		if id == "" {
			continue
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return n, fmt.Errorf("marshal record %s: %w", id, err)
		}
		switch domain {
		case DomainPatients:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO patients (id, first_name, last_name, email, phone, chart_number, record, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					first_name = excluded.first_name,
					last_name = excluded.last_name,
					email = excluded.email,
					phone = excluded.phone,
					chart_number = excluded.chart_number,
					record = excluded.record,
					updated_at = excluded.updated_at`,
				id, getString(record, "first_name"), getString(record, "last_name"),
				getString(record, "email"), getString(record, "phone"),
				getString(record, "chart_number"), string(payload), now)
		case DomainAppointments:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO appointments (id, patient_id, scheduled_at, record, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					patient_id = excluded.patient_id,
					scheduled_at = excluded.scheduled_at,
					record = excluded.record,
					updated_at = excluded.updated_at`,
				id, getString(record, "patient_id"), getString(record, "scheduled_at"),
				string(payload), now)
		default:
			_, err = tx.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %s (id, patient_id, record, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					patient_id = excluded.patient_id,
					record = excluded.record,
					updated_at = excluded.updated_at`, string(domain)),
				id, getString(record, "patient_id"), string(payload), now)
		}
		if err != nil {
			return n, fmt.Errorf("upsert %s %s: %w", domain, id, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// SearchPatients matches a case-insensitive substring across first name,
// last name, email, phone and chart number, capped to limit matches.
func (s *Store) SearchPatients(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		limit = 25
	}
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM patients
		WHERE lower(first_name) LIKE ? OR lower(last_name) LIKE ?
			OR lower(email) LIKE ? OR lower(phone) LIKE ? OR lower(chart_number) LIKE ?
		ORDER BY last_name, first_name
		LIMIT ?`, pattern, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	return scanRecords(rows)
}

// GetPatient returns one patient by id, or nil when absent.
func (s *Store) GetPatient(ctx context.Context, id string) (map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM patients WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// ListByPatient returns the domain's rows owned by the patient.
func (s *Store) ListByPatient(ctx context.Context, domain Domain, patientID string) ([]map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}
	if domain == DomainPatients {
		return nil, fmt.Errorf("patients collection has no patient_id index")
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT record FROM %s WHERE patient_id = ?`, string(domain)), patientID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", domain, err)
	}
	return scanRecords(rows)
}

// AppointmentsBetween returns appointments scheduled in [from, to), using the
// scheduled_at index.
func (s *Store) AppointmentsBetween(ctx context.Context, from, to time.Time) ([]map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM appointments
		WHERE scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("appointments between: %w", err)
	}
	return scanRecords(rows)
}

// Count returns the number of rows in the domain's collection.
func (s *Store) Count(ctx context.Context, domain Domain) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrUnavailable
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, string(domain))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", domain, err)
	}
	return n, nil
}

// SetMeta stores a bookkeeping value under key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta returns the value stored under key, or "" when absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrUnavailable
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// Status reports availability, last-sync time and per-domain row counts for
// operator diagnostics. It never fails: an unavailable store reports
// Available false, and count errors show up as missing entries.
type Status struct {
	Available bool           `json:"available"`
	LastSync  *time.Time     `json:"last_sync,omitempty"`
	Counts    map[Domain]int `json:"counts"`
}

func (s *Store) Status(ctx context.Context) Status {
	st := Status{Counts: map[Domain]int{}}
	if s == nil || s.db == nil {
		return st
	}
	st.Available = true
	if raw, err := s.GetMeta(ctx, "last_sync"); err == nil && raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			st.LastSync = &ts
		}
	}
	for _, domain := range Domains {
		n, err := s.Count(ctx, domain)
		if err != nil {
			s.log.Warn().Err(err).Str("domain", string(domain)).Msg("count failed")
			continue
		}
		st.Counts[domain] = n
	}
	return st
}

// ClearAll empties every collection, best-effort: a failing collection is
// logged and the rest are still cleared.
func (s *Store) ClearAll(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	var firstErr error
	for _, table := range allTables {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			s.log.Warn().Err(err).Str("table", table).Msg("clear failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
