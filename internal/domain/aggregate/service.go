package aggregate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chartsync/chartsync/internal/domain/tableroute"
)

// recentCap limits the high-volume list queries; everything else is returned
// in full.
const recentCap = 20

var cappedDomains = map[tableroute.Domain]bool{
	tableroute.Vitals:       true,
	tableroute.Appointments: true,
}

// ErrTableNotAllowed is returned when a mutation names a table outside the
// verb's whitelist.
type ErrTableNotAllowed struct {
	Table string
	Verb  tableroute.Verb
}

func (e *ErrTableNotAllowed) Error() string {
	return fmt.Sprintf("table %q is not allowed for this operation", e.Table)
}

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, log: logger}
}

// Fetch assembles the full record bundle for one patient. The profile lookup
// and every domain list query run concurrently; an individual query failure
// degrades to an empty collection for that domain so a single slow or broken
// table never blanks the whole patient view.
func (s *Service) Fetch(ctx context.Context, patientID string) (*PatientRecordBundle, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id required")
	}

	bundle := NewPatientRecordBundle(patientID)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		patient, err := s.repo.GetByID(gctx, "patients", patientID)
		if err != nil {
			s.log.Warn().Err(err).Str("patient_id", patientID).Msg("patient profile lookup failed")
			return nil
		}
		bundle.Patient = patient
		return nil
	})

	g.Go(func() error {
		pharmacyTable := tableroute.Lookup(tableroute.Pharmacy).Table
		rows, err := s.repo.ListByPatient(gctx, pharmacyTable, patientID, 1)
		if err != nil {
			s.log.Warn().Err(err).Str("patient_id", patientID).Msg("pharmacy lookup failed")
			return nil
		}
		if len(rows) > 0 {
			bundle.Pharmacy = rows[0]
		}
		return nil
	})

	for _, route := range tableroute.All() {
		if route.BundlePath == "" || route.Singleton {
			continue
		}
		route := route
		g.Go(func() error {
			limit := 0
			if cappedDomains[route.Domain] {
				limit = recentCap
			}
			rows, err := s.repo.ListByPatient(gctx, route.Table, patientID, limit)
			if err != nil {
				s.log.Warn().Err(err).Str("table", route.Table).Str("patient_id", patientID).
					Msg("domain query failed, returning empty collection")
				return nil
			}
			s.assign(bundle, route, rows)
			return nil
		})
	}

	// Sub-queries never propagate an error, so this only waits.
	_ = g.Wait()
	return bundle, nil
}

// assign partitions the domain's rows into the bundle. Each goroutine writes
// only its own collection, so no locking is needed.
func (s *Service) assign(bundle *PatientRecordBundle, route tableroute.Route, rows []Row) {
	local := bundle.ListFor(route.Domain)
	if local == nil {
		return
	}
	if !route.Mirrored {
		if rows == nil {
			rows = []Row{}
		}
		*local = rows
		return
	}
	mirror := bundle.mirrorFor(route.Domain)
	locals, mirrors := []Row{}, []Row{}
	for _, r := range rows {
		if r.Origin() == "drchrono" {
			mirrors = append(mirrors, r)
		} else {
			locals = append(locals, r)
		}
	}
	*local = locals
	*mirror = mirrors
}

// Update applies a partial update to one row of a PUT-whitelisted table and
// returns the stored row.
func (s *Service) Update(ctx context.Context, table, id string, updates Row) (Row, error) {
	if !tableroute.Allowed(table, tableroute.VerbPut) {
		return nil, &ErrTableNotAllowed{Table: table, Verb: tableroute.VerbPut}
	}
	row, err := s.repo.Update(ctx, table, id, updates)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Create inserts a full record into a POST-whitelisted table.
func (s *Service) Create(ctx context.Context, table string, record Row) (Row, error) {
	if !tableroute.Allowed(table, tableroute.VerbPost) {
		return nil, &ErrTableNotAllowed{Table: table, Verb: tableroute.VerbPost}
	}
	row, err := s.repo.Insert(ctx, table, record)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Delete hard-deletes one row of a DELETE-whitelisted table.
func (s *Service) Delete(ctx context.Context, table, id string) error {
	if !tableroute.Allowed(table, tableroute.VerbDelete) {
		return &ErrTableNotAllowed{Table: table, Verb: tableroute.VerbDelete}
	}
	return s.repo.Delete(ctx, table, id)
}

// SearchPatients exposes the repository's patient search for the live tier of
// the multi-tier lookup.
func (s *Service) SearchPatients(ctx context.Context, query string, limit int) ([]Row, error) {
	return s.repo.SearchPatients(ctx, query, limit)
}
