package aggregate

import (
	"context"
)

// Repository is the generic row-level access the aggregator needs. Table
// names passed in always come from the router's closed set; implementations
// may rely on that.
type Repository interface {
	// GetByID returns one row by primary id, or (nil, nil) when absent.
	GetByID(ctx context.Context, table, id string) (Row, error)
	// ListByPatient returns up to limit rows owned by the patient, newest
	// first. limit <= 0 means no cap.
	ListByPatient(ctx context.Context, table, patientID string, limit int) ([]Row, error)
	// Update applies a partial update to exactly one row and returns the
	// stored row. The server stamps updated_at.
	Update(ctx context.Context, table, id string, updates Row) (Row, error)
	// Insert stores a full record and returns it including the generated id.
	Insert(ctx context.Context, table string, record Row) (Row, error)
	// Delete hard-deletes a single row.
	Delete(ctx context.Context, table, id string) error
	// ListRecent returns up to limit rows of the table, newest first. Used by
	// the replica sync working-set pull.
	ListRecent(ctx context.Context, table string, limit int) ([]Row, error)
	// SearchPatients matches a case-insensitive substring against patient
	// name, email, phone and chart number.
	SearchPatients(ctx context.Context, query string, limit int) ([]Row, error)
}
