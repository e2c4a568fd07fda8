package aggregate

import (
	"context"
	"fmt"

	"github.com/chartsync/chartsync/internal/domain/replica"
	"github.com/chartsync/chartsync/internal/domain/tableroute"
)

// replicaTables maps each replicated collection to its backing table.
var replicaTables = map[replica.Domain]tableroute.Domain{
	replica.DomainPatients:     tableroute.Patients,
	replica.DomainMedications:  tableroute.Medications,
	replica.DomainAllergies:    tableroute.Allergies,
	replica.DomainProblems:     tableroute.Problems,
	replica.DomainAppointments: tableroute.Appointments,
	replica.DomainDocuments:    tableroute.Documents,
}

// ReplicaGateway adapts the aggregator's repository to the replica package's
// source-fetch and live-search interfaces.
type ReplicaGateway struct {
	repo Repository
}

func NewReplicaGateway(repo Repository) *ReplicaGateway {
	return &ReplicaGateway{repo: repo}
}

// FetchDomain pulls the domain's working set from the backing store.
func (g *ReplicaGateway) FetchDomain(ctx context.Context, domain replica.Domain, limit int) ([]map[string]any, error) {
	td, ok := replicaTables[domain]
	if !ok {
		return nil, fmt.Errorf("unknown replica domain %q", domain)
	}
	rows, err := g.repo.ListRecent(ctx, tableroute.Lookup(td).Table, limit)
	if err != nil {
		return nil, err
	}
	return rowsToAnyMaps(rows), nil
}

// SearchPatients is the live tier of the multi-tier patient lookup.
func (g *ReplicaGateway) SearchPatients(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	rows, err := g.repo.SearchPatients(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return rowsToAnyMaps(rows), nil
}

func rowsToAnyMaps(rows []Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}
	return out
}
