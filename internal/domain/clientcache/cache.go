// Package clientcache holds one patient's record bundle in memory, applies
// mutations optimistically, and persists them through the aggregator. It is
// the client-side tier of the patient data layer: consumers read the bundle
// directly and route every write through the cache.
package clientcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chartsync/chartsync/internal/domain/aggregate"
	"github.com/chartsync/chartsync/internal/domain/tableroute"
)

// Aggregator is the remote persistence surface the cache writes through.
type Aggregator interface {
	Fetch(ctx context.Context, patientID string) (*aggregate.PatientRecordBundle, error)
	Update(ctx context.Context, table, id string, updates aggregate.Row) (aggregate.Row, error)
	Create(ctx context.Context, table string, record aggregate.Row) (aggregate.Row, error)
	Delete(ctx context.Context, table, id string) error
}

// State tracks the bundle lifecycle.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return "unknown"
}

const defaultDebounce = 2 * time.Second

// Cache is an injected, per-patient service: construct one per consuming
// view and Dispose it on teardown. All methods are safe for concurrent use.
type Cache struct {
	agg      Aggregator
	log      zerolog.Logger
	debounce time.Duration

	mu        sync.Mutex
	patientID string
	bundle    *aggregate.PatientRecordBundle
	state     State
	lastErr   string
	saving    int
	timers    map[string]*time.Timer
	disposed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithDebounce overrides the quiet period for QueueSave.
func WithDebounce(d time.Duration) Option {
	return func(c *Cache) { c.debounce = d }
}

func New(agg Aggregator, logger zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		agg:      agg,
		log:      logger,
		debounce: defaultDebounce,
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches the patient's bundle and replaces the in-memory snapshot
// wholesale. On failure any previous bundle is left untouched: stale but
// available beats blanking the consumer.
func (c *Cache) Load(ctx context.Context, patientID string) error {
	c.mu.Lock()
	c.patientID = patientID
	prevState := c.state
	c.state = StateLoading
	c.mu.Unlock()

	bundle, err := c.agg.Fetch(ctx, patientID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
		if c.bundle != nil {
			c.state = prevState
		} else {
			c.state = StateError
		}
		return err
	}
	c.bundle = bundle
	c.state = StateReady
	c.lastErr = ""
	return nil
}

// Bundle returns the current snapshot. Callers treat it as read-only and
// route mutations through the cache.
func (c *Cache) Bundle() *aggregate.PatientRecordBundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bundle
}

func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last load error message, or "".
func (c *Cache) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Saving reports whether any persist call is in flight.
func (c *Cache) Saving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving > 0
}

func (c *Cache) beginSave() {
	c.mu.Lock()
	c.saving++
	c.mu.Unlock()
}

func (c *Cache) endSave() {
	c.mu.Lock()
	c.saving--
	c.mu.Unlock()
}

// Update merges the partial update into the bundle immediately, then
// persists it and merges the canonical server row back in. A persist failure
// is returned to the caller; the optimistic value stays in place, so the
// caller decides whether to revert or surface the divergence.
func (c *Cache) Update(ctx context.Context, table, id string, updates aggregate.Row) error {
	route, ok := tableroute.ByTable(table)
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}

	c.mu.Lock()
	if c.bundle == nil {
		c.mu.Unlock()
		return fmt.Errorf("no bundle loaded")
	}
	c.mergeLocked(route, id, updates)
	c.mu.Unlock()

	c.beginSave()
	defer c.endSave()

	row, err := c.agg.Update(ctx, table, id, updates)
	if err != nil {
		c.log.Error().Err(err).Str("table", table).Str("id", id).Msg("persist failed, local state diverges until next load")
		return err
	}

	c.mu.Lock()
	c.mergeLocked(route, id, row)
	c.mu.Unlock()
	return nil
}

// mergeLocked merges fields into the entry at the route's bundle path,
// leaving unrelated fields intact. Caller holds c.mu.
func (c *Cache) mergeLocked(route tableroute.Route, id string, fields aggregate.Row) {
	if route.Singleton {
		if route.Domain == tableroute.Patients {
			if c.bundle.Patient == nil {
				c.bundle.Patient = aggregate.Row{}
			}
			mergeRow(c.bundle.Patient, fields)
		}
		return
	}
	list := c.bundle.ListFor(route.Domain)
	if list == nil {
		return
	}
	for _, entry := range *list {
		if entry.ID() == id {
			mergeRow(entry, fields)
			return
		}
	}
}

func mergeRow(dst, src aggregate.Row) {
	for k, v := range src {
		dst[k] = v
	}
}

// Create persists a new record and splices the stored row (with its
// generated id) to the front of the target collection.
func (c *Cache) Create(ctx context.Context, table string, record aggregate.Row) (aggregate.Row, error) {
	route, ok := tableroute.ByTable(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	c.beginSave()
	defer c.endSave()

	row, err := c.agg.Create(ctx, table, record)
	if err != nil {
		c.log.Error().Err(err).Str("table", table).Msg("create failed")
		return nil, err
	}

	c.mu.Lock()
	if c.bundle != nil {
		if list := c.bundle.ListFor(route.Domain); list != nil {
			*list = append([]aggregate.Row{row}, *list...)
		}
	}
	c.mu.Unlock()
	return row, nil
}

// Delete persists a hard delete and removes the entry from the bundle.
func (c *Cache) Delete(ctx context.Context, table, id string) error {
	route, ok := tableroute.ByTable(table)
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}

	c.beginSave()
	defer c.endSave()

	if err := c.agg.Delete(ctx, table, id); err != nil {
		c.log.Error().Err(err).Str("table", table).Str("id", id).Msg("delete failed")
		return err
	}

	c.mu.Lock()
	if c.bundle != nil {
		if list := c.bundle.ListFor(route.Domain); list != nil {
			kept := (*list)[:0]
			for _, entry := range *list {
				if entry.ID() != id {
					kept = append(kept, entry)
				}
			}
			*list = kept
		}
	}
	c.mu.Unlock()
	return nil
}

// QueueSave schedules a debounced Update for save-as-you-type fields. Rapid
// calls for the same (table, id) coalesce: each call cancels the pending
// timer and restarts the quiet period carrying the latest values only.
func (c *Cache) QueueSave(table, id string, updates aggregate.Row) {
	key := table + ":" + id

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	if timer, ok := c.timers[key]; ok {
		timer.Stop()
	}
	c.timers[key] = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		if c.disposed {
			c.mu.Unlock()
			return
		}
		delete(c.timers, key)
		c.mu.Unlock()

		if err := c.Update(context.Background(), table, id, updates); err != nil {
			c.log.Error().Err(err).Str("table", table).Str("id", id).Msg("debounced save failed")
		}
	})
}

// PendingSaves returns the number of debounce timers still scheduled.
func (c *Cache) PendingSaves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Dispose cancels every pending debounce timer and rejects further queued
// saves. Required on teardown of the consuming view so no write fires after
// the owner is gone.
func (c *Cache) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
	}
}
