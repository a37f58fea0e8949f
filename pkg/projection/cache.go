package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultLimit = 100

// Cache holds the current snapshot of every projection. Each projection has
// one published slot; a rebuild fills a new snapshot off to the side and
// swaps the pointer only once the snapshot is complete and persisted.
type Cache struct {
	src   Source
	sink  Sink
	now   func() time.Time
	order []string
	slots map[string]*slot
}

type slot struct {
	def     Definition
	current atomic.Pointer[Snapshot]
	status  atomic.Pointer[Status]

	// build serializes rebuilds of one projection.
	build sync.Mutex
}

// Status reports the outcome of the latest rebuild attempt.
type Status struct {
	Projection  string    `json:"projection"`
	Generation  string    `json:"generation,omitempty"`
	BuiltAt     time.Time `json:"built_at,omitempty"`
	Rows        int       `json:"rows"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// NewCache creates a cache over defs. A later definition with the same name
// replaces an earlier one, so operator config can override the built-ins.
// sink may be nil, in which case snapshots live in memory only.
func NewCache(src Source, sink Sink, defs ...Definition) (*Cache, error) {
	c := &Cache{
		src:   src,
		sink:  sink,
		now:   func() time.Time { return time.Now().UTC() },
		slots: make(map[string]*slot),
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("projection definition without a name")
		}
		if def.OrderBy == "" {
			return nil, fmt.Errorf("projection %s: order_by is required", def.Name)
		}
		if def.Limit <= 0 {
			def.Limit = defaultLimit
		}
		if def.Audience == "" {
			def.Audience = AudiencePublic
		}
		if def.Audience != AudiencePublic && def.Audience != AudienceAdmin {
			return nil, fmt.Errorf("projection %s: unknown audience %q", def.Name, def.Audience)
		}

		if s, ok := c.slots[def.Name]; ok {
			s.def = def
			continue
		}
		c.slots[def.Name] = &slot{def: def}
		c.order = append(c.order, def.Name)
	}
	return c, nil
}

// Definitions returns all projection definitions in registration order.
func (c *Cache) Definitions() []Definition {
	defs := make([]Definition, 0, len(c.order))
	for _, name := range c.order {
		defs = append(defs, c.slots[name].def)
	}
	return defs
}

// Definition looks up a projection by name.
func (c *Cache) Definition(name string) (Definition, error) {
	s, ok := c.slots[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownProjection, name)
	}
	return s.def, nil
}

// Rebuild builds a fresh snapshot of one projection and publishes it.
// On any failure the previously published snapshot stays current.
func (c *Cache) Rebuild(ctx context.Context, name string) (*Snapshot, error) {
	s, ok := c.slots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProjection, name)
	}

	s.build.Lock()
	defer s.build.Unlock()

	started := c.now()
	snap, err := c.build(ctx, s.def, started)
	if err != nil {
		s.record(started, nil, err)
		return nil, err
	}

	s.current.Store(snap)
	s.record(started, snap, nil)
	return snap, nil
}

func (c *Cache) build(ctx context.Context, def Definition, started time.Time) (*Snapshot, error) {
	entries, err := c.src.SelectProjection(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("build projection %s: %w", def.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build projection %s: %w", def.Name, err)
	}

	for i := range entries {
		entries[i].Rank = i + 1
	}

	gen, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("new generation for %s: %w", def.Name, err)
	}

	snap := &Snapshot{
		Projection: def.Name,
		Generation: gen.String(),
		BuiltAt:    started,
		Entries:    entries,
	}

	if c.sink != nil {
		if err := c.sink.SaveSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("persist projection %s: %w", def.Name, err)
		}
	}
	return snap, nil
}

func (s *slot) record(at time.Time, snap *Snapshot, err error) {
	st := Status{Projection: s.def.Name, LastAttempt: at}
	if prev := s.current.Load(); prev != nil {
		st.Generation = prev.Generation
		st.BuiltAt = prev.BuiltAt
		st.Rows = len(prev.Entries)
	}
	if snap != nil {
		st.Generation = snap.Generation
		st.BuiltAt = snap.BuiltAt
		st.Rows = len(snap.Entries)
	}
	if err != nil {
		st.LastError = err.Error()
	}
	s.status.Store(&st)
}

// RebuildAll rebuilds every projection, continuing past failures.
func (c *Cache) RebuildAll(ctx context.Context) error {
	var errs []error
	for _, name := range c.order {
		if _, err := c.Rebuild(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Warm publishes the last persisted snapshot of each projection that has
// nothing published yet.
func (c *Cache) Warm(ctx context.Context) error {
	if c.sink == nil {
		return nil
	}

	var errs []error
	for _, name := range c.order {
		s := c.slots[name]
		snap, err := c.sink.LoadSnapshot(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("load projection %s: %w", name, err))
			continue
		}
		if snap == nil {
			continue
		}
		if s.current.CompareAndSwap(nil, snap) {
			s.record(snap.BuiltAt, snap, nil)
		}
	}
	return errors.Join(errs...)
}

// Current returns the published snapshot of a projection.
func (c *Cache) Current(name string) (*Snapshot, error) {
	s, ok := c.slots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProjection, name)
	}
	snap := s.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotBuilt, name)
	}
	return snap, nil
}

// Status returns the latest rebuild status of every projection.
func (c *Cache) Status() []Status {
	out := make([]Status, 0, len(c.order))
	for _, name := range c.order {
		if st := c.slots[name].status.Load(); st != nil {
			out = append(out, *st)
			continue
		}
		out = append(out, Status{Projection: name})
	}
	return out
}

// Query pages through the published snapshot of a projection. It never
// touches the signal store, so results may lag it by up to one refresh.
func (c *Cache) Query(name string, f Filter) (*Result, error) {
	snap, err := c.Current(name)
	if err != nil {
		return nil, err
	}

	matched := make([]Entry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if f.Tier != "" && e.PopularityTier != f.Tier {
			continue
		}
		if e.PopularityScore < f.MinScore {
			continue
		}
		matched = append(matched, e)
	}

	offset := max(f.Offset, 0)
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	page := []Entry{}
	if offset < len(matched) {
		end := len(matched)
		if limit < end-offset {
			end = offset + limit
		}
		page = append(page, matched[offset:end]...)
	}

	return &Result{
		Projection: snap.Projection,
		Generation: snap.Generation,
		BuiltAt:    snap.BuiltAt,
		Total:      len(matched),
		Entries:    page,
	}, nil
}
