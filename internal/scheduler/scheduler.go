// Package scheduler keeps projections fresh. It rebuilds every projection on
// start and then on a fixed interval, rebuilds early when a sampled write asks
// for it, and serves on-demand rebuilds. Rebuild failures are logged and never
// reach the writers that triggered them.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/gamerank/gamerank/internal/store"
	"github.com/gamerank/gamerank/pkg/alert"
	"github.com/gamerank/gamerank/pkg/popularity"
	"github.com/gamerank/gamerank/pkg/projection"
)

// Rebuilder is the part of the projection cache the scheduler drives.
type Rebuilder interface {
	Rebuild(ctx context.Context, name string) (*projection.Snapshot, error)
	RebuildAll(ctx context.Context) error
}

// Promotions is the part of the store used to announce tier promotions.
type Promotions interface {
	GetGame(ctx context.Context, id string) (*store.Game, error)
	ListPendingPromotions(ctx context.Context, minTier popularity.Tier, limit int) ([]store.HistoryEntry, error)
	MarkAlerted(ctx context.Context, historyID int64) error
}

// Options configures a Scheduler. Zero values get defaults.
type Options struct {
	Interval     time.Duration // full refresh period, default 1h
	SampleRate   float64       // share of writes that request an early refresh
	MinGap       time.Duration // minimum time between write-triggered refreshes, default 30s
	MinAlertTier popularity.Tier
	Promotions   Promotions
	Alerts       *alert.Manager
	GameURL      func(slug string) string
	Logger       *slog.Logger
}

// Stats counts scheduler activity since start.
type Stats struct {
	Refreshes   int64     `json:"refreshes"`
	Failures    int64     `json:"failures"`
	Sampled     int64     `json:"sampled"`
	Triggered   int64     `json:"triggered"`
	Alerts      int64     `json:"alerts"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
}

// Scheduler runs periodic and write-triggered projection rebuilds.
type Scheduler struct {
	cache     Rebuilder
	opts      Options
	log       *slog.Logger
	threshold uint64
	trigger   chan struct{}

	// cycle serializes full refresh cycles and alert delivery.
	cycle sync.Mutex

	refreshes atomic.Int64
	failures  atomic.Int64
	sampled   atomic.Int64
	triggered atomic.Int64
	alerts    atomic.Int64
	last      atomic.Int64 // unix nanos of the last finished refresh
}

// New creates a new scheduler.
func New(cache Rebuilder, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.MinGap <= 0 {
		opts.MinGap = 30 * time.Second
	}
	if !opts.MinAlertTier.Valid() {
		opts.MinAlertTier = popularity.TierPopular
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		cache:     cache,
		opts:      opts,
		log:       opts.Logger.With("component", "scheduler"),
		threshold: sampleThreshold(opts.SampleRate),
		trigger:   make(chan struct{}, 1),
	}
}

func sampleThreshold(rate float64) uint64 {
	switch {
	case rate <= 0 || math.IsNaN(rate):
		return 0
	case rate >= 1:
		return math.MaxUint64
	}
	return uint64(rate * math.MaxUint64)
}

// Sampled reports whether the write identified by gameID and version falls
// in the sample. The decision is a pure function of its inputs.
func (s *Scheduler) Sampled(gameID string, version int64) bool {
	if s.threshold == 0 {
		return false
	}
	if s.threshold == math.MaxUint64 {
		return true
	}
	key := strconv.AppendInt([]byte(gameID+":"), version, 10)
	return murmur3.Sum64(key) < s.threshold
}

// NotifyMutation is called after a write commits. A sampled write queues a
// refresh request for the run loop; requests coalesce, and this never blocks
// or rebuilds inline. It reports whether a request was queued.
//
// The run loop honours MinGap: a request that arrives less than MinGap after
// the last refresh is dropped, not deferred. That write then shows up at the
// next interval tick, or with a later sampled write once the gap has passed.
func (s *Scheduler) NotifyMutation(gameID string, version int64) bool {
	if !s.Sampled(gameID, version) {
		return false
	}
	s.sampled.Add(1)

	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.log.Info("initial refresh")
	s.refresh(ctx, "startup")

	s.log.Info("running", "interval", s.opts.Interval, "sample_rate", s.opts.SampleRate)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			s.refresh(ctx, "interval")
		case <-s.trigger:
			if time.Since(s.lastRefresh()) < s.opts.MinGap {
				s.log.Debug("write-triggered refresh skipped", "min_gap", s.opts.MinGap)
				continue
			}
			s.triggered.Add(1)
			s.refresh(ctx, "sampled write")
		}
	}
}

// ForceRefresh rebuilds one projection, or all of them when name is empty,
// and waits for the result.
func (s *Scheduler) ForceRefresh(ctx context.Context, name string) error {
	if name == "" {
		return s.refresh(ctx, "forced")
	}

	start := time.Now()
	snap, err := s.cache.Rebuild(ctx, name)
	if err != nil {
		s.failures.Add(1)
		s.log.Error("forced rebuild failed", "projection", name, "error", err)
		return err
	}
	s.log.Info("forced rebuild", "projection", name, "generation", snap.Generation,
		"rows", len(snap.Entries), "took", time.Since(start))
	return nil
}

func (s *Scheduler) refresh(ctx context.Context, reason string) error {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	start := time.Now()
	err := s.cache.RebuildAll(ctx)
	s.refreshes.Add(1)
	s.last.Store(time.Now().UnixNano())

	if err != nil {
		s.failures.Add(1)
		s.log.Error("refresh failed", "reason", reason, "error", err)
	} else {
		s.log.Info("refreshed", "reason", reason, "took", time.Since(start))
	}

	if ctx.Err() == nil {
		s.announcePromotions(ctx)
	}
	return err
}

func (s *Scheduler) announcePromotions(ctx context.Context) {
	if s.opts.Promotions == nil || !s.opts.Alerts.HasNotifiers() {
		return
	}

	pending, err := s.opts.Promotions.ListPendingPromotions(ctx, s.opts.MinAlertTier, 100)
	if err != nil {
		s.log.Error("list promotions", "error", err)
		return
	}

	for _, h := range pending {
		g, err := s.opts.Promotions.GetGame(ctx, h.GameID)
		if err != nil {
			s.log.Warn("promotion for unknown game", "game_id", h.GameID, "error", err)
			continue
		}

		n := &alert.Notification{
			GameID:     g.ID,
			Slug:       g.Slug,
			Name:       g.Name,
			FromTier:   h.FromTier,
			ToTier:     h.ToTier,
			FromScore:  h.FromScore,
			Score:      h.ToScore,
			Follows:    g.Follows,
			Reason:     h.Reason,
			PromotedAt: h.CreatedAt,
		}
		if s.opts.GameURL != nil {
			n.URL = s.opts.GameURL(g.Slug)
		}

		// retried on the next cycle only while no destination has accepted it
		delivered, err := s.opts.Alerts.Broadcast(ctx, n)
		if delivered == 0 {
			s.log.Error("alert failed", "game", g.Slug, "error", err)
			continue
		}
		if err != nil {
			s.log.Warn("alert partly failed", "game", g.Slug, "delivered", delivered, "error", err)
		}
		if err := s.opts.Promotions.MarkAlerted(ctx, h.ID); err != nil {
			s.log.Error("mark alerted", "history_id", h.ID, "error", err)
			continue
		}
		s.alerts.Add(1)
		s.log.Info("alerted", "game", g.Slug, "from", h.FromTier, "to", h.ToTier, "score", h.ToScore)
	}
}

func (s *Scheduler) lastRefresh() time.Time {
	n := s.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Refreshes:   s.refreshes.Load(),
		Failures:    s.failures.Load(),
		Sampled:     s.sampled.Load(),
		Triggered:   s.triggered.Load(),
		Alerts:      s.alerts.Load(),
		LastRefresh: s.lastRefresh(),
	}
}
