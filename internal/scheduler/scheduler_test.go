package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamerank/gamerank/internal/store"
	"github.com/gamerank/gamerank/pkg/alert"
	"github.com/gamerank/gamerank/pkg/popularity"
	"github.com/gamerank/gamerank/pkg/projection"
)

type countingCache struct {
	mu       sync.Mutex
	all      int
	single   []string
	err      error
	rebuilds chan struct{}
}

func newCountingCache() *countingCache {
	return &countingCache{rebuilds: make(chan struct{}, 16)}
}

func (c *countingCache) Rebuild(ctx context.Context, name string) (*projection.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "missing" {
		return nil, projection.ErrUnknownProjection
	}
	c.single = append(c.single, name)
	return &projection.Snapshot{Projection: name, Generation: "g"}, nil
}

func (c *countingCache) RebuildAll(ctx context.Context) error {
	c.mu.Lock()
	c.all++
	err := c.err
	c.mu.Unlock()
	select {
	case c.rebuilds <- struct{}{}:
	default:
	}
	return err
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.all
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitRebuild(t *testing.T, c *countingCache) {
	t.Helper()
	select {
	case <-c.rebuilds:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a rebuild")
	}
}

func TestRunRefreshesOnStartAndInterval(t *testing.T) {
	cache := newCountingCache()
	s := New(cache, Options{Interval: 20 * time.Millisecond, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	waitRebuild(t, cache) // startup
	waitRebuild(t, cache) // first tick
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, s.Stats().Refreshes, int64(2))
}

func TestSampledWriteTriggersRefresh(t *testing.T) {
	cache := newCountingCache()
	s := New(cache, Options{
		Interval:   time.Hour,
		SampleRate: 1,
		MinGap:     time.Nanosecond,
		Logger:     quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitRebuild(t, cache)

	assert.True(t, s.NotifyMutation("game-1", 1))
	waitRebuild(t, cache)
	assert.Equal(t, int64(1), s.Stats().Triggered)
}

func TestWriteWithinMinGapIsDropped(t *testing.T) {
	cache := newCountingCache()
	s := New(cache, Options{
		Interval:   time.Hour,
		SampleRate: 1,
		MinGap:     time.Hour,
		Logger:     quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitRebuild(t, cache)

	assert.True(t, s.NotifyMutation("game-1", 1))
	require.Eventually(t, func() bool { return len(s.trigger) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return cache.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Zero(t, s.Stats().Triggered)

	// the dropped request is not replayed later; only a new one can trigger
	assert.True(t, s.NotifyMutation("game-1", 2))
}

func TestNotifyMutationNeverBlocks(t *testing.T) {
	s := New(newCountingCache(), Options{SampleRate: 1, Logger: quietLogger()})

	// nothing drains the queue; the first request is queued, the rest coalesce
	assert.True(t, s.NotifyMutation("g", 1))
	for i := int64(2); i < 100; i++ {
		assert.False(t, s.NotifyMutation("g", i))
	}
	assert.Equal(t, int64(99), s.Stats().Sampled)
}

func TestZeroSampleRateNeverTriggers(t *testing.T) {
	s := New(newCountingCache(), Options{SampleRate: 0, Logger: quietLogger()})
	for i := range int64(1000) {
		require.False(t, s.NotifyMutation("g", i))
	}
}

func TestSamplingRate(t *testing.T) {
	s := New(newCountingCache(), Options{SampleRate: 0.01, Logger: quietLogger()})

	const writes = 100_000
	hits := 0
	for i := range writes {
		if s.Sampled(fmt.Sprintf("game-%d", i%500), int64(i)) {
			hits++
		}
	}
	assert.InDelta(t, writes/100, hits, writes/200, "expected about 1% of writes sampled")

	// deterministic for the same write
	assert.Equal(t, s.Sampled("game-7", 42), s.Sampled("game-7", 42))
}

func TestForceRefresh(t *testing.T) {
	cache := newCountingCache()
	s := New(cache, Options{Logger: quietLogger()})
	ctx := context.Background()

	require.NoError(t, s.ForceRefresh(ctx, "trending"))
	assert.Equal(t, []string{"trending"}, cache.single)

	require.NoError(t, s.ForceRefresh(ctx, ""))
	assert.Equal(t, 1, cache.count())

	err := s.ForceRefresh(ctx, "missing")
	assert.ErrorIs(t, err, projection.ErrUnknownProjection)
}

func TestRefreshFailureIsLoggedNotFatal(t *testing.T) {
	cache := newCountingCache()
	cache.err = errors.New("db gone")
	s := New(cache, Options{Interval: 10 * time.Millisecond, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	waitRebuild(t, cache)
	waitRebuild(t, cache)
	cancel()
	<-done

	assert.GreaterOrEqual(t, s.Stats().Failures, int64(2))
}

type recorder struct {
	mu   sync.Mutex
	name string
	err  error
	sent []*alert.Notification
}

func (r *recorder) Name() string {
	if r.name == "" {
		return "recorder"
	}
	return r.name
}

func (r *recorder) Send(ctx context.Context, n *alert.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func TestPromotionsAreAlertedOnce(t *testing.T) {
	st, err := store.New("sqlite", filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	g := &store.Game{Name: "Hades II", Signals: popularity.Signals{Follows: 9_500}}
	require.NoError(t, st.CreateGame(ctx, g))
	_, err = st.ApplySignal(ctx, g.ID, store.SignalEvent{Signal: store.SignalFollows, Value: 1_000})
	require.NoError(t, err)

	rec := &recorder{}
	s := New(newCountingCache(), Options{
		Promotions: st,
		Alerts:     alert.NewManager([]alert.Notifier{rec}),
		GameURL:    func(slug string) string { return "https://gamerank.test/games/" + slug },
		Logger:     quietLogger(),
	})

	require.NoError(t, s.ForceRefresh(ctx, ""))
	require.NoError(t, s.ForceRefresh(ctx, ""))

	require.Len(t, rec.sent, 1)
	n := rec.sent[0]
	assert.Equal(t, popularity.TierKnown, n.FromTier)
	assert.Equal(t, popularity.TierPopular, n.ToTier)
	assert.Equal(t, "https://gamerank.test/games/hades-ii", n.URL)
	assert.Equal(t, int64(1), s.Stats().Alerts)
}

func promotedStore(t *testing.T) *store.SQLStore {
	t.Helper()
	st, err := store.New("sqlite", filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	g := &store.Game{Name: "Hades II", Signals: popularity.Signals{Follows: 9_500}}
	require.NoError(t, st.CreateGame(ctx, g))
	_, err = st.ApplySignal(ctx, g.ID, store.SignalEvent{Signal: store.SignalFollows, Value: 1_000})
	require.NoError(t, err)
	return st
}

func TestPartlyDeliveredPromotionIsNotResent(t *testing.T) {
	st := promotedStore(t)
	ctx := context.Background()

	down := &recorder{name: "webhook", err: errors.New("503 from webhook")}
	up := &recorder{name: "discord"}
	s := New(newCountingCache(), Options{
		Promotions: st,
		Alerts:     alert.NewManager([]alert.Notifier{down, up}),
		Logger:     quietLogger(),
	})

	for range 3 {
		require.NoError(t, s.ForceRefresh(ctx, ""))
	}

	assert.Len(t, up.sent, 1, "working destination gets the promotion once")
	assert.Len(t, down.sent, 1, "failed destination is not retried after a partial success")
	assert.Equal(t, int64(1), s.Stats().Alerts)
}

func TestUndeliveredPromotionIsRetried(t *testing.T) {
	st := promotedStore(t)
	ctx := context.Background()

	flaky := &recorder{err: errors.New("connection refused")}
	s := New(newCountingCache(), Options{
		Promotions: st,
		Alerts:     alert.NewManager([]alert.Notifier{flaky}),
		Logger:     quietLogger(),
	})

	require.NoError(t, s.ForceRefresh(ctx, ""))
	require.NoError(t, s.ForceRefresh(ctx, ""))
	assert.Len(t, flaky.sent, 2)
	assert.Zero(t, s.Stats().Alerts)

	flaky.mu.Lock()
	flaky.err = nil
	flaky.mu.Unlock()
	require.NoError(t, s.ForceRefresh(ctx, ""))
	require.NoError(t, s.ForceRefresh(ctx, ""))
	assert.Len(t, flaky.sent, 3)
	assert.Equal(t, int64(1), s.Stats().Alerts)
}
