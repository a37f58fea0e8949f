package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gamerank/gamerank/pkg/popularity"
	"github.com/gamerank/gamerank/pkg/projection"
)

func testStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New("sqlite", filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createGame(t *testing.T, s *SQLStore, name string, sig popularity.Signals) *Game {
	t.Helper()
	g := &Game{Name: name, Signals: sig}
	if err := s.CreateGame(context.Background(), g); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return g
}

func TestCreateGameDerivesScore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	g := createGame(t, s, "Hollow Knight: Silksong", popularity.Signals{Follows: 150_000})
	if g.Slug != "hollow-knight-silksong" {
		t.Errorf("expected slug hollow-knight-silksong, got %s", g.Slug)
	}

	got, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PopularityScore != 90_000 || got.PopularityTier != popularity.TierViral {
		t.Errorf("expected 90000/viral, got %d/%s", got.PopularityScore, got.PopularityTier)
	}

	bySlug, err := s.GetGameBySlug(ctx, g.Slug)
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if bySlug.ID != g.ID {
		t.Errorf("expected %s, got %s", g.ID, bySlug.ID)
	}

	hist, err := s.ListHistory(ctx, g.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].Reason != "created" || hist[0].ToTier != popularity.TierViral {
		t.Errorf("expected one created entry, got %+v", hist)
	}
}

func TestCreateGameRequiresName(t *testing.T) {
	s := testStore(t)
	err := s.CreateGame(context.Background(), &Game{Name: "   "})
	if !errors.Is(err, ErrInvalidGame) {
		t.Errorf("expected ErrInvalidGame, got %v", err)
	}
}

func TestCreateGameNoHistoryForNiche(t *testing.T) {
	s := testStore(t)
	g := createGame(t, s, "Quiet Game", popularity.Signals{})

	hist, err := s.ListHistory(context.Background(), g.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 0 {
		t.Errorf("expected no history, got %d rows", len(hist))
	}
}

func TestApplySignalUpdatesDerivedFields(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := createGame(t, s, "Celeste", popularity.Signals{Follows: 100_000})

	if g.PopularityTier != popularity.TierMainstream {
		t.Fatalf("expected mainstream at exactly 100000 follows, got %s", g.PopularityTier)
	}

	updated, err := s.ApplySignal(ctx, g.ID, SignalEvent{Signal: SignalFollows, Mode: ModeDelta, Value: 1})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if updated.Follows != 100_001 || updated.PopularityTier != popularity.TierViral {
		t.Errorf("expected 100001/viral, got %d/%s", updated.Follows, updated.PopularityTier)
	}

	// a read right after the commit sees the new score
	got, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PopularityScore != popularity.Score(got.Signals) {
		t.Errorf("stored score %d does not match signals %+v", got.PopularityScore, got.Signals)
	}
	if got.PopularityTier != popularity.TierViral {
		t.Errorf("expected viral, got %s", got.PopularityTier)
	}

	hist, err := s.ListHistory(ctx, g.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(hist))
	}
	if hist[0].FromTier != popularity.TierMainstream || hist[0].ToTier != popularity.TierViral {
		t.Errorf("expected mainstream -> viral, got %s -> %s", hist[0].FromTier, hist[0].ToTier)
	}
}

func TestApplySignalModes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := createGame(t, s, "Hades", popularity.Signals{Follows: 5, Hypes: 100, RatingCount: 40})

	tests := []struct {
		name string
		ev   SignalEvent
		want func(*Game) int64
		exp  int64
	}{
		{"delta floors at zero", SignalEvent{Signal: SignalFollows, Mode: ModeDelta, Value: -10}, func(g *Game) int64 { return g.Follows }, 0},
		{"set replaces", SignalEvent{Signal: SignalHypes, Mode: ModeSet, Value: 7}, func(g *Game) int64 { return g.Hypes }, 7},
		{"set clamps negative", SignalEvent{Signal: SignalHypes, Mode: ModeSet, Value: -3}, func(g *Game) int64 { return g.Hypes }, 0},
		{"max keeps larger", SignalEvent{Signal: SignalRatingCount, Mode: ModeMax, Value: 10}, func(g *Game) int64 { return g.RatingCount }, 40},
		{"max raises", SignalEvent{Signal: SignalRatingCount, Mode: ModeMax, Value: 90}, func(g *Game) int64 { return g.RatingCount }, 90},
		{"empty mode is delta", SignalEvent{Signal: SignalLikes, Value: 3}, func(g *Game) int64 { return g.LikeCount }, 3},
		{"views are stored", SignalEvent{Signal: SignalViews, Value: 12}, func(g *Game) int64 { return g.ViewCount }, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ApplySignal(ctx, g.ID, tt.ev)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if v := tt.want(got); v != tt.exp {
				t.Errorf("expected %d, got %d", tt.exp, v)
			}
			if got.PopularityScore != popularity.Score(got.Signals) {
				t.Errorf("score %d out of sync with %+v", got.PopularityScore, got.Signals)
			}
		})
	}
}

func TestApplySignalErrors(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := createGame(t, s, "Tunic", popularity.Signals{Follows: 10})

	_, err := s.ApplySignal(ctx, g.ID, SignalEvent{Signal: "wishlists", Value: 1})
	if !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("expected ErrUnknownSignal, got %v", err)
	}

	_, err = s.ApplySignal(ctx, "missing", SignalEvent{Signal: SignalFollows, Value: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = s.ApplySignal(ctx, g.ID, SignalEvent{Signal: SignalFollows, Mode: "double", Value: 1})
	if err == nil {
		t.Error("expected error for unknown mode")
	}

	got, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Follows != 10 {
		t.Errorf("failed writes changed follows to %d", got.Follows)
	}
}

func TestApplySignalsIsAtomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := createGame(t, s, "Outer Wilds", popularity.Signals{})

	got, err := s.ApplySignals(ctx, g.ID, []SignalEvent{
		{Signal: SignalFollows, Value: 500},
		{Signal: SignalHypes, Value: 2000},
		{Signal: SignalRatingCount, Value: 50},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.PopularityScore != 950 || got.PopularityTier != popularity.TierNiche {
		t.Errorf("expected 950/niche, got %d/%s", got.PopularityScore, got.PopularityTier)
	}

	hist, err := s.ListHistory(ctx, g.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 {
		t.Errorf("expected one history row for the batch, got %d", len(hist))
	}
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := createGame(t, s, "Balatro", popularity.Signals{})

	const writers = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplySignal(ctx, g.ID, SignalEvent{Signal: SignalFollows, Mode: ModeDelta, Value: 1})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("apply: %v", err)
	}

	got, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Follows != writers {
		t.Errorf("expected %d follows, got %d", writers, got.Follows)
	}
	if got.PopularityScore != popularity.Score(popularity.Signals{Follows: writers}) {
		t.Errorf("score %d does not match %d follows", got.PopularityScore, writers)
	}
}

func TestSyncMetadataFillsGaps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	igdb := int64(1942)
	summary := "existing summary"
	g := &Game{Name: "The Witcher 3", IGDBID: &igdb, Summary: &summary, Signals: popularity.Signals{RatingCount: 500}}
	if err := s.CreateGame(ctx, g); err != nil {
		t.Fatalf("create: %v", err)
	}

	newSummary := "imported summary"
	cover := "https://images.igdb.com/igdb/image/upload/t_1080p/abc.jpg"
	rating := 92.5
	got, err := s.SyncMetadata(ctx, &Metadata{
		IGDBID:        igdb,
		Summary:       &newSummary,
		CoverURL:      &cover,
		AverageRating: &rating,
		RatingCount:   300,
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if got.Summary == nil || *got.Summary != summary {
		t.Errorf("existing summary was overwritten: %v", got.Summary)
	}
	if got.CoverURL == nil || *got.CoverURL != cover {
		t.Errorf("expected cover to be filled, got %v", got.CoverURL)
	}
	if got.AverageRating == nil || *got.AverageRating != rating {
		t.Errorf("expected rating %v, got %v", rating, got.AverageRating)
	}
	if got.RatingCount != 500 {
		t.Errorf("expected rating count to keep max 500, got %d", got.RatingCount)
	}
	if got.LastSynced == nil {
		t.Error("expected last_synced to be set")
	}

	_, err = s.SyncMetadata(ctx, &Metadata{IGDBID: 999})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown igdb id, got %v", err)
	}

	later := 71.0
	got, err = s.SyncMetadata(ctx, &Metadata{IGDBID: igdb, AverageRating: &later})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if got.AverageRating == nil || *got.AverageRating != rating {
		t.Errorf("existing rating was overwritten: %v", got.AverageRating)
	}
}

func TestSyncMetadataLookupFailureIsNotNotFound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	igdb := int64(42)
	if err := s.CreateGame(ctx, &Game{Name: "Moved Away", IGDBID: &igdb}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, "ALTER TABLE games RENAME TO games_moved"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	_, err := s.SyncMetadata(ctx, &Metadata{IGDBID: igdb})
	if err == nil {
		t.Fatal("expected an error when the games table is missing")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("a failed lookup must not read as ErrNotFound: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.SyncMetadata(cancelled, &Metadata{IGDBID: igdb}); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected a context error, got %v", err)
	}
}

func TestDuplicateNamesGetDistinctSlugs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want := []string{"doom", "doom-2", "doom-3"}
	for i, slug := range want {
		g := createGame(t, s, "Doom", popularity.Signals{})
		if g.Slug != slug {
			t.Errorf("game %d: expected slug %s, got %s", i, slug, g.Slug)
		}
	}

	g := createGame(t, s, "DOOM!", popularity.Signals{})
	if g.Slug != "doom-4" {
		t.Errorf("expected doom-4, got %s", g.Slug)
	}

	got, err := s.GetGameBySlug(ctx, "doom-2")
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if got.Name != "Doom" {
		t.Errorf("expected Doom, got %s", got.Name)
	}

	err = s.CreateGame(ctx, &Game{Name: "Doom Clone", Slug: "doom"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for an explicit taken slug, got %v", err)
	}

	igdb := int64(7)
	if err := s.CreateGame(ctx, &Game{Name: "Quake", IGDBID: &igdb}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err = s.CreateGame(ctx, &Game{Name: "Quake Remaster", IGDBID: &igdb})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for a taken igdb id, got %v", err)
	}
}

func TestListGamesNeedsMetadata(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	igdb := int64(7)
	if err := s.CreateGame(ctx, &Game{Name: "Synced Later", IGDBID: &igdb}); err != nil {
		t.Fatalf("create: %v", err)
	}
	createGame(t, s, "No IGDB", popularity.Signals{Follows: 5000})

	games, err := s.ListGames(ctx, ListOpts{NeedsMetadata: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(games) != 1 || games[0].Name != "Synced Later" {
		t.Errorf("expected only the igdb game, got %+v", games)
	}

	known, err := s.ListGames(ctx, ListOpts{Tier: popularity.TierKnown})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(known) != 1 || known[0].Name != "No IGDB" {
		t.Errorf("expected the known game, got %+v", known)
	}
}

func TestPendingPromotions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	g := createGame(t, s, "Stardew Valley", popularity.Signals{Follows: 9_000})
	createGame(t, s, "Small Game", popularity.Signals{Follows: 10})

	if _, err := s.ApplySignal(ctx, g.ID, SignalEvent{Signal: SignalFollows, Value: 2_000}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	pending, err := s.ListPendingPromotions(ctx, popularity.TierPopular, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 promotion, got %d", len(pending))
	}
	if pending[0].FromTier != popularity.TierKnown || pending[0].ToTier != popularity.TierPopular {
		t.Errorf("expected known -> popular, got %s -> %s", pending[0].FromTier, pending[0].ToTier)
	}

	if err := s.MarkAlerted(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pending, err = s.ListPendingPromotions(ctx, popularity.TierPopular, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending promotions after marking, got %d", len(pending))
	}
}

func TestFlagAndAdminOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := createGame(t, s, "Flagged", popularity.Signals{})

	if err := s.FlagGame(ctx, g.ID, "spam"); err != nil {
		t.Fatalf("flag: %v", err)
	}
	got, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FlaggedAt == nil || got.FlagReason != "spam" {
		t.Errorf("expected flag, got %v %q", got.FlaggedAt, got.FlagReason)
	}

	if err := s.ResolveFlag(ctx, g.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, _ = s.GetGame(ctx, g.ID)
	if got.FlaggedAt != nil {
		t.Errorf("expected flag cleared, got %v", got.FlaggedAt)
	}

	if err := s.SetAdminOnly(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSelectProjection(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	low := createGame(t, s, "Low", popularity.Signals{Follows: 100})
	high := createGame(t, s, "High", popularity.Signals{Follows: 20_000})
	createGame(t, s, "Zero", popularity.Signals{})

	var trending projection.Definition
	for _, d := range projection.Builtins() {
		if d.Name == projection.Trending {
			trending = d
		}
	}

	entries, err := s.SelectProjection(ctx, trending)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].GameID != high.ID || entries[1].GameID != low.ID {
		t.Errorf("expected high then low, got %s then %s", entries[0].Name, entries[1].Name)
	}
}

func TestPublicProjectionsExcludeAdminOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sig := popularity.Signals{Follows: 5_000, Hypes: 10, RatingCount: 3}
	visible := createGame(t, s, "Visible", sig)
	restricted := createGame(t, s, "Restricted", sig)
	for _, g := range []*Game{visible, restricted} {
		if err := s.FlagGame(ctx, g.ID, "review"); err != nil {
			t.Fatalf("flag: %v", err)
		}
	}
	if err := s.SetAdminOnly(ctx, restricted.ID, true); err != nil {
		t.Fatalf("admin only: %v", err)
	}

	defs := append(projection.Builtins(),
		projection.Definition{Name: "everything", OrderBy: "name"},
		projection.Definition{Name: "rated", Where: "rating_count > 0 OR hypes > 0", OrderBy: "name"},
	)
	for _, def := range defs {
		entries, err := s.SelectProjection(ctx, def)
		if err != nil {
			t.Fatalf("select %s: %v", def.Name, err)
		}
		ids := map[string]bool{}
		for _, e := range entries {
			ids[e.GameID] = true
		}
		if !ids[visible.ID] {
			t.Errorf("%s: expected the visible game, got %+v", def.Name, entries)
		}
		wantRestricted := def.Audience == projection.AudienceAdmin
		if ids[restricted.ID] != wantRestricted {
			t.Errorf("%s: restricted game present = %v, want %v", def.Name, ids[restricted.ID], wantRestricted)
		}
	}
}

func TestSnapshotPersistence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	snap, err := s.LoadSnapshot(ctx, "trending")
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot before any save, got %+v", snap)
	}

	g := createGame(t, s, "Persisted", popularity.Signals{Follows: 2_000})
	entries := []projection.Entry{{
		Rank: 1, GameID: g.ID, Slug: g.Slug, Name: g.Name, Follows: g.Follows,
		PopularityScore: g.PopularityScore, PopularityTier: g.PopularityTier, UpdatedAt: g.UpdatedAt,
	}}

	first := &projection.Snapshot{Projection: "trending", Generation: "gen-1", BuiltAt: g.UpdatedAt, Entries: entries}
	if err := s.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := &projection.Snapshot{Projection: "trending", Generation: "gen-2", BuiltAt: g.UpdatedAt, Entries: []projection.Entry{}}
	if err := s.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	loaded, err := s.LoadSnapshot(ctx, "trending")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Generation != "gen-2" || len(loaded.Entries) != 0 {
		t.Errorf("expected empty gen-2, got %s with %d entries", loaded.Generation, len(loaded.Entries))
	}

	if err := s.SaveSnapshot(ctx, &projection.Snapshot{Projection: "trending", Generation: "gen-3", BuiltAt: g.UpdatedAt, Entries: entries}); err != nil {
		t.Fatalf("save third: %v", err)
	}
	loaded, err = s.LoadSnapshot(ctx, "trending")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Generation != "gen-3" || len(loaded.Entries) != 1 || loaded.Entries[0].GameID != g.ID {
		t.Errorf("unexpected snapshot %+v", loaded)
	}

	var rows int
	if err := s.db.Get(&rows, "SELECT COUNT(*) FROM projection_entries WHERE projection = 'trending'"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected old generations dropped, %d rows left", rows)
	}
}

func TestSaveSnapshotFailingHalfwayKeepsPreviousHead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	g := createGame(t, s, "Anchor", popularity.Signals{Follows: 10})
	base := projection.Entry{GameID: g.ID, Slug: g.Slug, Name: g.Name, PopularityTier: g.PopularityTier, UpdatedAt: g.UpdatedAt}

	good := &projection.Snapshot{Projection: "popular", Generation: "good", BuiltAt: g.UpdatedAt}
	for i := range 3 {
		e := base
		e.Rank = i + 1
		good.Entries = append(good.Entries, e)
	}
	if err := s.SaveSnapshot(ctx, good); err != nil {
		t.Fatalf("save: %v", err)
	}

	const rows = 10_000
	bad := &projection.Snapshot{Projection: "popular", Generation: "bad", BuiltAt: g.UpdatedAt}
	for i := range rows {
		e := base
		e.Rank = i + 1
		if i == rows/2 {
			e.Rank = i // duplicate rank breaks the primary key halfway through
		}
		bad.Entries = append(bad.Entries, e)
	}
	if err := s.SaveSnapshot(ctx, bad); err == nil {
		t.Fatal("expected save to fail")
	}

	loaded, err := s.LoadSnapshot(ctx, "popular")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Generation != "good" || len(loaded.Entries) != 3 {
		t.Errorf("expected the good generation, got %s with %d entries", loaded.Generation, len(loaded.Entries))
	}

	var leftovers int
	if err := s.db.Get(&leftovers, "SELECT COUNT(*) FROM projection_entries WHERE generation = 'bad'"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if leftovers != 0 {
		t.Errorf("half-written generation left %d rows behind", leftovers)
	}
}

func TestApplyFeedHypeCountsOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := createGame(t, s, "Silksong", popularity.Signals{})

	got, applied, err := s.ApplyFeedHype(ctx, "pcgamer:item-1", g.ID)
	if err != nil {
		t.Fatalf("hype: %v", err)
	}
	if !applied || got.Hypes != 1 {
		t.Errorf("expected first mention to count, got applied=%v hypes=%v", applied, got)
	}

	_, applied, err = s.ApplyFeedHype(ctx, "pcgamer:item-1", g.ID)
	if err != nil {
		t.Fatalf("hype again: %v", err)
	}
	if applied {
		t.Error("expected repeated mention to be ignored")
	}

	if _, _, err := s.ApplyFeedHype(ctx, "pcgamer:item-2", "missing"); err == nil {
		t.Error("expected error for unknown game")
	}

	again, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Hypes != 1 {
		t.Errorf("expected 1 hype, got %d", again.Hypes)
	}
}
