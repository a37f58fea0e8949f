package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/gamerank/gamerank/internal/config"
	"github.com/gamerank/gamerank/internal/scheduler"
	"github.com/gamerank/gamerank/internal/store"
	"github.com/gamerank/gamerank/pkg/alert"
	"github.com/gamerank/gamerank/pkg/catalog"
	"github.com/gamerank/gamerank/pkg/importer"
	"github.com/gamerank/gamerank/pkg/popularity"
	"github.com/gamerank/gamerank/pkg/projection"
	"github.com/gamerank/gamerank/pkg/server"
)

// The CLI talks to the database directly, so it acts with admin rights.
var cliCaller = catalog.Caller{Admin: true}

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *store.SQLStore
	cache   *projection.Cache
	sched   *scheduler.Scheduler
	catalog *catalog.Service
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// openApp wires config, store, projection cache, scheduler and catalog, and
// loads the persisted snapshots.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()

	db, err := store.New(cfg.Database.Driver, cfg.Database.DSN, cfg.Scoring.Scorer())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cache, err := projection.NewCache(db, db, cfg.Refresh.Definitions()...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("projection cache: %w", err)
	}
	if err := cache.Warm(ctx); err != nil {
		logger.Warn("some snapshots could not be loaded", "error", err)
	}

	publicURL := strings.TrimRight(cfg.Server.PublicURL, "/")
	sched := scheduler.New(cache, scheduler.Options{
		Interval:     cfg.Refresh.ParseInterval(),
		SampleRate:   cfg.Refresh.SampleRate,
		MinAlertTier: cfg.Refresh.MinAlertTier(),
		Promotions:   db,
		Alerts:       buildAlertManager(cfg),
		GameURL:      func(slug string) string { return publicURL + "/api/v1/games/" + slug },
		Logger:       logger,
	})

	return &app{
		cfg:     cfg,
		log:     logger,
		store:   db,
		cache:   cache,
		sched:   sched,
		catalog: catalog.New(db, cache, sched, logger),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func (a *app) igdbSyncer(limit int) (*importer.IGDB, error) {
	ic := a.cfg.Importer.IGDB
	if ic.ClientID == "" || ic.Token == "" {
		return nil, errors.New("igdb: set TWITCH_CLIENT_ID and TWITCH_APP_ACCESS_TOKEN")
	}
	if limit <= 0 {
		limit = ic.Limit
	}
	return importer.NewIGDB(a.catalog, importer.IGDBOptions{
		BaseURL:   ic.BaseURL,
		ClientID:  ic.ClientID,
		Token:     ic.Token,
		BatchSize: ic.BatchSize,
		Parallel:  ic.Parallel,
		Limit:     limit,
		Logger:    a.log,
	}), nil
}

func (a *app) feedCollector() *importer.Feeds {
	fc := a.cfg.Importer.Feeds
	feeds := make([]importer.Feed, len(fc.Feeds))
	for i, f := range fc.Feeds {
		feeds[i] = importer.Feed{Name: f.Name, URL: f.URL}
	}
	return importer.NewFeeds(a.catalog, importer.FeedOptions{
		Feeds:   feeds,
		MaxAge:  fc.ParseMaxAge(),
		Exclude: fc.Exclude,
		Logger:  a.log,
	})
}

func runServe(port int, withImporters bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	srv := server.New(a.catalog, server.Options{
		Port:            port,
		AdminKey:        a.cfg.Server.AdminKey,
		RefreshInterval: a.cfg.Refresh.ParseInterval(),
		Logger:          a.log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(a.sched.Run(ctx))
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	if withImporters {
		g.Go(func() error {
			return ignoreCanceled(a.runImporters(ctx))
		})
	}

	err = g.Wait()
	a.log.Info("shutting down")
	return err
}

// runImporters runs every enabled importer now and then on the importer
// interval. Importer failures are logged, never fatal.
func (a *app) runImporters(ctx context.Context) error {
	var syncer *importer.IGDB
	if a.cfg.Importer.IGDB.Enabled {
		s, err := a.igdbSyncer(0)
		if err != nil {
			return err
		}
		syncer = s
	}
	var feeds *importer.Feeds
	if a.cfg.Importer.Feeds.Enabled {
		feeds = a.feedCollector()
	}
	if syncer == nil && feeds == nil {
		return nil
	}

	ticker := time.NewTicker(a.cfg.Importer.ParseInterval())
	defer ticker.Stop()

	for {
		if syncer != nil {
			if _, err := syncer.Sync(ctx); err != nil {
				a.log.Error("igdb sync failed", "error", err)
			}
		}
		if feeds != nil {
			if _, err := feeds.Collect(ctx); err != nil {
				a.log.Error("feed collection failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runRefresh(name string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.catalog.ForceRefresh(ctx, name, cliCaller); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECTION\tROWS\tGENERATION\tBUILT")
	for _, st := range a.catalog.RefreshStatus() {
		if name != "" && st.Projection != name {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			st.Projection, humanize.Comma(int64(st.Rows)), st.Generation, humanize.Time(st.BuiltAt))
	}
	return w.Flush()
}

func runImportIGDB(limit int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	syncer, err := a.igdbSyncer(limit)
	if err != nil {
		return err
	}
	stats, err := syncer.Sync(ctx)
	fmt.Fprintf(os.Stderr, "igdb: %s candidates, %s updated, %d missing, %d failed batches\n",
		humanize.Comma(int64(stats.Candidates)), humanize.Comma(int64(stats.Updated)),
		stats.Missing, stats.FailedBatches)
	return err
}

func runImportFeeds() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.feedCollector().Collect(ctx)
	fmt.Fprintf(os.Stderr, "feeds: %d items, %d mentions, %d new hypes, %d failed feeds\n",
		stats.Items, stats.Mentions, stats.Counted, stats.FailedFeeds)
	return err
}

func runGameCreate(name string, igdbID, follows, hypes, ratings int64) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	g := &store.Game{
		Name:    name,
		Signals: popularity.Signals{Follows: follows, Hypes: hypes, RatingCount: ratings},
	}
	if igdbID > 0 {
		g.IGDBID = &igdbID
	}
	if err := a.catalog.CreateGame(ctx, g); err != nil {
		return err
	}
	printGame(g)
	return nil
}

func runGameGet(id string, jsonOutput bool) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.catalog.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(g)
	}
	printGame(g)
	return nil
}

func runGameHistory(id string, limit int) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	hist, err := a.catalog.History(ctx, id, limit)
	if err != nil {
		return err
	}
	if len(hist) == 0 {
		fmt.Println("no history yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSCORE\tTIER\tREASON")
	for _, h := range hist {
		fmt.Fprintf(w, "%s\t%s → %s\t%s → %s\t%s\n",
			humanize.Time(h.CreatedAt),
			humanize.Comma(h.FromScore), humanize.Comma(h.ToScore),
			h.FromTier, h.ToTier, h.Reason)
	}
	return w.Flush()
}

func runSignal(id, signalName, value, mode, reason string) error {
	sig, err := store.ParseSignal(signalName)
	if err != nil {
		return err
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("value %q: %w", value, err)
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.catalog.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	g, err = a.catalog.RecordSignalEvent(ctx, g.ID, store.SignalEvent{
		Signal: sig,
		Mode:   store.Mode(mode),
		Value:  v,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	printGame(g)
	return nil
}

func runTop(name, tier string, limit, offset int, jsonOutput bool) error {
	f := projection.Filter{Limit: limit, Offset: offset}
	if tier != "" {
		t, err := popularity.ParseTier(tier)
		if err != nil {
			return err
		}
		f.Tier = t
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.catalog.QueryCache(ctx, name, f, cliCaller)
	if errors.Is(err, projection.ErrNotBuilt) {
		return fmt.Errorf("%s has no snapshot yet (try: gamerank refresh %s)", name, name)
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Fprintf(os.Stderr, "%s: %d of %s games, built %s\n",
		res.Projection, len(res.Entries), humanize.Comma(int64(res.Total)), humanize.Time(res.BuiltAt))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tTIER\tFOLLOWS\tHYPES\tRATINGS\tGAME")
	for _, e := range res.Entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Rank, humanize.Comma(e.PopularityScore), e.PopularityTier,
			humanize.Comma(e.Follows), humanize.Comma(e.Hypes), humanize.Comma(e.RatingCount), e.Name)
	}
	return w.Flush()
}

func printGame(g *store.Game) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", g.ID)
	fmt.Fprintf(w, "name\t%s (%s)\n", g.Name, g.Slug)
	fmt.Fprintf(w, "score\t%s\n", humanize.Comma(g.PopularityScore))
	fmt.Fprintf(w, "tier\t%s\n", g.PopularityTier)
	fmt.Fprintf(w, "follows\t%s\n", humanize.Comma(g.Follows))
	fmt.Fprintf(w, "hypes\t%s\n", humanize.Comma(g.Hypes))
	fmt.Fprintf(w, "ratings\t%s\n", humanize.Comma(g.RatingCount))
	fmt.Fprintf(w, "updated\t%s\n", humanize.Time(g.UpdatedAt))
	w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
