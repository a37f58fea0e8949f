// Package importer feeds bulk signal changes into the catalog: game metadata
// and rating counts from IGDB, and hype counts from gaming news feeds.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gamerank/gamerank/internal/store"
)

const igdbFields = "name,summary,cover.url,first_release_date," +
	"involved_companies.company.name,involved_companies.developer,involved_companies.publisher," +
	"total_rating,total_rating_count"

// Syncer is the part of the catalog the IGDB sync writes through.
type Syncer interface {
	ListGames(ctx context.Context, opts store.ListOpts) ([]store.Game, error)
	SyncMetadata(ctx context.Context, md *store.Metadata) (*store.Game, error)
}

// IGDBOptions configures an IGDB sync.
type IGDBOptions struct {
	BaseURL   string
	ClientID  string
	Token     string
	BatchSize int
	Parallel  int
	Limit     int
	Client    *http.Client
	Logger    *slog.Logger
}

// IGDB pulls metadata for games that are missing some, in batches.
type IGDB struct {
	opts   IGDBOptions
	client *http.Client
	target Syncer
	log    *slog.Logger
}

// SyncStats summarizes one sync run.
type SyncStats struct {
	Candidates    int
	Fetched       int
	Updated       int
	Missing       int
	FailedBatches int
}

// NewIGDB creates an IGDB syncer writing into target.
func NewIGDB(target Syncer, opts IGDBOptions) *IGDB {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.igdb.com/v4"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BatchSize <= 0 || opts.BatchSize > 500 {
		opts.BatchSize = 500
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	if opts.Limit <= 0 {
		opts.Limit = 5000
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IGDB{
		opts:   opts,
		client: client,
		target: target,
		log:    logger.With("component", "igdb"),
	}
}

// Sync fetches metadata for up to Limit games lacking it, most rated first.
// A failed batch is logged and counted; the run only fails when every batch
// failed or ctx was cancelled.
func (i *IGDB) Sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	games, err := i.target.ListGames(ctx, store.ListOpts{NeedsMetadata: true, Limit: i.opts.Limit})
	if err != nil {
		return stats, fmt.Errorf("list games needing metadata: %w", err)
	}
	var ids []int64
	for _, g := range games {
		if g.IGDBID != nil {
			ids = append(ids, *g.IGDBID)
		}
	}
	stats.Candidates = len(ids)
	if len(ids) == 0 {
		return stats, nil
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		batches int
		sem     = semaphore.NewWeighted(int64(i.opts.Parallel))
	)
	for start := 0; start < len(ids); start += i.opts.BatchSize {
		end := min(start+i.opts.BatchSize, len(ids))
		batch := ids[start:end]
		batches++

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			stats.FailedBatches++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(batch []int64) {
			defer sem.Release(1)
			defer wg.Done()

			res, err := i.syncBatch(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.FailedBatches++
				i.log.Warn("igdb batch failed", "size", len(batch), "error", err)
				return
			}
			stats.Fetched += res.Fetched
			stats.Updated += res.Updated
			stats.Missing += res.Missing
		}(batch)
	}
	wg.Wait()

	i.log.Info("igdb sync finished",
		"candidates", stats.Candidates,
		"updated", stats.Updated,
		"failed_batches", stats.FailedBatches)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if stats.FailedBatches == batches {
		return stats, fmt.Errorf("igdb sync: all %d batches failed", batches)
	}
	return stats, nil
}

func (i *IGDB) syncBatch(ctx context.Context, ids []int64) (SyncStats, error) {
	var stats SyncStats
	games, err := i.fetchGames(ctx, ids)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(games)
	for _, g := range games {
		_, err := i.target.SyncMetadata(ctx, g.metadata())
		switch {
		case errors.Is(err, store.ErrNotFound):
			stats.Missing++
		case err != nil:
			i.log.Warn("igdb update failed", "igdb_id", g.ID, "error", err)
		default:
			stats.Updated++
		}
	}
	return stats, nil
}

func (i *IGDB) fetchGames(ctx context.Context, ids []int64) ([]igdbGame, error) {
	parts := make([]string, len(ids))
	for n, id := range ids {
		parts[n] = strconv.FormatInt(id, 10)
	}
	query := fmt.Sprintf("fields %s; where id = (%s); limit %d;", igdbFields, strings.Join(parts, ","), len(ids))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.opts.BaseURL+"/games", bytes.NewBufferString(query))
	if err != nil {
		return nil, fmt.Errorf("create igdb request: %w", err)
	}
	req.Header.Set("Client-ID", i.opts.ClientID)
	req.Header.Set("Authorization", "Bearer "+i.opts.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "gamerank/1.0")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch igdb games: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("igdb status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var games []igdbGame
	if err := json.NewDecoder(resp.Body).Decode(&games); err != nil {
		return nil, fmt.Errorf("decode igdb games: %w", err)
	}
	return games, nil
}

type igdbGame struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Cover   *struct {
		URL string `json:"url"`
	} `json:"cover"`
	FirstReleaseDate  int64 `json:"first_release_date"`
	InvolvedCompanies []struct {
		Company struct {
			Name string `json:"name"`
		} `json:"company"`
		Developer bool `json:"developer"`
		Publisher bool `json:"publisher"`
	} `json:"involved_companies"`
	TotalRating      float64 `json:"total_rating"`
	TotalRatingCount int64   `json:"total_rating_count"`
}

func (g igdbGame) metadata() *store.Metadata {
	md := &store.Metadata{IGDBID: g.ID, RatingCount: g.TotalRatingCount}
	if g.Summary != "" {
		md.Summary = &g.Summary
	}
	if g.Cover != nil && g.Cover.URL != "" {
		u := ImageURL(g.Cover.URL)
		md.CoverURL = &u
	}
	if g.FirstReleaseDate > 0 {
		d := time.Unix(g.FirstReleaseDate, 0).UTC().Format(time.DateOnly)
		md.ReleaseDate = &d
	}
	for _, ic := range g.InvolvedCompanies {
		name := ic.Company.Name
		if name == "" {
			continue
		}
		if ic.Developer && md.Developer == nil {
			md.Developer = &name
		}
		if ic.Publisher && md.Publisher == nil {
			md.Publisher = &name
		}
	}
	if g.TotalRating > 0 {
		r := math.Round(g.TotalRating*10) / 10
		md.AverageRating = &r
	}
	return md
}

// ImageURL turns an IGDB image reference into an absolute full-size URL.
func ImageURL(raw string) string {
	u := raw
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	return strings.Replace(u, "/t_thumb/", "/t_1080p/", 1)
}
