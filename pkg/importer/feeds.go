package importer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/gamerank/gamerank/internal/store"
)

// minNameLen keeps short names like "Hex" or "Go" from matching every headline.
const minNameLen = 4

// HypeRecorder is the part of the catalog the feed collector writes through.
type HypeRecorder interface {
	ListGames(ctx context.Context, opts store.ListOpts) ([]store.Game, error)
	RecordFeedHype(ctx context.Context, itemKey, gameID string) (bool, error)
}

// Feed is a named RSS/Atom feed URL.
type Feed struct {
	Name string
	URL  string
}

// FeedOptions configures a feed collection run.
type FeedOptions struct {
	Feeds     []Feed
	MaxAge    time.Duration
	Exclude   []string
	GameLimit int
	Client    *http.Client
	Logger    *slog.Logger
}

// FeedStats summarizes one collection run.
type FeedStats struct {
	Items       int
	Mentions    int
	Counted     int
	FailedFeeds int
}

// Feeds counts game mentions in news feeds as hypes.
type Feeds struct {
	opts   FeedOptions
	client *http.Client
	parser *gofeed.Parser
	target HypeRecorder
	log    *slog.Logger
	now    func() time.Time
}

// NewFeeds creates a feed collector writing into target.
func NewFeeds(target HypeRecorder, opts FeedOptions) *Feeds {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.GameLimit <= 0 {
		opts.GameLimit = 10_000
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeds{
		opts:   opts,
		client: client,
		parser: gofeed.NewParser(),
		target: target,
		log:    logger.With("component", "feeds"),
		now:    time.Now,
	}
}

// Collect reads every feed once and records a hype for each game an item
// mentions. Items already counted on an earlier run are skipped by the store.
func (f *Feeds) Collect(ctx context.Context) (FeedStats, error) {
	var stats FeedStats

	games, err := f.target.ListGames(ctx, store.ListOpts{Limit: f.opts.GameLimit})
	if err != nil {
		return stats, fmt.Errorf("list games: %w", err)
	}
	matcher := NewMatcher(games, f.opts.Exclude)

	for _, feed := range f.opts.Feeds {
		items, err := f.fetch(ctx, feed)
		if err != nil {
			stats.FailedFeeds++
			f.log.Warn("feed failed", "feed", feed.Name, "error", err)
			continue
		}
		for _, item := range items {
			stats.Items++
			for _, gameID := range matcher.Match(item.text) {
				stats.Mentions++
				counted, err := f.target.RecordFeedHype(ctx, item.key, gameID)
				if err != nil {
					if ctx.Err() != nil {
						return stats, ctx.Err()
					}
					f.log.Warn("record hype failed", "item", item.key, "game_id", gameID, "error", err)
					continue
				}
				if counted {
					stats.Counted++
				}
			}
		}
	}

	f.log.Info("feed collection finished",
		"items", stats.Items,
		"mentions", stats.Mentions,
		"counted", stats.Counted)

	if len(f.opts.Feeds) > 0 && stats.FailedFeeds == len(f.opts.Feeds) {
		return stats, fmt.Errorf("feed collection: all %d feeds failed", stats.FailedFeeds)
	}
	return stats, nil
}

type feedItem struct {
	key  string
	text string
}

func (f *Feeds) fetch(ctx context.Context, feed Feed) ([]feedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "gamerank/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s status %d", feed.Name, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.Name, err)
	}

	cutoff := f.now().Add(-f.opts.MaxAge)
	var items []feedItem
	for _, entry := range parsed.Items {
		published := entry.PublishedParsed
		if published == nil {
			published = entry.UpdatedParsed
		}
		if published != nil && published.Before(cutoff) {
			continue
		}

		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		if id == "" {
			continue
		}
		items = append(items, feedItem{
			key:  "feed:" + id,
			text: entry.Title + " " + strings.Join(entry.Categories, " "),
		})
	}
	return items, nil
}

// Matcher finds game names in free text.
type Matcher struct {
	names   []matchName
	exclude []string
}

type matchName struct {
	lower  string
	gameID string
}

// NewMatcher builds a matcher for games. Text containing any exclude term
// matches nothing.
func NewMatcher(games []store.Game, exclude []string) *Matcher {
	m := &Matcher{}
	for _, g := range games {
		name := strings.ToLower(strings.TrimSpace(g.Name))
		if utf8.RuneCountInString(name) < minNameLen {
			continue
		}
		m.names = append(m.names, matchName{lower: name, gameID: g.ID})
	}
	for _, ex := range exclude {
		if ex = strings.ToLower(strings.TrimSpace(ex)); ex != "" {
			m.exclude = append(m.exclude, ex)
		}
	}
	return m
}

// Match returns the ids of games whose full name appears in text as whole
// words, each at most once.
func (m *Matcher) Match(text string) []string {
	lower := strings.ToLower(text)
	for _, ex := range m.exclude {
		if strings.Contains(lower, ex) {
			return nil
		}
	}

	var ids []string
	seen := make(map[string]bool)
	for _, n := range m.names {
		if seen[n.gameID] || !containsWord(lower, n.lower) {
			continue
		}
		seen[n.gameID] = true
		ids = append(ids, n.gameID)
	}
	return ids
}

func containsWord(text, word string) bool {
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], word)
		if i < 0 {
			return false
		}
		start := off + i
		end := start + len(word)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		off = start + size
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
