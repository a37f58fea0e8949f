package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/gamerank/gamerank/pkg/popularity"
	"github.com/gamerank/gamerank/pkg/projection"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownSignal = errors.New("unknown signal")
	ErrInvalidGame   = errors.New("invalid game")
	ErrConflict      = errors.New("already exists")
)

// Game is a catalogue entry with its raw signals and the fields derived
// from them. PopularityScore and PopularityTier are only ever written by the
// store, in the same transaction as the signals that produced them.
type Game struct {
	ID            string     `db:"id" json:"id"`
	Slug          string     `db:"slug" json:"slug"`
	Name          string     `db:"name" json:"name"`
	IGDBID        *int64     `db:"igdb_id" json:"igdb_id,omitempty"`
	Summary       *string    `db:"summary" json:"summary,omitempty"`
	CoverURL      *string    `db:"cover_url" json:"cover_url,omitempty"`
	ReleaseDate   *string    `db:"release_date" json:"release_date,omitempty"`
	Developer     *string    `db:"developer" json:"developer,omitempty"`
	Publisher     *string    `db:"publisher" json:"publisher,omitempty"`
	LikeCount     int64      `db:"like_count" json:"like_count"`
	ViewCount     int64      `db:"view_count" json:"view_count"`
	AverageRating *float64   `db:"average_rating" json:"average_rating,omitempty"`
	FlaggedAt     *time.Time `db:"flagged_at" json:"flagged_at,omitempty"`
	FlagReason    string     `db:"flag_reason" json:"flag_reason,omitempty"`
	AdminOnly     bool       `db:"admin_only" json:"admin_only"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	LastSynced    *time.Time `db:"last_synced" json:"last_synced,omitempty"`

	popularity.Signals
	PopularityScore int64           `db:"popularity_score" json:"popularity_score"`
	PopularityTier  popularity.Tier `db:"popularity_tier" json:"popularity_tier"`
}

const gameColumns = `id, slug, name, igdb_id, summary, cover_url, release_date, developer, publisher,
	follows, hypes, rating_count, like_count, view_count, average_rating,
	popularity_score, popularity_tier, flagged_at, flag_reason, admin_only,
	created_at, updated_at, last_synced`

// Signal names a counter on a game.
type Signal string

const (
	SignalFollows     Signal = "follows"
	SignalHypes       Signal = "hypes"
	SignalRatingCount Signal = "rating_count"
	SignalLikes       Signal = "likes"
	SignalViews       Signal = "views"
)

var signalColumns = map[Signal]string{
	SignalFollows:     "follows",
	SignalHypes:       "hypes",
	SignalRatingCount: "rating_count",
	SignalLikes:       "like_count",
	SignalViews:       "view_count",
}

// ParseSignal validates a signal name.
func ParseSignal(s string) (Signal, error) {
	sig := Signal(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := signalColumns[sig]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSignal, s)
	}
	return sig, nil
}

// Mode says how a SignalEvent's value applies to the counter.
type Mode string

const (
	ModeDelta Mode = "delta" // add value, floor at zero
	ModeSet   Mode = "set"   // replace, negative becomes zero
	ModeMax   Mode = "max"   // keep the larger of current and value
)

// SignalEvent is one change to a counter.
type SignalEvent struct {
	Signal Signal `json:"signal"`
	Mode   Mode   `json:"mode"`
	Value  int64  `json:"value"`
	Reason string `json:"reason,omitempty"`
}

// Metadata is the descriptive part of a game written by importers.
// Fields only fill gaps: an existing value is never overwritten.
type Metadata struct {
	IGDBID        int64
	Summary       *string
	CoverURL      *string
	ReleaseDate   *string
	Developer     *string
	Publisher     *string
	AverageRating *float64
	RatingCount   int64
}

// HistoryEntry records a change of score or tier. Rows are append-only.
type HistoryEntry struct {
	ID        int64           `db:"id" json:"id"`
	GameID    string          `db:"game_id" json:"game_id"`
	FromScore int64           `db:"from_score" json:"from_score"`
	ToScore   int64           `db:"to_score" json:"to_score"`
	FromTier  popularity.Tier `db:"from_tier" json:"from_tier"`
	ToTier    popularity.Tier `db:"to_tier" json:"to_tier"`
	FromRank  int             `db:"from_rank" json:"-"`
	ToRank    int             `db:"to_rank" json:"-"`
	Reason    string          `db:"reason" json:"reason"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	Alerted   bool            `db:"alerted" json:"alerted"`
}

// ListOpts controls game listing.
type ListOpts struct {
	Tier          popularity.Tier
	NeedsMetadata bool
	Limit         int
	Offset        int
}

// Store is the persistence interface.
type Store interface {
	CreateGame(ctx context.Context, g *Game) error
	GetGame(ctx context.Context, id string) (*Game, error)
	GetGameBySlug(ctx context.Context, slug string) (*Game, error)
	GetGameByIGDB(ctx context.Context, igdbID int64) (*Game, error)
	ListGames(ctx context.Context, opts ListOpts) ([]Game, error)

	ApplySignal(ctx context.Context, gameID string, ev SignalEvent) (*Game, error)
	ApplySignals(ctx context.Context, gameID string, evs []SignalEvent) (*Game, error)
	SyncMetadata(ctx context.Context, md *Metadata) (*Game, error)
	ApplyFeedHype(ctx context.Context, itemKey, gameID string) (*Game, bool, error)
	FlagGame(ctx context.Context, gameID, reason string) error
	ResolveFlag(ctx context.Context, gameID string) error
	SetAdminOnly(ctx context.Context, gameID string, adminOnly bool) error

	ListHistory(ctx context.Context, gameID string, limit int) ([]HistoryEntry, error)
	ListPendingPromotions(ctx context.Context, minTier popularity.Tier, limit int) ([]HistoryEntry, error)
	MarkAlerted(ctx context.Context, historyID int64) error

	SelectProjection(ctx context.Context, def projection.Definition) ([]projection.Entry, error)
	SaveSnapshot(ctx context.Context, snap *projection.Snapshot) error
	LoadSnapshot(ctx context.Context, name string) (*projection.Snapshot, error)

	Close() error
}

// SQLStore implements Store on SQLite or Postgres.
type SQLStore struct {
	db     *sqlx.DB // writes; a single connection on SQLite
	readDB *sqlx.DB // reads; a pool
	scorer *popularity.Scorer
	now    func() time.Time
}

// New opens the database, runs migrations and returns a store that derives
// scores with scorer (nil means popularity.Default()).
func New(driver, dsn string, scorer *popularity.Scorer) (*SQLStore, error) {
	if scorer == nil {
		scorer = popularity.Default()
	}

	var (
		db, readDB *sqlx.DB
		schema     string
		err        error
	)
	switch driver {
	case "", "sqlite":
		db, err = sqlx.Open("sqlite", sqliteDSN(dsn, true))
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
		}
		db.SetMaxOpenConns(1)

		readDB, err = sqlx.Open("sqlite", sqliteDSN(dsn, false))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open sqlite reader %s: %w", dsn, err)
		}
		readDB.SetMaxOpenConns(4)
		schema = sqliteSchema
	case "postgres":
		db, err = sqlx.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		readDB = db
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	s := &SQLStore{
		db:     db,
		readDB: readDB,
		scorer: scorer,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if _, err := db.Exec(schema); err != nil {
		s.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string, writer bool) string {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite"
	if writer {
		dsn += "&_txlock=immediate"
	}
	return dsn
}

func (s *SQLStore) Close() error {
	var errs []error
	if s.readDB != nil && s.readDB != s.db {
		errs = append(errs, s.readDB.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func (s *SQLStore) CreateGame(ctx context.Context, g *Game) error {
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGame)
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	derived := g.Slug == ""
	if derived {
		g.Slug = Slugify(g.Name)
	}
	if g.Slug == "" {
		g.Slug = g.ID
	}

	g.Signals = g.Signals.Clamped()
	g.LikeCount = max(g.LikeCount, 0)
	g.ViewCount = max(g.ViewCount, 0)
	d := s.scorer.Derive(g.Signals)
	g.PopularityScore, g.PopularityTier = d.Score, d.Tier

	now := s.now()
	g.CreatedAt, g.UpdatedAt = now, now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create game: %w", err)
	}
	defer tx.Rollback()

	if derived {
		if g.Slug, err = uniqueSlug(ctx, tx, g.Slug); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO games (`+gameColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), g.ID, g.Slug, g.Name, g.IGDBID, g.Summary, g.CoverURL, g.ReleaseDate, g.Developer, g.Publisher,
		g.Follows, g.Hypes, g.RatingCount, g.LikeCount, g.ViewCount, g.AverageRating,
		g.PopularityScore, g.PopularityTier, g.FlaggedAt, g.FlagReason, g.AdminOnly,
		g.CreatedAt, g.UpdatedAt, g.LastSynced)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert game %s: slug or igdb id %w", g.Slug, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert game %s: %w", g.Slug, err)
	}

	if g.PopularityScore > 0 || g.PopularityTier != popularity.TierNiche {
		initial := popularity.Derived{Score: 0, Tier: popularity.TierNiche}
		if err := s.appendHistory(ctx, tx, g.ID, initial, d, "created"); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create game %s: %w", g.Slug, err)
	}
	return nil
}

func (s *SQLStore) GetGame(ctx context.Context, id string) (*Game, error) {
	return s.getGame(ctx, s.readDB, "id = ?", id)
}

func (s *SQLStore) GetGameBySlug(ctx context.Context, slug string) (*Game, error) {
	return s.getGame(ctx, s.readDB, "slug = ?", slug)
}

func (s *SQLStore) GetGameByIGDB(ctx context.Context, igdbID int64) (*Game, error) {
	return s.getGame(ctx, s.readDB, "igdb_id = ?", igdbID)
}

func (s *SQLStore) getGame(ctx context.Context, q sqlx.QueryerContext, where string, arg any) (*Game, error) {
	var g Game
	query := sqlx.Rebind(sqlx.BindType(driverOf(q)), "SELECT "+gameColumns+" FROM games WHERE "+where)
	if err := sqlx.GetContext(ctx, q, &g, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("game %v: %w", arg, ErrNotFound)
		}
		return nil, fmt.Errorf("get game %v: %w", arg, err)
	}
	return &g, nil
}

func driverOf(q sqlx.QueryerContext) string {
	switch v := q.(type) {
	case *sqlx.DB:
		return v.DriverName()
	case *sqlx.Tx:
		return v.DriverName()
	}
	return ""
}

func (s *SQLStore) ListGames(ctx context.Context, opts ListOpts) ([]Game, error) {
	query := "SELECT " + gameColumns + " FROM games WHERE 1=1"
	var args []any

	if opts.Tier != "" {
		query += " AND popularity_tier = ?"
		args = append(args, opts.Tier)
	}
	if opts.NeedsMetadata {
		query += ` AND igdb_id IS NOT NULL AND (cover_url IS NULL OR summary IS NULL
			OR developer IS NULL OR release_date IS NULL OR last_synced IS NULL)`
	}

	if opts.NeedsMetadata {
		query += " ORDER BY rating_count DESC, id"
	} else {
		query += " ORDER BY popularity_score DESC, rating_count DESC, id"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	var games []Game
	if err := s.readDB.SelectContext(ctx, &games, s.readDB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return games, nil
}

func (s *SQLStore) FlagGame(ctx context.Context, gameID, reason string) error {
	return s.touch(ctx, gameID, "flagged_at = ?, flag_reason = ?", s.now(), reason)
}

func (s *SQLStore) ResolveFlag(ctx context.Context, gameID string) error {
	return s.touch(ctx, gameID, "flagged_at = NULL, flag_reason = ''")
}

func (s *SQLStore) SetAdminOnly(ctx context.Context, gameID string, adminOnly bool) error {
	return s.touch(ctx, gameID, "admin_only = ?", adminOnly)
}

func (s *SQLStore) touch(ctx context.Context, gameID, set string, args ...any) error {
	args = append(args, s.now(), gameID)
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE games SET "+set+", updated_at = ? WHERE id = ?"), args...)
	if err != nil {
		return fmt.Errorf("update game %s: %w", gameID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("game %s: %w", gameID, ErrNotFound)
	}
	return nil
}

// uniqueSlug returns base, or base with the lowest free numeric suffix when
// another game already has it: the second "Doom" becomes doom-2.
func uniqueSlug(ctx context.Context, tx *sqlx.Tx, base string) (string, error) {
	var taken []string
	err := tx.SelectContext(ctx, &taken, tx.Rebind(`
		SELECT slug FROM games WHERE slug = ? OR slug LIKE ?
	`), base, base+"-%")
	if err != nil {
		return "", fmt.Errorf("check slug %s: %w", base, err)
	}

	used := make(map[string]bool, len(taken))
	for _, slug := range taken {
		used[slug] = true
	}
	slug := base
	for n := 2; used[slug]; n++ {
		slug = base + "-" + strconv.Itoa(n)
	}
	return slug, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// Slugify lowercases name and joins its alphanumeric runs with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
