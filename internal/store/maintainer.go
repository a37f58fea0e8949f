package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gamerank/gamerank/pkg/popularity"
)

// ApplySignal changes one counter and recomputes the derived fields.
func (s *SQLStore) ApplySignal(ctx context.Context, gameID string, ev SignalEvent) (*Game, error) {
	return s.ApplySignals(ctx, gameID, []SignalEvent{ev})
}

// ApplySignals changes counters and rewrites popularity_score and
// popularity_tier in one transaction. Either everything commits or nothing
// does; readers never see counters without the matching score.
func (s *SQLStore) ApplySignals(ctx context.Context, gameID string, evs []SignalEvent) (*Game, error) {
	if len(evs) == 0 {
		return nil, fmt.Errorf("apply signals to %s: no events", gameID)
	}
	for _, ev := range evs {
		if err := ev.validate(); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin apply signals %s: %w", gameID, err)
	}
	defer tx.Rollback()

	g, err := s.applyTx(ctx, tx, gameID, evs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit signals %s: %w", gameID, err)
	}
	return g, nil
}

func (ev SignalEvent) validate() error {
	if _, ok := signalColumns[ev.Signal]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSignal, ev.Signal)
	}
	switch ev.Mode {
	case ModeDelta, ModeSet, ModeMax, "":
		return nil
	}
	return fmt.Errorf("%w: mode %q", ErrUnknownSignal, ev.Mode)
}

// applyTx is the score maintainer. Each counter change is a single UPDATE,
// so concurrent deltas on one row serialize on the row lock and none is lost.
// The row read afterwards still carries the previous derived fields, which
// become the "from" side of the history entry.
func (s *SQLStore) applyTx(ctx context.Context, tx *sqlx.Tx, gameID string, evs []SignalEvent) (*Game, error) {
	reason := ""
	for _, ev := range evs {
		col := signalColumns[ev.Signal]

		var (
			set  string
			args []any
		)
		switch ev.Mode {
		case ModeSet:
			set = col + " = ?"
			args = []any{max(ev.Value, 0)}
		case ModeMax:
			set = col + " = CASE WHEN " + col + " < ? THEN ? ELSE " + col + " END"
			args = []any{ev.Value, ev.Value}
		default:
			set = col + " = CASE WHEN " + col + " + ? < 0 THEN 0 ELSE " + col + " + ? END"
			args = []any{ev.Value, ev.Value}
		}
		args = append(args, gameID)

		res, err := tx.ExecContext(ctx, tx.Rebind("UPDATE games SET "+set+" WHERE id = ?"), args...)
		if err != nil {
			return nil, fmt.Errorf("update %s on %s: %w", ev.Signal, gameID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("game %s: %w", gameID, ErrNotFound)
		}

		if reason == "" {
			reason = ev.describe()
		}
	}
	if len(evs) > 1 {
		reason = fmt.Sprintf("%s (+%d more)", reason, len(evs)-1)
	}

	after, err := s.getGame(ctx, tx, "id = ?", gameID)
	if err != nil {
		return nil, err
	}

	prev := popularity.Derived{Score: after.PopularityScore, Tier: after.PopularityTier}
	next := s.scorer.Derive(after.Signals)
	now := s.now()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE games SET popularity_score = ?, popularity_tier = ?, updated_at = ?
		WHERE id = ?
	`), next.Score, next.Tier, now, gameID)
	if err != nil {
		return nil, fmt.Errorf("update derived fields %s: %w", gameID, err)
	}

	if next != prev {
		if err := s.appendHistory(ctx, tx, gameID, prev, next, reason); err != nil {
			return nil, err
		}
	}

	after.PopularityScore, after.PopularityTier = next.Score, next.Tier
	after.UpdatedAt = now
	return after, nil
}

func (ev SignalEvent) describe() string {
	if ev.Reason != "" {
		return ev.Reason
	}
	mode := ev.Mode
	if mode == "" {
		mode = ModeDelta
	}
	return fmt.Sprintf("%s %s %d", ev.Signal, mode, ev.Value)
}

// SyncMetadata fills missing descriptive fields of the game with igdb_id
// md.IGDBID and merges its rating count, all in one transaction.
func (s *SQLStore) SyncMetadata(ctx context.Context, md *Metadata) (*Game, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sync %d: %w", md.IGDBID, err)
	}
	defer tx.Rollback()

	var gameID string
	err = tx.GetContext(ctx, &gameID, tx.Rebind("SELECT id FROM games WHERE igdb_id = ?"), md.IGDBID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("igdb game %d: %w", md.IGDBID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup igdb game %d: %w", md.IGDBID, err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE games SET
			summary = COALESCE(summary, ?),
			cover_url = COALESCE(cover_url, ?),
			release_date = COALESCE(release_date, ?),
			developer = COALESCE(developer, ?),
			publisher = COALESCE(publisher, ?),
			average_rating = COALESCE(average_rating, ?),
			last_synced = ?
		WHERE id = ?
	`), md.Summary, md.CoverURL, md.ReleaseDate, md.Developer, md.Publisher,
		md.AverageRating, s.now(), gameID)
	if err != nil {
		return nil, fmt.Errorf("sync metadata %d: %w", md.IGDBID, err)
	}

	g, err := s.applyTx(ctx, tx, gameID, []SignalEvent{{
		Signal: SignalRatingCount,
		Mode:   ModeMax,
		Value:  md.RatingCount,
		Reason: "igdb sync",
	}})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sync %d: %w", md.IGDBID, err)
	}
	return g, nil
}

func (s *SQLStore) appendHistory(ctx context.Context, tx *sqlx.Tx, gameID string, from, to popularity.Derived, reason string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO score_history (game_id, from_score, to_score, from_tier, to_tier, from_rank, to_rank, reason, created_at, alerted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), gameID, from.Score, to.Score, from.Tier, to.Tier, from.Tier.Rank(), to.Tier.Rank(), reason, s.now(), false)
	if err != nil {
		return fmt.Errorf("append history %s: %w", gameID, err)
	}
	return nil
}

func (s *SQLStore) ListHistory(ctx context.Context, gameID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []HistoryEntry
	err := s.readDB.SelectContext(ctx, &out, s.readDB.Rebind(`
		SELECT id, game_id, from_score, to_score, from_tier, to_tier, from_rank, to_rank, reason, created_at, alerted
		FROM score_history WHERE game_id = ? ORDER BY id DESC LIMIT ?
	`), gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", gameID, err)
	}
	return out, nil
}

// ListPendingPromotions returns tier promotions into minTier or above that
// have not been alerted yet, oldest first.
func (s *SQLStore) ListPendingPromotions(ctx context.Context, minTier popularity.Tier, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []HistoryEntry
	err := s.readDB.SelectContext(ctx, &out, s.readDB.Rebind(`
		SELECT id, game_id, from_score, to_score, from_tier, to_tier, from_rank, to_rank, reason, created_at, alerted
		FROM score_history
		WHERE alerted = ? AND to_rank > from_rank AND to_rank >= ?
		ORDER BY id LIMIT ?
	`), false, max(minTier.Rank(), 0), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending promotions: %w", err)
	}
	return out, nil
}

func (s *SQLStore) MarkAlerted(ctx context.Context, historyID int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE score_history SET alerted = ? WHERE id = ?"), true, historyID)
	if err != nil {
		return fmt.Errorf("mark alerted %d: %w", historyID, err)
	}
	return nil
}

// ApplyFeedHype adds one hype to gameID for a feed item, once per item and
// game. The dedup marker and the counter change commit together; applied is
// false when the pair was already counted.
func (s *SQLStore) ApplyFeedHype(ctx context.Context, itemKey, gameID string) (g *Game, applied bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin feed hype %s: %w", gameID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO feed_hypes (item_key, game_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (item_key, game_id) DO NOTHING
	`), itemKey, gameID, s.now())
	if err != nil {
		return nil, false, fmt.Errorf("mark feed item %s: %w", itemKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, false, nil
	}

	g, err = s.applyTx(ctx, tx, gameID, []SignalEvent{{
		Signal: SignalHypes,
		Mode:   ModeDelta,
		Value:  1,
		Reason: "feed mention",
	}})
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit feed hype %s: %w", gameID, err)
	}
	return g, true, nil
}
