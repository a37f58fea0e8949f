package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gamerank/gamerank/pkg/projection"
)

const entryColumns = `game_id, slug, name, cover_url, follows, hypes, rating_count, average_rating,
	popularity_score, popularity_tier, flagged_at, flag_reason, updated_at`

// SelectProjection runs def against the games table as one statement, so the
// rows come from a single consistent read. Admin-only games are left out of
// every projection whose audience is not admin.
func (s *SQLStore) SelectProjection(ctx context.Context, def projection.Definition) ([]projection.Entry, error) {
	query := `SELECT id AS game_id, slug, name, cover_url, follows, hypes, rating_count, average_rating,
		popularity_score, popularity_tier, flagged_at, flag_reason, updated_at
		FROM games`
	if where := def.Predicate(); where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + def.OrderBy + ", id LIMIT ?"

	entries := []projection.Entry{}
	if err := s.readDB.SelectContext(ctx, &entries, s.readDB.Rebind(query), def.Limit); err != nil {
		return nil, fmt.Errorf("select projection %s: %w", def.Name, err)
	}
	return entries, nil
}

// SaveSnapshot writes snap as a new generation and points the projection's
// head at it in the same transaction. Older generations are dropped.
func (s *SQLStore) SaveSnapshot(ctx context.Context, snap *projection.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save snapshot %s: %w", snap.Projection, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO projection_entries (projection, generation, rank, `+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snap.Entries {
		_, err := stmt.ExecContext(ctx, snap.Projection, snap.Generation, e.Rank,
			e.GameID, e.Slug, e.Name, e.CoverURL, e.Follows, e.Hypes, e.RatingCount, e.AverageRating,
			e.PopularityScore, e.PopularityTier, e.FlaggedAt, e.FlagReason, e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert %s entry %d: %w", snap.Projection, e.Rank, err)
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO projection_heads (projection, generation, built_at, row_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (projection) DO UPDATE SET
			generation = excluded.generation,
			built_at = excluded.built_at,
			row_count = excluded.row_count
	`), snap.Projection, snap.Generation, snap.BuiltAt, len(snap.Entries))
	if err != nil {
		return fmt.Errorf("update %s head: %w", snap.Projection, err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		DELETE FROM projection_entries WHERE projection = ? AND generation <> ?
	`), snap.Projection, snap.Generation)
	if err != nil {
		return fmt.Errorf("drop old %s generations: %w", snap.Projection, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot %s: %w", snap.Projection, err)
	}
	return nil
}

type snapshotRow struct {
	projection.Entry
	Generation string    `db:"generation"`
	BuiltAt    time.Time `db:"built_at"`
}

type headRow struct {
	Generation string    `db:"generation"`
	BuiltAt    time.Time `db:"built_at"`
	RowCount   int       `db:"row_count"`
}

// LoadSnapshot returns the snapshot the projection's head points at, or nil
// when the projection was never saved.
func (s *SQLStore) LoadSnapshot(ctx context.Context, name string) (*projection.Snapshot, error) {
	var rows []snapshotRow
	err := s.readDB.SelectContext(ctx, &rows, s.readDB.Rebind(`
		SELECT e.rank, e.game_id, e.slug, e.name, e.cover_url, e.follows, e.hypes, e.rating_count,
			e.average_rating, e.popularity_score, e.popularity_tier, e.flagged_at, e.flag_reason,
			e.updated_at, h.generation, h.built_at
		FROM projection_heads h
		JOIN projection_entries e ON e.projection = h.projection AND e.generation = h.generation
		WHERE h.projection = ?
		ORDER BY e.rank
	`), name)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	if len(rows) == 0 {
		var head headRow
		err := s.readDB.GetContext(ctx, &head, s.readDB.Rebind(`
			SELECT generation, built_at, row_count FROM projection_heads WHERE projection = ?
		`), name)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load head %s: %w", name, err)
		}
		return &projection.Snapshot{
			Projection: name,
			Generation: head.Generation,
			BuiltAt:    head.BuiltAt,
			Entries:    []projection.Entry{},
		}, nil
	}

	snap := &projection.Snapshot{
		Projection: name,
		Generation: rows[0].Generation,
		BuiltAt:    rows[0].BuiltAt,
		Entries:    make([]projection.Entry, 0, len(rows)),
	}
	for _, r := range rows {
		snap.Entries = append(snap.Entries, r.Entry)
	}
	return snap, nil
}
