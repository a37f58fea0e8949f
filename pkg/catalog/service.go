// Package catalog is the entry point for everything that reads or changes a
// game's popularity: signal writes go through the store's score maintainer,
// ranked reads come from projection snapshots.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gamerank/gamerank/internal/store"
	"github.com/gamerank/gamerank/pkg/projection"
)

// ErrForbidden is returned when a caller asks for something reserved to admins.
var ErrForbidden = errors.New("forbidden")

// Caller is what the surrounding authorization layer tells the service about
// whoever is calling. The service trusts it as given.
type Caller struct {
	Admin bool
}

// Cache is the read side of the projection cache.
type Cache interface {
	Definition(name string) (projection.Definition, error)
	Definitions() []projection.Definition
	Query(name string, f projection.Filter) (*projection.Result, error)
	Status() []projection.Status
}

// Refresher is the scheduler as seen by the service.
type Refresher interface {
	NotifyMutation(gameID string, version int64) bool
	ForceRefresh(ctx context.Context, name string) error
}

// Service implements the catalog operations.
type Service struct {
	store     store.Store
	cache     Cache
	refresher Refresher
	log       *slog.Logger
}

// New creates a service. refresher may be nil, in which case writes never
// request a rebuild and ForceRefresh is unavailable.
func New(st store.Store, cache Cache, refresher Refresher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		cache:     cache,
		refresher: refresher,
		log:       logger.With("component", "catalog"),
	}
}

// RecordSignalEvent applies one counter change together with the score
// recompute. Once the write has committed, the scheduler is told about it; a
// scheduler problem never fails the write.
func (s *Service) RecordSignalEvent(ctx context.Context, gameID string, ev store.SignalEvent) (*store.Game, error) {
	return s.RecordSignalEvents(ctx, gameID, []store.SignalEvent{ev})
}

// RecordSignalEvents applies several counter changes in one transaction.
func (s *Service) RecordSignalEvents(ctx context.Context, gameID string, evs []store.SignalEvent) (*store.Game, error) {
	g, err := s.store.ApplySignals(ctx, gameID, evs)
	if err != nil {
		return nil, err
	}
	s.notify(g)
	return g, nil
}

// RecordFeedHype counts a feed item's mention of a game as one hype, at most
// once per item and game.
func (s *Service) RecordFeedHype(ctx context.Context, itemKey, gameID string) (bool, error) {
	g, applied, err := s.store.ApplyFeedHype(ctx, itemKey, gameID)
	if err != nil || !applied {
		return false, err
	}
	s.notify(g)
	return true, nil
}

// SyncMetadata writes importer metadata for the game with md.IGDBID.
func (s *Service) SyncMetadata(ctx context.Context, md *store.Metadata) (*store.Game, error) {
	g, err := s.store.SyncMetadata(ctx, md)
	if err != nil {
		return nil, err
	}
	s.notify(g)
	return g, nil
}

// ListGames lists games straight from the store.
func (s *Service) ListGames(ctx context.Context, opts store.ListOpts) ([]store.Game, error) {
	return s.store.ListGames(ctx, opts)
}

func (s *Service) notify(g *store.Game) {
	if s.refresher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("refresh notification panicked", "game_id", g.ID, "panic", r)
		}
	}()
	if s.refresher.NotifyMutation(g.ID, g.UpdatedAt.UnixNano()) {
		s.log.Debug("refresh requested", "game_id", g.ID)
	}
}

// GetEntity returns the game with its current score and tier, as of the last
// committed write.
func (s *Service) GetEntity(ctx context.Context, id string) (*store.Game, error) {
	g, err := s.store.GetGame(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		g, err = s.store.GetGameBySlug(ctx, id)
	}
	return g, err
}

// CreateGame adds a game; its score and tier are derived before insert.
func (s *Service) CreateGame(ctx context.Context, g *store.Game) error {
	if err := s.store.CreateGame(ctx, g); err != nil {
		return err
	}
	s.notify(g)
	return nil
}

// History returns the score and tier changes of a game, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]store.HistoryEntry, error) {
	g, err := s.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, g.ID, limit)
}

// Projections lists the projections the caller may read.
func (s *Service) Projections(caller Caller) []projection.Definition {
	var out []projection.Definition
	for _, def := range s.cache.Definitions() {
		if def.Audience == projection.AudienceAdmin && !caller.Admin {
			continue
		}
		out = append(out, def)
	}
	return out
}

// QueryCache serves a page of a projection from its current snapshot. Results
// may lag the store by up to one refresh interval.
func (s *Service) QueryCache(ctx context.Context, name string, f projection.Filter, caller Caller) (*projection.Result, error) {
	def, err := s.cache.Definition(name)
	if err != nil {
		return nil, err
	}
	if def.Audience == projection.AudienceAdmin && !caller.Admin {
		return nil, fmt.Errorf("projection %s: %w", name, ErrForbidden)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.cache.Query(name, f)
}

// ForceRefresh rebuilds a projection now, or every projection when name is
// empty.
func (s *Service) ForceRefresh(ctx context.Context, name string, caller Caller) error {
	if !caller.Admin {
		return fmt.Errorf("force refresh: %w", ErrForbidden)
	}
	if name != "" {
		if _, err := s.cache.Definition(name); err != nil {
			return err
		}
	}
	if s.refresher == nil {
		return errors.New("force refresh: no scheduler configured")
	}
	return s.refresher.ForceRefresh(ctx, name)
}

// RefreshStatus reports the latest rebuild of every projection.
func (s *Service) RefreshStatus() []projection.Status {
	return s.cache.Status()
}

// FlagGame marks a game for moderation.
func (s *Service) FlagGame(ctx context.Context, id, reason string, caller Caller) error {
	if !caller.Admin {
		return fmt.Errorf("flag game: %w", ErrForbidden)
	}
	return s.store.FlagGame(ctx, id, reason)
}

// ResolveFlag clears a game's moderation flag.
func (s *Service) ResolveFlag(ctx context.Context, id string, caller Caller) error {
	if !caller.Admin {
		return fmt.Errorf("resolve flag: %w", ErrForbidden)
	}
	return s.store.ResolveFlag(ctx, id)
}

// SetAdminOnly changes whether a game is restricted. Restricted games are
// left out of public projections and stay visible in admin ones. Snapshots
// built before the change keep showing the old state until their next
// rebuild, at most one refresh interval later.
func (s *Service) SetAdminOnly(ctx context.Context, id string, adminOnly bool, caller Caller) error {
	if !caller.Admin {
		return fmt.Errorf("set admin only: %w", ErrForbidden)
	}
	return s.store.SetAdminOnly(ctx, id, adminOnly)
}
