// Package alert delivers tier promotion notices to chat and webhook
// destinations.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gamerank/gamerank/pkg/popularity"
)

// Notification announces that a game moved up to a higher tier.
type Notification struct {
	GameID     string          `json:"game_id"`
	Slug       string          `json:"slug"`
	Name       string          `json:"name"`
	URL        string          `json:"url,omitempty"`
	FromTier   popularity.Tier `json:"from_tier"`
	ToTier     popularity.Tier `json:"to_tier"`
	FromScore  int64           `json:"from_score"`
	Score      int64           `json:"score"`
	Follows    int64           `json:"follows"`
	Reason     string          `json:"reason,omitempty"`
	PromotedAt time.Time       `json:"promoted_at"`
}

// Title is the one-line headline used by chat destinations.
func (n *Notification) Title() string {
	return fmt.Sprintf("%s is now %s", n.Name, n.ToTier)
}

// Summary describes the move in a short sentence.
func (n *Notification) Summary() string {
	return fmt.Sprintf("%s → %s, score %s (was %s), %s follows",
		n.FromTier, n.ToTier, humanize.Comma(n.Score), humanize.Comma(n.FromScore), humanize.Comma(n.Follows))
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers. It returns how
// many accepted it, along with the joined errors of those that did not.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) (int, error) {
	var (
		delivered int
		errs      []error
	)
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// tierColor picks an embed colour per tier for Discord.
func tierColor(t popularity.Tier) int {
	switch t {
	case popularity.TierViral:
		return 0xE0245E
	case popularity.TierMainstream:
		return 0xFF6600
	case popularity.TierPopular:
		return 0xF5C518
	case popularity.TierKnown:
		return 0x3BA55D
	}
	return 0x99AAB5
}
