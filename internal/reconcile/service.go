// Package reconcile drives periodic access reconciliation: every interval
// it re-syncs the server fleet, provisions each user who should have
// access, and deprovisions everyone else found on the panels.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"panelfleet/internal/domain"
)

// Store supplies the set of users who should currently have access.
type Store interface {
	ActiveUsers(ctx context.Context) ([]domain.User, error)
}

// Fleet is the registry surface the reconciler drives.
type Fleet interface {
	SyncNow(ctx context.Context) error
	ProvisionUser(ctx context.Context, user domain.User) error
	DeprovisionUser(ctx context.Context, userID uuid.UUID) error
	UserIDs(ctx context.Context) (map[uuid.UUID]struct{}, error)
}

const minInterval = 10 * time.Second

// Service runs the reconciliation loop.
type Service struct {
	store    Store
	fleet    Fleet
	log      *slog.Logger
	interval time.Duration
}

// New creates a reconciliation service. Intervals below 10s are clamped.
func New(store Store, fleet Fleet, logger *slog.Logger, interval time.Duration) *Service {
	if interval < minInterval {
		interval = minInterval
	}
	return &Service{store: store, fleet: fleet, log: logger, interval: interval}
}

// Run reconciles once immediately and then on every tick until the context
// is cancelled. A failed pass is logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("access reconciliation failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one full reconciliation pass. Per-user provisioning
// failures degrade silently (logged, pass continues); only store and sync
// failures abort the pass.
func (s *Service) RunOnce(ctx context.Context) error {
	users, err := s.store.ActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("load active users: %w", err)
	}
	if err := s.fleet.SyncNow(ctx); err != nil {
		return fmt.Errorf("sync fleet: %w", err)
	}

	active := make(map[uuid.UUID]struct{}, len(users))
	for _, u := range users {
		active[u.ID] = struct{}{}
		if err := s.fleet.ProvisionUser(ctx, u); err != nil {
			s.log.Warn("provision failed", "user", u.DisplayName(), "err", err)
		}
	}

	present, err := s.fleet.UserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list provisioned ids: %w", err)
	}

	removed := 0
	for id := range present {
		if _, ok := active[id]; ok {
			continue
		}
		if err := s.fleet.DeprovisionUser(ctx, id); err != nil {
			s.log.Warn("deprovision failed", "user", id, "err", err)
			continue
		}
		removed++
	}

	s.log.Info("access reconciled", "active", len(active), "removed", removed)
	return nil
}
