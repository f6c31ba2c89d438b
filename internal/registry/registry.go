// Package registry owns the fleet of authenticated panel sessions and the
// fleet-wide provisioning, deprovisioning, and collection operations.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"panelfleet/internal/domain"
	"panelfleet/internal/panel"
)

// Store supplies the desired server set. The registry learns nothing else
// from storage.
type Store interface {
	ListServers(ctx context.Context) ([]domain.ServerDescriptor, error)
}

// Client is the per-panel session surface the registry drives. Satisfied
// by [panel.Session]; tests substitute stubs.
type Client interface {
	ListInbounds(ctx context.Context) ([]panel.Inbound, error)
	AddClient(ctx context.Context, inboundID int64, clientID uuid.UUID, email string) error
	DeleteClient(ctx context.Context, inboundID int64, clientID uuid.UUID) error
	Close()
}

// DialFunc builds a live session for a descriptor.
type DialFunc func(desc domain.ServerDescriptor) (Client, error)

// Options tunes registry behavior. Zero values fall back to defaults.
type Options struct {
	// SyncPeriod bounds how stale the live fleet may be before EnsureSynced
	// refetches the server list.
	SyncPeriod time.Duration
	// FanoutLimit caps concurrent in-flight panel calls across the fleet.
	FanoutLimit int
	// Dial overrides session construction (tests, custom panel options).
	Dial DialFunc
	// Panel configures the default dialer when Dial is not set.
	Panel panel.Options
}

const defaultSyncPeriod = time.Hour
const defaultFanoutLimit = 5

// Registry reconciles the desired server set against live panel sessions
// and fans fleet-wide operations out across them.
type Registry struct {
	store Store
	log   *slog.Logger
	dial  DialFunc
	sem   chan struct{}

	syncPeriod time.Duration

	// syncMu serializes reconciliation; mu guards the member map and the
	// sync timestamp. Neither is held across panel I/O.
	syncMu   sync.Mutex
	mu       sync.RWMutex
	members  map[uuid.UUID]*member
	lastSync time.Time
}

// member pairs a descriptor with its live session. Members are immutable
// once published: reconciliation replaces the map entry rather than
// mutating fields, so fan-out snapshots stay consistent without holding
// the map lock across panel I/O.
type member struct {
	desc   domain.ServerDescriptor
	client Client
}

// New creates a registry over the given store. The registry owns every
// session it creates and must be closed by the caller that constructed it.
func New(store Store, logger *slog.Logger, opts Options) *Registry {
	if opts.SyncPeriod <= 0 {
		opts.SyncPeriod = defaultSyncPeriod
	}
	if opts.FanoutLimit <= 0 {
		opts.FanoutLimit = defaultFanoutLimit
	}
	dial := opts.Dial
	if dial == nil {
		panelOpts := opts.Panel
		dial = func(desc domain.ServerDescriptor) (Client, error) {
			return panel.NewSession(desc, panelOpts, logger)
		}
	}
	return &Registry{
		store:      store,
		log:        logger,
		dial:       dial,
		sem:        make(chan struct{}, opts.FanoutLimit),
		syncPeriod: opts.SyncPeriod,
		members:    make(map[uuid.UUID]*member),
	}
}

func (r *Registry) needSync() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync.IsZero() || time.Since(r.lastSync) >= r.syncPeriod
}

// EnsureSynced reconciles the fleet against the store unless the last full
// sync is still fresh. The freshness check is double-checked around the
// sync mutex so concurrent callers trigger at most one reconciliation.
func (r *Registry) EnsureSynced(ctx context.Context) error {
	if !r.needSync() {
		return nil
	}
	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	if !r.needSync() {
		return nil
	}
	return r.syncLocked(ctx)
}

// SyncNow reconciles unconditionally, regardless of the freshness timer.
// Used after administrative server changes so they take effect immediately.
func (r *Registry) SyncNow(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	return r.syncLocked(ctx)
}

func (r *Registry) syncLocked(ctx context.Context) error {
	servers, err := r.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	r.apply(servers)
	r.mu.Lock()
	r.lastSync = time.Now()
	r.mu.Unlock()
	return nil
}

// apply diffs the desired descriptor set against live members: removed
// servers are closed and dropped, new ones dialed, fingerprint changes
// rebuild the session, everything else keeps its session under a
// republished member. Stale sessions are closed after the map unlock.
func (r *Registry) apply(servers []domain.ServerDescriptor) {
	desired := make(map[uuid.UUID]domain.ServerDescriptor, len(servers))
	for _, d := range servers {
		desired[d.ID] = d
	}

	var stale []Client
	r.mu.Lock()
	for id, m := range r.members {
		if _, ok := desired[id]; !ok {
			stale = append(stale, m.client)
			delete(r.members, id)
			r.log.Info("server removed from fleet", "server", m.desc.Code)
		}
	}
	for id, desc := range desired {
		m, ok := r.members[id]
		if !ok {
			client, err := r.dial(desc)
			if err != nil {
				r.log.Warn("cannot build panel session", "server", desc.Code, "err", err)
				continue
			}
			r.members[id] = &member{desc: desc, client: client}
			r.log.Info("server joined fleet", "server", desc.Code)
			continue
		}
		if m.desc.Fingerprint() != desc.Fingerprint() {
			stale = append(stale, m.client)
			client, err := r.dial(desc)
			if err != nil {
				delete(r.members, id)
				r.log.Warn("cannot rebuild panel session", "server", desc.Code, "err", err)
				continue
			}
			r.members[id] = &member{desc: desc, client: client}
			r.log.Info("server connection parameters changed, session rebuilt", "server", desc.Code)
			continue
		}
		// Same fingerprint: keep the session, refresh the descriptor by
		// publishing a fresh member so in-flight snapshots are untouched.
		r.members[id] = &member{desc: desc, client: m.client}
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
}

// snapshot returns a stable view of the live members for one fan-out
// operation. A sync that starts afterwards does not affect it.
func (r *Registry) snapshot() []*member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

// ServerCodes lists the codes of the currently live sessions.
func (r *Registry) ServerCodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.desc.Code)
	}
	return out
}

// Close shuts down every live session. Idempotent; safe while fan-out
// calls are in flight.
func (r *Registry) Close() {
	r.mu.Lock()
	members := r.members
	r.members = make(map[uuid.UUID]*member)
	r.mu.Unlock()
	for _, m := range members {
		m.client.Close()
	}
}
