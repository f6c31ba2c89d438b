package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"panelfleet/internal/domain"
	"panelfleet/internal/panel"
)

// forEach runs fn once per live session concurrently, bounded by the
// shared fan-out semaphore. Per-session failures are logged with server
// context and swallowed: one unreachable panel never blocks the rest.
func (r *Registry) forEach(ctx context.Context, op string, fn func(ctx context.Context, m *member) error) {
	members := r.snapshot()
	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(m *member) {
			defer wg.Done()
			select {
			case r.sem <- struct{}{}:
				defer func() { <-r.sem }()
			case <-ctx.Done():
				return
			}
			if err := fn(ctx, m); err != nil {
				r.log.Warn("panel operation failed", "op", op, "server", m.desc.Code, "err", err)
			}
		}(m)
	}
	wg.Wait()
}

// ProvisionUser adds the user's client to every inbound of every live
// session where it is not already present. Idempotent; partial panel
// failures degrade silently per the availability policy.
func (r *Registry) ProvisionUser(ctx context.Context, user domain.User) error {
	if err := r.EnsureSynced(ctx); err != nil {
		return err
	}
	clientID := user.ID.String()
	name := user.DisplayName()
	r.forEach(ctx, "provision", func(ctx context.Context, m *member) error {
		inbounds, err := m.client.ListInbounds(ctx)
		if err != nil {
			return err
		}
		added := 0
		for _, in := range inbounds {
			if in.HasClient(clientID) {
				continue
			}
			email := fmt.Sprintf("%s-%d", name, in.ID)
			if err := m.client.AddClient(ctx, in.ID, user.ID, email); err != nil {
				return err
			}
			added++
		}
		r.log.Info("user provisioned", "user", name, "server", m.desc.Code, "added", added)
		return nil
	})
	return nil
}

// DeprovisionUser removes the user's client from every inbound where it is
// present. Absence is not an error.
func (r *Registry) DeprovisionUser(ctx context.Context, userID uuid.UUID) error {
	if err := r.EnsureSynced(ctx); err != nil {
		return err
	}
	clientID := userID.String()
	r.forEach(ctx, "deprovision", func(ctx context.Context, m *member) error {
		inbounds, err := m.client.ListInbounds(ctx)
		if err != nil {
			return err
		}
		removed := 0
		for _, in := range inbounds {
			if !in.HasClient(clientID) {
				continue
			}
			if err := m.client.DeleteClient(ctx, in.ID, userID); err != nil {
				return err
			}
			removed++
		}
		if removed > 0 {
			r.log.Info("user deprovisioned", "user", clientID, "server", m.desc.Code, "removed", removed)
		}
		return nil
	})
	return nil
}

// CollectUserTotals sums per-user traffic counters across every inbound of
// every live session. Sessions that fail are skipped with a warning; their
// traffic is simply absent from the result.
func (r *Registry) CollectUserTotals(ctx context.Context) (map[uuid.UUID]int64, error) {
	if err := r.EnsureSynced(ctx); err != nil {
		return nil, err
	}
	totals := make(map[uuid.UUID]int64)
	var mu sync.Mutex
	r.forEach(ctx, "collect totals", func(ctx context.Context, m *member) error {
		inbounds, err := m.client.ListInbounds(ctx)
		if err != nil {
			return err
		}
		part := totalsFromInbounds(inbounds)
		mu.Lock()
		mergeTotals(totals, part)
		mu.Unlock()
		return nil
	})
	return totals, nil
}

// CollectConfigs gathers the user's shareable connection links from every
// inbound on every live session where the user is provisioned. Inbounds
// whose transport does not derive a link contribute nothing.
func (r *Registry) CollectConfigs(ctx context.Context, userID uuid.UUID) ([]string, error) {
	if err := r.EnsureSynced(ctx); err != nil {
		return nil, err
	}
	clientID := userID.String()
	var out []string
	var mu sync.Mutex
	r.forEach(ctx, "collect configs", func(ctx context.Context, m *member) error {
		host := serverHost(m.desc.BaseURL)
		if host == "" {
			host = "localhost"
		}
		inbounds, err := m.client.ListInbounds(ctx)
		if err != nil {
			return err
		}
		var links []string
		for _, in := range inbounds {
			c, ok := in.FindClient(clientID)
			if !ok {
				continue
			}
			if uri := panel.BuildConnectionURI(clientID, c.Email, host, in.Port, in.StreamSettingsRaw); uri != "" {
				links = append(links, uri)
			}
		}
		mu.Lock()
		out = append(out, links...)
		mu.Unlock()
		return nil
	})
	return out, nil
}

// UserIDs returns the set of client ids present on any inbound of any live
// session. Client ids that do not parse as UUIDs are not fleet-managed
// identities and are ignored.
func (r *Registry) UserIDs(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	if err := r.EnsureSynced(ctx); err != nil {
		return nil, err
	}
	ids := make(map[uuid.UUID]struct{})
	var mu sync.Mutex
	r.forEach(ctx, "list user ids", func(ctx context.Context, m *member) error {
		inbounds, err := m.client.ListInbounds(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		for _, in := range inbounds {
			for _, c := range in.Settings.Clients {
				if id, err := uuid.Parse(c.ID); err == nil {
					ids[id] = struct{}{}
				}
			}
		}
		mu.Unlock()
		return nil
	})
	return ids, nil
}
