package registry

import (
	"net/url"

	"github.com/google/uuid"

	"panelfleet/internal/netutil"
	"panelfleet/internal/panel"
)

// statBytes computes the billable byte count of one stat record:
// up+down, falling back to the all-time counter when the period counters
// are empty or reset, floored at zero.
func statBytes(st panel.ClientStat) int64 {
	b := st.Up + st.Down
	if b <= 0 {
		b = st.AllTime
	}
	if b < 0 {
		b = 0
	}
	return b
}

// totalsFromInbounds sums stat records by user id for one session's
// inbound list. The stat's own uuid field is the primary correlation key;
// panels frequently leave it empty, in which case the settings client list
// is consulted by email. Records that resolve to no UUID are skipped.
func totalsFromInbounds(inbounds []panel.Inbound) map[uuid.UUID]int64 {
	totals := make(map[uuid.UUID]int64)
	for _, in := range inbounds {
		byEmail := make(map[string]string, len(in.Settings.Clients))
		for _, c := range in.Settings.Clients {
			byEmail[c.Email] = c.ID
		}
		for _, st := range in.ClientStats {
			raw := st.UUID
			if raw == "" {
				raw = byEmail[st.Email]
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				continue
			}
			totals[id] += statBytes(st)
		}
	}
	return totals
}

// mergeTotals folds src into dst.
func mergeTotals(dst, src map[uuid.UUID]int64) {
	for id, b := range src {
		dst[id] += b
	}
}

// serverHost extracts the connect host from a panel API base URL
// ("https://45.12.135.70:2053" -> "45.12.135.70").
func serverHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return netutil.NormalizeHost(u.Host)
}
