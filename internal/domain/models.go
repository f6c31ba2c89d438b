// Package domain defines the core data types shared across the panelfleet
// registry, store, and panel client layers.
package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ServerDescriptor holds the identity and connection parameters of one
// remote panel server, as recorded in the store.
type ServerDescriptor struct {
	ID        uuid.UUID
	Code      string
	BaseURL   string
	Username  string
	Password  string
	CreatedAt time.Time
}

// Fingerprint returns the connection-parameter tuple used to decide whether
// an existing panel session must be rebuilt. The descriptor ID is
// deliberately excluded: a server keeps its identity across credential or
// address changes, but its session does not survive them.
func (d ServerDescriptor) Fingerprint() string {
	return d.BaseURL + "\x00" + d.Username + "\x00" + d.Password
}

// User is a subscriber whose VPN access is provisioned across the fleet.
// The UUID is the canonical cross-panel client identity.
type User struct {
	ID        uuid.UUID
	Username  string
	TgUserID  int64
	Active    bool
	CreatedAt time.Time
}

// DisplayName returns the human-readable label used when composing
// per-inbound client emails. It is never used as an identity key.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return strconv.FormatInt(u.TgUserID, 10)
}
