// Package panel implements an authenticated client for the 3x-ui panel
// API: session/cookie lifecycle, retrying requests, inbound decoding, and
// connection-link derivation.
package panel

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ClientSettings is one provisioned client entry inside an inbound's
// settings document. ID carries the cross-panel user identity (the
// subscriber UUID, stringified); Email is a display label only.
type ClientSettings struct {
	ID         string
	Email      string
	Enable     bool
	Flow       string
	LimitIP    int64
	TotalGB    int64
	ExpiryTime int64
	TgID       string
	SubID      string
	Comment    string
	Reset      int64
}

// InboundSettings is the decoded form of an inbound's embedded settings
// JSON document.
type InboundSettings struct {
	Clients    []ClientSettings
	Decryption string
}

// ClientStat is one per-client traffic counter record attached to an
// inbound.
type ClientStat struct {
	ID         int64
	InboundID  int64
	Enable     bool
	Email      string
	UUID       string
	Up         int64
	Down       int64
	AllTime    int64
	Total      int64
	ExpiryTime int64
	Reset      int64
	SubID      string
	LastOnline int64
}

// Inbound is one listening endpoint on a panel server. Settings and
// StreamSettings arrive from the wire as JSON-encoded strings; Settings is
// decoded eagerly, StreamSettingsRaw is kept verbatim for link derivation.
type Inbound struct {
	ID                int64
	Port              int64
	Protocol          string
	Tag               string
	Remark            string
	Listen            string
	Enable            bool
	Up                int64
	Down              int64
	Total             int64
	ExpiryTime        int64
	SettingsRaw       string
	StreamSettingsRaw string
	Settings          InboundSettings
	ClientStats       []ClientStat
}

// FindClient returns the client entry with the given id, if present.
func (in Inbound) FindClient(id string) (ClientSettings, bool) {
	for _, c := range in.Settings.Clients {
		if c.ID == id {
			return c, true
		}
	}
	return ClientSettings{}, false
}

// HasClient reports whether the inbound carries a client with the given id.
func (in Inbound) HasClient(id string) bool {
	_, ok := in.FindClient(id)
	return ok
}

// Panels are not strict about scalar types: numbers show up as strings,
// booleans as numbers, tgId as either. The loose* types decode best-effort
// and fall back to the zero value instead of failing the element.

type looseInt64 int64

func (v *looseInt64) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*v = looseInt64(n)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*v = looseInt64(int64(f))
		return nil
	}
	*v = 0
	return nil
}

type looseBool bool

func (v *looseBool) UnmarshalJSON(b []byte) error {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(b)), `"`))
	switch s {
	case "true", "1", "yes", "on":
		*v = true
	case "false", "0", "no", "off", "", "null":
		*v = false
	default:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			*v = f != 0
		} else {
			*v = false
		}
	}
	return nil
}

type looseString string

func (v *looseString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*v = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*v = looseString(str)
		return nil
	}
	*v = looseString(strings.Trim(s, `"`))
	return nil
}

type clientSettingsWire struct {
	ID         looseString `json:"id"`
	Email      looseString `json:"email"`
	Enable     *looseBool  `json:"enable"`
	Flow       looseString `json:"flow"`
	LimitIP    looseInt64  `json:"limitIp"`
	TotalGB    looseInt64  `json:"totalGB"`
	ExpiryTime looseInt64  `json:"expiryTime"`
	TgID       looseString `json:"tgId"`
	SubID      looseString `json:"subId"`
	Comment    looseString `json:"comment"`
	Reset      looseInt64  `json:"reset"`
}

type clientStatWire struct {
	ID         looseInt64  `json:"id"`
	InboundID  looseInt64  `json:"inboundId"`
	Enable     *looseBool  `json:"enable"`
	Email      looseString `json:"email"`
	UUID       looseString `json:"uuid"`
	Up         looseInt64  `json:"up"`
	Down       looseInt64  `json:"down"`
	AllTime    looseInt64  `json:"allTime"`
	Total      looseInt64  `json:"total"`
	ExpiryTime looseInt64  `json:"expiryTime"`
	Reset      looseInt64  `json:"reset"`
	SubID      looseString `json:"subId"`
	LastOnline looseInt64  `json:"lastOnline"`
}

type inboundWire struct {
	ID             looseInt64        `json:"id"`
	Port           looseInt64        `json:"port"`
	Protocol       looseString       `json:"protocol"`
	Tag            looseString       `json:"tag"`
	Remark         looseString       `json:"remark"`
	Listen         looseString       `json:"listen"`
	Enable         *looseBool        `json:"enable"`
	Up             looseInt64        `json:"up"`
	Down           looseInt64        `json:"down"`
	Total          looseInt64        `json:"total"`
	ExpiryTime     looseInt64        `json:"expiryTime"`
	Settings       looseString       `json:"settings"`
	StreamSettings looseString       `json:"streamSettings"`
	ClientStats    []json.RawMessage `json:"clientStats"`
}

type listEnvelope struct {
	Success bool              `json:"success"`
	Msg     string            `json:"msg"`
	Obj     []json.RawMessage `json:"obj"`
}

// decodeInboundList parses the inbound-list envelope. A malformed envelope
// is an error; malformed individual inbounds, stats, or client entries are
// skipped so one bad record never hides the rest.
func decodeInboundList(data []byte) ([]Inbound, listEnvelope, error) {
	var env listEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return nil, env, err
	}

	inbounds := make([]Inbound, 0, len(env.Obj))
	for _, raw := range env.Obj {
		var w inboundWire
		if err := json.Unmarshal(raw, &w); err != nil {
			continue
		}
		in := Inbound{
			ID:                int64(w.ID),
			Port:              int64(w.Port),
			Protocol:          string(w.Protocol),
			Tag:               string(w.Tag),
			Remark:            string(w.Remark),
			Listen:            string(w.Listen),
			Enable:            boolOr(w.Enable, true),
			Up:                int64(w.Up),
			Down:              int64(w.Down),
			Total:             int64(w.Total),
			ExpiryTime:        int64(w.ExpiryTime),
			SettingsRaw:       string(w.Settings),
			StreamSettingsRaw: string(w.StreamSettings),
		}
		in.Settings = parseInboundSettings(in.SettingsRaw)
		for _, rawStat := range w.ClientStats {
			var sw clientStatWire
			if err := json.Unmarshal(rawStat, &sw); err != nil {
				continue
			}
			in.ClientStats = append(in.ClientStats, ClientStat{
				ID:         int64(sw.ID),
				InboundID:  int64(sw.InboundID),
				Enable:     boolOr(sw.Enable, true),
				Email:      string(sw.Email),
				UUID:       string(sw.UUID),
				Up:         int64(sw.Up),
				Down:       int64(sw.Down),
				AllTime:    int64(sw.AllTime),
				Total:      int64(sw.Total),
				ExpiryTime: int64(sw.ExpiryTime),
				Reset:      int64(sw.Reset),
				SubID:      string(sw.SubID),
				LastOnline: int64(sw.LastOnline),
			})
		}
		inbounds = append(inbounds, in)
	}
	return inbounds, env, nil
}

// parseInboundSettings decodes the settings sub-document. Garbage input
// yields an empty value; a broken client entry is dropped, not fatal.
func parseInboundSettings(raw string) InboundSettings {
	var out InboundSettings
	if strings.TrimSpace(raw) == "" {
		return out
	}
	var doc struct {
		Clients    []json.RawMessage `json:"clients"`
		Decryption looseString       `json:"decryption"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return out
	}
	out.Decryption = string(doc.Decryption)
	for _, rawClient := range doc.Clients {
		var cw clientSettingsWire
		if err := json.Unmarshal(rawClient, &cw); err != nil {
			continue
		}
		if cw.ID == "" {
			continue
		}
		out.Clients = append(out.Clients, ClientSettings{
			ID:         string(cw.ID),
			Email:      string(cw.Email),
			Enable:     boolOr(cw.Enable, true),
			Flow:       string(cw.Flow),
			LimitIP:    int64(cw.LimitIP),
			TotalGB:    int64(cw.TotalGB),
			ExpiryTime: int64(cw.ExpiryTime),
			TgID:       string(cw.TgID),
			SubID:      string(cw.SubID),
			Comment:    string(cw.Comment),
			Reset:      int64(cw.Reset),
		})
	}
	return out
}

func boolOr(v *looseBool, def bool) bool {
	if v == nil {
		return def
	}
	return bool(*v)
}
