package panel

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const realitySecurity = "reality"
const visionFlow = "xtls-rprx-vision"

type streamSettingsDoc struct {
	Network         string `json:"network"`
	Security        string `json:"security"`
	RealitySettings struct {
		ServerNames []string `json:"serverNames"`
		ShortIDs    []string `json:"shortIds"`
		Settings    struct {
			PublicKey   string `json:"publicKey"`
			Fingerprint string `json:"fingerprint"`
			SpiderX     string `json:"spiderX"`
		} `json:"settings"`
	} `json:"realitySettings"`
	XHTTPSettings struct {
		Path string `json:"path"`
		Host string `json:"host"`
		Mode string `json:"mode"`
	} `json:"xhttpSettings"`
}

// BuildConnectionURI derives the shareable vless URI for one client on one
// inbound from the inbound's raw streamSettings document. Only
// reality-secured transports produce a link; anything else (including
// malformed stream settings) yields "" and is simply skipped by callers.
// The flow parameter is emitted only for the tcp network type.
func BuildConnectionURI(clientID, label, host string, port int64, rawStreamSettings string) string {
	var s streamSettingsDoc
	if err := json.Unmarshal([]byte(rawStreamSettings), &s); err != nil {
		return ""
	}
	if s.Security != realitySecurity {
		return ""
	}

	network := s.Network
	if network == "" {
		network = "tcp"
	}
	pbk := s.RealitySettings.Settings.PublicKey
	fp := s.RealitySettings.Settings.Fingerprint
	if fp == "" {
		fp = "chrome"
	}
	spx := s.RealitySettings.Settings.SpiderX
	if spx == "" {
		spx = "/"
	}
	sni := firstString(s.RealitySettings.ServerNames)
	sid := firstString(s.RealitySettings.ShortIDs)

	path := s.XHTTPSettings.Path
	if path == "" {
		path = "/"
	}
	mode := s.XHTTPSettings.Mode
	if mode == "" {
		mode = "auto"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "vless://%s@%s:%d", clientID, host, port)
	fmt.Fprintf(&b, "?type=%s", escape(network))
	b.WriteString("&encryption=none")
	fmt.Fprintf(&b, "&path=%s", escape(path))
	fmt.Fprintf(&b, "&host=%s", escape(s.XHTTPSettings.Host))
	if network == "tcp" {
		fmt.Fprintf(&b, "&flow=%s", escape(visionFlow))
	}
	fmt.Fprintf(&b, "&mode=%s", escape(mode))
	b.WriteString("&security=reality")
	fmt.Fprintf(&b, "&pbk=%s", escape(pbk))
	fmt.Fprintf(&b, "&fp=%s", escape(fp))
	fmt.Fprintf(&b, "&sni=%s", escape(sni))
	fmt.Fprintf(&b, "&sid=%s", escape(sid))
	fmt.Fprintf(&b, "&spx=%s", escape(spx))
	fmt.Fprintf(&b, "#%s", escape(label))
	return b.String()
}

func firstString(list []string) string {
	if len(list) > 0 {
		return list[0]
	}
	return ""
}

// escape percent-encodes a single URI component. url.QueryEscape encodes
// spaces as "+", which clients do not accept inside vless URIs.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
