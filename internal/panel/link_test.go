package panel

import (
	"strings"
	"testing"
)

const realityStream = `{"network":"tcp","security":"reality",` +
	`"realitySettings":{"serverNames":["example.com"],"shortIds":["ab"],` +
	`"settings":{"publicKey":"PK","fingerprint":"chrome","spiderX":"/"}}}`

func TestBuildConnectionURIReality(t *testing.T) {
	got := BuildConnectionURI("11111111-1111-1111-1111-111111111111", "alice", "1.2.3.4", 443, realityStream)
	want := "vless://11111111-1111-1111-1111-111111111111@1.2.3.4:443" +
		"?type=tcp&encryption=none&path=%2F&host=&flow=xtls-rprx-vision" +
		"&mode=auto&security=reality&pbk=PK&fp=chrome&sni=example.com" +
		"&sid=ab&spx=%2F#alice"
	if got != want {
		t.Fatalf("unexpected URI:\n got %s\nwant %s", got, want)
	}
}

func TestBuildConnectionURINonRealityIsEmpty(t *testing.T) {
	stream := `{"network":"tcp","security":"tls"}`
	if got := BuildConnectionURI("id", "label", "host", 443, stream); got != "" {
		t.Fatalf("expected empty URI for tls security, got %s", got)
	}
}

func TestBuildConnectionURIMalformedIsEmpty(t *testing.T) {
	if got := BuildConnectionURI("id", "label", "host", 443, "not json"); got != "" {
		t.Fatalf("expected empty URI for malformed stream settings, got %s", got)
	}
}

func TestBuildConnectionURIXHTTPOmitsFlow(t *testing.T) {
	stream := `{"network":"xhttp","security":"reality",` +
		`"realitySettings":{"serverNames":["cdn.example.com"],"shortIds":["cd"],` +
		`"settings":{"publicKey":"PK2"}},` +
		`"xhttpSettings":{"path":"/stream","host":"cdn.example.com","mode":"packet-up"}}`
	got := BuildConnectionURI("id-1", "bob", "5.6.7.8", 8443, stream)
	if strings.Contains(got, "flow=") {
		t.Fatalf("flow must only appear for tcp transports, got %s", got)
	}
	for _, frag := range []string{
		"type=xhttp", "path=%2Fstream", "host=cdn.example.com",
		"mode=packet-up", "pbk=PK2", "fp=chrome", "sni=cdn.example.com",
		"sid=cd", "spx=%2F",
	} {
		if !strings.Contains(got, frag) {
			t.Fatalf("expected %q in URI %s", frag, got)
		}
	}
}

func TestBuildConnectionURIEscapesLabel(t *testing.T) {
	got := BuildConnectionURI("id", "my server #1", "host", 443, realityStream)
	if !strings.HasSuffix(got, "#my%20server%20%231") {
		t.Fatalf("expected percent-encoded label without '+', got %s", got)
	}
}

func TestBuildConnectionURIDefaultsMissingRealityFields(t *testing.T) {
	stream := `{"security":"reality","realitySettings":{"settings":{"publicKey":"PK"}}}`
	got := BuildConnectionURI("id", "l", "h", 1, stream)
	for _, frag := range []string{"type=tcp", "fp=chrome", "spx=%2F", "sni=&", "sid=&"} {
		if !strings.Contains(got, frag) {
			t.Fatalf("expected %q in URI %s", frag, got)
		}
	}
}
