package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func fixedNow() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

func expectedCredential(t *testing.T, secret []byte, username string) string {
	t.Helper()
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestGenerate_DeterministicWithFixedTime(t *testing.T) {
	g, err := NewGenerator(Config{
		SharedSecret:   "shared-secret",
		TTL:            time.Hour,
		UsernamePrefix: "aero",
		Now:            fixedNow,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	creds, err := g.Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got, want := creds.Expires.Unix(), int64(1_700_003_600); got != want {
		t.Fatalf("Expires=%d, want %d", got, want)
	}
	wantUsername := "1700003600:aero:alice"
	if creds.Username != wantUsername {
		t.Fatalf("Username=%q, want %q", creds.Username, wantUsername)
	}
	if want := expectedCredential(t, []byte("shared-secret"), wantUsername); creds.Credential != want {
		t.Fatalf("Credential=%q, want %q", creds.Credential, want)
	}
}

func TestGenerate_EmptyClientIDUsesGenerated(t *testing.T) {
	g, err := NewGenerator(Config{
		SharedSecret:   "secret",
		TTL:            10 * time.Second,
		UsernamePrefix: "aero",
		Now:            fixedNow,
		NewClientID:    func() string { return "generated" },
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	creds, err := g.Generate("")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasSuffix(creds.Username, ":aero:generated") {
		t.Fatalf("Username=%q, want generated client id", creds.Username)
	}
}

func TestGenerate_DefaultClientIDIsUnique(t *testing.T) {
	g, err := NewGenerator(Config{SharedSecret: "secret", TTL: time.Minute, UsernamePrefix: "aero"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	a, err := g.Generate("")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := g.Generate("")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.Username == b.Username {
		t.Fatalf("expected distinct usernames, got %q twice", a.Username)
	}
}

func TestGenerate_RejectsColonInClientID(t *testing.T) {
	g, err := NewGenerator(Config{SharedSecret: "secret", TTL: time.Minute, UsernamePrefix: "aero"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, err := g.Generate("a:b"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	cases := []Config{
		{TTL: time.Minute, UsernamePrefix: "aero"},
		{SharedSecret: "s", UsernamePrefix: "aero"},
		{SharedSecret: "s", TTL: time.Minute},
		{SharedSecret: "s", TTL: time.Minute, UsernamePrefix: "a:b"},
	}
	for i, cfg := range cases {
		if _, err := NewGenerator(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestApply_OnlyTouchesTURNServers(t *testing.T) {
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"TURN:turn.example.com:3478?transport=udp"}},
	}
	creds := Credentials{Username: "u", Credential: "c"}

	out := Apply(servers, creds)

	if out[0].Username != "" || out[0].Credential != nil {
		t.Fatalf("stun server got creds: %#v", out[0])
	}
	if out[1].Username != "u" || out[1].Credential != "c" {
		t.Fatalf("turn server creds: %#v", out[1])
	}
	if servers[1].Username != "" {
		t.Fatalf("Apply modified its input")
	}
}
