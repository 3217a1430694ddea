package origin

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in         string
		normalized string
		host       string
		ok         bool
	}{
		{in: "HTTPS://Example.COM:443", normalized: "https://example.com", host: "example.com", ok: true},
		{in: "http://localhost:5173/", normalized: "http://localhost:5173", host: "localhost:5173", ok: true},
		{in: "http://[::1]:8000", normalized: "http://[::1]:8000", host: "[::1]:8000", ok: true},
		{in: "null", normalized: "null", host: "", ok: true},
		{in: "ftp://example.com"},
		{in: "https://example.com/path"},
		{in: "https://example.com/?q=1"},
		{in: "https://user@example.com"},
		{in: "https://example.com/#frag"},
		{in: "not a url"},
	}
	for _, tc := range cases {
		normalized, host, ok := Normalize(tc.in)
		if ok != tc.ok {
			t.Fatalf("Normalize(%q) ok=%v, want %v", tc.in, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if normalized != tc.normalized || host != tc.host {
			t.Fatalf("Normalize(%q)=(%q,%q), want (%q,%q)", tc.in, normalized, host, tc.normalized, tc.host)
		}
	}
}

func TestPolicy_SameHostDefault(t *testing.T) {
	p, err := NewPolicy(nil)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	if !p.Allow("", "relay.example:8000") {
		t.Fatalf("expected requests without Origin to be allowed")
	}
	if !p.Allow("http://relay.example:8000", "relay.example:8000") {
		t.Fatalf("expected same-host origin to be allowed")
	}
	if !p.Allow("https://relay.example", "relay.example") {
		t.Fatalf("expected https origin behind proxy to be allowed")
	}
	if p.Allow("http://evil.example:8000", "relay.example:8000") {
		t.Fatalf("expected cross-host origin to be rejected")
	}
	if p.Allow("null", "relay.example") {
		t.Fatalf("expected null origin to be rejected by default")
	}
}

func TestPolicy_Allowlist(t *testing.T) {
	p, err := NewPolicy([]string{"https://app.example", "null"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if !p.Allow("https://APP.example:443", "relay.example") {
		t.Fatalf("expected allowlisted origin to be allowed")
	}
	if !p.Allow("null", "relay.example") {
		t.Fatalf("expected allowlisted null origin to be allowed")
	}
	if p.Allow("https://relay.example", "relay.example") {
		t.Fatalf("allowlist must replace the same-host default")
	}
}

func TestPolicy_Wildcard(t *testing.T) {
	p, err := NewPolicy([]string{"*"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if !p.Allow("https://anything.example", "relay.example") {
		t.Fatalf("expected wildcard to allow any origin")
	}
	if p.Allow("ftp://anything.example", "relay.example") {
		t.Fatalf("wildcard must still reject malformed origins")
	}
}

func TestNewPolicy_RejectsInvalidEntry(t *testing.T) {
	if _, err := NewPolicy([]string{"https://ok.example", "example.com/path"}); err == nil {
		t.Fatalf("expected error for invalid entry")
	}
}
