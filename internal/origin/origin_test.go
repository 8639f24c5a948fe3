package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in         string
		normalized string
		host       string
		ok         bool
	}{
		{"HTTPS://Example.COM:443", "https://example.com", "example.com", true},
		{"http://localhost:5173/", "http://localhost:5173", "localhost:5173", true},
		{"http://example.com:80", "http://example.com", "example.com", true},
		{"https://example.com:80", "https://example.com:80", "example.com:80", true},
		{"http://[::1]:8080", "http://[::1]:8080", "[::1]:8080", true},
		{"http://[::1]", "http://[::1]", "[::1]", true},
		{"null", "null", "", true},
		{"", "", "", false},
		{"ftp://example.com", "", "", false},
		{"https://example.com/path", "", "", false},
		{"https://example.com/?q=1", "", "", false},
		{"https://example.com?", "", "", false},
		{"https://user@example.com", "", "", false},
		{"https://example.com/#frag", "", "", false},
		{"https://example.com:0", "", "", false},
		{"https://example.com:99999", "", "", false},
		{"http://::1", "", "", false},
	}
	for _, tt := range tests {
		normalized, host, ok := Normalize(tt.in)
		if ok != tt.ok || normalized != tt.normalized || host != tt.host {
			t.Fatalf("Normalize(%q)=%q,%q,%v, want %q,%q,%v", tt.in, normalized, host, ok, tt.normalized, tt.host, tt.ok)
		}
	}
}

func TestAllowed(t *testing.T) {
	normalized, host, ok := Normalize("https://app.example.com")
	if !ok {
		t.Fatalf("Normalize ok=false")
	}

	t.Run("default is same host", func(t *testing.T) {
		if !Allowed(normalized, host, "app.example.com", nil) {
			t.Fatalf("expected same host to be allowed")
		}
		if !Allowed(normalized, host, "APP.example.com:443", nil) {
			t.Fatalf("expected default port to be equivalent")
		}
		if Allowed(normalized, host, "app.example.com:8443", nil) {
			t.Fatalf("expected different port to be rejected")
		}
		if Allowed(normalized, host, "relay.example.com", nil) {
			t.Fatalf("expected different host to be rejected")
		}
	})

	t.Run("allowlist", func(t *testing.T) {
		if !Allowed(normalized, host, "relay.example.com", []string{"https://app.example.com"}) {
			t.Fatalf("expected explicit origin to be allowed")
		}
		if Allowed(normalized, host, "app.example.com", []string{"https://other.example.com"}) {
			t.Fatalf("expected an allowlist to replace the same-host default")
		}
		if !Allowed(normalized, host, "whatever:1234", []string{"*"}) {
			t.Fatalf("expected * to allow any origin")
		}
	})

	t.Run("null", func(t *testing.T) {
		if Allowed(Null, "", "relay.example.com", nil) {
			t.Fatalf("expected null origin to be rejected by default")
		}
		if !Allowed(Null, "", "relay.example.com", []string{Null}) {
			t.Fatalf("expected null origin to be allowed when listed")
		}
	})
}
