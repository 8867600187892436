package server

import (
	"log/slog"
	"net/http/httptest"
	"testing"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:4200", "https://chat.example"}, slog.New(slog.DiscardHandler))

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:4200", true},
		{"HTTP://LOCALHOST:4200", true},
		{"https://chat.example", true},
		{"http://chat.example", false},
		{"http://evil.example", false},
		{"", false},
		{"null", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := policy.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, slog.New(slog.DiscardHandler))

	if !policy.allows("https://anything.example") {
		t.Error("Expected wildcard to allow any origin")
	}
	if policy.allows("") {
		t.Error("Expected missing origin to be rejected")
	}
	if got := policy.corsOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("Expected [*], got %v", got)
	}
}
