package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// wildcardOrigin in the allowlist admits any origin.
const wildcardOrigin = "*"

// normalizeOrigins lowercases scheme and host and drops invalid entries.
// The wildcard is kept as is.
func normalizeOrigins(origins []string, logger *slog.Logger) []string {
	if len(origins) == 0 {
		return nil
	}

	normalized := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == wildcardOrigin {
			normalized = append(normalized, wildcardOrigin)
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			if logger != nil {
				logger.Warn("config.invalid_origin", "origin", origin)
			}
			continue
		}
		normalized = append(normalized, normalizedOrigin)
	}
	return normalized
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// originPolicy decides which browser origins may open a WebSocket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *slog.Logger
}

func newOriginPolicy(origins []string, logger *slog.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}, len(origins)), log: logger}
	for _, origin := range origins {
		if origin == wildcardOrigin {
			p.allowAll = true
			continue
		}
		p.allowed[origin] = struct{}{}
	}
	return p
}

func (p *originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}

// checkOrigin is installed as the upgrader's CheckOrigin.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.allows(origin) {
		return true
	}
	p.log.Warn("ws.origin_blocked", "origin", origin, "addr", r.RemoteAddr)
	return false
}

// corsOrigins returns the allowlist in the form rs/cors expects.
func (p *originPolicy) corsOrigins() []string {
	if p.allowAll {
		return []string{wildcardOrigin}
	}
	out := make([]string, 0, len(p.allowed))
	for origin := range p.allowed {
		out = append(out, origin)
	}
	return out
}
