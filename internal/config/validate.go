package config

import (
	"fmt"
	"net/netip"
	"strings"
)

// Validate checks cross-field rules and derives computed fields.
// Load calls it automatically.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
		if c.Redis.PasswordRequired && c.Redis.Password == "" {
			return fmt.Errorf("redis.password is required when redis.password_required=true")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres backend")
		}
		if c.Postgres.MinConns > c.Postgres.MaxConns {
			return fmt.Errorf("postgres.min_conns (%d) exceeds max_conns (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
		}
	default:
		return fmt.Errorf("backend must be %q or %q (got %q)", BackendRedis, BackendPostgres, c.Backend)
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}
	if len(c.OAuthProviders()) == 0 {
		return fmt.Errorf("auth.providers must name at least one OAuth provider")
	}
	if !strings.HasPrefix(c.Auth.AuthorizeURL, "http://") && !strings.HasPrefix(c.Auth.AuthorizeURL, "https://") {
		return fmt.Errorf("auth.authorize_url must be an http(s) URL")
	}

	if c.Sync.DebounceWindow < 0 {
		return fmt.Errorf("sync.debounce_window must be >= 0 (got %s)", c.Sync.DebounceWindow)
	}
	if c.Sync.ResyncInterval < 0 {
		return fmt.Errorf("sync.resync_interval must be >= 0 (got %s)", c.Sync.ResyncInterval)
	}
	if c.Sync.ResyncTimeout <= 0 {
		return fmt.Errorf("sync.resync_timeout must be > 0 (got %s)", c.Sync.ResyncTimeout)
	}
	if c.Sync.ResubscribeBackoff <= 0 || c.Sync.ResubscribeMax < c.Sync.ResubscribeBackoff {
		return fmt.Errorf("sync.resubscribe_backoff must be > 0 and <= resubscribe_max_wait")
	}

	cidrs, err := parseAllowedCIDRs(c.Server.AllowedCIDRsRaw)
	if err != nil {
		return fmt.Errorf("server.allowed_cidrs: %w", err)
	}
	c.Server.AllowedCIDRs = cidrs

	hosts, err := parseAllowedHosts(c.Server.AllowedHostsRaw)
	if err != nil {
		return fmt.Errorf("server.allowed_hosts: %w", err)
	}
	c.Server.AllowedHosts = hosts

	return nil
}

// parseAllowedHosts accepts host names and "*.domain" wildcards.
func parseAllowedHosts(raw string) ([]string, error) {
	entries := splitAndTrim(raw)
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimPrefix(e, "*.")
		if name == "" || strings.ContainsAny(name, "*/: ") {
			return nil, fmt.Errorf("invalid entry %q", e)
		}
		out = append(out, strings.ToLower(e))
	}
	return out, nil
}

// parseAllowedCIDRs accepts prefixes and bare addresses and normalizes both to
// prefixes.
func parseAllowedCIDRs(raw string) ([]string, error) {
	entries := splitAndTrim(raw)
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked().String())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid entry %q", e)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()).String())
	}
	return out, nil
}
