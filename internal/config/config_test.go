package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-very-long-jwt-secret-for-testing-32+"

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MARKSYNC_JWT_SECRET", testSecret)
}

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	validEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 150*time.Millisecond, cfg.Sync.DebounceWindow)
	assert.Equal(t, "http://localhost:3000/dashboard", cfg.Auth.RedirectTarget)
	assert.Equal(t, []string{"google"}, cfg.OAuthProviders())
	assert.Equal(t, []string{"127.0.0.1/32", "::1/128"}, cfg.Server.AllowedCIDRs)
	assert.Empty(t, cfg.Server.AllowedHosts)
}

func TestLoadFromYAMLWithEnvOverride(t *testing.T) {
	path := writeYAML(t, `
backend: postgres
server:
  listen_addr: ":9090"
  allowed_cidrs: "10.0.0.0/8, 127.0.0.1"
  allowed_hosts: "Marks.example.com, *.lan"
postgres:
  dsn: "postgres://u:p@localhost:5432/marksync"
  max_conns: 4
  min_conns: 1
auth:
  jwt_secret: "`+testSecret+`"
  providers: "google, github"
sync:
  debounce_window: "50ms"
  resync_timeout: "2s"
  resubscribe_backoff: "100ms"
  resubscribe_max_wait: "1s"
`)
	t.Setenv("MARKSYNC_CONFIG", path)
	t.Setenv("MARKSYNC_LISTEN_ADDR", ":7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr, "env must win over yaml")
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1/32"}, cfg.Server.AllowedCIDRs)
	assert.Equal(t, []string{"marks.example.com", "*.lan"}, cfg.Server.AllowedHosts)
	assert.Equal(t, []string{"google", "github"}, cfg.OAuthProviders())
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.DebounceWindow)
	assert.Equal(t, int32(4), cfg.Postgres.MaxConns)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	validEnv(t)
	t.Setenv("MARKSYNC_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Backend: BackendRedis,
			Redis:   RedisConfig{Addr: "localhost:6379"},
			Auth: AuthConfig{
				JWTSecret:    testSecret,
				Providers:    "google",
				AuthorizeURL: "https://auth.example.com/authorize",
			},
			Sync: SyncConfig{
				DebounceWindow:     150 * time.Millisecond,
				ResyncTimeout:      time.Second,
				ResubscribeBackoff: time.Second,
				ResubscribeMax:     10 * time.Second,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "sqlite" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Backend = BackendPostgres }, wantErr: true},
		{name: "short secret", mutate: func(c *Config) { c.Auth.JWTSecret = "short" }, wantErr: true},
		{name: "no providers", mutate: func(c *Config) { c.Auth.Providers = " , " }, wantErr: true},
		{name: "redis password required", mutate: func(c *Config) { c.Redis.PasswordRequired = true }, wantErr: true},
		{name: "bad cidr", mutate: func(c *Config) { c.Server.AllowedCIDRsRaw = "not-an-ip" }, wantErr: true},
		{name: "host with port", mutate: func(c *Config) { c.Server.AllowedHostsRaw = "marks.lan:8080" }, wantErr: true},
		{name: "inner wildcard", mutate: func(c *Config) { c.Server.AllowedHostsRaw = "a.*.lan" }, wantErr: true},
		{name: "zero resync timeout", mutate: func(c *Config) { c.Sync.ResyncTimeout = 0 }, wantErr: true},
		{name: "backoff above max", mutate: func(c *Config) { c.Sync.ResubscribeMax = time.Millisecond }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{
		Redis:    RedisConfig{Password: "hunter2", Username: "default"},
		Postgres: PostgresConfig{DSN: "postgres://u:p@h/db"},
		Auth:     AuthConfig{JWTSecret: testSecret},
	}

	r := cfg.Redacted()
	assert.Equal(t, redacted, r.Redis.Password)
	assert.Equal(t, redacted, r.Redis.Username)
	assert.Equal(t, redacted, r.Postgres.DSN)
	assert.Equal(t, redacted, r.Auth.JWTSecret)
	assert.Equal(t, "hunter2", cfg.Redis.Password, "original must be untouched")
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b", "c"}, splitAndTrim(` a ,"b", 'c' ,`))
}
