package config

import (
	"time"
)

// Config is the root marksync configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Backend  string         `yaml:"backend" env:"MARKSYNC_BACKEND" env-default:"redis"` // "redis" | "postgres"
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
}

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"      env:"MARKSYNC_LISTEN_ADDR"      env-default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"MARKSYNC_SHUTDOWN_TIMEOUT" env-default:"5s"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"MARKSYNC_READ_TIMEOUT"     env-default:"5s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"MARKSYNC_IDLE_TIMEOUT"     env-default:"60s"`
	AllowedCIDRsRaw string        `yaml:"allowed_cidrs"    env:"MARKSYNC_ALLOWED_CIDRS"    env-default:"127.0.0.1/32, ::1/128"` // e.g. "10.0.0.0/8, 127.0.0.1"
	AllowedHostsRaw string        `yaml:"allowed_hosts"    env:"MARKSYNC_ALLOWED_HOSTS"` // e.g. "marks.example.com, *.lan"
	TrustProxy      bool          `yaml:"trust_proxy"      env:"MARKSYNC_TRUST_PROXY"      env-default:"false"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"   env:"MARKSYNC_RATE_LIMIT_RPS"   env-default:"10"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"MARKSYNC_RATE_LIMIT_BURST" env-default:"20"`

	// Derived from the raw lists by Validate.
	AllowedCIDRs []string `yaml:"-"`
	AllowedHosts []string `yaml:"-"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"MARKSYNC_LOG_LEVEL"  env-default:"info"` // "debug" | "info" | "warn" | "error"
	Pretty bool   `yaml:"pretty" env:"MARKSYNC_PRETTY_LOG" env-default:"true"` // true => zap dev (color), false => JSON
}

// RedisConfig holds the Redis backend connection settings.
type RedisConfig struct {
	Addr             string        `yaml:"addr"              env:"MARKSYNC_REDIS_ADDR"              env-default:"localhost:6379"`
	Username         string        `yaml:"username"          env:"MARKSYNC_REDIS_USERNAME"`
	Password         string        `yaml:"password"          env:"MARKSYNC_REDIS_PASSWORD"`
	PasswordRequired bool          `yaml:"password_required" env:"MARKSYNC_REDIS_PASSWORD_REQUIRED" env-default:"false"`
	DB               int           `yaml:"db"                env:"MARKSYNC_REDIS_DB"                env-default:"0"`
	DialTimeout      time.Duration `yaml:"dial_timeout"      env:"MARKSYNC_REDIS_DIAL_TIMEOUT"      env-default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout"      env:"MARKSYNC_REDIS_READ_TIMEOUT"      env-default:"3s"`
	WriteTimeout     time.Duration `yaml:"write_timeout"     env:"MARKSYNC_REDIS_WRITE_TIMEOUT"     env-default:"3s"`
	PoolSize         int           `yaml:"pool_size"         env:"MARKSYNC_REDIS_POOL_SIZE"         env-default:"10"`
	PingTimeout      time.Duration `yaml:"ping_timeout"      env:"MARKSYNC_REDIS_PING_TIMEOUT"      env-default:"5s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"   env:"MARKSYNC_REDIS_CONNECT_TIMEOUT"   env-default:"30s"`
	RetryInterval    time.Duration `yaml:"retry_interval"    env:"MARKSYNC_REDIS_RETRY_INTERVAL"    env-default:"2s"`
	MaxWait          time.Duration `yaml:"max_wait"          env:"MARKSYNC_REDIS_MAX_WAIT"          env-default:"10s"`
	WarnThreshold    int           `yaml:"warn_threshold"    env:"MARKSYNC_REDIS_WARN_THRESHOLD"    env-default:"3"`

	FeedHealthInterval time.Duration `yaml:"feed_health_interval" env:"MARKSYNC_REDIS_FEED_HEALTH_INTERVAL" env-default:"3s"`
}

// PostgresConfig holds the Postgres backend connection settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"                env:"MARKSYNC_POSTGRES_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"MARKSYNC_POSTGRES_MAX_CONNS"          env-default:"10"`
	MinConns        int32         `yaml:"min_conns"          env:"MARKSYNC_POSTGRES_MIN_CONNS"          env-default:"1"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"MARKSYNC_POSTGRES_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"MARKSYNC_POSTGRES_MAX_CONN_IDLE_TIME" env-default:"30m"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"   env:"MARKSYNC_POSTGRES_MIGRATE"            env-default:"true"`
}

// AuthConfig holds identity provider settings.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"       env:"MARKSYNC_JWT_SECRET"`
	JWTIssuer      string        `yaml:"jwt_issuer"       env:"MARKSYNC_JWT_ISSUER"       env-default:"marksync"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"MARKSYNC_ACCESS_TOKEN_TTL" env-default:"1h"`
	AuthorizeURL   string        `yaml:"authorize_url"    env:"MARKSYNC_OAUTH_AUTHORIZE_URL" env-default:"http://localhost:54321/auth/v1/authorize"`
	Providers      string        `yaml:"providers"        env:"MARKSYNC_OAUTH_PROVIDERS"  env-default:"google"`
	RedirectTarget string        `yaml:"redirect_target"  env:"MARKSYNC_OAUTH_REDIRECT"   env-default:"http://localhost:3000/dashboard"`
}

// SyncConfig tunes the synchronization coordinator.
type SyncConfig struct {
	DebounceWindow     time.Duration `yaml:"debounce_window"      env:"MARKSYNC_SYNC_DEBOUNCE"           env-default:"150ms"`
	ResyncInterval     time.Duration `yaml:"resync_interval"      env:"MARKSYNC_SYNC_INTERVAL"           env-default:"0s"` // 0 disables the safety resync
	ResyncTimeout      time.Duration `yaml:"resync_timeout"       env:"MARKSYNC_SYNC_TIMEOUT"            env-default:"10s"`
	ResubscribeBackoff time.Duration `yaml:"resubscribe_backoff"  env:"MARKSYNC_SYNC_RESUBSCRIBE"        env-default:"1s"`
	ResubscribeMax     time.Duration `yaml:"resubscribe_max_wait" env:"MARKSYNC_SYNC_RESUBSCRIBE_MAX"    env-default:"30s"`
}
