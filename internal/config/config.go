// Package config defines the top-level configuration for marginpool and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARGINPOOL_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Deployment DeploymentConfig `toml:"deployment"`
	Devnet     DevnetConfig     `toml:"devnet"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the operator key. Devnet grants it every role; in
// server mode it is only needed by tooling that signs requests.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// DeploymentConfig describes the ledger served in server mode. Addresses are
// hex strings; large amounts are decimal strings.
type DeploymentConfig struct {
	ChainID       int64  `toml:"chain_id"`
	DomainName    string `toml:"domain_name"`
	DomainVersion string `toml:"domain_version"`
	// OrderDomainName signs trader take-profit and stop-loss orders. It
	// must differ from DomainName.
	OrderDomainName string `toml:"order_domain_name"`
	WrappedNative   string `toml:"wrapped_native"`

	Admins         []string `toml:"admins"`
	Liquidators    []string `toml:"liquidators"`
	OrderSigners   []string `toml:"order_signers"`
	OrderExecutors []string `toml:"order_executors"`
	VaultAdmins    []string `toml:"vault_admins"`

	MaxLeveragePercent uint64            `toml:"max_leverage_percent"`
	MaxApyBps          uint64            `toml:"max_apy_bps"`
	TokenApyBps        map[string]uint64 `toml:"token_apy_bps"`

	FeeBps                 uint64 `toml:"fee_bps"`
	FeeReceiver            string `toml:"fee_receiver"`
	LiquidationFeeReceiver string `toml:"liquidation_fee_receiver"`
	ExecutionFeeReceiver   string `toml:"execution_fee_receiver"`

	PartnerFees    string   `toml:"partner_fees"`
	Partners       []string `toml:"partners"`
	StakingFactory string   `toml:"staking_factory"`
	Escrows        []string `toml:"escrows"`
	Router         string   `toml:"router"`
	SwapFeeBps     uint64   `toml:"swap_fee_bps"`

	Vaults  []VaultConfig  `toml:"vaults"`
	Pools   []PoolConfig   `toml:"pools"`
	Venues  []VenueConfig  `toml:"venues"`
	Buyback *BuybackConfig `toml:"buyback"`
}

// VaultConfig is one [[deployment.vaults]] entry.
type VaultConfig struct {
	Address string `toml:"address"`
	Asset   string `toml:"asset"`
}

// PoolConfig is one [[deployment.pools]] entry.
type PoolConfig struct {
	Address                 string   `toml:"address"`
	Side                    string   `toml:"side"`
	Currencies              []string `toml:"currencies"`
	CollateralCurrencies    []string `toml:"collateral_currencies"`
	LiquidationThresholdBps uint64   `toml:"liquidation_threshold_bps"`
	LiquidationFeeBps       uint64   `toml:"liquidation_fee_bps"`
}

// VenueConfig is one [[deployment.venues]] fixed-rate venue.
type VenueConfig struct {
	Address string       `toml:"address"`
	Rates   []RateConfig `toml:"rates"`
}

// RateConfig prices TokenB in TokenA: one TokenA buys Num/Den TokenB.
type RateConfig struct {
	TokenA string `toml:"token_a"`
	TokenB string `toml:"token_b"`
	Num    string `toml:"num"`
	Den    string `toml:"den"`
}

// BuybackConfig enables the internal buyback venue.
type BuybackConfig struct {
	Address     string `toml:"address"`
	DiscountBps uint64 `toml:"discount_bps"`
}

// DevnetConfig tunes devnet mode.
type DevnetConfig struct {
	// SeedReserve is minted to every venue in each vault asset.
	SeedReserve string `toml:"seed_reserve"`
	// Faucet lists accounts minted FaucetAmount of every vault asset.
	Faucet       []string `toml:"faucet"`
	FaucetAmount string   `toml:"faucet_amount"`
}

// PostgresConfig holds PostgreSQL connection parameters for the event log.
type PostgresConfig struct {
	Enabled       bool     `toml:"enabled"`
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	RunMigrations bool     `toml:"run_migrations"`
	ConnTimeout   duration `toml:"connect_timeout"`
}

// RedisConfig holds Redis connection parameters and the keys marginpool
// uses for its writer lease and event bus.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	EventChannel string   `toml:"event_channel"`
	EventStream  string   `toml:"event_stream"`
	LeaseKey     string   `toml:"lease_key"`
	LeaseTTL     duration `toml:"lease_ttl"`
}

// S3Config holds S3-compatible object storage parameters for snapshots and
// event archives.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	Prefix           string   `toml:"prefix"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	RestoreOnStart   bool     `toml:"restore_on_start"`
	// Events older than ArchiveAfter are moved out of Postgres every
	// ArchiveInterval. Zero disables archiving.
	ArchiveAfter    duration `toml:"archive_after"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey is a comma-separated list; more than one allows rotation.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per client per RateWindow; it needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// RecentEvents bounds the in-memory event buffer served without Postgres.
	RecentEvents int `toml:"recent_events"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// RateLimit caps alerts per channel per RateWindow when Redis is on.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Deployment: DeploymentConfig{
			DomainName:         "Marginpool",
			DomainVersion:      "1",
			OrderDomainName:    "Marginpool Orders",
			MaxLeveragePercent: 400,
			MaxApyBps:          1000,
			FeeBps:             10,
			SwapFeeBps:         5,
		},
		Devnet: DevnetConfig{
			SeedReserve:  "1000000000000000000000000000",
			FaucetAmount: "1000000000000000000000",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marginpool",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			ConnTimeout:   duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "marginpool",
			EventChannel: "events",
			EventStream:  "events",
			LeaseKey:     "writer",
			LeaseTTL:     duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "marginpool",
			ForcePathStyle:   true,
			SnapshotInterval: duration{5 * time.Minute},
			RestoreOnStart:   true,
			ArchiveAfter:     duration{30 * 24 * time.Hour},
			ArchiveInterval:  duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:    50,
			RateWindow:   duration{time.Second},
			RecentEvents: 10_000,
		},
		Notify: NotifyConfig{
			Events:     []string{"position_liquidated", "liquidity_migrated", "vault_boost_initiated"},
			RateLimit:  20,
			RateWindow: duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"devnet": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, devnet)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: devnet hands every role to the operator key.
	if c.Mode == "devnet" && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode devnet")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Deployment: the full check runs when it is converted to parameters.
	switch c.Mode {
	case "server":
		if _, err := c.Deployment.Params(); err != nil {
			errs = append(errs, "deployment: "+err.Error())
		}
	case "devnet":
		if _, _, _, err := c.Devnet.Amounts(); err != nil {
			errs = append(errs, "devnet: "+err.Error())
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LeaseTTL.Duration < time.Second {
			errs = append(errs, "redis: lease_ttl must be at least 1s")
		}
		if c.Redis.EventChannel == "" {
			errs = append(errs, "redis: event_channel must not be empty")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveAfter.Duration > 0 && !c.Postgres.Enabled {
			errs = append(errs, "s3: archive_after needs postgres to be enabled")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	// Notify
	if c.Notify.RateLimit < 0 {
		errs = append(errs, "notify: rate_limit must be >= 0")
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required with telegram_token")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
