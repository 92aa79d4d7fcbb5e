package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix starts every environment override.
const envPrefix = "MARGINPOOL_"

// Load layers defaults, the TOML file at path (skipped when empty), a .env
// file in the working directory and MARGINPOOL_* variables, in that order.
// A malformed override is an error rather than silently ignored. The result
// is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// binding maps one environment variable onto a Config field.
type binding struct {
	key string
	set func(string) error
}

func bindings(c *Config) []binding {
	return []binding{
		{"WALLET_PRIVATE_KEY", str(&c.Wallet.PrivateKey)},
		{"WALLET_ENCRYPTED_KEY_PATH", str(&c.Wallet.EncryptedKeyPath)},
		{"WALLET_KEY_PASSWORD", str(&c.Wallet.KeyPassword)},

		{"DEPLOYMENT_CHAIN_ID", int64Val(&c.Deployment.ChainID)},
		{"DEPLOYMENT_DOMAIN_NAME", str(&c.Deployment.DomainName)},
		{"DEPLOYMENT_ORDER_DOMAIN_NAME", str(&c.Deployment.OrderDomainName)},
		{"DEPLOYMENT_ADMINS", list(&c.Deployment.Admins)},
		{"DEPLOYMENT_ORDER_SIGNERS", list(&c.Deployment.OrderSigners)},
		{"DEPLOYMENT_ORDER_EXECUTORS", list(&c.Deployment.OrderExecutors)},
		{"DEPLOYMENT_LIQUIDATORS", list(&c.Deployment.Liquidators)},
		{"DEPLOYMENT_VAULT_ADMINS", list(&c.Deployment.VaultAdmins)},

		{"POSTGRES_ENABLED", boolVal(&c.Postgres.Enabled)},
		{"POSTGRES_DSN", str(&c.Postgres.DSN)},
		{"POSTGRES_HOST", str(&c.Postgres.Host)},
		{"POSTGRES_PORT", intVal(&c.Postgres.Port)},
		{"POSTGRES_DATABASE", str(&c.Postgres.Database)},
		{"POSTGRES_USER", str(&c.Postgres.User)},
		{"POSTGRES_PASSWORD", str(&c.Postgres.Password)},
		{"POSTGRES_SSL_MODE", str(&c.Postgres.SSLMode)},
		{"POSTGRES_POOL_MAX_CONNS", intVal(&c.Postgres.PoolMaxConns)},
		{"POSTGRES_POOL_MIN_CONNS", intVal(&c.Postgres.PoolMinConns)},
		{"POSTGRES_RUN_MIGRATIONS", boolVal(&c.Postgres.RunMigrations)},

		{"REDIS_ENABLED", boolVal(&c.Redis.Enabled)},
		{"REDIS_ADDR", str(&c.Redis.Addr)},
		{"REDIS_PASSWORD", str(&c.Redis.Password)},
		{"REDIS_DB", intVal(&c.Redis.DB)},
		{"REDIS_POOL_SIZE", intVal(&c.Redis.PoolSize)},
		{"REDIS_TLS_ENABLED", boolVal(&c.Redis.TLSEnabled)},
		{"REDIS_KEY_PREFIX", str(&c.Redis.KeyPrefix)},
		{"REDIS_LEASE_TTL", dur(&c.Redis.LeaseTTL)},

		{"S3_ENABLED", boolVal(&c.S3.Enabled)},
		{"S3_ENDPOINT", str(&c.S3.Endpoint)},
		{"S3_REGION", str(&c.S3.Region)},
		{"S3_BUCKET", str(&c.S3.Bucket)},
		{"S3_ACCESS_KEY", str(&c.S3.AccessKey)},
		{"S3_SECRET_KEY", str(&c.S3.SecretKey)},
		{"S3_PREFIX", str(&c.S3.Prefix)},
		{"S3_SNAPSHOT_INTERVAL", dur(&c.S3.SnapshotInterval)},
		{"S3_RESTORE_ON_START", boolVal(&c.S3.RestoreOnStart)},
		{"S3_ARCHIVE_AFTER", dur(&c.S3.ArchiveAfter)},

		{"SERVER_PORT", intVal(&c.Server.Port)},
		{"SERVER_CORS_ORIGINS", list(&c.Server.CORSOrigins)},
		{"SERVER_API_KEY", str(&c.Server.APIKey)},
		{"SERVER_RATE_LIMIT", intVal(&c.Server.RateLimit)},

		{"NOTIFY_TELEGRAM_TOKEN", str(&c.Notify.TelegramToken)},
		{"NOTIFY_TELEGRAM_CHAT_ID", str(&c.Notify.TelegramChatID)},
		{"NOTIFY_DISCORD_WEBHOOK_URL", str(&c.Notify.DiscordWebhookURL)},
		{"NOTIFY_EVENTS", list(&c.Notify.Events)},

		{"MODE", str(&c.Mode)},
		{"LOG_LEVEL", str(&c.LogLevel)},
	}
}

func applyEnv(c *Config) error {
	// DATABASE_URL is what most platforms inject.
	if v := os.Getenv("DATABASE_URL"); v != "" && os.Getenv(envPrefix+"POSTGRES_DSN") == "" {
		c.Postgres.DSN = v
	}

	var errs []error
	for _, b := range bindings(c) {
		v := strings.TrimSpace(os.Getenv(envPrefix + b.key))
		if v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, b.key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}
	return nil
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func intVal(dst *int) func(string) error {
	return func(v string) (err error) { *dst, err = strconv.Atoi(v); return err }
}

func int64Val(dst *int64) func(string) error {
	return func(v string) (err error) { *dst, err = strconv.ParseInt(v, 10, 64); return err }
}

func boolVal(dst *bool) func(string) error {
	return func(v string) (err error) { *dst, err = strconv.ParseBool(v); return err }
}

func dur(dst *duration) func(string) error {
	return func(v string) (err error) { dst.Duration, err = time.ParseDuration(v); return err }
}

// list splits a comma-separated value, dropping blanks.
func list(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return errors.New("empty list")
		}
		*dst = out
		return nil
	}
}
