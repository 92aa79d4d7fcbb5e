package config

import (
	"maps"
	"slices"
)

const redacted = "***"

// secrets lists every credential field of c.
func secrets(c *Config) []*string {
	return []*string{
		&c.Wallet.PrivateKey,
		&c.Wallet.KeyPassword,
		&c.Postgres.DSN,
		&c.Postgres.Password,
		&c.Redis.Password,
		&c.S3.AccessKey,
		&c.S3.SecretKey,
		&c.Server.APIKey,
		&c.Notify.TelegramToken,
		&c.Notify.DiscordWebhookURL,
	}
}

// RedactedConfig returns a copy of cfg safe to log: credentials that are set
// read "***" and top-level slices and maps no longer alias cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range secrets(&out) {
		if *s != "" {
			*s = redacted
		}
	}

	out.Deployment.Admins = slices.Clone(cfg.Deployment.Admins)
	out.Deployment.Liquidators = slices.Clone(cfg.Deployment.Liquidators)
	out.Deployment.OrderSigners = slices.Clone(cfg.Deployment.OrderSigners)
	out.Deployment.OrderExecutors = slices.Clone(cfg.Deployment.OrderExecutors)
	out.Deployment.VaultAdmins = slices.Clone(cfg.Deployment.VaultAdmins)
	out.Deployment.TokenApyBps = maps.Clone(cfg.Deployment.TokenApyBps)
	out.Deployment.Partners = slices.Clone(cfg.Deployment.Partners)
	out.Deployment.Escrows = slices.Clone(cfg.Deployment.Escrows)
	out.Deployment.Vaults = slices.Clone(cfg.Deployment.Vaults)
	out.Deployment.Pools = slices.Clone(cfg.Deployment.Pools)
	out.Deployment.Venues = slices.Clone(cfg.Deployment.Venues)
	out.Devnet.Faucet = slices.Clone(cfg.Devnet.Faucet)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}
