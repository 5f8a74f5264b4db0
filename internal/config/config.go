// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Game     GameConfig     `mapstructure:"game"`
	Referral ReferralConfig `mapstructure:"referral"`
	Tickets  TicketConfig   `mapstructure:"tickets"`
	Rooms    []RoomConfig   `mapstructure:"rooms"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// ChainConfig holds deposit indexer configuration. TokenDecimals is the
// precision of raw on-chain amounts; WebhookSecret, when set, must match the
// secret presented by the indexer on every event.
type ChainConfig struct {
	TokenDecimals int    `mapstructure:"token_decimals"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// GameConfig holds game-server channel configuration. SharedSecret guards
// the internal API the game server calls.
type GameConfig struct {
	SharedSecret string `mapstructure:"shared_secret"`
}

// ReferralConfig holds commission rates and the per-referrer cap.
// Amounts are micro-units; rates are fractions of the triggering amount.
type ReferralConfig struct {
	KillCommissionRate  float64 `mapstructure:"kill_commission_rate"`
	DeathCommissionRate float64 `mapstructure:"death_commission_rate"`
	CommissionCap       int64   `mapstructure:"commission_cap_per_user"`
}

// TicketConfig holds VIP ticket lifecycle configuration.
type TicketConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RoomConfig is a seedable VIP room configuration entry. Amounts are
// micro-units.
type RoomConfig struct {
	RoomType           string  `mapstructure:"room_type"`
	EntryFee           int64   `mapstructure:"entry_fee"`
	RewardRatePlayer   float64 `mapstructure:"reward_rate_player"`
	RewardRateTreasury float64 `mapstructure:"reward_rate_treasury"`
	RespawnCost        int64   `mapstructure:"respawn_cost"`
	MaxClients         int     `mapstructure:"max_clients"`
	TickRate           int     `mapstructure:"tick_rate"`
	IsActive           bool    `mapstructure:"is_active"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, CHAIN_WEBHOOK_SECRET, GAME_SHARED_SECRET.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.query_timeout", "5s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("chain.token_decimals", 6)

	v.SetDefault("referral.kill_commission_rate", 0.05)
	v.SetDefault("referral.death_commission_rate", 0.02)
	v.SetDefault("referral.commission_cap_per_user", 100_000_000)

	v.SetDefault("tickets.ttl", "24h")
	v.SetDefault("tickets.sweep_interval", "1m")
}
