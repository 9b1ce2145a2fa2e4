package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/punchamoorthee/commissionledger/internal/domain"
	"github.com/punchamoorthee/commissionledger/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Env         string            `mapstructure:"env"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         logger.Config     `mapstructure:"log"`
	Commission  CommissionConfig  `mapstructure:"commission"`
	Payout      PayoutConfig      `mapstructure:"payout"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN              string        `mapstructure:"dsn"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `mapstructure:"max_conn_idle_time"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	MaxTxRetries     int           `mapstructure:"max_tx_retries"`
	Migrate          bool          `mapstructure:"migrate"`
}

// CommissionConfig holds the split defaults. Percentages are strings so they
// are parsed as exact decimals.
type CommissionConfig struct {
	DefaultAffiliateRate string `mapstructure:"default_affiliate_rate"`
	AdminFeePercent      string `mapstructure:"admin_fee_percent"`
	FounderPercent       string `mapstructure:"founder_percent"`
	CoFounderPercent     string `mapstructure:"cofounder_percent"`
	EventCreatorPercent  string `mapstructure:"event_creator_percent"`
	Scale                int32  `mapstructure:"scale"`
	HoldHouseShares      bool   `mapstructure:"hold_house_shares"`
	AdminUserID          string `mapstructure:"admin_user_id"`
	FounderUserID        string `mapstructure:"founder_user_id"`
	CoFounderUserID      string `mapstructure:"cofounder_user_id"`
}

type PayoutConfig struct {
	MinWithdrawal string `mapstructure:"min_withdrawal"`
}

type OutboxConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Publisher    string        `mapstructure:"publisher"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	KafkaBrokers []string      `mapstructure:"kafka_brokers"`
	TopicPrefix  string        `mapstructure:"topic_prefix"`
	NATSURL      string        `mapstructure:"nats_url"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	LeaseKey string        `mapstructure:"lease_key"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

type LeaderboardConfig struct {
	Timezone     string `mapstructure:"timezone"`
	DefaultLimit int    `mapstructure:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.statement_timeout", 5*time.Second)
	v.SetDefault("database.max_tx_retries", 3)
	v.SetDefault("database.migrate", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.time_format", time.RFC3339)
	v.SetDefault("log.pretty", false)

	v.SetDefault("commission.default_affiliate_rate", "10")
	v.SetDefault("commission.admin_fee_percent", "15")
	v.SetDefault("commission.founder_percent", "60")
	v.SetDefault("commission.cofounder_percent", "40")
	v.SetDefault("commission.event_creator_percent", "70")
	v.SetDefault("commission.scale", 0)
	v.SetDefault("commission.hold_house_shares", false)
	v.SetDefault("commission.admin_user_id", "")
	v.SetDefault("commission.founder_user_id", "")
	v.SetDefault("commission.cofounder_user_id", "")

	v.SetDefault("payout.min_withdrawal", "0")

	v.SetDefault("outbox.enabled", true)
	v.SetDefault("outbox.publisher", "log")
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_attempts", 10)
	v.SetDefault("outbox.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("outbox.topic_prefix", "ledger")
	v.SetDefault("outbox.nats_url", "nats://localhost:4222")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.lease_key", "ledger:outbox:relay")
	v.SetDefault("redis.lease_ttl", 15*time.Second)

	v.SetDefault("leaderboard.timezone", "Asia/Jakarta")
	v.SetDefault("leaderboard.default_limit", 10)
	v.SetDefault("leaderboard.max_limit", 100)
}

// Load reads configuration from defaults, an optional YAML file and the
// environment (APP_ prefix, e.g. APP_DATABASE_DSN). A .env file in the working
// directory is loaded first when present. An empty path searches for
// config.yaml in . and ./configs.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// Variable names used by earlier deployments.
	_ = v.BindEnv("database.dsn", "APP_DATABASE_DSN", "DB_SOURCE")
	_ = v.BindEnv("server.port", "APP_SERVER_PORT", "SERVER_PORT")
	_ = v.BindEnv("env", "APP_ENV", "ENVIRONMENT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn (APP_DATABASE_DSN or DB_SOURCE) is required")
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Outbox.Publisher {
	case "log", "kafka", "nats":
	default:
		return fmt.Errorf("outbox.publisher %q: want log, kafka or nats", c.Outbox.Publisher)
	}
	return nil
}

// Policy returns the configured split defaults. A settings row in the
// database overrides them per request.
func (c *Config) Policy() (domain.Policy, error) {
	p := domain.Policy{
		HoldHouseShares: c.Commission.HoldHouseShares,
		Scale:           c.Commission.Scale,
		AdminUserID:     c.Commission.AdminUserID,
		FounderUserID:   c.Commission.FounderUserID,
		CoFounderUserID: c.Commission.CoFounderUserID,
	}
	fields := []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"commission.default_affiliate_rate", c.Commission.DefaultAffiliateRate, &p.DefaultAffiliateRate},
		{"commission.admin_fee_percent", c.Commission.AdminFeePercent, &p.AdminFeePercent},
		{"commission.founder_percent", c.Commission.FounderPercent, &p.FounderPercent},
		{"commission.cofounder_percent", c.Commission.CoFounderPercent, &p.CoFounderPercent},
		{"commission.event_creator_percent", c.Commission.EventCreatorPercent, &p.EventCreatorPercent},
		{"payout.min_withdrawal", c.Payout.MinWithdrawal, &p.MinWithdrawal},
	}
	for _, f := range fields {
		val, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.Policy{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = val
	}
	if err := p.Validate(); err != nil {
		return domain.Policy{}, fmt.Errorf("commission policy: %w", err)
	}
	return p, nil
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Leaderboard.Timezone)
	if err != nil {
		return nil, fmt.Errorf("leaderboard.timezone: %w", err)
	}
	return loc, nil
}
