package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	State    StateConfig    `yaml:"state"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Position PositionConfig `yaml:"position"`
	Bot      BotConfig      `yaml:"bot"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
	Feed     FeedConfig     `yaml:"feed"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`

	// Console switches to a human-readable encoder, which the CLI uses.
	Console bool `yaml:"console"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type LedgerConfig struct {
	// ProgramID is the base58 address the position program is installed
	// at. Empty derives a fixed address from ProgramSeed.
	ProgramID   string `yaml:"program_id"`
	ProgramSeed string `yaml:"program_seed"`

	// Rent overrides the rent-exempt minimum parameters when non-zero.
	LamportsPerByteYear uint64 `yaml:"lamports_per_byte_year"`
	ExemptionYears      uint64 `yaml:"exemption_years"`
}

type PositionConfig struct {
	OwnerKeypair  string `yaml:"owner_keypair"`
	Side          string `yaml:"side"`
	SpreadMargin  uint64 `yaml:"spread_margin"`
	BaseLots      uint64 `yaml:"base_lots"`
	OwnerLamports uint64 `yaml:"owner_lamports"`
	OwnerBase     uint64 `yaml:"owner_base_atoms"`
	OwnerQuote    uint64 `yaml:"owner_quote_atoms"`
}

type BotConfig struct {
	RebalanceInterval time.Duration `yaml:"rebalance_interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DSN       string `yaml:"dsn"`
	Schema    string `yaml:"schema"`
	Table     string `yaml:"table"`
	QueueSize int    `yaml:"queue_size"`
}

type FeedConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Coin           string        `yaml:"coin"`
	Depth          int           `yaml:"depth"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`

	// InfoURL seeds the book from a REST snapshot at startup when set.
	InfoURL     string        `yaml:"info_url"`
	InfoTimeout time.Duration `yaml:"info_timeout"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`

	// The operator accepts commands from ChatID, limited to the listed users
	// when any are set.
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// applyEnv fills secrets that are normally kept out of the config file.
func applyEnv(cfg *Config) {
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	}
	if cfg.Telegram.ChatID == "" {
		cfg.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")
	}
	if cfg.Journal.DSN == "" {
		cfg.Journal.DSN = os.Getenv("JOURNAL_DSN")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/px-position-manager.db"
	}
	if cfg.Ledger.ProgramID == "" && cfg.Ledger.ProgramSeed == "" {
		cfg.Ledger.ProgramSeed = "px-position-manager"
	}
	if cfg.Position.OwnerKeypair == "" {
		cfg.Position.OwnerKeypair = "data/owner.json"
	}
	if cfg.Position.Side == "" {
		cfg.Position.Side = "bid"
	}
	if cfg.Position.SpreadMargin == 0 {
		cfg.Position.SpreadMargin = 5
	}
	if cfg.Position.OwnerLamports == 0 {
		cfg.Position.OwnerLamports = 10_000_000_000
	}
	if cfg.Bot.RebalanceInterval == 0 {
		cfg.Bot.RebalanceInterval = 30 * time.Second
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9108"
	}
	if cfg.Journal.Schema == "" {
		cfg.Journal.Schema = "public"
	}
	if cfg.Journal.Table == "" {
		cfg.Journal.Table = "position_operations"
	}
	if cfg.Journal.QueueSize <= 0 {
		cfg.Journal.QueueSize = 256
	}
	if cfg.Feed.Depth == 0 {
		cfg.Feed.Depth = 10
	}
	if cfg.Feed.Coin == "" {
		cfg.Feed.Coin = "SOL"
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 50 * time.Second
	}
	if cfg.Feed.InfoTimeout == 0 {
		cfg.Feed.InfoTimeout = 10 * time.Second
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func validate(cfg *Config) error {
	switch cfg.Position.Side {
	case "bid", "ask":
	default:
		return fmt.Errorf("position.side must be bid or ask, got %q", cfg.Position.Side)
	}
	if cfg.Position.SpreadMargin > 100 {
		return errors.New("position.spread_margin must be between 1 and 100")
	}
	if cfg.Journal.Enabled && cfg.Journal.DSN == "" {
		return errors.New("journal.dsn is required when the journal is enabled")
	}
	if cfg.Feed.Enabled && cfg.Feed.URL == "" {
		return errors.New("feed.url is required when the feed is enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}
