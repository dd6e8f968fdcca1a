package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	MaxStale       string
	NoCache        bool
	LogLevel       string
	Network        string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	MaxStale       time.Duration
	LogLevel       string
	LogEnv         string

	CacheEnabled    bool
	RatesCachePath  string
	RatesLockPath   string
	JournalPath     string
	JournalLockPath string

	TokenRegistryPath string
	EstimatorURL      string
	EstimatorAPIKey   string
	InjectURL         string
	RatesURL          string
	RatesPair         string
	RatesTTL          time.Duration

	Network         string
	WalletType      string
	KeySource       string
	ManagedAccounts []string

	Threshold    decimal.Decimal
	FallbackRate decimal.Decimal

	BoostBackend string
	RedisAddr    string
	RedisStream  string
	KafkaBrokers []string
	KafkaTopic   string

	OTLPEndpoint string
	ServeAddr    string
}

const (
	WalletEmbedded = "embedded"
	WalletExternal = "external"

	BoostNone  = "none"
	BoostRedis = "redis"
	BoostKafka = "kafka"

	NetworkMainnet = "mainnet"
)

type fileConfig struct {
	Output   string `yaml:"output"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	LogLevel string `yaml:"log_level"`
	Network  string `yaml:"network"`
	Cache    struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Journal struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
	Tokens struct {
		Registry string `yaml:"registry"`
	} `yaml:"tokens"`
	Estimator struct {
		URL       string `yaml:"url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"estimator"`
	Inject struct {
		URL string `yaml:"url"`
	} `yaml:"inject"`
	Rates struct {
		URL  string `yaml:"url"`
		Pair string `yaml:"pair"`
		TTL  string `yaml:"ttl"`
	} `yaml:"rates"`
	Wallet struct {
		Type      string   `yaml:"type"`
		KeySource string   `yaml:"key_source"`
		Managed   []string `yaml:"managed_accounts"`
	} `yaml:"wallet"`
	Policy struct {
		Threshold    string `yaml:"threshold"`
		FallbackRate string `yaml:"fallback_rate"`
	} `yaml:"policy"`
	Boost struct {
		Backend string `yaml:"backend"`
		Redis   struct {
			Addr   string `yaml:"addr"`
			Stream string `yaml:"stream"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
	} `yaml:"boost"`
	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
	Serve struct {
		Addr string `yaml:"addr"`
	} `yaml:"serve"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}

	return settings, validate(settings)
}

func defaultSettings() (Settings, error) {
	dir, err := defaultStateDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		Timeout:         10 * time.Second,
		Retries:         2,
		MaxStale:        5 * time.Minute,
		LogLevel:        "warn",
		LogEnv:          "production",
		CacheEnabled:    true,
		RatesCachePath:  filepath.Join(dir, "rates.db"),
		RatesLockPath:   filepath.Join(dir, "rates.lock"),
		JournalPath:     filepath.Join(dir, "journal.db"),
		JournalLockPath: filepath.Join(dir, "journal.lock"),
		RatesPair:       "xtz/usd",
		RatesTTL:        5 * time.Minute,
		Network:         NetworkMainnet,
		WalletType:      WalletEmbedded,
		KeySource:       "auto",
		BoostBackend:    BoostNone,
		RedisStream:     "sendflow:boost",
		KafkaTopic:      "sendflow.boost",
		ServeAddr:       "127.0.0.1:8645",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "sendflow", "config.yaml"), nil
}

func defaultStateDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "sendflow"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	setString(&settings.LogLevel, cfg.LogLevel)
	setString(&settings.Network, strings.ToLower(cfg.Network))

	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	setString(&settings.RatesCachePath, cfg.Cache.Path)
	setString(&settings.RatesLockPath, cfg.Cache.LockPath)
	setString(&settings.JournalPath, cfg.Journal.Path)
	setString(&settings.JournalLockPath, cfg.Journal.LockPath)
	setString(&settings.TokenRegistryPath, cfg.Tokens.Registry)

	setString(&settings.EstimatorURL, cfg.Estimator.URL)
	setString(&settings.EstimatorAPIKey, cfg.Estimator.APIKey)
	if cfg.Estimator.APIKeyEnv != "" {
		settings.EstimatorAPIKey = os.Getenv(cfg.Estimator.APIKeyEnv)
	}
	setString(&settings.InjectURL, cfg.Inject.URL)

	setString(&settings.RatesURL, cfg.Rates.URL)
	setString(&settings.RatesPair, cfg.Rates.Pair)
	if cfg.Rates.TTL != "" {
		d, err := time.ParseDuration(cfg.Rates.TTL)
		if err != nil {
			return fmt.Errorf("config rates.ttl: %w", err)
		}
		settings.RatesTTL = d
	}

	setString(&settings.WalletType, strings.ToLower(cfg.Wallet.Type))
	setString(&settings.KeySource, cfg.Wallet.KeySource)
	if len(cfg.Wallet.Managed) > 0 {
		settings.ManagedAccounts = cleanList(cfg.Wallet.Managed)
	}

	if cfg.Policy.Threshold != "" {
		d, err := decimal.NewFromString(cfg.Policy.Threshold)
		if err != nil {
			return fmt.Errorf("config policy.threshold: %w", err)
		}
		settings.Threshold = d
	}
	if cfg.Policy.FallbackRate != "" {
		d, err := decimal.NewFromString(cfg.Policy.FallbackRate)
		if err != nil {
			return fmt.Errorf("config policy.fallback_rate: %w", err)
		}
		settings.FallbackRate = d
	}

	setString(&settings.BoostBackend, strings.ToLower(cfg.Boost.Backend))
	setString(&settings.RedisAddr, cfg.Boost.Redis.Addr)
	setString(&settings.RedisStream, cfg.Boost.Redis.Stream)
	if len(cfg.Boost.Kafka.Brokers) > 0 {
		settings.KafkaBrokers = cleanList(cfg.Boost.Kafka.Brokers)
	}
	setString(&settings.KafkaTopic, cfg.Boost.Kafka.Topic)

	setString(&settings.OTLPEndpoint, cfg.Telemetry.OTLPEndpoint)
	setString(&settings.ServeAddr, cfg.Serve.Addr)
	return nil
}

func applyEnv(settings *Settings) error {
	if v := os.Getenv("SENDFLOW_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SENDFLOW_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SENDFLOW_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("SENDFLOW_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("SENDFLOW_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	setString(&settings.LogLevel, os.Getenv("SENDFLOW_LOG_LEVEL"))
	setString(&settings.LogEnv, os.Getenv("SENDFLOW_LOG_ENV"))
	setString(&settings.Network, strings.ToLower(os.Getenv("SENDFLOW_NETWORK")))
	setString(&settings.RatesCachePath, os.Getenv("SENDFLOW_CACHE_PATH"))
	setString(&settings.RatesLockPath, os.Getenv("SENDFLOW_CACHE_LOCK_PATH"))
	setString(&settings.JournalPath, os.Getenv("SENDFLOW_JOURNAL_PATH"))
	setString(&settings.JournalLockPath, os.Getenv("SENDFLOW_JOURNAL_LOCK_PATH"))
	setString(&settings.TokenRegistryPath, os.Getenv("SENDFLOW_TOKEN_REGISTRY"))
	setString(&settings.EstimatorURL, os.Getenv("SENDFLOW_ESTIMATOR_URL"))
	setString(&settings.EstimatorAPIKey, os.Getenv("SENDFLOW_ESTIMATOR_API_KEY"))
	setString(&settings.InjectURL, os.Getenv("SENDFLOW_INJECT_URL"))
	setString(&settings.RatesURL, os.Getenv("SENDFLOW_RATES_URL"))
	setString(&settings.WalletType, strings.ToLower(os.Getenv("SENDFLOW_WALLET_TYPE")))
	setString(&settings.KeySource, os.Getenv("SENDFLOW_KEY_SOURCE"))
	if v := os.Getenv("SENDFLOW_MANAGED_ACCOUNTS"); v != "" {
		settings.ManagedAccounts = splitCSV(v)
	}
	if v := os.Getenv("SENDFLOW_THRESHOLD"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("SENDFLOW_THRESHOLD: %w", err)
		}
		settings.Threshold = d
	}
	if v := os.Getenv("SENDFLOW_FALLBACK_RATE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("SENDFLOW_FALLBACK_RATE: %w", err)
		}
		settings.FallbackRate = d
	}
	setString(&settings.BoostBackend, strings.ToLower(os.Getenv("SENDFLOW_BOOST_BACKEND")))
	setString(&settings.RedisAddr, os.Getenv("SENDFLOW_REDIS_ADDR"))
	if v := os.Getenv("SENDFLOW_KAFKA_BROKERS"); v != "" {
		settings.KafkaBrokers = splitCSV(v)
	}
	setString(&settings.OTLPEndpoint, os.Getenv("SENDFLOW_OTLP_ENDPOINT"))
	setString(&settings.ServeAddr, os.Getenv("SENDFLOW_SERVE_ADDR"))
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitCSV(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitCSV(flags.EnableCommands)
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	setString(&settings.LogLevel, flags.LogLevel)
	setString(&settings.Network, strings.ToLower(flags.Network))
	return nil
}

func validate(settings Settings) error {
	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	switch settings.WalletType {
	case WalletEmbedded, WalletExternal:
	default:
		return fmt.Errorf("wallet type must be %s or %s, got %q", WalletEmbedded, WalletExternal, settings.WalletType)
	}
	switch settings.BoostBackend {
	case BoostNone, BoostRedis, BoostKafka:
	default:
		return fmt.Errorf("boost backend must be none, redis or kafka, got %q", settings.BoostBackend)
	}
	if settings.BoostBackend == BoostRedis && settings.RedisAddr == "" {
		return fmt.Errorf("boost backend redis requires boost.redis.addr")
	}
	if settings.BoostBackend == BoostKafka && len(settings.KafkaBrokers) == 0 {
		return fmt.Errorf("boost backend kafka requires boost.kafka.brokers")
	}
	if settings.Threshold.IsNegative() || settings.FallbackRate.IsNegative() {
		return fmt.Errorf("policy threshold and fallback rate must not be negative")
	}
	return nil
}

// Mainnet reports whether exchange rates apply to the configured network.
func (s Settings) Mainnet() bool {
	return s.Network == NetworkMainnet
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func splitCSV(v string) []string {
	return cleanList(strings.Split(v, ","))
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, part := range in {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
