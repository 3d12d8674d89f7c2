package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tradelog/pkg/errors"
)

// Config is the full process configuration, read from the environment (and .env)
type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Sync          SyncConfig
	Feishu        FeishuConfig
	Binance       BinanceConfig
	Bitget        BitgetConfig
	OKX           OKXConfig
	Bybit         BybitConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"tradelog"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type HTTPConfig struct {
	Enabled bool `envconfig:"HTTP_ENABLED" default:"true"`
	Port    int  `envconfig:"HTTP_PORT" default:"8080"`
}

// State backends
const (
	StateBackendFile  = "file"
	StateBackendRedis = "redis"
)

type SyncConfig struct {
	Interval          time.Duration `envconfig:"SYNC_INTERVAL" default:"10s"`
	HistoryPause      time.Duration `envconfig:"HISTORY_WRITE_PAUSE" default:"500ms"`
	HistoryWindow     time.Duration `envconfig:"HISTORY_WINDOW" default:"168h"`
	HistoryWindows    int           `envconfig:"HISTORY_LOOKBACK_WINDOWS" default:"4"`
	FuzzyTolerance    time.Duration `envconfig:"FUZZY_TOLERANCE" default:"3s"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	StateBackend      string        `envconfig:"STATE_BACKEND" default:"file"`
	StateFile         string        `envconfig:"STATE_FILE" default:"sync_state.json"`
	StateRedisKey     string        `envconfig:"STATE_REDIS_KEY" default:"tradelog:sync_state"`
	BootstrapFromRows bool          `envconfig:"BOOTSTRAP_CACHE_FROM_TABLE" default:"true"`
	// LockKey enables a redis cycle lock so two replicas never write the same table
	LockKey    string        `envconfig:"SYNC_LOCK_KEY"`
	LockTTL    time.Duration `envconfig:"SYNC_LOCK_TTL" default:"5m"`
	StaleAfter time.Duration `envconfig:"SYNC_STALE_AFTER" default:"5m"`
}

// NeedsRedis reports whether the process must connect to redis
func (c SyncConfig) NeedsRedis() bool {
	return c.StateBackend == StateBackendRedis || c.LockKey != ""
}

// HistoryLookback returns the full history span covered by the chained windows
func (c SyncConfig) HistoryLookback() time.Duration {
	return c.HistoryWindow * time.Duration(c.HistoryWindows)
}

type FeishuConfig struct {
	BaseURL   string  `envconfig:"FEISHU_BASE_URL" default:"https://open.feishu.cn"`
	AppID     string  `envconfig:"FEISHU_APP_ID"`
	AppSecret string  `envconfig:"FEISHU_APP_SECRET"`
	AppToken  string  `envconfig:"FEISHU_APP_TOKEN"`
	TableID   string  `envconfig:"FEISHU_TABLE_ID"`
	WriteRPS  float64 `envconfig:"FEISHU_WRITE_RPS" default:"5"`
}

type BinanceConfig struct {
	APIKey    string `envconfig:"BINANCE_API_KEY"`
	SecretKey string `envconfig:"BINANCE_SECRET_KEY"`
	BaseURL   string `envconfig:"BINANCE_BASE_URL"`
	Testnet   bool   `envconfig:"BINANCE_TESTNET" default:"false"`
}

// Enabled reports whether credentials are present
func (c BinanceConfig) Enabled() bool { return c.APIKey != "" && c.SecretKey != "" }

type BitgetConfig struct {
	APIKey     string `envconfig:"BITGET_API_KEY"`
	SecretKey  string `envconfig:"BITGET_SECRET_KEY"`
	Passphrase string `envconfig:"BITGET_PASSPHRASE"`
	BaseURL    string `envconfig:"BITGET_BASE_URL"`
}

// Enabled reports whether credentials are present
func (c BitgetConfig) Enabled() bool { return c.APIKey != "" && c.SecretKey != "" }

type OKXConfig struct {
	APIKey     string `envconfig:"OKX_API_KEY"`
	SecretKey  string `envconfig:"OKX_SECRET_KEY"`
	Passphrase string `envconfig:"OKX_PASSPHRASE"`
	BaseURL    string `envconfig:"OKX_BASE_URL"`
	Simulated  bool   `envconfig:"OKX_SIMULATED" default:"false"`
}

// Enabled reports whether credentials are present
func (c OKXConfig) Enabled() bool { return c.APIKey != "" && c.SecretKey != "" }

type BybitConfig struct {
	APIKey    string `envconfig:"BYBIT_API_KEY"`
	SecretKey string `envconfig:"BYBIT_SECRET_KEY"`
	BaseURL   string `envconfig:"BYBIT_BASE_URL"`
	Testnet   bool   `envconfig:"BYBIT_TESTNET" default:"false"`
}

// Enabled reports whether credentials are present
func (c BybitConfig) Enabled() bool { return c.APIKey != "" && c.SecretKey != "" }

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
}

// Enabled reports whether event publishing is configured
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads .env (when present) and the process environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the sync loop cannot run with
func (c *Config) Validate() error {
	var errs errors.MultiError

	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		errs.Add(errors.Wrap(errors.ErrMisconfigured, "FEISHU_APP_ID and FEISHU_APP_SECRET are required"))
	}
	if c.Feishu.AppToken == "" || c.Feishu.TableID == "" {
		errs.Add(errors.Wrap(errors.ErrMisconfigured, "FEISHU_APP_TOKEN and FEISHU_TABLE_ID are required"))
	}
	if len(c.EnabledExchanges()) == 0 {
		errs.Add(errors.Wrap(errors.ErrMisconfigured, "no exchange credentials configured"))
	}
	if c.Bitget.Enabled() && c.Bitget.Passphrase == "" {
		errs.Add(errors.Wrap(errors.ErrMisconfigured, "BITGET_PASSPHRASE is required"))
	}
	if c.OKX.Enabled() && c.OKX.Passphrase == "" {
		errs.Add(errors.Wrap(errors.ErrMisconfigured, "OKX_PASSPHRASE is required"))
	}
	if c.Sync.Interval <= 0 {
		errs.Add(errors.Wrap(errors.ErrMisconfigured, "SYNC_INTERVAL must be positive"))
	}
	if c.Sync.HistoryWindows <= 0 || c.Sync.HistoryWindow <= 0 {
		errs.Add(errors.Wrap(errors.ErrMisconfigured, "history lookback must be positive"))
	}
	switch c.Sync.StateBackend {
	case StateBackendFile, StateBackendRedis:
	default:
		errs.Add(errors.Wrapf(errors.ErrMisconfigured, "unknown STATE_BACKEND %q", c.Sync.StateBackend))
	}
	if c.ErrorTracking.Enabled && c.ErrorTracking.Provider == "sentry" && c.ErrorTracking.SentryDSN == "" {
		errs.Add(errors.Wrap(errors.ErrMisconfigured, "SENTRY_DSN is required when error tracking is enabled"))
	}

	return errs.ToError()
}

// EnabledExchanges lists exchanges with credentials, in sync order
func (c *Config) EnabledExchanges() []string {
	var out []string
	if c.Bitget.Enabled() {
		out = append(out, "bitget")
	}
	if c.Binance.Enabled() {
		out = append(out, "binance")
	}
	if c.OKX.Enabled() {
		out = append(out, "okx")
	}
	if c.Bybit.Enabled() {
		out = append(out, "bybit")
	}
	return out
}
