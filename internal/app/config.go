package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Cal9233/genthrust-repairs/internal/failover"
	"github.com/Cal9233/genthrust-repairs/internal/retry"
)

// Имена переменных окружения.
const (
	EnvConfigFile            = "REPAIRS_CONFIG"
	EnvHTTPAddr              = "REPAIRS_HTTP_ADDR"
	EnvMetricsAddr           = "REPAIRS_METRICS_ADDR"
	EnvGRPCAddr              = "REPAIRS_GRPC_ADDR"
	EnvLogLevel              = "REPAIRS_LOG_LEVEL"
	EnvRelationalURL         = "REPAIRS_RELATIONAL_URL"
	EnvRelationalTimeout     = "REPAIRS_RELATIONAL_TIMEOUT"
	EnvRelationalToken       = "REPAIRS_RELATIONAL_TOKEN"
	EnvRelationalMaxAttempts = "REPAIRS_RELATIONAL_MAX_ATTEMPTS"
	EnvWorkbookURL           = "REPAIRS_WORKBOOK_URL"
	EnvWorkbookTable         = "REPAIRS_WORKBOOK_TABLE"
	EnvWorkbookTimeout       = "REPAIRS_WORKBOOK_TIMEOUT"
	EnvWorkbookSessionTTL    = "REPAIRS_WORKBOOK_SESSION_TTL"
	EnvWorkbookToken         = "REPAIRS_WORKBOOK_TOKEN"
	EnvRetryMaxAttempts      = "REPAIRS_RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelay        = "REPAIRS_RETRY_BASE_DELAY"
	EnvRetryMaxDelay         = "REPAIRS_RETRY_MAX_DELAY"
	EnvRetryJitter           = "REPAIRS_RETRY_JITTER"
	EnvFailoverRetryInterval = "REPAIRS_FAILOVER_RETRY_INTERVAL"
	EnvMonitorInterval       = "REPAIRS_MONITOR_INTERVAL"
	EnvKafkaBrokers          = "REPAIRS_KAFKA_BROKERS"
	EnvOAuthTokenURL         = "REPAIRS_OAUTH_TOKEN_URL"
	EnvOAuthClientID         = "REPAIRS_OAUTH_CLIENT_ID"
	EnvOAuthClientSecret     = "REPAIRS_OAUTH_CLIENT_SECRET"
	EnvOAuthScopes           = "REPAIRS_OAUTH_SCOPES"
)

// RelationalConfig — основной бэкенд.
type RelationalConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Token — статический bearer-токен; пусто — без авторизации.
	Token string `yaml:"token"`
	// MaxAttempts — попытки одного вызова; 1 отдаёт сбой арбитру сразу.
	MaxAttempts int `yaml:"max_attempts"`
}

// WorkbookConfig — резервный бэкенд.
type WorkbookConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Table          string        `yaml:"table"`
	Timeout        time.Duration `yaml:"timeout"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	PersistChanges bool          `yaml:"persist_changes"`
	Token          string        `yaml:"token"`
}

// OAuthConfig — client credentials для документа. Имеет приоритет над Workbook.Token.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled сообщает, настроен ли провайдер токенов.
func (c OAuthConfig) Enabled() bool {
	return c.TokenURL != ""
}

// RetryConfig — backoff вызовов документа.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// Policy возвращает конфигурацию пакета retry.
func (c RetryConfig) Policy() retry.Config {
	return retry.Config{
		MaxAttempts:  c.MaxAttempts,
		BaseDelay:    c.BaseDelay,
		MaxDelay:     c.MaxDelay,
		JitterFactor: c.Jitter,
	}
}

// KafkaConfig — публикация событий; пустой список брокеров отключает Kafka.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client_id"`
}

// Config описывает настройки сервиса заказов.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	LogLevel    string `yaml:"log_level"`

	Relational RelationalConfig `yaml:"relational"`
	Workbook   WorkbookConfig   `yaml:"workbook"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Retry      RetryConfig      `yaml:"retry"`
	Kafka      KafkaConfig      `yaml:"kafka"`

	FailoverRetryInterval time.Duration `yaml:"failover_retry_interval"`
	MonitorInterval       time.Duration `yaml:"monitor_interval"`
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	policy := retry.DefaultConfig()
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		GRPCAddr:    ":50051",
		LogLevel:    "info",
		Relational: RelationalConfig{
			BaseURL:     "http://localhost:3001/api",
			Timeout:     10 * time.Second,
			MaxAttempts: 1,
		},
		Workbook: WorkbookConfig{
			Table:          "RepairTable",
			Timeout:        30 * time.Second,
			SessionTTL:     5 * time.Minute,
			PersistChanges: true,
		},
		Retry: RetryConfig{
			MaxAttempts: policy.MaxAttempts,
			BaseDelay:   policy.BaseDelay,
			MaxDelay:    policy.MaxDelay,
			Jitter:      policy.JitterFactor,
		},
		Kafka:                 KafkaConfig{ClientID: "repair-service"},
		FailoverRetryInterval: failover.DefaultRetryInterval,
		MonitorInterval:       30 * time.Second,
	}
}

// LoadFile накладывает YAML-файл на cfg; отсутствующие ключи не меняются.
func LoadFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LookupFunc — источник переменных окружения (os.LookupEnv в проде).
type LookupFunc func(key string) (string, bool)

// ApplyEnv переопределяет cfg переменными REPAIRS_*. Некорректные значения
// пропускаются и возвращаются как предупреждения.
func ApplyEnv(cfg Config, lookup LookupFunc) (Config, []string) {
	var warnings []string
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				warnings = append(warnings, fmt.Sprintf("%s: invalid duration %q", key, v))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				warnings = append(warnings, fmt.Sprintf("%s: invalid positive integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := get(key); ok {
			*dst = splitList(v)
		}
	}

	str(EnvHTTPAddr, &cfg.HTTPAddr)
	str(EnvMetricsAddr, &cfg.MetricsAddr)
	str(EnvGRPCAddr, &cfg.GRPCAddr)
	str(EnvLogLevel, &cfg.LogLevel)

	str(EnvRelationalURL, &cfg.Relational.BaseURL)
	dur(EnvRelationalTimeout, &cfg.Relational.Timeout)
	str(EnvRelationalToken, &cfg.Relational.Token)
	num(EnvRelationalMaxAttempts, &cfg.Relational.MaxAttempts)

	str(EnvWorkbookURL, &cfg.Workbook.BaseURL)
	str(EnvWorkbookTable, &cfg.Workbook.Table)
	dur(EnvWorkbookTimeout, &cfg.Workbook.Timeout)
	dur(EnvWorkbookSessionTTL, &cfg.Workbook.SessionTTL)
	str(EnvWorkbookToken, &cfg.Workbook.Token)

	num(EnvRetryMaxAttempts, &cfg.Retry.MaxAttempts)
	dur(EnvRetryBaseDelay, &cfg.Retry.BaseDelay)
	dur(EnvRetryMaxDelay, &cfg.Retry.MaxDelay)
	if v, ok := get(EnvRetryJitter); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			warnings = append(warnings, fmt.Sprintf("%s: invalid jitter %q", EnvRetryJitter, v))
		} else {
			cfg.Retry.Jitter = f
		}
	}

	dur(EnvFailoverRetryInterval, &cfg.FailoverRetryInterval)
	dur(EnvMonitorInterval, &cfg.MonitorInterval)
	list(EnvKafkaBrokers, &cfg.Kafka.Brokers)

	str(EnvOAuthTokenURL, &cfg.OAuth.TokenURL)
	str(EnvOAuthClientID, &cfg.OAuth.ClientID)
	str(EnvOAuthClientSecret, &cfg.OAuth.ClientSecret)
	list(EnvOAuthScopes, &cfg.OAuth.Scopes)

	return cfg, warnings
}

// Load собирает конфигурацию: значения по умолчанию, затем файл path
// (или REPAIRS_CONFIG), затем переменные окружения.
func Load(path string, lookup LookupFunc) (Config, []string, error) {
	cfg := DefaultConfig()
	if path == "" {
		if v, ok := lookup(EnvConfigFile); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		var err error
		if cfg, err = LoadFile(cfg, path); err != nil {
			return cfg, nil, err
		}
	}
	cfg, warnings := ApplyEnv(cfg, lookup)
	return cfg, warnings, cfg.Validate()
}

// Validate проверяет обязательные параметры.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if err := validURL("relational.base_url", c.Relational.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validURL("workbook.base_url", c.Workbook.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.Workbook.Table == "" {
		errs = append(errs, errors.New("workbook.table is required"))
	}
	if c.Relational.MaxAttempts <= 0 {
		errs = append(errs, errors.New("relational.max_attempts must be positive"))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry.max_attempts must be positive"))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		errs = append(errs, errors.New("retry.jitter must be within [0, 1]"))
	}
	if c.FailoverRetryInterval <= 0 {
		errs = append(errs, errors.New("failover_retry_interval must be positive"))
	}
	if c.OAuth.Enabled() && c.OAuth.ClientID == "" {
		errs = append(errs, errors.New("oauth.client_id is required with oauth.token_url"))
	}
	return errors.Join(errs...)
}

func validURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: invalid url %q", name, raw)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
