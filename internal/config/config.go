package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/spf13/viper"
)

type Config struct {
	Simulation SimulationConfig `mapstructure:"simulation"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Store      StoreConfig      `mapstructure:"store"`
	Live       LiveConfig       `mapstructure:"live"`
	Notifiers  NotifiersConfig  `mapstructure:"notifiers"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// SimulationConfig holds capital and cost settings for a simulation run.
type SimulationConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital" validate:"gt=0"`
	CommissionRate float64 `mapstructure:"commission_rate" validate:"gte=0,lt=1"`
	// WarmupBars are used only to seed indicators and are never traded.
	WarmupBars    int     `mapstructure:"warmup_bars" validate:"gte=0"`
	LotSize       int64   `mapstructure:"lot_size" validate:"gte=1"`
	RiskFreeRate  float64 `mapstructure:"risk_free_rate" validate:"gte=0,lt=1"`
	VaRConfidence float64 `mapstructure:"var_confidence" validate:"gt=0,lt=1"`
}

// RiskConfig holds the parameters of the risk policy. Percent fields are
// expressed in percent (2.0 means 2%).
type RiskConfig struct {
	StopLossPercent     float64 `mapstructure:"stop_loss_percent" validate:"gt=0,lt=100"`
	TakeProfitPercent   float64 `mapstructure:"take_profit_percent" validate:"gte=0"`
	TrailingStopPercent float64 `mapstructure:"trailing_stop_percent" validate:"gte=0,lt=100"`
	MaxPositionFraction float64 `mapstructure:"max_position_fraction" validate:"gt=0,lte=1"`
	MaxPositions        int     `mapstructure:"max_positions" validate:"gte=1"`
	// MaxHoldingDays of zero disables the holding-time exit.
	MaxHoldingDays int `mapstructure:"max_holding_days" validate:"gte=0"`
	// MaxCapitalUtilization rejects new entries once used capital exceeds
	// this fraction of total capital.
	MaxCapitalUtilization float64 `mapstructure:"max_capital_utilization" validate:"gt=0,lte=1"`
}

// StrategyConfig selects the signal sources and their parameters.
type StrategyConfig struct {
	Names  []string       `mapstructure:"names" validate:"min=1,dive,required"`
	Mode   string         `mapstructure:"mode" validate:"oneof=any all"`
	Params map[string]any `mapstructure:"params"`
}

type OptimizerConfig struct {
	// Workers of zero means one per CPU.
	Workers     int               `mapstructure:"workers" validate:"gte=0"`
	Metric      string            `mapstructure:"metric" validate:"required"`
	ParamRanges []ParamRange      `mapstructure:"param_ranges" validate:"dive"`
	WalkForward WalkForwardConfig `mapstructure:"walk_forward"`
}

// ParamRange lists the candidate values of one swept parameter. Names
// follow the Overlay schema.
type ParamRange struct {
	Name   string `mapstructure:"name" validate:"required"`
	Values []any  `mapstructure:"values" validate:"min=1"`
}

type WalkForwardConfig struct {
	WindowDays int `mapstructure:"window_days" validate:"gt=0"`
	StepDays   int `mapstructure:"step_days" validate:"gt=0"`
}

type StoreConfig struct {
	Type  string      `mapstructure:"type" validate:"oneof=memory file s3 sqlite"`
	Path  string      `mapstructure:"path"`
	Key   string      `mapstructure:"key" validate:"required"`
	S3    S3Config    `mapstructure:"s3"`
	Retry RetryConfig `mapstructure:"retry"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// RetryConfig bounds exponential backoff for external I/O.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
}

type LiveConfig struct {
	Symbols      []string      `mapstructure:"symbols"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Mode         string        `mapstructure:"mode" validate:"oneof=auto confirm"`
	Retry        RetryConfig   `mapstructure:"retry"`
	Feed         FeedConfig    `mapstructure:"feed"`
}

// FeedConfig selects where live bars come from. The replay feed steps
// through <data_dir>/<symbol>.csv one bar per poll.
type FeedConfig struct {
	Type    string        `mapstructure:"type" validate:"oneof=yahoo replay"`
	DataDir string        `mapstructure:"data_dir"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type NotifiersConfig struct {
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
}

type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIURL   string `mapstructure:"api_url"`
}

type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port" validate:"gte=0,lte=65535"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// AlertsConfig drives the live portfolio report and threshold rules.
type AlertsConfig struct {
	// ReportInterval between portfolio reports; zero disables them.
	ReportInterval time.Duration `mapstructure:"report_interval" validate:"gte=0"`
	CheckInterval  time.Duration `mapstructure:"check_interval" validate:"gt=0"`
	// Cooldown is the minimum time between two firings of one rule.
	Cooldown time.Duration `mapstructure:"cooldown" validate:"gte=0"`
	Rules    []AlertRule   `mapstructure:"rules" validate:"dive"`
}

// AlertRule is a "metric op value" threshold over portfolio metrics.
type AlertRule struct {
	Name     string        `mapstructure:"name" validate:"required"`
	Expr     string        `mapstructure:"expr" validate:"required"`
	For      time.Duration `mapstructure:"for" validate:"gte=0"`
	Severity string        `mapstructure:"severity" validate:"omitempty,oneof=info warning critical"`
	Message  string        `mapstructure:"message"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	Path     string `mapstructure:"path"`
	Textfile string `mapstructure:"textfile"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from file on top of Defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Simulation: SimulationConfig{
			InitialCapital: 50000,
			CommissionRate: 0.003,
			WarmupBars:     30,
			LotSize:        1,
			RiskFreeRate:   0.02,
			VaRConfidence:  0.95,
		},
		Risk: RiskConfig{
			StopLossPercent:       2.0,
			TakeProfitPercent:     4.0,
			TrailingStopPercent:   1.5,
			MaxPositionFraction:   0.9,
			MaxPositions:          1,
			MaxHoldingDays:        7,
			MaxCapitalUtilization: 0.9,
		},
		Strategy: StrategyConfig{
			Names:  []string{"ma_crossover"},
			Mode:   "any",
			Params: map[string]any{},
		},
		Optimizer: OptimizerConfig{
			Metric: "sharpe_ratio",
			WalkForward: WalkForwardConfig{
				WindowDays: 90,
				StepDays:   30,
			},
		},
		Store: StoreConfig{
			Type:  "memory",
			Key:   "ledger/state.json",
			Retry: defaultRetry(),
		},
		Live: LiveConfig{
			PollInterval: time.Minute,
			Mode:         "auto",
			Retry:        defaultRetry(),
			Feed: FeedConfig{
				Type:    "yahoo",
				Timeout: 10 * time.Second,
			},
		},
		Notifiers: NotifiersConfig{
			Email: EmailConfig{Port: 587},
		},
		Alerts: AlertsConfig{
			ReportInterval: time.Hour,
			CheckInterval:  time.Minute,
			Cooldown:       5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9102",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return core.WrapError(core.ErrConfigInvalid, err)
	}

	switch c.Store.Type {
	case "file", "sqlite":
		if c.Store.Path == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("store.path required when store type is %s", c.Store.Type))
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("store.s3.bucket required when store type is s3"))
		}
	}

	if c.Live.Feed.Type == "replay" && c.Live.Feed.DataDir == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("live.feed.data_dir required when feed type is replay"))
	}

	if c.Notifiers.Webhook.Enabled && c.Notifiers.Webhook.URL == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("notifiers.webhook.url required when webhook is enabled"))
	}
	if c.Notifiers.Telegram.Enabled && (c.Notifiers.Telegram.BotToken == "" || c.Notifiers.Telegram.ChatID == "") {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("notifiers.telegram.bot_token and chat_id required when telegram is enabled"))
	}
	if email := c.Notifiers.Email; email.Enabled && (email.Host == "" || email.From == "" || len(email.To) == 0) {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("notifiers.email.host, from and to required when email is enabled"))
	}

	seen := make(map[string]bool, len(c.Optimizer.ParamRanges))
	for _, pr := range c.Optimizer.ParamRanges {
		if !IsKnownParam(pr.Name) {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown parameter %q", pr.Name))
		}
		if seen[pr.Name] {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("duplicate parameter %q", pr.Name))
		}
		seen[pr.Name] = true
	}

	return nil
}

// Clone returns a deep copy. Optimizer workers each receive their own clone.
func (c *Config) Clone() *Config {
	out := *c
	out.Strategy.Names = slices.Clone(c.Strategy.Names)
	out.Strategy.Params = maps.Clone(c.Strategy.Params)
	if out.Strategy.Params == nil {
		out.Strategy.Params = map[string]any{}
	}
	if c.Optimizer.ParamRanges != nil {
		out.Optimizer.ParamRanges = make([]ParamRange, len(c.Optimizer.ParamRanges))
		for i, pr := range c.Optimizer.ParamRanges {
			out.Optimizer.ParamRanges[i] = ParamRange{Name: pr.Name, Values: slices.Clone(pr.Values)}
		}
	}
	out.Live.Symbols = slices.Clone(c.Live.Symbols)
	out.Notifiers.Webhook.Headers = maps.Clone(c.Notifiers.Webhook.Headers)
	out.Notifiers.Email.To = slices.Clone(c.Notifiers.Email.To)
	out.Alerts.Rules = slices.Clone(c.Alerts.Rules)
	return &out
}
