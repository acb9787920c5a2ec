// Package config loads application configuration from an optional YAML file,
// a .env file and KEYPANEL_ environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ericfisherdev/keypanel/internal/domain/model"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "KEYPANEL"

// Defaults applied when neither the config file nor the environment sets a value.
const (
	DefaultListenAddr    = "127.0.0.1:8980"
	DefaultDBPath        = "keypanel.db"
	DefaultUpstreamURL   = "https://api-inference.modelscope.cn/v1"
	DefaultProbeModel    = "Qwen/Qwen2.5-7B-Instruct"
	DefaultCronSpec      = "0 */10 * * * *"
	DefaultInterval      = 10 * time.Minute
	DefaultProbeTimeout  = 10 * time.Second
	DefaultProbeParallel = 10
)

// Config holds the application configuration.
type Config struct {
	ListenAddr  string
	DBPath      string
	AdminToken  string
	SecretKey   []byte
	SeedKeys    []string
	CORSOrigins []string

	Log          LogConfig
	Upstream     UpstreamConfig
	Probe        ProbeConfig
	Reactivation ReactivationConfig
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// UpstreamConfig locates the OpenAI-compatible endpoint keys are probed against.
type UpstreamConfig struct {
	BaseURL string
}

// ProbeConfig bounds health-test runs.
type ProbeConfig struct {
	Timeout     time.Duration
	Concurrency int
}

// ReactivationConfig holds the boot defaults of the reactivation scheduler.
// Settings saved through the admin API take precedence.
type ReactivationConfig struct {
	Enabled  bool
	Mode     string
	Interval time.Duration
	CronSpec string
	Timezone string
	Model    string
}

// HasAdminToken reports whether the admin API can accept requests. Without a
// token every admin route answers 503.
func (c *Config) HasAdminToken() bool {
	return c.AdminToken != ""
}

// ReactivationDefaults converts the boot defaults into the domain config.
func (c *Config) ReactivationDefaults() model.ReactivationConfig {
	return model.ReactivationConfig{
		Enabled:  c.Reactivation.Enabled,
		Mode:     model.ReactivationMode(c.Reactivation.Mode),
		Interval: c.Reactivation.Interval,
		CronSpec: c.Reactivation.CronSpec,
		Timezone: c.Reactivation.Timezone,
	}
}

// Load reads configuration and returns a validated Config. path names an
// optional YAML file; when empty, keypanel.yaml in the working directory is
// used if present. A .env file in the working directory is loaded first and
// never overrides variables already set. Environment variables use the
// KEYPANEL_ prefix with dots replaced by underscores, e.g.
// KEYPANEL_REACTIVATION_INTERVAL.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("keypanel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		ListenAddr:  strings.TrimSpace(v.GetString("listen_addr")),
		DBPath:      strings.TrimSpace(v.GetString("db_path")),
		AdminToken:  strings.TrimSpace(v.GetString("admin_token")),
		SeedKeys:    stringList(v, "seed_keys"),
		CORSOrigins: stringList(v, "cors_origins"),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Upstream: UpstreamConfig{
			BaseURL: strings.TrimRight(v.GetString("upstream.base_url"), "/"),
		},
		Probe: ProbeConfig{
			Timeout:     v.GetDuration("probe.timeout"),
			Concurrency: v.GetInt("probe.concurrency"),
		},
		Reactivation: ReactivationConfig{
			Enabled:  v.GetBool("reactivation.enabled"),
			Mode:     strings.ToLower(v.GetString("reactivation.mode")),
			Interval: v.GetDuration("reactivation.interval"),
			CronSpec: strings.TrimSpace(v.GetString("reactivation.cron_spec")),
			Timezone: strings.TrimSpace(v.GetString("reactivation.timezone")),
			Model:    strings.TrimSpace(v.GetString("reactivation.model")),
		},
	}

	secretHex := strings.TrimSpace(v.GetString("secret_key"))
	if err := validation.Validate(secretHex, validation.Length(64, 64), is.Hexadecimal); err != nil {
		return nil, fmt.Errorf("%s_SECRET_KEY must be 64 hex characters: %w", EnvPrefix, err)
	}
	if secretHex != "" {
		key, err := hex.DecodeString(secretHex)
		if err != nil {
			return nil, fmt.Errorf("%s_SECRET_KEY is not valid hex: %w", EnvPrefix, err)
		}
		cfg.SecretKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("admin_token", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("seed_keys", []string{})
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("upstream.base_url", DefaultUpstreamURL)
	v.SetDefault("probe.timeout", DefaultProbeTimeout)
	v.SetDefault("probe.concurrency", DefaultProbeParallel)
	v.SetDefault("reactivation.enabled", true)
	v.SetDefault("reactivation.mode", string(model.ReactivationModeInterval))
	v.SetDefault("reactivation.interval", DefaultInterval)
	v.SetDefault("reactivation.cron_spec", DefaultCronSpec)
	v.SetDefault("reactivation.timezone", "Local")
	v.SetDefault("reactivation.model", DefaultProbeModel)
}

// stringList reads a list that may be given as a YAML sequence or as a
// comma-separated environment variable. Blank entries are dropped.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the loaded values. Cron and timezone checks happen when
// the reactivation config is applied, so saved settings and boot defaults
// share one validator.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ListenAddr, validation.Required, validation.By(validateHostPort)),
		validation.Field(&c.DBPath, validation.Required),
		validation.Field(&c.CORSOrigins, validation.Each(validation.By(validateOrigin))),
		validation.Field(&c.Log, validation.By(func(value any) error {
			lc, _ := value.(LogConfig)
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
				validation.Field(&lc.Format, validation.Required, validation.In("text", "json")),
			)
		})),
		validation.Field(&c.Upstream, validation.By(func(value any) error {
			uc, _ := value.(UpstreamConfig)
			return validation.ValidateStruct(&uc,
				validation.Field(&uc.BaseURL, validation.Required, is.URL),
			)
		})),
		validation.Field(&c.Probe, validation.By(func(value any) error {
			pc, _ := value.(ProbeConfig)
			return validation.ValidateStruct(&pc,
				validation.Field(&pc.Timeout, validation.Required, validation.Min(100*time.Millisecond)),
				validation.Field(&pc.Concurrency, validation.Required, validation.Min(1), validation.Max(256)),
			)
		})),
		validation.Field(&c.Reactivation, validation.By(func(value any) error {
			rc, _ := value.(ReactivationConfig)
			return validation.ValidateStruct(&rc,
				validation.Field(&rc.Mode, validation.Required,
					validation.In(string(model.ReactivationModeInterval), string(model.ReactivationModeScheduled))),
				validation.Field(&rc.Model, validation.Required),
			)
		})),
	)
}

// validateOrigin accepts an origin URL or the "*" wildcard that allows any
// origin.
func validateOrigin(value any) error {
	origin, _ := value.(string)
	if origin == "*" {
		return nil
	}
	return is.URL.Validate(origin)
}

func validateHostPort(value any) error {
	addr, _ := value.(string)
	if _, port, err := net.SplitHostPort(addr); err != nil || port == "" {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}
	return nil
}
