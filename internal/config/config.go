package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"hotel-cache-loss/internal/logging"
	"hotel-cache-loss/internal/simulator"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Simulation simulator.Config `mapstructure:"simulation"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// BatchConfig locates the input files and sizes the worker pool.
type BatchConfig struct {
	VendorsDir            string  `mapstructure:"vendors_dir"`
	TiersDir              string  `mapstructure:"tiers_dir"`
	Workers               int     `mapstructure:"workers"`
	DefaultRefreshMinutes float64 `mapstructure:"default_refresh_minutes"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN              string        `mapstructure:"dsn"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	ApplicationName  string        `mapstructure:"application_name"`
	AutoMigrate      bool          `mapstructure:"auto_migrate"`
	Retention        time.Duration `mapstructure:"retention"`
}

// SchedulerConfig governs how often the loss run repeats in service mode.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// AlertingConfig defines the loss threshold and routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	ThresholdLoss float64        `mapstructure:"threshold_loss"`
	TopVendors    int            `mapstructure:"top_vendors"`
	Channels      []string       `mapstructure:"channels"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	CSVPath    string `mapstructure:"csv_path"`
	PNGPath    string `mapstructure:"png_path"`
	TopVendors int    `mapstructure:"top_vendors"`
}

// MetricsConfig controls the Prometheus endpoint served in service mode.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CACHELOSS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	sim := simulator.DefaultConfig()

	v.SetDefault("app.name", "cacheloss")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("simulation.real_conversion_rate", sim.RealConversionRate)
	v.SetDefault("simulation.higher_price_conversion_rate", sim.HigherPriceConversionRate)
	v.SetDefault("simulation.commission_rate", sim.CommissionRate)
	v.SetDefault("simulation.skip_threshold_seconds", sim.SkipThresholdSeconds)
	v.SetDefault("simulation.price_outlier_multiplier", sim.PriceOutlierMultiplier)

	v.SetDefault("batch.vendors_dir", "all_combos_and_timelines")
	v.SetDefault("batch.tiers_dir", "clustered_data_by_vendor_ttt_los")
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.default_refresh_minutes", 250.0)

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63616368))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_loss", 10.0)
	v.SetDefault("alerting.top_vendors", 5)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.top_vendors", 10)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")
	v.SetDefault("metrics.namespace", "cacheloss")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.statement_timeout", "60s")
	v.SetDefault("database.application_name", "cacheloss")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.retention", "0s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return err
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be greater than zero")
	}
	if c.Batch.DefaultRefreshMinutes <= 0 {
		return fmt.Errorf("batch.default_refresh_minutes must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.TopVendors <= 0 {
		return fmt.Errorf("export.top_vendors must be greater than zero")
	}
	if c.Alerting.ThresholdLoss < 0 {
		return fmt.Errorf("alerting.threshold_loss cannot be negative")
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention cannot be negative")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveTopVendors returns either the CLI override or config default.
func (c *Config) ResolveTopVendors(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.TopVendors
}
