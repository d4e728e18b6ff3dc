// Package config loads daemon settings from flags, the environment, and
// the TOML config file, in that order of precedence.
package config

import (
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName    = "finshlink"
	configType    = "toml"
	configPath    = "/etc"
	envPrefix     = "FINSHLINK"
	envConfigFile = "FINSHLINK_CONFIG"
)

type WeatherSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	APIKey     string `mapstructure:"api_key"`
	Host       string `mapstructure:"host"`
	City       string `mapstructure:"city"`
	RefreshMin int    `mapstructure:"refresh_min"`
}

type StockSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppKey     string `mapstructure:"app_key"`
	Sign       string `mapstructure:"sign"`
	Host       string `mapstructure:"host"`
	Index      string `mapstructure:"index"`
	RefreshMin int    `mapstructure:"refresh_min"`
}

type Config struct {
	Device            string `mapstructure:"device"`
	BaudRate          int    `mapstructure:"baud_rate"`
	AutoConnect       bool   `mapstructure:"auto_connect"`
	IntervalMs        int    `mapstructure:"interval_ms"`
	ResponseTimeoutMs int    `mapstructure:"response_timeout_ms"`
	MaxRetries        int    `mapstructure:"max_retries"`
	HistorySize       int    `mapstructure:"history_size"`
	GPUIndex          int    `mapstructure:"gpu_index"`
	Debug             bool   `mapstructure:"debug"`
	Verbose           bool   `mapstructure:"verbose"`
	Telemetry         bool   `mapstructure:"telemetry"`
	TelemetryDBPath   string `mapstructure:"telemetry_db_path"`
	StatusAddr        string `mapstructure:"status_addr"`

	Weather WeatherSettings `mapstructure:"weather"`
	Stock   StockSettings   `mapstructure:"stock"`
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device", "")
	v.SetDefault("baud_rate", 1000000)
	v.SetDefault("auto_connect", true)
	v.SetDefault("interval_ms", 1000)
	v.SetDefault("response_timeout_ms", 500)
	v.SetDefault("max_retries", 2)
	v.SetDefault("history_size", 256)
	v.SetDefault("gpu_index", 0)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("telemetry", false)
	v.SetDefault("telemetry_db_path", "/var/lib/finshlink/telemetry.db")
	v.SetDefault("status_addr", "127.0.0.1:9360")

	v.SetDefault("weather.enabled", false)
	v.SetDefault("weather.city", "beijing")
	v.SetDefault("weather.refresh_min", 10)

	v.SetDefault("stock.enabled", false)
	v.SetDefault("stock.index", "1010")
	v.SetDefault("stock.refresh_min", 30)
}

// Load builds the configuration from args, the environment, and the
// config file. args excludes the program name, as in os.Args[1:].
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	configFile := fs.String("config", "", "Path to config file")
	fs.String("device", "", "Serial device path")
	fs.Int("baud-rate", 1000000, "Serial baud rate")
	fs.Bool("auto-connect", true, "Connect to the device on startup")
	fs.Int("interval-ms", 1000, "Dispatch interval in milliseconds")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.Bool("telemetry", false, "Persist dispatch outcomes to sqlite")
	fs.String("status-addr", "127.0.0.1:9360", "Status API listen address")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(ErrInvalidFlagUsage, err)
	}

	v := viper.New()
	setDefaults(v)

	// Flag names use dashes, keys use underscores
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key := flagKey(f.Name)
		if err := v.BindPFlag(key, f); err == nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	})

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	switch {
	case *configFile != "":
		v.SetConfigFile(*configFile)
	case os.Getenv(envConfigFile) != "":
		v.SetConfigFile(os.Getenv(envConfigFile))
	default:
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		explicit := *configFile != "" || os.Getenv(envConfigFile) != ""
		// An explicit config file must exist; the default path need not
		if explicit || !notFound {
			return nil, errFactory.Wrap(ErrReadFailed, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(ErrUnmarshalFailed, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the daemon cannot run with
func Validate(cfg *Config) error {
	if cfg.BaudRate <= 0 {
		return errFactory.WithData(ErrInvalidBaudRate, cfg.BaudRate)
	}
	if cfg.IntervalMs < 100 {
		return errFactory.WithData(ErrInvalidInterval, cfg.IntervalMs)
	}
	if cfg.ResponseTimeoutMs <= 0 || cfg.ResponseTimeoutMs > cfg.IntervalMs {
		return errFactory.WithData(ErrInvalidTimeout, cfg.ResponseTimeoutMs)
	}
	if cfg.MaxRetries < 0 {
		return errFactory.WithData(ErrInvalidRetries, cfg.MaxRetries)
	}
	if cfg.AutoConnect && cfg.Device == "" {
		return errFactory.New(ErrMissingDevice)
	}
	if cfg.Telemetry && cfg.TelemetryDBPath == "" {
		return errFactory.New(ErrMissingDBPath)
	}

	return nil
}

func flagKey(name string) string {
	out := []byte(name)
	for i, c := range out {
		if c == '-' {
			out[i] = '_'
		}
	}

	return string(out)
}
