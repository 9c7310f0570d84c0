package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const DefaultOfficerID = "OFFICER_001"

type Config struct {
	ListenAddress string `yaml:"listen_address"`
	MetricsPath   string `yaml:"metrics_path"`

	APIURL    string `yaml:"api_url"`
	PushURL   string `yaml:"push_url"`
	UserAgent string `yaml:"user_agent"`
	OfficerID string `yaml:"officer_id"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	SOSPollInterval time.Duration `yaml:"sos_poll_interval"`
	// RequestTimeout bounds every platform request. Zero means PollInterval.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	AlertWindow    time.Duration `yaml:"alert_window"`
	NotifyInterval time.Duration `yaml:"notify_interval"`
	NotifyBurst    int           `yaml:"notify_burst"`
	DedupTTL       time.Duration `yaml:"dedup_ttl"`
	FeedSize       int           `yaml:"feed_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ConfigFile string `yaml:"-"`
}

func Default() Config {
	return Config{
		ListenAddress:   ":9880",
		MetricsPath:     "/metrics",
		APIURL:          "http://localhost:8000/api/",
		PushURL:         "ws://localhost:8000/ws",
		UserAgent:       "junction-console/1.0",
		OfficerID:       DefaultOfficerID,
		PollInterval:    5 * time.Second,
		SOSPollInterval: 5 * time.Second,
		AlertWindow:     5 * time.Second,
		NotifyInterval:  2 * time.Second,
		NotifyBurst:     3,
		DedupTTL:        10 * time.Minute,
		FeedSize:        50,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func bind(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Optional YAML config file; flags set on the command line override it")
	fs.StringVar(&cfg.ListenAddress, "listen-address", cfg.ListenAddress, "Address the console listens on")
	fs.StringVar(&cfg.MetricsPath, "metrics-path", cfg.MetricsPath, "Path to expose Prometheus metrics")
	fs.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "Base URL of the traffic platform API")
	fs.StringVar(&cfg.PushURL, "push-url", cfg.PushURL, "Websocket URL of the alert push channel; empty disables push")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header sent to the platform")
	fs.StringVar(&cfg.OfficerID, "officer-id", cfg.OfficerID, "Officer id recorded on status changes")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "How often to refresh junction and vehicle telemetry")
	fs.DurationVar(&cfg.SOSPollInterval, "sos-poll-interval", cfg.SOSPollInterval, "How often to refresh the active SOS list")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Timeout for each platform request (default: poll interval)")
	fs.DurationVar(&cfg.AlertWindow, "alert-window", cfg.AlertWindow, "How long the new alert indicator stays raised after the latest alert")
	fs.DurationVar(&cfg.NotifyInterval, "notify-interval", cfg.NotifyInterval, "Minimum spacing of alert notifications once the burst is used")
	fs.IntVar(&cfg.NotifyBurst, "notify-burst", cfg.NotifyBurst, "Alert notifications allowed back to back")
	fs.DurationVar(&cfg.DedupTTL, "dedup-ttl", cfg.DedupTTL, "How long an alert id suppresses repeat notifications")
	fs.IntVar(&cfg.FeedSize, "feed-size", cfg.FeedSize, "Notifications kept for the dashboard feed")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
}

// ParseFlags builds the configuration from defaults, the optional config
// file and args, in increasing precedence. It returns pflag.ErrHelp when
// help was requested.
func ParseFlags(name string, args []string) (Config, error) {
	probe := Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	bind(fs, &probe)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if probe.ConfigFile != "" {
		loaded, err := Load(probe.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	// Second pass: only flags given on the command line move away from the
	// file's values.
	fs = pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bind(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ConfigFile = path
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll-interval must be > 0"))
	}
	if c.SOSPollInterval <= 0 {
		errs = append(errs, errors.New("sos-poll-interval must be > 0"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request-timeout must be >= 0"))
	}
	if c.AlertWindow <= 0 {
		errs = append(errs, errors.New("alert-window must be > 0"))
	}
	if c.NotifyInterval < 0 {
		errs = append(errs, errors.New("notify-interval must be >= 0"))
	}
	if c.NotifyBurst <= 0 {
		errs = append(errs, errors.New("notify-burst must be > 0"))
	}
	if strings.TrimSpace(c.OfficerID) == "" {
		errs = append(errs, errors.New("officer-id must not be empty"))
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		errs = append(errs, errors.New("metrics-path must start with /"))
	}
	if err := checkURL(c.APIURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("api-url: %w", err))
	}
	if c.PushURL != "" {
		if err := checkURL(c.PushURL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("push-url: %w", err))
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log-level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log-format %q is not one of text, json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Timeout is the per-request timeout actually applied.
func (c Config) Timeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return c.PollInterval
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %s URL", raw, strings.Join(schemes, " or "))
}
