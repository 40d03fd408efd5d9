package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/adrg/xdg"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

const AppName = "wootoff"

// DefaultJitterDivisor sets the jitter of a config that leaves it out to a
// tenth of the interval
const DefaultJitterDivisor = 10

type Config struct {
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`
	Fetcher FetcherConfig `json:"fetcher" yaml:"fetcher"`
	Proxies ProxiesConfig `json:"proxies" yaml:"proxies"`
	Parser  ParserConfig  `json:"parser" yaml:"parser"`
	Notify  NotifyConfig  `json:"notify" yaml:"notify"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	API     APIConfig     `json:"api" yaml:"api"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	filePath string
}

type MonitorConfig struct {
	URL                        string `json:"url" yaml:"url"`
	IntervalSeconds            int    `json:"interval_seconds" yaml:"interval_seconds"`
	JitterSeconds              *int   `json:"jitter_seconds" yaml:"jitter_seconds"`
	NotifyOnPriceChange        bool   `json:"notify_on_price_change" yaml:"notify_on_price_change"`
	ParseFailureAlertThreshold int    `json:"parse_failure_alert_threshold" yaml:"parse_failure_alert_threshold"`
}

type FetcherConfig struct {
	TimeoutMs         int      `json:"timeout_ms" yaml:"timeout_ms"`
	UserAgents        []string `json:"user_agents" yaml:"user_agents"`
	MaxBodyBytes      int64    `json:"max_body_bytes" yaml:"max_body_bytes"`
	RequestsPerMinute int      `json:"requests_per_minute" yaml:"requests_per_minute"`
	DisableBrowserTLS bool     `json:"disable_browser_tls" yaml:"disable_browser_tls"`
}

type ProxiesConfig struct {
	Endpoints        []string      `json:"endpoints" yaml:"endpoints"`
	Sources          []ProxySource `json:"sources" yaml:"sources"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	CooldownSeconds  int           `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	ProbeOnStart     bool          `json:"probe_on_start" yaml:"probe_on_start"`
	ProbeURL         string        `json:"probe_url" yaml:"probe_url"`
	ProbeTimeoutMs   int           `json:"probe_timeout_ms" yaml:"probe_timeout_ms"`
	ProbeConcurrency int           `json:"probe_concurrency" yaml:"probe_concurrency"`
}

// ProxySource is a proxy list: a local file path or an http(s) URL
type ProxySource struct {
	Location string `json:"location" yaml:"location"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

type ParserConfig struct {
	Regions        []RegionConfig `json:"regions" yaml:"regions"`
	TitleSelectors []string       `json:"title_selectors" yaml:"title_selectors"`
	PriceSelectors []string       `json:"price_selectors" yaml:"price_selectors"`
	Markers        []MarkerConfig `json:"markers" yaml:"markers"`
}

// RegionConfig names one anchor strategy: kind is "id", "attr" or "selector"
type RegionConfig struct {
	Kind  string `json:"kind" yaml:"kind"`
	Attr  string `json:"attr,omitempty" yaml:"attr,omitempty"`
	Value string `json:"value" yaml:"value"`
}

type MarkerConfig struct {
	Status   string `json:"status" yaml:"status"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
}

type NotifyConfig struct {
	QueueSize int           `json:"queue_size" yaml:"queue_size"`
	TimeoutMs int           `json:"timeout_ms" yaml:"timeout_ms"`
	Email     EmailConfig   `json:"email" yaml:"email"`
	Webhook   WebhookConfig `json:"webhook" yaml:"webhook"`
	Kafka     KafkaConfig   `json:"kafka" yaml:"kafka"`
	Journal   JournalConfig `json:"journal" yaml:"journal"`
}

type EmailConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Server      string   `json:"server" yaml:"server"`
	Port        int      `json:"port" yaml:"port"`
	From        string   `json:"from" yaml:"from"`
	To          []string `json:"to" yaml:"to"`
	Username    string   `json:"username" yaml:"username"`
	PasswordEnv string   `json:"password_env" yaml:"password_env"`
}

type WebhookConfig struct {
	Enabled bool              `json:"enabled" yaml:"enabled"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type JournalConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type StorageConfig struct {
	Type string `json:"type" yaml:"type"` // "file", "sqlite", "redis"
	Path string `json:"path" yaml:"path"`
}

type APIConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	Addr               string `json:"addr" yaml:"addr"`
	APIKeyEnv          string `json:"api_key_env" yaml:"api_key_env"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	EnableAPIKeyAuth   bool   `json:"enable_api_key_auth" yaml:"enable_api_key_auth"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit" yaml:"enable_ip_rate_limit"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "json" or "text"
}

// Default returns the settings applied to every field left empty by the file
func Default() Config {
	return Config{
		Monitor: MonitorConfig{
			IntervalSeconds:            30,
			ParseFailureAlertThreshold: 3,
		},
		Fetcher: FetcherConfig{
			TimeoutMs:         5000,
			MaxBodyBytes:      5 * 1024 * 1024,
			RequestsPerMinute: 30,
		},
		Proxies: ProxiesConfig{
			FailureThreshold: 3,
			CooldownSeconds:  300,
			ProbeURL:         "https://www.google.com/generate_204",
			ProbeTimeoutMs:   10000,
			ProbeConcurrency: 16,
		},
		Parser: ParserConfig{
			Regions: []RegionConfig{
				{Kind: "selector", Value: "div.productDescription"},
				{Kind: "attr", Attr: "itemtype", Value: "http://schema.org/Product"},
				{Kind: "id", Value: "todays-deal"},
			},
			TitleSelectors: []string{"h2.fn", "[itemprop=name]", "h1", "h2"},
			PriceSelectors: []string{"span.amount", "[itemprop=price]", ".price"},
			Markers: []MarkerConfig{
				{Status: "ENDED", Selector: ".wootoff-ended, #wootOffEnded"},
				{Status: "ENDED", Text: "this woot-off has ended"},
				{Status: "SOLD_OUT", Selector: ".soldOut, .sold-out"},
				{Status: "SOLD_OUT", Text: "sold out"},
				{Status: "ACTIVE", Selector: "a.wantone, .add-to-cart, button[name=buy]"},
			},
		},
		Notify: NotifyConfig{
			QueueSize: 32,
			TimeoutMs: 15000,
			Email: EmailConfig{
				Port:        587,
				PasswordEnv: "WOOTOFF_SMTP_PASSWORD",
			},
			Kafka: KafkaConfig{
				Topic: "wootoff.events",
			},
		},
		Storage: StorageConfig{
			Type: "file",
			Path: filepath.Join(xdg.StateHome, AppName, "events.jsonl"),
		},
		API: APIConfig{
			Addr:               ":8083",
			APIKeyEnv:          "WOOTOFF_API_KEY",
			RateLimitPerMinute: 120,
		},
		Metrics: MetricsConfig{
			Endpoint:  "/metrics",
			Namespace: "wootoff",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Resolve returns the explicit path, or the first wootoff config found in the
// XDG config directories
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, name := range []string{"config.json", "config.yaml", "config.yml", "config.json5"} {
		if path, err := xdg.SearchConfigFile(filepath.Join(AppName, name)); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file found in %s", filepath.Join(xdg.ConfigHome, AppName))
}

// Load reads configuration from a JSON, YAML or JSON5 file
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(filePath))
	if err != nil {
		return nil, err
	}
	cfg.filePath = filePath
	return cfg, nil
}

// Parse decodes config data; ext selects the format (".yaml", ".yml", ".json5",
// anything else is JSON)
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case ".json5":
		if err := json5.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON5: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	// Set defaults
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	// an explicit 0 disables jitter, so only an absent key gets the default
	if cfg.Monitor.JitterSeconds == nil {
		jitter := cfg.Monitor.IntervalSeconds / DefaultJitterDivisor
		cfg.Monitor.JitterSeconds = &jitter
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.filePath
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Monitor.URL == "" {
		return fmt.Errorf("monitor.url is required")
	}
	if !strings.HasPrefix(c.Monitor.URL, "http://") && !strings.HasPrefix(c.Monitor.URL, "https://") {
		return fmt.Errorf("monitor.url must be an http(s) URL")
	}
	if c.Monitor.IntervalSeconds < 1 {
		return fmt.Errorf("monitor.interval_seconds must be at least 1")
	}
	jitter := c.Monitor.jitterSeconds()
	if jitter < 0 || jitter*2 > c.Monitor.IntervalSeconds {
		return fmt.Errorf("monitor.jitter_seconds must be between 0 and half of interval_seconds")
	}
	if c.Fetcher.TimeoutMs < 100 || c.Fetcher.TimeoutMs > 120000 {
		return fmt.Errorf("fetcher.timeout_ms must be between 100 and 120000")
	}
	// one fetch per cycle must never wait on the limiter
	if rpm := c.Fetcher.RequestsPerMinute; rpm > 0 {
		shortest := c.Monitor.IntervalSeconds - jitter
		if minRPM := (60 + shortest - 1) / shortest; rpm < minRPM {
			return fmt.Errorf("fetcher.requests_per_minute must be at least %d for a %ds interval", minRPM, c.Monitor.IntervalSeconds)
		}
	}
	if len(c.Proxies.Endpoints) == 0 && !c.hasEnabledSource() {
		return fmt.Errorf("proxies: at least one endpoint or enabled source is required")
	}
	for _, r := range c.Parser.Regions {
		switch r.Kind {
		case "id", "selector":
		case "attr":
			if r.Attr == "" {
				return fmt.Errorf("parser region of kind attr needs attr")
			}
		default:
			return fmt.Errorf("parser region kind must be 'id', 'attr' or 'selector', got %q", r.Kind)
		}
	}
	for _, m := range c.Parser.Markers {
		if m.Selector == "" && m.Text == "" {
			return fmt.Errorf("parser marker for %s needs a selector or text", m.Status)
		}
	}
	if c.Storage.Type != "file" && c.Storage.Type != "sqlite" && c.Storage.Type != "redis" {
		return fmt.Errorf("storage type must be 'file', 'sqlite', or 'redis'")
	}
	if c.Notify.Email.Enabled && (c.Notify.Email.Server == "" || len(c.Notify.Email.To) == 0) {
		return fmt.Errorf("notify.email needs server and at least one recipient")
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url is required when enabled")
	}
	if c.Notify.Kafka.Enabled && len(c.Notify.Kafka.Brokers) == 0 {
		return fmt.Errorf("notify.kafka.brokers is required when enabled")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}
	return nil
}

func (c *Config) hasEnabledSource() bool {
	for _, s := range c.Proxies.Sources {
		if s.Enabled {
			return true
		}
	}
	return false
}

func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

func (m MonitorConfig) Jitter() time.Duration {
	return time.Duration(m.jitterSeconds()) * time.Second
}

func (m MonitorConfig) jitterSeconds() int {
	if m.JitterSeconds == nil {
		return 0
	}
	return *m.JitterSeconds
}

func (f FetcherConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutMs) * time.Millisecond
}

func (n NotifyConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

func (p ProxiesConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

func (p ProxiesConfig) ProbeTimeout() time.Duration {
	return time.Duration(p.ProbeTimeoutMs) * time.Millisecond
}
