package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultConfigPath = "./config.yaml"

	DefaultRetryCount     = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultQueueSize      = 1000
	DefaultQueueWorkers   = 1
	DefaultListenAddress  = ":8080"
	DefaultReviewInterval = time.Minute
	DefaultReviewTimeout  = 30 * time.Second
	DefaultSenderName     = "Task Tracker"

	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
)

type Frontend struct {
	BaseURL string `yaml:"baseURL"`
	// BrandingName is shown in mail footers and used as the sender display name
	// when mail.senderName is empty.
	BrandingName string `yaml:"brandingName"`
}

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRS to trust for X-Forwarded-For headers
}

// Mail configures the dispatcher and the ordered list of relay transports.
// Durations are Go duration strings ("1s", "500ms").
type Mail struct {
	SenderAddress  string `yaml:"senderAddress"`
	SenderName     string `yaml:"senderName"`
	RetryCount     int    `yaml:"retryCount"`
	InitialBackoff string `yaml:"initialBackoff"`
	MaxBackoff     string `yaml:"maxBackoff"`
	// BackoffStrategy is "exponential" (initialBackoff doubled per retry) or
	// "linear" (initialBackoff times the retry number). Both are capped at maxBackoff.
	BackoffStrategy string          `yaml:"backoffStrategy"`
	QueueSize       int             `yaml:"queueSize"`
	QueueWorkers    int             `yaml:"queueWorkers"`
	Transports      []TransportSpec `yaml:"transports"`
}

type Auth struct {
	// Disabled turns the bearer token middleware into a pass-through (local development only).
	Disabled bool `yaml:"disabled"`
	// SecretEnv names the environment variable holding the HMAC signing secret.
	SecretEnv string `yaml:"secretEnv"`
}

type Review struct {
	Enabled    bool   `yaml:"enabled"`
	FlagFile   string `yaml:"flagFile"`
	TriggerURL string `yaml:"triggerURL"`
	Timeout    string `yaml:"timeout"`
	Interval   string `yaml:"interval"`
	// ExactMinute only fires when the wall clock matches reviewTime to the minute.
	// The default fires on the first tick at or after reviewTime that has not run today.
	ExactMinute bool `yaml:"exactMinute"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Frontend Frontend `yaml:"frontend"`
	Mail     Mail     `yaml:"mail"`
	Auth     Auth     `yaml:"auth"`
	Review   Review   `yaml:"review"`
}

// Load loads the taskmail configuration from a file path.
// If configPath is empty, defaults to "./config.yaml".
func Load(configPath ...string) (Config, error) {
	path := DefaultConfigPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open taskmail config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	return config, nil
}

// Defaults fills unset values in place.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}
	if c.Mail.RetryCount <= 0 {
		c.Mail.RetryCount = DefaultRetryCount
	}
	if c.Mail.InitialBackoff == "" {
		c.Mail.InitialBackoff = DefaultInitialBackoff.String()
	}
	if c.Mail.MaxBackoff == "" {
		c.Mail.MaxBackoff = DefaultMaxBackoff.String()
	}
	if c.Mail.BackoffStrategy == "" {
		c.Mail.BackoffStrategy = BackoffExponential
	}
	if c.Mail.QueueSize <= 0 {
		c.Mail.QueueSize = DefaultQueueSize
	}
	if c.Mail.QueueWorkers <= 0 {
		c.Mail.QueueWorkers = DefaultQueueWorkers
	}
	if c.Mail.SenderName == "" {
		c.Mail.SenderName = c.Frontend.BrandingName
	}
	if c.Mail.SenderName == "" {
		c.Mail.SenderName = DefaultSenderName
	}
	if c.Auth.SecretEnv == "" {
		c.Auth.SecretEnv = "TASKMAIL_JWT_SECRET"
	}
	if c.Review.Timeout == "" {
		c.Review.Timeout = DefaultReviewTimeout.String()
	}
	if c.Review.Interval == "" {
		c.Review.Interval = DefaultReviewInterval.String()
	}
	for i := range c.Mail.Transports {
		c.Mail.Transports[i].defaults(i)
	}
}

// Validate reports every structural problem found in the configuration.
// It deliberately does not check that security mode and port agree.
func (c Config) Validate() error {
	var errs []error
	if len(c.Mail.Transports) == 0 {
		errs = append(errs, errors.New("mail.transports: at least one transport is required"))
	}
	if c.Mail.SenderAddress == "" {
		errs = append(errs, errors.New("mail.senderAddress is required"))
	}
	switch c.Mail.BackoffStrategy {
	case "", BackoffExponential, BackoffLinear:
	default:
		errs = append(errs, fmt.Errorf("mail.backoffStrategy: unknown strategy %q", c.Mail.BackoffStrategy))
	}
	for _, field := range []struct{ name, value string }{
		{"mail.initialBackoff", c.Mail.InitialBackoff},
		{"mail.maxBackoff", c.Mail.MaxBackoff},
		{"review.timeout", c.Review.Timeout},
		{"review.interval", c.Review.Interval},
	} {
		if _, err := parseDuration(field.value, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}
	seen := map[string]bool{}
	for i, t := range c.Mail.Transports {
		if err := t.validate(); err != nil {
			errs = append(errs, fmt.Errorf("mail.transports[%d]: %w", i, err))
		}
		if t.Name != "" && seen[t.Name] {
			errs = append(errs, fmt.Errorf("mail.transports[%d]: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = true
	}
	if c.Review.Enabled {
		if c.Review.FlagFile == "" {
			errs = append(errs, errors.New("review.flagFile is required when review is enabled"))
		}
		if c.Review.TriggerURL == "" {
			errs = append(errs, errors.New("review.triggerURL is required when review is enabled"))
		}
	}
	return errors.Join(errs...)
}

// InitialBackoffDuration returns the parsed mail.initialBackoff.
func (c Config) InitialBackoffDuration() time.Duration {
	d, _ := parseDuration(c.Mail.InitialBackoff, DefaultInitialBackoff)
	return d
}

// MaxBackoffDuration returns the parsed mail.maxBackoff.
func (c Config) MaxBackoffDuration() time.Duration {
	d, _ := parseDuration(c.Mail.MaxBackoff, DefaultMaxBackoff)
	return d
}

func (c Config) ReviewTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.Review.Timeout, DefaultReviewTimeout)
	return d
}

func (c Config) ReviewIntervalDuration() time.Duration {
	d, _ := parseDuration(c.Review.Interval, DefaultReviewInterval)
	return d
}

// JWTSecret reads the token signing secret from the environment.
func (c Config) JWTSecret() string {
	return strings.TrimSpace(os.Getenv(c.Auth.SecretEnv))
}

// ConfigurationSet resolves the transport specs (including their env-sourced
// secrets) into the ordered runtime Configuration Set.
func (c Config) ConfigurationSet() (*ConfigurationSet, error) {
	configs := make([]TransportConfig, 0, len(c.Mail.Transports))
	for i, spec := range c.Mail.Transports {
		tc, err := spec.toRuntimeConfig()
		if err != nil {
			return nil, fmt.Errorf("mail.transports[%d]: %w", i, err)
		}
		configs = append(configs, tc)
	}
	return NewConfigurationSet(configs)
}

func parseDuration(value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def, err
	}
	if d < 0 {
		return def, fmt.Errorf("negative duration %q", value)
	}
	return d, nil
}
