package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// SecurityMode selects how the connection to a relay is secured.
type SecurityMode string

const (
	// SecurityTLS wraps the connection in TLS before the SMTP greeting (implicit TLS, usually port 465).
	SecurityTLS SecurityMode = "tls"
	// SecurityStartTLS upgrades a plain connection with STARTTLS (usually port 587).
	SecurityStartTLS SecurityMode = "starttls"
	// SecurityNone sends in plain text (internal relays only).
	SecurityNone SecurityMode = "none"
)

const (
	DefaultConnectionTimeout = 10 * time.Second
	DefaultGreetingTimeout   = 10 * time.Second
	DefaultSocketTimeout     = 30 * time.Second
)

func (m SecurityMode) Valid() bool {
	switch m {
	case SecurityTLS, SecurityStartTLS, SecurityNone:
		return true
	}
	return false
}

// TransportSpec is one entry of mail.transports as written in the YAML file.
type TransportSpec struct {
	Name     string       `yaml:"name"`
	Host     string       `yaml:"host"`
	Port     int          `yaml:"port"`
	Security SecurityMode `yaml:"security"`

	Username    string `yaml:"username"`
	UsernameEnv string `yaml:"usernameEnv"`
	// PasswordEnv names the environment variable holding the relay password.
	// Passwords are never read from the file itself.
	PasswordEnv string `yaml:"passwordEnv"`

	InsecureSkipVerify   bool   `yaml:"insecureSkipVerify"`
	CertificateAuthority string `yaml:"certificateAuthority"`

	ConnectionTimeout string `yaml:"connectionTimeout"`
	GreetingTimeout   string `yaml:"greetingTimeout"`
	SocketTimeout     string `yaml:"socketTimeout"`
}

func (s *TransportSpec) defaults(index int) {
	if s.Name == "" {
		s.Name = fmt.Sprintf("transport-%d", index)
	}
	if s.Security == "" {
		s.Security = SecurityStartTLS
	}
	s.Security = SecurityMode(strings.ToLower(string(s.Security)))
	if s.ConnectionTimeout == "" {
		s.ConnectionTimeout = DefaultConnectionTimeout.String()
	}
	if s.GreetingTimeout == "" {
		s.GreetingTimeout = DefaultGreetingTimeout.String()
	}
	if s.SocketTimeout == "" {
		s.SocketTimeout = DefaultSocketTimeout.String()
	}
}

func (s TransportSpec) validate() error {
	var errs []error
	if s.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", s.Port))
	}
	if s.Security != "" && !SecurityMode(strings.ToLower(string(s.Security))).Valid() {
		errs = append(errs, fmt.Errorf("unknown security mode %q", s.Security))
	}
	for _, d := range []struct{ name, value string }{
		{"connectionTimeout", s.ConnectionTimeout},
		{"greetingTimeout", s.GreetingTimeout},
		{"socketTimeout", s.SocketTimeout},
	} {
		if _, err := parseDuration(d.value, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}
	return errors.Join(errs...)
}

// PasswordEnvKey returns the environment variable the password is read from:
// passwordEnv when set, otherwise TASKMAIL_SMTP_<NAME>_PASSWORD.
func (s TransportSpec) PasswordEnvKey() string {
	if s.PasswordEnv != "" {
		return s.PasswordEnv
	}
	return "TASKMAIL_SMTP_" + envName(s.Name) + "_PASSWORD"
}

func (s TransportSpec) toRuntimeConfig() (TransportConfig, error) {
	cfg := TransportConfig{
		Name:                 s.Name,
		Host:                 s.Host,
		Port:                 s.Port,
		Security:             s.Security,
		Username:             s.Username,
		InsecureSkipVerify:   s.InsecureSkipVerify,
		CertificateAuthority: s.CertificateAuthority,
	}
	if cfg.Security == "" {
		cfg.Security = SecurityStartTLS
	}
	if s.UsernameEnv != "" {
		v, ok := os.LookupEnv(s.UsernameEnv)
		if !ok {
			return cfg, fmt.Errorf("username env %s is not set", s.UsernameEnv)
		}
		cfg.Username = v
	}

	key := s.PasswordEnvKey()
	if v, ok := os.LookupEnv(key); ok {
		cfg.Password = v
	} else if s.PasswordEnv != "" {
		return cfg, fmt.Errorf("password env %s is not set", s.PasswordEnv)
	}

	var err error
	if cfg.ConnectionTimeout, err = parseDuration(s.ConnectionTimeout, DefaultConnectionTimeout); err != nil {
		return cfg, fmt.Errorf("connectionTimeout: %w", err)
	}
	if cfg.GreetingTimeout, err = parseDuration(s.GreetingTimeout, DefaultGreetingTimeout); err != nil {
		return cfg, fmt.Errorf("greetingTimeout: %w", err)
	}
	if cfg.SocketTimeout, err = parseDuration(s.SocketTimeout, DefaultSocketTimeout); err != nil {
		return cfg, fmt.Errorf("socketTimeout: %w", err)
	}
	return cfg, nil
}

// TransportConfig is the runtime form of one relay configuration. It is
// immutable for the lifetime of the process.
type TransportConfig struct {
	Name     string
	Host     string
	Port     int
	Security SecurityMode

	Username string
	Password string

	InsecureSkipVerify   bool
	CertificateAuthority string

	ConnectionTimeout time.Duration
	GreetingTimeout   time.Duration
	SocketTimeout     time.Duration
}

// Address returns host:port.
func (c TransportConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HasCredentials reports whether SMTP AUTH should be attempted.
func (c TransportConfig) HasCredentials() bool {
	return c.Username != ""
}

// TLSConfig returns TLS configuration for the relay
func (c TransportConfig) TLSConfig() *tls.Config {
	tlsConfig := &tls.Config{
		ServerName:         c.Host,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in per transport for internal relays
		MinVersion:         tls.VersionTLS12,
	}

	if c.CertificateAuthority != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.CertificateAuthority)); ok {
			tlsConfig.RootCAs = certPool
		}
		// If parsing fails, we'll fall back to system certificates
	}

	return tlsConfig
}

// String never includes the password.
func (c TransportConfig) String() string {
	return fmt.Sprintf("%s (%s, %s)", c.Name, c.Address(), c.Security)
}

func envName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
