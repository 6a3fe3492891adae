package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/taskmail/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name               string
		configContent      string
		path               string
		expectedListenAddr string
		expectedTransports int
		expectError        bool
	}{
		{
			name: "valid config with two transports",
			configContent: `
server:
  listenAddress: ":8080"
frontend:
  baseURL: "http://localhost:3000"
mail:
  senderAddress: "noreply@example.com"
  transports:
    - name: primary
      host: smtp.example.com
      port: 465
      security: tls
      username: mailer@example.com
    - name: backup
      host: smtp.backup.example.com
      port: 587
`,
			expectedListenAddr: ":8080",
			expectedTransports: 2,
		},
		{
			name: "minimal config",
			configContent: `
server:
  listenAddress: ":3000"
mail:
  transports:
    - host: localhost
      port: 25
`,
			expectedListenAddr: ":3000",
			expectedTransports: 1,
		},
		{
			name:          "invalid YAML",
			configContent: `invalid: yaml: content [`,
			expectError:   true,
		},
		{
			name:        "file not found",
			path:        "/nonexistent/path/config.yaml",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if tt.configContent != "" {
				path = writeConfig(t, tt.configContent)
			}

			cfg, err := config.Load(path)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedListenAddr, cfg.Server.ListenAddress)
			assert.Len(t, cfg.Mail.Transports, tt.expectedTransports)
		})
	}
}

func TestLoadDefaultPath(t *testing.T) {
	// ./config.yaml does not exist in the package directory
	_, err := config.Load()
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg := config.Config{
		Frontend: config.Frontend{BrandingName: "Tracker"},
		Mail: config.Mail{
			Transports: []config.TransportSpec{{Host: "smtp.example.com", Port: 587}},
		},
	}
	cfg.Defaults()

	assert.Equal(t, config.DefaultListenAddress, cfg.Server.ListenAddress)
	assert.Equal(t, config.DefaultRetryCount, cfg.Mail.RetryCount)
	assert.Equal(t, config.DefaultQueueSize, cfg.Mail.QueueSize)
	assert.Equal(t, config.DefaultQueueWorkers, cfg.Mail.QueueWorkers)
	assert.Equal(t, "Tracker", cfg.Mail.SenderName)
	assert.Equal(t, time.Second, cfg.InitialBackoffDuration())
	assert.Equal(t, 30*time.Second, cfg.MaxBackoffDuration())
	assert.Equal(t, time.Minute, cfg.ReviewIntervalDuration())
	assert.Equal(t, "TASKMAIL_JWT_SECRET", cfg.Auth.SecretEnv)
	assert.Equal(t, config.BackoffExponential, cfg.Mail.BackoffStrategy)

	tr := cfg.Mail.Transports[0]
	assert.Equal(t, "transport-0", tr.Name)
	assert.Equal(t, config.SecurityStartTLS, tr.Security)
	assert.Equal(t, "10s", tr.ConnectionTimeout)
	assert.Equal(t, "30s", tr.SocketTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Config{
			Mail: config.Mail{
				SenderAddress: "noreply@example.com",
				Transports: []config.TransportSpec{
					{Name: "primary", Host: "smtp.example.com", Port: 465, Security: config.SecurityTLS},
				},
			},
		}
		cfg.Defaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{
			name:    "no transports",
			mutate:  func(c *config.Config) { c.Mail.Transports = nil },
			wantErr: "at least one transport",
		},
		{
			name:    "missing sender",
			mutate:  func(c *config.Config) { c.Mail.SenderAddress = "" },
			wantErr: "senderAddress",
		},
		{
			name:    "unknown backoff strategy",
			mutate:  func(c *config.Config) { c.Mail.BackoffStrategy = "fibonacci" },
			wantErr: "mail.backoffStrategy",
		},
		{
			name:   "linear backoff",
			mutate: func(c *config.Config) { c.Mail.BackoffStrategy = config.BackoffLinear },
		},
		{
			name:    "bad port",
			mutate:  func(c *config.Config) { c.Mail.Transports[0].Port = 0 },
			wantErr: "invalid port",
		},
		{
			name:    "unknown security",
			mutate:  func(c *config.Config) { c.Mail.Transports[0].Security = "ssl3" },
			wantErr: "unknown security mode",
		},
		{
			name:    "bad timeout",
			mutate:  func(c *config.Config) { c.Mail.Transports[0].SocketTimeout = "forever" },
			wantErr: "socketTimeout",
		},
		{
			name: "duplicate names",
			mutate: func(c *config.Config) {
				c.Mail.Transports = append(c.Mail.Transports, c.Mail.Transports[0])
			},
			wantErr: "duplicate name",
		},
		{
			name: "review enabled without flag file",
			mutate: func(c *config.Config) {
				c.Review.Enabled = true
				c.Review.TriggerURL = "http://localhost/review"
			},
			wantErr: "review.flagFile",
		},
		{
			name: "tls on the starttls port is accepted",
			mutate: func(c *config.Config) {
				c.Mail.Transports[0].Port = 587
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigurationSetFromConfig(t *testing.T) {
	t.Setenv("PRIMARY_SMTP_PASSWORD", "s3cret")
	t.Setenv("TASKMAIL_SMTP_BACKUP_RELAY_PASSWORD", "other")

	cfg := config.Config{
		Mail: config.Mail{
			SenderAddress: "noreply@example.com",
			Transports: []config.TransportSpec{
				{Name: "primary", Host: "smtp.example.com", Port: 465, Security: config.SecurityTLS, Username: "u", PasswordEnv: "PRIMARY_SMTP_PASSWORD", ConnectionTimeout: "2s"},
				{Name: "backup-relay", Host: "relay.internal", Port: 25, Security: config.SecurityNone, Username: "relay"},
				{Name: "anonymous", Host: "relay2.internal", Port: 25, Security: config.SecurityNone},
			},
		},
	}
	cfg.Defaults()

	set, err := cfg.ConfigurationSet()
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())
	assert.Equal(t, []string{"primary", "backup-relay", "anonymous"}, set.Names())

	primary := set.Get(0)
	assert.Equal(t, "s3cret", primary.Password)
	assert.Equal(t, 2*time.Second, primary.ConnectionTimeout)
	assert.Equal(t, config.DefaultSocketTimeout, primary.SocketTimeout)
	assert.Equal(t, "smtp.example.com:465", primary.Address())
	assert.NotContains(t, primary.String(), "s3cret")

	assert.Equal(t, "other", set.Get(1).Password)
	assert.False(t, set.Get(2).HasCredentials())
	assert.Empty(t, set.Get(2).Password)
}

func TestConfigurationSetMissingPasswordEnv(t *testing.T) {
	cfg := config.Config{
		Mail: config.Mail{
			Transports: []config.TransportSpec{
				{Name: "primary", Host: "smtp.example.com", Port: 465, PasswordEnv: "TASKMAIL_TEST_UNSET_PASSWORD"},
			},
		},
	}
	cfg.Defaults()

	_, err := cfg.ConfigurationSet()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TASKMAIL_TEST_UNSET_PASSWORD")
}
