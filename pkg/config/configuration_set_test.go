package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigurationSetRejectsEmpty(t *testing.T) {
	_, err := NewConfigurationSet(nil)
	assert.ErrorIs(t, err, ErrEmptyConfigurationSet)
}

func TestConfigurationSetGetClamps(t *testing.T) {
	set, err := NewConfigurationSet([]TransportConfig{
		{Name: "c0", Host: "a", Port: 25},
		{Name: "c1", Host: "b", Port: 25},
		{Name: "c2", Host: "c", Port: 25},
	})
	require.NoError(t, err)

	tests := []struct {
		index int
		want  string
	}{
		{-5, "c0"},
		{0, "c0"},
		{1, "c1"},
		{2, "c2"},
		{3, "c2"},
		{100, "c2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, set.Get(tt.index).Name, "index %d", tt.index)
	}
}

func TestConfigurationSetIsImmutable(t *testing.T) {
	configs := []TransportConfig{{Name: "c0", Host: "a", Port: 25}}
	set, err := NewConfigurationSet(configs)
	require.NoError(t, err)

	configs[0].Name = "changed"
	assert.Equal(t, "c0", set.Get(0).Name)
}

func TestTLSConfig(t *testing.T) {
	c := TransportConfig{Host: "smtp.example.com", InsecureSkipVerify: true, CertificateAuthority: "not a pem"}
	tlsCfg := c.TLSConfig()
	assert.Equal(t, "smtp.example.com", tlsCfg.ServerName)
	assert.True(t, tlsCfg.InsecureSkipVerify)
	assert.Nil(t, tlsCfg.RootCAs, "unparseable CA falls back to system roots")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "BACKUP_RELAY_2", envName("backup-relay.2"))
	assert.Equal(t, "TASKMAIL_SMTP_PRIMARY_PASSWORD", TransportSpec{Name: "primary"}.PasswordEnvKey())
	assert.Equal(t, "X", TransportSpec{Name: "primary", PasswordEnv: "X"}.PasswordEnvKey())
}
