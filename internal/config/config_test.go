package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BOUILLOON/admigrate/internal/ldap"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ADMIGRATE_URL", "ldaps://dc01.example.com:636")
	t.Setenv("ADMIGRATE_BASE_DN", "DC=example,DC=com")
	t.Setenv("ADMIGRATE_USERNAME", "svc-migrate@example.com")
	t.Setenv("ADMIGRATE_PASSWORD", "hunter2")
	t.Setenv("ADMIGRATE_KRB5_REALM", "")
	t.Setenv("ADMIGRATE_KRB5_CONF", "")
	t.Setenv("ADMIGRATE_KRB5_KEYTAB", "")
	t.Setenv("ADMIGRATE_KRB5_CCACHE", "")
	t.Setenv("ADMIGRATE_KRB5_SPN", "")
	t.Setenv("ADMIGRATE_TIMEOUT", "")
	t.Setenv("ADMIGRATE_INSECURE_TLS", "")
	t.Setenv("ADMIGRATE_HISTORY_DSN", "")
}

func TestLoad(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ldaps://dc01.example.com:636", cfg.URL)
	assert.Equal(t, "DC=example,DC=com", cfg.BaseDN)
	assert.Equal(t, "svc-migrate@example.com", cfg.Username)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.False(t, cfg.InsecureTLS)
}

func TestLoad_MissingURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ADMIGRATE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIGRATE_URL")
}

func TestLoad_TimeoutOverride(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ADMIGRATE_TIMEOUT", "2m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
}

func TestLoad_InvalidTimeout(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ADMIGRATE_TIMEOUT", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_KerberosWithoutCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ADMIGRATE_USERNAME", "")
	t.Setenv("ADMIGRATE_PASSWORD", "")
	t.Setenv("ADMIGRATE_KRB5_REALM", "EXAMPLE.COM")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kerberos")
}

func TestConfig_LDAPConfig(t *testing.T) {
	cfg := &Config{
		URL:           "ldaps://dc01.example.com:636",
		BaseDN:        "DC=example,DC=com",
		Username:      "svc-migrate@example.com",
		Password:      "hunter2",
		KerberosRealm: "EXAMPLE.COM",
		Timeout:       time.Minute,
		InsecureTLS:   true,
	}

	lc := cfg.LDAPConfig()

	assert.Equal(t, cfg.URL, lc.URL)
	assert.Equal(t, cfg.BaseDN, lc.BaseDN)
	assert.Equal(t, time.Minute, lc.Timeout)
	assert.True(t, lc.TLSConfig.InsecureSkipVerify)
	assert.Equal(t, ldap.AuthMethodKerberos, lc.AuthMethod())

	// Retry defaults come from the client package.
	assert.Equal(t, ldap.DefaultConfig().MaxRetries, lc.MaxRetries)
}
