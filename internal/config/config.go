package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"

	"github.com/BOUILLOON/admigrate/internal/ldap"
)

// Config carries everything admigrate reads from the environment. A .env
// file in the working directory is honored but never required.
type Config struct {
	// Directory connection
	URL         string        // ADMIGRATE_URL, ldap:// or ldaps://
	BaseDN      string        // ADMIGRATE_BASE_DN
	Timeout     time.Duration `default:"30s"` // ADMIGRATE_TIMEOUT
	InsecureTLS bool          // ADMIGRATE_INSECURE_TLS, skip certificate checks

	// Authentication. A Kerberos realm switches the client to GSSAPI;
	// otherwise a username selects a simple bind.
	Username       string // ADMIGRATE_USERNAME
	Password       string // ADMIGRATE_PASSWORD
	KerberosRealm  string // ADMIGRATE_KRB5_REALM
	KerberosConfig string // ADMIGRATE_KRB5_CONF
	KerberosKeytab string // ADMIGRATE_KRB5_KEYTAB
	KerberosCCache string // ADMIGRATE_KRB5_CCACHE
	KerberosSPN    string // ADMIGRATE_KRB5_SPN

	// Optional run-history database. Empty disables history recording.
	HistoryDSN string // ADMIGRATE_HISTORY_DSN
}

// Load reads the environment (after merging an optional .env file) into a
// validated Config.
func Load() (*Config, error) {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()

	cfg := &Config{
		URL:            os.Getenv("ADMIGRATE_URL"),
		BaseDN:         os.Getenv("ADMIGRATE_BASE_DN"),
		Username:       os.Getenv("ADMIGRATE_USERNAME"),
		Password:       os.Getenv("ADMIGRATE_PASSWORD"),
		KerberosRealm:  os.Getenv("ADMIGRATE_KRB5_REALM"),
		KerberosConfig: os.Getenv("ADMIGRATE_KRB5_CONF"),
		KerberosKeytab: os.Getenv("ADMIGRATE_KRB5_KEYTAB"),
		KerberosCCache: os.Getenv("ADMIGRATE_KRB5_CCACHE"),
		KerberosSPN:    os.Getenv("ADMIGRATE_KRB5_SPN"),
		HistoryDSN:     os.Getenv("ADMIGRATE_HISTORY_DSN"),
	}

	if raw := os.Getenv("ADMIGRATE_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse ADMIGRATE_TIMEOUT: %w", err)
		}
		cfg.Timeout = timeout
	}

	if raw := os.Getenv("ADMIGRATE_INSECURE_TLS"); raw != "" {
		insecure, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("parse ADMIGRATE_INSECURE_TLS: %w", err)
		}
		cfg.InsecureTLS = insecure
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("ADMIGRATE_URL is required")
	}
	if c.KerberosRealm != "" && c.Username == "" && c.KerberosKeytab == "" && c.KerberosCCache == "" {
		return fmt.Errorf("kerberos authentication needs a keytab, a credential cache, or a username and password")
	}
	return nil
}

// LDAPConfig builds the client configuration from the environment values.
func (c *Config) LDAPConfig() *ldap.Config {
	lc := ldap.DefaultConfig()
	lc.URL = c.URL
	lc.BaseDN = c.BaseDN
	lc.Username = c.Username
	lc.Password = c.Password
	lc.KerberosRealm = c.KerberosRealm
	lc.KerberosConfig = c.KerberosConfig
	lc.KerberosKeytab = c.KerberosKeytab
	lc.KerberosCCache = c.KerberosCCache
	lc.KerberosSPN = c.KerberosSPN
	if c.Timeout > 0 {
		lc.Timeout = c.Timeout
	}
	if c.InsecureTLS {
		lc.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return lc
}
