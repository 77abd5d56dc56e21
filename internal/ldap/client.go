package ldap

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// client implements the Client interface over a single go-ldap connection.
// go-ldap multiplexes requests, so the connection is safe for concurrent use.
type client struct {
	config *Config
	log    *zap.Logger

	mu   sync.Mutex
	conn *ldap.Conn
}

// NewClient creates a new LDAP client. The connection is established by Connect.
func NewClient(config *Config, log *zap.Logger) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.URL == "" {
		return nil, fmt.Errorf("LDAP URL is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &client{
		config: config,
		log:    log,
	}, nil
}

// Connect dials the configured server and authenticates.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosing() {
		return nil
	}

	start := time.Now()
	c.log.Debug("connecting to directory",
		zap.String("url", c.config.URL),
		zap.String("auth_method", c.config.AuthMethod().String()))

	conn, err := ldap.DialURL(c.config.URL, ldap.DialWithTLSConfig(c.config.TLSConfig))
	if err != nil {
		return NewConnectionError("failed to dial directory server", true, err)
	}
	conn.SetTimeout(c.config.Timeout)

	if err := c.authenticate(ctx, conn); err != nil {
		_ = conn.Close()
		return WrapError("bind", err)
	}

	c.conn = conn
	c.log.Info("connected to directory",
		zap.String("url", c.config.URL),
		zap.Duration("elapsed", time.Since(start)))

	return nil
}

// Close closes the underlying connection.
func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// authenticate performs authentication based on the configured method.
func (c *client) authenticate(ctx context.Context, conn *ldap.Conn) error {
	switch c.config.AuthMethod() {
	case AuthMethodKerberos:
		return performKerberosAuth(conn, c.config)
	case AuthMethodSimpleBind:
		return conn.Bind(c.config.Username, c.config.Password)
	default:
		return conn.UnauthenticatedBind("")
	}
}

// getConn returns the live connection, reconnecting if needed.
func (c *client) getConn(ctx context.Context) (*ldap.Conn, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && !conn.IsClosing() {
		return conn, nil
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, nil
}

// Search performs an LDAP search.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	timeLimit := req.TimeLimit
	if timeLimit == 0 {
		timeLimit = c.config.Timeout
	}

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		req.SizeLimit,
		int(timeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		nil,
	)

	var result *ldap.SearchResult
	err := c.withRetry(ctx, func() error {
		conn, err := c.getConn(ctx)
		if err != nil {
			return err
		}
		// Page through results so large subtrees are not truncated by
		// the server-side size limit.
		result, err = conn.SearchWithPaging(ldapReq, 1000)
		return err
	})
	if err != nil {
		return nil, WrapError("search", err)
	}

	return &SearchResult{Entries: result.Entries}, nil
}

// Add creates a new LDAP entry.
func (c *client) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return fmt.Errorf("add request cannot be nil")
	}

	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for attr, values := range req.Attributes {
		ldapReq.Attribute(attr, values)
	}

	err := c.withRetry(ctx, func() error {
		conn, err := c.getConn(ctx)
		if err != nil {
			return err
		}
		return conn.Add(ldapReq)
	})
	return WrapError("add", err)
}

// Modify modifies an existing LDAP entry.
func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return fmt.Errorf("modify request cannot be nil")
	}

	ldapReq := ldap.NewModifyRequest(req.DN, nil)
	for attr, values := range req.AddAttributes {
		ldapReq.Add(attr, values)
	}
	for attr, values := range req.ReplaceAttributes {
		ldapReq.Replace(attr, values)
	}
	for _, attr := range req.DeleteAttributes {
		ldapReq.Delete(attr, []string{})
	}

	err := c.withRetry(ctx, func() error {
		conn, err := c.getConn(ctx)
		if err != nil {
			return err
		}
		return conn.Modify(ldapReq)
	})
	return WrapError("modify", err)
}

// withRetry executes an operation with exponential backoff on retryable errors.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying operation",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}

		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	return NewConnectionError("operation failed after retries", false, lastErr)
}

// isRetryableError determines if an error should be retried.
func (c *client) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if retryable, ok := err.(RetryableError); ok {
		return retryable.IsRetryable()
	}

	if ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultOperationsError) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset")
}
