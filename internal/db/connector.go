package db

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vvka-141/pgwarden/internal/logging"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// Driver opens pgx connections tuned for the pgwarden statement cache:
// pgx's own statement and description caches are off, and statements that
// are not explicitly prepared run as describe-and-execute.
//
// Thread Safety: a Driver may open connections from multiple goroutines.
type Driver struct {
	tokens TokenProvider
	dial   pgconn.DialFunc
	tracer pgx.QueryTracer
	logger pgwarden.Logger
	closer func() error
}

// Option customises a Driver.
type Option func(*Driver)

// WithTracer installs a pgx query tracer on every connection.
func WithTracer(t pgx.QueryTracer) Option {
	return func(d *Driver) {
		d.tracer = t
	}
}

// WithTokenProvider uses tokens from p as the password of each new connection.
func WithTokenProvider(p TokenProvider) Option {
	return func(d *Driver) {
		d.tokens = newCachingTokenProvider(p)
	}
}

// WithDialFunc replaces the network dialer.
func WithDialFunc(dial pgconn.DialFunc) Option {
	return func(d *Driver) {
		d.dial = dial
	}
}

// NewDriver creates a Driver with explicit options.
func NewDriver(logger pgwarden.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	d := &Driver{logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDriverForConfig is a factory that wires authentication according to
// cfg.AuthMethod: cloud tokens become passwords, and Google Cloud SQL
// connections go through the Cloud SQL dialer.
func NewDriverForConfig(ctx context.Context, cfg *pgwarden.Config, logger pgwarden.Logger, opts ...Option) (*Driver, error) {
	switch cfg.AuthMethod {
	case pgwarden.AuthMethodStandard:
	case pgwarden.AuthMethodAWSIAM:
		endpoint := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		p, err := NewAWSIAMTokenProvider(endpoint, cfg.AWSRegion, cfg.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS IAM token provider: %w", err)
		}
		opts = append(opts, WithTokenProvider(p))
	case pgwarden.AuthMethodAzureEntraID:
		p, err := NewAzureTokenProvider(cfg.AzureTenantID, cfg.AzureClientID, cfg.AzureClientSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure token provider: %w", err)
		}
		opts = append(opts, WithTokenProvider(p))
	case pgwarden.AuthMethodGoogleIAM:
		if cfg.GoogleInstance == "" {
			return nil, fmt.Errorf("Google Cloud SQL IAM auth requires --google-instance (project:region:instance): %w", pgwarden.ErrInvalidConfig)
		}
		if cfg.Username == "" {
			return nil, fmt.Errorf("Google Cloud SQL IAM auth requires username (-U): %w", pgwarden.ErrInvalidConfig)
		}
		dialer, err := newCloudSQLDialer(ctx, cfg.GoogleInstance)
		if err != nil {
			return nil, err
		}
		d := NewDriver(logger, append(opts, WithDialFunc(dialer.Dial))...)
		d.closer = dialer.Close
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported auth method %v: %w", cfg.AuthMethod, pgwarden.ErrUnsupportedAuthMethod)
	}
	return NewDriver(logger, opts...), nil
}

// Open establishes a new physical connection.
func (d *Driver) Open(ctx context.Context, t *pgwarden.Target) (pgwarden.Handle, error) {
	cfg, err := d.connConfig(ctx, t)
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, wrapConnectionError(err, t)
	}
	return newHandle(conn), nil
}

// Close releases dialer resources. Connections already opened stay usable
// until closed by their owners.
func (d *Driver) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

func (d *Driver) connConfig(ctx context.Context, t *pgwarden.Target) (*pgx.ConnConfig, error) {
	connStr := ""
	var extra map[string]string
	if t.Address != "" {
		var err error
		connStr, extra, err = normalizeAddress(t)
		if err != nil {
			return nil, err
		}
	} else {
		connStr = BuildConnectionString(t)
	}

	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	if t.Username != "" {
		cfg.User = t.Username
	}
	if t.Password != "" {
		cfg.Password = t.Password
	}
	if d.tokens != nil {
		token, expiresOn, err := d.tokens.GetToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire token from %s: %w", d.tokens, err)
		}
		d.logger.Verbose("using token from %s (expires %s)", d.tokens, expiresOn.Format("15:04:05"))
		cfg.Password = token
	}
	if t.ConnectTimeout > 0 {
		cfg.ConnectTimeout = t.ConnectTimeout
	}

	cfg.StatementCacheCapacity = 0
	cfg.DescriptionCacheCapacity = 0
	cfg.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	if d.tracer != nil {
		cfg.Tracer = d.tracer
	}

	for k, v := range extra {
		cfg.RuntimeParams[k] = v
	}
	for k, v := range t.Options {
		cfg.RuntimeParams[k] = v
	}

	if d.dial != nil {
		cfg.DialFunc = d.dial
		// The custom dialer resolves the endpoint itself.
		cfg.LookupFunc = func(_ context.Context, host string) ([]string, error) {
			return []string{host}, nil
		}
		// The custom dialer also owns TLS.
		cfg.TLSConfig = nil
		cfg.Fallbacks = nil
	}
	cfg.DialFunc = withTimeouts(cfg.DialFunc, t.ReadTimeout, t.WriteTimeout)

	return cfg, nil
}

// wrapConnectionError wraps raw pgx connection errors with actionable guidance.
func wrapConnectionError(err error, t *pgwarden.Target) error {
	errStr := strings.ToLower(err.Error())
	addr := "<address>"
	if t.Address == "" {
		addr = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	}

	switch {
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "actively refused"):
		return fmt.Errorf(`connection refused to %s

Possible causes:
  - PostgreSQL is not running (check: pg_isready -h %s -p %d)
  - Wrong host or port
  - Firewall blocking the connection

Original error: %w`, addr, t.Host, t.Port, err)

	case strings.Contains(errStr, "no such host") || strings.Contains(errStr, "no host"):
		return fmt.Errorf(`cannot resolve host "%s"

Possible causes:
  - Hostname is misspelled
  - DNS is not configured or reachable

Original error: %w`, t.Host, err)

	case strings.Contains(errStr, "password authentication failed"):
		return fmt.Errorf(`password authentication failed for user "%s"

Possible causes:
  - Wrong password (check $PGPASSWORD or the password in pgwarden.yaml)
  - Wrong username
  - Expired cloud token (check --auth-method and provider credentials)

Original error: %w`, t.Username, err)

	case strings.Contains(errStr, "does not exist"):
		return fmt.Errorf(`database "%s" does not exist

To create it:
  createdb %s

Original error: %w`, t.Database, t.Database, err)

	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "timed out"):
		return fmt.Errorf(`connection timed out to %s

Possible causes:
  - Server is overloaded or unresponsive
  - Firewall silently dropping packets
  - connect_timeout too low (currently %s)

Original error: %w`, addr, t.ConnectTimeout, err)

	case strings.Contains(errStr, "ssl") || strings.Contains(errStr, "tls"):
		return fmt.Errorf(`SSL/TLS connection error

Possible causes:
  - Server requires SSL but --sslmode is wrong
  - Certificate verification failed (try --sslmode=require)

Original error: %w`, err)

	case strings.Contains(errStr, "too many connections"):
		return fmt.Errorf(`too many connections to database "%s"

Possible causes:
  - max_connections limit reached in postgresql.conf
  - Many private handles opened for one identity by concurrent sessions

Original error: %w`, t.Database, err)

	default:
		return fmt.Errorf("failed to connect to database: %w", err)
	}
}
