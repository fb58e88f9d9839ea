package pgwarden

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Config contains every recognised connection and resilience option.
// Build one with NewConfig so the documented defaults are in place;
// a zero Config disables caching and recycling.
type Config struct {
	// Host and Port locate the server when Address is empty.
	Host string
	Port int

	// Address is an explicit endpoint. Either "host:port" or a full
	// PostgreSQL connection string (URI or key/value form).
	Address string

	Username string
	Password string
	Database string

	// Schema is the context selected after connecting (SET search_path).
	// Empty leaves the server default in place.
	Schema  string
	SSLMode string

	// Options are driver options merged over the built-in defaults
	// (persistent=false, connect_timeout=5).
	Options map[string]string

	AuthMethod AuthMethod

	// Cloud authentication parameters.
	AWSRegion         string
	AzureTenantID     string
	AzureClientID     string
	AzureClientSecret string
	GoogleInstance    string

	// ConnectRetries is the number of physical connect attempts.
	ConnectRetries int

	// Retries is the default retry budget of one operation.
	Retries int

	// DelayedPrepares is the number of emulated executions a query gets
	// before it is prepared on the server and cached.
	DelayedPrepares int

	// MaxPreparedStatements caps the statement cache per identity (0 disables).
	MaxPreparedStatements int

	// ConnectionRecycleTime is the age after which an idle connection is
	// transparently renewed (0 disables).
	ConnectionRecycleTime time.Duration

	// EmulatePrepares forces the prepare mode. Nil derives it from the server version.
	EmulatePrepares *bool

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// NewConfig returns a Config populated with the defaults.
func NewConfig() *Config {
	return &Config{
		Host:                  DefaultHost,
		Port:                  DefaultPort,
		Database:              DefaultDatabase,
		SSLMode:               DefaultSSLMode,
		Options:               make(map[string]string),
		AuthMethod:            AuthMethodStandard,
		ConnectRetries:        DefaultConnectRetries,
		Retries:               DefaultRetries,
		DelayedPrepares:       DefaultDelayedPrepares,
		MaxPreparedStatements: DefaultMaxPreparedStatements,
		ConnectionRecycleTime: DefaultConnectionRecycleTime,
		ConnectTimeout:        DefaultConnectTimeout,
	}
}

// Validate checks if the Config has valid values.
// It returns a multi-error if multiple validation failures occur.
func (c *Config) Validate() error {
	var errs []error

	if c.Address == "" && c.Host == "" {
		errs = append(errs, fmt.Errorf("host or address is required: %w", ErrInvalidConfig))
	}
	if c.Address == "" && (c.Port <= 0 || c.Port > 65535) {
		errs = append(errs, fmt.Errorf("port %d out of range: %w", c.Port, ErrInvalidConfig))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries cannot be negative: %w", ErrInvalidConfig))
	}
	if c.ConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("connect_retries cannot be negative: %w", ErrInvalidConfig))
	}
	if c.DelayedPrepares < 0 {
		errs = append(errs, fmt.Errorf("delayed_prepares cannot be negative: %w", ErrInvalidConfig))
	}
	if c.MaxPreparedStatements < 0 {
		errs = append(errs, fmt.Errorf("max_prepared_statements cannot be negative: %w", ErrInvalidConfig))
	}
	if c.ConnectionRecycleTime < 0 {
		errs = append(errs, fmt.Errorf("connection_recycle_time cannot be negative: %w", ErrInvalidConfig))
	}
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts cannot be negative: %w", ErrInvalidConfig))
	}
	if !c.AuthMethod.IsValid() {
		errs = append(errs, fmt.Errorf("auth method %v: %w", c.AuthMethod, ErrUnsupportedAuthMethod))
	}

	return errors.Join(errs...)
}

// Identity derives the ConnectionIdentity of the configured target.
func (c *Config) Identity() Identity {
	if c.Address != "" {
		return Identity{DSN: c.Address, Username: c.Username}
	}
	return Identity{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Database: c.Database,
	}
}

// Identity identifies a database target. Connection objects with equal
// identities may share one physical handle and one statement cache.
// PostgreSQL binds the database at connect time, so it is part of the key.
type Identity struct {
	Host     string
	Port     int
	Username string
	Database string
	DSN      string
}

// String returns a log-friendly form that never includes a password.
func (i Identity) String() string {
	if i.DSN != "" {
		return fmt.Sprintf("%s@<address>", i.Username)
	}
	return fmt.Sprintf("%s@%s:%d/%s", i.Username, i.Host, i.Port, i.Database)
}

// AuthMethod represents the type of authentication to use.
type AuthMethod int

const (
	AuthMethodStandard     AuthMethod = iota // Username/Password
	AuthMethodAWSIAM                         // AWS IAM Database Authentication
	AuthMethodGoogleIAM                      // Google Cloud SQL IAM
	AuthMethodAzureEntraID                   // Azure Active Directory (Entra ID)
)

// String returns a human-readable string representation of the AuthMethod.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodStandard:
		return "Standard"
	case AuthMethodAWSIAM:
		return "AWS IAM"
	case AuthMethodGoogleIAM:
		return "Google IAM"
	case AuthMethodAzureEntraID:
		return "Azure Entra ID"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// IsValid returns true if the AuthMethod is a valid, defined value.
func (a AuthMethod) IsValid() bool {
	return a >= AuthMethodStandard && a <= AuthMethodAzureEntraID
}

// ParseAuthMethod maps configuration spellings onto an AuthMethod.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch s {
	case "", "standard":
		return AuthMethodStandard, nil
	case "aws", "aws-iam":
		return AuthMethodAWSIAM, nil
	case "google", "google-iam":
		return AuthMethodGoogleIAM, nil
	case "azure", "azure-entra-id":
		return AuthMethodAzureEntraID, nil
	default:
		return AuthMethodStandard, fmt.Errorf("%q: %w", s, ErrUnsupportedAuthMethod)
	}
}

// Action is the recovery decision for a failed driver call.
type Action int

const (
	ActionFatal     Action = iota // give up immediately
	ActionReconnect               // drop the link, connect again, retry
	ActionDelay                   // back off briefly, retry on the same link
	ActionRetry                   // retry as-is
)

func (a Action) String() string {
	switch a {
	case ActionFatal:
		return "fatal"
	case ActionReconnect:
		return "reconnect"
	case ActionDelay:
		return "delay"
	case ActionRetry:
		return "retry"
	default:
		return "Action(" + strconv.Itoa(int(a)) + ")"
	}
}

// ParamType is the wire type a positional value is bound with.
type ParamType int

const (
	ParamNull ParamType = iota
	ParamInt
	ParamString
)

func (t ParamType) String() string {
	switch t {
	case ParamNull:
		return "null"
	case ParamInt:
		return "int"
	case ParamString:
		return "string"
	default:
		return "ParamType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Param is a positional value tagged with its wire type.
type Param struct {
	Value any
	Type  ParamType
}
