package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vvka-141/pgwarden/internal/config"
	"github.com/vvka-141/pgwarden/internal/db"
	"github.com/vvka-141/pgwarden/internal/logging"
	"github.com/vvka-141/pgwarden/internal/tui"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// connectionFlags holds the connection and resilience flag values shared by
// every command that talks to the database.
type connectionFlags struct {
	connection     string
	host           string
	port           int
	username       string
	database       string
	schema         string
	sslMode        string
	address        string
	options        []string
	passwordPrompt bool

	authMethod     string
	awsRegion      string
	azureTenantID  string
	azureClientID  string
	googleInstance string

	retries         int
	connectRetries  int
	delayedPrepares int
	maxPrepared     int
	recycleTime     time.Duration
	emulatePrepares bool
	connectTimeout  time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
}

var connFlags connectionFlags

func addConnectionFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&connFlags.connection, "connection", "", "PostgreSQL connection string (URI or ADO.NET format)")
	f.StringVarP(&connFlags.host, "host", "h", "", "Database server host")
	f.IntVarP(&connFlags.port, "port", "p", 0, "Database server port")
	f.StringVarP(&connFlags.username, "username", "U", "", "Database user name")
	f.StringVarP(&connFlags.database, "database", "d", "", "Database name")
	f.StringVar(&connFlags.schema, "schema", "", "Schema selected after connecting (search_path)")
	f.StringVar(&connFlags.sslMode, "sslmode", "", "SSL mode (disable, allow, prefer, require, verify-ca, verify-full)")
	f.StringVar(&connFlags.address, "address", "", "Explicit endpoint: host:port or a full connection string")
	f.StringArrayVar(&connFlags.options, "option", nil, "Driver option key=value (repeatable)")
	f.BoolVar(&connFlags.passwordPrompt, "password-prompt", false, "Prompt for the password on the terminal")

	f.StringVar(&connFlags.authMethod, "auth-method", "", "Authentication: standard, aws, azure or google")
	f.StringVar(&connFlags.awsRegion, "aws-region", "", "AWS region for IAM authentication")
	f.StringVar(&connFlags.azureTenantID, "azure-tenant-id", "", "Azure AD tenant ID (overrides AZURE_TENANT_ID)")
	f.StringVar(&connFlags.azureClientID, "azure-client-id", "", "Azure AD client ID (overrides AZURE_CLIENT_ID)")
	f.StringVar(&connFlags.googleInstance, "google-instance", "", "Cloud SQL instance (project:region:instance)")

	f.IntVar(&connFlags.retries, "retries", pgwarden.DefaultRetries, "Retry budget of one statement")
	f.IntVar(&connFlags.connectRetries, "connect-retries", pgwarden.DefaultConnectRetries, "Physical connect attempts")
	f.IntVar(&connFlags.delayedPrepares, "delayed-prepares", pgwarden.DefaultDelayedPrepares, "Emulated executions before a server-side prepare")
	f.IntVar(&connFlags.maxPrepared, "max-prepared-statements", pgwarden.DefaultMaxPreparedStatements, "Statement cache size per target (0 disables)")
	f.DurationVar(&connFlags.recycleTime, "recycle-time", pgwarden.DefaultConnectionRecycleTime, "Renew idle connections older than this (0 disables)")
	f.BoolVar(&connFlags.emulatePrepares, "emulate-prepares", false, "Force emulated prepares (default: derived from server version)")
	f.DurationVar(&connFlags.connectTimeout, "connect-timeout", pgwarden.DefaultConnectTimeout, "Physical connect timeout")
	f.DurationVar(&connFlags.readTimeout, "read-timeout", 0, "Socket read timeout (0 disables)")
	f.DurationVar(&connFlags.writeTimeout, "write-timeout", 0, "Socket write timeout (0 disables)")
}

// loadProjectConfig loads godotenv and project configuration.
// Returns nil config if pgwarden.yaml does not exist (not an error).
func loadProjectConfig(dir string) (*config.ProjectConfig, error) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	projectCfg, err := config.Load(dir)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", config.ConfigFileName, err)
	}
	return projectCfg, nil
}

// resolveConfig builds the effective Config. Later sources win:
// defaults, pgwarden.yaml, PG* environment, connection string from the
// environment, --connection, individual flags.
func resolveConfig(cmd *cobra.Command, getenv func(string) string) (*pgwarden.Config, error) {
	cfg := pgwarden.NewConfig()

	dir, _ := cmd.Flags().GetString("config-dir")
	projectCfg, err := loadProjectConfig(dir)
	if err != nil {
		return nil, err
	}
	if projectCfg != nil {
		if err := projectCfg.Apply(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", config.ConfigFileName, err)
		}
	}

	if err := applyEnvironment(cfg, getenv); err != nil {
		return nil, err
	}

	connStr := connectionStringFromEnv(getenv)
	if cmd.Flags().Changed("connection") {
		connStr = connFlags.connection
	}
	if connStr != "" {
		parsed, err := db.ParseConnectionString(connStr)
		if err != nil {
			return nil, err
		}
		mergeConnection(cfg, parsed)
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}

	if connFlags.passwordPrompt {
		pw, err := tui.ReadPassword(os.Stderr, fmt.Sprintf("Password for %s: ", cfg.Username))
		if err != nil {
			return nil, err
		}
		cfg.Password = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// connectionStringFromEnv returns the connection string from environment variables.
// PGWARDEN_CONNECTION takes precedence over DATABASE_URL.
func connectionStringFromEnv(getenv func(string) string) string {
	if s := getenv("PGWARDEN_CONNECTION"); s != "" {
		return s
	}
	return getenv("DATABASE_URL")
}

// applyEnvironment follows libpq's environment variables plus the Azure SDK
// and AWS conventions for cloud credentials.
func applyEnvironment(cfg *pgwarden.Config, getenv func(string) string) error {
	for name, dst := range map[string]*string{
		"PGHOST":              &cfg.Host,
		"PGUSER":              &cfg.Username,
		"PGPASSWORD":          &cfg.Password,
		"PGDATABASE":          &cfg.Database,
		"PGSSLMODE":           &cfg.SSLMode,
		"AZURE_TENANT_ID":     &cfg.AzureTenantID,
		"AZURE_CLIENT_ID":     &cfg.AzureClientID,
		"AZURE_CLIENT_SECRET": &cfg.AzureClientSecret,
		"AWS_REGION":          &cfg.AWSRegion,
	} {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	if v := getenv("PGPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PGPORT %q is not a number: %w", v, pgwarden.ErrInvalidConfig)
		}
		cfg.Port = port
	}
	return nil
}

// mergeConnection copies what a parsed connection string carries onto cfg,
// leaving resilience settings from earlier sources in place.
func mergeConnection(cfg, parsed *pgwarden.Config) {
	cfg.Host = parsed.Host
	cfg.Port = parsed.Port
	cfg.Database = parsed.Database
	cfg.SSLMode = parsed.SSLMode
	if parsed.Username != "" {
		cfg.Username = parsed.Username
	}
	if parsed.Password != "" {
		cfg.Password = parsed.Password
	}
	if parsed.Schema != "" {
		cfg.Schema = parsed.Schema
	}
	if parsed.ConnectTimeout != pgwarden.DefaultConnectTimeout {
		cfg.ConnectTimeout = parsed.ConnectTimeout
	}
	for k, v := range parsed.Options {
		cfg.Options[k] = v
	}
}

// applyFlags copies explicitly set flags onto cfg. Flags left at their
// defaults never override the file or the environment.
func applyFlags(cmd *cobra.Command, cfg *pgwarden.Config) error {
	changed := cmd.Flags().Changed
	f := connFlags

	strs := []struct {
		name string
		val  string
		dst  *string
	}{
		{"host", f.host, &cfg.Host},
		{"username", f.username, &cfg.Username},
		{"database", f.database, &cfg.Database},
		{"schema", f.schema, &cfg.Schema},
		{"sslmode", f.sslMode, &cfg.SSLMode},
		{"address", f.address, &cfg.Address},
		{"aws-region", f.awsRegion, &cfg.AWSRegion},
		{"azure-tenant-id", f.azureTenantID, &cfg.AzureTenantID},
		{"azure-client-id", f.azureClientID, &cfg.AzureClientID},
		{"google-instance", f.googleInstance, &cfg.GoogleInstance},
	}
	for _, s := range strs {
		if changed(s.name) {
			*s.dst = s.val
		}
	}

	ints := []struct {
		name string
		val  int
		dst  *int
	}{
		{"port", f.port, &cfg.Port},
		{"retries", f.retries, &cfg.Retries},
		{"connect-retries", f.connectRetries, &cfg.ConnectRetries},
		{"delayed-prepares", f.delayedPrepares, &cfg.DelayedPrepares},
		{"max-prepared-statements", f.maxPrepared, &cfg.MaxPreparedStatements},
	}
	for _, i := range ints {
		if changed(i.name) {
			*i.dst = i.val
		}
	}

	durations := []struct {
		name string
		val  time.Duration
		dst  *time.Duration
	}{
		{"recycle-time", f.recycleTime, &cfg.ConnectionRecycleTime},
		{"connect-timeout", f.connectTimeout, &cfg.ConnectTimeout},
		{"read-timeout", f.readTimeout, &cfg.ReadTimeout},
		{"write-timeout", f.writeTimeout, &cfg.WriteTimeout},
	}
	for _, d := range durations {
		if changed(d.name) {
			*d.dst = d.val
		}
	}

	if changed("emulate-prepares") {
		v := f.emulatePrepares
		cfg.EmulatePrepares = &v
	}

	if changed("auth-method") {
		m, err := pgwarden.ParseAuthMethod(f.authMethod)
		if err != nil {
			return err
		}
		cfg.AuthMethod = m
	}

	opts, err := parseKeyValuePairs(f.options)
	if err != nil {
		return fmt.Errorf("%v: %w", err, pgwarden.ErrInvalidConfig)
	}
	for k, v := range opts {
		cfg.Options[k] = v
	}
	return nil
}

// newLogger picks the log sink from --log-format and --verbose.
func newLogger(cmd *cobra.Command) (pgwarden.Logger, error) {
	verbose := getVerboseFlag(cmd)
	format, _ := cmd.Flags().GetString("log-format")
	switch format {
	case "", "console":
		return logging.NewConsoleLogger(verbose), nil
	case "json":
		return logging.NewZerologLogger(os.Stderr, verbose), nil
	default:
		return nil, fmt.Errorf("unknown --log-format %q (use console or json)", format)
	}
}

// logConnectionVerbose logs connection details when verbose mode is enabled.
func logConnectionVerbose(logger pgwarden.Logger, cfg *pgwarden.Config) {
	if cfg.Address != "" {
		logger.Verbose("Connection resolved: explicit address for user %s", cfg.Username)
	} else {
		logger.Verbose("Connection resolved: %s (sslmode=%s)", cfg.Identity(), cfg.SSLMode)
	}
	if cfg.Schema != "" {
		logger.Verbose("  Schema: %s", cfg.Schema)
	}
	logger.Verbose("  Auth Method: %s", cfg.AuthMethod)
	logger.Verbose("  Retries: %d, connect retries: %d, delayed prepares: %d, cache size: %d, recycle: %s",
		cfg.Retries, cfg.ConnectRetries, cfg.DelayedPrepares, cfg.MaxPreparedStatements, cfg.ConnectionRecycleTime)
}
