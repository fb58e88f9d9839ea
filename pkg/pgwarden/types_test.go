package pgwarden_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *pgwarden.Config)
		wantError error
	}{
		{name: "defaults", mutate: func(*pgwarden.Config) {}},
		{name: "address replaces host and port", mutate: func(c *pgwarden.Config) {
			c.Host, c.Port, c.Address = "", 0, "postgresql://db/app"
		}},
		{name: "zero disables cache and recycle", mutate: func(c *pgwarden.Config) {
			c.MaxPreparedStatements, c.ConnectionRecycleTime, c.Retries = 0, 0, 0
		}},
		{name: "missing host", mutate: func(c *pgwarden.Config) { c.Host = "" }, wantError: pgwarden.ErrInvalidConfig},
		{name: "port out of range", mutate: func(c *pgwarden.Config) { c.Port = 70000 }, wantError: pgwarden.ErrInvalidConfig},
		{name: "negative retries", mutate: func(c *pgwarden.Config) { c.Retries = -1 }, wantError: pgwarden.ErrInvalidConfig},
		{name: "negative connect retries", mutate: func(c *pgwarden.Config) { c.ConnectRetries = -1 }, wantError: pgwarden.ErrInvalidConfig},
		{name: "negative delayed prepares", mutate: func(c *pgwarden.Config) { c.DelayedPrepares = -2 }, wantError: pgwarden.ErrInvalidConfig},
		{name: "negative cache size", mutate: func(c *pgwarden.Config) { c.MaxPreparedStatements = -1 }, wantError: pgwarden.ErrInvalidConfig},
		{name: "negative recycle time", mutate: func(c *pgwarden.Config) { c.ConnectionRecycleTime = -time.Second }, wantError: pgwarden.ErrInvalidConfig},
		{name: "negative timeout", mutate: func(c *pgwarden.Config) { c.ReadTimeout = -time.Second }, wantError: pgwarden.ErrInvalidConfig},
		{name: "unknown auth method", mutate: func(c *pgwarden.Config) { c.AuthMethod = 99 }, wantError: pgwarden.ErrUnsupportedAuthMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := pgwarden.NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantError == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantError) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantError)
			}
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := pgwarden.NewConfig()
	cfg.Retries = -1
	cfg.DelayedPrepares = -1

	err := cfg.Validate()

	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Errorf("Validate() = %v, want two joined errors", err)
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := pgwarden.NewConfig()
	if cfg.Retries != 2 || cfg.ConnectRetries != 3 || cfg.DelayedPrepares != 1 || cfg.MaxPreparedStatements != 10 {
		t.Errorf("unexpected resilience defaults: %+v", cfg)
	}
	if cfg.ConnectionRecycleTime != 900*time.Second {
		t.Errorf("ConnectionRecycleTime = %v", cfg.ConnectionRecycleTime)
	}
	if cfg.EmulatePrepares != nil {
		t.Error("EmulatePrepares should be derived from the server version by default")
	}
}

func TestConfig_Identity(t *testing.T) {
	a := pgwarden.NewConfig()
	a.Username = "app"
	a.Database = "shop"
	b := pgwarden.NewConfig()
	b.Username = "app"
	b.Database = "shop"
	b.Password = "other"
	b.Schema = "sales"
	b.Options["application_name"] = "svc"

	if a.Identity() != b.Identity() {
		t.Error("password, schema and options must not change the identity")
	}

	b.Database = "billing"
	if a.Identity() == b.Identity() {
		t.Error("database is part of the identity")
	}

	if got := a.Identity().String(); got != "app@localhost:5432/shop" {
		t.Errorf("String() = %q", got)
	}

	dsn := pgwarden.NewConfig()
	dsn.Address = "postgresql://app:pw@db/shop"
	dsn.Username = "app"
	if got := dsn.Identity().String(); got != "app@<address>" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseAuthMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    pgwarden.AuthMethod
		wantErr bool
	}{
		{"", pgwarden.AuthMethodStandard, false},
		{"standard", pgwarden.AuthMethodStandard, false},
		{"aws", pgwarden.AuthMethodAWSIAM, false},
		{"aws-iam", pgwarden.AuthMethodAWSIAM, false},
		{"google-iam", pgwarden.AuthMethodGoogleIAM, false},
		{"azure", pgwarden.AuthMethodAzureEntraID, false},
		{"kerberos", pgwarden.AuthMethodStandard, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := pgwarden.ParseAuthMethod(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAuthMethod(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAuthMethod(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnumStrings(t *testing.T) {
	if pgwarden.AuthMethodAzureEntraID.String() != "Azure Entra ID" {
		t.Errorf("AuthMethod String = %q", pgwarden.AuthMethodAzureEntraID.String())
	}
	if pgwarden.AuthMethod(9).String() != "Unknown(9)" {
		t.Errorf("unknown AuthMethod String = %q", pgwarden.AuthMethod(9).String())
	}
	if pgwarden.ActionReconnect.String() != "reconnect" {
		t.Errorf("Action String = %q", pgwarden.ActionReconnect.String())
	}
	if pgwarden.ParamInt.String() != "int" || pgwarden.ParamType(7).String() != "ParamType(7)" {
		t.Error("unexpected ParamType strings")
	}
}
