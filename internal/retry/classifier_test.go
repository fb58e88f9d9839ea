package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

func TestClassifyCodes(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		causeCode string
		want      pgwarden.Action
	}{
		{"no code", "", "", pgwarden.ActionFatal},
		{"success code", "00000", "", pgwarden.ActionFatal},
		{"syntax error", "42601", "", pgwarden.ActionFatal},
		{"undefined table", "42P01", "", pgwarden.ActionFatal},
		{"insufficient privilege", "42501", "", pgwarden.ActionFatal},
		{"connection failure", "08006", "", pgwarden.ActionReconnect},
		{"connection does not exist", "08003", "", pgwarden.ActionReconnect},
		{"admin shutdown", "57P01", "", pgwarden.ActionReconnect},
		{"cannot connect now", "57P03", "", pgwarden.ActionReconnect},
		{"internal error", "XX000", "", pgwarden.ActionReconnect},
		{"deadlock", "40P01", "", pgwarden.ActionDelay},
		{"serialization failure", "40001", "", pgwarden.ActionDelay},
		{"lock not available", "55P03", "", pgwarden.ActionDelay},
		{"unique violation retries", "23505", "", pgwarden.ActionRetry},
		{"division by zero retries", "22012", "", pgwarden.ActionRetry},
		{"empty primary with link-loss cause", "", "08006", pgwarden.ActionReconnect},
		{"generic primary with link-loss cause", "HY000", "08006", pgwarden.ActionReconnect},
		{"generic primary with unrelated cause", "HY000", "23505", pgwarden.ActionRetry},
		{"empty primary with unrelated cause", "", "23505", pgwarden.ActionRetry},
		{"fatal class wins over cause", "42601", "08006", pgwarden.ActionFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCodes(tt.code, tt.causeCode))
		})
	}
}

func TestClassifyCodes_EveryListedCode(t *testing.T) {
	for code := range ReconnectCodes {
		assert.Equal(t, pgwarden.ActionReconnect, ClassifyCodes(code, ""), code)
	}
	for code := range DelayCodes {
		assert.Equal(t, pgwarden.ActionDelay, ClassifyCodes(code, ""), code)
	}
	for code := range FatalCodes {
		assert.Equal(t, pgwarden.ActionFatal, ClassifyCodes(code, ""), "%q", code)
	}
}

func TestPostgreSQLErrorClassifier_Classify(t *testing.T) {
	c := NewPostgreSQLErrorClassifier()

	tests := []struct {
		name string
		err  error
		want pgwarden.Action
	}{
		{"nil", nil, pgwarden.ActionFatal},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, pgwarden.ActionDelay},
		{"wrapped pg error", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "57P01"}), pgwarden.ActionReconnect},
		{"pg syntax error", &pgconn.PgError{Code: "42601"}, pgwarden.ActionFatal},
		{"io eof", io.EOF, pgwarden.ActionReconnect},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), pgwarden.ActionReconnect},
		{"net op error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}, pgwarden.ActionReconnect},
		{"connection reset", syscall.ECONNRESET, pgwarden.ActionReconnect},
		{"pgx conn closed", errors.New("conn closed"), pgwarden.ActionReconnect},
		{"plain error has no code", errors.New("something odd"), pgwarden.ActionFatal},
		{"context canceled", context.Canceled, pgwarden.ActionFatal},
		{"deadline exceeded over link loss", fmt.Errorf("%w: %w", context.DeadlineExceeded, io.EOF), pgwarden.ActionFatal},
		{
			"driver error with link-loss cause",
			&pgwarden.DriverError{Code: "HY000", Cause: &pgconn.PgError{Code: "08006"}},
			pgwarden.ActionReconnect,
		},
		{
			"driver error with network cause",
			&pgwarden.DriverError{Code: "HY000", Cause: io.EOF},
			pgwarden.ActionReconnect,
		},
		{
			"driver error without cause",
			&pgwarden.DriverError{Code: "HY000", Message: "general error"},
			pgwarden.ActionRetry,
		},
		{
			"driver error with empty code and no cause",
			&pgwarden.DriverError{Message: "no code"},
			pgwarden.ActionFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.err))
		})
	}
}

func TestPostgreSQLErrorClassifier_Code(t *testing.T) {
	c := NewPostgreSQLErrorClassifier()

	assert.Equal(t, "40P01", c.Code(&pgconn.PgError{Code: "40P01"}))
	assert.Equal(t, LinkFailureCode, c.Code(io.EOF))
	assert.Equal(t, "", c.Code(errors.New("plain")))
	assert.Equal(t, "HY000", c.Code(&pgwarden.DriverError{Code: "HY000", Cause: io.EOF}))
	assert.Equal(t, "08006", c.Code(&pgwarden.DriverError{Cause: &pgconn.PgError{Code: "08006"}}))

	code, cause := c.Codes(&pgwarden.DriverError{Code: "HY000", Cause: &pgconn.PgError{Code: "57P01"}})
	assert.Equal(t, "HY000", code)
	assert.Equal(t, "57P01", cause)
}
