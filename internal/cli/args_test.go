package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBindValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{"null marker", `\N`, nil},
		{"true", "true", true},
		{"false", "false", false},
		{"integer", "42", int64(42)},
		{"negative integer", "-7", int64(-7)},
		{"float stays text", "3.14", "3.14"},
		{"text", "alice", "alice"},
		{"empty string", "", ""},
		{"capitalised bool stays text", "True", "True"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseBindValue(tt.in))
		})
	}
}

func TestParseBindValues_KeepsOrder(t *testing.T) {
	got := parseBindValues([]string{"1", `\N`, "x"})
	assert.Equal(t, []any{int64(1), nil, "x"}, got)
}

func TestParseKeyValuePairs(t *testing.T) {
	got, err := parseKeyValuePairs([]string{"application_name=reports", "statement_timeout=5s", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"application_name":  "reports",
		"statement_timeout": "5s",
		"empty":             "",
	}, got)

	_, err = parseKeyValuePairs([]string{"novalue"})
	assert.ErrorContains(t, err, "key=value")

	_, err = parseKeyValuePairs([]string{"=x"})
	assert.ErrorContains(t, err, "empty key")
}

func TestRequireStatement(t *testing.T) {
	cmd := &cobra.Command{Use: "query <sql>"}

	err := RequireStatement(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required argument: <sql>")

	assert.Error(t, RequireStatement(cmd, []string{"   "}))
	assert.NoError(t, RequireStatement(cmd, []string{"SELECT 1"}))
	assert.NoError(t, RequireStatement(cmd, []string{"SELECT $1", "1"}))
}
