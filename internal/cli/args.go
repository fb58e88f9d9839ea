package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// RequireStatement validates that exactly one SQL statement argument is
// provided, followed by any number of bind values.
func RequireStatement(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf(`missing required argument: <sql>

Usage: %s

Example:
  %s "SELECT * FROM users WHERE id = $1" 42`, cmd.UseLine(), cmd.CommandPath())
	}
	if strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("SQL statement is empty")
	}
	return nil
}

// parseKeyValuePairs converts a slice of "key=value" strings into a map.
func parseKeyValuePairs(pairs []string) (map[string]string, error) {
	result := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("option %q is not in key=value format (example: --option application_name=reports)", pair)
		}
		if key == "" {
			return nil, fmt.Errorf("option has empty key: %q", pair)
		}
		result[key] = value
	}

	return result, nil
}

// parseBindValue turns a command-line argument into a bind value. `\N`
// (as in COPY text format) is NULL, true/false are booleans and integers
// bind as integers; everything else stays text.
func parseBindValue(s string) any {
	switch s {
	case `\N`:
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func parseBindValues(args []string) []any {
	values := make([]any, len(args))
	for i, a := range args {
		values[i] = parseBindValue(a)
	}
	return values
}
