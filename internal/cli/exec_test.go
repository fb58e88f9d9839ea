package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgwarden/internal/logging"
)

// recordingSession is a pgwarden.Session that records calls and fails the
// statement listed in failOn.
type recordingSession struct {
	calls  []string
	failOn string
	inTx   bool
}

func (r *recordingSession) RunQuery(_ context.Context, query string, _ ...any) (int64, error) {
	r.calls = append(r.calls, query)
	if query == r.failOn {
		return 0, errors.New("boom")
	}
	return 1, nil
}

func (r *recordingSession) FetchQueryResults(context.Context, string, ...any) ([]map[string]any, error) {
	return nil, nil
}

func (r *recordingSession) StartTransaction(context.Context) error {
	r.calls = append(r.calls, "BEGIN")
	r.inTx = true
	return nil
}

func (r *recordingSession) Commit(context.Context) error {
	r.calls = append(r.calls, "COMMIT")
	r.inTx = false
	return nil
}

func (r *recordingSession) Rollback(context.Context) error {
	r.calls = append(r.calls, "ROLLBACK")
	r.inTx = false
	return nil
}

func (r *recordingSession) InTransaction() bool { return r.inTx }

func (r *recordingSession) LastInsertID(context.Context, string) (any, error) { return int64(1), nil }

func (r *recordingSession) SwitchSchema(context.Context, string) error { return nil }

func (r *recordingSession) Close(context.Context) error { return nil }

func TestExecuteStatements(t *testing.T) {
	tests := []struct {
		name      string
		tx        bool
		failOn    string
		wantCalls []string
		wantErr   bool
	}{
		{
			name:      "without transaction",
			wantCalls: []string{"A", "B"},
		},
		{
			name:      "with transaction",
			tx:        true,
			wantCalls: []string{"BEGIN", "A", "B", "COMMIT"},
		},
		{
			name:      "failure rolls back",
			tx:        true,
			failOn:    "A",
			wantCalls: []string{"BEGIN", "A", "ROLLBACK"},
			wantErr:   true,
		},
		{
			name:      "failure without transaction stops",
			failOn:    "A",
			wantCalls: []string{"A"},
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingSession{failOn: tt.failOn}
			err := executeStatements(context.Background(), s, logging.NewNullLogger(), []string{"A", "B"}, nil, tt.tx)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "statement 1")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, s.calls)
			assert.False(t, s.InTransaction())
		})
	}
}

func TestPrintRows_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	rows := []map[string]any{{"id": int64(1), "name": "a"}, {"id": int64(2), "name": nil}}

	require.NoError(t, printRows(&buf, rows, "json"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Nil(t, second["name"])
	assert.EqualValues(t, 2, second["id"])
}

func TestPrintRows_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRows(&buf, []map[string]any{{"id": 1}}, "table"))
	assert.Contains(t, buf.String(), "id")
	assert.Contains(t, buf.String(), "1 row")
}

func TestPrintRows_UnknownFormat(t *testing.T) {
	assert.Error(t, printRows(&bytes.Buffer{}, nil, "csv"))
}
