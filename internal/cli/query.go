package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgwarden/internal/tui"
)

type queryFlagValues struct {
	repeat int
	format string
}

var queryFlags queryFlagValues

var queryCmd = &cobra.Command{
	Use:   "query <sql> [bind values...]",
	Short: "Run a query and print its rows",
	Long: `Query runs a statement and prints the returned rows: a table on an
interactive terminal, one JSON object per row otherwise.

--repeat runs the statement several times, which exercises the statement
cache: the first executions are emulated, later ones use a server-side
prepared statement.

Examples:
  pgwarden query "SELECT id, name FROM users WHERE active = $1" true
  pgwarden query --format json "SELECT now()"`,
	Args: RequireStatement,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryFlags.repeat, "repeat", 1, "Run the query N times and print the last result")
	queryCmd.Flags().StringVar(&queryFlags.format, "format", "auto", "Output format: auto, table or json")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryFlags.repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}

	ctx, cancel := commandContext()
	defer cancel()

	s, logger, closeFn, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	values := parseBindValues(args[1:])
	var rows []map[string]any
	for i := 0; i < queryFlags.repeat; i++ {
		rows, err = s.FetchQueryResults(ctx, args[0], values...)
		if err != nil {
			return err
		}
	}
	if queryFlags.repeat > 1 {
		cache := s.Manager().Cache()
		logger.Verbose("statement cache holds %d prepared statement(s)", cache.Len(s.Manager().Identity()))
	}

	return printRows(os.Stdout, rows, queryFlags.format)
}

func printRows(w io.Writer, rows []map[string]any, format string) error {
	if format == "auto" {
		format = "json"
		if tui.IsInteractive() {
			format = "table"
		}
	}

	switch format {
	case "table":
		fmt.Fprintln(w, tui.RenderTable(rows))
		fmt.Fprintln(w, tui.RowCount(len(rows)))
		return nil
	case "json":
		enc := json.NewEncoder(w)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown --format %q (use auto, table or json)", format)
	}
}
