package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

type execFlagValues struct {
	statements   []string
	tx           bool
	lastInsertID bool
	sequence     string
}

var execFlags execFlagValues

var execCmd = &cobra.Command{
	Use:   "exec [bind values...]",
	Short: "Execute statements and report affected rows",
	Long: `Exec runs one or more statements given with -c, in order, binding the
positional arguments to $1, $2, ... of every statement.

Bind values: \N is NULL, true/false are booleans, integers bind as
integers, anything else is text.

With --tx the statements run inside one transaction; the first failure
rolls it back.

Examples:
  pgwarden exec -c "INSERT INTO t (name) VALUES ($1)" alice --last-insert-id
  pgwarden exec --tx -c "UPDATE a SET n = n - 1" -c "UPDATE b SET n = n + 1"`,
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringArrayVarP(&execFlags.statements, "command", "c", nil, "SQL statement to run (repeatable)")
	execCmd.Flags().BoolVar(&execFlags.tx, "tx", false, "Run all statements in one transaction")
	execCmd.Flags().BoolVar(&execFlags.lastInsertID, "last-insert-id", false, "Print the last generated identifier")
	execCmd.Flags().StringVar(&execFlags.sequence, "sequence", "", "Sequence for --last-insert-id (default: most recent)")
	_ = execCmd.MarkFlagRequired("command")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, logger, closeFn, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	values := parseBindValues(args)
	if err := executeStatements(ctx, s, logger, execFlags.statements, values, execFlags.tx); err != nil {
		return err
	}

	if execFlags.lastInsertID {
		id, err := s.LastInsertID(ctx, execFlags.sequence)
		if err != nil {
			return err
		}
		fmt.Printf("last_insert_id: %v\n", id)
	}
	return nil
}

// executeStatements runs statements in order, optionally bracketed by a
// transaction that is rolled back on the first failure.
func executeStatements(ctx context.Context, s pgwarden.Session, logger pgwarden.Logger, statements []string, values []any, tx bool) error {
	if tx {
		if err := s.StartTransaction(ctx); err != nil {
			return err
		}
	}

	for i, stmt := range statements {
		n, err := s.RunQuery(ctx, stmt, values...)
		if err != nil {
			if tx {
				if rbErr := s.Rollback(ctx); rbErr != nil {
					logger.Error("rollback after failure: %v", rbErr)
					return errors.Join(err, rbErr)
				}
				logger.Info("transaction rolled back")
			}
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
		fmt.Printf("%d row(s) affected\n", n)
	}

	if tx {
		return s.Commit(ctx)
	}
	return nil
}

