package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const asciiLogo = `                                   _
 _ __   __ ___      ____ _ _ __ __| | ___ _ __
| '_ \ / _' \ \ /\ / / _' | '__/ _' |/ _ \ '_ \
| |_) | (_| |\ V  V / (_| | | | (_| |  __/ | | |
| .__/ \__, | \_/\_/ \__,_|_|  \__,_|\___|_| |_|
|_|    |___/`

var rootCmd = &cobra.Command{
	Use:   "pgwarden",
	Short: "Resilient PostgreSQL statement runner",
	Long: asciiLogo + `

pgwarden runs SQL against PostgreSQL through a resilience layer. Connections
are shared per target and renewed when they get old, transient failures are
classified and retried, and repeated statements are prepared on the server.

Connection settings are read from pgwarden.yaml, then the environment
(PGHOST, PGPORT, PGUSER, PGDATABASE, PGPASSWORD, PGWARDEN_CONNECTION,
DATABASE_URL), then --connection, then individual flags.

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Database connection failed
  12 - Transaction state error
  13 - Statement failed after retries`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersionInfo(os.Stdout, os.Stderr)
		return nil
	}
	return rootCmd.Execute()
}

func init() {
	// Free -h for --host, as psql does.
	rootCmd.PersistentFlags().Bool("help", false, "Help for pgwarden")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output for all commands")
	rootCmd.PersistentFlags().String("log-format", "console", "Log output format: console or json")
	rootCmd.PersistentFlags().String("config-dir", ".", "Directory containing pgwarden.yaml")
	addConnectionFlags(rootCmd)
}

// getVerboseFlag safely retrieves the verbose flag value
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to get verbose flag: %v\n", err)
		return false
	}
	return verbose
}
