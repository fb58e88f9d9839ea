package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgwarden/internal/tui"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect and report server details",
	Long: `Ping connects through the resilience layer, runs SELECT 1 and reports
the server version, the prepare mode chosen for it and the connection
identity.

Examples:
  pgwarden ping -h localhost -U postgres -d mydb
  pgwarden ping --connection "postgresql://app@db:5432/app?sslmode=require"`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, _, closeFn, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := s.Ping(ctx); err != nil {
		fmt.Fprintln(os.Stderr, tui.ErrorStyle.Render(tui.SymbolCross+" ping failed"))
		return err
	}

	mgr := s.Manager()
	mode := "server-side"
	if mgr.EmulatedPrepares() {
		mode = "emulated"
	}
	version := ""
	if h := mgr.Handle(); h != nil {
		version = h.ServerVersion()
	}

	fmt.Fprintln(os.Stderr, tui.SuccessStyle.Render(tui.SymbolCheck+" connected"))
	fmt.Printf("identity: %s\n", mgr.Identity())
	fmt.Printf("server_version: %s\n", version)
	fmt.Printf("prepares: %s\n", mode)
	if schema := mgr.Schema(); schema != "" {
		fmt.Printf("schema: %s\n", schema)
	}
	return nil
}
