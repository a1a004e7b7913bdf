package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Records and catalogs go to out, span
// output to errOut.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RESTTAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "resttap",
		Short: "resttap - extract records from REST APIs",
		Long: `resttap extracts records from arbitrary REST APIs, flattens them, infers
their schema and keeps incremental replication state between runs.

Every flag can also be set through a RESTTAP_ environment variable, e.g.
RESTTAP_LOG_LEVEL=debug.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "Path to the tap configuration file (YAML or JSON)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "json", "Log encoding (json or console)")
	pf.String("log-file", "", "Write logs to a rotating file instead of stderr")
	pf.String("trace", "none", "Trace exporter (stdout or none)")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	pf.StringSlice("streams", nil, "Only process these streams")
	pf.Int("max-concurrency", 0, "Streams processed at once (overrides max_concurrency)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "resttap v%s\n", version)
			fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Extract every configured stream",
		Long: `Extract every configured stream, writing one JSON record per line to stdout.

Example:
  resttap run --config tap.yaml --state state.json --state-out state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTap(cmd.Context(), v, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	runCmd.Flags().String("state", "", "Path to the state file of the previous run")
	runCmd.Flags().String("state-out", "", "Write the new state here instead of as a final STATE line")
	runCmd.Flags().Duration("timeout", 0, "Abort the run after this long (0 = no limit)")
	root.AddCommand(runCmd)

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Print the schema of every configured stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return discover(cmd.Context(), v, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	discoverCmd.Flags().String("format", "json", "Catalog format (json or yaml)")
	root.AddCommand(discoverCmd)

	return root
}
