// Package main implements callimport, a CLI that imports call log exports
// straight into a call store without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/calllog/internal/logging"
	"github.com/JonMunkholm/calllog/internal/sink"
)

var version = "dev"

func main() {
	// .env is optional for the CLI
	_ = godotenv.Overload()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// storeFlags selects the call store. Unset flags fall back to the same
// environment variables the server reads.
type storeFlags struct {
	driver     string
	dsn        string
	sqlitePath string
	logLevel   string
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	sf := &storeFlags{}

	root := &cobra.Command{
		Use:   "callimport",
		Short: "Import call log exports into the call store",
		Long: `callimport loads CSV, TSV, xlsx and compressed call log exports into
PostgreSQL, SQLite or an in-memory store, using the same pipeline as the
import server.

The store is chosen with --sink (or SINK_DRIVER). Connection settings come
from --dsn / DATABASE_URL for postgres and --sqlite-path / SQLITE_PATH for
sqlite.`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			sf.fromEnv(cmd)
			sf.logger = logging.New(cmd.ErrOrStderr(), sf.logLevel, "text")
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&sf.driver, "sink", sink.DriverPostgres, "call store: postgres, sqlite or memory (env SINK_DRIVER)")
	pf.StringVar(&sf.dsn, "dsn", "", "PostgreSQL connection string (env DATABASE_URL)")
	pf.StringVar(&sf.sqlitePath, "sqlite-path", "calls.db", "SQLite database file (env SQLITE_PATH)")
	pf.StringVar(&sf.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(sf))
	root.AddCommand(newMigrateCmd(sf))
	root.AddCommand(newProbeCmd(sf))
	root.AddCommand(newResetCmd(sf))
	return root
}

// fromEnv fills flags the user did not set from the environment.
func (sf *storeFlags) fromEnv(cmd *cobra.Command) {
	flags := cmd.Flags()
	envFallback := func(flag, env string, dst *string) {
		if flags.Changed(flag) {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	envFallback("sink", "SINK_DRIVER", &sf.driver)
	envFallback("sqlite-path", "SQLITE_PATH", &sf.sqlitePath)
	// DATABASE_URL wins over the legacy DB_URL.
	envFallback("dsn", "DB_URL", &sf.dsn)
	envFallback("dsn", "DATABASE_URL", &sf.dsn)
	envFallback("log-level", "LOG_LEVEL", &sf.logLevel)
}

// open connects to the selected store.
func (sf *storeFlags) open(ctx context.Context, migrate bool) (sink.Store, error) {
	st, err := sink.Open(ctx, sink.Options{
		Driver:      sf.driver,
		DatabaseURL: sf.dsn,
		SQLitePath:  sf.sqlitePath,
		AutoMigrate: migrate,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", sf.driver, err)
	}
	return st, nil
}
