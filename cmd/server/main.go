/*
main.go - Application entry point

PURPOSE:
  Starts the chit-fund payment ledger server, or exports a pending report
  without starting it. Handles configuration, dependency injection, and
  graceful shutdown.

COMMANDS:
  serve    Run the HTTP API
  export   Write the group x month pending report to an .xlsx file

STARTUP SEQUENCE (serve):
  1. Load config (.env, optional YAML, CHIT_* env, then flags)
  2. Build the JSON logger
  3. Open the SQLite store
  4. Connect the Redis locker when redis_addr is set
  5. Create the ledger service, handler and router
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Redis and the database
  4. Exit

EXAMPLES:
  ./server serve --db=./data/chit.db --port=3000
  ./server serve --db=":memory:"
  CHIT_REDIS_ADDR=localhost:6379 ./server serve
  ./server export --account=acct-1 --month=2024-03 --out=pending.xlsx

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/chit-ledger/api"
	"github.com/warp/chit-ledger/config"
	"github.com/warp/chit-ledger/ledger"
	"github.com/warp/chit-ledger/lock"
	"github.com/warp/chit-ledger/report"
	"github.com/warp/chit-ledger/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "server",
		Short:         "Chit-fund payment ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	root.PersistentFlags().String("db", "", "SQLite database path (\":memory:\" for in-memory)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(&configPath), newExportCmd(&configPath))
	return root
}

// loadConfig reads config and applies the flags the user set.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DB, _ = flags.GetString("db")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Lookup("redis") != nil && flags.Changed("redis") {
		cfg.RedisAddr, _ = flags.GetString("redis")
	}
	return cfg, cfg.Validate()
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP server port")
	cmd.Flags().String("redis", "", "Redis address for per-client locks (empty disables)")
	return cmd
}

func serve(cfg *config.Config) error {
	log := config.NewLogger(cfg.LogLevel, os.Stdout)

	store, err := sqlite.New(cfg.DB, cfg.BatchLimit)
	if err != nil {
		config.LogError(log, "main", "serve", "open database", cfg.DB, err)
		return err
	}
	defer store.Close()

	opts := []ledger.Option{ledger.WithLogger(log), ledger.WithBatchLimit(cfg.BatchLimit)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			config.LogError(log, "main", "serve", "connect redis", cfg.RedisAddr, err)
			return err
		}
		opts = append(opts, ledger.WithLocker(lock.New(rdb, cfg.LockTTL, log)))
		log.WithField("redis", cfg.RedisAddr).Info("per-client locking enabled")
	}

	svc := ledger.NewService(store, opts...)
	router := api.NewRouter(api.NewHandler(svc, log), cfg.CORSOrigins)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr(), "db": cfg.DB}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		config.LogError(log, "main", "serve", "listen", cfg.Addr(), err)
		return err
	case <-quit:
	}

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		config.LogError(log, "main", "serve", "shutdown", nil, err)
		return err
	}
	log.Info("server stopped")
	return nil
}

// =============================================================================
// EXPORT
// =============================================================================

func newExportCmd(configPath *string) *cobra.Command {
	var account, group, client, month, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the pending report to an .xlsx file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			f := ledger.PendingFilter{GroupID: ledger.GroupID(group), ClientID: ledger.ClientID(client)}
			if month != "" {
				if f.ChitMonth, err = ledger.ParseChitMonth(month); err != nil {
					return err
				}
			}
			return export(cmd.Context(), cfg, ledger.AccountID(account), f, out)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account id (required)")
	cmd.Flags().StringVar(&group, "group", "", "Only this group")
	cmd.Flags().StringVar(&client, "client", "", "Only this client")
	cmd.Flags().StringVar(&month, "month", "", "Only this chit month (YYYY-MM)")
	cmd.Flags().StringVar(&out, "out", "pending.xlsx", "Output file")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func export(ctx context.Context, cfg *config.Config, account ledger.AccountID, f ledger.PendingFilter, out string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := config.NewLogger(cfg.LogLevel, os.Stderr)

	store, err := sqlite.New(cfg.DB, cfg.BatchLimit)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := ledger.NewService(store, ledger.WithLogger(log))
	rows, err := svc.PendingByGroupAndMonth(ledger.WithAccount(ctx, account), f)
	if err != nil {
		return err
	}
	wb, err := report.PendingWorkbook(rows)
	if err != nil {
		return err
	}

	file, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := report.Write(file, wb); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"rows": len(rows), "out": out}).Info("pending report written")
	fmt.Fprintln(os.Stdout, out)
	return nil
}
