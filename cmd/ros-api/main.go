package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Cal9233/genthrust-repairs/internal/rosapi"
	"github.com/Cal9233/genthrust-repairs/internal/storage/memory"
	"github.com/Cal9233/genthrust-repairs/internal/storage/sqlstore"
	"github.com/Cal9233/genthrust-repairs/internal/version"
)

const (
	envDSN         = "ROS_API_DSN"
	envDriver      = "ROS_API_DRIVER"
	defaultAddr    = ":3001"
	defaultTimeout = 30 * time.Second
	apiPrefix      = "/api"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMemory   = "memory"
)

type storeOptions struct {
	driver string
	dsn    string
}

// resolve подставляет значения из окружения и нормализует драйвер.
func (o *storeOptions) resolve(lookup func(string) (string, bool)) error {
	if strings.TrimSpace(o.driver) == "" {
		if v, ok := lookup(envDriver); ok {
			o.driver = v
		}
	}
	if strings.TrimSpace(o.dsn) == "" {
		if v, ok := lookup(envDSN); ok {
			o.dsn = v
		}
	}
	o.driver = strings.ToLower(strings.TrimSpace(o.driver))
	o.dsn = strings.TrimSpace(o.dsn)
	if o.driver == "" {
		o.driver = driverPostgres
	}

	switch o.driver {
	case driverMemory:
		return nil
	case driverPostgres, driverSQLite:
		if o.dsn == "" {
			return fmt.Errorf("%s (or --dsn) is required for driver %s", envDSN, o.driver)
		}
		return nil
	default:
		return fmt.Errorf("unsupported driver: %s (use postgres|sqlite|memory)", o.driver)
	}
}

func openSQL(ctx context.Context, opts storeOptions) (*sqlstore.Store, error) {
	if opts.driver == driverSQLite {
		return sqlstore.OpenSQLite(ctx, opts.dsn)
	}
	return sqlstore.Open(ctx, opts.dsn)
}

// openStore возвращает хранилище таблиц и функцию закрытия.
func openStore(ctx context.Context, opts storeOptions, autoMigrate bool) (rosapi.Store, io.Closer, error) {
	if opts.driver == driverMemory {
		return memory.NewTableStore(), io.NopCloser(nil), nil
	}
	store, err := openSQL(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	if autoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return sqlstore.NewTableStore(store), store, nil
}

// newAPIRouter монтирует маршруты rosapi под префиксом /api.
func newAPIRouter(store rosapi.Store, logger *log.Entry) *mux.Router {
	r := mux.NewRouter()
	rosapi.NewHandler(store, rosapi.WithLogger(logger)).Register(r.PathPrefix(apiPrefix).Subrouter())
	return r
}

func newRootCmd(lookup func(string) (string, bool)) *cobra.Command {
	root := &cobra.Command{
		Use:           "ros-api",
		Short:         "HTTP API таблиц заказов на ремонт",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(lookup), newMigrateCmd(lookup))
	return root
}

func newServeCmd(lookup func(string) (string, bool)) *cobra.Command {
	var (
		opts        storeOptions
		addr        string
		autoMigrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.resolve(lookup); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, opts, autoMigrate)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "адрес HTTP сервера")
	cmd.Flags().StringVar(&opts.driver, "driver", "", "хранилище: postgres|sqlite|memory (fallback: "+envDriver+")")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "DSN базы (fallback: "+envDSN+")")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", true, "применить миграции при старте")
	return cmd
}

func serve(ctx context.Context, addr string, opts storeOptions, autoMigrate bool) error {
	logger := log.WithField("component", "ros-api")

	openCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	store, closer, err := openStore(openCtx, opts, autoMigrate)
	cancel()
	if err != nil {
		return err
	}
	defer closer.Close()

	srv := &http.Server{Addr: addr, Handler: newAPIRouter(store, logger), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{"addr": addr, "driver": opts.driver}).Info("ros-api слушает")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
	case err := <-errCh:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMigrateCmd(lookup func(string) (string, bool)) *cobra.Command {
	var (
		opts  storeOptions
		steps int
	)
	run := func(direction string) func(cmd *cobra.Command, _ []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if err := opts.resolve(lookup); err != nil {
				return err
			}
			if opts.driver == driverMemory {
				return errors.New("memory driver has no migrations")
			}
			return migrate(cmd.Context(), cmd.OutOrStdout(), opts, direction, steps)
		}
	}

	cmd := &cobra.Command{Use: "migrate", Short: "Управление миграциями схемы"}
	cmd.PersistentFlags().StringVar(&opts.driver, "driver", "", "база: postgres|sqlite (fallback: "+envDriver+")")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "DSN базы (fallback: "+envDSN+")")
	cmd.PersistentFlags().IntVar(&steps, "steps", 0, "число миграций (0 = все для up, 1 для down)")
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Применить миграции", RunE: run("up")},
		&cobra.Command{Use: "down", Short: "Откатить миграции", RunE: run("down")},
		&cobra.Command{Use: "status", Short: "Показать версию схемы", RunE: run("status")},
	)
	return cmd
}

func migrate(ctx context.Context, out io.Writer, opts storeOptions, direction string, steps int) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	store, err := openSQL(ctx, opts)
	if err != nil {
		return fmt.Errorf("open %s store: %w", opts.driver, err)
	}
	defer store.Close()

	switch direction {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	status, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	if direction == "status" {
		_, err = fmt.Fprintf(out, "migration status: version=%d applied=%d pending=%d\n", status.Version, status.Applied, len(status.Pending))
		for _, step := range status.Pending {
			if err == nil {
				_, err = fmt.Fprintf(out, "  pending %s\n", step)
			}
		}
	} else {
		_, err = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", direction, status.Version, status.Applied)
	}
	return err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if err := newRootCmd(os.LookupEnv).ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
