package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zinrai/ipam-staticip-go/internal/config"
	"github.com/zinrai/ipam-staticip-go/internal/domain"
	"github.com/zinrai/ipam-staticip-go/internal/infrastructure/db"
	"github.com/zinrai/ipam-staticip-go/internal/infrastructure/memstore"
	"github.com/zinrai/ipam-staticip-go/internal/infrastructure/persistence"
	"github.com/zinrai/ipam-staticip-go/internal/interface/api"
	"github.com/zinrai/ipam-staticip-go/internal/usecase"
)

var logger = loggo.GetLogger("ipam.cmd")

const shutdownTimeout = 10 * time.Second

var (
	mainCmd = &cobra.Command{
		Use:           "ipamd",
		Short:         "Static IP address allocation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the IPAM HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostgreSQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != config.DriverPostgres {
				return errors.NotValidf("migrate with %s driver", cfg.Database.Driver)
			}
			database, err := db.Open(cmd.Context(), cfg.Database.DSN)
			if err != nil {
				return errors.Trace(err)
			}
			defer database.Close()
			return errors.Trace(database.Migrate(cmd.Context()))
		},
	}
)

func init() {
	mainCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	mainCmd.AddCommand(
		serveCmd,
		migrateCmd,
	)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	cfg := config.Default()
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, errors.Trace(err)
		}
	}
	if err := loggo.ConfigureLoggers(cfg.Logging); err != nil {
		return config.Config{}, errors.Annotate(err, "configuring logging")
	}
	return cfg, nil
}

// openRepository returns the storage backend named by cfg and a function
// releasing it.
func openRepository(ctx context.Context, cfg config.Database) (domain.IPAMRepository, func(), error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warningf("using the in-memory backend; allocations are lost on exit")
		return memstore.New(), func() {}, nil
	}

	database, err := db.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if cfg.Migrate {
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, errors.Trace(err)
		}
	}
	return persistence.NewIPAMRepository(database), func() { database.Close() }, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeRepo()

	registry := prometheus.NewRegistry()
	collector := db.NewMetricsCollector()
	if err := registry.Register(collector); err != nil {
		return errors.Trace(err)
	}
	retrier := db.NewRetrier(cfg.RetryPolicy(), db.WithCollector(collector))

	router := mux.NewRouter()
	api.NewIPAMHandler(usecase.NewIPAMUseCase(repo, retrier)).Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Trace(err)
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Trace(srv.Shutdown(shutdownCtx))
}

func main() {
	if err := mainCmd.ExecuteContext(context.Background()); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
