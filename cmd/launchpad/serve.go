package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/0xredeth/launchpad/internal/api"
	"github.com/0xredeth/launchpad/internal/launch"
	"github.com/0xredeth/launchpad/internal/store"
	"github.com/0xredeth/launchpad/pkg/config"
)

func serveCmd() *cobra.Command {
	var noEngine bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event stream and reconciler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			watchLogLevel()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if zerolog.GlobalLevel() > zerolog.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := api.New(api.Deps{
				Index:    a.index,
				Launcher: a.saga,
				Operator: a.manager,
				Settler:  a.machine,
				Events:   a.events,
				Logger:   a.logger,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Serve(gctx, fmt.Sprintf(":%d", cfg.Server.HTTPPort))
			})
			g.Go(func() error {
				return serveMetrics(gctx, cfg.Server.MetricsPort)
			})
			if !noEngine {
				eng, err := a.newEngine()
				if err != nil {
					return err
				}
				g.Go(func() error {
					if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}

			err = g.Wait()
			log.Info().Msg("launchpad stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&noEngine, "no-engine", false, "serve the API without the reconciler")
	return cmd
}

// serveMetrics exposes the Prometheus registry until ctx is done.
func serveMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Index.Backend != config.BackendPostgres {
				return fmt.Errorf("migrate only applies to the postgres backend, configured %q", cfg.Index.Backend)
			}
			scfg := store.DefaultConfig()
			scfg.DSN = cfg.Database
			st, err := store.New(scfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(); err != nil {
				return err
			}
			log.Info().Msg("schema migrated")
			return nil
		},
	}
}

// reindexPayload is the file accepted by the reindex command. It matches
// the body of POST /api/presales/reindex and the deployment returned with
// a 202.
type reindexPayload struct {
	Request    launch.Request    `json:"request"`
	Deployment launch.Deployment `json:"deployment"`
}

func reindexCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Index a confirmed deployment that failed to persist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}
			var payload reindexPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("decoding payload: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.saga.Reindex(cmd.Context(), payload.Request, payload.Deployment)
			if err != nil {
				return err
			}
			log.Info().Str("presale", rec.PresaleAddress).Msg("deployment indexed")
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with request and deployment")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
