// File: main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"psychology/config"
	"psychology/cron"
	"psychology/routes"
	"psychology/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	root := &cobra.Command{
		Use:   "psychology",
		Short: "Appointment booking, payment and calendar reconciliation service",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadConfig()
			utils.InitializeLogger()
		},
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), syncCmd(), ensureIndexesCmd(), adminTokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var ensureIdx bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the calendar sync loop and the follow-up worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, ensureIdx)
		},
	}
	cmd.Flags().BoolVar(&ensureIdx, "ensure-indexes", true, "create missing indexes on startup")
	return cmd
}

func serve(ctx context.Context, ensureIdx bool) error {
	logger := utils.GetLogger()
	cfg := config.AppConfig

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if ensureIdx {
		if err := a.ensureIndexes(ctx); err != nil {
			return err
		}
	}

	utils.StartHealthMonitor(ctx, a.redisClients, a.db.Client())

	scheduler := cron.NewSingleFlightScheduler("calendar-sync", logger)
	scheduler.Start(ctx, cfg.SyncInterval(), a.reconciler.Run)
	defer scheduler.Stop()

	var worker *asynq.Server
	if cfg.CalendarFollowUpMode == "queue" {
		if worker, err = cron.StartCalendarWorker(a.reconciler, logger); err != nil {
			return err
		}
		defer worker.Shutdown()
	}

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	routes.RegisterRoutes(router, a.handlerBundle(), a.tokenValidator(), logger, cfg.MaxRequestsPerMin)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one calendar busy-time sync and event backfill",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := utils.GetLogger()
			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			tick := a.reconciler.RunSyncTick(cmd.Context())
			logger.Info("Calendar sync finished",
				zap.Bool("ok", tick.Sync.OK),
				zap.Int("busy", tick.Sync.Busy),
				zap.Int("created", tick.Sync.Created),
				zap.Int64("deleted", tick.Sync.Deleted),
				zap.Int("backfilled", tick.Backfilled),
				zap.Int("failed", tick.Failed),
			)
			if !tick.Sync.OK {
				return tick.Sync.Err
			}
			return nil
		},
	}
}

func ensureIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-indexes",
		Short: "Create the MongoDB indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := utils.GetLogger()
			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := a.ensureIndexes(cmd.Context()); err != nil {
				return err
			}
			logger.Info("Indexes ensured")
			return nil
		},
	}
}

func adminTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Print a signed admin bearer token for the integration endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := utils.NewTokenSigner(config.AppConfig.AdminJWTSecret)
			if err != nil {
				return err
			}
			token, err := signer.GenerateToken(subject, utils.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
