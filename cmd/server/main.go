package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/config"
	httpDelivery "github.com/sheetlens/backend/internal/delivery/http"
	"github.com/sheetlens/backend/internal/usecase"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	// Running without a subcommand starts the pipeline server
	root := &cobra.Command{
		Use:          "sheetlens",
		Short:        "Extract, structure and enrich product data sheets",
		Version:      version,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newLookupCmd(), newIngestCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload and pipeline HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig(os.Stdout)
			if err != nil {
				return err
			}

			logger.Info().
				Str("version", version).
				Str("environment", cfg.Server.Environment).
				Str("port", cfg.Server.Port).
				Msg("starting SheetLens backend")

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := a.warehouse.Migrate(ctx); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			}

			handler := httpDelivery.NewHandler(a.ingest, a.lookup, httpDelivery.HandlerConfig{
				MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
				LookupTimeout:  cfg.EAN.Timeout,
			}, logger)

			return runServer(ctx, cfg, httpDelivery.SetupRouter(cfg, handler, logger), logger)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "create warehouse tables before serving")
	return cmd
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ean-lookup",
		Short: "Run the standalone EAN lookup remote function server",
		Long: "Serves the EAN lookup remote function protocol at POST / and POST /find-ean.\n" +
			"Only the search settings are required.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig(os.Stdout)
			if err != nil {
				return err
			}

			logger.Info().Str("port", cfg.Server.Port).Msg("starting EAN lookup server")

			handler := httpDelivery.NewHandler(nil, newLookupService(cfg, logger), httpDelivery.HandlerConfig{
				LookupTimeout: cfg.EAN.Timeout,
			}, logger)

			return runServer(ctx, cfg, httpDelivery.SetupLookupRouter(cfg, handler, logger), logger)
		},
	}
}

func newIngestCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Run the pipeline once for a local PDF and print the final record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// stdout carries the record; logs go to stderr
			cfg, logger, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}

			path := args[0]
			if err := usecase.ValidateUpload(filepath.Base(path)); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := a.warehouse.Migrate(ctx); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			}

			status := color.New(color.FgCyan).FprintfFunc()
			status(os.Stderr, "Processing %s (%d bytes)\n", path, len(data))

			start := time.Now()
			result, err := a.ingest.Ingest(ctx, usecase.IngestRequest{Filename: filepath.Base(path), Data: data})
			if err != nil {
				color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "FAILED %s: %v\n", path, err)
				return err
			}

			color.New(color.FgGreen, color.Bold).Fprintf(os.Stderr, "OK ")
			status(os.Stderr, "%s -> product %s, %d image(s), EAN %s in %s\n",
				path, result.Record.ProductID, len(result.ImageURLs), result.Record.EANUPC,
				time.Since(start).Round(time.Millisecond))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result.Record)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "create warehouse tables before ingesting")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create warehouse tables and remote objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, logger, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.warehouse.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Warehouse %s migrated\n", cfg.Warehouse.Type)
			return nil
		},
	}
}

// runServer serves until ctx is cancelled, then shuts down gracefully
func runServer(ctx context.Context, cfg *config.Config, router *gin.Engine, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
