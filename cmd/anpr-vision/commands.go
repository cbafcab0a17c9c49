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

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"anpr-vision/internal/config"
	"anpr-vision/internal/db"
	"anpr-vision/internal/domain/anpr"
	httpapi "anpr-vision/internal/http"
	"anpr-vision/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func loadConfig(c *cli.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	return cfg, log, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := build(cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			router := httpapi.NewRouter(httpapi.RouterOptions{
				Mode:           cfg.Server.Mode,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				MaxUploadMB:    cfg.Server.MaxUploadMB,
				FilesDir:       app.filesDir,
			}, log)
			handler := httpapi.NewHandler(httpapi.Services{
				Videos:  app.videos,
				Status:  app.status,
				Streams: app.streams,
				Images:  app.images,
				History: app.history,
			}, cfg, log)
			handler.Register(router, httpapi.AuthMiddleware(cfg.Auth.JWTSecret, log))

			srv := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      router,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("http server shutdown")
			}
			if err := app.videos.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("video jobs did not stop in time")
			}
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate needs database.driver=postgres, got %q", cfg.Database.Driver)
			}

			gdb, err := db.Open(dbOptions(cfg, false), log)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}
			return db.Migrate(gdb, log)
		},
	}
}

func detectCommand() *cli.Command {
	return &cli.Command{
		Name:  "detect",
		Usage: "run detection on a single image and write the annotated result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Required: true, Usage: "image to analyse"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "annotated.png", Usage: "where to write the annotated image"},
			&cli.StringFlag{Name: "task", Value: string(anpr.TaskVehicleDetection), Usage: "vehicle_detection or plate_recognition"},
			&cli.IntSliceFlag{Name: "roi", Usage: "region of interest as x1,y1,x2,y2"},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			// offline runs never touch the database
			cfg.Database.Driver = "memory"

			var roi *anpr.ROI
			if v := c.IntSlice("roi"); len(v) > 0 {
				if len(v) != 4 {
					return fmt.Errorf("roi needs 4 values, got %d", len(v))
				}
				roi = &anpr.ROI{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
			}

			data, err := os.ReadFile(c.String("input"))
			if err != nil {
				return err
			}

			app, err := build(cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.images.Detect(c.Context, data, anpr.Task(c.String("task")), roi)
			if err != nil {
				return err
			}
			if err := afero.WriteFile(afero.NewOsFs(), c.String("output"), res.Annotated, 0o644); err != nil {
				return err
			}

			log.Info().
				Int("vehicle_count", res.VehicleCount).
				Int("plate_count", res.PlateCount).
				Str("output", c.String("output")).
				Msg(lo.Ternary(res.Message == "", "detection finished", res.Message))
			return nil
		},
	}
}
