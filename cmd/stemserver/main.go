// Command stemserver serves Demucs stem separation over HTTP.
//
// Usage:
//
//	stemserver [--config stems.yaml]
//
// HOST, PORT and WORKERS override the listen address and the number of
// concurrent separations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-karaoke/internal/config"
	"github.com/cwbudde/algo-karaoke/internal/device"
	"github.com/cwbudde/algo-karaoke/internal/executor"
	"github.com/cwbudde/algo-karaoke/internal/observe"
	"github.com/cwbudde/algo-karaoke/internal/server"
	"github.com/cwbudde/algo-karaoke/internal/stems"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("STEMS_CONFIG"), "YAML config file (optional)")
	flag.Parse()

	log.SetHandler(jsonhandler.New(os.Stderr))

	if err := run(*configPath); err != nil {
		log.WithError(err).Error("Stem server stopped")
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.SetLevelFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec := executor.BinaryFileExecutor{}

	pref, err := device.ParsePreference(cfg.Device)
	if err != nil {
		return err
	}

	dev, err := device.Resolve(ctx, exec, pref)
	if err != nil {
		return err
	}

	provider, err := observe.InitProvider()
	if err != nil {
		return err
	}

	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return errors.Wrap(err, "creating metrics")
	}

	sep := stems.New(exec,
		stems.WithPython(cfg.Demucs.Python),
		stems.WithModels(cfg.Demucs.Model, cfg.Demucs.Models...),
		stems.WithFormat(stems.Format(cfg.Demucs.DefaultFormat)),
		stems.WithBitrate(cfg.Demucs.DefaultBitrate),
		stems.WithTimeout(cfg.Demucs.Timeout),
		stems.WithHealthTimeout(cfg.Demucs.HealthTimeout),
		stems.WithWorkDir(cfg.WorkDir),
		stems.WithDevice(dev),
		stems.WithWorkers(cfg.Workers),
		stems.WithMetrics(metrics),
		stems.WithLogger(log.Log),
	)

	app := server.NewApp(server.Config{
		Separator:      sep,
		Metrics:        metrics,
		MetricsHandler: provider.Handler(),
		Log:            true,
	})

	log.WithFields(log.Fields{
		"addr":    cfg.Address(),
		"workers": cfg.Workers,
		"model":   cfg.Demucs.Model,
		"device":  dev.String(),
	}).Info("Starting stem server")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return errors.Wrap(app.Start(cfg.Address()), "serving http")
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutting down http")
		}

		return errors.Wrap(provider.Shutdown(shutdownCtx), "shutting down metrics")
	})

	return g.Wait()
}
