// slaunch starts a single service, waits for it to come up and, when asked
// to, keeps watching it and stops it again on exit or interrupt.
//
//	slaunch [options] <serviceName> [waitSeconds]
//
// waitSeconds = 0 returns once the service is running, a positive value
// watches the service at that interval and stops it when the launcher
// exits, and a negative value stops the service instead of starting it.
package main

//go:generate go tool go-md2man -in ../../docs/slaunch.1.md -out ../../docs/slaunch.1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/sunlightlinux/slaunch/internal/util"
	"github.com/sunlightlinux/slaunch/pkg/config"
	"github.com/sunlightlinux/slaunch/pkg/control"
	"github.com/sunlightlinux/slaunch/pkg/eventloop"
	"github.com/sunlightlinux/slaunch/pkg/launcher"
	"github.com/sunlightlinux/slaunch/pkg/logging"
	"github.com/sunlightlinux/slaunch/pkg/metrics"
	"github.com/sunlightlinux/slaunch/pkg/service"
	"github.com/sunlightlinux/slaunch/pkg/systemd"
)

const version = "0.1.0"

func main() {
	sigCh := eventloop.SetupSignals()
	code := run(os.Args[1:], os.Stdout, os.Stderr, sigCh)
	eventloop.StopSignals(sigCh)
	os.Exit(code)
}

func run(args []string, stdout, stderr io.Writer, sigCh <-chan os.Signal) int {
	settings, err := config.Load(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return launcher.ExitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "slaunch: %v\n", err)
		return launcher.ExitFailure
	}
	if settings.ShowVersion {
		fmt.Fprintf(stdout, "slaunch version %s\n", version)
		return launcher.ExitOK
	}

	if settings.ServiceName == "" {
		fmt.Fprintln(stdout, "Please specify the service name.")
		return launcher.ExitMissingName
	}
	waitSeconds, err := util.ParseWaitSeconds(settings.WaitArg)
	if err != nil {
		fmt.Fprintln(stdout, "Sleep time must be zero or a positive integer.")
		return launcher.ExitInvalidWaitTime
	}
	cfg, err := launcher.DecodeConfig(settings.ServiceName, waitSeconds)
	if errors.Is(err, launcher.ErrInvalidWaitTime) {
		fmt.Fprintln(stdout, "Sleep time must be zero or a positive integer.")
	}
	if err != nil {
		return launcher.ExitCode(err)
	}

	logger := logging.New(settings.LogLevel, settings.LogFormat, stderr).With(
		zap.String("launch_id", uuid.NewString()),
		zap.String("service", cfg.ServiceName),
	)
	defer logger.Sync()
	log := logging.For(logger, logging.ComponentLauncher)

	rec := metrics.New(cfg.ServiceName)
	defer func() {
		if err := rec.WriteTextfile(settings.MetricsFile); err != nil {
			logging.For(logger, logging.ComponentMetrics).Errorw("Writing metrics textfile failed",
				"path", settings.MetricsFile, "error", err)
		}
	}()

	l := launcher.New(newProvider(settings, logger), launcher.Options{
		Output:       stdout,
		Logger:       logger,
		Metrics:      rec,
		PollInterval: settings.PollInterval,
		WaitTimeout:  settings.WaitTimeout,
	})

	watcher, ctx := eventloop.Watch(context.Background(), sigCh)
	defer watcher.Stop()
	coord := launcher.NewCoordinator(l, watcher, logger, rec)

	log.Debugw("Launch", "mode", cfg.Mode.String(), "interval", cfg.Interval, "backend", string(settings.Backend))
	err = l.Run(ctx, cfg)

	if coord.Interrupted() {
		return coord.OnInterrupt(coord.Signal())
	}
	if err != nil && !errors.Is(err, service.ErrServiceNotFound) && !errors.Is(err, launcher.ErrNotRunning) {
		log.Errorw("Launch failed", "error", err, "phase", l.Phase())
	}
	return launcher.ExitCode(err)
}

func newProvider(s *config.Settings, logger *zap.Logger) service.Provider {
	switch s.Backend {
	case config.BackendSystemd:
		return systemd.NewProvider(nil, logger)
	default:
		home, _ := os.UserHomeDir()
		return control.NewProvider(control.ResolveSocketPath(s.SocketPath, unix.Getuid(), home), logger)
	}
}
