package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunlightlinux/slaunch/pkg/control/controltest"
	"github.com/sunlightlinux/slaunch/pkg/launcher"
	"github.com/sunlightlinux/slaunch/pkg/service"
)

func startServer(t *testing.T) *controltest.Server {
	t.Helper()
	srv := controltest.NewServer(filepath.Join(t.TempDir(), "slinit.socket"), nil)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func runArgs(srv *controltest.Server, sigCh <-chan os.Signal, args ...string) (int, string) {
	var stdout, stderr bytes.Buffer
	full := append([]string{"--socket-path", srv.Path(), "--poll-interval", "1ms"}, args...)
	code := run(full, &stdout, &stderr, sigCh)
	return code, stdout.String()
}

func TestRunMissingServiceName(t *testing.T) {
	srv := startServer(t)
	code, out := runArgs(srv, nil)
	assert.Equal(t, launcher.ExitMissingName, code)
	assert.Equal(t, "Please specify the service name.\n", out)
}

func TestRunInvalidWait(t *testing.T) {
	srv := startServer(t)
	mock := srv.AddService("web", service.StateStopped)

	code, out := runArgs(srv, nil, "web", "soon")
	assert.Equal(t, launcher.ExitInvalidWaitTime, code)
	assert.Equal(t, "Sleep time must be zero or a positive integer.\n", out)

	starts, stops, statuses := mock.Counts()
	assert.Zero(t, starts+stops+statuses)
}

func TestRunWaitTooLarge(t *testing.T) {
	srv := startServer(t)
	mock := srv.AddService("web", service.StateStopped)

	code, out := runArgs(srv, nil, "web", "10000000000")
	assert.Equal(t, launcher.ExitInvalidWaitTime, code)
	assert.Equal(t, "Sleep time must be zero or a positive integer.\n", out)

	starts, _, _ := mock.Counts()
	assert.Zero(t, starts)
}

func TestRunServiceNotFound(t *testing.T) {
	srv := startServer(t)
	code, out := runArgs(srv, nil, "ghost")
	assert.Equal(t, launcher.ExitServiceNotFound, code)
	assert.Contains(t, out, "Service [ghost] was not found.")
}

func TestRunStartWithoutWait(t *testing.T) {
	srv := startServer(t)
	mock := srv.AddService("web", service.StateStopped)

	code, out := runArgs(srv, nil, "web")
	assert.Equal(t, launcher.ExitOK, code)
	assert.Contains(t, out, "Service [web] Status: STOPPED")
	assert.Contains(t, out, "Service [web] is starting...")
	assert.Equal(t, service.StateRunning, mock.State())
}

func TestRunStopMode(t *testing.T) {
	srv := startServer(t)
	mock := srv.AddService("web", service.StateRunning)

	code, out := runArgs(srv, nil, "web", "-1")
	assert.Equal(t, launcher.ExitOK, code)
	assert.Contains(t, out, "Service [web] is stopping...")
	assert.Equal(t, service.StateStopped, mock.State())
}

func TestRunInterruptStopsService(t *testing.T) {
	srv := startServer(t)
	mock := srv.AddService("web", service.StateStopped)
	sigCh := make(chan os.Signal, 2)

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for mock.State() != service.StateRunning && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		sigCh <- syscall.SIGINT
	}()

	metricsFile := filepath.Join(t.TempDir(), "slaunch.prom")
	code, out := runArgs(srv, sigCh, "--metrics-file", metricsFile, "web", "60")

	assert.Equal(t, int(syscall.SIGINT), code)
	assert.Contains(t, out, "Interrupt signal (2) received.")
	assert.Contains(t, out, "Service [web] is stopping...")
	assert.Equal(t, service.StateStopped, mock.State())

	_, stops, _ := mock.Counts()
	assert.Equal(t, 1, stops)

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "slaunch_interrupts_total")
}

func TestRunVersion(t *testing.T) {
	var stdout bytes.Buffer
	code := run([]string{"--version"}, &stdout, &bytes.Buffer{}, nil)
	assert.Equal(t, launcher.ExitOK, code)
	assert.Equal(t, "slaunch version 0.1.0\n", stdout.String())
}

func TestRunBadFlag(t *testing.T) {
	code := run([]string{"--backend", "upstart", "web"}, &bytes.Buffer{}, &bytes.Buffer{}, nil)
	assert.Equal(t, launcher.ExitFailure, code)
}
