// Package systemd drives services through systemctl.
package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/sunlightlinux/slaunch/pkg/logging"
	"github.com/sunlightlinux/slaunch/pkg/service"
)

// Runner runs systemctl with the given arguments and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs the systemctl binary found in PATH.
type ExecRunner struct {
	// Binary defaults to "systemctl".
	Binary string
}

func (r ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = "systemctl"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return out, fmt.Errorf("%s %s: %s: %w", bin, strings.Join(args, " "), strings.TrimSpace(string(ee.Stderr)), err)
		}
		return out, fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return out, nil
}

// Provider resolves units through systemctl.
type Provider struct {
	Runner Runner
	log    *zap.SugaredLogger
}

// NewProvider creates a Provider. A nil runner uses ExecRunner.
func NewProvider(runner Runner, logger *zap.Logger) *Provider {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Provider{
		Runner: runner,
		log:    logging.For(logger, logging.ComponentSystemd),
	}
}

func (p *Provider) show(ctx context.Context, unit, property string) (string, error) {
	out, err := p.Runner.Run(ctx, "show", "-p", property, "--value", unit)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Open checks that the unit is known to systemd.
func (p *Provider) Open(ctx context.Context, name string) (service.Handle, error) {
	load, err := p.show(ctx, name, "LoadState")
	if err != nil {
		return nil, fmt.Errorf("resolving unit %s: %w", name, err)
	}
	if load == "not-found" || load == "" {
		return nil, fmt.Errorf("%w: %s", service.ErrServiceNotFound, name)
	}
	p.log.Debugw("Resolved unit", "service", name, "load_state", load)
	return &Handle{provider: p, unit: name}, nil
}

// Handle is a service.Handle for one systemd unit.
type Handle struct {
	provider *Provider
	unit     string
}

func (h *Handle) Name() string {
	return h.unit
}

// Status maps the unit's ActiveState.
func (h *Handle) Status(ctx context.Context) (service.State, error) {
	active, err := h.provider.show(ctx, h.unit, "ActiveState")
	if err != nil {
		return service.StateUnknown, err
	}
	return ParseActiveState(active), nil
}

// Start queues a start job without waiting for it.
func (h *Handle) Start(ctx context.Context) error {
	_, err := h.provider.Runner.Run(ctx, "start", "--no-block", h.unit)
	return err
}

// Stop queues a stop job without waiting for it.
func (h *Handle) Stop(ctx context.Context) error {
	_, err := h.provider.Runner.Run(ctx, "stop", "--no-block", h.unit)
	return err
}

func (h *Handle) Close() error {
	return nil
}

// ParseActiveState converts a systemd ActiveState value.
func ParseActiveState(s string) service.State {
	switch s {
	case "active", "reloading":
		return service.StateRunning
	case "activating":
		return service.StateStarting
	case "deactivating":
		return service.StateStopping
	case "inactive", "failed":
		return service.StateStopped
	default:
		return service.StateUnknown
	}
}
