package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sunlightlinux/slaunch/internal/util"
	"github.com/sunlightlinux/slaunch/pkg/logging"
	"github.com/sunlightlinux/slaunch/pkg/service"
)

const (
	// DefaultSystemSocket is the control socket of a system slinit instance.
	DefaultSystemSocket = "/run/slinit.socket"
	// DefaultUserSocket is the control socket name under the user's home.
	DefaultUserSocket = ".slinitctl"

	defaultDialTimeout = 5 * time.Second
	closeTimeout       = time.Second
)

// ResolveSocketPath returns flagValue if set, the system socket for root,
// and the per-user socket otherwise.
func ResolveSocketPath(flagValue string, uid int, home string) string {
	if flagValue != "" {
		return flagValue
	}
	if uid == 0 {
		return DefaultSystemSocket
	}
	if home == "" {
		return DefaultUserSocket
	}
	return util.CombinePaths(home, DefaultUserSocket)
}

// Provider resolves service names through a slinit control socket.
// Every handle owns its own connection.
type Provider struct {
	SocketPath  string
	DialTimeout time.Duration

	log *zap.SugaredLogger
}

// NewProvider creates a Provider for the socket at socketPath.
func NewProvider(socketPath string, logger *zap.Logger) *Provider {
	return &Provider{
		SocketPath:  socketPath,
		DialTimeout: defaultDialTimeout,
		log:         logging.For(logger, logging.ComponentControl),
	}
}

// Open connects to slinit and loads name.
func (p *Provider) Open(ctx context.Context, name string) (service.Handle, error) {
	client, rec, err := p.connect(ctx, name)
	if err != nil {
		return nil, err
	}
	p.log.Debugw("Loaded service", "service", name, "handle", rec.Handle, "state", rec.State.String(), "socket", p.SocketPath)
	return &Handle{provider: p, client: client, name: name, handle: rec.Handle, log: p.log}, nil
}

// connect dials the socket, checks the protocol version and loads name.
func (p *Provider) connect(ctx context.Context, name string) (*Client, ServiceRecord, error) {
	dialCtx := ctx
	if p.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.DialTimeout)
		defer cancel()
	}

	client, err := Dial(dialCtx, p.SocketPath)
	if err != nil {
		return nil, ServiceRecord{}, err
	}

	version, err := client.QueryVersion(dialCtx)
	if err != nil {
		client.Close()
		return nil, ServiceRecord{}, fmt.Errorf("querying protocol version: %w", err)
	}
	if version != ProtocolVersion {
		client.Close()
		return nil, ServiceRecord{}, fmt.Errorf("unsupported slinit protocol version %d (want %d)", version, ProtocolVersion)
	}

	rec, err := client.LoadService(dialCtx, name)
	if err != nil {
		client.Close()
		if errors.Is(err, ErrNoService) {
			return nil, ServiceRecord{}, fmt.Errorf("%w: %w", service.ErrServiceNotFound, err)
		}
		return nil, ServiceRecord{}, fmt.Errorf("loading service %s: %w", name, err)
	}
	return client, rec, nil
}

// Handle is a service.Handle backed by a slinit control connection.
// When a request leaves the connection broken, the next request redials
// and loads the service again.
type Handle struct {
	provider *Provider

	mu     sync.Mutex
	client *Client
	handle uint32

	name string
	log  *zap.SugaredLogger
}

func (h *Handle) Name() string {
	return h.name
}

// session returns a usable client and the service handle on it.
func (h *Handle) session(ctx context.Context) (*Client, uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.client.Broken() {
		return h.client, h.handle, nil
	}
	client, rec, err := h.provider.connect(ctx, h.name)
	if err != nil {
		return nil, 0, fmt.Errorf("reconnecting to slinit: %w", err)
	}
	h.log.Infow("Reconnected to slinit", "service", h.name, "handle", rec.Handle)
	h.client, h.handle = client, rec.Handle
	return client, rec.Handle, nil
}

// Status reads the live state from slinit.
func (h *Handle) Status(ctx context.Context) (service.State, error) {
	client, id, err := h.session(ctx)
	if err != nil {
		return service.StateUnknown, err
	}
	info, err := client.ServiceStatus(ctx, id)
	if err != nil {
		return service.StateUnknown, err
	}
	return info.State, nil
}

// Start asks slinit to start the service.
func (h *Handle) Start(ctx context.Context) error {
	client, id, err := h.session(ctx)
	if err != nil {
		return err
	}
	already, err := client.StartService(ctx, id)
	if err != nil {
		return err
	}
	if already {
		h.log.Debugw("Service is already started", "service", h.name)
	}
	return nil
}

// Stop asks slinit to stop the service.
func (h *Handle) Stop(ctx context.Context) error {
	client, id, err := h.session(ctx)
	if err != nil {
		return err
	}
	already, err := client.StopService(ctx, id)
	if err != nil {
		return err
	}
	if already {
		h.log.Debugw("Service is already stopped", "service", h.name)
	}
	return nil
}

// Close releases the server-side handle and the connection.
func (h *Handle) Close() error {
	h.mu.Lock()
	client, id := h.client, h.handle
	h.mu.Unlock()

	if client.Broken() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := client.CloseHandle(ctx, id); err != nil && !errors.Is(err, ErrBroken) {
		h.log.Debugw("Closing handle failed", "service", h.name, "error", err)
	}
	return client.Close()
}
