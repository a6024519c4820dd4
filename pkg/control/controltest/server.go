// Package controltest serves a minimal slinit control socket backed by
// scripted mock services.
package controltest

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sunlightlinux/slaunch/pkg/control"
	"github.com/sunlightlinux/slaunch/pkg/eventloop"
	"github.com/sunlightlinux/slaunch/pkg/logging"
	"github.com/sunlightlinux/slaunch/pkg/service"
)

// Server is a fake slinit daemon. It answers version, load, start, stop,
// status and close-handle requests.
type Server struct {
	sockPath string
	log      *zap.SugaredLogger

	mu       sync.Mutex
	services map[string]*service.MockHandle
	conns    map[*conn]struct{}
	shutdown bool
	version  uint16
	delay    time.Duration

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a server that will listen on sockPath.
func NewServer(sockPath string, logger *zap.Logger) *Server {
	return &Server{
		sockPath: sockPath,
		log:      logging.For(logger, logging.ComponentControl),
		services: make(map[string]*service.MockHandle),
		conns:    make(map[*conn]struct{}),
		version:  control.ProtocolVersion,
	}
}

// AddService registers a mock service and returns it for scripting.
func (s *Server) AddService(name string, initial service.State) *service.MockHandle {
	h := service.NewMockHandle(name, initial)
	s.mu.Lock()
	s.services[name] = h
	s.mu.Unlock()
	return h
}

// SetShuttingDown makes start requests fail with RplyShuttingDown.
func (s *Server) SetShuttingDown(v bool) {
	s.mu.Lock()
	s.shutdown = v
	s.mu.Unlock()
}

// SetVersion overrides the advertised protocol version.
func (s *Server) SetVersion(v uint16) {
	s.mu.Lock()
	s.version = v
	s.mu.Unlock()
}

// SetStatusDelay delays every status reply by d, as a busy daemon would.
func (s *Server) SetStatusDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.sockPath
}

// Start binds the socket and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	listener, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return err
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.conns {
		c.nc.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.Remove(s.sockPath)
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debugw("Accept failed", "error", err)
			continue
		}

		c := &conn{server: s, nc: nc, handles: make(map[uint32]*service.MockHandle), next: 1}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) lookup(name string) *service.MockHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.services[name]
}

type conn struct {
	server  *Server
	nc      net.Conn
	handles map[uint32]*service.MockHandle
	next    uint32
}

func (c *conn) serve() {
	defer c.nc.Close()

	for {
		cmd, payload, err := control.ReadPacket(c.nc)
		if err != nil {
			if err != io.EOF {
				c.server.log.Debugw("Read failed", "error", err)
			}
			return
		}
		if err := c.dispatch(cmd, payload); err != nil {
			c.server.log.Debugw("Dispatch failed", "command", cmd, "error", err)
			return
		}
	}
}

func (c *conn) reply(rply uint8, payload []byte) error {
	return control.WritePacket(c.nc, rply, payload)
}

func (c *conn) dispatch(cmd uint8, payload []byte) error {
	switch cmd {
	case control.CmdQueryVersion:
		c.server.mu.Lock()
		v := c.server.version
		c.server.mu.Unlock()
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, v)
		return c.reply(control.RplyCPVersion, buf)
	case control.CmdFindService, control.CmdLoadService:
		return c.handleLoad(payload)
	case control.CmdStartService:
		return c.handleStart(payload)
	case control.CmdStopService:
		return c.handleStop(payload)
	case control.CmdServiceStatus:
		return c.handleStatus(payload)
	case control.CmdCloseHandle:
		return c.handleClose(payload)
	default:
		return c.reply(control.RplyBadReq, nil)
	}
}

func (c *conn) handleLoad(payload []byte) error {
	name, _, err := control.DecodeServiceName(payload)
	if err != nil {
		return c.reply(control.RplyBadReq, nil)
	}
	h := c.server.lookup(name)
	if h == nil {
		return c.reply(control.RplyNoService, nil)
	}
	id := c.next
	c.next++
	c.handles[id] = h

	state := h.State()
	return c.reply(control.RplyServiceRecord, control.EncodeServiceRecord(control.ServiceRecord{
		State:       state,
		Handle:      id,
		TargetState: state,
	}))
}

func (c *conn) resolve(payload []byte) *service.MockHandle {
	id, err := control.DecodeHandle(payload)
	if err != nil {
		return nil
	}
	return c.handles[id]
}

func (c *conn) handleStart(payload []byte) error {
	h := c.resolve(payload)
	if h == nil {
		return c.reply(control.RplyBadReq, nil)
	}
	c.server.mu.Lock()
	shutdown := c.server.shutdown
	c.server.mu.Unlock()
	if shutdown {
		return c.reply(control.RplyShuttingDown, nil)
	}
	if h.State() == service.StateRunning {
		return c.reply(control.RplyAlreadySS, nil)
	}
	if err := h.Start(c.server.ctx); err != nil {
		return c.reply(control.RplyNAK, nil)
	}
	return c.reply(control.RplyACK, nil)
}

func (c *conn) handleStop(payload []byte) error {
	h := c.resolve(payload)
	if h == nil {
		return c.reply(control.RplyBadReq, nil)
	}
	if h.State() == service.StateStopped {
		return c.reply(control.RplyAlreadySS, nil)
	}
	if err := h.Stop(c.server.ctx); err != nil {
		return c.reply(control.RplyNAK, nil)
	}
	return c.reply(control.RplyACK, nil)
}

func (c *conn) handleStatus(payload []byte) error {
	h := c.resolve(payload)
	if h == nil {
		return c.reply(control.RplyBadReq, nil)
	}
	state, err := h.Status(c.server.ctx)
	if err != nil {
		return c.reply(control.RplyNAK, nil)
	}

	c.server.mu.Lock()
	delay := c.server.delay
	c.server.mu.Unlock()
	if delay > 0 {
		if err := eventloop.Sleep(c.server.ctx, delay); err != nil {
			return err
		}
	}
	return c.reply(control.RplyServiceStatus, control.EncodeServiceStatus(control.ServiceStatusInfo{
		State:       state,
		TargetState: state,
	}))
}

func (c *conn) handleClose(payload []byte) error {
	id, err := control.DecodeHandle(payload)
	if err != nil {
		return c.reply(control.RplyBadReq, nil)
	}
	if _, ok := c.handles[id]; !ok {
		return c.reply(control.RplyBadReq, nil)
	}
	delete(c.handles, id)
	return c.reply(control.RplyACK, nil)
}
