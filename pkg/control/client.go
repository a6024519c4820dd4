package control

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrShuttingDown is returned when slinit refuses a start during shutdown.
var ErrShuttingDown = errors.New("system is shutting down")

// ErrNoService is returned when slinit has no service of the requested name.
var ErrNoService = errors.New("service not found")

// ErrBroken is returned by a Client whose connection failed mid-request.
var ErrBroken = errors.New("control connection broken")

// Client is a connection to a slinit control socket.
// Requests are serialised; a Client is safe for concurrent use.
//
// A read or write that fails, including one cut short by ctx, may leave a
// reply in flight. The connection is then closed and every later request
// fails with ErrBroken.
type Client struct {
	conn net.Conn
	mu   sync.Mutex

	broken    bool
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the control socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to slinit at %s: %w", path, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Broken reports whether the connection was dropped after a failed request.
func (c *Client) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// fail marks the connection unusable. c.mu must be held.
func (c *Client) fail() {
	c.broken = true
	c.Close()
}

// roundTrip sends one command and reads its reply, skipping unsolicited
// info packets. ctx cancellation interrupts a blocked read or write.
func (c *Client) roundTrip(ctx context.Context, cmd uint8, payload []byte) (uint8, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return 0, nil, ErrBroken
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer func() {
		stop()
		c.conn.SetDeadline(time.Time{})
	}()

	if err := WritePacket(c.conn, cmd, payload); err != nil {
		c.fail()
		return 0, nil, c.wrapErr(ctx, "write", err)
	}
	for {
		rply, data, err := ReadPacket(c.conn)
		if err != nil {
			c.fail()
			return 0, nil, c.wrapErr(ctx, "read", err)
		}
		if rply >= InfoServiceEvent {
			continue
		}
		return rply, data, nil
	}
}

func (c *Client) wrapErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// The socket deadline can expire just before ctx notices.
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return fmt.Errorf("%s error: %w", op, err)
}

// QueryVersion returns the protocol version spoken by the server.
func (c *Client) QueryVersion(ctx context.Context) (uint16, error) {
	rply, payload, err := c.roundTrip(ctx, CmdQueryVersion, nil)
	if err != nil {
		return 0, err
	}
	if rply != RplyCPVersion || len(payload) < 2 {
		return 0, fmt.Errorf("unexpected reply: %d", rply)
	}
	return binary.LittleEndian.Uint16(payload), nil
}

// LoadService loads (or finds) a service and returns its record.
func (c *Client) LoadService(ctx context.Context, name string) (ServiceRecord, error) {
	rply, payload, err := c.roundTrip(ctx, CmdLoadService, EncodeServiceName(name))
	if err != nil {
		return ServiceRecord{}, err
	}
	switch rply {
	case RplyServiceRecord:
		rec, err := DecodeServiceRecord(payload)
		if err != nil {
			return ServiceRecord{}, fmt.Errorf("invalid service record reply: %w", err)
		}
		return rec, nil
	case RplyNoService:
		return ServiceRecord{}, fmt.Errorf("%w: '%s'", ErrNoService, name)
	default:
		return ServiceRecord{}, fmt.Errorf("unexpected reply: %d", rply)
	}
}

// StartService requests a start. A service that is already started is not
// an error; the returned bool reports whether it was.
func (c *Client) StartService(ctx context.Context, handle uint32) (bool, error) {
	rply, _, err := c.roundTrip(ctx, CmdStartService, EncodeHandle(handle))
	if err != nil {
		return false, err
	}
	switch rply {
	case RplyACK:
		return false, nil
	case RplyAlreadySS:
		return true, nil
	case RplyShuttingDown:
		return false, ErrShuttingDown
	default:
		return false, fmt.Errorf("unexpected reply: %d", rply)
	}
}

// StopService requests a stop. A service that is already stopped is not
// an error; the returned bool reports whether it was.
func (c *Client) StopService(ctx context.Context, handle uint32) (bool, error) {
	rply, _, err := c.roundTrip(ctx, CmdStopService, EncodeHandle(handle))
	if err != nil {
		return false, err
	}
	switch rply {
	case RplyACK:
		return false, nil
	case RplyAlreadySS:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected reply: %d", rply)
	}
}

// ServiceStatus returns the live status of a service.
func (c *Client) ServiceStatus(ctx context.Context, handle uint32) (ServiceStatusInfo, error) {
	rply, payload, err := c.roundTrip(ctx, CmdServiceStatus, EncodeHandle(handle))
	if err != nil {
		return ServiceStatusInfo{}, err
	}
	if rply != RplyServiceStatus {
		return ServiceStatusInfo{}, fmt.Errorf("unexpected reply: %d", rply)
	}
	return DecodeServiceStatus(payload)
}

// CloseHandle releases a handle on the server.
func (c *Client) CloseHandle(ctx context.Context, handle uint32) error {
	rply, _, err := c.roundTrip(ctx, CmdCloseHandle, EncodeHandle(handle))
	if err != nil {
		return err
	}
	if rply != RplyACK {
		return fmt.Errorf("unexpected reply: %d", rply)
	}
	return nil
}
