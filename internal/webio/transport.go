package webio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Transport defaults.
const (
	// DefaultPort is the TCP port Web-IO controllers listen on.
	DefaultPort = 49218

	// defaultConnectTimeout bounds a single dial attempt.
	defaultConnectTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single command write.
	defaultWriteTimeout = 5 * time.Second

	// readChunkSize is the maximum number of bytes taken per receive.
	readChunkSize = 64
)

// Transport is one open connection to a device.
type Transport interface {
	// Send writes cmd followed by CR LF. Errors wrap ErrTransport.
	Send(cmd string) error

	// Receive performs a single read of at most maxBytes, waiting up to
	// timeout. A timeout with no data returns (nil, nil).
	Receive(maxBytes int, timeout time.Duration) ([]byte, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Dialer opens transports. Swapped out in tests.
type Dialer interface {
	Dial(ctx context.Context, address string, timeout time.Duration) (Transport, error)
}

// TCPDialer dials devices over TCP.
type TCPDialer struct{}

// Ensure TCPDialer implements Dialer.
var _ Dialer = TCPDialer{}

// Dial connects to address. Any failure (refused, unreachable, timed out)
// is returned wrapped in ErrConnectionFailed.
func (TCPDialer) Dial(ctx context.Context, address string, timeout time.Duration) (Transport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, address, err)
	}
	return NewTCPTransport(conn), nil
}

// TCPTransport is a Transport over a net.Conn.
type TCPTransport struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

// Ensure TCPTransport implements Transport.
var _ Transport = (*TCPTransport)(nil)

// NewTCPTransport wraps an established connection.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn}
}

// Send writes the encoded command line.
func (t *TCPTransport) Send(cmd string) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrTransport, err)
	}
	// net.Conn.Write returns an error for any short write.
	if _, err := t.conn.Write(EncodeCommand(cmd)); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// Receive reads whatever the device has sent, up to maxBytes.
func (t *TCPTransport) Receive(maxBytes int, timeout time.Duration) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = readChunkSize
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("%w: set read deadline: %w", ErrTransport, err)
	}

	buf := make([]byte, maxBytes)
	n, err := t.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		return nil, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: read: %w", ErrTransport, err)
}

// Close closes the underlying connection once.
func (t *TCPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
