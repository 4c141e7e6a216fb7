// Package webiotest provides an in-process Web-IO controller for tests.
//
// The server speaks the same line protocol as the hardware: getupdate
// answers with both masks, ping answers OK, outputN=<action> updates the
// output mask and reports it. Input changes are pushed unsolicited.
package webiotest

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const pinCount = 8

// Server is a fake Web-IO controller listening on 127.0.0.1.
type Server struct {
	t        testing.TB
	listener net.Listener

	mu       sync.Mutex
	inputs   uint16
	outputs  uint16
	received []string
	conns    []net.Conn
	reject   map[string]bool
	silent   bool

	wg sync.WaitGroup
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		t:        t,
		listener: listener,
		reject:   make(map[string]bool),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// HostPort returns the listening host and port.
func (s *Server) HostPort() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// Addr returns the listening address as host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		reply := s.handle(line)
		if reply == "" {
			continue
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (s *Server) handle(line string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received = append(s.received, line)
	if s.silent {
		return ""
	}
	if s.reject[line] {
		return "ERROR\r\n"
	}

	switch {
	case line == "getupdate":
		return fmt.Sprintf("inputs=%d\r\noutputs=%d\r\nOK\r\n", s.inputs, s.outputs)
	case line == "ping":
		return "OK\r\n"
	case strings.HasPrefix(line, "output"):
		pinStr, action, ok := strings.Cut(strings.TrimPrefix(line, "output"), "=")
		pin, err := strconv.Atoi(pinStr)
		if !ok || err != nil || pin < 1 || pin > pinCount {
			return "ERROR\r\n"
		}
		bit := uint16(1) << (pin - 1)
		switch {
		case action == "on":
			s.outputs |= bit
		case action == "off":
			s.outputs &^= bit
		case action == "toggle":
			s.outputs ^= bit
		case strings.HasPrefix(action, "pulse-"):
			// A pulse completes instantly here.
		default:
			return "ERROR\r\n"
		}
		return fmt.Sprintf("outputs=%d\r\nOK\r\n", s.outputs)
	default:
		return "ERROR\r\n"
	}
}

// SetInputs changes the inputs and pushes the new mask to all clients.
func (s *Server) SetInputs(mask uint16) {
	s.mu.Lock()
	s.inputs = mask
	conns := append([]net.Conn(nil), s.conns...)
	s.mu.Unlock()

	for _, c := range conns {
		_, _ = c.Write([]byte(fmt.Sprintf("inputs=%d\r\n", mask)))
	}
}

// SetOutputs sets the output mask reported by the next getupdate.
func (s *Server) SetOutputs(mask uint16) {
	s.mu.Lock()
	s.outputs = mask
	s.mu.Unlock()
}

// Outputs returns the current output mask.
func (s *Server) Outputs() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs
}

// Reject makes the server answer cmd with ERROR.
func (s *Server) Reject(cmd string) {
	s.mu.Lock()
	s.reject[cmd] = true
	s.mu.Unlock()
}

// SetSilent stops the server from answering anything.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// Received returns every line the server has read, in order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

// ConnCount returns the number of open client connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes all accepted connections.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Close stops the listener and all connections.
func (s *Server) Close() {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.t.Logf("close listener: %v", err)
	}
	s.DropConnections()
	s.wg.Wait()
}
