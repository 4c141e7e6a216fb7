package webio

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/webio-bridge/internal/webio/webiotest"
)

func TestTCPDialerConnectionRefused(t *testing.T) {
	// Grab a free port, then close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = TCPDialer{}.Dial(context.Background(), addr, time.Second)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Dial() error = %v, want ErrConnectionFailed", err)
	}
}

func TestTCPTransportSendReceive(t *testing.T) {
	server := webiotest.NewServer(t)

	tr, err := TCPDialer{}.Dial(context.Background(), server.Addr(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer tr.Close()

	if err := tr.Send("ping"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(string(got), "OK") {
		chunk, err := tr.Receive(readChunkSize, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Receive() error: %v", err)
		}
		got = append(got, chunk...)
	}
	if string(got) != "OK\r\n" {
		t.Errorf("received %q, want %q", got, "OK\r\n")
	}
	if rx := server.Received(); len(rx) != 1 || rx[0] != "ping" {
		t.Errorf("server received %v, want [ping]", rx)
	}
}

func TestTCPTransportReceiveTimeoutIsEmpty(t *testing.T) {
	server := webiotest.NewServer(t)

	tr, err := TCPDialer{}.Dial(context.Background(), server.Addr(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer tr.Close()

	chunk, err := tr.Receive(readChunkSize, 20*time.Millisecond)
	if err != nil {
		t.Errorf("Receive() error = %v, want nil on timeout", err)
	}
	if len(chunk) != 0 {
		t.Errorf("Receive() = %q, want empty", chunk)
	}
}

func TestTCPTransportReceiveChunkLimit(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	tr := NewTCPTransport(client)
	defer tr.Close()

	go func() {
		_, _ = server.Write([]byte(strings.Repeat("x", 100)))
	}()

	chunk, err := tr.Receive(readChunkSize, time.Second)
	if err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	if len(chunk) != readChunkSize {
		t.Errorf("len(chunk) = %d, want %d", len(chunk), readChunkSize)
	}
}

func TestTCPTransportPeerClose(t *testing.T) {
	server := webiotest.NewServer(t)

	tr, err := TCPDialer{}.Dial(context.Background(), server.Addr(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer tr.Close()

	waitFor(t, "server accept", func() bool { return server.ConnCount() == 1 })
	server.DropConnections()

	_, err = tr.Receive(readChunkSize, time.Second)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Receive() after peer close error = %v, want ErrTransport", err)
	}
}

func TestTCPTransportCloseIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	tr := NewTCPTransport(client)
	if err := tr.Close(); err != nil {
		t.Errorf("first Close() error: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if err := tr.Send("ping"); !errors.Is(err, ErrTransport) {
		t.Errorf("Send() after Close error = %v, want ErrTransport", err)
	}
}

func TestSessionAgainstMockServer(t *testing.T) {
	server := webiotest.NewServer(t)
	host, port := server.HostPort()

	device := NewDevice(DeviceConfig{ID: "lab", Name: "Lab", Host: host, Port: port})
	sw, err := NewSwitch(device, SwitchConfig{Pin: 2, Name: "Lamp"})
	if err != nil {
		t.Fatalf("NewSwitch() error: %v", err)
	}
	sink := &recordingSink{}

	s := NewSession(device, SessionConfig{
		PollInterval:   5 * time.Millisecond,
		ReceiveTimeout: 5 * time.Millisecond,
		ResponseWindow: time.Second,
	}, WithSink(sink))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitFor(t, "initial state", func() bool {
		_, known := sw.IsOn()
		return known
	})
	if on, _ := sw.IsOn(); on {
		t.Error("switch on before any command")
	}

	if err := sw.TurnOn(); err != nil {
		t.Fatalf("TurnOn() error: %v", err)
	}
	waitFor(t, "switch on", func() bool {
		on, _ := sw.IsOn()
		return on
	})

	server.SetInputs(0x80)
	waitFor(t, "input 8 event", func() bool {
		for _, ev := range sink.Events() {
			if ev.Kind == KindInput && ev.Pin == 8 && ev.On {
				return true
			}
		}
		return false
	})

	server.Reject("output2=off")
	if err := sw.TurnOff(); err != nil {
		t.Fatalf("TurnOff() error: %v", err)
	}
	waitFor(t, "rejection", func() bool { return s.Stats().CommandsRejected == 1 })
	if on, _ := sw.IsOn(); !on {
		t.Error("rejected command changed switch state")
	}
}

func TestSessionReconnectsAfterPeerClose(t *testing.T) {
	server := webiotest.NewServer(t)
	host, port := server.HostPort()

	device := NewDevice(DeviceConfig{ID: "lab", Host: host, Port: port})
	s := NewSession(device, SessionConfig{
		PollInterval:   5 * time.Millisecond,
		ReceiveTimeout: 5 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitFor(t, "initial refresh", func() bool { return s.Stats().CommandsAcked == 1 })
	server.DropConnections()

	waitFor(t, "reconnect", func() bool { return s.Stats().Reconnects == 1 && s.State() == StatePolling })

	waitFor(t, "refresh on the new connection", func() bool {
		refreshes := 0
		for _, line := range server.Received() {
			if line == CommandRefresh {
				refreshes++
			}
		}
		return refreshes >= 2
	})
}
