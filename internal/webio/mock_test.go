package webio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) { c.Advance(d) }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// MockTransport records sends and replays queued chunks.
type MockTransport struct {
	mu        sync.Mutex
	sent      []string
	pending   [][]byte
	responder func(cmd string) string
	sendErr   error
	recvErr   error
	closed    int

	// idle runs on a Receive that finds nothing pending, standing in for
	// the read deadline of a real socket.
	idle func()
}

func (m *MockTransport) Send(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, cmd)
	if m.responder != nil {
		if reply := m.responder(cmd); reply != "" {
			m.pending = append(m.pending, []byte(reply))
		}
	}
	return nil
}

func (m *MockTransport) Receive(int, time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recvErr != nil {
		return nil, m.recvErr
	}
	if len(m.pending) == 0 {
		if m.idle != nil {
			m.idle()
		}
		return nil, nil
	}
	chunk := m.pending[0]
	m.pending = m.pending[1:]
	return chunk, nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Push(chunk string) {
	m.mu.Lock()
	m.pending = append(m.pending, []byte(chunk))
	m.mu.Unlock()
}

func (m *MockTransport) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockTransport) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDialer hands out transports built by next. A nil transport from next
// is a connect failure.
type MockDialer struct {
	mu         sync.Mutex
	dials      int
	next       func(n int) *MockTransport
	transports []*MockTransport
}

func (d *MockDialer) Dial(context.Context, string, time.Duration) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	t := d.next(d.dials)
	if t == nil {
		return nil, fmt.Errorf("%w: refused", ErrConnectionFailed)
	}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *MockDialer) Transport(i int) *MockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

// alwaysOK answers every command with OK.
func alwaysOK(string) string { return "OK\r\n" }

// recordingSink collects events and outcomes.
type recordingSink struct {
	mu       sync.Mutex
	events   []PinEvent
	outcomes []CommandOutcome
}

func (r *recordingSink) HandlePinEvent(ev PinEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) HandleCommandOutcome(out CommandOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
}

func (r *recordingSink) Events() []PinEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PinEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSink) Outcomes() []CommandOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CommandOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// blockingSink holds the dispatcher worker on its first event until
// release is closed.
type blockingSink struct {
	release chan struct{}
	once    sync.Once
}

func (b *blockingSink) HandlePinEvent(PinEvent) {
	b.once.Do(func() { <-b.release })
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
