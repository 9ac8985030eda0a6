package notifier

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/envforge/envforge/pkg/types"
)

// fakeConn is an in-memory stand-in for *websocket.Conn: reads are fed from
// a channel, writes are recorded, and Close marks the connection dead so a
// blocked read returns.
type fakeConn struct {
	mu       sync.Mutex
	writes   []interface{}
	reads    chan command
	closed   bool
	closeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan command, 10)}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("conn closed")
	}
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeConn) ReadJSON(v interface{}) error {
	cmd, ok := <-f.reads
	if !ok {
		return errors.New("conn closed")
	}
	p := v.(*command)
	*p = cmd
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.reads)
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(h func(string) error) {}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeConn) lastWrite() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func waitForWrites(t *testing.T, c *fakeConn, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.writeCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least %d writes, got %d", n, c.writeCount())
}

func TestNewSessionRequiresPrincipal(t *testing.T) {
	n := New()
	if _, err := n.NewSession(newFakeConn(), ""); err == nil {
		t.Error("expected an error when principal is empty")
	}
}

func TestPublishStatusReachesSubscriber(t *testing.T) {
	n := New()
	c := newFakeConn()
	sess, err := n.NewSession(c, "owner-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	go sess.Run()

	c.reads <- command{Action: "SUBSCRIBE", EnvironmentID: "env-1"}
	time.Sleep(20 * time.Millisecond) // let the read pump process the subscribe

	env := &types.Environment{ID: "env-1", Status: types.StatusRunning, UpdatedAt: time.Now()}
	n.PublishStatus(env)

	waitForWrites(t, c, 1)
	envelope, ok := c.lastWrite().(StatusEnvelope)
	if !ok {
		t.Fatalf("expected a StatusEnvelope, got %T", c.lastWrite())
	}
	if envelope.EnvironmentID != "env-1" || envelope.Status != "RUNNING" {
		t.Errorf("unexpected envelope: %+v", envelope)
	}

	c.Close()
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := New()
	c := newFakeConn()
	sess, err := n.NewSession(c, "owner-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	go sess.Run()

	c.reads <- command{Action: "SUBSCRIBE", EnvironmentID: "env-1"}
	time.Sleep(20 * time.Millisecond)
	c.reads <- command{Action: "UNSUBSCRIBE", EnvironmentID: "env-1"}
	time.Sleep(20 * time.Millisecond)

	n.PublishStatus(&types.Environment{ID: "env-1", Status: types.StatusStopped, UpdatedAt: time.Now()})
	time.Sleep(50 * time.Millisecond)

	if c.writeCount() != 0 {
		t.Errorf("expected no writes after unsubscribe, got %d", c.writeCount())
	}
	c.Close()
}

func TestPublishMetricsReachesProjectSubscriber(t *testing.T) {
	n := New()
	c := newFakeConn()
	sess, err := n.NewSession(c, "owner-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	go sess.Run()

	c.reads <- command{Action: "SUBSCRIBE", ProjectID: "owner-1"}
	time.Sleep(20 * time.Millisecond)

	n.PublishMetrics("owner-1", []*types.MetricSample{
		{EnvironmentID: "env-1", Kind: types.MetricCPU, Name: "cpu_usage_percent", Value: 23.4, Unit: "percent", Timestamp: time.Now()},
	})

	waitForWrites(t, c, 1)
	envelope, ok := c.lastWrite().(MetricsEnvelope)
	if !ok {
		t.Fatalf("expected a MetricsEnvelope, got %T", c.lastWrite())
	}
	if envelope.ProjectID != "owner-1" || len(envelope.Metrics) != 1 {
		t.Errorf("unexpected envelope: %+v", envelope)
	}
	if envelope.Metrics[0].MetricType != "CPU" {
		t.Errorf("expected metric type CPU, got %s", envelope.Metrics[0].MetricType)
	}

	c.Close()
}

func TestSessionRemovedFromIndexOnClose(t *testing.T) {
	n := New()
	c := newFakeConn()
	sess, err := n.NewSession(c, "owner-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	done := make(chan struct{})
	go func() { sess.Run(); close(done) }()

	c.reads <- command{Action: "SUBSCRIBE", EnvironmentID: "env-1"}
	time.Sleep(20 * time.Millisecond)
	if n.SubscriberCount("env-1") != 1 {
		t.Fatalf("expected one subscriber, got %d", n.SubscriberCount("env-1"))
	}

	c.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not exit after connection close")
	}

	if n.SubscriberCount("env-1") != 0 {
		t.Errorf("expected session to be removed from the index on close, got %d remaining", n.SubscriberCount("env-1"))
	}
}

func TestEnqueueDropsOldestWhenBufferFull(t *testing.T) {
	n := New()
	sess := &Session{n: n, out: make(chan interface{}, 2)}

	sess.enqueue("a")
	sess.enqueue("b")
	sess.enqueue("c") // buffer holds 2; "a" should be dropped

	first := <-sess.out
	second := <-sess.out
	if first != "b" || second != "c" {
		t.Errorf("expected [b c], got [%v %v]", first, second)
	}
	if sess.lagged != 1 {
		t.Errorf("expected lagged to be incremented once, got %d", sess.lagged)
	}
}

func TestPingCommandQueuesAPong(t *testing.T) {
	n := New()
	c := newFakeConn()
	sess, err := n.NewSession(c, "owner-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	go sess.Run()

	c.reads <- command{Action: "PING"}
	waitForWrites(t, c, 1)

	payload, ok := c.lastWrite().(pingPayload)
	if !ok {
		t.Fatalf("expected a pingPayload, got %T", c.lastWrite())
	}
	if payload.Type != "pong" {
		t.Errorf("expected a pong reply, got %q", payload.Type)
	}
	c.Close()
}
