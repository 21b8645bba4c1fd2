package connection

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/livewire/internal/clock"
	"github.com/rickgao/livewire/internal/codec"
	"github.com/rickgao/livewire/internal/model"
)

var epoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// fakeClient is an in-memory Client driven by the test.
type fakeClient struct {
	connectErr error
	messages   chan TimestampedMessage
	errors     chan error
	sent       chan []byte

	mu        sync.Mutex
	connected bool
	closed    bool
}

func newFakeClient(connectErr error) *fakeClient {
	return &fakeClient{
		connectErr: connectErr,
		messages:   make(chan TimestampedMessage, 16),
		errors:     make(chan error, 1),
		sent:       make(chan []byte, 64),
	}
}

func (c *fakeClient) Connect(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	c.sent <- append([]byte(nil), data...)
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *fakeClient) Errors() <-chan error                { return c.errors }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// push delivers an inbound frame.
func (c *fakeClient) push(t *testing.T, env model.Envelope) {
	t.Helper()
	data, err := codec.JSON{}.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.messages <- TimestampedMessage{Data: data, ReceivedAt: time.Now()}
}

// fakeDialer hands out fakeClients and records them.
type fakeDialer struct {
	mu      sync.Mutex
	fail    error
	clients chan *fakeClient
}

func newFakeDialer(fail error) *fakeDialer {
	return &fakeDialer{fail: fail, clients: make(chan *fakeClient, 32)}
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) factory(cfg ClientConfig, logger *slog.Logger) Client {
	d.mu.Lock()
	c := newFakeClient(d.fail)
	d.mu.Unlock()
	d.clients <- c
	return c
}

func (d *fakeDialer) next(t *testing.T) *fakeClient {
	t.Helper()
	select {
	case c := <-d.clients:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

// recorder collects published envelopes.
type recorder struct {
	ch chan model.Envelope
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan model.Envelope, 64)}
}

func (r *recorder) Publish(env model.Envelope) bool {
	select {
	case r.ch <- env:
		return true
	default:
		return false
	}
}

func (r *recorder) expect(t *testing.T, topic model.Topic) model.Envelope {
	t.Helper()
	select {
	case env := <-r.ch:
		if env.Type != topic {
			t.Fatalf("published %q, want %q", env.Type, topic)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %q", topic)
		return model.Envelope{}
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case env := <-r.ch:
		t.Fatalf("unexpected publish of %q", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func readSent(t *testing.T, c *fakeClient) model.Envelope {
	t.Helper()
	select {
	case data := <-c.sent:
		env, err := codec.JSON{}.Decode(data)
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sent frame")
		return model.Envelope{}
	}
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.Status().State, want)
}

type harness struct {
	m      *Manager
	clk    *clock.FakeClock
	dialer *fakeDialer
	rec    *recorder
}

func newHarness(t *testing.T, cfg ManagerConfig, fail error) *harness {
	t.Helper()
	h := &harness{
		clk:    clock.Fake(epoch),
		dialer: newFakeDialer(fail),
		rec:    newRecorder(),
	}
	if cfg.URL == "" {
		cfg.URL = "ws://feed.test/stream"
	}
	h.m = NewManager(cfg, h.rec,
		WithClock(h.clk),
		WithClientFactory(h.dialer.factory),
	)
	if err := h.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.m.Stop(ctx)
	})
	return h
}

func TestManager_ReconnectExhaustion(t *testing.T) {
	cfg := ManagerConfig{
		ReconnectInterval:    100 * time.Millisecond,
		ReconnectMultiplier:  1,
		MaxReconnectAttempts: 3,
	}
	h := newHarness(t, cfg, errors.New("connection refused"))

	if err := h.m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		env := h.rec.expect(t, model.TopicReconnecting)
		var notice model.ReconnectingNotice
		if err := env.Decode(&notice); err != nil {
			t.Fatal(err)
		}
		if notice.Attempt != attempt {
			t.Errorf("attempt = %d, want %d", notice.Attempt, attempt)
		}
		if notice.Delay != 100*time.Millisecond {
			t.Errorf("delay = %v, want 100ms", notice.Delay)
		}
		if notice.MaxAttempts != 3 {
			t.Errorf("maxAttempts = %d, want 3", notice.MaxAttempts)
		}
		h.clk.Advance(100 * time.Millisecond)
	}

	env := h.rec.expect(t, model.TopicDisconnected)
	var notice model.DisconnectedNotice
	if err := env.Decode(&notice); err != nil {
		t.Fatal(err)
	}
	if !notice.Fatal {
		t.Error("expected fatal disconnect")
	}
	if notice.Initiated {
		t.Error("exhaustion should not be reported as initiated")
	}
	if notice.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", notice.Attempts)
	}
	if !strings.Contains(notice.Reason, ErrReconnectExhausted.Error()) {
		t.Errorf("reason = %q", notice.Reason)
	}

	waitForState(t, h.m, StateDisconnected)

	if elapsed := h.clk.Now().Sub(epoch); elapsed != 300*time.Millisecond {
		t.Errorf("gave up after %v, want 300ms", elapsed)
	}
	if n := h.clk.PendingCount(); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}

	// One initial dial plus three reconnects
	if n := len(h.dialer.clients); n != 4 {
		t.Errorf("dials = %d, want 4", n)
	}

	// No further notices
	h.rec.expectNone(t)

	status := h.m.Status()
	if status.Connected || status.Reconnecting {
		t.Errorf("status = %+v", status)
	}
	if status.Attempts != 3 {
		t.Errorf("status attempts = %d, want 3", status.Attempts)
	}
}

func TestManager_ConnectAfterExhaustionStartsOver(t *testing.T) {
	cfg := ManagerConfig{
		ReconnectInterval:    time.Second,
		MaxReconnectAttempts: 1,
	}
	h := newHarness(t, cfg, errors.New("refused"))

	h.m.Connect()
	h.rec.expect(t, model.TopicReconnecting)
	h.clk.Advance(time.Second)
	h.rec.expect(t, model.TopicDisconnected)
	waitForState(t, h.m, StateDisconnected)

	h.dialer.setFail(nil)
	if err := h.m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.rec.expect(t, model.TopicConnected)
	waitForState(t, h.m, StateConnected)

	if got := h.m.Status().Attempts; got != 0 {
		t.Errorf("attempts = %d, want 0", got)
	}
}

func TestManager_ConnectPublishesNotice(t *testing.T) {
	h := newHarness(t, ManagerConfig{URL: "ws://feed.test/a"}, nil)

	if err := h.m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	env := h.rec.expect(t, model.TopicConnected)
	var notice model.ConnectedNotice
	if err := env.Decode(&notice); err != nil {
		t.Fatal(err)
	}
	if notice.URL != "ws://feed.test/a" {
		t.Errorf("url = %q", notice.URL)
	}
	if notice.SessionID != h.m.Stats().SessionID {
		t.Errorf("session = %q, want %q", notice.SessionID, h.m.Stats().SessionID)
	}
	waitForState(t, h.m, StateConnected)

	// Connect while connected is a no-op
	if err := h.m.Connect(); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	h.rec.expectNone(t)
	h.dialer.next(t)
	if n := len(h.dialer.clients); n != 0 {
		t.Errorf("extra dials = %d", n)
	}
}

func TestManager_SocketLossReconnects(t *testing.T) {
	cfg := ManagerConfig{
		ReconnectInterval:    100 * time.Millisecond,
		MaxReconnectAttempts: 5,
	}
	h := newHarness(t, cfg, nil)

	h.m.Connect()
	first := h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)

	first.errors <- errors.New("unexpected EOF")

	env := h.rec.expect(t, model.TopicReconnecting)
	var notice model.ReconnectingNotice
	env.Decode(&notice)
	if notice.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", notice.Attempt)
	}
	if !strings.Contains(notice.Reason, "unexpected EOF") {
		t.Errorf("reason = %q", notice.Reason)
	}
	if !first.isClosed() {
		t.Error("failed socket should be closed")
	}

	h.clk.Advance(100 * time.Millisecond)
	h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)
	waitForState(t, h.m, StateConnected)

	if got := h.m.Status().Attempts; got != 0 {
		t.Errorf("attempts after reconnect = %d, want 0", got)
	}
	if got := h.m.Stats().Reconnects; got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
}

func TestManager_HeartbeatAndLiveness(t *testing.T) {
	cfg := ManagerConfig{
		ReconnectInterval:    time.Second,
		MaxReconnectAttempts: 3,
		HeartbeatInterval:    time.Second,
		LivenessTimeout:      3 * time.Second,
	}
	h := newHarness(t, cfg, nil)

	h.m.Connect()
	c := h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)

	// Pings at 1s, 2s and 3s; silence has not exceeded the timeout yet
	for i := 0; i < 3; i++ {
		h.clk.WaitForTimers(1)
		h.clk.Advance(time.Second)
		env := readSent(t, c)
		if env.Type != model.TopicPing {
			t.Fatalf("sent %q, want ping", env.Type)
		}
		if env.Origin != h.m.Stats().SessionID {
			t.Errorf("ping origin = %q", env.Origin)
		}
	}

	// At 4s nothing has been received for longer than the timeout
	h.clk.WaitForTimers(1)
	h.clk.Advance(time.Second)

	env := h.rec.expect(t, model.TopicReconnecting)
	var notice model.ReconnectingNotice
	env.Decode(&notice)
	if !strings.Contains(notice.Reason, ErrStaleConnection.Error()) {
		t.Errorf("reason = %q, want stale connection", notice.Reason)
	}
	if !c.isClosed() {
		t.Error("stale socket should be closed")
	}
	if got := h.m.Stats().PingsSent; got != 3 {
		t.Errorf("pings = %d, want 3", got)
	}
}

func TestManager_InboundFrameRefreshesLiveness(t *testing.T) {
	cfg := ManagerConfig{
		HeartbeatInterval: time.Second,
		LivenessTimeout:   1500 * time.Millisecond,
	}
	h := newHarness(t, cfg, nil)

	h.m.Connect()
	c := h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)

	for i := 0; i < 4; i++ {
		h.clk.WaitForTimers(1)
		h.clk.Advance(time.Second)
		if env := readSent(t, c); env.Type != model.TopicPing {
			t.Fatalf("sent %q, want ping", env.Type)
		}

		// Peer answers each ping
		c.push(t, model.Envelope{Type: model.TopicPong, SentAt: h.clk.Now()})
		waitForFrames(t, h.m, int64(i+1))
	}

	h.rec.expectNone(t)
	if h.m.Status().State != StateConnected {
		t.Errorf("state = %s, want connected", h.m.Status().State)
	}
}

func waitForFrames(t *testing.T, m *Manager, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Stats().FramesIn >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("frames in = %d, want %d", m.Stats().FramesIn, n)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestManager_AnswersPing(t *testing.T) {
	h := newHarness(t, ManagerConfig{}, nil)

	h.m.Connect()
	c := h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)

	c.push(t, model.Envelope{Type: model.TopicPing, SentAt: epoch})

	env := readSent(t, c)
	if env.Type != model.TopicPong {
		t.Fatalf("sent %q, want pong", env.Type)
	}

	// Liveness frames never reach subscribers
	h.rec.expectNone(t)
	if got := h.m.Stats().PongsSent; got != 1 {
		t.Errorf("pongs = %d, want 1", got)
	}
}

func TestManager_ForwardsData(t *testing.T) {
	h := newHarness(t, ManagerConfig{}, nil)

	h.m.Connect()
	c := h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)

	// Reserved types from the peer are dropped
	c.push(t, model.Envelope{Type: model.TopicConnected, SentAt: epoch})
	c.push(t, model.Envelope{Type: model.TopicAll, SentAt: epoch})

	want, _ := model.NewEnvelope("chat", map[string]string{"text": "hi"}, epoch)
	c.push(t, want)

	got := h.rec.expect(t, "chat")
	if string(got.Payload) != `{"text":"hi"}` {
		t.Errorf("payload = %s", got.Payload)
	}
	if !got.SentAt.Equal(epoch) {
		t.Errorf("sentAt = %v, want %v", got.SentAt, epoch)
	}
	h.rec.expectNone(t)
}

func TestManager_DecodeErrorsCounted(t *testing.T) {
	h := newHarness(t, ManagerConfig{}, nil)

	h.m.Connect()
	c := h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)

	c.messages <- TimestampedMessage{Data: []byte("not json"), ReceivedAt: time.Now()}
	c.messages <- TimestampedMessage{Data: []byte(`{"payload":1}`), ReceivedAt: time.Now()}
	eventually(t, func() bool { return h.m.Stats().DecodeErrors == 2 })

	if h.m.Status().State != StateConnected {
		t.Error("bad frames should not drop the connection")
	}
}

func TestManager_Disconnect(t *testing.T) {
	cfg := ManagerConfig{HeartbeatInterval: time.Second}
	h := newHarness(t, cfg, nil)

	h.m.Connect()
	c := h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)
	h.clk.WaitForTimers(1)

	if err := h.m.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	env := h.rec.expect(t, model.TopicDisconnected)
	var notice model.DisconnectedNotice
	env.Decode(&notice)
	if !notice.Initiated || notice.Fatal {
		t.Errorf("notice = %+v", notice)
	}
	if !c.isClosed() {
		t.Error("socket should be closed")
	}
	if n := h.clk.PendingCount(); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}
	waitForState(t, h.m, StateDisconnected)

	// Disconnecting again publishes nothing
	h.m.Disconnect()
	h.rec.expectNone(t)
}

func TestManager_DisconnectCancelsReconnect(t *testing.T) {
	cfg := ManagerConfig{
		ReconnectInterval:    time.Second,
		MaxReconnectAttempts: 5,
	}
	h := newHarness(t, cfg, errors.New("refused"))

	h.m.Connect()
	h.rec.expect(t, model.TopicReconnecting)

	h.m.Disconnect()
	h.rec.expect(t, model.TopicDisconnected)

	if n := h.clk.PendingCount(); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}

	h.clk.Advance(10 * time.Second)
	h.rec.expectNone(t)
	if n := len(h.dialer.clients); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManager_ConnectDuringReconnectDialsNow(t *testing.T) {
	cfg := ManagerConfig{
		ReconnectInterval:    time.Minute,
		MaxReconnectAttempts: 5,
	}
	h := newHarness(t, cfg, errors.New("refused"))

	h.m.Connect()
	h.dialer.next(t)
	h.rec.expect(t, model.TopicReconnecting)

	h.dialer.setFail(nil)
	h.m.Connect()
	h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)

	if n := h.clk.PendingCount(); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}
}

func TestManager_Send(t *testing.T) {
	h := newHarness(t, ManagerConfig{}, nil)

	err := h.m.Send(model.Envelope{Type: "chat"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before connect = %v, want ErrNotConnected", err)
	}

	h.m.Connect()
	c := h.dialer.next(t)
	h.rec.expect(t, model.TopicConnected)

	if err := h.m.Send(model.Envelope{Type: "chat", Payload: []byte(`"hi"`)}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	env := readSent(t, c)
	if env.Type != "chat" {
		t.Errorf("type = %q", env.Type)
	}
	if env.Origin != h.m.Stats().SessionID {
		t.Errorf("origin = %q, want session id", env.Origin)
	}
	if !env.SentAt.Equal(epoch) {
		t.Errorf("sentAt = %v, want %v", env.SentAt, epoch)
	}
	if got := h.m.Stats().FramesOut; got != 1 {
		t.Errorf("frames out = %d, want 1", got)
	}
}

func TestManager_NotRunning(t *testing.T) {
	m := NewManager(ManagerConfig{URL: "ws://x"}, newRecorder())

	if err := m.Connect(); !errors.Is(err, ErrManagerNotRunning) {
		t.Errorf("Connect = %v, want ErrManagerNotRunning", err)
	}
	if err := m.Send(model.Envelope{Type: "chat"}); !errors.Is(err, ErrManagerNotRunning) {
		t.Errorf("Send = %v, want ErrManagerNotRunning", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop = %v", err)
	}
}

func TestManager_BinaryCodecSetsClientMode(t *testing.T) {
	var got ClientConfig
	m := NewManager(ManagerConfig{URL: "ws://x"}, newRecorder(),
		WithCodec(codec.Msgpack{}),
		WithClientFactory(func(cfg ClientConfig, _ *slog.Logger) Client {
			got = cfg
			return newFakeClient(nil)
		}),
	)
	m.newClient(m.clientCfg, nil)

	if !got.Binary {
		t.Error("msgpack codec should use binary frames")
	}
	if got.URL != "ws://x" {
		t.Errorf("url = %q", got.URL)
	}
}
