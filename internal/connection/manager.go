package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/livewire/internal/clock"
	"github.com/rickgao/livewire/internal/codec"
	"github.com/rickgao/livewire/internal/model"
)

// Manager owns the socket lifecycle: state machine, heartbeat, liveness
// checks and reconnect scheduling.
type Manager struct {
	cfg       ManagerConfig
	clientCfg ClientConfig
	newClient ClientFactory
	codec     codec.Codec
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger
	sessionID string

	events  chan event
	done    chan struct{} // closed when the event loop exits
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	// Event-loop state. Only touched from run().
	state          State
	policy         *Backoff
	conn           Client
	connStop       chan struct{}
	gen            uint64 // bumped whenever the current socket is replaced or dropped
	reconnectTimer *clock.Timer
	heartbeatTimer *clock.Timer
	lastSeen       time.Time

	statusMu sync.RWMutex
	status   Status

	framesIn     atomic.Int64
	framesOut    atomic.Int64
	decodeErrors atomic.Int64
	reconnects   atomic.Int64
	pingsSent    atomic.Int64
	pongsSent    atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source for timers and liveness checks.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCodec sets the frame codec. JSON is used by default.
func WithCodec(c codec.Codec) Option {
	return func(m *Manager) {
		m.codec = c
	}
}

// WithClientConfig overrides the socket client settings. The URL always
// comes from ManagerConfig.
func WithClientConfig(cfg ClientConfig) Option {
	return func(m *Manager) {
		m.clientCfg = cfg
	}
}

// WithClientFactory replaces the websocket client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) {
		m.newClient = f
	}
}

// NewManager creates a Connection Manager that publishes inbound
// envelopes and notices to publisher.
func NewManager(cfg ManagerConfig, publisher Publisher, opts ...Option) *Manager {
	if cfg.LivenessTimeout == 0 {
		cfg.LivenessTimeout = 3 * cfg.HeartbeatInterval
	}
	if cfg.EventBufferSize < 1 {
		cfg.EventBufferSize = DefaultManagerConfig().EventBufferSize
	}

	m := &Manager{
		cfg:       cfg,
		clientCfg: DefaultClientConfig(),
		newClient: NewClient,
		codec:     codec.JSON{},
		publisher: publisher,
		clock:     clock.Real(),
		logger:    slog.Default(),
		sessionID: uuid.NewString(),
		events:    make(chan event, cfg.EventBufferSize),
		done:      make(chan struct{}),
		policy:    NewBackoff(cfg),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.clientCfg.URL = cfg.URL
	m.clientCfg.Binary = m.codec.Binary()
	m.logger = m.logger.With("component", "connection", "session", m.sessionID)
	m.status = Status{
		State:       StateDisconnected,
		StateName:   StateDisconnected.String(),
		MaxAttempts: cfg.MaxReconnectAttempts,
	}

	return m
}

// event is anything processed by the event loop.
type event interface{}

type connectCmd struct{ done chan struct{} }

type disconnectCmd struct{ done chan struct{} }

type sendCmd struct {
	env    model.Envelope
	result chan error
}

type dialResult struct {
	gen    uint64
	client Client
	err    error
}

type frameIn struct {
	gen uint64
	msg TimestampedMessage
}

type socketClosed struct {
	gen uint64
	err error
}

type reconnectDue struct{ gen uint64 }

type heartbeatDue struct{ gen uint64 }

// Start runs the event loop. It does not connect; call Connect.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("connection manager already started")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started",
		"url", m.cfg.URL,
		"codec", m.codec.Name(),
		"heartbeat", m.cfg.HeartbeatInterval,
		"max_reconnect_attempts", m.cfg.MaxReconnectAttempts,
	)
	return nil
}

// Stop disconnects and shuts the event loop down.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.running.Load() {
		return nil
	}

	m.logger.Info("stopping connection manager")
	m.Disconnect()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("connection manager stop timed out")
		return ctx.Err()
	}
}

// Connect opens the socket unless it is already connected or connecting.
// A pending reconnect is replaced by an immediate dial, and the attempt
// counter starts over.
func (m *Manager) Connect() error {
	return m.command(func(done chan struct{}) event { return connectCmd{done: done} })
}

// Disconnect cancels pending timers, closes the socket with a
// normal-closure code and leaves the manager Disconnected until the next
// Connect.
func (m *Manager) Disconnect() error {
	return m.command(func(done chan struct{}) event { return disconnectCmd{done: done} })
}

func (m *Manager) command(build func(chan struct{}) event) error {
	if !m.running.Load() {
		return ErrManagerNotRunning
	}

	done := make(chan struct{})
	if !m.post(build(done)) {
		return ErrManagerNotRunning
	}

	select {
	case <-done:
		return nil
	case <-m.done:
		return ErrManagerNotRunning
	}
}

// Send writes env to the socket. It returns ErrNotConnected when the
// manager is not Connected; nothing is queued.
func (m *Manager) Send(env model.Envelope) error {
	if !m.running.Load() {
		return ErrManagerNotRunning
	}

	result := make(chan error, 1)
	if !m.post(sendCmd{env: env, result: result}) {
		return ErrManagerNotRunning
	}

	select {
	case err := <-result:
		return err
	case <-m.done:
		return ErrManagerNotRunning
	}
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

// Stats returns current counters.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		SessionID:    m.sessionID,
		FramesIn:     m.framesIn.Load(),
		FramesOut:    m.framesOut.Load(),
		DecodeErrors: m.decodeErrors.Load(),
		Reconnects:   m.reconnects.Load(),
		PingsSent:    m.pingsSent.Load(),
		PongsSent:    m.pongsSent.Load(),
	}
}

// post queues an event for the loop. Returns false once the loop exited.
func (m *Manager) post(ev event) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// run is the event loop.
func (m *Manager) run() {
	defer m.wg.Done()
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			return
		case ev := <-m.events:
			m.handle(ev)
			m.snapshot()
		}
	}
}

func (m *Manager) handle(ev event) {
	switch ev := ev.(type) {
	case connectCmd:
		m.connect()
		close(ev.done)

	case disconnectCmd:
		m.disconnect()
		close(ev.done)

	case sendCmd:
		ev.result <- m.send(ev.env)

	case dialResult:
		if ev.gen != m.gen || m.state != StateConnecting {
			// Superseded by a disconnect or a newer dial
			ev.client.Close()
			return
		}
		if ev.err != nil {
			m.logger.Warn("dial failed", "url", m.cfg.URL, "error", ev.err)
			m.handleFailure(&TransportError{Op: "dial", Err: ev.err})
			return
		}
		m.handleOpen(ev.client)

	case frameIn:
		if ev.gen != m.gen || m.state != StateConnected {
			return
		}
		m.handleFrame(ev.msg)

	case socketClosed:
		if ev.gen != m.gen || m.state != StateConnected {
			return
		}
		m.logger.Warn("connection lost", "error", ev.err)
		m.handleFailure(&TransportError{Op: "read", Err: ev.err})

	case reconnectDue:
		if ev.gen != m.gen || m.state != StateReconnecting {
			return
		}
		m.reconnectTimer = nil
		m.logger.Info("attempting reconnection",
			"attempt", m.policy.Attempts(),
			"max_attempts", m.cfg.MaxReconnectAttempts,
		)
		m.dial()

	case heartbeatDue:
		if ev.gen != m.gen || m.state != StateConnected {
			return
		}
		m.heartbeatTimer = nil
		m.heartbeat()
	}
}

func (m *Manager) connect() {
	switch m.state {
	case StateConnected, StateConnecting:
		m.logger.Debug("connect ignored", "state", m.state)
		return
	case StateReconnecting:
		m.stopReconnectTimer()
	}

	m.policy.Reset()
	m.dial()
}

// dial starts an asynchronous connection attempt for a new generation.
func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	m.setState(StateConnecting)

	c := m.newClient(m.clientCfg, m.logger)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := c.Connect(m.ctx)
		if !m.post(dialResult{gen: gen, client: c, err: err}) {
			c.Close()
		}
	}()
}

func (m *Manager) handleOpen(c Client) {
	m.conn = c
	m.connStop = make(chan struct{})
	m.policy.Reset()
	m.lastSeen = m.clock.Now()
	m.setState(StateConnected)

	m.wg.Add(1)
	go m.pump(m.gen, c, m.connStop)

	m.scheduleHeartbeat()

	m.logger.Info("connected", "url", m.cfg.URL)
	m.notify(model.TopicConnected, model.ConnectedNotice{
		URL:       m.cfg.URL,
		SessionID: m.sessionID,
		At:        m.lastSeen,
	})
}

// handleFailure applies the reconnect policy after a transport failure.
func (m *Manager) handleFailure(err error) {
	m.dropConn()

	if m.policy.Exhausted() {
		exhausted := &ReconnectExhaustedError{Attempts: m.policy.Attempts()}
		m.setState(StateDisconnected)
		m.logger.Error("giving up on connection",
			"attempts", exhausted.Attempts,
			"error", err,
		)
		m.notify(model.TopicDisconnected, model.DisconnectedNotice{
			Reason:      exhausted.Error(),
			Attempts:    exhausted.Attempts,
			MaxAttempts: m.cfg.MaxReconnectAttempts,
			Fatal:       true,
		})
		return
	}

	attempt, delay := m.policy.Next()
	m.reconnects.Add(1)
	m.setState(StateReconnecting)

	gen := m.gen
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.post(reconnectDue{gen: gen})
	})

	m.logger.Info("scheduling reconnect",
		"attempt", attempt,
		"delay", delay,
		"error", err,
	)
	m.notify(model.TopicReconnecting, model.ReconnectingNotice{
		Attempt:     attempt,
		MaxAttempts: m.cfg.MaxReconnectAttempts,
		Delay:       delay,
		Reason:      err.Error(),
	})
}

func (m *Manager) disconnect() {
	prev := m.state

	m.stopReconnectTimer()
	m.dropConn()
	m.setState(StateDisconnected)

	if prev == StateDisconnected {
		return
	}

	m.logger.Info("disconnected by caller", "previous_state", prev)
	m.notify(model.TopicDisconnected, model.DisconnectedNotice{
		Reason:      "client disconnect",
		Attempts:    m.policy.Attempts(),
		MaxAttempts: m.cfg.MaxReconnectAttempts,
		Initiated:   true,
	})
}

// teardown runs when the manager's context ends.
func (m *Manager) teardown() {
	m.stopReconnectTimer()
	m.dropConn()
	m.setState(StateDisconnected)
	m.snapshot()
}

// dropConn stops the heartbeat and closes the current socket, if any.
// Events from the dropped socket are ignored afterwards.
func (m *Manager) dropConn() {
	m.stopHeartbeat()
	m.gen++

	if m.conn == nil {
		return
	}
	close(m.connStop)
	if err := m.conn.Close(); err != nil {
		m.logger.Debug("close failed", "error", err)
	}
	m.conn = nil
	m.connStop = nil
}

func (m *Manager) handleFrame(msg TimestampedMessage) {
	m.lastSeen = m.clock.Now()
	m.framesIn.Add(1)

	env, err := m.codec.Decode(msg.Data)
	if err != nil {
		m.decodeErrors.Add(1)
		m.logger.Warn("failed to decode frame", "error", err, "bytes", len(msg.Data))
		return
	}

	switch {
	case env.Type == model.TopicPing:
		if err := m.write(m.envelope(model.TopicPong)); err != nil {
			m.logger.Warn("failed to send pong", "error", err)
			return
		}
		m.pongsSent.Add(1)

	case env.Type == model.TopicPong:
		// Liveness only; lastSeen is already refreshed.

	case env.Type.IsSystem(), env.Type == model.TopicAll:
		m.logger.Debug("dropping peer frame with reserved type", "type", env.Type)

	default:
		if !m.publisher.Publish(env) {
			m.logger.Warn("dispatcher rejected envelope", "type", env.Type)
		}
	}
}

func (m *Manager) send(env model.Envelope) error {
	if m.state != StateConnected || m.conn == nil {
		m.logger.Warn("send while not connected", "type", env.Type, "state", m.state)
		return ErrNotConnected
	}

	if env.Origin == "" {
		env = env.WithOrigin(m.sessionID)
	}
	if env.SentAt.IsZero() {
		env.SentAt = m.clock.Now().UTC()
	}

	if err := m.write(env); err != nil {
		m.logger.Warn("send failed", "type", env.Type, "error", err)
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (m *Manager) write(env model.Envelope) error {
	data, err := m.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if err := m.conn.Send(data); err != nil {
		return err
	}
	m.framesOut.Add(1)
	return nil
}

func (m *Manager) heartbeat() {
	silence := m.clock.Now().Sub(m.lastSeen)
	if m.cfg.LivenessTimeout > 0 && silence > m.cfg.LivenessTimeout {
		m.logger.Warn("no frames received, connection stale",
			"silence", silence,
			"timeout", m.cfg.LivenessTimeout,
		)
		m.handleFailure(&TransportError{Op: "liveness", Err: ErrStaleConnection})
		return
	}

	if err := m.write(m.envelope(model.TopicPing)); err != nil {
		m.logger.Debug("failed to send ping", "error", err)
	} else {
		m.pingsSent.Add(1)
	}
	m.scheduleHeartbeat()
}

func (m *Manager) scheduleHeartbeat() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	gen := m.gen
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.post(heartbeatDue{gen: gen})
	})
}

func (m *Manager) stopHeartbeat() {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

func (m *Manager) stopReconnectTimer() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// pump forwards one socket's frames and terminal error to the loop.
func (m *Manager) pump(gen uint64, c Client, stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		case <-m.done:
			return
		case msg := <-c.Messages():
			if !m.post(frameIn{gen: gen, msg: msg}) {
				return
			}
		case err := <-c.Errors():
			m.drain(gen, c)
			m.post(socketClosed{gen: gen, err: err})
			return
		}
	}
}

// drain forwards frames that were buffered before the socket failed.
func (m *Manager) drain(gen uint64, c Client) {
	for {
		select {
		case msg := <-c.Messages():
			if !m.post(frameIn{gen: gen, msg: msg}) {
				return
			}
		default:
			return
		}
	}
}

// envelope builds a locally originated envelope with no payload.
func (m *Manager) envelope(topic model.Topic) model.Envelope {
	return model.Envelope{
		Type:   topic,
		SentAt: m.clock.Now().UTC(),
		Origin: m.sessionID,
	}
}

func (m *Manager) notify(topic model.Topic, notice any) {
	env, err := model.NewEnvelope(topic, notice, m.clock.Now())
	if err != nil {
		m.logger.Error("failed to build notice", "topic", topic, "error", err)
		return
	}
	if !m.publisher.Publish(env.WithOrigin(m.sessionID)) {
		m.logger.Warn("dispatcher rejected notice", "topic", topic)
	}
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state transition", "from", m.state, "to", s)
	m.state = s
}

// snapshot publishes the loop state for Status callers.
func (m *Manager) snapshot() {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.status = Status{
		State:        m.state,
		StateName:    m.state.String(),
		Connected:    m.state == StateConnected,
		Reconnecting: m.state == StateReconnecting,
		Attempts:     m.policy.Attempts(),
		MaxAttempts:  m.cfg.MaxReconnectAttempts,
	}
}
