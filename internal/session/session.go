package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rickgao/marketstream/internal/metrics"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/protocol"
	"github.com/rickgao/marketstream/internal/registry"
	"github.com/rickgao/marketstream/internal/stream"
	"github.com/rickgao/marketstream/internal/subscription"
)

// ClientIDPrefix prefixes every session's registry client id.
const ClientIDPrefix = "session/"

var ErrAlreadyOpened = errors.New("session: already opened")

// Transport is the write side of a client connection.
type Transport interface {
	IsOpen() bool
	WriteText(data []byte) error
}

// State is the session lifecycle state.
type State int32

const (
	StateOpening State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config holds per-session settings.
type Config struct {
	ReadyTimeout time.Duration    // Default: 5s
	CommandRate  float64          // Inbound commands per second. 0 disables limiting
	CommandBurst int              // Default: 2x CommandRate
	Now          func() time.Time // Clock for the readiness gate. Default: time.Now
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout: stream.DefaultReadyTimeout,
		CommandRate:  20,
		CommandBurst: 40,
	}
}

// Session is one client connection.
type Session struct {
	id        string
	cfg       Config
	transport Transport
	source    registry.Source
	binder    *stream.Binder
	logger    *slog.Logger

	state   atomic.Int32
	gate    *stream.Gate
	limiter *rate.Limiter

	// subs is replaced, never mutated. Writers hold subsMu.
	subsMu sync.Mutex
	subs   atomic.Pointer[subscription.Set]

	// bindMu guards the binding fields and is never held across a
	// blocking call. rebindMu serializes rebinds.
	bindMu   sync.Mutex
	rebindMu sync.Mutex
	control  *activeBinding
	market   *activeBinding

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// activeBinding is a binding plus the goroutine draining it into send.
type activeBinding struct {
	binding *stream.Binding
	drained chan struct{}
}

// New creates a session in the OPENING state.
func New(transport Transport, source registry.Source, binder *stream.Binder, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = stream.DefaultReadyTimeout
	}

	id := ClientIDPrefix + uuid.NewString()
	s := &Session{
		id:        id,
		cfg:       cfg,
		transport: transport,
		source:    source,
		binder:    binder,
		logger:    logger.With("client_id", id),
		gate:      stream.NewGate(cfg.ReadyTimeout, cfg.Now),
	}

	if cfg.CommandRate > 0 {
		burst := cfg.CommandBurst
		if burst <= 0 {
			burst = int(2 * cfg.CommandRate)
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.CommandRate), burst)
	}

	empty := subscription.Empty()
	s.subs.Store(&empty)
	return s
}

// ID returns the session's registry client id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Subscriptions returns the current subscription set.
func (s *Session) Subscriptions() subscription.Set {
	return *s.subs.Load()
}

// Open activates the session, registers it with the source and binds
// control events. No market data is bound until UPDATE_SUBSCRIPTIONS.
func (s *Session) Open() error {
	if !s.state.CompareAndSwap(int32(StateOpening), int32(StateActive)) {
		return ErrAlreadyOpened
	}
	metrics.ActiveSessions.Inc()
	s.gate.MarkReady()

	if err := s.source.RegisterClient(s.id); err != nil {
		return fmt.Errorf("register client: %w", err)
	}

	// Close may have unregistered before the client existed.
	if s.State() != StateActive {
		if err := s.source.UnregisterClient(s.id); err != nil {
			s.logger.Debug("client already unregistered", "error", err)
		}
		return nil
	}

	control, err := s.binder.BindControl(s.id, s.gate)
	if err != nil {
		s.logger.Warn("failed to bind control events", "error", err)
		s.logger.Info("session opened")
		return nil
	}

	s.bindMu.Lock()
	if s.State() != StateActive {
		s.bindMu.Unlock()
		control.Cancel()
		return nil
	}
	s.control = s.drain(control)
	s.bindMu.Unlock()

	s.logger.Info("session opened")
	return nil
}

// OnMessage handles one inbound text frame. Frames that cannot be
// handled are answered with an ERROR frame. Ignored unless ACTIVE.
func (s *Session) OnMessage(data []byte) {
	if s.State() != StateActive {
		s.logger.Debug("ignoring message on inactive session", "state", s.State())
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("command rate exceeded")
		s.replyError("rate_limited")
		return
	}

	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		s.logger.Warn("failed to decode command", "error", err)
		s.replyError(errorCause(err))
		return
	}

	switch c := cmd.(type) {
	case protocol.Ready:
		s.gate.MarkReady()

	case protocol.ChangeSubscriptions:
		s.subsMu.Lock()
		next := s.Subscriptions().ApplyTypeChange(c.Type, c.Instruments)
		s.subs.Store(&next)
		s.subsMu.Unlock()
		s.logger.Debug("subscriptions changed", "type", c.Type, "instruments", len(c.Instruments))

	case protocol.UpdateSubscriptions:
		s.rebind()
	}
}

// rebind cancels the market binding, waits for its frames to drain and
// binds the current subscription set.
func (s *Session) rebind() {
	s.rebindMu.Lock()
	defer s.rebindMu.Unlock()

	s.bindMu.Lock()
	old := s.market
	s.market = nil
	s.bindMu.Unlock()

	if old != nil {
		old.binding.Cancel()
		<-old.drained
	}

	if s.State() != StateActive {
		return
	}

	set := s.Subscriptions()
	bd, err := s.binder.Bind(stream.Request{
		ClientID: s.id,
		Set:      set,
		Gate:     s.gate,
		Live:     s.Subscriptions,
	})
	if err != nil {
		s.logger.Warn("rebind failed", "error", err)
		return
	}

	s.bindMu.Lock()
	if s.State() != StateActive {
		s.bindMu.Unlock()
		bd.Cancel()
		return
	}
	s.market = s.drain(bd)
	s.bindMu.Unlock()

	metrics.Rebinds.Inc()
	s.logger.Info("subscriptions bound", "subscriptions", set.Len(), "streams", len(bd.Keys()))
}

// Close tears the session down. Safe to call more than once and from
// any goroutine, including from inside a transport write.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosed)))

		s.bindMu.Lock()
		control, market := s.control, s.market
		s.control, s.market = nil, nil
		s.bindMu.Unlock()

		if err := s.source.UnregisterClient(s.id); err != nil {
			s.logger.Warn("failed to unregister client", "error", err)
		}
		if market != nil {
			market.binding.Cancel()
		}
		if control != nil {
			control.binding.Cancel()
		}

		s.subsMu.Lock()
		empty := subscription.Empty()
		s.subs.Store(&empty)
		s.subsMu.Unlock()

		if prev == StateActive {
			metrics.ActiveSessions.Dec()
		}
		s.logger.Info("session closed", "reason", reason)
	})
}

// OnTransportError records a transport failure. The transport closes the
// session separately.
func (s *Session) OnTransportError(err error) {
	s.logger.Warn("transport error", "error", err)
}

func (s *Session) drain(bd *stream.Binding) *activeBinding {
	ab := &activeBinding{binding: bd, drained: make(chan struct{})}

	go func() {
		defer close(ab.drained)
		for d := range bd.Deliveries() {
			select {
			case <-bd.Done():
				continue
			default:
			}
			s.send(d.Nature, d.Payload)
		}
	}()

	return ab
}

// send encodes and writes one frame.
func (s *Session) send(nature protocol.Nature, payload any) {
	data, err := protocol.EncodeFrame(nature, payload)
	if err != nil {
		s.logger.Error("failed to encode frame", "nature", nature, "error", err)
		return
	}
	s.write(nature, data)
}

// write is the single writer. Writes on a closed session or transport are
// skipped and write failures are logged only.
func (s *Session) write(nature protocol.Nature, data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != StateActive || !s.transport.IsOpen() {
		return
	}

	if err := s.transport.WriteText(data); err != nil {
		metrics.WriteFailures.Inc()
		s.logger.Warn("failed to write frame", "nature", nature, "error", err)
		return
	}
	metrics.FramesSent.WithLabelValues(string(nature)).Inc()
}

func (s *Session) replyError(cause string) {
	metrics.ProtocolErrors.WithLabelValues(cause).Inc()
	s.write(protocol.NatureError, protocol.ErrorFrame())
}

func errorCause(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, model.ErrInvalidInstrument):
		return "invalid_instrument"
	}
	return "malformed"
}
