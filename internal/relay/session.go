package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/scheduler"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

// Message is one queued datagram. On the outbound side Addr is the
// destination; on the inbound side it is the sender.
type Message struct {
	Addr    transport.Address
	Payload []byte
	Kind    transport.MessageKind
}

type Options struct {
	Listen transport.Address
	Public transport.Address

	// DefaultKind replaces transport.KindDefault on outbound messages.
	// Zero means binary.
	DefaultKind transport.MessageKind

	Notify Notifier
	// Debug forwards inbound transport errors to Notify.
	Debug bool

	// Scheduler runs the relay loop. Nil means scheduler.Default().
	Scheduler *scheduler.Pool
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

type Session struct {
	id      string
	log     *slog.Logger
	metrics *metrics.Metrics
	debug   bool
	kind    atomic.Uint32

	// mu guards closed and tr. Every transport call holds the read lock.
	mu     sync.RWMutex
	closed bool
	tr     transport.Transport

	// life is cancelled as Close starts, before it waits for mu, so
	// long transport calls holding the read lock give up promptly.
	life     context.Context
	stopLife context.CancelFunc

	notifyMu sync.Mutex
	notify   Notifier

	outbound *messageQueue
	inbound  *messageQueue

	task *scheduler.Task
	done chan struct{}
}

// Bind creates the transport and both queues, then starts the relay loop.
// The transport is bound before Bind returns; a bind failure wraps ErrBind.
func Bind(ctx context.Context, binder transport.Binder, opts Options) (*Session, error) {
	if binder == nil {
		return nil, fmt.Errorf("%w: nil binder", ErrBind)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool := opts.Scheduler
	if pool == nil {
		pool = scheduler.Default()
	}

	tr, err := binder.Bind(ctx, opts.Listen, opts.Public)
	if err != nil {
		opts.Metrics.Inc(metrics.SessionBindFailures)
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	id := uuid.NewString()
	life, stopLife := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		log:      logger.With("session_id", id),
		metrics:  opts.Metrics,
		debug:    opts.Debug,
		tr:       tr,
		notify:   opts.Notify,
		outbound: newMessageQueue(),
		inbound:  newMessageQueue(),
		done:     make(chan struct{}),
		life:     life,
		stopLife: stopLife,
	}
	s.setKind(opts.DefaultKind)
	s.metrics.SessionOpened()

	events := tr.Events()
	s.task = pool.Submit("relay-loop "+id, func(ctx context.Context) error {
		return s.run(ctx, events)
	})
	s.log.Info("session bound", "listen", opts.Listen.String(), "public", opts.Public.String())
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Done is closed once Close has run.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

func (s *Session) DefaultKind() transport.MessageKind {
	return transport.MessageKind(s.kind.Load())
}

// SetDefaultKind changes the kind used for outbound messages queued with
// transport.KindDefault. It applies to messages sent after the call,
// including ones already queued.
func (s *Session) SetDefaultKind(k transport.MessageKind) error {
	if k != transport.KindText && k != transport.KindBinary {
		return fmt.Errorf("invalid default message kind %s", k)
	}
	s.setKind(k)
	return nil
}

func (s *Session) setKind(k transport.MessageKind) {
	if k != transport.KindText {
		k = transport.KindBinary
	}
	s.kind.Store(uint32(k))
}

// Enqueue queues m for sending. It never blocks.
func (s *Session) Enqueue(m Message) error {
	if !s.outbound.Push(m) {
		return ErrNotActive
	}
	return nil
}

// Dequeue returns the next inbound message. It returns ErrNotActive without
// waiting once the session is closed.
func (s *Session) Dequeue(ctx context.Context) (Message, error) {
	return s.inbound.Pop(ctx)
}

// TryDequeue is the non-blocking form of Dequeue.
func (s *Session) TryDequeue() (Message, bool, error) {
	if s.inbound.Closed() {
		return Message{}, false, ErrNotActive
	}
	m, ok := s.inbound.TryPop()
	return m, ok, nil
}

// Negotiate answers an SDP offer on the session's transport.
func (s *Session) Negotiate(ctx context.Context, offer string) (string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return "", ErrNotActive
	}
	ctx, cancel := s.bound(ctx)
	answer, err := s.tr.Negotiate(ctx, offer)
	cancel()
	s.mu.RUnlock()

	s.metrics.Inc(metrics.Negotiations)
	if err != nil {
		s.metrics.Inc(metrics.NegotiationFailures)
		s.log.Debug("negotiation failed", "err", err)
		if s.life.Err() != nil {
			return "", ErrNotActive
		}
		if !errors.Is(err, transport.ErrNegotiation) {
			err = fmt.Errorf("%w: %w", transport.ErrNegotiation, err)
		}
		return "", err
	}
	return answer, nil
}

func (s *Session) Disconnect(ctx context.Context, addr transport.Address) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrNotActive
	}
	ctx, cancel := s.bound(ctx)
	err := s.tr.Disconnect(ctx, addr)
	cancel()
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrDisconnect, addr, err)
	}
	return nil
}

// bound ends ctx when the session starts closing.
func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) ActiveClients() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrNotActive
	}
	return s.tr.ActiveClients(), nil
}

// ConnectedClients lists connected peers in ascending address order.
func (s *Session) ConnectedClients() ([]transport.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrNotActive
	}
	return s.tr.ConnectedClients(), nil
}

func (s *Session) IsConnected(addr transport.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrNotActive
	}
	return s.tr.IsConnected(addr), nil
}

func (s *Session) Activity(addr transport.Address) (transport.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return transport.Activity{}, ErrNotActive
	}
	a, ok := s.tr.Activity(addr)
	if !ok {
		return transport.Activity{}, fmt.Errorf("%w: %s", ErrPeerNotFound, addr)
	}
	return a, nil
}

// Close stops the relay loop, discards queued messages, reports
// server_closed and releases the transport. Only the first call does any
// work; later calls return ErrAlreadyClosed.
func (s *Session) Close() error {
	s.stopLife()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.closed = true
	tr := s.tr
	s.tr = nil
	s.mu.Unlock()

	s.task.Cancel()
	s.outbound.Close()
	s.inbound.Close()

	s.notifyMu.Lock()
	notify := s.notify
	s.notify = nil
	if notify != nil {
		notify(Notification{Code: CodeServerClosed, Message: "server closed", Event: EventServerClosed})
	}
	s.notifyMu.Unlock()

	var err error
	if cerr := tr.Close(); cerr != nil && !errors.Is(cerr, transport.ErrClosed) {
		err = fmt.Errorf("close transport: %w", cerr)
	}
	s.metrics.SessionClosed()
	close(s.done)
	s.log.Info("session closed")
	return err
}

// Notify delivers n to the session's notifier, if any.
func (s *Session) Notify(n Notification) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.notify != nil {
		s.notify(n)
	}
}
