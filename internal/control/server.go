package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/auth"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/boundary"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/config"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/relay"
)

const (
	DefaultMaxMessageBytes   = int64(1 << 20)
	DefaultMessagesPerSecond = 200
	DefaultRecvTimeout       = 30 * time.Second
	DefaultSessionTimeout    = 10 * time.Second

	wsWriteWait = 5 * time.Second

	responseBuffer     = 64
	notificationBuffer = 256
)

var errUnknownOp = errors.New("unknown op")

type Config struct {
	Adapter  *boundary.Adapter
	Verifier auth.Verifier
	AuthMode config.AuthMode
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	MaxMessageBytes   int64
	MessagesPerSecond int
	// MaxRecvTimeout caps the timeout a recv request may ask for.
	MaxRecvTimeout time.Duration
	SessionTimeout time.Duration
}

type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	conns sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if cfg.MaxRecvTimeout <= 0 {
		cfg.MaxRecvTimeout = DefaultRecvTimeout
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger.With("component", "control"),
		upgrader: websocket.Upgrader{
			// Control clients are processes, not browsers; auth gates access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() { s.conns.Wait() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Verifier != nil {
		if err := auth.Authenticate(s.cfg.Verifier, s.cfg.AuthMode, r); err != nil {
			s.cfg.Metrics.Inc(metrics.ControlUnauthorized)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	c := &conn{
		srv:     s,
		ws:      ws,
		log:     s.log.With("remote_addr", r.RemoteAddr),
		owned:   make(map[boundary.Handle]struct{}),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessagesPerSecond),

		responses:  make(chan Frame, responseBuffer),
		notes:      make(chan Frame, notificationBuffer),
		stop:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.serve(r.Context())
}

type conn struct {
	srv     *Server
	ws      *websocket.Conn
	log     *slog.Logger
	limiter *rate.Limiter

	// Only writeLoop writes data frames. Notifications are dropped when
	// notes is full so a slow client never stalls a relay loop.
	responses  chan Frame
	notes      chan Frame
	stop       chan struct{}
	writerDone chan struct{}

	ownedMu sync.Mutex
	owned   map[boundary.Handle]struct{}

	inflight sync.WaitGroup
}

func (c *conn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	go c.writeLoop()
	// In-flight requests finish before owned sessions are released.
	defer func() {
		cancel()
		c.inflight.Wait()
		c.releaseOwned()
		close(c.stop)
		<-c.writerDone
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.srv.cfg.MaxMessageBytes)
	c.log.Debug("control connection opened")

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.writeClose(websocket.CloseMessageTooBig, "message too large")
			}
			c.log.Debug("control connection closed", "err", err)
			return
		}
		if !c.limiter.Allow() {
			c.srv.cfg.Metrics.Inc(metrics.ControlRateLimited)
			c.writeClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.writeClose(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		c.srv.cfg.Metrics.Inc(metrics.ControlRequests)

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			c.reply(req, Frame{Status: boundary.StatusInvalidConfig, Error: "invalid request: " + err.Error()})
			continue
		}

		// Ops that never block run here, in frame order, so sends from one
		// connection reach the session queue in the order they were written.
		if !mayBlock(req.Op) {
			c.reply(req, c.handle(ctx, req))
			continue
		}
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.reply(req, c.handle(ctx, req))
		}()
	}
}

// mayBlock reports whether op can wait on a peer, the network or a timeout.
func mayBlock(op Op) bool {
	switch op {
	case OpStart, OpRecv, OpSession, OpDisconnect:
		return true
	}
	return false
}

func (c *conn) handle(ctx context.Context, req Request) Frame {
	a := c.srv.cfg.Adapter

	if req.Op == OpStart {
		return c.start(ctx, req)
	}
	if !c.owns(req.Handle) {
		return Frame{Status: boundary.StatusInvalidHandle, Handle: req.Handle}
	}

	f := Frame{Handle: req.Handle}
	switch req.Op {
	case OpRecv:
		rctx, cancel := context.WithTimeout(ctx, c.recvTimeout(req.TimeoutMS))
		defer cancel()
		m, st := a.Recv(rctx, req.Handle)
		f.Status, f.Payload, f.Addr, f.Text = st, m.Payload, m.Addr, m.Text
	case OpTryRecv:
		m, st := a.TryRecv(req.Handle)
		f.Status, f.Payload, f.Addr, f.Text = st, m.Payload, m.Addr, m.Text
	case OpSend:
		f.Status = a.Send(req.Handle, req.Payload, req.Addr, req.Port, req.Kind)
	case OpSession:
		timeout := c.srv.cfg.SessionTimeout
		if req.TimeoutMS > 0 {
			timeout = time.Duration(req.TimeoutMS) * time.Millisecond
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		f.Answer, f.Status = a.Session(sctx, req.Handle, req.Offer)
	case OpState:
		state, st := a.State(req.Handle, req.Addr, req.Port)
		f.Status = st
		if st == boundary.StatusOK {
			f.State = &state
		}
	case OpIsConnected:
		f.Connected, f.Status = a.IsConnected(req.Handle, req.Addr, req.Port)
	case OpClientsCount:
		f.Count = a.ClientsCount(req.Handle)
	case OpClients:
		f.Clients, f.Status = a.Clients(req.Handle)
	case OpDisconnect:
		f.Status = a.Disconnect(ctx, req.Handle, req.Addr, req.Port)
	case OpSetMessageKind:
		f.Status = a.SetMessageKind(req.Handle, req.Kind)
	case OpClose:
		f.Status = a.Close(req.Handle)
	case OpRelease:
		f.Status = a.Release(req.Handle)
		if f.Status == boundary.StatusOK {
			c.disown(req.Handle)
		}
	default:
		f.Status = boundary.StatusInvalidConfig
		f.Error = errUnknownOp.Error() + ": " + string(req.Op)
	}
	return f
}

func (c *conn) start(ctx context.Context, req Request) Frame {
	// Notifications can only be tagged once Start has returned the handle.
	var handle atomic.Uint64
	notify := func(n relay.Notification) {
		c.notify(Frame{Type: FrameNotification, Handle: boundary.Handle(handle.Load()), Notification: &n})
	}

	h, st := c.srv.cfg.Adapter.Start(ctx, req.Config, notify, req.Debug)
	handle.Store(uint64(h))

	c.ownedMu.Lock()
	c.owned[h] = struct{}{}
	c.ownedMu.Unlock()

	c.log.Debug("session started", "handle", h.String(), "status", st.String())
	return Frame{Status: st, Handle: h}
}

func (c *conn) recvTimeout(ms int64) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d <= 0 || d > c.srv.cfg.MaxRecvTimeout {
		return c.srv.cfg.MaxRecvTimeout
	}
	return d
}

func (c *conn) owns(h boundary.Handle) bool {
	c.ownedMu.Lock()
	defer c.ownedMu.Unlock()
	_, ok := c.owned[h]
	return ok
}

func (c *conn) disown(h boundary.Handle) {
	c.ownedMu.Lock()
	delete(c.owned, h)
	c.ownedMu.Unlock()
}

func (c *conn) releaseOwned() {
	c.ownedMu.Lock()
	handles := make([]boundary.Handle, 0, len(c.owned))
	for h := range c.owned {
		handles = append(handles, h)
	}
	c.owned = map[boundary.Handle]struct{}{}
	c.ownedMu.Unlock()

	for _, h := range handles {
		c.srv.cfg.Adapter.Release(h)
	}
	if len(handles) > 0 {
		c.log.Info("released control sessions", "count", len(handles))
	}
}

func (c *conn) reply(req Request, f Frame) {
	f.Type = FrameResponse
	f.ID = req.ID
	select {
	case c.responses <- f:
	case <-c.writerDone:
		c.log.Debug("response dropped; connection closing", "op", req.Op)
	}
}

func (c *conn) notify(f Frame) {
	select {
	case c.notes <- f:
	default:
		c.srv.cfg.Metrics.Inc(metrics.ControlNotificationsDropped)
		c.log.Debug("notification dropped; client not keeping up", "handle", f.Handle.String())
	}
}

func (c *conn) writeLoop() {
	defer close(c.writerDone)
	for {
		var f Frame
		select {
		case <-c.stop:
			return
		case f = <-c.responses:
		case f = <-c.notes:
		}
		if err := c.write(f); err != nil {
			c.log.Debug("control write failed", "err", err)
			// Wakes the read loop.
			_ = c.ws.Close()
			return
		}
	}
}

func (c *conn) write(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *conn) writeClose(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
