package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/relay"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

const (
	DefaultMaxMessageBytes       = int64(64 * 1024)
	DefaultNegotiateTimeout      = 10 * time.Second
	DefaultMessagesPerSecond     = 5
	DefaultWebSocketIdleTimeout  = 60 * time.Second
	DefaultWebSocketPingInterval = 20 * time.Second
)

// Negotiator answers SDP offers. *relay.Session implements it.
type Negotiator interface {
	Negotiate(ctx context.Context, offer string) (string, error)
}

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	MaxMessageBytes  int64
	NegotiateTimeout time.Duration
	// MessagesPerSecond limits offers per WebSocket connection.
	MessagesPerSecond int
	IdleTimeout       time.Duration
	PingInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.NegotiateTimeout <= 0 {
		c.NegotiateTimeout = DefaultNegotiateTimeout
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultWebSocketIdleTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout / 3
	}
	return c
}

type Server struct {
	cfg Config
	log *slog.Logger
	neg Negotiator
}

func NewServer(neg Negotiator, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg: cfg,
		log: cfg.Logger.With("component", "signaling"),
		neg: neg,
	}
}

// RegisterRoutes installs the signaling endpoints on mux, each wrapped by
// wrap (typically the origin policy). A nil wrap installs them bare.
func (s *Server) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(h http.Handler) http.Handler { return h }
	}
	mux.Handle("POST /rtc/session", wrap(http.HandlerFunc(s.handleSession)))
	mux.Handle("OPTIONS /rtc/session", wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	mux.Handle("GET /rtc/signal", wrap(http.HandlerFunc(s.handleSignal)))
}

// handleSession answers the offer in the request body. JSON requests (either
// {"type":"offer","sdp":...} or a raw SDP string) get a JSON answer; anything
// else is treated as SDP text and answered in kind.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	body, err := readLimited(http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageBytes), s.cfg.MaxMessageBytes)
	if err != nil {
		if errors.Is(err, errMessageTooLarge) {
			http.Error(w, "offer too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read offer", http.StatusBadRequest)
		return
	}

	wantJSON := isJSON(r.Header.Get("Content-Type")) || strings.Contains(r.Header.Get("Accept"), "application/json")
	offer := string(body)
	if isJSON(r.Header.Get("Content-Type")) {
		var raw string
		if err := json.Unmarshal(body, &raw); err == nil {
			offer = raw
		}
	}
	if strings.TrimSpace(offer) == "" {
		http.Error(w, "missing offer", http.StatusBadRequest)
		return
	}

	answer, status, err := s.negotiate(r.Context(), offer)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	if wantJSON {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sessionDescription{Type: "answer", SDP: answer})
		return
	}
	w.Header().Set("Content-Type", "application/sdp")
	_, _ = io.WriteString(w, answer)
}

// negotiate maps negotiation failures onto HTTP statuses.
func (s *Server) negotiate(ctx context.Context, offer string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.NegotiateTimeout)
	defer cancel()

	answer, err := s.neg.Negotiate(ctx, offer)
	switch {
	case err == nil:
		return answer, http.StatusOK, nil
	case errors.Is(err, relay.ErrNotActive), errors.Is(err, transport.ErrClosed):
		return "", http.StatusServiceUnavailable, errors.New("session not active")
	case errors.Is(err, context.DeadlineExceeded):
		return "", http.StatusGatewayTimeout, errors.New("negotiation timed out")
	case errors.Is(err, context.Canceled):
		return "", http.StatusServiceUnavailable, errors.New("negotiation canceled")
	default:
		s.log.Debug("negotiation failed", "err", err)
		return "", http.StatusBadRequest, errors.New("negotiation failed")
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errMessageTooLarge
		}
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
