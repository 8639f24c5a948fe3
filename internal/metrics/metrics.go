package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Event names. Each one is exported as events_total{event="<name>"}.
const (
	SessionsStarted     = "sessions_started"
	SessionsClosed      = "sessions_closed"
	SessionBindFailures = "session_bind_failures"

	InboundMessages  = "inbound_messages"
	OutboundMessages = "outbound_messages"
	SendErrors       = "socket_send_errors"
	RecvErrors       = "socket_recv_errors"
	InboundDropped   = "inbound_dropped"

	Negotiations        = "negotiations"
	NegotiationFailures = "negotiation_failures"

	PeersOpened         = "peers_opened"
	PeersClosed         = "peers_closed"
	PeersTimedOut       = "peers_timed_out"
	DataChannelRejected = "datachannel_rejected"

	ControlRequests             = "control_requests"
	ControlRateLimited          = "control_rate_limited"
	ControlUnauthorized         = "control_unauthorized"
	ControlNotificationsDropped = "control_notifications_dropped"
	SignalingRateLimited        = "signaling_rate_limited"

	TaskPanics = "task_panics"
)

const namespace = "aero_rtc_datagram_bridge"

// Metrics is a concurrency-safe counter registry backed by a private
// Prometheus registry. Counters are kept in-process as well so tests and the
// control surface can read them back without scraping.
//
// A nil *Metrics is valid and discards everything.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64

	registry       *prometheus.Registry
	events         *prometheus.CounterVec
	activeSessions prometheus.Gauge
	activePeers    prometheus.Gauge
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Internal event counters.",
	}, []string{"event"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Bound relay sessions.",
	})
	activePeers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_peers",
		Help:      "Peers with an open data channel.",
	})
	r.MustRegister(events, activeSessions, activePeers)

	return &Metrics{
		m:              make(map[string]uint64),
		registry:       r,
		events:         events,
		activeSessions: activeSessions,
		activePeers:    activePeers,
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
	m.events.WithLabelValues(name).Add(float64(delta))
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.Inc(SessionsStarted)
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.Inc(SessionsClosed)
	m.activeSessions.Dec()
}

func (m *Metrics) PeerOpened() {
	if m == nil {
		return
	}
	m.Inc(PeersOpened)
	m.activePeers.Inc()
}

func (m *Metrics) PeerClosed() {
	if m == nil {
		return
	}
	m.Inc(PeersClosed)
	m.activePeers.Dec()
}

// RegisterGaugeFunc exports fn as a gauge sampled at scrape time. It is used
// for values owned elsewhere, such as scheduler task counts.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
