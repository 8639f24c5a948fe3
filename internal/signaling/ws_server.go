package signaling

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
)

const wsWriteWait = 1 * time.Second

var upgrader = websocket.Upgrader{
	// Origin is enforced by the HTTP middleware in front of this handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSignal serves the WebSocket signaling channel. Each offer frame is
// answered with an answer frame or an error frame; the connection stays open
// for further offers until the client closes it or goes idle.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	var writeMu sync.Mutex
	write := func(msg wireMessage) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(s.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-t.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessagesPerSecond)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseMessageTooBig) || err == websocket.ErrReadLimit {
				writeClose(conn, websocket.CloseMessageTooBig, "message too large")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		if !limiter.Allow() {
			s.cfg.Metrics.Inc(metrics.SignalingRateLimited)
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		var in wireMessage
		if err := json.Unmarshal(msg, &in); err != nil {
			writeClose(conn, websocket.CloseUnsupportedData, "invalid message")
			return
		}
		offer, err := in.offerSDP()
		if err != nil {
			if write(errorMessage(err.Error())) != nil {
				return
			}
			continue
		}

		answer, _, err := s.negotiate(r.Context(), offer)
		out := answerMessage(answer)
		if err != nil {
			out = errorMessage(err.Error())
		}
		if write(out) != nil {
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
