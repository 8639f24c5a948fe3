package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/boundary"
)

var ErrClientClosed = errors.New("control client closed")

// Client is a control connection. Calls are safe for concurrent use.
type Client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Frame
	err     error

	notifications chan Frame
	done          chan struct{}
}

// Dial connects to a control endpoint (ws:// or wss://). apiKey is sent as a
// bearer token when non-empty.
func Dial(ctx context.Context, url, apiKey string) (*Client, error) {
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial control: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial control: %w", err)
	}
	c := &Client{
		ws:            ws,
		pending:       make(map[uint64]chan Frame),
		notifications: make(chan Frame, notificationBuffer),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Notifications delivers session notifications. Frames are dropped while the
// buffer is full. The channel is closed when the connection ends.
func (c *Client) Notifications() <-chan Frame { return c.notifications }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		if err == nil {
			err = ErrClientClosed
		}
		c.err = err
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, ch := range pending {
			close(ch)
		}
		close(c.notifications)
		close(c.done)
	}()

	for {
		var f Frame
		if err = c.ws.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case FrameNotification:
			select {
			case c.notifications <- f:
			default:
			}
		case FrameResponse:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		}
	}
}

// Call sends req with a fresh id and waits for its response.
func (c *Client) Call(ctx context.Context, req Request) (Frame, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return Frame{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		c.forget(req.ID)
		return Frame{}, err
	}
	c.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(dl)
	} else {
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	}
	err = c.ws.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return Frame{}, fmt.Errorf("write %s: %w", req.Op, err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return Frame{}, err
		}
		if f.Error != "" {
			return f, fmt.Errorf("%s: %s", req.Op, f.Error)
		}
		return f, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return Frame{}, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// Start binds a session listening on rtcAddr and advertised at rtcEndpoint.
// The handle is valid (and owned by this connection) even when the status is
// not StatusOK.
func (c *Client) Start(ctx context.Context, rtcAddr, rtcEndpoint string, debug bool) (boundary.Handle, boundary.Status, error) {
	cfg, err := json.Marshal(boundary.StartConfig{RTCAddr: &rtcAddr, RTCEndpoint: &rtcEndpoint})
	if err != nil {
		return 0, 0, err
	}
	f, err := c.Call(ctx, Request{Op: OpStart, Config: cfg, Debug: debug})
	return f.Handle, f.Status, err
}

// Recv waits up to timeout for an inbound message. An empty payload with
// StatusOK means nothing arrived.
func (c *Client) Recv(ctx context.Context, h boundary.Handle, timeout time.Duration) (boundary.Received, boundary.Status, error) {
	f, err := c.Call(ctx, Request{Op: OpRecv, Handle: h, TimeoutMS: timeout.Milliseconds()})
	return boundary.Received{Payload: f.Payload, Addr: f.Addr, Text: f.Text}, f.Status, err
}

func (c *Client) Send(ctx context.Context, h boundary.Handle, payload []byte, addr string, port uint16, kind uint32) (boundary.Status, error) {
	f, err := c.Call(ctx, Request{Op: OpSend, Handle: h, Payload: payload, Addr: addr, Port: port, Kind: kind})
	return f.Status, err
}

func (c *Client) Session(ctx context.Context, h boundary.Handle, offer string) (string, boundary.Status, error) {
	f, err := c.Call(ctx, Request{Op: OpSession, Handle: h, Offer: offer})
	return f.Answer, f.Status, err
}

func (c *Client) Clients(ctx context.Context, h boundary.Handle) (string, boundary.Status, error) {
	f, err := c.Call(ctx, Request{Op: OpClients, Handle: h})
	return f.Clients, f.Status, err
}

func (c *Client) ClientsCount(ctx context.Context, h boundary.Handle) (uint32, error) {
	f, err := c.Call(ctx, Request{Op: OpClientsCount, Handle: h})
	return f.Count, err
}

func (c *Client) Release(ctx context.Context, h boundary.Handle) (boundary.Status, error) {
	f, err := c.Call(ctx, Request{Op: OpRelease, Handle: h})
	return f.Status, err
}
