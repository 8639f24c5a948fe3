package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/boundary"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/control"
)

const listenPollTimeout = time.Second

// listenLine is one JSON line written by listen.
type listenLine struct {
	Kind    string `json:"kind"`
	Addr    string `json:"addr,omitempty"`
	Text    string `json:"text,omitempty"`
	Binary  []byte `json:"binary,omitempty"`
	Code    int    `json:"code,omitempty"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
}

func newListenCmd(opts *globalOptions) *cobra.Command {
	var (
		echo  bool
		count int
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Start a session and print every message and notification as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			return listen(cmd.Context(), c, opts, cmd.OutOrStdout(), echo, count)
		},
	}
	cmd.Flags().BoolVar(&echo, "echo", false, "send every message back to its sender")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many messages (0 runs until interrupted)")
	return cmd
}

func listen(ctx context.Context, c *control.Client, opts *globalOptions, out io.Writer, echo bool, count int) error {
	h, st, err := c.Start(ctx, opts.rtcAddr, opts.rtcEndpoint, opts.debug)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		_, _ = c.Release(rctx, h)
	}()
	if st != boundary.StatusOK {
		return fmt.Errorf("start session: %s", st)
	}

	var outMu sync.Mutex
	enc := json.NewEncoder(out)
	emit := func(l listenLine) {
		outMu.Lock()
		_ = enc.Encode(l)
		outMu.Unlock()
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case f, ok := <-c.Notifications():
				if !ok {
					return
				}
				if f.Handle != h || f.Notification == nil {
					continue
				}
				emit(listenLine{Kind: "notification", Code: f.Notification.Code, Event: f.Notification.Event, Message: f.Notification.Message})
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for seen := 0; count == 0 || seen < count; {
		m, st, err := c.Recv(ctx, h, listenPollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if st != boundary.StatusOK {
			return fmt.Errorf("recv: %s", st)
		}
		if m.Addr == "" {
			continue
		}
		seen++

		line := listenLine{Kind: "message", Addr: m.Addr}
		if m.Text {
			line.Text = string(m.Payload)
		} else {
			line.Binary = m.Payload
		}
		emit(line)

		if echo {
			if err := echoBack(ctx, c, h, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func echoBack(ctx context.Context, c *control.Client, h boundary.Handle, m boundary.Received) error {
	from, err := netip.ParseAddrPort(m.Addr)
	if err != nil {
		return fmt.Errorf("parse sender %q: %w", m.Addr, err)
	}
	kind := boundary.KindBinary
	if m.Text {
		kind = boundary.KindText
	}
	_, err = c.Send(ctx, h, m.Payload, from.Addr().String(), from.Port(), kind)
	return err
}
