// Command rtcbridgectl drives an aero-rtc-datagram-bridge over its control
// WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/control"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/endpoint"
)

const (
	defaultControlURL = "ws://127.0.0.1:8080/control"
	apiKeyEnv         = "API_KEY"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	controlURL  string
	apiKey      string
	rtcAddr     string
	rtcEndpoint string
	debug       bool
	timeout     time.Duration
}

func (o *globalOptions) dial(ctx context.Context) (*control.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return control.Dial(dctx, o.controlURL, o.apiKey)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "rtcbridgectl",
		Short:         "Drive an RTC datagram bridge over its control protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.controlURL, "control-url", defaultControlURL, "control WebSocket URL")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv(apiKeyEnv), "control API key (default $"+apiKeyEnv+")")
	flags.StringVar(&opts.rtcAddr, "rtc-addr", endpoint.DefaultListen, "UDP address the session listens on")
	flags.StringVar(&opts.rtcEndpoint, "rtc-endpoint", endpoint.DefaultPublic, "public URL advertised to peers")
	flags.BoolVar(&opts.debug, "debug", false, "request debug notifications")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout for dialing and negotiation")

	root.AddCommand(newProbeCmd(opts))
	root.AddCommand(newListenCmd(opts))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
