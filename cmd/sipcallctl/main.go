// Command sipcallctl places or waits for one SIP call end to end, wiring
// together pkg/sip/transport, pkg/sip/dialog, pkg/sip/sdp, pkg/rtptransport
// and pkg/rtp exactly the way pkg/call composes them — a runnable version of
// the teacher's cmd/test_sip smoke-test binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arzzra/sipstack/pkg/call"
	"github.com/arzzra/sipstack/pkg/rtp"
	"github.com/arzzra/sipstack/pkg/rtptransport"
	"github.com/arzzra/sipstack/pkg/sip/dialog"
	"github.com/arzzra/sipstack/pkg/sip/transport"
)

func main() {
	var (
		listenAddr = flag.String("listen", "0.0.0.0", "local SIP listen address")
		listenPort = flag.Int("port", 5060, "local SIP listen port")
		target     = flag.String("dial", "", "sip: URI to dial; if empty, wait for an inbound call")
		offerSDP   = flag.String("sdp", "", "path to an SDP offer file to send with the INVITE")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tm := transport.NewTransportManager()
	stack := dialog.NewStack(tm, *listenAddr, *listenPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := stack.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("stack stopped", "error", err)
		}
	}()

	media := call.MediaConfig{
		RTP: rtp.Config{},
		ICE: rtptransport.ICEConfig{Role: rtptransport.ICEControlling},
	}

	if *target == "" {
		log.Info("waiting for inbound calls", "listen", *listenAddr, "port", *listenPort)
		call.OnIncomingCall(stack, media, log, func(ctx context.Context, ic *call.InboundCall) {
			log.Info("incoming call", "state", ic.State().String())
			// A real deployment would negotiate the offer and answer with
			// locally generated media here; sipcallctl just demonstrates the
			// wiring so it logs and lets the caller hang up.
		})
		<-ctx.Done()
		return
	}

	var sdpBody []byte
	if *offerSDP != "" {
		b, err := os.ReadFile(*offerSDP)
		if err != nil {
			log.Error("read SDP file", "error", err)
			os.Exit(1)
		}
		sdpBody = b
	}

	outbound := call.NewOutboundCall(stack, log)
	c, err := outbound.Dial(ctx, *target, sdpBody, media)
	if err != nil {
		log.Error("dial failed", "error", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		log.Warn("call timed out waiting to establish")
	case <-c.Done():
	}

	if err := c.Hangup(context.Background(), "normal clearing"); err != nil {
		log.Error("hangup failed", "error", err)
	}
}
