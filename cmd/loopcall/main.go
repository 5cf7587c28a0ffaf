// loopcall runs a complete 1:1 call between two in-process clients: two
// session/dispatcher pairs joined by an in-memory relay, with real pion
// peer connections looped over localhost. Useful for exercising the whole
// signaling path without a relay server or a second machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/vivyapp/callkit/internal/bus"
	"github.com/vivyapp/callkit/internal/call"
	"github.com/vivyapp/callkit/internal/config"
	"github.com/vivyapp/callkit/internal/media"
	"github.com/vivyapp/callkit/internal/rtc"
	sigclient "github.com/vivyapp/callkit/internal/signal"
)

var (
	cfgPath  = flag.String("config", "", "config file (optional, defaults used otherwise)")
	duration = flag.Duration("hangup-after", 15*time.Second, "hang up automatically after this long in-call")
	debug    = flag.Bool("debug", false, "debug logging")
)

func main() {
	flag.Parse()
	if *debug {
		logging.SetAllLoggers(logging.LevelDebug)
	} else {
		logging.SetAllLoggers(logging.LevelInfo)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "loopcall: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	callRecord := call.NewCall("alice", "bob")
	callRecord.Advance(call.StatusRinging)

	// One bus per simulated client, a home and a call handle on each.
	busA, busB := bus.New(), bus.New()
	homeA, winA := busA.Open("call"), busA.Open("call")
	homeB, winB := busB.Open("call"), busB.Open("call")

	dispA := call.NewDispatcher(homeA, "alice", call.Notices{})
	dispB := call.NewDispatcher(homeB, "bob", call.Notices{})
	dispA.Bind(&loopRelay{selfID: "alice", peer: dispB.Handlers})
	dispB.Bind(&loopRelay{selfID: "bob", peer: dispA.Handlers})
	defer dispA.Close()
	defer dispB.Close()

	constraints := media.Constraints{Video: cfg.Media.Video, Audio: cfg.Media.Audio}
	opts := func(who string) call.Options {
		return call.Options{
			Engine:      engineConfig(cfg),
			Constraints: constraints,
			// Both clients share one machine's devices; whoever loses the
			// device race joins receive-only instead of failing the call.
			Acquire: func(c media.Constraints) (*media.Stream, error) {
				s, err := media.Capture(c)
				if err != nil {
					return media.NewStream(nil, nil, ""), nil
				}
				return s, nil
			},
			OnState: func(s call.State) {
				fmt.Printf("[%s] %s\n", who, s)
			},
			OnRemoteTrack: func(peerID string, track *webrtc.TrackRemote) {
				fmt.Printf("[%s] remote %s track from %s\n", who, track.Kind(), peerID)
			},
			OnDuration: func(d time.Duration) {
				fmt.Printf("[%s] in call %s\n", who, d.Round(time.Second))
			},
		}
	}

	sessA, err := call.NewSession(call.WindowParams{
		CallID: callRecord.ID, PeerID: "bob", SelfID: "alice", Role: call.RoleCaller,
	}, winA, opts("alice"))
	if err != nil {
		return err
	}
	sessB, err := call.NewSession(call.WindowParams{
		CallID: callRecord.ID, PeerID: "alice", SelfID: "bob", Role: call.RoleCallee,
	}, winB, opts("bob"))
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go sessA.Run(runCtx)
	go sessB.Run(runCtx)
	time.Sleep(100 * time.Millisecond)

	fmt.Println("callee picking up")
	if err := sessB.Accept(); err != nil {
		return err
	}
	callRecord.Advance(call.StatusActive)

	hangup := time.NewTimer(*duration)
	defer hangup.Stop()
	select {
	case <-ctx.Done():
	case <-hangup.C:
		fmt.Println("hanging up")
	case <-sessA.Done():
	case <-sessB.Done():
	}

	sessA.Hangup()
	<-sessA.Done()
	<-sessB.Done()
	callRecord.Advance(call.StatusEnded)
	fmt.Printf("call %s %s\n", callRecord.ID, callRecord.CurrentStatus())
	return nil
}

func engineConfig(cfg config.Config) rtc.EngineConfig {
	return rtc.EngineConfig{
		STUNURLs:            cfg.ICE.STUNURLs,
		DisconnectedTimeout: time.Duration(cfg.ICE.DisconnectedSec) * time.Second,
		FailedTimeout:       time.Duration(cfg.ICE.FailedSec) * time.Second,
		KeepAliveInterval:   time.Duration(cfg.ICE.KeepAliveSec) * time.Second,
	}
}

// loopRelay short-circuits the signaling relay: sends from one client invoke
// the other client's inbound handlers directly, attributed to the sender.
type loopRelay struct {
	selfID string
	peer   func() sigclient.Handlers
}

func (l *loopRelay) Send(event string, data any) {
	h := l.peer()
	switch event {
	case sigclient.EventAcceptCall:
		h.OnCallAccepted(sigclient.CallAccepted{
			CallID:    data.(*bus.CallRef).CallID,
			StartTime: time.Now(),
		})
	case sigclient.EventDeclineCall:
		h.OnCallDeclined(sigclient.CallRef{CallID: data.(*bus.CallRef).CallID})
	case sigclient.EventEndCall:
		h.OnCallEnded(sigclient.CallRef{CallID: data.(*bus.CallRef).CallID})
	case sigclient.EventOffer:
		h.OnOffer(l.selfID, data.(sigclient.Signal))
	case sigclient.EventAnswer:
		h.OnAnswer(l.selfID, data.(sigclient.Signal))
	case sigclient.EventCandidate:
		h.OnCandidate(l.selfID, data.(sigclient.Signal))
	}
}

func (l *loopRelay) Close() {}
