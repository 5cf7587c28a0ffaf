// Package rtc owns the lifecycle of peer connections: creation on demand,
// local-media attachment, offer/answer/candidate application with carefully
// ordered candidate queuing, and teardown. The media engine itself sits
// behind the Link interface; production code uses the Pion adapter below,
// tests substitute a scripted fake.
package rtc

import (
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

var log = logging.Logger("rtc")

// Link is the contract this package needs from one peer-connection instance.
// It mirrors the media engine's negotiation surface and nothing more.
type Link interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	AddTrack(webrtc.TrackLocal) error
	AddRecvOnlyTransceivers() error
	WriteRTCP([]rtcp.Packet) error

	OnICECandidate(func(*webrtc.ICECandidate))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	Close() error
}

// LinkFactory constructs one Link per remote peer.
type LinkFactory func() (Link, error)

// EngineConfig parameterizes the Pion-backed factory.
type EngineConfig struct {
	// STUNURLs lists the ICE servers. Empty means host candidates only.
	STUNURLs []string

	// Populate registers codecs on the media engine. When nil the default
	// codec set is registered; capture code supplies a selector-backed
	// populate so the engine matches the encoders feeding the tracks.
	Populate func(*webrtc.MediaEngine) error

	// ICE timeouts. Zero values keep Pion's defaults. The disconnected
	// timeout in particular wants to be generous: relay paths can have
	// short outages that ICE recovers from.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// NewPionFactory builds a webrtc.API once and returns a factory producing
// peer connections from it.
func NewPionFactory(cfg EngineConfig) (LinkFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if cfg.Populate != nil {
		if err := cfg.Populate(mediaEngine); err != nil {
			return nil, fmt.Errorf("rtc: populate codecs: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("rtc: register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("rtc: register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	var servers []webrtc.ICEServer
	for _, u := range cfg.STUNURLs {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}

	return func() (Link, error) {
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
		if err != nil {
			return nil, fmt.Errorf("rtc: new peer connection: %w", err)
		}
		return &pionLink{pc: pc}, nil
	}, nil
}

// pionLink adapts *webrtc.PeerConnection to Link.
type pionLink struct {
	pc *webrtc.PeerConnection
}

func (l *pionLink) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

func (l *pionLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

func (l *pionLink) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sdp)
}

func (l *pionLink) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

func (l *pionLink) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(cand)
}

func (l *pionLink) SignalingState() webrtc.SignalingState {
	return l.pc.SignalingState()
}

func (l *pionLink) AddTrack(track webrtc.TrackLocal) error {
	_, err := l.pc.AddTrack(track)
	return err
}

func (l *pionLink) WriteRTCP(pkts []rtcp.Packet) error {
	return l.pc.WriteRTCP(pkts)
}

func (l *pionLink) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	l.pc.OnICECandidate(fn)
}

func (l *pionLink) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	l.pc.OnTrack(fn)
}

func (l *pionLink) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	l.pc.OnConnectionStateChange(fn)
}

func (l *pionLink) Close() error { return l.pc.Close() }

// AddRecvOnlyTransceivers puts recvonly video and audio transceivers on the
// connection so CreateOffer/CreateAnswer produce valid m-lines even when no
// local media was captured.
func (l *pionLink) AddRecvOnlyTransceivers() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := l.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly %s transceiver: %w", kind, err)
		}
	}
	return nil
}
