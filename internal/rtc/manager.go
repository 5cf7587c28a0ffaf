package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Signaler is the outbound half of negotiation: the Manager hands it every
// offer, answer and candidate it produces. The call session supplies an
// adapter that posts to whichever transport the window owns.
type Signaler interface {
	SendOffer(peerID string, offer webrtc.SessionDescription) error
	SendAnswer(peerID string, answer webrtc.SessionDescription) error
	SendCandidate(peerID string, cand webrtc.ICECandidateInit) error
}

// Hooks are the Manager's observations surfaced to the session. All fields
// are optional. Callbacks run on media-engine goroutines; implementations
// must not call back into the Manager while holding their own locks.
type Hooks struct {
	// OnRemoteTrack fires when a remote media track arrives.
	OnRemoteTrack func(peerID string, track *webrtc.TrackRemote)

	// OnPeerState fires on every connection state transition.
	OnPeerState func(peerID string, state webrtc.PeerConnectionState)

	// OnPeerClosed fires exactly once when a peer is removed, so the
	// presentation-facing remote-stream entry can be dropped with it.
	OnPeerClosed func(peerID string)
}

// Manager owns one connection per remote peer, keyed by peer ID. The
// connection map is mutated only here; sessions reach peers exclusively
// through these operations.
type Manager struct {
	sig     Signaler
	factory LinkFactory
	local   []webrtc.TrackLocal
	hooks   Hooks

	mu    sync.Mutex
	peers map[string]*peer
}

// peer pairs a live Link with the negotiation state that cannot live inside
// the engine: the FIFO queue of candidates that arrived before the remote
// description, and the closed flag guarding async continuations.
type peer struct {
	id   string
	link Link

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool
}

// NewManager creates a Manager. The local tracks are attached to every
// connection the Manager constructs; an empty slice means receive-only.
func NewManager(sig Signaler, factory LinkFactory, local []webrtc.TrackLocal, hooks Hooks) *Manager {
	return &Manager{
		sig:     sig,
		factory: factory,
		local:   local,
		hooks:   hooks,
		peers:   make(map[string]*peer),
	}
}

// ensure returns the existing peer or constructs one: observers are wired
// before any negotiation step can run, and local tracks attach eagerly.
func (m *Manager) ensure(peerID string) (*peer, error) {
	m.mu.Lock()
	if p, ok := m.peers[peerID]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	link, err := m.factory()
	if err != nil {
		return nil, err
	}
	p := &peer{id: peerID, link: link}

	link.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end-of-candidates marker
		}
		if p.isClosed() {
			return
		}
		if err := m.sig.SendCandidate(peerID, c.ToJSON()); err != nil {
			log.Warnf("peer %s: send candidate: %v", peerID, err)
		}
	})
	link.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		log.Infof("peer %s: remote %s track", peerID, track.Kind())
		if m.hooks.OnRemoteTrack != nil {
			m.hooks.OnRemoteTrack(peerID, track)
		}
		go m.serveRemoteTrack(p, track)
	})
	link.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debugf("peer %s: connection state %s", peerID, state)
		if m.hooks.OnPeerState != nil {
			m.hooks.OnPeerState(peerID, state)
		}
	})

	if len(m.local) == 0 {
		if err := link.AddRecvOnlyTransceivers(); err != nil {
			log.Warnf("peer %s: %v", peerID, err)
		}
	}
	for _, track := range m.local {
		if err := link.AddTrack(track); err != nil {
			log.Warnf("peer %s: add local track: %v", peerID, err)
		}
	}

	m.mu.Lock()
	if existing, ok := m.peers[peerID]; ok {
		// Lost a construction race; keep the first connection.
		m.mu.Unlock()
		link.Close()
		return existing, nil
	}
	m.peers[peerID] = p
	m.mu.Unlock()
	return p, nil
}

// MakeOffer creates a local offer for peerID, commits it, and sends it via
// the Signaler. Media-engine failures are logged, never raised: the call
// degrades instead of crashing the window.
func (m *Manager) MakeOffer(peerID string) {
	p, err := m.ensure(peerID)
	if err != nil {
		log.Errorf("peer %s: create connection: %v", peerID, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	offer, err := p.link.CreateOffer()
	if err != nil {
		log.Errorf("peer %s: create offer: %v", peerID, err)
		return
	}
	if err := p.link.SetLocalDescription(offer); err != nil {
		log.Errorf("peer %s: set local offer: %v", peerID, err)
		return
	}
	if err := m.sig.SendOffer(peerID, offer); err != nil {
		log.Warnf("peer %s: send offer: %v", peerID, err)
	}
}

// AcceptOffer commits a remote offer, drains any candidates that arrived
// ahead of it, then produces and sends the answer.
func (m *Manager) AcceptOffer(peerID string, offer webrtc.SessionDescription) {
	p, err := m.ensure(peerID)
	if err != nil {
		log.Errorf("peer %s: create connection: %v", peerID, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if err := p.link.SetRemoteDescription(offer); err != nil {
		log.Errorf("peer %s: set remote offer: %v", peerID, err)
		return
	}
	p.drainPendingLocked()

	answer, err := p.link.CreateAnswer()
	if err != nil {
		log.Errorf("peer %s: create answer: %v", peerID, err)
		return
	}
	if err := p.link.SetLocalDescription(answer); err != nil {
		log.Errorf("peer %s: set local answer: %v", peerID, err)
		return
	}
	if err := m.sig.SendAnswer(peerID, answer); err != nil {
		log.Warnf("peer %s: send answer: %v", peerID, err)
	}
}

// AcceptAnswer commits a remote answer, but only when this side actually has
// an offer outstanding. Anything else is a stale or misrouted answer and is
// ignored with a warning.
func (m *Manager) AcceptAnswer(peerID string, answer webrtc.SessionDescription) {
	m.mu.Lock()
	p, ok := m.peers[peerID]
	m.mu.Unlock()
	if !ok {
		log.Warnf("peer %s: answer for unknown peer, ignoring", peerID)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if state := p.link.SignalingState(); state != webrtc.SignalingStateHaveLocalOffer {
		log.Warnf("peer %s: answer in signaling state %s, ignoring", peerID, state)
		return
	}
	if err := p.link.SetRemoteDescription(answer); err != nil {
		log.Errorf("peer %s: set remote answer: %v", peerID, err)
		return
	}
	p.drainPendingLocked()
}

// AddCandidate applies a remote ICE candidate, or queues it if the remote
// description is not committed yet. Queued candidates are never discarded;
// they apply in arrival order the moment the description lands.
func (m *Manager) AddCandidate(peerID string, cand webrtc.ICECandidateInit) {
	m.mu.Lock()
	p, ok := m.peers[peerID]
	m.mu.Unlock()
	if !ok {
		log.Warnf("peer %s: candidate for unknown peer, ignoring", peerID)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		log.Warnf("peer %s: candidate after close, ignoring", peerID)
		return
	}
	if !p.remoteSet {
		p.pending = append(p.pending, cand)
		log.Debugf("peer %s: queued candidate (%d pending)", peerID, len(p.pending))
		return
	}
	if err := p.link.AddICECandidate(cand); err != nil {
		log.Warnf("peer %s: add candidate: %v", peerID, err)
	}
}

// drainPendingLocked marks the remote description committed and applies the
// queued candidates FIFO. Caller holds p.mu.
func (p *peer) drainPendingLocked() {
	p.remoteSet = true
	if len(p.pending) == 0 {
		return
	}
	log.Infof("peer %s: applying %d queued candidate(s)", p.id, len(p.pending))
	for _, cand := range p.pending {
		if err := p.link.AddICECandidate(cand); err != nil {
			log.Warnf("peer %s: apply queued candidate: %v", p.id, err)
		}
	}
	p.pending = nil
}

func (p *peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close tears down the connection to peerID and removes it from the map.
// Idempotent: closing twice, or an unknown peer, is a no-op.
func (m *Manager) Close(peerID string) {
	m.mu.Lock()
	p, ok := m.peers[peerID]
	delete(m.peers, peerID)
	m.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.pending = nil
	p.mu.Unlock()

	if err := p.link.Close(); err != nil {
		log.Warnf("peer %s: close: %v", peerID, err)
	}
	if m.hooks.OnPeerClosed != nil {
		m.hooks.OnPeerClosed(peerID)
	}
}

// CloseAll tears down every peer connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}

// Has reports whether a connection for peerID currently exists.
func (m *Manager) Has(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[peerID]
	return ok
}

// Len returns the number of live peer connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}
