package rtc

import (
	"errors"
	"io"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// pliInterval is how often a keyframe is requested on remote video. Without
// periodic PLIs a receiver that joined mid-stream may wait indefinitely for
// a decodable frame.
const pliInterval = 3 * time.Second

// serveRemoteTrack drains RTP from a remote track for the lifetime of the
// peer. The interceptor chain only runs while something reads the track, so
// the drain must continue even when no consumer is attached. Video tracks
// additionally get a PLI loop.
func (m *Manager) serveRemoteTrack(p *peer, track *webrtc.TrackRemote) {
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go m.pliLoop(p, track)
	}

	buf := make([]byte, 1500)
	var packets uint64
	for {
		if p.isClosed() {
			return
		}
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !p.isClosed() {
				log.Debugf("peer %s: remote %s track read: %v", p.id, track.Kind(), err)
			}
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Debugf("peer %s: bad rtp packet: %v", p.id, err)
			continue
		}
		packets++
		if packets == 1 {
			log.Debugf("peer %s: first %s packet, ssrc=%d pt=%d",
				p.id, track.Kind(), pkt.SSRC, pkt.PayloadType)
		}
	}
}

// pliLoop periodically asks the remote sender for a keyframe until the peer
// closes.
func (m *Manager) pliLoop(p *peer, track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for range ticker.C {
		if p.isClosed() {
			return
		}
		err := p.link.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
		if err != nil {
			log.Debugf("peer %s: pli: %v", p.id, err)
			return
		}
	}
}
