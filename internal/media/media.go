// Package media owns the local camera/microphone capture. One Stream per
// window: its tracks are attached (read-only) to every peer connection the
// window maintains, and released exactly once at window teardown.
package media

import (
	"errors"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"
)

var log = logging.Logger("media")

// ErrNoMedia means every capture attempt failed: no camera and no microphone
// could be opened. The session treats this as fatal.
var ErrNoMedia = errors.New("media: no capture device could be opened")

// Track is one local capture track. pion/mediadevices tracks satisfy this.
type Track interface {
	webrtc.TrackLocal
	Close() error
}

// Constraints selects which kinds of media to request. Capture degrades
// within the request: video+audio falls back to video-only then audio-only
// before giving up, so a missing microphone does not cost the camera.
type Constraints struct {
	Video bool
	Audio bool
}

// Stream is the window's local media. Safe for concurrent use.
type Stream struct {
	tracks   []Track
	populate func(*webrtc.MediaEngine) error
	label    string

	mu      sync.Mutex
	audioOn bool
	videoOn bool

	closeOnce sync.Once
}

// NewStream wraps already-opened tracks. Capture is the usual source; tests
// and fakes construct streams directly.
func NewStream(tracks []Track, populate func(*webrtc.MediaEngine) error, label string) *Stream {
	return &Stream{
		tracks:   tracks,
		populate: populate,
		label:    label,
		audioOn:  true,
		videoOn:  true,
	}
}

// Tracks returns the capture tracks for attachment to a peer connection.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

// Populate returns the codec registration hook matching the encoders behind
// the tracks, or nil when default codecs suffice (no capture).
func (s *Stream) Populate() func(*webrtc.MediaEngine) error { return s.populate }

// Label describes which capture attempt produced the stream
// ("video+audio", "video-only", "audio-only", or "" for none).
func (s *Stream) Label() string { return s.label }

// HasVideo reports whether a video track was captured.
func (s *Stream) HasVideo() bool {
	for _, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}

// HasAudio reports whether an audio track was captured.
func (s *Stream) HasAudio() bool {
	for _, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			return true
		}
	}
	return false
}

// Empty reports a trackless (receive-only) stream.
func (s *Stream) Empty() bool { return len(s.tracks) == 0 }

// ToggleAudio flips the microphone. Returns the new muted state.
func (s *Stream) ToggleAudio() bool {
	s.mu.Lock()
	s.audioOn = !s.audioOn
	muted := !s.audioOn
	s.mu.Unlock()
	log.Infof("audio muted=%v", muted)
	return muted
}

// ToggleVideo flips the camera. Returns the new disabled state.
func (s *Stream) ToggleVideo() bool {
	s.mu.Lock()
	s.videoOn = !s.videoOn
	disabled := !s.videoOn
	s.mu.Unlock()
	log.Infof("video disabled=%v", disabled)
	return disabled
}

// Close stops and releases every track. Exactly once: the state machine is
// the only caller, and racing teardown paths collapse onto a single release.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		for _, t := range s.tracks {
			if err := t.Close(); err != nil {
				log.Warnf("close %s track: %v", t.Kind(), err)
			}
		}
		if len(s.tracks) > 0 {
			log.Infof("released %d local track(s)", len(s.tracks))
		}
	})
}
