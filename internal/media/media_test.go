package media

import (
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

// stubTrack satisfies Track without hardware.
type stubTrack struct {
	kind   webrtc.RTPCodecType
	mu     sync.Mutex
	closed int
}

func (s *stubTrack) ID() string                   { return "stub" }
func (s *stubTrack) RID() string                  { return "" }
func (s *stubTrack) StreamID() string             { return "stub-stream" }
func (s *stubTrack) Kind() webrtc.RTPCodecType    { return s.kind }

func (s *stubTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}

func (s *stubTrack) Unbind(webrtc.TrackLocalContext) error { return nil }

func (s *stubTrack) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func TestCloseReleasesTracksExactlyOnce(t *testing.T) {
	v := &stubTrack{kind: webrtc.RTPCodecTypeVideo}
	a := &stubTrack{kind: webrtc.RTPCodecTypeAudio}
	s := NewStream([]Track{v, a}, nil, "video+audio")

	s.Close()
	s.Close()
	s.Close()

	for _, tr := range []*stubTrack{v, a} {
		tr.mu.Lock()
		if tr.closed != 1 {
			t.Fatalf("%s track closed %d times, want 1", tr.kind, tr.closed)
		}
		tr.mu.Unlock()
	}
}

func TestKindQueries(t *testing.T) {
	s := NewStream([]Track{&stubTrack{kind: webrtc.RTPCodecTypeAudio}}, nil, "audio-only")
	if s.HasVideo() {
		t.Fatal("HasVideo on audio-only stream")
	}
	if !s.HasAudio() {
		t.Fatal("!HasAudio on audio-only stream")
	}
	if s.Empty() {
		t.Fatal("Empty with one track")
	}

	none := NewStream(nil, nil, "")
	if !none.Empty() || none.HasAudio() || none.HasVideo() {
		t.Fatal("trackless stream misreported")
	}
}

func TestToggles(t *testing.T) {
	s := NewStream(nil, nil, "")
	if muted := s.ToggleAudio(); !muted {
		t.Fatal("first audio toggle should mute")
	}
	if muted := s.ToggleAudio(); muted {
		t.Fatal("second audio toggle should unmute")
	}
	if off := s.ToggleVideo(); !off {
		t.Fatal("first video toggle should disable")
	}
}
