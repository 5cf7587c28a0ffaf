//go:build linux

package media

import (
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// Capture opens local media via pion/mediadevices (V4L2 + malgo). It walks a
// fallback ladder inside the requested constraints (video+audio, then
// video-only, then audio-only) because GetUserMedia fails as a unit when
// either track cannot be opened, and a busy microphone should not cost the
// camera (or vice versa). All attempts failing returns ErrNoMedia.
func Capture(req Constraints) (*Stream, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	populate := func(me *webrtc.MediaEngine) error {
		selector.Populate(me)
		return nil
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Warnf("no media devices found")
	}
	for _, d := range devices {
		log.Debugf("media device kind=%v label=%q", d.Kind, d.Label)
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	ladder := []attempt{
		{req.Video, req.Audio, "video+audio"},
		{req.Video, false, "video-only"},
		{false, req.Audio, "audio-only"},
	}

	for _, a := range ladder {
		if !a.video && !a.audio {
			continue
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only: some cameras expose an MJPEG node that
				// produces malformed JPEG frames and poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		ms, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warnf("GetUserMedia (%s) failed: %v", a.label, err)
			continue
		}

		var tracks []Track
		for _, track := range ms.GetTracks() {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warnf("local track ended: %v", err)
				}
			})
			tracks = append(tracks, track)
		}
		log.Infof("local media captured (%s), %d track(s)", a.label, len(tracks))
		return NewStream(tracks, populate, a.label), nil
	}

	return nil, ErrNoMedia
}
