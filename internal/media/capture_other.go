//go:build !linux

package media

// Capture on non-Linux platforms returns a trackless stream: camera/mic
// capture via pion/mediadevices needs platform drivers that are only wired
// for Linux (V4L2/malgo). Calls proceed receive-only.
func Capture(req Constraints) (*Stream, error) {
	log.Infof("no local media capture on this platform, proceeding receive-only")
	return NewStream(nil, nil, ""), nil
}
