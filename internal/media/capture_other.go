//go:build !linux

package media

import "github.com/pion/webrtc/v4"

// newCapturePC degrades to receive-only off Linux: device capture via
// pion/mediadevices needs the V4L2 and malgo drivers, which are only
// wired for the linux build.
func newCapturePC(cfg Config) (*webrtc.PeerConnection, *captureHandle, error) {
	pc, err := newRecvOnlyPC(cfg)
	if err != nil {
		return nil, nil, err
	}
	return pc, nil, nil
}
