//go:build linux

package media

import (
	"fmt"

	"github.com/lvieira/chime/internal/wire"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// newCapturePC builds a PeerConnection with VP8+Opus codecs and local
// camera/microphone capture via V4L2 and malgo. Capture failures fall
// back step by step and finally to receive-only so the call proceeds.
func newCapturePC(cfg Config) (*webrtc.PeerConnection, *captureHandle, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	api, err := newAPI(mediaEngine)
	if err != nil {
		return nil, nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, nil, err
	}

	wantVideo := cfg.CallType == wire.CallTypeVideo

	// GetUserMedia fails as a unit if either requested track cannot be
	// opened, so a busy microphone must not take the camera down with it.
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{wantVideo, true, "video+audio"}}
	if wantVideo {
		attempts = append(attempts, attempt{true, false, "video-only"})
	}
	attempts = append(attempts, attempt{false, true, "audio-only"})

	for _, a := range attempts {
		stream, err := mediadevices.GetUserMedia(captureConstraints(selector, a.video, a.audio, ""))
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("capture attempt failed",
					zap.String("attempt", a.label), zap.Error(err))
			}
			continue
		}

		handle := &captureHandle{}
		for _, track := range stream.GetTracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				if cfg.Logger != nil {
					cfg.Logger.Warn("add track failed", zap.Error(err))
				}
				continue
			}
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				handle.audioTrack, handle.audioSender = track, sender
			case webrtc.RTPCodecTypeVideo:
				handle.videoTrack, handle.videoSender = track, sender
			}
		}
		tracks := stream.GetTracks()
		handle.stop = func() {
			for _, t := range tracks {
				_ = t.Close()
			}
		}
		if handle.videoSender != nil {
			handle.switchCam = cameraSwitcher(selector, handle)
		}
		if cfg.Logger != nil {
			cfg.Logger.Info("local media captured",
				zap.String("attempt", a.label), zap.Int("tracks", len(tracks)))
		}
		return pc, handle, nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Warn("all capture attempts failed, proceeding receive-only")
	}
	addRecvOnlyTransceivers(pc, cfg.Logger)
	return pc, nil, nil
}

func captureConstraints(selector *mediadevices.CodecSelector, video, audio bool, deviceID string) mediadevices.MediaStreamConstraints {
	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw frame formats only: some cameras expose an MJPEG node
			// with malformed frames that poison the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
			if deviceID != "" {
				c.DeviceID = prop.StringExact(deviceID)
			}
		}
	}
	if audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}
	return constraints
}

// cameraSwitcher cycles through the enumerated video devices, opening
// the next one and closing the track it replaces.
func cameraSwitcher(selector *mediadevices.CodecSelector, handle *captureHandle) func() (webrtc.TrackLocal, error) {
	index := 0
	return func() (webrtc.TrackLocal, error) {
		var cameras []string
		for _, d := range mediadevices.EnumerateDevices() {
			if d.Kind == mediadevices.VideoInput {
				cameras = append(cameras, d.DeviceID)
			}
		}
		if len(cameras) < 2 {
			return nil, fmt.Errorf("no alternate camera available")
		}
		index = (index + 1) % len(cameras)

		stream, err := mediadevices.GetUserMedia(captureConstraints(selector, true, false, cameras[index]))
		if err != nil {
			return nil, err
		}
		tracks := stream.GetVideoTracks()
		if len(tracks) == 0 {
			return nil, fmt.Errorf("camera %s produced no video track", cameras[index])
		}

		if old, ok := handle.videoTrack.(mediadevices.Track); ok {
			_ = old.Close()
		}
		return tracks[0], nil
	}
}
