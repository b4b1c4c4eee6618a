// Package media wraps the WebRTC session mechanics for one call:
// capture acquisition, offer/answer negotiation, ICE candidate queuing
// and device toggles. One Adapter serves exactly one call; teardown
// creates a fresh Adapter for the next.
package media

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lvieira/chime/internal/wire"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// ErrNoCapture is returned by device operations when no local capture
// is running (receive-only session or audio-only call).
var ErrNoCapture = errors.New("media: no local capture")

// Config selects what the Adapter captures and where ICE goes.
type Config struct {
	ICEServers []webrtc.ICEServer
	CallType   string // wire.CallTypeAudio or wire.CallTypeVideo
	// Capture enables local device acquisition. Off means receive-only,
	// used when devices are unavailable and in tests.
	Capture bool
	Logger  *zap.Logger
}

// captureHandle is the platform capture state: the live local tracks,
// the senders they are attached to, and a camera-cycling hook.
type captureHandle struct {
	audioTrack  webrtc.TrackLocal
	videoTrack  webrtc.TrackLocal
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	switchCam   func() (webrtc.TrackLocal, error)
	stop        func()
}

// Adapter owns one PeerConnection. Remote candidates arriving before
// the remote description are buffered and flushed in order once it is
// set; locally-generated candidates surface through OnLocalCandidate.
type Adapter struct {
	pc     *webrtc.PeerConnection
	cap    *captureHandle
	logger *zap.Logger

	mu         sync.Mutex
	pending    candidateBuffer
	remoteSet  bool
	audioMuted bool
	videoOff   bool
	closed     bool
}

// NewAdapter builds the PeerConnection and, when cfg.Capture is set,
// acquires local devices. Capture failure degrades to receive-only
// rather than failing the call.
func NewAdapter(cfg Config) (*Adapter, error) {
	var (
		pc     *webrtc.PeerConnection
		handle *captureHandle
		err    error
	)
	if cfg.Capture {
		pc, handle, err = newCapturePC(cfg)
	} else {
		pc, err = newRecvOnlyPC(cfg)
	}
	if err != nil {
		return nil, err
	}
	return &Adapter{pc: pc, cap: handle, logger: cfg.Logger}, nil
}

// newRecvOnlyPC builds a PeerConnection with default codecs and
// recvonly transceivers so offers and answers carry valid m-lines.
func newRecvOnlyPC(cfg Config) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api, err := newAPI(mediaEngine)
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}
	addRecvOnlyTransceivers(pc, cfg.Logger)
	return pc, nil
}

// newAPI applies the shared engine settings. The ICE timeouts are far
// above pion's defaults: a brief relay or NAT hiccup must not terminate
// the call before ICE has a chance to recover.
func newAPI(mediaEngine *webrtc.MediaEngine) (*webrtc.API, error) {
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

func addRecvOnlyTransceivers(pc *webrtc.PeerConnection, logger *zap.Logger) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		_, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil && logger != nil {
			logger.Warn("add recvonly transceiver failed", zap.Stringer("kind", kind), zap.Error(err))
		}
	}
}

// OnLocalCandidate registers the sink for locally-gathered candidates.
// Register before CreateOffer/CreateAnswer or early candidates are lost.
func (a *Adapter) OnLocalCandidate(fn func(wire.ICECandidate)) {
	a.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// Gathering finished.
			return
		}
		init := c.ToJSON()
		fn(wire.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

// OnStateChange registers the sink for connection state transitions.
func (a *Adapter) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	a.pc.OnConnectionStateChange(fn)
}

// OnRemoteTrack registers the sink for inbound media. The consumer owns
// the read loop; without a registered sink inbound RTP is discarded.
// Register before CreateAnswer/ApplyAnswer so the first packets are not
// missed.
func (a *Adapter) OnRemoteTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	a.pc.OnTrack(fn)
}

// LocalTracks returns the live capture tracks, audio first. Empty for
// receive-only sessions.
func (a *Adapter) LocalTracks() []webrtc.TrackLocal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cap == nil {
		return nil
	}
	var tracks []webrtc.TrackLocal
	if a.cap.audioTrack != nil {
		tracks = append(tracks, a.cap.audioTrack)
	}
	if a.cap.videoTrack != nil {
		tracks = append(tracks, a.cap.videoTrack)
	}
	return tracks
}

// CreateOffer produces the local offer and installs it as the local
// description, which starts ICE gathering.
func (a *Adapter) CreateOffer() (string, error) {
	offer, err := a.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := a.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer installs the remote offer, flushes any candidates that
// raced ahead of it, and produces the local answer.
func (a *Adapter) CreateAnswer(offerSDP string) (string, error) {
	if err := a.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return "", err
	}
	answer, err := a.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := a.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

// ApplyAnswer installs the remote answer on the offering side and
// flushes buffered candidates.
func (a *Adapter) ApplyAnswer(answerSDP string) error {
	return a.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP})
}

func (a *Adapter) setRemote(desc webrtc.SessionDescription) error {
	if err := a.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	a.mu.Lock()
	a.remoteSet = true
	buffered := a.pending.drain()
	a.mu.Unlock()

	for _, c := range buffered {
		if err := a.applyCandidate(c); err != nil && a.logger != nil {
			a.logger.Warn("buffered candidate rejected", zap.Error(err))
		}
	}
	return nil
}

// AddRemoteCandidate applies a peer candidate, or buffers it when the
// remote description is not yet installed.
func (a *Adapter) AddRemoteCandidate(c wire.ICECandidate) error {
	a.mu.Lock()
	if !a.remoteSet {
		a.pending.push(c)
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()
	return a.applyCandidate(c)
}

func (a *Adapter) applyCandidate(c wire.ICECandidate) error {
	return a.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

// ConnectionState reports the current PeerConnection state.
func (a *Adapter) ConnectionState() webrtc.PeerConnectionState {
	return a.pc.ConnectionState()
}

// ToggleAudio flips the local microphone and returns the new muted
// state. Muting detaches the track from its sender so nothing is
// transmitted; no renegotiation happens.
func (a *Adapter) ToggleAudio() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audioMuted = !a.audioMuted
	if a.cap != nil && a.cap.audioSender != nil {
		a.replaceTrack(a.cap.audioSender, a.cap.audioTrack, a.audioMuted)
	}
	return a.audioMuted
}

// ToggleVideo flips the local camera and returns the new disabled state.
func (a *Adapter) ToggleVideo() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.videoOff = !a.videoOff
	if a.cap != nil && a.cap.videoSender != nil {
		a.replaceTrack(a.cap.videoSender, a.cap.videoTrack, a.videoOff)
	}
	return a.videoOff
}

func (a *Adapter) replaceTrack(sender *webrtc.RTPSender, track webrtc.TrackLocal, detach bool) {
	var next webrtc.TrackLocal
	if !detach {
		next = track
	}
	if err := sender.ReplaceTrack(next); err != nil && a.logger != nil {
		a.logger.Warn("replace track failed", zap.Error(err))
	}
}

// SwitchCamera cycles to the next capture device and swaps the outgoing
// video track in place, without renegotiation.
func (a *Adapter) SwitchCamera() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cap == nil || a.cap.videoSender == nil || a.cap.switchCam == nil {
		return ErrNoCapture
	}
	track, err := a.cap.switchCam()
	if err != nil {
		return fmt.Errorf("switch camera: %w", err)
	}
	if !a.videoOff {
		if err := a.cap.videoSender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("replace video track: %w", err)
		}
	}
	a.cap.videoTrack = track
	return nil
}

// Cleanup stops capture, discards buffered candidates and closes the
// PeerConnection. Safe to call more than once.
func (a *Adapter) Cleanup() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	discarded := a.pending.drain()
	a.mu.Unlock()

	if len(discarded) > 0 && a.logger != nil {
		a.logger.Debug("discarding buffered candidates on teardown", zap.Int("count", len(discarded)))
	}
	if a.cap != nil && a.cap.stop != nil {
		a.cap.stop()
	}
	if err := a.pc.Close(); err != nil && a.logger != nil {
		a.logger.Warn("peer connection close failed", zap.Error(err))
	}
}
