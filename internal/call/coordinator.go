// Package call drives the call lifecycle: the state machine, the
// call-scoped context and the signaling exchange. Media mechanics live
// in internal/media behind the Session seam.
package call

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lvieira/chime/internal/bus"
	"github.com/lvieira/chime/internal/config"
	"github.com/lvieira/chime/internal/transport"
	"github.com/lvieira/chime/internal/wire"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned when a call is already active.
	ErrBusy = errors.New("call: already in a call")
	// ErrNotConnected is returned while the signaling channel is down.
	ErrNotConnected = errors.New("call: signaling channel not connected")
	// ErrNoCall is returned by operations that need an active call.
	ErrNoCall = errors.New("call: no active call")
)

// Sender is the signaling transport surface.
type Sender interface {
	Send(ch transport.Channel, event string, payload any) error
	Connected(ch transport.Channel) bool
}

// Session is one media session; *media.Adapter satisfies it.
type Session interface {
	CreateOffer() (string, error)
	CreateAnswer(offerSDP string) (string, error)
	ApplyAnswer(answerSDP string) error
	AddRemoteCandidate(c wire.ICECandidate) error
	OnLocalCandidate(fn func(wire.ICECandidate))
	OnStateChange(fn func(webrtc.PeerConnectionState))
	Cleanup()
}

// SessionFactory builds the media session for one call of the given
// type ("audio" or "video").
type SessionFactory func(callType string) (Session, error)

// Incoming is the payload of call.incoming bus events.
type Incoming struct {
	CallID         string
	ConversationID string
	CallerID       string
	CallerName     string
	Type           string
}

// StateChange is the payload of call.state_changed bus events.
type StateChange struct {
	CallID string
	From   State
	To     State
}

// End is the payload of call.ended bus events.
type End struct {
	CallID   string
	Reason   State // ENDED, REJECTED or FAILED
	Duration time.Duration
}

// Coordinator owns at most one call at a time. All handlers lock the
// coordinator, so lifecycle decisions never interleave mid-event.
type Coordinator struct {
	sender     Sender
	newSession SessionFactory
	bus        *bus.Bus
	logger     *zap.Logger
	selfID     string
	busyPolicy string

	mu       sync.Mutex
	state    State
	ctx      *Context
	session  Session
	outbound []wire.ICECandidate // generated before the call id is known
}

// NewCoordinator creates an idle coordinator. busyPolicy is
// config.BusyReject or config.BusyIgnore.
func NewCoordinator(sender Sender, factory SessionFactory, b *bus.Bus, selfID, busyPolicy string, logger *zap.Logger) *Coordinator {
	if busyPolicy == "" {
		busyPolicy = config.BusyReject
	}
	return &Coordinator{
		sender:     sender,
		newSession: factory,
		bus:        b,
		logger:     logger,
		selfID:     selfID,
		busyPolicy: busyPolicy,
		state:      StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns a snapshot of the call-scoped context, or nil when
// idle.
func (c *Coordinator) Active() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil
	}
	snapshot := *c.ctx
	return &snapshot
}

// StartCall creates the media session and offer for a new outgoing call
// and transmits the invitation. The call id is unknown until the server
// echoes the invite; candidates gathered before then are buffered.
func (c *Coordinator) StartCall(conversationID, callType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrBusy
	}
	if !c.sender.Connected(transport.ChannelCall) {
		return ErrNotConnected
	}

	session, err := c.newSession(callType)
	if err != nil {
		return fmt.Errorf("create media session: %w", err)
	}
	session.OnLocalCandidate(c.handleLocalCandidate)
	session.OnStateChange(c.handleMediaState)

	offer, err := session.CreateOffer()
	if err != nil {
		session.Cleanup()
		return fmt.Errorf("create offer: %w", err)
	}

	c.session = session
	c.ctx = &Context{
		ConversationID: conversationID,
		Type:           callType,
		CallerID:       c.selfID,
		IsCaller:       true,
		CreatedAt:      time.Now(),
	}
	c.transition(StateOutgoing)

	err = c.sender.Send(transport.ChannelCall, wire.EvInitiateCall, wire.InitiateCall{
		ConversationID: conversationID,
		CallType:       callType,
		OfferSDP:       offer,
	})
	if err != nil {
		c.teardown(StateFailed)
		return fmt.Errorf("transmit invite: %w", err)
	}
	return nil
}

// AcceptCall answers the ringing call. The offer is read from the
// call-scoped context, not passed in, so it survives consumer restarts.
func (c *Coordinator) AcceptCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRinging || c.ctx == nil {
		return ErrNoCall
	}

	session, err := c.newSession(c.ctx.Type)
	if err != nil {
		return fmt.Errorf("create media session: %w", err)
	}
	session.OnLocalCandidate(c.handleLocalCandidate)
	session.OnStateChange(c.handleMediaState)

	answer, err := session.CreateAnswer(c.ctx.OfferSDP)
	if err != nil {
		session.Cleanup()
		return fmt.Errorf("create answer: %w", err)
	}
	c.session = session

	err = c.sender.Send(transport.ChannelCall, wire.EvAnswerCall, wire.AnswerCall{
		CallID:    c.ctx.ID,
		AnswerSDP: answer,
	})
	if err != nil {
		c.teardown(StateFailed)
		return fmt.Errorf("transmit answer: %w", err)
	}
	c.ctx.AnsweredAt = time.Now()
	c.transition(StateAnswered)
	return nil
}

// RejectCall declines the ringing call.
func (c *Coordinator) RejectCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRinging || c.ctx == nil {
		return ErrNoCall
	}
	if err := c.sender.Send(transport.ChannelCall, wire.EvRejectCall, wire.RejectCall{CallID: c.ctx.ID}); err != nil {
		c.logWarn("reject signal failed", err)
	}
	c.teardown(StateRejected)
	return nil
}

// HangUp ends the active call. Idempotent: hanging up while idle is a
// no-op.
func (c *Coordinator) HangUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hangUpLocked()
}

func (c *Coordinator) hangUpLocked() error {
	if c.state == StateIdle || c.ctx == nil {
		return nil
	}
	if c.ctx.ID != "" {
		if err := c.sender.Send(transport.ChannelCall, wire.EvEndCall, wire.EndCall{CallID: c.ctx.ID}); err != nil {
			c.logWarn("end signal failed", err)
		}
	}
	c.teardown(StateEnded)
	return nil
}

// HandleIncoming processes an invitation. The server echoes the local
// user's own invite with is_caller set; that echo carries the assigned
// call id and releases the buffered candidates.
func (c *Coordinator) HandleIncoming(ev *wire.IncomingCall) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.IsCaller || ev.CallerID == c.selfID {
		c.adoptCallID(ev.CallID)
		return
	}

	if c.state != StateIdle {
		// Busy. Policy decides between an explicit reject and silence
		// (letting the caller time out, e.g. while the user is mid-call).
		if c.busyPolicy == config.BusyReject {
			if err := c.sender.Send(transport.ChannelCall, wire.EvRejectCall, wire.RejectCall{CallID: ev.CallID}); err != nil {
				c.logWarn("busy reject failed", err)
			}
		}
		return
	}

	c.ctx = &Context{
		ID:             ev.CallID,
		ConversationID: ev.ConversationID,
		Type:           ev.CallType,
		CallerID:       ev.CallerID,
		CallerName:     ev.CallerName,
		OfferSDP:       ev.OfferSDP,
		CreatedAt:      time.Now(),
	}
	c.transition(StateRinging)
	c.bus.Emit(bus.KindCallIncoming, Incoming{
		CallID:         ev.CallID,
		ConversationID: ev.ConversationID,
		CallerID:       ev.CallerID,
		CallerName:     ev.CallerName,
		Type:           ev.CallType,
	})
}

// adoptCallID captures the server-assigned id and flushes the candidate
// buffer in FIFO order, each tagged with the id.
func (c *Coordinator) adoptCallID(callID string) {
	if c.state != StateOutgoing || c.ctx == nil || c.ctx.ID != "" {
		return
	}
	c.ctx.ID = callID
	buffered := c.outbound
	c.outbound = nil
	for _, candidate := range buffered {
		if err := c.sender.Send(transport.ChannelCall, wire.EvSendICECandidate, wire.SendICECandidate{
			CallID:    callID,
			Candidate: candidate,
		}); err != nil {
			c.logWarn("buffered candidate send failed", err)
		}
	}
}

// HandleAnswered applies the callee's answer on the caller side. The
// call record is read from the call-scoped context.
func (c *Coordinator) HandleAnswered(ev *wire.CallAnswered) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOutgoing || c.ctx == nil || c.session == nil {
		return
	}
	if ev.CallID != "" && c.ctx.ID != "" && ev.CallID != c.ctx.ID {
		c.logWarn("answer for unknown call dropped", fmt.Errorf("got %s, active %s", ev.CallID, c.ctx.ID))
		return
	}
	if err := c.session.ApplyAnswer(ev.AnswerSDP); err != nil {
		c.logWarn("apply answer failed", err)
		c.teardown(StateFailed)
		return
	}
	c.ctx.AnsweredAt = time.Now()
	c.transition(StateConnected)
}

// HandleRemoteCandidate forwards a peer candidate to the media session,
// which buffers it if no remote description is installed yet.
func (c *Coordinator) HandleRemoteCandidate(ev *wire.ICECandidateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return
	}
	if err := c.session.AddRemoteCandidate(ev.Candidate); err != nil {
		c.logWarn("remote candidate rejected", err)
	}
}

// HandleEnded mirrors a remote hang-up.
func (c *Coordinator) HandleEnded(*wire.CallEnded) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return
	}
	c.teardown(StateEnded)
}

// HandleRejected mirrors the callee declining.
func (c *Coordinator) HandleRejected(*wire.CallRejected) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return
	}
	c.teardown(StateRejected)
}

// handleLocalCandidate runs on the media gathering goroutine. Before
// the call id is assigned candidates queue up; after teardown they are
// dropped.
func (c *Coordinator) handleLocalCandidate(candidate wire.ICECandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return
	}
	if c.ctx.ID == "" {
		c.outbound = append(c.outbound, candidate)
		return
	}
	if err := c.sender.Send(transport.ChannelCall, wire.EvSendICECandidate, wire.SendICECandidate{
		CallID:    c.ctx.ID,
		Candidate: candidate,
	}); err != nil {
		c.logWarn("candidate send failed", err)
	}
}

// handleMediaState reacts to PeerConnection transitions: connected
// completes the callee's answered phase, failed or disconnected hangs
// up.
func (c *Coordinator) handleMediaState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s {
	case webrtc.PeerConnectionStateConnected:
		if c.state == StateAnswered {
			c.transition(StateConnected)
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		if c.state != StateIdle {
			c.logWarn("media session lost", fmt.Errorf("state %s", s))
			_ = c.hangUpLocked()
		}
	}
}

// transition moves the machine, logging instead of failing on an
// illegal move: inbound events can legally race user actions.
func (c *Coordinator) transition(to State) {
	if err := checkTransition(c.state, to); err != nil {
		c.logWarn("transition skipped", err)
		return
	}
	from := c.state
	c.state = to
	var callID string
	if c.ctx != nil {
		callID = c.ctx.ID
	}
	c.bus.Emit(bus.KindCallState, StateChange{CallID: callID, From: from, To: to})
}

// teardown releases media, clears the candidate buffer and the
// call-scoped context, and returns to idle via the terminal state.
// Every terminal path funnels through here.
func (c *Coordinator) teardown(terminal State) {
	if c.session != nil {
		c.session.Cleanup()
		c.session = nil
	}
	c.outbound = nil

	end := End{Reason: terminal}
	if c.ctx != nil {
		c.ctx.EndedAt = time.Now()
		end.CallID = c.ctx.ID
		end.Duration = c.ctx.Duration()
		c.ctx = nil
	}

	c.transition(terminal)
	c.transition(StateIdle)
	c.bus.Emit(bus.KindCallEnded, end)
}

func (c *Coordinator) logWarn(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn("call: "+msg, zap.Error(err))
	}
}
