// Package presence tracks the ephemeral per-conversation state: who is
// online and who is typing. Entries expire on wall-clock timers; online
// membership is event-driven, never polled.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/lvieira/chime/internal/bus"
	"github.com/lvieira/chime/internal/transport"
	"github.com/lvieira/chime/internal/wire"
	"go.uber.org/zap"
)

// Sender is the transport surface the tracker needs for outbound typing.
type Sender interface {
	Send(ch transport.Channel, event string, payload any) error
}

// TypingChange is the payload for presence.typing_changed events.
type TypingChange struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// OnlineChange is the payload for presence.online_changed events.
type OnlineChange struct {
	ConversationID string
}

// Tracker maintains typing and online sets per conversation. Outbound
// typing is debounced: the first keystroke emits "typing", each further
// keystroke resets the stop timer, and the timer firing (or an explicit
// stop) emits "stopped typing".
type Tracker struct {
	sender   Sender
	bus      *bus.Bus
	logger   *zap.Logger
	selfID   string
	debounce time.Duration

	mu         sync.Mutex
	stopTimers map[string]*time.Timer            // conversation -> outbound stop timer
	typing     map[string]map[string]*time.Timer // conversation -> user -> expiry timer
	online     map[string]map[string]struct{}
}

// NewTracker creates a tracker for the local user selfID. debounce is
// both the outbound inactivity window and the inbound entry lifetime.
func NewTracker(sender Sender, b *bus.Bus, selfID string, debounce time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		sender:     sender,
		bus:        b,
		logger:     logger,
		selfID:     selfID,
		debounce:   debounce,
		stopTimers: make(map[string]*time.Timer),
		typing:     make(map[string]map[string]*time.Timer),
		online:     make(map[string]map[string]struct{}),
	}
}

// SetTyping reports local keyboard activity. isTyping=true on a
// keystroke; isTyping=false forces an immediate stop (conversation
// leave), regardless of any pending timer.
func (t *Tracker) SetTyping(conversationID string, isTyping bool) {
	t.mu.Lock()
	timer, active := t.stopTimers[conversationID]

	if !isTyping {
		if active {
			timer.Stop()
			delete(t.stopTimers, conversationID)
		}
		t.mu.Unlock()
		// Always transmitted, even when the debounce timer already fired:
		// leaving a conversation must clear the indicator on the remote
		// side no matter how the frames raced.
		t.emitTyping(conversationID, false)
		return
	}

	if active {
		// Still typing: push the stop out, no duplicate start frame.
		timer.Reset(t.debounce)
		t.mu.Unlock()
		return
	}
	t.stopTimers[conversationID] = time.AfterFunc(t.debounce, func() {
		t.mu.Lock()
		delete(t.stopTimers, conversationID)
		t.mu.Unlock()
		t.emitTyping(conversationID, false)
	})
	t.mu.Unlock()
	t.emitTyping(conversationID, true)
}

func (t *Tracker) emitTyping(conversationID string, isTyping bool) {
	err := t.sender.Send(transport.ChannelChat, wire.EvTyping, wire.Typing{
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
	if err != nil && t.logger != nil {
		t.logger.Warn("typing frame dropped", zap.Error(err), zap.String("conversation_id", conversationID))
	}
}

// HandleTyping applies an inbound typing event. The local user's own
// echo is filtered out; a remote start arms (or re-arms) the expiry
// timer so stale entries clear even if the stop frame is lost.
func (t *Tracker) HandleTyping(ev *wire.Typing) {
	if ev.UserID == t.selfID {
		return
	}

	t.mu.Lock()
	users := t.typing[ev.ConversationID]

	if !ev.IsTyping {
		if expiry, ok := users[ev.UserID]; ok {
			expiry.Stop()
			delete(users, ev.UserID)
			t.mu.Unlock()
			t.bus.Emit(bus.KindPresenceTyping, TypingChange{ConversationID: ev.ConversationID, UserID: ev.UserID, IsTyping: false})
			return
		}
		t.mu.Unlock()
		return
	}

	if users == nil {
		users = make(map[string]*time.Timer)
		t.typing[ev.ConversationID] = users
	}
	if expiry, ok := users[ev.UserID]; ok {
		expiry.Reset(t.debounce)
		t.mu.Unlock()
		return
	}
	conv, user := ev.ConversationID, ev.UserID
	users[user] = time.AfterFunc(t.debounce, func() {
		t.expire(conv, user)
	})
	t.mu.Unlock()
	t.bus.Emit(bus.KindPresenceTyping, TypingChange{ConversationID: conv, UserID: user, IsTyping: true})
}

func (t *Tracker) expire(conversationID, userID string) {
	t.mu.Lock()
	users := t.typing[conversationID]
	_, ok := users[userID]
	if ok {
		delete(users, userID)
	}
	t.mu.Unlock()
	if ok {
		t.bus.Emit(bus.KindPresenceTyping, TypingChange{ConversationID: conversationID, UserID: userID, IsTyping: false})
	}
}

// HandleOnline applies an inbound online_status event: a snapshot
// replaces the conversation's whole set, an incremental event adds or
// removes one member.
func (t *Tracker) HandleOnline(ev *wire.OnlineStatus) {
	t.mu.Lock()
	if ev.Snapshot != nil {
		set := make(map[string]struct{}, len(ev.Snapshot))
		for _, id := range ev.Snapshot {
			set[id] = struct{}{}
		}
		t.online[ev.ConversationID] = set
	} else {
		set := t.online[ev.ConversationID]
		if set == nil {
			set = make(map[string]struct{})
			t.online[ev.ConversationID] = set
		}
		if ev.IsOnline {
			set[ev.UserID] = struct{}{}
		} else {
			delete(set, ev.UserID)
		}
	}
	t.mu.Unlock()
	t.bus.Emit(bus.KindPresenceOnline, OnlineChange{ConversationID: ev.ConversationID})
}

// TypingUsers returns the users currently typing in a conversation,
// sorted for stable presentation.
func (t *Tracker) TypingUsers(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeysTimer(t.typing[conversationID])
}

// OnlineUsers returns the conversation's online set, sorted.
func (t *Tracker) OnlineUsers(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.online[conversationID])
}

// Close stops every pending timer. Used on daemon shutdown.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, timer := range t.stopTimers {
		timer.Stop()
	}
	t.stopTimers = make(map[string]*time.Timer)
	for _, users := range t.typing {
		for _, timer := range users {
			timer.Stop()
		}
	}
	t.typing = make(map[string]map[string]*time.Timer)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedKeysTimer(set map[string]*time.Timer) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
