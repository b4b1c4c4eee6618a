package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/lvieira/chime/internal/bus"
	"github.com/lvieira/chime/internal/transport"
	"github.com/lvieira/chime/internal/wire"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []wire.Typing
}

func (f *fakeSender) Send(_ transport.Channel, _ string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload.(wire.Typing))
	return nil
}

func (f *fakeSender) frames() []wire.Typing {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Typing, len(f.sent))
	copy(out, f.sent)
	return out
}

func testTracker(debounce time.Duration) (*Tracker, *fakeSender, *bus.Bus) {
	sender := &fakeSender{}
	b := bus.New()
	return NewTracker(sender, b, "me", debounce, nil), sender, b
}

func TestSetTypingDebounce(t *testing.T) {
	tr, sender, _ := testTracker(50 * time.Millisecond)
	defer tr.Close()

	// Three keystrokes inside the window emit one start frame.
	tr.SetTyping("c1", true)
	tr.SetTyping("c1", true)
	tr.SetTyping("c1", true)

	frames := sender.frames()
	if len(frames) != 1 || !frames[0].IsTyping {
		t.Fatalf("frames after keystrokes = %v, want one start", frames)
	}

	// After the inactivity window the stop frame is emitted.
	deadline := time.After(time.Second)
	for len(sender.frames()) < 2 {
		select {
		case <-deadline:
			t.Fatal("no auto-stop frame within timeout")
		case <-time.After(5 * time.Millisecond):
		}
	}
	frames = sender.frames()
	if frames[1].IsTyping {
		t.Errorf("second frame = %+v, want stop", frames[1])
	}
}

func TestSetTypingKeystrokeResetsTimer(t *testing.T) {
	tr, sender, _ := testTracker(60 * time.Millisecond)
	defer tr.Close()

	tr.SetTyping("c1", true)
	// Keep typing past the original deadline.
	time.Sleep(40 * time.Millisecond)
	tr.SetTyping("c1", true)
	time.Sleep(40 * time.Millisecond)

	// 80ms elapsed but the timer was reset at 40ms, so no stop yet.
	if frames := sender.frames(); len(frames) != 1 {
		t.Fatalf("stop emitted despite reset: %v", frames)
	}
}

func TestSetTypingForcedStop(t *testing.T) {
	tr, sender, _ := testTracker(time.Hour)
	defer tr.Close()

	tr.SetTyping("c1", true)
	// Leaving the conversation stops immediately, timer notwithstanding.
	tr.SetTyping("c1", false)

	frames := sender.frames()
	if len(frames) != 2 || frames[1].IsTyping {
		t.Fatalf("frames = %v, want start then stop", frames)
	}

	// A stop with no timer armed still transmits: the leave must clear
	// the remote indicator even if the debounce already fired.
	tr.SetTyping("c1", false)
	frames = sender.frames()
	if len(frames) != 3 || frames[2].IsTyping {
		t.Errorf("frames after second stop = %v, want a third stop frame", frames)
	}
}

func TestHandleTypingFiltersOwnEcho(t *testing.T) {
	tr, _, _ := testTracker(time.Hour)
	defer tr.Close()

	tr.HandleTyping(&wire.Typing{ConversationID: "c1", UserID: "me", IsTyping: true})
	if users := tr.TypingUsers("c1"); len(users) != 0 {
		t.Errorf("own echo recorded: %v", users)
	}
}

func TestHandleTypingAddAndRemove(t *testing.T) {
	tr, _, b := testTracker(time.Hour)
	defer tr.Close()

	events, unsub := b.Subscribe(bus.KindPresenceTyping, 4)
	defer unsub()

	tr.HandleTyping(&wire.Typing{ConversationID: "c1", UserID: "alice", IsTyping: true})
	tr.HandleTyping(&wire.Typing{ConversationID: "c1", UserID: "bob", IsTyping: true})

	users := tr.TypingUsers("c1")
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("typing set = %v", users)
	}

	tr.HandleTyping(&wire.Typing{ConversationID: "c1", UserID: "alice", IsTyping: false})
	users = tr.TypingUsers("c1")
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("typing set after stop = %v", users)
	}

	// Three bus events: two starts and one stop.
	for i := 0; i < 3; i++ {
		select {
		case <-events:
		default:
			t.Fatalf("only %d typing events published, want 3", i)
		}
	}
}

func TestHandleTypingExpiry(t *testing.T) {
	tr, _, b := testTracker(40 * time.Millisecond)
	defer tr.Close()

	events, unsub := b.Subscribe(bus.KindPresenceTyping, 4)
	defer unsub()

	tr.HandleTyping(&wire.Typing{ConversationID: "c1", UserID: "alice", IsTyping: true})
	<-events // start

	// The entry clears on its own even though no stop frame arrived.
	select {
	case evt := <-events:
		change := evt.Payload.(TypingChange)
		if change.IsTyping || change.UserID != "alice" {
			t.Fatalf("expiry event = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("typing entry did not expire")
	}
	if users := tr.TypingUsers("c1"); len(users) != 0 {
		t.Errorf("typing set after expiry = %v", users)
	}
}

func TestHandleOnlineSnapshotReplaces(t *testing.T) {
	tr, _, _ := testTracker(time.Hour)
	defer tr.Close()

	tr.HandleOnline(&wire.OnlineStatus{ConversationID: "c1", UserID: "stale", IsOnline: true})
	tr.HandleOnline(&wire.OnlineStatus{ConversationID: "c1", Snapshot: []string{"bob", "alice"}})

	users := tr.OnlineUsers("c1")
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("online set = %v, want snapshot contents", users)
	}
}

func TestHandleOnlineIncremental(t *testing.T) {
	tr, _, b := testTracker(time.Hour)
	defer tr.Close()

	events, unsub := b.Subscribe(bus.KindPresenceOnline, 4)
	defer unsub()

	tr.HandleOnline(&wire.OnlineStatus{ConversationID: "c1", UserID: "alice", IsOnline: true})
	tr.HandleOnline(&wire.OnlineStatus{ConversationID: "c1", UserID: "bob", IsOnline: true})
	tr.HandleOnline(&wire.OnlineStatus{ConversationID: "c1", UserID: "alice", IsOnline: false})

	users := tr.OnlineUsers("c1")
	if len(users) != 1 || users[0] != "bob" {
		t.Errorf("online set = %v, want [bob]", users)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-events:
		default:
			t.Fatalf("only %d online events published, want 3", i)
		}
	}
}

func TestConversationsIsolated(t *testing.T) {
	tr, _, _ := testTracker(time.Hour)
	defer tr.Close()

	tr.HandleTyping(&wire.Typing{ConversationID: "c1", UserID: "alice", IsTyping: true})
	tr.HandleOnline(&wire.OnlineStatus{ConversationID: "c2", UserID: "bob", IsOnline: true})

	if users := tr.TypingUsers("c2"); len(users) != 0 {
		t.Errorf("typing leaked across conversations: %v", users)
	}
	if users := tr.OnlineUsers("c1"); len(users) != 0 {
		t.Errorf("online leaked across conversations: %v", users)
	}
}
