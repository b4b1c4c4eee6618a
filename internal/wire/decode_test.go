package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeChatEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		data    string
		wantErr bool
	}{
		{"message ok", EvMessage, `{"id":"m1","conversation_id":"c1","sender_id":"u1","body":"hi","created_at":1000}`, false},
		{"message missing id", EvMessage, `{"conversation_id":"c1","sender_id":"u1"}`, true},
		{"message_sent shares shape", EvMessageSent, `{"id":"m1","conversation_id":"c1","sender_id":"u1"}`, false},
		{"message bad json", EvMessage, `{"id":`, true},
		{"typing ok", EvTyping, `{"conversation_id":"c1","user_id":"u2","is_typing":true}`, false},
		{"typing missing conversation", EvTyping, `{"user_id":"u2"}`, true},
		{"delivery receipt ok", EvDeliveryReceipt, `{"message_id":"m1"}`, false},
		{"delivery receipt empty", EvDeliveryReceipt, `{}`, true},
		{"read receipt ok", EvReadReceipt, `{"message_id":"m1"}`, false},
		{"all read ok", EvAllReadReceipt, `{"conversation_id":"c1","user_id":"u2"}`, false},
		{"unread count ok", EvUnreadCountUpdate, `{"conversation_id":"c1","unread_count":4}`, false},
		{"online incremental", EvOnlineStatus, `{"conversation_id":"c1","user_id":"u2","is_online":true}`, false},
		{"online snapshot", EvOnlineStatus, `{"conversation_id":"c1","online_user_ids":["u1","u2"]}`, false},
		{"online neither", EvOnlineStatus, `{"conversation_id":"c1"}`, true},
		{"reaction ok", EvReaction, `{"message_id":"m1","conversation_id":"c1","user_id":"u2","emoji":"x"}`, false},
		{"edited ok", EvMessageEdited, `{"message_id":"m1","conversation_id":"c1","body":"new"}`, false},
		{"deleted ok", EvMessageDeleted, `{"message_id":"m1","conversation_id":"c1"}`, false},
		{"unknown event", "made_up", `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeChatEvent(tt.event, json.RawMessage(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeChatEvent(%s) error = %v, wantErr %v", tt.event, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeCallEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		data    string
		wantErr bool
	}{
		{"incoming ok", EvIncomingCall, `{"call_id":"c1","caller_id":"u1","caller_username":"alice","call_type":"video","offer_sdp":"v=0","is_caller":false}`, false},
		{"incoming bad type", EvIncomingCall, `{"call_id":"c1","caller_id":"u1","call_type":"hologram"}`, true},
		{"incoming missing id", EvIncomingCall, `{"caller_id":"u1","call_type":"audio"}`, true},
		{"answered ok", EvCallAnswered, `{"call_id":"c1","answer_sdp":"v=0"}`, false},
		{"answered no sdp", EvCallAnswered, `{"call_id":"c1"}`, true},
		{"ice ok", EvICECandidate, `{"candidate":{"candidate":"candidate:1 1 UDP 1 10.0.0.1 5000 typ host","sdp_mline_index":0}}`, false},
		{"ice empty", EvICECandidate, `{"candidate":{}}`, true},
		{"ended ok", EvCallEnded, `{"duration":42}`, false},
		{"rejected ok", EvCallRejected, `{"username":"bob"}`, false},
		{"unknown", "wave", `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCallEvent(tt.event, json.RawMessage(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeCallEvent(%s) error = %v, wantErr %v", tt.event, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeTypedResult(t *testing.T) {
	v, err := DecodeChatEvent(EvMessage, json.RawMessage(
		`{"id":"m1","client_id":"local-1","conversation_id":"c1","sender_id":"u1","body":"hello","is_delivered":true,"created_at":1000}`))
	if err != nil {
		t.Fatal(err)
	}
	msg, ok := v.(*Message)
	if !ok {
		t.Fatalf("result type = %T, want *Message", v)
	}
	if msg.ClientID != "local-1" || !msg.Delivered || msg.Body != "hello" {
		t.Errorf("unexpected decode: %+v", msg)
	}
}

func TestUnknownEventError(t *testing.T) {
	_, err := DecodeChatEvent("nope", nil)
	var unknown *ErrUnknownEvent
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownEvent, got %T", err)
	}
	if unknown.Event != "nope" {
		t.Errorf("Event = %q", unknown.Event)
	}
}

func TestMalformedWrapsSentinel(t *testing.T) {
	_, err := DecodeChatEvent(EvDeliveryReceipt, json.RawMessage(`{}`))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}
