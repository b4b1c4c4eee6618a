package daemon

import (
	"encoding/json"

	"github.com/lvieira/chime/internal/call"
	"github.com/lvieira/chime/internal/chat"
	"github.com/lvieira/chime/internal/presence"
	"github.com/lvieira/chime/internal/transport"
	"github.com/lvieira/chime/internal/wire"
	"go.uber.org/zap"
)

// bindChatEvents routes inbound chat frames through the strict decoder
// to the sync engine and presence tracker. Malformed payloads are
// logged and dropped; they never take the read loop down.
func bindChatEvents(mux *transport.Mux, engine *chat.Engine, tracker *presence.Tracker, logger *zap.Logger) {
	events := []string{
		wire.EvMessage, wire.EvMessageSent, wire.EvMessageEdited,
		wire.EvMessageDeleted, wire.EvTyping, wire.EvReaction,
		wire.EvReactionRemoved, wire.EvDeliveryReceipt, wire.EvReadReceipt,
		wire.EvAllReadReceipt, wire.EvUnreadCountUpdate, wire.EvOnlineStatus,
	}
	for _, event := range events {
		event := event
		mux.On(transport.ChannelChat, event, func(data json.RawMessage) {
			payload, err := wire.DecodeChatEvent(event, data)
			if err != nil {
				logger.Warn("dropping chat frame",
					zap.String("event", event), zap.Error(err))
				return
			}
			dispatchChat(event, payload, engine, tracker)
		})
	}
}

func dispatchChat(event string, payload any, engine *chat.Engine, tracker *presence.Tracker) {
	switch event {
	case wire.EvMessage, wire.EvMessageSent:
		engine.HandleMessage(payload.(*wire.Message))
	case wire.EvMessageEdited:
		engine.HandleEdited(payload.(*wire.MessageEdited))
	case wire.EvMessageDeleted:
		engine.HandleDeleted(payload.(*wire.MessageDeleted))
	case wire.EvTyping:
		tracker.HandleTyping(payload.(*wire.Typing))
	case wire.EvReaction:
		engine.HandleReaction(payload.(*wire.Reaction), false)
	case wire.EvReactionRemoved:
		engine.HandleReaction(payload.(*wire.Reaction), true)
	case wire.EvDeliveryReceipt:
		engine.HandleDeliveryReceipt(payload.(*wire.DeliveryReceipt))
	case wire.EvReadReceipt:
		engine.HandleReadReceipt(payload.(*wire.ReadReceipt))
	case wire.EvAllReadReceipt:
		engine.HandleAllRead(payload.(*wire.AllReadReceipt))
	case wire.EvUnreadCountUpdate:
		engine.HandleUnreadCount(payload.(*wire.UnreadCountUpdate))
	case wire.EvOnlineStatus:
		tracker.HandleOnline(payload.(*wire.OnlineStatus))
	}
}

// bindCallEvents routes inbound call signaling frames to the
// coordinator.
func bindCallEvents(mux *transport.Mux, coordinator *call.Coordinator, logger *zap.Logger) {
	events := []string{
		wire.EvIncomingCall, wire.EvCallAnswered, wire.EvICECandidate,
		wire.EvCallEnded, wire.EvCallRejected,
	}
	for _, event := range events {
		event := event
		mux.On(transport.ChannelCall, event, func(data json.RawMessage) {
			payload, err := wire.DecodeCallEvent(event, data)
			if err != nil {
				logger.Warn("dropping call frame",
					zap.String("event", event), zap.Error(err))
				return
			}
			dispatchCall(event, payload, coordinator)
		})
	}
}

func dispatchCall(event string, payload any, coordinator *call.Coordinator) {
	switch event {
	case wire.EvIncomingCall:
		coordinator.HandleIncoming(payload.(*wire.IncomingCall))
	case wire.EvCallAnswered:
		coordinator.HandleAnswered(payload.(*wire.CallAnswered))
	case wire.EvICECandidate:
		coordinator.HandleRemoteCandidate(payload.(*wire.ICECandidateEvent))
	case wire.EvCallEnded:
		coordinator.HandleEnded(payload.(*wire.CallEnded))
	case wire.EvCallRejected:
		coordinator.HandleRejected(payload.(*wire.CallRejected))
	}
}
