package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced so consumers can subscribe by prefix:
//
//	transport.*   connection status changes per channel
//	message.*     upserted / send_failed / receipt / reaction updates
//	conversation.* unread counter and last-message changes
//	presence.*    typing and online set changes
//	call.*        incoming / state_changed / ended
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core. Presentation layers subscribe to
// these; the core never depends on who is listening.
const (
	KindTransportStatus = "transport.status_changed"

	KindMessageUpserted   = "message.upserted"
	KindMessageSendFailed = "message.send_failed"
	KindMessageReceipt    = "message.receipt"
	KindMessageEdited     = "message.edited"
	KindMessageDeleted    = "message.deleted"
	KindMessageReaction   = "message.reaction"

	KindConversationUnread = "conversation.unread_changed"

	KindPresenceTyping = "presence.typing_changed"
	KindPresenceOnline = "presence.online_changed"

	KindCallIncoming = "call.incoming"
	KindCallState    = "call.state_changed"
	KindCallEnded    = "call.ended"
)
