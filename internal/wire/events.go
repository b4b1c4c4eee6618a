// Package wire defines the chime wire protocol: the closed set of event
// names carried over the chat and call signaling channels, one typed
// payload struct per event, and a strict decoder that rejects frames
// that do not match a known shape.
package wire

import "encoding/json"

// Frame is the envelope for every websocket message on either channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Chat channel, inbound.
const (
	EvMessage           = "message"
	EvMessageSent       = "message_sent"
	EvMessageEdited     = "message_edited"
	EvMessageDeleted    = "message_deleted"
	EvTyping            = "typing"
	EvReaction          = "reaction"
	EvReactionRemoved   = "reaction_removed"
	EvDeliveryReceipt   = "delivery_receipt"
	EvReadReceipt       = "read_receipt"
	EvAllReadReceipt    = "all_read_receipt"
	EvUnreadCountUpdate = "unread_count_update"
	EvOnlineStatus      = "online_status"
)

// Chat channel, outbound.
const (
	EvSendMessage    = "send_message"
	EvMarkDelivered  = "mark_delivered"
	EvMarkAllRead    = "mark_all_read"
	EvReact          = "react"
	EvRemoveReaction = "remove_reaction"
	EvDeleteMessage  = "delete_message"
	EvEditMessage    = "edit_message"
)

// Call channel, inbound.
const (
	EvIncomingCall = "incoming_call"
	EvCallAnswered = "call_answered"
	EvICECandidate = "ice_candidate"
	EvCallEnded    = "call_ended"
	EvCallRejected = "call_rejected"
)

// Call channel, outbound.
const (
	EvInitiateCall     = "initiate_call"
	EvAnswerCall       = "answer_call"
	EvRejectCall       = "reject_call"
	EvEndCall          = "end_call"
	EvSendICECandidate = "send_ice_candidate"
)

// Call types carried in incoming_call and initiate_call.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)
