package wire

import "errors"

// ErrMalformed is wrapped by every payload validation failure.
var ErrMalformed = errors.New("malformed payload")

// Message is the record shape shared by the `message` and `message_sent`
// events. ClientID is the client-generated correlation id echoed back by
// servers that support it; older servers leave it empty and the sync
// engine falls back to body matching for own echoes.
type Message struct {
	ID             string `json:"id"`
	ClientID       string `json:"client_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_username,omitempty"`
	Body           string `json:"body"`
	MediaURL       string `json:"media_url,omitempty"`
	ReplyTo        string `json:"reply_to,omitempty"`
	Delivered      bool   `json:"is_delivered"`
	Read           bool   `json:"is_read"`
	CreatedAt      int64  `json:"created_at"`
}

func (m *Message) validate() error {
	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return errors.New("message: id, conversation_id and sender_id are required")
	}
	return nil
}

// MessageEdited updates the body of an existing message.
type MessageEdited struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	EditedAt       int64  `json:"edited_at"`
}

func (m *MessageEdited) validate() error {
	if m.MessageID == "" {
		return errors.New("message_edited: message_id is required")
	}
	return nil
}

// MessageDeleted tombstones an existing message.
type MessageDeleted struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

func (m *MessageDeleted) validate() error {
	if m.MessageID == "" {
		return errors.New("message_deleted: message_id is required")
	}
	return nil
}

// Typing reports that a user started or stopped typing in a conversation.
// Outbound frames omit UserID (the server fills it from the session).
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

func (t *Typing) validate() error {
	if t.ConversationID == "" {
		return errors.New("typing: conversation_id is required")
	}
	return nil
}

// Reaction adds or (for reaction_removed) removes an emoji reaction.
type Reaction struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Emoji          string `json:"emoji"`
}

func (r *Reaction) validate() error {
	if r.MessageID == "" || r.UserID == "" {
		return errors.New("reaction: message_id and user_id are required")
	}
	return nil
}

// DeliveryReceipt acknowledges that a message reached a recipient.
type DeliveryReceipt struct {
	MessageID string `json:"message_id"`
}

func (r *DeliveryReceipt) validate() error {
	if r.MessageID == "" {
		return errors.New("delivery_receipt: message_id is required")
	}
	return nil
}

// ReadReceipt acknowledges that a message was viewed by a recipient.
type ReadReceipt struct {
	MessageID string `json:"message_id"`
}

func (r *ReadReceipt) validate() error {
	if r.MessageID == "" {
		return errors.New("read_receipt: message_id is required")
	}
	return nil
}

// AllReadReceipt confirms a bulk read of a conversation by a user.
type AllReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

func (r *AllReadReceipt) validate() error {
	if r.ConversationID == "" {
		return errors.New("all_read_receipt: conversation_id is required")
	}
	return nil
}

// UnreadCountUpdate carries the authoritative unread counter.
type UnreadCountUpdate struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int    `json:"unread_count"`
}

func (u *UnreadCountUpdate) validate() error {
	if u.ConversationID == "" {
		return errors.New("unread_count_update: conversation_id is required")
	}
	return nil
}

// OnlineStatus is either an incremental membership change (UserID +
// IsOnline) or, when Snapshot is non-nil, a whole-set replacement.
type OnlineStatus struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id,omitempty"`
	IsOnline       bool     `json:"is_online,omitempty"`
	Snapshot       []string `json:"online_user_ids,omitempty"`
}

func (o *OnlineStatus) validate() error {
	if o.ConversationID == "" {
		return errors.New("online_status: conversation_id is required")
	}
	if o.Snapshot == nil && o.UserID == "" {
		return errors.New("online_status: user_id or online_user_ids is required")
	}
	return nil
}

// SendMessage is the outbound text send. Media is uploaded over REST
// first; MediaURL carries the resulting reference.
type SendMessage struct {
	ClientID       string `json:"client_id"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	MediaURL       string `json:"media_url,omitempty"`
	ReplyTo        string `json:"reply_to,omitempty"`
}

// MarkDelivered acknowledges receipt of one message.
type MarkDelivered struct {
	MessageID string `json:"message_id"`
}

// MarkAllRead requests a bulk read of a conversation.
type MarkAllRead struct {
	ConversationID string `json:"conversation_id"`
}

// React adds an emoji reaction to a message.
type React struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// DeleteMessage requests deletion of an own message.
type DeleteMessage struct {
	MessageID string `json:"message_id"`
}

// EditMessage replaces the body of an own message.
type EditMessage struct {
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
}

// ICECandidate is one potential network path proposed by a peer.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// IncomingCall announces an invitation. IsCaller marks the server echo of
// the local user's own initiate_call, which carries the assigned call id.
type IncomingCall struct {
	CallID         string `json:"call_id"`
	ConversationID string `json:"conversation_id"`
	CallerID       string `json:"caller_id"`
	CallerName     string `json:"caller_username"`
	CallType       string `json:"call_type"`
	OfferSDP       string `json:"offer_sdp"`
	IsCaller       bool   `json:"is_caller"`
}

func (c *IncomingCall) validate() error {
	if c.CallID == "" || c.CallerID == "" {
		return errors.New("incoming_call: call_id and caller_id are required")
	}
	if c.CallType != CallTypeAudio && c.CallType != CallTypeVideo {
		return errors.New("incoming_call: call_type must be audio or video")
	}
	return nil
}

// CallAnswered carries the callee's answer back to the caller.
type CallAnswered struct {
	CallID    string `json:"call_id"`
	AnswerSDP string `json:"answer_sdp"`
}

func (c *CallAnswered) validate() error {
	if c.CallID == "" || c.AnswerSDP == "" {
		return errors.New("call_answered: call_id and answer_sdp are required")
	}
	return nil
}

// ICECandidateEvent is the inbound ice_candidate frame.
type ICECandidateEvent struct {
	Candidate ICECandidate `json:"candidate"`
}

func (c *ICECandidateEvent) validate() error {
	if c.Candidate.Candidate == "" {
		return errors.New("ice_candidate: candidate is required")
	}
	return nil
}

// CallEnded reports that the remote side ended the call.
type CallEnded struct {
	DurationSec int64 `json:"duration"`
}

func (c *CallEnded) validate() error { return nil }

// CallRejected reports that the callee declined.
type CallRejected struct {
	Username string `json:"username"`
}

func (c *CallRejected) validate() error { return nil }

// InitiateCall starts a call; the server assigns the id and echoes it via
// incoming_call with is_caller set.
type InitiateCall struct {
	ConversationID string `json:"conversation_id"`
	CallType       string `json:"call_type"`
	OfferSDP       string `json:"offer_sdp"`
}

// AnswerCall accepts an invitation.
type AnswerCall struct {
	CallID    string `json:"call_id"`
	AnswerSDP string `json:"answer_sdp"`
}

// RejectCall declines an invitation.
type RejectCall struct {
	CallID string `json:"call_id"`
}

// EndCall hangs up an active call.
type EndCall struct {
	CallID string `json:"call_id"`
}

// SendICECandidate forwards a locally-generated candidate, tagged with
// the call id it belongs to.
type SendICECandidate struct {
	CallID    string       `json:"call_id"`
	Candidate ICECandidate `json:"candidate"`
}
