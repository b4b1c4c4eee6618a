package wire

import (
	"encoding/json"
	"fmt"
)

// ErrUnknownEvent is returned for event names outside the closed set.
type ErrUnknownEvent struct {
	Event string
}

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("unknown wire event %q", e.Event)
}

type payload interface {
	validate() error
}

func decode[T any, P interface {
	*T
	payload
}](data json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := P(&v).validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &v, nil
}

// DecodeChatEvent parses an inbound chat channel frame into its typed
// payload. Unknown events return ErrUnknownEvent; known events with
// missing required fields return an error wrapping ErrMalformed.
func DecodeChatEvent(event string, data json.RawMessage) (any, error) {
	switch event {
	case EvMessage, EvMessageSent:
		return decode[Message](data)
	case EvMessageEdited:
		return decode[MessageEdited](data)
	case EvMessageDeleted:
		return decode[MessageDeleted](data)
	case EvTyping:
		return decode[Typing](data)
	case EvReaction, EvReactionRemoved:
		return decode[Reaction](data)
	case EvDeliveryReceipt:
		return decode[DeliveryReceipt](data)
	case EvReadReceipt:
		return decode[ReadReceipt](data)
	case EvAllReadReceipt:
		return decode[AllReadReceipt](data)
	case EvUnreadCountUpdate:
		return decode[UnreadCountUpdate](data)
	case EvOnlineStatus:
		return decode[OnlineStatus](data)
	default:
		return nil, &ErrUnknownEvent{Event: event}
	}
}

// DecodeCallEvent parses an inbound call channel frame into its typed payload.
func DecodeCallEvent(event string, data json.RawMessage) (any, error) {
	switch event {
	case EvIncomingCall:
		return decode[IncomingCall](data)
	case EvCallAnswered:
		return decode[CallAnswered](data)
	case EvICECandidate:
		return decode[ICECandidateEvent](data)
	case EvCallEnded:
		return decode[CallEnded](data)
	case EvCallRejected:
		return decode[CallRejected](data)
	default:
		return nil, &ErrUnknownEvent{Event: event}
	}
}
