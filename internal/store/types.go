package store

// Message statuses, in monotonic order. A message never moves backwards
// through sending → sent → delivered → read; failed is a dead end for
// optimistic records whose upload or transmit failed.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// StatusRank orders statuses for monotonic comparisons. Unknown statuses
// rank lowest so they never block an upgrade.
func StatusRank(s string) int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return 0
	}
}

// Conversation is a synced conversation.
type Conversation struct {
	ID                 string
	Title              string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is a message record. ClientID is the locally-generated
// correlation id; ServerID is empty until the server confirms the send.
type Message struct {
	ID             int64
	ConversationID string
	ClientID       string
	ServerID       string
	SenderID       string
	SenderName     string
	Body           string
	MediaURL       string
	ReplyTo        string
	Status         string
	Delivered      bool
	Read           bool
	Deleted        bool
	EditedAt       int64
	Timestamp      int64
}

// Reaction is an emoji reaction attached to a message.
type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
}
