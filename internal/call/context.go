package call

import "time"

// Context is the call-scoped record: the single source of truth for the
// active call's identifiers, owned by the Coordinator for the call's
// whole lifetime. Consumers read snapshots via Coordinator.Active; the
// record is never shared mutably.
//
// ID stays empty on the caller side until the server's invite echo
// assigns it; candidates generated in that window are buffered.
type Context struct {
	ID             string
	ConversationID string
	Type           string // wire.CallTypeAudio or wire.CallTypeVideo
	CallerID       string
	CallerName     string
	IsCaller       bool
	OfferSDP       string

	CreatedAt  time.Time
	AnsweredAt time.Time
	EndedAt    time.Time
}

// Duration is the connected time, zero when the call never connected.
func (c *Context) Duration() time.Duration {
	if c.AnsweredAt.IsZero() || c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.AnsweredAt)
}
