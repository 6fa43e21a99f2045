package feed

import "context"

// Op is the kind of change a transport reports.
type Op string

const (
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpReconnect Op = "reconnect" // subscription re-established, changes may have been missed
	OpUnknown   Op = "unknown"
)

// ParseOp maps a transport-specific operation name to an Op.
func ParseOp(s string) Op {
	switch s {
	case "insert", "INSERT":
		return OpInsert
	case "update", "UPDATE":
		return OpUpdate
	case "delete", "DELETE":
		return OpDelete
	case "reconnect":
		return OpReconnect
	default:
		return OpUnknown
	}
}

// Event is a change notification. Its payload is informational only: every
// event is treated as "resync now".
type Event struct {
	Op       Op     `json:"op"`
	UserID   string `json:"user_id"`
	RecordID string `json:"id,omitempty"`
}

// Subscription is a live change feed filtered to one user.
// Events is closed once the subscription is closed.
type Subscription interface {
	Events() <-chan Event
	Connected() bool
	Close() error
}

// Transport opens change feed subscriptions on the backing store.
type Transport interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}
