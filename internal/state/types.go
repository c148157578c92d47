package state

import (
	"time"
)

// Role tags a transcript entry.
type Role string

const (
	RoleSent     Role = "sent"     // diff forwarded to the model
	RoleReceived Role = "received" // model reply
)

// Entry is one item of the session transcript.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Resource  string    `json:"resource,omitempty"` // sent entries only
	Text      string    `json:"text"`
	Model     string    `json:"model,omitempty"`   // received entries only
	Version   string    `json:"version,omitempty"` // short hash of the content the diff was taken against
	Added     int       `json:"added,omitempty"`
	Removed   int       `json:"removed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsSent reports whether the entry is a forwarded diff.
func (e Entry) IsSent() bool {
	return e.Role == RoleSent
}

// Exchange is a sent diff paired with the reply it produced. The transcript
// only grows by whole exchanges.
type Exchange struct {
	Sent     Entry
	Received Entry
}
