package chat

import "time"

// UserRef is a resolved Slack user as shown on screen.
type UserRef struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Label is the presentation name: DisplayName, or Name when DisplayName is empty.
func (u UserRef) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

// IsZero reports whether the reference carries no name at all.
func (u UserRef) IsZero() bool { return u.Name == "" && u.DisplayName == "" }

// Message is one channel message ready for display. Content already has
// every resolvable mention token substituted.
type Message struct {
	Author    UserRef
	Content   string
	Timestamp time.Time
}

// Batch is the set of messages emitted by one poll cycle, oldest first.
type Batch []Message
