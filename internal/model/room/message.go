package room

import "time"

// Message is a chat line broadcast by the room server. Received messages are never modified.
type Message struct {
	ID     string    `json:"id"`
	Author string    `json:"author"`
	Role   string    `json:"role,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}
