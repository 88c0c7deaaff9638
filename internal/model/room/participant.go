package room

// Participant is one connected member of a room roster.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}
