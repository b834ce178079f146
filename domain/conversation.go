package domain

import "time"

// User is the external identity referenced by messages and status rows.
// Online and LastSeen are a projection written on connect/disconnect.
type User struct {
	ID       UserID
	Name     string
	Image    *string
	Online   bool
	LastSeen *time.Time
}

type Conversation struct {
	ID           ConversationID
	Participants []UserID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether userID is a member of the conversation.
func HasParticipant(participants []UserID, userID UserID) bool {
	for _, p := range participants {
		if p == userID {
			return true
		}
	}
	return false
}
