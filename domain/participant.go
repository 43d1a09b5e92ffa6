package domain

import "time"

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type Presence string

const (
	PresenceOnline       Presence = "online"
	PresenceDisconnected Presence = "disconnected"
)

// Participant is a session member. Records live inside their owning Session
// and are never shared across sessions; relationships elsewhere are by user
// ID lookup, not by pointer.
type Participant struct {
	UserID          string
	DisplayName     string
	Role            Role
	JoinedAt        time.Time
	LastHeartbeatAt time.Time
	Presence        Presence
}
