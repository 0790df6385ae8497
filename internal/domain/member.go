package domain

// PresenceState tells whether a presence event is a join or a leave.
type PresenceState string

const (
	Joined PresenceState = "JOINED"
	Left   PresenceState = "LEFT"
)

// PresenceEvent is emitted after every membership change of a room.
// Members is a copy taken at emission time.
type PresenceEvent struct {
	Target   TargetID
	Identity Identity
	State    PresenceState
	Members  []Identity
}
