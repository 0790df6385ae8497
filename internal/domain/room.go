package domain

import (
	"encoding/json"
	"regexp"
	"time"
)

type (
	TargetID   string
	TargetKind string
)

const (
	KindList   TargetKind = "LIST"
	KindRecipe TargetKind = "RECIPE"
)

func (k TargetKind) Valid() bool {
	return k == KindList || k == KindRecipe
}

var targetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-:.]{0,63}$`)

// ValidTargetID reports whether id is syntactically a shopping-list or recipe id.
func ValidTargetID(id TargetID) bool {
	return targetIDPattern.MatchString(string(id))
}

// Target identifies the document a room collaborates on.
type Target struct {
	ID   TargetID   `json:"targetId"`
	Kind TargetKind `json:"targetKind"`
}

// RoomInfo is a read-only view for status APIs.
type RoomInfo struct {
	Target      TargetID   `json:"targetId"`
	Kind        TargetKind `json:"targetKind"`
	Version     int64      `json:"version"`
	MemberCount int        `json:"memberCount"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// StateSnapshot is the full authoritative view of a room, sent on join.
type StateSnapshot struct {
	Target  TargetID
	Version int64
	Fields  map[string]json.RawMessage
}
