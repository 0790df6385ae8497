// Package protocol is the wire codec of the collaboration hub. Every frame is a
// JSON object with a "type" discriminator; each type maps to exactly one Go
// struct below, validated once in Decode.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/collabhub/internal/domain"
)

type Type string

const (
	// client -> server
	TypeJoinRoom  Type = "JOIN_ROOM"
	TypeLeaveRoom Type = "LEAVE_ROOM"
	TypeOperation Type = "OPERATION"
	TypePing      Type = "PING"

	// server -> client; OPERATION is shared
	TypePresence      Type = "PRESENCE"
	TypeError         Type = "ERROR"
	TypeStateSnapshot Type = "STATE_SNAPSHOT"
	TypeAck           Type = "ACK"
	TypePong          Type = "PONG"
)

// Message is implemented by every frame type.
type Message interface {
	MessageType() Type
}

type JoinRoom struct {
	Type       Type              `json:"type"`
	ID         string            `json:"id,omitempty"`
	TargetID   domain.TargetID   `json:"targetId"`
	TargetKind domain.TargetKind `json:"targetKind"`
}

type LeaveRoom struct {
	Type     Type            `json:"type"`
	ID       string          `json:"id,omitempty"`
	TargetID domain.TargetID `json:"targetId"`
}

// Operation travels both ways. Version, Origin and Corrective are only set by
// the server.
type Operation struct {
	Type          Type             `json:"type"`
	ID            string           `json:"id,omitempty"`
	TargetID      domain.TargetID  `json:"targetId"`
	FieldPath     string           `json:"fieldPath"`
	Value         json.RawMessage  `json:"value,omitempty"`
	ClientVersion int64            `json:"clientVersion"`
	Kind          domain.OpKind    `json:"kind"`
	Version       int64            `json:"version,omitempty"`
	Origin        *domain.Identity `json:"origin,omitempty"`
	Corrective    bool             `json:"corrective,omitempty"`
}

type Ping struct {
	Type Type   `json:"type"`
	ID   string `json:"id,omitempty"`
}

type Pong struct {
	Type     Type   `json:"type"`
	RefersTo string `json:"refersTo,omitempty"`
}

type Presence struct {
	Type     Type                 `json:"type"`
	TargetID domain.TargetID      `json:"targetId"`
	Members  []domain.Identity    `json:"members"`
	Event    domain.PresenceState `json:"event"`
	Identity domain.Identity      `json:"identity"`
}

type Error struct {
	Type     Type             `json:"type"`
	Code     domain.ErrorCode `json:"code"`
	Message  string           `json:"message"`
	RefersTo string           `json:"refersTo,omitempty"`
}

type StateSnapshot struct {
	Type     Type                       `json:"type"`
	TargetID domain.TargetID            `json:"targetId"`
	Version  int64                      `json:"version"`
	Fields   map[string]json.RawMessage `json:"fields"`
}

type Ack struct {
	Type      Type            `json:"type"`
	TargetID  domain.TargetID `json:"targetId"`
	RefersTo  string          `json:"refersTo,omitempty"`
	FieldPath string          `json:"fieldPath"`
	Version   int64           `json:"version"`
}

func (JoinRoom) MessageType() Type      { return TypeJoinRoom }
func (LeaveRoom) MessageType() Type     { return TypeLeaveRoom }
func (Operation) MessageType() Type     { return TypeOperation }
func (Ping) MessageType() Type          { return TypePing }
func (Pong) MessageType() Type          { return TypePong }
func (Presence) MessageType() Type      { return TypePresence }
func (Error) MessageType() Type         { return TypeError }
func (StateSnapshot) MessageType() Type { return TypeStateSnapshot }
func (Ack) MessageType() Type           { return TypeAck }
