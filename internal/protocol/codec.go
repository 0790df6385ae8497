package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/collabhub/internal/domain"
)

var ErrUnknownMessage = errors.New("unknown message")

// operationWire mirrors Operation with clientVersion as a pointer so a missing
// field can be told apart from zero.
type operationWire struct {
	Type          Type             `json:"type"`
	ID            string           `json:"id,omitempty"`
	TargetID      domain.TargetID  `json:"targetId"`
	FieldPath     string           `json:"fieldPath"`
	Value         json.RawMessage  `json:"value,omitempty"`
	ClientVersion *int64           `json:"clientVersion"`
	Kind          domain.OpKind    `json:"kind"`
	Version       int64            `json:"version,omitempty"`
	Origin        *domain.Identity `json:"origin,omitempty"`
	Corrective    bool             `json:"corrective,omitempty"`
}

func bad(ref, format string, args ...any) error {
	return domain.NewError(domain.CodeBadMessage, fmt.Sprintf(format, args...)).Ref(ref)
}

func strict(frame []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// DecodeClient decodes a frame received from a client. Only the four client
// kinds are accepted and server-only fields are refused. Every failure is a
// *domain.Error with code BAD_MESSAGE.
func DecodeClient(frame []byte) (Message, error) {
	m, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	switch v := m.(type) {
	case JoinRoom, LeaveRoom, Ping:
		return m, nil
	case Operation:
		if v.Version != 0 || v.Origin != nil || v.Corrective {
			return nil, bad(v.ID, "operation carries server-only fields")
		}
		return m, nil
	}
	return nil, bad("", "%s is not a client message", m.MessageType())
}

// Decode parses and validates any frame kind.
func Decode(frame []byte) (Message, error) {
	var env struct {
		Type Type            `json:"type"`
		ID   json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, bad("", "invalid frame: %v", err)
	}
	var ref string
	_ = json.Unmarshal(env.ID, &ref)

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoom
		if err := strict(frame, &m); err != nil {
			return nil, bad(ref, "join: %v", err)
		}
		if !domain.ValidTargetID(m.TargetID) {
			return nil, bad(ref, "join: invalid targetId")
		}
		if !m.TargetKind.Valid() {
			return nil, bad(ref, "join: invalid targetKind %q", m.TargetKind)
		}
		return m, nil

	case TypeLeaveRoom:
		var m LeaveRoom
		if err := strict(frame, &m); err != nil {
			return nil, bad(ref, "leave: %v", err)
		}
		if !domain.ValidTargetID(m.TargetID) {
			return nil, bad(ref, "leave: invalid targetId")
		}
		return m, nil

	case TypeOperation:
		return decodeOperation(frame, ref)

	case TypePing:
		var m Ping
		if err := strict(frame, &m); err != nil {
			return nil, bad(ref, "ping: %v", err)
		}
		return m, nil

	case TypePong:
		var m Pong
		if err := strict(frame, &m); err != nil {
			return nil, bad(ref, "pong: %v", err)
		}
		return m, nil

	case TypePresence:
		var m Presence
		if err := strict(frame, &m); err != nil {
			return nil, bad(ref, "presence: %v", err)
		}
		if m.Event != domain.Joined && m.Event != domain.Left {
			return nil, bad(ref, "presence: invalid event %q", m.Event)
		}
		if m.TargetID == "" {
			return nil, bad(ref, "presence: missing targetId")
		}
		return m, nil

	case TypeError:
		var m Error
		if err := strict(frame, &m); err != nil {
			return nil, bad(ref, "error: %v", err)
		}
		if m.Code == "" {
			return nil, bad(ref, "error: missing code")
		}
		return m, nil

	case TypeStateSnapshot:
		var m StateSnapshot
		if err := strict(frame, &m); err != nil {
			return nil, bad(ref, "snapshot: %v", err)
		}
		if m.TargetID == "" || m.Fields == nil {
			return nil, bad(ref, "snapshot: missing targetId or fields")
		}
		return m, nil

	case TypeAck:
		var m Ack
		if err := strict(frame, &m); err != nil {
			return nil, bad(ref, "ack: %v", err)
		}
		if m.TargetID == "" {
			return nil, bad(ref, "ack: missing targetId")
		}
		return m, nil

	case "":
		return nil, bad(ref, "missing type")
	}
	return nil, bad(ref, "%v: %q", ErrUnknownMessage, env.Type)
}

func decodeOperation(frame []byte, ref string) (Message, error) {
	var w operationWire
	if err := strict(frame, &w); err != nil {
		return nil, bad(ref, "operation: %v", err)
	}
	switch {
	case !domain.ValidTargetID(w.TargetID):
		return nil, bad(ref, "operation: invalid targetId")
	case !domain.ValidFieldPath(w.FieldPath):
		return nil, bad(ref, "operation: invalid fieldPath %q", w.FieldPath)
	case !w.Kind.Valid():
		return nil, bad(ref, "operation: invalid kind %q", w.Kind)
	case w.ClientVersion == nil:
		return nil, bad(ref, "operation: missing clientVersion")
	case *w.ClientVersion < 0:
		return nil, bad(ref, "operation: negative clientVersion")
	case w.Value == nil && w.Kind != domain.OpDeleteItem:
		return nil, bad(ref, "operation: missing value")
	}
	if w.Kind == domain.OpReorder {
		var order []json.RawMessage
		if err := json.Unmarshal(w.Value, &order); err != nil || order == nil {
			return nil, bad(ref, "operation: reorder value must be an array")
		}
	}
	return Operation{
		Type:          TypeOperation,
		ID:            w.ID,
		TargetID:      w.TargetID,
		FieldPath:     w.FieldPath,
		Value:         w.Value,
		ClientVersion: *w.ClientVersion,
		Kind:          w.Kind,
		Version:       w.Version,
		Origin:        w.Origin,
		Corrective:    w.Corrective,
	}, nil
}

// Encode is the inverse of Decode. The type discriminator is always taken
// from the Go type, never from the Type field.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case JoinRoom:
		v.Type = TypeJoinRoom
		return json.Marshal(v)
	case LeaveRoom:
		v.Type = TypeLeaveRoom
		return json.Marshal(v)
	case Operation:
		v.Type = TypeOperation
		return json.Marshal(v)
	case Ping:
		v.Type = TypePing
		return json.Marshal(v)
	case Pong:
		v.Type = TypePong
		return json.Marshal(v)
	case Presence:
		v.Type = TypePresence
		if v.Members == nil {
			v.Members = []domain.Identity{}
		}
		return json.Marshal(v)
	case Error:
		v.Type = TypeError
		return json.Marshal(v)
	case StateSnapshot:
		v.Type = TypeStateSnapshot
		if v.Fields == nil {
			v.Fields = map[string]json.RawMessage{}
		}
		return json.Marshal(v)
	case Ack:
		v.Type = TypeAck
		return json.Marshal(v)
	}
	return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownMessage)
}
