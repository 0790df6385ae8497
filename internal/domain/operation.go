package domain

import (
	"encoding/json"
	"time"
)

type OpKind string

const (
	OpUpsertItem    OpKind = "UPSERT_ITEM"
	OpCheckItem     OpKind = "CHECK_ITEM"
	OpDeleteItem    OpKind = "DELETE_ITEM"
	OpEditTextField OpKind = "EDIT_TEXT_FIELD"
	OpReorder       OpKind = "REORDER"
)

func (k OpKind) Valid() bool {
	switch k {
	case OpUpsertItem, OpCheckItem, OpDeleteItem, OpEditTextField, OpReorder:
		return true
	}
	return false
}

// Operation is a single field-level change. It is never mutated after creation;
// the hub derives new values (with Version set) instead. MsgID is the optional
// client message id the operation arrived with. Version is the room version
// assigned on acceptance, zero for proposals.
type Operation struct {
	ID            string
	MsgID         string
	Target        TargetID
	Origin        Identity
	FieldPath     string
	Value         json.RawMessage
	ClientVersion int64
	Kind          OpKind
	Version       int64
	AcceptedAt    time.Time
}

// WithVersion returns a copy of op stamped with the room version it was accepted at.
func (op Operation) WithVersion(v int64, at time.Time) Operation {
	op.Version = v
	op.AcceptedAt = at
	return op
}

// Ack tells the originator which version its accepted write was assigned.
type Ack struct {
	Target    TargetID
	RefersTo  string
	FieldPath string
	Version   int64
}
