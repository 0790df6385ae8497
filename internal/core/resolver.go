package core

import (
	"encoding/json"

	"github.com/dkeye/collabhub/internal/domain"
)

// Field is the last accepted write for one field path.
type Field struct {
	Path    string
	Version int64
	Value   json.RawMessage
	Writer  domain.Identity
	Kind    domain.OpKind
	Deleted bool
}

// FieldTable is a room's field-version map. Not safe for concurrent use.
type FieldTable struct {
	fields map[string]*Field
}

func NewFieldTable() *FieldTable {
	return &FieldTable{fields: make(map[string]*Field)}
}

func (t *FieldTable) Get(path string) (Field, bool) {
	f, ok := t.fields[path]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// authority returns the entry holding the highest version among path, its
// ancestors and, when subtree is set, its descendants.
func (t *FieldTable) authority(path string, subtree bool) *Field {
	var best *Field
	consider := func(f *Field) {
		if f != nil && (best == nil || f.Version > best.Version) {
			best = f
		}
	}
	consider(t.fields[path])
	for _, a := range domain.FieldAncestors(path) {
		consider(t.fields[a])
	}
	if subtree {
		for p, f := range t.fields {
			if domain.IsFieldDescendant(p, path) {
				consider(f)
			}
		}
	}
	return best
}

// Recorded is the version a write to path must have observed to be accepted.
func (t *FieldTable) Recorded(path string, subtree bool) int64 {
	if f := t.authority(path, subtree); f != nil {
		return f.Version
	}
	return 0
}

// Apply commits an accepted operation stamped with its room version.
func (t *FieldTable) Apply(op domain.Operation) {
	switch op.Kind {
	case domain.OpUpsertItem, domain.OpDeleteItem:
		t.dropDescendants(op.FieldPath)
	}
	t.fields[op.FieldPath] = &Field{
		Path:    op.FieldPath,
		Version: op.Version,
		Value:   op.Value,
		Writer:  op.Origin,
		Kind:    op.Kind,
		Deleted: op.Kind == domain.OpDeleteItem,
	}
}

func (t *FieldTable) dropDescendants(path string) {
	for p := range t.fields {
		if domain.IsFieldDescendant(p, path) {
			delete(t.fields, p)
		}
	}
}

// Values returns a copy of every live field value.
func (t *FieldTable) Values() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(t.fields))
	for p, f := range t.fields {
		if f.Deleted {
			continue
		}
		v := make(json.RawMessage, len(f.Value))
		copy(v, f.Value)
		out[p] = v
	}
	return out
}

type Outcome int

const (
	Accepted Outcome = iota
	// Merged means the write was stale and lost to a newer one; the originator
	// gets Correction instead of a broadcast.
	Merged
	Rejected
)

type Resolution struct {
	Outcome    Outcome
	Correction domain.Operation
	Err        *domain.Error
}

// Resolve decides the fate of op against the room's field table and global
// version. Per field path the last writer wins; REORDER is structural and is
// checked against the room version only.
func Resolve(t *FieldTable, roomVersion int64, op domain.Operation) Resolution {
	if op.Kind == domain.OpReorder {
		if op.ClientVersion >= roomVersion {
			return Resolution{Outcome: Accepted}
		}
		return Resolution{
			Outcome: Rejected,
			Err:     domain.NewError(domain.CodeReorderConflict, "reorder against an outdated room version, refetch and retry").Ref(op.MsgID),
		}
	}

	subtree := op.Kind == domain.OpUpsertItem || op.Kind == domain.OpDeleteItem
	auth := t.authority(op.FieldPath, subtree)
	if auth == nil || op.ClientVersion >= auth.Version {
		return Resolution{Outcome: Accepted}
	}
	return Resolution{Outcome: Merged, Correction: correction(op, auth)}
}

func correction(op domain.Operation, auth *Field) domain.Operation {
	c := domain.Operation{
		ID:            op.ID,
		MsgID:         op.MsgID,
		Target:        op.Target,
		Origin:        auth.Writer,
		FieldPath:     auth.Path,
		Value:         auth.Value,
		ClientVersion: auth.Version,
		Kind:          auth.Kind,
		Version:       auth.Version,
	}
	if auth.Deleted {
		c.Value = json.RawMessage("null")
		c.Kind = domain.OpDeleteItem
	}
	return c
}
