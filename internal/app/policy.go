package app

import (
	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose outbound queue is full.
// The frame that did not fit is dropped in every case.
type Policy interface {
	OnBackPressure(target domain.TargetID, member *core.Session) BackpressureAction
}

// SimplePolicy closes overflowing members so they reconnect and resync from a
// fresh STATE_SNAPSHOT.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.TargetID, *core.Session) BackpressureAction {
	return KickMember
}

// FieldPolicy restricts the root field names editable per target kind.
// A kind without entries is unrestricted.
type FieldPolicy map[domain.TargetKind][]string

func (p FieldPolicy) Allowed(kind domain.TargetKind, path string) bool {
	roots := p[kind]
	if len(roots) == 0 {
		return true
	}
	root := domain.FieldRoot(path)
	for _, r := range roots {
		if r == root {
			return true
		}
	}
	return false
}
