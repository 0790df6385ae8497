package core

import (
	"sort"

	"github.com/dkeye/collabhub/internal/domain"
)

type presenceEntry struct {
	identity domain.Identity
	conns    int
	seq      uint64
}

// Presence tracks which identities are active in one room. One identity may
// be present through several connections. It has no lock of its own: the
// owning Room mutates it under the room lock.
type Presence struct {
	byUser map[domain.UserID]*presenceEntry
	seq    uint64
}

func NewPresence() *Presence {
	return &Presence{byUser: make(map[domain.UserID]*presenceEntry)}
}

// Add counts one more connection for id and reports whether it is the first.
func (p *Presence) Add(id domain.Identity) bool {
	if e, ok := p.byUser[id.ID]; ok {
		e.conns++
		return false
	}
	p.seq++
	p.byUser[id.ID] = &presenceEntry{identity: id, conns: 1, seq: p.seq}
	return true
}

// Remove drops one connection for uid and reports whether it was the last.
func (p *Presence) Remove(uid domain.UserID) bool {
	e, ok := p.byUser[uid]
	if !ok {
		return false
	}
	e.conns--
	if e.conns > 0 {
		return false
	}
	delete(p.byUser, uid)
	return true
}

func (p *Presence) Len() int { return len(p.byUser) }

// Members returns a copy of the present identities in join order.
func (p *Presence) Members() []domain.Identity {
	entries := make([]*presenceEntry, 0, len(p.byUser))
	for _, e := range p.byUser {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.Identity, len(entries))
	for i, e := range entries {
		out[i] = e.identity
	}
	return out
}
