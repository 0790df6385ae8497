package app

import (
	"sort"

	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	"github.com/rs/zerolog/log"
)

// getOrCreate is the atomic create-or-get: a read-locked fast path, then a
// re-check under the write lock so concurrent joins never build two rooms.
func (r *Registry) getOrCreate(t domain.Target) (*core.Room, error) {
	r.mu.RLock()
	room, ok := r.rooms[t.ID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return room, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if room, ok = r.rooms[t.ID]; ok {
		return room, nil
	}
	room = core.NewRoom(t, core.RoomOptions{EchoOriginator: r.opts.EchoOriginator})
	r.rooms[t.ID] = room
	log.Info().Str("module", "app.registry").Str("target", string(t.ID)).Str("kind", string(t.Kind)).Msg("room created")
	return room, nil
}

func (r *Registry) Room(id domain.TargetID) (*core.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// expire is the teardown timer callback. The room is dropped only if it is
// still the registered instance and nobody rejoined since the timer was armed.
func (r *Registry) expire(room *core.Room, gen uint64) {
	id := room.Target().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[id]; !ok || cur != room {
		return
	}
	if room.Expire(gen) {
		delete(r.rooms, id)
		log.Info().Str("module", "app.registry").Str("target", string(id)).Msg("room torn down")
	}
}

func (r *Registry) List() []domain.RoomInfo {
	r.mu.RLock()
	rooms := make([]*core.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close stops every room and refuses further joins.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, room := range r.rooms {
		room.Close()
		delete(r.rooms, id)
	}
	r.closed = true
	log.Info().Str("module", "app.registry").Msg("registry closed")
}
