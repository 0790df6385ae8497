// Package orch is the collaboration hub: it routes decoded client messages to
// the room registry and drives connection lifecycle cleanup.
package orch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/collabhub/internal/app"
	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	"github.com/dkeye/collabhub/internal/protocol"
	"github.com/rs/zerolog/log"
)

const persistQueueSize = 1024

type Options struct {
	Registry  *app.Registry
	Dispatch  *app.Dispatcher
	Directory core.TargetDirectory
	Recorder  core.Recorder
	// Limiter is optional; nil disables rate limiting.
	Limiter     *app.OperationRateLimiter
	Fields      app.FieldPolicy
	IdleTimeout time.Duration
	// PersistWait is how long Operate waits on a full persistence queue.
	PersistWait time.Duration
}

// Orchestrator is the process-wide hub. One instance is built at startup and
// handed to the gateway.
type Orchestrator struct {
	Registry    *app.Registry
	Dispatch    *app.Dispatcher
	Directory   core.TargetDirectory
	Recorder    core.Recorder
	Limiter     *app.OperationRateLimiter
	Fields      app.FieldPolicy
	IdleTimeout time.Duration
	PersistWait time.Duration

	mu       sync.RWMutex
	sessions map[core.SessionID]*core.Session

	persist        chan domain.Operation
	persistDropped atomic.Int64
	wg             sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		Registry:    opts.Registry,
		Dispatch:    opts.Dispatch,
		Directory:   opts.Directory,
		Recorder:    opts.Recorder,
		Limiter:     opts.Limiter,
		Fields:      opts.Fields,
		IdleTimeout: opts.IdleTimeout,
		PersistWait: opts.PersistWait,
		sessions:    make(map[core.SessionID]*core.Session),
		persist:     make(chan domain.Operation, persistQueueSize),
	}
	if o.Directory == nil {
		o.Directory = core.SyntaxDirectory{}
	}
	if o.Recorder == nil {
		o.Recorder = core.NopRecorder{}
	}
	return o
}

// Register activates an authenticated session. Only active sessions may touch rooms.
func (o *Orchestrator) Register(s *core.Session) bool {
	if !s.Activate() {
		return false
	}
	o.mu.Lock()
	o.sessions[s.ID()] = s
	o.mu.Unlock()
	log.Info().Str("module", "orch").Str("sid", string(s.ID())).Str("user", string(s.Identity().ID)).Msg("session registered")
	return true
}

// HandleFrame processes one inbound frame of s. Frames arriving once s is no
// longer active are discarded.
func (o *Orchestrator) HandleFrame(ctx context.Context, s *core.Session, frame []byte) {
	if !s.Active() {
		return
	}
	s.Touch(time.Now())

	msg, err := protocol.DecodeClient(frame)
	if err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(s.ID())).Msg("bad frame")
		o.replyError(s, err)
		return
	}

	switch m := msg.(type) {
	case protocol.JoinRoom:
		o.Join(ctx, s, m)
	case protocol.LeaveRoom:
		o.Leave(s, m)
	case protocol.Operation:
		o.Operate(s, m)
	case protocol.Ping:
		_ = o.Dispatch.Unicast(s, protocol.Pong{RefersTo: m.ID})
	}
}

// Disconnect runs the Closing phase: s leaves every room it belongs to and
// ends up Closed. Safe to call more than once.
func (o *Orchestrator) Disconnect(s *core.Session) {
	if !s.BeginClose() {
		s.Abort()
		return
	}
	rooms := s.Rooms()
	for _, id := range rooms {
		o.Registry.Leave(s, id)
	}
	s.Finish()

	o.mu.Lock()
	delete(o.sessions, s.ID())
	o.mu.Unlock()
	s.Signal().Close()
	log.Info().Str("module", "orch").Str("sid", string(s.ID())).Int("rooms_left", len(rooms)).Msg("session closed")
}

func (o *Orchestrator) Session(sid core.SessionID) (*core.Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[sid]
	return s, ok
}

func (o *Orchestrator) SessionCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

// Run drives the persistence queue and the idle sweeper until ctx ends. It then
// shuts the hub down and drains what is left of the queue.
func (o *Orchestrator) Run(ctx context.Context, sweepEvery time.Duration) error {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.persistLoop(ctx)
	}()

	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.Shutdown()
			o.wg.Wait()
			return nil
		case now := <-ticker.C:
			o.SweepIdle(now)
		}
	}
}

// SweepIdle closes the transport of every session silent for longer than the
// idle timeout. Room cleanup follows through the gateway's Disconnect.
func (o *Orchestrator) SweepIdle(now time.Time) int {
	if o.IdleTimeout <= 0 {
		return 0
	}
	o.mu.RLock()
	var idle []*core.Session
	for _, s := range o.sessions {
		if s.Active() && now.Sub(s.LastActivity()) > o.IdleTimeout {
			idle = append(idle, s)
		}
	}
	o.mu.RUnlock()

	for _, s := range idle {
		log.Info().Str("module", "orch").Str("sid", string(s.ID())).Dur("idle_timeout", o.IdleTimeout).Msg("closing idle session")
		s.Signal().Close()
	}
	if o.Limiter != nil {
		o.Limiter.Prune(now)
	}
	return len(idle)
}

// Shutdown closes every session transport and the registry.
func (o *Orchestrator) Shutdown() {
	o.mu.RLock()
	all := make([]*core.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		all = append(all, s)
	}
	o.mu.RUnlock()

	for _, s := range all {
		o.Disconnect(s)
	}
	o.Registry.Close()
	log.Info().Str("module", "orch").Int("sessions", len(all)).Msg("hub shut down")
}

func (o *Orchestrator) replyError(s *core.Session, err error) {
	var perr *domain.Error
	if !errors.As(err, &perr) {
		perr = domain.NewError(domain.CodeBadMessage, err.Error())
	}
	_ = o.Dispatch.Unicast(s, perr)
}
