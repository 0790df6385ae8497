package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	"github.com/dkeye/collabhub/internal/protocol"
	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []*core.Session
}

// Deliverer fans a queued delivery out to its recipients.
type Deliverer interface {
	Deliver(core.Delivery) PublishResult
}

// Dispatcher encodes each delivery once and pushes it to every recipient's
// outbound queue without blocking. A full queue never affects other recipients.
type Dispatcher struct {
	Policy Policy
}

func NewDispatcher(policy Policy) *Dispatcher {
	return &Dispatcher{Policy: policy}
}

func encodeDelivery(payload any) (core.Frame, error) {
	if c, ok := payload.(core.Correction); ok {
		return protocol.Encode(protocol.FromOperation(c.Op, true))
	}
	return protocol.EncodeDomain(payload)
}

func (d *Dispatcher) Deliver(dl core.Delivery) PublishResult {
	res := PublishResult{}
	data, err := encodeDelivery(dl.Payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Str("target", string(dl.Target)).Msg("encode delivery")
		return res
	}
	for _, m := range dl.To {
		if m.ID() == dl.Exclude {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			d.onDrop(dl.Target, m, err)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.dispatcher").Str("target", string(dl.Target)).Str("payload", fmt.Sprintf("%T", dl.Payload)).
		Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Unicast sends v to a single session, outside of any room ordering.
func (d *Dispatcher) Unicast(s *core.Session, v any) error {
	data, err := encodeDelivery(v)
	if err != nil {
		return fmt.Errorf("encode unicast: %w", err)
	}
	if err := s.Signal().TrySend(data); err != nil {
		d.onDrop("", s, err)
		return err
	}
	return nil
}

func (d *Dispatcher) onDrop(target domain.TargetID, m *core.Session, err error) {
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "app.dispatcher").Str("sid", string(m.ID())).Msg("send to closed member")
		return
	}
	action := KickMember
	if d.Policy != nil {
		action = d.Policy.OnBackPressure(target, m)
	}
	switch action {
	case KickMember:
		log.Warn().Str("module", "app.dispatcher").Str("code", string(domain.CodeDispatchOverflow)).
			Str("target", string(target)).Str("sid", string(m.ID())).Msg("outbound queue full, closing member")
		m.Signal().Close()
	case MarkSlow:
		log.Warn().Str("module", "app.dispatcher").Str("sid", string(m.ID())).Msg("member is slow")
	case DropFrame, NoAction:
	}
}
