// Package egress implements the drone's send decision table (C3): choosing
// the output channel for a packet whose hop_index already points at the
// intended next recipient, applying probabilistic drop to data fragments,
// and handling the missing-neighbor cases by NACK, controller shortcut, or
// fatal halt.
package egress

import (
	"log/slog"

	"github.com/overlaynet/drone/drone/config"
	"github.com/overlaynet/drone/drone/internal/fault"
	"github.com/overlaynet/drone/drone/internal/wire"
	"github.com/overlaynet/drone/drone/nack"
)

// Random is the uniform [0,1) draw egress needs to decide fragment drops.
// A narrow interface over *rand.Rand (math/rand/v2) so tests can supply a
// deterministic source.
type Random interface {
	Float64() float64
}

// EventPort is the production side of the controller-event channel.
type EventPort interface {
	Emit(wire.Event)
}

// Egress applies the C3 decision table for a single drone.
type Egress struct {
	store  *config.Store
	rng    Random
	events EventPort
	log    *slog.Logger
}

// New creates an Egress bound to the given configuration store, drop-rate
// random source, and controller-event sink.
func New(store *config.Store, rng Random, events EventPort, logger *slog.Logger) *Egress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Egress{store: store, rng: rng, events: events, log: logger.WithGroup("egress")}
}

// Send dispatches p according to the case table in spec.md §4.3. p.Header's
// HopIndex must already point at the intended next recipient.
//
// The only error Send can return is a *fault.Error: every other outcome
// (drop+NACK, routing-error NACK, controller shortcut) is handled by
// emitting packets/events and returning nil.
func (e *Egress) Send(p *wire.Packet) error {
	d, ok := p.Header.CurrentHop()
	if !ok {
		return fault.New("egress: hop_index %d out of bounds for hops of length %d", p.Header.HopIndex, len(p.Header.Hops))
	}

	if port, isNeighbor := e.store.Port(d); isNeighbor {
		return e.sendToNeighbor(p, d, port)
	}
	return e.sendWithoutNeighbor(p, d)
}

// sendToNeighbor covers decision-table cases A and B: d is a registered
// neighbor.
func (e *Egress) sendToNeighbor(p *wire.Packet, d wire.NodeID, port wire.OutPort) error {
	if p.Kind == wire.KindMsgFragment && e.rng.Float64() < e.store.Pdr() {
		// Case A: probabilistic drop. Emit PacketDropped before constructing
		// the NACK so observability sees the drop paired with the packet's
		// header exactly as it was when the decision was taken.
		e.events.Emit(wire.Event{Kind: wire.EventPacketDropped, Packet: p})

		n, err := nack.Build(p, p.Header.HopIndex-1, wire.NackInfo{Kind: wire.NackDropped})
		if err != nil {
			return fault.Wrap("egress: build drop nack", err)
		}
		e.log.Debug("fragment dropped", "next_hop", d, "fragment_index", p.FragmentIndex)
		return e.Send(n)
	}

	// Case B.
	if err := port.Send(p); err != nil {
		return fault.Wrap("egress: send to registered neighbor failed", err)
	}
	e.events.Emit(wire.Event{Kind: wire.EventPacketSent, Packet: p})
	return nil
}

// sendWithoutNeighbor covers decision-table cases C, D, and E: d is not a
// registered neighbor.
func (e *Egress) sendWithoutNeighbor(p *wire.Packet, d wire.NodeID) error {
	switch p.Kind {
	case wire.KindMsgFragment:
		// Case C.
		n, err := nack.Build(p, p.Header.HopIndex-1, wire.NackInfo{Kind: wire.NackErrorInRouting, Node: d})
		if err != nil {
			return fault.Wrap("egress: build routing-error nack", err)
		}
		e.log.Debug("routing error, nacking", "missing_neighbor", d)
		return e.Send(n)

	case wire.KindAck, wire.KindNack, wire.KindFloodResponse:
		// Case D: undroppable packet, neighbor vanished. The controller is
		// expected to re-inject it out-of-band.
		e.log.Debug("controller shortcut", "kind", p.Kind, "missing_neighbor", d)
		e.events.Emit(wire.Event{Kind: wire.EventControllerShortcut, Packet: p})
		return nil

	case wire.KindFloodRequest:
		// Case E: unreachable by construction — the flood processor only
		// ever addresses known neighbors.
		return fault.New("egress: flood request addressed to non-neighbor %d (unreachable)", d)

	default:
		return fault.New("egress: unknown packet kind %v", p.Kind)
	}
}
