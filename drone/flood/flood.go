// Package flood implements the flood processor (C5): flood-request
// deduplication, flood-response generation, and flood-request forwarding.
//
// A FloodRequest's source-routing header is semantically ignored by this
// algorithm; routing is driven entirely by path_trace (spec.md §4.5).
package flood

import (
	"log/slog"

	"github.com/overlaynet/drone/drone/config"
	"github.com/overlaynet/drone/drone/egress"
	"github.com/overlaynet/drone/drone/internal/fault"
	"github.com/overlaynet/drone/drone/internal/wire"
)

// key is the flood deduplication key: a (flood_id, initiator_id) pair.
// Different initiators may reuse the same flood_id and must be treated as
// distinct floods.
type key struct {
	floodID     uint64
	initiatorID wire.NodeID
}

// Processor deduplicates and forwards FloodRequest packets for a single
// drone.
type Processor struct {
	store  *config.Store
	egress *egress.Egress
	log    *slog.Logger
	known  map[key]struct{}
}

// New creates a flood Processor bound to the given config store and egress
// stage. The dedup set starts empty and grows monotonically for the
// lifetime of the Processor.
func New(store *config.Store, eg *egress.Egress, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:  store,
		egress: eg,
		log:    logger.WithGroup("flood"),
		known:  make(map[key]struct{}),
	}
}

// KnownFloodCount returns the number of distinct (flood_id, initiator_id)
// pairs this drone has fully propagated over its lifetime.
func (p *Processor) KnownFloodCount() int { return len(p.known) }

// Process handles an incoming FloodRequest packet per spec.md §4.5.
func (p *Processor) Process(pkt *wire.Packet) error {
	if len(pkt.PathTrace) == 0 {
		return fault.New("flood: flood request has empty path_trace")
	}
	sender := pkt.PathTrace[len(pkt.PathTrace)-1].Node

	trace := make([]wire.PathTraceEntry, len(pkt.PathTrace), len(pkt.PathTrace)+1)
	copy(trace, pkt.PathTrace)
	trace = append(trace, wire.PathTraceEntry{Node: p.store.ID(), Type: wire.NodeDrone})

	forwardSet := p.store.NeighborsExcept(sender)
	k := key{floodID: pkt.FloodID, initiatorID: pkt.InitiatorID}
	_, seen := p.known[k]

	if seen || len(forwardSet) == 0 {
		return p.respond(pkt, trace, sender)
	}

	p.known[k] = struct{}{}
	return p.propagate(pkt, trace, forwardSet)
}

// respond builds and sends the FloodResponse back along the reversed path
// trace. Egress's case D shortcuts to the controller if sender has since
// disappeared — flood responses are undroppable.
func (p *Processor) respond(pkt *wire.Packet, trace []wire.PathTraceEntry, sender wire.NodeID) error {
	hops := make([]wire.NodeID, len(trace))
	for i, e := range trace {
		hops[len(trace)-1-i] = e.Node
	}

	resp := &wire.Packet{
		Kind:      wire.KindFloodResponse,
		SessionID: pkt.SessionID,
		FloodID:   pkt.FloodID,
		PathTrace: trace,
		Header:    wire.RoutingHeader{Hops: hops, HopIndex: 1},
	}
	p.log.Debug("flood terminates, responding", "flood_id", pkt.FloodID, "initiator", pkt.InitiatorID, "sender", sender)
	return p.egress.Send(resp)
}

// propagate re-broadcasts the flood request to every neighbor but the
// sender, one copy per neighbor with a minimal, informational routing
// header.
func (p *Processor) propagate(pkt *wire.Packet, trace []wire.PathTraceEntry, forwardSet []wire.NodeID) error {
	p.log.Debug("propagating flood", "flood_id", pkt.FloodID, "initiator", pkt.InitiatorID, "neighbors", len(forwardSet))
	for _, n := range forwardSet {
		fwd := &wire.Packet{
			Kind:        wire.KindFloodRequest,
			SessionID:   pkt.SessionID,
			FloodID:     pkt.FloodID,
			InitiatorID: pkt.InitiatorID,
			PathTrace:   trace,
			Header:      wire.RoutingHeader{Hops: []wire.NodeID{p.store.ID(), n}, HopIndex: 1},
		}
		if err := p.egress.Send(fwd); err != nil {
			return err
		}
	}
	return nil
}
