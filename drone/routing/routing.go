// Package routing implements the routed-packet processor (C4): validating
// a source-routed, non-flood packet at this hop, advancing its hop index,
// and delegating to egress.
package routing

import (
	"log/slog"

	"github.com/overlaynet/drone/drone/config"
	"github.com/overlaynet/drone/drone/egress"
	"github.com/overlaynet/drone/drone/internal/fault"
	"github.com/overlaynet/drone/drone/internal/wire"
	"github.com/overlaynet/drone/drone/nack"
)

// Processor validates and forwards non-FloodRequest packets for a single
// drone.
type Processor struct {
	store  *config.Store
	egress *egress.Egress
	log    *slog.Logger
}

// New creates a routing Processor bound to the given config store and
// egress stage.
func New(store *config.Store, eg *egress.Egress, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, egress: eg, log: logger.WithGroup("routing")}
}

// Process validates packet p per spec.md §4.4 and either sends a NACK
// (unexpected recipient / destination-is-drone) or advances the hop index
// and calls egress. All three precondition violations (empty header,
// hop_index out of bounds, hop_index == 0) are fatal protocol violations.
func (r *Processor) Process(p *wire.Packet) error {
	h := p.Header
	if h.IsEmpty() {
		return fault.New("routing: empty routing header")
	}
	if h.HopIndex < 0 || h.HopIndex >= len(h.Hops) {
		return fault.New("routing: hop_index %d out of bounds for hops of length %d", h.HopIndex, len(h.Hops))
	}
	if h.HopIndex == 0 {
		return fault.New("routing: received packet with hop_index 0, which should be impossible")
	}

	current := h.Hops[h.HopIndex]
	if current != r.store.ID() {
		n, err := nack.Build(p, h.HopIndex, wire.NackInfo{Kind: wire.NackUnexpectedRecipient, Node: r.store.ID()})
		if err != nil {
			return fault.Wrap("routing: build unexpected-recipient nack", err)
		}
		r.log.Debug("unexpected recipient", "expected_self", r.store.ID(), "found", current)
		return r.egress.Send(n)
	}

	if h.IsLastHop() {
		n, err := nack.Build(p, h.HopIndex, wire.NackInfo{Kind: wire.NackDestinationIsDrone})
		if err != nil {
			return fault.Wrap("routing: build destination-is-drone nack", err)
		}
		r.log.Debug("drone is final hop of source route", "hop_index", h.HopIndex)
		return r.egress.Send(n)
	}

	advanced := p.Clone()
	advanced.Header.HopIndex++
	return r.egress.Send(advanced)
}
