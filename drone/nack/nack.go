// Package nack builds NACK packets from a failed forwarding attempt: the
// reverse-path construction and hop-index placement described in spec.md
// §4.2. This corresponds to the original implementation's
// make_and_send_nack helper, split into a pure constructor so egress can
// call it without owning any forwarding logic itself.
package nack

import (
	"fmt"

	"github.com/overlaynet/drone/drone/internal/wire"
)

// Build constructs the NACK packet for offending packet p, whose failure was
// detected at path position k (0-indexed into p.Header.Hops), with the given
// nack reason.
//
// Precondition: k < len(p.Header.Hops). Violating it is a programming error
// upstream of this package — nack.Build returns an error rather than
// panicking so its callers (egress and routing) can wrap it as a
// *fault.Error, a uniform fatal halt alongside the event loop's other
// invariant violations.
func Build(p *wire.Packet, k int, reason wire.NackInfo) (*wire.Packet, error) {
	if k < 0 || k >= len(p.Header.Hops) {
		return nil, fmt.Errorf("nack: index %d out of bounds for hops of length %d", k, len(p.Header.Hops))
	}

	var fragmentIndex uint64
	if p.Kind == wire.KindMsgFragment {
		fragmentIndex = p.FragmentIndex
	}

	reversed := make([]wire.NodeID, k+1)
	for i := 0; i <= k; i++ {
		reversed[i] = p.Header.Hops[k-i]
	}

	return &wire.Packet{
		Kind:          wire.KindNack,
		SessionID:     p.SessionID,
		FragmentIndex: fragmentIndex,
		Nack:          reason,
		Header: wire.RoutingHeader{
			Hops:     reversed,
			HopIndex: 1,
		},
	}, nil
}
