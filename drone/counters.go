package drone

import "sync/atomic"

// Counters tracks per-drone routing statistics using atomic counters, the
// way device/router.RouterCounters does for the MeshCore router. The
// original implementation exposed similar figures (PacketSent counts, PDR)
// to a UI; that UI is out of scope here, but the counters themselves are a
// small, allocation-free observability hook with no bearing on protocol
// behavior.
type Counters struct {
	PacketsForwarded atomic.Uint64
	PacketsDropped   atomic.Uint64
	NacksSent        atomic.Uint64
	FloodsPropagated atomic.Uint64
	FloodsAnswered   atomic.Uint64
	ShortcutsEmitted atomic.Uint64
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	PacketsForwarded uint64
	PacketsDropped   uint64
	NacksSent        uint64
	FloodsPropagated uint64
	FloodsAnswered   uint64
	ShortcutsEmitted uint64
}

// Snapshot returns a copy of all counters. Each counter is loaded atomically
// on its own; the six loads together are not one atomic read.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		PacketsForwarded: c.PacketsForwarded.Load(),
		PacketsDropped:   c.PacketsDropped.Load(),
		NacksSent:        c.NacksSent.Load(),
		FloodsPropagated: c.FloodsPropagated.Load(),
		FloodsAnswered:   c.FloodsAnswered.Load(),
		ShortcutsEmitted: c.ShortcutsEmitted.Load(),
	}
}
