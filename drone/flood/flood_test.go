package flood

import (
	"testing"

	"github.com/overlaynet/drone/drone/config"
	"github.com/overlaynet/drone/drone/egress"
	"github.com/overlaynet/drone/drone/internal/wire"
)

type fixedRNG float64

func (f fixedRNG) Float64() float64 { return float64(f) }

type recordingPort struct{ sent []*wire.Packet }

func (p *recordingPort) Send(pkt *wire.Packet) error {
	p.sent = append(p.sent, pkt)
	return nil
}

type recordingEvents struct{ events []wire.Event }

func (r *recordingEvents) Emit(e wire.Event) { r.events = append(r.events, e) }

func newProcessor(t *testing.T, id wire.NodeID, neighbors map[wire.NodeID]*recordingPort) *Processor {
	t.Helper()
	m := make(map[wire.NodeID]wire.OutPort, len(neighbors))
	for k, v := range neighbors {
		m[k] = v
	}
	store, err := config.New(id, m, 0, nil)
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	eg := egress.New(store, fixedRNG(1), &recordingEvents{}, nil)
	return New(store, eg, nil)
}

// Scenario 6: flood propagate + dedup.
func TestProcess_PropagateThenDedupThenDistinctInitiator(t *testing.T) {
	port0 := &recordingPort{}
	port2 := &recordingPort{}
	proc := newProcessor(t, 1, map[wire.NodeID]*recordingPort{0: port0, 2: port2})

	req := &wire.Packet{
		Kind:        wire.KindFloodRequest,
		FloodID:     1,
		InitiatorID: 0,
		PathTrace:   []wire.PathTraceEntry{{Node: 0, Type: wire.NodeClient}},
	}

	// First time: propagates to neighbor 2 only (sender was 0).
	if err := proc.Process(req); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(port2.sent) != 1 {
		t.Fatalf("neighbor 2 should get 1 flood request, got %d", len(port2.sent))
	}
	if len(port0.sent) != 0 {
		t.Fatalf("neighbor 0 should get nothing, got %d", len(port0.sent))
	}
	fwd := port2.sent[0]
	if fwd.Kind != wire.KindFloodRequest {
		t.Errorf("kind = %v, want FloodRequest", fwd.Kind)
	}
	wantTrace := []wire.PathTraceEntry{{Node: 0, Type: wire.NodeClient}, {Node: 1, Type: wire.NodeDrone}}
	if len(fwd.PathTrace) != 2 || fwd.PathTrace[0] != wantTrace[0] || fwd.PathTrace[1] != wantTrace[1] {
		t.Errorf("path_trace = %v, want %v", fwd.PathTrace, wantTrace)
	}

	// Resend same (flood_id, initiator_id): dedup -> respond to sender 0.
	req2 := &wire.Packet{
		Kind:        wire.KindFloodRequest,
		FloodID:     1,
		InitiatorID: 0,
		PathTrace:   []wire.PathTraceEntry{{Node: 0, Type: wire.NodeClient}},
	}
	if err := proc.Process(req2); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(port2.sent) != 1 {
		t.Fatalf("neighbor 2 should still have only 1 packet, got %d", len(port2.sent))
	}
	if len(port0.sent) != 1 {
		t.Fatalf("neighbor 0 should get the flood response, got %d", len(port0.sent))
	}
	resp := port0.sent[0]
	if resp.Kind != wire.KindFloodResponse {
		t.Errorf("kind = %v, want FloodResponse", resp.Kind)
	}
	wantHops := []wire.NodeID{1, 0}
	if len(resp.Header.Hops) != 2 || resp.Header.Hops[0] != wantHops[0] || resp.Header.Hops[1] != wantHops[1] {
		t.Errorf("hops = %v, want %v", resp.Header.Hops, wantHops)
	}
	if resp.Header.HopIndex != 1 {
		t.Errorf("hop_index = %d, want 1", resp.Header.HopIndex)
	}

	// Same flood_id, different initiator_id: still propagates (distinct key).
	req3 := &wire.Packet{
		Kind:        wire.KindFloodRequest,
		FloodID:     1,
		InitiatorID: 2,
		PathTrace:   []wire.PathTraceEntry{{Node: 2, Type: wire.NodeClient}},
	}
	if err := proc.Process(req3); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(port0.sent) != 2 {
		t.Fatalf("neighbor 0 should get the new flood request, got %d", len(port0.sent))
	}
	if port0.sent[1].Kind != wire.KindFloodRequest {
		t.Errorf("kind = %v, want FloodRequest", port0.sent[1].Kind)
	}
}

func TestProcess_NoOtherNeighborsRespondsImmediately(t *testing.T) {
	port0 := &recordingPort{}
	proc := newProcessor(t, 1, map[wire.NodeID]*recordingPort{0: port0})

	req := &wire.Packet{
		Kind:        wire.KindFloodRequest,
		FloodID:     5,
		InitiatorID: 0,
		PathTrace:   []wire.PathTraceEntry{{Node: 0, Type: wire.NodeClient}},
	}
	if err := proc.Process(req); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(port0.sent) != 1 || port0.sent[0].Kind != wire.KindFloodResponse {
		t.Fatalf("expected immediate flood response to sender, got %+v", port0.sent)
	}
	if proc.KnownFloodCount() != 0 {
		t.Errorf("no-neighbor termination must not be recorded as a propagated flood, got %d known", proc.KnownFloodCount())
	}
}

func TestProcess_EmptyPathTraceIsFatal(t *testing.T) {
	proc := newProcessor(t, 1, map[wire.NodeID]*recordingPort{0: {}})
	req := &wire.Packet{Kind: wire.KindFloodRequest, FloodID: 1}
	if err := proc.Process(req); err == nil {
		t.Fatal("expected fatal error for empty path_trace")
	}
}
