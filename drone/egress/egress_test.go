package egress

import (
	"testing"

	"github.com/overlaynet/drone/drone/config"
	"github.com/overlaynet/drone/drone/internal/wire"
)

type fixedRNG float64

func (f fixedRNG) Float64() float64 { return float64(f) }

type recordingPort struct {
	sent []*wire.Packet
}

func (p *recordingPort) Send(pkt *wire.Packet) error {
	p.sent = append(p.sent, pkt)
	return nil
}

type failingPort struct{ err error }

func (p failingPort) Send(*wire.Packet) error { return p.err }

type recordingEvents struct {
	events []wire.Event
}

func (r *recordingEvents) Emit(e wire.Event) { r.events = append(r.events, e) }

func newStore(t *testing.T, id wire.NodeID, neighbors map[wire.NodeID]wire.OutPort, pdr float64) *config.Store {
	t.Helper()
	s, err := config.New(id, neighbors, pdr, nil)
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	return s
}

func fragment(hops []wire.NodeID, hopIndex int) *wire.Packet {
	return &wire.Packet{
		Kind:          wire.KindMsgFragment,
		Header:        wire.RoutingHeader{Hops: hops, HopIndex: hopIndex},
		FragmentIndex: 3,
	}
}

// Scenario 1: forward-fragment, pdr=0.
func TestSend_ForwardFragment(t *testing.T) {
	port2 := &recordingPort{}
	store := newStore(t, 1, map[wire.NodeID]wire.OutPort{0: &recordingPort{}, 2: port2}, 0)
	events := &recordingEvents{}
	eg := New(store, fixedRNG(0.5), events, nil)

	p := fragment([]wire.NodeID{0, 1, 2}, 2)
	if err := eg.Send(p); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(port2.sent) != 1 {
		t.Fatalf("neighbor 2 got %d packets, want 1", len(port2.sent))
	}
	if port2.sent[0].Header.HopIndex != 2 {
		t.Errorf("hop_index = %d, want 2", port2.sent[0].Header.HopIndex)
	}
	if len(events.events) != 1 || events.events[0].Kind != wire.EventPacketSent {
		t.Fatalf("events = %+v, want single PacketSent", events.events)
	}
}

// Scenario 2: dropped-fragment, pdr=1.
func TestSend_DroppedFragment(t *testing.T) {
	port0 := &recordingPort{}
	port2 := &recordingPort{}
	store := newStore(t, 1, map[wire.NodeID]wire.OutPort{0: port0, 2: port2}, 1)
	events := &recordingEvents{}
	eg := New(store, fixedRNG(0), events, nil) // 0 < pdr(1) always drops

	p := fragment([]wire.NodeID{0, 1, 2}, 2)
	if err := eg.Send(p); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(port2.sent) != 0 {
		t.Fatalf("neighbor 2 should receive nothing, got %d", len(port2.sent))
	}
	if len(port0.sent) != 1 {
		t.Fatalf("neighbor 0 should receive the nack, got %d", len(port0.sent))
	}
	nackPkt := port0.sent[0]
	if nackPkt.Kind != wire.KindNack || nackPkt.Nack.Kind != wire.NackDropped {
		t.Errorf("nack = %+v, want Dropped nack", nackPkt)
	}
	wantHops := []wire.NodeID{1, 0}
	if len(nackPkt.Header.Hops) != 2 || nackPkt.Header.Hops[0] != wantHops[0] || nackPkt.Header.Hops[1] != wantHops[1] {
		t.Errorf("hops = %v, want %v", nackPkt.Header.Hops, wantHops)
	}
	if nackPkt.Header.HopIndex != 1 {
		t.Errorf("hop_index = %d, want 1", nackPkt.Header.HopIndex)
	}

	if len(events.events) != 2 {
		t.Fatalf("events = %+v, want [Dropped, Sent]", events.events)
	}
	if events.events[0].Kind != wire.EventPacketDropped {
		t.Errorf("first event = %v, want PacketDropped", events.events[0].Kind)
	}
	if events.events[1].Kind != wire.EventPacketSent {
		t.Errorf("second event = %v, want PacketSent", events.events[1].Kind)
	}
}

func TestSend_ErrorInRouting(t *testing.T) {
	port1 := &recordingPort{}
	store := newStore(t, 2, map[wire.NodeID]wire.OutPort{1: port1}, 0)
	events := &recordingEvents{}
	eg := New(store, fixedRNG(0.9), events, nil)

	p := fragment([]wire.NodeID{0, 1, 2, 3}, 3)
	if err := eg.Send(p); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(port1.sent) != 1 {
		t.Fatalf("neighbor 1 should receive the nack, got %d", len(port1.sent))
	}
	nackPkt := port1.sent[0]
	if nackPkt.Nack.Kind != wire.NackErrorInRouting || nackPkt.Nack.Node != 3 {
		t.Errorf("nack = %+v, want ErrorInRouting(3)", nackPkt)
	}
}

func TestSend_ControllerShortcutForUndroppablePacket(t *testing.T) {
	store := newStore(t, 2, map[wire.NodeID]wire.OutPort{1: &recordingPort{}}, 0)
	events := &recordingEvents{}
	eg := New(store, fixedRNG(0), events, nil)

	ack := &wire.Packet{
		Kind:   wire.KindAck,
		Header: wire.RoutingHeader{Hops: []wire.NodeID{0, 1, 2, 9}, HopIndex: 3}, // 9 not a neighbor
	}
	if err := eg.Send(ack); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(events.events) != 1 || events.events[0].Kind != wire.EventControllerShortcut {
		t.Fatalf("events = %+v, want single ControllerShortcut", events.events)
	}
}

func TestSend_FloodRequestToNonNeighborIsFatal(t *testing.T) {
	store := newStore(t, 2, map[wire.NodeID]wire.OutPort{1: &recordingPort{}}, 0)
	events := &recordingEvents{}
	eg := New(store, fixedRNG(0), events, nil)

	fr := &wire.Packet{
		Kind:   wire.KindFloodRequest,
		Header: wire.RoutingHeader{Hops: []wire.NodeID{2, 9}, HopIndex: 1},
	}
	if err := eg.Send(fr); err == nil {
		t.Fatal("expected fatal error for flood request to non-neighbor")
	}
}

func TestSend_ChannelFailureIsFatal(t *testing.T) {
	wantErr := errBoom
	store := newStore(t, 1, map[wire.NodeID]wire.OutPort{2: failingPort{err: wantErr}}, 0)
	events := &recordingEvents{}
	eg := New(store, fixedRNG(0.9), events, nil)

	p := fragment([]wire.NodeID{0, 1, 2}, 2)
	if err := eg.Send(p); err == nil {
		t.Fatal("expected fatal error on channel-send failure")
	}
}

var errBoom = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
