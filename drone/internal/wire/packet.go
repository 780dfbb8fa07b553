// Package wire defines the data model shared by every drone component:
// node identifiers, source-routing headers, the packet tagged union, and
// the node-type tag used in flood path traces.
//
// This corresponds to the protocol's Packet/SourceRoutingHeader data model;
// none of these types touch channels or goroutines.
package wire

import "fmt"

// NodeID uniquely identifies a node in the simulated overlay graph.
type NodeID uint8

// NodeType tags a node in a flood's path trace.
type NodeType uint8

const (
	NodeDrone NodeType = iota
	NodeClient
	NodeServer
)

func (t NodeType) String() string {
	switch t {
	case NodeDrone:
		return "drone"
	case NodeClient:
		return "client"
	case NodeServer:
		return "server"
	default:
		return "unknown"
	}
}

// MaxFragmentPayload is the size of a MsgFragment's fixed-size payload buffer.
const MaxFragmentPayload = 128

// RoutingHeader is the ordered node-id path a source-routed packet travels,
// together with the index of the node currently expected to hold it.
type RoutingHeader struct {
	Hops     []NodeID
	HopIndex int
}

// IsEmpty reports whether the header carries no path at all.
func (h RoutingHeader) IsEmpty() bool {
	return len(h.Hops) == 0
}

// CurrentHop returns the node id at HopIndex, or false if HopIndex is out
// of bounds.
func (h RoutingHeader) CurrentHop() (NodeID, bool) {
	if h.HopIndex < 0 || h.HopIndex >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex], true
}

// PreviousHop returns the node id at HopIndex-1, or false if there is none.
func (h RoutingHeader) PreviousHop() (NodeID, bool) {
	if h.HopIndex-1 < 0 || h.HopIndex-1 >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex-1], true
}

// IsLastHop reports whether HopIndex points at the final entry of the path.
func (h RoutingHeader) IsLastHop() bool {
	return len(h.Hops) > 0 && h.HopIndex == len(h.Hops)-1
}

// Clone returns a deep copy of the header.
func (h RoutingHeader) Clone() RoutingHeader {
	hops := make([]NodeID, len(h.Hops))
	copy(hops, h.Hops)
	return RoutingHeader{Hops: hops, HopIndex: h.HopIndex}
}

// PacketKind discriminates the five Packet variants.
type PacketKind uint8

const (
	KindMsgFragment PacketKind = iota
	KindAck
	KindNack
	KindFloodRequest
	KindFloodResponse
)

func (k PacketKind) String() string {
	switch k {
	case KindMsgFragment:
		return "MsgFragment"
	case KindAck:
		return "Ack"
	case KindNack:
		return "Nack"
	case KindFloodRequest:
		return "FloodRequest"
	case KindFloodResponse:
		return "FloodResponse"
	default:
		return "Unknown"
	}
}

// NackKind discriminates the four reasons a Nack was generated.
type NackKind uint8

const (
	NackDropped NackKind = iota
	NackDestinationIsDrone
	NackErrorInRouting
	NackUnexpectedRecipient
)

// NackInfo carries the nack_type payload: a kind plus, for the two variants
// that need it, the node id that triggered the condition.
type NackInfo struct {
	Kind NackKind
	Node NodeID // meaningful only for NackErrorInRouting / NackUnexpectedRecipient
}

func (n NackInfo) String() string {
	switch n.Kind {
	case NackDropped:
		return "Dropped"
	case NackDestinationIsDrone:
		return "DestinationIsDrone"
	case NackErrorInRouting:
		return fmt.Sprintf("ErrorInRouting(%d)", n.Node)
	case NackUnexpectedRecipient:
		return fmt.Sprintf("UnexpectedRecipient(%d)", n.Node)
	default:
		return "Unknown"
	}
}

// PathTraceEntry records one node traversed by a flood.
type PathTraceEntry struct {
	Node NodeID
	Type NodeType
}

// Packet is the tagged union carried on every port. Which fields are
// meaningful is determined by Kind; this mirrors the teacher's flat
// codec.Packet struct (header bits select which fields apply) rather
// than a Go interface hierarchy, since every component needs to read
// the routing header regardless of variant.
type Packet struct {
	Kind      PacketKind
	Header    RoutingHeader
	SessionID uint64

	// MsgFragment fields.
	FragmentIndex   uint64
	TotalFragments  uint64
	Length          uint8
	Payload         [MaxFragmentPayload]byte

	// Ack/Nack share FragmentIndex above. Nack additionally carries:
	Nack NackInfo

	// FloodRequest/FloodResponse fields.
	FloodID     uint64
	InitiatorID NodeID
	PathTrace   []PathTraceEntry
}

// Clone returns a deep copy of the packet, including its routing header
// and path trace slices.
func (p *Packet) Clone() *Packet {
	clone := *p
	clone.Header = p.Header.Clone()
	if len(p.PathTrace) > 0 {
		clone.PathTrace = make([]PathTraceEntry, len(p.PathTrace))
		copy(clone.PathTrace, p.PathTrace)
	}
	return &clone
}

// NewFragment builds a MsgFragment packet with the given routing header,
// session id, fragment index/total, and payload (which must fit within
// MaxFragmentPayload bytes).
func NewFragment(header RoutingHeader, sessionID uint64, fragmentIndex, totalFragments uint64, data []byte) (*Packet, error) {
	if len(data) > MaxFragmentPayload {
		return nil, fmt.Errorf("wire: fragment payload of %d bytes exceeds max %d", len(data), MaxFragmentPayload)
	}
	p := &Packet{
		Kind:           KindMsgFragment,
		Header:         header,
		SessionID:      sessionID,
		FragmentIndex:  fragmentIndex,
		TotalFragments: totalFragments,
		Length:         uint8(len(data)),
	}
	copy(p.Payload[:], data)
	return p, nil
}

// Data returns the fragment's payload slice, truncated to Length.
func (p *Packet) Data() []byte {
	return p.Payload[:p.Length]
}
