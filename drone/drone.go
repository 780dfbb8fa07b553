// Package drone implements the drone node described by the protocol: an
// autonomous worker that forwards source-routed packets, generates NACKs on
// forwarding failure, participates in flood-based discovery, probabilistically
// drops fragments, and is remotely controllable by a simulation controller.
//
// Package drone is the supervisor (C6): the single-threaded, cooperative
// event loop that arbitrates between controller commands and ingress
// packets under the Working/Crashing lifecycle discipline. The forwarding
// rules themselves live in the sibling config/nack/egress/routing/flood
// packages, each independently testable without a running event loop.
package drone

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/overlaynet/drone/drone/config"
	"github.com/overlaynet/drone/drone/egress"
	"github.com/overlaynet/drone/drone/flood"
	"github.com/overlaynet/drone/drone/internal/fault"
	"github.com/overlaynet/drone/drone/internal/wire"
	"github.com/overlaynet/drone/drone/routing"
)

// Re-exported wire types that form a Drone's public surface, so callers
// don't need to import the internal wire package directly.
type (
	NodeID         = wire.NodeID
	NodeType       = wire.NodeType
	Packet         = wire.Packet
	RoutingHeader  = wire.RoutingHeader
	Command        = wire.Command
	Event          = wire.Event
	OutPort        = wire.OutPort
	ChanPort       = wire.ChanPort
	PathTraceEntry = wire.PathTraceEntry
	NackInfo       = wire.NackInfo
)

const (
	NodeDrone  = wire.NodeDrone
	NodeClient = wire.NodeClient
	NodeServer = wire.NodeServer

	KindMsgFragment   = wire.KindMsgFragment
	KindAck           = wire.KindAck
	KindNack          = wire.KindNack
	KindFloodRequest  = wire.KindFloodRequest
	KindFloodResponse = wire.KindFloodResponse
)

// Ports bundles the three channel endpoints a Drone consumes/produces, per
// spec.md §6: an ingress packet port and a controller-command port
// (consume only), and a controller-event port (produce only). Per-neighbor
// output ports are supplied separately via Config.InitialNeighbors and the
// AddSender command.
type Ports struct {
	Ingress  <-chan *wire.Packet
	Commands <-chan wire.Command
	Events   chan<- wire.Event
}

// Config configures a new Drone.
type Config struct {
	ID               wire.NodeID
	InitialNeighbors map[wire.NodeID]wire.OutPort
	Pdr              float64
	Ports            Ports

	// Rand, if non-nil, is the uniform [0,1) source used for the PDR draw.
	// Defaults to a time-seeded math/rand/v2 generator. Tests that need
	// deterministic drop behavior should supply a seeded one.
	Rand *rand.Rand

	Logger *slog.Logger
}

// Drone is a single overlay node: its configuration store, the three
// packet-processing stages, and the channels it arbitrates between.
type Drone struct {
	store    *config.Store
	egress   *egress.Egress
	routing  *routing.Processor
	flood    *flood.Processor
	ports    Ports
	Counters Counters
	log      *slog.Logger
}

type randSource struct{ r *rand.Rand }

func (s randSource) Float64() float64 { return s.r.Float64() }

type eventSink struct {
	out      chan<- wire.Event
	counters *Counters
}

func (s eventSink) Emit(e wire.Event) {
	switch e.Kind {
	case wire.EventPacketDropped:
		s.counters.PacketsDropped.Add(1)
	case wire.EventPacketSent:
		if e.Packet != nil && e.Packet.Kind == wire.KindNack {
			s.counters.NacksSent.Add(1)
		} else {
			s.counters.PacketsForwarded.Add(1)
		}
	case wire.EventControllerShortcut:
		s.counters.ShortcutsEmitted.Add(1)
	}
	s.out <- e
}

// New constructs a Drone. Per spec.md §6, construction fails if the
// drone's own id appears in its initial neighbor set or pdr is outside
// [0, 1].
func New(cfg Config) (*Drone, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("drone").With("id", cfg.ID)

	store, err := config.New(cfg.ID, cfg.InitialNeighbors, cfg.Pdr, logger)
	if err != nil {
		return nil, err
	}

	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(cfg.ID)))
	}

	d := &Drone{
		store: store,
		ports: cfg.Ports,
		log:   logger,
	}
	sink := eventSink{out: cfg.Ports.Events, counters: &d.Counters}
	d.egress = egress.New(store, randSource{r: r}, sink, logger)
	d.routing = routing.New(store, d.egress, logger)
	d.flood = flood.New(store, d.egress, logger)

	return d, nil
}

// Run executes the event loop (C6) until the drone terminates cleanly or
// hits a fatal protocol violation. ctx cancellation is not part of the
// protocol's own shutdown discipline (spec.md §5: "no timeouts ... the
// only cancellation is the Crash → drain → terminate sequence") but is
// honored as an additional, caller-initiated abort so Run never leaks a
// goroutine the caller has otherwise given up on.
//
// Run returns nil on the clean Crash→drain→terminate path, ctx.Err() if
// the context is cancelled first, or a *fault.Error identifying the
// protocol invariant that was violated.
func (d *Drone) Run(ctx context.Context) error {
	for {
		// Biased peek: if a controller command is already waiting, handle it
		// before considering ingress, even if ingress is also ready.
		select {
		case cmd, ok := <-d.ports.Commands:
			if done, err := d.handleCommand(cmd, ok); done {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd, ok := <-d.ports.Commands:
			if done, err := d.handleCommand(cmd, ok); done {
				return err
			}

		case pkt, ok := <-d.ports.Ingress:
			if done, err := d.handleIngress(pkt, ok); done {
				return err
			}
		}
	}
}

// handleCommand applies a single controller command. done is true when the
// event loop must stop (fatal halt, reported via err).
func (d *Drone) handleCommand(cmd wire.Command, ok bool) (done bool, err error) {
	if !ok {
		return true, fault.New("supervisor: controller port disconnected (controller must outlive the drone)")
	}

	switch cmd.Kind {
	case wire.CmdAddSender:
		if err := d.store.AddNeighbor(cmd.NeighborID, cmd.Port); err != nil {
			return true, fault.Wrap("supervisor: add_neighbor", err)
		}
	case wire.CmdRemoveSender:
		if err := d.store.RemoveNeighbor(cmd.NeighborID); err != nil {
			return true, fault.Wrap("supervisor: remove_neighbor", err)
		}
	case wire.CmdSetPacketDropRate:
		if err := d.store.SetPdr(cmd.Pdr); err != nil {
			return true, fault.Wrap("supervisor: set_pdr", err)
		}
	case wire.CmdCrash:
		d.store.SetState(config.Crashing)
	default:
		return true, fault.New("supervisor: unknown command kind %v", cmd.Kind)
	}
	return false, nil
}

// handleIngress processes a single ingress packet, or the ingress port's
// disconnection.
func (d *Drone) handleIngress(pkt *wire.Packet, ok bool) (done bool, err error) {
	if !ok {
		if d.store.State() == config.Crashing {
			d.log.Info("ingress closed while crashing, terminating cleanly")
			return true, nil
		}
		return true, fault.New("supervisor: ingress port disconnected while working")
	}

	var procErr error
	if pkt.Kind == wire.KindFloodRequest {
		procErr = d.flood.Process(pkt)
	} else {
		procErr = d.routing.Process(pkt)
	}
	if procErr != nil {
		if fe, isFatal := fault.As(procErr); isFatal {
			return true, fe
		}
		return true, procErr
	}
	return false, nil
}
