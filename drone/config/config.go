// Package config implements the drone's configuration store (C1): the
// mutable neighbor table, drop probability, and lifecycle state, plus the
// invariants that guard updates to them.
//
// Every operation here is a plain, non-fatal function returning an error.
// Turning a config error into a fatal halt is the supervisor's job
// (spec.md §4.1: "all failures in this component are fatal ... this is a
// deliberate design decision to surface controller bugs"); Store itself
// stays a reusable, independently testable value type.
package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/overlaynet/drone/drone/internal/wire"
)

// State is the drone's lifecycle.
type State uint8

const (
	Working State = iota
	Crashing
)

func (s State) String() string {
	switch s {
	case Working:
		return "working"
	case Crashing:
		return "crashing"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidPdr is returned by SetPdr when p is outside [0, 1].
	ErrInvalidPdr = errors.New("config: pdr out of range [0, 1]")
	// ErrSelfLoop is returned by AddNeighbor when n equals the drone's own id.
	ErrSelfLoop = errors.New("config: neighbor id equals own id")
	// ErrUnknownNeighbor is returned by RemoveNeighbor when n is not registered.
	ErrUnknownNeighbor = errors.New("config: unknown neighbor id")
)

// Store holds a drone's mutable configuration: id (immutable after
// construction), pdr, neighbor table, and lifecycle state.
type Store struct {
	id        wire.NodeID
	pdr       float64
	neighbors map[wire.NodeID]wire.OutPort
	state     State
	log       *slog.Logger
}

// New creates a Store for the given id with the supplied initial neighbors
// and drop rate. It fails the same way AddNeighbor/SetPdr would: a self-loop
// neighbor or an out-of-range pdr is rejected at construction time (spec.md
// §6: "creation fails ... if id ∈ initial_neighbors or pdr ∉ [0,1]").
func New(id wire.NodeID, initialNeighbors map[wire.NodeID]wire.OutPort, pdr float64, logger *slog.Logger) (*Store, error) {
	if pdr < 0 || pdr > 1 {
		return nil, fmt.Errorf("config: construct: %w: %v", ErrInvalidPdr, pdr)
	}
	if _, ok := initialNeighbors[id]; ok {
		return nil, fmt.Errorf("config: construct: %w: %d", ErrSelfLoop, id)
	}
	if logger == nil {
		logger = slog.Default()
	}
	neighbors := make(map[wire.NodeID]wire.OutPort, len(initialNeighbors))
	for n, p := range initialNeighbors {
		neighbors[n] = p
	}
	return &Store{
		id:        id,
		pdr:       pdr,
		neighbors: neighbors,
		state:     Working,
		log:       logger.WithGroup("config"),
	}, nil
}

// ID returns the drone's own node id.
func (s *Store) ID() wire.NodeID { return s.id }

// Pdr returns the current drop probability.
func (s *Store) Pdr() float64 { return s.pdr }

// State returns the current lifecycle state.
func (s *Store) State() State { return s.state }

// Port looks up the output port registered for neighbor n.
func (s *Store) Port(n wire.NodeID) (wire.OutPort, bool) {
	p, ok := s.neighbors[n]
	return p, ok
}

// HasNeighbor reports whether n is a registered neighbor.
func (s *Store) HasNeighbor(n wire.NodeID) bool {
	_, ok := s.neighbors[n]
	return ok
}

// NeighborsExcept returns the registered neighbor ids other than except, in
// an unspecified order.
func (s *Store) NeighborsExcept(except wire.NodeID) []wire.NodeID {
	out := make([]wire.NodeID, 0, len(s.neighbors))
	for n := range s.neighbors {
		if n != except {
			out = append(out, n)
		}
	}
	return out
}

// SetPdr replaces the drop probability. Fails with ErrInvalidPdr when p is
// outside [0, 1]; the store is left unchanged on failure.
func (s *Store) SetPdr(p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidPdr, p)
	}
	s.pdr = p
	s.log.Info("pdr set", "pdr", p)
	return nil
}

// AddNeighbor inserts or replaces the output port registered for n. Fails
// with ErrSelfLoop when n equals the drone's own id.
func (s *Store) AddNeighbor(n wire.NodeID, port wire.OutPort) error {
	if n == s.id {
		return fmt.Errorf("%w: %d", ErrSelfLoop, n)
	}
	_, existed := s.neighbors[n]
	s.neighbors[n] = port
	if existed {
		s.log.Info("neighbor port replaced", "neighbor", n)
	} else {
		s.log.Info("neighbor added", "neighbor", n)
	}
	return nil
}

// RemoveNeighbor deletes the mapping for n. Fails with ErrUnknownNeighbor
// when n is not registered.
func (s *Store) RemoveNeighbor(n wire.NodeID) error {
	if _, ok := s.neighbors[n]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNeighbor, n)
	}
	delete(s.neighbors, n)
	s.log.Info("neighbor removed", "neighbor", n)
	return nil
}

// SetState unconditionally replaces the lifecycle state.
func (s *Store) SetState(state State) {
	s.state = state
	s.log.Info("state set", "state", state)
}
