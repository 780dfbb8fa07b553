// Command dronenode runs a single drone node, wiring its ingress and
// controller ports to local channels and, optionally, to a wireline serial
// neighbor link and an mqttctl controller bridge.
//
// meshcore-go ships no binary entrypoint of its own (it's a library), so
// this command follows the standard library flag package and slog's usual
// command-line setup rather than imitating a teacher cmd/ layout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/overlaynet/drone/drone"
	"github.com/overlaynet/drone/transport/mqttctl"
	"github.com/overlaynet/drone/transport/wireline"
)

func main() {
	var (
		id          = flag.Uint("id", 0, "this drone's node id (0-255)")
		pdr         = flag.Float64("pdr", 0, "initial fragment drop rate, in [0,1]")
		neighborArg = flag.String("neighbor", "", "neighbor id and serial port as id=port; several entries separated by commas")
		mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL for the controller bridge (optional)")
		mqttTopic   = flag.String("mqtt-topic-prefix", "drone", "MQTT topic prefix for the controller bridge")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, runConfig{
		id:         wireNodeID(*id),
		pdr:        *pdr,
		neighbors:  *neighborArg,
		mqttBroker: *mqttBroker,
		mqttTopic:  *mqttTopic,
		logger:     logger,
	}); err != nil {
		logger.Error("dronenode exited with error", "error", err)
		os.Exit(1)
	}
}

// wireNodeID narrows a CLI uint flag to drone.NodeID without importing the
// wire package from main.
func wireNodeID(v uint) drone.NodeID { return drone.NodeID(v) }

type runConfig struct {
	id         drone.NodeID
	pdr        float64
	neighbors  string
	mqttBroker string
	mqttTopic  string
	logger     *slog.Logger
}

func run(ctx context.Context, cfg runConfig) error {
	neighbors, links, err := openNeighbors(ctx, cfg.neighbors, cfg.logger)
	if err != nil {
		return fmt.Errorf("opening neighbor links: %w", err)
	}
	defer func() {
		for _, l := range links {
			l.Close()
		}
	}()

	ingress := make(chan *drone.Packet, 64)
	commands := make(chan drone.Command, 16)
	events := make(chan drone.Event, 64)

	for _, l := range links {
		go forwardPackets(ctx, l.Packets(), ingress)
	}

	var bridge *mqttctl.Bridge
	if cfg.mqttBroker != "" {
		bridge, err = mqttctl.Dial(ctx, mqttctl.Config{
			Broker:      cfg.mqttBroker,
			TopicPrefix: cfg.mqttTopic,
			Logger:      cfg.logger,
		})
		if err != nil {
			return fmt.Errorf("dialing mqtt controller bridge: %w", err)
		}
		go forwardCommands(ctx, bridge.Commands(), commands)
		go publishEvents(ctx, events, bridge, cfg.logger)
	}

	d, err := drone.New(drone.Config{
		ID:               cfg.id,
		InitialNeighbors: neighbors,
		Pdr:              cfg.pdr,
		Ports:            drone.Ports{Ingress: ingress, Commands: commands, Events: events},
		Logger:           cfg.logger,
	})
	if err != nil {
		return fmt.Errorf("constructing drone: %w", err)
	}

	cfg.logger.Info("drone starting", "id", cfg.id, "pdr", cfg.pdr, "neighbors", len(neighbors))
	return d.Run(ctx)
}

// openNeighbors parses a "id=port,id=port" spec and opens a wireline link
// for each entry.
func openNeighbors(ctx context.Context, spec string, logger *slog.Logger) (map[drone.NodeID]drone.OutPort, []*wireline.Link, error) {
	neighbors := make(map[drone.NodeID]drone.OutPort)
	if spec == "" {
		return neighbors, nil, nil
	}

	var links []*wireline.Link
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("invalid neighbor entry %q: want id=port", entry)
		}
		idNum, err := strconv.ParseUint(parts[0], 10, 8)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid neighbor id %q: %w", parts[0], err)
		}

		link, err := wireline.Open(ctx, wireline.Config{Port: parts[1], Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("opening link to neighbor %s on %s: %w", parts[0], parts[1], err)
		}
		links = append(links, link)
		neighbors[drone.NodeID(idNum)] = link
	}
	return neighbors, links, nil
}

func forwardPackets(ctx context.Context, in <-chan *drone.Packet, out chan<- *drone.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}
}

func forwardCommands(ctx context.Context, in <-chan drone.Command, out chan<- drone.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}
}

func publishEvents(ctx context.Context, in <-chan drone.Event, bridge *mqttctl.Bridge, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if err := bridge.PublishEvent(ev); err != nil {
				logger.Warn("failed to publish event over mqtt", "error", err)
			}
		}
	}
}
