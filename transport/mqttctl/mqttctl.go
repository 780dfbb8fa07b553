// Package mqttctl adapts a drone's controller-command and controller-event
// ports to MQTT topics, so an external simulation-controller process (out
// of scope per spec.md §1) can reconfigure a drone and observe its events
// without sharing a process or a Go channel with it.
//
// This is built the way transport/mqtt adapts MeshCore packets to MQTT
// topics: a paho client, a topic-per-concern layout, and a JSON payload in
// place of MeshCore's base64-encoded binary frame (control messages are
// small and infrequent, so there's no reason to hand-roll a binary codec
// for them the way transport/mqtt must for radio packets).
//
// AddSender is deliberately not relayed over this transport: it carries a
// live wire.OutPort (an in-process channel), which has no meaningful
// remote representation. A controller driving a drone through mqttctl adds
// neighbor links locally (for example via transport/wireline) and only
// uses the remote channel for RemoveSender, SetPacketDropRate, and Crash,
// plus observing events.
package mqttctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/overlaynet/drone/drone/internal/wire"
)

// Config configures a controller-channel MQTT bridge.
type Config struct {
	// Broker is the MQTT broker URL (e.g. "tcp://broker.example.com:1883").
	Broker string
	// ClientID identifies this MQTT client. If empty, paho assigns one.
	ClientID string
	// TopicPrefix namespaces the command/event topics for one drone.
	// Commands are published/subscribed on "{TopicPrefix}/cmd", events on
	// "{TopicPrefix}/event". Default: "drone".
	TopicPrefix string
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// commandWire is the JSON encoding of a remote-safe subset of wire.Command.
type commandWire struct {
	Kind       wire.CommandKind
	NeighborID wire.NodeID
	Pdr        float64
}

// eventWire is the JSON encoding of wire.Event.
type eventWire struct {
	Kind   wire.EventKind
	Packet *wire.Packet
}

// Bridge connects a drone's controller ports to MQTT: commands arrive over
// Commands() and events are published with PublishEvent.
type Bridge struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger
	cmds   chan wire.Command
}

// Dial connects to the broker and begins relaying the command topic into
// the returned Bridge's Commands channel.
func Dial(ctx context.Context, cfg Config) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqttctl: broker URL is required")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "drone"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("mqttctl")

	b := &Bridge{
		cfg:  cfg,
		log:  logger,
		cmds: make(chan wire.Command, 16),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	b.client = paho.NewClient(opts)

	token := b.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, errors.New("mqttctl: connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttctl: connecting to broker: %w", err)
	}

	cmdTopic := cfg.TopicPrefix + "/cmd"
	if token := b.client.Subscribe(cmdTopic, 1, b.handleCommand); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttctl: subscribing to %s: %w", cmdTopic, token.Error())
	}

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b, nil
}

// Commands returns the channel of commands received over MQTT. It is meant
// to be merged into a drone's controller-command port by the caller, e.g.
// by fanning it into the same channel local AddSender commands are sent on.
func (b *Bridge) Commands() <-chan wire.Command { return b.cmds }

// PublishEvent publishes a drone's controller-event-port message to the
// event topic.
func (b *Bridge) PublishEvent(e wire.Event) error {
	payload, err := json.Marshal(eventWire{Kind: e.Kind, Packet: e.Packet})
	if err != nil {
		return fmt.Errorf("mqttctl: encoding event: %w", err)
	}
	topic := b.cfg.TopicPrefix + "/event"
	token := b.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqttctl: timeout publishing event")
	}
	return token.Error()
}

// Close disconnects from the broker and closes the Commands channel.
func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Disconnect(500)
	}
	close(b.cmds)
}

func (b *Bridge) handleCommand(_ paho.Client, msg paho.Message) {
	var cw commandWire
	if err := json.Unmarshal(msg.Payload(), &cw); err != nil {
		b.log.Debug("failed to decode command", "error", err)
		return
	}
	if cw.Kind == wire.CmdAddSender {
		b.log.Warn("ignoring remote AddSender: output ports cannot cross a wire", "neighbor", cw.NeighborID)
		return
	}
	b.cmds <- wire.Command{Kind: cw.Kind, NeighborID: cw.NeighborID, Pdr: cw.Pdr}
}
