// Package wireline provides a serial-line neighbor link for a drone.
//
// Two drone processes running on separate machines (or two ends of a real
// or virtual null-modem cable) can exchange packets over a serial port by
// each wiring a *Link as the wire.OutPort for the other's NodeID. Framing
// follows transport/serial's RS232 scheme — magic number, length prefix,
// Fletcher-16 checksum — reusing core/codec's frame (de)coder; the payload
// inside each frame is a JSON-encoded wire.Packet rather than a MeshCore
// binary packet, since wire.Packet has no binary codec of its own and
// neighbor links carry far less traffic than a radio mesh.
package wireline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/overlaynet/drone/core/codec"
	"github.com/overlaynet/drone/drone/internal/wire"
)

const (
	// DefaultBaudRate matches transport/serial's default.
	DefaultBaudRate = 115200

	readBufSize = 1024
)

// Config holds the configuration for a serial neighbor link.
type Config struct {
	// Port is the serial port path (e.g. "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate defaults to 115200.
	BaudRate int
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Link is a wire.OutPort backed by a serial port: Send frames and writes a
// packet, and a background loop decodes inbound frames onto Packets().
type Link struct {
	cfg  Config
	port serial.Port
	log  *slog.Logger

	mu   sync.Mutex
	wmu  sync.Mutex
	pkts chan *wire.Packet
	done chan struct{}
}

var _ wire.OutPort = (*Link)(nil)

// Open opens the serial port and starts the background read loop that
// decodes inbound frames into Packets(). ctx bounds the read loop's
// lifetime: the loop checks it before each read and, once it is cancelled,
// closes the port and ends, closing the Packets channel. A read already in
// progress is not interrupted; if that read then fails, the loop ends
// without closing the port.
func Open(ctx context.Context, cfg Config) (*Link, error) {
	if cfg.Port == "" {
		return nil, errors.New("wireline: serial port is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("wireline").With("port", cfg.Port)

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("wireline: opening serial port: %w", err)
	}

	l := &Link{
		cfg:  cfg,
		port: port,
		log:  logger,
		pkts: make(chan *wire.Packet, 16),
		done: make(chan struct{}),
	}

	go l.readLoop(ctx)

	logger.Info("neighbor link opened", "baud", cfg.BaudRate)
	return l, nil
}

// Send encodes p as JSON, frames it, and writes it to the serial port. It
// satisfies wire.OutPort so a *Link can be handed directly to
// wire.AddSender.
func (l *Link) Send(p *wire.Packet) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("wireline: encoding packet: %w", err)
	}
	frame, err := codec.EncodeRS232Frame(payload)
	if err != nil {
		return fmt.Errorf("wireline: framing packet: %w", err)
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.port.Write(frame); err != nil {
		return fmt.Errorf("wireline: writing to serial port: %w", err)
	}
	return nil
}

// Packets returns the channel of packets decoded from inbound frames. It is
// meant to be merged into a drone's ingress port by the caller.
func (l *Link) Packets() <-chan *wire.Packet { return l.pkts }

// Close closes the underlying serial port. The read loop then drains and
// closes Packets().
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port.Close()
}

func (l *Link) readLoop(ctx context.Context) {
	defer close(l.pkts)
	defer close(l.done)

	buf := make([]byte, readBufSize)
	var assembly []byte

	for {
		select {
		case <-ctx.Done():
			l.port.Close()
			return
		default:
		}

		n, err := l.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				l.log.Info("neighbor link closed")
				return
			}
			l.log.Error("serial read error", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		assembly = append(assembly, buf[:n]...)
		assembly = l.processFrames(assembly)
	}
}

func (l *Link) processFrames(data []byte) []byte {
	for len(data) >= codec.MinFrameSize {
		frame, remaining, err := codec.DecodeRS232Frame(data)
		if err != nil {
			if errors.Is(err, codec.ErrIncompleteFrame) {
				return data
			}
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			return nil
		}
		data = remaining

		var pkt wire.Packet
		if err := json.Unmarshal(frame.Payload, &pkt); err != nil {
			l.log.Debug("failed to decode packet from frame", "error", err)
			continue
		}
		l.pkts <- &pkt
	}
	return data
}

func findMagic(data []byte) int {
	magic := [2]byte{byte(codec.BridgePacketMagic >> 8), byte(codec.BridgePacketMagic & 0xFF)}
	for i := 0; i+1 < len(data); i++ {
		if data[i] == magic[0] && data[i+1] == magic[1] {
			return i
		}
	}
	return -1
}
