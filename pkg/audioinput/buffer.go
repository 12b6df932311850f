// Package audioinput implements the AUDIO_INPUT plane: a format-negotiating
// bridge between a producer sending PCM blobs in one format and an RDP peer
// expecting fixed-size packets in another.
//
// The sample-wise resampling math in readSample and the buffer lifecycle in
// Begin/Write/End follow the guac_rdp_audio_buffer model: same
// position-mapping formulas, same counters, same ack-gating condition. A
// single sync.Mutex guards the whole buffer.
package audioinput

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/guacrelay/rdpdvc/pkg/logger"
	"github.com/guacrelay/rdpdvc/pkg/session"
)

// Format is a PCM format descriptor (rate in Hz, channel count, bytes per sample).
type Format struct {
	Rate     int
	Channels int
	Bps      int
}

// FlushHandler is invoked each time a full packet has accumulated: the
// caller is expected to send a DATA_INCOMING PDU then a DATA PDU over the
// channel.
type FlushHandler func(packet []byte)

// Buffer is the per-connection audio-input pipeline. There is one Buffer per
// RDP session; the producer side is the Collaborator, the consumer side is
// whatever writes to the AUDIO_INPUT DVC.
type Buffer struct {
	log    *logger.Logger
	collab session.Collaborator

	mu sync.Mutex

	streamRef string
	hasStream bool

	inFormat  Format
	outFormat Format

	packet       []byte
	packetSize   int
	bytesWritten int

	totalBytesSent     int
	totalBytesReceived int

	flushHandler FlushHandler
}

// NewBuffer constructs an empty Buffer.
func NewBuffer(log *logger.Logger, collab session.Collaborator) *Buffer {
	return &Buffer{log: log, collab: collab}
}

// SetInputFormat records the producer-declared PCM format and acknowledges
// stream creation if the buffer is already armed.
func (b *Buffer) SetInputFormat(streamRef string, rate, channels, bps int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.streamRef = streamRef
	b.hasStream = true
	b.inFormat = Format{Rate: rate, Channels: channels, Bps: bps}

	b.ackLocked("OK", session.AckStatusOK)

	b.log.DebugAudioInput("producer input format set",
		"rate", rate, "channels", channels, "bps", bps)
}

// SetOutputFormat records the negotiated RDP-side PCM format, selected
// after sound-formats negotiation.
func (b *Buffer) SetOutputFormat(rate, channels, bps int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outFormat = Format{Rate: rate, Channels: channels, Bps: bps}
}

// Begin arms packet flushing: packet_size = packet_frames * out_channels *
// out_bps; the packet buffer is (re)allocated.
func (b *Buffer) Begin(packetFrames int, handler FlushHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bytesWritten = 0
	b.flushHandler = handler
	b.packetSize = packetFrames * b.outFormat.Channels * b.outFormat.Bps
	b.packet = make([]byte, b.packetSize)

	b.ackLocked("OK", session.AckStatusOK)
}

// readSample maps the current output sample position back to an input
// sample position and reads one 16-bit sample (8-bit input is shifted left
// 8 bits). ok is false once no further input data maps to an
// as-yet-unconsumed output sample.
func (b *Buffer) readSample(buf []byte) (sample int16, ok bool) {
	inBps := b.inFormat.Bps
	inRate := b.inFormat.Rate
	inChannels := b.inFormat.Channels

	outBps := b.outFormat.Bps
	outRate := b.outFormat.Rate
	outChannels := b.outFormat.Channels

	currentSample := b.totalBytesSent / outBps
	currentFrame := currentSample / outChannels
	currentChannel := currentSample % outChannels

	if currentChannel >= inChannels {
		currentChannel = inChannels - 1
	}

	currentFrame = int(float64(currentFrame) * (float64(inRate) / float64(outRate)))
	currentSample = currentFrame*inChannels + currentChannel

	offset := currentSample*inBps - b.totalBytesReceived
	if offset < 0 {
		// Should be impossible per the source's own invariant; treat as no
		// further samples available rather than reading out of bounds.
		return 0, false
	}

	remaining := len(buf) - offset
	if remaining < inBps {
		return 0, false
	}

	sampleBuf := buf[offset:]
	switch inBps {
	case 2:
		return int16(binary.LittleEndian.Uint16(sampleBuf)), true
	case 1:
		return int16(sampleBuf[0]) << 8, true
	default:
		return 0, false
	}
}

// Write appends producer PCM data, translating and packing samples into the
// output format, flushing whenever a full packet has accumulated.
func (b *Buffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.packetSize == 0 || b.packet == nil {
		return
	}

	outBps := b.outFormat.Bps

	for {
		sample, ok := b.readSample(data)
		if !ok {
			break
		}

		switch outBps {
		case 2:
			binary.LittleEndian.PutUint16(b.packet[b.bytesWritten:], uint16(sample))
		case 1:
			b.packet[b.bytesWritten] = byte(sample >> 8)
		default:
			panic(fmt.Sprintf("audioinput: unsupported output bps %d", outBps))
		}

		b.bytesWritten += outBps
		b.totalBytesSent += outBps

		if b.bytesWritten == b.packetSize {
			if b.flushHandler != nil {
				b.flushHandler(b.packet)
			}
			b.bytesWritten = 0
		}
	}

	b.totalBytesReceived += len(data)
}

// End disarms the buffer, acknowledges closure, and resets all counters:
// one acknowledgement with status RESOURCE_CLOSED is sent.
func (b *Buffer) End() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ackLocked("CLOSED", session.AckStatusResourceClosed)

	b.hasStream = false
	b.streamRef = ""

	b.bytesWritten = 0
	b.packetSize = 0
	b.flushHandler = nil

	b.totalBytesSent = 0
	b.totalBytesReceived = 0

	b.packet = nil
}

// ackLocked sends an acknowledgement to the producer, but only if both the
// producer's stream exists and a packet is allocated. Must be called with
// mu held.
func (b *Buffer) ackLocked(message string, status session.AckStatus) {
	if !b.hasStream || b.packet == nil || b.collab == nil {
		return
	}
	if err := b.collab.SendAck(b.streamRef, message, status); err != nil {
		b.log.Warn("audioinput: ack send failed", "error", err)
	}
}
