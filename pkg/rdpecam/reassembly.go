package rdpecam

import (
	"encoding/binary"
	"sync"

	"github.com/guacrelay/rdpdvc/pkg/logger"
)

// ReassemblyHeaderLen is the fixed producer frame header length:
// version(1) flags(1) reserved(2) pts_ms(4) payload_len(4).
const ReassemblyHeaderLen = 12

// ReassemblyVersion is the only accepted producer header version.
const ReassemblyVersion = 1

// KeyframeFlagBit is bit 0 of the header's flags byte.
const KeyframeFlagBit = 0x01

// OnFrameFunc is invoked once a reassembled frame is complete.
type OnFrameFunc func(payload []byte, ptsMillis uint32, keyframe bool)

// Reassembler reconstructs camera frames from arbitrarily fragmented byte
// runs pushed by the Collaborator's frame feed. Uses buffered incremental
// reassembly with cached scratch state and emit-on-completion, plus a
// peek-header/validate/discard-and-resync idiom for recovering from a
// corrupt header.
type Reassembler struct {
	log        *logger.Logger
	maxPayload int
	onFrame    OnFrameFunc

	mu             sync.Mutex
	headerBuf      [ReassemblyHeaderLen]byte
	headerReceived int
	frameBuf       []byte
	frameReceived  int
	frameExpected  int
	pts            uint32
	keyframe       bool
}

// NewReassembler constructs a Reassembler. maxPayload is the maximum
// accepted frame payload size; onFrame is called synchronously for each
// completed frame.
func NewReassembler(maxPayload int, log *logger.Logger, onFrame OnFrameFunc) *Reassembler {
	return &Reassembler{
		log:        log,
		maxPayload: maxPayload,
		onFrame:    onFrame,
	}
}

// Push processes an arbitrary-sized chunk of the producer stream (header +
// payload bytes may span any call boundary). On a malformed header (invalid
// version or oversize payload_len), the reassembler discards all header
// state AND the rest of this call's bytes, then resumes scanning cleanly on
// the next Push call — deliberately coarse, to avoid byte-by-byte resync.
func (r *Reassembler) Push(data []byte) {
	r.mu.Lock()

	for len(data) > 0 {
		if r.headerReceived < ReassemblyHeaderLen {
			n := copy(r.headerBuf[r.headerReceived:], data)
			r.headerReceived += n
			data = data[n:]

			if r.headerReceived < ReassemblyHeaderLen {
				r.mu.Unlock()
				return
			}

			version := r.headerBuf[0]
			flags := r.headerBuf[1]
			ptsMs := binary.LittleEndian.Uint32(r.headerBuf[4:8])
			payloadLen := binary.LittleEndian.Uint32(r.headerBuf[8:12])

			if version != ReassemblyVersion || payloadLen > uint32(r.maxPayload) {
				if r.log != nil {
					r.log.Warn("rdpecam: corrupt reassembly header, discarding run",
						"version", version, "payload_len", payloadLen)
				}
				r.resetLocked()
				r.mu.Unlock()
				return
			}

			r.pts = ptsMs
			r.keyframe = flags&KeyframeFlagBit != 0
			r.frameExpected = int(payloadLen)
			r.frameBuf = make([]byte, 0, r.frameExpected)
			r.frameReceived = 0
			continue
		}

		need := r.frameExpected - r.frameReceived
		n := need
		if n > len(data) {
			n = len(data)
		}
		r.frameBuf = append(r.frameBuf, data[:n]...)
		r.frameReceived += n
		data = data[n:]

		if r.frameReceived == r.frameExpected {
			payload := r.frameBuf
			pts := r.pts
			keyframe := r.keyframe
			r.resetLocked()

			if r.onFrame != nil {
				r.mu.Unlock()
				r.onFrame(payload, pts, keyframe)
				r.mu.Lock()
			}
		}
	}

	r.mu.Unlock()
}

func (r *Reassembler) resetLocked() {
	r.headerReceived = 0
	r.frameBuf = nil
	r.frameReceived = 0
	r.frameExpected = 0
}
