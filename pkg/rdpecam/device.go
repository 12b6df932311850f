package rdpecam

import (
	"sync"

	"github.com/google/uuid"
)

// State is a camera device's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateReady
	StateStreaming
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Transport is the outbound write boundary this plane writes DVC messages
// through — the RDP transport itself is Collaborator-owned; this interface
// is the seam.
type Transport interface {
	WriteChannel(channelName string, payload []byte) error
}

// Device is one camera device: a virtual camera exposed to the RDP peer.
// Field names mirror the MS-RDPECAM device model: device name, browser
// device id, stream channel, sink, credits, sample sequence,
// is-active-sender, streaming, need-keyframe, stopping, ref count.
type Device struct {
	// Immutable after construction.
	UUID            string // internal correlation id, independent of BrowserDeviceID
	ChannelName     string // e.g. "RDCamera_Device_3"
	Slot            int
	BrowserDeviceID string
	DeviceName      string
	Sink            *Sink

	mu   sync.Mutex
	cond *sync.Cond

	state          State
	mediaType      MediaDescriptor
	streamIndex    byte
	sampleSequence uint64
	credits        uint32
	streaming      bool
	isActiveSender bool
	needKeyframe   bool
	stopping       bool
	refCount       int

	streamChannelName string
	hasStreamChannel  bool

	processed uint64
	dropped   uint64

	wg sync.WaitGroup
}

// NewDevice constructs a Device in StateClosed with a fresh correlation UUID.
func NewDevice(channelName string, slot int, browserDeviceID, deviceName string, sink *Sink) *Device {
	d := &Device{
		UUID:            uuid.NewString(),
		ChannelName:     channelName,
		Slot:            slot,
		BrowserDeviceID: browserDeviceID,
		DeviceName:      deviceName,
		Sink:            sink,
		state:           StateClosed,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// ID implements session.Sink's counterpart identity check via the device's
// own sink; provided for symmetry and log correlation.
func (d *Device) ID() string { return d.UUID }

// Lock/Unlock expose the device lock directly for call sites (e.g. the
// sender goroutine, the plane's dispatch handlers) that need to read/modify
// several fields atomically under the device's own lock.
func (d *Device) Lock()   { d.mu.Lock() }
func (d *Device) Unlock() { d.mu.Unlock() }

// State returns the current lifecycle state. It takes the device lock
// itself, so it must not be called while holding Lock.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Open transitions CLOSED -> OPENING on channel open, incrementing RefCount.
// Returns true if this was the first open (RefCount went 0 -> 1), meaning the
// caller should start this device's sender goroutine.
func (d *Device) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateClosed {
		d.state = StateOpening
	}
	d.refCount++
	return d.refCount == 1
}

// MarkReady transitions OPENING -> READY on a successful SelectVersionResponse.
func (d *Device) MarkReady() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateOpening {
		d.state = StateReady
	}
}

// BeginStreaming implements the READY -> STREAMING transition: clears the
// sink, resets credits/sequence/keyframe flag, marks streaming.
func (d *Device) BeginStreaming(streamIndex byte, mediaType MediaDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Sink.Clear()
	d.state = StateStreaming
	d.streaming = true
	d.needKeyframe = true
	d.credits = 0
	d.sampleSequence = 0
	d.streamIndex = streamIndex
	d.mediaType = mediaType
	d.isActiveSender = true

	d.cond.Broadcast()
}

// BeginStopping implements the STREAMING -> STOPPING transition. Returns
// the number of outstanding credits at the moment of stop, so the caller
// can emit that many SampleErrorResponses before the SuccessResponse.
func (d *Device) BeginStopping() (creditsAtStop uint32, wasActiveSender bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	creditsAtStop = d.credits
	wasActiveSender = d.isActiveSender

	d.state = StateStopping
	d.streaming = false
	d.isActiveSender = false
	d.needKeyframe = true
	d.credits = 0

	d.cond.Broadcast()
	return creditsAtStop, wasActiveSender
}

// StopAsInactive is used by the camera-switch path to deactivate the
// previously active device without running the full StopStreams
// credit-draining sequence (no SampleErrorResponses, no camera-stop signal:
// the caller already knows wasActiveSender was true and handles signaling
// itself).
func (d *Device) StopAsInactive() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	d.isActiveSender = false
	d.cond.Broadcast()
}

// SetStreamChannel records the channel that carries StartStreams/payload for
// this device, used by the sender task's wait condition.
func (d *Device) SetStreamChannel(channelName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streamChannelName = channelName
	d.hasStreamChannel = true
	d.cond.Broadcast()
}

// ClearStreamChannel unbinds the stream channel, e.g. on write failure.
func (d *Device) ClearStreamChannel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hasStreamChannel = false
	d.streamChannelName = ""
	d.streaming = false
	d.state = StateStopping
	d.cond.Broadcast()
}

// GrantCredit processes a SampleRequest: credits are pinned to the
// requested amount, not accumulated.
func (d *Device) GrantCredit(amount uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.credits = amount
	d.cond.Broadcast()
}

// Close decrements RefCount on channel close (any state -> CLOSED).
// Returns true once RefCount reaches zero, meaning the caller should signal
// the sender, join it, destroy the sink, and free the device.
func (d *Device) Close() bool {
	d.mu.Lock()
	d.refCount--
	zero := d.refCount <= 0
	if zero {
		d.state = StateClosed
		d.stopping = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()
	return zero
}

// WaitGroup exposes the sender-goroutine join handle.
func (d *Device) WaitGroup() *sync.WaitGroup { return &d.wg }

// StreamIndex returns the stream index bound at the last BeginStreaming call.
func (d *Device) StreamIndex() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streamIndex
}

// Stats returns the sender's processed/dropped counters.
func (d *Device) Stats() (processed, dropped uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processed, d.dropped
}
