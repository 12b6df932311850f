// Package session implements session state: the per-connection context
// shared by the channel router and the three DVC planes. It owns the write
// lock protecting the device-capability registry and current-sink pointer,
// the message lock serializing outbound DVC writes, and the rate-limited
// reconciliation queue that paces repeated UpdateCapabilities calls.
package session

import (
	"sync"

	"github.com/guacrelay/rdpdvc/pkg/config"
	"github.com/guacrelay/rdpdvc/pkg/logger"
)

// DeviceFormat is one entry of a Device Capability Record's format list.
type DeviceFormat struct {
	Width  uint32
	Height uint32
	FPSNum uint32
	FPSDen uint32
}

// DeviceCapability is one entry of the capability registry.
type DeviceCapability struct {
	BrowserDeviceID string
	DeviceName      string
	Formats         []DeviceFormat
}

// Sink is the minimal identity a camera device's frame queue must expose so
// that session state can hold a "current sink" pointer without importing
// the camera plane package, which itself depends on session state.
type Sink interface {
	ID() string
}

// AckStatus mirrors the producer acknowledgement statuses used by the
// audio-input plane.
type AckStatus int

const (
	AckStatusOK AckStatus = iota
	AckStatusResourceClosed
	AckStatusClientBadType
)

func (s AckStatus) String() string {
	switch s {
	case AckStatusOK:
		return "OK"
	case AckStatusResourceClosed:
		return "RESOURCE_CLOSED"
	case AckStatusClientBadType:
		return "CLIENT_BAD_TYPE"
	default:
		return "UNKNOWN"
	}
}

// Collaborator is the outbound half of the external interface: implemented
// by whatever embeds this core. The RDP transport, the outer event loop,
// and the browser-facing gateway are all Collaborator responsibilities.
type Collaborator interface {
	// SendArgv notifies the browser of a camera-start/camera-stop event.
	// kind is "camera-start" or "camera-stop"; camera-stop carries value="".
	SendArgv(kind, value string) error
	// SendAck acknowledges a producer-side stream event for the
	// audio-input plane.
	SendAck(streamRef, message string, status AckStatus) error
	// SendClipboard delivers newly received clipboard text (already
	// transcoded to UTF-8) to the browser side for the clipboard plane.
	SendClipboard(mimetype, data string) error
}

// Session is session state: the shared, lock-protected context referenced
// by the channel router and every plane.
type Session struct {
	Config *config.Config
	Log    *logger.Logger
	Collab Collaborator

	writeLock sync.RWMutex // guards capabilities, dirty, currentSink
	msgLock   sync.Mutex   // serializes outbound DVC writes

	capabilities []DeviceCapability
	dirty        bool
	currentSink  Sink

	reconcile  *ReconcileQueue
	reconciler func(caps []DeviceCapability)
}

// New constructs a Session. Start must be called before UpdateCapabilities
// will actually trigger a reconciliation sweep.
func New(cfg *config.Config, log *logger.Logger, collab Collaborator) *Session {
	return &Session{
		Config:    cfg,
		Log:       log,
		Collab:    collab,
		reconcile: NewReconcileQueue(cfg.ReconcileQueueRatePerMinute, log.Logger),
	}
}

// Start begins the session's background reconciliation worker.
func (s *Session) Start() { s.reconcile.Start() }

// Stop tears down the session's background worker. Plane-owned resources
// (camera devices, sender goroutines, sinks) must already be stopped before
// calling this.
func (s *Session) Stop() { s.reconcile.Stop() }

// SetReconciler registers the camera plane's device-list reconciliation
// function. A later call replaces the earlier reconciler; the camera plane
// calls this once at construction.
func (s *Session) SetReconciler(fn func(caps []DeviceCapability)) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	s.reconciler = fn
}

// WithWrite runs fn holding the write lock (exclusive).
func (s *Session) WithWrite(fn func()) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	fn()
}

// WithRead runs fn holding the read lock (shared). Never hold this across
// a device-lock block.
func (s *Session) WithRead(fn func()) {
	s.writeLock.RLock()
	defer s.writeLock.RUnlock()
	fn()
}

// WriteMessage serializes fn — an outbound DVC write — under the message
// lock. The write lock must never be held across this call; callers must
// not invoke WriteMessage from within WithWrite/WithRead.
func (s *Session) WriteMessage(fn func() error) error {
	s.msgLock.Lock()
	defer s.msgLock.Unlock()
	return fn()
}

// CurrentSink returns the session's current-sink pointer: at most one
// device's sink is referenced at any time.
func (s *Session) CurrentSink() Sink {
	s.writeLock.RLock()
	defer s.writeLock.RUnlock()
	return s.currentSink
}

// BindSink atomically rebinds the current-sink pointer. Must be called while
// already holding the write lock (e.g. from within WithWrite), so that
// reassignment happens under the write lock alongside the device's own
// state transition.
func (s *Session) BindSink(sink Sink) {
	s.currentSink = sink
}

// UnbindSink clears the current-sink pointer if it currently points at sink,
// called while holding the write lock.
func (s *Session) UnbindSink(sink Sink) {
	if s.currentSink != nil && sink != nil && s.currentSink.ID() == sink.ID() {
		s.currentSink = nil
	}
}

// Capabilities returns a snapshot copy of the device-capability registry.
func (s *Session) Capabilities() []DeviceCapability {
	s.writeLock.RLock()
	defer s.writeLock.RUnlock()
	out := make([]DeviceCapability, len(s.capabilities))
	copy(out, s.capabilities)
	return out
}

// Dirty reports whether a reconciliation sweep is pending.
func (s *Session) Dirty() bool {
	s.writeLock.RLock()
	defer s.writeLock.RUnlock()
	return s.dirty
}

// ClearDirty clears the dirty flag. Must be called while holding the write
// lock, at the end of a reconciliation sweep.
func (s *Session) ClearDirty() {
	s.dirty = false
}

// UpdateCapabilities implements the inbound Collaborator API: replaces the
// device-capability registry and sets the dirty flag, then schedules a
// (rate-limited, coalesced) reconciliation sweep.
func (s *Session) UpdateCapabilities(list []DeviceCapability) {
	s.writeLock.Lock()
	s.capabilities = append([]DeviceCapability(nil), list...)
	s.dirty = true
	reconciler := s.reconciler
	s.writeLock.Unlock()

	if reconciler == nil {
		return
	}

	s.reconcile.Schedule(func() {
		reconciler(s.Capabilities())
	})
}

// ReconcileStats exposes the reconciliation queue's activity counters.
func (s *Session) ReconcileStats() ReconcileStats {
	return s.reconcile.Stats()
}
