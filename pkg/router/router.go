// Package router implements the channel router: it multiplexes DVC messages
// by channel name and dispatches open/data/close callbacks to whichever
// plane registered that name. It never interprets payload bytes.
//
// The demultiplex-by-name-then-dispatch shape follows an interleaved-TCP
// reader idiom: route by a small integer/name key. The router itself does
// no framing validation; each plane parses and validates its own payloads.
package router

import (
	"fmt"
	"strings"
	"sync"
)

// Plane is the capability set every DVC plane exposes: on_open, on_data,
// on_close. device is an opaque per-device handle returned by OnOpen and
// passed back unchanged; planes with no per-channel device state return a
// placeholder (the camera plane returns an empty marker value for its
// enumerator channel).
type Plane interface {
	OnOpen(channelName string) (device any, err error)
	OnData(device any, channelName string, payload []byte) error
	OnClose(device any, channelName string) error
}

// Handle identifies one open channel.
type Handle uint64

type openChannel struct {
	handle          Handle
	name            string
	plane           Plane
	device          any
	isStreamChannel bool
}

// Router is the Channel Router.
type Router struct {
	mu         sync.RWMutex
	listeners  map[string]Plane // lower-cased channel name -> plane
	channels   map[Handle]*openChannel
	nextHandle Handle
}

// New constructs an empty Router.
func New() *Router {
	return &Router{
		listeners: make(map[string]Plane),
		channels:  make(map[Handle]*openChannel),
	}
}

// RegisterListener registers a plane as the handler for channelName.
// Channel names are ASCII and case-insensitive for routing comparisons;
// name uniqueness is enforced.
func (r *Router) RegisterListener(channelName string, plane Plane) error {
	key := strings.ToLower(channelName)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.listeners[key]; exists {
		return fmt.Errorf("router: listener already registered for channel %q", channelName)
	}
	r.listeners[key] = plane
	return nil
}

// UnregisterListener removes a previously registered listener, e.g. when a
// camera device's slot is freed during reconciliation.
func (r *Router) UnregisterListener(channelName string) {
	key := strings.ToLower(channelName)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, key)
}

// IsStreamChannel reports whether handle corresponds to the channel that is
// currently carrying payload (as opposed to the control/enumerator channel).
// Set via SetStreamChannel by the plane that owns the distinction.
func (r *Router) IsStreamChannel(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[h]
	return ok && ch.isStreamChannel
}

// SetStreamChannel marks/unmarks handle as the stream-carrying channel.
func (r *Router) SetStreamChannel(h Handle, isStream bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[h]; ok {
		ch.isStreamChannel = isStream
	}
}

// OnChannelOpen allocates a channel-callback record for a newly opened
// channel, locates the registered plane by name, and invokes its Open hook.
// Unknown channel name rejects the open.
func (r *Router) OnChannelOpen(channelName string) (Handle, error) {
	key := strings.ToLower(channelName)

	r.mu.Lock()
	plane, ok := r.listeners[key]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("router: unknown channel %q", channelName)
	}
	r.mu.Unlock()

	device, err := plane.OnOpen(channelName)
	if err != nil {
		return 0, fmt.Errorf("router: open %q: %w", channelName, err)
	}

	r.mu.Lock()
	r.nextHandle++
	h := r.nextHandle
	r.channels[h] = &openChannel{
		handle: h,
		name:   channelName,
		plane:  plane,
		device: device,
	}
	r.mu.Unlock()

	return h, nil
}

// OnChannelData passes payload to the owning plane's Data hook. A malformed
// size header upstream of the router (in the transport framing) closes the
// channel instead of calling this; the router itself never interprets bytes.
func (r *Router) OnChannelData(h Handle, payload []byte) error {
	r.mu.RLock()
	ch, ok := r.channels[h]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("router: unknown channel handle %d", h)
	}

	return ch.plane.OnData(ch.device, ch.name, payload)
}

// OnChannelClose invokes the owning plane's Close hook and frees the record.
func (r *Router) OnChannelClose(h Handle) error {
	r.mu.Lock()
	ch, ok := r.channels[h]
	if ok {
		delete(r.channels, h)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("router: unknown channel handle %d", h)
	}

	return ch.plane.OnClose(ch.device, ch.name)
}

// ChannelName returns the name a handle was opened with, for logging.
func (r *Router) ChannelName(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[h]
	if !ok {
		return "", false
	}
	return ch.name, true
}
