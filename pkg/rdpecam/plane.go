package rdpecam

import (
	"fmt"
	"sync"
	"time"

	"github.com/guacrelay/rdpdvc/pkg/config"
	"github.com/guacrelay/rdpdvc/pkg/logger"
	"github.com/guacrelay/rdpdvc/pkg/router"
	"github.com/guacrelay/rdpdvc/pkg/session"
)

// enumeratorDevice is the router.Plane device handle returned for the
// enumerator channel; it carries no per-channel state of its own.
type enumeratorDevice struct{}

// CameraPlane implements router.Plane and owns the device table, per-device
// sender goroutines, and the reconciliation sweep registered as the
// session's reconciler.
//
// The device table is guarded by its own RWMutex rather than Session State's
// write lock: the write lock must never be held across a WriteMessage call,
// and reconciliation needs to interleave capability bookkeeping with
// outbound writes. Using a plane-local lock for table membership, and
// Session State's write lock only for the capability registry/current-sink
// pointer it actually owns, keeps both rules intact.
type CameraPlane struct {
	sess      *session.Session
	router    *router.Router
	cfg       *config.Config
	log       *logger.Logger
	transport Transport

	mu          sync.RWMutex
	devices     map[string]*Device // keyed by channel name
	bySlot      map[int]*Device
	byBrowserID map[string]int // browser device id -> slot
	nextSlot    int

	enumOpen   bool
	enumReady  bool
	activeSlot int
	hasActive  bool
}

// NewCameraPlane constructs the Camera Plane, pre-registers the enumerator
// channel and the slot-0 device channel (slot 0 is pre-registered at
// startup), and registers itself as the session's reconciler.
func NewCameraPlane(sess *session.Session, rtr *router.Router, cfg *config.Config, log *logger.Logger, transport Transport) (*CameraPlane, error) {
	p := &CameraPlane{
		sess:        sess,
		router:      rtr,
		cfg:         cfg,
		log:         log,
		transport:   transport,
		devices:     make(map[string]*Device),
		bySlot:      make(map[int]*Device),
		byBrowserID: make(map[string]int),
		nextSlot:    0,
	}

	if err := rtr.RegisterListener(EnumeratorChannelName, p); err != nil {
		return nil, err
	}

	slot0Name := DeviceChannelName(0)
	slot0 := NewDevice(slot0Name, 0, "", "", NewSink(slot0Name, cfg.MaxQueuedFrames, log))
	p.devices[slot0Name] = slot0
	p.bySlot[0] = slot0
	if err := rtr.RegisterListener(slot0Name, p); err != nil {
		return nil, err
	}

	sess.SetReconciler(p.reconcile)
	return p, nil
}

// OnOpen implements router.Plane.
func (p *CameraPlane) OnOpen(channelName string) (any, error) {
	if channelName == EnumeratorChannelName {
		p.mu.Lock()
		p.enumOpen = true
		p.mu.Unlock()

		if err := p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(EnumeratorChannelName, BuildSelectVersionRequest())
		}); err != nil {
			p.log.Warn("rdpecam: failed to send SelectVersionRequest", "error", err)
		}
		return enumeratorDevice{}, nil
	}

	p.mu.RLock()
	dev, ok := p.devices[channelName]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rdpecam: channel %q has no provisioned device", channelName)
	}

	if firstOpen := dev.Open(); firstOpen {
		dev.WaitGroup().Add(1)
		go p.runSender(dev)
	}
	return dev, nil
}

// OnData implements router.Plane: dispatches by message ID.
func (p *CameraPlane) OnData(device any, channelName string, payload []byte) error {
	hdr, body, err := ParseHeader(payload)
	if err != nil {
		return err
	}

	if _, isEnum := device.(enumeratorDevice); isEnum {
		return p.onEnumeratorData(hdr, body)
	}

	dev, ok := device.(*Device)
	if !ok {
		return fmt.Errorf("rdpecam: unexpected device handle type on channel %q", channelName)
	}
	return p.onDeviceData(dev, channelName, hdr, body)
}

func (p *CameraPlane) onEnumeratorData(hdr Header, body []byte) error {
	switch hdr.ID {
	case MsgSelectVersionResponse:
		if hdr.Version != ProtocolVersion {
			p.log.Warn("rdpecam: SelectVersionResponse version mismatch", "version", hdr.Version)
		}
		p.mu.Lock()
		p.enumReady = true
		p.mu.Unlock()
		p.log.DebugRDPECAM("enumerator ready")
	default:
		p.log.DebugRDPECAM("unhandled enumerator message", "message_id", fmt.Sprintf("0x%02X", hdr.ID))
	}
	return nil
}

func (p *CameraPlane) onDeviceData(dev *Device, channelName string, hdr Header, body []byte) error {
	switch hdr.ID {
	case MsgActivateDeviceRequest:
		return p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(channelName, BuildSuccessResponse())
		})

	case MsgDeactivateDeviceRequest:
		dev.Lock()
		streamingHere := dev.streaming && dev.hasStreamChannel && dev.streamChannelName == channelName
		dev.Unlock()
		if streamingHere {
			return p.handleStopStreams(dev, channelName)
		}
		return p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(channelName, BuildSuccessResponse())
		})

	case MsgStreamListRequest:
		streams := []StreamDescriptor{{
			FrameSourceType: uint16(StreamFrameSourceTypeColor),
			Category:        StreamCategoryCapture,
			Selected:        1,
			CanBeShared:     0,
		}}
		return p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(channelName, BuildStreamListResponse(streams))
		})

	case MsgMediaTypeListRequest, MsgCurrentMediaTypeRequest:
		descriptor := p.currentMediaType(dev)
		payload := BuildMediaTypeListResponse(0, []MediaDescriptor{descriptor})
		if hdr.ID == MsgCurrentMediaTypeRequest {
			payload = BuildCurrentMediaTypeResponse(0, descriptor)
		}
		return p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(channelName, payload)
		})

	case MsgStartStreamsRequest:
		return p.handleStartStreams(dev, channelName, body)

	case MsgStopStreamsRequest:
		return p.handleStopStreams(dev, channelName)

	case MsgSampleRequest:
		streamIndex, err := ParseSampleRequest(body)
		if err != nil {
			return err
		}
		_ = streamIndex
		dev.GrantCredit(p.cfg.SampleCreditsPerRequest)
		return nil

	case MsgPropertyListRequest:
		return p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(channelName, BuildPropertyListResponse())
		})

	case MsgPropertyValueRequest:
		propertyID, err := ParsePropertyValueRequest(body)
		if err != nil {
			return err
		}
		return p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(channelName, BuildPropertyValueResponse(propertyID))
		})

	case MsgSetPropertyValueRequest:
		if _, err := ParseSetPropertyValueRequest(body); err != nil {
			return err
		}
		return p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(channelName, BuildSuccessResponse())
		})

	default:
		p.log.DebugRDPECAM("unhandled device message", "channel", channelName, "message_id", fmt.Sprintf("0x%02X", hdr.ID))
		return nil
	}
}

func (p *CameraPlane) currentMediaType(dev *Device) MediaDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()

	width, height, num, den := p.cfg.DefaultWidth, p.cfg.DefaultHeight, p.cfg.DefaultFPSNum, p.cfg.DefaultFPSDen
	_ = dev
	return MediaDescriptor{
		Format:       MediaFormatH264,
		Width:        width,
		Height:       height,
		FPSNumerator: num,
		FPSDenom:     den,
		PARNum:       1,
		PARDenom:     1,
		Flags:        MediaTypeFlagDecodingRequired,
	}
}

// handleStartStreams implements the READY -> STREAMING transition and the
// camera-switch invariant: only one device may be the active sender at a
// time, so switching cameras stops the previous active device before the
// new one starts streaming.
func (p *CameraPlane) handleStartStreams(dev *Device, channelName string, body []byte) error {
	streamIndex, descriptor, err := ParseStartStreamsRequest(body)
	if err != nil {
		return err
	}
	if streamIndex != 0 {
		return fmt.Errorf("rdpecam: unsupported stream index %d", streamIndex)
	}

	p.sess.WithWrite(func() {
		p.mu.Lock()
		var previouslyActive *Device
		if p.hasActive && p.activeSlot != dev.Slot {
			previouslyActive = p.bySlot[p.activeSlot]
		}
		p.activeSlot = dev.Slot
		p.hasActive = true
		p.mu.Unlock()

		if previouslyActive != nil {
			previouslyActive.StopAsInactive()
		}

		dev.BeginStreaming(streamIndex, descriptor)
		p.sess.BindSink(dev.Sink)
	})

	dev.SetStreamChannel(channelName)

	if err := p.sess.Collab.SendArgv("camera-start", fmt.Sprintf("%dx%d@%d/%d#%d#%s",
		descriptor.Width, descriptor.Height, descriptor.FPSNumerator, descriptor.FPSDenom,
		streamIndex, dev.BrowserDeviceID)); err != nil {
		p.log.Warn("rdpecam: camera-start signal failed", "error", err)
	}

	return p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildSuccessResponse())
	})
}

// handleStopStreams implements the STREAMING -> STOPPING transition:
// drains outstanding credits with SampleErrorResponse before the final
// SuccessResponse.
func (p *CameraPlane) handleStopStreams(dev *Device, channelName string) error {
	creditsAtStop, wasActiveSender := dev.BeginStopping()

	p.sess.WithWrite(func() {
		p.sess.UnbindSink(dev.Sink)
	})

	p.mu.Lock()
	if p.activeSlot == dev.Slot {
		p.hasActive = false
	}
	p.mu.Unlock()

	streamIndex := dev.StreamIndex()
	for i := uint32(0); i < creditsAtStop; i++ {
		if err := p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(channelName, BuildSampleErrorResponse(streamIndex))
		}); err != nil {
			p.log.Warn("rdpecam: SampleErrorResponse write failed", "error", err)
		}
	}

	if wasActiveSender {
		if err := p.sess.Collab.SendArgv("camera-stop", ""); err != nil {
			p.log.Warn("rdpecam: camera-stop signal failed", "error", err)
		}
	}

	return p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildSuccessResponse())
	})
}

// OnClose implements router.Plane: decrements the device's ref count and
// tears it down once unreferenced (any state -> CLOSED).
func (p *CameraPlane) OnClose(device any, channelName string) error {
	if _, isEnum := device.(enumeratorDevice); isEnum {
		p.mu.Lock()
		p.enumOpen = false
		p.enumReady = false
		p.mu.Unlock()
		return nil
	}

	dev, ok := device.(*Device)
	if !ok {
		return fmt.Errorf("rdpecam: unexpected device handle type on close of %q", channelName)
	}

	if dev.Close() {
		dev.Sink.SignalStop()
		dev.WaitGroup().Wait()

		p.sess.WithWrite(func() {
			p.sess.UnbindSink(dev.Sink)
		})
	}
	return nil
}

// reconcile flushes stale device advertisements and re-provisions device
// channels against the current capability registry. Registered as the
// session's reconciler.
func (p *CameraPlane) reconcile(caps []session.DeviceCapability) {
	for slot := 0; slot <= MaxReconciliationSlot; slot++ {
		channelName := DeviceChannelName(slot)
		if err := p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(EnumeratorChannelName, BuildDeviceRemovedNotification(channelName))
		}); err != nil {
			p.log.Warn("rdpecam: DeviceRemovedNotification write failed", "channel", channelName, "error", err)
		}
	}

	p.mu.Lock()
	stale := make([]*Device, 0, len(p.bySlot))
	for slot, dev := range p.bySlot {
		if slot == 0 {
			continue
		}
		stale = append(stale, dev)
		delete(p.bySlot, slot)
		delete(p.devices, dev.ChannelName)
		p.router.UnregisterListener(dev.ChannelName)
	}
	p.byBrowserID = make(map[string]int)
	p.nextSlot = 0
	p.mu.Unlock()

	for _, dev := range stale {
		dev.Lock()
		dev.stopping = true
		dev.cond.Broadcast()
		dev.Unlock()
		dev.Sink.SignalStop()
		dev.WaitGroup().Wait()
	}

	for _, c := range caps {
		p.assignSlot(c)
	}

	p.sess.WithWrite(func() {
		p.sess.ClearDirty()
	})
}

func (p *CameraPlane) assignSlot(c session.DeviceCapability) {
	p.mu.Lock()
	slot := p.nextSlot
	p.nextSlot++

	var channelName string
	var dev *Device

	if slot == 0 {
		dev = p.bySlot[0]
		channelName = dev.ChannelName
	} else {
		channelName = DeviceChannelName(slot)
		sink := NewSink(channelName, p.cfg.MaxQueuedFrames, p.log)
		dev = NewDevice(channelName, slot, c.BrowserDeviceID, c.DeviceName, sink)
		p.devices[channelName] = dev
		p.bySlot[slot] = dev
	}
	dev.BrowserDeviceID = c.BrowserDeviceID
	dev.DeviceName = c.DeviceName
	p.byBrowserID[c.BrowserDeviceID] = slot
	p.mu.Unlock()

	if slot > 0 {
		if err := p.router.RegisterListener(channelName, p); err != nil {
			p.log.Warn("rdpecam: failed to register device listener", "channel", channelName, "error", err)
			return
		}
	}

	if err := p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(EnumeratorChannelName, BuildDeviceAddedNotification(c.DeviceName, channelName))
	}); err != nil {
		p.log.Warn("rdpecam: DeviceAddedNotification write failed", "channel", channelName, "error", err)
	}
}

// runSender is the per-device sender goroutine: it waits for a queued frame
// and a spendable credit, then writes a SampleResponse.
func (p *CameraPlane) runSender(dev *Device) {
	defer dev.WaitGroup().Done()

	var processed, dropped uint64
	lastLog := time.Now()

	for {
		dev.Lock()
		for !dev.stopping && !(dev.hasStreamChannel && dev.streaming && dev.isActiveSender && dev.credits > 0) {
			dev.cond.Wait()
		}
		if dev.stopping {
			dev.Unlock()
			return
		}

		channelName := dev.streamChannelName
		streamIndex := dev.streamIndex
		dev.sampleSequence++
		dev.Unlock()

		frame, ok := dev.Sink.Pop()
		if !ok {
			continue
		}

		dev.Lock()
		valid := dev.streaming && dev.isActiveSender && dev.hasStreamChannel &&
			(!dev.needKeyframe || frame.Keyframe)
		dev.Unlock()

		if !valid {
			dropped++
			dev.mu.Lock()
			dev.dropped = dropped
			dev.mu.Unlock()
			continue
		}

		payload := BuildSampleResponse(streamIndex, frame.Payload)
		err := p.sess.WriteMessage(func() error {
			return p.transport.WriteChannel(channelName, payload)
		})

		dev.Lock()
		if err != nil {
			dev.Unlock()
			p.log.Warn("rdpecam: sample write failed, stopping device", "channel", channelName, "error", err)
			dev.ClearStreamChannel()
			p.sess.WithWrite(func() {
				p.sess.UnbindSink(dev.Sink)
			})
			continue
		}
		if dev.credits > 0 {
			dev.credits--
		}
		if frame.Keyframe {
			dev.needKeyframe = false
		}
		dev.Unlock()

		processed++
		dev.mu.Lock()
		dev.processed = processed
		dev.mu.Unlock()

		if processed%100 == 0 || time.Since(lastLog) >= 30*time.Second {
			p.log.Debug("rdpecam: sender stats",
				"category", "rdpecam",
				"channel", channelName,
				"processed", processed,
				"dropped", dropped,
				"drop_rate", float64(dropped)/float64(processed+dropped),
				"queue_depth", dev.Sink.Size())
			lastLog = time.Now()
		}
	}
}
