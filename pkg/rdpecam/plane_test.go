package rdpecam

import (
	"sync"
	"testing"
	"time"

	"github.com/guacrelay/rdpdvc/pkg/config"
	"github.com/guacrelay/rdpdvc/pkg/logger"
	"github.com/guacrelay/rdpdvc/pkg/router"
	"github.com/guacrelay/rdpdvc/pkg/session"
)

type recordedWrite struct {
	channelName string
	payload     []byte
}

type recordingTransport struct {
	mu     sync.Mutex
	writes []recordedWrite
}

func (t *recordingTransport) WriteChannel(channelName string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, recordedWrite{channelName, append([]byte{}, payload...)})
	return nil
}

func (t *recordingTransport) writesTo(channelName string, id MessageID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.writes {
		if w.channelName == channelName && len(w.payload) >= 2 && MessageID(w.payload[1]) == id {
			n++
		}
	}
	return n
}

type stubCollaborator struct {
	mu   sync.Mutex
	argv []string
}

func (c *stubCollaborator) SendArgv(kind, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.argv = append(c.argv, kind+"="+value)
	return nil
}
func (c *stubCollaborator) SendAck(string, string, session.AckStatus) error { return nil }
func (c *stubCollaborator) SendClipboard(string, string) error              { return nil }

func newTestPlane(t *testing.T) (*CameraPlane, *session.Session, *recordingTransport) {
	t.Helper()
	cfg := config.Default()
	cfg.ReconcileQueueRatePerMinute = 6000
	log, err := logger.New(logger.NewConfig())
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	sess := session.New(cfg, log, &stubCollaborator{})
	sess.Start()
	t.Cleanup(sess.Stop)

	rtr := router.New()
	transport := &recordingTransport{}
	plane, err := NewCameraPlane(sess, rtr, cfg, log, transport)
	if err != nil {
		t.Fatalf("NewCameraPlane() error = %v", err)
	}
	return plane, sess, transport
}

func startStreamsPayload(streamIndex byte, descriptor MediaDescriptor) []byte {
	buf := append([]byte{}, MarshalHeader(MsgStartStreamsRequest)...)
	buf = append(buf, streamIndex)
	buf = append(buf, descriptor.Marshal()...)
	return buf
}

func stopStreamsPayload() []byte {
	return MarshalHeader(MsgStopStreamsRequest)
}

func TestOnOpenEnumeratorSendsSelectVersionRequest(t *testing.T) {
	plane, _, transport := newTestPlane(t)

	device, err := plane.OnOpen(EnumeratorChannelName)
	if err != nil {
		t.Fatalf("OnOpen() error = %v", err)
	}
	if _, ok := device.(enumeratorDevice); !ok {
		t.Fatalf("OnOpen() device = %T, want enumeratorDevice", device)
	}

	if n := transport.writesTo(EnumeratorChannelName, MsgSelectVersionRequest); n != 1 {
		t.Errorf("SelectVersionRequest writes = %d, want 1", n)
	}
}

func TestOnOpenUnprovisionedDeviceChannelErrors(t *testing.T) {
	plane, _, _ := newTestPlane(t)
	if _, err := plane.OnOpen(DeviceChannelName(7)); err == nil {
		t.Fatal("OnOpen() on unprovisioned slot = nil error, want error")
	}
}

func TestReconcileProvisionsDeviceChannel(t *testing.T) {
	plane, sess, transport := newTestPlane(t)

	caps := []session.DeviceCapability{{BrowserDeviceID: "cam1", DeviceName: "Webcam 1"}}
	done := make(chan struct{})
	sess.SetReconciler(func(c []session.DeviceCapability) {
		plane.reconcile(c)
		close(done)
	})
	sess.UpdateCapabilities(caps)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconcile never ran")
	}

	channelName := DeviceChannelName(0)
	device, err := plane.OnOpen(channelName)
	if err != nil {
		t.Fatalf("OnOpen() on provisioned slot 0 error = %v", err)
	}
	dev, ok := device.(*Device)
	if !ok || dev.BrowserDeviceID != "cam1" {
		t.Fatalf("OnOpen() device = %+v, want *Device with BrowserDeviceID cam1", device)
	}

	if n := transport.writesTo(EnumeratorChannelName, MsgDeviceAddedNotification); n != 1 {
		t.Errorf("DeviceAddedNotification writes = %d, want 1", n)
	}
}

func TestStartStreamsTransitionsToStreamingAndAcksSuccess(t *testing.T) {
	plane, _, transport := newTestPlane(t)

	channelName := DeviceChannelName(0)
	device, err := plane.OnOpen(channelName)
	if err != nil {
		t.Fatalf("OnOpen() error = %v", err)
	}
	dev := device.(*Device)
	dev.MarkReady()

	descriptor := MediaDescriptor{Format: MediaFormatH264, Width: 640, Height: 480, FPSNumerator: 30, FPSDenom: 1}
	if err := plane.OnData(dev, channelName, startStreamsPayload(0, descriptor)); err != nil {
		t.Fatalf("OnData(StartStreamsRequest) error = %v", err)
	}

	if dev.State() != StateStreaming {
		t.Errorf("device state = %v, want %v", dev.State(), StateStreaming)
	}
	if n := transport.writesTo(channelName, MsgSuccessResponse); n != 1 {
		t.Errorf("SuccessResponse writes = %d, want 1", n)
	}
}

// TestCameraSwitchInvariant exercises the camera-switch rule: starting
// streams on a second device deactivates the first without it going through
// the full StopStreams credit-drain sequence.
func TestCameraSwitchInvariant(t *testing.T) {
	plane, sess, transport := newTestPlane(t)

	caps := []session.DeviceCapability{
		{BrowserDeviceID: "cam1", DeviceName: "Webcam 1"},
		{BrowserDeviceID: "cam2", DeviceName: "Webcam 2"},
	}
	plane.reconcile(caps)

	chan1, chan2 := DeviceChannelName(0), DeviceChannelName(1)
	dev1Any, err := plane.OnOpen(chan1)
	if err != nil {
		t.Fatalf("OnOpen(%q) error = %v", chan1, err)
	}
	dev2Any, err := plane.OnOpen(chan2)
	if err != nil {
		t.Fatalf("OnOpen(%q) error = %v", chan2, err)
	}
	dev1, dev2 := dev1Any.(*Device), dev2Any.(*Device)
	dev1.MarkReady()
	dev2.MarkReady()

	descriptor := MediaDescriptor{Format: MediaFormatH264, Width: 640, Height: 480, FPSNumerator: 30, FPSDenom: 1}
	if err := plane.OnData(dev1, chan1, startStreamsPayload(0, descriptor)); err != nil {
		t.Fatalf("OnData(StartStreams dev1) error = %v", err)
	}
	if got := sess.CurrentSink(); got == nil || got.ID() != dev1.Sink.ID() {
		t.Fatalf("CurrentSink() after dev1 start = %v, want dev1's sink", got)
	}

	if err := plane.OnData(dev2, chan2, startStreamsPayload(0, descriptor)); err != nil {
		t.Fatalf("OnData(StartStreams dev2) error = %v", err)
	}

	// Only one device may be STREAMING/active-sender at a time.
	if dev1.streaming || dev1.isActiveSender {
		t.Error("dev1 still marked streaming/active after camera switch to dev2")
	}
	if !dev2.streaming || !dev2.isActiveSender {
		t.Error("dev2 not marked streaming/active after camera switch")
	}
	if got := sess.CurrentSink(); got == nil || got.ID() != dev2.Sink.ID() {
		t.Fatalf("CurrentSink() after camera switch = %v, want dev2's sink", got)
	}

	// StopAsInactive must not have drained credits via SampleErrorResponse.
	if n := transport.writesTo(chan1, MsgSampleErrorResponse); n != 0 {
		t.Errorf("SampleErrorResponse writes on deactivated dev1 = %d, want 0 (camera switch is not a full stop)", n)
	}
}

func TestStopStreamsDrainsOutstandingCredits(t *testing.T) {
	plane, _, transport := newTestPlane(t)

	channelName := DeviceChannelName(0)
	device, err := plane.OnOpen(channelName)
	if err != nil {
		t.Fatalf("OnOpen() error = %v", err)
	}
	dev := device.(*Device)
	dev.MarkReady()

	descriptor := MediaDescriptor{Format: MediaFormatH264, Width: 640, Height: 480, FPSNumerator: 30, FPSDenom: 1}
	if err := plane.OnData(dev, channelName, startStreamsPayload(0, descriptor)); err != nil {
		t.Fatalf("OnData(StartStreamsRequest) error = %v", err)
	}

	// Grant a credit via a SampleRequest before stopping.
	sampleRequest := append(MarshalHeader(MsgSampleRequest), 0x00)
	if err := plane.OnData(dev, channelName, sampleRequest); err != nil {
		t.Fatalf("OnData(SampleRequest) error = %v", err)
	}

	if err := plane.OnData(dev, channelName, stopStreamsPayload()); err != nil {
		t.Fatalf("OnData(StopStreamsRequest) error = %v", err)
	}

	if dev.State() != StateStopping {
		t.Errorf("device state = %v, want %v", dev.State(), StateStopping)
	}
	if n := transport.writesTo(channelName, MsgSampleErrorResponse); n != 1 {
		t.Errorf("SampleErrorResponse writes = %d, want 1 (one outstanding credit drained)", n)
	}
	if n := transport.writesTo(channelName, MsgSuccessResponse); n < 2 {
		t.Errorf("SuccessResponse writes = %d, want at least 2 (StartStreams ack + StopStreams ack)", n)
	}
}

func TestOnCloseTearsDownDeviceOnLastRef(t *testing.T) {
	plane, _, _ := newTestPlane(t)

	channelName := DeviceChannelName(0)
	device, err := plane.OnOpen(channelName)
	if err != nil {
		t.Fatalf("OnOpen() error = %v", err)
	}
	dev := device.(*Device)

	done := make(chan error, 1)
	go func() { done <- plane.OnClose(dev, channelName) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("OnClose() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClose() did not return (sender goroutine join hung)")
	}

	if dev.State() != StateClosed {
		t.Errorf("device state after OnClose() = %v, want %v", dev.State(), StateClosed)
	}
}
