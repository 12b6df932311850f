package cliprdr

import (
	"sync"
	"testing"

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

func (t *recordingTransport) last() recordedWrite {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes[len(t.writes)-1]
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

type stubCollaborator struct {
	mu        sync.Mutex
	clipboard []string
}

func (c *stubCollaborator) SendArgv(string, string) error                   { return nil }
func (c *stubCollaborator) SendAck(string, string, session.AckStatus) error { return nil }
func (c *stubCollaborator) SendClipboard(mimetype, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clipboard = append(c.clipboard, mimetype+":"+data)
	return nil
}

func newTestPlane(t *testing.T) (*Plane, *recordingTransport, *stubCollaborator) {
	t.Helper()
	cfg := config.Default()
	log, err := logger.New(logger.NewConfig())
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	collab := &stubCollaborator{}
	sess := session.New(cfg, log, collab)
	rtr := router.New()
	transport := &recordingTransport{}
	p, err := NewPlane(sess, rtr, log, transport, cfg.ClipboardMaxLength)
	if err != nil {
		t.Fatalf("NewPlane() error = %v", err)
	}
	return p, transport, collab
}

func TestMonitorReadyAdvertisesBothFormats(t *testing.T) {
	p, transport, _ := newTestPlane(t)
	if err := p.OnData(nil, ChannelName, MarshalHeader(MsgMonitorReady, 0, 0)); err != nil {
		t.Fatalf("OnData(MonitorReady) error = %v", err)
	}

	hdr, body, err := ParseHeader(transport.last().payload)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if hdr.Type != MsgFormatList {
		t.Fatalf("reply type = %v, want MsgFormatList", hdr.Type)
	}
	ids, err := ParseFormatListPDU(body)
	if err != nil {
		t.Fatalf("ParseFormatListPDU() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != FormatText || ids[1] != FormatUnicodeText {
		t.Errorf("advertised ids = %v, want [%d %d]", ids, FormatText, FormatUnicodeText)
	}
}

func TestFormatListPrefersUnicodeOverText(t *testing.T) {
	p, transport, _ := newTestPlane(t)

	payload := BuildFormatListPDU([]uint32{FormatText, FormatUnicodeText}, []string{"", ""})
	if err := p.OnData(nil, ChannelName, payload); err != nil {
		t.Fatalf("OnData(FormatList) error = %v", err)
	}

	last := transport.last()
	hdr, body, err := ParseHeader(last.payload)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if hdr.Type != MsgFormatDataRequest {
		t.Fatalf("final write type = %v, want MsgFormatDataRequest", hdr.Type)
	}
	got, err := ParseFormatDataRequestPDU(body)
	if err != nil {
		t.Fatalf("ParseFormatDataRequestPDU() error = %v", err)
	}
	if got != FormatUnicodeText {
		t.Errorf("requested format = %d, want %d (UTF-16 preferred over CP1252)", got, FormatUnicodeText)
	}
}

func TestFormatListWithNoSupportedFormatSendsNothing(t *testing.T) {
	p, transport, _ := newTestPlane(t)

	const formatBitmap uint32 = 9 // some format neither CF_TEXT nor CF_UNICODETEXT
	payload := BuildFormatListPDU([]uint32{formatBitmap}, []string{""})
	if err := p.OnData(nil, ChannelName, payload); err != nil {
		t.Fatalf("OnData(FormatList) error = %v", err)
	}

	// Only the FormatListResponse should have been written — no DataRequest.
	if n := transport.count(); n != 1 {
		t.Fatalf("writes = %d, want 1 (FormatListResponse only)", n)
	}
	hdr, _, err := ParseHeader(transport.last().payload)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if hdr.Type != MsgFormatListResponse {
		t.Errorf("only write type = %v, want MsgFormatListResponse", hdr.Type)
	}
}

func TestDataRequestUnsupportedFormatSendsNothing(t *testing.T) {
	p, transport, _ := newTestPlane(t)

	const unsupportedFormat uint32 = 9
	payload := BuildFormatDataRequestPDU(unsupportedFormat)

	if err := p.OnData(nil, ChannelName, payload); err != nil {
		t.Fatalf("OnData(FormatDataRequest) error = %v", err)
	}
	if n := transport.count(); n != 0 {
		t.Errorf("writes after unsupported DataRequest = %d, want 0 (peer must time out, per the preserved quirk)", n)
	}
}

func TestDataRequestTranscodesBufferToRequestedFormat(t *testing.T) {
	p, transport, _ := newTestPlane(t)

	p.mu.Lock()
	p.buffer = "hello"
	p.mu.Unlock()

	payload := BuildFormatDataRequestPDU(FormatUnicodeText)
	if err := p.OnData(nil, ChannelName, payload); err != nil {
		t.Fatalf("OnData(FormatDataRequest) error = %v", err)
	}

	hdr, body, err := ParseHeader(transport.last().payload)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if hdr.Type != MsgFormatDataResponse {
		t.Fatalf("reply type = %v, want MsgFormatDataResponse", hdr.Type)
	}
	got, err := DecodeUTF16LE(body)
	if err != nil {
		t.Fatalf("DecodeUTF16LE() error = %v", err)
	}
	if got != "hello" {
		t.Errorf("decoded response = %q, want %q", got, "hello")
	}
}

func TestDataResponseUpdatesBufferAndNotifiesCollaborator(t *testing.T) {
	p, _, collab := newTestPlane(t)

	// Prime an outstanding request as handleFormatList would.
	p.mu.Lock()
	p.requestedFormat = FormatUnicodeText
	p.hasRequested = true
	p.mu.Unlock()

	encoded, err := EncodeUTF16LE("clipboard text", 1024)
	if err != nil {
		t.Fatalf("EncodeUTF16LE() error = %v", err)
	}
	payload := BuildFormatDataResponsePDU(encoded)
	if err := p.OnData(nil, ChannelName, payload); err != nil {
		t.Fatalf("OnData(FormatDataResponse) error = %v", err)
	}

	p.mu.Lock()
	buf := p.buffer
	p.mu.Unlock()
	if buf != "clipboard text" {
		t.Errorf("buffer = %q, want %q", buf, "clipboard text")
	}

	if len(collab.clipboard) != 1 || collab.clipboard[0] != "text/plain:clipboard text" {
		t.Errorf("collaborator notifications = %v, want one text/plain:clipboard text entry", collab.clipboard)
	}
}

func TestDataResponseWithNoOutstandingRequestIsIgnored(t *testing.T) {
	p, _, collab := newTestPlane(t)

	payload := BuildFormatDataResponsePDU([]byte("ignored"))
	if err := p.OnData(nil, ChannelName, payload); err != nil {
		t.Fatalf("OnData(FormatDataResponse) error = %v", err)
	}
	if len(collab.clipboard) != 0 {
		t.Errorf("collaborator notifications = %v, want none (no outstanding request)", collab.clipboard)
	}
}

func TestSetClipboardAdvertisesUpdate(t *testing.T) {
	p, transport, _ := newTestPlane(t)

	if err := p.SetClipboard(ChannelName, "new content"); err != nil {
		t.Fatalf("SetClipboard() error = %v", err)
	}

	hdr, _, err := ParseHeader(transport.last().payload)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if hdr.Type != MsgFormatList {
		t.Errorf("SetClipboard() write type = %v, want MsgFormatList", hdr.Type)
	}

	p.mu.Lock()
	buf := p.buffer
	p.mu.Unlock()
	if buf != "new content" {
		t.Errorf("buffer = %q, want %q", buf, "new content")
	}
}
