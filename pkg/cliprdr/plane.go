// Package cliprdr implements the CLIPRDR clipboard plane: format
// negotiation, CP1252/UTF-16LE transcoding, and a bounded clipboard buffer
// shared between the RDP peer and the Collaborator's browser-side
// clipboard.
//
// State transitions and the preserved "unsupported format -> log and send
// nothing" quirk follow the guac_rdp_process_cb_* handler family.
package cliprdr

import (
	"fmt"
	"sync"

	"github.com/guacrelay/rdpdvc/pkg/logger"
	"github.com/guacrelay/rdpdvc/pkg/router"
	"github.com/guacrelay/rdpdvc/pkg/session"
)

// Transport is the outbound write boundary this plane writes DVC messages
// through.
type Transport interface {
	WriteChannel(channelName string, payload []byte) error
}

// Plane is the Clipboard Plane. There is exactly one CLIPRDR channel per
// session.
type Plane struct {
	sess      *session.Session
	router    *router.Router
	log       *logger.Logger
	transport Transport
	maxLength int

	mu              sync.Mutex
	buffer          string // UTF-8, the authoritative clipboard content
	requestedFormat uint32 // single small-integer slot; no queue
	hasRequested    bool
}

// NewPlane constructs the Clipboard Plane and registers it on the router.
func NewPlane(sess *session.Session, rtr *router.Router, log *logger.Logger, transport Transport, maxLength int) (*Plane, error) {
	p := &Plane{
		sess:      sess,
		router:    rtr,
		log:       log,
		transport: transport,
		maxLength: maxLength,
	}
	if err := rtr.RegisterListener(ChannelName, p); err != nil {
		return nil, err
	}
	return p, nil
}

// OnOpen implements router.Plane.
func (p *Plane) OnOpen(channelName string) (any, error) {
	return nil, nil
}

// OnData implements router.Plane.
func (p *Plane) OnData(_ any, channelName string, payload []byte) error {
	hdr, body, err := ParseHeader(payload)
	if err != nil {
		return err
	}

	switch hdr.Type {
	case MsgMonitorReady:
		return p.handleMonitorReady(channelName)
	case MsgFormatList:
		return p.handleFormatList(channelName, body)
	case MsgFormatDataRequest:
		return p.handleDataRequest(channelName, body)
	case MsgFormatDataResponse:
		return p.handleDataResponse(body)
	default:
		p.log.DebugCLIPRDR("unhandled message", "message_type", fmt.Sprintf("0x%04X", hdr.Type))
		return nil
	}
}

// OnClose implements router.Plane.
func (p *Plane) OnClose(_ any, channelName string) error {
	return nil
}

// handleMonitorReady advertises the two supported formats: on receipt of
// MonitorReady, advertise CP1252 plain text + UTF-16.
func (p *Plane) handleMonitorReady(channelName string) error {
	return p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildFormatListPDU(
			[]uint32{FormatText, FormatUnicodeText},
			[]string{"", ""},
		))
	})
}

// handleFormatList implements the peer-format-list response: prefer
// UTF-16 over CP1252, request that format.
func (p *Plane) handleFormatList(channelName string, body []byte) error {
	ids, err := ParseFormatListPDU(body)
	if err != nil {
		return err
	}

	if err := p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildFormatListResponsePDU())
	}); err != nil {
		return err
	}

	var haveText, haveUnicode bool
	for _, id := range ids {
		switch id {
		case FormatText:
			haveText = true
		case FormatUnicodeText:
			haveUnicode = true
		}
	}

	var requested uint32
	switch {
	case haveUnicode:
		requested = FormatUnicodeText
	case haveText:
		requested = FormatText
	default:
		p.log.DebugCLIPRDR("ignoring unsupported clipboard data: no CP1252/UTF-16 format offered")
		return nil
	}

	p.mu.Lock()
	p.requestedFormat = requested
	p.hasRequested = true
	p.mu.Unlock()

	return p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildFormatDataRequestPDU(requested))
	})
}

// handleDataRequest transcodes the current clipboard buffer to the
// requested charset and replies with DataResponse. An unsupported requested
// format is answered by logging and sending nothing — a known quirk
// preserved from the original handler.
func (p *Plane) handleDataRequest(channelName string, body []byte) error {
	formatID, err := ParseFormatDataRequestPDU(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	text := p.buffer
	p.mu.Unlock()

	var encoded []byte
	switch formatID {
	case FormatText:
		encoded, err = EncodeCP1252(text, p.maxLength)
	case FormatUnicodeText:
		encoded, err = EncodeUTF16LE(text, p.maxLength)
	default:
		p.log.Error("cliprdr: peer requested unsupported clipboard data type", "format_id", formatID)
		return nil
	}
	if err != nil {
		p.log.Warn("cliprdr: transcode to peer format failed", "format_id", formatID, "error", err)
		return nil
	}

	return p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildFormatDataResponsePDU(encoded))
	})
}

// handleDataResponse transcodes the inbound payload to UTF-8 using the
// format recorded by the last DataRequest this plane sent, replaces the
// clipboard buffer, and forwards the new content to the Collaborator.
func (p *Plane) handleDataResponse(body []byte) error {
	p.mu.Lock()
	formatID := p.requestedFormat
	hasRequested := p.hasRequested
	p.mu.Unlock()

	if !hasRequested {
		p.log.Error("cliprdr: received DataResponse with no outstanding request")
		return nil
	}

	var text string
	var err error
	switch formatID {
	case FormatText:
		text, err = DecodeCP1252(body)
	case FormatUnicodeText:
		text, err = DecodeUTF16LE(body)
	default:
		p.log.Error("cliprdr: requested clipboard data in unsupported format", "format_id", formatID)
		return nil
	}
	if err != nil {
		p.log.Warn("cliprdr: transcode from peer format failed", "format_id", formatID, "error", err)
		return nil
	}

	if len(text) > p.maxLength {
		text = text[:p.maxLength]
	}

	p.mu.Lock()
	p.buffer = text
	p.mu.Unlock()

	if p.sess.Collab == nil {
		return nil
	}
	return p.sess.Collab.SendClipboard("text/plain", text)
}

// SetClipboard replaces the clipboard buffer from the Collaborator side
// (browser clipboard changed) and advertises the update to the peer via a
// fresh FormatList, per the same negotiation MonitorReady triggers.
func (p *Plane) SetClipboard(channelName, text string) error {
	if len(text) > p.maxLength {
		text = text[:p.maxLength]
	}

	p.mu.Lock()
	p.buffer = text
	p.mu.Unlock()

	return p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildFormatListPDU(
			[]uint32{FormatText, FormatUnicodeText},
			[]string{"", ""},
		))
	})
}
