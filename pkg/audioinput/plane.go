package audioinput

import (
	"fmt"
	"sync"

	"github.com/guacrelay/rdpdvc/pkg/logger"
	"github.com/guacrelay/rdpdvc/pkg/router"
	"github.com/guacrelay/rdpdvc/pkg/session"
)

// ChannelName is the fixed AUDIO_INPUT DVC name this plane listens on.
const ChannelName = "AUDIO_INPUT"

// Transport is the outbound write boundary this plane writes DVC messages
// through.
type Transport interface {
	WriteChannel(channelName string, payload []byte) error
}

// preferredFormats are the PCM formats this plane is willing to request of
// the peer, most-preferred first.
var preferredFormats = []Format{
	{Rate: 44100, Channels: 2, Bps: 2},
	{Rate: 44100, Channels: 1, Bps: 2},
	{Rate: 16000, Channels: 1, Bps: 2},
	{Rate: 8000, Channels: 1, Bps: 1},
}

// Plane implements the AUDIO_INPUT dynamic virtual channel. There is
// exactly one AUDIO_INPUT channel per session, so unlike the camera plane
// there is no per-channel device table.
type Plane struct {
	sess      *session.Session
	router    *router.Router
	log       *logger.Logger
	transport Transport
	buffer    *Buffer

	mu          sync.Mutex
	channelName string
	peerFormats []Format
	selected    Format
}

// NewPlane constructs the Audio-Input Plane and registers it on the router.
func NewPlane(sess *session.Session, rtr *router.Router, log *logger.Logger, transport Transport) (*Plane, error) {
	p := &Plane{
		sess:      sess,
		router:    rtr,
		log:       log,
		transport: transport,
	}
	p.buffer = NewBuffer(log, sess.Collab)

	if err := rtr.RegisterListener(ChannelName, p); err != nil {
		return nil, err
	}
	return p, nil
}

// OnOpen implements router.Plane: kicks off version negotiation.
func (p *Plane) OnOpen(channelName string) (any, error) {
	p.mu.Lock()
	p.channelName = channelName
	p.mu.Unlock()

	if err := p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildVersionPDU())
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

// OnData implements router.Plane.
func (p *Plane) OnData(_ any, channelName string, payload []byte) error {
	if len(payload) < 1 {
		return fmt.Errorf("audioinput: empty message")
	}
	id := MessageID(payload[0])
	body := payload[1:]

	switch id {
	case MsgVersion:
		version, err := ParseVersionPDU(body)
		if err != nil {
			return err
		}
		p.log.DebugAudioInput("peer echoed version", "version", version)
		return nil

	case MsgFormats:
		return p.handleFormats(channelName, body)

	case MsgOpen:
		return p.handleOpen(channelName, body)

	default:
		p.log.DebugAudioInput("unhandled message", "message_id", fmt.Sprintf("0x%02X", id))
		return nil
	}
}

// OnClose implements router.Plane.
func (p *Plane) OnClose(_ any, channelName string) error {
	p.buffer.End()
	return nil
}

func (p *Plane) handleFormats(channelName string, body []byte) error {
	formats, err := ParseFormatsPDU(body)
	if err != nil {
		return err
	}

	selected, ok := selectFormat(formats)
	if !ok {
		return fmt.Errorf("audioinput: no acceptable PCM format among %d offered", len(formats))
	}

	p.mu.Lock()
	p.peerFormats = formats
	p.selected = selected
	p.mu.Unlock()

	p.log.DebugAudioInput("selected output format",
		"rate", selected.Rate, "channels", selected.Channels, "bps", selected.Bps)

	return p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildFormatsPDU([]Format{selected}))
	})
}

func (p *Plane) handleOpen(channelName string, body []byte) error {
	framesPerPacket, _, err := ParseOpenPDU(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	selected := p.selected
	p.mu.Unlock()

	p.buffer.SetOutputFormat(selected.Rate, selected.Channels, selected.Bps)
	p.buffer.Begin(framesPerPacket, func(packet []byte) {
		if err := p.sess.WriteMessage(func() error {
			if err := p.transport.WriteChannel(channelName, BuildDataIncomingPDU()); err != nil {
				return err
			}
			return p.transport.WriteChannel(channelName, BuildDataPDU(packet))
		}); err != nil {
			p.log.Warn("audioinput: packet flush write failed", "error", err)
		}
	})

	return p.sess.WriteMessage(func() error {
		return p.transport.WriteChannel(channelName, BuildOpenReplyPDU(0))
	})
}

// PushProducerFormat feeds the producer-declared input PCM format to the
// underlying buffer, e.g. parsed from an "audio/L16;rate=44100;channels=2"
// -style mimetype by the Collaborator.
func (p *Plane) PushProducerFormat(streamRef string, rate, channels, bps int) {
	p.buffer.SetInputFormat(streamRef, rate, channels, bps)
}

// PushProducerData feeds a chunk of producer PCM data into the buffer.
func (p *Plane) PushProducerData(data []byte) {
	p.buffer.Write(data)
}

// selectFormat picks the first of preferredFormats present in offered,
// falling back to the first offered format.
func selectFormat(offered []Format) (Format, bool) {
	for _, pref := range preferredFormats {
		for _, f := range offered {
			if f == pref {
				return f, true
			}
		}
	}
	if len(offered) > 0 {
		return offered[0], true
	}
	return Format{}, false
}
