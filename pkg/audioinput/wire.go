package audioinput

import (
	"encoding/binary"
	"fmt"
)

// Message IDs for the AUDIO_INPUT DVC, matching the real MS-RDPEA SNDIN_*
// PDU identifiers.
type MessageID byte

const (
	MsgVersion      MessageID = 0x01
	MsgFormats      MessageID = 0x02
	MsgOpen         MessageID = 0x03
	MsgOpenReply    MessageID = 0x04
	MsgDataIncoming MessageID = 0x05
	MsgData         MessageID = 0x06
	MsgFormatChange MessageID = 0x07
)

// ProtocolVersion is the only SNDIN version this plane negotiates.
const ProtocolVersion uint32 = 1

// waveFormatLen is the size of one WAVEFORMATEX-style PCM descriptor:
// wFormatTag(2) nChannels(2) nSamplesPerSec(4) nAvgBytesPerSec(4)
// nBlockAlign(2) wBitsPerSample(2) cbSize(2)=0.
const waveFormatLen = 18

const waveFormatTagPCM uint16 = 1

// marshalWaveFormat encodes one PCM WAVEFORMATEX descriptor.
func marshalWaveFormat(f Format) []byte {
	blockAlign := f.Channels * f.Bps
	avgBytesPerSec := f.Rate * blockAlign

	buf := make([]byte, waveFormatLen)
	binary.LittleEndian.PutUint16(buf[0:2], waveFormatTagPCM)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(f.Rate))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(avgBytesPerSec))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[14:16], uint16(f.Bps*8))
	binary.LittleEndian.PutUint16(buf[16:18], 0)
	return buf
}

func parseWaveFormat(buf []byte) (Format, error) {
	if len(buf) < waveFormatLen {
		return Format{}, fmt.Errorf("audioinput: short WAVEFORMATEX descriptor (%d bytes)", len(buf))
	}
	tag := binary.LittleEndian.Uint16(buf[0:2])
	if tag != waveFormatTagPCM {
		return Format{}, fmt.Errorf("audioinput: unsupported format tag 0x%04X", tag)
	}
	channels := int(binary.LittleEndian.Uint16(buf[2:4]))
	rate := int(binary.LittleEndian.Uint32(buf[4:8]))
	bits := int(binary.LittleEndian.Uint16(buf[14:16]))
	if bits != 8 && bits != 16 {
		return Format{}, fmt.Errorf("audioinput: unsupported bit depth %d", bits)
	}
	return Format{Rate: rate, Channels: channels, Bps: bits / 8}, nil
}

// BuildVersionPDU builds `[0x01][version(4)]`.
func BuildVersionPDU() []byte {
	buf := []byte{byte(MsgVersion), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(buf[1:], ProtocolVersion)
	return buf
}

// ParseVersionPDU decodes the 4-byte version field following the message id.
func ParseVersionPDU(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("audioinput: short VersionPDU payload (%d bytes)", len(payload))
	}
	return binary.LittleEndian.Uint32(payload[0:4]), nil
}

// BuildFormatsPDU builds `[0x02][num_formats(4)][format...]*`.
func BuildFormatsPDU(formats []Format) []byte {
	buf := make([]byte, 1, 5+len(formats)*waveFormatLen)
	buf[0] = byte(MsgFormats)
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(formats)))
	buf = append(buf, countBuf...)
	for _, f := range formats {
		buf = append(buf, marshalWaveFormat(f)...)
	}
	return buf
}

// ParseFormatsPDU decodes the format list following the message id.
func ParseFormatsPDU(payload []byte) ([]Format, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("audioinput: short FormatsPDU payload (%d bytes)", len(payload))
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	payload = payload[4:]

	formats := make([]Format, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(payload) < waveFormatLen {
			return nil, fmt.Errorf("audioinput: truncated format list (wanted %d, got %d)", count, i)
		}
		f, err := parseWaveFormat(payload[:waveFormatLen])
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
		payload = payload[waveFormatLen:]
	}
	return formats, nil
}

// ParseOpenPDU decodes `[0x03][frames_per_packet(4)][format_index(2)]`.
func ParseOpenPDU(payload []byte) (framesPerPacket int, formatIndex uint16, err error) {
	if len(payload) < 6 {
		return 0, 0, fmt.Errorf("audioinput: short OpenPDU payload (%d bytes)", len(payload))
	}
	return int(binary.LittleEndian.Uint32(payload[0:4])), binary.LittleEndian.Uint16(payload[4:6]), nil
}

// BuildOpenReplyPDU builds `[0x04][result(4)]` (0 = success).
func BuildOpenReplyPDU(result uint32) []byte {
	buf := []byte{byte(MsgOpenReply), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(buf[1:], result)
	return buf
}

// BuildDataIncomingPDU builds the empty `[0x05]` announcement PDU.
func BuildDataIncomingPDU() []byte {
	return []byte{byte(MsgDataIncoming)}
}

// BuildDataPDU builds `[0x06]` + raw PCM payload.
func BuildDataPDU(payload []byte) []byte {
	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, byte(MsgData))
	buf = append(buf, payload...)
	return buf
}
