// Package rdpecam implements the RDPECAM camera plane: a stateful,
// credit-flow-controlled, multi-device video-sample pipeline for the
// RDPECAM dynamic virtual channel.
//
// Wire layouts follow the MS-RDPECAM byte offsets and field widths; the
// per-device state machine and multi-device bookkeeping follow a
// CameraState enum with an RWMutex-guarded device table and a
// mutation-closure update pattern.
package rdpecam

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// ProtocolVersion is the RDPECAM wire version byte on every outbound
// message; the only accepted value on SelectVersionResponse.
const ProtocolVersion byte = 0x02

// MessageID identifies an RDPECAM DVC message.
type MessageID byte

const (
	MsgSuccessResponse           MessageID = 0x01
	MsgSelectVersionRequest      MessageID = 0x03
	MsgSelectVersionResponse     MessageID = 0x04
	MsgDeviceAddedNotification   MessageID = 0x05
	MsgDeviceRemovedNotification MessageID = 0x06
	MsgActivateDeviceRequest     MessageID = 0x07
	MsgDeactivateDeviceRequest   MessageID = 0x08
	MsgStreamListRequest         MessageID = 0x09
	MsgStreamListResponse        MessageID = 0x0A
	MsgMediaTypeListRequest      MessageID = 0x0B
	MsgMediaTypeListResponse     MessageID = 0x0C
	MsgCurrentMediaTypeRequest   MessageID = 0x0D
	MsgCurrentMediaTypeResponse  MessageID = 0x0E
	MsgStartStreamsRequest       MessageID = 0x0F
	MsgStopStreamsRequest        MessageID = 0x10
	MsgSampleRequest             MessageID = 0x11
	MsgSampleResponse            MessageID = 0x12
	MsgSampleErrorResponse       MessageID = 0x13
	MsgPropertyListRequest       MessageID = 0x14
	MsgPropertyListResponse      MessageID = 0x15

	// MsgPropertyValueRequest/Response/SetPropertyValueRequest: implemented
	// minimally since no property actually varies per device: every value
	// request gets a zero-length response, every set request is just
	// acknowledged.
	MsgPropertyValueRequest    MessageID = 0x16
	MsgPropertyValueResponse   MessageID = 0x17
	MsgSetPropertyValueRequest MessageID = 0x18
)

// EnumeratorChannelName is the fixed control channel used for device
// add/remove notifications and version negotiation.
const EnumeratorChannelName = "RDCamera_Device_Enumerator"

// DeviceChannelPrefix is the stable channel-name prefix for device slots,
// e.g. "RDCamera_Device_0".
const DeviceChannelPrefix = "RDCamera_Device_"

// MaxReconciliationSlot is the highest slot swept when flushing stale
// DeviceAddedNotification advertisements during reconciliation. Kept as a
// legacy constant: the sweep itself is a broadcast-to-flush-prior-state
// step, not how the live device table is iterated (that uses a real Go map
// everywhere else).
const MaxReconciliationSlot = 10

// DeviceChannelName formats the stable channel name for a device slot.
func DeviceChannelName(slot int) string {
	return fmt.Sprintf("%s%d", DeviceChannelPrefix, slot)
}

// Header is the two-byte header shared by every RDPECAM message.
type Header struct {
	Version byte
	ID      MessageID
}

// MarshalHeader encodes the two-byte header.
func MarshalHeader(id MessageID) []byte {
	return []byte{ProtocolVersion, byte(id)}
}

// ParseHeader decodes the two-byte header from the front of buf.
func ParseHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < 2 {
		return Header{}, nil, fmt.Errorf("rdpecam: short header (%d bytes)", len(buf))
	}
	return Header{Version: buf[0], ID: MessageID(buf[1])}, buf[2:], nil
}

// MediaDescriptor is the 26-byte media-type descriptor layout.
type MediaDescriptor struct {
	Format       byte
	Width        uint32
	Height       uint32
	FPSNumerator uint32
	FPSDenom     uint32
	PARNum       uint32
	PARDenom     uint32
	Flags        byte
}

// CAM_MEDIA_FORMAT_H264 is the only media format value this core recognizes.
const MediaFormatH264 byte = 1

// MediaTypeFlagDecodingRequired mirrors CAM_MEDIA_TYPE_DESCRIPTION_FLAG_DecodingRequired.
const MediaTypeFlagDecodingRequired byte = 1

const mediaDescriptorLen = 26

// Marshal encodes a MediaDescriptor to its 26-byte little-endian layout.
func (m MediaDescriptor) Marshal() []byte {
	buf := make([]byte, mediaDescriptorLen)
	buf[0] = m.Format
	binary.LittleEndian.PutUint32(buf[1:5], m.Width)
	binary.LittleEndian.PutUint32(buf[5:9], m.Height)
	binary.LittleEndian.PutUint32(buf[9:13], m.FPSNumerator)
	binary.LittleEndian.PutUint32(buf[13:17], m.FPSDenom)
	binary.LittleEndian.PutUint32(buf[17:21], m.PARNum)
	binary.LittleEndian.PutUint32(buf[21:25], m.PARDenom)
	buf[25] = m.Flags
	return buf
}

// ParseMediaDescriptor decodes a 26-byte media-type descriptor.
func ParseMediaDescriptor(buf []byte) (MediaDescriptor, error) {
	if len(buf) < mediaDescriptorLen {
		return MediaDescriptor{}, fmt.Errorf("rdpecam: short media descriptor (%d bytes)", len(buf))
	}
	return MediaDescriptor{
		Format:       buf[0],
		Width:        binary.LittleEndian.Uint32(buf[1:5]),
		Height:       binary.LittleEndian.Uint32(buf[5:9]),
		FPSNumerator: binary.LittleEndian.Uint32(buf[9:13]),
		FPSDenom:     binary.LittleEndian.Uint32(buf[13:17]),
		PARNum:       binary.LittleEndian.Uint32(buf[17:21]),
		PARDenom:     binary.LittleEndian.Uint32(buf[21:25]),
		Flags:        buf[25],
	}, nil
}

// StreamDescriptor is the 5-byte stream descriptor layout.
type StreamDescriptor struct {
	FrameSourceType uint16
	Category        byte
	Selected        byte
	CanBeShared     byte
}

const (
	StreamFrameSourceTypeColor byte = 0x01 // low byte of CAM_STREAM_FRAME_SOURCE_TYPE_Color
	StreamCategoryCapture      byte = 0x01
)

const streamDescriptorLen = 5

// Marshal encodes a StreamDescriptor to its 5-byte little-endian layout.
func (s StreamDescriptor) Marshal() []byte {
	buf := make([]byte, streamDescriptorLen)
	binary.LittleEndian.PutUint16(buf[0:2], s.FrameSourceType)
	buf[2] = s.Category
	buf[3] = s.Selected
	buf[4] = s.CanBeShared
	return buf
}

// ParseStreamDescriptor decodes a 5-byte stream descriptor.
func ParseStreamDescriptor(buf []byte) (StreamDescriptor, error) {
	if len(buf) < streamDescriptorLen {
		return StreamDescriptor{}, fmt.Errorf("rdpecam: short stream descriptor (%d bytes)", len(buf))
	}
	return StreamDescriptor{
		FrameSourceType: binary.LittleEndian.Uint16(buf[0:2]),
		Category:        buf[2],
		Selected:        buf[3],
		CanBeShared:     buf[4],
	}, nil
}

// BuildSuccessResponse builds `[version][0x01]`.
func BuildSuccessResponse() []byte {
	return MarshalHeader(MsgSuccessResponse)
}

// BuildSelectVersionRequest builds `[version][0x03]`.
func BuildSelectVersionRequest() []byte {
	return MarshalHeader(MsgSelectVersionRequest)
}

// BuildDeviceAddedNotification builds the 0x05 payload: UTF-16LE device name
// + NUL, then ASCII channel name + NUL.
func BuildDeviceAddedNotification(deviceName, channelName string) []byte {
	buf := append([]byte{}, MarshalHeader(MsgDeviceAddedNotification)...)

	for _, r := range utf16.Encode([]rune(deviceName)) {
		buf = append(buf, byte(r), byte(r>>8))
	}
	buf = append(buf, 0x00, 0x00) // UTF-16LE NUL terminator

	buf = append(buf, []byte(channelName)...)
	buf = append(buf, 0x00) // ASCII NUL terminator

	return buf
}

// BuildDeviceRemovedNotification builds the 0x06 payload: ASCII channel name
// + NUL.
func BuildDeviceRemovedNotification(channelName string) []byte {
	buf := append([]byte{}, MarshalHeader(MsgDeviceRemovedNotification)...)
	buf = append(buf, []byte(channelName)...)
	buf = append(buf, 0x00)
	return buf
}

// BuildStreamListResponse builds the 0x0A payload from a list of stream
// descriptors.
func BuildStreamListResponse(streams []StreamDescriptor) []byte {
	buf := append([]byte{}, MarshalHeader(MsgStreamListResponse)...)
	for _, s := range streams {
		buf = append(buf, s.Marshal()...)
	}
	return buf
}

// BuildMediaTypeListResponse builds the 0x0C payload: stream index + 26-byte
// descriptors.
func BuildMediaTypeListResponse(streamIndex byte, descriptors []MediaDescriptor) []byte {
	buf := append([]byte{}, MarshalHeader(MsgMediaTypeListResponse)...)
	buf = append(buf, streamIndex)
	for _, d := range descriptors {
		buf = append(buf, d.Marshal()...)
	}
	return buf
}

// BuildCurrentMediaTypeResponse builds the 0x0E payload: stream index +
// 26-byte descriptor.
func BuildCurrentMediaTypeResponse(streamIndex byte, d MediaDescriptor) []byte {
	buf := append([]byte{}, MarshalHeader(MsgCurrentMediaTypeResponse)...)
	buf = append(buf, streamIndex)
	buf = append(buf, d.Marshal()...)
	return buf
}

// BuildSampleResponse builds `[version][0x12][stream_index]` + payload.
func BuildSampleResponse(streamIndex byte, payload []byte) []byte {
	buf := make([]byte, 0, 3+len(payload))
	buf = append(buf, MarshalHeader(MsgSampleResponse)...)
	buf = append(buf, streamIndex)
	buf = append(buf, payload...)
	return buf
}

// BuildSampleErrorResponse builds `[version][0x13][stream_index]`.
func BuildSampleErrorResponse(streamIndex byte) []byte {
	buf := append([]byte{}, MarshalHeader(MsgSampleErrorResponse)...)
	buf = append(buf, streamIndex)
	return buf
}

// BuildPropertyListResponse builds the empty 0x15 response.
func BuildPropertyListResponse() []byte {
	return MarshalHeader(MsgPropertyListResponse)
}

// BuildPropertyValueResponse builds the 0x17 payload: property id (4 bytes)
// + value length (4 bytes, here always 0) + value bytes. No settable camera
// properties are modeled, so the value is always zero-length.
func BuildPropertyValueResponse(propertyID uint32) []byte {
	buf := append([]byte{}, MarshalHeader(MsgPropertyValueResponse)...)
	idBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBuf, propertyID)
	buf = append(buf, idBuf...)
	buf = append(buf, 0, 0, 0, 0) // zero-length value
	return buf
}

// ParsePropertyValueRequest decodes the 4-byte property id payload of 0x16.
func ParsePropertyValueRequest(payload []byte) (propertyID uint32, err error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("rdpecam: short PropertyValueRequest payload (%d bytes)", len(payload))
	}
	return binary.LittleEndian.Uint32(payload[0:4]), nil
}

// ParseSetPropertyValueRequest decodes the property id of 0x18; the value
// itself is ignored.
func ParseSetPropertyValueRequest(payload []byte) (propertyID uint32, err error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("rdpecam: short SetPropertyValueRequest payload (%d bytes)", len(payload))
	}
	return binary.LittleEndian.Uint32(payload[0:4]), nil
}

// ParseSampleRequest decodes the 1-byte stream-index payload of 0x11.
func ParseSampleRequest(payload []byte) (streamIndex byte, err error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("rdpecam: short SampleRequest payload")
	}
	return payload[0], nil
}

// ParseStartStreamsRequest decodes the 0x0F payload: stream index + 26-byte
// descriptor.
func ParseStartStreamsRequest(payload []byte) (streamIndex byte, descriptor MediaDescriptor, err error) {
	if len(payload) < 1+mediaDescriptorLen {
		return 0, MediaDescriptor{}, fmt.Errorf("rdpecam: short StartStreamsRequest payload (%d bytes)", len(payload))
	}
	descriptor, err = ParseMediaDescriptor(payload[1 : 1+mediaDescriptorLen])
	if err != nil {
		return 0, MediaDescriptor{}, err
	}
	return payload[0], descriptor, nil
}
