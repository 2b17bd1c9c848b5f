package protocol

import "encoding/binary"

// AllChannels addresses every light channel at once.
const AllChannels byte = 0xFF

// Animation action codes for SetAnimation.
const (
	ActionHeadOn   byte = 1
	ActionHeadOff  byte = 2
	ActionArmOn    byte = 3
	ActionArmOff   byte = 4
	ActionTorsoOn  byte = 6
	ActionTorsoOff byte = 7
	ActionAllOn    byte = 0xFF
)

// Light modes for SetLightMode.
const (
	LightStatic  byte = 1
	LightStrobe  byte = 2
	LightPulsing byte = 3
)

// Target selects what a lighting or appearance command applies to: the
// live show (zero cluster, empty name) or one stored file.
type Target struct {
	Cluster uint32
	Name    string
}

func (t Target) suffix() []byte {
	out := binary.BigEndian.AppendUint32(nil, t.Cluster)
	return append(out, NameBlock(t.Name)...)
}

// Query builds a payload-less query such as TagQueryCatalog.
func Query(tag byte) []byte {
	return NewFrame(tag, nil, DefaultPad)
}

// PlayPause starts or pauses playback of the current track.
func PlayPause(play bool) []byte {
	return NewFrame(TagPlayPause, []byte{boolByte(play)}, DefaultPad)
}

// ClassicBT enables the device's classic Bluetooth audio sink.
func ClassicBT() []byte {
	return NewFrame(TagClassicBT, []byte{0x01}, DefaultPad)
}

// SetVolume sets the output volume.
func SetVolume(v uint8) []byte {
	return NewFrame(TagVolume, []byte{v}, DefaultPad)
}

// SetBrightness sets light brightness on a channel (or AllChannels).
func SetBrightness(channel, brightness byte, t Target) []byte {
	p := append([]byte{channel, brightness}, t.suffix()...)
	return NewFrame(TagBrightness, p, DefaultPad)
}

// SetRGB sets a channel colour; loop cycles through all colours.
func SetRGB(channel, r, g, b byte, loop bool, t Target) []byte {
	p := append([]byte{channel, r, g, b, boolByte(loop)}, t.suffix()...)
	return NewFrame(TagRGB, p, DefaultPad)
}

// SetLightMode selects static, strobe or pulsing lights.
func SetLightMode(channel, mode byte, t Target) []byte {
	p := append([]byte{channel, mode}, t.suffix()...)
	return NewFrame(TagLightMode, p, DefaultPad)
}

// SetSpeed sets the strobe/pulse speed.
func SetSpeed(channel, speed byte, t Target) []byte {
	p := append([]byte{channel, speed}, t.suffix()...)
	return NewFrame(TagSpeed, p, DefaultPad)
}

// SetEye sets the eye icon shown by the device.
func SetEye(eye byte, t Target) []byte {
	p := append([]byte{eye, 0x00}, t.suffix()...)
	return NewFrame(TagEye, p, DefaultPad)
}

// SetAnimation sends one movement action.
func SetAnimation(action byte, t Target) []byte {
	p := append([]byte{action, 0x00}, t.suffix()...)
	return NewFrame(TagAnimation, p, DefaultPad)
}

// ColorCycle is the brightness → static mode → looping RGB sequence the
// vendor app sends to cycle all colours on every channel.
func ColorCycle(brightness, r, g, b byte, t Target) [][]byte {
	return [][]byte{
		SetBrightness(AllChannels, brightness, t),
		SetLightMode(AllChannels, LightStatic, t),
		SetRGB(AllChannels, r, g, b, true, t),
	}
}

// PlayFile plays a stored file by serial.
func PlayFile(serial uint16) []byte {
	p := binary.BigEndian.AppendUint16(nil, serial)
	return NewFrame(TagPlayFile, append(p, 0x01), DefaultPad)
}

// DeleteFile removes a stored file.
func DeleteFile(serial uint16, cluster uint32) []byte {
	p := binary.BigEndian.AppendUint16(nil, serial)
	p = binary.BigEndian.AppendUint32(p, cluster)
	return NewFrame(TagDeleteFile, p, DefaultPad)
}

// CancelTransfer aborts the device side of an upload.
func CancelTransfer() []byte {
	return NewFrame(TagCancelTransfer, nil, DefaultPad)
}

// StartTransfer announces an upload: total size, chunk count and name.
func StartTransfer(size uint32, chunks uint16, name string) []byte {
	p := binary.BigEndian.AppendUint32(nil, size)
	p = binary.BigEndian.AppendUint16(p, chunks)
	return NewFrame(TagStartTransfer, append(p, markedName(name)...), DefaultPad)
}

// ChunkPayload is the body of a chunk frame: big-endian index followed by
// the exact data slice, with no padding.
func ChunkPayload(index uint16, data []byte) []byte {
	p := make([]byte, 2, 2+len(data))
	binary.BigEndian.PutUint16(p, index)
	return append(p, data...)
}

// Chunk frames a payload produced by ChunkPayload.
func Chunk(payload []byte) []byte {
	return NewFrame(TagChunk, payload, 0)
}

// EndTransfer closes the data stream; the payload is eight zero bytes.
func EndTransfer() []byte {
	return NewFrame(TagEndTransfer, nil, 8)
}

// CommitTransfer asks the device to commit the upload under name.
func CommitTransfer(name string) []byte {
	return NewFrame(TagCommitTransfer, markedName(name), DefaultPad)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
