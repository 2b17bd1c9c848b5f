package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind enumerates the notification variants the device emits.
type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindKeepalive
	KindVolume
	KindDeviceName
	KindLiveState
	KindParams
	KindMAC
	KindStartAck
	KindDropNotice
	KindEndAck
	KindRenameAck
	KindCancelAck
	KindResumeWritten
	KindPlayState
	KindDeleteAck
	KindFormatAck
	KindCapacity
	KindPlayOrder
	KindCatalogEntry
)

var kindNames = [...]string{
	KindUnrecognized:  "unrecognized",
	KindKeepalive:     "keepalive",
	KindVolume:        "volume",
	KindDeviceName:    "device-name",
	KindLiveState:     "live-state",
	KindParams:        "params",
	KindMAC:           "mac",
	KindStartAck:      "start-ack",
	KindDropNotice:    "drop-notice",
	KindEndAck:        "end-ack",
	KindRenameAck:     "rename-ack",
	KindCancelAck:     "cancel-ack",
	KindResumeWritten: "resume-written",
	KindPlayState:     "play-state",
	KindDeleteAck:     "delete-ack",
	KindFormatAck:     "format-ack",
	KindCapacity:      "capacity",
	KindPlayOrder:     "play-order",
	KindCatalogEntry:  "catalog-entry",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Prefix is the two leading bytes identifying a notification.
type Prefix [2]byte

func (p Prefix) String() string { return HexBytes(p[:]) }

// Notification prefixes.
var (
	PrefixKeepalive     = Prefix{0xFE, 0xDC}
	PrefixVolume        = Prefix{NotificationPreamble, 0xE5}
	PrefixDeviceName    = Prefix{NotificationPreamble, 0xE6}
	PrefixLiveState     = Prefix{NotificationPreamble, 0xE1}
	PrefixParams        = Prefix{NotificationPreamble, 0xE0}
	PrefixMAC           = Prefix{NotificationPreamble, 0xCC}
	PrefixStartAck      = Prefix{NotificationPreamble, 0xC0}
	PrefixDropNotice    = Prefix{NotificationPreamble, 0xC1}
	PrefixEndAck        = Prefix{NotificationPreamble, 0xC2}
	PrefixRenameAck     = Prefix{NotificationPreamble, 0xC3}
	PrefixCancelAck     = Prefix{NotificationPreamble, 0xC4}
	PrefixResumeWritten = Prefix{NotificationPreamble, 0xC5}
	PrefixPlayState     = Prefix{NotificationPreamble, 0xC6}
	PrefixDeleteAck     = Prefix{NotificationPreamble, 0xC7}
	PrefixFormatAck     = Prefix{NotificationPreamble, 0xC8}
	PrefixCapacity      = Prefix{NotificationPreamble, 0xD2}
	PrefixPlayOrder     = Prefix{NotificationPreamble, 0xD1}
	PrefixCatalogEntry  = Prefix{NotificationPreamble, 0xD0}
)

// Notification is one decoded inbound frame. Consumers type-switch on the
// concrete variant or compare Kind().
type Notification interface {
	Kind() Kind
}

// Unrecognized carries a frame whose prefix is not in the known set.
// Consumers ignore it.
type Unrecognized struct {
	Prefix Prefix
	Raw    []byte
}

type Keepalive struct{}

type Volume struct{ Level uint8 }

type DeviceName struct{ Name string }

// Light is one per-channel light descriptor in a live-state report.
type Light struct {
	Effect      uint8
	EffectGroup uint8
	R, G, B     uint8
	Brightness  uint8
	Channel     uint8
}

type LiveState struct {
	Action uint8
	Eye    uint8
	Lights []Light
}

type Params struct {
	Channels     [6]uint8
	PIN          string
	WiFiPassword string
	ShowMode     uint8
	Name         string
}

type MAC struct{ Address string }

// StartAck answers a start frame. Written is the byte count already
// stored for this name, non-zero when the device can resume.
type StartAck struct {
	Failed  bool
	Written uint32
}

// DropNotice asks for chunk Index to be resent when Failed is set.
type DropNotice struct {
	Failed bool
	Index  uint16
}

type EndAck struct{ Failed bool }

type RenameAck struct{ Failed bool }

type CancelAck struct{ Failed bool }

type ResumeWritten struct{ Written uint32 }

type PlayState struct {
	Serial   uint16
	Playing  bool
	Duration uint16
}

type DeleteAck struct{ OK bool }

type FormatAck struct{ Status uint8 }

type Capacity struct {
	FreeKB uint32
	Files  uint8
	Extra  uint32
}

type PlayOrder struct{ Serials []uint16 }

// CatalogEntry describes one stored file.
type CatalogEntry struct {
	Serial   uint16
	Cluster  uint32
	Total    uint16 // number of files the device holds
	Length   uint16
	Attr     uint8
	Eye      uint8
	Position uint8
	Name     string
}

func (Unrecognized) Kind() Kind  { return KindUnrecognized }
func (Keepalive) Kind() Kind     { return KindKeepalive }
func (Volume) Kind() Kind        { return KindVolume }
func (DeviceName) Kind() Kind    { return KindDeviceName }
func (LiveState) Kind() Kind     { return KindLiveState }
func (Params) Kind() Kind        { return KindParams }
func (MAC) Kind() Kind           { return KindMAC }
func (StartAck) Kind() Kind      { return KindStartAck }
func (DropNotice) Kind() Kind    { return KindDropNotice }
func (EndAck) Kind() Kind        { return KindEndAck }
func (RenameAck) Kind() Kind     { return KindRenameAck }
func (CancelAck) Kind() Kind     { return KindCancelAck }
func (ResumeWritten) Kind() Kind { return KindResumeWritten }
func (PlayState) Kind() Kind     { return KindPlayState }
func (DeleteAck) Kind() Kind     { return KindDeleteAck }
func (FormatAck) Kind() Kind     { return KindFormatAck }
func (Capacity) Kind() Kind      { return KindCapacity }
func (PlayOrder) Kind() Kind     { return KindPlayOrder }
func (CatalogEntry) Kind() Kind  { return KindCatalogEntry }

// Catalog entry layout.
const (
	entryEyeOffset      = 55
	entryPositionOffset = 56
	entryNameSearchFrom = 57
	liveLightsOffset    = 3
	liveLightSize       = 7
	liveEyeOffset       = 45
	paramsNameLenOffset = 28
)

// minLen is the shortest frame each variant can be decoded from.
var minLen = map[Prefix]int{
	PrefixVolume:        3,
	PrefixDeviceName:    3,
	PrefixLiveState:     3,
	PrefixParams:        21,
	PrefixMAC:           8,
	PrefixStartAck:      3,
	PrefixDropNotice:    5,
	PrefixEndAck:        3,
	PrefixRenameAck:     3,
	PrefixCancelAck:     3,
	PrefixResumeWritten: 6,
	PrefixPlayState:     7,
	PrefixDeleteAck:     3,
	PrefixFormatAck:     3,
	PrefixCapacity:      7,
	PrefixPlayOrder:     3,
	PrefixCatalogEntry:  13,
}

// Decode classifies an inbound frame and extracts its fields. Frames with
// an unknown prefix decode to Unrecognized without error; a known prefix
// that is too short to hold its fields is ErrMalformed.
func Decode(data []byte) (Notification, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %d-byte notification", ErrMalformed, len(data))
	}
	p := Prefix{data[0], data[1]}
	if p == PrefixKeepalive {
		return Keepalive{}, nil
	}
	need, known := minLen[p]
	if !known {
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unrecognized{Prefix: p, Raw: raw}, nil
	}
	if len(data) < need {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformed, p, need, len(data))
	}

	switch p {
	case PrefixVolume:
		return Volume{Level: data[2]}, nil
	case PrefixDeviceName:
		return DeviceName{Name: ASCII(clip(data, 3, 3+int(data[2])))}, nil
	case PrefixLiveState:
		return decodeLive(data), nil
	case PrefixParams:
		return decodeParams(data), nil
	case PrefixMAC:
		return MAC{Address: HexBytes(data[2:8])}, nil
	case PrefixStartAck:
		ack := StartAck{Failed: data[2] != 0}
		if len(data) >= 7 {
			ack.Written = binary.BigEndian.Uint32(data[3:7])
		}
		return ack, nil
	case PrefixDropNotice:
		return DropNotice{Failed: data[2] == 1, Index: binary.BigEndian.Uint16(data[3:5])}, nil
	case PrefixEndAck:
		return EndAck{Failed: data[2] != 0}, nil
	case PrefixRenameAck:
		return RenameAck{Failed: data[2] != 0}, nil
	case PrefixCancelAck:
		return CancelAck{Failed: data[2] != 0}, nil
	case PrefixResumeWritten:
		return ResumeWritten{Written: binary.BigEndian.Uint32(data[2:6])}, nil
	case PrefixPlayState:
		return PlayState{
			Serial:   binary.BigEndian.Uint16(data[2:4]),
			Playing:  data[4] != 0,
			Duration: binary.BigEndian.Uint16(data[5:7]),
		}, nil
	case PrefixDeleteAck:
		return DeleteAck{OK: data[2] == 0}, nil
	case PrefixFormatAck:
		return FormatAck{Status: data[2]}, nil
	case PrefixCapacity:
		c := Capacity{FreeKB: binary.BigEndian.Uint32(data[2:6]), Files: data[6]}
		if len(data) >= 11 {
			c.Extra = binary.BigEndian.Uint32(data[7:11])
		}
		return c, nil
	case PrefixPlayOrder:
		return decodeOrder(data), nil
	case PrefixCatalogEntry:
		return decodeEntry(data), nil
	}
	return Unrecognized{Prefix: p}, nil
}

func decodeLive(data []byte) LiveState {
	ls := LiveState{Action: data[2]}
	for i := 0; i < 6; i++ {
		off := liveLightsOffset + i*liveLightSize
		if off+liveLightSize > len(data) || off+liveLightSize > liveEyeOffset {
			break
		}
		d := data[off : off+liveLightSize]
		ls.Lights = append(ls.Lights, Light{
			Effect: d[0], EffectGroup: d[1],
			R: d[2], G: d[3], B: d[4],
			Brightness: d[5], Channel: d[6],
		})
	}
	if len(data) > liveEyeOffset {
		ls.Eye = data[liveEyeOffset]
	}
	return ls
}

func decodeParams(data []byte) Params {
	var p Params
	copy(p.Channels[:], data[2:8])
	p.PIN = ASCII(data[8:12])
	p.WiFiPassword = ASCII(data[12:20])
	p.ShowMode = data[20]
	if len(data) > paramsNameLenOffset {
		n := int(data[paramsNameLenOffset])
		p.Name = ASCII(clip(data, paramsNameLenOffset+1, paramsNameLenOffset+1+n))
	}
	return p
}

// decodeOrder trusts the declared count only as far as the payload goes.
func decodeOrder(data []byte) PlayOrder {
	count := int(data[2])
	body := data[3:]
	if len(body) < count*2 {
		count = len(body) / 2
	}
	serials := make([]uint16, count)
	for i := range serials {
		serials[i] = binary.BigEndian.Uint16(body[i*2:])
	}
	return PlayOrder{Serials: serials}
}

func decodeEntry(data []byte) CatalogEntry {
	e := CatalogEntry{
		Serial:  binary.BigEndian.Uint16(data[2:4]),
		Cluster: binary.BigEndian.Uint32(data[4:8]),
		Total:   binary.BigEndian.Uint16(data[8:10]),
		Length:  binary.BigEndian.Uint16(data[10:12]),
		Attr:    data[12],
	}
	if len(data) > entryEyeOffset {
		e.Eye = data[entryEyeOffset]
	}
	if len(data) > entryPositionOffset {
		e.Position = data[entryPositionOffset]
	}
	if len(data) > entryNameSearchFrom {
		if i := bytes.Index(data[entryNameSearchFrom:], NameMarker); i >= 0 {
			start := entryNameSearchFrom + i + len(NameMarker)
			// The trailing byte is the frame checksum.
			if end := len(data) - 1; end > start {
				e.Name = trimName(DecodeUTF16LE(data[start:end]))
			}
		}
	}
	return e
}

func clip(b []byte, from, to int) []byte {
	if from > len(b) {
		return nil
	}
	if to > len(b) {
		to = len(b)
	}
	return b[from:to]
}
