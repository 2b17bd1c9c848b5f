// Package protocol implements the wire format spoken by the animated
// appliance over its GATT write/notify pair: CRC-8 framed commands going
// out, BB-prefixed notifications coming in.
package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Frame preambles.
const (
	CommandPreamble      byte = 0xAA
	NotificationPreamble byte = 0xBB
)

// DefaultPad is the minimum payload length (in bytes) the device expects
// for query, media and most configuration commands.
const DefaultPad = 8

// Command tags.
const (
	TagStartTransfer  byte = 0xC0
	TagChunk          byte = 0xC1
	TagEndTransfer    byte = 0xC2
	TagCommitTransfer byte = 0xC3
	TagCancelTransfer byte = 0xC4
	TagPlayFile       byte = 0xC6
	TagDeleteFile     byte = 0xC7
	TagAnimation      byte = 0xCA
	TagQueryCatalog   byte = 0xD0
	TagQueryOrder     byte = 0xD1
	TagQueryCapacity  byte = 0xD2
	TagQueryParams    byte = 0xE0
	TagQueryLive      byte = 0xE1
	TagQueryVolume    byte = 0xE5
	TagQueryBTName    byte = 0xE6
	TagLightMode      byte = 0xF2
	TagBrightness     byte = 0xF3
	TagRGB            byte = 0xF4
	TagSpeed          byte = 0xF6
	TagEye            byte = 0xF9
	TagVolume         byte = 0xFA
	TagPlayPause      byte = 0xFC
	TagClassicBT      byte = 0xFD
)

var (
	// ErrMalformed is returned for input the codec cannot encode or decode.
	ErrMalformed = errors.New("protocol: malformed frame")
	// ErrChecksum is returned when a frame's trailing CRC does not match.
	ErrChecksum = errors.New("protocol: checksum mismatch")
)

// Frame is a parsed command frame.
type Frame struct {
	Preamble byte
	Tag      byte
	Payload  []byte
}

// CRC8 computes the reflected CRC-8 (polynomial 0x8C, init 0) used as the
// trailing byte of every command frame.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		x := crc ^ b
		for i := 0; i < 8; i++ {
			if x&1 != 0 {
				x = (x >> 1) ^ 0x8C
			} else {
				x >>= 1
			}
		}
		crc = x
	}
	return crc
}

// NewFrame builds [preamble][tag][payload, zero-padded to minPad][crc8].
// The payload is copied; the checksum is always recomputed.
func NewFrame(tag byte, payload []byte, minPad int) []byte {
	n := len(payload)
	if n < minPad {
		n = minPad
	}
	buf := make([]byte, 2+n+1)
	buf[0] = CommandPreamble
	buf[1] = tag
	copy(buf[2:], payload)
	buf[len(buf)-1] = CRC8(buf[:len(buf)-1])
	return buf
}

// BuildFrame is NewFrame for a hex-encoded payload. Whitespace is ignored
// and case does not matter; an odd number of hex digits is ErrMalformed.
func BuildFrame(tag byte, payloadHex string, minPad int) ([]byte, error) {
	payload, err := DecodeHex(payloadHex)
	if err != nil {
		return nil, err
	}
	return NewFrame(tag, payload, minPad), nil
}

// ParseFrame splits a command frame into its parts and verifies the CRC.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < 3 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	body := data[:len(data)-1]
	if CRC8(body) != data[len(data)-1] {
		return Frame{}, ErrChecksum
	}
	payload := make([]byte, len(body)-2)
	copy(payload, body[2:])
	return Frame{Preamble: data[0], Tag: data[1], Payload: payload}, nil
}

// DecodeHex parses a hex string, tolerating whitespace and either case.
func DecodeHex(s string) ([]byte, error) {
	clean := strings.Join(strings.Fields(s), "")
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("%w: odd-length hex %q", ErrMalformed, clean)
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return b, nil
}

// HexBytes renders b as uppercase hex, the form used in TX/RX logs.
func HexBytes(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// ParseTag parses a one-byte tag written as two hex digits ("C0", "d2").
func ParseTag(s string) (byte, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 1 {
		return 0, fmt.Errorf("%w: tag must be one byte, got %q", ErrMalformed, s)
	}
	return b[0], nil
}
