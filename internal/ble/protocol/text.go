package protocol

import (
	"strings"
	"unicode/utf16"
)

// NameMarker precedes every UTF-16LE filename embedded in a payload.
var NameMarker = []byte{0x5C, 0x55}

// EncodeUTF16LE encodes s as little-endian UTF-16 without a terminator.
// Characters outside the BMP become surrogate pairs.
func EncodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}

// DecodeUTF16LE decodes little-endian UTF-16 code units, skipping zero
// units (padding and terminators). A trailing odd byte is ignored.
func DecodeUTF16LE(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := uint16(b[i]) | uint16(b[i+1])<<8
		if u == 0 {
			continue
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// ASCII keeps the printable bytes (0x20-0x7E) of b and trims the result.
func ASCII(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c <= 0x7E {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

// NameBlock is the optional filename suffix shared by the per-file
// configuration commands: a length byte (encoded name + marker), the
// marker, then the UTF-16LE name. An empty name is a single zero byte.
func NameBlock(name string) []byte {
	name = strings.TrimSpace(name)
	if name == "" {
		return []byte{0x00}
	}
	enc := EncodeUTF16LE(name)
	out := make([]byte, 0, 3+len(enc))
	out = append(out, byte(len(enc)+2))
	out = append(out, NameMarker...)
	return append(out, enc...)
}

// markedName is the marker followed by the encoded name, without a length.
func markedName(name string) []byte {
	enc := EncodeUTF16LE(name)
	out := make([]byte, 0, 2+len(enc))
	out = append(out, NameMarker...)
	return append(out, enc...)
}

func trimName(s string) string {
	return strings.TrimSpace(s)
}
