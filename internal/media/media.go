// Package media inspects uploaded audio for its play length. The device
// plays long tracks unreliably, so uploads past LongTrack get a warning.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// LongTrack is the length past which playback on the device is experimental.
const LongTrack = 30 * time.Second

// ErrUnknownFormat is returned for data that is neither WAV nor MP3.
var ErrUnknownFormat = errors.New("media: unknown audio format")

// Format identifies a supported container.
type Format int

const (
	Unknown Format = iota
	WAV
	MP3
)

func (f Format) String() string {
	switch f {
	case WAV:
		return "wav"
	case MP3:
		return "mp3"
	}
	return "unknown"
}

// Detect sniffs the container from the leading bytes.
func Detect(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return WAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return MP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MP3
	}
	return Unknown
}

// Duration returns the play length of a WAV or MP3 payload. MP3 length
// is estimated from the first frame's bitrate, which is exact for
// constant-bitrate files.
func Duration(data []byte) (time.Duration, error) {
	switch Detect(data) {
	case WAV:
		dec := wav.NewDecoder(bytes.NewReader(data))
		if !dec.IsValidFile() {
			return 0, fmt.Errorf("media: invalid wav header")
		}
		d, err := dec.Duration()
		if err != nil {
			return 0, fmt.Errorf("media: wav duration: %w", err)
		}
		return d, nil
	case MP3:
		return mp3Duration(data)
	}
	return 0, ErrUnknownFormat
}

// IsLong reports whether data plays longer than LongTrack. Unknown
// formats are never long.
func IsLong(data []byte) (bool, time.Duration) {
	d, err := Duration(data)
	if err != nil {
		return false, 0
	}
	return d > LongTrack, d
}
