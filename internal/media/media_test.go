package media

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV encodes seconds of 8kHz mono silence and returns the file bytes.
func writeWAV(t *testing.T, seconds int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           make([]int, 8000*seconds),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return data
}

// cbrMP3 fakes a 128 kbit/s MPEG1 Layer III stream of the given length.
func cbrMP3(seconds int, withID3 bool) []byte {
	var out []byte
	if withID3 {
		// 20-byte tag body, synchsafe size 20.
		out = append(out, 'I', 'D', '3', 4, 0, 0, 0, 0, 0, 20)
		out = append(out, make([]byte, 20)...)
	}
	body := make([]byte, 128000/8*seconds)
	copy(body, []byte{0xFF, 0xFB, 0x90, 0x00})
	return append(out, body...)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"wav", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), WAV},
		{"id3", []byte("ID3\x04\x00"), MP3},
		{"frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, MP3},
		{"text", []byte("hello world"), Unknown},
		{"empty", nil, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.data); got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWAVDuration(t *testing.T) {
	got, err := Duration(writeWAV(t, 2))
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	// The decoder derives length from the RIFF size, header included.
	if diff := got - 2*time.Second; diff < 0 || diff > 50*time.Millisecond {
		t.Errorf("Duration() = %v, want about 2s", got)
	}
}

func TestMP3Duration(t *testing.T) {
	for _, withID3 := range []bool{false, true} {
		got, err := Duration(cbrMP3(40, withID3))
		if err != nil {
			t.Fatalf("Duration(id3=%v) error = %v", withID3, err)
		}
		if got != 40*time.Second {
			t.Errorf("Duration(id3=%v) = %v, want 40s", withID3, got)
		}
	}
}

func TestIsLong(t *testing.T) {
	if long, _ := IsLong(cbrMP3(40, false)); !long {
		t.Error("40s track should be long")
	}
	if long, d := IsLong(cbrMP3(10, false)); long || d != 10*time.Second {
		t.Errorf("IsLong(10s) = %v, %v", long, d)
	}
	if long, _ := IsLong([]byte("not audio")); long {
		t.Error("unknown data should not be long")
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := Duration([]byte("plain text")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Duration() error = %v, want ErrUnknownFormat", err)
	}
	if _, err := Duration([]byte{0xFF, 0xE0, 0x00, 0x00}); err == nil {
		t.Error("Duration() should fail without a valid layer III header")
	}
}
