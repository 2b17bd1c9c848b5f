package media

import (
	"fmt"
	"time"
)

// Layer III bitrates in kbit/s by bitrate index.
var (
	mpeg1L3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mpeg2L3Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
)

// skipID3 returns the offset of the first byte after an ID3v2 tag.
func skipID3(data []byte) int {
	if len(data) < 10 || string(data[0:3]) != "ID3" {
		return 0
	}
	// Tag size is a 28-bit synchsafe integer.
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	off := 10 + size
	if data[5]&0x10 != 0 {
		off += 10 // footer
	}
	return off
}

// mp3Duration estimates length from the first Layer III frame header.
func mp3Duration(data []byte) (time.Duration, error) {
	off := skipID3(data)
	for ; off+4 <= len(data); off++ {
		if data[off] != 0xFF || data[off+1]&0xE0 != 0xE0 {
			continue
		}
		version := (data[off+1] >> 3) & 0x03 // 3 = MPEG1, 2 = MPEG2, 0 = MPEG2.5
		layer := (data[off+1] >> 1) & 0x03   // 1 = Layer III
		index := data[off+2] >> 4
		if version == 1 || layer != 1 || index == 0 || index == 15 {
			continue
		}
		kbps := mpeg1L3Bitrates[index]
		if version != 3 {
			kbps = mpeg2L3Bitrates[index]
		}
		bits := int64(len(data)-off) * 8
		return time.Duration(bits * int64(time.Second) / int64(kbps*1000)), nil
	}
	return 0, fmt.Errorf("media: no mp3 frame header found")
}
