package protocol

import (
	"errors"
	"reflect"
	"testing"
)

// entryFrame builds a BBD0 catalog entry the way the device lays it out.
func entryFrame(serial, total uint16, cluster uint32, name string) []byte {
	b := make([]byte, entryNameSearchFrom)
	b[0], b[1] = NotificationPreamble, 0xD0
	b[2], b[3] = byte(serial>>8), byte(serial)
	b[4], b[5], b[6], b[7] = byte(cluster>>24), byte(cluster>>16), byte(cluster>>8), byte(cluster)
	b[8], b[9] = byte(total>>8), byte(total)
	b[10], b[11] = 0x00, 0x2A
	b[12] = 0x01
	b[entryEyeOffset] = 9
	b[entryPositionOffset] = 4
	b = append(b, NameMarker...)
	b = append(b, EncodeUTF16LE(name)...)
	b = append(b, 0x00, 0x00) // terminating code unit
	return append(b, CRC8(b))
}

func TestDecodeCatalogEntry(t *testing.T) {
	n, err := Decode(entryFrame(3, 5, 0x01020304, " Boo Song "))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	e, ok := n.(CatalogEntry)
	if !ok {
		t.Fatalf("Decode() = %T, want CatalogEntry", n)
	}
	want := CatalogEntry{
		Serial: 3, Cluster: 0x01020304, Total: 5, Length: 42,
		Attr: 1, Eye: 9, Position: 4, Name: "Boo Song",
	}
	if e != want {
		t.Errorf("entry = %+v, want %+v", e, want)
	}
}

func TestDecodeCatalogEntryWithoutName(t *testing.T) {
	frame := entryFrame(1, 1, 0, "")
	n, err := Decode(frame[:20])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	e := n.(CatalogEntry)
	if e.Serial != 1 || e.Name != "" || e.Eye != 0 {
		t.Errorf("truncated entry = %+v, want serial 1 with no name/eye", e)
	}
}

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  Notification
	}{
		{"keepalive", []byte{0xFE, 0xDC, 0x01}, Keepalive{}},
		{"volume", []byte{0xBB, 0xE5, 0x32, 0x00}, Volume{Level: 0x32}},
		{"device name", []byte{0xBB, 0xE6, 0x04, 'S', 'k', 'e', 'l', 0x00}, DeviceName{Name: "Skel"}},
		{"mac", []byte{0xBB, 0xCC, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, MAC{Address: "112233445566"}},
		{"start ack resume", []byte{0xBB, 0xC0, 0x00, 0x00, 0x00, 0x03, 0xE8, 0x00}, StartAck{Written: 1000}},
		{"start ack short", []byte{0xBB, 0xC0, 0x01}, StartAck{Failed: true}},
		{"drop notice", []byte{0xBB, 0xC1, 0x01, 0x00, 0x07, 0x00}, DropNotice{Failed: true, Index: 7}},
		{"drop notice ok", []byte{0xBB, 0xC1, 0x00, 0x01, 0x00}, DropNotice{Index: 256}},
		{"end ack", []byte{0xBB, 0xC2, 0x00}, EndAck{}},
		{"end ack failed", []byte{0xBB, 0xC2, 0x01}, EndAck{Failed: true}},
		{"rename ack", []byte{0xBB, 0xC3, 0x00}, RenameAck{}},
		{"cancel ack", []byte{0xBB, 0xC4, 0x01}, CancelAck{Failed: true}},
		{"resume written", []byte{0xBB, 0xC5, 0x00, 0x00, 0x01, 0x40}, ResumeWritten{Written: 320}},
		{"play state", []byte{0xBB, 0xC6, 0x00, 0x02, 0x01, 0x00, 0x1E}, PlayState{Serial: 2, Playing: true, Duration: 30}},
		{"delete ok", []byte{0xBB, 0xC7, 0x00}, DeleteAck{OK: true}},
		{"delete fail", []byte{0xBB, 0xC7, 0x01}, DeleteAck{OK: false}},
		{"format", []byte{0xBB, 0xC8, 0x01}, FormatAck{Status: 1}},
		{"capacity", []byte{0xBB, 0xD2, 0x00, 0x00, 0x10, 0x00, 0x03, 0x00, 0x00, 0x00, 0x0A}, Capacity{FreeKB: 4096, Files: 3, Extra: 10}},
		{"play order", []byte{0xBB, 0xD1, 0x02, 0x00, 0x03, 0x00, 0x01}, PlayOrder{Serials: []uint16{3, 1}}},
		{"play order short payload", []byte{0xBB, 0xD1, 0x03, 0x00, 0x01, 0x00, 0x02}, PlayOrder{Serials: []uint16{1, 2}}},
		{"unknown prefix", []byte{0xBB, 0x99, 0x01}, Unrecognized{Prefix: Prefix{0xBB, 0x99}, Raw: []byte{0xBB, 0x99, 0x01}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.frame)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeLiveState(t *testing.T) {
	frame := make([]byte, 47)
	frame[0], frame[1], frame[2] = 0xBB, 0xE1, 0x05
	for i := 0; i < 6; i++ {
		off := liveLightsOffset + i*liveLightSize
		copy(frame[off:], []byte{1, 2, 0xFF, 0x80, 0x00, 200, byte(i + 1)})
	}
	frame[liveEyeOffset] = 12
	n, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ls := n.(LiveState)
	if ls.Action != 5 || ls.Eye != 12 {
		t.Errorf("action/eye = %d/%d, want 5/12", ls.Action, ls.Eye)
	}
	if len(ls.Lights) != 6 {
		t.Fatalf("len(Lights) = %d, want 6", len(ls.Lights))
	}
	if ls.Lights[5].Channel != 6 || ls.Lights[0].R != 0xFF || ls.Lights[0].Brightness != 200 {
		t.Errorf("lights = %+v", ls.Lights)
	}
}

func TestDecodeParams(t *testing.T) {
	frame := make([]byte, 29)
	frame[0], frame[1] = 0xBB, 0xE0
	copy(frame[2:8], []byte{1, 2, 3, 4, 5, 6})
	copy(frame[8:12], "1234")
	copy(frame[12:20], "secret\x00\x00")
	frame[20] = 2
	name := "Skelly"
	frame[paramsNameLenOffset] = byte(len(name))
	frame = append(frame, name...)

	n, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	p := n.(Params)
	if p.Channels != [6]uint8{1, 2, 3, 4, 5, 6} || p.PIN != "1234" || p.WiFiPassword != "secret" || p.ShowMode != 2 || p.Name != "Skelly" {
		t.Errorf("params = %+v", p)
	}
}

func TestDecodeTruncatedKnownPrefix(t *testing.T) {
	for _, frame := range [][]byte{
		{0xBB},
		{0xBB, 0xC1, 0x01},
		{0xBB, 0xD0, 0x00, 0x01},
		{0xBB, 0xE0, 0x00},
	} {
		if _, err := Decode(frame); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%s) error = %v, want ErrMalformed", HexBytes(frame), err)
		}
	}
}

func TestKindString(t *testing.T) {
	if got := KindDropNotice.String(); got != "drop-notice" {
		t.Errorf("KindDropNotice.String() = %q", got)
	}
	if got := Kind(200).String(); got != "kind(200)" {
		t.Errorf("Kind(200).String() = %q", got)
	}
}
