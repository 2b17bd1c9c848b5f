package ble

import (
	"fmt"
	"time"

	"github.com/chaz8081/skellyctl/internal/ble/protocol"
)

// LogKind classifies a LogLine.
type LogKind int

const (
	LogInfo LogKind = iota
	LogWarn
	LogTX
	LogRX
)

func (k LogKind) String() string {
	switch k {
	case LogWarn:
		return "warn"
	case LogTX:
		return "tx"
	case LogRX:
		return "rx"
	}
	return "info"
}

// LogLine is one entry of the session's operator log.
type LogLine struct {
	Time time.Time
	Kind LogKind
	Text string
}

func (l LogLine) String() string {
	return fmt.Sprintf("%s [%s] %s", l.Time.Format("15:04:05.000"), l.Kind, l.Text)
}

// Status is a snapshot of what the device has reported. Volume and
// CapacityKB are -1 until reported.
type Status struct {
	Connected     bool
	Address       string
	DeviceName    string
	BTName        string
	MAC           string
	PIN           string
	ShowMode      uint8
	Channels      []uint8
	Volume        int
	CapacityKB    int64
	FilesReported int
	PlayOrder     []uint16
	Live          protocol.LiveState
	Playing       protocol.PlayState
}

func newStatus(address string) Status {
	return Status{Address: address, Volume: -1, CapacityKB: -1}
}

// apply folds one notification into the snapshot. Reports whether it
// changed anything.
func (st *Status) apply(n protocol.Notification) bool {
	switch v := n.(type) {
	case protocol.Volume:
		st.Volume = int(v.Level)
	case protocol.DeviceName:
		st.BTName = v.Name
	case protocol.LiveState:
		st.Live = v
	case protocol.Params:
		st.Channels = append([]uint8(nil), v.Channels[:]...)
		st.PIN = v.PIN
		st.ShowMode = v.ShowMode
		if v.Name != "" {
			st.DeviceName = v.Name
		}
	case protocol.MAC:
		st.MAC = v.Address
	case protocol.Capacity:
		st.CapacityKB = int64(v.FreeKB)
		st.FilesReported = int(v.Files)
	case protocol.PlayOrder:
		st.PlayOrder = append([]uint16(nil), v.Serials...)
	case protocol.PlayState:
		st.Playing = v
	default:
		return false
	}
	return true
}

// clone copies the slices so callers cannot alias session state.
func (st Status) clone() Status {
	st.Channels = append([]uint8(nil), st.Channels...)
	st.PlayOrder = append([]uint16(nil), st.PlayOrder...)
	st.Live.Lights = append([]protocol.Light(nil), st.Live.Lights...)
	return st
}
