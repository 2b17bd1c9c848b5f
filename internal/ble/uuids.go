package ble

import "github.com/google/uuid"

// GATT layout of the appliance: one service with a write characteristic
// for commands and a notify characteristic for reports.
var (
	ServiceUUID = uuid.MustParse("0000ae00-0000-1000-8000-00805f9b34fb")
	WriteUUID   = uuid.MustParse("0000ae01-0000-1000-8000-00805f9b34fb")
	NotifyUUID  = uuid.MustParse("0000ae02-0000-1000-8000-00805f9b34fb")
)

// GATTProfile names the service and characteristics a session uses.
type GATTProfile struct {
	Service uuid.UUID
	Write   uuid.UUID
	Notify  uuid.UUID
}

// DefaultProfile returns the appliance's stock UUIDs.
func DefaultProfile() GATTProfile {
	return GATTProfile{Service: ServiceUUID, Write: WriteUUID, Notify: NotifyUUID}
}
