// Package ble talks to the appliance over its GATT service. It owns the
// connection, the write/notify characteristic pair and the session that
// fans inbound notifications out to the catalog, the transfer engine and
// waiting requests.
package ble

import "context"

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data and waits for the peripheral's write response.
	Write(data []byte) error
	// WriteWithoutResponse sends data without waiting for a response.
	WriteWithoutResponse(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals until ctx is done. An empty
	// serviceUUID accepts every advertiser.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device at address.
	Connect(ctx context.Context, address string) (Connection, error)
}
