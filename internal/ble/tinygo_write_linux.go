//go:build linux

package ble

// Write on BlueZ goes through the same WriteValue call as
// WriteWithoutResponse. With no "type" option BlueZ sends a write request
// whenever the characteristic allows one, so the device still
// acknowledges it.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
