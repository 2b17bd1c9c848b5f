package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/chaz8081/skellyctl/internal/ble/protocol"
)

var errMockWrite = errors.New("mock: write failed")

// mockWrite is one recorded write attempt.
type mockWrite struct {
	data []byte
	mode protocol.Delivery
}

// mockCharacteristic records writes and allows subscribing. onWrite,
// when set, plays the device: it runs on its own goroutine for every
// successful write.
type mockCharacteristic struct {
	mu          sync.Mutex
	writes      []mockWrite
	failWith    int // fail this many writes with response
	failWithout int // fail this many writes without response
	callback    func([]byte)
	onWrite     func(frame []byte)
}

func (c *mockCharacteristic) record(data []byte, mode protocol.Delivery) error {
	c.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, mockWrite{data: cp, mode: mode})
	fail := &c.failWith
	if mode == protocol.DeliveryUnacknowledged {
		fail = &c.failWithout
	}
	if *fail > 0 {
		*fail--
		c.mu.Unlock()
		return errMockWrite
	}
	script := c.onWrite
	c.mu.Unlock()
	if script != nil {
		go script(cp)
	}
	return nil
}

func (c *mockCharacteristic) Write(data []byte) error {
	return c.record(data, protocol.DeliveryAcknowledged)
}

func (c *mockCharacteristic) WriteWithoutResponse(data []byte) error {
	return c.record(data, protocol.DeliveryUnacknowledged)
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Writes returns a copy of the recorded writes.
func (c *mockCharacteristic) Writes() []mockWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mockWrite(nil), c.writes...)
}

// Tags returns the command tag of every recorded write.
func (c *mockCharacteristic) Tags() []byte {
	var tags []byte
	for _, w := range c.Writes() {
		if len(w.data) >= 2 {
			tags = append(tags, w.data[1])
		}
	}
	return tags
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	mu            sync.Mutex
	writeChar     *mockCharacteristic
	notifyChar    *mockCharacteristic
	missingNotify bool
	disconnectCb  func()
	disconnected  bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		writeChar:  &mockCharacteristic{},
		notifyChar: &mockCharacteristic{},
	}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if serviceUUID != ServiceUUID.String() {
		return nil, fmt.Errorf("mock: unknown service UUID %q", serviceUUID)
	}
	switch charUUID {
	case WriteUUID.String():
		return c.writeChar, nil
	case NotifyUUID.String():
		if c.missingNotify {
			return nil, fmt.Errorf("mock: characteristic %q not found", charUUID)
		}
		return c.notifyChar, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// respond installs a device script: reply maps an incoming command to
// the notifications sent back, in order.
func (c *mockConnection) respond(reply func(frame []byte) [][]byte) {
	c.writeChar.mu.Lock()
	defer c.writeChar.mu.Unlock()
	c.writeChar.onWrite = func(frame []byte) {
		for _, n := range reply(frame) {
			c.notifyChar.SimulateNotification(n)
		}
	}
}

// mockAdapter simulates the BLE adapter. Every Connect hands out the
// same prepared connection so tests can script it up front.
type mockAdapter struct {
	mu          sync.Mutex
	devices     []Device
	connection  *mockConnection
	connectErrs int // fail this many Connect calls first
	connects    int
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{
		devices:    devices,
		connection: newMockConnection(),
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, _ string) ([]Device, error) {
	return a.devices, nil
}

func (a *mockAdapter) Connect(ctx context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.connectErrs > 0 {
		a.connectErrs--
		return nil, errors.New("mock: peripheral not found")
	}
	return a.connection, nil
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
