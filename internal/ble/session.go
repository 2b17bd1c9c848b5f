package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/skellyctl/internal/ble/protocol"
	"github.com/chaz8081/skellyctl/internal/ble/waiter"
	"github.com/chaz8081/skellyctl/internal/catalog"
	"github.com/chaz8081/skellyctl/internal/transfer"
)

// ErrNotConnected is returned by operations that need a live link.
var ErrNotConnected = errors.New("ble: not connected")

// SessionOptions configures a Session.
type SessionOptions struct {
	Profile        GATTProfile
	ConnectTimeout time.Duration // per connect attempt
	ConnectRetries int           // extra attempts after the first
	ReconnectMax   int           // backoff cap in seconds
	RetryPause     time.Duration // pause before retrying a write in the other mode
	Conservative   bool          // chunk frames go out with response
	FetchOnConnect bool          // query the file list once connected

	PlayLookup time.Duration // PlayByName: how long to wait for the file to appear
	PlayPoll   time.Duration // PlayByName: catalog poll interval
	PlaySettle time.Duration // PlayByName: pause before the play command
	AckTimeout time.Duration // one-shot commands that wait for an ack

	Transfer transfer.Options
	Catalog  catalog.Options

	// OnLog, when set, receives every TX/RX frame and operator message.
	OnLog func(LogLine)
	// OnDisconnect, when set, runs once after the link drops.
	OnDisconnect func()
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Profile:        DefaultProfile(),
		ConnectTimeout: 10 * time.Second,
		ConnectRetries: 2,
		ReconnectMax:   30,
		RetryPause:     100 * time.Millisecond,
		FetchOnConnect: true,
		PlayLookup:     10 * time.Second,
		PlayPoll:       500 * time.Millisecond,
		PlaySettle:     300 * time.Millisecond,
		AckTimeout:     5 * time.Second,
		Transfer:       transfer.DefaultOptions(),
		Catalog:        catalog.DefaultOptions(),
	}
}

// Session is one connection to the device. It owns the characteristics,
// the waiter table, the file catalog and the transfer engine. A session
// is not reused after its link drops; Dial a new one.
type Session struct {
	adapter Adapter
	address string
	opts    SessionOptions

	mu        sync.Mutex
	conn      Connection
	write     Characteristic
	connected bool
	status    Status

	waiters  waiter.Table
	catalog  *catalog.Catalog
	engine   *transfer.Engine
	observer *uploadObserver
}

func newSession(adapter Adapter, address string, opts SessionOptions) *Session {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30
	}
	if opts.RetryPause < 0 {
		opts.RetryPause = 0
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.PlayPoll <= 0 {
		opts.PlayPoll = 500 * time.Millisecond
	}
	if opts.PlayLookup <= 0 {
		opts.PlayLookup = 10 * time.Second
	}
	s := &Session{
		adapter: adapter,
		address: address,
		opts:    opts,
		status:  newStatus(address),
	}
	s.catalog = catalog.New(func(frame []byte) error {
		return s.Send(frame, protocol.DeliveryAuto)
	}, opts.Catalog)
	s.engine = transfer.New(s, &s.waiters, opts.Transfer)
	s.observer = &uploadObserver{s: s}
	s.engine.SetObserver(s.observer)
	return s
}

// Dial enables the adapter and connects to address, retrying with
// exponential backoff.
func Dial(ctx context.Context, adapter Adapter, address string, opts SessionOptions) (*Session, error) {
	s := newSession(adapter, address, opts)
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.opts.ConnectRetries; attempt++ {
		// First attempt is immediate; later ones back off.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, s.opts.ReconnectMax)
			slog.Info("[BLE] connect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
			case <-time.After(delay):
			}
		}
		if lastErr = s.connect(ctx); lastErr == nil {
			break
		}
		slog.Warn("[BLE] connect failed", "error", lastErr, "attempt", attempt+1)
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if s.opts.FetchOnConnect {
		if err := s.catalog.StartFetch(true); err != nil {
			slog.Warn("[BLE] initial file list query failed", "error", err)
		}
	}
	return s, nil
}

// connect opens the link, discovers both characteristics and subscribes
// to notifications.
func (s *Session) connect(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	conn, err := s.adapter.Connect(cctx, s.address)
	if err != nil {
		return fmt.Errorf("ble: connect to %s: %w", s.address, err)
	}

	svc := s.opts.Profile.Service.String()
	write, err := conn.DiscoverCharacteristic(svc, s.opts.Profile.Write.String())
	if err != nil {
		conn.Disconnect()
		return fmt.Errorf("ble: discover write characteristic: %w", err)
	}
	notify, err := conn.DiscoverCharacteristic(svc, s.opts.Profile.Notify.String())
	if err != nil {
		conn.Disconnect()
		return fmt.Errorf("ble: discover notify characteristic: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.write = write
	s.connected = true
	s.status.Connected = true
	s.mu.Unlock()

	conn.OnDisconnect(s.handleDisconnect)
	if err := notify.Subscribe(s.onNotify); err != nil {
		s.teardown()
		conn.Disconnect()
		return fmt.Errorf("ble: subscribe: %w", err)
	}

	slog.Info("[BLE] connected", "address", s.address)
	s.emit(LogInfo, "Connected and notifications started")
	return nil
}

// teardown marks the link gone. Reports whether it was up.
func (s *Session) teardown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.connected
	s.connected = false
	s.conn = nil
	s.write = nil
	s.status.Connected = false
	return was
}

func (s *Session) handleDisconnect() {
	if !s.teardown() {
		return
	}
	slog.Warn("[BLE] disconnected", "address", s.address)
	s.emit(LogWarn, "Disconnected")
	s.waiters.ClearAll()
	s.catalog.Abort()
	if s.opts.OnDisconnect != nil {
		s.opts.OnDisconnect()
	}
}

// Connected reports whether the link is up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// deliveryFor resolves DeliveryAuto: chunks go out without response
// unless the session is conservative; everything else with response.
func (s *Session) deliveryFor(frame []byte, d protocol.Delivery) protocol.Delivery {
	if d != protocol.DeliveryAuto {
		return d
	}
	if len(frame) >= 2 && frame[1] == protocol.TagChunk && !s.opts.Conservative {
		return protocol.DeliveryUnacknowledged
	}
	return protocol.DeliveryAcknowledged
}

func writeMode(c Characteristic, frame []byte, d protocol.Delivery) error {
	if d == protocol.DeliveryUnacknowledged {
		return c.WriteWithoutResponse(frame)
	}
	return c.Write(frame)
}

// Send writes one frame. A failed write is retried once in the other
// mode after RetryPause. Safe for concurrent use.
func (s *Session) Send(frame []byte, d protocol.Delivery) error {
	s.mu.Lock()
	write, ok := s.write, s.connected
	s.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	mode := s.deliveryFor(frame, d)
	s.emit(LogTX, "TX "+protocol.HexBytes(frame))
	err := writeMode(write, frame, mode)
	if err == nil {
		return nil
	}
	alt := mode.Opposite()
	slog.Warn("[BLE] write failed, retrying", "mode", mode, "retry_mode", alt, "error", err)
	time.Sleep(s.opts.RetryPause)
	if err2 := writeMode(write, frame, alt); err2 != nil {
		return fmt.Errorf("ble: write %s: %w", protocol.HexBytes(frame[:min(2, len(frame))]), errors.Join(err, err2))
	}
	return nil
}

// onNotify is the single inbound path: log, decode once, then fan out to
// the status snapshot, waiting requests, the catalog and the engine.
func (s *Session) onNotify(data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)
	s.emit(LogRX, "RX "+protocol.HexBytes(frame))

	n, err := protocol.Decode(frame)
	if err != nil {
		slog.Warn("[BLE] undecodable notification", "frame", protocol.HexBytes(frame), "error", err)
		s.waiters.Dispatch(frame)
		return
	}
	if u, ok := n.(protocol.Unrecognized); ok {
		slog.Debug("[BLE] ignoring unknown notification", "prefix", u.Prefix)
	}

	s.mu.Lock()
	s.status.apply(n)
	s.mu.Unlock()
	s.describe(n)

	s.waiters.Dispatch(frame)
	s.catalog.Handle(n)
	s.engine.HandleNotification(n)
}

// describe writes an operator log line for reports worth reading.
func (s *Session) describe(n protocol.Notification) {
	switch v := n.(type) {
	case protocol.StartAck:
		s.emit(LogInfo, fmt.Sprintf("Start transfer: failed=%t written=%d", v.Failed, v.Written))
	case protocol.DropNotice:
		s.emit(LogInfo, fmt.Sprintf("Chunk dropped: %t @%d", v.Failed, v.Index))
	case protocol.EndAck:
		s.emit(LogInfo, fmt.Sprintf("End transfer: failed=%t", v.Failed))
	case protocol.RenameAck:
		s.emit(LogInfo, fmt.Sprintf("Rename: failed=%t", v.Failed))
	case protocol.CancelAck:
		s.emit(LogInfo, fmt.Sprintf("Cancel: failed=%t", v.Failed))
	case protocol.ResumeWritten:
		s.emit(LogInfo, fmt.Sprintf("Resume written=%d", v.Written))
	case protocol.DeleteAck:
		s.emit(LogInfo, fmt.Sprintf("Delete ok=%t", v.OK))
	case protocol.Volume:
		s.emit(LogInfo, fmt.Sprintf("Volume: %d", v.Level))
	case protocol.Capacity:
		s.emit(LogInfo, fmt.Sprintf("Capacity: %d KB free, %d files", v.FreeKB, v.Files))
	case protocol.CatalogEntry:
		s.emit(LogInfo, fmt.Sprintf("File #%d %q (%d of %d)", v.Serial, v.Name, v.Serial, v.Total))
	}
}

func (s *Session) emit(kind LogKind, text string) {
	if s.opts.OnLog == nil {
		return
	}
	s.opts.OnLog(LogLine{Time: time.Now(), Kind: kind, Text: text})
}

// Status returns a snapshot of the device state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.clone()
}

// Catalog exposes the session's file list.
func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

// Close disconnects and fails every outstanding wait.
func (s *Session) Close() error {
	s.engine.Cancel()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	s.teardown()
	s.waiters.ClearAll()
	s.catalog.Abort()
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			return fmt.Errorf("ble: disconnect: %w", err)
		}
	}
	return nil
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	limit := time.Duration(maxSeconds) * time.Second
	// Cap the shift so 1<<attempt cannot overflow.
	if attempt >= 30 {
		return limit
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > limit {
		return limit
	}
	return delay
}
