package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/skellyctl/internal/ble/protocol"
	"github.com/chaz8081/skellyctl/internal/catalog"
	"github.com/chaz8081/skellyctl/internal/media"
	"github.com/chaz8081/skellyctl/internal/transfer"
)

var (
	// ErrFileNotFound is returned when a file name is not in the file
	// list.
	ErrFileNotFound = errors.New("ble: file not found on device")
	// ErrCatalogIncomplete is returned when a file list fetch times out
	// before every declared entry arrived.
	ErrCatalogIncomplete = errors.New("ble: file list incomplete")
	// ErrDeleteFailed is returned when the device refuses a delete.
	ErrDeleteFailed = errors.New("ble: delete refused by device")
)

// uploadObserver turns engine events into operator log lines and
// forwards them to the caller's observer, if any.
type uploadObserver struct {
	s *Session

	mu   sync.Mutex
	next transfer.Observer
}

func (o *uploadObserver) forward() transfer.Observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.next
}

func (o *uploadObserver) Phase(p transfer.Phase) {
	o.s.emit(LogInfo, "Upload phase: "+p.String())
	if n := o.forward(); n != nil {
		n.Phase(p)
	}
}

func (o *uploadObserver) Progress(sent, total int) {
	if n := o.forward(); n != nil {
		n.Progress(sent, total)
	}
}

func (o *uploadObserver) Retransmit(index int) {
	o.s.emit(LogWarn, fmt.Sprintf("Retransmit chunk %d", index))
	if n := o.forward(); n != nil {
		n.Retransmit(index)
	}
}

// Upload sends data to the device under name. On success the file list
// is fetched again so it shows the new file.
func (s *Session) Upload(ctx context.Context, data []byte, name string, obs transfer.Observer) (transfer.Result, error) {
	if !s.Connected() {
		return transfer.Result{}, ErrNotConnected
	}
	if e, ok := s.catalog.FindByName(name); ok {
		slog.Warn("[BLE] overwriting existing file", "name", e.Name, "serial", e.Serial)
		s.emit(LogWarn, fmt.Sprintf("%q already exists (#%d) and will be overwritten", e.Name, e.Serial))
	}
	if long, d := media.IsLong(data); long {
		slog.Warn("[BLE] long track, playback may be unreliable", "duration", d, "limit", media.LongTrack)
		s.emit(LogWarn, fmt.Sprintf("Track is %s long; playback past %s is experimental", d.Round(time.Second), media.LongTrack))
	}

	s.observer.mu.Lock()
	s.observer.next = obs
	s.observer.mu.Unlock()
	defer func() {
		s.observer.mu.Lock()
		s.observer.next = nil
		s.observer.mu.Unlock()
	}()

	res, err := s.engine.Upload(ctx, data, name)
	if err != nil {
		s.emit(LogWarn, "Upload failed: "+err.Error())
		return res, err
	}
	s.emit(LogInfo, fmt.Sprintf("Upload complete: %d bytes in %s (%.0f B/s)", res.Bytes, res.Elapsed.Round(time.Millisecond), res.Throughput()))
	if err := s.catalog.StartFetch(false); err != nil {
		slog.Warn("[BLE] file list refresh after upload failed", "error", err)
	}
	return res, nil
}

// UploadActive reports whether an upload is running.
func (s *Session) UploadActive() bool {
	return s.engine.Active()
}

// CancelUpload stops a running upload and tells the device to discard
// it. Reports whether an upload was running.
func (s *Session) CancelUpload() (bool, error) {
	was := s.engine.Cancel()
	if !s.Connected() {
		return was, nil
	}
	if err := s.Send(protocol.CancelTransfer(), protocol.DeliveryAcknowledged); err != nil {
		return was, fmt.Errorf("ble: send cancel: %w", err)
	}
	s.emit(LogWarn, "Upload cancelled")
	return was, nil
}

// FetchCatalog re-reads the file list and blocks until it settles. A
// timed-out fetch returns what arrived along with ErrCatalogIncomplete.
func (s *Session) FetchCatalog(ctx context.Context) ([]catalog.Entry, error) {
	if err := s.catalog.StartFetch(true); err != nil {
		return nil, err
	}
	state, err := s.catalog.Wait(ctx)
	if err != nil {
		return s.catalog.Entries(), err
	}
	switch state {
	case catalog.Complete:
		return s.catalog.Entries(), nil
	case catalog.TimedOut:
		return s.catalog.Entries(), fmt.Errorf("%w: %d of %d", ErrCatalogIncomplete, len(s.catalog.Entries()), s.catalog.Expected())
	}
	if !s.Connected() {
		return nil, ErrNotConnected
	}
	return nil, fmt.Errorf("ble: file list fetch ended %s", state)
}

// PlayByName refreshes the file list, waits for name to appear and plays it.
func (s *Session) PlayByName(ctx context.Context, name string) (catalog.Entry, error) {
	if err := s.catalog.StartFetch(true); err != nil {
		return catalog.Entry{}, err
	}

	deadline := time.Now().Add(s.opts.PlayLookup)
	poll := time.NewTicker(s.opts.PlayPoll)
	defer poll.Stop()
	for {
		if e, ok := s.catalog.FindByName(name); ok {
			select {
			case <-ctx.Done():
				return e, ctx.Err()
			case <-time.After(s.opts.PlaySettle):
			}
			if err := s.PlayFile(e.Serial); err != nil {
				return e, err
			}
			return e, nil
		}
		if !time.Now().Before(deadline) {
			return catalog.Entry{}, fmt.Errorf("%w: %q", ErrFileNotFound, name)
		}
		select {
		case <-ctx.Done():
			return catalog.Entry{}, ctx.Err()
		case <-poll.C:
		}
	}
}

// PlayFile starts playback of a stored file.
func (s *Session) PlayFile(serial uint16) error {
	s.emit(LogInfo, fmt.Sprintf("Play #%d", serial))
	return s.Send(protocol.PlayFile(serial), protocol.DeliveryAuto)
}

// DeleteFile removes a stored file and waits for the device to confirm.
func (s *Session) DeleteFile(ctx context.Context, serial uint16, cluster uint32) error {
	p := s.waiters.Expect(s.opts.AckTimeout, protocol.PrefixDeleteAck[:])
	if err := s.Send(protocol.DeleteFile(serial, cluster), protocol.DeliveryAuto); err != nil {
		p.Cancel()
		return err
	}
	frame, err := p.Wait(ctx)
	if err != nil {
		return fmt.Errorf("ble: delete #%d: %w", serial, err)
	}
	n, err := protocol.Decode(frame)
	if err != nil {
		return fmt.Errorf("ble: delete #%d: %w", serial, err)
	}
	if ack, ok := n.(protocol.DeleteAck); !ok || !ack.OK {
		return fmt.Errorf("%w: #%d", ErrDeleteFailed, serial)
	}
	return nil
}

// RefreshStatus queries the device parameters, volume, Bluetooth name,
// MAC and free space, waiting for the parameter report to arrive.
func (s *Session) RefreshStatus(ctx context.Context) (Status, error) {
	p := s.waiters.Expect(s.opts.AckTimeout, protocol.PrefixParams[:])
	for _, tag := range []byte{
		protocol.TagQueryParams,
		protocol.TagQueryVolume,
		protocol.TagQueryBTName,
		protocol.TagQueryCapacity,
		protocol.TagQueryLive,
	} {
		if err := s.Query(tag); err != nil {
			p.Cancel()
			return s.Status(), err
		}
	}
	if _, err := p.Wait(ctx); err != nil {
		return s.Status(), fmt.Errorf("ble: status: %w", err)
	}
	return s.Status(), nil
}

// Query sends a bare query command.
func (s *Session) Query(tag byte) error {
	return s.Send(protocol.Query(tag), protocol.DeliveryAuto)
}

// SetVolume sets the speaker volume, 0-255.
func (s *Session) SetVolume(level uint8) error {
	return s.Send(protocol.SetVolume(level), protocol.DeliveryAuto)
}

// PlayPause toggles the live show.
func (s *Session) PlayPause(play bool) error {
	return s.Send(protocol.PlayPause(play), protocol.DeliveryAuto)
}

// ClassicBT asks the device to enable its classic Bluetooth audio sink.
func (s *Session) ClassicBT() error {
	return s.Send(protocol.ClassicBT(), protocol.DeliveryAuto)
}

// ColorCycle sends the brightness, mode and looping colour commands in order.
func (s *Session) ColorCycle(brightness, r, g, b byte, t protocol.Target) error {
	for _, frame := range protocol.ColorCycle(brightness, r, g, b, t) {
		if err := s.Send(frame, protocol.DeliveryAuto); err != nil {
			return err
		}
	}
	return nil
}

// SetBrightness sets light brightness on a channel, or protocol.AllChannels.
func (s *Session) SetBrightness(channel, level byte, t protocol.Target) error {
	return s.Send(protocol.SetBrightness(channel, level, t), protocol.DeliveryAuto)
}

// SetColor sets a channel colour. loop cycles through every colour.
func (s *Session) SetColor(channel, r, g, b byte, loop bool, t protocol.Target) error {
	return s.Send(protocol.SetRGB(channel, r, g, b, loop, t), protocol.DeliveryAuto)
}

// SetLightMode picks protocol.LightStatic, LightStrobe or LightPulsing.
func (s *Session) SetLightMode(channel, mode byte, t protocol.Target) error {
	return s.Send(protocol.SetLightMode(channel, mode, t), protocol.DeliveryAuto)
}

// SetSpeed sets the strobe or pulse speed.
func (s *Session) SetSpeed(channel, speed byte, t protocol.Target) error {
	return s.Send(protocol.SetSpeed(channel, speed, t), protocol.DeliveryAuto)
}

// SetEye selects the eye icon.
func (s *Session) SetEye(eye byte, t protocol.Target) error {
	return s.Send(protocol.SetEye(eye, t), protocol.DeliveryAuto)
}

// Animate sends one movement action such as protocol.ActionHeadOn.
func (s *Session) Animate(action byte, t protocol.Target) error {
	return s.Send(protocol.SetAnimation(action, t), protocol.DeliveryAuto)
}

// TargetFile resolves a stored file name to a command target. An empty
// name targets the live show.
func (s *Session) TargetFile(ctx context.Context, name string) (protocol.Target, error) {
	if strings.TrimSpace(name) == "" {
		return protocol.Target{}, nil
	}
	if _, err := s.FetchCatalog(ctx); err != nil && !errors.Is(err, ErrCatalogIncomplete) {
		return protocol.Target{}, err
	}
	e, ok := s.catalog.FindByName(name)
	if !ok {
		return protocol.Target{}, fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}
	return protocol.Target{Cluster: e.Cluster, Name: e.Name}, nil
}

// Raw builds a frame from a hex tag and hex payload and sends it.
func (s *Session) Raw(tagHex, payloadHex string) error {
	tag, err := protocol.ParseTag(tagHex)
	if err != nil {
		return err
	}
	frame, err := protocol.BuildFrame(tag, payloadHex, protocol.DefaultPad)
	if err != nil {
		return err
	}
	return s.Send(frame, protocol.DeliveryAuto)
}
