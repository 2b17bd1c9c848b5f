package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/skellyctl/internal/ble/protocol"
	"github.com/chaz8081/skellyctl/internal/ble/waiter"
)

// Link is the transport the engine writes through.
type Link interface {
	Send(frame []byte, d protocol.Delivery) error
	Connected() bool
}

// Observer receives upload events on the upload goroutine.
type Observer interface {
	Phase(p Phase)
	Progress(sent, total int)
	Retransmit(index int)
}

type nopObserver struct{}

func (nopObserver) Phase(Phase)       {}
func (nopObserver) Progress(int, int) {}
func (nopObserver) Retransmit(int)    {}

// Result summarises an upload.
type Result struct {
	Bytes       int
	Chunks      int
	StartIndex  int // first chunk streamed, >0 when the device resumed
	ChunksSent  int // fresh chunk frames sent
	Retransmits int
	Elapsed     time.Duration
}

// Throughput returns bytes per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Elapsed.Seconds()
}

// Engine runs one upload at a time. Inbound notifications must be fed to
// HandleNotification and dispatched to the shared waiter table.
type Engine struct {
	link    Link
	waiters *waiter.Table
	opts    Options

	mu     sync.Mutex
	obs    Observer
	active *session
}

// New returns an idle engine.
func New(link Link, waiters *waiter.Table, opts Options) *Engine {
	return &Engine{
		link:    link,
		waiters: waiters,
		opts:    opts.withDefaults(),
		obs:     nopObserver{},
	}
}

// SetObserver replaces the event sink; nil restores the no-op sink.
func (e *Engine) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.mu.Lock()
	e.obs = o
	e.mu.Unlock()
}

// Active reports whether an upload is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

// Phase returns the running upload's phase, Idle when none.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return Idle
	}
	return e.active.phase
}

// Cancel flags the running upload for cancellation. The upload unwinds
// with ErrCancelled at its next checkpoint; a send already in flight
// completes first. The device-side cancel frame is the caller's job.
// Reports whether an upload was running.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.active
	if s == nil {
		return false
	}
	s.cancelled = true
	s.cancel()
	return true
}

// HandleNotification feeds the running upload. Drop notices are queued
// while streaming; a failed end ack before the end phase stops fresh
// chunks; a resume-written report can rewind the chunk cursor to the
// device's write position, but never forward past unsent chunks. Never
// blocks on the upload.
func (e *Engine) HandleNotification(n protocol.Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.active
	if s == nil {
		return
	}
	streaming := s.phase == Streaming || s.phase == Draining

	switch v := n.(type) {
	case protocol.DropNotice:
		if v.Failed && streaming {
			s.queue = append(s.queue, int(v.Index))
		}
	case protocol.EndAck:
		if v.Failed && streaming {
			s.endFailed = true
		}
	case protocol.ResumeWritten:
		if !streaming {
			return
		}
		idx := int(v.Written) / s.chunkSize
		if idx >= s.chunkCount {
			slog.Warn("[XFER] ignoring out-of-range resume index", "index", idx, "chunks", s.chunkCount)
			return
		}
		s.redirect = idx
	}
}

// Upload sends data to the device under name and blocks until the
// device commits it or the upload fails. Failures are *Error values
// wrapping ErrRejected, ErrTimeout, ErrCancelled or ErrDisconnected.
func (e *Engine) Upload(ctx context.Context, data []byte, name string) (Result, error) {
	name = strings.TrimSpace(name)
	if len(data) == 0 {
		return Result{}, errors.New("transfer: empty file")
	}
	if name == "" {
		return Result{}, errors.New("transfer: file name required")
	}
	count := protocol.ChunkCount(len(data), e.opts.ChunkSize)
	if count > math.MaxUint16 || uint64(len(data)) > math.MaxUint32 {
		return Result{}, fmt.Errorf("transfer: %d bytes needs %d chunks, limit is %d", len(data), count, math.MaxUint16)
	}
	if !e.link.Connected() {
		return Result{}, &Error{Phase: Idle, Chunk: -1, Err: ErrDisconnected}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s := newSession(data, name, e.opts)
	s.cancel = cancel

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return Result{}, ErrBusy
	}
	e.active = s
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active = nil
		e.mu.Unlock()
	}()

	slog.Info("[XFER] upload", "name", name, "bytes", len(data), "chunks", count, "chunk_size", s.chunkSize)
	err := e.run(ctx, s)
	s.res.Elapsed = time.Since(s.started)
	if err != nil {
		e.mu.Lock()
		phase, chunk := s.phase, s.chunk
		e.mu.Unlock()
		slog.Error("[XFER] upload failed", "phase", phase, "chunk", chunk, "error", err)
		return s.res, &Error{Phase: phase, Chunk: chunk, Err: err}
	}

	e.setPhase(s, Complete)
	slog.Info("[XFER] file transfer complete",
		"kb", fmt.Sprintf("%.1f", float64(len(data))/1024),
		"elapsed", s.res.Elapsed.Round(time.Millisecond),
		"kb_per_sec", fmt.Sprintf("%.1f", s.res.Throughput()/1024),
		"retransmits", s.res.Retransmits)
	return s.res, nil
}

func (e *Engine) run(ctx context.Context, s *session) error {
	start, err := e.start(ctx, s)
	if err != nil {
		return err
	}
	if err := e.stream(ctx, s, start); err != nil {
		return err
	}
	ack, err := e.end(ctx, s)
	if err != nil {
		return err
	}
	if ack.Failed {
		if err := e.recover(ctx, s); err != nil {
			return err
		}
	}
	return e.commit(ctx, s)
}

func (e *Engine) observer() Observer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.obs
}

// send writes one frame. A failed write on a dropped link is reported as
// ErrDisconnected.
func (e *Engine) send(frame []byte, d protocol.Delivery) error {
	if err := e.link.Send(frame, d); err != nil {
		if !e.link.Connected() {
			return ErrDisconnected
		}
		return err
	}
	return nil
}

// await waits on p and decodes the frame it resolved with.
func (e *Engine) await(ctx context.Context, p *waiter.Pending) (protocol.Notification, error) {
	frame, err := p.Wait(ctx)
	switch {
	case err == nil:
	case errors.Is(err, waiter.ErrCleared):
		return nil, ErrDisconnected
	case ctx.Err() != nil:
		if !e.link.Connected() {
			return nil, ErrDisconnected
		}
		return nil, ErrCancelled
	default:
		return nil, err
	}
	n, err := protocol.Decode(frame)
	if err != nil {
		slog.Warn("[XFER] undecodable ack", "frame", protocol.HexBytes(frame), "error", err)
		return nil, err
	}
	return n, nil
}

// sleep pauses for d or until ctx is done.
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// chunkDelivery sends chunk 0 acknowledged on conservative links.
func (e *Engine) chunkDelivery(idx int) protocol.Delivery {
	if e.opts.Conservative && idx == 0 {
		return protocol.DeliveryAcknowledged
	}
	return protocol.DeliveryAuto
}

// transient reports errors that only cost one attempt of a retry loop.
func transient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, protocol.ErrMalformed)
}
