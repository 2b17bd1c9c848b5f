package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/skellyctl/internal/ble/protocol"
	"github.com/chaz8081/skellyctl/internal/ble/waiter"
)

// start announces the upload and returns the chunk to stream from.
func (e *Engine) start(ctx context.Context, s *session) (int, error) {
	e.setPhase(s, Starting)
	if err := e.checkpoint(ctx, s); err != nil {
		return 0, err
	}
	p := e.waiters.Expect(e.opts.StartTimeout, protocol.PrefixStartAck[:])
	frame := protocol.StartTransfer(uint32(len(s.data)), uint16(s.chunkCount), s.name)
	if err := e.send(frame, protocol.DeliveryAuto); err != nil {
		p.Cancel()
		return 0, err
	}
	n, err := e.await(ctx, p)
	if err != nil {
		return 0, err
	}
	ack, ok := n.(protocol.StartAck)
	if !ok {
		return 0, fmt.Errorf("%w: start ack decoded as %s", protocol.ErrMalformed, n.Kind())
	}
	if ack.Failed {
		return 0, ErrRejected
	}

	idx := int(ack.Written) / s.chunkSize
	if idx > s.chunkCount {
		slog.Warn("[XFER] device reports more bytes written than the file holds, starting over", "written", ack.Written)
		idx = 0
	}
	if idx > 0 {
		slog.Warn("[XFER] resuming", "chunk", idx, "written", ack.Written)
	}
	s.res.StartIndex = idx
	return idx, nil
}

// stream sends fresh chunks from idx. Queued retransmits are drained
// before the next fresh chunk; a mid-stream end failure stops streaming.
func (e *Engine) stream(ctx context.Context, s *session, idx int) error {
	e.setPhase(s, Streaming)
	for idx < s.chunkCount {
		if err := e.checkpoint(ctx, s); err != nil {
			return err
		}
		if r, ok := e.takeRedirect(s); ok {
			if r > idx {
				slog.Warn("[XFER] ignoring resume index past unsent chunks", "index", r, "next", idx)
			} else {
				slog.Warn("[XFER] device moved chunk cursor", "from", idx, "to", r)
				idx = r
			}
		}
		if e.endFailedMidStream(s) {
			slog.Warn("[XFER] end failure signalled mid-stream, stopping fresh chunks", "chunk", idx)
			break
		}
		if e.pendingRetransmits(s) {
			if s.pacing.OnRetransmit() {
				slog.Warn("[XFER] adaptive pacing", "interval", s.pacing.Interval(), "reason", "drop notice")
			}
			slog.Warn("[XFER] drop notice queued, draining before next chunk", "chunk", idx)
			if err := e.drain(ctx, s); err != nil {
				return err
			}
			e.setPhase(s, Streaming)
			continue
		}

		e.setChunk(s, idx)
		if err := e.send(protocol.Chunk(s.payload(idx)), e.chunkDelivery(idx)); err != nil {
			return err
		}
		s.res.ChunksSent++
		e.observer().Progress(idx+1, s.chunkCount)
		e.sleep(ctx, s.pacing.Interval())
		if s.pacing.OnClean() {
			slog.Info("[XFER] adaptive pacing", "interval", s.pacing.Interval(), "reason", "clean streak")
		}
		idx++
	}

	if e.opts.Conservative && !e.endFailedMidStream(s) {
		// Late drop notices tend to trail the last chunk.
		e.sleep(ctx, max(e.opts.SettleBeforeEnd, 3*s.pacing.Interval()))
	}
	if e.pendingRetransmits(s) {
		return e.drain(ctx, s)
	}
	return nil
}

// drain resends queued chunks, each index at most once per pass.
func (e *Engine) drain(ctx context.Context, s *session) error {
	e.setPhase(s, Draining)
	return e.resendQueued(ctx, s)
}

func (e *Engine) resendQueued(ctx context.Context, s *session) error {
	seen := make(map[int]bool)
	for {
		idx, ok := e.popRetransmit(s)
		if !ok {
			return nil
		}
		if err := e.checkpoint(ctx, s); err != nil {
			return err
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		sent, err := e.resend(s, idx)
		if err != nil {
			return err
		}
		if !sent {
			continue
		}
		if s.pacing.OnRetransmit() {
			slog.Warn("[XFER] adaptive pacing", "interval", s.pacing.Interval(), "reason", "retransmit")
		}
		e.sleep(ctx, s.pacing.Interval())
	}
}

// resend writes a cached chunk again. A chunk that was never sent is
// logged and skipped.
func (e *Engine) resend(s *session, idx int) (bool, error) {
	payload, ok := s.cache[idx]
	if !ok {
		slog.Warn("[XFER] retransmit requested for chunk not in cache", "chunk", idx)
		return false, nil
	}
	e.setChunk(s, idx)
	slog.Warn("[XFER] retransmit", "chunk", idx)
	s.res.Retransmits++
	e.observer().Retransmit(idx)
	if err := e.send(protocol.Chunk(payload), e.chunkDelivery(idx)); err != nil {
		return false, err
	}
	return true, nil
}

// expectEnd races an end ack against a drop notice.
func (e *Engine) expectEnd(timeout time.Duration) *waiter.Pending {
	return e.waiters.Expect(timeout, protocol.PrefixEndAck[:], protocol.PrefixDropNotice[:])
}

// end closes the stream and waits for the end ack, servicing drop
// notices in between.
func (e *Engine) end(ctx context.Context, s *session) (protocol.EndAck, error) {
	e.setPhase(s, Ending)
	if err := e.checkpoint(ctx, s); err != nil {
		return protocol.EndAck{}, err
	}
	// Drop notices that landed between the last drain and the phase
	// switch are still queued.
	if e.pendingRetransmits(s) {
		if err := e.resendQueued(ctx, s); err != nil {
			return protocol.EndAck{}, err
		}
	}
	p := e.expectEnd(e.opts.AckTimeout)
	if err := e.send(protocol.EndTransfer(), protocol.DeliveryAuto); err != nil {
		p.Cancel()
		return protocol.EndAck{}, err
	}

	attempts := 0
	for {
		n, err := e.await(ctx, p)
		switch {
		case transient(err):
			attempts++
			slog.Warn("[XFER] no end ack yet", "attempt", attempts, "max", e.opts.MaxEndAttempts)
		case err != nil:
			return protocol.EndAck{}, err
		default:
			switch v := n.(type) {
			case protocol.EndAck:
				return v, nil
			case protocol.DropNotice:
				if v.Failed {
					ack, done, err := e.resendDropped(ctx, s, int(v.Index), &attempts)
					if err != nil || done {
						return ack, err
					}
				}
				attempts++
			}
		}
		if attempts >= e.opts.MaxEndAttempts {
			return protocol.EndAck{}, ErrTimeout
		}
		if err := e.checkpoint(ctx, s); err != nil {
			return protocol.EndAck{}, err
		}
		p = e.expectEnd(e.opts.AckTimeout)
	}
}

// resendDropped resends idx up to MaxChunkResends times, racing an end
// ack against further drop notices after each send. When the device
// names a different chunk the resends restart for it; each switch counts
// against the end-phase attempt budget. done reports an end ack.
func (e *Engine) resendDropped(ctx context.Context, s *session, idx int, attempts *int) (ack protocol.EndAck, done bool, err error) {
	wait := max(e.opts.ResendWait, 4*e.opts.Pacing.Base)
	for try := 1; try <= e.opts.MaxChunkResends; try++ {
		if err := e.checkpoint(ctx, s); err != nil {
			return ack, false, err
		}
		slog.Warn("[XFER] device requests chunk", "chunk", idx, "attempt", try, "max", e.opts.MaxChunkResends)
		p := e.expectEnd(wait)
		sent, err := e.resend(s, idx)
		if err != nil || !sent {
			p.Cancel()
			return ack, false, err
		}

		n, err := e.await(ctx, p)
		if transient(err) {
			e.sleep(ctx, s.pacing.Interval())
			continue
		}
		if err != nil {
			return ack, false, err
		}
		switch v := n.(type) {
		case protocol.EndAck:
			return v, true, nil
		case protocol.DropNotice:
			if !v.Failed || int(v.Index) == idx {
				continue
			}
			*attempts++
			if *attempts >= e.opts.MaxEndAttempts {
				return ack, false, ErrTimeout
			}
			slog.Warn("[XFER] device switched chunk request", "chunk", v.Index, "was", idx)
			idx = int(v.Index)
			try = 0
		}
	}
	return ack, false, nil
}

// recover runs after a failed end ack: it services late drop notices for
// one window, then resends the end frame once. A second failure is fatal.
func (e *Engine) recover(ctx context.Context, s *session) error {
	e.setPhase(s, Recovering)
	slog.Warn("[XFER] end ack reported failure, running one extra retransmit pass", "window", e.opts.RecoveryWindow)

	deadline := time.Now().Add(e.opts.RecoveryWindow)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		if err := e.checkpoint(ctx, s); err != nil {
			return err
		}
		p := e.waiters.Expect(min(e.opts.RecoveryPoll, left), protocol.PrefixDropNotice[:])
		n, err := e.await(ctx, p)
		if transient(err) {
			continue
		}
		if err != nil {
			return err
		}
		if v, ok := n.(protocol.DropNotice); ok && v.Failed {
			sent, err := e.resend(s, int(v.Index))
			if err != nil {
				return err
			}
			if sent {
				e.sleep(ctx, s.pacing.Interval())
			}
		}
	}

	if err := e.checkpoint(ctx, s); err != nil {
		return err
	}
	p := e.waiters.Expect(e.opts.FinalEndTimeout, protocol.PrefixEndAck[:])
	slog.Warn("[XFER] resending end frame")
	if err := e.send(protocol.EndTransfer(), protocol.DeliveryAuto); err != nil {
		p.Cancel()
		return err
	}
	n, err := e.await(ctx, p)
	if err != nil {
		return err
	}
	if ack, ok := n.(protocol.EndAck); !ok || ack.Failed {
		return ErrRejected
	}
	return nil
}

// commit asks the device to store the upload under its name.
func (e *Engine) commit(ctx context.Context, s *session) error {
	e.setPhase(s, Committing)
	e.sleep(ctx, e.opts.CommitSettle)
	if err := e.checkpoint(ctx, s); err != nil {
		return err
	}
	p := e.waiters.Expect(e.opts.CommitTimeout, protocol.PrefixRenameAck[:])
	if err := e.send(protocol.CommitTransfer(s.name), protocol.DeliveryAuto); err != nil {
		p.Cancel()
		return err
	}
	n, err := e.await(ctx, p)
	if err != nil {
		return err
	}
	if ack, ok := n.(protocol.RenameAck); !ok || ack.Failed {
		return ErrRejected
	}
	return nil
}
