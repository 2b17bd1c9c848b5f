package transfer

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaz8081/skellyctl/internal/ble/protocol"
)

// session is the state of one upload. Fields in the second group are
// shared with the notification path and guarded by Engine.mu; the rest
// belong to the upload goroutine.
type session struct {
	data       []byte
	name       string
	chunkSize  int
	chunkCount int
	cache      map[int][]byte // chunk index -> serialized chunk payload
	pacing     *PacingController
	cancel     context.CancelFunc
	started    time.Time
	res        Result

	phase     Phase
	chunk     int   // chunk being handled, -1 outside chunk work
	queue     []int // device-requested retransmits, FIFO
	endFailed bool  // failed end ack seen before the end phase
	redirect  int   // device-requested cursor, -1 when unset
	cancelled bool
}

func newSession(data []byte, name string, opts Options) *session {
	count := protocol.ChunkCount(len(data), opts.ChunkSize)
	return &session{
		data:       data,
		name:       name,
		chunkSize:  opts.ChunkSize,
		chunkCount: count,
		cache:      make(map[int][]byte, count),
		pacing:     NewPacingController(opts.Pacing),
		started:    time.Now(),
		res:        Result{Bytes: len(data), Chunks: count},
		chunk:      -1,
		redirect:   -1,
	}
}

// payload serializes chunk idx and caches it for retransmission.
func (s *session) payload(idx int) []byte {
	p := protocol.ChunkPayload(uint16(idx), protocol.ChunkData(s.data, idx, s.chunkSize))
	s.cache[idx] = p
	return p
}

func (e *Engine) setPhase(s *session, p Phase) {
	e.mu.Lock()
	s.phase = p
	s.chunk = -1
	obs := e.obs
	e.mu.Unlock()
	slog.Info("[XFER] phase", "phase", p)
	obs.Phase(p)
}

func (e *Engine) setChunk(s *session, idx int) {
	e.mu.Lock()
	s.chunk = idx
	e.mu.Unlock()
}

func (e *Engine) takeRedirect(s *session) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := s.redirect
	s.redirect = -1
	return r, r >= 0
}

func (e *Engine) popRetransmit(s *session) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, false
	}
	idx := s.queue[0]
	s.queue = s.queue[1:]
	return idx, true
}

func (e *Engine) pendingRetransmits(s *session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(s.queue) > 0
}

func (e *Engine) endFailedMidStream(s *session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.endFailed
}

// checkpoint is polled at loop iterations and phase boundaries. A lost
// link wins over cancellation, since a disconnect often cancels ctx too.
func (e *Engine) checkpoint(ctx context.Context, s *session) error {
	if !e.link.Connected() {
		return ErrDisconnected
	}
	e.mu.Lock()
	cancelled := s.cancelled
	e.mu.Unlock()
	if cancelled || ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}
