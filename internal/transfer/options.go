package transfer

import (
	"time"

	"github.com/chaz8081/skellyctl/internal/ble/protocol"
)

// Options configures an Engine.
type Options struct {
	ChunkSize int // data bytes per chunk frame

	// Conservative sends chunk 0 acknowledged, waits for late drop
	// notices before ending, and adapts pacing to loss.
	Conservative bool
	Pacing       PacingOptions

	StartTimeout    time.Duration // start ack
	AckTimeout      time.Duration // each end-ack / drop-notice race
	ResendWait      time.Duration // floor for the wait after each end-phase resend
	SettleBeforeEnd time.Duration // conservative only; floor for the pause before ending
	RecoveryWindow  time.Duration // drop-notice listening window after a failed end ack
	RecoveryPoll    time.Duration // longest single wait inside the recovery window
	FinalEndTimeout time.Duration // end ack after recovery
	CommitSettle    time.Duration // pause before the commit frame
	CommitTimeout   time.Duration // commit ack; covers the flash write

	MaxEndAttempts  int // end-ack race iterations
	MaxChunkResends int // resends per dropped chunk in the end phase
}

// DefaultOptions suits links that take unacknowledged writes well.
func DefaultOptions() Options {
	return Options{
		ChunkSize:       protocol.DefaultChunkSize,
		Pacing:          DefaultPacing(),
		StartTimeout:    5 * time.Second,
		AckTimeout:      5 * time.Second,
		ResendWait:      1500 * time.Millisecond,
		SettleBeforeEnd: 500 * time.Millisecond,
		RecoveryWindow:  4 * time.Second,
		RecoveryPoll:    time.Second,
		FinalEndTimeout: 10 * time.Second,
		CommitSettle:    200 * time.Millisecond,
		CommitTimeout:   15 * time.Second,
		MaxEndAttempts:  100,
		MaxChunkResends: 6,
	}
}

// ConservativeOptions uses small chunks, slower adaptive pacing and
// longer ack waits for lossy links.
func ConservativeOptions() Options {
	o := DefaultOptions()
	o.ChunkSize = protocol.ConservativeChunkSize
	o.Conservative = true
	o.Pacing = ConservativePacing()
	o.AckTimeout = 8 * time.Second
	return o
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.Pacing == (PacingOptions{}) {
		o.Pacing = d.Pacing
	}
	durations := []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&o.StartTimeout, d.StartTimeout},
		{&o.AckTimeout, d.AckTimeout},
		{&o.ResendWait, d.ResendWait},
		{&o.RecoveryWindow, d.RecoveryWindow},
		{&o.RecoveryPoll, d.RecoveryPoll},
		{&o.FinalEndTimeout, d.FinalEndTimeout},
		{&o.CommitTimeout, d.CommitTimeout},
	}
	for _, f := range durations {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	if o.MaxEndAttempts <= 0 {
		o.MaxEndAttempts = d.MaxEndAttempts
	}
	if o.MaxChunkResends <= 0 {
		o.MaxChunkResends = d.MaxChunkResends
	}
	return o
}
