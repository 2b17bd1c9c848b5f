package transfer

import "time"

// PacingOptions tunes the delay between chunk sends.
type PacingOptions struct {
	Base     time.Duration // starting interval
	Floor    time.Duration // never speed up past this
	Ceiling  time.Duration // never slow down past this
	StepDown time.Duration // decrease after a clean run
	StepUp   time.Duration // increase per retransmit
	CleanRun int           // clean chunks needed before a decrease
	Adaptive bool          // false keeps the interval fixed at Base
}

// DefaultPacing is a fixed 50ms gap.
func DefaultPacing() PacingOptions {
	return PacingOptions{
		Base:     50 * time.Millisecond,
		Floor:    80 * time.Millisecond,
		Ceiling:  250 * time.Millisecond,
		StepDown: 10 * time.Millisecond,
		StepUp:   20 * time.Millisecond,
		CleanRun: 20,
	}
}

// ConservativePacing starts slow and adapts to loss, for links that drop
// bursts of unacknowledged writes.
func ConservativePacing() PacingOptions {
	p := DefaultPacing()
	p.Base = 150 * time.Millisecond
	p.Adaptive = true
	return p
}

// PacingController adjusts the inter-chunk interval: additive decrease
// after every CleanRun clean chunks, additive increase on each retransmit.
type PacingController struct {
	opts     PacingOptions
	interval time.Duration
	clean    int
}

// NewPacingController starts at opts.Base.
func NewPacingController(opts PacingOptions) *PacingController {
	if opts.CleanRun <= 0 {
		opts.CleanRun = 20
	}
	return &PacingController{opts: opts, interval: opts.Base}
}

// Interval is the current delay between chunks.
func (p *PacingController) Interval() time.Duration {
	return p.interval
}

// OnClean records a chunk sent with no drop signalled. Reports whether
// the interval changed.
func (p *PacingController) OnClean() bool {
	if !p.opts.Adaptive {
		return false
	}
	p.clean++
	if p.clean%p.opts.CleanRun != 0 || p.interval <= p.opts.Floor {
		return false
	}
	p.interval = max(p.interval-p.opts.StepDown, p.opts.Floor)
	return true
}

// OnRetransmit backs off and resets the clean streak. Reports whether the
// interval changed.
func (p *PacingController) OnRetransmit() bool {
	if !p.opts.Adaptive {
		return false
	}
	p.clean = 0
	prev := p.interval
	p.interval = min(p.interval+p.opts.StepUp, p.opts.Ceiling)
	return p.interval != prev
}
