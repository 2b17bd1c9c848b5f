// Package transfer implements the chunked, acknowledged upload of a file
// to the device: start handshake, paced streaming with device-requested
// retransmits, the end-ack race, end-failure recovery and the final
// commit under the file's name.
package transfer

import "fmt"

// Phase is where an upload currently is.
type Phase int

const (
	Idle Phase = iota
	Starting
	Streaming
	Draining
	Ending
	Recovering
	Committing
	Complete
)

var phaseNames = [...]string{
	Idle:       "idle",
	Starting:   "starting",
	Streaming:  "streaming",
	Draining:   "draining",
	Ending:     "ending",
	Recovering: "recovering",
	Committing: "committing",
	Complete:   "complete",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}
