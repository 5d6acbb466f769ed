// Package specrt implements the speculative execution runtime: a process
// per worker, each running one pipeline stage's body across a slice of
// loop iterations, coordinating through a channel-mode state machine that
// detects misspeculation and drives recovery.
package specrt

import "fmt"

// ChannelMode is the state of one worker's communication channel with its
// neighbors in the pipeline.
type ChannelMode int

const (
	// VerOK: speculation is proceeding normally, nothing has violated yet.
	VerOK ChannelMode = iota
	// VerMisspec: a dependence violation was detected; the worker must
	// stop producing further speculative results and wait for recovery.
	VerMisspec
	// VerTerm: the worker has reached the end of its iteration range and
	// is shutting down normally.
	VerTerm
	// VerRecover: the pipeline is replaying the mis-speculated region
	// non-speculatively to reconstruct correct state.
	VerRecover
)

func (m ChannelMode) String() string {
	switch m {
	case VerOK:
		return "VER_OK"
	case VerMisspec:
		return "VER_MISSPEC"
	case VerTerm:
		return "VER_TERM"
	case VerRecover:
		return "VER_RECOVER"
	default:
		return "?"
	}
}

// transitions enumerates every legal ChannelMode change; anything not
// listed here is a runtime bug, not a recoverable condition.
var transitions = map[ChannelMode]map[ChannelMode]bool{
	VerOK:       {VerOK: true, VerMisspec: true, VerTerm: true},
	VerMisspec:  {VerRecover: true},
	VerRecover:  {VerOK: true},
	VerTerm:     {},
}

// Channel tracks one worker's channel mode and enforces that only legal
// transitions occur.
type Channel struct {
	mode ChannelMode
}

// NewChannel creates a channel starting in VerOK.
func NewChannel() *Channel {
	return &Channel{mode: VerOK}
}

// Mode returns the current state.
func (c *Channel) Mode() ChannelMode { return c.mode }

// Transition moves the channel to next, or returns an error if the
// transition is not legal from the current mode.
func (c *Channel) Transition(next ChannelMode) error {
	if !transitions[c.mode][next] {
		return fmt.Errorf("specrt: illegal channel transition %s -> %s", c.mode, next)
	}

	c.mode = next

	return nil
}
