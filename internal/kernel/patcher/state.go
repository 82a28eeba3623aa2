package patcher

import (
	"fmt"

	"github.com/looplab/fsm"
)

// states about one patch
const (
	StateUnapplied = "unapplied" // live word is the original value
	StateApplied   = "applied"   // replacement word has been written
	StateVerified  = "verified"  // replacement word confirmed after apply
	StateFailed    = "failed"    // absorbing, reachable from any state
)

// events about one patch
const (
	EventApply  = "apply"
	EventVerify = "verify"
	EventRevert = "revert"
	EventFail   = "fail"
)

// Fault classifies why a patch failed.
type Fault uint8

// fault taxonomy
const (
	FaultNone     Fault = iota
	FaultAccess         // region unmapped or read failed
	FaultMismatch       // live word differs from the expected original, or offset resolution failed
	FaultWrite          // store failed or did not stick
	FaultCorrupt        // live word is neither the original nor the patched value
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultAccess:
		return "access denied"
	case FaultMismatch:
		return "mismatch"
	case FaultWrite:
		return "write failure"
	case FaultCorrupt:
		return "corrupted"
	default:
		return fmt.Sprintf("unknown fault %d", uint8(f))
	}
}

// unit is the runtime state of one descriptor inside an applier.
type unit struct {
	desc Descriptor
	fsm  *fsm.FSM

	// offset after signature resolution, equals desc.Offset when the
	// descriptor carries a fixed offset
	offset   uint64
	resolved bool

	attempted bool
	skipped   bool
	fault     Fault
	err       error
}

func newUnit(desc Descriptor) *unit {
	failEvent := fsm.EventDesc{
		Name: EventFail,
		Src:  []string{StateUnapplied, StateApplied, StateVerified},
		Dst:  StateFailed,
	}
	events := []fsm.EventDesc{
		{Name: EventApply, Src: []string{StateUnapplied}, Dst: StateApplied},
		{Name: EventVerify, Src: []string{StateApplied}, Dst: StateVerified},
		{Name: EventRevert, Src: []string{StateApplied, StateVerified}, Dst: StateUnapplied},
		failEvent,
	}
	return &unit{
		desc:   desc,
		fsm:    fsm.NewFSM(StateUnapplied, events, nil),
		offset: desc.Offset,
	}
}

func (u *unit) state() string {
	return u.fsm.Current()
}

func (u *unit) transition(event string) {
	err := u.fsm.Event(event)
	if err != nil {
		panic(fmt.Sprintf("patcher: internal error: %s", err))
	}
}

func (u *unit) fail(fault Fault, err error) {
	u.fault = fault
	u.err = err
	u.transition(EventFail)
}
