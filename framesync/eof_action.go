// eof_action.go defines the per-input end-of-stream policies.

package framesync

import (
	"fmt"
)

// EOFAction defines what happens to the whole synchronizer when one of
// its inputs runs out of frames.
type EOFAction int

const (
	// EOFActionUndefined indicates that no action has been set.
	EOFActionUndefined EOFAction = iota
	// EOFActionStop finishes the synchronizer as soon as this input ends.
	EOFActionStop
	// EOFActionInfinity extends the ended input by repeating its last
	// frame forever.
	EOFActionInfinity
)

func (a EOFAction) String() string {
	switch a {
	case EOFActionUndefined:
		return "<undefined>"
	case EOFActionStop:
		return "stop"
	case EOFActionInfinity:
		return "infinity"
	default:
		return fmt.Sprintf("<unknown:%d>", int(a))
	}
}
