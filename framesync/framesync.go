// Package framesync aligns the frames of multiple timestamped video
// inputs, so that joint processing (e.g. compositing) always sees one
// frame per input for a common presentation timestamp.
//
// Frames are fed in with Push/PushEOF; whenever every live input has a
// frame for the current synchronization timestamp, the OnEvent callback
// fires and the aligned frames become available through GetFrame.
package framesync

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avstack/avconv"
	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/helpers/closuresignaler"
	"github.com/xaionaro-go/avstack/logger"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xsync"
)

// SyncPrimary and SyncSecondary are the conventional Sync levels:
// the input with the highest level drives the synchronization.
const (
	SyncSecondary = 1
	SyncPrimary   = 2
)

// In is the per-input configuration and cursor state.
type In struct {
	// After defines what happens to the whole synchronizer when this
	// input ends.
	After EOFAction

	// Sync is the synchronization priority of this input (see
	// SyncPrimary/SyncSecondary). Events fire only on the frames of the
	// highest-priority inputs, so the event cadence is the primary's
	// frame rate; lower-priority inputs only move their cursors.
	Sync int

	// TimeBase is the time base of the frames pushed into this input.
	TimeBase astiav.Rational

	queue      []*astiav.Frame
	current    *astiav.Frame
	currentPTS typing.Optional[int64] // in the synchronizer's time base
	eof        bool
}

func (in *In) exhausted() bool {
	return in.eof && len(in.queue) == 0
}

// Sync is an N-input frame synchronizer.
//
// It is not safe to call Push/PushEOF concurrently from multiple
// goroutines for the same input; calls for different inputs are
// serialized internally.
type Sync struct {
	*closuresignaler.ClosureSignaler
	Locker xsync.Mutex

	In []In

	// OnEvent is invoked every time all live inputs are aligned on a
	// common timestamp. During the callback GetFrame(i) returns the
	// aligned frame of input i, and PTS/TimeBase describe the event's
	// timestamp.
	OnEvent func(ctx context.Context) error

	// TimeBase is the synchronizer's own time base; PTS values reported
	// for events are expressed in it.
	TimeBase astiav.Rational

	// PTS is the timestamp of the current event, in TimeBase.
	PTS int64

	syncLevel  int
	configured bool
	eof        bool
}

// New allocates a synchronizer for nbInputs inputs. The per-input
// configuration must be filled in before Configure is called.
func New(ctx context.Context, nbInputs int) (*Sync, error) {
	logger.Tracef(ctx, "New(ctx, %d)", nbInputs)
	if nbInputs < 1 {
		return nil, fmt.Errorf("the synchronizer requires at least one input, got %d", nbInputs)
	}
	return &Sync{
		ClosureSignaler: closuresignaler.New(),
		In:              make([]In, nbInputs),
	}, nil
}

func (s *Sync) String() string {
	return fmt.Sprintf("FrameSync(%d)", len(s.In))
}

// Configure freezes the per-input configuration and derives the
// synchronizer's time base from the input with the highest Sync level.
func (s *Sync) Configure(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Configure")
	defer func() { logger.Tracef(ctx, "/Configure: %v", _err) }()
	return xsync.DoA1R1(ctx, &s.Locker, s.configure, ctx)
}

func (s *Sync) configure(ctx context.Context) error {
	if s.configured {
		return fmt.Errorf("the synchronizer is already configured")
	}
	syncLevel := math.MinInt
	for i := range s.In {
		in := &s.In[i]
		if in.TimeBase.Num() == 0 || in.TimeBase.Den() == 0 {
			return fmt.Errorf("input %d has no time base set", i)
		}
		if in.After == EOFActionUndefined {
			return fmt.Errorf("input %d has no EOF action set", i)
		}
		if in.Sync > syncLevel {
			syncLevel = in.Sync
			s.TimeBase = in.TimeBase
		}
	}
	s.syncLevel = syncLevel
	s.configured = true
	return nil
}

// Push feeds one more frame of input inputIdx. The frame is cloned as
// referenced, the caller keeps the ownership of f.
//
// Returns io.EOF when the synchronizer already terminated.
func (s *Sync) Push(ctx context.Context, inputIdx int, f *astiav.Frame) (_err error) {
	logger.Tracef(ctx, "Push(ctx, %d, pts:%d)", inputIdx, f.Pts())
	defer func() { logger.Tracef(ctx, "/Push(ctx, %d): %v", inputIdx, _err) }()
	return xsync.DoR1(ctx, &s.Locker, func() error {
		if err := s.checkInput(inputIdx); err != nil {
			return err
		}
		if s.eof {
			return io.EOF
		}
		in := &s.In[inputIdx]
		if in.eof {
			return fmt.Errorf("input %d is already at EOF", inputIdx)
		}
		in.queue = append(in.queue, frame.CloneAsReferenced(f))
		return s.step(ctx)
	})
}

// PushEOF marks input inputIdx as ended.
func (s *Sync) PushEOF(ctx context.Context, inputIdx int) (_err error) {
	logger.Tracef(ctx, "PushEOF(ctx, %d)", inputIdx)
	defer func() { logger.Tracef(ctx, "/PushEOF(ctx, %d): %v", inputIdx, _err) }()
	return xsync.DoR1(ctx, &s.Locker, func() error {
		if err := s.checkInput(inputIdx); err != nil {
			return err
		}
		if s.eof {
			return nil
		}
		s.In[inputIdx].eof = true
		return s.step(ctx)
	})
}

func (s *Sync) checkInput(inputIdx int) error {
	if !s.configured {
		return fmt.Errorf("the synchronizer is not configured")
	}
	if inputIdx < 0 || inputIdx >= len(s.In) {
		return fmt.Errorf("input index %d is out of range [0, %d)", inputIdx, len(s.In))
	}
	return nil
}

// GetFrame returns the currently aligned frame of input inputIdx. It is
// valid only from within the OnEvent callback; the synchronizer keeps
// the ownership of the returned frame.
func (s *Sync) GetFrame(inputIdx int) *astiav.Frame {
	return s.In[inputIdx].current
}

// CurrentPTS returns the timestamp (in the synchronizer's time base) of
// the currently aligned frame of input inputIdx, if any.
func (s *Sync) CurrentPTS(inputIdx int) typing.Optional[int64] {
	return s.In[inputIdx].currentPTS
}

// IsEOF reports whether the synchronizer ran out of events permanently.
func (s *Sync) IsEOF(ctx context.Context) bool {
	return xsync.DoR1(ctx, &s.Locker, func() bool { return s.eof })
}

// step fires as many synchronization events as the queued frames allow.
// The synchronization timestamp advances at the earliest queued frame of
// any input, but only frames of the highest-priority inputs produce
// events.
func (s *Sync) step(ctx context.Context) error {
	for {
		if s.eof {
			return nil
		}

		allExhausted := true
		level := math.MinInt
		for i := range s.In {
			in := &s.In[i]
			if in.exhausted() {
				if in.After == EOFActionStop {
					s.markEOF(ctx)
					return nil
				}
				if in.current == nil {
					// ended before producing a single frame:
					// nothing to repeat, nothing to compose
					s.markEOF(ctx)
					return nil
				}
				continue
			}
			allExhausted = false
			if in.Sync > level {
				level = in.Sync
			}
			if len(in.queue) == 0 {
				// need more input
				return nil
			}
		}
		if allExhausted {
			s.markEOF(ctx)
			return nil
		}
		// ended inputs stop driving: the highest priority among the
		// still-live inputs defines the event cadence
		s.syncLevel = level

		target, ok := s.nextPTS()
		if !ok {
			return nil
		}
		ready, fired := s.advance(target)
		if !ready || !fired {
			// either some input has not started yet, or only
			// lower-priority cursors moved: no event at this timestamp
			continue
		}

		s.PTS = target
		if s.OnEvent != nil {
			if err := s.OnEvent(ctx); err != nil {
				return fmt.Errorf("unable to process the synchronization event at pts %d: %w", target, err)
			}
		}
	}
}

// nextPTS finds the earliest queued timestamp across all inputs,
// in the synchronizer's time base.
func (s *Sync) nextPTS() (int64, bool) {
	target := int64(math.MaxInt64)
	found := false
	for i := range s.In {
		in := &s.In[i]
		if len(in.queue) == 0 {
			continue
		}
		pts := avconv.Rescale(in.queue[0].Pts(), in.TimeBase, s.TimeBase)
		if pts < target {
			target = pts
			found = true
		}
	}
	return target, found
}

// advance moves every input's cursor to the latest frame not newer than
// target. It reports whether every input has a current frame afterwards
// and whether a highest-priority input consumed a frame (which is what
// makes the timestamp an event).
func (s *Sync) advance(target int64) (ready, fired bool) {
	ready = true
	for i := range s.In {
		in := &s.In[i]
		for len(in.queue) > 0 {
			pts := avconv.Rescale(in.queue[0].Pts(), in.TimeBase, s.TimeBase)
			if pts > target {
				break
			}
			if in.current != nil {
				frame.Pool.Put(in.current)
			}
			in.current = in.queue[0]
			in.currentPTS = typing.Opt(pts)
			in.queue = in.queue[1:]
			if in.Sync >= s.syncLevel {
				fired = true
			}
		}
		if in.current == nil {
			ready = false
		}
	}
	return ready, fired
}

func (s *Sync) markEOF(ctx context.Context) {
	s.eof = true
	s.ClosureSignaler.Close(ctx)
}

// Close releases all the frames still owned by the synchronizer.
func (s *Sync) Close(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Close")
	defer func() { logger.Tracef(ctx, "/Close: %v", _err) }()
	return xsync.DoR1(ctx, &s.Locker, func() error {
		for i := range s.In {
			in := &s.In[i]
			if in.current != nil {
				frame.Pool.Put(in.current)
				in.current = nil
			}
			frame.Pool.Put(in.queue...)
			in.queue = nil
		}
		s.ClosureSignaler.Close(ctx)
		return nil
	})
}
