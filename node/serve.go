package node

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/logger"
	"github.com/xaionaro-go/avstack/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

// Serve pulls the processor's output and pushes every frame to the
// downstream nodes until the context is cancelled or the processor's
// output is drained. Errors are reported through errCh (when non-nil).
func (n *Node[T]) Serve(
	ctx context.Context,
	serveConfig ServeConfig,
	errCh chan<- Error,
) {
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	ctx = belt.WithField(ctx, "node_ptr", fmt.Sprintf("%p", n))
	ctx = belt.WithField(ctx, "processor", n.Processor.String())
	logger.Tracef(ctx, "Serve[%s]", n)
	defer func() { logger.Tracef(ctx, "/Serve[%s]", n) }()

	sendErr := func(err error) {
		logger.Debugf(ctx, "Serve[%s]: sendErr(%v)", n, err)
		if errCh == nil {
			return
		}
		select {
		case errCh <- Error{
			Node: n,
			Err:  err,
		}:
		default:
			logger.Errorf(ctx, "error queue is full, cannot send error: '%v'", err)
		}
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logger.Errorf(ctx, "got panic in Node[%s]: %v:\n%s\n", n, r, debug.Stack())
	}()

	if err := xsync.DoR1(ctx, &n.Locker, func() error {
		if n.IsServing {
			return ErrAlreadyStarted{}
		}
		n.IsServing = true
		return nil
	}); err != nil {
		sendErr(err)
		return
	}
	defer func() {
		n.Locker.Do(ctx, func() {
			n.IsServing = false
		})
	}()

	procEndCtx := ctx
	procErrCh := n.Processor.ErrorChan()
	for {
		select {
		case <-procEndCtx.Done():
			logger.Debugf(ctx, "Serve[%s]: initiating closing", n)
			var wg sync.WaitGroup
			defer wg.Wait()
			wg.Add(1)
			observability.Go(ctx, func(ctx context.Context) {
				defer wg.Done()
				if err := n.Processor.Close(ctx); err != nil {
					sendErr(fmt.Errorf("unable to close the processing node: %w", err))
				}
			})
			procEndCtx = context.Background()
		case err, ok := <-procErrCh:
			if !ok {
				procErrCh = nil
				continue
			}
			if err != nil {
				sendErr(err)
			}
		case output, ok := <-n.Processor.OutputFrameChan():
			if !ok {
				sendErr(io.EOF)
				return
			}
			logger.Tracef(ctx, "pulled from %s a %s frame with pts %d", n.Processor, output.GetMediaType(), output.GetPTS())
			n.Locker.Do(ctx, func() {
				n.pushFurther(ctx, output, &serveConfig)
			})
		}
	}
}

func (n *Node[T]) pushFurther(
	ctx context.Context,
	output frame.Output,
	serveConfig *ServeConfig,
) {
	defer frame.Pool.Put(output.Frame)

	counters := n.Processor.CountersPtr()
	mediaType := types.MediaType(output.GetMediaType())
	objSize := uint64(output.GetSize())

	for _, pushTo := range n.PushFramesTos {
		input := frame.BuildInput(
			frame.CloneAsReferenced(output.Frame),
			output.Pos,
			output.StreamInfo,
		)
		if pushTo.Condition != nil && !pushTo.Condition.Match(ctx, input) {
			frame.Pool.Put(input.Frame)
			continue
		}
		if cond := pushTo.Node.GetInputFrameCondition(); cond != nil && !cond.Match(ctx, input) {
			frame.Pool.Put(input.Frame)
			continue
		}

		inputCh := pushTo.Node.GetProcessor().InputFrameChan()
		if serveConfig.FrameDrop {
			select {
			case <-ctx.Done():
				frame.Pool.Put(input.Frame)
				return
			case inputCh <- input:
				counters.Frames.Sent.Increment(mediaType, objSize)
			default:
				logger.Debugf(ctx, "dropping a frame: %s is not keeping up", pushTo.Node)
				counters.Frames.Missed.Increment(mediaType, objSize)
				frame.Pool.Put(input.Frame)
			}
			continue
		}
		select {
		case <-ctx.Done():
			frame.Pool.Put(input.Frame)
			return
		case inputCh <- input:
			counters.Frames.Sent.Increment(mediaType, objSize)
		}
	}
}
