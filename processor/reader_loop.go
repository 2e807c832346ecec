package processor

import (
	"context"
	"fmt"
	"io"

	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/kernel"
	"github.com/xaionaro-go/avstack/logger"
	"github.com/xaionaro-go/avstack/types"
)

type Kernel interface {
	kernel.SendInputFramer
	kernel.CloseChaner
}

func readerLoop(
	ctx context.Context,
	inputFramesChan <-chan frame.Input,
	kernel Kernel,
	outputFramesCh chan<- frame.Output,
	counters *Counters,
) (_err error) {
	logger.Debugf(ctx, "readerLoop[%s]: chan %p", kernel, inputFramesChan)
	defer func() { logger.Debugf(ctx, "/readerLoop[%s]: chan %p: %v", kernel, inputFramesChan, _err) }()

	send := func(ctx context.Context, f frame.Input) error {
		mediaType := mediaTypeOf(&f)
		objSize := uint64(f.GetSize())
		counters.Frames.Received.Increment(mediaType, objSize)
		err := kernel.SendInputFrame(ctx, f, outputFramesCh)
		frame.Pool.Put(f.Frame)
		if err != nil {
			return err
		}
		counters.Frames.Processed.Increment(mediaType, objSize)
		return nil
	}

	// drain whatever was already queued when the loop is ending
	defer func() {
		for {
			select {
			case f, ok := <-inputFramesChan:
				if !ok {
					return
				}
				logger.Tracef(ctx, "readerLoop[%s](closing): received a frame with pts %d", kernel, f.GetPTS())
				if err := send(ctx, f); err != nil {
					logger.Errorf(ctx, "readerLoop[%s](closing): unable to send frame: %v", kernel, err)
					return
				}
			default:
				return
			}
		}
	}()

	ch := kernel.CloseChan()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			return io.EOF
		case f, ok := <-inputFramesChan:
			if !ok {
				return io.EOF
			}
			logger.Tracef(ctx, "readerLoop[%s]: received a frame with pts %d", kernel, f.GetPTS())
			if err := send(ctx, f); err != nil {
				return fmt.Errorf("unable to send frame: %w", err)
			}
		}
	}
}

func mediaTypeOf(f *frame.Input) types.MediaType {
	return types.MediaType(f.GetMediaType())
}
