package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/kernel"
	"github.com/xaionaro-go/avstack/logger"
	"github.com/xaionaro-go/avstack/types"
	"github.com/xaionaro-go/observability"
)

// FromKernel wraps a kernel into a processor: it pumps the input channel
// through the kernel and republishes the kernel's output, counting the
// traffic on the way.
type FromKernel[T kernel.Abstract] struct {
	*ChanStruct
	Kernel T

	preOutputFramesCh chan frame.Output

	closeOnce sync.Once
	closer    *astikit.Closer
	OnClosed  func(context.Context) error

	CountersStorage *Counters
}

var _ Abstract = (*FromKernel[kernel.Abstract])(nil)

func NewFromKernel[T kernel.Abstract](
	ctx context.Context,
	kernel T,
	opts ...Option,
) *FromKernel[T] {
	opts = append([]Option{
		OptionQueueSizeInputFrame(1),
		OptionQueueSizeOutputFrame(1),
		OptionQueueSizeError(1),
	}, opts...)
	cfg := Options(opts).config()
	p := &FromKernel[T]{
		ChanStruct: NewChanStruct(
			cfg.InputFrameQueue, cfg.OutputFrameQueue,
			cfg.ErrorQueue,
		),
		Kernel: kernel,

		preOutputFramesCh: make(chan frame.Output, 1),

		CountersStorage: types.NewCounters(),
		closer:          astikit.NewCloser(),
	}
	p.startProcessing(ctx)
	return p
}

func (p *FromKernel[T]) startProcessing(ctx context.Context) {
	logger.Tracef(ctx, "startProcessing[%s]", p)
	defer func() { logger.Tracef(ctx, "/startProcessing[%s]", p) }()

	errCh := p.ErrorCh

	ctx, cancelFn := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer wg.Done()
		defer close(p.OutputFrameCh)
		for {
			select {
			case <-ctx.Done():
				return
			case outputFrame, ok := <-p.preOutputFramesCh:
				if !ok {
					return
				}
				mediaType := types.MediaType(outputFrame.GetMediaType())
				objSize := uint64(outputFrame.GetSize())
				p.CountersStorage.Frames.Generated.Increment(mediaType, objSize)
				select {
				case <-ctx.Done():
					p.CountersStorage.Frames.Missed.Increment(mediaType, objSize)
					return
				case p.OutputFrameCh <- outputFrame:
				}
			}
		}
	})

	wg.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer observability.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			logger.Tracef(ctx, "finalize[%s]", p)
			err := p.finalize(ctx)
			logger.Tracef(ctx, "/finalize[%s]: %v", p, err)
			if err != nil {
				errCh <- err
			}
			close(errCh)
		})

		var swg sync.WaitGroup
		defer swg.Wait()
		swg.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer swg.Done()
			err := p.Kernel.Generate(ctx, p.preOutputFramesCh)
			logger.Tracef(ctx, "p.Kernel[%T].Generate: %v", p, err)
			if err != nil {
				errCh <- fmt.Errorf(
					"kernel %T unable to generate traffic: %w",
					p.Kernel, err,
				)
			}
		})

		logger.Tracef(ctx, "readerLoop[%s]", p)
		err := readerLoop(
			ctx,
			p.InputFrameCh,
			p.Kernel,
			p.preOutputFramesCh,
			p.CountersStorage,
		)
		logger.Tracef(ctx, "/readerLoop[%s]: %v", p, err)
		if err != nil {
			errCh <- err
		}
	})

	var once sync.Once
	p.closer.Add(func() {
		once.Do(func() {
			logger.Tracef(ctx, "close[%s]", p)
			defer logger.Tracef(ctx, "/close[%s]", p)
			cancelFn()
			wg.Wait()
		})
	})
}

func (p *FromKernel[T]) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close[%T]", p.Kernel)
	defer func() { logger.Debugf(ctx, "/Close[%T]: %v", p.Kernel, _err) }()
	var err error
	p.closeOnce.Do(func() {
		err = p.closer.Close()
	})
	return err
}

func (p *FromKernel[T]) finalize(ctx context.Context) error {
	logger.Debugf(ctx, "closing %T", p.Kernel)
	defer close(p.preOutputFramesCh)

	var errs []error
	if err := p.Kernel.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to close the kernel: %w", err))
	}
	if p.OnClosed != nil {
		if err := p.OnClosed(ctx); err != nil {
			errs = append(errs, fmt.Errorf("OnClosed returned an error: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (p *FromKernel[T]) InputFrameChan() chan<- frame.Input {
	return p.InputFrameCh
}

func (p *FromKernel[T]) OutputFrameChan() <-chan frame.Output {
	return p.OutputFrameCh
}

func (p *FromKernel[T]) ErrorChan() <-chan error {
	return p.ErrorCh
}

func (p *FromKernel[T]) String() string {
	return p.Kernel.String()
}

func (p *FromKernel[T]) GetKernel() kernel.Abstract {
	return p.Kernel
}

func (p *FromKernel[T]) CountersPtr() *Counters {
	return p.CountersStorage
}
