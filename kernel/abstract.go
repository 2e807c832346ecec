// Package kernel contains the processing kernels of avstack. A kernel
// consumes input frames and pushes the resulting frames into an output
// channel; serving (channels, goroutines, statistics) is the node
// layer's job.
package kernel

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avstack/frame"
)

type Abstract interface {
	SendInputFramer
	fmt.Stringer
	Closer
	CloseChaner
	Generator
}

type SendInputFramer interface {
	SendInputFrame(
		ctx context.Context,
		input frame.Input,
		outputFramesCh chan<- frame.Output,
	) error
}

type Generator interface {
	Generate(
		ctx context.Context,
		outputFramesCh chan<- frame.Output,
	) error
}

type Closer interface {
	Close(ctx context.Context) error
}

type CloseChaner interface {
	CloseChan() <-chan struct{}
}
