// passthrough.go implements a kernel that forwards frames unchanged.

package kernel

import (
	"context"

	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/helpers/closuresignaler"
	"github.com/xaionaro-go/avstack/logger"
)

// Passthrough forwards every input frame to the output untouched. It is
// useful for wiring and testing node graphs.
type Passthrough struct {
	*closuresignaler.ClosureSignaler
}

var _ Abstract = (*Passthrough)(nil)

func NewPassthrough() *Passthrough {
	return &Passthrough{
		ClosureSignaler: closuresignaler.New(),
	}
}

func (p *Passthrough) String() string {
	return "Passthrough"
}

func (p *Passthrough) SendInputFrame(
	ctx context.Context,
	input frame.Input,
	outputFramesCh chan<- frame.Output,
) error {
	output := frame.BuildOutput(frame.CloneAsReferenced(input.Frame), input.StreamInfo)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case outputFramesCh <- output:
	}
	return nil
}

func (p *Passthrough) Generate(
	ctx context.Context,
	outputFramesCh chan<- frame.Output,
) error {
	return nil
}

func (p *Passthrough) Close(ctx context.Context) error {
	logger.Tracef(ctx, "Close")
	defer logger.Tracef(ctx, "/Close")
	p.ClosureSignaler.Close(ctx)
	return nil
}
