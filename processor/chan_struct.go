package processor

import (
	"github.com/xaionaro-go/avstack/frame"
)

type ChanStruct struct {
	InputFrameCh  chan frame.Input
	OutputFrameCh chan frame.Output
	ErrorCh       chan error
}

func NewChanStruct(
	inputFrameQueueSize uint,
	outputFrameQueueSize uint,
	errorQueueSize uint,
) *ChanStruct {
	return &ChanStruct{
		InputFrameCh:  make(chan frame.Input, inputFrameQueueSize),
		OutputFrameCh: make(chan frame.Output, outputFrameQueueSize),
		ErrorCh:       make(chan error, errorQueueSize),
	}
}
