// Package processor wraps kernels with channels and serving goroutines.
package processor

import (
	"fmt"

	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/types"
)

type Abstract interface {
	fmt.Stringer
	types.Closer

	InputFrameChan() chan<- frame.Input
	OutputFrameChan() <-chan frame.Output
	ErrorChan() <-chan error

	CountersPtr() *Counters
}
