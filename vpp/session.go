// session.go defines the narrow call interface to the composition engine.

package vpp

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avstack/types"
)

// FrameCallback receives a composed output frame. The callee takes the
// ownership of the frame (and is expected to return it to frame.Pool
// eventually).
//
// The engine is not trusted to generate timestamps for composed frames;
// the callee is responsible for assigning the output PTS.
type FrameCallback func(ctx context.Context, f *astiav.Frame) error

// InputParams describes one input of the composition session.
type InputParams struct {
	Width             int
	Height            int
	PixelFormat       astiav.PixelFormat
	TimeBase          astiav.Rational
	SampleAspectRatio astiav.Rational
}

// Params mirrors the engine's session parameters.
type Params struct {
	// FrameCallback is invoked for every composed frame the engine
	// produces.
	FrameCallback FrameCallback

	// Composition is the composition descriptor; its indices correspond
	// to the session's input indices.
	Composition Composition

	// OutputPixelFormat is the software pixel format of the composed
	// surface.
	OutputPixelFormat astiav.PixelFormat

	// HardwareDeviceType/HardwareDeviceContext select the accelerator
	// session all the inputs must share. Leave empty for software
	// composition.
	HardwareDeviceType    types.HardwareDeviceType
	HardwareDeviceContext *astiav.HardwareDeviceContext
}

// Session accepts per-input frames and emits composed output frames
// through the FrameCallback.
type Session interface {
	fmt.Stringer
	types.Closer

	// FilterFrame submits the frame of input inputIdx to the engine and
	// drains whatever composed frames the engine has ready. The caller
	// keeps the ownership of f.
	FilterFrame(ctx context.Context, inputIdx int, f *astiav.Frame) error
}
