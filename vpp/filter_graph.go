// filter_graph.go implements the composition Session on top of
// libavfilter's stack engines.

package vpp

import (
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/helpers/closuresignaler"
	"github.com/xaionaro-go/avstack/logger"
	"github.com/xaionaro-go/avstack/types"
	"github.com/xaionaro-go/xsync"
)

// FilterGraphSession delegates composition to a libavfilter graph:
// N buffer sources feeding one stack engine feeding one buffer sink.
// For hardware device types the hardware-accelerated engine variant is
// selected and all the inputs are bound to the same device context.
type FilterGraphSession struct {
	*closuresignaler.ClosureSignaler
	Locker xsync.Mutex

	Params      Params
	FilterGraph *astiav.FilterGraph
	SrcCtxs     []*astiav.BuffersrcFilterContext
	SinkCtx     *astiav.BuffersinkFilterContext
}

var _ Session = (*FilterGraphSession)(nil)

// engineName maps the accelerator type to the name of the libavfilter
// stack engine serving it.
func engineName(hwType types.HardwareDeviceType) (string, error) {
	switch hwType {
	case types.HardwareDeviceTypeNone:
		return "xstack", nil
	case types.HardwareDeviceTypeQSV:
		return "xstack_qsv", nil
	case types.HardwareDeviceTypeVAAPI:
		return "xstack_vaapi", nil
	default:
		return "", fmt.Errorf("no composition engine for hardware device type '%s'", hwType)
	}
}

// NewFilterGraphSession builds and configures the composition graph.
// The inputs slice order defines the session's input indices and must
// match params.Composition.InputStreams.
func NewFilterGraphSession(
	ctx context.Context,
	inputs []InputParams,
	params Params,
) (_ret *FilterGraphSession, _err error) {
	logger.Tracef(ctx, "NewFilterGraphSession(ctx, %d inputs)", len(inputs))
	defer func() { logger.Tracef(ctx, "/NewFilterGraphSession: %v, %v", _ret, _err) }()

	if params.FrameCallback == nil {
		return nil, fmt.Errorf("a frame callback is required")
	}
	if len(inputs) != len(params.Composition.InputStreams) {
		return nil, fmt.Errorf("got %d inputs, but the composition describes %d streams", len(inputs), len(params.Composition.InputStreams))
	}
	if err := params.Composition.Validate(); err != nil {
		return nil, fmt.Errorf("invalid composition: %w", err)
	}

	filterName, err := engineName(params.HardwareDeviceType)
	if err != nil {
		return nil, err
	}
	if params.HardwareDeviceType != types.HardwareDeviceTypeNone && params.HardwareDeviceContext == nil {
		return nil, fmt.Errorf("hardware device type '%s' requires a device context", params.HardwareDeviceType)
	}

	s := &FilterGraphSession{
		ClosureSignaler: closuresignaler.New(),
		Params:          params,
		FilterGraph:     astiav.AllocFilterGraph(),
	}
	if s.FilterGraph == nil {
		return nil, fmt.Errorf("unable to allocate the filter graph")
	}
	setFinalizerFree(ctx, s.FilterGraph)

	srcFilter := astiav.FindFilterByName("buffer")
	sinkFilter := astiav.FindFilterByName("buffersink")
	if srcFilter == nil || sinkFilter == nil {
		return nil, fmt.Errorf("unable to find the buffer/buffersink filters")
	}

	// one buffer source per input
	srcLabels := make([]string, 0, len(inputs))
	for i, in := range inputs {
		srcCtx, err := s.FilterGraph.NewBuffersrcFilterContext(srcFilter, fmt.Sprintf("src%d", i))
		if err != nil {
			return nil, fmt.Errorf("unable to create the buffer source for input %d: %w", i, err)
		}

		srcParams := astiav.AllocBuffersrcFilterContextParameters()
		defer srcParams.Free()
		srcParams.SetWidth(in.Width)
		srcParams.SetHeight(in.Height)
		srcParams.SetPixelFormat(in.PixelFormat)
		srcParams.SetTimeBase(in.TimeBase)
		srcParams.SetSampleAspectRatio(in.SampleAspectRatio)
		if params.HardwareDeviceContext != nil {
			hwFramesCtx, err := newHardwareFramesContext(ctx, params, in)
			if err != nil {
				return nil, fmt.Errorf("unable to prepare the hardware frames context for input %d: %w", i, err)
			}
			srcParams.SetHardwareFramesContext(hwFramesCtx)
		}
		if err := srcCtx.SetParameters(srcParams); err != nil {
			return nil, fmt.Errorf("unable to set the buffer source parameters for input %d: %w", i, err)
		}
		if err := srcCtx.Initialize(nil); err != nil {
			return nil, fmt.Errorf("unable to initialize the buffer source for input %d: %w", i, err)
		}

		s.SrcCtxs = append(s.SrcCtxs, srcCtx)
		srcLabels = append(srcLabels, fmt.Sprintf("in%d", i))
	}

	// graph's open outputs: the buffer sources, in input order
	var outputs *astiav.FilterInOut
	for i := len(s.SrcCtxs) - 1; i >= 0; i-- {
		inOut := astiav.AllocFilterInOut()
		inOut.SetName(srcLabels[i])
		inOut.SetFilterContext(s.SrcCtxs[i].FilterContext())
		inOut.SetPadIdx(0)
		inOut.SetNext(outputs)
		outputs = inOut
	}
	defer outputs.Free()

	sinkCtx, err := s.FilterGraph.NewBuffersinkFilterContext(sinkFilter, "sink")
	if err != nil {
		return nil, fmt.Errorf("unable to create the buffer sink: %w", err)
	}
	s.SinkCtx = sinkCtx

	// graph's open input: the buffer sink
	sinkInOut := astiav.AllocFilterInOut()
	defer sinkInOut.Free()
	sinkInOut.SetName("out")
	sinkInOut.SetFilterContext(sinkCtx.FilterContext())
	sinkInOut.SetPadIdx(0)
	sinkInOut.SetNext(nil)

	content := fmt.Sprintf(
		"%s%s=inputs=%d:layout=%s[out]",
		labelRefs(srcLabels),
		filterName,
		len(inputs),
		params.Composition.Layout(),
	)
	logger.Debugf(ctx, "composition graph: '%s'", content)
	if err := s.FilterGraph.Parse(content, sinkInOut, outputs); err != nil {
		return nil, fmt.Errorf("unable to parse the composition graph '%s': %w", content, err)
	}
	if err := s.FilterGraph.Configure(); err != nil {
		return nil, fmt.Errorf("unable to configure the composition graph: %w", err)
	}

	return s, nil
}

func labelRefs(labels []string) string {
	result := ""
	for _, label := range labels {
		result += "[" + label + "]"
	}
	return result
}

// newHardwareFramesContext binds one input to the shared accelerator
// device. The engine pulls the actual surfaces from this pool.
func newHardwareFramesContext(
	ctx context.Context,
	params Params,
	in InputParams,
) (*astiav.HardwareFramesContext, error) {
	hwFramesCtx := astiav.AllocHardwareFramesContext(params.HardwareDeviceContext)
	if hwFramesCtx == nil {
		return nil, fmt.Errorf("unable to allocate a hardware frames context")
	}
	setFinalizerFree(ctx, hwFramesCtx)
	hwFramesCtx.SetWidth(in.Width)
	hwFramesCtx.SetHeight(in.Height)
	hwFramesCtx.SetHardwarePixelFormat(in.PixelFormat)
	hwFramesCtx.SetSoftwarePixelFormat(params.OutputPixelFormat)
	if err := hwFramesCtx.Initialize(); err != nil {
		return nil, fmt.Errorf("unable to initialize the hardware frames context: %w", err)
	}
	return hwFramesCtx, nil
}

func (s *FilterGraphSession) String() string {
	return fmt.Sprintf("FilterGraphSession(%s)", s.Params.Composition.Layout())
}

// FilterFrame submits a frame to input inputIdx and drains the composed
// frames the engine has ready.
func (s *FilterGraphSession) FilterFrame(
	ctx context.Context,
	inputIdx int,
	f *astiav.Frame,
) (_err error) {
	logger.Tracef(ctx, "FilterFrame(ctx, %d, pts:%d)", inputIdx, f.Pts())
	defer func() { logger.Tracef(ctx, "/FilterFrame(ctx, %d): %v", inputIdx, _err) }()
	return xsync.DoA3R1(ctx, &s.Locker, s.filterFrame, ctx, inputIdx, f)
}

func (s *FilterGraphSession) filterFrame(
	ctx context.Context,
	inputIdx int,
	f *astiav.Frame,
) error {
	if s.IsClosed() {
		return fmt.Errorf("the session is closed")
	}
	if inputIdx < 0 || inputIdx >= len(s.SrcCtxs) {
		return fmt.Errorf("input index %d is out of range [0, %d)", inputIdx, len(s.SrcCtxs))
	}

	if err := s.SrcCtxs[inputIdx].AddFrame(f, astiav.NewBuffersrcFlags(astiav.BuffersrcFlagKeepRef)); err != nil {
		return fmt.Errorf("unable to submit the frame to input %d: %w", inputIdx, err)
	}

	for {
		outFrame := frame.Pool.Get()
		err := s.SinkCtx.GetFrame(outFrame, astiav.NewBuffersinkFlags())
		switch {
		case errors.Is(err, astiav.ErrEagain), errors.Is(err, astiav.ErrEof):
			frame.Pool.Put(outFrame)
			return nil
		case err != nil:
			frame.Pool.Put(outFrame)
			return fmt.Errorf("unable to pull a composed frame: %w", err)
		}
		if err := s.Params.FrameCallback(ctx, outFrame); err != nil {
			return fmt.Errorf("the frame callback returned an error: %w", err)
		}
	}
}

// Close releases the engine resources. The graph itself is freed by the
// finalizer.
func (s *FilterGraphSession) Close(ctx context.Context) error {
	logger.Tracef(ctx, "Close")
	defer logger.Tracef(ctx, "/Close")
	s.ClosureSignaler.Close(ctx)
	return nil
}
