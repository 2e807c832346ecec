// stack.go implements the hstack/vstack kernels: compositing N video
// inputs into one output frame side-by-side (or one-above-another),
// with the actual composition delegated to a hardware-capable engine.

package kernel

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/davecgh/go-spew/spew"
	"github.com/xaionaro-go/avstack/avconv"
	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/framesync"
	"github.com/xaionaro-go/avstack/helpers/closuresignaler"
	"github.com/xaionaro-go/avstack/logger"
	"github.com/xaionaro-go/avstack/types"
	"github.com/xaionaro-go/avstack/vpp"
	"github.com/xaionaro-go/xsync"
)

const (
	// MinStackInputs and MaxStackInputs bound the amount of inputs of a
	// stack kernel.
	MinStackInputs = 2
	MaxStackInputs = 64

	// stackGlobalAlpha is the per-input opacity handed to the
	// composition engine: fully opaque.
	stackGlobalAlpha = 255
)

// StackMode selects the stacking direction.
type StackMode int

const (
	StackModeUndefined StackMode = iota
	// StackModeHorizontal places the inputs side-by-side, left to right.
	StackModeHorizontal
	// StackModeVertical places the inputs one above another, top to bottom.
	StackModeVertical
)

func (m StackMode) String() string {
	switch m {
	case StackModeUndefined:
		return "<undefined>"
	case StackModeHorizontal:
		return "hstack"
	case StackModeVertical:
		return "vstack"
	default:
		return fmt.Sprintf("<unknown:%d>", int(m))
	}
}

// StackItem is the destination rectangle of one input on the composed
// canvas. The rectangles are computed once at output configuration and
// never overlap.
type StackItem struct {
	X      int
	Y      int
	Width  int
	Height int
}

type StackConfig struct {
	// Inputs is the amount of input video streams (2..64).
	Inputs uint

	// Shortest forces termination when the shortest input terminates;
	// otherwise ended inputs are extended by repeating their last frame.
	Shortest bool

	// Mode selects the stacking direction.
	Mode StackMode

	// OutputPixelFormat is the software pixel format of the composed
	// frames; PixelFormatNone selects NV12. Note that the zero value of
	// astiav.PixelFormat is YUV420P, not "unset".
	OutputPixelFormat astiav.PixelFormat

	// HardwareDeviceType/HardwareDeviceName select the accelerator.
	// Leave the type empty for software composition.
	HardwareDeviceType types.HardwareDeviceType
	HardwareDeviceName types.HardwareDeviceName
}

func (cfg *StackConfig) String() string {
	if cfg == nil {
		return "<nil>"
	}
	return spew.Sdump(*cfg)
}

func DefaultStackConfig() StackConfig {
	return StackConfig{
		Inputs:            2,
		OutputPixelFormat: astiav.PixelFormatNv12,
	}
}

// Stack is the hstack/vstack kernel. Input frames are distinguished by
// their stream index, which doubles as the input slot: 0 <= index < Inputs.
//
// The output is configured lazily, once every slot has seen its first
// frame: that is the point where all the input geometries are known and
// validated, the destination rectangles computed and the composition
// session created.
type Stack struct {
	*closuresignaler.ClosureSignaler
	Config StackConfig
	Locker xsync.Mutex

	fs      *framesync.Sync
	session vpp.Session

	items            []StackItem
	inputStreamInfos []*frame.StreamInfo
	pending          [][]*astiav.Frame
	pendingEOF       []bool
	outputStreamInfo *frame.StreamInfo
	hwDeviceContext  *astiav.HardwareDeviceContext
	ownsHWDeviceCtx  bool
	configured       bool

	// valid only while a SendInputFrame/SendEOF call is being processed:
	currentOutputCh chan<- frame.Output
}

var _ Abstract = (*Stack)(nil)

// NewHStack creates a kernel compositing the inputs side-by-side.
func NewHStack(ctx context.Context, cfg *StackConfig) (*Stack, error) {
	return newStack(ctx, StackModeHorizontal, cfg)
}

// NewVStack creates a kernel compositing the inputs one above another.
func NewVStack(ctx context.Context, cfg *StackConfig) (*Stack, error) {
	return newStack(ctx, StackModeVertical, cfg)
}

func newStack(ctx context.Context, mode StackMode, cfg *StackConfig) (_ret *Stack, _err error) {
	logger.Tracef(ctx, "newStack(ctx, %s, %s)", mode, cfg)
	defer func() { logger.Tracef(ctx, "/newStack: %v, %v", _ret, _err) }()

	if cfg == nil {
		cfg = ptr(DefaultStackConfig())
	}
	config := *cfg
	config.Mode = mode
	if config.OutputPixelFormat == astiav.PixelFormatNone {
		config.OutputPixelFormat = astiav.PixelFormatNv12
	}
	if config.Inputs < MinStackInputs || config.Inputs > MaxStackInputs {
		return nil, fmt.Errorf("the amount of inputs must be within [%d, %d], got %d", MinStackInputs, MaxStackInputs, config.Inputs)
	}

	n := int(config.Inputs)
	return &Stack{
		ClosureSignaler:  closuresignaler.New(),
		Config:           config,
		items:            make([]StackItem, n),
		inputStreamInfos: make([]*frame.StreamInfo, n),
		pending:          make([][]*astiav.Frame, n),
		pendingEOF:       make([]bool, n),
	}, nil
}

func (k *Stack) String() string {
	return fmt.Sprintf("Stack(%s, %d inputs)", k.Config.Mode, k.Config.Inputs)
}

// Items returns the computed destination rectangles; empty until the
// output is configured.
func (k *Stack) Items(ctx context.Context) []StackItem {
	return xsync.DoR1(ctx, &k.Locker, func() []StackItem {
		if !k.configured {
			return nil
		}
		return k.items
	})
}

// OutputStreamInfo returns the stream info of the composed output;
// nil until the output is configured.
func (k *Stack) OutputStreamInfo(ctx context.Context) *frame.StreamInfo {
	return xsync.DoR1(ctx, &k.Locker, func() *frame.StreamInfo {
		return k.outputStreamInfo
	})
}

// SupportedPixelFormats is the fixed set of input pixel formats the
// kernel accepts: the software format plus the accelerator's opaque
// surface format (when an accelerator is configured).
func (k *Stack) SupportedPixelFormats() []astiav.PixelFormat {
	formats := []astiav.PixelFormat{astiav.PixelFormatNv12}
	if hwFmt := hardwarePixelFormat(k.Config.HardwareDeviceType); hwFmt != astiav.PixelFormatNone {
		formats = append(formats, hwFmt)
	}
	return formats
}

func hardwarePixelFormat(hwType types.HardwareDeviceType) astiav.PixelFormat {
	switch hwType {
	case types.HardwareDeviceTypeQSV:
		return astiav.PixelFormatQsv
	case types.HardwareDeviceTypeVAAPI:
		return astiav.PixelFormatVaapi
	default:
		return astiav.PixelFormatNone
	}
}

func (k *Stack) SendInputFrame(
	ctx context.Context,
	input frame.Input,
	outputFramesCh chan<- frame.Output,
) (_err error) {
	logger.Tracef(ctx, "SendInputFrame(ctx, slot:%d, pts:%d)", input.GetStreamIndex(), input.GetPTS())
	defer func() { logger.Tracef(ctx, "/SendInputFrame: %v", _err) }()
	return xsync.DoA3R1(ctx, &k.Locker, k.sendInputFrame, ctx, input, outputFramesCh)
}

func (k *Stack) sendInputFrame(
	ctx context.Context,
	input frame.Input,
	outputFramesCh chan<- frame.Output,
) error {
	if k.IsClosed() {
		return fmt.Errorf("the kernel is closed")
	}
	if input.GetMediaType() != astiav.MediaTypeVideo {
		return ErrUnexpectedInputType{Description: fmt.Sprintf("a %s frame in a video-only kernel", input.GetMediaType())}
	}

	slot := input.GetStreamIndex()
	if slot < 0 || slot >= int(k.Config.Inputs) {
		return fmt.Errorf("stream index %d is out of the input range [0, %d)", slot, k.Config.Inputs)
	}
	if k.inputStreamInfos[slot] == nil {
		k.inputStreamInfos[slot] = input.StreamInfo
	}

	k.currentOutputCh = outputFramesCh
	defer func() { k.currentOutputCh = nil }()

	if !k.configured {
		k.pending[slot] = append(k.pending[slot], frame.CloneAsReferenced(input.Frame))
		if !k.allInputsStarted() {
			return nil
		}
		if err := k.configureOutput(ctx); err != nil {
			return fmt.Errorf("unable to configure the output: %w", err)
		}
		return k.flushPending(ctx)
	}

	return k.fs.Push(ctx, slot, input.Frame)
}

// SendEOF marks input slot inputIdx as ended. Depending on the Shortest
// flag this either terminates the whole composition or extends the slot
// by repeating its last frame.
func (k *Stack) SendEOF(
	ctx context.Context,
	inputIdx int,
	outputFramesCh chan<- frame.Output,
) (_err error) {
	logger.Tracef(ctx, "SendEOF(ctx, %d)", inputIdx)
	defer func() { logger.Tracef(ctx, "/SendEOF(ctx, %d): %v", inputIdx, _err) }()
	return xsync.DoR1(ctx, &k.Locker, func() error {
		if inputIdx < 0 || inputIdx >= int(k.Config.Inputs) {
			return fmt.Errorf("input index %d is out of range [0, %d)", inputIdx, k.Config.Inputs)
		}
		k.currentOutputCh = outputFramesCh
		defer func() { k.currentOutputCh = nil }()
		if !k.configured {
			// ended before the output could be configured: there will
			// never be a full set of aligned frames to compose
			k.pendingEOF[inputIdx] = true
			return nil
		}
		return k.fs.PushEOF(ctx, inputIdx)
	})
}

func (k *Stack) allInputsStarted() bool {
	for i := range k.pending {
		if len(k.pending[i]) == 0 && !k.pendingEOF[i] {
			return false
		}
	}
	return true
}

// configureOutput validates the input set and prepares the synchronizer
// and the composition session. It is the equivalent of the filter's
// output-negotiation step and every failure here is fatal to the setup.
func (k *Stack) configureOutput(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "configureOutput")
	defer func() { logger.Debugf(ctx, "/configureOutput: %v", _err) }()

	if err := k.validateInputs(ctx); err != nil {
		return err
	}
	if err := k.computeItems(ctx); err != nil {
		return err
	}

	in0 := k.inputStreamInfos[0]
	composition := vpp.Composition{}
	for _, item := range k.items {
		composition.InputStreams = append(composition.InputStreams, vpp.InputStream{
			DstX:              item.X,
			DstY:              item.Y,
			DstW:              item.Width,
			DstH:              item.Height,
			GlobalAlpha:       stackGlobalAlpha,
			GlobalAlphaEnable: true,
			PixelAlphaEnable:  false,
		})
	}
	canvasWidth, canvasHeight := composition.CanvasSize()

	outputTimeBase := in0.TimeBase
	if fr := in0.FrameRate; fr.Num() > 0 && fr.Den() > 0 {
		outputTimeBase = astiav.NewRational(fr.Den(), fr.Num())
	}

	fs, err := framesync.New(ctx, int(k.Config.Inputs))
	if err != nil {
		return fmt.Errorf("unable to create the frame synchronizer: %w", err)
	}
	for i := range fs.In {
		in := &fs.In[i]
		in.TimeBase = k.inputStreamInfos[i].TimeBase
		in.Sync = framesync.SyncSecondary
		if i == 0 {
			in.Sync = framesync.SyncPrimary
		}
		in.After = framesync.EOFActionInfinity
		if k.Config.Shortest {
			in.After = framesync.EOFActionStop
		}
	}
	fs.OnEvent = k.onSyncEvent
	if err := fs.Configure(ctx); err != nil {
		return fmt.Errorf("unable to configure the frame synchronizer: %w", err)
	}
	k.fs = fs

	if err := k.initHardwareDeviceContext(ctx); err != nil {
		return err
	}

	if k.session == nil {
		sessionInputs := make([]vpp.InputParams, 0, k.Config.Inputs)
		for _, si := range k.inputStreamInfos {
			cp := si.CodecParameters
			sessionInputs = append(sessionInputs, vpp.InputParams{
				Width:             cp.Width(),
				Height:            cp.Height(),
				PixelFormat:       cp.PixelFormat(),
				TimeBase:          si.TimeBase,
				SampleAspectRatio: cp.SampleAspectRatio(),
			})
		}
		session, err := vpp.NewFilterGraphSession(ctx, sessionInputs, vpp.Params{
			FrameCallback:         k.onComposedFrame,
			Composition:           composition,
			OutputPixelFormat:     k.Config.OutputPixelFormat,
			HardwareDeviceType:    k.Config.HardwareDeviceType,
			HardwareDeviceContext: k.hwDeviceContext,
		})
		if err != nil {
			return fmt.Errorf("unable to create the composition session: %w", err)
		}
		k.session = session
	}

	outputCodecParams := astiav.AllocCodecParameters()
	setFinalizerFree(ctx, outputCodecParams)
	in0.CodecParameters.Copy(outputCodecParams)
	outputCodecParams.SetWidth(canvasWidth)
	outputCodecParams.SetHeight(canvasHeight)
	outputCodecParams.SetPixelFormat(k.outputPixelFormat())
	k.outputStreamInfo = &frame.StreamInfo{
		CodecParameters: outputCodecParams,
		StreamIndex:     0,
		TimeBase:        outputTimeBase,
		FrameRate:       in0.FrameRate,
		HWDeviceContext: k.hwDeviceContext,
	}

	k.configured = true
	logger.Debugf(ctx, "configured the %s output: %dx%d, time base %v", k.Config.Mode, canvasWidth, canvasHeight, outputTimeBase)
	return nil
}

func (k *Stack) outputPixelFormat() astiav.PixelFormat {
	if hwFmt := hardwarePixelFormat(k.Config.HardwareDeviceType); hwFmt != astiav.PixelFormatNone {
		return hwFmt
	}
	return k.Config.OutputPixelFormat
}

// validateInputs rejects input sets the engine cannot composite in one
// session: mixed hardware/software formats, differing pixel formats and
// differing accelerator devices.
func (k *Stack) validateInputs(ctx context.Context) error {
	in0 := k.inputStreamInfos[0]
	if in0 == nil {
		return fmt.Errorf("input 0 has not produced any frame")
	}
	hwFmt := hardwarePixelFormat(k.Config.HardwareDeviceType)
	fmt0 := in0.CodecParameters.PixelFormat()
	for i := 1; i < int(k.Config.Inputs); i++ {
		in := k.inputStreamInfos[i]
		if in == nil {
			return fmt.Errorf("input %d has not produced any frame", i)
		}
		if fmt0 != in.CodecParameters.PixelFormat() {
			if fmt0 == hwFmt || in.CodecParameters.PixelFormat() == hwFmt {
				return fmt.Errorf("mixing hardware and software pixel formats is not supported")
			}
			return fmt.Errorf("input %d pixel format %s does not match input 0 pixel format %s", i, in.CodecParameters.PixelFormat(), fmt0)
		}
		if fmt0 == hwFmt && hwFmt != astiav.PixelFormatNone {
			if in0.HWDeviceContext != in.HWDeviceContext {
				return fmt.Errorf("inputs with different underlying accelerator devices are forbidden")
			}
		}
	}
	if fmt0 != hwFmt && fmt0 != k.Config.OutputPixelFormat {
		return fmt.Errorf("input pixel format %s does not match the configured output pixel format %s", fmt0, k.Config.OutputPixelFormat)
	}
	return nil
}

// computeItems walks the inputs in order, accumulating offsets along the
// stacking axis; the orthogonal dimension must match exactly across all
// the inputs.
func (k *Stack) computeItems(ctx context.Context) error {
	in0 := k.inputStreamInfos[0]
	switch k.Config.Mode {
	case StackModeHorizontal:
		height := in0.CodecParameters.Height()
		width := 0
		for i, si := range k.inputStreamInfos {
			cp := si.CodecParameters
			if cp.Height() != height {
				return fmt.Errorf("input %d height %d does not match input 0 height %d", i, cp.Height(), height)
			}
			k.items[i] = StackItem{
				X:      width,
				Y:      0,
				Width:  cp.Width(),
				Height: cp.Height(),
			}
			width += cp.Width()
		}
	case StackModeVertical:
		width := in0.CodecParameters.Width()
		height := 0
		for i, si := range k.inputStreamInfos {
			cp := si.CodecParameters
			if cp.Width() != width {
				return fmt.Errorf("input %d width %d does not match input 0 width %d", i, cp.Width(), width)
			}
			k.items[i] = StackItem{
				X:      0,
				Y:      height,
				Width:  cp.Width(),
				Height: cp.Height(),
			}
			height += cp.Height()
		}
	default:
		return fmt.Errorf("unexpected stack mode: %v", k.Config.Mode)
	}
	return nil
}

// initHardwareDeviceContext adopts the device context the input frames
// already live on, or creates one when the accelerator is requested for
// software inputs.
func (k *Stack) initHardwareDeviceContext(ctx context.Context) error {
	if k.Config.HardwareDeviceType == types.HardwareDeviceTypeNone {
		return nil
	}
	if hwCtx := k.inputStreamInfos[0].HWDeviceContext; hwCtx != nil {
		k.hwDeviceContext = hwCtx
		return nil
	}
	hwCtx, err := astiav.CreateHardwareDeviceContext(
		astiav.HardwareDeviceType(k.Config.HardwareDeviceType),
		string(k.Config.HardwareDeviceName),
		nil,
		0,
	)
	if err != nil {
		return fmt.Errorf("unable to create the hardware (%s:%s) device context: %w", k.Config.HardwareDeviceType, k.Config.HardwareDeviceName, err)
	}
	k.hwDeviceContext = hwCtx
	k.ownsHWDeviceCtx = true
	return nil
}

func (k *Stack) flushPending(ctx context.Context) error {
	for slot := range k.pending {
		for _, f := range k.pending[slot] {
			err := k.fs.Push(ctx, slot, f)
			frame.Pool.Put(f)
			if err != nil {
				return fmt.Errorf("unable to push a pending frame of input %d: %w", slot, err)
			}
		}
		k.pending[slot] = nil
		if k.pendingEOF[slot] {
			if err := k.fs.PushEOF(ctx, slot); err != nil {
				return fmt.Errorf("unable to push a pending EOF of input %d: %w", slot, err)
			}
		}
	}
	return nil
}

// onSyncEvent submits one aligned set of frames to the composition
// session.
func (k *Stack) onSyncEvent(ctx context.Context) error {
	for i := 0; i < int(k.Config.Inputs); i++ {
		f := k.fs.GetFrame(i)
		if err := k.session.FilterFrame(ctx, i, f); err != nil {
			return fmt.Errorf("unable to composite the frame of input %d: %w", i, err)
		}
	}
	return nil
}

// onComposedFrame receives a composed frame from the engine. The engine
// does not generate timestamps for composed frames, so the PTS reported
// by the synchronizer is rescaled to the output time base and assigned
// here.
func (k *Stack) onComposedFrame(ctx context.Context, f *astiav.Frame) error {
	f.SetPts(avconv.Rescale(k.fs.PTS, k.fs.TimeBase, k.outputStreamInfo.TimeBase))
	output := frame.BuildOutput(f, k.outputStreamInfo)
	select {
	case <-ctx.Done():
		frame.Pool.Put(f)
		return ctx.Err()
	case k.currentOutputCh <- output:
	}
	return nil
}

func (k *Stack) Generate(
	ctx context.Context,
	outputFramesCh chan<- frame.Output,
) error {
	return nil
}

func (k *Stack) Close(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Close")
	defer func() { logger.Tracef(ctx, "/Close: %v", _err) }()
	return xsync.DoA1R1(ctx, &k.Locker, k.closeLocked, ctx)
}

func (k *Stack) closeLocked(ctx context.Context) error {
	for slot := range k.pending {
		frame.Pool.Put(k.pending[slot]...)
		k.pending[slot] = nil
	}
	if k.fs != nil {
		if err := k.fs.Close(ctx); err != nil {
			logger.Errorf(ctx, "unable to close the frame synchronizer: %v", err)
		}
	}
	if k.session != nil {
		if err := k.session.Close(ctx); err != nil {
			logger.Errorf(ctx, "unable to close the composition session: %v", err)
		}
	}
	if k.ownsHWDeviceCtx && k.hwDeviceContext != nil {
		k.hwDeviceContext.Free()
		k.hwDeviceContext = nil
	}
	k.ClosureSignaler.Close(ctx)
	return nil
}
