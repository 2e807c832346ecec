package kernel

import (
	"context"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/types"
	"github.com/xaionaro-go/avstack/vpp"
)

// stubSession records the submitted frames and emits one composed frame
// per aligned set, mimicking the engine without touching libavfilter.
type stubSession struct {
	stack     *Stack
	submitted [][]int64
	current   []int64
}

var _ vpp.Session = (*stubSession)(nil)

func (s *stubSession) String() string { return "stubSession" }

func (s *stubSession) Close(ctx context.Context) error { return nil }

func (s *stubSession) FilterFrame(ctx context.Context, inputIdx int, f *astiav.Frame) error {
	s.current = append(s.current, f.Pts())
	if inputIdx < int(s.stack.Config.Inputs)-1 {
		return nil
	}
	s.submitted = append(s.submitted, s.current)
	s.current = nil
	out := frame.Pool.Get()
	return s.stack.onComposedFrame(ctx, out)
}

func testStreamInfo(
	idx int,
	width, height int,
	pixFmt astiav.PixelFormat,
) *frame.StreamInfo {
	cp := astiav.AllocCodecParameters()
	cp.SetMediaType(astiav.MediaTypeVideo)
	cp.SetWidth(width)
	cp.SetHeight(height)
	cp.SetPixelFormat(pixFmt)
	return &frame.StreamInfo{
		CodecParameters: cp,
		StreamIndex:     idx,
		TimeBase:        astiav.NewRational(1, 1000),
		FrameRate:       astiav.NewRational(25, 1),
	}
}

func sendFrame(
	t *testing.T,
	k *Stack,
	si *frame.StreamInfo,
	pts int64,
	outCh chan frame.Output,
) error {
	f := astiav.AllocFrame()
	defer f.Free()
	f.SetPts(pts)
	return k.SendInputFrame(context.Background(), frame.BuildInput(f, 0, si), outCh)
}

func drain(outCh chan frame.Output) []int64 {
	var pts []int64
	for {
		select {
		case out := <-outCh:
			pts = append(pts, out.GetPTS())
			frame.Pool.Put(out.Frame)
		default:
			return pts
		}
	}
}

func TestStackInputsBounds(t *testing.T) {
	ctx := context.Background()

	_, err := NewHStack(ctx, &StackConfig{Inputs: 1})
	require.Error(t, err)

	_, err = NewHStack(ctx, &StackConfig{Inputs: 65})
	require.Error(t, err)

	k, err := NewHStack(ctx, &StackConfig{Inputs: 64})
	require.NoError(t, err)
	require.NoError(t, k.Close(ctx))
}

func TestHStackItems(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 3, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	defer k.Close(ctx)
	k.session = &stubSession{stack: k}

	outCh := make(chan frame.Output, 16)
	sis := []*frame.StreamInfo{
		testStreamInfo(0, 640, 480, astiav.PixelFormatYuv420P),
		testStreamInfo(1, 320, 480, astiav.PixelFormatYuv420P),
		testStreamInfo(2, 160, 480, astiav.PixelFormatYuv420P),
	}
	for _, si := range sis {
		require.NoError(t, sendFrame(t, k, si, 0, outCh))
	}

	require.Equal(t, []StackItem{
		{X: 0, Y: 0, Width: 640, Height: 480},
		{X: 640, Y: 0, Width: 320, Height: 480},
		{X: 960, Y: 0, Width: 160, Height: 480},
	}, k.Items(ctx))

	outSI := k.OutputStreamInfo(ctx)
	require.NotNil(t, outSI)
	require.Equal(t, 1120, outSI.CodecParameters.Width())
	require.Equal(t, 480, outSI.CodecParameters.Height())
	require.Equal(t, astiav.PixelFormatYuv420P, outSI.CodecParameters.PixelFormat())
	require.Equal(t, astiav.NewRational(1, 25), outSI.TimeBase)
}

func TestStackOutputPixelFormatSelection(t *testing.T) {
	ctx := context.Background()

	// YUV420P is the zero value of astiav.PixelFormat and must not be
	// mistaken for "unset"
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	require.Equal(t, astiav.PixelFormatYuv420P, k.Config.OutputPixelFormat)
	require.NoError(t, k.Close(ctx))

	k, err = NewHStack(ctx, &StackConfig{Inputs: 2, OutputPixelFormat: astiav.PixelFormatNone})
	require.NoError(t, err)
	require.Equal(t, astiav.PixelFormatNv12, k.Config.OutputPixelFormat)
	require.NoError(t, k.Close(ctx))
}

func TestVStackItems(t *testing.T) {
	ctx := context.Background()
	k, err := NewVStack(ctx, &StackConfig{Inputs: 2, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	defer k.Close(ctx)
	k.session = &stubSession{stack: k}

	outCh := make(chan frame.Output, 16)
	require.NoError(t, sendFrame(t, k, testStreamInfo(0, 640, 480, astiav.PixelFormatYuv420P), 0, outCh))
	require.NoError(t, sendFrame(t, k, testStreamInfo(1, 640, 240, astiav.PixelFormatYuv420P), 0, outCh))

	require.Equal(t, []StackItem{
		{X: 0, Y: 0, Width: 640, Height: 480},
		{X: 0, Y: 480, Width: 640, Height: 240},
	}, k.Items(ctx))

	outSI := k.OutputStreamInfo(ctx)
	require.NotNil(t, outSI)
	require.Equal(t, 640, outSI.CodecParameters.Width())
	require.Equal(t, 720, outSI.CodecParameters.Height())
}

func TestHStackRejectsMismatchedHeights(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	defer k.Close(ctx)
	k.session = &stubSession{stack: k}

	outCh := make(chan frame.Output, 16)
	require.NoError(t, sendFrame(t, k, testStreamInfo(0, 640, 480, astiav.PixelFormatYuv420P), 0, outCh))
	err = sendFrame(t, k, testStreamInfo(1, 640, 360, astiav.PixelFormatYuv420P), 0, outCh)
	require.ErrorContains(t, err, "height")
}

func TestVStackRejectsMismatchedWidths(t *testing.T) {
	ctx := context.Background()
	k, err := NewVStack(ctx, &StackConfig{Inputs: 2, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	defer k.Close(ctx)
	k.session = &stubSession{stack: k}

	outCh := make(chan frame.Output, 16)
	require.NoError(t, sendFrame(t, k, testStreamInfo(0, 640, 480, astiav.PixelFormatYuv420P), 0, outCh))
	err = sendFrame(t, k, testStreamInfo(1, 320, 480, astiav.PixelFormatYuv420P), 0, outCh)
	require.ErrorContains(t, err, "width")
}

func TestStackRejectsMismatchedPixelFormats(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	defer k.Close(ctx)
	k.session = &stubSession{stack: k}

	outCh := make(chan frame.Output, 16)
	require.NoError(t, sendFrame(t, k, testStreamInfo(0, 640, 480, astiav.PixelFormatYuv420P), 0, outCh))
	err = sendFrame(t, k, testStreamInfo(1, 640, 480, astiav.PixelFormatNv12), 0, outCh)
	require.ErrorContains(t, err, "pixel format")
}

func TestStackRejectsHardwareSoftwareMix(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2, HardwareDeviceType: types.HardwareDeviceTypeQSV})
	require.NoError(t, err)
	defer k.Close(ctx)

	outCh := make(chan frame.Output, 16)
	require.NoError(t, sendFrame(t, k, testStreamInfo(0, 640, 480, astiav.PixelFormatQsv), 0, outCh))
	err = sendFrame(t, k, testStreamInfo(1, 640, 480, astiav.PixelFormatNv12), 0, outCh)
	require.ErrorContains(t, err, "mixing hardware and software")
}

func TestStackRejectsMismatchedDeviceContexts(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2, HardwareDeviceType: types.HardwareDeviceTypeQSV})
	require.NoError(t, err)
	defer k.Close(ctx)

	si0 := testStreamInfo(0, 640, 480, astiav.PixelFormatQsv)
	si0.HWDeviceContext = &astiav.HardwareDeviceContext{}
	si1 := testStreamInfo(1, 640, 480, astiav.PixelFormatQsv)
	si1.HWDeviceContext = &astiav.HardwareDeviceContext{}

	outCh := make(chan frame.Output, 16)
	require.NoError(t, sendFrame(t, k, si0, 0, outCh))
	err = sendFrame(t, k, si1, 0, outCh)
	require.ErrorContains(t, err, "different underlying accelerator devices")
}

func TestStackRejectsNonVideo(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2})
	require.NoError(t, err)
	defer k.Close(ctx)

	si := testStreamInfo(0, 0, 0, astiav.PixelFormatNone)
	si.CodecParameters.SetMediaType(astiav.MediaTypeAudio)
	outCh := make(chan frame.Output, 16)
	err = sendFrame(t, k, si, 0, outCh)
	require.ErrorAs(t, err, &ErrUnexpectedInputType{})
}

func TestStackRejectsOutOfRangeSlot(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2})
	require.NoError(t, err)
	defer k.Close(ctx)

	outCh := make(chan frame.Output, 16)
	err = sendFrame(t, k, testStreamInfo(2, 640, 480, astiav.PixelFormatNv12), 0, outCh)
	require.ErrorContains(t, err, "out of the input range")
}

func TestStackComposesAndRescalesPTS(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	defer k.Close(ctx)
	stub := &stubSession{stack: k}
	k.session = stub

	outCh := make(chan frame.Output, 16)
	si0 := testStreamInfo(0, 640, 480, astiav.PixelFormatYuv420P)
	si1 := testStreamInfo(1, 640, 480, astiav.PixelFormatYuv420P)

	// input time base is 1/1000, frame rate 25fps: one frame each 40ms;
	// the output time base is 1/25, so frame N maps to pts N
	require.NoError(t, sendFrame(t, k, si0, 0, outCh))
	require.NoError(t, sendFrame(t, k, si1, 0, outCh))
	require.NoError(t, sendFrame(t, k, si0, 40, outCh))
	require.NoError(t, sendFrame(t, k, si1, 40, outCh))
	require.NoError(t, sendFrame(t, k, si0, 80, outCh))
	require.NoError(t, sendFrame(t, k, si1, 80, outCh))

	require.Equal(t, []int64{0, 1, 2}, drain(outCh))
	require.Equal(t, [][]int64{{0, 0}, {40, 40}, {80, 80}}, stub.submitted)
}

func TestStackOutputFollowsPrimaryRate(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	defer k.Close(ctx)
	stub := &stubSession{stack: k}
	k.session = stub

	outCh := make(chan frame.Output, 16)
	si0 := testStreamInfo(0, 640, 480, astiav.PixelFormatYuv420P)
	si1 := testStreamInfo(1, 640, 480, astiav.PixelFormatYuv420P)

	// input 1 runs at twice the rate of input 0: its extra frames must
	// not produce extra composed frames (which would duplicate output
	// timestamps in the 1/25 time base)
	require.NoError(t, sendFrame(t, k, si0, 0, outCh))
	require.NoError(t, sendFrame(t, k, si1, 0, outCh))
	require.NoError(t, sendFrame(t, k, si1, 20, outCh))
	require.NoError(t, sendFrame(t, k, si0, 40, outCh))
	require.NoError(t, sendFrame(t, k, si1, 40, outCh))

	require.Equal(t, []int64{0, 1}, drain(outCh))
	require.Equal(t, [][]int64{{0, 0}, {40, 40}}, stub.submitted)
}

func TestStackShortestTerminates(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2, Shortest: true, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	defer k.Close(ctx)
	k.session = &stubSession{stack: k}

	outCh := make(chan frame.Output, 16)
	si0 := testStreamInfo(0, 640, 480, astiav.PixelFormatYuv420P)
	si1 := testStreamInfo(1, 640, 480, astiav.PixelFormatYuv420P)

	require.NoError(t, sendFrame(t, k, si0, 0, outCh))
	require.NoError(t, sendFrame(t, k, si1, 0, outCh))
	require.NoError(t, k.SendEOF(ctx, 1, outCh))

	require.True(t, k.fs.IsEOF(ctx))
	require.Equal(t, []int64{0}, drain(outCh))
}

func TestStackExtendsEndedInput(t *testing.T) {
	ctx := context.Background()
	k, err := NewHStack(ctx, &StackConfig{Inputs: 2, OutputPixelFormat: astiav.PixelFormatYuv420P})
	require.NoError(t, err)
	defer k.Close(ctx)
	stub := &stubSession{stack: k}
	k.session = stub

	outCh := make(chan frame.Output, 16)
	si0 := testStreamInfo(0, 640, 480, astiav.PixelFormatYuv420P)
	si1 := testStreamInfo(1, 640, 480, astiav.PixelFormatYuv420P)

	require.NoError(t, sendFrame(t, k, si0, 0, outCh))
	require.NoError(t, sendFrame(t, k, si1, 0, outCh))
	require.NoError(t, k.SendEOF(ctx, 1, outCh))
	require.NoError(t, sendFrame(t, k, si0, 40, outCh))

	require.False(t, k.fs.IsEOF(ctx))
	require.Equal(t, []int64{0, 1}, drain(outCh))
	// input 1 repeats its last frame
	require.Equal(t, [][]int64{{0, 0}, {40, 0}}, stub.submitted)
}

func TestStackSupportedPixelFormats(t *testing.T) {
	ctx := context.Background()

	k, err := NewHStack(ctx, ptr(DefaultStackConfig()))
	require.NoError(t, err)
	require.Equal(t, []astiav.PixelFormat{astiav.PixelFormatNv12}, k.SupportedPixelFormats())
	require.NoError(t, k.Close(ctx))
}
