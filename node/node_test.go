package node

import (
	"context"
	"testing"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avstack/frame"
	framecondition "github.com/xaionaro-go/avstack/frame/condition"
	"github.com/xaionaro-go/avstack/kernel"
	"github.com/xaionaro-go/xsync"
)

func testStreamInfo() *frame.StreamInfo {
	cp := astiav.AllocCodecParameters()
	cp.SetMediaType(astiav.MediaTypeVideo)
	return &frame.StreamInfo{
		CodecParameters: cp,
		TimeBase:        astiav.NewRational(1, 1000),
	}
}

func pushInput(n Abstract, si *frame.StreamInfo, pts int64) {
	f := frame.Pool.Get()
	f.SetPts(pts)
	n.GetProcessor().InputFrameChan() <- frame.BuildInput(f, 0, si)
}

func receiveOutput(t *testing.T, n Abstract) frame.Output {
	select {
	case out, ok := <-n.GetProcessor().OutputFrameChan():
		require.True(t, ok)
		return out
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for an output frame")
		return frame.Output{}
	}
}

func TestNodeServePushesDownstream(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	n1 := NewFromKernel(ctx, kernel.NewPassthrough())
	n2 := NewFromKernel(ctx, kernel.NewPassthrough())
	n1.AddPushFramesTo(n2)

	errCh := make(chan Error, 10)
	go n1.Serve(ctx, ServeConfig{}, errCh)

	si := testStreamInfo()
	pushInput(n1, si, 42)

	out := receiveOutput(t, n2)
	require.Equal(t, int64(42), out.GetPTS())
	frame.Pool.Put(out.Frame)
}

func TestNodeServeConditions(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	n1 := NewFromKernel(ctx, kernel.NewPassthrough())
	blocked := NewFromKernel(ctx, kernel.NewPassthrough())
	allowed := NewFromKernel(ctx, kernel.NewPassthrough())
	n1.AddPushFramesTo(blocked, framecondition.Static(false))
	n1.AddPushFramesTo(allowed, framecondition.Static(true))

	errCh := make(chan Error, 10)
	go n1.Serve(ctx, ServeConfig{}, errCh)

	si := testStreamInfo()
	pushInput(n1, si, 1)

	out := receiveOutput(t, allowed)
	require.Equal(t, int64(1), out.GetPTS())
	frame.Pool.Put(out.Frame)

	select {
	case <-blocked.GetProcessor().OutputFrameChan():
		t.Fatal("the blocked node should not have received anything")
	default:
	}
}

func TestNodeServeDoubleStart(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	n := NewFromKernel(ctx, kernel.NewPassthrough())
	errCh := make(chan Error, 10)
	go n.Serve(ctx, ServeConfig{}, errCh)

	require.Eventually(t, func() bool {
		return xsync.DoR1(ctx, &n.Locker, func() bool { return n.IsServing })
	}, 10*time.Second, time.Millisecond)

	n.Serve(ctx, ServeConfig{}, errCh)
	err := <-errCh
	require.ErrorAs(t, err, &ErrAlreadyStarted{})
}
