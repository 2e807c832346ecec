package avstack

import (
	"context"
	"testing"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avstack/frame"
	"github.com/xaionaro-go/avstack/kernel"
	"github.com/xaionaro-go/avstack/node"
)

func testStreamInfo() *frame.StreamInfo {
	cp := astiav.AllocCodecParameters()
	cp.SetMediaType(astiav.MediaTypeVideo)
	return &frame.StreamInfo{
		CodecParameters: cp,
		TimeBase:        astiav.NewRational(1, 1000),
	}
}

func TestServeGraph(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	n1 := node.NewFromKernel(ctx, kernel.NewPassthrough())
	n2 := node.NewFromKernel(ctx, kernel.NewPassthrough())
	n3 := node.NewFromKernel(ctx, kernel.NewPassthrough())
	n1.AddPushFramesTo(n2)
	n2.AddPushFramesTo(n3)

	errCh := make(chan node.Error, 10)
	served := make(chan struct{})
	go func() {
		defer close(served)
		Serve(ctx, ServeConfig{}, errCh, n1)
	}()

	f := frame.Pool.Get()
	f.SetPts(7)
	n1.GetProcessor().InputFrameChan() <- frame.BuildInput(f, 0, testStreamInfo())

	// the frame has to traverse the whole chain down to the leaf node
	require.Eventually(t, func() bool {
		return n3.GetProcessor().CountersPtr().Frames.Processed.TotalCount() == 1
	}, 10*time.Second, time.Millisecond)

	cancelFn()
	select {
	case <-served:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the graph to shut down")
	}
}

func TestServeVisitsEachNodeOnce(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	// a diamond: n1 pushes to both branches, both branches push to n4
	n1 := node.NewFromKernel(ctx, kernel.NewPassthrough())
	n2 := node.NewFromKernel(ctx, kernel.NewPassthrough())
	n3 := node.NewFromKernel(ctx, kernel.NewPassthrough())
	n4 := node.NewFromKernel(ctx, kernel.NewPassthrough())
	n1.AddPushFramesTo(n2)
	n1.AddPushFramesTo(n3)
	n2.AddPushFramesTo(n4)
	n3.AddPushFramesTo(n4)

	errCh := make(chan node.Error, 16)
	served := make(chan struct{})
	go func() {
		defer close(served)
		Serve(ctx, ServeConfig{}, errCh, n1)
	}()

	f := frame.Pool.Get()
	f.SetPts(1)
	n1.GetProcessor().InputFrameChan() <- frame.BuildInput(f, 0, testStreamInfo())

	require.Eventually(t, func() bool {
		return n4.GetProcessor().CountersPtr().Frames.Processed.TotalCount() == 2
	}, 10*time.Second, time.Millisecond)

	cancelFn()
	select {
	case <-served:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the graph to shut down")
	}

	// had n4 been served twice, one Serve would have failed immediately
	for len(errCh) > 0 {
		require.NotErrorIs(t, <-errCh, node.ErrAlreadyStarted{})
	}
}
