package framesync

import (
	"context"
	"io"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

type event struct {
	PTS       int64
	FramePTSs []int64 // per input, in the input's own time base
}

func newTestSync(
	t *testing.T,
	nbInputs int,
	after EOFAction,
) (*Sync, *[]event) {
	ctx := context.Background()
	s, err := New(ctx, nbInputs)
	require.NoError(t, err)
	for i := range s.In {
		s.In[i].TimeBase = astiav.NewRational(1, 1000)
		s.In[i].Sync = SyncSecondary
		s.In[i].After = after
	}
	s.In[0].Sync = SyncPrimary

	events := &[]event{}
	s.OnEvent = func(ctx context.Context) error {
		ev := event{PTS: s.PTS}
		for i := range s.In {
			ev.FramePTSs = append(ev.FramePTSs, s.GetFrame(i).Pts())
		}
		*events = append(*events, ev)
		return nil
	}
	require.NoError(t, s.Configure(ctx))
	return s, events
}

func push(t *testing.T, s *Sync, inputIdx int, pts int64) {
	f := astiav.AllocFrame()
	defer f.Free()
	f.SetPts(pts)
	require.NoError(t, s.Push(context.Background(), inputIdx, f))
}

func TestSyncAlignsMatchingTimestamps(t *testing.T) {
	ctx := context.Background()
	s, events := newTestSync(t, 2, EOFActionInfinity)
	defer s.Close(ctx)

	push(t, s, 0, 0)
	require.Empty(t, *events) // input 1 has not started yet

	push(t, s, 1, 0)
	require.Equal(t, []event{
		{PTS: 0, FramePTSs: []int64{0, 0}},
	}, *events)

	push(t, s, 0, 40)
	push(t, s, 1, 40)
	require.Equal(t, []event{
		{PTS: 0, FramePTSs: []int64{0, 0}},
		{PTS: 40, FramePTSs: []int64{40, 40}},
	}, *events)
}

func TestSyncRepeatsSlowerInput(t *testing.T) {
	ctx := context.Background()
	s, events := newTestSync(t, 2, EOFActionInfinity)
	defer s.Close(ctx)

	// input 0 at 25fps (40ms per frame), input 1 at 12.5fps
	push(t, s, 0, 0)
	push(t, s, 1, 0)
	push(t, s, 0, 40)
	push(t, s, 0, 80)
	push(t, s, 1, 80)

	require.Equal(t, []event{
		{PTS: 0, FramePTSs: []int64{0, 0}},
		{PTS: 40, FramePTSs: []int64{40, 0}}, // input 1 repeats its last frame
		{PTS: 80, FramePTSs: []int64{80, 80}},
	}, *events)
}

func TestSyncEventsFollowPrimaryCadence(t *testing.T) {
	ctx := context.Background()
	s, events := newTestSync(t, 2, EOFActionInfinity)
	defer s.Close(ctx)

	// input 0 at 25fps, input 1 at 50fps: the faster secondary only
	// moves its cursor, every event is driven by a primary frame
	push(t, s, 0, 0)
	push(t, s, 1, 0)
	push(t, s, 1, 20)
	push(t, s, 0, 40)
	push(t, s, 1, 40)

	require.Equal(t, []event{
		{PTS: 0, FramePTSs: []int64{0, 0}},
		{PTS: 40, FramePTSs: []int64{40, 40}},
	}, *events)
}

func TestSyncPrimaryEOFPromotesSecondary(t *testing.T) {
	ctx := context.Background()
	s, events := newTestSync(t, 2, EOFActionInfinity)
	defer s.Close(ctx)

	push(t, s, 0, 0)
	push(t, s, 1, 0)
	require.NoError(t, s.PushEOF(ctx, 0))
	require.False(t, s.IsEOF(ctx))

	// with the primary gone, the secondary drives the events
	push(t, s, 1, 40)

	require.Equal(t, []event{
		{PTS: 0, FramePTSs: []int64{0, 0}},
		{PTS: 40, FramePTSs: []int64{0, 40}},
	}, *events)

	require.NoError(t, s.PushEOF(ctx, 1))
	require.True(t, s.IsEOF(ctx))
}

func TestSyncRescalesTimeBases(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, 2)
	require.NoError(t, err)
	defer s.Close(ctx)

	s.In[0].TimeBase = astiav.NewRational(1, 1000)
	s.In[0].Sync = SyncPrimary
	s.In[0].After = EOFActionInfinity
	s.In[1].TimeBase = astiav.NewRational(1, 90000)
	s.In[1].Sync = SyncSecondary
	s.In[1].After = EOFActionInfinity

	var pts []int64
	s.OnEvent = func(ctx context.Context) error {
		pts = append(pts, s.PTS)
		return nil
	}
	require.NoError(t, s.Configure(ctx))

	// the synchronizer's time base is the primary input's one
	require.Equal(t, astiav.NewRational(1, 1000), s.TimeBase)

	push(t, s, 0, 40)
	push(t, s, 1, 3600) // 3600/90000 s = 40 ms
	require.Equal(t, []int64{40}, pts)
}

func TestSyncStopOnEOF(t *testing.T) {
	ctx := context.Background()
	s, events := newTestSync(t, 2, EOFActionStop)
	defer s.Close(ctx)

	push(t, s, 0, 0)
	push(t, s, 1, 0)
	push(t, s, 0, 40)
	require.NoError(t, s.PushEOF(ctx, 1))

	require.True(t, s.IsEOF(ctx))
	require.Equal(t, []event{
		{PTS: 0, FramePTSs: []int64{0, 0}},
	}, *events)

	// pushing into a terminated synchronizer reports EOF
	f := astiav.AllocFrame()
	defer f.Free()
	f.SetPts(80)
	require.ErrorIs(t, s.Push(ctx, 0, f), io.EOF)
}

func TestSyncExtendOnEOF(t *testing.T) {
	ctx := context.Background()
	s, events := newTestSync(t, 2, EOFActionInfinity)
	defer s.Close(ctx)

	push(t, s, 0, 0)
	push(t, s, 1, 0)
	require.NoError(t, s.PushEOF(ctx, 1))
	require.False(t, s.IsEOF(ctx))

	push(t, s, 0, 40)
	push(t, s, 0, 80)

	require.Equal(t, []event{
		{PTS: 0, FramePTSs: []int64{0, 0}},
		{PTS: 40, FramePTSs: []int64{40, 0}},
		{PTS: 80, FramePTSs: []int64{80, 0}},
	}, *events)

	// once every input is exhausted, the synchronizer terminates
	require.NoError(t, s.PushEOF(ctx, 0))
	require.True(t, s.IsEOF(ctx))
}

func TestSyncEOFBeforeFirstFrame(t *testing.T) {
	ctx := context.Background()
	s, events := newTestSync(t, 2, EOFActionInfinity)
	defer s.Close(ctx)

	// an input that ends before producing anything cannot be extended,
	// so the whole synchronizer terminates right away
	require.NoError(t, s.PushEOF(ctx, 1))
	require.True(t, s.IsEOF(ctx))

	f := astiav.AllocFrame()
	defer f.Free()
	f.SetPts(0)
	require.ErrorIs(t, s.Push(ctx, 0, f), io.EOF)
	require.Empty(t, *events)
}

func TestSyncConfigureValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("no inputs", func(t *testing.T) {
		_, err := New(ctx, 0)
		require.Error(t, err)
	})

	t.Run("no time base", func(t *testing.T) {
		s, err := New(ctx, 2)
		require.NoError(t, err)
		s.In[0].After = EOFActionInfinity
		s.In[1].After = EOFActionInfinity
		require.Error(t, s.Configure(ctx))
	})

	t.Run("no EOF action", func(t *testing.T) {
		s, err := New(ctx, 2)
		require.NoError(t, err)
		s.In[0].TimeBase = astiav.NewRational(1, 1000)
		s.In[1].TimeBase = astiav.NewRational(1, 1000)
		require.Error(t, s.Configure(ctx))
	})

	t.Run("double configure", func(t *testing.T) {
		s, _ := newTestSync(t, 2, EOFActionInfinity)
		require.Error(t, s.Configure(ctx))
	})

	t.Run("push before configure", func(t *testing.T) {
		s, err := New(ctx, 2)
		require.NoError(t, err)
		f := astiav.AllocFrame()
		defer f.Free()
		require.Error(t, s.Push(ctx, 0, f))
	})
}
