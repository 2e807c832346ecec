// Package node provides the serving layer: a node owns a processor,
// pulls its output and pushes it to downstream nodes.
package node

import (
	"context"

	framecondition "github.com/xaionaro-go/avstack/frame/condition"
	"github.com/xaionaro-go/avstack/kernel"
	"github.com/xaionaro-go/avstack/logger"
	"github.com/xaionaro-go/avstack/processor"
	"github.com/xaionaro-go/avstack/types"
	"github.com/xaionaro-go/xsync"
)

type Abstract interface {
	Serve(context.Context, ServeConfig, chan<- Error)

	GetPushFramesTos() PushFramesTos
	AddPushFramesTo(dst Abstract, conds ...framecondition.Condition)
	SetPushFramesTos(PushFramesTos)

	GetStatistics() *types.Statistics
	GetProcessor() processor.Abstract

	GetInputFrameCondition() framecondition.Condition
	SetInputFrameCondition(framecondition.Condition)
}

type Node[T processor.Abstract] struct {
	Processor           T
	PushFramesTos       PushFramesTos
	InputFrameCondition framecondition.Condition
	Locker              xsync.Mutex
	IsServing           bool
}

var _ Abstract = (*Node[processor.Abstract])(nil)

func New[T processor.Abstract](processor T) *Node[T] {
	return &Node[T]{
		Processor: processor,
	}
}

func NewFromKernel[T kernel.Abstract](
	ctx context.Context,
	kernel T,
	opts ...processor.Option,
) *Node[*processor.FromKernel[T]] {
	return New(processor.NewFromKernel(ctx, kernel, opts...))
}

func (n *Node[T]) GetStatistics() *types.Statistics {
	return n.Processor.CountersPtr().ToStats()
}

func (n *Node[T]) GetProcessor() processor.Abstract {
	if n == nil {
		return nil
	}
	return xsync.DoR1(context.TODO(), &n.Locker, func() processor.Abstract {
		return n.Processor
	})
}

func (n *Node[T]) GetPushFramesTos() PushFramesTos {
	if n == nil {
		return nil
	}
	return xsync.DoR1(context.TODO(), &n.Locker, func() PushFramesTos {
		return n.PushFramesTos
	})
}

func (n *Node[T]) AddPushFramesTo(
	dst Abstract,
	conds ...framecondition.Condition,
) {
	ctx := context.TODO()
	logger.Debugf(ctx, "AddPushFramesTo")
	defer logger.Debugf(ctx, "/AddPushFramesTo")
	n.Locker.Do(ctx, func() {
		n.PushFramesTos.Add(dst, conds...)
	})
}

func (n *Node[T]) SetPushFramesTos(s PushFramesTos) {
	n.Locker.Do(context.TODO(), func() {
		n.PushFramesTos = s
	})
}

func (n *Node[T]) GetInputFrameCondition() framecondition.Condition {
	if n == nil {
		return framecondition.Static(false)
	}
	return xsync.DoR1(context.TODO(), &n.Locker, func() framecondition.Condition {
		return n.InputFrameCondition
	})
}

func (n *Node[T]) SetInputFrameCondition(cond framecondition.Condition) {
	n.Locker.Do(context.TODO(), func() {
		n.InputFrameCondition = cond
	})
}

func (n *Node[T]) String() string {
	if n == nil {
		return "Node(nil)"
	}
	return "Node(" + n.Processor.String() + ")"
}
