package node

import (
	"github.com/xaionaro-go/avstack/frame"
	framecondition "github.com/xaionaro-go/avstack/frame/condition"
	"github.com/xaionaro-go/avstack/types"
)

type PushFramesTo struct {
	Node      Abstract
	Condition types.Condition[frame.Input]
}

type PushFramesTos []PushFramesTo

func (s *PushFramesTos) Add(dst Abstract, conds ...framecondition.Condition) *PushFramesTos {
	var cond framecondition.Condition
	switch len(conds) {
	case 0:
	case 1:
		cond = conds[0]
	default:
		cond = framecondition.And(conds)
	}
	*s = append(*s, PushFramesTo{
		Node:      dst,
		Condition: cond,
	})
	return s
}
