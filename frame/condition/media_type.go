package condition

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avstack/frame"
)

type MediaType astiav.MediaType

var _ Condition = (MediaType)(0)

func (v MediaType) String() string {
	return fmt.Sprintf("MediaType(%s)", astiav.MediaType(v))
}

func (v MediaType) Match(_ context.Context, f frame.Input) bool {
	return f.GetMediaType() == astiav.MediaType(v)
}
