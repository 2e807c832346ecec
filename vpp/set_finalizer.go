package vpp

import (
	"context"

	"github.com/xaionaro-go/avstack/internal"
)

func setFinalizerFree[T interface{ Free() }](
	ctx context.Context,
	freer T,
) {
	internal.SetFinalizerFree(ctx, freer)
}
