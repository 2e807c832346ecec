// pool.go implements a pool for reusing astiav.Frame objects.

package frame

import (
	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avstack/pool"
)

var Pool = pool.NewPool(
	astiav.AllocFrame,
	func(p *astiav.Frame) { p.Unref() },
	func(p *astiav.Frame) { p.Free() },
)

// CloneAsReferenced takes a pooled frame and makes it reference the
// same buffers as src; the caller owns the returned frame.
func CloneAsReferenced(src *astiav.Frame) *astiav.Frame {
	dst := Pool.Get()
	dst.Ref(src)
	return dst
}
