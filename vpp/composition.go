// composition.go defines the composition descriptor handed to the
// video-processing engine.

// Package vpp is the boundary to the video-processing (compositing)
// engine. The engine itself is externally owned: composition, color
// conversion and surface management are delegated to libavfilter's
// stack engines (software or hardware-accelerated), this package only
// marshals the configuration and the frames.
package vpp

import (
	"fmt"
	"strings"
)

// InputStream is the per-input composition configuration: where the
// input is placed on the output canvas and how its alpha is treated.
// The semantics mirror the accelerator's composition parameters.
type InputStream struct {
	DstX int
	DstY int
	DstW int
	DstH int

	GlobalAlpha       uint8
	GlobalAlphaEnable bool
	PixelAlphaEnable  bool
}

// Composition is an ordered list of per-input stream parameters. It is
// computed once at configuration time and passed to the engine opaquely.
type Composition struct {
	InputStreams []InputStream
}

func (c *Composition) String() string {
	return fmt.Sprintf("Composition(%s)", c.Layout())
}

// Validate reports the first configuration error, if any.
func (c *Composition) Validate() error {
	if len(c.InputStreams) == 0 {
		return fmt.Errorf("the composition has no input streams")
	}
	for i, is := range c.InputStreams {
		if is.DstX < 0 || is.DstY < 0 {
			return fmt.Errorf("input stream %d has a negative destination offset: %dx%d", i, is.DstX, is.DstY)
		}
		if is.DstW <= 0 || is.DstH <= 0 {
			return fmt.Errorf("input stream %d has a non-positive destination size: %dx%d", i, is.DstW, is.DstH)
		}
	}
	return nil
}

// Layout serializes the destination offsets into the engine's layout
// grammar: "x0_y0|x1_y1|...".
func (c *Composition) Layout() string {
	items := make([]string, 0, len(c.InputStreams))
	for _, is := range c.InputStreams {
		items = append(items, fmt.Sprintf("%d_%d", is.DstX, is.DstY))
	}
	return strings.Join(items, "|")
}

// CanvasSize returns the size of the smallest canvas covering all the
// destination rectangles.
func (c *Composition) CanvasSize() (width, height int) {
	for _, is := range c.InputStreams {
		if x := is.DstX + is.DstW; x > width {
			width = x
		}
		if y := is.DstY + is.DstH; y > height {
			height = y
		}
	}
	return
}
