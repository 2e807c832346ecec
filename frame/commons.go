// Package frame provides types and utilities for handling media frames.
package frame

import (
	"time"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avstack/avconv"
)

// StreamInfo describes the stream a frame belongs to. It is constructed
// once per input and shared by every frame of that input.
type StreamInfo struct {
	CodecParameters *astiav.CodecParameters
	StreamIndex     int
	TimeBase        astiav.Rational
	FrameRate       astiav.Rational

	// HWDeviceContext is the accelerator device the frames of this
	// stream live on; nil for software frames.
	HWDeviceContext *astiav.HardwareDeviceContext
}

func (si *StreamInfo) GetStreamIndex() int {
	return si.StreamIndex
}

func (si *StreamInfo) GetTimeBase() astiav.Rational {
	return si.TimeBase
}

func (si *StreamInfo) GetCodecParameters() *astiav.CodecParameters {
	return si.CodecParameters
}

type Commons struct {
	*astiav.Frame
	StreamInfo *StreamInfo
	Pos        int64
}

func (f *Commons) GetMediaType() astiav.MediaType {
	return f.StreamInfo.CodecParameters.MediaType()
}

func (f *Commons) GetTimeBase() astiav.Rational {
	return f.StreamInfo.TimeBase
}

func (f *Commons) GetSize() int {
	return 0 // TODO: report the buffer size once the bindings expose av_image_get_buffer_size
}

func (f *Commons) GetStreamIndex() int {
	return f.StreamInfo.StreamIndex
}

func (f *Commons) GetPTS() int64 {
	return f.Frame.Pts()
}

func (f *Commons) SetPTS(v int64) {
	f.Frame.SetPts(v)
}

func (f *Commons) GetPTSAsDuration() time.Duration {
	return avconv.Duration(f.Frame.Pts(), f.StreamInfo.TimeBase)
}
