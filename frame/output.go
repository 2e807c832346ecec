// output.go defines the Output type for media frames to be sent to a sink.

package frame

import (
	"time"

	"github.com/asticode/go-astiav"
)

type Output Commons

func BuildOutput(
	f *astiav.Frame,
	streamInfo *StreamInfo,
) Output {
	return Output{
		Frame:      f,
		StreamInfo: streamInfo,
	}
}

func (f *Output) GetMediaType() astiav.MediaType  { return (*Commons)(f).GetMediaType() }
func (f *Output) GetTimeBase() astiav.Rational    { return (*Commons)(f).GetTimeBase() }
func (f *Output) GetSize() int                    { return (*Commons)(f).GetSize() }
func (f *Output) GetStreamIndex() int             { return (*Commons)(f).GetStreamIndex() }
func (f *Output) GetPTS() int64                   { return (*Commons)(f).GetPTS() }
func (f *Output) SetPTS(v int64)                  { (*Commons)(f).SetPTS(v) }
func (f *Output) GetPTSAsDuration() time.Duration { return (*Commons)(f).GetPTSAsDuration() }
