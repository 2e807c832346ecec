// input.go defines the Input type for media frames received from a source.

package frame

import (
	"github.com/asticode/go-astiav"
)

type Input Commons

func BuildInput(
	f *astiav.Frame,
	pos int64,
	streamInfo *StreamInfo,
) Input {
	return Input{
		Frame:      f,
		Pos:        pos,
		StreamInfo: streamInfo,
	}
}

func (f *Input) GetMediaType() astiav.MediaType { return (*Commons)(f).GetMediaType() }
func (f *Input) GetTimeBase() astiav.Rational   { return (*Commons)(f).GetTimeBase() }
func (f *Input) GetSize() int                   { return (*Commons)(f).GetSize() }
func (f *Input) GetStreamIndex() int            { return (*Commons)(f).GetStreamIndex() }
func (f *Input) GetPTS() int64                  { return (*Commons)(f).GetPTS() }
func (f *Input) SetPTS(v int64)                 { (*Commons)(f).SetPTS(v) }
