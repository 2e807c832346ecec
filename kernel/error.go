package kernel

import "fmt"

// ErrUnexpectedInputType is returned when a kernel receives an input it
// is not able to process (e.g. a non-video frame in a video-only kernel).
type ErrUnexpectedInputType struct {
	Description string
}

func (e ErrUnexpectedInputType) Error() string {
	return fmt.Sprintf("unexpected input type: %s", e.Description)
}
