// counters.go defines Counters for tracking processed and generated frames.

package processor

import (
	"github.com/xaionaro-go/avstack/types"
)

type Counters = types.Counters
