// option.go defines functional options for configuring processors.

package processor

type config struct {
	InputFrameQueue  uint
	OutputFrameQueue uint
	ErrorQueue       uint
}

type Option interface {
	apply(*config)
}

type Options []Option

func (s Options) apply(cfg *config) {
	for _, opt := range s {
		opt.apply(cfg)
	}
}

func (s Options) config() config {
	cfg := config{}
	s.apply(&cfg)
	return cfg
}

type OptionQueueSizeInputFrame uint

func (opt OptionQueueSizeInputFrame) apply(cfg *config) {
	cfg.InputFrameQueue = uint(opt)
}

type OptionQueueSizeOutputFrame uint

func (opt OptionQueueSizeOutputFrame) apply(cfg *config) {
	cfg.OutputFrameQueue = uint(opt)
}

type OptionQueueSizeError uint

func (opt OptionQueueSizeError) apply(cfg *config) {
	cfg.ErrorQueue = uint(opt)
}
