// serve_config.go defines the configuration for serving a node.

package node

type ServeConfig struct {
	// FrameDrop allows dropping frames when a downstream node is not
	// keeping up, instead of stalling the whole pipeline.
	FrameDrop bool
}
