// serve.go provides functionality for serving a whole stacking pipeline.

// Package avstack provides the core functionality for building and
// serving video stacking pipelines.
package avstack

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avstack/logger"
	"github.com/xaionaro-go/avstack/node"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xcontext"
)

type ServeConfig struct {
	EachNode node.ServeConfig
}

// Serve starts serving the given nodes and everything reachable from
// them through the push-to edges, and blocks until all of them stop.
func Serve[T node.Abstract](
	ctx context.Context,
	serveConfig ServeConfig,
	errCh chan<- node.Error,
	nodes ...T,
) {
	var nodesWG sync.WaitGroup
	defer nodesWG.Wait()
	var dstAlreadyVisited sync.Map
	serve(ctx, serveConfig, errCh, &nodesWG, &dstAlreadyVisited, nodes...)
}

func serve[T node.Abstract](
	ctx context.Context,
	serveConfig ServeConfig,
	errCh chan<- node.Error,
	nodesWG *sync.WaitGroup,
	dstAlreadyVisited *sync.Map,
	nodes ...T,
) {
	for _, n := range nodes {
		func(n node.Abstract) {
			if _, ok := dstAlreadyVisited.LoadOrStore(n, struct{}{}); ok {
				logger.Tracef(ctx, "Serve[%s]: already visited", n)
				return
			}

			ctx, cancel := context.WithCancel(ctx)

			// the children must outlive this node, otherwise frames
			// still in flight would be lost on shutdown
			childrenCtx, childrenCancelFn := context.WithCancel(xcontext.DetachDone(ctx))
			for _, pushTo := range n.GetPushFramesTos() {
				serve(childrenCtx, serveConfig, errCh, nodesWG, dstAlreadyVisited, pushTo.Node)
			}

			nodesWG.Add(1)
			observability.Go(ctx, func(ctx context.Context) {
				defer cancel()
				defer nodesWG.Done()
				defer childrenCancelFn()
				n.Serve(ctx, serveConfig.EachNode, errCh)
			})
		}(n)
	}
}
