package routingpool

import (
	"context"
)

// 有上限的协程池，Submit在拿到名额之后才启动任务
type RoutingPool interface {
	Submit(ctx context.Context, fn func(context.Context)) error
	Stop()
}
