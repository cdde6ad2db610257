// 实现了一个最简单的协程池
// 协程池有多种实现方式，可以
// 1. 固定数量的worker从channel读取任务
// 2. 每个任务一个协程，通过信号量限制同时运行的数量（当前采用的方式）
// 任务按提交顺序获得名额，Submit会阻塞直到拿到名额或ctx结束
// NOTE: 注意当前实现没有处理任务panic的问题
package routingpool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

type SimpleRoutingPool struct {
	wg  sync.WaitGroup
	sem *semaphore.Weighted

	size        int64
	inFlight    int64
	maxInFlight int64

	// 名额变化时回调，可为nil
	onChange func(inFlight int64)
}

func NewSimpleRoutingPool(size int64, onChange func(inFlight int64)) *SimpleRoutingPool {
	if size < 1 {
		size = 1
	}
	return &SimpleRoutingPool{
		sem:      semaphore.NewWeighted(size),
		size:     size,
		onChange: onChange,
	}
}

func (s *SimpleRoutingPool) Size() int64 {
	return s.size
}

func (s *SimpleRoutingPool) Submit(ctx context.Context, fn func(context.Context)) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	s.enter()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer s.leave()
		fn(ctx)
	}()
	return nil
}

// 等待所有已提交的任务结束
func (s *SimpleRoutingPool) Stop() {
	s.wg.Wait()
}

func (s *SimpleRoutingPool) InFlight() int64 {
	return atomic.LoadInt64(&s.inFlight)
}

// 运行期间同时持有名额的最大任务数
func (s *SimpleRoutingPool) MaxInFlight() int64 {
	return atomic.LoadInt64(&s.maxInFlight)
}

func (s *SimpleRoutingPool) enter() {
	n := atomic.AddInt64(&s.inFlight, 1)
	for {
		old := atomic.LoadInt64(&s.maxInFlight)
		if n <= old || atomic.CompareAndSwapInt64(&s.maxInFlight, old, n) {
			break
		}
	}
	if s.onChange != nil {
		s.onChange(n)
	}
}

func (s *SimpleRoutingPool) leave() {
	n := atomic.AddInt64(&s.inFlight, -1)
	if s.onChange != nil {
		s.onChange(n)
	}
}
