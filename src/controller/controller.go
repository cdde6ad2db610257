package controller

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/attachcrawler/src/entity"
	"github.com/andrewyi/attachcrawler/src/enum"
)

// 消费任务直到channel关闭，全部结束后返回
// 调用方必须保证tasks最终会被关闭
type Controller interface {
	Run(ctx context.Context, tasks <-chan *entity.AttachmentTask) *Report
}

// 调度过程中的回调，均可为nil，可能被多个协程同时调用
type Hooks struct {
	OnProgress func(task *entity.AttachmentTask, written, total int64)
	OnLog      func(level log.Level, msg string)
	OnSettled  func(task *entity.AttachmentTask)
}

type Report struct {
	// 按提交顺序
	Tasks []*entity.AttachmentTask
	// 重试队列中出现过的任务数
	Requeued int
	// 同时处于in-flight状态的最大任务数
	MaxInFlight int64
}

func (r *Report) Count(state enum.TaskState) int {
	var n int
	for _, t := range r.Tasks {
		if t.State == state {
			n++
		}
	}
	return n
}

func (r *Report) Counts() map[enum.TaskState]int {
	counts := make(map[enum.TaskState]int)
	for _, t := range r.Tasks {
		counts[t.State]++
	}
	return counts
}
