package controller

import (
	"sync"

	"github.com/andrewyi/attachcrawler/src/entity"
)

// FIFO，第一轮中多个协程同时写入
type RetryQueue struct {
	mu    sync.Mutex
	tasks []*entity.AttachmentTask
}

func (q *RetryQueue) Push(task *entity.AttachmentTask) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return len(q.tasks)
}

func (q *RetryQueue) Pop() (*entity.AttachmentTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
