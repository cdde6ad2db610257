// 下载调度：第一轮并发传输（受名额限制，按间隔错开派发），
// 第一轮全部结束后再顺序处理重试队列
package controller

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/attachcrawler/src/backoff"
	"github.com/andrewyi/attachcrawler/src/dbstorage"
	"github.com/andrewyi/attachcrawler/src/entity"
	"github.com/andrewyi/attachcrawler/src/enum"
	"github.com/andrewyi/attachcrawler/src/filestorage"
	"github.com/andrewyi/attachcrawler/src/metrics"
	"github.com/andrewyi/attachcrawler/src/routingpool"
)

const ledgerTimeout = 5 * time.Second

type Options struct {
	SessionID     string
	MaxConcurrent int64
	Delay         time.Duration
	// 可为nil
	Ledger  dbstorage.Ledger
	Metrics *metrics.Metrics
	Hooks   Hooks
}

type SimpleController struct {
	file   filestorage.FileStorage
	opts   Options
	logger *log.Entry
}

func NewSimpleController(file filestorage.FileStorage, opts Options, logger *log.Logger) *SimpleController {
	return &SimpleController{
		file:   file,
		opts:   opts,
		logger: logger.WithField("session", opts.SessionID),
	}
}

func (c *SimpleController) Run(ctx context.Context, tasks <-chan *entity.AttachmentTask) *Report {
	report := &Report{}
	queue := &RetryQueue{}
	pool := routingpool.NewSimpleRoutingPool(c.opts.MaxConcurrent, nil)

	dispatched := 0
	for task := range tasks {
		report.Tasks = append(report.Tasks, task)

		// 已取消：不再派发，剩余任务直接标记为interrupted
		if ctx.Err() != nil {
			c.settle(ctx, task, enum.TaskStateInterrupted, enum.FailureInterrupted, nil)
			continue
		}
		if dispatched > 0 && c.opts.Delay > 0 {
			if err := backoff.Sleep(ctx, c.opts.Delay); err != nil {
				c.settle(ctx, task, enum.TaskStateInterrupted, enum.FailureInterrupted, nil)
				continue
			}
		}

		err := pool.Submit(ctx, func(ctx context.Context) {
			c.transfer(ctx, task, queue)
		})
		if err != nil {
			c.settle(ctx, task, enum.TaskStateInterrupted, enum.FailureInterrupted, nil)
			continue
		}
		dispatched++
	}
	pool.Stop()
	report.MaxInFlight = pool.MaxInFlight()
	report.Requeued = queue.Len()

	if report.Requeued > 0 {
		c.logger.WithField("count", report.Requeued).Info("first pass settled, draining retry queue")
		c.log(log.InfoLevel, fmt.Sprintf("retrying %d failed download(s)", report.Requeued))
	}
	c.drain(ctx, queue)

	c.logger.WithFields(log.Fields{
		"total":       len(report.Tasks),
		"completed":   report.Count(enum.TaskStateCompleted),
		"failed":      report.Count(enum.TaskStateFailedTerminal),
		"interrupted": report.Count(enum.TaskStateInterrupted),
	}).Info("scheduler finished")
	return report
}

// 顺序处理重试队列，这一轮的任何失败都是最终失败
func (c *SimpleController) drain(ctx context.Context, queue *RetryQueue) {
	first := true
	for {
		task, ok := queue.Pop()
		if !ok {
			return
		}
		c.opts.Metrics.RetryQueueLength(queue.Len())

		if !first && c.opts.Delay > 0 {
			if err := backoff.Sleep(ctx, c.opts.Delay); err != nil {
				c.settle(ctx, task, enum.TaskStateInterrupted, enum.FailureInterrupted, nil)
				continue
			}
		}
		first = false
		if ctx.Err() != nil {
			c.settle(ctx, task, enum.TaskStateInterrupted, enum.FailureInterrupted, nil)
			continue
		}

		task.Requeued = true
		c.transfer(ctx, task, nil)
	}
}

// queue为nil表示处于重试轮
func (c *SimpleController) transfer(ctx context.Context, task *entity.AttachmentTask, queue *RetryQueue) {
	task.State = enum.TaskStateInFlight
	c.opts.Metrics.TransferStarted()
	err := c.file.Transfer(ctx, task, filestorage.Sink{
		OnProgress: func(written, total int64) {
			if c.opts.Hooks.OnProgress != nil {
				c.opts.Hooks.OnProgress(task, written, total)
			}
		},
		OnLog: func(msg string) {
			c.log(log.WarnLevel, msg)
		},
	})
	c.opts.Metrics.TransferFinished()

	if err == nil {
		c.settle(ctx, task, enum.TaskStateCompleted, enum.FailureNone, nil)
		return
	}

	kind := backoff.KindOf(err)
	switch {
	case kind == enum.FailureInterrupted:
		c.settle(ctx, task, enum.TaskStateInterrupted, kind, err)
	case kind == enum.FailureRetriesExhausted && queue != nil:
		task.State = enum.TaskStateFailedRetryable
		task.Failure = kind
		task.LastError = err.Error()
		n := queue.Push(task)
		c.opts.Metrics.RetryQueueLength(n)
		c.logger.WithError(err).WithField("file", task.Filename).Warn("transfer exhausted retries, queued for retry")
		c.log(log.WarnLevel, fmt.Sprintf("%s: retries exhausted, will retry later", task.Filename))
	default:
		if kind == enum.FailureNone {
			kind = enum.FailureForbidden
		}
		c.settle(ctx, task, enum.TaskStateFailedTerminal, kind, err)
	}
}

func (c *SimpleController) settle(ctx context.Context, task *entity.AttachmentTask, state enum.TaskState, kind enum.FailureKind, err error) {
	task.State = state
	task.Failure = kind
	if err != nil {
		task.LastError = err.Error()
	}
	c.opts.Metrics.TransferSettled(state)

	logger := c.logger.WithFields(log.Fields{
		"url":      task.URL,
		"file":     task.Filename,
		"state":    state,
		"attempts": task.Attempts,
	})
	switch state {
	case enum.TaskStateCompleted:
		logger.Info("download completed")
		c.log(log.InfoLevel, fmt.Sprintf("%s: completed", task.Filename))
	case enum.TaskStateInterrupted:
		logger.Info("download interrupted")
		c.log(log.InfoLevel, fmt.Sprintf("%s: interrupted", task.Filename))
	default:
		if err != nil {
			logger = logger.WithError(err)
		}
		logger.WithField("reason", kind).Error("fail to download attachment")
		c.log(log.ErrorLevel, fmt.Sprintf("%s: failed (%s)", task.Filename, kind))
	}

	if c.opts.Ledger != nil {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
		if err := c.opts.Ledger.Record(lctx, c.opts.SessionID, task); err != nil {
			logger.WithError(err).Warn("fail to record task")
		}
		cancel()
	}
	if c.opts.Hooks.OnSettled != nil {
		c.opts.Hooks.OnSettled(task)
	}
}

func (c *SimpleController) log(level log.Level, msg string) {
	if c.opts.Hooks.OnLog != nil {
		c.opts.Hooks.OnLog(level, msg)
	}
}
