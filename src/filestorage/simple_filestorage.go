// 先写入<name>.part，完整接收后再重命名为最终文件名
// 最终路径上的文件只可能不存在或完整，已存在的最终文件不会被覆盖
package filestorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/attachcrawler/src/backoff"
	"github.com/andrewyi/attachcrawler/src/downloader"
	"github.com/andrewyi/attachcrawler/src/entity"
	"github.com/andrewyi/attachcrawler/src/enum"
	"github.com/andrewyi/attachcrawler/src/metrics"
)

type SimpleFileStorage struct {
	location string
	client   *http.Client
	policy   backoff.Policy
	// 超过这个时间没有收到任何数据则放弃本次尝试，0表示不限制
	idleTimeout time.Duration
	logger      *log.Logger
	metrics     *metrics.Metrics
}

func NewSimpleFileStorage(location string, client *http.Client, policy backoff.Policy, idleTimeout time.Duration, logger *log.Logger, m *metrics.Metrics) *SimpleFileStorage {
	return &SimpleFileStorage{
		location:    location,
		client:      client,
		policy:      policy,
		idleTimeout: idleTimeout,
		logger:      logger,
		metrics:     m,
	}
}

func (s *SimpleFileStorage) Paths(task *entity.AttachmentTask) (finalPath, partPath string) {
	finalPath = filepath.Join(s.location, task.Filename)
	return finalPath, finalPath + enum.PartSuffix
}

func (s *SimpleFileStorage) Transfer(ctx context.Context, task *entity.AttachmentTask, sink Sink) error {
	finalPath, partPath := s.Paths(task)
	logger := s.logger.WithFields(log.Fields{
		"url":  task.URL,
		"file": task.Filename,
	})

	return backoff.Do(ctx, s.policy, func(ctx context.Context, attempt int) backoff.Outcome {
		task.Attempts++
		return s.attempt(ctx, task.URL, finalPath, partPath, sink)
	}, func(d backoff.Decision, attempt int, o backoff.Outcome) {
		s.metrics.TransferRetried(d.Failure)
		entry := logger.WithFields(log.Fields{
			"attempt": attempt + 1,
			"max":     s.policy.MaxAttempts,
			"status":  o.Status,
			"reason":  d.Failure,
			"wait":    d.Wait,
		})
		if o.Err != nil {
			entry = entry.WithError(o.Err)
		}
		entry.Warn("transfer failed, retrying")
	})
}

// ctx为会话的ctx，只有它结束才算interrupted
// 本次尝试使用派生的actx，空闲超时只取消actx，按transport错误重试
func (s *SimpleFileStorage) attempt(ctx context.Context, url, finalPath, partPath string, sink Sink) backoff.Outcome {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	touch := func() {}
	if s.idleTimeout > 0 {
		idle := time.AfterFunc(s.idleTimeout, cancel)
		defer idle.Stop()
		touch = func() { idle.Reset(s.idleTimeout) }
	}

	req, err := downloader.NewRequest(actx, url)
	if err != nil {
		return backoff.Transport(backoff.Permanent(err))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return backoff.Transport(s.stalled(ctx, actx, err))
	}
	defer resp.Body.Close()
	touch()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return backoff.Status(resp.StatusCode)
	}

	if err := os.MkdirAll(s.location, os.ModePerm); err != nil {
		return backoff.Transport(backoff.Permanent(fmt.Errorf("fail to create destination, err: %w", err)))
	}

	file, err := os.Create(partPath)
	if err != nil {
		return backoff.Transport(backoff.Permanent(fmt.Errorf("fail to create part file, err: %w", err)))
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	var written int64
	buf := make([]byte, enum.ChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			touch()
			if _, werr := file.Write(buf[:n]); werr != nil {
				file.Close()
				s.cleanup(finalPath, partPath, sink)
				return backoff.Transport(backoff.Permanent(fmt.Errorf("fail to write part file, err: %w", werr)))
			}
			written += int64(n)
			s.metrics.BytesWritten(n)
			sink.progress(written, total)
		}
		// 被取消时保留.part文件，不做清理
		if ctx.Err() != nil {
			file.Close()
			return backoff.Transport(ctx.Err())
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			file.Close()
			if ctx.Err() != nil {
				return backoff.Transport(ctx.Err())
			}
			s.cleanup(finalPath, partPath, sink)
			return backoff.Transport(s.stalled(ctx, actx, rerr))
		}
	}

	if err := file.Close(); err != nil {
		s.cleanup(finalPath, partPath, sink)
		return backoff.Transport(backoff.Permanent(fmt.Errorf("fail to close part file, err: %w", err)))
	}

	// 已经存在的最终文件视为权威版本
	if _, err := os.Stat(finalPath); err == nil {
		s.logger.WithField("file", finalPath).Info("final file already exists, keep it")
		s.remove(partPath, sink)
		return backoff.Status(resp.StatusCode)
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		return backoff.Transport(backoff.Permanent(fmt.Errorf("fail to promote part file, err: %w", err)))
	}
	return backoff.Status(resp.StatusCode)
}

// 会话未取消而actx已结束，说明是空闲超时
func (s *SimpleFileStorage) stalled(ctx, actx context.Context, err error) error {
	if ctx.Err() == nil && actx.Err() != nil {
		return fmt.Errorf("no data received for %s: %w", s.idleTimeout, err)
	}
	return err
}

// 传输中途失败，删除.part与最终文件后再重试
func (s *SimpleFileStorage) cleanup(finalPath, partPath string, sink Sink) {
	s.remove(partPath, sink)
	s.remove(finalPath, sink)
}

// 删除失败（例如文件被占用）只记录日志
func (s *SimpleFileStorage) remove(path string, sink Sink) {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return
	}
	s.logger.WithError(err).WithField("file", path).Warn("fail to remove file")
	sink.log(fmt.Sprintf("fail to remove %s: %v", path, err))
}
