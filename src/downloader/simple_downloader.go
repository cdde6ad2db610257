// 简单的http GET页面下载，按backoff.Policy重试
// 429指数退避，403及其他非2xx直接放弃，transport错误固定间隔重试
package downloader

import (
	"context"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/attachcrawler/src/backoff"
	"github.com/andrewyi/attachcrawler/src/metrics"
)

type SimpleFetcher struct {
	client  *http.Client
	policy  backoff.Policy
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewSimpleFetcher(client *http.Client, policy backoff.Policy, logger *log.Logger, m *metrics.Metrics) *SimpleFetcher {
	return &SimpleFetcher{
		client:  client,
		policy:  policy,
		logger:  logger,
		metrics: m,
	}
}

func (s *SimpleFetcher) FetchText(ctx context.Context, url string) (string, error) {
	var content []byte

	err := backoff.Do(ctx, s.policy, func(ctx context.Context, attempt int) backoff.Outcome {
		req, err := NewRequest(ctx, url)
		if err != nil {
			return backoff.Transport(backoff.Permanent(err))
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return backoff.Transport(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// 让连接可以被复用
			_, _ = io.Copy(io.Discard, resp.Body)
			return backoff.Status(resp.StatusCode)
		}

		content, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Transport(err)
		}
		return backoff.Status(resp.StatusCode)
	}, func(d backoff.Decision, attempt int, o backoff.Outcome) {
		entry := s.logger.WithFields(log.Fields{
			"url":     url,
			"attempt": attempt + 1,
			"max":     s.policy.MaxAttempts,
			"status":  o.Status,
			"reason":  d.Failure,
			"wait":    d.Wait,
		})
		if o.Err != nil {
			entry = entry.WithError(o.Err)
		}
		entry.Warn("page request failed, retrying")
	})

	if err != nil {
		s.metrics.PageFetched(false)
		s.logger.WithError(err).WithField("url", url).Error("fail to fetch page")
		return "", err
	}

	s.metrics.PageFetched(true)
	return string(content), nil
}
