package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/attachcrawler/src/analyzer"
	"github.com/andrewyi/attachcrawler/src/backoff"
	"github.com/andrewyi/attachcrawler/src/downloader"
	"github.com/andrewyi/attachcrawler/src/entity"
)

// 从seed页面开始沿着"下一页"链接顺序爬取，收集所有帖子链接
// 第n+1页一定在第n页的链接提取完成之后才会请求
type Paginator struct {
	fetcher   downloader.Fetcher
	analyzer  analyzer.Analyzer
	predicate analyzer.Predicate
	delay     time.Duration
	logger    *log.Logger
}

func NewPaginator(fetcher downloader.Fetcher, a analyzer.Analyzer, predicate analyzer.Predicate, delay time.Duration, logger *log.Logger) *Paginator {
	return &Paginator{
		fetcher:   fetcher,
		analyzer:  a,
		predicate: predicate,
		delay:     delay,
		logger:    logger,
	}
}

// 返回的channel在分页结束后关闭，只能消费一次
// 任意一页请求失败都会提前结束，已经发送的链接保留
// 调用方不再消费时需要取消ctx，否则爬取协程会阻塞在发送上
func (p *Paginator) Crawl(ctx context.Context, seedURL string) <-chan entity.PostLink {
	out := make(chan entity.PostLink)

	go func() {
		defer close(out)

		pageURL := seedURL
		for page := 1; ; page++ {
			body, err := p.fetcher.FetchText(ctx, pageURL)
			if err != nil {
				p.logger.WithError(err).WithFields(log.Fields{
					"url":  pageURL,
					"page": page,
				}).Warn("pagination stopped early")
				return
			}

			links, err := p.analyzer.ExtractLinks(body, p.predicate)
			if err != nil {
				p.logger.WithError(err).WithField("url", pageURL).Error("fail to parse page")
				return
			}
			p.logger.WithFields(log.Fields{
				"url":   pageURL,
				"page":  page,
				"posts": len(links),
			}).Info("listing page crawled")

			for _, l := range links {
				select {
				case <-ctx.Done():
					return
				case out <- entity.PostLink(l.URL):
				}
			}

			next, ok := p.analyzer.ExtractNextPage(body)
			if !ok {
				return
			}
			if err := backoff.Sleep(ctx, p.delay); err != nil {
				return
			}
			pageURL = next
		}
	}()

	return out
}

// 收集Crawl的全部结果
func (p *Paginator) CrawlAll(ctx context.Context, seedURL string) []entity.PostLink {
	var links []entity.PostLink
	for l := range p.Crawl(ctx, seedURL) {
		links = append(links, l)
	}
	return links
}

// 帖子链接保存为文本文件，每行一个，可以跳过分页直接从此文件重新开始
func SavePostLinks(path string, links []entity.PostLink) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fail to create links file, err: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, l := range links {
		if _, err := w.WriteString(string(l) + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func LoadPostLinks(path string) ([]entity.PostLink, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fail to read links file, err: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Split(bufio.ScanLines)
	var links []entity.PostLink
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		links = append(links, entity.PostLink(line))
	}
	return links, scanner.Err()
}
