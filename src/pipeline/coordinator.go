// 串联分页、附件发现与下载调度
// 分页完成后帖子页按顺序解析，发现的附件立即交给调度器并发下载
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/andrewyi/attachcrawler/src/analyzer"
	"github.com/andrewyi/attachcrawler/src/backoff"
	"github.com/andrewyi/attachcrawler/src/config"
	"github.com/andrewyi/attachcrawler/src/controller"
	"github.com/andrewyi/attachcrawler/src/core"
	"github.com/andrewyi/attachcrawler/src/dbstorage"
	"github.com/andrewyi/attachcrawler/src/downloader"
	"github.com/andrewyi/attachcrawler/src/entity"
	"github.com/andrewyi/attachcrawler/src/enum"
	"github.com/andrewyi/attachcrawler/src/filestorage"
	"github.com/andrewyi/attachcrawler/src/metrics"
	"github.com/andrewyi/attachcrawler/src/util"
)

var ErrAlreadyRunning = errors.New("pipeline already running")

type Options struct {
	// 可为nil
	Ledger  dbstorage.Ledger
	Metrics *metrics.Metrics
	// 会被多个下载协程同时调用
	OnEvent func(Event)
}

type Coordinator struct {
	cfg       *config.Config
	sessionID string
	logger    *log.Logger
	opts      Options

	fetcher     downloader.Fetcher
	file        filestorage.FileStorage
	posts       analyzer.Predicate
	attachments analyzer.Predicate

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	progress  map[string]int
}

func NewCoordinator(cfg *config.Config, logger *log.Logger, opts Options) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config, err: %w", err)
	}

	proxy := cfg.ProxyConfig()
	pageClient, err := downloader.NewHTTPClient(cfg.Session.Timeout, proxy)
	if err != nil {
		return nil, fmt.Errorf("fail to create http client, err: %w", err)
	}
	streamClient, err := downloader.NewStreamClient(cfg.Session.Timeout, proxy)
	if err != nil {
		return nil, fmt.Errorf("fail to create stream client, err: %w", err)
	}

	posts, err := analyzer.NewPathPattern(cfg.Extract.PostPattern)
	if err != nil {
		return nil, fmt.Errorf("fail to compile post pattern, err: %w", err)
	}

	return &Coordinator{
		cfg:         cfg,
		sessionID:   uuid.NewString(),
		logger:      logger,
		opts:        opts,
		fetcher:     downloader.NewSimpleFetcher(pageClient, cfg.FetchPolicy(), logger, opts.Metrics),
		file:        filestorage.NewSimpleFileStorage(cfg.Session.Destination, streamClient, cfg.TransferPolicy(), cfg.Session.Timeout, logger, opts.Metrics),
		posts:       posts,
		attachments: analyzer.NewAttachmentClass(cfg.Extract.AttachmentClass, cfg.Extract.Extensions),
		progress:    make(map[string]int),
	}, nil
}

func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// 停止派发新任务，正在进行的传输在下一个块边界停止
// 在Run开始之前调用同样有效
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if c.cancel != nil {
		c.cancel()
	}
}

// 先完成分页并写出帖子链接文件，再并发进行附件发现与下载
func (c *Coordinator) Run(ctx context.Context) (*controller.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	c.cancel = cancel
	if c.cancelled {
		cancel()
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	logger := c.logger.WithField("session", c.sessionID)

	base, err := c.baseURL()
	if err != nil {
		return nil, err
	}

	var links []entity.PostLink
	resume := c.cfg.Session.ResumeFromLinks
	if resume {
		if links, err = core.LoadPostLinks(c.cfg.Session.LinksFile); err != nil {
			return nil, fmt.Errorf("fail to load post links, err: %w", err)
		}
		logger.WithFields(log.Fields{
			"file":  c.cfg.Session.LinksFile,
			"posts": len(links),
		}).Info("resume from post links file")
		c.emitLog(log.InfoLevel, fmt.Sprintf("loaded %d post link(s) from %s", len(links), c.cfg.Session.LinksFile))
		if base == "" && len(links) > 0 {
			if base, err = util.BaseOf(string(links[0])); err != nil {
				return nil, fmt.Errorf("fail to derive base url, err: %w", err)
			}
		}
	}

	a, err := analyzer.NewSimpleAnalyzer(base, c.cfg.Extract.NextClass, c.logger)
	if err != nil {
		return nil, fmt.Errorf("fail to create analyzer, err: %w", err)
	}
	if !resume {
		c.emitLog(log.InfoLevel, fmt.Sprintf("crawling %s", c.cfg.Session.SeedURL))
		paginator := core.NewPaginator(c.fetcher, a, c.posts, c.cfg.Session.Delay, c.logger)
		links = paginator.CrawlAll(ctx, c.cfg.Session.SeedURL)
		c.emitLog(log.InfoLevel, fmt.Sprintf("found %d post link(s)", len(links)))
		c.savePostLinks(logger, links)
	}

	scheduler := controller.NewSimpleController(c.file, controller.Options{
		SessionID:     c.sessionID,
		MaxConcurrent: int64(c.cfg.Session.MaxConcurrent),
		Delay:         c.cfg.Session.Delay,
		Ledger:        c.opts.Ledger,
		Metrics:       c.opts.Metrics,
		Hooks: controller.Hooks{
			OnProgress: c.onProgress,
			OnLog:      c.emitLog,
			OnSettled:  c.onSettled,
		},
	}, c.logger)

	tasks := make(chan *entity.AttachmentTask)
	var report *controller.Report
	var visited int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(tasks)
		visited = c.discover(gctx, a, feedPostLinks(gctx, links), tasks)
		return nil
	})
	g.Go(func() error {
		report = scheduler.Run(gctx, tasks)
		return nil
	})
	_ = g.Wait()

	msg := fmt.Sprintf("finished: %d completed, %d failed, %d interrupted",
		report.Count(enum.TaskStateCompleted),
		report.Count(enum.TaskStateFailedTerminal),
		report.Count(enum.TaskStateInterrupted))
	logger.WithFields(log.Fields{
		"posts":  visited,
		"states": report.Counts(),
	}).Info(msg)
	c.emit(Event{Type: EventDone, Message: msg, Report: report})
	return report, nil
}

// 分页结束后立即写出，下载阶段进程退出也可以从此文件重新开始
func (c *Coordinator) savePostLinks(logger *log.Entry, links []entity.PostLink) {
	path := c.cfg.Session.LinksFile
	if path == "" {
		return
	}
	if err := core.SavePostLinks(path, links); err != nil {
		logger.WithError(err).WithField("file", path).Error("fail to save post links")
		c.emitLog(log.WarnLevel, fmt.Sprintf("fail to save post links: %v", err))
		return
	}
	logger.WithFields(log.Fields{
		"file":  path,
		"posts": len(links),
	}).Info("post links saved")
}

func (c *Coordinator) baseURL() (string, error) {
	if c.cfg.Session.BaseURL != "" {
		return c.cfg.Session.BaseURL, nil
	}
	if c.cfg.Session.SeedURL == "" {
		return "", nil
	}
	base, err := util.BaseOf(c.cfg.Session.SeedURL)
	if err != nil {
		return "", fmt.Errorf("fail to derive base url, err: %w", err)
	}
	return base, nil
}

// 按顺序请求每个帖子页并提取附件，返回请求过的帖子数
func (c *Coordinator) discover(ctx context.Context, a analyzer.Analyzer, posts <-chan entity.PostLink, tasks chan<- *entity.AttachmentTask) int {
	visited := 0
	names := newNamer()
	id := 0

	for post := range posts {
		if ctx.Err() != nil {
			continue
		}
		if visited > 0 {
			if err := backoff.Sleep(ctx, c.cfg.Session.Delay); err != nil {
				continue
			}
		}
		visited++

		body, err := c.fetcher.FetchText(ctx, string(post))
		if err != nil {
			if ctx.Err() == nil {
				c.emitLog(log.WarnLevel, fmt.Sprintf("skip post %s: %v", post, err))
			}
			continue
		}
		links, err := a.ExtractLinks(body, c.attachments)
		if err != nil {
			c.logger.WithError(err).WithField("url", post).Error("fail to parse post page")
			continue
		}
		c.logger.WithFields(log.Fields{
			"url":         post,
			"attachments": len(links),
		}).Debug("post page parsed")

		for _, l := range links {
			task := entity.NewAttachmentTask(strconv.Itoa(id), l.URL, names.assign(l.Name), string(post))
			id++
			select {
			case tasks <- task:
			case <-ctx.Done():
				return visited
			}
		}
	}
	return visited
}

func feedPostLinks(ctx context.Context, links []entity.PostLink) <-chan entity.PostLink {
	out := make(chan entity.PostLink)
	go func() {
		defer close(out)
		for _, l := range links {
			select {
			case out <- l:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (c *Coordinator) onProgress(task *entity.AttachmentTask, written, total int64) {
	percent := Percent(written, total)
	c.mu.Lock()
	c.progress[task.ID] = percent
	c.mu.Unlock()

	c.emit(Event{
		Type:     EventProgress,
		Filename: task.Filename,
		Percent:  percent,
		Written:  written,
		Total:    total,
	})
}

// 长度未知的传输在完成时补一个100%
func (c *Coordinator) onSettled(task *entity.AttachmentTask) {
	c.mu.Lock()
	last, ok := c.progress[task.ID]
	delete(c.progress, task.ID)
	c.mu.Unlock()

	if task.State == enum.TaskStateCompleted && (!ok || last < 100) {
		c.emit(Event{Type: EventProgress, Filename: task.Filename, Percent: 100})
	}
}

func (c *Coordinator) emitLog(level log.Level, msg string) {
	c.emit(Event{Type: EventLog, Level: level, Message: msg})
}

func (c *Coordinator) emit(e Event) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(e)
	}
}
