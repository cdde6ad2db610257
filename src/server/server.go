package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/andrewyi/attachcrawler/src/config"
	"github.com/andrewyi/attachcrawler/src/dbstorage"
	"github.com/andrewyi/attachcrawler/src/enum"
	"github.com/andrewyi/attachcrawler/src/metrics"
	"github.com/andrewyi/attachcrawler/src/pipeline"
	"github.com/andrewyi/attachcrawler/src/util"
)

type Server struct {
	logger *log.Logger
	config *config.Config

	coordinator *pipeline.Coordinator
	ledger      dbstorage.Ledgers
	metricsSrv  *http.Server

	mu       sync.Mutex
	progress map[string]int
}

func NewServer() *Server {
	return &Server{
		progress: make(map[string]int),
	}
}

func (s *Server) initLog() {
	var logger = log.New()
	logger.SetFormatter(&log.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	if s.config.Log.Context {
		logger.SetReportCaller(true)
	}

	if logLevel, err := log.ParseLevel(s.config.Log.Level); err != nil {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(logLevel)
	}
	s.logger = logger
}

// .env文件可选，已经存在的环境变量不会被覆盖
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func (s *Server) Start(ctx *cli.Context) error {
	var err error

	if err = loadEnvFile(ctx.String("env-file")); err != nil {
		return fmt.Errorf("fail to load env file, err: %w", err)
	}

	cfg := config.Default()
	if err = util.ReadConfig(ctx.String("config"), cfg); err != nil {
		return fmt.Errorf("fail to load config, err: %w", err)
	}
	if err = ApplyFlags(ctx, cfg); err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config, err: %w", err)
	}
	s.config = cfg

	s.initLog()

	if err = s.openLedger(); err != nil {
		// 无法记录结果不影响下载
		s.logger.WithError(err).Error("fail to open ledger, continue without it")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Listen != "" {
		s.serveMetrics(reg)
	}

	var ledger dbstorage.Ledger
	if len(s.ledger) > 0 {
		ledger = s.ledger
	}
	s.coordinator, err = pipeline.NewCoordinator(cfg, s.logger, pipeline.Options{
		Ledger:  ledger,
		Metrics: m,
		OnEvent: s.onEvent,
	})
	if err != nil {
		s.Stop()
		return fmt.Errorf("fail to create pipeline, err: %w", err)
	}

	stop := s.watchSignals()
	defer stop()

	fields := log.Fields{
		"session":     s.coordinator.SessionID(),
		"seed":        cfg.Session.SeedURL,
		"destination": cfg.Session.Destination,
	}
	if domain, err := util.GetDomain(cfg.Session.SeedURL); err == nil && domain != "" {
		fields["domain"] = domain
	}
	s.logger.WithFields(fields).Info("session started")

	report, err := s.coordinator.Run(context.Background())
	s.Stop()
	if err != nil {
		return err
	}

	if failed := report.Count(enum.TaskStateFailedTerminal); failed > 0 {
		s.logger.WithField("failed", failed).Warn("some attachments were not downloaded")
	}
	return nil
}

func (s *Server) openLedger() error {
	var errs []error
	if s.config.Database.URL != "" {
		db, err := dbstorage.NewSimpleDBStorage(s.config.Database.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		} else {
			s.ledger = append(s.ledger, db)
		}
	}
	if s.config.Redis.Addr != "" {
		s.ledger = append(s.ledger, dbstorage.NewRedisStorage(s.config.Redis.Addr, s.config.Redis.Prefix, s.config.Redis.TTL))
	}
	return errors.Join(errs...)
}

func (s *Server) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.metricsSrv = &http.Server{
		Addr:              s.config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("fail to serve metrics")
		}
	}()
	s.logger.WithField("listen", s.config.Metrics.Listen).Info("metrics endpoint enabled")
}

// 第一次信号取消会话，等待传输在块边界停下
func (s *Server) watchSignals() func() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go s.waitSignal(c, done, func() { signal.Stop(c) }, s.coordinator.Cancel)
	return func() {
		signal.Stop(c)
		close(done)
	}
}

// 收到信号后先release，之后的信号按默认行为直接终止进程
func (s *Server) waitSignal(c <-chan os.Signal, done <-chan struct{}, release func(), cancel func()) {
	select {
	case sig := <-c:
		release()
		s.logger.WithField("signal", sig).Warn("interrupt signal, session gonna stop, send again to force quit")
		cancel()
	case <-done:
	}
}

// 进度只在跨过25%的整数倍时输出
func (s *Server) onEvent(e pipeline.Event) {
	switch e.Type {
	case pipeline.EventProgress:
		bucket := e.Percent / 25
		s.mu.Lock()
		last, ok := s.progress[e.Filename]
		if ok && bucket <= last {
			s.mu.Unlock()
			return
		}
		s.progress[e.Filename] = bucket
		s.mu.Unlock()
		s.logger.WithFields(log.Fields{
			"file":    e.Filename,
			"percent": e.Percent,
		}).Info("progress")
	case pipeline.EventLog:
		s.logger.WithField("event", "log").Log(e.Level, e.Message)
	case pipeline.EventDone:
		s.logger.WithField("event", "done").Info(e.Message)
	}
}

func (s *Server) Stop() {
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if len(s.ledger) > 0 {
		if err := s.ledger.Close(); err != nil {
			s.logger.WithError(err).Warn("fail to close ledger")
		}
		s.ledger = nil
	}
}

// 命令行中显式给出的参数覆盖配置文件
func ApplyFlags(ctx *cli.Context, cfg *config.Config) error {
	if ctx.IsSet("url") {
		cfg.Session.SeedURL = ctx.String("url")
	}
	if ctx.IsSet("base-url") {
		cfg.Session.BaseURL = ctx.String("base-url")
	}
	if ctx.IsSet("dest") {
		cfg.Session.Destination = ctx.String("dest")
	}
	if ctx.IsSet("concurrency") {
		cfg.Session.MaxConcurrent = ctx.Int("concurrency")
	}
	if ctx.IsSet("retries") {
		cfg.Session.MaxRetries = ctx.Int("retries")
	}
	if ctx.IsSet("delay") {
		cfg.Session.Delay = ctx.Duration("delay")
	}
	if ctx.IsSet("timeout") {
		cfg.Session.Timeout = ctx.Duration("timeout")
	}
	if ctx.IsSet("links-file") {
		cfg.Session.LinksFile = ctx.String("links-file")
	}
	if ctx.IsSet("from-links") {
		cfg.Session.ResumeFromLinks = ctx.Bool("from-links")
	}
	if ctx.IsSet("metrics-listen") {
		cfg.Metrics.Listen = ctx.String("metrics-listen")
	}
	if ctx.IsSet("log-level") {
		cfg.Log.Level = ctx.String("log-level")
	}
	if ctx.IsSet("proxy") {
		if err := applyProxy(cfg, ctx.String("proxy")); err != nil {
			return err
		}
	}
	return nil
}

// scheme://host:port，scheme缺省为http
func applyProxy(cfg *config.Config, raw string) error {
	if raw == "" {
		cfg.Proxy.Enabled = false
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + raw)
	}
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("invalid proxy %q", raw)
	}

	cfg.Proxy.Enabled = true
	cfg.Proxy.Scheme = u.Scheme
	cfg.Proxy.Host = u.Hostname()
	cfg.Proxy.Port = 0
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid proxy port %q", p)
		}
		cfg.Proxy.Port = port
	}
	return nil
}
