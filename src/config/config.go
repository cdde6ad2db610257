package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/andrewyi/attachcrawler/src/analyzer"
	"github.com/andrewyi/attachcrawler/src/backoff"
	"github.com/andrewyi/attachcrawler/src/downloader"
)

type Config struct {
	Log struct {
		Context bool   `mapstructure:"context"`
		Level   string `mapstructure:"level"`
	} `mapstructure:"log"`

	Session struct {
		SeedURL         string        `mapstructure:"seed_url"`
		BaseURL         string        `mapstructure:"base_url"`
		MaxRetries      int           `mapstructure:"max_retries"`
		Timeout         time.Duration `mapstructure:"timeout"`
		Delay           time.Duration `mapstructure:"delay"`
		MaxConcurrent   int           `mapstructure:"max_concurrent"`
		Destination     string        `mapstructure:"destination"`
		LinksFile       string        `mapstructure:"links_file"`
		ResumeFromLinks bool          `mapstructure:"resume_from_links"`
	} `mapstructure:"session"`

	Proxy struct {
		Enabled bool   `mapstructure:"enabled"`
		Scheme  string `mapstructure:"scheme"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"proxy"`

	Backoff struct {
		RateLimitBase      time.Duration `mapstructure:"rate_limit_base"`
		RateLimitCap       time.Duration `mapstructure:"rate_limit_cap"`
		FetchRetryDelay    time.Duration `mapstructure:"fetch_retry_delay"`
		TransferRetryDelay time.Duration `mapstructure:"transfer_retry_delay"`
	} `mapstructure:"backoff"`

	Extract struct {
		PostPattern     string   `mapstructure:"post_pattern"`
		AttachmentClass string   `mapstructure:"attachment_class"`
		NextClass       string   `mapstructure:"next_class"`
		Extensions      []string `mapstructure:"extensions"`
	} `mapstructure:"extract"`

	// url为空时不写数据库
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	// addr为空时不写redis
	Redis struct {
		Addr   string        `mapstructure:"addr"`
		Prefix string        `mapstructure:"prefix"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`

	// listen为空时不暴露/metrics
	Metrics struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"metrics"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"

	cfg.Session.MaxRetries = 5
	cfg.Session.Timeout = 30 * time.Second
	cfg.Session.Delay = time.Second
	cfg.Session.MaxConcurrent = 3
	cfg.Session.Destination = "./downloads"

	cfg.Proxy.Scheme = "http"

	cfg.Backoff.RateLimitBase = backoff.DefaultRateLimitBase
	cfg.Backoff.RateLimitCap = backoff.DefaultRateLimitCap
	cfg.Backoff.FetchRetryDelay = backoff.DefaultFetchRetryDelay
	cfg.Backoff.TransferRetryDelay = backoff.DefaultTransferRetryDelay

	cfg.Extract.PostPattern = analyzer.DefaultPostPattern
	cfg.Extract.AttachmentClass = analyzer.DefaultAttachmentClass
	cfg.Extract.NextClass = analyzer.DefaultNextClass
	cfg.Extract.Extensions = append([]string(nil), analyzer.DefaultExtensions...)

	cfg.Redis.TTL = 7 * 24 * time.Hour
	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	s := c.Session
	if s.SeedURL == "" && !(s.ResumeFromLinks && s.LinksFile != "") {
		errs = append(errs, errors.New("session.seed_url is required unless resuming from a links file"))
	}
	if s.ResumeFromLinks && s.LinksFile == "" {
		errs = append(errs, errors.New("session.resume_from_links needs session.links_file"))
	}
	if s.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("session.max_retries must be >= 1, got %d", s.MaxRetries))
	}
	if s.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("session.max_concurrent must be >= 1, got %d", s.MaxConcurrent))
	}
	if s.Delay < 0 || s.Timeout < 0 {
		errs = append(errs, errors.New("session.delay and session.timeout must not be negative"))
	}
	if s.Destination == "" {
		errs = append(errs, errors.New("session.destination is required"))
	}

	b := c.Backoff
	if b.RateLimitBase < 0 || b.RateLimitCap < 0 || b.FetchRetryDelay < 0 || b.TransferRetryDelay < 0 {
		errs = append(errs, errors.New("backoff delays must not be negative"))
	}

	if c.Proxy.Enabled && c.Proxy.Host == "" {
		errs = append(errs, errors.New("proxy.host is required when proxy is enabled"))
	}
	if _, err := regexp.Compile(c.Extract.PostPattern); err != nil {
		errs = append(errs, fmt.Errorf("extract.post_pattern: %w", err))
	}
	if c.Extract.AttachmentClass == "" || c.Extract.NextClass == "" {
		errs = append(errs, errors.New("extract.attachment_class and extract.next_class are required"))
	}
	return errors.Join(errs...)
}

// 未启用代理时返回nil
func (c *Config) ProxyConfig() *downloader.ProxyConfig {
	if !c.Proxy.Enabled {
		return nil
	}
	return &downloader.ProxyConfig{
		Scheme: c.Proxy.Scheme,
		Host:   c.Proxy.Host,
		Port:   c.Proxy.Port,
	}
}

func (c *Config) FetchPolicy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts:    c.Session.MaxRetries,
		RateLimitBase:  c.Backoff.RateLimitBase,
		RateLimitCap:   c.Backoff.RateLimitCap,
		TransportDelay: c.Backoff.FetchRetryDelay,
	}
}

func (c *Config) TransferPolicy() backoff.Policy {
	p := c.FetchPolicy()
	p.TransportDelay = c.Backoff.TransferRetryDelay
	return p
}
