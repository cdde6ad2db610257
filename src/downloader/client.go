package downloader

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

const DefaultUserAgent = "attachcrawler/0.1"

type ProxyConfig struct {
	Scheme string
	Host   string
	Port   int
}

func (p ProxyConfig) URL() (*url.URL, error) {
	if p.Host == "" {
		return nil, fmt.Errorf("proxy host is empty")
	}
	scheme := p.Scheme
	if scheme == "" {
		scheme = "http"
	}
	raw := fmt.Sprintf("%s://%s", scheme, p.Host)
	if p.Port > 0 {
		raw = fmt.Sprintf("%s:%d", raw, p.Port)
	}
	return url.Parse(raw)
}

// 页面请求使用的http client，timeout为单次请求（含body读取）的总时长
// proxy为nil时不使用代理
func NewHTTPClient(timeout time.Duration, proxy *ProxyConfig) (*http.Client, error) {
	transport, err := newTransport(timeout, proxy)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// 文件下载使用的http client，timeout只限制建连和等待响应头
// 大文件的body读取时间不受限制，靠ctx取消
func NewStreamClient(timeout time.Duration, proxy *ProxyConfig) (*http.Client, error) {
	transport, err := newTransport(timeout, proxy)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport}, nil
}

func newTransport(timeout time.Duration, proxy *ProxyConfig) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   16,
	}
	if proxy != nil {
		u, err := proxy.URL()
		if err != nil {
			return nil, fmt.Errorf("fail to parse proxy, err: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return transport, nil
}

func NewRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	return req, nil
}
