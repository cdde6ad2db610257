package downloader

import (
	"context"
)

// 获取页面内容，失败时返回的error可以用backoff.KindOf判断类型
type Fetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}
