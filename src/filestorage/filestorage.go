package filestorage

import (
	"context"

	"github.com/andrewyi/attachcrawler/src/entity"
)

// 一次传输过程中的回调，均可为nil
type Sink struct {
	// 每写入一个块回调一次，total为Content-Length，未知时为0
	OnProgress func(written, total int64)
	// 非致命问题（例如清理文件失败）
	OnLog func(msg string)
}

func (s Sink) progress(written, total int64) {
	if s.OnProgress != nil {
		s.OnProgress(written, total)
	}
}

func (s Sink) log(msg string) {
	if s.OnLog != nil {
		s.OnLog(msg)
	}
}

// 将一个附件下载到本地，成功返回nil，失败返回*backoff.Error
// 不能在返回后继续持有task
type FileStorage interface {
	Transfer(ctx context.Context, task *entity.AttachmentTask, sink Sink) error
}
