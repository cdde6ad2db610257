package dbstorage

import (
	"context"
	"errors"

	"github.com/andrewyi/attachcrawler/src/dbstorage/schema"
	"github.com/andrewyi/attachcrawler/src/entity"
)

// 记录每个结束状态的附件任务
type Ledger interface {
	Record(ctx context.Context, sessionID string, task *entity.AttachmentTask) error
	Close() error
}

// 同时写入多个Ledger，单个失败不影响其他
type Ledgers []Ledger

func (ls Ledgers) Record(ctx context.Context, sessionID string, task *entity.AttachmentTask) error {
	var errs []error
	for _, l := range ls {
		if err := l.Record(ctx, sessionID, task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ls Ledgers) Close() error {
	var errs []error
	for _, l := range ls {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func NewAttachmentRow(sessionID string, task *entity.AttachmentTask) *schema.Attachment {
	return &schema.Attachment{
		SessionID: sessionID,
		TaskID:    task.ID,
		URL:       task.URL,
		PostURL:   task.PostURL,
		Filename:  task.Filename,
		State:     task.State.String(),
		Failure:   task.Failure.String(),
		Attempts:  task.Attempts,
		Requeued:  task.Requeued,
		Remark:    task.LastError,
	}
}
