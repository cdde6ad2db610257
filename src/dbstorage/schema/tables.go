// 数据库表，每个会话中结束的附件任务记录一行
package schema

import (
	"time"
)

type Attachment struct {
	ID        uint64    `xorm:"bigint pk autoincr 'id'"`
	SessionID string    `xorm:"varchar(36) notnull unique(uk_session_task) index 'session_id'"`
	TaskID    string    `xorm:"varchar(64) notnull unique(uk_session_task) 'task_id'"`
	URL       string    `xorm:"varchar(2048) notnull 'url'"`
	PostURL   string    `xorm:"varchar(2048) 'post_url'"`
	Filename  string    `xorm:"varchar(512) notnull 'filename'"`
	State     string    `xorm:"varchar(32) notnull 'state'"`
	Failure   string    `xorm:"varchar(64) 'failure'"`
	Attempts  int       `xorm:"int 'attempts'"`
	Requeued  bool      `xorm:"bool 'requeued'"`
	Remark    string    `xorm:"text 'remark'"`
	CreatedAt time.Time `xorm:"created notnull 'created_at'"`
	UpdatedAt time.Time `xorm:"updated notnull 'updated_at'"`
}

func (a *Attachment) TableName() string {
	return "attachments"
}
