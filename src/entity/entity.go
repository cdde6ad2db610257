package entity

import (
	"github.com/andrewyi/attachcrawler/src/enum"
)

// 从页面中提取出的链接，Name为元素的可见文本（经过清理），仅附件链接使用
type Link struct {
	URL  string
	Name string
}

// 帖子详情页链接，由分页爬取产生，不做去重
type PostLink string

// 单个附件的下载任务，由controller持有
// filestorage在一次尝试期间使用它，结束后不能再保留引用
type AttachmentTask struct {
	ID       string
	URL      string
	Filename string
	PostURL  string

	State     enum.TaskState
	Failure   enum.FailureKind
	Attempts  int  // 所有轮次累计的请求次数
	Requeued  bool // 是否已经进入过重试队列
	LastError string
}

func NewAttachmentTask(id, url, filename, postURL string) *AttachmentTask {
	return &AttachmentTask{
		ID:       id,
		URL:      url,
		Filename: filename,
		PostURL:  postURL,
		State:    enum.TaskStatePending,
	}
}
