package enum

// 附件下载任务的状态
// pending -> in-flight -> completed / failed-retryable / failed-terminal
// failed-retryable 的任务进入重试队列，在第一轮全部结束后再尝试一次
type TaskState string

const (
	TaskStatePending         TaskState = "pending"
	TaskStateInFlight        TaskState = "in-flight"
	TaskStateCompleted       TaskState = "completed"
	TaskStateFailedRetryable TaskState = "failed-retryable"
	TaskStateFailedTerminal  TaskState = "failed-terminal"
	TaskStateInterrupted     TaskState = "interrupted"
)

func (s TaskState) String() string {
	return string(s)
}

// 失败类型，决定是否重试以及如何等待
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureTransientNetwork FailureKind = "transient-network"
	FailureRateLimited      FailureKind = "rate-limited"
	FailureForbidden        FailureKind = "forbidden-or-permanent"
	FailureRetriesExhausted FailureKind = "retries-exhausted"
	FailureInterrupted      FailureKind = "interrupted"
)

func (k FailureKind) String() string {
	return string(k)
}

const (
	// 流式写入文件时每次读取的块大小
	ChunkSize = 4096

	// 临时文件后缀，完整下载后才重命名为最终文件名
	PartSuffix = ".part"
)
