// 针对一次HTTP请求的结果决定接受、等待后重试还是放弃
// fetch（页面）与transfer（文件）共用同一个重试循环，只是transport错误的等待时间不同
package backoff

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andrewyi/attachcrawler/src/enum"
)

type Action int

const (
	Accept Action = iota
	Retry
	Abort
)

func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Retry:
		return "retry"
	default:
		return "abort"
	}
}

// 一次尝试的结果：Status为0且Err不为nil表示transport层错误
type Outcome struct {
	Status int
	Err    error
}

func Status(code int) Outcome {
	return Outcome{Status: code}
}

func Transport(err error) Outcome {
	return Outcome{Err: err}
}

type Decision struct {
	Action  Action
	Wait    time.Duration
	Failure enum.FailureKind
}

type Policy struct {
	MaxAttempts    int
	RateLimitBase  time.Duration
	RateLimitCap   time.Duration
	TransportDelay time.Duration
}

const (
	DefaultRateLimitBase      = 5 * time.Second
	DefaultRateLimitCap       = 60 * time.Second
	DefaultFetchRetryDelay    = 5 * time.Second
	DefaultTransferRetryDelay = 10 * time.Second
)

// attempt为产生o的那次尝试的序号（从0开始）
// 第MaxAttempts次尝试之后不再重试，超出上限时无论结果如何都放弃
func (p Policy) Decide(o Outcome, attempt int) Decision {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if attempt >= maxAttempts {
		return Decision{Action: Abort, Failure: enum.FailureRetriesExhausted}
	}

	d := p.classify(o, attempt)
	if d.Action == Retry && attempt+1 >= maxAttempts {
		return Decision{Action: Abort, Failure: enum.FailureRetriesExhausted}
	}
	return d
}

func (p Policy) classify(o Outcome, attempt int) Decision {
	if o.Err != nil {
		var perm *permanentError
		if errors.As(o.Err, &perm) {
			return Decision{Action: Abort, Failure: enum.FailureForbidden}
		}
		return Decision{Action: Retry, Wait: p.TransportDelay, Failure: enum.FailureTransientNetwork}
	}

	switch {
	case o.Status >= 200 && o.Status < 300:
		return Decision{Action: Accept}
	case o.Status == http.StatusTooManyRequests:
		return Decision{Action: Retry, Wait: p.rateLimitWait(attempt), Failure: enum.FailureRateLimited}
	default:
		// 403以及其他非2xx都视为不可恢复
		return Decision{Action: Abort, Failure: enum.FailureForbidden}
	}
}

// min(base * 2^attempt, cap)
func (p Policy) rateLimitWait(attempt int) time.Duration {
	wait := p.RateLimitBase
	for i := 0; i < attempt; i++ {
		if wait >= p.RateLimitCap {
			break
		}
		wait *= 2
	}
	if wait > p.RateLimitCap {
		wait = p.RateLimitCap
	}
	return wait
}

// 重试循环失败后的错误
type Error struct {
	Kind     enum.FailureKind
	Status   int
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s after %d attempt(s): status %d", e.Kind, e.Attempts, e.Status)
	default:
		return fmt.Sprintf("%s after %d attempt(s)", e.Kind, e.Attempts)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// 取出错误类型，非backoff错误返回FailureNone
func KindOf(err error) enum.FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return enum.FailureNone
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string {
	return p.err.Error()
}

func (p *permanentError) Unwrap() error {
	return p.err
}

// 本地错误（磁盘、文件）不值得重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// 一次尝试。attempt从0开始
type Operation func(ctx context.Context, attempt int) Outcome

// 每次决定重试前回调，用于打印日志
type Notify func(d Decision, attempt int, o Outcome)

// 按policy执行op，直到接受、放弃或ctx被取消
// ctx被取消（无论在请求中还是等待中）都返回interrupted
func Do(ctx context.Context, p Policy, op Operation, notify Notify) error {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return &Error{Kind: enum.FailureInterrupted, Attempts: attempt, Err: ctx.Err()}
		}

		o := op(ctx, attempt)
		d := p.Decide(o, attempt)
		if d.Action == Accept {
			return nil
		}
		if ctx.Err() != nil {
			return &Error{Kind: enum.FailureInterrupted, Attempts: attempt + 1, Err: ctx.Err()}
		}
		if d.Action == Abort {
			return &Error{Kind: d.Failure, Status: o.Status, Attempts: attempt + 1, Err: o.Err}
		}

		if notify != nil {
			notify(d, attempt, o)
		}
		if err := Sleep(ctx, d.Wait); err != nil {
			return &Error{Kind: enum.FailureInterrupted, Attempts: attempt + 1, Err: err}
		}
	}
}

// 可被ctx打断的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
