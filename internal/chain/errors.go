package chain

import (
	"errors"
	"fmt"
	"time"

	"site-chain/internal/snapshot"
)

var (
	// ErrInvalidWindow：窗口参数不合法，运行在任何快照获取之前被拒绝
	ErrInvalidWindow = errors.New("invalid window")
	// ErrFetch：任一必需日期的快照获取失败，运行中止且不产生部分输出
	ErrFetch = snapshot.ErrFetch
)

// WindowError：携带具体原因
type WindowError struct {
	Start, End time.Time
	Reason     string
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("invalid window %s..%s: %s", snapshot.DayKey(e.Start), snapshot.DayKey(e.End), e.Reason)
}

func (e *WindowError) Is(target error) bool { return target == ErrInvalidWindow }

// FetchError：失败日期与操作（window/backward/forward/resolve_prev/resolve_final）
type FetchError struct {
	Day time.Time
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch snapshot %s (%s): %v", snapshot.DayKey(e.Day), e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }
