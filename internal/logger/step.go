package logger

import (
	"log/slog"
	"time"
)

// Step：记录一个处理阶段的开始与耗时
// 背景：提取流程按阶段串行推进（窗口遍历、向前/向后延伸、标签判定、写出），阶段耗时是排查慢运行的首要线索。
// 用法：defer logger.Step(l, "tracker_backward")(&err)
func Step(l *slog.Logger, name string, attrs ...any) func(*error) {
	start := time.Now()
	l.Debug(name+"_begin", attrs...)
	return func(errp *error) {
		args := append([]any{"duration_ms", time.Since(start).Milliseconds()}, attrs...)
		if errp != nil && *errp != nil {
			l.Error(name+"_error", append(args, "err", *errp)...)
			return
		}
		l.Info(name+"_done", args...)
	}
}
