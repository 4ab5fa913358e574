// 包 logger：统一初始化与获取日志器；通过环境变量控制日志级别、输出格式与可选的日志文件
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
)

// Setup：初始化默认日志器
// 背景：提取作业通常运行数小时，日志需同时供终端查看与事后排查；LOG_FILE 存在时额外写入文件。
// 约束：日志文件以追加方式打开且不在此处关闭，生命周期与进程一致。
func Setup() *slog.Logger {
	var out io.Writer = os.Stderr
	if fp := os.Getenv("LOG_FILE"); fp != "" {
		if f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = io.MultiWriter(os.Stderr, f)
		}
	}
	return SetupWriter(out, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// SetupWriter：按给定输出、级别与格式构建默认日志器，供测试与 CLI 参数覆盖使用
func SetupWriter(out io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	l := slog.New(h)
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	return l
}

// ParseLevel：未知级别回退到 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// L：获取默认日志器；若未初始化则回退到 Setup
func L() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		return Setup()
	}
	return l
}

// Component：带组件名的子日志器，便于按 tracker/resolver/imagery 过滤
func Component(name string) *slog.Logger {
	return L().With("component", name)
}
