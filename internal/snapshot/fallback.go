package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fallback：按顺序尝试多个提供者，首个成功者的结果生效（例如先读进程内历史，失败再调用 osmium）
type Fallback struct {
	list []Provider
}

func NewFallback(list ...Provider) *Fallback {
	return &Fallback{list: list}
}

func (f *Fallback) Snapshot(ctx context.Context, day time.Time) (*Snapshot, error) {
	var errs []error
	for i, p := range f.list {
		if p == nil {
			continue
		}
		s, err := p.Snapshot(ctx, day)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		errs = append(errs, fmt.Errorf("provider %d: %w", i, err))
	}
	if len(errs) == 0 {
		return nil, errors.New("no snapshot provider configured")
	}
	return nil, errors.Join(errs...)
}

func (f *Fallback) Cleanup(keep bool) error {
	var errs []error
	for _, p := range f.list {
		if p != nil {
			errs = append(errs, p.Cleanup(keep))
		}
	}
	return errors.Join(errs...)
}
