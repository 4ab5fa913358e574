package chain

import (
	"iter"
	"time"
)

// Direction：逐日遍历方向
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

// Days：从 from 起按方向逐日产出，直到越过 boundary 为止（boundary 包含在内）
// 窗口遍历、向前回溯与向后延伸共用；调用方可随时 break 提前结束。
func Days(from time.Time, dir Direction, boundary time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for d := from; ; d = d.AddDate(0, 0, int(dir)) {
			if dir == Forward && d.After(boundary) || dir == Backward && d.Before(boundary) {
				return
			}
			if !yield(d) {
				return
			}
		}
	}
}
