package imagery

import (
	"time"

	"site-chain/internal/snapshot"
)

// DateWindow：一次影像请求的日期区间，两端均含
type DateWindow struct {
	From time.Time
	To   time.Time
}

func (w DateWindow) String() string { return snapshot.DayKey(w.From) + "/" + snapshot.DayKey(w.To) }

// 文档注释：在 [start, end] 内均匀取 n 个请求窗口
// 背景：第一个窗口从开工日开始，最后一个从完工日开始，其余按 ceil(i*days/(n-1)) 均匀分布；
// 每个窗口向后延伸 1+pad 天，给云量筛选与重访周期留出余量。
// 约束：n 为 -1，或区间内放不下 n-2 个中间窗口时，返回覆盖整段的单一窗口。
func Windows(start, end time.Time, n, pad int) []DateWindow {
	start, end = snapshot.Day(start), snapshot.Day(end)
	span := func(d time.Time) DateWindow { return DateWindow{From: d, To: d.AddDate(0, 0, 1+pad)} }
	days := int(end.Sub(start).Hours()/24) - 1
	inner := n - 2
	if n == -1 || inner >= days {
		return []DateWindow{{From: start, To: end.AddDate(0, 0, 1+pad)}}
	}
	out := []DateWindow{span(start)}
	k := inner + 1
	for i := 1; i <= inner; i++ {
		add := (i*days + k - 1) / k
		out = append(out, span(start.AddDate(0, 0, add)))
	}
	return append(out, span(end))
}
