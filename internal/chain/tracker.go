// 包 chain：施工对象的逐日追踪、生命周期合并与前后标签判定
package chain

import (
	"context"
	"log/slog"
	"time"

	"site-chain/internal/geo"
	"site-chain/internal/logger"
	"site-chain/internal/metrics"
	"site-chain/internal/snapshot"

	"github.com/peterstace/simplefeatures/geom"
)

var (
	// DefaultMinDate：历史数据可用的最早窗口起点
	DefaultMinDate = time.Date(2015, 6, 22, 0, 0, 0, 0, time.UTC)
	// DefaultFloor：向前回溯的硬下限
	DefaultFloor = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
)

// DefaultHorizonDays：窗口终点与向后延伸均不超过今天之后的天数
const DefaultHorizonDays = 10

// Window：一次提取的时间窗口
// Restrict 为 true 时不做窗口外的前后延伸，窗口起点即视为开工日，终点仍在施工的区间作为在建输出。
type Window struct {
	Start    time.Time
	End      time.Time
	Restrict bool
}

// Result：已关闭与仍开放（在建）的区间，二者不相交，均按序号升序
type Result struct {
	Closed []*Interval
	Open   []*Interval
}

// 文档注释：对象追踪器
// 背景：逐日比较快照，开工的对象开启区间，离开施工状态的对象先交给合并器尝试接续，失败则关闭区间。
// 约束：日期严格顺序处理；ctx 仅在两个日期之间检查，一个日期要么完整处理要么完全不处理；
// 任一必需日期获取失败即中止并返回 *FetchError。
type Tracker struct {
	provider snapshot.Provider
	merger   *Merger
	log      *slog.Logger

	MinDate     time.Time
	Floor       time.Time
	HorizonDays int
	Now         func() time.Time
}

func NewTracker(p snapshot.Provider, m *Merger) *Tracker {
	if m == nil {
		m = NewMerger(DefaultConstructionChainConfidence)
	}
	return &Tracker{
		provider:    p,
		merger:      m,
		log:         logger.Component("tracker"),
		MinDate:     DefaultMinDate,
		Floor:       DefaultFloor,
		HorizonDays: DefaultHorizonDays,
		Now:         time.Now,
	}
}

func (t *Tracker) horizon() time.Time {
	return snapshot.Day(t.Now()).AddDate(0, 0, t.HorizonDays)
}

// ValidateWindow：start <= end，start 不早于 MinDate，end 不晚于今天+HorizonDays
func (t *Tracker) ValidateWindow(w Window) error {
	start, end := snapshot.Day(w.Start), snapshot.Day(w.End)
	reason := ""
	switch {
	case start.After(end):
		reason = "start is after end"
	case start.Before(t.MinDate):
		reason = "start is before " + snapshot.DayKey(t.MinDate)
	case end.After(t.horizon()):
		reason = "end is after " + snapshot.DayKey(t.horizon())
	}
	if reason != "" {
		return &WindowError{Start: start, End: end, Reason: reason}
	}
	return nil
}

type run struct {
	t      *Tracker
	open   []*Interval
	closed []*Interval
	owner  map[int64]*Interval
	seen   map[*Interval]map[int64]geom.Geometry
	serial int
}

// Track：执行一次窗口提取
func (t *Tracker) Track(ctx context.Context, w Window) (*Result, error) {
	if err := t.ValidateWindow(w); err != nil {
		return nil, err
	}
	start, end := snapshot.Day(w.Start), snapshot.Day(w.End)
	r := &run{t: t, owner: map[int64]*Interval{}, seen: map[*Interval]map[int64]geom.Geometry{}}
	t.log.Info("tracker_begin", "start", snapshot.DayKey(start), "end", snapshot.DayKey(end), "restrict", w.Restrict)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := r.fetch(ctx, start, "window")
	if err != nil {
		return nil, err
	}
	metrics.DaysWalkedTotal.WithLabelValues("window").Inc()
	for _, o := range snap.Construction() {
		r.begin(o, start)
	}

	if !w.Restrict && len(r.open) > 0 {
		if err := r.backward(ctx, start.AddDate(0, 0, -1)); err != nil {
			return nil, err
		}
	}
	for d := range Days(start.AddDate(0, 0, 1), Forward, end) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.step(ctx, d, true, "window"); err != nil {
			return nil, err
		}
	}
	if !w.Restrict {
		for d := range Days(end.AddDate(0, 0, 1), Forward, t.horizon()) {
			if len(r.open) == 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := r.step(ctx, d, false, "forward"); err != nil {
				return nil, err
			}
		}
	}
	t.log.Info("tracker_done", "closed", len(r.closed), "open", len(r.open), "serials", r.serial)
	return &Result{Closed: r.closed, Open: r.open}, nil
}

func (r *run) fetch(ctx context.Context, d time.Time, op string) (*snapshot.Snapshot, error) {
	s, err := r.t.provider.Snapshot(ctx, d)
	if err != nil {
		r.t.log.Error("fetch_error", "day", snapshot.DayKey(d), "op", op, "err", err)
		return nil, &FetchError{Day: d, Op: op, Err: err}
	}
	return s, nil
}

func (r *run) taken(claimed map[int64]bool) func(int64) bool {
	return func(id int64) bool { return claimed[id] || r.owner[id] != nil }
}

// begin：为新开工对象开启区间，序号按发现顺序递增
func (r *run) begin(o snapshot.Object, d time.Time) {
	iv := &Interval{
		Serial:    r.serial,
		Members:   []int64{o.ID},
		Start:     d,
		Type:      o.Class.ConstructionType,
		Status:    Open,
		Footprint: o.Geometry,
		head:      o.ID,
		tail:      o.ID,
		lastSeen:  d,
	}
	r.serial++
	r.open = append(r.open, iv)
	r.owner[o.ID] = iv
	r.seen[iv] = map[int64]geom.Geometry{o.ID: o.Geometry}
	r.t.log.Debug("interval_open", "chain", iv.ID(), "day", snapshot.DayKey(d), "type", iv.Type)
}

// observe：对象几何变化时并入足迹
func (r *run) observe(iv *Interval, o snapshot.Object) {
	if prev, ok := r.seen[iv][o.ID]; ok && geom.ExactEquals(prev, o.Geometry) {
		return
	}
	r.seen[iv][o.ID] = o.Geometry
	u, err := geo.Union(iv.Footprint, o.Geometry)
	if err != nil {
		r.t.log.Warn("footprint_union_error", "chain", iv.ID(), "id", o.ID, "err", err)
		return
	}
	iv.Footprint = u
}

func (r *run) absorb(iv *Interval, c Candidate, d time.Time, claimed map[int64]bool, direction string) {
	r.t.merger.Absorb(iv, c)
	r.owner[c.Object.ID] = iv
	r.seen[iv][c.Object.ID] = c.Object.Geometry
	claimed[c.Object.ID] = true
	metrics.MergesTotal.WithLabelValues(direction).Inc()
	r.t.log.Info("merge_accept", "chain", iv.ID(), "day", snapshot.DayKey(d), "candidate", c.Object.ID, "iou", c.IOU, "direction", direction)
}

// step：处理一个向后日期；discover 为 false 时不开启新区间
func (r *run) step(ctx context.Context, d time.Time, discover bool, op string) error {
	snap, err := r.fetch(ctx, d, op)
	if err != nil {
		return err
	}
	metrics.DaysWalkedTotal.WithLabelValues(op).Inc()
	claimed := map[int64]bool{}
	next := make([]*Interval, 0, len(r.open))
	for _, iv := range r.open {
		if o, ok := snap.Get(iv.tail); ok && o.Trackable() {
			r.observe(iv, o)
			iv.lastSeen = d
			next = append(next, iv)
			continue
		}
		if c, ok := r.t.merger.Pick(iv, snap, r.taken(claimed)); ok {
			r.absorb(iv, c, d, claimed, "forward")
			iv.tail = c.Object.ID
			iv.lastSeen = d
			next = append(next, iv)
			continue
		}
		r.close(iv, d.AddDate(0, 0, -1))
	}
	r.open = next
	if discover {
		for _, o := range snap.Construction() {
			if r.owner[o.ID] == nil && !claimed[o.ID] {
				r.begin(o, d)
			}
		}
	}
	r.t.log.Debug("tracker_day", "day", snapshot.DayKey(d), "op", op, "open", len(r.open), "closed", len(r.closed))
	return nil
}

func (r *run) close(iv *Interval, end time.Time) {
	iv.End = &end
	iv.Status = Closed
	for _, m := range iv.Members {
		if r.owner[m] == iv {
			delete(r.owner, m)
		}
	}
	delete(r.seen, iv)
	r.closed = append(r.closed, iv)
	r.t.log.Debug("interval_closed", "chain", iv.ID(), "start", snapshot.DayKey(iv.Start), "end", snapshot.DayKey(end))
}

// backward：起始日已开放的区间逐日向前回溯开工日，不发现无关对象；
// 起始对象在某日已不是施工状态时，可经同一合并规则接续一个重叠的施工前身。
func (r *run) backward(ctx context.Context, from time.Time) error {
	pending := append([]*Interval(nil), r.open...)
	for d := range Days(from, Backward, r.t.Floor) {
		if len(pending) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := r.fetch(ctx, d, "backward")
		if err != nil {
			return err
		}
		metrics.DaysWalkedTotal.WithLabelValues("backward").Inc()
		claimed := map[int64]bool{}
		next := pending[:0:0]
		for _, iv := range pending {
			if o, ok := snap.Get(iv.head); ok && o.Trackable() {
				r.observe(iv, o)
				iv.Start = d
				next = append(next, iv)
				continue
			}
			if c, ok := r.t.merger.Pick(iv, snap, r.taken(claimed)); ok {
				r.absorb(iv, c, d, claimed, "backward")
				iv.head = c.Object.ID
				iv.Start = d
				next = append(next, iv)
				continue
			}
			r.t.log.Debug("backward_done", "chain", iv.ID(), "start", snapshot.DayKey(iv.Start))
		}
		pending = next
	}
	return nil
}
