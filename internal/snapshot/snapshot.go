// 包 snapshot：按日提供区域内地物状态（历史文件、osmium 命令、内存夹具），并叠加进程内与 Redis 缓存
package snapshot

import (
	"context"
	"errors"
	"sort"
	"time"

	"site-chain/internal/metrics"
	"site-chain/internal/osmtag"

	"github.com/peterstace/simplefeatures/geom"
)

// ErrFetch：快照获取失败的哨兵错误，追踪器据此中止整个运行
var ErrFetch = errors.New("snapshot fetch failed")

const dayLayout = "2006-01-02"

// Day：截断到 UTC 零点
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey：YYYY-MM-DD
func DayKey(t time.Time) string { return t.UTC().Format(dayLayout) }

// ParseDay：解析 YYYY-MM-DD 为 UTC 零点
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(dayLayout, s, time.UTC)
}

// 文档注释：某日某地物的不可变状态
// 约束：ID 对路径为正值，对多面关系取负值，避免两类 ID 空间冲突。
type Object struct {
	ID       int64
	Tags     map[string]string
	Class    osmtag.Class
	Geometry geom.Geometry
	AsOf     time.Time
}

// NewObject：按标签计算分类
func NewObject(id int64, tags map[string]string, g geom.Geometry, asOf time.Time) Object {
	return Object{ID: id, Tags: tags, Class: osmtag.Classify(tags), Geometry: g, AsOf: asOf}
}

func (o Object) IsConstruction() bool { return o.Class.Kind == osmtag.Construction }

// IsRelation：多面关系对象（负 ID）
func (o Object) IsRelation() bool { return o.ID < 0 }

// Trackable：可作为施工链成员；多面关系只参与前后标签判定，不进入链
func (o Object) Trackable() bool { return o.IsConstruction() && !o.IsRelation() }

// Snapshot：某日的对象集合，按 ID 升序
type Snapshot struct {
	Day     time.Time
	Objects []Object
	index   map[int64]int
}

// New：排序并建立索引；同一 ID 出现多次时保留最后一个
func New(day time.Time, objs []Object) *Snapshot {
	byID := make(map[int64]Object, len(objs))
	for _, o := range objs {
		byID[o.ID] = o
	}
	out := make([]Object, 0, len(byID))
	for _, o := range byID {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	idx := make(map[int64]int, len(out))
	for i, o := range out {
		idx[o.ID] = i
	}
	return &Snapshot{Day: Day(day), Objects: out, index: idx}
}

func (s *Snapshot) Get(id int64) (Object, bool) {
	if i, ok := s.index[id]; ok {
		return s.Objects[i], true
	}
	return Object{}, false
}

// Construction：当日处于施工状态且可追踪的对象，按 ID 升序
func (s *Snapshot) Construction() []Object {
	var out []Object
	for _, o := range s.Objects {
		if o.Trackable() {
			out = append(out, o)
		}
	}
	return out
}

func (s *Snapshot) Len() int { return len(s.Objects) }

// Provider：按日获取快照
// 约束：Snapshot 对同一日幂等；Cleanup(keep=true) 保留临时文件以便复现。
type Provider interface {
	Snapshot(ctx context.Context, day time.Time) (*Snapshot, error)
	Cleanup(keep bool) error
}

// observe：记录获取结果与耗时
func observe(provider string, start time.Time, s *Snapshot, err error) {
	if err != nil {
		metrics.SnapshotFetchTotal.WithLabelValues(provider, "error").Inc()
		return
	}
	metrics.SnapshotFetchTotal.WithLabelValues(provider, "ok").Inc()
	metrics.SnapshotFetchDurationMs.WithLabelValues(provider).Observe(float64(time.Since(start).Milliseconds()))
	metrics.SnapshotObjects.Observe(float64(s.Len()))
}
