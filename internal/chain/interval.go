package chain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/peterstace/simplefeatures/geom"
)

// Status：区间状态
type Status int

const (
	Open Status = iota
	Closed
)

func (s Status) String() string {
	if s == Closed {
		return "closed"
	}
	return "open"
}

// 文档注释：一个施工生命周期
// 背景：施工标签可能从一个对象转移到与之高度重叠的另一个对象（拆分、重绘），这些对象合并为同一区间。
// 约束：Members 只追加不删除；Footprint 为所有成员观测到的几何并集；End 在关闭前为 nil。
type Interval struct {
	Serial    int
	Members   []int64
	Start     time.Time
	End       *time.Time
	Type      string
	Status    Status
	Footprint geom.Geometry

	head     int64
	tail     int64
	lastSeen time.Time
}

// Head / Tail：当前向前与向后追踪的对象
func (iv *Interval) Head() int64 { return iv.head }
func (iv *Interval) Tail() int64 { return iv.tail }

// Has：成员判定
func (iv *Interval) Has(id int64) bool {
	for _, m := range iv.Members {
		if m == id {
			return true
		}
	}
	return false
}

// ID：成员 ID 升序以下划线连接，再接 -序号；关系对象写作 r<id>
func (iv *Interval) ID() string { return ChainID(iv.Members, iv.Serial) }

func ChainID(members []int64, serial int) string {
	ids := append([]int64(nil), members...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = ObjectRef(id)
	}
	return strings.Join(parts, "_") + "-" + strconv.Itoa(serial)
}

// ObjectRef：路径为十进制 ID，多面关系为 r 前缀
func ObjectRef(id int64) string {
	if id < 0 {
		return "r" + strconv.FormatInt(-id, 10)
	}
	return strconv.FormatInt(id, 10)
}
