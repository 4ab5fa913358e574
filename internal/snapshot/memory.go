package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"
)

// 文档注释：内存快照提供者
// 背景：测试与演示用；按日登记对象集合，未登记的日期沿用最近一次更早的登记（与历史文件语义一致）。
// 约束：早于首次登记的日期返回空快照；Fail 登记的日期返回对应错误。
type Memory struct {
	mu      sync.Mutex
	states  map[string][]Object
	days    []time.Time
	fail    map[string]error
	fetches map[string]int
	cleaned int
	kept    bool
}

func NewMemory() *Memory {
	return &Memory{states: map[string][]Object{}, fail: map[string]error{}, fetches: map[string]int{}}
}

// Set：登记某日起生效的全部对象
func (m *Memory) Set(day time.Time, objs ...Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := DayKey(day)
	if _, ok := m.states[k]; !ok {
		m.days = append(m.days, Day(day))
		sort.Slice(m.days, func(i, j int) bool { return m.days[i].Before(m.days[j]) })
	}
	m.states[k] = append([]Object(nil), objs...)
}

func (m *Memory) Fail(day time.Time, err error) {
	m.mu.Lock()
	m.fail[DayKey(day)] = err
	m.mu.Unlock()
}

func (m *Memory) Snapshot(ctx context.Context, day time.Time) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := DayKey(day)
	m.fetches[k]++
	if err := m.fail[k]; err != nil {
		return nil, err
	}
	day = Day(day)
	var objs []Object
	for i := len(m.days) - 1; i >= 0; i-- {
		if !m.days[i].After(day) {
			objs = m.states[DayKey(m.days[i])]
			break
		}
	}
	return New(day, objs), nil
}

// Fetches：某日被请求的次数
func (m *Memory) Fetches(day time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[DayKey(day)]
}

// TotalFetches：全部请求次数
func (m *Memory) TotalFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.fetches {
		n += v
	}
	return n
}

func (m *Memory) Cleanup(keep bool) error {
	m.mu.Lock()
	m.cleaned++
	m.kept = keep
	m.mu.Unlock()
	return nil
}

// Cleaned：Cleanup 调用次数与最后一次的 keep 参数
func (m *Memory) Cleaned() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleaned, m.kept
}
