// 包 collection：把判定后的生命周期组装为输出表，并写出 CSV / GeoJSON / 每链 info.txt
package collection

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"site-chain/internal/chain"
	"site-chain/internal/metrics"
	"site-chain/internal/snapshot"
)

// Columns：输出表列顺序
var Columns = []string{"chain_id", "start", "end", "construction_type", "prev_tag", "final_tag", "geometry"}

// Row：表中一行；End 与 FinalTag 对在建链为空
type Row struct {
	ChainID          string
	Start            string
	End              string
	ConstructionType string
	PrevTag          string
	FinalTag         string
	Geometry         string
}

func rowOf(c chain.Chain) Row {
	r := Row{
		ChainID:          c.ID,
		Start:            snapshot.DayKey(c.Start),
		ConstructionType: c.Type,
		PrevTag:          c.PreviousTag,
		FinalTag:         c.FinalTag,
		Geometry:         c.BBox.WKT(),
	}
	if c.End != nil {
		r.End = snapshot.DayKey(*c.End)
	}
	return r
}

func (r Row) Values() []string {
	return []string{r.ChainID, r.Start, r.End, r.ConstructionType, r.PrevTag, r.FinalTag, r.Geometry}
}

// Table：按 (start, end, chain_id) 排序的链集合
type Table struct {
	Chains []chain.Chain
}

func (t *Table) Len() int { return len(t.Chains) }

func (t *Table) Rows() []Row {
	out := make([]Row, len(t.Chains))
	for i, c := range t.Chains {
		out[i] = rowOf(c)
	}
	return out
}

// Collection：已完成表与在建表；在建表可以为空但不为 nil
type Collection struct {
	Complete *Table
	WIP      *Table
}

// 文档注释：组装输出表
// 背景：追踪器给出的已关闭区间进入完成表，仍开放的区间进入在建表，各自配上判定出的前后标签。
// 约束：标签与区间一一对应；任何施工描述符出现在前后标签中都视为内部错误。
func Assemble(closed []*chain.Interval, closedTags []chain.Tags, open []*chain.Interval, openTags []chain.Tags) (*Collection, error) {
	if len(closed) != len(closedTags) || len(open) != len(openTags) {
		return nil, errors.New("collection: tags do not match intervals")
	}
	complete, err := table(closed, closedTags)
	if err != nil {
		return nil, err
	}
	wip, err := table(open, openTags)
	if err != nil {
		return nil, err
	}
	metrics.ChainsTotal.WithLabelValues("closed").Add(float64(complete.Len()))
	metrics.ChainsTotal.WithLabelValues("wip").Add(float64(wip.Len()))
	return &Collection{Complete: complete, WIP: wip}, nil
}

func table(ivs []*chain.Interval, tags []chain.Tags) (*Table, error) {
	t := &Table{Chains: make([]chain.Chain, 0, len(ivs))}
	for i, iv := range ivs {
		c := chain.NewChain(iv, tags[i])
		if isConstruction(c.PreviousTag) || isConstruction(c.FinalTag) {
			return nil, fmt.Errorf("collection: chain %s carries a construction tag", c.ID)
		}
		t.Chains = append(t.Chains, c)
	}
	sort.SliceStable(t.Chains, func(i, j int) bool {
		a, b := rowOf(t.Chains[i]), rowOf(t.Chains[j])
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.ChainID < b.ChainID
	})
	return t, nil
}

func isConstruction(tag string) bool {
	return strings.HasSuffix(tag, "=construction")
}
