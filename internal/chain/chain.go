package chain

import (
	"time"

	"site-chain/internal/geo"

	"github.com/peterstace/simplefeatures/geom"
)

// Chain：带前后标签的生命周期，输出表的一行
type Chain struct {
	ID          string
	Serial      int
	Start       time.Time
	End         *time.Time
	Type        string
	PreviousTag string
	FinalTag    string
	Footprint   geom.Geometry
	BBox        geo.BBox
	Members     []int64
}

// NewChain：由区间与判定结果组装
func NewChain(iv *Interval, tags Tags) Chain {
	bb, _ := geo.BBoxOf(iv.Footprint)
	return Chain{
		ID:          iv.ID(),
		Serial:      iv.Serial,
		Start:       iv.Start,
		End:         iv.End,
		Type:        iv.Type,
		PreviousTag: tags.Previous,
		FinalTag:    tags.Final,
		Footprint:   iv.Footprint,
		BBox:        bb,
		Members:     append([]int64(nil), iv.Members...),
	}
}

func (c Chain) WIP() bool { return c.End == nil }
