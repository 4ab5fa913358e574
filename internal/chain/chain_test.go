package chain

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"site-chain/internal/geo"
	"site-chain/internal/osmtag"
	"site-chain/internal/snapshot"

	"github.com/peterstace/simplefeatures/geom"
)

// day：2020 年 1 月第 n 日，n 可越界（0 为 2019-12-31）
func day(n int) time.Time { return time.Date(2020, 1, n, 0, 0, 0, 0, time.UTC) }

func rect(t *testing.T, x0, y0, x1, y1 float64) geom.Geometry {
	t.Helper()
	g, err := geo.Parse(fmt.Sprintf("POLYGON((%g %g,%g %g,%g %g,%g %g,%g %g))", x0, y0, x1, y0, x1, y1, x0, y1, x0, y0))
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func constr(id int64, g geom.Geometry) snapshot.Object {
	return snapshot.NewObject(id, map[string]string{"landuse": "construction"}, g, time.Time{})
}

func labeled(id int64, g geom.Geometry, k, v string) snapshot.Object {
	return snapshot.NewObject(id, map[string]string{k: v}, g, time.Time{})
}

func newTracker(p snapshot.Provider) *Tracker {
	tr := NewTracker(p, NewMerger(DefaultConstructionChainConfidence))
	tr.Now = func() time.Time { return day(60) }
	return tr
}

func checkInvariants(t *testing.T, res *Result) {
	t.Helper()
	for _, iv := range append(append([]*Interval(nil), res.Closed...), res.Open...) {
		if len(iv.Members) == 0 {
			t.Fatalf("interval %d has no members", iv.Serial)
		}
		if iv.End != nil && iv.End.Before(iv.Start) {
			t.Fatalf("interval %s ends %s before start %s", iv.ID(), iv.End, iv.Start)
		}
	}
	for _, iv := range res.Closed {
		if iv.Status != Closed || iv.End == nil {
			t.Fatalf("closed interval %s has status %s", iv.ID(), iv.Status)
		}
	}
	for _, iv := range res.Open {
		if iv.Status != Open || iv.End != nil {
			t.Fatalf("open interval %s has end %v", iv.ID(), iv.End)
		}
	}
}

// 单个对象 10..20 日施工，前后两日均有 IOU 0.9 的公园
func scenarioA(t *testing.T) *snapshot.Memory {
	m := snapshot.NewMemory()
	park := labeled(2, rect(t, 0, 0, 10, 9), "leisure", "park")
	m.Set(day(1), park)
	m.Set(day(10), park, constr(1, rect(t, 0, 0, 10, 10)))
	m.Set(day(21), park)
	return m
}

func TestScenarioSingleLifecycle(t *testing.T) {
	m := scenarioA(t)
	res, err := newTracker(m).Track(context.Background(), Window{Start: day(5), End: day(25)})
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, res)
	if len(res.Closed) != 1 || len(res.Open) != 0 {
		t.Fatalf("closed=%d open=%d", len(res.Closed), len(res.Open))
	}
	iv := res.Closed[0]
	if !iv.Start.Equal(day(10)) || !iv.End.Equal(day(20)) {
		t.Fatalf("interval %s..%s, want 2020-01-10..2020-01-20", iv.Start, iv.End)
	}
	if iv.ID() != "1-0" || iv.Type != osmtag.TypeLanduse {
		t.Fatalf("id=%s type=%s", iv.ID(), iv.Type)
	}
	tags, err := NewResolver(m, DefaultTagConfidence, 2).ResolveAll(context.Background(), res.Closed)
	if err != nil {
		t.Fatal(err)
	}
	if tags[0].Previous != "leisure=park" || tags[0].Final != "leisure=park" {
		t.Fatalf("tags = %+v", tags[0])
	}
}

func TestScenarioMergeAcrossObjects(t *testing.T) {
	m := snapshot.NewMemory()
	m.Set(day(10), constr(1, rect(t, 0, 0, 10, 10)))
	m.Set(day(21), constr(5, rect(t, 0, 0, 10, 9.5)))
	m.Set(day(26), labeled(5, rect(t, 0, 0, 10, 9.5), "landuse", "retail"))
	res, err := newTracker(m).Track(context.Background(), Window{Start: day(5), End: day(31)})
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, res)
	if len(res.Closed) != 1 {
		t.Fatalf("expected one merged chain, got %d closed", len(res.Closed))
	}
	iv := res.Closed[0]
	if !reflect.DeepEqual(iv.Members, []int64{1, 5}) {
		t.Fatalf("members = %v", iv.Members)
	}
	if !iv.Start.Equal(day(10)) || !iv.End.Equal(day(25)) {
		t.Fatalf("interval %s..%s", iv.Start, iv.End)
	}
	if iv.ID() != "1_5-0" {
		t.Fatalf("id = %s", iv.ID())
	}
	tags, err := NewResolver(m, DefaultTagConfidence, 1).Resolve(context.Background(), iv)
	if err != nil {
		t.Fatal(err)
	}
	if tags.Previous != osmtag.NoTag || tags.Final != "landuse=retail" {
		t.Fatalf("tags = %+v", tags)
	}
}

func TestMergeBelowThresholdOpensNewChain(t *testing.T) {
	m := snapshot.NewMemory()
	m.Set(day(10), constr(1, rect(t, 0, 0, 10, 10)))
	m.Set(day(21), constr(5, rect(t, 0, 0, 10, 5)))
	m.Set(day(26))
	res, err := newTracker(m).Track(context.Background(), Window{Start: day(5), End: day(31)})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Closed) != 2 {
		t.Fatalf("expected two chains, got %d", len(res.Closed))
	}
	if res.Closed[0].ID() != "1-0" || res.Closed[1].ID() != "5-1" {
		t.Fatalf("ids = %s %s", res.Closed[0].ID(), res.Closed[1].ID())
	}
}

func TestScenarioRestrictWindowTruncatesStart(t *testing.T) {
	m := snapshot.NewMemory()
	m.Set(day(-30), constr(3, rect(t, 0, 0, 1, 1)))
	m.Set(day(6), labeled(3, rect(t, 0, 0, 1, 1), "leisure", "park"))
	ctx := context.Background()

	res, err := newTracker(m).Track(ctx, Window{Start: day(1), End: day(10), Restrict: true})
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, res)
	if len(res.Closed) != 1 || !res.Closed[0].Start.Equal(day(1)) {
		t.Fatalf("restricted start = %v", res.Closed[0].Start)
	}
	if m.Fetches(day(0)) != 0 {
		t.Fatal("restricted run walked backward")
	}

	res, err = newTracker(m).Track(ctx, Window{Start: day(1), End: day(10)})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Closed[0].Start.Equal(day(-30)) || !res.Closed[0].End.Equal(day(5)) {
		t.Fatalf("unrestricted interval %s..%s", res.Closed[0].Start, res.Closed[0].End)
	}
}

func TestScenarioNoTagFound(t *testing.T) {
	m := snapshot.NewMemory()
	sliver := labeled(2, rect(t, 0, 0, 10, 3), "landuse", "farmland")
	m.Set(day(1), sliver)
	m.Set(day(10), sliver, constr(1, rect(t, 0, 0, 10, 10)))
	m.Set(day(21), sliver)
	tr := newTracker(m)
	res, err := tr.Track(context.Background(), Window{Start: day(5), End: day(25)})
	if err != nil {
		t.Fatal(err)
	}
	tags, err := NewResolver(m, DefaultTagConfidence, 1).Resolve(context.Background(), res.Closed[0])
	if err != nil {
		t.Fatal(err)
	}
	if tags.Previous != osmtag.NoTag || tags.Final != osmtag.NoTag {
		t.Fatalf("tags = %+v", tags)
	}
}

func TestScenarioFetchFailureAborts(t *testing.T) {
	m := scenarioA(t)
	m.Fail(day(15), errors.New("disk full"))
	res, err := newTracker(m).Track(context.Background(), Window{Start: day(10), End: day(20)})
	if err == nil || res != nil {
		t.Fatalf("expected abort, got res=%v err=%v", res, err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || !fe.Day.Equal(day(15)) || fe.Op != "window" {
		t.Fatalf("error = %v", err)
	}
	if !errors.Is(err, ErrFetch) {
		t.Fatal("error does not match ErrFetch")
	}
	if m.Fetches(day(16)) != 0 {
		t.Fatal("walk continued after failure")
	}
}

func TestValidateWindow(t *testing.T) {
	tr := newTracker(snapshot.NewMemory())
	cases := []struct {
		name string
		w    Window
		ok   bool
	}{
		{"ok", Window{Start: day(1), End: day(10)}, true},
		{"single day", Window{Start: day(1), End: day(1)}, true},
		{"end at horizon", Window{Start: day(1), End: day(70)}, true},
		{"reversed", Window{Start: day(10), End: day(1)}, false},
		{"before min date", Window{Start: time.Date(2015, 6, 21, 0, 0, 0, 0, time.UTC), End: day(1)}, false},
		{"past horizon", Window{Start: day(1), End: day(71)}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := tr.ValidateWindow(c.w)
			if c.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !c.ok {
				var we *WindowError
				if !errors.Is(err, ErrInvalidWindow) || !errors.As(err, &we) {
					t.Fatalf("expected WindowError, got %v", err)
				}
			}
		})
	}
	if _, err := tr.Track(context.Background(), Window{Start: day(10), End: day(1)}); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("Track should validate, got %v", err)
	}
}

func TestBackwardAbsorbsPredecessorAndForwardExtends(t *testing.T) {
	m := snapshot.NewMemory()
	m.Set(day(1), constr(20, rect(t, 0, 0, 10, 10)))
	m.Set(day(5), constr(21, rect(t, 0, 0, 10, 9)))
	m.Set(day(16), labeled(21, rect(t, 0, 0, 10, 9), "building", "yes"))
	res, err := newTracker(m).Track(context.Background(), Window{Start: day(8), End: day(10)})
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, res)
	if len(res.Closed) != 1 {
		t.Fatalf("closed = %d", len(res.Closed))
	}
	iv := res.Closed[0]
	if !reflect.DeepEqual(iv.Members, []int64{21, 20}) || iv.ID() != "20_21-0" {
		t.Fatalf("members=%v id=%s", iv.Members, iv.ID())
	}
	if !iv.Start.Equal(day(1)) || !iv.End.Equal(day(15)) {
		t.Fatalf("interval %s..%s, want 01..15", iv.Start, iv.End)
	}
	if iv.Head() != 20 || iv.Tail() != 21 {
		t.Fatalf("head=%d tail=%d", iv.Head(), iv.Tail())
	}
}

func TestBackwardNeverDiscovers(t *testing.T) {
	m := snapshot.NewMemory()
	m.Set(day(1), constr(7, rect(t, 50, 50, 51, 51)), constr(8, rect(t, 0, 0, 1, 1)))
	m.Set(day(5), constr(8, rect(t, 0, 0, 1, 1)))
	res, err := newTracker(m).Track(context.Background(), Window{Start: day(5), End: day(6)})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Closed) != 0 || len(res.Open) != 1 {
		t.Fatalf("expected only the window object, got closed=%d open=%d", len(res.Closed), len(res.Open))
	}
	iv := res.Open[0]
	if iv.ID() != "8-0" || !iv.Start.Equal(day(1)) {
		t.Fatalf("id=%s start=%s", iv.ID(), iv.Start)
	}
	if m.Fetches(day(70)) != 1 || m.Fetches(day(71)) != 0 {
		t.Fatal("forward extension should stop at the horizon")
	}
}

func TestRestrictWindowLeavesWIP(t *testing.T) {
	m := snapshot.NewMemory()
	m.Set(day(3), constr(9, rect(t, 0, 0, 1, 1)))
	res, err := newTracker(m).Track(context.Background(), Window{Start: day(1), End: day(10), Restrict: true})
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, res)
	if len(res.Open) != 1 || len(res.Closed) != 0 || res.Open[0].End != nil {
		t.Fatalf("open=%d closed=%d", len(res.Open), len(res.Closed))
	}
	if m.Fetches(day(11)) != 0 {
		t.Fatal("restricted run walked past the window")
	}
	tags, err := NewResolver(m, 0, 0).Resolve(context.Background(), res.Open[0])
	if err != nil {
		t.Fatal(err)
	}
	if tags.Final != "" || tags.Previous != osmtag.NoTag {
		t.Fatalf("wip tags = %+v", tags)
	}
}

func TestIdempotentRuns(t *testing.T) {
	build := func() *snapshot.Memory {
		m := snapshot.NewMemory()
		m.Set(day(2), constr(30, rect(t, 0, 0, 2, 2)), constr(11, rect(t, 5, 5, 6, 6)))
		m.Set(day(6), constr(30, rect(t, 0, 0, 2, 2)), constr(12, rect(t, 5, 5, 6, 6)), constr(4, rect(t, 9, 9, 10, 10)))
		m.Set(day(9), labeled(12, rect(t, 5, 5, 6, 6), "amenity", "school"))
		return m
	}
	var ids [2][]string
	var tags [2][]Tags
	for i := range ids {
		m := build()
		res, err := newTracker(m).Track(context.Background(), Window{Start: day(1), End: day(12)})
		if err != nil {
			t.Fatal(err)
		}
		for _, iv := range res.Closed {
			ids[i] = append(ids[i], iv.ID())
		}
		tags[i], err = NewResolver(m, 0, 3).ResolveAll(context.Background(), res.Closed)
		if err != nil {
			t.Fatal(err)
		}
	}
	if !reflect.DeepEqual(ids[0], ids[1]) || !reflect.DeepEqual(tags[0], tags[1]) {
		t.Fatalf("runs differ: %v %v / %v %v", ids[0], ids[1], tags[0], tags[1])
	}
	want := []string{"11_12-0", "30-1", "4-2"}
	if !reflect.DeepEqual(ids[0], want) {
		t.Fatalf("ids = %v, want %v", ids[0], want)
	}
	for _, tg := range tags[0] {
		if osmtag.IsConstructionDescriptor(tg.Previous) || osmtag.IsConstructionDescriptor(tg.Final) {
			t.Fatalf("construction descriptor leaked into tags: %+v", tg)
		}
	}
	if tags[0][0].Final != "amenity=school" {
		t.Fatalf("final tag = %q", tags[0][0].Final)
	}
}

func TestMergerTieBreakSmallerArea(t *testing.T) {
	fp := rect(t, 0, 0, 10, 10)
	a := constr(7, rect(t, 0, 0, 10, 5))  // IOU 50/100, area 50
	b := constr(3, rect(t, 0, -2, 10, 6)) // IOU 60/120, area 80
	c := constr(9, rect(t, 0, 0, 10, 5))  // same as a, larger id
	for _, order := range [][]snapshot.Object{{a, b, c}, {c, b, a}, {b, c, a}} {
		cands := Rank(fp, order, func(snapshot.Object) bool { return true }, 0, newTracker(nil).log)
		if len(cands) != 3 || cands[0].Object.ID != 7 || cands[1].Object.ID != 9 || cands[2].Object.ID != 3 {
			t.Fatalf("rank order = %v", cands)
		}
	}
	m := snapshot.NewMemory()
	m.Set(day(1), constr(1, fp))
	m.Set(day(3), b, a)
	mg := NewMerger(0.5)
	tr := NewTracker(m, mg)
	tr.Now = func() time.Time { return day(60) }
	res, err := tr.Track(context.Background(), Window{Start: day(1), End: day(4), Restrict: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Open) != 2 {
		t.Fatalf("open = %d", len(res.Open))
	}
	if !reflect.DeepEqual(res.Open[0].Members, []int64{1, 7}) {
		t.Fatalf("merged members = %v, want [1 7]", res.Open[0].Members)
	}
	if res.Open[1].ID() != "3-1" {
		t.Fatalf("unclaimed candidate should open its own chain, got %s", res.Open[1].ID())
	}
}

func TestResolverSkipsUntaggedAndConstruction(t *testing.T) {
	m := snapshot.NewMemory()
	untagged := snapshot.NewObject(40, map[string]string{"name": "lot"}, rect(t, 0, 0, 10, 10), time.Time{})
	other := constr(41, rect(t, 0, 0, 10, 10))
	shop := labeled(42, rect(t, 0, 0, 10, 8), "shop", "mall")
	m.Set(day(1), untagged, other, shop)
	iv := &Interval{Serial: 0, Members: []int64{1}, Start: day(2), Footprint: rect(t, 0, 0, 10, 10)}
	tags, err := NewResolver(m, DefaultTagConfidence, 1).Resolve(context.Background(), iv)
	if err != nil {
		t.Fatal(err)
	}
	if tags.Previous != "shop=mall" {
		t.Fatalf("previous = %q", tags.Previous)
	}
}

func TestResolverFetchError(t *testing.T) {
	m := snapshot.NewMemory()
	m.Fail(day(1), errors.New("gone"))
	iv := &Interval{Members: []int64{1}, Start: day(2), Footprint: rect(t, 0, 0, 1, 1)}
	_, err := NewResolver(m, 0, 2).ResolveAll(context.Background(), []*Interval{iv})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Op != "resolve_prev" || !fe.Day.Equal(day(1)) {
		t.Fatalf("err = %v", err)
	}
}

func TestTrackCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTracker(scenarioA(t)).Track(ctx, Window{Start: day(5), End: day(25)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestDays(t *testing.T) {
	var got []int
	for d := range Days(day(1), Forward, day(3)) {
		got = append(got, d.Day())
	}
	if !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("forward = %v", got)
	}
	got = nil
	for d := range Days(day(3), Backward, day(1)) {
		got = append(got, d.Day())
	}
	if !reflect.DeepEqual(got, []int{3, 2, 1}) {
		t.Fatalf("backward = %v", got)
	}
	for range Days(day(5), Forward, day(4)) {
		t.Fatal("empty range yielded")
	}
	n := 0
	for range Days(day(1), Forward, day(100)) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("break not honoured, n=%d", n)
	}
}

func TestChainIDSortedAndRelations(t *testing.T) {
	if got := ChainID([]int64{9, -4, 2}, 3); got != "r4_2_9-3" {
		t.Fatalf("chain id = %s", got)
	}
}

// 多面关系只作为标签候选，不开启也不并入施工链
func TestRelationsNotTracked(t *testing.T) {
	m := snapshot.NewMemory()
	park := labeled(-31, rect(t, 0, 0, 10, 9.5), "leisure", "park")
	m.Set(day(1), park)
	m.Set(day(10), constr(10, rect(t, 0, 0, 10, 10)), constr(-30, rect(t, 0, 0, 10, 10)))
	m.Set(day(21), park, constr(-30, rect(t, 0, 0, 10, 10)))
	res, err := newTracker(m).Track(context.Background(), Window{Start: day(5), End: day(25)})
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, res)
	if len(res.Closed) != 1 || len(res.Open) != 0 {
		t.Fatalf("closed=%d open=%d, want one chain", len(res.Closed), len(res.Open))
	}
	iv := res.Closed[0]
	if !reflect.DeepEqual(iv.Members, []int64{10}) || !iv.End.Equal(day(20)) {
		t.Fatalf("members=%v end=%v", iv.Members, iv.End)
	}
	tags, err := NewResolver(m, DefaultTagConfidence, 2).ResolveAll(context.Background(), res.Closed)
	if err != nil {
		t.Fatal(err)
	}
	if tags[0].Previous != "leisure=park" || tags[0].Final != "leisure=park" {
		t.Fatalf("relation should resolve tags: %+v", tags[0])
	}
}
