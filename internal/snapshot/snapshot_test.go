package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"site-chain/internal/geo"
	"site-chain/internal/osmtag"
	"site-chain/internal/region"
)

func day(s string) time.Time {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func obj(t *testing.T, id int64, wkt string, tags map[string]string) Object {
	t.Helper()
	g, err := geo.Parse(wkt)
	if err != nil {
		t.Fatal(err)
	}
	return NewObject(id, tags, g, time.Time{})
}

func TestMemoryCarriesForward(t *testing.T) {
	m := NewMemory()
	m.Set(day("2020-01-05"), obj(t, 2, "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[string]string{"landuse": "construction"}))
	m.Set(day("2020-01-10"), obj(t, 2, "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[string]string{"landuse": "meadow"}))
	ctx := context.Background()

	s, err := m.Snapshot(ctx, day("2020-01-04"))
	if err != nil || s.Len() != 0 {
		t.Fatalf("before first state: len=%d err=%v", s.Len(), err)
	}
	s, _ = m.Snapshot(ctx, day("2020-01-07"))
	if o, ok := s.Get(2); !ok || !o.IsConstruction() {
		t.Fatalf("2020-01-07 should carry construction state: %+v", o)
	}
	s, _ = m.Snapshot(ctx, day("2020-01-10"))
	if o, _ := s.Get(2); o.Class.Kind != osmtag.Labeled {
		t.Fatalf("2020-01-10 should be labeled: %+v", o.Class)
	}
	boom := errors.New("boom")
	m.Fail(day("2020-01-11"), boom)
	if _, err := m.Snapshot(ctx, day("2020-01-11")); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
}

func TestSnapshotSortedAndIndexed(t *testing.T) {
	s := New(day("2020-01-01"), []Object{
		obj(t, 9, "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[string]string{"building": "construction"}),
		obj(t, -3, "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[string]string{"landuse": "grass"}),
		obj(t, 4, "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[string]string{"landuse": "construction"}),
	})
	if s.Objects[0].ID != -3 || s.Objects[2].ID != 9 {
		t.Fatalf("objects not sorted: %v %v", s.Objects[0].ID, s.Objects[2].ID)
	}
	c := s.Construction()
	if len(c) != 2 || c[0].ID != 4 || c[1].ID != 9 {
		t.Fatalf("construction = %+v", c)
	}
}

func TestCachedFetchesOnce(t *testing.T) {
	m := NewMemory()
	c := NewCached(m, 4, 0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Snapshot(ctx, day("2020-02-01")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := m.Fetches(day("2020-02-01")); n != 1 {
		t.Fatalf("inner fetched %d times, want 1", n)
	}
	for _, d := range []string{"2020-02-02", "2020-02-03", "2020-02-04", "2020-02-05"} {
		c.Snapshot(ctx, day(d))
	}
	if c.lru.Len() != 4 {
		t.Fatalf("lru len = %d, want 4", c.lru.Len())
	}
	c.Snapshot(ctx, day("2020-02-01"))
	if n := m.Fetches(day("2020-02-01")); n != 2 {
		t.Fatalf("evicted day should be refetched, fetches=%d", n)
	}
	if err := c.Cleanup(true); err != nil {
		t.Fatal(err)
	}
	if n, keep := m.Cleaned(); n != 1 || !keep {
		t.Fatalf("cleanup not forwarded: %d %v", n, keep)
	}
}

// 过期的快照重新获取
func TestCachedExpiry(t *testing.T) {
	m := NewMemory()
	c := NewCached(m, 2, 10*time.Millisecond)
	ctx := context.Background()
	if _, err := c.Snapshot(ctx, day("2020-02-01")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := c.Snapshot(ctx, day("2020-02-01")); err != nil {
		t.Fatal(err)
	}
	if n := m.Fetches(day("2020-02-01")); n != 2 {
		t.Fatalf("expired entry should be refetched, fetches=%d", n)
	}
}

func TestFallback(t *testing.T) {
	bad := NewMemory()
	bad.Fail(day("2020-03-01"), errors.New("osmium missing"))
	good := NewMemory()
	f := NewFallback(bad, nil, good)
	if _, err := f.Snapshot(context.Background(), day("2020-03-01")); err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if good.Fetches(day("2020-03-01")) != 1 {
		t.Fatal("second provider not consulted")
	}
	good.Fail(day("2020-03-02"), errors.New("also broken"))
	bad.Fail(day("2020-03-02"), errors.New("broken"))
	if _, err := f.Snapshot(context.Background(), day("2020-03-02")); err == nil {
		t.Fatal("expected joined error")
	}
}

const historyXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
 <node id="1" version="1" visible="true" timestamp="2019-01-01T00:00:00Z" lat="0" lon="0"/>
 <node id="2" version="1" visible="true" timestamp="2019-01-01T00:00:00Z" lat="0" lon="1"/>
 <node id="3" version="1" visible="true" timestamp="2019-01-01T00:00:00Z" lat="1" lon="1"/>
 <node id="4" version="1" visible="true" timestamp="2019-01-01T00:00:00Z" lat="1" lon="0"/>
 <node id="5" version="1" visible="true" timestamp="2019-01-01T00:00:00Z" lat="50" lon="50"/>
 <node id="6" version="1" visible="true" timestamp="2019-01-01T00:00:00Z" lat="50" lon="51"/>
 <node id="7" version="1" visible="true" timestamp="2019-01-01T00:00:00Z" lat="51" lon="51"/>
 <way id="10" version="1" visible="true" timestamp="2020-01-01T12:00:00Z">
  <nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="1"/>
  <tag k="landuse" v="construction"/>
 </way>
 <way id="10" version="2" visible="true" timestamp="2020-03-01T00:00:00Z">
  <nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="1"/>
  <tag k="landuse" v="retail"/>
 </way>
 <way id="10" version="3" visible="false" timestamp="2020-06-01T00:00:00Z"/>
 <way id="11" version="1" visible="true" timestamp="2019-06-01T00:00:00Z">
  <nd ref="5"/><nd ref="6"/><nd ref="7"/><nd ref="5"/>
  <tag k="building" v="construction"/>
 </way>
</osm>
`

func TestHistoryTimeFilter(t *testing.T) {
	p := filepath.Join(t.TempDir(), "area.osh")
	if err := os.WriteFile(p, []byte(historyXML), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := region.FromWKT("test", "POLYGON((-1 -1,2 -1,2 2,-1 2,-1 -1))")
	if err != nil {
		t.Fatal(err)
	}
	h := NewHistory(p, reg)
	ctx := context.Background()
	cases := []struct {
		day  string
		kind osmtag.Kind
		ok   bool
	}{
		{"2020-01-01", 0, false},
		{"2020-01-02", osmtag.Construction, true},
		{"2020-02-29", osmtag.Construction, true},
		{"2020-03-01", osmtag.Labeled, true},
		{"2020-06-01", 0, false},
	}
	for _, c := range cases {
		s, err := h.Snapshot(ctx, day(c.day))
		if err != nil {
			t.Fatalf("%s: %v", c.day, err)
		}
		if _, ok := s.Get(11); ok {
			t.Fatalf("%s: way outside region kept", c.day)
		}
		o, ok := s.Get(10)
		if ok != c.ok || (ok && o.Class.Kind != c.kind) {
			t.Fatalf("%s: got ok=%v class=%+v", c.day, ok, o.Class)
		}
	}
}

const stateXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
 <node id="1" lat="0" lon="0"/><node id="2" lat="0" lon="4"/>
 <node id="3" lat="4" lon="4"/><node id="4" lat="4" lon="0"/>
 <node id="5" lat="1" lon="1"/><node id="6" lat="1" lon="2"/>
 <node id="7" lat="2" lon="2"/><node id="8" lat="2" lon="1"/>
 <way id="20"><nd ref="1"/><nd ref="2"/><nd ref="3"/></way>
 <way id="21"><nd ref="3"/><nd ref="4"/><nd ref="1"/></way>
 <way id="22"><nd ref="5"/><nd ref="6"/><nd ref="7"/><nd ref="8"/><nd ref="5"/></way>
 <way id="23"><nd ref="5"/><nd ref="6"/><nd ref="7"/><nd ref="5"/><tag k="name" v="untagged"/></way>
 <way id="24"><nd ref="5"/><nd ref="6"/><nd ref="99"/><nd ref="5"/><tag k="building" v="construction"/></way>
 <relation id="30">
  <member type="way" ref="20" role="outer"/>
  <member type="way" ref="21" role="outer"/>
  <member type="way" ref="22" role="inner"/>
  <tag k="type" v="multipolygon"/><tag k="landuse" v="construction"/>
 </relation>
</osm>
`

func TestOsmiumProvider(t *testing.T) {
	tmp := t.TempDir()
	var calls []string
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		var out string
		for i, a := range args {
			if a == "-o" {
				out = args[i+1]
			}
		}
		body := stateXML
		if args[0] == "extract" {
			body = "pbf"
		}
		return nil, os.WriteFile(out, []byte(body), 0o644)
	}
	o := NewOsmium(OsmiumConfig{History: "full.osh.pbf", RegionPath: "area.poly", TempDir: tmp, Run: run}, nil)
	ctx := context.Background()
	s, err := o.Snapshot(ctx, day("2021-05-04"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Snapshot(ctx, day("2021-05-04")); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected one extract and one time-filter, got %q", calls)
	}
	if !strings.Contains(calls[0], "extract -p area.poly full.osh.pbf") || !strings.Contains(calls[0], "--with-history") {
		t.Fatalf("extract call = %q", calls[0])
	}
	if !strings.Contains(calls[1], "2021-05-04T00:00:00Z") {
		t.Fatalf("time-filter call = %q", calls[1])
	}
	if s.Len() != 1 {
		t.Fatalf("expected only the multipolygon, got %d objects", s.Len())
	}
	mp, ok := s.Get(-30)
	if !ok || !mp.IsConstruction() {
		t.Fatalf("relation object missing: %+v", mp)
	}
	if mp.Trackable() || len(s.Construction()) != 0 {
		t.Fatal("multipolygon must not be trackable")
	}
	if a := geo.Area(mp.Geometry); a != 15 {
		t.Fatalf("multipolygon area = %v, want 15", a)
	}
	if err := o.Cleanup(false); err != nil {
		t.Fatal(err)
	}
	left, _ := filepath.Glob(filepath.Join(tmp, "*"))
	if len(left) != 0 {
		t.Fatalf("cleanup left %v", left)
	}
}

// fakeOsmium：记录调用并把 stateXML 写到 -o 指定的位置；failTF 次 time-filter 先写半截文件再失败
func fakeOsmium(calls *[]string, failTF int) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, strings.Join(args, " "))
		var out string
		for i, a := range args {
			if a == "-o" {
				out = args[i+1]
			}
		}
		if args[0] == "extract" {
			return nil, os.WriteFile(out, []byte("pbf"), 0o644)
		}
		if failTF > 0 {
			failTF--
			os.WriteFile(out, []byte("<osm><way id="), 0o644)
			return []byte("killed"), errors.New("exit status 1")
		}
		return nil, os.WriteFile(out, []byte(stateXML), 0o644)
	}
}

// 同一临时目录：换历史文件必须重新裁剪，原输入再次运行则复用
func TestOsmiumTempFilesKeyedBySource(t *testing.T) {
	tmp := t.TempDir()
	in := t.TempDir()
	histA := filepath.Join(in, "a.osh.pbf")
	histB := filepath.Join(in, "b.osh.pbf")
	os.WriteFile(histA, []byte("history a"), 0o644)
	os.WriteFile(histB, []byte("history b, longer"), 0o644)
	ctx := context.Background()
	run := func(hist string) []string {
		var calls []string
		o := NewOsmium(OsmiumConfig{History: hist, RegionPath: "area.poly", TempDir: tmp, Run: fakeOsmium(&calls, 0)}, nil)
		if _, err := o.Snapshot(ctx, day("2021-05-04")); err != nil {
			t.Fatal(err)
		}
		if err := o.Cleanup(true); err != nil {
			t.Fatal(err)
		}
		return calls
	}
	if calls := run(histA); len(calls) != 2 {
		t.Fatalf("first run calls = %q", calls)
	}
	if calls := run(histB); len(calls) != 2 || !strings.HasPrefix(calls[0], "extract") {
		t.Fatalf("other history must not reuse temp files, calls = %q", calls)
	}
	if calls := run(histA); len(calls) != 0 {
		t.Fatalf("same inputs should reuse kept files, calls = %q", calls)
	}
	part, _ := filepath.Glob(filepath.Join(tmp, "*.part.*"))
	if len(part) != 0 {
		t.Fatalf("partial files left: %v", part)
	}
}

// 中断的 time-filter 不留下可复用的结果，下一次重新执行
func TestOsmiumPartialOutputNotReused(t *testing.T) {
	tmp := t.TempDir()
	var calls []string
	o := NewOsmium(OsmiumConfig{History: "full.osh.pbf", RegionPath: "area.poly", TempDir: tmp, Run: fakeOsmium(&calls, 1)}, nil)
	ctx := context.Background()
	if _, err := o.Snapshot(ctx, day("2021-05-04")); err == nil {
		t.Fatal("expected time-filter failure")
	}
	s, err := o.Snapshot(ctx, day("2021-05-04"))
	if err != nil {
		t.Fatalf("retry should rerun time-filter: %v", err)
	}
	if len(calls) != 3 || !strings.HasPrefix(calls[2], "time-filter") {
		t.Fatalf("calls = %q", calls)
	}
	if s.Len() != 1 {
		t.Fatalf("objects = %d", s.Len())
	}
}

func TestSourceKey(t *testing.T) {
	sq, err := region.FromWKT("sq", "POLYGON((0 0,1 0,1 1,0 1,0 0))")
	if err != nil {
		t.Fatal(err)
	}
	tri, err := region.FromWKT("tri", "POLYGON((0 0,1 0,1 1,0 0))")
	if err != nil {
		t.Fatal(err)
	}
	hist := filepath.Join(t.TempDir(), "h.osh.pbf")
	os.WriteFile(hist, []byte("v1"), 0o644)
	a := SourceKey(sq, hist)
	if a != SourceKey(sq, hist) || len(a) != 16 {
		t.Fatalf("key not stable: %s", a)
	}
	if a == SourceKey(tri, hist) {
		t.Fatal("same bbox, different shape must give different keys")
	}
	os.WriteFile(hist, []byte("v2 with more data"), 0o644)
	if a == SourceKey(sq, hist) {
		t.Fatal("rewritten history must change key")
	}
}
