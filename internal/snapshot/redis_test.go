package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis 不可达时读写都只告警，快照来自下层
func TestRedisUnavailableFallsThrough(t *testing.T) {
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rc.Close()
	mem := NewMemory()
	mem.Set(day("2020-01-01"), obj(t, 7, "POLYGON((0 0,1 0,1 1,0 1,0 0))", map[string]string{"landuse": "construction"}))
	p := NewRedis(mem, rc, "test", time.Minute)
	s, err := p.Snapshot(context.Background(), day("2020-01-02"))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, ok := s.Get(7); !ok || mem.Fetches(day("2020-01-02")) != 1 {
		t.Fatalf("inner provider not used: %+v", s.Objects)
	}
	if err := p.Cleanup(true); err != nil {
		t.Fatal(err)
	}
	if n, keep := mem.Cleaned(); n != 1 || !keep {
		t.Fatalf("cleanup not forwarded: %d %v", n, keep)
	}
}

func TestSnapshotEncodingKeepsObjects(t *testing.T) {
	asOf := time.Date(2019, 5, 1, 12, 0, 0, 0, time.UTC)
	src := New(day("2020-01-01"), []Object{
		NewObject(3, map[string]string{"building": "construction"}, obj(t, 3, "POLYGON((0 0,2 0,2 2,0 2,0 0))", nil).Geometry, asOf),
		NewObject(-9, map[string]string{"landuse": "retail", "type": "multipolygon"}, obj(t, -9, "MULTIPOLYGON(((5 5,6 5,6 6,5 6,5 5)))", nil).Geometry, asOf),
	})
	b, err := encodeSnapshot(src)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeSnapshot(src.Day, b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 2 || !got.Objects[0].AsOf.Equal(asOf) {
		t.Fatalf("decoded = %+v", got.Objects)
	}
	o, _ := got.Get(3)
	if !o.IsConstruction() || o.Class.ConstructionType != "building" {
		t.Fatalf("class not rebuilt: %+v", o.Class)
	}
	if _, err := decodeSnapshot(src.Day, []byte("{")); err == nil {
		t.Fatal("bad payload accepted")
	}
}
