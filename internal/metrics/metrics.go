package metrics

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DaysWalkedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitechain_days_walked_total",
		Help: "Snapshot days processed by the tracker, by walk phase",
	}, []string{"phase"})
	SnapshotFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitechain_snapshot_fetch_total",
		Help: "Snapshot fetches by provider and result",
	}, []string{"provider", "result"})
	SnapshotFetchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitechain_snapshot_fetch_duration_ms",
		Help:    "Snapshot fetch duration in milliseconds",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 20000, 60000},
	}, []string{"provider"})
	SnapshotObjects = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitechain_snapshot_objects",
		Help:    "Objects per built snapshot",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
	DegenerateObjectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitechain_degenerate_objects_total",
		Help: "Objects skipped because their geometry could not be built",
	})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitechain_cache_hits_total",
		Help: "Snapshot cache hits by layer",
	}, []string{"layer"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitechain_cache_misses_total",
		Help: "Snapshot cache misses by layer",
	}, []string{"layer"})
	MergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitechain_merges_total",
		Help: "Lifecycle merges by direction",
	}, []string{"direction"})
	ChainsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitechain_chains_total",
		Help: "Assembled chains by status",
	}, []string{"status"})
	TagsResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitechain_tags_resolved_total",
		Help: "Boundary tag resolutions by side and outcome",
	}, []string{"side", "outcome"})
	ImageryRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitechain_imagery_requests_total",
		Help: "Imagery requests by source and result",
	}, []string{"source", "result"})
	ImageryDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitechain_imagery_duration_ms",
		Help:    "Imagery request duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(DaysWalkedTotal)
	prometheus.MustRegister(SnapshotFetchTotal)
	prometheus.MustRegister(SnapshotFetchDurationMs)
	prometheus.MustRegister(SnapshotObjects)
	prometheus.MustRegister(DegenerateObjectsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(MergesTotal)
	prometheus.MustRegister(ChainsTotal)
	prometheus.MustRegister(TagsResolvedTotal)
	prometheus.MustRegister(ImageryRequestsTotal)
	prometheus.MustRegister(ImageryDurationMs)
}

// 文档注释：将默认注册表写为 textfile
// 背景：提取与影像作业是一次性命令，没有抓取端点；运行结束后写文件供 node_exporter textfile collector 收集。
// 约束：path 为空时不写；目录不存在时自动创建。
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
