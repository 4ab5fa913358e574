package imagery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"site-chain/internal/geo"
	"site-chain/internal/logger"
	"site-chain/internal/metrics"
)

var sentinelMinDate = time.Date(2015, 6, 23, 0, 0, 0, 0, time.UTC)

var sentinelLayers = map[Band]struct {
	layer, format, ext string
}{
	RGB: {"TRUE-COLOR-S2-L1C", "image/png", "png"},
	NIR: {"NIR", "image/tiff;depth=32f", "tiff"},
}

// 文档注释：Sentinel Hub OGC WCS 客户端
// 背景：按窗口请求一张 10m 分辨率的合成影像，云量上限不做过滤（MAXCC=100）。
// 约束：服务以 XML 返回异常时视为失败；文件日期取窗口起点，WCS 合成结果不携带采集日期。
type Sentinel struct {
	BaseURL    string
	InstanceID string
	client     *http.Client
	log        *slog.Logger
}

func NewSentinel(base, instanceID string, client *http.Client) *Sentinel {
	return &Sentinel{BaseURL: base, InstanceID: instanceID, client: client, log: logger.Component("imagery_sentinel")}
}

func (s *Sentinel) Name() string        { return "sentinel" }
func (s *Sentinel) MinDate() time.Time { return sentinelMinDate }
func (s *Sentinel) DayPadding() int    { return 6 }

// RequestURL：GetCoverage 请求地址，BBOX 以经纬度顺序给出（CRS:84）
func (s *Sentinel) RequestURL(req Request) (string, error) {
	l, ok := sentinelLayers[req.Band]
	if !ok {
		return "", fmt.Errorf("sentinel: unsupported band %q", req.Band)
	}
	q := url.Values{}
	q.Set("SERVICE", "WCS")
	q.Set("REQUEST", "GetCoverage")
	q.Set("VERSION", "1.1.2")
	q.Set("COVERAGE", l.layer)
	q.Set("CRS", "CRS:84")
	q.Set("BBOX", bboxParam(req.BBox))
	q.Set("TIME", req.Window.String())
	q.Set("RESX", "10m")
	q.Set("RESY", "10m")
	q.Set("MAXCC", "100")
	q.Set("FORMAT", l.format)
	return strings.TrimRight(s.BaseURL, "/") + "/" + url.PathEscape(s.InstanceID) + "?" + q.Encode(), nil
}

func (s *Sentinel) Fetch(ctx context.Context, req Request) (*Image, error) {
	u, err := s.RequestURL(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	t0 := time.Now()
	s.log.Debug("sentinel_req", "chain", req.ChainID, "band", req.Band, "window", req.Window.String())
	resp, err := s.client.Do(hreq)
	if err != nil {
		s.log.Error("sentinel_http_error", "chain", req.ChainID, "err", err)
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	metrics.ImageryDurationMs.WithLabelValues(s.Name()).Observe(float64(time.Since(t0).Milliseconds()))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentinel: status %d: %s", resp.StatusCode, snippet(body))
	}
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "xml") {
		return nil, fmt.Errorf("sentinel: service exception: %s", snippet(body))
	}
	if len(body) == 0 {
		return nil, ErrNoImage
	}
	return &Image{Date: req.Window.From, Ext: sentinelLayers[req.Band].ext, Data: body}, nil
}

func bboxParam(b geo.BBox) string { return b.String() }

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return strings.TrimSpace(string(b))
}
