package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"site-chain/internal/logger"
	"site-chain/internal/metrics"
	"site-chain/internal/snapshot"
)

var planetMinDate = time.Date(2017, 2, 19, 0, 0, 0, 0, time.UTC)

var planetAssets = map[Band]string{
	RGB: "visual",
	NIR: "analytic_sr",
}

type planetFilter struct {
	Type      string `json:"type"`
	FieldName string `json:"field_name,omitempty"`
	Config    any    `json:"config"`
}

type planetSearch struct {
	ItemTypes []string     `json:"item_types"`
	Filter    planetFilter `json:"filter"`
}

type planetResult struct {
	Features []json.RawMessage `json:"features"`
}

type planetItem struct {
	ID         string `json:"id"`
	Properties struct {
		Acquired time.Time `json:"acquired"`
	} `json:"properties"`
}

// 文档注释：Planet Data API 快速检索
// 背景：按范围、采集日期与下载权限检索 PSOrthoTile，取窗口内最早的一景；保存该景的元数据 JSON，
// 后续下单与下载由 Planet 控制台或订单接口完成。
// 约束：API Key 走 Basic 认证用户名；窗口内无结果返回 ErrNoImage。
type Planet struct {
	URL    string
	APIKey string
	client *http.Client
	log    *slog.Logger
}

func NewPlanet(u, apiKey string, client *http.Client) *Planet {
	return &Planet{URL: u, APIKey: apiKey, client: client, log: logger.Component("imagery_planet")}
}

func (p *Planet) Name() string        { return "planet" }
func (p *Planet) MinDate() time.Time { return planetMinDate }
func (p *Planet) DayPadding() int    { return 5 }

func (p *Planet) search(req Request) (planetSearch, error) {
	asset, ok := planetAssets[req.Band]
	if !ok {
		return planetSearch{}, fmt.Errorf("planet: unsupported band %q", req.Band)
	}
	g, err := req.BBox.Geometry()
	if err != nil {
		return planetSearch{}, err
	}
	gj, err := g.MarshalJSON()
	if err != nil {
		return planetSearch{}, err
	}
	return planetSearch{
		ItemTypes: []string{"PSOrthoTile"},
		Filter: planetFilter{Type: "AndFilter", Config: []planetFilter{
			{Type: "GeometryFilter", FieldName: "geometry", Config: json.RawMessage(gj)},
			{Type: "DateRangeFilter", FieldName: "acquired", Config: map[string]string{
				"gte": req.Window.From.Format(time.RFC3339),
				"lte": req.Window.To.Format(time.RFC3339),
			}},
			{Type: "PermissionFilter", Config: []string{"assets." + asset + ":download", "assets:download"}},
		}},
	}, nil
}

func (p *Planet) Fetch(ctx context.Context, req Request) (*Image, error) {
	body, err := p.search(req)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL+"?_sort=acquired%20asc", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.SetBasicAuth(p.APIKey, "")
	t0 := time.Now()
	p.log.Debug("planet_req", "chain", req.ChainID, "band", req.Band, "window", req.Window.String())
	resp, err := p.client.Do(hreq)
	if err != nil {
		p.log.Error("planet_http_error", "chain", req.ChainID, "err", err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("planet: status %d: %s", resp.StatusCode, snippet(msg))
	}
	var r planetResult
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		p.log.Error("planet_decode_error", "err", err)
		return nil, err
	}
	metrics.ImageryDurationMs.WithLabelValues(p.Name()).Observe(float64(time.Since(t0).Milliseconds()))
	if len(r.Features) == 0 {
		return nil, ErrNoImage
	}
	var it planetItem
	if err := json.Unmarshal(r.Features[0], &it); err != nil {
		return nil, err
	}
	p.log.Debug("planet_resp", "chain", req.ChainID, "item", it.ID, "acquired", it.Properties.Acquired, "results", len(r.Features))
	date := req.Window.From
	if !it.Properties.Acquired.IsZero() {
		date = snapshot.Day(it.Properties.Acquired)
	}
	return &Image{Date: date, Ext: "json", Data: r.Features[0]}, nil
}
