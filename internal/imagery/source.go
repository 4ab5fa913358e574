// 包 imagery：为已完成的生命周期按日期窗口采集卫星影像，原始字节落盘，不做解码
package imagery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"site-chain/internal/config"
	"site-chain/internal/geo"
)

// ErrNoImage：窗口内没有可用影像
var ErrNoImage = errors.New("imagery: no image in window")

type Band string

const (
	RGB Band = "rgb"
	NIR Band = "nir"
)

// Request：单链单波段单窗口的一次请求
type Request struct {
	ChainID string
	Band    Band
	BBox    geo.BBox
	Window  DateWindow
}

// Image：服务返回的原始内容；Date 用于文件名
type Image struct {
	Date time.Time
	Ext  string
	Data []byte
}

// Source：影像服务
type Source interface {
	Name() string
	// MinDate：早于此日期开工的链不采集
	MinDate() time.Time
	DayPadding() int
	Fetch(ctx context.Context, req Request) (*Image, error)
}

// NewSource：按配置创建影像服务；client 为空时使用 TimeoutSec 超时的默认客户端
func NewSource(cfg config.Imagery, client *http.Client) (Source, error) {
	if client == nil {
		timeout := time.Duration(cfg.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	switch cfg.Source {
	case "sentinel":
		return NewSentinel(cfg.SentinelURL, cfg.SentinelID, client), nil
	case "planet":
		return NewPlanet(cfg.PlanetURL, cfg.PlanetAPIKey, client), nil
	}
	return nil, fmt.Errorf("imagery: unknown source %q", cfg.Source)
}

// Bands：配置中勾选的波段
func Bands(cfg config.Imagery) []Band {
	var out []Band
	if cfg.RGB {
		out = append(out, RGB)
	}
	if cfg.NIR {
		out = append(out, NIR)
	}
	return out
}
