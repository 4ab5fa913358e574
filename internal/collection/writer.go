package collection

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"site-chain/internal/geo"
	"site-chain/internal/logger"
	"site-chain/internal/snapshot"

	"github.com/peterstace/simplefeatures/geom"
)

const (
	CompleteName = "collection"
	WIPName      = "in_progress"
	InfoFile     = "info.txt"
)

// Writer：输出目录布局
//
//	<dir>/collection/collection.csv|.geojson
//	<dir>/collection/in_progress.csv|.geojson   （SaveWIP）
//	<dir>/<chain_id>/info.txt                   （仅已完成链）
type Writer struct {
	Dir     string
	SaveWIP bool
	log     *slog.Logger
}

func NewWriter(dir string, saveWIP bool) *Writer {
	return &Writer{Dir: dir, SaveWIP: saveWIP, log: logger.Component("collection")}
}

func (w *Writer) CollectionDir() string { return filepath.Join(w.Dir, "collection") }

// Write：写出全部文件；调用方只在整个运行成功后调用
func (w *Writer) Write(c *Collection) error {
	dir := w.CollectionDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeTable(dir, CompleteName, c.Complete); err != nil {
		return err
	}
	if w.SaveWIP {
		if err := writeTable(dir, WIPName, c.WIP); err != nil {
			return err
		}
	}
	for _, ch := range c.Complete.Chains {
		if err := w.writeInfo(ch.ID, rowOf(ch), ch.BBox.String()); err != nil {
			return err
		}
	}
	w.log.Info("collection_written", "dir", dir, "complete", c.Complete.Len(), "wip", c.WIP.Len(), "save_wip", w.SaveWIP)
	return nil
}

// writeInfo：start_date,end_date,construction_type,previous_tag,final_tag,minx,miny,maxx,maxy
func (w *Writer) writeInfo(id string, r Row, bbox string) error {
	d := filepath.Join(w.Dir, id)
	if err := os.MkdirAll(d, 0o755); err != nil {
		return err
	}
	line := fmt.Sprintf("%s,%s,%s,%s,%s,%s", r.Start, r.End, r.ConstructionType, r.PrevTag, r.FinalTag, bbox)
	return os.WriteFile(filepath.Join(d, InfoFile), []byte(line), 0o644)
}

func writeTable(dir, name string, t *Table) error {
	if err := writeCSV(filepath.Join(dir, name+".csv"), t); err != nil {
		return fmt.Errorf("write %s.csv: %w", name, err)
	}
	if err := writeGeoJSON(filepath.Join(dir, name+".geojson"), t); err != nil {
		return fmt.Errorf("write %s.geojson: %w", name, err)
	}
	return nil
}

func writeCSV(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	_ = cw.Write(Columns)
	for _, r := range t.Rows() {
		_ = cw.Write(r.Values())
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeGeoJSON：要素几何为链的包围盒面，属性为表中其余列
func writeGeoJSON(path string, t *Table) error {
	fc := make(geom.GeoJSONFeatureCollection, 0, t.Len())
	for _, ch := range t.Chains {
		g, err := ch.BBox.Geometry()
		if err != nil {
			return err
		}
		r := rowOf(ch)
		props := map[string]interface{}{
			"chain_id":          r.ChainID,
			"start":             r.Start,
			"end":               nil,
			"construction_type": r.ConstructionType,
			"prev_tag":          r.PrevTag,
			"final_tag":         nil,
		}
		if ch.End != nil {
			props["end"] = r.End
			props["final_tag"] = r.FinalTag
		}
		fc = append(fc, geom.GeoJSONFeature{Geometry: g, ID: r.ChainID, Properties: props})
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadCSV：读取 collection.csv，供影像采集按链读取日期与范围
func ReadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	if len(recs[0]) != len(Columns) || recs[0][0] != Columns[0] {
		return nil, fmt.Errorf("%s: unexpected header %v", path, recs[0])
	}
	out := make([]Row, 0, len(recs)-1)
	for _, rec := range recs[1:] {
		out = append(out, Row{rec[0], rec[1], rec[2], rec[3], rec[4], rec[5], rec[6]})
	}
	return out, nil
}

// Dates：行的起止日期；在建行的 end 为零值
func (r Row) Dates() (start, end time.Time, err error) {
	if start, err = snapshot.ParseDay(r.Start); err != nil {
		return
	}
	if r.End != "" {
		end, err = snapshot.ParseDay(r.End)
	}
	return
}

// BBox：由 geometry 列还原包围盒
func (r Row) BBox() (geo.BBox, error) {
	g, err := geo.Parse(r.Geometry)
	if err != nil {
		return geo.BBox{}, err
	}
	b, ok := geo.BBoxOf(g)
	if !ok {
		return geo.BBox{}, fmt.Errorf("chain %s: empty geometry", r.ChainID)
	}
	return b, nil
}
