// 包 osmtag：地物标签分类与描述符选择
package osmtag

// NoTag：无可用描述符时的占位值，也是标签判定失败时写入输出表的值
const NoTag = "NO TAG FOUND"

// Kind：对象在某一日的状态
type Kind int

const (
	Untagged Kind = iota
	Labeled
	Construction
)

func (k Kind) String() string {
	switch k {
	case Construction:
		return "construction"
	case Labeled:
		return "labeled"
	}
	return "untagged"
}

// 施工类型
const (
	TypeBuilding = "building"
	TypeLanduse  = "landuse"
)

// 文档注释：描述性主键列表与低信息量标签
// 背景：building=yes 与 landuse=residential 过于笼统，仅在没有其它主键可用时才作为描述符。
// 约束：按列表顺序选择，保证同一组标签在任何运行中得到同一描述符。
var keyTags = []string{
	"landuse", "leisure", "amenity", "aeroway", "barrier", "boundary", "building", "craft",
	"emergency", "geological", "historic", "man_made", "military", "natural", "office", "power",
	"public_transport", "shop", "telecom", "tourism",
}

var lessHelpful = map[string]bool{
	"building=yes":        true,
	"landuse=residential": true,
}

// Class：分类结果
type Class struct {
	Kind             Kind
	ConstructionType string
	Descriptor       string
}

// IsConstruction：building=construction 或 landuse=construction
func IsConstruction(tags map[string]string) bool {
	return tags[TypeBuilding] == "construction" || tags[TypeLanduse] == "construction"
}

// ConstructionType：building 优先于 landuse；非施工返回空串
func ConstructionType(tags map[string]string) string {
	switch {
	case tags[TypeBuilding] == "construction":
		return TypeBuilding
	case tags[TypeLanduse] == "construction":
		return TypeLanduse
	}
	return ""
}

// Descriptor：先找非低信息量的主键标签，再退回任意主键标签，都没有时返回 NoTag
func Descriptor(tags map[string]string) string {
	for _, k := range keyTags {
		if v, ok := tags[k]; ok && v != "" && !lessHelpful[k+"="+v] {
			return k + "=" + v
		}
	}
	for _, k := range keyTags {
		if v, ok := tags[k]; ok && v != "" {
			return k + "=" + v
		}
	}
	return NoTag
}

// Classify：施工优先；其次有描述符即为稳定标注，否则无标签
func Classify(tags map[string]string) Class {
	if ct := ConstructionType(tags); ct != "" {
		return Class{Kind: Construction, ConstructionType: ct, Descriptor: ct + "=construction"}
	}
	d := Descriptor(tags)
	if d == NoTag {
		return Class{Kind: Untagged, Descriptor: NoTag}
	}
	return Class{Kind: Labeled, Descriptor: d}
}

// IsConstructionDescriptor：用于输出前的兜底检查
func IsConstructionDescriptor(d string) bool {
	return d == "building=construction" || d == "landuse=construction"
}
