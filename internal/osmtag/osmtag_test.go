package osmtag

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		tags map[string]string
		kind Kind
		ct   string
		desc string
	}{
		{"building construction", map[string]string{"building": "construction"}, Construction, TypeBuilding, "building=construction"},
		{"landuse construction", map[string]string{"landuse": "construction", "name": "x"}, Construction, TypeLanduse, "landuse=construction"},
		{"both prefers building", map[string]string{"landuse": "construction", "building": "construction"}, Construction, TypeBuilding, "building=construction"},
		{"specific landuse", map[string]string{"landuse": "meadow"}, Labeled, "", "landuse=meadow"},
		{"less helpful demoted", map[string]string{"building": "yes", "amenity": "school"}, Labeled, "", "amenity=school"},
		{"less helpful only", map[string]string{"building": "yes"}, Labeled, "", "building=yes"},
		{"residential only", map[string]string{"landuse": "residential"}, Labeled, "", "landuse=residential"},
		{"priority order", map[string]string{"shop": "bakery", "leisure": "park"}, Labeled, "", "leisure=park"},
		{"untagged", map[string]string{"name": "foo", "source": "survey"}, Untagged, "", NoTag},
		{"empty", nil, Untagged, "", NoTag},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.tags)
			if got.Kind != c.kind || got.ConstructionType != c.ct || got.Descriptor != c.desc {
				t.Fatalf("Classify(%v) = %+v, want kind=%v ct=%q desc=%q", c.tags, got, c.kind, c.ct, c.desc)
			}
		})
	}
}

func TestIsConstructionDescriptor(t *testing.T) {
	if !IsConstructionDescriptor("landuse=construction") || IsConstructionDescriptor("landuse=farmland") {
		t.Fatal("unexpected construction descriptor check")
	}
}
