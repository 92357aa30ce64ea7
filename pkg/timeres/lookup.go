package timeres

import (
	"encoding/json"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// Lookup resolves a dot path against a feature as it would appear in
// GeoJSON: "properties.a.b", "id", "type" or "geometry.type". A miss at any
// level, or a null value, reports false.
func Lookup(f *geojson.Feature, path string) (interface{}, bool) {
	if f == nil || path == "" {
		return nil, false
	}
	keys := strings.Split(path, ".")

	var current interface{}
	switch keys[0] {
	case "properties":
		if f.Properties == nil {
			return nil, false
		}
		current = map[string]interface{}(f.Properties)
	case "id":
		current = f.ID
	case "type":
		current = "Feature"
	case "geometry":
		current = geometryDoc(f)
	default:
		return nil, false
	}

	for _, key := range keys[1:] {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, current != nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case geojson.Properties:
		return m, true
	}
	return nil, false
}

func geometryDoc(f *geojson.Feature) interface{} {
	if f.Geometry == nil {
		return nil
	}
	data, err := json.Marshal(geojson.NewGeometry(f.Geometry))
	if err != nil {
		return nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}
