package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// sequenceIDs returns id-0001, id-0002, ...
type sequenceIDs struct {
	prefix string
	n      int
}

func (s *sequenceIDs) NewID() string {
	s.n++
	return fmt.Sprintf("%s%04d", s.prefix, s.n)
}

type fakeAnalyzer struct {
	calls int
	fail  error
	empty bool
}

func (a *fakeAnalyzer) Name() string { return "fake" }

func (a *fakeAnalyzer) Analyze(ctx context.Context, f *geojson.Feature, span TimeSpan) (*AnalyzerOutput, error) {
	a.calls++
	if a.fail != nil {
		return nil, a.fail
	}
	if a.empty {
		return &AnalyzerOutput{}, nil
	}
	return &AnalyzerOutput{
		PrimaryCOGAsset: &AssetSpec{Key: "analysis.tif", Href: "/tmp/analysis.tif", Roles: []string{RolePrimary}},
		ExtraProperties: map[string]interface{}{"fake:calls": a.calls},
	}, nil
}

func polygonFeature(props map[string]interface{}) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}})
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func pointFeature(props map[string]interface{}) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{150.1, -33.9})
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func collection(features ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	return fc
}

// spansByCount yields n daily instants starting 2023-01-01 per feature,
// where n is the feature's "spans" property.
func spansByCount() TimeProvider {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	return TimeProviderFunc(func(f *geojson.Feature) []TimeSpan {
		n, _ := f.Properties["spans"].(int)
		out := make([]TimeSpan, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, Instant(base.AddDate(0, 0, i)))
		}
		return out
	})
}

func testItem(id, featureID string) *PublishItem {
	props := map[string]interface{}{}
	if featureID != "" {
		props[FeatureIDProperty] = featureID
	}
	return &PublishItem{
		ItemID:   id,
		Feature:  polygonFeature(props),
		TimeSpan: Instant(time.Date(2023, 9, 15, 0, 0, 0, 0, time.UTC)),
		Output: &AnalyzerOutput{
			PrimaryCOGAsset: &AssetSpec{Key: "analysis.tif", Href: "analysis.tif"},
		},
	}
}
