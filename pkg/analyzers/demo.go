package analyzers

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// DemoName is the registered name of the demo analyzer.
const DemoName = "demo_analyzer"

// Media types of the demo outputs.
const (
	MediaTypeCOG = "image/tiff; application=geotiff; profile=cloud-optimized"
	MediaTypePNG = "image/png"
)

// Raster defaults.
const (
	DefaultRasterSize = 256
	ThumbnailSize     = 64
)

// Demo renders a synthetic raster per unit: a damped cosine of the distance
// to the feature centroid, scaled by day of year, plus seeded noise.
type Demo struct {
	dir  string
	size int
}

// NewDemo creates the output directory. size is the raster edge in pixels.
func NewDemo(dir string, size int) (*Demo, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "geoexhibit-demo-")
		if err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		dir = tmp
	}
	if size < 8 || size > 4096 {
		return nil, fmt.Errorf("raster size %d out of range [8, 4096]", size)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return &Demo{dir: dir, size: size}, nil
}

// Name implements engine.Analyzer.
func (d *Demo) Name() string { return DemoName }

// Dir returns the output directory.
func (d *Demo) Dir() string { return d.dir }

// Analyze implements engine.Analyzer.
func (d *Demo) Analyze(ctx context.Context, f *geojson.Feature, span engine.TimeSpan) (*engine.AnalyzerOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f == nil || f.Geometry == nil {
		return nil, fmt.Errorf("feature has no geometry")
	}

	featureID := featureIDOf(f)
	stamp := span.Start().UTC().Format("20060102_150405")
	raster := d.render(f.Geometry, featureID, span)
	stem := fileStem(featureID)

	cogPath := filepath.Join(d.dir, fmt.Sprintf("%s_%s_analysis.tif", stem, stamp))
	if err := writeFile(cogPath, func(w *os.File) error {
		return tiff.Encode(w, raster, &tiff.Options{Compression: tiff.Deflate})
	}); err != nil {
		return nil, err
	}

	thumbPath := filepath.Join(d.dir, fmt.Sprintf("%s_%s_thumb.png", stem, stamp))
	thumb := image.NewGray(image.Rect(0, 0, ThumbnailSize, ThumbnailSize))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), raster, raster.Bounds(), draw.Src, nil)
	if err := writeFile(thumbPath, func(w *os.File) error { return png.Encode(w, thumb) }); err != nil {
		return nil, err
	}

	return &engine.AnalyzerOutput{
		PrimaryCOGAsset: &engine.AssetSpec{
			Key:         "analysis.tif",
			Href:        cogPath,
			Title:       "Demo Analysis Result",
			Description: fmt.Sprintf("Demo analysis result for feature %s", featureID),
			MediaType:   MediaTypeCOG,
			Roles:       []string{engine.RolePrimary},
		},
		AdditionalAssets: []engine.AssetSpec{{
			Key:       "thumbnail.png",
			Href:      thumbPath,
			Title:     "Thumbnail",
			MediaType: MediaTypePNG,
			Roles:     []string{engine.RoleThumbnail},
		}},
		ExtraProperties: map[string]interface{}{
			"geoexhibit:analyzer":      DemoName,
			"geoexhibit:analysis_time": span.Start().Format("2006-01-02T15:04:05Z07:00"),
			"geoexhibit:synthetic":     true,
			"demo:pixel_count":         d.size * d.size,
		},
	}, nil
}

// render returns a 16-bit raster; 0 is nodata, values in [-1, 1] map onto
// [1, 65535].
func (d *Demo) render(geom orb.Geometry, featureID string, span engine.TimeSpan) *image.Gray16 {
	bound := geom.Bound()
	padding := math.Max(bound.Right()-bound.Left(), bound.Top()-bound.Bottom()) * 0.1
	if padding == 0 {
		padding = 0.01
	}
	minX, maxX := bound.Left()-padding, bound.Right()+padding
	minY, maxY := bound.Bottom()-padding, bound.Top()+padding

	centroid, _ := planar.CentroidArea(geom)
	timeFactor := math.Sin(float64(span.Start().YearDay())*2*math.Pi/365)*0.3 + 1.0

	h := fnv.New64a()
	h.Write([]byte(featureID))
	h.Write([]byte(span.String()))
	rng := rand.New(rand.NewPCG(h.Sum64(), 0))

	img := image.NewGray16(image.Rect(0, 0, d.size, d.size))
	step := float64(d.size - 1)
	for py := 0; py < d.size; py++ {
		y := maxY - (maxY-minY)*float64(py)/step
		for px := 0; px < d.size; px++ {
			x := minX + (maxX-minX)*float64(px)/step
			dist := math.Hypot(x-centroid.X(), y-centroid.Y())
			if dist > 0.5 {
				continue
			}
			v := math.Cos(dist*10)*math.Exp(-dist*2)*timeFactor + rng.NormFloat64()*0.1
			v = math.Max(-1, math.Min(1, v))
			img.SetGray16(px, py, color.Gray16{Y: uint16(1 + (v+1)/2*65534)})
		}
	}
	return img
}

func writeFile(path string, encode func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
