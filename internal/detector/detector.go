package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	DefaultConfidence = 0.25
	DefaultIoU        = 0.45
	DefaultImageSize  = 1024
	DefaultModel      = "hantian/yolo-doclaynet:yolov10b-doclaynet.pt"
)

// Detector finds layout regions on a page image.
type Detector interface {
	Detect(ctx context.Context, imagePath string, t Thresholds) (*Detection, error)
}

type Thresholds struct {
	Confidence float64 `json:"confidence_threshold"`
	IoU        float64 `json:"iou_threshold"`
}

// WithDefaults fills zero thresholds with the detector defaults.
func (t Thresholds) WithDefaults() Thresholds {
	if t.Confidence <= 0 {
		t.Confidence = DefaultConfidence
	}
	if t.IoU <= 0 {
		t.IoU = DefaultIoU
	}
	return t
}

// Region is one detected block in normalized page coordinates.
type Region struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

type Detection struct {
	Regions    []Region
	Thresholds Thresholds
	ImageSize  int
	Model      string
}

// Name is the repo:checkpoint identifier of the model.
func (d *Detection) Name() string {
	return d.Model
}

// Source is the provenance stored on every layout created from this detection.
func (d *Detection) Source() string {
	repo, checkpoint := splitModel(d.Model)
	params, _ := json.Marshal(struct {
		Confidence float64 `json:"confidence_threshold"`
		IoU        float64 `json:"iou_threshold"`
		ImageSize  int     `json:"imgsz"`
		Device     string  `json:"device"`
		Model      string  `json:"model"`
	}{d.Thresholds.Confidence, d.Thresholds.IoU, d.ImageSize, "cpu", checkpoint})
	return fmt.Sprintf("detector:%s:%s", repo, params)
}

// ClassCounts counts regions per class name.
func (d *Detection) ClassCounts() map[string]int {
	counts := make(map[string]int)
	for _, r := range d.Regions {
		counts[r.ClassName]++
	}
	return counts
}

func splitModel(model string) (repo, checkpoint string) {
	if i := strings.LastIndex(model, ":"); i >= 0 {
		return model[:i], model[i+1:]
	}
	return model, ""
}

// RawBox is a detection in absolute pixel coordinates as returned by the model server.
type RawBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// Normalize converts pixel boxes to page relative regions.
// Coordinates are clamped to 0..1, degenerate boxes are dropped and the
// result is sorted top to bottom, then left to right.
func Normalize(boxes []RawBox, width, height float64) ([]Region, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("Invalid image size detected for layout inference.")
	}

	regions := make([]Region, 0, len(boxes))
	for _, b := range boxes {
		r := Region{
			X1:         clamp01(b.X1 / width),
			Y1:         clamp01(b.Y1 / height),
			X2:         clamp01(b.X2 / width),
			Y2:         clamp01(b.Y2 / height),
			Confidence: b.Confidence,
		}
		if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
			continue
		}
		name := b.ClassName
		if name == "" {
			name = fmt.Sprintf("class_%d", b.ClassID)
		}
		r.ClassName = NormalizeClassName(name)
		regions = append(regions, r)
	}

	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Y1 != regions[j].Y1 {
			return regions[i].Y1 < regions[j].Y1
		}
		return regions[i].X1 < regions[j].X1
	})
	return regions, nil
}

// NormalizeClassName lowercases the name, turns '-' and '/' into '_' and
// collapses whitespace runs into a single '_'.
func NormalizeClassName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("-", "_", "/", "_").Replace(name)
	return strings.Join(strings.Fields(name), "_")
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
