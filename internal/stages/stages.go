// Package stages holds the handlers executed by the pipeline scheduler.
package stages

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ocrbench/pipeline/internal/lifecycle"
	"github.com/ocrbench/pipeline/internal/runtime"
)

const (
	LayoutDetection = "layout_detection"
	// OCRExtraction has lifecycle events but no handler yet. Submitting it is rejected as an unknown stage.
	OCRExtraction = "ocr_extraction"
)

var (
	ErrPageNotFound     = errors.New("Page not found.")
	ErrInvalidImagePath = errors.New("Invalid page image path for detection.")
	ErrImageNotFound    = errors.New("Image file not found on disk.")
)

const layoutParamsSchema = `{
	"type": "object",
	"properties": {
		"confidence_threshold": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
		"iou_threshold": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
		"replace_existing": {"type": "boolean"},
		"trigger": {"type": "string", "enum": ["auto", "manual"]}
	},
	"additionalProperties": false
}`

// RegisterLayoutDetection binds the layout detection handler and its lifecycle events.
func RegisterLayoutDetection(registry *runtime.Registry, h *LayoutDetectionHandler, timeout time.Duration) error {
	return registry.Register(LayoutDetection, h,
		runtime.WithLabel("layout detection"),
		runtime.WithTimeout(timeout),
		runtime.WithParamsSchema(layoutParamsSchema),
		runtime.WithEntityEvents(string(lifecycle.EventLayoutStarted), string(lifecycle.EventLayoutSucceeded)),
		runtime.WithCompletionMessage(func(r runtime.Result) string {
			return fmt.Sprintf("Completed layout detection, created %d regions.", intValue(r["created"]))
		}),
	)
}

// ResolveImagePath joins relPath to sourceDir and refuses paths that escape it.
func ResolveImagePath(sourceDir, relPath string) (string, error) {
	root, err := filepath.Abs(sourceDir)
	if err != nil {
		return "", err
	}
	full, err := filepath.Abs(filepath.Join(root, relPath))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidImagePath
	}
	return full, nil
}

// ImageExists reports whether path is a regular file.
func ImageExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
