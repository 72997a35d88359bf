package validator

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/ocrbench/pipeline/api/v1alpha1"
)

const (
	bboxTag      = "bbox"
	classNameTag = "class_name"
	stageNameTag = "stage_name"

	maxClassNameLength = 120
)

var stageNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

func classNameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	trimmed := strings.TrimSpace(val)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxClassNameLength {
		return false
	}
	for _, r := range trimmed {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func stageNameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return stageNameRegex.MatchString(val)
}

// bboxValidator rejects boxes without a positive area. The range of each
// coordinate is covered by the field tags.
func bboxValidator(sl validator.StructLevel) {
	box, ok := sl.Current().Interface().(v1alpha1.BBox)
	if !ok {
		return
	}
	if box.X2 <= box.X1 {
		sl.ReportError(box.X2, "x2", "X2", bboxTag, "")
	}
	if box.Y2 <= box.Y1 {
		sl.ReportError(box.Y2, "y2", "Y2", bboxTag, "")
	}
}
