package mappers

import (
	"strings"

	api "github.com/ocrbench/pipeline/api/v1alpha1"
	"github.com/ocrbench/pipeline/internal/service"
)

func bboxFormApi(b api.BBox) service.BBox {
	return service.BBox{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2}
}

func LayoutFormApi(form api.LayoutCreate) service.LayoutForm {
	f := service.LayoutForm{
		ClassName:    strings.TrimSpace(form.ClassName),
		ReadingOrder: form.ReadingOrder,
	}
	if form.BBox != nil {
		f.BBox = bboxFormApi(*form.BBox)
	}
	return f
}

func LayoutUpdateFormApi(form api.LayoutUpdate) service.LayoutUpdateForm {
	f := service.LayoutUpdateForm{
		ReadingOrder: form.ReadingOrder,
	}
	if form.ClassName != nil {
		name := strings.TrimSpace(*form.ClassName)
		f.ClassName = &name
	}
	if form.BBox != nil {
		box := bboxFormApi(*form.BBox)
		f.BBox = &box
	}
	return f
}

func DetectFormApi(form api.LayoutDetect) service.DetectForm {
	return service.DetectForm{
		ConfidenceThreshold: form.ConfidenceThreshold,
		IoUThreshold:        form.IoUThreshold,
		ReplaceExisting:     form.ReplaceExisting,
	}
}
