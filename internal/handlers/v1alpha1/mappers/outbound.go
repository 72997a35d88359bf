package mappers

import (
	api "github.com/ocrbench/pipeline/api/v1alpha1"
	"github.com/ocrbench/pipeline/internal/service"
	"github.com/ocrbench/pipeline/internal/store/model"
)

func LayoutToApi(l model.Layout) api.Layout {
	return api.Layout{
		ID:        l.ID,
		PageID:    l.PageID,
		ClassName: l.ClassName,
		BBox: api.BBox{
			X1: l.X1,
			Y1: l.Y1,
			X2: l.X2,
			Y2: l.Y2,
		},
		ReadingOrder: l.ReadingOrder,
		Confidence:   l.Confidence,
		Source:       l.Source,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}

// PageLayoutsToApi always returns a non nil layout slice so clients never see null.
func PageLayoutsToApi(pl service.PageLayouts) api.LayoutList {
	layouts := make([]api.Layout, 0, len(pl.Layouts))
	for _, l := range pl.Layouts {
		layouts = append(layouts, LayoutToApi(l))
	}
	return api.LayoutList{
		PageID:  pl.PageID,
		Count:   len(layouts),
		Layouts: layouts,
	}
}
