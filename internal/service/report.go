package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const layoutsSheet = "Layouts"

type ReportService struct {
	store store.Store
	log   *zap.SugaredLogger
}

func NewReportService(s store.Store) *ReportService {
	return &ReportService{store: s, log: zap.S().Named("report_service")}
}

type DuplicateListing struct {
	Count      int                   `json:"count"`
	Duplicates []model.DuplicateView `json:"duplicates"`
}

func (s *ReportService) Duplicates(ctx context.Context) (DuplicateListing, error) {
	dups, err := s.store.Duplicate().ListActive(ctx)
	if err != nil {
		return DuplicateListing{}, err
	}
	if dups == nil {
		dups = []model.DuplicateView{}
	}
	return DuplicateListing{Count: len(dups), Duplicates: dups}, nil
}

func (s *ReportService) Stats(ctx context.Context) (model.Stats, error) {
	return s.store.Stats(ctx)
}

var layoutHeaders = []string{
	"Page",
	"Reading Order",
	"Class",
	"X1",
	"Y1",
	"X2",
	"Y2",
	"Confidence",
	"Source",
	"Updated At",
}

// ExportLayouts writes every layout with its page path to an xlsx workbook, one row per region.
func (s *ReportService) ExportLayouts(ctx context.Context) (*bytes.Buffer, error) {
	start := time.Now()

	rows, err := s.store.Layout().ListForExport(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), layoutsSheet); err != nil {
		return nil, err
	}

	for i, h := range layoutHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(layoutsSheet, cell, h)
	}

	for i, r := range rows {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(layoutsSheet, cell, v)
		}

		write(1, r.RelPath)
		write(2, r.ReadingOrder)
		write(3, r.ClassName)
		write(4, r.X1)
		write(5, r.Y1)
		write(6, r.X2)
		write(7, r.Y2)
		if r.Confidence != nil {
			write(8, *r.Confidence)
		}
		write(9, r.Source)
		write(10, r.UpdatedAt.UTC().Format(time.RFC3339))
	}

	_ = f.SetColWidth(layoutsSheet, "A", "A", 48)
	_ = f.SetColWidth(layoutsSheet, "C", "C", 20)
	_ = f.SetColWidth(layoutsSheet, "I", "I", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing layouts workbook: %w", err)
	}

	s.log.Infow("layouts exported", "rows", len(rows), "elapsed_ms", time.Since(start).Milliseconds())
	return buf, nil
}
