package metrics

import (
	"context"
	"fmt"

	"github.com/ocrbench/pipeline/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type pipelineStatsCollector struct {
	store          store.Store
	totalPages     *prometheus.Desc
	missingPages   *prometheus.Desc
	duplicateFiles *prometheus.Desc
	pagesByStatus  *prometheus.Desc
}

// NewPipelineStatsCollector exposes the page statistics as gauges computed at scrape time.
func NewPipelineStatsCollector(s store.Store) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_%s", ocrPipeline, name)
	}

	return &pipelineStatsCollector{
		store: s,
		totalPages: prometheus.NewDesc(
			fqName("pages_total"),
			"Total number of discovered pages.",
			nil,
			prometheus.Labels{},
		),
		missingPages: prometheus.NewDesc(
			fqName("pages_missing_total"),
			"Pages whose source file disappeared.",
			nil,
			prometheus.Labels{},
		),
		duplicateFiles: prometheus.NewDesc(
			fqName("duplicate_files_total"),
			"Active duplicate files.",
			nil,
			prometheus.Labels{},
		),
		pagesByStatus: prometheus.NewDesc(
			fqName("pages_by_status_total"),
			"Pages per lifecycle status.",
			[]string{"status"},
			prometheus.Labels{},
		),
	}
}

func (c *pipelineStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalPages
	ch <- c.missingPages
	ch <- c.duplicateFiles
	ch <- c.pagesByStatus
}

// Collect implements Collector.
func (c *pipelineStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.store.Stats(context.Background())
	if err != nil {
		zap.S().Named("pipeline_collector").Errorf("failed to collect pipeline statistics: %s", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.totalPages, prometheus.GaugeValue, float64(stats.TotalPages))
	ch <- prometheus.MustNewConstMetric(c.missingPages, prometheus.GaugeValue, float64(stats.MissingPages))
	ch <- prometheus.MustNewConstMetric(c.duplicateFiles, prometheus.GaugeValue, float64(stats.DuplicateFiles))

	for status, total := range stats.PagesByStatus {
		ch <- prometheus.MustNewConstMetric(c.pagesByStatus, prometheus.GaugeValue, float64(total), status)
	}
}
