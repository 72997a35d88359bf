package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type liveSubscribers struct {
	counter prometheus.Gauge
	active  map[string]struct{}
	mu      sync.Mutex
}

const activitySubscribers = "activity_subscribers"

var activitySubscribersMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: ocrPipeline,
		Name:      activitySubscribers,
		Help:      "number of connected activity feed subscribers",
	},
)

// LiveSubscribers tracks connected SSE and websocket activity feeds by request id.
var LiveSubscribers = &liveSubscribers{
	counter: activitySubscribersMetric,
	active:  make(map[string]struct{}),
}

func (v *liveSubscribers) Add(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.active[id]; exists {
		return
	}
	v.active[id] = struct{}{}
	v.counter.Inc()
}

func (v *liveSubscribers) Remove(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.active[id]; !exists {
		return
	}
	delete(v.active, id)
	v.counter.Dec()
}

func (v *liveSubscribers) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active)
}
