package parking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SpotCollector exposes the registry's occupancy as Prometheus gauges,
// computed at scrape time.
type SpotCollector struct {
	registry *Registry
	spots    *prometheus.Desc
	capacity *prometheus.Desc
}

func NewSpotCollector(r *Registry) *SpotCollector {
	return &SpotCollector{
		registry: r,
		spots: prometheus.NewDesc("parking_spots",
			"Number of spots per category and status.",
			[]string{"category", "status"}, nil),
		capacity: prometheus.NewDesc("parking_spots_capacity",
			"Total number of spots.",
			nil, nil),
	}
}

func (c *SpotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.spots
	ch <- c.capacity
}

func (c *SpotCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.registry.Stats()
	for category, cs := range st.ByCategory {
		for status, n := range map[Status]int{
			StatusFree:        cs.Free,
			StatusOccupied:    cs.Occupied,
			StatusMaintenance: cs.Maintenance,
		} {
			ch <- prometheus.MustNewConstMetric(c.spots, prometheus.GaugeValue,
				float64(n), category.String(), string(status))
		}
	}
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Total))
}
