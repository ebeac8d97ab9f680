// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package devicetracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	perfScoreDesc = prometheus.NewDesc(
		"infercore_device_performance_score", "Composite performance score of a tracked device.",
		[]string{"device_id"}, nil)
	successRateDesc = prometheus.NewDesc(
		"infercore_device_success_rate", "Fraction of recent inferences that succeeded on a device.",
		[]string{"device_id"}, nil)
)

// registryCollector adapts a Registry to prometheus.Collector, snapshotting
// every tracked device's score on each scrape.
type registryCollector struct {
	registry *Registry
}

// Collector returns a prometheus.Collector exposing every tracked
// device's current performance score and success rate.
func (r *Registry) Collector() prometheus.Collector {
	return &registryCollector{registry: r}
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- perfScoreDesc
	ch <- successRateDesc
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	c.registry.mu.Lock()
	trackers := make([]*Tracker, 0, len(c.registry.trackers))
	for _, t := range c.registry.trackers {
		trackers = append(trackers, t)
	}
	c.registry.mu.Unlock()

	for _, t := range trackers {
		ch <- prometheus.MustNewConstMetric(perfScoreDesc, prometheus.GaugeValue, t.PerformanceScore(), t.deviceID)
		ch <- prometheus.MustNewConstMetric(successRateDesc, prometheus.GaugeValue, t.SuccessRate(), t.deviceID)
	}
}
