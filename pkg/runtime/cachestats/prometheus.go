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

package cachestats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/glasscore/infercore/pkg/runtime/cache"
)

var (
	hitRateDesc = prometheus.NewDesc(
		"infercore_cache_hit_rate", "Fraction of lookups served from a cache tier.",
		[]string{"tier"}, nil)
	errorRateDesc = prometheus.NewDesc(
		"infercore_cache_error_rate", "Fraction of lookups that errored on a cache tier.",
		[]string{"tier"}, nil)
	cacheSizeDesc = prometheus.NewDesc(
		"infercore_cache_size", "Current entry count of a cache tier.",
		[]string{"tier"}, nil)
	avgLatencyDesc = prometheus.NewDesc(
		"infercore_cache_average_latency_seconds", "Average recorded lookup latency for a cache tier.",
		[]string{"tier"}, nil)
)

type monitorCollector struct {
	monitor *Monitor
}

// Collector returns a prometheus.Collector exposing this Monitor's
// current per-tier derived statistics.
func (m *Monitor) Collector() prometheus.Collector {
	return &monitorCollector{monitor: m}
}

func (c *monitorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- hitRateDesc
	ch <- errorRateDesc
	ch <- cacheSizeDesc
	ch <- avgLatencyDesc
}

func (c *monitorCollector) Collect(ch chan<- prometheus.Metric) {
	c.monitor.mu.Lock()
	tiers := make([]cache.TierName, 0, len(c.monitor.counters))
	for t := range c.monitor.counters {
		tiers = append(tiers, t)
	}
	c.monitor.mu.Unlock()

	for _, tier := range tiers {
		snap := c.monitor.Snapshot(tier)
		ch <- prometheus.MustNewConstMetric(hitRateDesc, prometheus.GaugeValue, snap.HitRate, string(tier))
		ch <- prometheus.MustNewConstMetric(errorRateDesc, prometheus.GaugeValue, snap.ErrorRate, string(tier))
		ch <- prometheus.MustNewConstMetric(cacheSizeDesc, prometheus.GaugeValue, float64(snap.CacheSize), string(tier))
		ch <- prometheus.MustNewConstMetric(avgLatencyDesc, prometheus.GaugeValue, snap.AverageLatency.Seconds(), string(tier))
	}
}
