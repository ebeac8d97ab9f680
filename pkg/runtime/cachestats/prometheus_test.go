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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glasscore/infercore/pkg/runtime/cache"
)

func collectMonitorMetrics(t *testing.T, c prometheus.Collector) []*dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var out []*dto.Metric
	for m := range ch {
		pb := &dto.Metric{}
		require.NoError(t, m.Write(pb))
		out = append(out, pb)
	}
	return out
}

func TestMonitorCollectorDescribe(t *testing.T) {
	m := NewMonitor()
	ch := make(chan *prometheus.Desc, 16)
	go func() {
		m.Collector().Describe(ch)
		close(ch)
	}()

	var descs []*prometheus.Desc
	for d := range ch {
		descs = append(descs, d)
	}
	assert.Len(t, descs, 4)
}

func TestMonitorCollectorEmitsFourGaugesPerTier(t *testing.T) {
	m := NewMonitor()
	m.RecordLatency(cache.L1, 20*time.Millisecond)
	m.Snapshot(cache.L1)

	metrics := collectMonitorMetrics(t, m.Collector())
	require.Len(t, metrics, 4, "hit rate, error rate, size, and average latency for the single seeded tier")
	for _, mt := range metrics {
		require.Len(t, mt.Label, 1)
		assert.Equal(t, "tier", mt.Label[0].GetName())
		assert.Equal(t, string(cache.L1), mt.Label[0].GetValue())
	}
}

func TestMonitorCollectorCoversEachTrackedTier(t *testing.T) {
	m := NewMonitor()
	m.Snapshot(cache.L1)
	m.Snapshot(cache.L2)
	m.Snapshot(cache.L3)

	metrics := collectMonitorMetrics(t, m.Collector())
	assert.Len(t, metrics, 12)
}
