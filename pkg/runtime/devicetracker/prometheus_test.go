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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectMetrics(t *testing.T, c prometheus.Collector) []*dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
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

func TestRegistryCollectorDescribe(t *testing.T) {
	r := NewRegistry()
	ch := make(chan *prometheus.Desc, 16)
	go func() {
		r.Collector().Describe(ch)
		close(ch)
	}()

	var descs []*prometheus.Desc
	for d := range ch {
		descs = append(descs, d)
	}
	assert.Len(t, descs, 2)
}

func TestRegistryCollectorEmitsPerDeviceGauges(t *testing.T) {
	r := NewRegistry()
	tr := r.For("gpu-0")
	for i := 0; i < 5; i++ {
		tr.RecordInference(10*time.Millisecond, true, nil)
	}
	tr.RecordHealth(HealthOK)

	metrics := collectMetrics(t, r.Collector())
	require.Len(t, metrics, 2, "one performance-score and one success-rate gauge for the single tracked device")
	for _, m := range metrics {
		require.Len(t, m.Label, 1)
		assert.Equal(t, "device_id", m.Label[0].GetName())
		assert.Equal(t, "gpu-0", m.Label[0].GetValue())
	}
}

func TestRegistryCollectorEmptyRegistryYieldsNoMetrics(t *testing.T) {
	r := NewRegistry()
	metrics := collectMetrics(t, r.Collector())
	assert.Empty(t, metrics)
}
