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

package instrumentation

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestSamplingRoundtrip(t *testing.T) {
	cases := []Sampling{
		Disabled,
		Testing,
		Production,
		0.2, 0.25, 0.5, 0.75, 0.8,
	}
	for _, tc := range cases {
		var chk Sampling
		if err := chk.Parse(tc.String()); err != nil {
			t.Errorf("failed to parse Sampling.String() %q: %v", tc, err)
		}
		if chk != tc {
			t.Errorf("expected sampling value for %q: %v, got: %v", tc, tc, chk)
		}
	}
}

func TestSamplingParseRejectsOutOfRange(t *testing.T) {
	var s Sampling
	if err := s.Parse("1.5"); err == nil {
		t.Errorf("expected an error parsing an out-of-range sampling value")
	}
}

func TestServiceStartStopWithMetricsExport(t *testing.T) {
	opt.Sampling = Disabled
	opt.PrometheusExport = true
	opt.HTTPEndpoint = ":0"

	if err := Setup("instrumentation-test"); err != nil {
		t.Fatalf("failed to start instrumentation service: %v", err)
	}
	defer Finish()

	address := svc.http.GetAddress()
	if address == "" {
		t.Fatalf("expected instrumentation HTTP server to have bound an address")
	}

	rpl, err := http.Get("http://" + address + PrometheusMetricsPath)
	if err != nil {
		t.Fatalf("GET %s failed: %v", PrometheusMetricsPath, err)
	}
	defer rpl.Body.Close()

	if rpl.StatusCode != http.StatusOK {
		t.Errorf("GET %s: status %s, expected 200", PrometheusMetricsPath, rpl.Status)
	}

	if _, err := io.ReadAll(rpl.Body); err != nil {
		t.Errorf("failed to read metrics response: %v", err)
	}
}

func TestServiceStartWithMetricsExportDisabled(t *testing.T) {
	opt.Sampling = Disabled
	opt.PrometheusExport = false
	opt.HTTPEndpoint = ":0"

	if err := Setup("instrumentation-test-disabled"); err != nil {
		t.Fatalf("failed to start instrumentation service: %v", err)
	}
	defer Finish()

	address := svc.http.GetAddress()
	rpl, err := http.Get("http://" + address + PrometheusMetricsPath)
	if err != nil {
		t.Fatalf("GET %s failed: %v", PrometheusMetricsPath, err)
	}
	defer rpl.Body.Close()

	if rpl.StatusCode == http.StatusOK {
		t.Errorf("expected metrics endpoint to be unavailable when export is disabled")
	}
}

func TestPrometheusNamespace(t *testing.T) {
	if got := prometheusNamespace("Local-Inference-Runtime"); !strings.Contains(got, "_") {
		t.Errorf("expected namespace %q to be underscore-separated", got)
	}
}
