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
	"os"
	"strconv"
	"strings"

	"go.opencensus.io/trace"

	"github.com/glasscore/infercore/pkg/config"
)

// Sampling is a trace sampling configuration, either a named preset or an
// explicit probability between 0.0 (never) and 1.0 (always).
type Sampling float64

const (
	// Disabled never samples any trace.
	Disabled Sampling = 0.0
	// Production samples roughly one in ten traces.
	Production Sampling = 0.1
	// Testing samples every trace.
	Testing Sampling = 1.0
)

// String returns the string representation of a Sampling value.
func (s Sampling) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Production:
		return "production"
	case Testing:
		return "testing"
	default:
		return strconv.FormatFloat(float64(s), 'f', -1, 64)
	}
}

// Parse parses a Sampling value from its string representation.
func (s *Sampling) Parse(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "disabled", "off", "none":
		*s = Disabled
	case "production":
		*s = Production
	case "testing", "full", "always":
		*s = Testing
	default:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return instrumentationError("invalid sampling value %q: %v", value, err)
		}
		if f < 0.0 || f > 1.0 {
			return instrumentationError("sampling value %q out of range [0.0, 1.0]", value)
		}
		*s = Sampling(f)
	}
	return nil
}

// Set implements flag.Value for Sampling.
func (s *Sampling) Set(value string) error {
	return s.Parse(value)
}

// Sampler returns the OpenCensus trace.Sampler corresponding to s.
func (s Sampling) Sampler() trace.Sampler {
	switch {
	case s <= 0.0:
		return trace.NeverSample()
	case s >= 1.0:
		return trace.AlwaysSample()
	default:
		return trace.ProbabilitySampler(float64(s))
	}
}

// options encapsulates our configurable instrumentation parameters.
type options struct {
	// Sampling is the trace sampling configuration.
	Sampling Sampling
	// Collector is the Jaeger collector endpoint.
	Collector string
	// Agent is the Jaeger agent endpoint.
	Agent string
	// HTTPEndpoint is the address our metrics/tracing HTTP server listens on.
	HTTPEndpoint string
	// PrometheusExport enables exporting collected metrics to Prometheus.
	PrometheusExport bool
}

// defaultOptions returns a new options instance, initialized to our defaults.
func defaultOptions() *options {
	collector := os.Getenv("JAEGER_COLLECTOR")
	agent := os.Getenv("JAEGER_AGENT")
	endpoint := os.Getenv("PROMETHEUS_ENDPOINT")

	if collector == "" {
		collector = "http://localhost:14268/api/traces"
	}
	if agent == "" {
		agent = "localhost:6831"
	}
	if endpoint == "" {
		endpoint = ":8888"
	}

	return &options{
		Sampling:         Disabled,
		Collector:        collector,
		Agent:            agent,
		HTTPEndpoint:     endpoint,
		PrometheusExport: true,
	}
}

// Our active instrumentation options.
var opt = defaultOptions()

// configNotify is our configuration update notification handler.
func configNotify(event config.Event, source config.Source) error {
	log.Info("instrumentation configuration changed, sampling is now %s", opt.Sampling)
	return svc.reconfigure()
}

// Register us for configuration handling.
func init() {
	m := config.Register("instrumentation", configHelp)
	m.Var(&opt.Sampling, "trace-sampling",
		"trace sampling: disabled, production, testing, or a probability between 0 and 1")
	m.StringVar(&opt.Collector, "jaeger-collector", opt.Collector, "Jaeger collector endpoint")
	m.StringVar(&opt.Agent, "jaeger-agent", opt.Agent, "Jaeger agent endpoint")
	m.StringVar(&opt.HTTPEndpoint, "http-endpoint", opt.HTTPEndpoint,
		"HTTP endpoint for exporting Prometheus metrics")
	m.BoolVar(&opt.PrometheusExport, "prometheus-export", opt.PrometheusExport,
		"enable exporting collected metrics to Prometheus")
	m.WatchUpdates(configNotify)
}
