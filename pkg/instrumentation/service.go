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
	"sync"

	httpsrv "github.com/glasscore/infercore/pkg/instrumentation/http"
)

// ServiceName identifies us to Jaeger and Prometheus. Set it with Setup()
// before tracing or metrics export is enabled.
var ServiceName = "infercore"

// Service ties together our tracing exporter, metrics exporter, and the
// HTTP server used to expose both.
type Service struct {
	sync.Mutex
	http    *httpsrv.Server
	tracing tracing
	metrics metrics
	running bool
}

// svc is our singleton instrumentation service.
var svc = &Service{http: httpsrv.NewServer()}

// Setup sets up instrumentation (tracing, metrics collection) for service.
func Setup(service string) error {
	if service != "" {
		ServiceName = service
	}
	return svc.start()
}

// Finish shuts down instrumentation.
func Finish() {
	svc.stop()
}

// IsEnabled returns true if trace sampling is enabled.
func IsEnabled() bool {
	return opt.Sampling > Disabled
}

// GetHTTPMux returns the HTTP request multiplexer instrumentation serves on.
func GetHTTPMux() *httpsrv.ServeMux {
	return svc.http.GetMux()
}

// start starts the instrumentation service.
func (s *Service) start() error {
	s.Lock()
	defer s.Unlock()

	if s.running {
		return nil
	}

	log.Info("starting instrumentation service...")

	if err := s.tracing.start(opt.Agent, opt.Collector, opt.Sampling); err != nil {
		return err
	}

	if err := s.metrics.start(s.http.GetMux(), opt.PrometheusExport); err != nil {
		s.tracing.stop()
		return err
	}

	if err := s.http.Start(opt.HTTPEndpoint); err != nil {
		s.metrics.stop()
		s.tracing.stop()
		return err
	}

	s.running = true

	return nil
}

// stop stops the instrumentation service.
func (s *Service) stop() {
	s.Lock()
	defer s.Unlock()

	if !s.running {
		return
	}

	log.Info("stopping instrumentation service...")

	s.http.Stop()
	s.metrics.stop()
	s.tracing.stop()

	s.running = false
}

// reconfigure applies the current configuration to a running service.
func (s *Service) reconfigure() error {
	s.Lock()
	defer s.Unlock()

	if !s.running {
		return nil
	}

	if err := s.tracing.reconfigure(opt.Agent, opt.Collector, opt.Sampling); err != nil {
		return err
	}

	if err := s.http.Reconfigure(opt.HTTPEndpoint); err != nil {
		return err
	}

	return s.metrics.reconfigure(s.http.GetMux(), opt.PrometheusExport)
}
