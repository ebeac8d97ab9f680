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

// Package instrumentation wires up distributed tracing (Jaeger, via
// OpenCensus) and metrics export (Prometheus) behind a single runtime
// configurable Service.
package instrumentation

import (
	"fmt"

	logger "github.com/glasscore/infercore/pkg/log"
)

// Our logger instance.
var log = logger.NewLogger("instrumentation")

// instrumentationError returns a formatted instrumentation-specific error.
func instrumentationError(format string, args ...interface{}) error {
	return fmt.Errorf("instrumentation: "+format, args...)
}

var configHelp = `
Instrumentation for distributed tracing and metrics collection.

Tracing is exported to Jaeger, metrics are exported to Prometheus. Tracing is
disabled by default, Prometheus export is enabled by default. Trace sampling can be set to 'disabled', 'production'
(sample roughly 1 in 10 traces), 'testing' (sample every trace), or an
explicit probability between 0 and 1.
`
