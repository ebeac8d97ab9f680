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

package log

import (
	"fmt"
	"sync"
)

// levelHighest is the highest severity level we ever compare against.
const levelHighest = LevelPanic

// registry is the single, process-wide bookkeeping instance behind the
// package-level logger ids handed out by NewLogger/Get.
type registry struct {
	sync.RWMutex
	configs  map[logger]config     // per-logger runtime configuration
	sources  map[logger]string     // logger id to source name
	names    map[string]logger     // source name to logger id
	backend  map[string]BackendFn  // registered backend constructors
	active   Backend               // currently active backend
	level    Level                 // global severity threshold
	forced   bool                  // full debugging forced on, e.g. via signal
	srcalign int                   // longest known source name, for alignment
}

// log is the package-wide logger registry. Every Logger handed out by
// NewLogger/Get is just a small integer indexing into it.
var log = &registry{
	configs: make(map[logger]config),
	sources: make(map[logger]string),
	names:   make(map[string]logger),
	backend: make(map[string]BackendFn),
	level:   LevelInfo,
}

// get returns the Logger for source, creating and configuring one if necessary.
func (r *registry) get(source string) Logger {
	r.Lock()
	defer r.Unlock()

	if id, ok := r.names[source]; ok {
		return id
	}

	if len(r.names) >= maxLoggers {
		panic("log: too many distinct logger sources")
	}

	id := logger(len(r.names) + 1)
	r.names[source] = id
	r.sources[id] = source
	r.configs[id] = mkConfig(id, opt.sourceEnabled(source), opt.debugEnabled(source))

	if len(source) > r.srcalign {
		r.srcalign = len(source)
		if r.active != nil {
			r.active.SetSourceAlignment(r.srcalign)
		}
	}

	if r.active == nil {
		r.activateLocked(opt.backend)
	}

	return id
}

// setBackend activates the named backend, falling back to the fmt backend
// if activation fails.
func (r *registry) setBackend(name string) error {
	r.Lock()
	defer r.Unlock()
	return r.activateLocked(name)
}

func (r *registry) activateLocked(name string) error {
	fn, ok := r.backend[name]
	if !ok {
		if name != FmtBackendName {
			r.activateLocked(FmtBackendName)
		}
		return loggerError("unknown logger backend %q", name)
	}

	if r.active != nil {
		r.active.Stop()
	}

	b := fn()
	b.SetSourceAlignment(r.srcalign)
	r.active = b

	return nil
}

// setLevel updates the global logging severity threshold.
func (r *registry) setLevel(level Level) {
	r.Lock()
	defer r.Unlock()
	r.level = level
}

// forceDebug forcibly enables or disables debug logging for every source,
// returning the previous state. Used for toggling full debugging at runtime,
// e.g. in response to a signal.
func (r *registry) forceDebug(state bool) bool {
	r.Lock()
	defer r.Unlock()
	old := r.forced
	r.forced = state
	return old
}

// debugForced reports whether full debugging is currently forced on.
func (r *registry) debugForced() bool {
	r.RLock()
	defer r.RUnlock()
	return r.forced
}

// updateLoggers reapplies the enable/debug source sets to every known logger.
func (r *registry) updateLoggers() {
	r.Lock()
	defer r.Unlock()

	for source, id := range r.names {
		cfg := r.configs[id]
		cfg.setLogging(opt.sourceEnabled(source))
		cfg.setTracing(opt.debugEnabled(source))
		r.configs[id] = cfg
	}
}

// NewLogger creates, or looks up an already existing, Logger for source.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get is an alias for NewLogger.
func Get(source string) Logger {
	return log.get(source)
}

// SetBackend activates the named logger backend.
func SetBackend(name string) error {
	return log.setBackend(name)
}

// SetLevel sets the global logging severity threshold.
func SetLevel(level Level) {
	log.setLevel(level)
}

// loggerError returns a formatted, log-package-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("log: "+format, args...)
}
