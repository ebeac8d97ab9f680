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
	"sort"
	"strings"

	"github.com/glasscore/infercore/pkg/config"
)

// sourceSet is a flag.Value for a comma-separated set of logger sources,
// with the reserved keywords "all" and "none".
type sourceSet struct {
	all   bool
	none  bool
	names map[string]bool
}

// Set parses a comma-separated source list into the set.
func (s *sourceSet) Set(value string) error {
	all, none := false, false
	names := make(map[string]bool)

	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case "":
			continue
		case "none":
			none = true
		case "all", "*":
			all = true
		default:
			names[name] = true
		}
	}

	s.all, s.none, s.names = all, none, names

	return nil
}

// String returns the string representation of the set.
func (s *sourceSet) String() string {
	switch {
	case s == nil:
		return "none"
	case s.all:
		return "all"
	case s.none || len(s.names) == 0:
		return "none"
	}

	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)

	return strings.Join(names, ",")
}

// matches checks if the given source is a member of the set.
func (s *sourceSet) matches(source string) bool {
	if s == nil || s.none {
		return false
	}
	if s.all {
		return true
	}
	return s.names[source]
}

// Set parses a logging severity level.
func (l *Level) Set(value string) error {
	switch strings.ToLower(value) {
	case "debug":
		*l = LevelDebug
	case "info", "information":
		*l = LevelInfo
	case "warn", "warning":
		*l = LevelWarn
	case "error":
		*l = LevelError
	default:
		return loggerError("invalid logging level %q", value)
	}
	return nil
}

// String returns the string representation of the severity level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	case LevelPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// options holds our runtime-configurable logging parameters.
type options struct {
	level   Level
	backend string
	enable  sourceSet
	debug   sourceSet
}

// sourceEnabled checks whether plain logging is enabled for source.
func (o *options) sourceEnabled(source string) bool {
	return o.enable.matches(source)
}

// debugEnabled checks whether debug logging is enabled for source.
func (o *options) debugEnabled(source string) bool {
	return o.debug.matches(source)
}

// defaultOptions returns the default logging configuration: info level and
// above, all sources logging, no source producing debug messages.
func defaultOptions() *options {
	o := &options{
		level:   LevelInfo,
		backend: FmtBackendName,
	}
	o.enable.all = true
	o.debug.none = true
	return o
}

// opt is our active logging configuration.
var opt = defaultOptions()

// configNotify is our configuration change notification handler.
func configNotify(event config.Event, source config.Source) error {
	log.setLevel(opt.level)
	if err := log.setBackend(opt.backend); err != nil {
		return err
	}
	log.updateLoggers()
	return nil
}

func init() {
	config.SetLogger(config.Logger{
		DebugEnabled: func() bool { return log.debugForced() },
		Debug:        Debug,
		Info:         Info,
		Warning:      Warn,
		Error:        Error,
		Fatal:        Fatal,
		Panic:        Panic,
	})

	m := config.Register("logger", configHelp)
	m.Var(&opt.level, "level", "lowest severity of messages to log (debug, info, warn, error)")
	m.StringVar(&opt.backend, "backend", opt.backend, "logger backend to use")
	m.Var(&opt.enable, "enable", "logger sources allowed to produce messages ('all', 'none', or a comma-separated list)")
	m.Var(&opt.debug, "debug", "logger sources allowed to produce debug messages ('all', 'none', or a comma-separated list)")
	m.WatchUpdates(configNotify)
}
