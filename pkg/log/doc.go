// Copyright 2019 Intel Corporation. All Rights Reserved.
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

var configHelp = `
Logging and debugging messages.

To control logging and debug messages include a corresponding configuration
fragment in your runtime configuration. You can control the lowest severity
of messages to pass through, which log sources are allowed to produce info
messages (warnings and errors always pass), and which log sources are
producing debug messages.

The available message severity levels are debug, info, warn, and error. By
default all log sources are enabled and none of them produce debug messages.
For instance to enable debugging for the scheduler and cache sources you can
use the config fragment below:

  logger:
    level: info
    enable: all
    debug: scheduler,cache

The reserved keywords 'all' and 'none' can be used to refer to all or none of
the log sources. For instance, the following fragment enables full debugging:

  logger:
    level: debug
    enable: all
    debug: all

The very same logger settings can be also controlled using the --logger-level,
--logger-enable, and --logger-debug command line options.
`
