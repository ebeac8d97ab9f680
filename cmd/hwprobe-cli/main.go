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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/runtime/hwprobe"
)

func main() {
	cpu := flag.Bool("cpu", true, "discover CPU devices")
	gpu := flag.Bool("gpu", true, "discover GPU devices")
	npu := flag.Bool("npu", true, "discover NPU devices")
	asJSON := flag.Bool("json", false, "print the inventory as JSON instead of a table")

	flag.Parse()

	var flags hwprobe.DiscoverFlag
	if *cpu {
		flags |= hwprobe.DiscoverCPU
	}
	if *gpu {
		flags |= hwprobe.DiscoverGPU
	}
	if *npu {
		flags |= hwprobe.DiscoverNPU
	}
	if flags == 0 {
		logger.Fatal("at least one of -cpu/-gpu/-npu must be enabled")
	}

	probe := hwprobe.New(flags)
	inv, err := probe.Discover()
	if err != nil {
		logger.Fatal("hardware probe failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(inv); err != nil {
			logger.Fatal("failed to encode inventory: %v", err)
		}
		return
	}

	fmt.Printf("probed at %s, %d device(s), %d/%d MiB available\n",
		inv.ProbedAt.Format("2006-01-02T15:04:05Z07:00"), len(inv.Devices), inv.AvailMemoryMB, inv.TotalMemoryMB)
	for _, d := range inv.Devices {
		fmt.Printf("  %-8s %-24s status=%-10s score=%.2f\n", d.Kind, d.ID, d.Status, d.PerformanceScore)
	}
}
