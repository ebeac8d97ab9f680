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

package hwprobe

import "os"

// npuVendorProbe is a vendor-specific NPU enumeration check. Each
// returns whether the vendor's NPU device node/driver is present and
// the score to assign it if so.
type npuVendorProbe struct {
	vendor string
	score  float64
	detect func() bool
}

var npuVendors = []npuVendorProbe{
	{vendor: "apple_ane", score: 300, detect: pathExists("/dev/apple_ane")},
	{vendor: "amd_xdna", score: 250, detect: pathExists("/dev/accel/accel0")},
	{vendor: "intel_gna", score: 200, detect: pathExists("/dev/intel_gna")},
	{vendor: "arm_ethos", score: 180, detect: pathExists("/dev/ethos")},
	{vendor: "qualcomm_hexagon", score: 150, detect: pathExists("/dev/qcom_npu")},
}

// probeNPU enumerates vendor-specific NPU device nodes, returning the
// highest-scoring one detected, or nil if none is present.
func probeNPU() *Device {
	var best *npuVendorProbe
	for i := range npuVendors {
		v := &npuVendors[i]
		if v.detect() && (best == nil || v.score > best.score) {
			best = v
		}
	}
	if best == nil {
		return nil
	}

	return &Device{
		ID:               "npu-0",
		Kind:             NPU,
		Name:             best.vendor,
		Capabilities:     []string{best.vendor},
		PerformanceScore: clampScore(best.score),
		Status:           Available,
		MaxConcurrent:    1,
	}
}

func pathExists(path string) func() bool {
	return func() bool {
		_, err := os.Stat(path)
		return err == nil
	}
}
