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

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mindprince/gonvml"
)

const drmClassPath = "/sys/class/drm"

// probeGPUs tries NVML first for detailed NVIDIA data (VRAM, compute
// capability), falling back to a PCI sysfs scan when NVML isn't
// loadable, e.g. on a laptop with no discrete GPU driver installed.
func probeGPUs() ([]*Device, error) {
	if devs, err := probeGPUsNVML(); err == nil && len(devs) > 0 {
		return devs, nil
	}
	return probeGPUsSysfs()
}

func probeGPUsNVML() ([]*Device, error) {
	if err := gonvml.Initialize(); err != nil {
		return nil, err
	}
	defer gonvml.Shutdown()

	count, err := gonvml.DeviceCount()
	if err != nil {
		return nil, err
	}

	var devs []*Device
	for i := uint(0); i < count; i++ {
		dev, err := gonvml.DeviceHandleByIndex(i)
		if err != nil {
			continue
		}
		name, _ := dev.Name()
		total, _, err := dev.MemoryInfo()
		if err != nil {
			continue
		}
		major, minor, err := dev.CudaComputeCapability()
		vramMB := float64(total) / (1024 * 1024)

		score := vramMB/10 + vendorBonus("nvidia") + modelBonus(name)
		caps := []string{"cuda"}
		if err == nil {
			caps = append(caps, fmt.Sprintf("sm_%d%d", major, minor))
		}

		devs = append(devs, &Device{
			ID:               fmt.Sprintf("gpu-%d", i),
			Kind:             GPU,
			Name:             name,
			Capabilities:     caps,
			PerformanceScore: clampScore(score),
			Status:           Available,
			MaxConcurrent:    1,
		})
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no NVML devices found")
	}
	return devs, nil
}

// probeGPUsSysfs scans /sys/class/drm for display controllers when NVML
// isn't available, a vendor-neutral fallback covering Intel/AMD/Apple
// integrated and discrete GPUs alike.
func probeGPUsSysfs() ([]*Device, error) {
	entries, err := ioutil.ReadDir(drmClassPath)
	if err != nil {
		return nil, err
	}

	var devs []*Device
	seen := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "card") || strings.Contains(name, "-") {
			continue
		}
		devicePath := filepath.Join(drmClassPath, name, "device")
		vendorID := readSysfsHex(filepath.Join(devicePath, "vendor"))
		if vendorID == "" || seen[vendorID+name] {
			continue
		}
		seen[vendorID+name] = true

		vendor := vendorFromID(vendorID)
		score := vendorBonus(vendor)

		devs = append(devs, &Device{
			ID:               name,
			Kind:             GPU,
			Name:             vendor + " display controller",
			Capabilities:     capsForVendor(vendor),
			PerformanceScore: clampScore(score),
			Status:           Available,
			MaxConcurrent:    1,
		})
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no DRM devices found under %s", drmClassPath)
	}
	return devs, nil
}

func readSysfsHex(path string) string {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func vendorFromID(id string) string {
	v, err := strconv.ParseInt(strings.TrimPrefix(id, "0x"), 16, 64)
	if err != nil {
		return "unknown"
	}
	switch v {
	case 0x10de:
		return "nvidia"
	case 0x1002:
		return "amd"
	case 0x8086:
		return "intel"
	case 0x106b:
		return "apple"
	default:
		return "unknown"
	}
}

func vendorBonus(vendor string) float64 {
	switch vendor {
	case "nvidia":
		return 200
	case "amd":
		return 150
	case "apple":
		return 180
	case "intel":
		return 80
	default:
		return 0
	}
}

func modelBonus(name string) float64 {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "rtx"), strings.Contains(lower, "a100"), strings.Contains(lower, "h100"):
		return 100
	case strings.Contains(lower, "gtx"):
		return 40
	default:
		return 0
	}
}

func capsForVendor(vendor string) []string {
	switch vendor {
	case "nvidia":
		return []string{"cuda", "vulkan"}
	case "amd":
		return []string{"opencl", "vulkan"}
	case "intel":
		return []string{"opencl", "vulkan"}
	case "apple":
		return []string{"metal"}
	default:
		return nil
	}
}
