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
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const cpuInfoPath = "/proc/cpuinfo"

type cpuFacts struct {
	cores   int
	mhz     float64
	flags   map[string]bool
	modelID string
}

// probeCPU hand-parses /proc/cpuinfo the same way it parses sysfs
// text files directly: no ecosystem library understands this format
// better than a line scanner.
func probeCPU() (*Device, error) {
	facts, err := readCPUInfo(cpuInfoPath)
	if err != nil {
		facts = &cpuFacts{cores: runtime.NumCPU(), flags: map[string]bool{}}
	}
	if facts.cores == 0 {
		facts.cores = runtime.NumCPU()
	}

	score := float64(facts.cores)*10 + facts.mhz/1000*5
	switch {
	case facts.flags["avx512f"]:
		score += 50
	case facts.flags["avx2"]:
		score += 30
	case facts.flags["avx"]:
		score += 20
	}
	if facts.flags["fma"] {
		score += 15
	}
	if facts.flags["aes"] {
		score += 10
	}

	caps := make([]string, 0, len(facts.flags))
	for _, f := range []string{"avx512f", "avx2", "avx", "fma", "aes"} {
		if facts.flags[f] {
			caps = append(caps, f)
		}
	}

	return &Device{
		ID:               "cpu-0",
		Kind:             CPU,
		Name:             facts.modelID,
		Capabilities:     caps,
		PerformanceScore: clampScore(score),
		Status:           Available,
		MaxConcurrent:    facts.cores,
	}, nil
}

// readCPUInfo scans /proc/cpuinfo for core count, clock speed, and the
// SIMD/crypto feature flags of the first logical processor.
func readCPUInfo(path string) (*cpuFacts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	facts := &cpuFacts{flags: map[string]bool{}}
	seenFlags := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, val, ok := splitColon(line)
		if !ok {
			continue
		}
		switch key {
		case "processor":
			facts.cores++
		case "model name":
			if facts.modelID == "" {
				facts.modelID = val
			}
		case "cpu MHz":
			if facts.mhz == 0 {
				if f, err := strconv.ParseFloat(val, 64); err == nil {
					facts.mhz = f
				}
			}
		case "flags", "Features":
			if !seenFlags {
				for _, flag := range strings.Fields(val) {
					facts.flags[strings.ToLower(flag)] = true
				}
				seenFlags = true
			}
		}
	}
	return facts, scanner.Err()
}

func splitColon(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}
