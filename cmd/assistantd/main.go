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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glasscore/infercore/pkg/instrumentation"
	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/metrics"
	"github.com/glasscore/infercore/pkg/pidfile"
	"github.com/glasscore/infercore/pkg/runtime/core"
	"github.com/glasscore/infercore/pkg/runtime/hwprobe"
	"github.com/glasscore/infercore/pkg/runtime/scheduler"
	"github.com/glasscore/infercore/pkg/runtime/session"
	"github.com/glasscore/infercore/pkg/version"
)

var log = logger.Default()

func main() {
	var (
		enableCPU, enableGPU, enableNPU bool
		maxWorkers, maxPoolSize         int
		cacheL1, cacheL2, cacheL3       int
		memoryPoolMB                    int
		pidFilePath                     string
	)

	rootCmd := &cobra.Command{
		Use:     "assistantd",
		Short:   "Hardware-aware local inference runtime daemon",
		Version: fmt.Sprintf("%s (build %s)", version.Version, version.Build),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pidFilePath != "" {
				pidfile.SetPath(pidFilePath)
			}
			if err := pidfile.Write(); err != nil {
				return fmt.Errorf("failed to write pidfile: %w", err)
			}
			defer pidfile.Remove()

			if err := instrumentation.Setup("infercore"); err != nil {
				return fmt.Errorf("failed to set up instrumentation: %w", err)
			}
			defer instrumentation.Finish()

			opts := core.DefaultOptions()
			opts.EnableCPU, opts.EnableGPU, opts.EnableNPU = enableCPU, enableGPU, enableNPU
			if maxWorkers > 0 {
				opts.MaxWorkers = maxWorkers
			}
			if maxPoolSize > 0 {
				opts.MaxPoolSize = maxPoolSize
			}
			opts.CacheSizes = core.CacheSizes{L1: cacheL1, L2: cacheL2, L3: cacheL3}
			if memoryPoolMB > 0 {
				opts.MemoryPoolBytes = uint64(memoryPoolMB) << 20
			}

			rt, err := core.New(opts, loopbackFactory, loopbackExecutor)
			if err != nil {
				return fmt.Errorf("failed to build runtime: %w", err)
			}

			if gatherer, err := metrics.NewMetricGatherer(); err != nil {
				log.Warn("metrics collectors unavailable: %v", err)
			} else {
				instrumentation.RegisterGatherer(gatherer)
			}

			rt.Start()
			log.Info("assistantd (version %s, build %s) started", version.Version, version.Build)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			log.Info("shutting down...")
			rt.Stop()
			return nil
		},
	}

	rootCmd.Flags().BoolVar(&enableCPU, "enable-cpu", true, "discover and schedule onto CPU devices")
	rootCmd.Flags().BoolVar(&enableGPU, "enable-gpu", true, "discover and schedule onto GPU devices")
	rootCmd.Flags().BoolVar(&enableNPU, "enable-npu", true, "discover and schedule onto NPU devices")
	rootCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "worker pool size (0 uses the number of CPUs)")
	rootCmd.Flags().IntVar(&maxPoolSize, "max-pool-size", 4, "per-model session pool size")
	rootCmd.Flags().IntVar(&cacheL1, "cache-l1-size", 10, "L1 embedding cache entry capacity")
	rootCmd.Flags().IntVar(&cacheL2, "cache-l2-size", 50, "L2 embedding cache entry capacity")
	rootCmd.Flags().IntVar(&cacheL3, "cache-l3-size", 500, "L3 embedding cache entry capacity")
	rootCmd.Flags().IntVar(&memoryPoolMB, "memory-pool-mb", 256, "shared memory pool size in megabytes")
	rootCmd.Flags().StringVar(&pidFilePath, "pidfile", "", "path to write the daemon pidfile (default: platform default)")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal("%v", err)
	}
}

type loopbackHandle struct{ deviceID string }

func (loopbackHandle) Close() error { return nil }

// loopbackFactory and loopbackExecutor stand in for a real ONNX
// Runtime / llama.cpp / NPU SDK backend: no plugin is wired in by
// default, so submitted tasks echo their inputs back immediately.
// A real deployment replaces these two functions with calls into the
// chosen inference backend; nothing else in the runtime changes.
func loopbackFactory(modelPath, deviceID string) (session.Handle, error) {
	return loopbackHandle{deviceID: deviceID}, nil
}

func loopbackExecutor(ctx context.Context, device *hwprobe.Device, handle session.Handle, task *scheduler.Task) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	return task.Inputs, nil
}
