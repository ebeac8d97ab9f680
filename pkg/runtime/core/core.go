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

// Package core wires every runtime subsystem — hardware probe,
// fallback coordinator, scheduler, session pool, cache tiers with
// promotion and statistics, shared memory pool, resource sharing,
// graceful degradation, and the API version adapter — behind the
// handful of public operations a caller actually uses. It plays the
// same "owns every subsystem, exposes one façade" role that the
// teacher's top-level resource manager plays for container admission.
package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/metrics"
	"github.com/glasscore/infercore/pkg/runtime/apiadapter"
	"github.com/glasscore/infercore/pkg/runtime/cache"
	"github.com/glasscore/infercore/pkg/runtime/cachestats"
	"github.com/glasscore/infercore/pkg/runtime/degradation"
	"github.com/glasscore/infercore/pkg/runtime/devicetracker"
	"github.com/glasscore/infercore/pkg/runtime/fallback"
	"github.com/glasscore/infercore/pkg/runtime/hwprobe"
	"github.com/glasscore/infercore/pkg/runtime/mempool"
	"github.com/glasscore/infercore/pkg/runtime/modelstore"
	"github.com/glasscore/infercore/pkg/runtime/promotion"
	"github.com/glasscore/infercore/pkg/runtime/rterrors"
	"github.com/glasscore/infercore/pkg/runtime/scheduler"
	"github.com/glasscore/infercore/pkg/runtime/session"
	"github.com/glasscore/infercore/pkg/runtime/sharing"
	"github.com/glasscore/infercore/pkg/runtime/workerpool"
)

var log = logger.NewLogger("core")

// CacheSizes bounds the three cache tiers.
type CacheSizes struct {
	L1 int
	L2 int
	L3 int
}

// Options is the canonical structured configuration for a Runtime.
type Options struct {
	MaxWorkers              int
	MaxPoolSize             int
	MaxQueueSize            int
	LoadBalancing           string // recorded only; New does not read it and device selection is always the fallback coordinator's
	CacheSizes              CacheSizes
	MemoryPoolBytes         uint64
	GCThreshold             float64
	AlertThresholds         cachestats.Thresholds
	FallbackCooldownMS      int
	CircuitBreakerThreshold int
	CircuitBreakerTimeoutMS int
	EnableNPU               bool
	EnableGPU               bool
	EnableCPU               bool
}

// DefaultOptions returns the literal defaults for every subsystem a
// Runtime wires together.
func DefaultOptions() Options {
	return Options{
		MaxWorkers:              0, // 0 means workerpool.DefaultConfig's runtime.NumCPU()
		MaxPoolSize:             4,
		MaxQueueSize:            1000,
		LoadBalancing:           "sticky-best-score",
		CacheSizes:              CacheSizes{L1: 10, L2: 50, L3: 500},
		MemoryPoolBytes:         256 << 20,
		GCThreshold:             0.8,
		AlertThresholds:         cachestats.DefaultThresholds(),
		FallbackCooldownMS:      30000,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeoutMS: 60000,
		EnableNPU:               true,
		EnableGPU:               true,
		EnableCPU:               true,
	}
}

// Stats is the aggregate snapshot returned by Runtime.Stats:
// devices, cache_tiers, pool, and degradation.
type Stats struct {
	Devices     []*hwprobe.Device
	CacheTiers  map[cache.TierName]cachestats.Snapshot
	Pool        mempool.Stats
	Degradation map[string]degradation.Status
}

// Runtime is the façade wiring every subsystem together.
type Runtime struct {
	opts Options

	probe       *hwprobe.Probe
	trackers    *devicetracker.Registry
	coordinator *fallback.Coordinator
	sessions    *session.Manager
	scheduler   *scheduler.Scheduler

	pool    *mempool.Pool
	sharing *sharing.Manager

	l1, l2, l3 cache.Tier
	promoter   *promotion.Manager
	cachestat  *cachestats.Monitor

	degradationMgr *degradation.Manager
	apiRegistry    *apiadapter.Registry
	workers        *workerpool.Pool

	wheel *timerWheel
}

// New builds a Runtime from opts. factory creates inference session
// handles; executor runs an admitted task once a device and session
// are bound to it.
func New(opts Options, factory session.Factory, executor scheduler.Executor) (*Runtime, error) {
	var discover hwprobe.DiscoverFlag
	if opts.EnableCPU {
		discover |= hwprobe.DiscoverCPU
	}
	if opts.EnableGPU {
		discover |= hwprobe.DiscoverGPU
	}
	if opts.EnableNPU {
		discover |= hwprobe.DiscoverNPU
	}
	if discover == 0 {
		return nil, rterrors.InvalidInputf("core.no_devices_enabled", "at least one of enable_cpu/enable_gpu/enable_npu must be set")
	}

	probe := hwprobe.New(discover)
	if _, err := probe.Discover(); err != nil {
		return nil, rterrors.Wrap(err, rterrors.NotInitialized, "core.probe_failed", "initial hardware probe failed")
	}

	trackers := devicetracker.NewRegistry()

	fbCfg := fallback.DefaultConfig()
	if opts.FallbackCooldownMS > 0 {
		fbCfg.CooldownDuration = time.Duration(opts.FallbackCooldownMS) * time.Millisecond
	}
	coordinator := fallback.New(probe.Current, trackers, fbCfg)

	sessOpts := []session.Option{}
	if opts.MaxPoolSize > 0 {
		sessOpts = append(sessOpts, session.WithMaxPoolSize(opts.MaxPoolSize))
	}
	sessions := session.NewManager(factory, sessOpts...)

	schedCfg := scheduler.DefaultConfig()
	if opts.MaxQueueSize > 0 {
		schedCfg.MaxQueueSize = opts.MaxQueueSize
	}
	sched := scheduler.New(coordinator, sessions, executor, schedCfg)

	poolSize := opts.MemoryPoolBytes
	if poolSize == 0 {
		poolSize = DefaultOptions().MemoryPoolBytes
	}
	pool := mempool.New(poolSize)
	if opts.GCThreshold > 0 {
		pool.SetGCThreshold(opts.GCThreshold)
	}

	sizes := opts.CacheSizes
	if sizes.L1 == 0 && sizes.L2 == 0 && sizes.L3 == 0 {
		sizes = DefaultOptions().CacheSizes
	}
	l1 := cache.NewL1(sizes.L1)
	l2 := cache.NewL2(sizes.L2)
	l3 := cache.NewL3(sizes.L3)

	promoCfg := promotion.DefaultConfig()
	promoter := promotion.NewManager(l1, l2, l3, promoCfg)

	stats := cachestats.NewMonitor()
	if opts.AlertThresholds != (cachestats.Thresholds{}) {
		stats.SetThresholds(opts.AlertThresholds)
	}
	stats.Watch(l1)
	stats.Watch(l2)
	stats.Watch(l3)

	degCfg := degradation.DefaultConfig()
	if opts.CircuitBreakerThreshold > 0 {
		degCfg.FailureThreshold = opts.CircuitBreakerThreshold
	}
	if opts.CircuitBreakerTimeoutMS > 0 {
		degCfg.CircuitBreakerCooldown = time.Duration(opts.CircuitBreakerTimeoutMS) * time.Millisecond
	}
	degradationMgr := degradation.New(degCfg)

	workerCfg := workerpool.DefaultConfig()
	if opts.MaxWorkers > 0 {
		workerCfg.MaxWorkers = opts.MaxWorkers
	}

	rt := &Runtime{
		opts:           opts,
		probe:          probe,
		trackers:       trackers,
		coordinator:    coordinator,
		sessions:       sessions,
		scheduler:      sched,
		pool:           pool,
		sharing:        sharing.New(pool),
		l1:             l1,
		l2:             l2,
		l3:             l3,
		promoter:       promoter,
		cachestat:      stats,
		degradationMgr: degradationMgr,
		apiRegistry:    apiadapter.NewDefaultRegistry(),
		workers:        workerpool.New(workerCfg),
		wheel:          newTimerWheel(time.Second),
	}
	rt.registerDefaultFeatures()
	rt.registerMetricsCollectors()
	return rt, nil
}

// registerMetricsCollectors wires the device tracker and cache
// statistics monitor into pkg/metrics so cmd/assistantd can expose
// them on the Prometheus endpoint pkg/instrumentation serves.
func (rt *Runtime) registerMetricsCollectors() {
	if err := metrics.RegisterCollector("devicetracker", func() (prometheus.Collector, error) {
		return rt.trackers.Collector(), nil
	}); err != nil {
		log.Debug("devicetracker collector already registered: %v", err)
	}
	if err := metrics.RegisterCollector("cachestats", func() (prometheus.Collector, error) {
		return rt.cachestat.Collector(), nil
	}); err != nil {
		log.Debug("cachestats collector already registered: %v", err)
	}
}

// registerDefaultFeatures wires the cache-lookup path behind a
// degradation feature so a misbehaving tier falls back to a miss
// instead of propagating an error to the caller.
func (rt *Runtime) registerDefaultFeatures() {
	rt.degradationMgr.Register("embedding-cache",
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) (interface{}, error) {
			return cacheResult{hit: false}, nil
		},
	)
}

// Start launches every subsystem's background work: the hardware
// re-probe loop, the scheduler's dispatch loop, the worker pool, the
// degradation manager's own health-check loop, and the timer wheel
// driving promotion/demotion sweeps, resource-sharing TTL reclaim,
// memory pool GC, session idle eviction, and cache-statistics sampling
// off a single clock.
func (rt *Runtime) Start() {
	rt.probe.Start()
	rt.scheduler.Start()
	rt.workers.Start()
	rt.promoter.StartConsumers()
	rt.degradationMgr.Start()

	rt.wheel.register("promotion-sweep", promotion.DefaultConfig().PromoteSweep, rt.promoter.TriggerPromotionSweep)
	rt.wheel.register("demotion-sweep", promotion.DefaultConfig().DemoteSweep, rt.promoter.TriggerDemotionSweep)
	rt.wheel.register("sharing-sweep", time.Minute, rt.sharing.Sweep)
	rt.wheel.register("mempool-gc", 2*time.Minute, rt.pool.GC)
	rt.wheel.register("session-idle-eviction", time.Minute, rt.evictIdleSessions)
	rt.wheel.register("cache-sampling", 30*time.Second, rt.sampleCacheStats)
	rt.wheel.start()

	log.Info("runtime started")
}

// Stop terminates every subsystem.
func (rt *Runtime) Stop() {
	rt.wheel.stop()
	rt.probe.Stop()
	rt.scheduler.Stop()
	rt.workers.Stop()
	rt.promoter.Stop()
	rt.degradationMgr.Stop()
	rt.sharing.Stop()
	rt.sessions.StopAll()
	log.Info("runtime stopped")
}

func (rt *Runtime) evictIdleSessions() {
	for _, p := range rt.sessions.Pools() {
		p.EvictIdle()
	}
}

func (rt *Runtime) sampleCacheStats() {
	for _, tier := range []cache.TierName{cache.L1, cache.L2, cache.L3} {
		rt.cachestat.Sample(tier)
	}
}

// SubmitInference admits a new inference task, logging the recognized
// model format for metrics purposes only.
func (rt *Runtime) SubmitInference(modelPath string, inputs interface{}, opts scheduler.Options) (string, error) {
	log.Debug("submit_inference model=%s", modelstore.Label(modelPath))
	return rt.scheduler.SubmitInference(modelPath, inputs, opts)
}

// AwaitInference blocks until taskID completes, errors, or ctx expires.
func (rt *Runtime) AwaitInference(ctx context.Context, taskID string) (scheduler.Result, error) {
	return rt.scheduler.AwaitInference(ctx, taskID)
}

// Cancel stops taskID if queued, or signals it if already running.
func (rt *Runtime) Cancel(taskID string) error {
	return rt.scheduler.Cancel(taskID)
}

type cacheResult struct {
	hit    bool
	vector []float32
	meta   map[string]string
}

// CacheGet looks up (docID, chunkID) from fastest to slowest tier,
// promoting read activity via the Promotion Manager's event
// subscription as a side effect of the Get calls themselves. Routed
// through the degradation manager so an unhealthy cache tier degrades
// to a miss rather than an error.
func (rt *Runtime) CacheGet(docID, chunkID string) (vector []float32, meta map[string]string, hit bool, err error) {
	k := cache.Key{DocID: docID, ChunkID: chunkID}

	res, execErr := rt.degradationMgr.Execute(context.Background(), "embedding-cache", func(ctx context.Context) (interface{}, error) {
		for _, t := range []cache.Tier{rt.l1, rt.l2, rt.l3} {
			if e, ok := t.Get(k); ok {
				return cacheResult{hit: true, vector: e.Vector, meta: e.Meta}, nil
			}
		}
		return cacheResult{hit: false}, nil
	})
	if execErr != nil {
		return nil, nil, false, execErr
	}

	cr := res.(cacheResult)
	return cr.vector, cr.meta, cr.hit, nil
}

// CachePut inserts (docID, chunkID) into the L3 tier, the entry point
// for the hierarchy; the Promotion Manager moves it up as it earns
// access.
func (rt *Runtime) CachePut(docID, chunkID string, vector []float32, meta map[string]string) error {
	k := cache.Key{DocID: docID, ChunkID: chunkID}
	return rt.l3.Set(k, vector, meta)
}

// ShareResource registers data under id for cross-plugin access under
// policy.
func (rt *Runtime) ShareResource(id string, data []byte, policy sharing.Policy, pluginID string) error {
	return rt.sharing.Share(id, data, policy, pluginID)
}

// AccessResource returns a view of a shared resource for pluginID.
func (rt *Runtime) AccessResource(id, pluginID string, mode sharing.Mode) ([]byte, error) {
	return rt.sharing.Access(id, pluginID, mode)
}

// Stats aggregates a point-in-time snapshot across every subsystem.
func (rt *Runtime) Stats() Stats {
	inv := rt.probe.Current()
	var devices []*hwprobe.Device
	if inv != nil {
		devices = inv.Devices
	}

	tiers := map[cache.TierName]cachestats.Snapshot{
		cache.L1: rt.cachestat.Snapshot(cache.L1),
		cache.L2: rt.cachestat.Snapshot(cache.L2),
		cache.L3: rt.cachestat.Snapshot(cache.L3),
	}

	degStatus := map[string]degradation.Status{}
	for _, name := range []string{"embedding-cache"} {
		if st, ok := rt.degradationMgr.Status(name); ok {
			degStatus[name] = st
		}
	}

	return Stats{
		Devices:     devices,
		CacheTiers:  tiers,
		Pool:        rt.pool.Stats(),
		Degradation: degStatus,
	}
}

// Dispatch translates a version-specific raw request into the
// canonical representation via the API adapter registry, logging any
// deprecation warnings the translation surfaced.
func (rt *Runtime) Dispatch(version apiadapter.Version, operation string, raw map[string]interface{}) (*apiadapter.Request, error) {
	adapter, err := rt.apiRegistry.For(version)
	if err != nil {
		return nil, err
	}
	req := adapter.ToCanonical(operation, raw)
	for _, w := range req.Warnings {
		log.Warn("deprecated field %q on %s (version %s): use %q, removed in %s",
			w.Field, w.Operation, version, w.Replacement, w.RemovalVersion)
	}
	return req, nil
}

// SubmitChunkTask enqueues a document-chunking job on the worker pool,
// independent of the inference scheduler.
func (rt *Runtime) SubmitChunkTask(id string, text string, opts workerpool.ChunkOptions) error {
	return rt.workers.Submit(workerpool.Task{
		ID: id,
		Fn: func(ctx context.Context) (interface{}, error) {
			return workerpool.ChunkText(text, opts), nil
		},
	})
}

// ChunkResults returns the worker pool's result channel.
func (rt *Runtime) ChunkResults() <-chan workerpool.Result {
	return rt.workers.Results()
}
