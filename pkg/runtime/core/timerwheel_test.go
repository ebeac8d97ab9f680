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

package core

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerWheelFiresRegisteredEntry(t *testing.T) {
	w := newTimerWheel(5 * time.Millisecond)
	var fired int32
	w.register("test-job", 5*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	w.start()
	defer w.stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestTimerWheelEntriesFireIndependently(t *testing.T) {
	w := newTimerWheel(2 * time.Millisecond)
	var fast, slow int32
	w.register("fast", 2*time.Millisecond, func() { atomic.AddInt32(&fast, 1) })
	w.register("slow", 200*time.Millisecond, func() { atomic.AddInt32(&slow, 1) })

	w.start()
	defer w.stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fast) >= 5
	}, time.Second, 2*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&slow), int32(1))
}

func TestTimerWheelStopHaltsFiring(t *testing.T) {
	w := newTimerWheel(2 * time.Millisecond)
	var fired int32
	w.register("job", 2*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	w.start()
	time.Sleep(20 * time.Millisecond)
	w.stop()

	countAtStop := atomic.LoadInt32(&fired)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, countAtStop, atomic.LoadInt32(&fired))
}

func TestTimerWheelIgnoresNonPositiveInterval(t *testing.T) {
	w := newTimerWheel(time.Millisecond)
	w.register("bad", 0, func() { t.Fatal("should never fire") })
	assert.Empty(t, w.entries)
}
