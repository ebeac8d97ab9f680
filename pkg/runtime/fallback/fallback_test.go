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

package fallback

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/glasscore/infercore/pkg/runtime/devicetracker"
	"github.com/glasscore/infercore/pkg/runtime/hwprobe"
	"github.com/glasscore/infercore/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInventory() *hwprobe.Inventory {
	return &hwprobe.Inventory{
		Devices: []*hwprobe.Device{
			{ID: "npu-0", Kind: hwprobe.NPU, Status: hwprobe.Available, PerformanceScore: 300},
			{ID: "gpu-0", Kind: hwprobe.GPU, Status: hwprobe.Available, PerformanceScore: 800},
			{ID: "cpu-0", Kind: hwprobe.CPU, Status: hwprobe.Available, PerformanceScore: 200},
		},
	}
}

func TestSelectPrefersFallbackOrder(t *testing.T) {
	inv := testInventory()
	trackers := devicetracker.NewRegistry()
	c := New(func() *hwprobe.Inventory { return inv }, trackers, DefaultConfig())

	d, err := c.Select("embed")
	require.NoError(t, err)
	assert.Equal(t, "npu-0", d.ID, "NPU should be selected first in default order")
}

func TestFallbackChainMovesOnAfterFailures(t *testing.T) {
	inv := testInventory()
	trackers := devicetracker.NewRegistry()
	cfg := DefaultConfig()
	cfg.CooldownDuration = 30 * time.Second
	c := New(func() *hwprobe.Inventory { return inv }, trackers, cfg)

	calls := map[string]int{}
	err := c.ExecuteWithFallback("embed", func(d *hwprobe.Device) (time.Duration, error) {
		calls[d.ID]++
		if d.ID == "npu-0" {
			return 10 * time.Millisecond, assertErr
		}
		return 10 * time.Millisecond, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls["npu-0"])
	assert.Equal(t, 1, calls["gpu-0"])

	// NPU should now be in cooldown; a fresh selection should avoid it.
	d, err := c.Select("embed")
	require.NoError(t, err)
	assert.NotEqual(t, "npu-0", d.ID)
}

func TestExecuteWithFallbackReturnsMultierrorWhenAllDevicesFail(t *testing.T) {
	inv := testInventory()
	trackers := devicetracker.NewRegistry()
	c := New(func() *hwprobe.Inventory { return inv }, trackers, DefaultConfig())

	err := c.ExecuteWithFallback("embed", func(d *hwprobe.Device) (time.Duration, error) {
		return time.Millisecond, assertErr
	})
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr), "the cause chain should hold the per-attempt multierror")
	testutils.VerifyError(t, merr, len(inv.Devices), []string{assertErr.Error()})
}

var assertErr = &testError{"simulated device failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
