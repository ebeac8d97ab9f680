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

package apiadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestV1_0TranslatesLegacyFieldNames(t *testing.T) {
	r := NewDefaultRegistry()
	a, err := r.For(V1_0)
	require.NoError(t, err)

	req := a.ToCanonical("submit_inference", map[string]interface{}{
		"model": "model.onnx",
		"input": []float32{1, 2, 3},
	})

	assert.Equal(t, "model.onnx", req.Payload["model_path"])
	assert.NotContains(t, req.Payload, "model")
	assert.NotContains(t, req.Payload, "input")
	assert.Len(t, req.Warnings, 2)
}

func TestV2_0IsPassThrough(t *testing.T) {
	r := NewDefaultRegistry()
	a, err := r.For(V2_0)
	require.NoError(t, err)

	req := a.ToCanonical("submit_inference", map[string]interface{}{"model_path": "m.onnx"})
	assert.Equal(t, "m.onnx", req.Payload["model_path"])
	assert.Empty(t, req.Warnings)
}

func TestRegisterUnknownVersionFails(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Adapter{version: Version("9.9")})
	assert.Error(t, err)
}

func TestForUnregisteredVersionFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.For(V1_0)
	assert.Error(t, err)
}

func TestFromCanonicalRoundTrips(t *testing.T) {
	r := NewDefaultRegistry()
	a, err := r.For(V1_1)
	require.NoError(t, err)

	out := a.FromCanonical(&Response{Payload: map[string]interface{}{"outputs": []float32{1, 2}}})
	assert.Equal(t, []float32{1, 2}, out["outputs"])
}
