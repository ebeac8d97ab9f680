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

// Package modelstore recognizes model artifact file extensions for
// logging and metrics labeling only. It does not download, validate,
// or convert models: the runtime reads artifacts from paths the caller
// already supplied.
package modelstore

import "strings"

// Format is a recognized model artifact format, used purely as a
// metrics/log label.
type Format string

const (
	ONNX         Format = "onnx"
	GGUF         Format = "gguf"
	SafeTensors  Format = "safetensors"
	RawBin       Format = "bin"
	Unrecognized Format = "unrecognized"
)

var extensionToFormat = map[string]Format{
	".onnx":        ONNX,
	".gguf":        GGUF,
	".safetensors": SafeTensors,
	".bin":         RawBin,
}

// RecognizeFormat returns the Format implied by modelPath's extension,
// or Unrecognized if it doesn't match one of the four supported
// extensions.
func RecognizeFormat(modelPath string) Format {
	lower := strings.ToLower(modelPath)
	for ext, format := range extensionToFormat {
		if strings.HasSuffix(lower, ext) {
			return format
		}
	}
	return Unrecognized
}

// Label builds a short, stable string suitable for metric tags and log
// fields, identifying a model by its base name and recognized format.
func Label(modelPath string) string {
	base := modelPath
	if idx := strings.LastIndexAny(modelPath, `/\`); idx >= 0 {
		base = modelPath[idx+1:]
	}
	return base + ":" + string(RecognizeFormat(modelPath))
}
