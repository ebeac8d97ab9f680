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

// Package apiadapter translates caller-facing request and response
// shapes for each declared API version into the runtime's canonical
// internal representation, and back. Registration of an adapter for
// an unsupported version fails loudly rather than silently accepting
// traffic nothing can serve.
package apiadapter

import (
	"fmt"
	"sync"

	logger "github.com/glasscore/infercore/pkg/log"
)

var log = logger.NewLogger("apiadapter")

// Version identifies one declared API shape.
type Version string

const (
	V1_0 Version = "1.0"
	V1_1 Version = "1.1"
	V2_0 Version = "2.0"
)

var supportedVersions = map[Version]bool{V1_0: true, V1_1: true, V2_0: true}

// Deprecation describes a deprecated operation or field.
type Deprecation struct {
	Operation       string
	Field           string
	Replacement     string
	DeprecatedSince Version
	RemovalVersion  Version
}

// Request is the canonical internal representation of an inbound call.
type Request struct {
	Operation string
	Payload   map[string]interface{}
	Warnings  []Deprecation
}

// Response is the canonical internal representation of an outbound
// result, translated back into a version's shape before it reaches
// the caller.
type Response struct {
	Payload map[string]interface{}
}

// fieldAlias renames a deprecated request field to its canonical
// counterpart, recording a Deprecation when used.
type fieldAlias struct {
	deprecatedKey string
	canonicalKey  string
	dep           Deprecation
}

// Adapter translates one API version's wire shape to and from the
// canonical Request/Response representation.
type Adapter struct {
	version Version
	aliases map[string][]fieldAlias // operation -> aliases
}

// Version reports the version this adapter serves.
func (a *Adapter) Version() Version { return a.version }

// ToCanonical renames any deprecated fields present in raw for
// operation into their canonical keys, returning the resulting
// Request along with any deprecation warnings triggered.
func (a *Adapter) ToCanonical(operation string, raw map[string]interface{}) *Request {
	payload := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		payload[k] = v
	}

	var warnings []Deprecation
	for _, al := range a.aliases[operation] {
		if v, present := payload[al.deprecatedKey]; present {
			if _, canonicalAlreadySet := payload[al.canonicalKey]; !canonicalAlreadySet {
				payload[al.canonicalKey] = v
			}
			delete(payload, al.deprecatedKey)
			warnings = append(warnings, al.dep)
		}
	}

	return &Request{Operation: operation, Payload: payload, Warnings: warnings}
}

// FromCanonical renders resp back into this version's wire shape.
// Canonical shapes pass through unchanged; this exists as the
// symmetric counterpart to ToCanonical for adapters that do
// eventually need response-side translation.
func (a *Adapter) FromCanonical(resp *Response) map[string]interface{} {
	out := make(map[string]interface{}, len(resp.Payload))
	for k, v := range resp.Payload {
		out[k] = v
	}
	return out
}

// Registry holds the adapters available for translating caller
// requests, keyed by declared version.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Version]*Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Version]*Adapter)}
}

// Register adds adapter, failing if its version is not one of the
// declared supported versions or already registered.
func (r *Registry) Register(adapter *Adapter) error {
	if !supportedVersions[adapter.version] {
		return fmt.Errorf("apiadapter: unknown API version %q", adapter.version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapter.version]; exists {
		return fmt.Errorf("apiadapter: version %q already registered", adapter.version)
	}
	r.adapters[adapter.version] = adapter
	log.Info("registered API adapter for version %s", adapter.version)
	return nil
}

// For returns the adapter registered for version, failing if the
// version is unknown or was never registered.
func (r *Registry) For(version Version) (*Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[version]
	if !ok {
		return nil, fmt.Errorf("apiadapter: no adapter registered for version %q", version)
	}
	return a, nil
}

// NewDefaultRegistry builds a Registry preloaded with the three
// declared versions and the field migrations each has accumulated.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []*Adapter{newV1_0(), newV1_1(), newV2_0()} {
		if err := r.Register(a); err != nil {
			log.Error("%v", err)
		}
	}
	return r
}

// newV1_0 is the original shape: singular "model"/"input" fields that
// v1.1 renamed to their plural, clearer counterparts.
func newV1_0() *Adapter {
	return &Adapter{
		version: V1_0,
		aliases: map[string][]fieldAlias{
			"submit_inference": {
				{
					deprecatedKey: "model",
					canonicalKey:  "model_path",
					dep: Deprecation{
						Operation: "submit_inference", Field: "model",
						Replacement: "model_path", DeprecatedSince: V1_0, RemovalVersion: V2_0,
					},
				},
				{
					deprecatedKey: "input",
					canonicalKey:  "inputs",
					dep: Deprecation{
						Operation: "submit_inference", Field: "input",
						Replacement: "inputs", DeprecatedSince: V1_0, RemovalVersion: V2_0,
					},
				},
			},
			"share_resource": {
				{
					deprecatedKey: "owner",
					canonicalKey:  "plugin_id",
					dep: Deprecation{
						Operation: "share_resource", Field: "owner",
						Replacement: "plugin_id", DeprecatedSince: V1_0, RemovalVersion: V2_0,
					},
				},
			},
		},
	}
}

// newV1_1 keeps "inputs" but still accepts the legacy "timeout"
// field name that v1.1 renamed to "timeout_ms" for unit clarity.
func newV1_1() *Adapter {
	return &Adapter{
		version: V1_1,
		aliases: map[string][]fieldAlias{
			"submit_inference": {
				{
					deprecatedKey: "timeout",
					canonicalKey:  "timeout_ms",
					dep: Deprecation{
						Operation: "submit_inference", Field: "timeout",
						Replacement: "timeout_ms", DeprecatedSince: V1_1, RemovalVersion: V2_0,
					},
				},
			},
		},
	}
}

// newV2_0 is the canonical shape itself: no field renames needed.
func newV2_0() *Adapter {
	return &Adapter{version: V2_0, aliases: map[string][]fieldAlias{}}
}
