// Copyright 2024 The Cockroach Authors
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

package cuckoo

import (
	"github.com/sugawarayuuta/sonnet"
)

// MarshalJSON encodes the entries of the map as a JSON object. The key type
// must be usable as a JSON object key (a string, an integer, or a type
// implementing encoding.TextMarshaler).
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	return sonnet.Marshal(m.ToMap())
}

// UnmarshalJSON puts every entry of a JSON object into the map. Existing
// entries with other keys are kept.
func (m *Map[K, V]) UnmarshalJSON(data []byte) error {
	var entries map[K]V
	if err := sonnet.Unmarshal(data, &entries); err != nil {
		return err
	}
	for k, v := range entries {
		if err := m.Put(k, v); err != nil {
			return err
		}
	}
	return nil
}
