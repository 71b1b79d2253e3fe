// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is a single key/value pair of a [Record].
type Field struct {
	Key   string
	Value any
}

// Record is an ordered key/value view of a result or a tag that
// formatters can render without knowing the underlying type.
type Record []Field

// Keys returns the keys in order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for _, f := range r {
		keys = append(keys, f.Key)
	}
	return keys
}

// Strings returns the values formatted as strings, in key order.
func (r Record) Strings() []string {
	values := make([]string, 0, len(r))
	for _, f := range r {
		values = append(values, fmt.Sprint(f.Value))
	}
	return values
}

// MarshalJSON implements [json.Marshaler] preserving the key order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for idx, f := range r {
		if idx > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
