// SPDX-License-Identifier: GPL-3.0-or-later

package xmppdiag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	record := Record{
		{Key: "srv", Value: "xmpp-client"},
		{Key: "port", Value: uint16(5222)},
		{Key: "error", Value: ""},
	}

	t.Run("Keys", func(t *testing.T) {
		assert.Equal(t, []string{"srv", "port", "error"}, record.Keys())
	})

	t.Run("Strings", func(t *testing.T) {
		assert.Equal(t, []string{"xmpp-client", "5222", ""}, record.Strings())
	})

	t.Run("MarshalJSON preserves the key order", func(t *testing.T) {
		data, err := json.Marshal(record)
		require.NoError(t, err)
		assert.Equal(t, `{"srv":"xmpp-client","port":5222,"error":""}`, string(data))
	})

	t.Run("MarshalJSON of an empty record", func(t *testing.T) {
		data, err := json.Marshal(Record{})
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(data))
	})
}
