package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChangeEvent(t *testing.T) {
	t.Run("update carries a validated record", func(t *testing.T) {
		row := rowFixture()
		row["status"] = "delivered"
		payload := mustJSON(t, map[string]any{
			"type":             "UPDATE",
			"table":            "orders",
			"record":           row,
			"commit_timestamp": "2025-06-13T12:10:00Z",
		})

		event, err := DecodeChangeEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, ChangeUpdate, event.Type)
		require.NotNil(t, event.Record)
		assert.Equal(t, OrderStatusDelivered, event.Record.Status)
		assert.Equal(t, row["id"], event.OrderID())
		assert.False(t, event.CommitTimestamp.IsZero())
	})

	t.Run("delete needs only the old id", func(t *testing.T) {
		payload := []byte(`{"type":"DELETE","table":"orders","old_record":{"id":"abc"}}`)

		event, err := DecodeChangeEvent(payload)
		require.NoError(t, err)
		assert.Nil(t, event.Record)
		assert.Equal(t, "abc", event.OrderID())
	})

	t.Run("bad embedded row", func(t *testing.T) {
		row := rowFixture()
		row["status"] = "teleported"
		payload := mustJSON(t, map[string]any{"type": "INSERT", "table": "orders", "record": row})

		_, err := DecodeChangeEvent(payload)
		var integrityErr *DataIntegrityError
		require.ErrorAs(t, err, &integrityErr)
		assert.Equal(t, "record.status", integrityErr.Field)
	})

	t.Run("rejects", func(t *testing.T) {
		cases := map[string]string{
			"other table":      `{"type":"INSERT","table":"customers","record":{}}`,
			"unknown type":     `{"type":"TRUNCATE","table":"orders"}`,
			"insert no record": `{"type":"INSERT","table":"orders","record":null}`,
			"delete no id":     `{"type":"DELETE","table":"orders","old_record":{}}`,
			"not json":         `type=INSERT`,
		}
		for name, payload := range cases {
			_, err := DecodeChangeEvent([]byte(payload))
			assert.ErrorIs(t, err, ErrDataIntegrity, name)
		}
	})
}
