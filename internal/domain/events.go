package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const OrdersTable = "orders"

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one row-level change on the orders table. Record holds the
// new row for INSERT and UPDATE; OldRecord identifies the row for DELETE.
type ChangeEvent struct {
	Type            ChangeType `json:"type"`
	Table           string     `json:"table"`
	Record          *Order     `json:"record,omitempty"`
	OldRecord       *OrderRef  `json:"old_record,omitempty"`
	CommitTimestamp time.Time  `json:"commit_timestamp"`
}

func (e ChangeEvent) OrderID() string {
	if e.Record != nil {
		return e.Record.ID
	}
	if e.OldRecord != nil {
		return e.OldRecord.ID
	}
	return ""
}

type changeEnvelope struct {
	Type            ChangeType      `json:"type"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	OldRecord       *OrderRef       `json:"old_record"`
	CommitTimestamp string          `json:"commit_timestamp"`
}

// DecodeChangeEvent validates a change feed payload, including the embedded
// row, and returns a *DataIntegrityError when it does not conform.
func DecodeChangeEvent(data []byte) (ChangeEvent, error) {
	var env changeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ChangeEvent{}, &DataIntegrityError{Row: -1, Err: fmt.Errorf("decode change event: %w", err)}
	}

	fail := func(field string, err error) (ChangeEvent, error) {
		return ChangeEvent{}, &DataIntegrityError{Row: -1, Field: field, Err: err}
	}

	if env.Table != OrdersTable {
		return fail("table", fmt.Errorf("unexpected table %q", env.Table))
	}

	event := ChangeEvent{Type: env.Type, Table: env.Table}

	if env.CommitTimestamp != "" {
		ts, err := ParseTimestamp(env.CommitTimestamp)
		if err != nil {
			return fail("commit_timestamp", err)
		}
		event.CommitTimestamp = ts
	}

	switch env.Type {
	case ChangeInsert, ChangeUpdate:
		if len(env.Record) == 0 || string(env.Record) == "null" {
			return fail("record", errMissing)
		}
		order, err := DecodeOrder(env.Record)
		if err != nil {
			var integrityErr *DataIntegrityError
			if errors.As(err, &integrityErr) && integrityErr.Field != "" {
				integrityErr.Field = "record." + integrityErr.Field
			}
			return ChangeEvent{}, err
		}
		event.Record = order
		event.OldRecord = env.OldRecord
	case ChangeDelete:
		if env.OldRecord == nil || env.OldRecord.ID == "" {
			return fail("old_record.id", errMissing)
		}
		event.OldRecord = env.OldRecord
	default:
		return fail("type", fmt.Errorf("unknown change type %q", env.Type))
	}

	return event, nil
}
