// Package dbtypes holds column types gorm cannot map on its own.
package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UUIDArray maps a Postgres uuid[] column, such as the periods a payment attempt covers.
type UUIDArray []uuid.UUID

// Scan accepts the array literal as text or bytes. The literal is split by lib/pq so
// quoted and unquoted elements both work.
func (a *UUIDArray) Scan(src any) error {
	if src == nil {
		*a = UUIDArray{}
		return nil
	}
	switch src.(type) {
	case string, []byte:
	default:
		return fmt.Errorf("UUIDArray: unsupported Scan type %T", src)
	}

	var raw pq.StringArray
	if err := raw.Scan(src); err != nil {
		return fmt.Errorf("UUIDArray: %w", err)
	}
	out := make(UUIDArray, 0, len(raw))
	for _, item := range raw {
		id, err := uuid.Parse(strings.TrimSpace(item))
		if err != nil {
			return fmt.Errorf("UUIDArray: parse %q: %w", item, err)
		}
		out = append(out, id)
	}
	*a = out
	return nil
}

// Value renders {id,id}. UUIDs never need quoting.
func (a UUIDArray) Value() (driver.Value, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(id.String())
	}
	b.WriteByte('}')
	return b.String(), nil
}

// UUIDs returns a copy safe to mutate.
func (a UUIDArray) UUIDs() []uuid.UUID {
	return append([]uuid.UUID(nil), a...)
}
