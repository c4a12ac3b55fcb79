package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// UUIDArray stores a set of ids as a Postgres array literal ({a,b}). The
// literal is plain text so the column also round-trips on sqlite.
type UUIDArray []uuid.UUID

// Contains reports whether id is in the array.
func (a UUIDArray) Contains(id uuid.UUID) bool {
	return slices.Contains(a, id)
}

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

func (a *UUIDArray) Scan(src any) error {
	var literal string
	switch v := src.(type) {
	case nil:
		*a = UUIDArray{}
		return nil
	case string:
		literal = v
	case []byte:
		literal = string(v)
	default:
		return fmt.Errorf("uuid array: cannot scan %T", src)
	}

	body := strings.TrimSpace(literal)
	body = strings.TrimSuffix(strings.TrimPrefix(body, "{"), "}")
	out := UUIDArray{}
	for field := range strings.SplitSeq(body, ",") {
		field = strings.Trim(strings.TrimSpace(field), `"`)
		if field == "" {
			continue
		}
		id, err := uuid.Parse(field)
		if err != nil {
			return fmt.Errorf("uuid array: element %q: %w", field, err)
		}
		out = append(out, id)
	}
	*a = out
	return nil
}
