package pgstore

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// float32Slice adapts []float32 to Postgres's REAL[] array literal format
// for the embedding column, since database/sql has no native float32 array
// support without a dedicated type like pgtype.
type float32Slice []float32

// Value implements driver.Valuer.
func (s float32Slice) Value() (driver.Value, error) {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

// Scan implements sql.Scanner.
func (s *float32Slice) Scan(src any) error {
	if src == nil {
		*s = nil
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("pgstore: cannot scan %T into float32Slice", src)
	}
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "{"), "}")
	if raw == "" {
		*s = float32Slice{}
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(float32Slice, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("pgstore: parsing embedding element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	*s = out
	return nil
}
