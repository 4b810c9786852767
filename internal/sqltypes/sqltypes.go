// Package sqltypes has column types that sqlite has no native form for.
package sqltypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONStringSlice is stored as a JSON array in a text column. A nil or empty
// slice is written as "[]".
type JSONStringSlice []string

func (s JSONStringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}

	d, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("sqltypes.JSONStringSlice.Value: %w", err)
	}

	return string(d), nil
}

func (s *JSONStringSlice) Scan(src interface{}) error {
	var d []byte

	switch src := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		d = src
	case string:
		d = []byte(src)
	default:
		return fmt.Errorf("sqltypes.JSONStringSlice.Scan: could not scan input type of %T", src)
	}

	var v []string
	if err := json.Unmarshal(d, &v); err != nil {
		return fmt.Errorf("sqltypes.JSONStringSlice.Scan: could not decode input (%T) as JSON: %w", src, err)
	}

	*s = v

	return nil
}

// NonEmpty returns the entries that aren't empty strings, never nil.
func (s JSONStringSlice) NonEmpty() []string {
	a := []string{}
	for _, e := range s {
		if e != "" {
			a = append(a, e)
		}
	}

	return a
}

// Last returns the final entry, or an empty string.
func (s JSONStringSlice) Last() string {
	if len(s) == 0 {
		return ""
	}

	return s[len(s)-1]
}
