package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice stores redirect URIs, scopes and other lists as a JSON array column.
type StringSlice []string

// Value implements driver.Valuer. A nil slice is stored as an empty array so that reads
// never have to distinguish NULL from "no entries".
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		s = StringSlice{}
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *StringSlice) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}

	list := []string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("failed to decode string list: %w", err)
		}
	}
	*s = list
	return nil
}
