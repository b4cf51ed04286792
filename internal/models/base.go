// Package models defines GORM database models for acerestreamer entities.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// StringSet is a set of strings stored as a JSON array column. Membership is
// case-sensitive; insertion keeps the set sorted for stable output.
type StringSet []string

// NewStringSet builds a set from the given members, deduplicated and sorted.
func NewStringSet(members ...string) StringSet {
	var s StringSet
	for _, m := range members {
		s = s.Add(m)
	}
	return s
}

// Add returns the set with member included.
func (s StringSet) Add(member string) StringSet {
	if member == "" || s.Contains(member) {
		return s
	}
	out := append(StringSet{}, s...)
	out = append(out, member)
	sort.Strings(out)
	return out
}

// Union returns the set with every member of other included.
func (s StringSet) Union(other StringSet) StringSet {
	out := s
	for _, m := range other {
		out = out.Add(m)
	}
	return out
}

// Contains reports set membership.
func (s StringSet) Contains(member string) bool {
	for _, m := range s {
		if m == member {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer for database storage.
func (s StringSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("marshaling string set: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval.
func (s *StringSet) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for StringSet: %T", value)
	}

	if len(data) == 0 {
		*s = nil
		return nil
	}
	if err := json.Unmarshal(data, (*[]string)(s)); err != nil {
		return fmt.Errorf("scanning string set: %w", err)
	}
	return nil
}

// GormDataType returns the GORM data type for StringSet.
func (StringSet) GormDataType() string {
	return "text"
}
