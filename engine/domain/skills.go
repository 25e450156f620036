package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Skills is an ordered list of skill names. It is stored as a JSON array.
type Skills []string

// ParseSkills accepts a JSON array or a comma/newline separated string and
// returns the trimmed, non-empty entries in order.
func ParseSkills(raw string) Skills {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Skills{}
	}
	if strings.HasPrefix(raw, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return cleanSkills(arr)
		}
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	return cleanSkills(parts)
}

func cleanSkills(in []string) Skills {
	out := make(Skills, 0, len(in))
	for _, s := range in {
		s = strings.Trim(strings.TrimSpace(s), `"'`)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// String joins the skills for prompts and logs.
func (s Skills) String() string { return strings.Join(s, ", ") }

// Value implements driver.Valuer.
func (s Skills) Value() (driver.Value, error) {
	if s == nil {
		s = Skills{}
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *Skills) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = Skills{}
		return nil
	case string:
		*s = ParseSkills(v)
		return nil
	case []byte:
		*s = ParseSkills(string(v))
		return nil
	default:
		return fmt.Errorf("domain: scan skills: unsupported type %T", src)
	}
}

// UnmarshalJSON accepts either an array or a single delimited string.
func (s *Skills) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*s = cleanSkills(arr)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("domain: skills: %w", err)
	}
	*s = ParseSkills(str)
	return nil
}
