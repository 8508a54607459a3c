package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Category identifies one inspection discipline. Each category owns exactly one record slot.
type Category string

const (
	CategoryTableware Category = "tableware"
	CategoryPesticide Category = "pesticide"
	CategoryOil       Category = "oil"
	CategoryLeanMeat  Category = "leanMeat"
	CategoryPathogen  Category = "pathogen"
)

// System-assigned record fields.
const (
	FieldID        = "id"
	FieldTimestamp = "timestamp"
	FieldTestDate  = "testDate"
	FieldCanteen   = "canteen"
	FieldInspector = "inspector"
)

// SlotSuffix is appended to the category name to form the persistent slot key.
const SlotSuffix = "_records"

// TimestampLayout matches the ISO-8601 form browsers emit for Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SlotKey returns the persistent slot key for a category.
func SlotKey(c Category) string {
	return string(c) + SlotSuffix
}

// Record is one persisted inspection entry. Content fields are opaque to the core;
// only id, timestamp and the descriptor-named fields are interpreted.
type Record map[string]any

// IDString returns the record id in its canonical text form.
func (r Record) IDString() string {
	return FormatID(r[FieldID])
}

// ID returns the numeric record id, or 0 when absent or non-numeric.
func (r Record) ID() int64 {
	n, err := strconv.ParseInt(r.IDString(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Timestamp returns the creation instant text.
func (r Record) Timestamp() string {
	return r.Text(FieldTimestamp)
}

// Text renders a scalar field as display text. Missing and null fields render empty.
func (r Record) Text(field string) string {
	return formatScalar(r[field])
}

// Number parses a numeric field, accepting numbers and numeric strings.
func (r Record) Number(field string) (float64, bool) {
	switch v := r[field].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// SubEntries returns the nested sub-entry list stored under field. Elements that are
// not mappings are skipped.
func (r Record) SubEntries(field string) []Record {
	if field == "" {
		return nil
	}
	var out []Record
	switch list := r[field].(type) {
	case []any:
		for _, item := range list {
			if entry, ok := asRecord(item); ok {
				out = append(out, entry)
			}
		}
	case []map[string]any:
		for _, item := range list {
			out = append(out, Record(item))
		}
	case []Record:
		out = append(out, list...)
	}
	return out
}

// Date returns the test date (YYYY-MM-DD) of the record, falling back to the date
// part of the creation timestamp.
func (r Record) Date() string {
	if d := normalizeDate(r.Text(FieldTestDate)); d != "" {
		return d
	}
	ts := r.Timestamp()
	if len(ts) >= 10 {
		return normalizeDate(ts[:10])
	}
	return ""
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func asRecord(v any) (Record, bool) {
	switch m := v.(type) {
	case map[string]any:
		return Record(m), true
	case Record:
		return m, true
	default:
		return nil, false
	}
}

// FormatID renders an identifier in the canonical string form used for comparisons.
// Numeric ids stored as JSON numbers and ids arriving as text compare equal.
func FormatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		id = strings.TrimSpace(id)
		if numericText(id) {
			return canonicalNumber(id)
		}
		return id
	case json.Number:
		return canonicalNumber(id.String())
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return formatScalar(v)
	}
}

func canonicalNumber(s string) string {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return s
}

// numericText reports whether s is a plain decimal number such as "12", "-3.0" or "1e3".
func numericText(s string) bool {
	if s == "" {
		return false
	}
	digits := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case r == '.' || r == '-' || r == '+' || r == 'e' || r == 'E':
		default:
			return false
		}
	}
	return digits
}

func formatScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

var dateLayouts = []string{"2006-01-02", "2006/1/2", "2006-1-2", "2006.1.2", "2006年1月2日"}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
