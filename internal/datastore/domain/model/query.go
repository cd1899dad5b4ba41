package model

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
)

// LeafType is the declared type of a query leaf value.
type LeafType string

const (
	LeafUntyped  LeafType = ""
	LeafString   LeafType = "String"
	LeafNumber   LeafType = "Number"
	LeafBoolean  LeafType = "Boolean"
	LeafDate     LeafType = "Date"
	LeafObjectID LeafType = "ObjectId"
	LeafAny      LeafType = "Any"
)

var leafTypes = map[string]LeafType{
	"":         LeafUntyped,
	"string":   LeafString,
	"number":   LeafNumber,
	"boolean":  LeafBoolean,
	"date":     LeafDate,
	"objectid": LeafObjectID,
	"any":      LeafAny,
}

// ParseLeafType matches case-insensitively.
func ParseLeafType(s string) (LeafType, error) {
	if t, ok := leafTypes[strings.ToLower(s)]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown leaf type %q", s)
}

// QueryLeaf is the value compared against one field.
type QueryLeaf struct {
	Value interface{} `json:"value"`
	Type  LeafType    `json:"type,omitempty"`
}

// UnmarshalJSON accepts {"value": v, "type": t} or a bare value, which is passed through untyped.
func (l *QueryLeaf) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	obj, ok := raw.(map[string]interface{})
	if !ok || !isTypedLeaf(obj) {
		*l = QueryLeaf{Value: raw}
		return nil
	}

	typ := ""
	if t, present := obj["type"]; present {
		s, isString := t.(string)
		if !isString {
			return fmt.Errorf("leaf type must be a string, got %T", t)
		}
		typ = s
	}
	lt, err := ParseLeafType(typ)
	if err != nil {
		return err
	}
	*l = QueryLeaf{Value: obj["value"], Type: lt}
	return nil
}

func isTypedLeaf(obj map[string]interface{}) bool {
	if _, ok := obj["value"]; !ok {
		return false
	}
	for k := range obj {
		if k != "value" && k != "type" {
			return false
		}
	}
	return true
}

// ListQuery is the predicate and paging part of a list action. Clauses conjoin.
type ListQuery struct {
	Type  string
	Eq    map[string]QueryLeaf
	Ne    map[string]QueryLeaf
	Gt    map[string]QueryLeaf
	Ge    map[string]QueryLeaf
	Lt    map[string]QueryLeaf
	Le    map[string]QueryLeaf
	Like  map[string]QueryLeaf
	Sort  SortSpec
	Limit *int64
	Skip  *int64
}

// SortField is one key of a sort specification.
type SortField struct {
	Field     string
	Direction int
}

// SortSpec is an ordered sort specification.
type SortSpec []SortField

// UnmarshalJSON accepts an ordered object {"f": -1}, a pair list [["f","desc"]] or a field name.
func (s *SortSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = nil
		return nil
	}

	pairs, err := orderedPairs(trimmed)
	if err != nil {
		return fmt.Errorf("sort: %w", err)
	}

	spec := make(SortSpec, 0, len(pairs))
	for _, p := range pairs {
		dir, err := ParseSortDirection(p.Value)
		if err != nil {
			return fmt.Errorf("sort %q: %w", p.Key, err)
		}
		spec = append(spec, SortField{Field: p.Key, Direction: dir})
	}
	*s = spec
	return nil
}

// MarshalJSON renders the pair list form.
func (s SortSpec) MarshalJSON() ([]byte, error) {
	pairs := make([][]interface{}, len(s))
	for i, f := range s {
		pairs[i] = []interface{}{f.Field, f.Direction}
	}
	return json.Marshal(pairs)
}

// BSON returns the driver sort document.
func (s SortSpec) BSON() bson.D {
	d := make(bson.D, 0, len(s))
	for _, f := range s {
		d = append(d, bson.E{Key: f.Field, Value: f.Direction})
	}
	return d
}

// ParseSortDirection accepts 1, -1, "asc", "desc", "ascending", "descending".
func ParseSortDirection(v interface{}) (int, error) {
	switch d := v.(type) {
	case int32:
		return signOf(float64(d))
	case int64:
		return signOf(float64(d))
	case int:
		return signOf(float64(d))
	case float64:
		return signOf(d)
	case string:
		switch strings.ToLower(d) {
		case "asc", "ascending", "1":
			return 1, nil
		case "desc", "descending", "-1":
			return -1, nil
		}
	}
	return 0, fmt.Errorf("invalid sort direction %v", v)
}

func signOf(f float64) (int, error) {
	switch f {
	case 1:
		return 1, nil
	case -1:
		return -1, nil
	}
	return 0, fmt.Errorf("invalid sort direction %v", f)
}

// IndexField is one key of an index specification. Kind is 1, -1 or a special index name.
type IndexField struct {
	Field string
	Kind  interface{}
}

var specialIndexKinds = map[string]bool{
	"2d":       true,
	"2dsphere": true,
	"text":     true,
	"hashed":   true,
}

// IndexSpec is an ordered index specification.
type IndexSpec []IndexField

// UnmarshalJSON accepts a field name, an ordered object or a pair list.
func (s *IndexSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = nil
		return nil
	}

	pairs, err := orderedPairs(trimmed)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	spec := make(IndexSpec, 0, len(pairs))
	for _, p := range pairs {
		kind, err := ParseIndexKind(p.Value)
		if err != nil {
			return fmt.Errorf("index %q: %w", p.Key, err)
		}
		spec = append(spec, IndexField{Field: p.Key, Kind: kind})
	}
	*s = spec
	return nil
}

// MarshalJSON renders the pair list form.
func (s IndexSpec) MarshalJSON() ([]byte, error) {
	pairs := make([][]interface{}, len(s))
	for i, f := range s {
		pairs[i] = []interface{}{f.Field, f.Kind}
	}
	return json.Marshal(pairs)
}

// ParseIndexKind maps caller values onto driver index key values.
func ParseIndexKind(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		lower := strings.ToLower(s)
		if specialIndexKinds[lower] {
			return lower, nil
		}
	}
	dir, err := ParseSortDirection(v)
	if err != nil {
		return nil, fmt.Errorf("invalid index type %v", v)
	}
	return int32(dir), nil
}

// Keys returns the driver index keys document.
func (s IndexSpec) Keys() bson.D {
	d := make(bson.D, 0, len(s))
	for _, f := range s {
		d = append(d, bson.E{Key: f.Field, Value: f.Kind})
	}
	return d
}

// Name follows the server naming convention: field_kind joined by underscores.
func (s IndexSpec) Name() string {
	parts := make([]string, 0, len(s)*2)
	for _, f := range s {
		parts = append(parts, f.Field, fmt.Sprint(f.Kind))
	}
	return strings.Join(parts, "_")
}

// orderedPairs decodes an object, pair list or bare string into ordered key/value pairs.
// A bare string means ascending on that field.
func orderedPairs(data []byte) ([]bson.E, error) {
	switch data[0] {
	case '{':
		var d bson.D
		if err := bson.UnmarshalExtJSON(data, false, &d); err != nil {
			return nil, err
		}
		return d, nil
	case '[':
		var list []interface{}
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		out := make([]bson.E, 0, len(list))
		for _, item := range list {
			switch entry := item.(type) {
			case string:
				out = append(out, bson.E{Key: entry, Value: 1.0})
			case []interface{}:
				if len(entry) != 2 {
					return nil, fmt.Errorf("pair must have two elements, got %d", len(entry))
				}
				key, ok := entry[0].(string)
				if !ok || key == "" {
					return nil, fmt.Errorf("pair key must be a non-empty string")
				}
				out = append(out, bson.E{Key: key, Value: entry[1]})
			default:
				return nil, fmt.Errorf("unsupported entry %v", item)
			}
		}
		return out, nil
	case '"':
		var field string
		if err := json.Unmarshal(data, &field); err != nil {
			return nil, err
		}
		if field == "" {
			return nil, fmt.Errorf("field name must not be empty")
		}
		return []bson.E{{Key: field, Value: 1.0}}, nil
	}
	return nil, fmt.Errorf("unsupported specification %s", string(data))
}
