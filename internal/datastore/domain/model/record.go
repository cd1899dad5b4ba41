package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the primary key field of every stored document.
const IDField = "_id"

// Record is the gateway's view of a stored document.
type Record struct {
	Type   string                 `json:"type"`
	Guid   string                 `json:"guid"`
	Fields map[string]interface{} `json:"fields"`
}

// Guid is the discriminated result of coercing a caller identifier.
// Native guids are stored as ObjectIDs; everything else is stored verbatim.
type Guid struct {
	Native   bool
	ObjectID primitive.ObjectID
	Raw      string
}

// ParseGuid treats a canonical 24-hex string as an ObjectID and anything else as a literal.
func ParseGuid(s string) Guid {
	if len(s) == 24 {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil && oid.Hex() == s {
			return Guid{Native: true, ObjectID: oid, Raw: s}
		}
	}
	return Guid{Raw: s}
}

// Value is what goes into the _id field.
func (g Guid) Value() interface{} {
	if g.Native {
		return g.ObjectID
	}
	return g.Raw
}

func (g Guid) String() string {
	return g.Raw
}

// IDFilter selects the document with this guid.
func (g Guid) IDFilter() bson.M {
	return bson.M{IDField: g.Value()}
}

// GuidString renders a stored _id value as the guid returned to callers.
func GuidString(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// RecordFromDocument converts a stored document into a Record.
func RecordFromDocument(typ string, doc bson.M) Record {
	fields := make(map[string]interface{}, len(doc))
	var guid string
	for k, v := range doc {
		if k == IDField {
			guid = GuidString(v)
			continue
		}
		fields[k] = NormalizeValue(v)
	}
	return Record{Type: typ, Guid: guid, Fields: fields}
}

// NormalizeValue converts driver BSON types into plain Go values.
func NormalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Decimal128:
		return val.String()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.A:
		return normalizeSlice(val)
	case []interface{}:
		return normalizeSlice(val)
	case bson.M:
		return normalizeMap(val)
	case map[string]interface{}:
		return normalizeMap(val)
	case bson.D:
		m := make(map[string]interface{}, len(val))
		for _, e := range val {
			m[e.Key] = NormalizeValue(e.Value)
		}
		return m
	default:
		return v
	}
}

func normalizeSlice(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, item := range in {
		out[i] = NormalizeValue(item)
	}
	return out
}

func normalizeMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, item := range in {
		out[k] = NormalizeValue(item)
	}
	return out
}
