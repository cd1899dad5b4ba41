package service

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"docgateway/internal/datastore/domain/model"
	apperrors "docgateway/internal/shared/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Operator tags used inside field predicates. Equality is untagged.
const (
	OpEq = ""
	OpNe = "$ne"
	OpGt = "$gt"
	OpGe = "$gte"
	OpLt = "$lt"
	OpLe = "$lte"
)

// dateLayouts are tried in order for string dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

// QueryTranslator turns list queries into driver filters and find options.
type QueryTranslator struct{}

// NewQueryTranslator creates a translator. It holds no state.
func NewQueryTranslator() *QueryTranslator {
	return &QueryTranslator{}
}

// CastLeaf coerces a leaf by its declared type and tags each candidate with operator.
// Only Any leaves produce more than one candidate.
func (t *QueryTranslator) CastLeaf(leaf model.QueryLeaf, operator string) ([]interface{}, error) {
	var values []interface{}

	switch leaf.Type {
	case model.LeafDate:
		values = []interface{}{parseDate(leaf.Value)}
	case model.LeafObjectID:
		oid, err := parseObjectID(leaf.Value)
		if err != nil {
			return nil, err
		}
		values = []interface{}{oid}
	case model.LeafAny:
		values = anyCandidates(leaf.Value)
	default:
		values = []interface{}{leaf.Value}
	}

	tagged := make([]interface{}, len(values))
	for i, v := range values {
		tagged[i] = tag(v, operator)
	}
	return tagged, nil
}

func tag(v interface{}, operator string) interface{} {
	if operator == OpEq {
		return v
	}
	return bson.M{operator: v}
}

// parseDate never fails. Unparsable input yields the zero time.
func parseDate(v interface{}) time.Time {
	switch d := v.(type) {
	case time.Time:
		return d.UTC()
	case float64:
		return time.UnixMilli(int64(d)).UTC()
	case int64:
		return time.UnixMilli(d).UTC()
	case int:
		return time.UnixMilli(int64(d)).UTC()
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC()
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}

func parseObjectID(v interface{}) (primitive.ObjectID, error) {
	s, ok := v.(string)
	if !ok {
		return primitive.NilObjectID, apperrors.NewTranslationError(fmt.Sprintf("ObjectId value must be a string, got %T", v))
	}
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, apperrors.NewTranslationError(fmt.Sprintf("invalid ObjectId %q", s)).WithCause(err)
	}
	return oid, nil
}

// anyCandidates returns the literal followed by every successful cast, in the
// order number, boolean, objectId.
func anyCandidates(v interface{}) []interface{} {
	candidates := []interface{}{v}
	s, ok := v.(string)
	if !ok {
		return candidates
	}
	if n, ok := castNumber(s); ok {
		candidates = append(candidates, n)
	}
	if b, ok := castBool(s); ok {
		candidates = append(candidates, b)
	}
	if oid, err := primitive.ObjectIDFromHex(s); err == nil {
		candidates = append(candidates, oid)
	}
	return candidates
}

func castNumber(s string) (float64, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(n) {
		return 0, false
	}
	return n, true
}

func castBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// category pairs a set of leaves with the operator they translate to.
type category struct {
	leaves   map[string]model.QueryLeaf
	operator string
	like     bool
}

// BuildFilter conjoins every clause of q. Categories are emitted in the order
// eq, ne, gt, ge, lt, le, like and fields are sorted within each.
func (t *QueryTranslator) BuildFilter(q model.ListQuery) (bson.M, error) {
	categories := []category{
		{leaves: q.Eq, operator: OpEq},
		{leaves: q.Ne, operator: OpNe},
		{leaves: q.Gt, operator: OpGt},
		{leaves: q.Ge, operator: OpGe},
		{leaves: q.Lt, operator: OpLt},
		{leaves: q.Le, operator: OpLe},
		{leaves: q.Like, like: true},
	}

	var clauses []bson.M
	for _, c := range categories {
		for _, field := range sortedFields(c.leaves) {
			clause, err := t.fieldClause(field, c.leaves[field], c)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, clause)
		}
	}

	switch len(clauses) {
	case 0:
		return bson.M{}, nil
	case 1:
		return clauses[0], nil
	default:
		return bson.M{"$and": clauses}, nil
	}
}

func (t *QueryTranslator) fieldClause(field string, leaf model.QueryLeaf, c category) (bson.M, error) {
	if field == "" {
		return nil, apperrors.NewTranslationError("query field name must not be empty")
	}
	if c.like {
		return bson.M{field: likePattern(leaf.Value)}, nil
	}

	candidates, err := t.CastLeaf(leaf, c.operator)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			appErr.WithDetail("field", field)
		}
		return nil, err
	}
	if len(candidates) == 1 {
		return bson.M{field: candidates[0]}, nil
	}

	alternatives := make([]bson.M, len(candidates))
	for i, cand := range candidates {
		alternatives[i] = bson.M{field: cand}
	}
	return bson.M{"$or": alternatives}, nil
}

func likePattern(v interface{}) primitive.Regex {
	if s, ok := v.(string); ok {
		return primitive.Regex{Pattern: s}
	}
	return primitive.Regex{Pattern: fmt.Sprint(v)}
}

func sortedFields(leaves map[string]model.QueryLeaf) []string {
	fields := make([]string, 0, len(leaves))
	for f := range leaves {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// BuildFindOptions applies sort, limit and skip. Negative limit or skip is a validation error.
func (t *QueryTranslator) BuildFindOptions(q model.ListQuery) (*options.FindOptions, error) {
	opts := options.Find()
	if q.Limit != nil {
		if *q.Limit < 0 {
			return nil, apperrors.NewValidationError(fmt.Sprintf("limit must not be negative, got %d", *q.Limit))
		}
		if *q.Limit > 0 {
			opts.SetLimit(*q.Limit)
		}
	}
	if q.Skip != nil {
		if *q.Skip < 0 {
			return nil, apperrors.NewValidationError(fmt.Sprintf("skip must not be negative, got %d", *q.Skip))
		}
		if *q.Skip > 0 {
			opts.SetSkip(*q.Skip)
		}
	}
	if len(q.Sort) > 0 {
		opts.SetSort(t.NormalizeSort(q.Sort))
	}
	return opts, nil
}

// NormalizeSort returns the driver sort document, preserving order.
func (t *QueryTranslator) NormalizeSort(s model.SortSpec) bson.D {
	return s.BSON()
}
