package usecase

import (
	"context"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"docgateway/internal/datastore/domain/repository"
	"docgateway/internal/shared/eventbus"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// memoryStore is an in-memory DocumentStore with a small filter evaluator
// covering the operators the translator emits.
type memoryStore struct {
	name        string
	mu          sync.Mutex
	collections map[string][]bson.M
	indexes     map[string][]string
}

func newMemoryStore(name string) *memoryStore {
	return &memoryStore{
		name:        name,
		collections: make(map[string][]bson.M),
		indexes:     make(map[string][]string),
	}
}

func (s *memoryStore) Database() string { return s.name }

func (s *memoryStore) docs(collection string) []bson.M {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bson.M(nil), s.collections[collection]...)
}

func (s *memoryStore) Insert(_ context.Context, collection string, docs ...bson.M) ([]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		stored := copyDoc(d)
		if _, ok := stored["_id"]; !ok {
			stored["_id"] = primitive.NewObjectID()
		}
		s.collections[collection] = append(s.collections[collection], stored)
		ids = append(ids, stored["_id"])
	}
	return ids, nil
}

func (s *memoryStore) FindOne(_ context.Context, collection string, filter bson.M) (bson.M, error) {
	for _, d := range s.docs(collection) {
		if matchFilter(d, filter) {
			return copyDoc(d), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) Find(_ context.Context, collection string, filter bson.M, opts *options.FindOptions) ([]bson.M, error) {
	out := make([]bson.M, 0)
	for _, d := range s.docs(collection) {
		if matchFilter(d, filter) {
			out = append(out, copyDoc(d))
		}
	}
	if opts == nil {
		return out, nil
	}
	if sortDoc, ok := opts.Sort.(bson.D); ok && len(sortDoc) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, e := range sortDoc {
				c, _ := compare(out[i][e.Key], out[j][e.Key])
				if c == 0 {
					continue
				}
				if toInt(e.Value) < 0 {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if opts.Skip != nil {
		skip := int(*opts.Skip)
		if skip >= len(out) {
			out = out[:0]
		} else {
			out = out[skip:]
		}
	}
	if opts.Limit != nil && *opts.Limit > 0 && int(*opts.Limit) < len(out) {
		out = out[:*opts.Limit]
	}
	return out, nil
}

func (s *memoryStore) Update(_ context.Context, collection string, filter bson.M, doc bson.M, opts repository.UpdateOptions) (*repository.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.collections[collection] {
		if !matchFilter(d, filter) {
			continue
		}
		if opts.Partial {
			for k, v := range doc {
				d[k] = v
			}
		} else {
			replacement := copyDoc(doc)
			replacement["_id"] = d["_id"]
			s.collections[collection][i] = replacement
		}
		return &repository.UpdateResult{Matched: 1, Modified: 1}, nil
	}
	if opts.Upsert {
		stored := copyDoc(doc)
		if id, ok := filter["_id"]; ok {
			stored["_id"] = id
		} else {
			stored["_id"] = primitive.NewObjectID()
		}
		s.collections[collection] = append(s.collections[collection], stored)
		return &repository.UpdateResult{UpsertedID: stored["_id"]}, nil
	}
	return &repository.UpdateResult{}, nil
}

func (s *memoryStore) Remove(_ context.Context, collection string, filter bson.M) (bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for i, d := range docs {
		if matchFilter(d, filter) {
			s.collections[collection] = append(docs[:i:i], docs[i+1:]...)
			return d, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) RemoveAll(_ context.Context, collection string, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []bson.M
	var n int64
	for _, d := range s.collections[collection] {
		if matchFilter(d, filter) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	if _, ok := s.collections[collection]; ok {
		s.collections[collection] = kept
	}
	return n, nil
}

func (s *memoryStore) Count(_ context.Context, collection string, filter bson.M) (int64, error) {
	var n int64
	for _, d := range s.docs(collection) {
		if matchFilter(d, filter) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Distinct(_ context.Context, collection string, field string, filter bson.M) ([]interface{}, error) {
	var out []interface{}
	for _, d := range s.docs(collection) {
		v, ok := d[field]
		if !ok || !matchFilter(d, filter) {
			continue
		}
		dup := false
		for _, seen := range out {
			if equal(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *memoryStore) Group(ctx context.Context, collection string, field string, filter bson.M) ([]repository.GroupResult, error) {
	keys, _ := s.Distinct(ctx, collection, field, filter)
	groups := make([]repository.GroupResult, 0, len(keys))
	for _, k := range keys {
		n, _ := s.Count(ctx, collection, bson.M{"$and": []bson.M{filter, {field: k}}})
		groups = append(groups, repository.GroupResult{Key: k, Count: n})
	}
	return groups, nil
}

func (s *memoryStore) CreateIndex(_ context.Context, collection string, keys bson.D, opts repository.IndexOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = nil
	}
	for _, existing := range s.indexes[collection] {
		if existing == opts.Name {
			return existing, nil
		}
	}
	s.indexes[collection] = append(s.indexes[collection], opts.Name)
	return opts.Name, nil
}

func (s *memoryStore) ListCollections(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *memoryStore) CollectionStats(_ context.Context, collection string) (bson.M, error) {
	return bson.M{"ns": s.name + "." + collection, "count": len(s.docs(collection))}, nil
}

func (s *memoryStore) DropCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	delete(s.collections, collection)
	delete(s.indexes, collection)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) DropDatabase(context.Context) error {
	s.mu.Lock()
	s.collections = make(map[string][]bson.M)
	s.mu.Unlock()
	return nil
}

func copyDoc(d bson.M) bson.M {
	out := make(bson.M, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func matchFilter(doc bson.M, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			for _, sub := range subFilters(cond) {
				if !matchFilter(doc, sub) {
					return false
				}
			}
		case "$or":
			matched := false
			for _, sub := range subFilters(cond) {
				if matchFilter(doc, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			if !matchField(doc[key], cond) {
				return false
			}
		}
	}
	return true
}

func subFilters(v interface{}) []bson.M {
	switch f := v.(type) {
	case []bson.M:
		return f
	case []interface{}:
		out := make([]bson.M, 0, len(f))
		for _, item := range f {
			if m, ok := item.(bson.M); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func matchField(value interface{}, cond interface{}) bool {
	switch c := cond.(type) {
	case primitive.Regex:
		s, ok := value.(string)
		return ok && regexp.MustCompile(c.Pattern).MatchString(s)
	case bson.M:
		isOperator := len(c) > 0
		for k := range c {
			if !strings.HasPrefix(k, "$") {
				isOperator = false
			}
		}
		if !isOperator {
			return equal(value, cond)
		}
		for op, operand := range c {
			if !matchOperator(value, op, operand) {
				return false
			}
		}
		return true
	default:
		return equal(value, cond)
	}
}

func matchOperator(value interface{}, op string, operand interface{}) bool {
	if op == "$ne" {
		return !equal(value, operand)
	}
	c, ok := compare(value, operand)
	if !ok {
		return false
	}
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toInt(v interface{}) int {
	f, _ := toFloat(v)
	return int(f)
}

func equal(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers, strings and times. ok is false for mixed or unordered types.
func compare(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return 0, false
}

// memoryProvider hands out one memoryStore per database.
type memoryProvider struct {
	mu       sync.Mutex
	stores   map[string]*memoryStore
	acquired map[string]int
	released []string
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{stores: make(map[string]*memoryStore), acquired: make(map[string]int)}
}

func (p *memoryProvider) Acquire(_ context.Context, database string) (repository.DocumentStore, error) {
	return p.store(database), nil
}

func (p *memoryProvider) store(database string) *memoryStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[database]
	if !ok {
		s = newMemoryStore(database)
		p.stores[database] = s
	}
	p.acquired[database]++
	return s
}

func (p *memoryProvider) Release(_ context.Context, database string) error {
	p.mu.Lock()
	p.released = append(p.released, database)
	p.mu.Unlock()
	return nil
}

// capturingPublisher records events synchronously.
type capturingPublisher struct {
	mu     sync.Mutex
	events []*eventbus.ChangeEvent
}

func (p *capturingPublisher) Publish(_ context.Context, e eventbus.Event) error {
	if ce, ok := e.(*eventbus.ChangeEvent); ok {
		p.mu.Lock()
		p.events = append(p.events, ce)
		p.mu.Unlock()
	}
	return nil
}

func (p *capturingPublisher) PublishAndForget(ctx context.Context, e eventbus.Event) {
	_ = p.Publish(ctx, e)
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}
