package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"docgateway/internal/datastore/config"
	"docgateway/internal/shared/eventbus"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeDialer fails the first `failures` dials (all of them when negative).
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	authFail bool
	calls    int
	client   *fakeClient
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{failures: failures, client: newFakeClient()}
}

func (d *fakeDialer) Dial(ctx context.Context, cfg *config.ConnectionConfig) (ClientInterface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.authFail {
		return nil, fmt.Errorf("%w: bad credentials", ErrAuthentication)
	}
	if d.failures < 0 || d.calls <= d.failures {
		return nil, errors.New("connection refused")
	}
	return d.client, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) succeed() {
	d.mu.Lock()
	d.failures = 0
	d.mu.Unlock()
}

type fakeClient struct {
	mu           sync.Mutex
	databases    map[string]*fakeDatabase
	disconnects  int
	statusReply  bson.M
	commandError error
}

func newFakeClient() *fakeClient {
	return &fakeClient{databases: make(map[string]*fakeDatabase)}
}

func (c *fakeClient) Database(name string) DatabaseInterface {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.databases[name]
	if !ok {
		db = newFakeDatabase(name)
		c.databases[name] = db
	}
	return db
}

func (c *fakeClient) Ping(context.Context) error { return nil }

func (c *fakeClient) Disconnect(context.Context) error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) RunCommand(_ context.Context, _ string, _ interface{}) SingleResultInterface {
	return &fakeSingleResult{doc: c.statusReply, err: c.commandError}
}

type fakeDatabase struct {
	name        string
	mu          sync.Mutex
	collections map[string]*fakeCollection
	dropped     bool
}

func newFakeDatabase(name string) *fakeDatabase {
	return &fakeDatabase{name: name, collections: make(map[string]*fakeCollection)}
}

func (d *fakeDatabase) Name() string { return d.name }

func (d *fakeDatabase) Collection(name string) CollectionInterface {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = &fakeCollection{db: d, name: name}
		d.collections[name] = c
	}
	return c
}

func (d *fakeDatabase) ListCollectionNames(_ context.Context, filter interface{}) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	want := ""
	if f, ok := filter.(bson.M); ok {
		if n, ok := f["name"].(string); ok {
			want = n
		}
	}
	names := make([]string, 0, len(d.collections))
	for name, c := range d.collections {
		if c.dropped || (want != "" && name != want) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (d *fakeDatabase) RunCommand(_ context.Context, cmd interface{}) SingleResultInterface {
	cmdDoc, _ := cmd.(bson.D)
	if len(cmdDoc) > 0 && cmdDoc[0].Key == "collStats" {
		name, _ := cmdDoc[0].Value.(string)
		d.mu.Lock()
		c := d.collections[name]
		d.mu.Unlock()
		count := 0
		if c != nil {
			count = len(c.all())
		}
		return &fakeSingleResult{doc: bson.M{"ns": d.name + "." + name, "count": count}}
	}
	return &fakeSingleResult{err: errors.New("unsupported command")}
}

func (d *fakeDatabase) Drop(context.Context) error {
	d.mu.Lock()
	d.dropped = true
	d.collections = make(map[string]*fakeCollection)
	d.mu.Unlock()
	return nil
}

// fakeCollection matches filters by top-level equality only.
type fakeCollection struct {
	db         *fakeDatabase
	name       string
	mu         sync.Mutex
	docs       []bson.M
	dropped    bool
	lastUpdate interface{}
	indexes    []mongo.IndexModel
}

func (c *fakeCollection) all() []bson.M {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bson.M(nil), c.docs...)
}

func matches(doc bson.M, filter interface{}) bool {
	f, _ := filter.(bson.M)
	for k, v := range f {
		if doc[k] != v {
			return false
		}
	}
	return true
}

func (c *fakeCollection) InsertMany(_ context.Context, docs []interface{}) ([]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = false
	ids := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		doc := d.(bson.M)
		if _, ok := doc["_id"]; !ok {
			doc["_id"] = primitive.NewObjectID()
		}
		c.docs = append(c.docs, doc)
		ids = append(ids, doc["_id"])
	}
	return ids, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter interface{}) SingleResultInterface {
	for _, d := range c.all() {
		if matches(d, filter) {
			return &fakeSingleResult{doc: d}
		}
	}
	return &fakeSingleResult{}
}

func (c *fakeCollection) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) (CursorInterface, error) {
	var out []bson.M
	for _, d := range c.all() {
		if matches(d, filter) {
			out = append(out, d)
		}
	}
	return &fakeCursor{docs: out}, nil
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdate = update
	set, _ := update.(bson.M)["$set"].(bson.M)
	for _, d := range c.docs {
		if matches(d, filter) {
			for k, v := range set {
				d[k] = v
			}
			return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	return &mongo.UpdateResult{}, nil
}

func (c *fakeCollection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdate = replacement
	repl := replacement.(bson.M)
	for i, d := range c.docs {
		if matches(d, filter) {
			repl["_id"] = d["_id"]
			c.docs[i] = repl
			return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil {
			upsert = *o.Upsert
		}
	}
	if upsert {
		if id, ok := filter.(bson.M)["_id"]; ok {
			repl["_id"] = id
		}
		c.docs = append(c.docs, repl)
		return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: repl["_id"]}, nil
	}
	return &mongo.UpdateResult{}, nil
}

func (c *fakeCollection) FindOneAndDelete(_ context.Context, filter interface{}) SingleResultInterface {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.docs {
		if matches(d, filter) {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return &fakeSingleResult{doc: d}
		}
	}
	return &fakeSingleResult{}
}

func (c *fakeCollection) DeleteMany(_ context.Context, filter interface{}) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.docs[:0]
	var n int64
	for _, d := range c.docs {
		if matches(d, filter) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return n, nil
}

func (c *fakeCollection) CountDocuments(_ context.Context, filter interface{}) (int64, error) {
	var n int64
	for _, d := range c.all() {
		if matches(d, filter) {
			n++
		}
	}
	return n, nil
}

func (c *fakeCollection) Distinct(_ context.Context, field string, filter interface{}) ([]interface{}, error) {
	seen := make(map[interface{}]bool)
	var out []interface{}
	for _, d := range c.all() {
		if v, ok := d[field]; ok && matches(d, filter) && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *fakeCollection) Aggregate(_ context.Context, pipeline interface{}) (CursorInterface, error) {
	stages := pipeline.(mongo.Pipeline)
	group := stages[1][0].Value.(bson.D)
	field := group[0].Value.(string)[1:]

	counts := make(map[interface{}]int32)
	var order []interface{}
	for _, d := range c.all() {
		k := d[field]
		if _, ok := counts[k]; !ok {
			order = append(order, k)
		}
		counts[k]++
	}
	out := make([]bson.M, 0, len(order))
	for _, k := range order {
		out = append(out, bson.M{"_id": k, "count": counts[k]})
	}
	return &fakeCursor{docs: out}, nil
}

func (c *fakeCollection) CreateIndex(_ context.Context, model mongo.IndexModel) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes = append(c.indexes, model)
	if model.Options != nil && model.Options.Name != nil {
		return *model.Options.Name, nil
	}
	return "generated_index", nil
}

func (c *fakeCollection) Drop(context.Context) error {
	c.mu.Lock()
	c.docs = nil
	c.dropped = true
	c.mu.Unlock()
	return nil
}

type fakeSingleResult struct {
	doc bson.M
	err error
}

func (r *fakeSingleResult) Decode(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	if r.doc == nil {
		return mongo.ErrNoDocuments
	}
	data, err := bson.Marshal(r.doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, v)
}

type fakeCursor struct {
	docs []bson.M
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(v interface{}) error {
	data, err := bson.Marshal(c.docs[c.pos-1])
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, v)
}

func (c *fakeCursor) Close(context.Context) error { return nil }
func (c *fakeCursor) Err() error                  { return nil }

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e eventbus.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) PublishAndForget(ctx context.Context, e eventbus.Event) {
	_ = p.Publish(ctx, e)
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type() == eventType {
			n++
		}
	}
	return n
}
