package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"docgateway/internal/datastore/domain/model"
	"docgateway/internal/datastore/domain/repository"
	"docgateway/internal/datastore/domain/service"
	"docgateway/internal/shared/eventbus"
	apperrors "docgateway/internal/shared/errors"
	"docgateway/internal/shared/logger"
	"docgateway/internal/shared/metrics"
	"docgateway/internal/shared/utils"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one action. Which fields are set depends on Action.
type Result struct {
	Action   model.ActionType
	Record   *model.Record
	Records  []model.Record
	Count    int64
	Index    string
	Archive  []byte
	Imported []string
	Skipped  []string
}

// Body renders the result the way it is returned to callers.
func (r *Result) Body() interface{} {
	switch r.Action {
	case model.ActionCreate:
		if r.Records != nil {
			return r.Records
		}
		return r.Record
	case model.ActionRead, model.ActionUpdate:
		if r.Record == nil {
			return nil
		}
		return r.Record
	case model.ActionDelete:
		if r.Record == nil {
			return map[string]interface{}{}
		}
		return r.Record
	case model.ActionDeleteAll:
		return map[string]interface{}{"status": "ok", "count": r.Count}
	case model.ActionList:
		list := r.Records
		if list == nil {
			list = []model.Record{}
		}
		return map[string]interface{}{"count": len(list), "list": list}
	case model.ActionIndex:
		return map[string]interface{}{"status": "ok", "index": r.Index}
	case model.ActionImport:
		return map[string]interface{}{"ok": true, "imported": nonNil(r.Imported), "skipped": nonNil(r.Skipped)}
	default:
		return map[string]interface{}{"status": "ok"}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithEventPublisher sets where change events go.
func WithEventPublisher(p eventbus.Publisher) GatewayOption {
	return func(g *Gateway) {
		if p != nil {
			g.publisher = p
		}
	}
}

// WithExportConcurrency bounds concurrent collection reads during export.
func WithExportConcurrency(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.exportConcurrency = n
		}
	}
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(log logger.Logger) GatewayOption {
	return func(g *Gateway) {
		if log != nil {
			g.logger = log
		}
	}
}

// Gateway executes tenant actions against the document store.
type Gateway struct {
	resolver          *NamespaceResolver
	translator        *service.QueryTranslator
	codec             *service.DatasetCodec
	publisher         eventbus.Publisher
	validate          *validator.Validate
	exportConcurrency int
	logger            logger.Logger
}

// NewGateway creates a gateway over resolver.
func NewGateway(resolver *NamespaceResolver, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		resolver:          resolver,
		translator:        service.NewQueryTranslator(),
		codec:             service.NewDatasetCodec(),
		publisher:         eventbus.Noop{},
		validate:          newValidator(),
		exportConcurrency: 4,
		logger:            logger.WithComponent("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Codec returns the dataset codec used for export and import.
func (g *Gateway) Codec() *service.DatasetCodec {
	return g.codec
}

// Execute dispatches a to the handler for its action.
func (g *Gateway) Execute(ctx context.Context, a *model.Action) (*Result, error) {
	if a == nil {
		return nil, apperrors.NewValidationError("action is required")
	}
	switch a.Act {
	case model.ActionCreate:
		return g.Create(ctx, a)
	case model.ActionList:
		return g.List(ctx, a)
	case model.ActionRead:
		return g.Read(ctx, a)
	case model.ActionUpdate:
		return g.Update(ctx, a)
	case model.ActionDelete:
		return g.Delete(ctx, a)
	case model.ActionDeleteAll:
		return g.DeleteAll(ctx, a)
	case model.ActionDrop:
		return g.Drop(ctx, a)
	case model.ActionIndex:
		return g.Index(ctx, a)
	case model.ActionExport:
		return g.Export(ctx, a)
	case model.ActionImport:
		return g.Import(ctx, a)
	case model.ActionClose:
		return g.Close(ctx, a)
	default:
		err := apperrors.NewValidationError(fmt.Sprintf("unknown action: %q", string(a.Act))).
			WithCause(apperrors.ErrUnknownAction)
		metrics.ObserveAction("unknown", time.Now(), err)
		return nil, err
	}
}

func (g *Gateway) Create(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionCreate, a, g.create)
}

func (g *Gateway) List(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionList, a, g.list)
}

func (g *Gateway) Read(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionRead, a, g.read)
}

func (g *Gateway) Update(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionUpdate, a, g.update)
}

func (g *Gateway) Delete(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionDelete, a, g.delete)
}

func (g *Gateway) DeleteAll(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionDeleteAll, a, g.deleteAll)
}

func (g *Gateway) Drop(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionDrop, a, g.drop)
}

func (g *Gateway) Index(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionIndex, a, g.index)
}

func (g *Gateway) Export(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionExport, a, g.export)
}

func (g *Gateway) Import(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionImport, a, g.importArchive)
}

func (g *Gateway) Close(ctx context.Context, a *model.Action) (*Result, error) {
	return g.run(ctx, model.ActionClose, a, g.closeTenant)
}

type actionFunc func(ctx context.Context, a *model.Action) (*Result, error)

func (g *Gateway) run(ctx context.Context, act model.ActionType, a *model.Action, fn actionFunc) (res *Result, err error) {
	started := time.Now()
	defer func() { metrics.ObserveAction(string(act), started, err) }()

	if a == nil {
		return nil, apperrors.NewValidationError("action is required")
	}
	a.Act = act
	if err = g.validateAction(a); err != nil {
		return nil, err
	}

	ctx = utils.WithTenantID(ctx, a.TenantID)
	ctx = utils.WithAction(ctx, string(act))
	log := g.logger.WithContext(ctx)

	res, err = fn(ctx, a)
	if err != nil {
		if apperrors.IsValidation(err) || apperrors.IsTranslation(err) || apperrors.IsNotFound(err) {
			log.Debugf("action rejected: %v", err)
		} else {
			log.Errorf("action failed: %v", err)
		}
		return nil, err
	}
	res.Action = act
	log.WithFields(map[string]interface{}{"duration_ms": time.Since(started).Milliseconds()}).Debug("action completed")
	return res, nil
}

// needsType lists actions that address one logical collection.
func needsType(act model.ActionType) bool {
	switch act {
	case model.ActionExport, model.ActionImport, model.ActionClose:
		return false
	}
	return true
}

func (g *Gateway) validateAction(a *model.Action) error {
	if err := g.validate.Struct(a); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			ve := apperrors.NewValidationErrors()
			for _, fe := range fieldErrs {
				ve.Add(fe.Field(), fmt.Sprintf("failed on the '%s' rule", fe.Tag()), fe.Value())
			}
			return ve.ToAppError()
		}
		return apperrors.NewValidationError(err.Error())
	}
	if err := g.resolver.ValidateTenant(a.TenantContext); err != nil {
		return err
	}
	if needsType(a.Act) {
		if err := ValidateLogicalName(a.Type); err != nil {
			return err
		}
	}
	return nil
}

// documents turns the fields payload into one or more documents ready to insert.
func (g *Gateway) documents(fields interface{}, guid string) ([]bson.M, error) {
	var objects []map[string]interface{}
	switch f := fields.(type) {
	case map[string]interface{}:
		objects = []map[string]interface{}{f}
	case []interface{}:
		if len(f) == 0 {
			return nil, apperrors.NewValidationError("fields must not be an empty array")
		}
		for i, item := range f {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, apperrors.NewValidationError(fmt.Sprintf("fields[%d] must be an object", i))
			}
			objects = append(objects, obj)
		}
	default:
		return nil, apperrors.NewValidationError("fields must be an object or a non-empty array of objects")
	}

	docs := make([]bson.M, 0, len(objects))
	for _, obj := range objects {
		doc := bson.M(g.codec.DecodeFields(obj))
		if id, ok := doc[model.IDField]; ok {
			doc[model.IDField] = coerceID(id)
		} else if guid != "" && len(objects) == 1 {
			doc[model.IDField] = model.ParseGuid(guid).Value()
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func coerceID(id interface{}) interface{} {
	switch v := id.(type) {
	case string:
		return model.ParseGuid(v).Value()
	case map[string]interface{}:
		if oid, ok := v["$oid"].(string); ok && len(v) == 1 {
			return model.ParseGuid(oid).Value()
		}
	}
	return id
}

func (g *Gateway) create(ctx context.Context, a *model.Action) (*Result, error) {
	docs, err := g.documents(a.Fields, a.Guid)
	if err != nil {
		return nil, err
	}
	store, ns, err := g.resolver.Open(ctx, a.TenantContext, a.Type)
	if err != nil {
		return nil, err
	}

	ids, err := store.Insert(ctx, ns.Collection, docs...)
	if err != nil {
		return nil, err
	}
	records := make([]model.Record, len(docs))
	for i, doc := range docs {
		if i < len(ids) {
			doc[model.IDField] = ids[i]
		}
		records[i] = model.RecordFromDocument(a.Type, doc)
		g.emit(ctx, eventbus.EventTypeRecordCreated, a, ns, records[i].Guid)
	}

	if _, isBatch := a.Fields.([]interface{}); isBatch {
		return &Result{Records: records, Count: int64(len(records))}, nil
	}
	return &Result{Record: &records[0], Count: 1}, nil
}

func requireGuid(a *model.Action) (model.Guid, error) {
	if strings.TrimSpace(a.Guid) == "" {
		return model.Guid{}, apperrors.NewValidationError(fmt.Sprintf("guid is required for %s", a.Act))
	}
	return model.ParseGuid(a.Guid), nil
}

// literalFilter is the fallback for a native-looking guid stored as a plain string.
func literalFilter(guid model.Guid) (bson.M, bool) {
	if !guid.Native {
		return nil, false
	}
	return bson.M{model.IDField: guid.Raw}, true
}

func (g *Gateway) read(ctx context.Context, a *model.Action) (*Result, error) {
	guid, err := requireGuid(a)
	if err != nil {
		return nil, err
	}
	store, ns, err := g.resolver.Open(ctx, a.TenantContext, a.Type)
	if err != nil {
		return nil, err
	}

	doc, err := store.FindOne(ctx, ns.Collection, guid.IDFilter())
	if err != nil {
		return nil, err
	}
	if doc == nil {
		if filter, ok := literalFilter(guid); ok {
			if doc, err = store.FindOne(ctx, ns.Collection, filter); err != nil {
				return nil, err
			}
		}
	}
	if doc == nil {
		return &Result{}, nil
	}
	rec := model.RecordFromDocument(a.Type, doc)
	return &Result{Record: &rec, Count: 1}, nil
}

func (g *Gateway) update(ctx context.Context, a *model.Action) (*Result, error) {
	guid, err := requireGuid(a)
	if err != nil {
		return nil, err
	}
	fields, ok := a.Fields.(map[string]interface{})
	if !ok {
		return nil, apperrors.NewValidationError("fields must be an object for update")
	}
	store, ns, err := g.resolver.Open(ctx, a.TenantContext, a.Type)
	if err != nil {
		return nil, err
	}

	exists, err := store.CollectionExists(ctx, ns.Collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.NewNotFoundError("collection " + a.Type).WithDetail("type", a.Type)
	}

	doc := bson.M(g.codec.DecodeFields(fields))
	delete(doc, model.IDField)
	opts := repository.UpdateOptions{Upsert: a.Upsert, Partial: a.Partial}

	filter := guid.IDFilter()
	res, err := store.Update(ctx, ns.Collection, filter, doc, opts)
	if err != nil {
		return nil, err
	}
	if res.Matched == 0 && res.UpsertedID == nil {
		lf, ok := literalFilter(guid)
		if !ok {
			return &Result{}, nil
		}
		filter = lf
		if res, err = store.Update(ctx, ns.Collection, filter, doc, repository.UpdateOptions{Partial: a.Partial}); err != nil {
			return nil, err
		}
		if res.Matched == 0 {
			return &Result{}, nil
		}
	}

	stored, err := store.FindOne(ctx, ns.Collection, filter)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return &Result{}, nil
	}
	rec := model.RecordFromDocument(a.Type, stored)
	g.emit(ctx, eventbus.EventTypeRecordUpdated, a, ns, rec.Guid, "partial", a.Partial, "upserted", res.UpsertedID != nil)
	return &Result{Record: &rec, Count: 1}, nil
}

func (g *Gateway) delete(ctx context.Context, a *model.Action) (*Result, error) {
	guid, err := requireGuid(a)
	if err != nil {
		return nil, err
	}
	store, ns, err := g.resolver.Open(ctx, a.TenantContext, a.Type)
	if err != nil {
		return nil, err
	}

	removed, err := store.Remove(ctx, ns.Collection, guid.IDFilter())
	if err != nil {
		return nil, err
	}
	if removed == nil {
		if filter, ok := literalFilter(guid); ok {
			if removed, err = store.Remove(ctx, ns.Collection, filter); err != nil {
				return nil, err
			}
		}
	}
	if removed == nil {
		return &Result{}, nil
	}
	rec := model.RecordFromDocument(a.Type, removed)
	g.emit(ctx, eventbus.EventTypeRecordDeleted, a, ns, rec.Guid)
	return &Result{Record: &rec, Count: 1}, nil
}

func (g *Gateway) deleteAll(ctx context.Context, a *model.Action) (*Result, error) {
	filter, err := g.translator.BuildFilter(a.ListQuery())
	if err != nil {
		return nil, err
	}
	store, ns, err := g.resolver.Open(ctx, a.TenantContext, a.Type)
	if err != nil {
		return nil, err
	}

	n, err := store.RemoveAll(ctx, ns.Collection, filter)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		g.emit(ctx, eventbus.EventTypeRecordDeleted, a, ns, "", "count", n)
	}
	return &Result{Count: n}, nil
}

func (g *Gateway) list(ctx context.Context, a *model.Action) (*Result, error) {
	q := a.ListQuery()
	filter, err := g.translator.BuildFilter(q)
	if err != nil {
		return nil, err
	}
	opts, err := g.translator.BuildFindOptions(q)
	if err != nil {
		return nil, err
	}
	store, ns, err := g.resolver.Open(ctx, a.TenantContext, a.Type)
	if err != nil {
		return nil, err
	}

	docs, err := store.Find(ctx, ns.Collection, filter, opts)
	if err != nil {
		return nil, err
	}
	records := make([]model.Record, len(docs))
	for i, doc := range docs {
		records[i] = model.RecordFromDocument(a.Type, doc)
	}
	return &Result{Records: records, Count: int64(len(records))}, nil
}

func (g *Gateway) index(ctx context.Context, a *model.Action) (*Result, error) {
	if len(a.Index) == 0 {
		return nil, apperrors.NewValidationError("index specification is required")
	}
	store, ns, err := g.resolver.Open(ctx, a.TenantContext, a.Type)
	if err != nil {
		return nil, err
	}

	name, err := store.CreateIndex(ctx, ns.Collection, a.Index.Keys(), repository.IndexOptions{Name: a.Index.Name()})
	if err != nil {
		return nil, err
	}
	return &Result{Index: name}, nil
}

func (g *Gateway) drop(ctx context.Context, a *model.Action) (*Result, error) {
	store, ns, err := g.resolver.Open(ctx, a.TenantContext, a.Type)
	if err != nil {
		return nil, err
	}
	if err := store.DropCollection(ctx, ns.Collection); err != nil {
		return nil, err
	}
	g.emit(ctx, eventbus.EventTypeCollectionDropped, a, ns, "")
	return &Result{}, nil
}

func (g *Gateway) export(ctx context.Context, a *model.Action) (*Result, error) {
	names, err := g.resolver.TenantCollections(ctx, a.TenantContext)
	if err != nil {
		return nil, err
	}

	archive := make(service.Archive, len(names))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.exportConcurrency)
	for i, name := range names {
		i, name := i, name
		eg.Go(func() error {
			store, ns, err := g.resolver.Open(egCtx, a.TenantContext, name)
			if err != nil {
				return err
			}
			docs, err := store.Find(egCtx, ns.Collection, bson.M{}, nil)
			if err != nil {
				return fmt.Errorf("reading %s: %w", name, err)
			}
			records := make([]model.Record, len(docs))
			for j, doc := range docs {
				records[j] = model.RecordFromDocument(name, doc)
			}
			archive[i] = service.CollectionData{Name: name, Records: records}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	data, err := g.codec.Encode(archive)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, c := range archive {
		total += int64(len(c.Records))
	}
	return &Result{Archive: data, Count: total, Imported: archive.Names()}, nil
}

func (g *Gateway) importArchive(ctx context.Context, a *model.Action) (*Result, error) {
	if len(a.Archive) == 0 {
		return nil, apperrors.NewValidationError("import archive is required")
	}
	archive, skipped, err := g.codec.Decode(a.Archive)
	if err != nil {
		return nil, err
	}

	var (
		imported []string
		total    int64
	)
	for _, coll := range archive {
		store, ns, err := g.resolver.Open(ctx, a.TenantContext, coll.Name)
		if err != nil {
			if apperrors.IsValidation(err) {
				skipped = append(skipped, coll.Name)
				continue
			}
			return nil, err
		}

		docs := make([]bson.M, 0, len(coll.Records))
		for _, rec := range coll.Records {
			doc := bson.M{}
			for k, v := range rec.Fields {
				doc[k] = v
			}
			if rec.Guid != "" {
				doc[model.IDField] = model.ParseGuid(rec.Guid).Value()
			}
			docs = append(docs, doc)
		}
		if _, err := store.Insert(ctx, ns.Collection, docs...); err != nil {
			return nil, fmt.Errorf("importing %s: %w", coll.Name, err)
		}
		imported = append(imported, coll.Name)
		total += int64(len(docs))
	}

	if len(imported) > 0 {
		g.emit(ctx, eventbus.EventTypeDatasetImported, a, Namespace{Database: g.resolver.DatabaseFor(a.TenantContext)}, "",
			"collections", imported, "records", total)
	}
	return &Result{Imported: imported, Skipped: skipped, Count: total}, nil
}

func (g *Gateway) closeTenant(ctx context.Context, a *model.Action) (*Result, error) {
	if err := g.resolver.Release(ctx, a.TenantContext); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

// emit publishes a change event without blocking the action. kv holds payload key/value pairs.
func (g *Gateway) emit(ctx context.Context, eventType string, a *model.Action, ns Namespace, guid string, kv ...interface{}) {
	ev := eventbus.NewChangeEvent(eventType, a.TenantID, ns.Logical, guid)
	ev.Database = ns.Database
	if reqID, err := utils.GetRequestIDFromContext(ctx); err == nil {
		ev.WithPayload("requestId", reqID)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			ev.WithPayload(key, kv[i+1])
		}
	}
	g.publisher.PublishAndForget(ctx, ev)
}
