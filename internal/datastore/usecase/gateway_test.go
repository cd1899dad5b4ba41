package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"docgateway/internal/datastore/domain/model"
	"docgateway/internal/datastore/domain/service"
	"docgateway/internal/shared/eventbus"
	apperrors "docgateway/internal/shared/errors"
	"docgateway/internal/shared/logger"
	"docgateway/internal/shared/utils"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const sharedDB = "FH_SHARED"

type gatewayFixture struct {
	provider  *memoryProvider
	publisher *capturingPublisher
	gateway   *Gateway
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	provider := newMemoryProvider()
	publisher := &capturingPublisher{}
	resolver := NewNamespaceResolver(provider, sharedDB, "fh", "_")
	gw := NewGateway(resolver,
		WithEventPublisher(publisher),
		WithExportConcurrency(2),
		WithGatewayLogger(logger.NewLoggerWithConfig("error", "text", "")),
	)
	return &gatewayFixture{provider: provider, publisher: publisher, gateway: gw}
}

// action decodes an inbound action the same way the HTTP adapter does.
func action(t *testing.T, raw string) *model.Action {
	t.Helper()
	var a model.Action
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	return &a
}

func (f *gatewayFixture) exec(t *testing.T, raw string) *Result {
	t.Helper()
	res, err := f.gateway.Execute(context.Background(), action(t, raw))
	require.NoError(t, err)
	return res
}

func TestGateway_SharedDatabaseNamespace(t *testing.T) {
	f := newGatewayFixture(t)

	created := f.exec(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"name":"ana","age":31}}`)
	require.NotNil(t, created.Record)
	assert.Equal(t, "people", created.Record.Type)
	assert.Equal(t, "ana", created.Record.Fields["name"])
	assert.Len(t, created.Record.Guid, 24, "generated ids are rendered as hex strings")

	f.exec(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"name":"bo","age":20}}`)

	store := f.provider.stores[sharedDB]
	require.NotNil(t, store)
	assert.Len(t, store.docs("fh_t1_people"), 2, "shared tenants get a prefixed collection")

	listed := f.exec(t, `{"tenantId":"t1","action":"list","type":"people","eq":{"name":"ana"}}`)
	require.Len(t, listed.Records, 1)
	assert.Equal(t, created.Record.Guid, listed.Records[0].Guid)

	other := f.exec(t, `{"tenantId":"t2","action":"list","type":"people"}`)
	assert.Empty(t, other.Records, "tenants never see each other's records")
}

func TestGateway_SharedTenantsDoNotOverlap(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.gateway.Execute(context.Background(),
		action(t, `{"tenantId":"a_b","action":"create","type":"c","fields":{"secret":"of a_b"}}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err), "%v", err)

	f.exec(t, `{"tenantId":"a","action":"create","type":"b_c","fields":{"owner":"a"}}`)
	listed := f.exec(t, `{"tenantId":"a","action":"list","type":"b_c"}`)
	require.Len(t, listed.Records, 1)
	assert.Equal(t, "a", listed.Records[0].Fields["owner"])

	exported := f.exec(t, `{"tenantId":"a","action":"export"}`)
	assert.Equal(t, []string{"b_c"}, exported.Imported)

	f.exec(t, `{"tenantId":"a_b","perAppDatabase":true,"action":"create","type":"c","fields":{"secret":"of a_b"}}`)
	assert.Len(t, f.provider.stores["a_b"].docs("c"), 1)
	assert.Len(t, f.provider.stores[sharedDB].docs("fh_a_b_c"), 1)
}

func TestGateway_PerAppDatabase(t *testing.T) {
	f := newGatewayFixture(t)

	f.exec(t, `{"tenantId":"app7","perAppDatabase":true,"action":"create","type":"orders","fields":{"total":10}}`)

	store := f.provider.stores["app7"]
	require.NotNil(t, store)
	assert.Len(t, store.docs("orders"), 1, "per-app databases keep the logical name")
	assert.Nil(t, f.provider.stores[sharedDB])
}

func TestGateway_NativeGuidRoundTrip(t *testing.T) {
	f := newGatewayFixture(t)
	const hex = "5f1d7a3b9c8e4f2a1b3c4d5e"

	created := f.exec(t, `{"tenantId":"t1","action":"create","type":"people","guid":"`+hex+`","fields":{"name":"ana"}}`)
	assert.Equal(t, hex, created.Record.Guid)

	stored := f.provider.stores[sharedDB].docs("fh_t1_people")[0]
	_, isOID := stored["_id"].(primitive.ObjectID)
	assert.True(t, isOID, "a legal 24-hex guid is stored as an ObjectID")

	read := f.exec(t, `{"tenantId":"t1","action":"read","type":"people","guid":"`+hex+`"}`)
	require.NotNil(t, read.Record)
	assert.Equal(t, hex, read.Record.Guid)
	assert.Equal(t, "ana", read.Record.Fields["name"])
}

func TestGateway_LiteralGuids(t *testing.T) {
	f := newGatewayFixture(t)

	f.exec(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"_id":"user-1","name":"ana"}}`)
	read := f.exec(t, `{"tenantId":"t1","action":"read","type":"people","guid":"user-1"}`)
	require.NotNil(t, read.Record)
	assert.Equal(t, "user-1", read.Record.Guid)

	absent := f.exec(t, `{"tenantId":"t1","action":"read","type":"people","guid":"missing"}`)
	assert.Nil(t, absent.Record)
	assert.Nil(t, absent.Body(), "absent records are nil, not errors")
}

func TestGateway_BatchCreateAndDates(t *testing.T) {
	f := newGatewayFixture(t)

	res := f.exec(t, `{"tenantId":"t1","action":"create","type":"events","fields":[
		{"name":"a","at":{"$date":"2024-05-01T10:00:00Z"}},
		{"name":"b","at":{"$date":"not a date"}}
	]}`)
	require.Len(t, res.Records, 2)
	assert.Equal(t, int64(2), res.Count)

	at, ok := res.Records[0].Fields["at"].(time.Time)
	require.True(t, ok, "valid $date wrappers decode to dates")
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), at)
	assert.Equal(t, map[string]interface{}{"$date": "not a date"}, res.Records[1].Fields["at"])
}

func TestGateway_CreateRejectsBadFields(t *testing.T) {
	f := newGatewayFixture(t)
	for name, fields := range map[string]string{
		"missing":     ``,
		"scalar":      `,"fields":"text"`,
		"empty array": `,"fields":[]`,
		"mixed array": `,"fields":[{"a":1},2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.gateway.Execute(context.Background(),
				action(t, `{"tenantId":"t1","action":"create","type":"people"`+fields+`}`))
			assert.True(t, apperrors.IsValidation(err), "%v", err)
		})
	}
}

func TestGateway_DeleteAllThenEmptyList(t *testing.T) {
	f := newGatewayFixture(t)
	for _, n := range []string{"a", "b", "c"} {
		f.exec(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"name":"`+n+`"}}`)
	}

	res := f.exec(t, `{"tenantId":"t1","action":"deleteAll","type":"people"}`)
	assert.Equal(t, map[string]interface{}{"status": "ok", "count": int64(3)}, res.Body())

	listed := f.exec(t, `{"tenantId":"t1","action":"list","type":"people"}`)
	assert.Empty(t, listed.Records)
	assert.Equal(t, map[string]interface{}{"count": 0, "list": []model.Record{}}, listed.Body())
}

func TestGateway_DeleteAbsentIsEmpty(t *testing.T) {
	f := newGatewayFixture(t)
	created := f.exec(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"name":"ana"}}`)

	removed := f.exec(t, `{"tenantId":"t1","action":"delete","type":"people","guid":"`+created.Record.Guid+`"}`)
	require.NotNil(t, removed.Record)
	assert.Equal(t, "ana", removed.Record.Fields["name"])

	again := f.exec(t, `{"tenantId":"t1","action":"delete","type":"people","guid":"`+created.Record.Guid+`"}`)
	assert.Nil(t, again.Record)
	assert.Equal(t, map[string]interface{}{}, again.Body())
}

func seedAges(t *testing.T, f *gatewayFixture) {
	t.Helper()
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		f.exec(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"name":"`+name+`","age":`+
			[]string{"10", "20", "30", "40", "50"}[i]+`}}`)
	}
}

func names(records []model.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i], _ = r.Fields["name"].(string)
	}
	return out
}

func TestGateway_ListQueries(t *testing.T) {
	f := newGatewayFixture(t)
	seedAges(t, f)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"gt", `"gt":{"age":30}`, []string{"d", "e"}},
		{"ge and lt", `"ge":{"age":20},"lt":{"age":40}`, []string{"b", "c"}},
		{"ne", `"ne":{"name":"a"},"le":{"age":30}`, []string{"b", "c"}},
		{"like", `"like":{"name":"^[ae]$"}`, []string{"a", "e"}},
		{"any casts string to number", `"eq":{"age":{"value":"40","type":"Any"}}`, []string{"d"}},
		{"sort desc with limit", `"sort":{"age":-1},"limit":2`, []string{"e", "d"}},
		{"sort pairs with skip", `"sort":[["age","asc"]],"skip":3`, []string{"d", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.exec(t, `{"tenantId":"t1","action":"list","type":"people",`+tt.query+`}`)
			got := names(res.Records)
			if !strings.Contains(tt.query, "sort") {
				assert.ElementsMatch(t, tt.want, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGateway_ListRejectsBadQueries(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.gateway.Execute(context.Background(),
		action(t, `{"tenantId":"t1","action":"list","type":"people","limit":-1}`))
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.gateway.Execute(context.Background(),
		action(t, `{"tenantId":"t1","action":"list","type":"people","eq":{"owner":{"value":"nothex","type":"ObjectId"}}}`))
	assert.True(t, apperrors.IsTranslation(err))
}

func TestGateway_Update(t *testing.T) {
	f := newGatewayFixture(t)
	created := f.exec(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"name":"ana","age":30}}`)
	guid := created.Record.Guid

	t.Run("partial keeps other fields", func(t *testing.T) {
		res := f.exec(t, `{"tenantId":"t1","action":"update","type":"people","guid":"`+guid+`","partial":true,"fields":{"age":31}}`)
		require.NotNil(t, res.Record)
		assert.Equal(t, "ana", res.Record.Fields["name"])
		assert.Equal(t, float64(31), res.Record.Fields["age"])
	})

	t.Run("full replace drops other fields", func(t *testing.T) {
		res := f.exec(t, `{"tenantId":"t1","action":"update","type":"people","guid":"`+guid+`","fields":{"age":32}}`)
		require.NotNil(t, res.Record)
		assert.NotContains(t, res.Record.Fields, "name")
		assert.Equal(t, guid, res.Record.Guid)
	})

	t.Run("upsert creates", func(t *testing.T) {
		res := f.exec(t, `{"tenantId":"t1","action":"update","type":"people","guid":"new-1","upsert":true,"fields":{"name":"zed"}}`)
		require.NotNil(t, res.Record)
		assert.Equal(t, "new-1", res.Record.Guid)
	})

	t.Run("absent without upsert", func(t *testing.T) {
		res := f.exec(t, `{"tenantId":"t1","action":"update","type":"people","guid":"nobody","fields":{"name":"x"}}`)
		assert.Nil(t, res.Record)
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := f.gateway.Execute(context.Background(),
			action(t, `{"tenantId":"t1","action":"update","type":"ghosts","guid":"x","fields":{"a":1}}`))
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("guid required", func(t *testing.T) {
		_, err := f.gateway.Execute(context.Background(),
			action(t, `{"tenantId":"t1","action":"update","type":"people","fields":{"a":1}}`))
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestGateway_IndexAndDrop(t *testing.T) {
	f := newGatewayFixture(t)
	f.exec(t, `{"tenantId":"t1","action":"create","type":"places","fields":{"name":"x"}}`)

	res := f.exec(t, `{"tenantId":"t1","action":"index","type":"places","index":{"loc":"2dsphere","age":-1}}`)
	assert.Equal(t, "loc_2dsphere_age_-1", res.Index)
	again := f.exec(t, `{"tenantId":"t1","action":"index","type":"places","index":{"loc":"2dsphere","age":-1}}`)
	assert.Equal(t, res.Index, again.Index, "index creation is idempotent")

	single := f.exec(t, `{"tenantId":"t1","action":"index","type":"places","index":"name"}`)
	assert.Equal(t, "name_1", single.Index)

	_, err := f.gateway.Execute(context.Background(), action(t, `{"tenantId":"t1","action":"index","type":"places"}`))
	assert.True(t, apperrors.IsValidation(err))

	f.exec(t, `{"tenantId":"t1","action":"drop","type":"places"}`)
	exists, _ := f.provider.stores[sharedDB].CollectionExists(context.Background(), "fh_t1_places")
	assert.False(t, exists)
}

func TestGateway_ExportImport(t *testing.T) {
	f := newGatewayFixture(t)
	f.exec(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"name":"ana","born":{"$date":"1990-01-02T00:00:00Z"}}}`)
	f.exec(t, `{"tenantId":"t1","action":"create","type":"orders","guid":"5f1d7a3b9c8e4f2a1b3c4d5e","fields":{"total":12.5}}`)
	f.exec(t, `{"tenantId":"t2","action":"create","type":"secret","fields":{"x":1}}`)

	exported := f.exec(t, `{"tenantId":"t1","action":"export"}`)
	require.NotEmpty(t, exported.Archive)
	assert.Equal(t, []string{"orders", "people"}, exported.Imported, "only the tenant's collections are exported")
	assert.Equal(t, int64(2), exported.Count)

	imp := &model.Action{TenantContext: model.TenantContext{TenantID: "t3"}, Archive: exported.Archive}
	res, err := f.gateway.Import(context.Background(), imp)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "people"}, res.Imported)
	assert.Equal(t, map[string]interface{}{"ok": true, "imported": []string{"orders", "people"}, "skipped": []string{}}, res.Body())

	people := f.exec(t, `{"tenantId":"t3","action":"list","type":"people"}`)
	require.Len(t, people.Records, 1)
	assert.Equal(t, time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC), people.Records[0].Fields["born"])

	order := f.exec(t, `{"tenantId":"t3","action":"read","type":"orders","guid":"5f1d7a3b9c8e4f2a1b3c4d5e"}`)
	require.NotNil(t, order.Record)
	assert.Equal(t, 12.5, order.Record.Fields["total"])

	assert.Contains(t, f.publisher.types(), eventbus.EventTypeDatasetImported)
}

func TestGateway_ImportSkipsBadEntries(t *testing.T) {
	f := newGatewayFixture(t)
	codec := service.NewDatasetCodec()
	data, err := codec.Encode(service.Archive{
		{Name: "good", Records: []model.Record{{Guid: "g1", Fields: map[string]interface{}{"a": 1.0}}}},
		{Name: "empty"},
	})
	require.NoError(t, err)

	res, err := f.gateway.Import(context.Background(),
		&model.Action{TenantContext: model.TenantContext{TenantID: "t1"}, Archive: data})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, res.Imported)
	assert.Equal(t, []string{"empty.json"}, res.Skipped)

	_, err = f.gateway.Import(context.Background(),
		&model.Action{TenantContext: model.TenantContext{TenantID: "t1"}, Archive: []byte("not a zip")})
	assert.True(t, apperrors.IsValidation(err))
}

func TestGateway_Close(t *testing.T) {
	f := newGatewayFixture(t)
	f.exec(t, `{"tenantId":"app7","perAppDatabase":true,"action":"close"}`)
	assert.Equal(t, []string{"app7"}, f.provider.released)
}

func TestGateway_Validation(t *testing.T) {
	f := newGatewayFixture(t)
	tests := []struct {
		name string
		raw  string
	}{
		{"missing tenant", `{"action":"list","type":"people"}`},
		{"bad tenant characters", `{"tenantId":"t 1","action":"list","type":"people"}`},
		{"tenant too long", `{"tenantId":"` + strings.Repeat("t", 65) + `","action":"list","type":"people"}`},
		{"missing type", `{"tenantId":"t1","action":"list"}`},
		{"dollar in type", `{"tenantId":"t1","action":"list","type":"pe$ople"}`},
		{"system type", `{"tenantId":"t1","action":"list","type":"system.users"}`},
		{"oversized namespace", `{"tenantId":"t1","action":"list","type":"` + strings.Repeat("x", 110) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gateway.Execute(context.Background(), action(t, tt.raw))
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "%v", err)
		})
	}
	assert.Empty(t, f.provider.acquired, "validation happens before any store access")
}

func TestGateway_UnknownAction(t *testing.T) {
	f := newGatewayFixture(t)
	_, err := f.gateway.Execute(context.Background(), action(t, `{"tenantId":"t1","action":"explode","type":"people"}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.True(t, errors.Is(err, apperrors.ErrUnknownAction))
	assert.Contains(t, err.Error(), "unknown action")
}

func TestGateway_EventsFollowWrites(t *testing.T) {
	f := newGatewayFixture(t)
	created := f.exec(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"name":"ana"}}`)
	f.exec(t, `{"tenantId":"t1","action":"update","type":"people","guid":"`+created.Record.Guid+`","partial":true,"fields":{"age":3}}`)
	f.exec(t, `{"tenantId":"t1","action":"delete","type":"people","guid":"`+created.Record.Guid+`"}`)
	f.exec(t, `{"tenantId":"t1","action":"list","type":"people"}`)
	f.exec(t, `{"tenantId":"t1","action":"drop","type":"people"}`)

	assert.Equal(t, []string{
		eventbus.EventTypeRecordCreated,
		eventbus.EventTypeRecordUpdated,
		eventbus.EventTypeRecordDeleted,
		eventbus.EventTypeCollectionDropped,
	}, f.publisher.types())

	ev := f.publisher.events[0]
	assert.Equal(t, "t1", ev.Tenant)
	assert.Equal(t, "people", ev.Collection)
	assert.Equal(t, sharedDB, ev.Database)
	assert.Equal(t, created.Record.Guid, ev.Guid)
}

func TestGateway_EventsCarryRequestID(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := utils.WithRequestID(context.Background(), "req-7")

	_, err := f.gateway.Execute(ctx, action(t, `{"tenantId":"t1","action":"create","type":"people","fields":{"name":"ana"}}`))
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "req-7", f.publisher.events[0].Payload["requestId"])
}
