package http_test

import (
	"context"

	"docgateway/internal/datastore/adapter/persistence"
	"docgateway/internal/datastore/domain/model"
	"docgateway/internal/datastore/usecase"

	"github.com/stretchr/testify/mock"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Execute(ctx context.Context, a *model.Action) (*usecase.Result, error) {
	args := m.Called(ctx, a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.Result), args.Error(1)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) RecentEvents(ctx context.Context, tenant string, count int64) ([]persistence.StoredEvent, error) {
	args := m.Called(ctx, tenant, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]persistence.StoredEvent), args.Error(1)
}

type mockHealth struct {
	mock.Mock
}

func (m *mockHealth) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// actionMatching matches an action by verb and tenant.
func actionMatching(act model.ActionType, tenant string) interface{} {
	return mock.MatchedBy(func(a *model.Action) bool {
		return a.Act == act && a.TenantID == tenant
	})
}
