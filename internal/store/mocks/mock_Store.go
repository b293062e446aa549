// Package mocks provides test doubles for the store.
package mocks

import (
	"context"

	model "github.com/max-solo23/deeptrace/internal/model"
	mock "github.com/stretchr/testify/mock"
)

// MockStore is a mock type for the Store interface.
type MockStore struct {
	mock.Mock
}

// SaveReport provides a mock function with given fields: ctx, r
func (_m *MockStore) SaveReport(ctx context.Context, r *model.Report) (string, error) {
	ret := _m.Called(ctx, r)
	return stringErr(ret, "SaveReport")
}

// SaveSource provides a mock function with given fields: ctx, s
func (_m *MockStore) SaveSource(ctx context.Context, s *model.Source) (string, error) {
	ret := _m.Called(ctx, s)
	return stringErr(ret, "SaveSource")
}

// SaveLog provides a mock function with given fields: ctx, l
func (_m *MockStore) SaveLog(ctx context.Context, l *model.LogEntry) (string, error) {
	ret := _m.Called(ctx, l)
	return stringErr(ret, "SaveLog")
}

// GetReport provides a mock function with given fields: ctx, id
func (_m *MockStore) GetReport(ctx context.Context, id string) *model.Report {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for GetReport")
	}

	var r0 *model.Report
	if rf, ok := ret.Get(0).(func(context.Context, string) *model.Report); ok {
		r0 = rf(ctx, id)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Report)
	}
	return r0
}

// GetAllReports provides a mock function with given fields: ctx, limit
func (_m *MockStore) GetAllReports(ctx context.Context, limit int) []model.Report {
	ret := _m.Called(ctx, limit)

	if len(ret) == 0 {
		panic("no return value specified for GetAllReports")
	}

	var r0 []model.Report
	if rf, ok := ret.Get(0).(func(context.Context, int) []model.Report); ok {
		r0 = rf(ctx, limit)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.Report)
	}
	return r0
}

// GetSourcesForReport provides a mock function with given fields: ctx, id
func (_m *MockStore) GetSourcesForReport(ctx context.Context, id string) []model.Source {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for GetSourcesForReport")
	}

	var r0 []model.Source
	if rf, ok := ret.Get(0).(func(context.Context, string) []model.Source); ok {
		r0 = rf(ctx, id)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.Source)
	}
	return r0
}

// GetLogsForReport provides a mock function with given fields: ctx, id
func (_m *MockStore) GetLogsForReport(ctx context.Context, id string) []model.LogEntry {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for GetLogsForReport")
	}

	var r0 []model.LogEntry
	if rf, ok := ret.Get(0).(func(context.Context, string) []model.LogEntry); ok {
		r0 = rf(ctx, id)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.LogEntry)
	}
	return r0
}

// DeleteReport provides a mock function with given fields: ctx, id
func (_m *MockStore) DeleteReport(ctx context.Context, id string) (bool, error) {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for DeleteReport")
	}

	var r0 bool
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (bool, error)); ok {
		return rf(ctx, id)
	}
	r0 = ret.Bool(0)
	r1 = ret.Error(1)
	return r0, r1
}

// Ping provides a mock function with given fields: ctx
func (_m *MockStore) Ping(ctx context.Context) error {
	ret := _m.Called(ctx)
	return errOnly(ret, "Ping")
}

// Migrate provides a mock function with given fields: ctx
func (_m *MockStore) Migrate(ctx context.Context) error {
	ret := _m.Called(ctx)
	return errOnly(ret, "Migrate")
}

// Close provides a mock function with given fields:
func (_m *MockStore) Close() error {
	ret := _m.Called()
	return errOnly(ret, "Close")
}

func stringErr(ret mock.Arguments, name string) (string, error) {
	if len(ret) == 0 {
		panic("no return value specified for " + name)
	}
	return ret.String(0), ret.Error(1)
}

func errOnly(ret mock.Arguments, name string) error {
	if len(ret) == 0 {
		panic("no return value specified for " + name)
	}
	return ret.Error(0)
}

// NewMockStore creates a new instance of MockStore.
func NewMockStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStore {
	mock := &MockStore{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
