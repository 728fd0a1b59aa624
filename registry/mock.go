package registry

import (
	"context"
	"time"

	"github.com/ruteri/safe-forge/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockStateStore mocks interfaces.StateStore
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) Load(ctx context.Context) (*interfaces.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Snapshot), args.Error(1)
}

func (m *MockStateStore) InsertAdmin(ctx context.Context, admin interfaces.Admin) error {
	args := m.Called(ctx, admin)
	return args.Error(0)
}

func (m *MockStateStore) InsertTemplate(ctx context.Context, template interfaces.Template) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}

func (m *MockStateStore) ApproveTemplate(ctx context.Context, name interfaces.TemplateName, approver interfaces.Principal, seq uint64, at time.Time) error {
	args := m.Called(ctx, name, approver, seq, at)
	return args.Error(0)
}

func (m *MockStateStore) AppendEvent(ctx context.Context, event interfaces.GenerationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStateStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockEventSink mocks interfaces.EventSink
type MockEventSink struct {
	mock.Mock
}

func (m *MockEventSink) Publish(ctx context.Context, event interfaces.GenerationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventSink) Name() string {
	return "mock-sink"
}

// MockArchive mocks interfaces.StorageBackend
type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	args := m.Called(ctx, id, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArchive) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	args := m.Called(ctx, data, contentType)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockArchive) Available(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockArchive) Name() string {
	return "mock-archive"
}

func (m *MockArchive) LocationURI() string {
	return "mock:"
}
