package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/safe-forge/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorageBackend implements interfaces.StorageBackend for testing
type MockStorageBackend struct {
	mock.Mock
	name string
}

func (m *MockStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	args := m.Called(ctx, id, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	args := m.Called(ctx, data, contentType)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock://" + m.name
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{
			name:     "all backends available",
			backends: []bool{true, true, true},
			expected: true,
		},
		{
			name:     "some backends available",
			backends: []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no backends available",
			backends: []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no backends",
			backends: []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.StorageBackend
			for i, available := range tt.backends {
				m := &MockStorageBackend{name: string(rune('a' + i))}
				m.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, m)
			}

			multi := NewMultiStorageBackend(backends, discardLogger())
			assert.Equal(t, tt.expected, multi.Available(context.Background()))
		})
	}
}

func TestMultiStorageBackend_Fetch(t *testing.T) {
	ctx := context.Background()
	data := []byte("contract Token {}")
	id := interfaces.ComputeID(data)

	t.Run("falls through to the backend that has the content", func(t *testing.T) {
		first := &MockStorageBackend{name: "first"}
		first.On("Available", mock.Anything).Return(true)
		first.On("Fetch", mock.Anything, id, interfaces.TemplateCodeType).Return(nil, interfaces.ErrContentNotFound)

		second := &MockStorageBackend{name: "second"}
		second.On("Available", mock.Anything).Return(true)
		second.On("Fetch", mock.Anything, id, interfaces.TemplateCodeType).Return(data, nil)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{first, second}, discardLogger())
		got, err := multi.Fetch(ctx, id, interfaces.TemplateCodeType)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		first.AssertExpectations(t)
		second.AssertExpectations(t)
	})

	t.Run("skips unavailable backends", func(t *testing.T) {
		down := &MockStorageBackend{name: "down"}
		down.On("Available", mock.Anything).Return(false)

		up := &MockStorageBackend{name: "up"}
		up.On("Available", mock.Anything).Return(true)
		up.On("Fetch", mock.Anything, id, interfaces.DeploymentDataType).Return(data, nil)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{down, up}, discardLogger())
		got, err := multi.Fetch(ctx, id, interfaces.DeploymentDataType)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		down.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("not found everywhere", func(t *testing.T) {
		a := &MockStorageBackend{name: "a"}
		a.On("Available", mock.Anything).Return(true)
		a.On("Fetch", mock.Anything, id, interfaces.TemplateCodeType).Return(nil, interfaces.ErrContentNotFound)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{a}, discardLogger())
		_, err := multi.Fetch(ctx, id, interfaces.TemplateCodeType)
		assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
	})

	t.Run("mixed failures are joined", func(t *testing.T) {
		a := &MockStorageBackend{name: "a"}
		a.On("Available", mock.Anything).Return(true)
		a.On("Fetch", mock.Anything, id, interfaces.TemplateCodeType).Return(nil, interfaces.ErrContentNotFound)

		boom := errors.New("connection reset")
		b := &MockStorageBackend{name: "b"}
		b.On("Available", mock.Anything).Return(true)
		b.On("Fetch", mock.Anything, id, interfaces.TemplateCodeType).Return(nil, boom)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{a, b}, discardLogger())
		_, err := multi.Fetch(ctx, id, interfaces.TemplateCodeType)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nothing available", func(t *testing.T) {
		a := &MockStorageBackend{name: "a"}
		a.On("Available", mock.Anything).Return(false)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{a}, discardLogger())
		_, err := multi.Fetch(ctx, id, interfaces.TemplateCodeType)
		assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	})
}

func TestMultiStorageBackend_Store(t *testing.T) {
	ctx := context.Background()
	data := []byte{0x60, 0x80, 0x60, 0x40}
	id := interfaces.ComputeID(data)

	t.Run("one success is enough", func(t *testing.T) {
		ok := &MockStorageBackend{name: "ok"}
		ok.On("Available", mock.Anything).Return(true)
		ok.On("Store", mock.Anything, data, interfaces.TemplateCodeType).Return(id, nil)

		ro := &MockStorageBackend{name: "ro"}
		ro.On("Available", mock.Anything).Return(true)
		ro.On("Store", mock.Anything, data, interfaces.TemplateCodeType).Return(id, interfaces.ErrReadOnlyBackend)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{ro, ok}, discardLogger())
		got, err := multi.Store(ctx, data, interfaces.TemplateCodeType)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		ok.AssertExpectations(t)
		ro.AssertExpectations(t)
	})

	t.Run("wrong id does not count", func(t *testing.T) {
		liar := &MockStorageBackend{name: "liar"}
		liar.On("Available", mock.Anything).Return(true)
		liar.On("Store", mock.Anything, data, interfaces.TemplateCodeType).Return(interfaces.ComputeID([]byte("other")), nil)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{liar}, discardLogger())
		_, err := multi.Store(ctx, data, interfaces.TemplateCodeType)
		require.Error(t, err)
	})

	t.Run("all fail", func(t *testing.T) {
		a := &MockStorageBackend{name: "a"}
		a.On("Available", mock.Anything).Return(true)
		a.On("Store", mock.Anything, data, interfaces.TemplateCodeType).Return(id, errors.New("disk full"))

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{a}, discardLogger())
		_, err := multi.Store(ctx, data, interfaces.TemplateCodeType)
		require.ErrorContains(t, err, "disk full")
	})

	t.Run("none available", func(t *testing.T) {
		multi := NewMultiStorageBackend(nil, discardLogger())
		_, err := multi.Store(ctx, data, interfaces.TemplateCodeType)
		assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	})
}

func TestMultiStorageBackend_LocationURI(t *testing.T) {
	multi := NewMultiStorageBackend([]interfaces.StorageBackend{
		&MockStorageBackend{name: "a"},
		&MockStorageBackend{name: "b"},
	}, discardLogger())
	assert.Equal(t, "multi:[mock://a,mock://b]", multi.LocationURI())
}
