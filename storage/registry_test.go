package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedActive string

func (a fixedActive) ActiveKey() string { return string(a) }

func newRegisteredStrategy(key string, builds *int) *Strategy {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func(context.Context, *interfaces.BackendConfig, *slog.Logger) (interfaces.ObjectStore, error) {
		*builds++
		return &mockStore{}, nil
	}
	return NewStrategy(key, factory, staticConfigs{}, NewSessionManager(0, log), log)
}

func TestRegistryResolve(t *testing.T) {
	var builds int
	tests := []struct {
		name       string
		registered []string
		active     string
		requested  string
		want       string
		wantErr    error
	}{
		{name: "explicit key", registered: []string{"local", "s3"}, active: "local", requested: "s3", want: "s3"},
		{name: "empty key uses active", registered: []string{"local", "s3"}, active: "s3", want: "s3"},
		{name: "unknown key uses active", registered: []string{"local", "s3"}, active: "s3", requested: "gcs", want: "s3"},
		{name: "unregistered active uses default", registered: []string{"local", "s3"}, active: "minio", want: "local"},
		{name: "no active uses default", registered: []string{"local"}, want: "local"},
		{name: "nothing to fall back to", registered: []string{"s3"}, active: "minio", requested: "gcs", wantErr: interfaces.ErrNoStrategyAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(fixedActive(tt.active), nil)
			for _, key := range tt.registered {
				r.Register(newRegisteredStrategy(key, &builds))
			}
			b, err := r.Resolve(tt.requested)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Key())
		})
	}
}

func TestRegistryRegisterAndKeys(t *testing.T) {
	var builds int
	r := NewRegistry(nil, nil)
	r.Register(newRegisteredStrategy("s3", &builds))
	r.Register(newRegisteredStrategy("local", &builds))
	assert.Equal(t, []string{"local", "s3"}, r.Keys())

	current, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, "local", current.Key())

	assert.True(t, r.Unregister("s3"))
	assert.False(t, r.Unregister("s3"))
	_, ok := r.Lookup("s3")
	assert.False(t, ok)
}

func TestRegistryHandleInvalidation(t *testing.T) {
	ctx := context.Background()
	var localBuilds, s3Builds int
	local := newRegisteredStrategy("local", &localBuilds)
	s3 := newRegisteredStrategy("s3", &s3Builds)
	r := NewRegistry(nil, nil)
	r.Register(local)
	r.Register(s3)

	local.Available(ctx)
	s3.Available(ctx)
	require.Equal(t, 1, localBuilds)
	require.Equal(t, 1, s3Builds)

	r.HandleInvalidation(interfaces.Invalidation{Key: "s3"})
	local.Available(ctx)
	s3.Available(ctx)
	assert.Equal(t, 1, localBuilds)
	assert.Equal(t, 2, s3Builds)

	r.HandleInvalidation(interfaces.Invalidation{ActiveKey: "s3", ActiveChanged: true})
	local.Available(ctx)
	s3.Available(ctx)
	assert.Equal(t, 2, localBuilds)
	assert.Equal(t, 3, s3Builds)
}
