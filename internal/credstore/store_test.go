package credstore

import (
	"context"
	"testing"

	"netmgr/internal/kvstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, err := kvstore.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	store := New(kv, zap.NewNop())

	want := Credentials{Name: "Cafe Wifi", Passphrase: "pa:ss \"word\""}
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_LoadWithoutSave(t *testing.T) {
	store := New(kvstore.NewMemoryStore(), zap.NewNop())

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.Equal(t, Credentials{}, got)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := New(kvstore.NewMemoryStore(), zap.NewNop())

	require.NoError(t, store.Save(ctx, Credentials{Name: "Home", Passphrase: "secret"}))
	require.NoError(t, store.Clear(ctx))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestStore_OpenNetwork(t *testing.T) {
	ctx := context.Background()
	store := New(kvstore.NewMemoryStore(), zap.NewNop())

	require.NoError(t, store.Save(ctx, Credentials{Name: "Guest"}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Guest", got.Name)
	assert.Empty(t, got.Passphrase)
	assert.False(t, got.Empty())
}

func TestStore_SharedBackendIsolation(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	store := New(kv, zap.NewNop())

	require.NoError(t, kv.Namespace("audio").Replace(ctx, map[string]string{"ssid": "not-wifi"}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestStore_BackendFailure(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	store := New(kv, zap.NewNop())
	require.NoError(t, kv.Close())

	err := store.Save(ctx, Credentials{Name: "Home"})
	assert.ErrorIs(t, err, kvstore.ErrClosed)

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, kvstore.ErrClosed)

	err = store.Clear(ctx)
	assert.ErrorIs(t, err, kvstore.ErrClosed)
}
