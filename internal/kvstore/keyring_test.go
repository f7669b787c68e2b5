package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

// lockedKeyring blocks every call until released, like a Secret Service
// collection waiting on an unlock prompt
type lockedKeyring struct {
	release chan struct{}
}

func newLockedKeyring(t *testing.T) *lockedKeyring {
	k := &lockedKeyring{release: make(chan struct{})}
	t.Cleanup(func() { close(k.release) })
	return k
}

func (k *lockedKeyring) Get(service, user string) (string, error) {
	<-k.release
	return "", keyring.ErrNotFound
}

func (k *lockedKeyring) Set(service, user, secret string) error {
	<-k.release
	return nil
}

func (k *lockedKeyring) Delete(service, user string) error {
	<-k.release
	return nil
}

func TestKeyringStore_LockedKeyringHonoursTimeout(t *testing.T) {
	ns := newKeyringStore("netmgr-test", newLockedKeyring(t), zap.NewNop()).Namespace("wifi")

	ops := map[string]func(ctx context.Context) error{
		"load": func(ctx context.Context) error {
			_, err := ns.Load(ctx)
			return err
		},
		"replace": func(ctx context.Context) error {
			return ns.Replace(ctx, map[string]string{"ssid": "HomeNet"})
		},
		"clear": func(ctx context.Context) error {
			return ns.Clear(ctx)
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			start := time.Now()
			err := op(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestKeyringStore_CancelledContext(t *testing.T) {
	keyring.MockInit()
	ns := NewKeyringStore("netmgr-test", zap.NewNop()).Namespace("cancelled")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, ns.Replace(ctx, map[string]string{"a": "1"}), context.Canceled)

	values, err := ns.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values, "nothing written after cancellation")
}

func TestKeyringStore_BackendError(t *testing.T) {
	keyring.MockInitWithError(errors.New("secret service unavailable"))
	t.Cleanup(keyring.MockInit)
	ns := NewKeyringStore("netmgr-test", zap.NewNop()).Namespace("wifi")

	_, err := ns.Load(context.Background())
	assert.ErrorContains(t, err, "secret service unavailable")
	assert.Error(t, ns.Replace(context.Background(), map[string]string{"a": "1"}))
}
