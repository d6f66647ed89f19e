package cache

import (
	"context"
	"testing"
	"time"

	"avatar-studio/internal/logging"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPrefix(t *testing.T) {
	r := New(Config{Addr: "127.0.0.1:0", Prefix: "studio"}, logging.Discard())
	defer r.Close()

	if got := r.key("plan:free"); got != "studio:plan:free" {
		t.Fatalf("unexpected key %q", got)
	}

	bare := New(Config{Addr: "127.0.0.1:0"}, logging.Discard())
	defer bare.Close()
	if got := bare.key("plan:free"); got != "plan:free" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLockOwnership(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	a := New(Config{Addr: mr.Addr(), Prefix: "studio"}, logging.Discard())
	defer a.Close()
	b := New(Config{Addr: mr.Addr(), Prefix: "studio"}, logging.Discard())
	defer b.Close()

	ok, err := a.Acquire(ctx, "poll:job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Acquire(ctx, "poll:job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "owner re-acquires its own lock")

	ok, err = b.Acquire(ctx, "poll:job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx, "poll:job"))
	assert.True(t, mr.Exists("studio:lock:poll:job"), "release by a non-owner keeps the lock")

	ok, err = a.Refresh(ctx, "poll:job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = b.Acquire(ctx, "poll:job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken over")

	ok, err = a.Refresh(ctx, "poll:job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, a.Release(ctx, "poll:job"))
	assert.True(t, mr.Exists("studio:lock:poll:job"))

	require.NoError(t, b.Release(ctx, "poll:job"))
	assert.False(t, mr.Exists("studio:lock:poll:job"))
}
