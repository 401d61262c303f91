package credentials

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
)

const testToken = "ATATT3xFfGF0TestTokenValue123456"

func testKey() []byte {
	return bytes.Repeat([]byte{7}, KeySize)
}

func newTestStore(t *testing.T, kv KeyValueStore, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(kv, testKey(), opts...)
	require.NoError(t, err)
	return s
}

func TestNewStore_RejectsBadKey(t *testing.T) {
	_, err := NewStore(NewMemoryKeyValueStore(), []byte("short"))
	assert.Error(t, err)

	_, err = NewStore(nil, testKey())
	assert.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKeyValueStore()
	s := newTestStore(t, kv)

	ref, err := s.Store(ctx, testToken)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, RefPrefix))
	assert.True(t, IsRef(ref))
	assert.NotContains(t, ref, testToken)

	got, ok, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testToken, got)
}

func TestStore_TokenNeverStoredInPlaintext(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKeyValueStore()
	s := newTestStore(t, kv)

	ref, err := s.Store(ctx, testToken)
	require.NoError(t, err)

	raw, ok, err := kv.Read(ctx, ref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, bytes.Contains(raw, []byte(testToken)))
}

func TestStore_RefUsesTimestamp(t *testing.T) {
	ctx := context.Background()
	fixed := time.Unix(1700000000, 42)
	s := newTestStore(t, NewMemoryKeyValueStore(), WithClock(func() time.Time { return fixed }))

	ref1, err := s.Store(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, "secure_1700000000000000042", ref1)

	// Same clock reading: the next reference steps past the taken one.
	ref2, err := s.Store(ctx, testToken+"2")
	require.NoError(t, err)
	assert.Equal(t, "secure_1700000000000000043", ref2)
}

func TestStore_RejectsInvalidToken(t *testing.T) {
	s := newTestStore(t, NewMemoryKeyValueStore())

	_, err := s.Store(context.Background(), "bad token")
	require.Error(t, err)
	assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
}

func TestStore_GetAbsent(t *testing.T) {
	s := newTestStore(t, NewMemoryKeyValueStore())

	got, ok, err := s.Get(context.Background(), "secure_123")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestStore_GetMalformedRef(t *testing.T) {
	s := newTestStore(t, NewMemoryKeyValueStore())

	_, _, err := s.Get(context.Background(), "plain-token-value")
	require.Error(t, err)
	assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
	assert.NotContains(t, err.Error(), "plain-token-value")
}

func TestStore_GetFailsClosedOnWrongKey(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKeyValueStore()
	s := newTestStore(t, kv)

	ref, err := s.Store(ctx, testToken)
	require.NoError(t, err)

	other, err := NewStore(kv, bytes.Repeat([]byte{9}, KeySize))
	require.NoError(t, err)

	_, ok, err := other.Get(ctx, ref)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
	assert.NotContains(t, err.Error(), ref)
	assert.NotContains(t, err.Error(), testToken)
}

func TestStore_GetFailsClosedOnMovedCiphertext(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKeyValueStore()
	s := newTestStore(t, kv)

	ref, err := s.Store(ctx, testToken)
	require.NoError(t, err)
	sealed, _, _ := kv.Read(ctx, ref)
	require.NoError(t, kv.Write(ctx, "secure_1", sealed))

	_, _, err = s.Get(ctx, "secure_1")
	assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
}

func TestStore_GetFailsClosedOnCorruption(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKeyValueStore()
	s := newTestStore(t, kv)
	require.NoError(t, kv.Write(ctx, "secure_5", []byte("xx")))

	_, _, err := s.Get(ctx, "secure_5")
	assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
}

type failingKV struct{ err error }

func (f failingKV) Write(context.Context, string, []byte) error { return f.err }
func (f failingKV) Read(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.err
}
func (f failingKV) Delete(context.Context, string) error { return f.err }

func TestStore_PlatformErrorsBecomeValidation(t *testing.T) {
	platformErr := errors.New("keychain: secure_99 locked")
	s := newTestStore(t, failingKV{err: platformErr})

	_, _, err := s.Get(context.Background(), "secure_99")
	require.Error(t, err)
	assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
	assert.NotContains(t, err.Error(), "secure_99")
	assert.ErrorIs(t, err, platformErr)

	_, err = s.Store(context.Background(), testToken)
	assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
}

func TestStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryKeyValueStore())

	ref, err := s.Store(ctx, testToken)
	require.NoError(t, err)
	require.NoError(t, s.Invalidate(ctx, ref))

	_, ok, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Invalidate(ctx, ref), "invalidating twice is fine")
	assert.Error(t, s.Invalidate(ctx, "nope"))
}

func TestStore_ConcurrentGetIdentical(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryKeyValueStore())

	ref, err := s.Store(ctx, testToken)
	require.NoError(t, err)

	const n = 64
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = s.Get(ctx, ref)
		}(i)
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, testToken, results[0])
}
