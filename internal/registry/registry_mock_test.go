package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
	"github.com/PratikDhanave/email-event-registry/internal/models"
	"github.com/PratikDhanave/email-event-registry/internal/testdata/mockbackend"
)

var fixedNow = time.Date(2025, 1, 1, 10, 0, 0, 999, time.UTC)

func newMockRegistry(b *mockbackend.Backend) *Registry {
	return New(b, WithClock(func() time.Time { return fixedNow }))
}

func TestRegisterOpen_PassesWindowToBackend(t *testing.T) {
	b := &mockbackend.Backend{}
	r := newMockRegistry(b)
	m, i, c := uuid.New(), uuid.New(), uuid.New()

	now := fixedNow.Truncate(time.Microsecond)
	key := models.OpenKey{MessageID: m, InstanceID: i, ContactID: c}
	want := models.RegistrationResult{Timestamp: now, IsFirstRegistration: true}
	b.On("UpsertOpen", mock.Anything, key, now, now.Add(-30*time.Second)).Return(want, nil).Once()

	got, err := r.RegisterOpen(context.Background(), m, i, c, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	b.AssertExpectations(t)
}

func TestRegisterOpen_InvalidArgumentSkipsStorage(t *testing.T) {
	b := &mockbackend.Backend{}
	r := newMockRegistry(b)

	_, err := r.RegisterOpen(context.Background(), uuid.New(), uuid.New(), uuid.New(), -time.Nanosecond)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))

	_, err = r.RegisterClick(context.Background(), uuid.New(), uuid.Nil, uuid.New(), "https://x", 0)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))

	b.AssertNotCalled(t, "UpsertOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	b.AssertNotCalled(t, "UpsertClick", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRegister_PropagatesStorageErrors(t *testing.T) {
	b := &mockbackend.Backend{}
	r := newMockRegistry(b)

	down := errs.StorageUnavailable("register click", "k", errors.New("connection reset"))
	b.On("UpsertClick", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(models.RegistrationResult{}, down).Once()

	res, err := r.RegisterClick(context.Background(), uuid.New(), uuid.New(), uuid.New(), "https://x", time.Minute)
	assert.True(t, errs.Is(err, errs.KindStorageUnavailable))
	assert.Equal(t, models.RegistrationResult{}, res)
}

func TestRegister_RejectsMalformedResults(t *testing.T) {
	tests := []struct {
		name string
		res  models.RegistrationResult
	}{
		{"no timestamp", models.RegistrationResult{IsFirstRegistration: true}},
		{"duplicate and first", models.RegistrationResult{Timestamp: fixedNow, IsDuplicate: true, IsFirstRegistration: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mockbackend.Backend{}
			r := newMockRegistry(b)
			b.On("UpsertOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(tt.res, nil).Once()

			_, err := r.RegisterOpen(context.Background(), uuid.New(), uuid.New(), uuid.New(), 0)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindCorruptResponse))
			assert.Contains(t, err.Error(), "register open")
		})
	}
}

func TestRegisterClick_SerializedThroughGate(t *testing.T) {
	b := &mockbackend.Backend{}
	r := newMockRegistry(b)

	var inFlight, maxInFlight int32
	b.On("UpsertClick", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}).
		Return(models.RegistrationResult{Timestamp: fixedNow}, nil)

	m, i, c := uuid.New(), uuid.New(), uuid.New()
	done := make(chan struct{})
	for n := 0; n < 8; n++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			_, err := r.RegisterClick(context.Background(), m, i, c, uuid.NewString(), 0)
			assert.NoError(t, err)
		}(n)
	}
	for n := 0; n < 8; n++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestLookup_UsesCacheWhenConfigured(t *testing.T) {
	b := &mockbackend.Backend{}
	c := &fakeCache{opens: map[models.OpenKey]time.Time{}}
	r := New(b, WithCache(c), WithClock(func() time.Time { return fixedNow }))

	m, i, ct := uuid.New(), uuid.New(), uuid.New()
	key := models.OpenKey{MessageID: m, InstanceID: i, ContactID: ct}
	now := fixedNow.Truncate(time.Microsecond)
	b.On("UpsertOpen", mock.Anything, key, now, now).
		Return(models.RegistrationResult{Timestamp: now, IsFirstRegistration: true}, nil).Once()

	_, err := r.RegisterOpen(context.Background(), m, i, ct, 0)
	require.NoError(t, err)

	ts, ok, err := r.LookupOpenEvent(context.Background(), m, i, ct)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now, ts)
	b.AssertNotCalled(t, "LastOpen", mock.Anything, mock.Anything)
}

type fakeCache struct {
	opens map[models.OpenKey]time.Time
}

func (f *fakeCache) LastOpen(_ context.Context, key models.OpenKey) (time.Time, bool, error) {
	ts, ok := f.opens[key]
	return ts, ok, nil
}

func (f *fakeCache) LastClick(context.Context, models.ClickKey) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeCache) RememberOpen(_ context.Context, key models.OpenKey, ts time.Time) {
	f.opens[key] = ts
}

func (f *fakeCache) RememberClick(context.Context, models.ClickKey, time.Time) {}
