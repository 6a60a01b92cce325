package cache

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncValue_FetchesOnceWhenEmpty(t *testing.T) {
	sv := NewSyncValue[int]()
	var calls int32

	v, err := sv.ReadOrRefresh(time.Hour, func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.EqualValues(t, 1, calls)
}

func TestSyncValue_ServesCachedValueWithoutRefetching(t *testing.T) {
	sv := NewSyncValue[int]()
	var calls int32

	fetch := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return int(calls), nil
	}

	first, err := sv.ReadOrRefresh(time.Hour, fetch)
	require.NoError(t, err)

	second, err := sv.ReadOrRefresh(time.Hour, fetch)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls)
}

func TestSyncValue_RefreshesOnceStale(t *testing.T) {
	sv := NewSyncValue[int]()

	_, err := sv.ReadOrRefresh(-time.Millisecond, func() (int, error) { return 1, nil })
	require.NoError(t, err)

	v, err := sv.ReadOrRefresh(time.Hour, func() (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSyncValue_DegradesToStaleValueOnFetchError(t *testing.T) {
	sv := NewSyncValue[int]()

	_, err := sv.ReadOrRefresh(100*time.Millisecond, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)

	v, err := sv.ReadOrRefresh(time.Hour, func() (int, error) { return 0, errors.New("boom") })
	require.NoError(t, err, "should degrade gracefully to stale value")
	assert.Equal(t, 1, v)
}

func TestSyncValue_ReturnsErrorWhenNoValueAndFetchFails(t *testing.T) {
	sv := NewSyncValue[int]()

	_, err := sv.ReadOrRefresh(time.Hour, func() (int, error) { return 0, errors.New("boom") })
	require.Error(t, err)
}

func TestSyncValue_ReturnsErrorWhenValueExpiredAndFetchFails(t *testing.T) {
	sv := NewSyncValue[int]()

	_, err := sv.ReadOrRefresh(-time.Hour, func() (int, error) { return 1, nil })
	require.NoError(t, err)

	_, err = sv.ReadOrRefresh(time.Hour, func() (int, error) { return 0, errors.New("boom") })
	require.Error(t, err, "expired value must not be served")
}

func TestSyncValue_WithTTLUsesFetchSuppliedValidity(t *testing.T) {
	sv := NewSyncValue[int]()

	v, err := sv.ReadOrRefreshWithTTL(func() (int, time.Duration, error) {
		return 9, time.Hour, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, v)

	v, err = sv.ReadOrRefreshWithTTL(func() (int, time.Duration, error) {
		t.Fatal("should not refetch while not stale")
		return 0, 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}
