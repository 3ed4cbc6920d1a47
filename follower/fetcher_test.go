package follower

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	connectErr error
	connected  bool

	currentID    int64
	currentIDErr error

	events   []Event
	fetchErr error

	snapshot    SnapshotImageResult
	snapshotErr error

	fetchCalls []int64
}

func (f *fakeClient) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() { f.connected = false }

func (f *fakeClient) CurrentNotificationID(context.Context) (int64, error) {
	return f.currentID, f.currentIDErr
}

func (f *fakeClient) Fetch(ctx context.Context, after int64) ([]Event, error) {
	f.fetchCalls = append(f.fetchCalls, after)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []Event
	for _, ev := range f.events {
		if ev.ID > after {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeClient) FullSnapshot(context.Context) (SnapshotImageResult, error) {
	return f.snapshot, f.snapshotErr
}

func TestNotificationFetcherFetchFiltersSeen(t *testing.T) {
	client := &fakeClient{events: []Event{{ID: 1}, {ID: 2}, {ID: 3}}}
	f := NewNotificationFetcher(client, 10)

	f.UpdateCache(Event{ID: 2})

	events, err := f.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.EqualValues(t, 1, events[0].ID)
	require.EqualValues(t, 3, events[1].ID)
}

func TestNotificationFetcherCacheEviction(t *testing.T) {
	client := &fakeClient{}
	f := NewNotificationFetcher(client, 2)

	f.UpdateCache(Event{ID: 1})
	f.UpdateCache(Event{ID: 2})
	f.UpdateCache(Event{ID: 3}) // evicts 1

	require.Len(t, f.cacheSet, 2)
	_, has1 := f.cacheSet[1]
	_, has3 := f.cacheSet[3]
	require.False(t, has1, "oldest entry evicted")
	require.True(t, has3)
}

func TestNotificationFetcherCurrentID(t *testing.T) {
	client := &fakeClient{currentID: 99}
	f := NewNotificationFetcher(client, 10)

	id, err := f.CurrentID(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 99, id)
}

func TestNotificationFetcherCloseDisconnects(t *testing.T) {
	client := &fakeClient{connected: true}
	f := NewNotificationFetcher(client, 10)
	f.Close()
	require.False(t, client.connected)
}
