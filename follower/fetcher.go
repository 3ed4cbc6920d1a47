package follower

import (
	"container/list"
	"context"

	"github.com/sentrysync/metafollower/common/logging"
)

// NotificationFetcher wraps a MetastoreClient, adding a bounded FIFO cache
// of recently seen event ids so that re-delivered events from upstream are
// suppressed before they ever reach the processing pipeline.
type NotificationFetcher struct {
	client MetastoreClient
	logger *logging.Logger

	cacheSize int
	cacheList *list.List              // front = oldest, back = newest
	cacheSet  map[int64]*list.Element // event id -> its node in cacheList
}

// NewNotificationFetcher constructs a fetcher around client with a dedup
// cache bounded to cacheSize entries (oldest-first eviction).
func NewNotificationFetcher(client MetastoreClient, cacheSize int) *NotificationFetcher {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	return &NotificationFetcher{
		client:    client,
		logger:    logging.GetLogger("follower/fetcher"),
		cacheSize: cacheSize,
		cacheList: list.New(),
		cacheSet:  make(map[int64]*list.Element),
	}
}

// CurrentID returns the upstream's current maximum event id.
func (f *NotificationFetcher) CurrentID(ctx context.Context) (int64, error) {
	return f.client.CurrentNotificationID(ctx)
}

// Fetch returns events with id strictly greater than after, with any event
// already present in the dedup cache filtered out. Returns ErrOutOfSync if
// the upstream no longer retains events at position after+1.
func (f *NotificationFetcher) Fetch(ctx context.Context, after int64) ([]Event, error) {
	events, err := f.client.Fetch(ctx, after)
	if err != nil {
		return nil, err
	}

	filtered := make([]Event, 0, len(events))
	for _, ev := range events {
		if _, seen := f.cacheSet[ev.ID]; seen {
			f.logger.Debug("suppressing re-delivered event", "event_id", ev.ID)
			continue
		}
		filtered = append(filtered, ev)
	}
	return filtered, nil
}

// UpdateCache remembers event.ID as already observed, evicting the oldest
// entry if the cache is at capacity.
func (f *NotificationFetcher) UpdateCache(event Event) {
	if _, ok := f.cacheSet[event.ID]; ok {
		return
	}

	elem := f.cacheList.PushBack(event.ID)
	f.cacheSet[event.ID] = elem

	for f.cacheList.Len() > f.cacheSize {
		oldest := f.cacheList.Front()
		f.cacheList.Remove(oldest)
		delete(f.cacheSet, oldest.Value.(int64))
	}
}

// Close releases the underlying transport.
func (f *NotificationFetcher) Close() {
	f.client.Disconnect()
}
