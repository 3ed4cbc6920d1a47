package follower

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type toggleLeader struct{ leader bool }

func (l *toggleLeader) IsLeader() bool { return l.leader }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AuthzServerName = "test"
	cfg.FetcherCacheSize = 16
	return cfg
}

// S1: cold start with hdfs-sync on persists a full image and releases
// waiters pinned to the snapshot's image id.
func TestLoopS1ColdStartHDFSSyncOn(t *testing.T) {
	gw := &fakeGateway{notificationsEmpty: true, pathSnapshotEmpty: true}
	client := &fakeClient{
		currentID: 42,
		snapshot: SnapshotImageResult{
			ImageID: 42,
			PathMap: map[string][]AuthzObject{"/a": {{Principal: "r1"}}},
		},
	}
	leader := &toggleLeader{leader: true}

	cfg := testConfig()
	cfg.HDFSSyncEnabled = true

	loop := New(cfg, gw, client, NewAuthzNotificationProcessor(gw), leader, nil)

	progressed := loop.Tick(context.Background())
	require.True(t, progressed)

	require.Len(t, gw.persistFullImageCalls, 1)
	call := gw.persistFullImageCalls[0]
	require.EqualValues(t, 42, call.imageID)
	require.Equal(t, []AuthzObject{{Principal: "r1"}}, call.pathMap["/a"])

	require.EqualValues(t, 42, loop.CounterWait().Value())
	require.True(t, loop.Status().Ready, "ready marker set after first successful tick")
}

// S2: incremental batch of purely applicable events advances bookkeeping to
// the last event id and applies each in order.
func TestLoopS2Incremental(t *testing.T) {
	gw := &fakeGateway{maxNotificationID: 10}
	var appliedOrder []int64
	gw.applyFn = func(_ context.Context, event Event) (bool, error) {
		appliedOrder = append(appliedOrder, event.ID)
		gw.maxNotificationID = event.ID
		return true, nil
	}

	client := &fakeClient{currentID: 13, events: []Event{{ID: 11}, {ID: 12}, {ID: 13}}}
	leader := &toggleLeader{leader: true}

	loop := New(testConfig(), gw, client, NewAuthzNotificationProcessor(gw), leader, nil)

	progressed := loop.Tick(context.Background())
	require.True(t, progressed)

	require.Equal(t, []int64{11, 12, 13}, appliedOrder)
	require.EqualValues(t, 13, gw.maxNotificationID)
	require.EqualValues(t, 13, loop.CounterWait().Value())
}

// S3: a semantically no-op event still advances maxNotificationId via the
// dedicated bookkeeping-only path.
func TestLoopS3NoOpEvent(t *testing.T) {
	gw := &fakeGateway{maxNotificationID: 20}
	gw.applyFn = func(_ context.Context, event Event) (bool, error) {
		return false, nil
	}

	client := &fakeClient{currentID: 21, events: []Event{{ID: 21}}}
	leader := &toggleLeader{leader: true}

	loop := New(testConfig(), gw, client, NewAuthzNotificationProcessor(gw), leader, nil)

	progressed := loop.Tick(context.Background())
	require.True(t, progressed)

	require.Equal(t, []int64{21}, gw.persistLastIDCalls)
	require.EqualValues(t, 21, gw.maxNotificationID)
}

// S4: a fetcher-reported out-of-sync truncation falls back to a full
// snapshot within the same tick.
func TestLoopS4Truncation(t *testing.T) {
	gw := &fakeGateway{maxNotificationID: 100}
	client := &fakeClient{
		fetchErr:  ErrOutOfSync,
		currentID: 142,
		snapshot:  SnapshotImageResult{ImageID: 142, PathMap: map[string][]AuthzObject{}},
	}
	leader := &toggleLeader{leader: true}

	loop := New(testConfig(), gw, client, NewAuthzNotificationProcessor(gw), leader, nil)

	progressed := loop.Tick(context.Background())
	require.True(t, progressed)
	require.NotEmpty(t, client.fetchCalls, "fetch attempted before falling back")
}

// S5: upstream's current id rewinding below the persisted high-water mark
// forces a full snapshot.
func TestLoopS5Rewind(t *testing.T) {
	gw := &fakeGateway{maxNotificationID: 100}
	client := &fakeClient{
		currentID: 50,
		snapshot:  SnapshotImageResult{ImageID: 50, PathMap: map[string][]AuthzObject{}},
	}
	leader := &toggleLeader{leader: true}

	loop := New(testConfig(), gw, client, NewAuthzNotificationProcessor(gw), leader, nil)

	progressed := loop.Tick(context.Background())
	require.True(t, progressed)
	require.Empty(t, client.fetchCalls, "snapshot taken instead of an incremental fetch")
}

// S6: an operator-triggered refresh forces exactly one full snapshot, and
// the flag does not re-trigger on the following tick.
func TestLoopS6ForceRefresh(t *testing.T) {
	gw := &fakeGateway{maxNotificationID: 5}
	client := &fakeClient{
		currentID: 5,
		snapshot:  SnapshotImageResult{ImageID: 5, PathMap: map[string][]AuthzObject{"/a": nil}},
	}
	leader := &toggleLeader{leader: true}
	refresh := NewRefreshSignal("refresh")

	cfg := testConfig()
	cfg.HDFSSyncEnabled = true

	loop := New(cfg, gw, client, NewAuthzNotificationProcessor(gw), leader, refresh)

	refresh.Set()
	loop.Tick(context.Background())
	require.Len(t, gw.persistFullImageCalls, 1, "first tick after Set takes a snapshot")

	client.fetchCalls = nil
	loop.Tick(context.Background())
	require.Len(t, gw.persistFullImageCalls, 1, "second tick does not re-trigger")
}

// S7: leadership lost mid-batch stops processing cleanly; event 12, during
// whose apply leadership was lost, stays applied, and event 13 is never
// applied.
func TestLoopS7LeadershipLostMidBatch(t *testing.T) {
	gw := &fakeGateway{maxNotificationID: 10}
	leader := &toggleLeader{leader: true}

	gw.applyFn = func(_ context.Context, event Event) (bool, error) {
		gw.maxNotificationID = event.ID
		if event.ID == 12 {
			leader.leader = false
		}
		return true, nil
	}

	client := &fakeClient{currentID: 13, events: []Event{{ID: 11}, {ID: 12}, {ID: 13}}}

	loop := New(testConfig(), gw, client, NewAuthzNotificationProcessor(gw), leader, nil)

	progressed := loop.Tick(context.Background())
	require.True(t, progressed)

	require.EqualValues(t, 12, gw.maxNotificationID)
	require.EqualValues(t, 12, loop.CounterWait().Value())
}

func TestLoopNonLeaderSkipsIngestion(t *testing.T) {
	gw := &fakeGateway{maxNotificationID: 10}
	client := &fakeClient{events: []Event{{ID: 11}}}
	leader := &toggleLeader{leader: false}

	loop := New(testConfig(), gw, client, NewAuthzNotificationProcessor(gw), leader, nil)

	progressed := loop.Tick(context.Background())
	require.True(t, progressed)
	require.Empty(t, client.fetchCalls, "non-leader never fetches")
	require.EqualValues(t, 10, gw.maxNotificationID)
}
