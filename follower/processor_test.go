package follower

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyCreateAndDropTable(t *testing.T) {
	pathMap := map[string][]AuthzObject{}

	applied := Apply(pathMap, Payload{Kind: KindCreateTable, Path: "db.t1"})
	require.True(t, applied)
	_, exists := pathMap["db.t1"]
	require.True(t, exists)

	applied = Apply(pathMap, Payload{Kind: KindCreateTable, Path: "db.t1"})
	require.False(t, applied, "creating an already-present path is a no-op")

	applied = Apply(pathMap, Payload{Kind: KindDropTable, Path: "db.t1"})
	require.True(t, applied)
	_, exists = pathMap["db.t1"]
	require.False(t, exists)
}

func TestApplyDropDatabaseCascadesToNestedPaths(t *testing.T) {
	pathMap := map[string][]AuthzObject{
		"db":        nil,
		"db.t1":     nil,
		"db.t2":     nil,
		"otherdb.t": nil,
	}

	applied := Apply(pathMap, Payload{Kind: KindDropDatabase, Path: "db"})
	require.True(t, applied)

	require.NotContains(t, pathMap, "db")
	require.NotContains(t, pathMap, "db.t1")
	require.NotContains(t, pathMap, "db.t2")
	require.Contains(t, pathMap, "otherdb.t")
}

func TestApplyAlterTableRenamesPath(t *testing.T) {
	pathMap := map[string][]AuthzObject{
		"db.old": {{Principal: "alice", Permissions: map[Permission]struct{}{"SELECT": {}}}},
	}

	applied := Apply(pathMap, Payload{Kind: KindAlterTable, Path: "db.new", OldPath: "db.old"})
	require.True(t, applied)
	require.NotContains(t, pathMap, "db.old")
	require.Contains(t, pathMap, "db.new")
	require.Equal(t, "alice", pathMap["db.new"][0].Principal)
}

func TestApplyAlterTableMissingOldPathIsNoOp(t *testing.T) {
	pathMap := map[string][]AuthzObject{}
	applied := Apply(pathMap, Payload{Kind: KindAlterTable, Path: "db.new", OldPath: "db.old"})
	require.False(t, applied)
}

func TestApplyGrantPrivilegeNewPrincipal(t *testing.T) {
	pathMap := map[string][]AuthzObject{"db.t1": nil}

	applied := Apply(pathMap, Payload{
		Kind:        KindGrantPrivilege,
		Path:        "db.t1",
		Principal:   "alice",
		Permissions: []Permission{"SELECT", "INSERT"},
	})
	require.True(t, applied)
	require.Len(t, pathMap["db.t1"], 1)
	require.Contains(t, pathMap["db.t1"][0].Permissions, Permission("SELECT"))
	require.Contains(t, pathMap["db.t1"][0].Permissions, Permission("INSERT"))
}

func TestApplyGrantPrivilegeAlreadyHeldIsNoOp(t *testing.T) {
	pathMap := map[string][]AuthzObject{
		"db.t1": {{Principal: "alice", Permissions: map[Permission]struct{}{"SELECT": {}}}},
	}

	applied := Apply(pathMap, Payload{
		Kind:        KindGrantPrivilege,
		Path:        "db.t1",
		Principal:   "alice",
		Permissions: []Permission{"SELECT"},
	})
	require.False(t, applied)
}

func TestApplyRevokePrivilege(t *testing.T) {
	pathMap := map[string][]AuthzObject{
		"db.t1": {{Principal: "alice", Permissions: map[Permission]struct{}{"SELECT": {}, "INSERT": {}}}},
	}

	applied := Apply(pathMap, Payload{
		Kind:        KindRevokePrivilege,
		Path:        "db.t1",
		Principal:   "alice",
		Permissions: []Permission{"SELECT"},
	})
	require.True(t, applied)
	require.NotContains(t, pathMap["db.t1"][0].Permissions, Permission("SELECT"))
	require.Contains(t, pathMap["db.t1"][0].Permissions, Permission("INSERT"))
}

func TestApplyRoleEventsAreNoOps(t *testing.T) {
	pathMap := map[string][]AuthzObject{}
	require.False(t, Apply(pathMap, Payload{Kind: KindCreateRole}))
	require.False(t, Apply(pathMap, Payload{Kind: KindDropRole}))
}

type fakeGateway struct {
	applyFn func(ctx context.Context, event Event) (bool, error)

	maxNotificationID  int64
	notificationsEmpty bool
	pathSnapshotEmpty  bool
	lastImageID        int64

	persistFullImageCalls []struct {
		pathMap map[string][]AuthzObject
		imageID int64
	}
	persistLastIDCalls []int64
}

func (g *fakeGateway) GetMaxNotificationID(context.Context) (int64, error) {
	return g.maxNotificationID, nil
}

func (g *fakeGateway) IsNotificationsEmpty(context.Context) (bool, error) {
	return g.notificationsEmpty, nil
}

func (g *fakeGateway) IsPathSnapshotEmpty(context.Context) (bool, error) {
	return g.pathSnapshotEmpty, nil
}

func (g *fakeGateway) GetLastImageID(context.Context) (int64, error) {
	return g.lastImageID, nil
}

func (g *fakeGateway) PersistFullImage(_ context.Context, pathMap map[string][]AuthzObject, imageID int64) error {
	g.persistFullImageCalls = append(g.persistFullImageCalls, struct {
		pathMap map[string][]AuthzObject
		imageID int64
	}{pathMap, imageID})
	g.maxNotificationID = imageID
	g.lastImageID = imageID
	g.notificationsEmpty = false
	g.pathSnapshotEmpty = false
	return nil
}

func (g *fakeGateway) PersistLastProcessedID(_ context.Context, id int64) error {
	g.persistLastIDCalls = append(g.persistLastIDCalls, id)
	g.maxNotificationID = id
	g.notificationsEmpty = false
	return nil
}

func (g *fakeGateway) ApplyEvent(ctx context.Context, event Event) (bool, error) {
	if g.applyFn != nil {
		return g.applyFn(ctx, event)
	}
	g.maxNotificationID = event.ID
	g.notificationsEmpty = false
	return true, nil
}

func TestAuthzNotificationProcessorDelegatesToGateway(t *testing.T) {
	gw := &fakeGateway{}
	p := NewAuthzNotificationProcessor(gw)

	applied, err := p.ProcessEvent(context.Background(), Event{ID: 1, Payload: Payload{Kind: KindCreateTable, Path: "db.t1"}})
	require.NoError(t, err)
	require.True(t, applied)
	require.EqualValues(t, 1, gw.maxNotificationID)
}
