// Package follower implements the metastore follower: a single-writer
// control loop that keeps an authorization service's persistent store
// synchronized with an external Hive-style metastore by ingesting an
// ordered stream of change notifications and, when necessary, reconciling
// via a full snapshot.
package follower

import (
	"context"
	"errors"
)

// EmptyID is the sentinel event/image id meaning "nothing persisted yet" or,
// when returned from takeSnapshot, "the snapshot was abandoned".
const EmptyID int64 = 0

// Kind identifies the authorization-relevant effect carried by an Event's
// payload. The set is modeled on the notification log Hive-style metastores
// (and Sentry-style synchronizers on top of them) emit.
type Kind uint8

// Supported event kinds.
const (
	KindUnknown Kind = iota
	KindCreateDatabase
	KindDropDatabase
	KindCreateTable
	KindDropTable
	KindAlterTable
	KindAddPartition
	KindDropPartition
	KindGrantPrivilege
	KindRevokePrivilege
	KindCreateRole
	KindDropRole
)

func (k Kind) String() string {
	switch k {
	case KindCreateDatabase:
		return "CREATE_DATABASE"
	case KindDropDatabase:
		return "DROP_DATABASE"
	case KindCreateTable:
		return "CREATE_TABLE"
	case KindDropTable:
		return "DROP_TABLE"
	case KindAlterTable:
		return "ALTER_TABLE"
	case KindAddPartition:
		return "ADD_PARTITION"
	case KindDropPartition:
		return "DROP_PARTITION"
	case KindGrantPrivilege:
		return "GRANT_PRIVILEGE"
	case KindRevokePrivilege:
		return "REVOKE_PRIVILEGE"
	case KindCreateRole:
		return "CREATE_ROLE"
	case KindDropRole:
		return "DROP_ROLE"
	default:
		return "UNKNOWN"
	}
}

// Permission is a single authorization-object permission, e.g. "SELECT" or
// "INSERT", attached to a Principal at a Path.
type Permission string

// Payload carries the authorization-relevant fields of a change record.
type Payload struct {
	Kind Kind `cbor:"kind"`
	// Path is the Sentry-style logical resource path, e.g. "db.table".
	Path string `cbor:"path"`
	// OldPath is set for KindAlterTable renames.
	OldPath string `cbor:"old_path,omitempty"`
	// Principal and Permissions are set for grant/revoke events.
	Principal   string       `cbor:"principal,omitempty"`
	Permissions []Permission `cbor:"permissions,omitempty"`
}

// Event is a single change notification read from the upstream metastore.
type Event struct {
	ID          int64   `cbor:"id"`
	Payload     Payload `cbor:"payload"`
	TimestampMs int64   `cbor:"ts_ms"`
}

// AuthzObject is a single permission grant held at a path: a principal and
// the set of permissions it holds there.
type AuthzObject struct {
	Principal   string
	Permissions map[Permission]struct{}
}

// SnapshotImage is a complete, self-consistent view of the
// authorization-relevant state at a given event id.
type SnapshotImage struct {
	ImageID int64
	// PathMap maps an authorization path to the set of authz objects held
	// at that path.
	PathMap map[string][]AuthzObject
}

// ErrOutOfSync is returned by a NotificationFetcher when the upstream no
// longer retains the event immediately following the requested position.
var ErrOutOfSync = errors.New("follower: upstream notification log is out of sync")

// ErrStorageConflict is returned by PersistenceGateway.ApplyEvent when an
// event with the same id has already been persisted.
var ErrStorageConflict = errors.New("follower: event id already persisted")

// PersistenceGateway is the durable store of permissions, path image, and
// bookkeeping counters. It is an external collaborator; this package only
// depends on the interface below. See persistence/badgerstore for a
// concrete Badger-backed implementation.
type PersistenceGateway interface {
	// GetMaxNotificationID returns the last persisted event id, or EmptyID
	// if nothing has ever been applied.
	GetMaxNotificationID(ctx context.Context) (int64, error)
	// IsNotificationsEmpty reports whether no notifications have ever been
	// persisted.
	IsNotificationsEmpty(ctx context.Context) (bool, error)
	// IsPathSnapshotEmpty reports whether no path image has ever been
	// persisted.
	IsPathSnapshotEmpty(ctx context.Context) (bool, error)
	// GetLastImageID returns the id of the most recently persisted full
	// snapshot, or EmptyID if none exists.
	GetLastImageID(ctx context.Context) (int64, error)
	// PersistFullImage atomically replaces the path image and sets
	// maxNotificationId = imageID.
	PersistFullImage(ctx context.Context, pathMap map[string][]AuthzObject, imageID int64) error
	// PersistLastProcessedID advances maxNotificationId only, for no-op
	// events.
	PersistLastProcessedID(ctx context.Context, id int64) error
	// ApplyEvent applies the event's authorization mutation and records its
	// id atomically. It returns whether the event was semantically
	// applicable, or ErrStorageConflict if the id was already persisted.
	ApplyEvent(ctx context.Context, event Event) (applied bool, err error)
}

// SnapshotImageResult is returned by MetastoreClient.FullSnapshot.
type SnapshotImageResult struct {
	ImageID int64
	PathMap map[string][]AuthzObject
}

// MetastoreClient connects to the upstream metastore, returns the current
// event id, fetches notifications in a range, and produces full snapshots.
// It is an external collaborator; see metastore/grpcclient for a concrete
// gRPC-transport implementation.
type MetastoreClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	CurrentNotificationID(ctx context.Context) (int64, error)
	Fetch(ctx context.Context, after int64) ([]Event, error)
	FullSnapshot(ctx context.Context) (SnapshotImageResult, error)
}

// NotificationProcessor translates a single event into a mutation against
// the PersistenceGateway, returning whether the event was semantically
// applicable. See AuthzNotificationProcessor for the concrete
// Hive-metastore-shaped translation this follower ships.
type NotificationProcessor interface {
	ProcessEvent(ctx context.Context, event Event) (applied bool, err error)
}

// LeaderMonitor reports whether this process is currently authorized to
// ingest events. A nil LeaderMonitor is treated as "always leader"
// (single-node mode); see AlwaysLeader.
type LeaderMonitor interface {
	IsLeader() bool
}

// AlwaysLeader is the LeaderMonitor used in single-node deployments where no
// external leader-election subsystem is wired in.
type AlwaysLeader struct{}

// IsLeader always returns true.
func (AlwaysLeader) IsLeader() bool { return true }
