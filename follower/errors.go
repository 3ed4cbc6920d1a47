package follower

import "errors"

// Sentinel errors naming the loop's own failure phases. FollowerLoop.Tick
// does not return or wrap them: it logs the underlying error and aborts the
// tick. Collaborators (the MetastoreClient, PersistenceGateway) are expected
// to return ErrOutOfSync / ErrStorageConflict directly, and everything else
// is taken to be a transport failure or catch-all.
var (
	// ErrPersistenceReadFailure names a failure to read bookkeeping at the
	// start of a tick.
	ErrPersistenceReadFailure = errors.New("follower: failed to read persisted bookkeeping")
	// ErrUpstreamConnectFailure names a failure to (re)establish the
	// upstream connection.
	ErrUpstreamConnectFailure = errors.New("follower: failed to connect to upstream metastore")
)
