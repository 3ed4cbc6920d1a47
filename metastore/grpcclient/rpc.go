package grpcclient

// This file defines the plain Go request/response shapes exchanged over the
// cborCodec connection. There is no .proto source and no generated stub:
// the wire contract is simply "CBOR-encode this struct", which the codec in
// codec.go handles. Method names below double as the grpc full-method
// strings used in Invoke calls.

const (
	methodCurrentNotificationID = "/metafollower.Metastore/CurrentNotificationID"
	methodFetchNotifications    = "/metafollower.Metastore/FetchNotifications"
	methodFullSnapshot          = "/metafollower.Metastore/FullSnapshot"
)

type currentNotificationIDRequest struct{}

type currentNotificationIDResponse struct {
	ID int64
}

type fetchNotificationsRequest struct {
	AfterID int64
	Limit   int
}

type fetchNotificationsResponse struct {
	Events []wireEvent
}

type fullSnapshotRequest struct{}

type fullSnapshotResponse struct {
	ImageID int64
	Paths   []wirePathEntry
}

// wireEvent mirrors follower.Event but keeps the wire shape independent of
// the domain type so the two can evolve separately.
type wireEvent struct {
	ID          int64
	TimestampMs int64
	Payload     wirePayload
}

type wirePayload struct {
	Kind        uint8
	Path        string
	OldPath     string
	Principal   string
	Permissions []string
}

type wirePathEntry struct {
	Path    string
	Objects []wireAuthzObject
}

type wireAuthzObject struct {
	Principal   string
	Permissions []string
}
