// Package grpcclient implements follower.MetastoreClient over a gRPC
// channel: build up grpc.DialOption from TLS credentials and a retry
// interceptor, then hold a single *grpc.ClientConn from Connect until
// Disconnect.
package grpcclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/retry"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/security/advancedtls"
	"google.golang.org/grpc/status"

	"github.com/sentrysync/metafollower/common/logging"
	"github.com/sentrysync/metafollower/follower"
)

// Config describes how to reach the upstream metastore.
type Config struct {
	// Address is the dial target, e.g. "metastore.internal:9083".
	Address string
	// Insecure disables TLS entirely (for local/dev deployments only).
	Insecure bool
	// ServerName is the TLS server name to verify against, when Insecure is
	// false and CACertPath is empty (system trust root is used).
	ServerName string
	// CACertPath, if set, pins verification to this CA bundle via
	// advancedtls instead of the system trust store.
	CACertPath string
	// FetchLimit bounds how many events a single FetchNotifications RPC may
	// return.
	FetchLimit int
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration
}

// Client is a follower.MetastoreClient backed by a gRPC channel using the
// module's CBOR codec in place of generated protobuf stubs.
type Client struct {
	cfg    Config
	logger *logging.Logger
	conn   *grpc.ClientConn
}

var _ follower.MetastoreClient = (*Client)(nil)

// New constructs a Client. It does not dial; call Connect to establish the
// channel.
func New(cfg Config) *Client {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 1000
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg, logger: logging.GetLogger("metastore/grpcclient")}
}

func (c *Client) dialOptions() ([]grpc.DialOption, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithUnaryInterceptor(grpc_retry.UnaryClientInterceptor(
			grpc_retry.WithMax(3),
			grpc_retry.WithBackoff(grpc_retry.BackoffExponential(200*time.Millisecond)),
			grpc_retry.WithCodes(codes.Unavailable, codes.ResourceExhausted),
		)),
	}

	switch {
	case c.cfg.Insecure:
		opts = append(opts, grpc.WithInsecure())
	case c.cfg.CACertPath != "":
		creds, err := advancedtls.NewClientCreds(&advancedtls.ClientOptions{
			RootOptions: advancedtls.RootCertificateOptions{
				RootCertificateFilePath: c.cfg.CACertPath,
			},
			VType: advancedtls.CertVerification,
		})
		if err != nil {
			return nil, fmt.Errorf("grpcclient: failed to build TLS credentials: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	default:
		creds := credentials.NewTLS(&tls.Config{ServerName: c.cfg.ServerName})
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}

	return opts, nil
}

// Connect dials the upstream metastore. It is safe to call again after
// Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	opts, err := c.dialOptions()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, c.cfg.Address, append(opts, grpc.WithBlock())...)
	if err != nil {
		return fmt.Errorf("grpcclient: failed to dial %s: %w", c.cfg.Address, err)
	}

	c.conn = conn
	c.logger.Info("connected to upstream metastore", "address", c.cfg.Address)
	return nil
}

// Disconnect closes the channel, if open.
func (c *Client) Disconnect() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("error closing upstream connection", "err", err)
	}
	c.conn = nil
}

// CurrentNotificationID implements follower.MetastoreClient.
func (c *Client) CurrentNotificationID(ctx context.Context) (int64, error) {
	var resp currentNotificationIDResponse
	err := c.conn.Invoke(ctx, methodCurrentNotificationID, &currentNotificationIDRequest{}, &resp)
	if err != nil {
		return 0, classify(err)
	}
	return resp.ID, nil
}

// Fetch implements follower.MetastoreClient.
func (c *Client) Fetch(ctx context.Context, after int64) ([]follower.Event, error) {
	req := &fetchNotificationsRequest{AfterID: after, Limit: c.cfg.FetchLimit}
	var resp fetchNotificationsResponse
	if err := c.conn.Invoke(ctx, methodFetchNotifications, req, &resp); err != nil {
		return nil, classify(err)
	}

	events := make([]follower.Event, 0, len(resp.Events))
	for _, we := range resp.Events {
		events = append(events, fromWireEvent(we))
	}
	return events, nil
}

// FullSnapshot implements follower.MetastoreClient.
func (c *Client) FullSnapshot(ctx context.Context) (follower.SnapshotImageResult, error) {
	var resp fullSnapshotResponse
	if err := c.conn.Invoke(ctx, methodFullSnapshot, &fullSnapshotRequest{}, &resp); err != nil {
		return follower.SnapshotImageResult{}, classify(err)
	}

	pathMap := make(map[string][]follower.AuthzObject, len(resp.Paths))
	for _, entry := range resp.Paths {
		objs := make([]follower.AuthzObject, 0, len(entry.Objects))
		for _, o := range entry.Objects {
			objs = append(objs, follower.AuthzObject{
				Principal:   o.Principal,
				Permissions: toPermissionSet(o.Permissions),
			})
		}
		pathMap[entry.Path] = objs
	}

	return follower.SnapshotImageResult{ImageID: resp.ImageID, PathMap: pathMap}, nil
}

// classify maps gRPC status codes to the sentinel errors the follower loop
// understands: OutOfRange means the upstream has compacted past the
// requested position and is returned as follower.ErrOutOfSync, which
// FollowerLoop.Tick answers with a full snapshot when Fetch reports it.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if st.Code() == codes.OutOfRange {
		return follower.ErrOutOfSync
	}
	if hint := requestHint(st); hint != "" {
		return fmt.Errorf("grpcclient: %s: %w", hint, err)
	}
	return err
}

// requestHint pulls a human-readable correction out of a status's
// RequestInfo detail, when the upstream attaches one (e.g. "retry against
// replica X"). Returns "" if no such detail is present.
func requestHint(st *status.Status) string {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.RequestInfo); ok {
			return info.ServingData
		}
	}
	return ""
}

func fromWireEvent(we wireEvent) follower.Event {
	return follower.Event{
		ID:          we.ID,
		TimestampMs: we.TimestampMs,
		Payload: follower.Payload{
			Kind:        follower.Kind(we.Payload.Kind),
			Path:        we.Payload.Path,
			OldPath:     we.Payload.OldPath,
			Principal:   we.Payload.Principal,
			Permissions: toPermissions(we.Payload.Permissions),
		},
	}
}

func toPermissions(ss []string) []follower.Permission {
	if len(ss) == 0 {
		return nil
	}
	perms := make([]follower.Permission, len(ss))
	for i, s := range ss {
		perms[i] = follower.Permission(s)
	}
	return perms
}

func toPermissionSet(ss []string) map[follower.Permission]struct{} {
	set := make(map[follower.Permission]struct{}, len(ss))
	for _, s := range ss {
		set[follower.Permission(s)] = struct{}{}
	}
	return set
}
