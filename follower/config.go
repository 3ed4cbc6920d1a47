package follower

import "time"

// Config is the follower's configuration surface. Values are
// typically bound from spf13/viper flags by the cmd/follower CLI; see
// cmd/follower for the flag definitions and defaults.
type Config struct {
	// AuthzServerName identifies this authorization server instance in
	// logs and metrics labels.
	AuthzServerName string

	// HDFSSyncEnabled controls snapshot decision rule #2 and whether the
	// full path image is persisted alongside notification bookkeeping.
	HDFSSyncEnabled bool

	// FullUpdateSubscribeEnabled gates whether the follower subscribes to
	// the force-refresh pub/sub topic at all.
	FullUpdateSubscribeEnabled bool

	// TickInterval is the scheduler period between follower ticks.
	TickInterval time.Duration

	// FetcherCacheSize bounds the NotificationFetcher's dedup cache.
	FetcherCacheSize int
}

const (
	defaultAuthzServerName  = "authz-server"
	deprecatedAuthzNameKey  = "sentry.authz.server.name" // nolint: gosec
	currentAuthzNameKey     = "authz.server.name"
	defaultTickInterval     = 5 * time.Second
	defaultFetcherCacheSize = 4096
)

// DefaultConfig returns a Config with the hard default AuthzServerName and
// sensible defaults for everything else. The AuthzServerName fallback chain
// (current key, then the deprecated key, then this default) is resolved by
// cmd/follower, not here.
func DefaultConfig() Config {
	return Config{
		AuthzServerName:            defaultAuthzServerName,
		HDFSSyncEnabled:            false,
		FullUpdateSubscribeEnabled: true,
		TickInterval:               defaultTickInterval,
		FetcherCacheSize:           defaultFetcherCacheSize,
	}
}
