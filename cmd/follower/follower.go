// Package follower implements the "follower" sub-command, the process
// entry point that wires Config, the concrete PersistenceGateway/
// MetastoreClient adapters, and the tick scheduler together.
package follower

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/multiformats/go-multiaddr"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"

	"github.com/sentrysync/metafollower/common/logging"
	"github.com/sentrysync/metafollower/follower"
	"github.com/sentrysync/metafollower/metastore/grpcclient"
	"github.com/sentrysync/metafollower/persistence/badgerstore"
	"github.com/sentrysync/metafollower/pubsubtransport"
)

const (
	cfgAuthzServerName            = "authz.server.name"
	cfgDeprecatedAuthzServerName  = "sentry.authz.server.name" // nolint: gosec
	cfgHDFSSyncEnabled            = "hdfs.sync.enabled"
	cfgFullUpdateSubscribeEnabled = "full_update.subscribe.enabled"
	cfgTickInterval               = "tick.interval"
	cfgFetcherCacheSize           = "fetcher.cache.size"

	cfgDataDir = "data.dir"

	cfgMetastoreAddress     = "metastore.address"
	cfgMetastoreInsecure    = "metastore.insecure"
	cfgMetastoreCACertPath  = "metastore.ca_cert_path"
	cfgMetastoreFetchLimit  = "metastore.fetch_limit"

	cfgJaegerServiceName = "jaeger.service_name"

	cfgP2PListenAddress = "p2p.listen_address"
)

var (
	followerFlags = flag.NewFlagSet("", flag.ContinueOnError)

	followerCmd = &cobra.Command{
		Use:   "follower",
		Short: "run the metastore follower control loop",
		RunE:  doRun,
	}

	logger = logging.GetLogger("cmd/follower")
)

func resolveAuthzServerName() string {
	if v := viper.GetString(cfgAuthzServerName); v != "" {
		return v
	}
	if v := viper.GetString(cfgDeprecatedAuthzServerName); v != "" {
		logger.Warn("using deprecated authz server name key, please migrate",
			"deprecated_key", cfgDeprecatedAuthzServerName,
			"current_key", cfgAuthzServerName,
		)
		return v
	}
	return follower.DefaultConfig().AuthzServerName
}

func configFromFlags() follower.Config {
	cfg := follower.DefaultConfig()
	cfg.AuthzServerName = resolveAuthzServerName()
	cfg.HDFSSyncEnabled = viper.GetBool(cfgHDFSSyncEnabled)
	cfg.FullUpdateSubscribeEnabled = viper.GetBool(cfgFullUpdateSubscribeEnabled)
	if d := viper.GetDuration(cfgTickInterval); d > 0 {
		cfg.TickInterval = d
	}
	if n := viper.GetInt(cfgFetcherCacheSize); n > 0 {
		cfg.FetcherCacheSize = n
	}
	return cfg
}

func initTracer(serviceName string) (opentracing.Tracer, func(), error) {
	jcfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: false,
		},
	}

	tracer, closer, err := jcfg.NewTracer()
	if err != nil {
		return nil, nil, err
	}
	opentracing.SetGlobalTracer(tracer)

	return tracer, func() { _ = closer.Close() }, nil
}

func doRun(cmd *cobra.Command, args []string) error {
	logging.Initialize(os.Stdout, logging.LevelInfo)

	cfg := configFromFlags()

	_, closeTracer, err := initTracer(viper.GetString(cfgJaegerServiceName))
	if err != nil {
		return err
	}
	defer closeTracer()

	gateway, err := badgerstore.Open(viper.GetString(cfgDataDir))
	if err != nil {
		return err
	}

	var closers []func() error
	closers = append(closers, gateway.Close)
	defer func() {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		if err := badgerstore.AggregateCloseErrors(errs...); err != nil {
			logger.Warn("error during shutdown", "err", err)
		}
	}()

	client := grpcclient.New(grpcclient.Config{
		Address:    viper.GetString(cfgMetastoreAddress),
		Insecure:   viper.GetBool(cfgMetastoreInsecure),
		CACertPath: viper.GetString(cfgMetastoreCACertPath),
		FetchLimit: viper.GetInt(cfgMetastoreFetchLimit),
	})

	processor := follower.NewAuthzNotificationProcessor(gateway)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var refresh *follower.RefreshSignal
	if cfg.FullUpdateSubscribeEnabled {
		refresh = follower.NewRefreshSignal(pubsubtransport.Topic)

		listenAddr, aerr := multiaddr.NewMultiaddr(viper.GetString(cfgP2PListenAddress))
		if aerr != nil {
			return aerr
		}
		host, herr := libp2p.New(ctx, libp2p.ListenAddrs(listenAddr))
		if herr != nil {
			return herr
		}
		closers = append(closers, host.Close)

		transport, terr := pubsubtransport.New(ctx, host, refresh)
		if terr != nil {
			return terr
		}
		closers = append(closers, func() error { transport.Close(); return nil })
	}

	loop := follower.New(cfg, gateway, client, processor, nil, refresh)
	defer loop.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("starting metastore follower",
		"authz_server", cfg.AuthzServerName,
		"tick_interval", cfg.TickInterval,
	)
	loop.Run(ctx)

	return nil
}

// Register adds the follower command to parentCmd.
func Register(parentCmd *cobra.Command) {
	parentCmd.AddCommand(followerCmd)
}

func init() {
	followerFlags.String(cfgAuthzServerName, "", "authorization server instance name")
	followerFlags.Bool(cfgHDFSSyncEnabled, false, "persist the full path image in addition to notification bookkeeping")
	followerFlags.Bool(cfgFullUpdateSubscribeEnabled, true, "subscribe to the operator-triggered full-rebuild topic")
	followerFlags.Duration(cfgTickInterval, 5*time.Second, "interval between follower ticks")
	followerFlags.Int(cfgFetcherCacheSize, 4096, "bounded size of the notification dedup cache")
	followerFlags.String(cfgDataDir, "/var/lib/metafollower", "directory for the badger persistence store")
	followerFlags.String(cfgMetastoreAddress, "", "upstream metastore gRPC address")
	followerFlags.Bool(cfgMetastoreInsecure, false, "disable TLS when dialing the upstream metastore")
	followerFlags.String(cfgMetastoreCACertPath, "", "CA bundle to verify the upstream metastore's certificate")
	followerFlags.Int(cfgMetastoreFetchLimit, 1000, "maximum notifications fetched per RPC")
	followerFlags.String(cfgJaegerServiceName, "metafollower", "service name reported to the Jaeger tracer")
	followerFlags.String(cfgP2PListenAddress, "/ip4/0.0.0.0/tcp/0", "libp2p listen address for the refresh pub/sub transport")

	followerCmd.Flags().AddFlagSet(followerFlags)
	_ = viper.BindPFlags(followerFlags)
}
