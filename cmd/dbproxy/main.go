// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/shardroute/dbproxy/internal/cluster"
	"github.com/shardroute/dbproxy/internal/config"
	"github.com/shardroute/dbproxy/internal/endpoint"
	"github.com/shardroute/dbproxy/internal/httpstatus"
	"github.com/shardroute/dbproxy/internal/ratelimit"
	"github.com/shardroute/dbproxy/internal/read"
	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/session"
	"github.com/shardroute/dbproxy/internal/shard"
	"github.com/shardroute/dbproxy/internal/topocache"
	"github.com/shardroute/dbproxy/internal/write"
	logpkg "github.com/shardroute/dbproxy/pkg/log"
)

func main() {
	cfgParser, err := config.MakeConfigParser()
	if err != nil {
		log.Fatalf("fail to generate config builder, err:%v", err)
	}

	cfg, err := cfgParser.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("fail to parse config from command line params, err:%v", err)
	}

	if err := cfg.ValidateAndAdjust(); err != nil {
		log.Fatalf("invalid config, err:%v", err)
	}

	if _, err := logpkg.InitGlobalLogger(&cfg.Log); err != nil {
		log.Fatalf("fail to init logger, err:%v", err)
	}
	logger := logpkg.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())

	proxy, err := newProxy(cfg)
	if err != nil {
		log.Fatalf("fail to build proxy, err:%v", err)
	}

	if err := proxy.cache.Update(ctx); err != nil {
		logger.Warn("initial topology fetch failed, starting on cached/empty snapshot", zap.Error(err))
	}
	go proxy.cache.RunRefresh(ctx)

	listeners, err := proxy.listen()
	if err != nil {
		log.Fatalf("fail to listen, err:%v", err)
	}
	for _, l := range listeners {
		go proxy.serve(ctx, l)
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var sig os.Signal
	go func() {
		sig = <-sc
		cancel()
	}()

	<-ctx.Done()
	logger.Info("got signal to exit", zap.Any("signal", sig))

	proxy.close(listeners)
	proxy.cache.Stop()
}

// proxy bundles the process-wide singletons cmd/dbproxy wires up: the
// topology cache, the shard pool every resolved shard.Shard is interned
// in, and the session engine every accepted connection runs against.
type proxy struct {
	cfg    *config.Config
	cache  *topocache.Cache
	engine *session.Engine
	admit  *ratelimit.Limiter
}

func newProxy(cfg *config.Config) (*proxy, error) {
	clock := runtime.SystemClock{}

	fetchers := make([]topocache.Fetcher, 0)
	for _, addr := range strings.Split(cfg.ConfigServers, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		fetchers = append(fetchers, topocache.NewWireFetcher(addr, cluster.NetDialer(cfg.ConfTimeout.Duration)))
	}

	var store *topocache.SnapshotStore
	if cfg.SnapshotCacheFile != "" {
		store = topocache.NewSnapshotStore(cfg.SnapshotCacheFile)
	}

	cache := topocache.New(topocache.Config{
		ConfTimeout:    cfg.ConfTimeout.Duration,
		ConfRetransmit: cfg.ConfRetransmit.Duration,
		ConfInterval:   cfg.ConfInterval.Duration,
	}, fetchers, store, clock)

	pool := shard.NewPool()
	dial := cluster.NetDialer(cfg.PingTimeout.Duration)
	endpointCfg := endpoint.Config{
		ConnPoolSize:     cfg.ConnPoolSize,
		PingInterval:     cfg.PingInterval.Duration,
		PingFailInterval: cfg.PingFailInterval.Duration,
		PingTimeout:      cfg.PingTimeout.Duration,
	}
	resolver := cluster.NewResolver(pool, dial, endpointCfg, cfg.LocalThreshold.Duration, cfg.MaxReplLag.Duration, clock)

	readEngine := &read.Engine{
		Cache:    cache,
		Resolver: resolver,
		Clock:    clock,
		Options: read.Options{
			ReadTimeout:    cfg.ReadTimeout.Duration,
			ReadRetransmit: cfg.ReadRetransmit.Duration,
		},
	}
	writeEngine := &write.Engine{
		Resolver: resolver,
		Clock:    clock,
		Options: write.Options{
			WriteTimeout:    cfg.WriteTimeout.Duration,
			WriteRetransmit: cfg.WriteRetransmit.Duration,
		},
		ReadOnly: cfg.ReadOnly,
	}

	reporter := &httpstatus.Reporter{
		Cache:            cache,
		Resolver:         resolver,
		Clock:            clock,
		MonitorNoPrimary: cfg.MonitorNoPrimary.Duration,
		MonitorConfigAge: cfg.MonitorConfigAge.Duration,
	}
	httpHandler := httpstatus.Handle(httpstatus.NewHandler(reporter))

	engine := session.NewEngine(readEngine, writeEngine, cache, httpHandler, cfg.Auth, cfg.GlobalCursors)

	admit := ratelimit.New(ratelimit.Config{
		Limit:  cfg.ConnRateLimit,
		Burst:  cfg.ConnRateBurst,
		Enable: cfg.ConnRateEnable,
	})

	return &proxy{cfg: cfg, cache: cache, engine: engine, admit: admit}, nil
}

func (p *proxy) listen() ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(p.cfg.ListenAddrs))
	for _, addr := range p.cfg.ListenAddrs {
		l, err := net.Listen("tcp", normalizeAddr(addr))
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			return nil, err
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}

// normalizeAddr accepts a bare port ("27017") as shorthand for all
// interfaces, matching the -l flag's documented "[host:]port" shape.
func normalizeAddr(addr string) string {
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

func (p *proxy) serve(ctx context.Context, l net.Listener) {
	logger := logpkg.GetLogger().With(zap.String("addr", l.Addr().String()))
	logger.Info("listening")
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Warn("accept failed", zap.Error(err))
			continue
		}
		if !p.admit.Allow() {
			logger.Warn("connection admission rate exceeded, rejecting", zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		go session.NewSession(p.engine, conn).Run(ctx)
	}
}

func (p *proxy) close(listeners []net.Listener) {
	for _, l := range listeners {
		l.Close()
	}
}
