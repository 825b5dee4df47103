// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import (
	"flag"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/pelletier/go-toml/v2"

	"github.com/shardroute/dbproxy/pkg/log"
)

const (
	defaultLocalThreshold    = "15ms"
	defaultMaxReplLag        = "90s"
	defaultReadTimeout       = "10s"
	defaultWriteTimeout      = "10s"
	defaultReadRetransmit    = "500ms"
	defaultWriteRetransmit   = "5s"
	defaultPingTimeout       = "5s"
	defaultPingInterval      = "10s"
	defaultPingFailInterval  = "1s"
	defaultConfTimeout       = "30s"
	defaultConfRetransmit    = "3s"
	defaultConfInterval      = "30s"
	defaultMonitorNoPrimary  = "10s"
	defaultMonitorConfigAge  = "5min"
	defaultConnPoolSize      = 10
	defaultThreads           = 0 // 0 means GOMAXPROCS
	defaultConnRateLimit     = 10000
	defaultConnRateBurst     = 1000
)

// Config is the proxy's process-level configuration: every tunable of
// spec.md §3-§6, layered flag > env > file > default. It is distinct from
// internal/topology's cluster-map snapshot, which comes from config-shard
// backends, not the local process environment.
type Config struct {
	Log log.Config `toml:"log" env:"LOG"`

	// ConfigServers is the comma-joined list of config-server host:port
	// pairs queried by internal/topocache.
	ConfigServers string `toml:"config-servers" env:"CONFIG_SERVERS"`
	// ListenAddrs is repeatable on the command line ("-l" may appear more
	// than once); env/file supply it as a comma-joined list.
	ListenAddrs []string `toml:"listen-addrs" env:"LISTEN_ADDRS" envSeparator:","`

	Auth    bool   `toml:"auth" env:"AUTH"`
	KeyFile string `toml:"key-file" env:"KEY_FILE"`

	LocalThreshold   Duration `toml:"local-threshold" env:"LOCAL_THRESHOLD"`
	MaxReplLag       Duration `toml:"max-repl-lag" env:"MAX_REPL_LAG"`
	ReadTimeout      Duration `toml:"read-timeout" env:"READ_TIMEOUT"`
	WriteTimeout     Duration `toml:"write-timeout" env:"WRITE_TIMEOUT"`
	ReadRetransmit   Duration `toml:"read-retransmit" env:"READ_RETRANSMIT"`
	WriteRetransmit  Duration `toml:"write-retransmit" env:"WRITE_RETRANSMIT"`
	PingTimeout      Duration `toml:"ping-timeout" env:"PING_TIMEOUT"`
	PingInterval     Duration `toml:"ping-interval" env:"PING_INTERVAL"`
	PingFailInterval Duration `toml:"ping-fail-interval" env:"PING_FAIL_INTERVAL"`
	ConfTimeout      Duration `toml:"conf-timeout" env:"CONF_TIMEOUT"`
	ConfRetransmit   Duration `toml:"conf-retransmit" env:"CONF_RETRANSMIT"`
	ConfInterval     Duration `toml:"conf-interval" env:"CONF_INTERVAL"`

	MonitorNoPrimary Duration `toml:"monitor-no-primary" env:"MONITOR_NO_PRIMARY"`
	MonitorConfigAge Duration `toml:"monitor-config-age" env:"MONITOR_CONFIG_AGE"`

	GlobalCursors bool `toml:"global-cursors" env:"GLOBAL_CURSORS"`
	ConnPoolSize  int  `toml:"conn-pool-size" env:"CONN_POOL_SIZE"`
	Threads       int  `toml:"threads" env:"THREADS"`
	ReadOnly      bool `toml:"read-only" env:"READ_ONLY"`

	ConnRateLimit  int  `toml:"conn-rate-limit" env:"CONN_RATE_LIMIT"`
	ConnRateBurst  int  `toml:"conn-rate-burst" env:"CONN_RATE_BURST"`
	ConnRateEnable bool `toml:"conn-rate-enable" env:"CONN_RATE_ENABLE"`

	SnapshotCacheFile string `toml:"snapshot-cache-file" env:"SNAPSHOT_CACHE_FILE"`

	// ConfigFile, if set by -f, is loaded and merged under flags and env
	// overrides in ValidateAndAdjust.
	ConfigFile string `toml:"-" env:"-"`
}

// ValidateAndAdjust is the single place derived/defaulted fields are
// finalized: it applies the optional TOML file overlay (file values only
// fill fields still at their flag default), then the env overlay, and
// validates cross-field constraints.
func (c *Config) ValidateAndAdjust() error {
	if c.ConfigFile != "" {
		if err := c.mergeFile(c.ConfigFile); err != nil {
			return err
		}
	}

	if err := env.Parse(c); err != nil {
		return ErrInvalidCommandArgs.WithCausef("env overlay: %v", err)
	}

	if c.ConfigServers == "" {
		return ErrInvalidCommandArgs.WithCausef("-c config-servers is required")
	}
	if len(c.ListenAddrs) == 0 {
		return ErrInvalidCommandArgs.WithCausef("at least one -l listen address is required")
	}
	if c.ConnPoolSize <= 0 {
		c.ConnPoolSize = defaultConnPoolSize
	}
	return nil
}

// mergeFile loads a TOML file into a scratch Config and copies over
// ConfigServers, ListenAddrs, KeyFile and SnapshotCacheFile where the flag
// parser left them empty; every other field in the file is ignored (env is
// applied after this, in ValidateAndAdjust, so it still wins over file).
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrInvalidConfigFile.WithCausef("read %s: %v", path, err)
	}

	var fromFile Config
	if err := toml.Unmarshal(data, &fromFile); err != nil {
		return ErrInvalidConfigFile.WithCausef("parse %s: %v", path, err)
	}

	if c.ConfigServers == "" {
		c.ConfigServers = fromFile.ConfigServers
	}
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = fromFile.ListenAddrs
	}
	if c.KeyFile == "" {
		c.KeyFile = fromFile.KeyFile
	}
	if c.SnapshotCacheFile == "" {
		c.SnapshotCacheFile = fromFile.SnapshotCacheFile
	}
	return nil
}

// Parser builds the config from the flags.
type Parser struct {
	flagSet *flag.FlagSet
	cfg     *Config
}

func (p *Parser) Parse(arguments []string) (*Config, error) {
	if err := p.flagSet.Parse(arguments); err != nil {
		return nil, ErrInvalidCommandArgs.WithCausef("original arguments:%v, parse err:%v", arguments, err)
	}
	return p.cfg, nil
}

// listenAddrList collects repeated "-l" occurrences into cfg.ListenAddrs.
type listenAddrList struct {
	addrs *[]string
}

func (l *listenAddrList) String() string {
	if l.addrs == nil {
		return ""
	}
	return strings.Join(*l.addrs, ",")
}

func (l *listenAddrList) Set(v string) error {
	*l.addrs = append(*l.addrs, v)
	return nil
}

// verbosityFlag implements spec.md §6's "-v raises verbosity": a bare,
// repeatable boolean flag that overrides the configured log level to debug.
type verbosityFlag struct {
	level *string
}

func (f *verbosityFlag) String() string   { return "" }
func (f *verbosityFlag) IsBoolFlag() bool { return true }
func (f *verbosityFlag) Set(string) error {
	*f.level = "debug"
	return nil
}

func mustDuration(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return Duration{d}
}

// MakeConfigParser wires every tunable of spec.md §3-§6 onto a flag.FlagSet.
func MakeConfigParser() (*Parser, error) {
	fs, cfg := flag.NewFlagSet("dbproxy", flag.ContinueOnError), &Config{}
	builder := &Parser{flagSet: fs, cfg: cfg}

	fs.StringVar(&cfg.Log.Level, "log-level", log.DefaultLogLevel, "level of the log")
	fs.StringVar(&cfg.Log.File, "log-file", log.DefaultLogFile, "file for log output ('stdout', a path, or 'syslog:ident')")
	fs.StringVar(&cfg.Log.File, "L", log.DefaultLogFile, "alias for -log-file")
	fs.Func("S", "syslog ident; alias for -log-file=syslog:ident", func(ident string) error {
		cfg.Log.File = "syslog:" + ident
		return nil
	})
	fs.Var(&verbosityFlag{level: &cfg.Log.Level}, "v", "raise log verbosity to debug; alias for -log-level=debug")

	fs.StringVar(&cfg.ConfigServers, "c", "", "comma-separated host:port list of config servers")
	fs.Var(&listenAddrList{addrs: &cfg.ListenAddrs}, "l", "listening address ([host:]port); repeatable")
	fs.StringVar(&cfg.ConfigFile, "f", "", "optional TOML config file")

	fs.BoolVar(&cfg.Auth, "auth", false, "require authentication on every connection")
	fs.StringVar(&cfg.KeyFile, "keyFile", "", "shared key file for intra-cluster authentication")

	cfg.LocalThreshold = mustDuration(defaultLocalThreshold)
	fs.Var(&cfg.LocalThreshold, "localThreshold", "roundtrip spread within which replicas are equally local")
	cfg.MaxReplLag = mustDuration(defaultMaxReplLag)
	fs.Var(&cfg.MaxReplLag, "maxReplLag", "max replica optime lag eligible for secondary reads")
	cfg.ReadTimeout = mustDuration(defaultReadTimeout)
	fs.Var(&cfg.ReadTimeout, "readTimeout", "overall read deadline")
	cfg.WriteTimeout = mustDuration(defaultWriteTimeout)
	fs.Var(&cfg.WriteTimeout, "writeTimeout", "overall write deadline")
	cfg.ReadRetransmit = mustDuration(defaultReadRetransmit)
	fs.Var(&cfg.ReadRetransmit, "readRetransmit", "hedge threshold for reads")
	cfg.WriteRetransmit = mustDuration(defaultWriteRetransmit)
	fs.Var(&cfg.WriteRetransmit, "writeRetransmit", "retry threshold for shard-local writes")
	cfg.PingTimeout = mustDuration(defaultPingTimeout)
	fs.Var(&cfg.PingTimeout, "pingTimeout", "endpoint ping timeout")
	cfg.PingInterval = mustDuration(defaultPingInterval)
	fs.Var(&cfg.PingInterval, "pingInterval", "endpoint ping interval while healthy")
	cfg.PingFailInterval = mustDuration(defaultPingFailInterval)
	fs.Var(&cfg.PingFailInterval, "pingFailInterval", "endpoint ping interval while unhealthy")
	cfg.ConfTimeout = mustDuration(defaultConfTimeout)
	fs.Var(&cfg.ConfTimeout, "confTimeout", "topology fetch overall deadline")
	cfg.ConfRetransmit = mustDuration(defaultConfRetransmit)
	fs.Var(&cfg.ConfRetransmit, "confRetransmit", "topology fetch hedge threshold")
	cfg.ConfInterval = mustDuration(defaultConfInterval)
	fs.Var(&cfg.ConfInterval, "confInterval", "background topology refresh interval")

	cfg.MonitorNoPrimary = mustDuration(defaultMonitorNoPrimary)
	fs.Var(&cfg.MonitorNoPrimary, "monitorNoPrimary", "/monitor CRITICAL threshold for a shard missing a primary")
	cfg.MonitorConfigAge = mustDuration(defaultMonitorConfigAge)
	fs.Var(&cfg.MonitorConfigAge, "monitorConfigAge", "/monitor CRITICAL threshold for topology snapshot staleness")

	fs.BoolVar(&cfg.GlobalCursors, "globalCursors", false, "use a process-wide cursor id space instead of per-session")
	fs.IntVar(&cfg.ConnPoolSize, "connPoolSize", defaultConnPoolSize, "pooled connections per endpoint, per pool")
	fs.IntVar(&cfg.Threads, "threads", defaultThreads, "worker threads (0 = GOMAXPROCS)")
	fs.BoolVar(&cfg.ReadOnly, "readOnly", false, "reject all write operations")

	fs.StringVar(&cfg.SnapshotCacheFile, "snapshotCacheFile", "", "path to persist the topology snapshot cache")

	fs.IntVar(&cfg.ConnRateLimit, "connRateLimit", defaultConnRateLimit, "max new connections admitted per second")
	fs.IntVar(&cfg.ConnRateBurst, "connRateBurst", defaultConnRateBurst, "burst size for connection admission")
	fs.BoolVar(&cfg.ConnRateEnable, "connRateEnable", false, "enable the connection-admission rate limiter")

	return builder, nil
}
