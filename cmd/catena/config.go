package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Alalun/catena/internal/gossip"
)

// errUsage marks a config error as a usage error (exit code 64), as
// opposed to a fatal error discovered while starting the node.
var errUsage = errors.New("usage error")

// Config is every flag from the CLI surface (§6), parsed and validated.
type Config struct {
	DatabasePath     string
	InMemoryDatabase bool
	Seed             string
	GossipPort       int
	QueryPort        int
	JoinURLs         []string
	Mine             bool
	Initialize       bool
	NoReplay         bool
	NodeDatabasePath string
	NodeUUID         string
	NoLocalDiscovery bool
	NoWebClient      bool
	NoPQServer       bool
	ShowIdentity     bool
	AllowDomains     []string
	LogLevel         logrus.Level
}

var logLevels = map[string]logrus.Level{
	"debug":   logrus.DebugLevel,
	"verbose": logrus.TraceLevel,
	"info":    logrus.InfoLevel,
	"warning": logrus.WarnLevel,
}

// parseConfig reads v's bound flags into a Config, applying the defaults
// and cross-flag validation the raw flags can't express on their own
// (query-port defaulting to gossip-port+1, the mutually exclusive database
// flags). Kept free of side effects so it can be unit tested without
// opening any files or sockets.
func parseConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabasePath:     v.GetString("database"),
		InMemoryDatabase: v.GetBool("in-memory-database"),
		Seed:             v.GetString("seed"),
		GossipPort:       v.GetInt("gossip-port"),
		QueryPort:        v.GetInt("query-port"),
		JoinURLs:         v.GetStringSlice("join"),
		Mine:             v.GetBool("mine"),
		Initialize:       v.GetBool("initialize"),
		NoReplay:         v.GetBool("no-replay"),
		NodeDatabasePath: v.GetString("node-database"),
		NodeUUID:         v.GetString("node-uuid"),
		NoLocalDiscovery: v.GetBool("no-local-discovery"),
		NoWebClient:      v.GetBool("no-web-client"),
		NoPQServer:       v.GetBool("no-pq-server"),
		ShowIdentity:     v.GetBool("show-identity"),
		AllowDomains:     v.GetStringSlice("allow-domain"),
	}

	if cfg.InMemoryDatabase && v.IsSet("database") {
		return nil, fmt.Errorf("%w: -d/--database and --in-memory-database are mutually exclusive", errUsage)
	}
	if cfg.InMemoryDatabase {
		cfg.DatabasePath = ":memory:"
	} else if cfg.DatabasePath == "" {
		cfg.DatabasePath = "catena.sqlite"
	}

	if cfg.GossipPort <= 0 || cfg.GossipPort >= 65536 {
		return nil, fmt.Errorf("%w: --gossip-port %d out of range", errUsage, cfg.GossipPort)
	}
	if !v.IsSet("query-port") || cfg.QueryPort <= 0 {
		cfg.QueryPort = cfg.GossipPort + 1
	}
	if cfg.QueryPort >= 65536 {
		return nil, fmt.Errorf("%w: --query-port %d out of range", errUsage, cfg.QueryPort)
	}

	levelName := v.GetString("log")
	if levelName == "" {
		levelName = "info"
	}
	level, ok := logLevels[levelName]
	if !ok {
		return nil, fmt.Errorf("%w: --log %q must be one of debug, verbose, info, warning", errUsage, levelName)
	}
	cfg.LogLevel = level

	for _, raw := range cfg.JoinURLs {
		if _, err := gossip.ParsePeerURL(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
	}

	return cfg, nil
}

// bindFlags registers the CLI surface's flags on cmd and binds them into v,
// so parseConfig can read every value (flag, env, or default) uniformly.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	flags.StringP("database", "d", "", "chain-state database file (default catena.sqlite)")
	flags.Bool("in-memory-database", false, "use an ephemeral in-memory chain-state database")
	flags.StringP("seed", "s", "", "genesis seed, when mining a new chain's genesis block")
	flags.IntP("gossip-port", "p", 8338, "gossip (peer) listen port")
	flags.IntP("query-port", "q", 0, "query endpoint listen port (default gossip-port+1)")
	flags.StringArrayP("join", "j", nil, "peer URL to join (repeatable)")
	flags.BoolP("mine", "m", false, "mine blocks")
	flags.BoolP("initialize", "i", false, "truncate the chain database and the peer table")
	flags.BoolP("no-replay", "n", false, "skip rebuilding the in-memory ledger from the permanent store on startup")
	flags.String("node-database", "", "node database file (default catena-node.sqlite)")
	flags.String("node-uuid", "", "fixed node UUID (default: generated once and persisted)")
	flags.Bool("no-local-discovery", false, "disable local peer discovery")
	flags.Bool("no-web-client", false, "disable the bundled web client")
	flags.Bool("no-pq-server", false, "disable the post-quantum handshake variant")
	flags.Bool("show-identity", false, "print this node's identity and exit")
	flags.StringArray("allow-domain", nil, "CORS origin to allow (repeatable)")
	flags.StringP("log", "v", "info", "log level: debug, verbose, info, warning")

	return v.BindPFlags(flags)
}
