// Package config binds the server's command-line flags and environment
// variables into one Config value via viper/pflag — the teacher's plain
// "flag" surface (--id, --addr, --data-dir, --peers) plus the mode,
// replication, logging and snapshot flags, generalized to viper so it also
// picks up KVSTORE_-prefixed env vars. No config file is read.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kvstore/internal/cluster"
)

// Mode selects which dispatch.Engine a node runs.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeLeader     Mode = "leader"
	ModeLeaderless Mode = "leaderless"
)

type Config struct {
	NodeID            string
	Addr              string
	DataDir           string
	Peers             []cluster.Node
	Mode              Mode
	ReplicationFactor int
	LogLevel          string
	Debug             bool
	SnapshotInterval  int // seconds
}

// RegisterFlags adds every server flag to cmd, with the teacher's original
// defaults preserved where they still apply.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("id", "node1", "unique node identifier")
	flags.String("addr", ":8080", "listen address (host:port)")
	flags.String("data-dir", "/tmp/kvstore", "directory for WAL, snapshots, and indexes")
	flags.String("peers", "", "comma-separated list of peer nodes: id=host:port")
	flags.String("mode", string(ModeSingle), "replication mode: single, leader, or leaderless")
	flags.Int("replication-factor", 3, "number of replicas per key (leaderless mode)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("debug", false, "enable the simulate_failure snapshot-skip fault injection")
	flags.Int("snapshot-interval", 60, "seconds between background snapshots")
}

// Load reads bound flags (and any KVSTORE_ env override) into a Config.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("kvstore")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	mode := Mode(v.GetString("mode"))
	switch mode {
	case ModeSingle, ModeLeader, ModeLeaderless:
	default:
		return Config{}, fmt.Errorf("invalid mode %q: must be single, leader, or leaderless", mode)
	}

	cfg := Config{
		NodeID:            v.GetString("id"),
		Addr:              v.GetString("addr"),
		DataDir:           v.GetString("data-dir"),
		Mode:              mode,
		ReplicationFactor: v.GetInt("replication-factor"),
		LogLevel:          v.GetString("log-level"),
		Debug:             v.GetBool("debug"),
		SnapshotInterval:  v.GetInt("snapshot-interval"),
	}

	peers, err := parsePeers(v.GetString("peers"))
	if err != nil {
		return Config{}, err
	}
	cfg.Peers = peers

	return cfg, nil
}

// parsePeers parses "id1=host:port,id2=host:port" the same way the
// teacher's main.go did.
func parsePeers(raw string) ([]cluster.Node, error) {
	if raw == "" {
		return nil, nil
	}
	var nodes []cluster.Node
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid peer format %q: expected id=host:port", entry)
		}
		nodes = append(nodes, cluster.Node{ID: parts[0], Address: parts[1]})
	}
	return nodes, nil
}
