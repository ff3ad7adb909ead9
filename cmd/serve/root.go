package serve

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.NodeConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a dDoc node",
		Long: `Start a dDoc node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DDOC_<flag> (e.g. DDOC_TIMEOUT=15)

The node joins the cluster given by --cluster through the selected membership provider and serves commands until it receives SIGINT/SIGTERM or loses the membership service for longer than --reconnect-timeout.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// node
	key := "name"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Unique name of the node, defaults to the hostname"))

	key = "cluster"
	ServeCmd.PersistentFlags().String(key, "default", cmdUtil.WrapString("Name of the local cluster"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:7400", cmdUtil.WrapString("The address on which commands are served (host:port for tcp, socket path for unix)"))

	key = "advertise-host"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Host published to peers, defaults to the endpoint host (or the hostname for wildcard endpoints)"))

	key = "advertise-port"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Port published to peers, defaults to the endpoint port"))

	key = "admin-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:7480", cmdUtil.WrapString("The address of the admin HTTP API, empty disables it"))

	// transport
	key = "timeout"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Timeout in seconds of every request sent to another node"))

	key = "transport-workers"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Requests served concurrently per connection"))

	key = "transport-buffer"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Per request read buffer of the server (in KB)"))

	cmdUtil.SetupTransportFlags(ServeCmd)

	// membership
	key = "membership"
	ServeCmd.PersistentFlags().String(key, "gossip", cmdUtil.WrapString("Membership provider (gossip, zookeeper, static). static runs a single node cluster"))

	key = "gossip-bind"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0", cmdUtil.WrapString("(gossip) Address the gossip protocol listens on"))

	key = "gossip-port"
	ServeCmd.PersistentFlags().Int(key, 7946, cmdUtil.WrapString("(gossip) Port the gossip protocol listens on"))

	key = "seeds"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(gossip) Comma-separated gossip addresses of existing members, empty starts a new cluster"))

	key = "zookeeper-servers"
	ServeCmd.PersistentFlags().String(key, "localhost:2181", cmdUtil.WrapString("(zookeeper) Comma-separated addresses of the zookeeper ensemble"))

	key = "zookeeper-session-timeout"
	ServeCmd.PersistentFlags().Duration(key, 5*time.Second, cmdUtil.WrapString("(zookeeper) Session timeout"))

	key = "reconnect-timeout"
	ServeCmd.PersistentFlags().Duration(key, 30*time.Second, cmdUtil.WrapString("How long the node waits for a lost membership service before it shuts down"))

	key = "exit-grace"
	ServeCmd.PersistentFlags().Duration(key, 2*time.Second, cmdUtil.WrapString("Delay between a fatal shutdown and the process exit"))

	key = "rendezvous-warn-polls"
	ServeCmd.PersistentFlags().Int(key, 30, cmdUtil.WrapString("Seconds a joining peer may stay without configuration before a warning is logged"))

	// storage
	key = "store"
	ServeCmd.PersistentFlags().String(key, "memory", cmdUtil.WrapString("Storage engine (memory, bolt)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(bolt) Directory of the database file"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Concurrent requests per processor and concurrent sub-requests per command, 0 derives it from the CPU count"))

	key = "dedup-cache-size"
	ServeCmd.PersistentFlags().Int(key, 4096, cmdUtil.WrapString("Number of responses kept to answer retried requests"))

	key = "lock-concurrency"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Maximum number of document locks held at once, 0 is unlimited"))

	key = "lock-lease"
	ServeCmd.PersistentFlags().Duration(key, time.Minute, cmdUtil.WrapString("Locks acquired without lease are freed after this duration"))

	// ensemble
	key = "ensemble-file"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional YAML file listing remote clusters and the ensemble scheduler"))

}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the node configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Name = viper.GetString("name")
	if serveCmdConfig.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("no --name given and hostname unavailable: %w", err)
		}
		serveCmdConfig.Name = hostname
	}
	serveCmdConfig.Cluster = viper.GetString("cluster")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.AdminEndpoint = viper.GetString("admin-endpoint")

	serveCmdConfig.Transport = cmdUtil.GetTransportConfig()
	serveCmdConfig.Transport.WorkersPerConn = viper.GetInt("transport-workers")
	serveCmdConfig.Transport.BufferSize = viper.GetInt("transport-buffer") * 1024
	serveCmdConfig.TimeoutSecond = viper.GetInt("timeout")

	serveCmdConfig.Membership = common.MembershipConfig{
		Provider:         viper.GetString("membership"),
		GossipBind:       viper.GetString("gossip-bind"),
		GossipPort:       viper.GetInt("gossip-port"),
		Seeds:            splitList(viper.GetString("seeds")),
		ZookeeperServers: splitList(viper.GetString("zookeeper-servers")),
		SessionTimeout:   viper.GetDuration("zookeeper-session-timeout"),
	}
	serveCmdConfig.ReconnectTimeout = viper.GetDuration("reconnect-timeout")
	serveCmdConfig.ExitGrace = viper.GetDuration("exit-grace")
	serveCmdConfig.RendezvousWarnPolls = viper.GetInt("rendezvous-warn-polls")

	serveCmdConfig.Store = viper.GetString("store")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.Workers = viper.GetInt("workers")
	serveCmdConfig.DedupCacheSize = viper.GetInt("dedup-cache-size")
	serveCmdConfig.LockConcurrency = viper.GetInt("lock-concurrency")
	serveCmdConfig.LockLease = viper.GetDuration("lock-lease")

	serveCmdConfig.EnsembleFile = viper.GetString("ensemble-file")
	serveCmdConfig.LogLevel = cmdUtil.LogLevel("info")

	if serveCmdConfig.Cluster == "" {
		return fmt.Errorf("--cluster is required")
	}
	if serveCmdConfig.TimeoutSecond <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}
	switch serveCmdConfig.Store {
	case "memory", "bolt":
	default:
		return fmt.Errorf("invalid store %s (expected memory or bolt)", serveCmdConfig.Store)
	}
	switch serveCmdConfig.Membership.Provider {
	case "gossip", "zookeeper", "static":
	default:
		return fmt.Errorf("invalid membership provider %s (expected gossip, zookeeper or static)", serveCmdConfig.Membership.Provider)
	}

	return advertise(serveCmdConfig, viper.GetString("advertise-host"), viper.GetInt("advertise-port"))
}

// advertise derives the address published to peers from the endpoint where not given
func advertise(config *common.NodeConfig, host string, port int) error {
	if config.Transport.Kind == "unix" {
		config.AdvertiseHost, config.AdvertisePort = config.Endpoint, 0
		return nil
	}

	endpointHost, endpointPort, err := net.SplitHostPort(config.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %s: %w", config.Endpoint, err)
	}
	if host == "" {
		host = endpointHost
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		if host, err = os.Hostname(); err != nil {
			return fmt.Errorf("no --advertise-host given and hostname unavailable: %w", err)
		}
	}
	if port == 0 {
		if port, err = strconv.Atoi(endpointPort); err != nil {
			return fmt.Errorf("invalid endpoint port %s: %w", endpointPort, err)
		}
	}
	config.AdvertiseHost, config.AdvertisePort = host, port
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
