package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Transport configuration (shared by client and server)
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes in bytes, 0 keeps the OS default
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// TransportConfig selects and tunes the node-to-node transport
type TransportConfig struct {
	// Kind is "tcp" or "unix"
	Kind string
	// Serializer is "json" or "gob"
	Serializer string
	// WorkersPerConn bounds the requests served concurrently per connection
	WorkersPerConn int
	// BufferSize is the per-request read buffer of the server
	BufferSize int
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// Node configuration
// --------------------------------------------------------------------------

// MembershipConfig selects the cluster membership provider
type MembershipConfig struct {
	// Provider is "gossip", "zookeeper" or "static"
	Provider string
	// GossipBind is the address the gossip protocol listens on
	GossipBind string
	// GossipPort is the port the gossip protocol listens on
	GossipPort int
	// Seeds are gossip addresses of existing cluster members
	Seeds []string
	// ZookeeperServers are the addresses of the coordination service
	ZookeeperServers []string
	// SessionTimeout of the zookeeper session
	SessionTimeout time.Duration
}

// NodeConfig holds all configuration parameters of a dDoc node
type NodeConfig struct {
	// Name is the unique name of the node
	Name string
	// Cluster is the name of the local cluster
	Cluster string
	// Endpoint is the listen address of the command transport (host:port or socket path)
	Endpoint string
	// AdvertiseHost and AdvertisePort are published to peers
	AdvertiseHost string
	AdvertisePort int
	// AdminEndpoint is the listen address of the admin HTTP API, empty disables it
	AdminEndpoint string

	Transport  TransportConfig
	Membership MembershipConfig

	// Store is "memory" or "bolt"
	Store   string
	DataDir string

	// TimeoutSecond bounds every remote send
	TimeoutSecond int
	// Workers sizes the shared worker pool of the coordinator
	Workers int
	// DedupCacheSize is the number of responses kept to answer retried requests
	DedupCacheSize int

	// LockConcurrency caps the document locks held at once
	LockConcurrency int
	// LockLease frees locks that were not released in time
	LockLease time.Duration

	// ReconnectTimeout is how long the node waits for lost availability to return
	ReconnectTimeout time.Duration
	// ExitGrace is the delay between shutdown and process exit
	ExitGrace time.Duration
	// RendezvousWarnPolls is the number of one second polls after which a waiting join logs a warning
	RendezvousWarnPolls int

	// EnsembleFile is an optional YAML file with remote clusters
	EnsembleFile string

	// LogLevel is one of debug, info, warn, error
	LogLevel string
}

// Timeout returns TimeoutSecond as duration
func (c *NodeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the configuration
func (c *NodeConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Node")
	addField("Name", c.Name)
	addField("Cluster", c.Cluster)
	addField("Endpoint", c.Endpoint)
	addField("Advertise", fmt.Sprintf("%s:%d", c.AdvertiseHost, c.AdvertisePort))
	if c.AdminEndpoint != "" {
		addField("Admin API", c.AdminEndpoint)
	}

	addSection("Transport")
	addField("Kind", c.Transport.Kind)
	addField("Serializer", c.Transport.Serializer)
	addField("Workers per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Membership")
	addField("Provider", c.Membership.Provider)
	switch c.Membership.Provider {
	case "gossip":
		addField("Gossip", fmt.Sprintf("%s:%d", c.Membership.GossipBind, c.Membership.GossipPort))
		addField("Seeds", strings.Join(c.Membership.Seeds, ", "))
	case "zookeeper":
		addField("Servers", strings.Join(c.Membership.ZookeeperServers, ", "))
		addField("Session Timeout", c.Membership.SessionTimeout.String())
	}
	addField("Reconnect Timeout", c.ReconnectTimeout.String())

	addSection("Storage")
	addField("Engine", c.Store)
	if c.Store == "bolt" {
		addField("Data Directory", c.DataDir)
	}
	addField("Lock Concurrency", strconv.Itoa(c.LockConcurrency))
	addField("Lock Lease", c.LockLease.String())

	if c.EnsembleFile != "" {
		addSection("Ensemble")
		addField("File", c.EnsembleFile)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration
// --------------------------------------------------------------------------

// ClientConfig configures the command line client
type ClientConfig struct {
	// Endpoint is the address of any node of the cluster
	Endpoint      string
	TimeoutSecond int
	Transport     TransportConfig
}

// Timeout returns TimeoutSecond as duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nCLIENT CONFIGURATION\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Endpoint", c.Endpoint))
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Transport", c.Transport.Kind))
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Serializer", c.Transport.Serializer))
	sb.WriteString(fmt.Sprintf("  %-22s: %d sec\n", "Timeout", c.TimeoutSecond))
	return sb.String()
}
