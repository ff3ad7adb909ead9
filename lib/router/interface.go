package router

import (
	"errors"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("router")

// ErrNoRoute is returned when no node owns a key or a cluster has no nodes
var ErrNoRoute = errors.New("no route")

// Router maps keys to owning nodes. Lookups are safe to run concurrently with
// route mutations and never block on them.
type Router interface {
	// SetupClusters declares the clusters the router knows, exactly one must be local.
	// Routes of clusters no longer listed are dropped.
	SetupClusters(clusters []cluster.Cluster) error
	// AddRouteToLocalNode registers the node of this process in the local cluster
	AddRouteToLocalNode(n node.Node) error
	// AddRouteTo registers a node for a cluster. It returns false if a node with the same
	// name is already routed, in which case the existing node is kept.
	AddRouteTo(clusterName string, n node.Node) (bool, error)
	// RemoveRouteTo drops the route to the node with the name of n. It returns false if
	// there was none.
	RemoveRouteTo(clusterName string, n node.Node) bool
	// RouteToNodeFor returns the local cluster node owning bucket/key
	RouteToNodeFor(bucket, key string) (node.Node, error)
	// RouteToNodesFor groups keys by their owning local cluster node
	RouteToNodesFor(bucket string, keys []string) (map[node.Node][]string, error)
	// BroadcastRoute returns the nodes of every cluster, keyed by cluster name
	BroadcastRoute() map[string][]node.Node
	// ClusterRoute returns the nodes of one cluster ordered by name
	ClusterRoute(clusterName string) []node.Node
	// Node looks up a routed node by name
	Node(clusterName, nodeName string) (node.Node, bool)
	// LocalNode returns the node of this process, nil before AddRouteToLocalNode
	LocalNode() node.Node
	// LocalCluster returns the local cluster
	LocalCluster() cluster.Cluster
	// Clusters returns all known clusters
	Clusters() []cluster.Cluster
	// Cleanup disconnects every routed node and drops all routes
	Cleanup()
}

// Partitioner assigns keys to node names. Implementations must be deterministic:
// the same members always yield the same owner for a key.
type Partitioner interface {
	// Add makes name eligible as owner
	Add(name string)
	// Remove drops name
	Remove(name string)
	// Owner returns the owner of key, false if there are no members
	Owner(key string) (string, bool)
	// Members returns the names of all members
	Members() []string
	// Clone returns an independent copy
	Clone() Partitioner
}

// PartitionerFactory creates an empty partitioner per cluster
type PartitionerFactory func() Partitioner
