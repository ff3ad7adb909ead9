package router

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/node"
)

// clusterRoutes holds the nodes and the partitioner of one cluster
type clusterRoutes struct {
	cluster cluster.Cluster
	nodes   map[string]node.Node
	ring    Partitioner
}

func (c *clusterRoutes) clone() *clusterRoutes {
	nodes := make(map[string]node.Node, len(c.nodes))
	for name, n := range c.nodes {
		nodes[name] = n
	}
	return &clusterRoutes{cluster: c.cluster, nodes: nodes, ring: c.ring.Clone()}
}

// sortedNodes returns the nodes ordered by name
func (c *clusterRoutes) sortedNodes() []node.Node {
	out := make([]node.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// table is an immutable snapshot of all routes
type table struct {
	local     cluster.Cluster
	localNode node.Node
	clusters  map[string]*clusterRoutes
}

// routerImpl publishes route tables copy-on-write: writers serialize on mu and
// swap in a new snapshot, readers load the current one without locking.
type routerImpl struct {
	mu          sync.Mutex
	current     atomic.Pointer[table]
	partitioner PartitionerFactory
}

// NewRouter creates a router using one partitioner per cluster. A nil factory uses
// the consistent hash ring.
func NewRouter(partitioner PartitionerFactory) Router {
	if partitioner == nil {
		partitioner = HashRingFactory
	}
	r := &routerImpl{partitioner: partitioner}
	r.current.Store(&table{clusters: map[string]*clusterRoutes{}})
	return r
}

// draft is a table under construction. Cluster routes are copied on first write access.
type draft struct {
	*table
	copied map[string]bool
}

// routes returns a writable copy of the routes of a cluster
func (d *draft) routes(name string) (*clusterRoutes, bool) {
	routes, ok := d.clusters[name]
	if !ok {
		return nil, false
	}
	if !d.copied[name] {
		routes = routes.clone()
		d.clusters[name] = routes
		d.copied[name] = true
	}
	return routes, true
}

// update applies fn to a copy of the current table and publishes it if fn succeeds
func (r *routerImpl) update(fn func(d *draft) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	next := &table{local: old.local, localNode: old.localNode, clusters: make(map[string]*clusterRoutes, len(old.clusters))}
	for name, routes := range old.clusters {
		next.clusters[name] = routes
	}

	if err := fn(&draft{table: next, copied: map[string]bool{}}); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see router.Router)
// --------------------------------------------------------------------------

func (r *routerImpl) SetupClusters(clusters []cluster.Cluster) error {
	return r.update(func(t *draft) error {
		locals := 0
		wanted := make(map[string]cluster.Cluster, len(clusters))
		for _, c := range clusters {
			if c.IsLocal {
				locals++
				t.local = c
			}
			wanted[c.Name] = c
		}
		if locals != 1 {
			return fmt.Errorf("expected exactly one local cluster, got %d", locals)
		}

		for name := range t.clusters {
			if _, ok := wanted[name]; !ok {
				delete(t.clusters, name)
			}
		}
		for name, c := range wanted {
			if routes, ok := t.clusters[name]; ok {
				updated := *routes
				updated.cluster = c
				t.clusters[name] = &updated
				continue
			}
			t.clusters[name] = &clusterRoutes{cluster: c, nodes: map[string]node.Node{}, ring: r.partitioner()}
		}
		if t.localNode != nil {
			if _, ok := t.clusters[t.local.Name].nodes[t.localNode.Name()]; !ok {
				t.localNode = nil
			}
		}
		return nil
	})
}

func (r *routerImpl) AddRouteToLocalNode(n node.Node) error {
	return r.update(func(t *draft) error {
		routes, ok := t.routes(t.local.Name)
		if !ok {
			return fmt.Errorf("clusters not set up")
		}
		routes.nodes[n.Name()] = n
		routes.ring.Add(n.Name())
		t.localNode = n
		Logger.Infof("Added route to local node %s", n.Name())
		return nil
	})
}

func (r *routerImpl) AddRouteTo(clusterName string, n node.Node) (bool, error) {
	added := false
	err := r.update(func(t *draft) error {
		current, ok := t.clusters[clusterName]
		if !ok {
			return fmt.Errorf("unknown cluster %s", clusterName)
		}
		if _, exists := current.nodes[n.Name()]; exists {
			return nil
		}
		routes, _ := t.routes(clusterName)
		routes.nodes[n.Name()] = n
		routes.ring.Add(n.Name())
		added = true
		return nil
	})
	if added {
		Logger.Infof("Added route to %s in cluster %s", n.Name(), clusterName)
	}
	return added, err
}

func (r *routerImpl) RemoveRouteTo(clusterName string, n node.Node) bool {
	removed := false
	_ = r.update(func(t *draft) error {
		current, ok := t.clusters[clusterName]
		if !ok {
			return nil
		}
		if _, exists := current.nodes[n.Name()]; !exists {
			return nil
		}
		routes, _ := t.routes(clusterName)
		delete(routes.nodes, n.Name())
		routes.ring.Remove(n.Name())
		if t.localNode != nil && clusterName == t.local.Name && t.localNode.Name() == n.Name() {
			t.localNode = nil
		}
		removed = true
		return nil
	})
	if removed {
		Logger.Infof("Removed route to %s in cluster %s", n.Name(), clusterName)
	}
	return removed
}

func (r *routerImpl) RouteToNodeFor(bucket, key string) (node.Node, error) {
	t := r.current.Load()
	routes, ok := t.clusters[t.local.Name]
	if !ok {
		return nil, fmt.Errorf("%w: clusters not set up", ErrNoRoute)
	}
	return routes.owner(bucket, key)
}

func (r *routerImpl) RouteToNodesFor(bucket string, keys []string) (map[node.Node][]string, error) {
	t := r.current.Load()
	routes, ok := t.clusters[t.local.Name]
	if !ok {
		return nil, fmt.Errorf("%w: clusters not set up", ErrNoRoute)
	}

	grouped := make(map[node.Node][]string)
	for _, key := range keys {
		owner, err := routes.owner(bucket, key)
		if err != nil {
			return nil, err
		}
		grouped[owner] = append(grouped[owner], key)
	}
	return grouped, nil
}

func (r *routerImpl) BroadcastRoute() map[string][]node.Node {
	t := r.current.Load()
	out := make(map[string][]node.Node, len(t.clusters))
	for name, routes := range t.clusters {
		out[name] = routes.sortedNodes()
	}
	return out
}

func (r *routerImpl) ClusterRoute(clusterName string) []node.Node {
	routes, ok := r.current.Load().clusters[clusterName]
	if !ok {
		return nil
	}
	return routes.sortedNodes()
}

func (r *routerImpl) Node(clusterName, nodeName string) (node.Node, bool) {
	routes, ok := r.current.Load().clusters[clusterName]
	if !ok {
		return nil, false
	}
	n, ok := routes.nodes[nodeName]
	return n, ok
}

func (r *routerImpl) LocalNode() node.Node {
	return r.current.Load().localNode
}

func (r *routerImpl) LocalCluster() cluster.Cluster {
	return r.current.Load().local
}

func (r *routerImpl) Clusters() []cluster.Cluster {
	t := r.current.Load()
	out := make([]cluster.Cluster, 0, len(t.clusters))
	for _, routes := range t.clusters {
		out = append(out, routes.cluster)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *routerImpl) Cleanup() {
	var nodes []node.Node
	_ = r.update(func(t *draft) error {
		for name, routes := range t.clusters {
			nodes = append(nodes, routes.sortedNodes()...)
			t.clusters[name] = &clusterRoutes{cluster: routes.cluster, nodes: map[string]node.Node{}, ring: r.partitioner()}
		}
		t.localNode = nil
		return nil
	})

	for _, n := range nodes {
		if err := n.Disconnect(); err != nil {
			Logger.Warningf("Failed to disconnect %s: %v", n.Name(), err)
		}
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// Address returns the partitioning key of a document
func Address(bucket, key string) string {
	return bucket + "/" + key
}

func (c *clusterRoutes) owner(bucket, key string) (node.Node, error) {
	name, ok := c.ring.Owner(Address(bucket, key))
	if !ok {
		return nil, fmt.Errorf("%w: cluster %s has no nodes", ErrNoRoute, c.cluster.Name)
	}
	n, ok := c.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: node %s of cluster %s is not routed", ErrNoRoute, name, c.cluster.Name)
	}
	return n, nil
}
