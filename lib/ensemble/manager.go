package ensemble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/ValentinKolb/dDoc/lib/router"
	"github.com/ValentinKolb/dDoc/rpc/common"
	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("ensemble")

// ErrNotJoined is returned for clusters the manager does not track
var ErrNotJoined = errors.New("cluster not joined")

// ViewChange describes the outcome of one update of a remote cluster
type ViewChange struct {
	Previous   cluster.View
	View       cluster.View
	Joined     []cluster.Member
	Left       []cluster.Member
	Percentage float64
}

// ClusterStatus summarizes a joined remote cluster
type ClusterStatus struct {
	Name             string       `json:"name"`
	View             cluster.View `json:"view"`
	Connected        []string     `json:"connected"`
	Contact          string       `json:"contact,omitempty"`
	JoinedAt         time.Time    `json:"joined_at"`
	LastUpdate       time.Time    `json:"last_update"`
	LastChange       float64      `json:"last_change_percentage"`
	NextUpdateIn     string       `json:"next_update_in,omitempty"`
	Updates          int64        `json:"updates"`
	MeanChurn        float64      `json:"mean_churn_percentage"`
	MeanUpdateMillis float64      `json:"mean_update_millis"`
}

// Manager keeps the routes to the nodes of remote clusters in sync with their views.
// Views are learned by asking any reachable member of the cluster for its membership.
type Manager struct {
	router    router.Router
	nodes     node.Factory
	scheduler Scheduler
	timeout   time.Duration
	registry  gometrics.Registry

	mu       sync.Mutex
	clusters map[string]*remoteCluster
}

// remoteCluster is the state of one joined cluster. mu serializes its updates.
type remoteCluster struct {
	mu sync.Mutex

	name       string
	seeds      []cluster.Member
	view       cluster.View
	nodes      map[string]node.Node
	contact    string
	joinedAt   time.Time
	lastUpdate time.Time
	lastChange float64

	churn   gometrics.Histogram
	latency gometrics.Timer
}

// NewManager creates a manager adding routes to r. Remote nodes are created by factory,
// every membership request is bounded by timeout.
func NewManager(r router.Router, factory node.Factory, scheduler Scheduler, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Manager{
		router:    r,
		nodes:     factory,
		scheduler: scheduler,
		timeout:   timeout,
		registry:  gometrics.NewRegistry(),
		clusters:  make(map[string]*remoteCluster),
	}
}

// Join contacts the cluster through seeds, routes to every member of its view and
// schedules periodic updates. Joining a joined cluster refreshes its view and seeds.
func (m *Manager) Join(ctx context.Context, clusterName string, seeds []cluster.Member) (cluster.View, error) {
	if clusterName == m.router.LocalCluster().Name {
		return cluster.View{}, fmt.Errorf("cannot join the local cluster %s", clusterName)
	}

	m.mu.Lock()
	rc, existed := m.clusters[clusterName]
	if !existed {
		rc = &remoteCluster{
			name:     clusterName,
			nodes:    make(map[string]node.Node),
			joinedAt: time.Now(),
			churn:    gometrics.GetOrRegisterHistogram(clusterName+".churn", m.registry, gometrics.NewExpDecaySample(1028, 0.015)),
			latency:  gometrics.GetOrRegisterTimer(clusterName+".update", m.registry),
		}
	}
	m.mu.Unlock()

	rc.mu.Lock()
	rc.seeds = append([]cluster.Member(nil), seeds...)
	view, err := m.poll(ctx, rc)
	if err != nil {
		rc.mu.Unlock()
		return cluster.View{}, fmt.Errorf("failed to join %s: %w", clusterName, err)
	}
	change := m.apply(ctx, rc, view)
	rc.mu.Unlock()

	m.mu.Lock()
	m.clusters[clusterName] = rc
	m.mu.Unlock()

	Logger.Infof("Joined cluster %s with %d members", clusterName, len(change.View.Members))
	if m.scheduler != nil {
		m.scheduler.Schedule(clusterName, m)
	}
	return change.View, nil
}

// Update re-polls a joined cluster and applies the difference to the routes. It returns
// nil without error for clusters that are not joined.
func (m *Manager) Update(ctx context.Context, clusterName string) (*ViewChange, error) {
	m.mu.Lock()
	rc, ok := m.clusters[clusterName]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	start := time.Now()
	vmetrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_ensemble_updates_total{cluster=%q}`, clusterName)).Inc()
	view, err := m.poll(ctx, rc)
	if err != nil {
		vmetrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_ensemble_update_failures_total{cluster=%q}`, clusterName)).Inc()
		return nil, err
	}
	change := m.apply(ctx, rc, view)
	rc.latency.UpdateSince(start)
	return change, nil
}

// Leave drops the routes to a cluster and stops its updates
func (m *Manager) Leave(clusterName string) error {
	if m.scheduler != nil {
		m.scheduler.Cancel(clusterName)
	}

	m.mu.Lock()
	rc, ok := m.clusters[clusterName]
	delete(m.clusters, clusterName)
	m.mu.Unlock()
	if !ok {
		return ErrNotJoined
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	m.dropAll(rc)
	Logger.Infof("Left cluster %s", clusterName)
	return nil
}

// View returns the last view learned of a cluster
func (m *Manager) View(clusterName string) (cluster.View, bool) {
	m.mu.Lock()
	rc, ok := m.clusters[clusterName]
	m.mu.Unlock()
	if !ok {
		return cluster.View{}, false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.view, true
}

// Status returns the state of every joined cluster ordered by name
func (m *Manager) Status() []ClusterStatus {
	m.mu.Lock()
	clusters := make([]*remoteCluster, 0, len(m.clusters))
	for _, rc := range m.clusters {
		clusters = append(clusters, rc)
	}
	m.mu.Unlock()

	statuses := make([]ClusterStatus, 0, len(clusters))
	for _, rc := range clusters {
		rc.mu.Lock()
		status := ClusterStatus{
			Name:             rc.name,
			View:             rc.view,
			Connected:        make([]string, 0, len(rc.nodes)),
			Contact:          rc.contact,
			JoinedAt:         rc.joinedAt,
			LastUpdate:       rc.lastUpdate,
			LastChange:       rc.lastChange,
			Updates:          rc.churn.Count(),
			MeanChurn:        rc.churn.Mean(),
			MeanUpdateMillis: rc.latency.Mean() / float64(time.Millisecond),
		}
		for name := range rc.nodes {
			status.Connected = append(status.Connected, name)
		}
		rc.mu.Unlock()

		sort.Strings(status.Connected)
		if m.scheduler != nil {
			if interval, ok := m.scheduler.Interval(rc.name); ok {
				status.NextUpdateIn = interval.String()
			}
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Shutdown stops all updates and drops the routes to every remote cluster
func (m *Manager) Shutdown() {
	if m.scheduler != nil {
		m.scheduler.Shutdown()
	}

	m.mu.Lock()
	clusters := m.clusters
	m.clusters = make(map[string]*remoteCluster)
	m.mu.Unlock()

	for _, rc := range clusters {
		rc.mu.Lock()
		m.dropAll(rc)
		rc.mu.Unlock()
	}
	Logger.Infof("Ensemble manager shut down")
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// poll asks the last contact, the other known members and finally the seeds for the
// view of the cluster. The first valid answer wins.
func (m *Manager) poll(ctx context.Context, rc *remoteCluster) (cluster.View, error) {
	var errs *multierror.Error
	errs = multierror.Append(errs)
	errs.ErrorFormat = listFormat

	for _, n := range rc.candidates() {
		view, err := m.askMembership(ctx, n)
		if err == nil && view.ClusterName != rc.name {
			err = fmt.Errorf("answered for cluster %s", view.ClusterName)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		rc.contact = n.Name()
		return view, nil
	}

	for _, seed := range rc.seeds {
		if _, ok := rc.nodes[seed.Name]; ok && seed.Name != "" {
			continue
		}
		view, err := m.askSeed(ctx, seed)
		if err == nil && view.ClusterName != rc.name {
			err = fmt.Errorf("answered for cluster %s", view.ClusterName)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("seed %s: %w", seed.Address(), err))
			continue
		}
		rc.contact = ""
		return view, nil
	}

	if errs.Len() == 0 {
		return cluster.View{}, fmt.Errorf("no members or seeds known for %s", rc.name)
	}
	return cluster.View{}, errs.ErrorOrNil()
}

// askSeed polls a seed through a temporary connection
func (m *Manager) askSeed(ctx context.Context, seed cluster.Member) (cluster.View, error) {
	n := m.nodes(seed)
	defer func() {
		_ = n.Disconnect()
	}()
	return m.askMembership(ctx, n)
}

func (m *Manager) askMembership(ctx context.Context, n node.Node) (cluster.View, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := n.Connect(ctx); err != nil {
		return cluster.View{}, err
	}
	req, err := common.NewRequest(uuid.NewString(), common.KindMembership, struct{}{})
	if err != nil {
		return cluster.View{}, err
	}
	var view cluster.View
	if err := n.Send(ctx, req).Decode(&view); err != nil {
		return cluster.View{}, err
	}
	return view, nil
}

// apply routes to the members of view that are not routed yet and drops the routes to
// members that left. Members that cannot be connected are retried on the next update.
func (m *Manager) apply(ctx context.Context, rc *remoteCluster, view cluster.View) *ViewChange {
	change := &ViewChange{
		Previous:   rc.view,
		View:       view,
		Percentage: cluster.PercentageOfChange(rc.view, view),
	}
	change.Joined, change.Left = rc.view.Diff(view)

	routed := 0
	for _, member := range view.Members {
		if _, ok := rc.nodes[member.Name]; ok {
			continue
		}
		if existing, ok := m.router.Node(rc.name, member.Name); ok {
			rc.nodes[member.Name] = existing
			continue
		}

		n := m.nodes(member)
		connectCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := n.Connect(connectCtx)
		cancel()
		if err != nil {
			Logger.Warningf("Failed to connect to %s of cluster %s: %v", member, rc.name, err)
			continue
		}
		added, err := m.router.AddRouteTo(rc.name, n)
		if err != nil {
			Logger.Errorf("Failed to route to %s of cluster %s: %v", member, rc.name, err)
			_ = n.Disconnect()
			continue
		}
		if !added {
			_ = n.Disconnect()
			if existing, ok := m.router.Node(rc.name, member.Name); ok {
				rc.nodes[member.Name] = existing
			}
			continue
		}
		rc.nodes[member.Name] = n
		routed++
	}

	dropped := 0
	for name, n := range rc.nodes {
		if view.Contains(name) {
			continue
		}
		m.router.RemoveRouteTo(rc.name, n)
		_ = n.Disconnect()
		delete(rc.nodes, name)
		dropped++
	}

	if routed+dropped > 0 {
		vmetrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_ensemble_route_changes_total{cluster=%q}`, rc.name)).Add(routed + dropped)
		Logger.Infof("Cluster %s: %d routes added, %d dropped (%.1f%% change)", rc.name, routed, dropped, change.Percentage)
	}

	rc.view = view
	rc.lastUpdate = time.Now()
	rc.lastChange = change.Percentage
	rc.churn.Update(int64(change.Percentage))
	return change
}

// candidates returns the connected nodes of the cluster, last contact first
func (rc *remoteCluster) candidates() []node.Node {
	nodes := make([]node.Node, 0, len(rc.nodes))
	for _, n := range rc.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name() == rc.contact {
			return true
		}
		if nodes[j].Name() == rc.contact {
			return false
		}
		return nodes[i].Name() < nodes[j].Name()
	})
	return nodes
}

func (m *Manager) dropAll(rc *remoteCluster) {
	for name, n := range rc.nodes {
		m.router.RemoveRouteTo(rc.name, n)
		_ = n.Disconnect()
		delete(rc.nodes, name)
	}
	rc.view = cluster.View{ClusterName: rc.name}
}

func listFormat(errs []error) string {
	msg := fmt.Sprintf("%d errors:", len(errs))
	for _, err := range errs {
		msg += " " + err.Error() + ";"
	}
	return msg
}
