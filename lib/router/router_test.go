package router

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(name string) node.Node {
	return node.NewLocalNode(cluster.Member{Name: name, Host: "127.0.0.1", Port: 9000}, nil)
}

func setupRouter(t *testing.T, nodes ...string) Router {
	t.Helper()
	r := NewRouter(nil)
	require.NoError(t, r.SetupClusters([]cluster.Cluster{
		{Name: "alpha", IsLocal: true},
		{Name: "beta"},
	}))
	require.NoError(t, r.AddRouteToLocalNode(testNode("local")))
	for _, name := range nodes {
		added, err := r.AddRouteTo("alpha", testNode(name))
		require.NoError(t, err)
		require.True(t, added)
	}
	return r
}

func TestSetupClusters(t *testing.T) {
	r := NewRouter(nil)

	assert.Error(t, r.SetupClusters([]cluster.Cluster{{Name: "a"}, {Name: "b"}}))
	assert.Error(t, r.SetupClusters([]cluster.Cluster{{Name: "a", IsLocal: true}, {Name: "b", IsLocal: true}}))
	require.NoError(t, r.SetupClusters([]cluster.Cluster{{Name: "b"}, {Name: "a", IsLocal: true}}))

	assert.Equal(t, "a", r.LocalCluster().Name)
	assert.Equal(t, []cluster.Cluster{{Name: "a", IsLocal: true}, {Name: "b"}}, r.Clusters())

	_, err := r.AddRouteTo("unknown", testNode("x"))
	assert.Error(t, err)
}

func TestAddRouteToIsIdempotent(t *testing.T) {
	r := setupRouter(t, "n1")

	first, _ := r.Node("alpha", "n1")
	added, err := r.AddRouteTo("alpha", testNode("n1"))
	require.NoError(t, err)
	assert.False(t, added)

	kept, ok := r.Node("alpha", "n1")
	require.True(t, ok)
	assert.Same(t, first, kept)
	assert.Len(t, r.ClusterRoute("alpha"), 2)
}

func TestRemoveRouteTo(t *testing.T) {
	r := setupRouter(t, "n1", "n2")

	assert.True(t, r.RemoveRouteTo("alpha", testNode("n1")))
	assert.False(t, r.RemoveRouteTo("alpha", testNode("n1")))
	assert.False(t, r.RemoveRouteTo("unknown", testNode("n2")))

	_, ok := r.Node("alpha", "n1")
	assert.False(t, ok)

	for i := 0; i < 200; i++ {
		owner, err := r.RouteToNodeFor("bucket", fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.NotEqual(t, "n1", owner.Name())
	}
}

func TestRouteWithoutNodes(t *testing.T) {
	r := NewRouter(nil)
	_, err := r.RouteToNodeFor("bucket", "key")
	assert.True(t, errors.Is(err, ErrNoRoute))

	require.NoError(t, r.SetupClusters([]cluster.Cluster{{Name: "alpha", IsLocal: true}}))
	_, err = r.RouteToNodeFor("bucket", "key")
	assert.True(t, errors.Is(err, ErrNoRoute))
}

func TestRouteToNodesFor(t *testing.T) {
	r := setupRouter(t, "n1", "n2", "n3")

	keys := make([]string, 100)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}

	grouped, err := r.RouteToNodesFor("bucket", keys)
	require.NoError(t, err)

	total := 0
	for owner, ownedKeys := range grouped {
		total += len(ownedKeys)
		for _, key := range ownedKeys {
			single, err := r.RouteToNodeFor("bucket", key)
			require.NoError(t, err)
			assert.Equal(t, owner.Name(), single.Name())
		}
	}
	assert.Equal(t, len(keys), total)
	assert.Greater(t, len(grouped), 1)
}

func TestBroadcastRoute(t *testing.T) {
	r := setupRouter(t, "n2", "n1")
	added, err := r.AddRouteTo("beta", testNode("b1"))
	require.NoError(t, err)
	require.True(t, added)

	routes := r.BroadcastRoute()
	require.Len(t, routes, 2)

	var names []string
	for _, n := range routes["alpha"] {
		names = append(names, n.Name())
	}
	assert.Equal(t, []string{"local", "n1", "n2"}, names)
	assert.Len(t, routes["beta"], 1)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	r := setupRouter(t, "n1")
	before := r.ClusterRoute("alpha")

	_, err := r.AddRouteTo("alpha", testNode("n2"))
	require.NoError(t, err)

	assert.Len(t, before, 2)
	assert.Len(t, r.ClusterRoute("alpha"), 3)
}

func TestMinimalMovement(t *testing.T) {
	r := setupRouter(t, "n1", "n2", "n3")

	owners := make(map[string]string)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		owner, err := r.RouteToNodeFor("bucket", key)
		require.NoError(t, err)
		owners[key] = owner.Name()
	}

	_, err := r.AddRouteTo("alpha", testNode("n4"))
	require.NoError(t, err)

	for key, before := range owners {
		after, err := r.RouteToNodeFor("bucket", key)
		require.NoError(t, err)
		if after.Name() != before {
			assert.Equal(t, "n4", after.Name(), "key %s moved between existing nodes", key)
		}
	}
}

func TestRouteCondition(t *testing.T) {
	r := setupRouter(t, "n1", "n2")
	cond := NewRouteCondition(r)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		owner, err := r.RouteToNodeFor("bucket", key)
		require.NoError(t, err)
		assert.Equal(t, owner.Name() != "local", cond.IsSatisfied("bucket", key))
	}

	r.Cleanup()
	assert.Nil(t, r.LocalNode())
	assert.False(t, cond.IsSatisfied("bucket", "key-1"))
}

func TestCleanup(t *testing.T) {
	r := setupRouter(t, "n1")
	local := r.LocalNode()
	require.NoError(t, local.Connect(context.Background()))

	r.Cleanup()
	assert.False(t, local.IsConnected())
	assert.Empty(t, r.ClusterRoute("alpha"))
	assert.Len(t, r.Clusters(), 2)
}
