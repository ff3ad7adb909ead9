package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/router"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/memstore"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Fixture
// --------------------------------------------------------------------------

// testNode executes requests in-process on its own store and records them
type testNode struct {
	member cluster.Member
	env    *Env
	fail   bool

	mu       sync.Mutex
	requests []*common.Request
}

func (n *testNode) Name() string                      { return n.member.Name }
func (n *testNode) Member() cluster.Member            { return n.member }
func (n *testNode) IsLocal() bool                     { return false }
func (n *testNode) Connect(context.Context) error     { return nil }
func (n *testNode) Disconnect() error                 { return nil }
func (n *testNode) IsConnected() bool                 { return true }
func (n *testNode) received() []*common.Request       { n.mu.Lock(); defer n.mu.Unlock(); return n.requests }
func (n *testNode) store() store.Store                { return n.env.Store }
func (n *testNode) lockManager() lockmgr.ILockManager { return n.env.Locks }

func (n *testNode) Send(ctx context.Context, req *common.Request) *common.Response {
	n.mu.Lock()
	copied := *req
	n.requests = append(n.requests, &copied)
	n.mu.Unlock()

	if n.fail {
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCCommunication, "node %s is down", n.member.Name)
	}
	return LocalHandler(n.env)(ctx, req)
}

type fixture struct {
	router router.Router
	env    *Env
	nodes  map[string]*testNode
}

// newFixture creates the local cluster "alpha" with the given nodes, the first one
// is the local node, and an empty remote cluster "beta"
func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	r := router.NewRouter(nil)
	require.NoError(t, r.SetupClusters([]cluster.Cluster{{Name: "alpha", IsLocal: true}, {Name: "beta"}}))

	f := &fixture{router: r, nodes: map[string]*testNode{}}
	for i, name := range names {
		locks := lockmgr.NewLockManager(0, 0)
		t.Cleanup(locks.Close)
		n := &testNode{
			member: cluster.Member{Name: name, Host: "127.0.0.1", Port: 9000 + i},
			env: &Env{
				Store:  memstore.NewMemoryStore(),
				Locks:  locks,
				Router: r,
				View:   func() cluster.View { return cluster.NewView("alpha", cluster.Member{Name: names[0]}) },
			},
		}
		f.nodes[name] = n
		if i == 0 {
			require.NoError(t, r.AddRouteToLocalNode(n))
			f.env = n.env
		} else {
			_, err := r.AddRouteTo("alpha", n)
			require.NoError(t, err)
		}
	}
	return f
}

func (f *fixture) add(t *testing.T, clusterName string, n *testNode) {
	t.Helper()
	if n.env == nil {
		n.env = &Env{Store: memstore.NewMemoryStore(), Router: f.router}
	}
	_, err := f.router.AddRouteTo(clusterName, n)
	require.NoError(t, err)
	f.nodes[n.member.Name] = n
}

func (f *fixture) owner(t *testing.T, bucket, key string) *testNode {
	t.Helper()
	n, err := f.router.RouteToNodeFor(bucket, key)
	require.NoError(t, err)
	return f.nodes[n.Name()]
}

func (f *fixture) execute(t *testing.T, kind common.Kind, payload any) *common.Response {
	t.Helper()
	req, err := common.NewRequest(uuid.NewString(), kind, payload)
	require.NoError(t, err)
	req.Routed = true
	resp := ExecuteOnRouter(context.Background(), f.env, req)
	require.NotNil(t, resp)
	assert.Equal(t, req.ID, resp.CorrelationID)
	return resp
}

func doc(format string, args ...any) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Single Documents
// --------------------------------------------------------------------------

func TestSingleKeyRoutesToOwner(t *testing.T) {
	f := newFixture(t, "n0", "n1", "n2")

	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("key-%d", i)
		resp := f.execute(t, common.KindPut, PutPayload{Bucket: "users", Key: key, Value: doc(`{"i":%d}`, i)})
		require.True(t, resp.IsOk(), resp.ErrorMessage)

		owner := f.owner(t, "users", key)
		for name, n := range f.nodes {
			_, err := n.store().Get("users", key)
			if name == owner.Name() {
				assert.NoError(t, err)
			} else {
				assert.True(t, store.IsNotFound(err), "%s stored on non-owner %s", key, name)
			}
		}

		resp = f.execute(t, common.KindGet, KeyPayload{Bucket: "users", Key: key})
		var got map[string]int
		require.NoError(t, resp.Decode(&got))
		assert.Equal(t, i, got["i"])
	}
}

func TestSingleKeyErrors(t *testing.T) {
	f := newFixture(t, "n0", "n1")

	resp := f.execute(t, common.KindGet, KeyPayload{Bucket: "users", Key: "missing"})
	assert.Equal(t, common.ErrCNotFound, resp.ErrorCode)

	resp = f.execute(t, common.KindPut, PutPayload{Bucket: "users", Key: "k", Value: doc(`[1,2]`)})
	assert.Equal(t, common.ErrCBadRequest, resp.ErrorCode)

	resp = f.execute(t, common.KindPut, PutPayload{Bucket: "a/b", Key: "k", Value: doc(`{}`)})
	assert.Equal(t, common.ErrCBadRequest, resp.ErrorCode)

	resp = f.execute(t, common.KindRemove, KeyPayload{Bucket: "users", Key: "missing"})
	assert.Equal(t, common.ErrCNotFound, resp.ErrorCode)

	req := &common.Request{ID: "x", Kind: common.KindGet, Routed: true}
	resp = ExecuteOnRouter(context.Background(), f.env, req)
	assert.Equal(t, common.ErrCBadRequest, resp.ErrorCode)

	req = &common.Request{ID: "y", Kind: common.Kind(200), Routed: true}
	resp = ExecuteOnRouter(context.Background(), f.env, req)
	assert.Equal(t, common.ErrCBadRequest, resp.ErrorCode)
}

func TestMissingRoute(t *testing.T) {
	r := router.NewRouter(nil)
	require.NoError(t, r.SetupClusters([]cluster.Cluster{{Name: "alpha", IsLocal: true}}))
	env := &Env{Store: memstore.NewMemoryStore(), Router: r}

	req, err := common.NewRequest("id", common.KindGet, KeyPayload{Bucket: "b", Key: "k"})
	require.NoError(t, err)
	resp := ExecuteOnRouter(context.Background(), env, req)
	assert.Equal(t, common.ErrCMissingRoute, resp.ErrorCode)
}

func TestMergePut(t *testing.T) {
	f := newFixture(t, "n0", "n1")

	f.execute(t, common.KindPut, PutPayload{Bucket: "b", Key: "k", Value: doc(`{"a":1,"b":2}`)})
	resp := f.execute(t, common.KindPut, PutPayload{Bucket: "b", Key: "k", Value: doc(`{"b":null,"c":3}`), Merge: true})

	var merged map[string]int
	require.NoError(t, resp.Decode(&merged))
	assert.Equal(t, map[string]int{"a": 1, "c": 3}, merged)
}

func TestForwardKeepsIDAndClearsRouted(t *testing.T) {
	f := newFixture(t, "n0", "n1", "n2")

	resp := f.execute(t, common.KindPut, PutPayload{Bucket: "b", Key: "k", Value: doc(`{}`)})
	require.True(t, resp.IsOk())

	owner := f.owner(t, "b", "k")
	received := owner.received()
	require.Len(t, received, 1)
	assert.False(t, received[0].Routed)
	assert.Equal(t, "n0", received[0].Sender)
}

// --------------------------------------------------------------------------
// Bulk Operations
// --------------------------------------------------------------------------

func TestBulkOperations(t *testing.T) {
	f := newFixture(t, "n0", "n1", "n2")

	var entries []store.Entry
	var keys []string
	for i := 0; i < 40; i++ {
		key := fmt.Sprintf("key-%02d", i)
		keys = append(keys, key)
		entries = append(entries, store.Entry{Key: key, Value: doc(`{"i":%d}`, i)})
	}

	resp := f.execute(t, common.KindBulkPut, BulkPutPayload{Bucket: "b", Entries: entries})
	var stored int
	require.NoError(t, resp.Decode(&stored))
	assert.Equal(t, 40, stored)

	// every node received only keys it owns, each sub-request with its own id
	ids := map[string]bool{}
	for name, n := range f.nodes {
		for _, req := range n.received() {
			assert.False(t, req.Routed)
			assert.False(t, ids[req.ID], "sub-request id reused")
			ids[req.ID] = true

			var p BulkPutPayload
			require.NoError(t, json.Unmarshal(req.Payload, &p))
			for _, e := range p.Entries {
				assert.Equal(t, name, f.owner(t, "b", e.Key).Name())
			}
		}
	}
	assert.Greater(t, len(ids), 1)

	resp = f.execute(t, common.KindBulkGet, BulkKeysPayload{Bucket: "b", Keys: append(keys[:5:5], "missing")})
	var found map[string]json.RawMessage
	require.NoError(t, resp.Decode(&found))
	assert.Len(t, found, 5)
	assert.JSONEq(t, `{"i":3}`, string(found["key-03"]))

	resp = f.execute(t, common.KindBulkRemove, BulkKeysPayload{Bucket: "b", Keys: []string{"key-01", "key-00", "missing"}})
	var removed []string
	require.NoError(t, resp.Decode(&removed))
	assert.Equal(t, []string{"key-00", "key-01"}, removed)
}

func TestBulkPartialFailure(t *testing.T) {
	f := newFixture(t, "n0", "n1", "n2")
	f.nodes["n1"].fail = true

	var keys []string
	for i := 0; i < 40; i++ {
		keys = append(keys, fmt.Sprintf("key-%02d", i))
	}
	resp := f.execute(t, common.KindBulkGet, BulkKeysPayload{Bucket: "b", Keys: keys})
	assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)
	assert.Contains(t, resp.ErrorMessage, "n1")
}

// --------------------------------------------------------------------------
// Scans
// --------------------------------------------------------------------------

func seed(t *testing.T, f *fixture, bucket string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		resp := f.execute(t, common.KindPut, PutPayload{
			Bucket: bucket,
			Key:    fmt.Sprintf("key-%02d", i),
			Value:  doc(`{"i":%d,"even":%t}`, i, i%2 == 0),
		})
		require.True(t, resp.IsOk(), resp.ErrorMessage)
	}
}

func TestRangeAndQuery(t *testing.T) {
	f := newFixture(t, "n0", "n1", "n2")
	seed(t, f, "b", 20)

	resp := f.execute(t, common.KindRange, RangePayload{Bucket: "b", From: "key-05", To: "key-15", Limit: 4})
	var entries []store.Entry
	require.NoError(t, resp.Decode(&entries))
	var got []string
	for _, e := range entries {
		got = append(got, e.Key)
	}
	assert.Equal(t, []string{"key-05", "key-06", "key-07", "key-08"}, got)

	resp = f.execute(t, common.KindQuery, QueryPayload{Bucket: "b", Field: "even", Value: doc(`true`)})
	require.NoError(t, resp.Decode(&entries))
	assert.Len(t, entries, 10)
	for _, e := range entries {
		assert.Contains(t, string(e.Value), `"even":true`)
	}

	resp = f.execute(t, common.KindQuery, QueryPayload{Bucket: "b", Field: "i", Value: doc(`7.0`)})
	require.NoError(t, resp.Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "key-07", entries[0].Key)

	resp = f.execute(t, common.KindBuckets, nil)
	var buckets []string
	require.NoError(t, resp.Decode(&buckets))
	assert.Equal(t, []string{"b"}, buckets)
}

func TestMapReduce(t *testing.T) {
	f := newFixture(t, "n0", "n1", "n2")
	seed(t, f, "b", 10)

	resp := f.execute(t, common.KindMap, MapPayload{Bucket: "b", Mapper: "field:i"})
	var mapped []store.Entry
	require.NoError(t, resp.Decode(&mapped))
	require.Len(t, mapped, 10)
	assert.Equal(t, "key-00", mapped[0].Key)
	assert.Equal(t, "0", string(mapped[0].Value))

	tests := []struct {
		name    string
		mapper  string
		reducer string
		want    any
	}{
		{name: "count", reducer: "count", want: float64(10)},
		{name: "sum", reducer: "sum:i", want: float64(45)},
		{name: "sum of mapped", mapper: "field:i", reducer: "sum", want: float64(45)},
		{name: "min", reducer: "min:i", want: float64(0)},
		{name: "max", reducer: "max:i", want: float64(9)},
		{name: "max of missing field", reducer: "max:missing", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.execute(t, common.KindReduce, ReducePayload{Bucket: "b", Mapper: tt.mapper, Reducer: tt.reducer})
			var got any
			require.NoError(t, resp.Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}

	resp = f.execute(t, common.KindReduce, ReducePayload{Bucket: "b", Reducer: "stats:i"})
	var stats Stats
	require.NoError(t, resp.Decode(&stats))
	assert.Equal(t, 10, stats.Count)
	assert.InDelta(t, 4.5, stats.Mean, 1e-9)
	assert.InDelta(t, 2.8723, stats.StdDeviation, 1e-3)

	resp = f.execute(t, common.KindReduce, ReducePayload{Bucket: "b", Reducer: "median"})
	assert.Equal(t, common.ErrCBadRequest, resp.ErrorCode)
}

// --------------------------------------------------------------------------
// Broadcast
// --------------------------------------------------------------------------

func TestRemoveBucketBroadcast(t *testing.T) {
	tests := []struct {
		name   string
		remote []bool // failure flags of the nodes of cluster beta
		ok     bool
	}{
		{name: "all nodes succeed", remote: []bool{false, false}, ok: true},
		{name: "one node of a cluster fails", remote: []bool{true, false}, ok: true},
		{name: "every node of a cluster fails", remote: []bool{true, true}, ok: false},
		{name: "cluster without nodes", remote: nil, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "n0", "n1")
			for i, fail := range tt.remote {
				f.add(t, "beta", &testNode{member: cluster.Member{Name: fmt.Sprintf("b%d", i)}, fail: fail})
			}
			seed(t, f, "doomed", 5)

			resp := f.execute(t, common.KindRemoveBucket, BucketPayload{Bucket: "doomed"})
			if !tt.ok {
				assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)
				return
			}
			require.True(t, resp.IsOk(), resp.ErrorMessage)
			for _, name := range []string{"n0", "n1"} {
				buckets, err := f.nodes[name].store().Buckets()
				require.NoError(t, err)
				assert.Empty(t, buckets)
			}
		})
	}
}

func TestLocalBroadcastRequiresAllNodes(t *testing.T) {
	f := newFixture(t, "n0", "n1")
	f.nodes["n1"].fail = true

	resp := f.execute(t, common.KindRange, RangePayload{Bucket: "b"})
	assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)
}

func TestMembership(t *testing.T) {
	f := newFixture(t, "n0", "n1")

	resp := f.execute(t, common.KindMembership, nil)
	view, err := DecodeView(resp)
	require.NoError(t, err)
	if diff := cmp.Diff(cluster.NewView("alpha", cluster.Member{Name: "n0"}), view); diff != "" {
		t.Errorf("view mismatch (-want +got):\n%s", diff)
	}
	for _, n := range f.nodes {
		assert.Empty(t, n.received(), "membership must not be routed")
	}
}

// --------------------------------------------------------------------------
// Backups
// --------------------------------------------------------------------------

func TestExportImport(t *testing.T) {
	source := newFixture(t, "n0", "n1", "n2")
	seed(t, source, "b", 15)
	seed(t, source, "c", 5)

	resp := source.execute(t, common.KindExport, nil)
	var backup BackupPayload
	require.NoError(t, resp.Decode(&backup))
	assert.Equal(t, 20, backup.Documents)

	target := newFixture(t, "m0", "m1")
	resp = target.execute(t, common.KindImport, BackupPayload{Backup: backup.Backup})
	var imported int
	require.NoError(t, resp.Decode(&imported))
	assert.Equal(t, 20, imported)

	for i := 0; i < 15; i++ {
		key := fmt.Sprintf("key-%02d", i)
		_, err := target.owner(t, "b", key).store().Get("b", key)
		assert.NoError(t, err)
	}

	resp = target.execute(t, common.KindImport, BackupPayload{Backup: "not json"})
	assert.Equal(t, common.ErrCBadRequest, resp.ErrorCode)
}

// --------------------------------------------------------------------------
// Locks
// --------------------------------------------------------------------------

func TestLocks(t *testing.T) {
	f := newFixture(t, "n0", "n1", "n2")

	resp := f.execute(t, common.KindLockAcquire, LockPayload{Bucket: "b", Key: "k", LeaseMillis: 60000})
	var first LockResult
	require.NoError(t, resp.Decode(&first))
	require.True(t, first.Ok)
	assert.Equal(t, 1, f.owner(t, "b", "k").lockManager().Held())

	resp = f.execute(t, common.KindLockAcquire, LockPayload{Bucket: "b", Key: "k"})
	var second LockResult
	require.NoError(t, resp.Decode(&second))
	assert.False(t, second.Ok)

	resp = f.execute(t, common.KindLockRelease, LockPayload{Bucket: "b", Key: "k"})
	assert.Equal(t, common.ErrCBadRequest, resp.ErrorCode)

	resp = f.execute(t, common.KindLockRelease, LockPayload{Bucket: "b", Key: "k", OwnerID: first.OwnerID})
	var released LockResult
	require.NoError(t, resp.Decode(&released))
	assert.True(t, released.Ok)
	assert.Equal(t, 0, f.owner(t, "b", "k").lockManager().Held())
}

func TestLockHolderWritesThroughItsLock(t *testing.T) {
	f := newFixture(t, "n0", "n1", "n2")

	resp := f.execute(t, common.KindLockAcquire, LockPayload{Bucket: "b", Key: "k", LeaseMillis: 60000})
	var lock LockResult
	require.NoError(t, resp.Decode(&lock))
	require.True(t, lock.Ok)

	resp = f.execute(t, common.KindPut, PutPayload{Bucket: "b", Key: "k", Value: doc(`{"v":1}`), OwnerID: lock.OwnerID})
	require.True(t, resp.IsOk(), resp.ErrorMessage)
	resp = f.execute(t, common.KindPut, PutPayload{Bucket: "b", Key: "k", Value: doc(`{"w":2}`), Merge: true, OwnerID: lock.OwnerID})
	require.True(t, resp.IsOk(), resp.ErrorMessage)

	// everybody else waits for the release
	req, err := common.NewRequest(uuid.NewString(), common.KindPut, PutPayload{Bucket: "b", Key: "k", Value: doc(`{"v":3}`)})
	require.NoError(t, err)
	req.Routed = true
	blocked := make(chan *common.Response, 1)
	go func() { blocked <- ExecuteOnRouter(context.Background(), f.env, req) }()

	select {
	case <-blocked:
		t.Fatal("write without the owner id passed a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	resp = f.execute(t, common.KindBulkPut, BulkPutPayload{Bucket: "b", Entries: []store.Entry{{Key: "k", Value: doc(`{"v":2}`)}}, OwnerID: lock.OwnerID})
	require.True(t, resp.IsOk(), resp.ErrorMessage)
	resp = f.execute(t, common.KindRemove, KeyPayload{Bucket: "b", Key: "k", OwnerID: lock.OwnerID})
	require.True(t, resp.IsOk(), resp.ErrorMessage)
	assert.Equal(t, 1, f.owner(t, "b", "k").lockManager().Held())

	resp = f.execute(t, common.KindLockRelease, LockPayload{Bucket: "b", Key: "k", OwnerID: lock.OwnerID})
	require.True(t, resp.IsOk(), resp.ErrorMessage)

	select {
	case resp := <-blocked:
		require.True(t, resp.IsOk(), resp.ErrorMessage)
	case <-time.After(2 * time.Second):
		t.Fatal("write did not proceed after the release")
	}

	resp = f.execute(t, common.KindGet, KeyPayload{Bucket: "b", Key: "k"})
	var stored json.RawMessage
	require.NoError(t, resp.Decode(&stored))
	assert.JSONEq(t, `{"v":3}`, string(stored))
}
