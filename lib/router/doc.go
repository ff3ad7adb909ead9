// Package router decides which node owns a document.
//
// Every cluster the node knows has its own route table: the routed nodes by
// name and a Partitioner mapping "bucket/key" to one of their names. The default
// partitioner is a consistent hash ring with 128 virtual nodes per member, so a
// membership change only moves the keys adjacent to the positions of the node
// that came or went.
//
// Ownership lookups (RouteToNodeFor, RouteToNodesFor) consult the local cluster
// only. Remote clusters are reached through BroadcastRoute and ClusterRoute.
//
// Route tables are published copy-on-write. The coordinator and the ensemble
// manager mutate them; the command path reads the latest snapshot without
// locking and may therefore see a table that is one mutation old.
//
// NewRouteCondition adapts a router to a store.FlushCondition that matches every
// key the local node no longer owns.
package router
