// Package client implements the RPC client of dDoc.
//
// A Client connects to any node of a cluster and sends every request as routed
// request: the node forwards single document operations to the owning node, fans out
// bulk operations per owner and broadcasts scans. Errors reported by the cluster are
// returned as *common.ResponseError carrying the originating error code.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoint:      "localhost:7400",
//	  TimeoutSecond: 5,
//	}
//
//	c, err := client.NewClient(ctx, config, tcp.NewTCPClientTransport(config.Transport, config.Timeout()), serializer.NewJSONSerializer())
//	if err != nil {
//	  return err
//	}
//	defer c.Close()
//
//	_, err = c.Put(ctx, "users", "alice", json.RawMessage(`{"age":31}`))
//	doc, err := c.Get(ctx, "users", "alice")
//
//	ok, owner, err := c.AcquireLock(ctx, "users", "alice", 30*time.Second)
//	if ok {
//	  c.ReleaseLock(ctx, "users", "alice", owner)
//	}
//
// Thread Safety:
//
//	A Client is safe for concurrent use. Concurrent calls share one connection and
//	are told apart by their correlation ids.
package client
