package command

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

func init() {
	register(bulkGetCommand{})
	register(bulkPutCommand{})
	register(bulkRemoveCommand{})
}

// splitKeys validates keys and groups them by their owning node, one sub-request per node
func splitKeys(env *Env, req *common.Request, bucket string, keys []string, payload func(keys []string) any) ([]call, error) {
	for _, key := range keys {
		if err := store.ValidateAddress(bucket, key); err != nil {
			return nil, err
		}
	}
	grouped, err := env.Router.RouteToNodesFor(bucket, keys)
	if err != nil {
		return nil, err
	}

	calls := make([]call, 0, len(grouped))
	for owner, owned := range grouped {
		sub, err := subRequest(env, req, payload(owned))
		if err != nil {
			return nil, err
		}
		calls = append(calls, call{node: owner, req: sub})
	}
	return calls, nil
}

// fanOut splits keys by owner, sends the sub-requests and returns their responses
func fanOut(ctx context.Context, env *Env, req *common.Request, bucket string, keys []string, payload func(keys []string) any) ([]*common.Response, error) {
	calls, err := splitKeys(env, req, bucket, keys, payload)
	if err != nil {
		return nil, err
	}
	return collect(scatter(ctx, env, calls))
}

// --------------------------------------------------------------------------
// Bulk Get
// --------------------------------------------------------------------------

type bulkGetCommand struct{}

func (bulkGetCommand) Kind() common.Kind { return common.KindBulkGet }

func (bulkGetCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p BulkKeysPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	responses, err := fanOut(ctx, env, req, p.Bucket, p.Keys, func(keys []string) any {
		return BulkKeysPayload{Bucket: p.Bucket, Keys: keys}
	})
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	found := make(map[string]json.RawMessage, len(p.Keys))
	for _, resp := range responses {
		var part map[string]json.RawMessage
		if err := resp.Decode(&part); err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		for key, value := range part {
			found[key] = value
		}
	}
	return common.NewResultResponse(req.ReplyTo(), found)
}

func (bulkGetCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p BulkKeysPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	found := make(map[string]json.RawMessage, len(p.Keys))
	for _, key := range p.Keys {
		value, err := env.Store.Get(p.Bucket, key)
		if store.IsNotFound(err) {
			continue
		} else if err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		found[key] = value
	}
	return common.NewResultResponse(req.ReplyTo(), found)
}

// --------------------------------------------------------------------------
// Bulk Put
// --------------------------------------------------------------------------

type bulkPutCommand struct{}

func (bulkPutCommand) Kind() common.Kind { return common.KindBulkPut }

func (bulkPutCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p BulkPutPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	byKey := make(map[string]store.Entry, len(p.Entries))
	keys := make([]string, 0, len(p.Entries))
	for _, entry := range p.Entries {
		if err := store.ValidateDocument(entry.Value); err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		if _, dup := byKey[entry.Key]; !dup {
			keys = append(keys, entry.Key)
		}
		// the last entry of a key wins
		byKey[entry.Key] = entry
	}

	responses, err := fanOut(ctx, env, req, p.Bucket, keys, func(owned []string) any {
		entries := make([]store.Entry, len(owned))
		for i, key := range owned {
			entries[i] = byKey[key]
		}
		return BulkPutPayload{Bucket: p.Bucket, Entries: entries, Merge: p.Merge, OwnerID: p.OwnerID}
	})
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	stored := 0
	for _, resp := range responses {
		var n int
		if err := resp.Decode(&n); err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		stored += n
	}
	return common.NewResultResponse(req.ReplyTo(), stored)
}

func (bulkPutCommand) ExecuteOnStore(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p BulkPutPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	stored := 0
	for _, entry := range p.Entries {
		err := withLock(ctx, env, p.Bucket, entry.Key, p.OwnerID, func() error {
			_, err := putDocument(env.Store, p.Bucket, entry.Key, entry.Value, p.Merge)
			return err
		})
		if err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		stored++
	}
	return common.NewResultResponse(req.ReplyTo(), stored)
}

// --------------------------------------------------------------------------
// Bulk Remove
// --------------------------------------------------------------------------

type bulkRemoveCommand struct{}

func (bulkRemoveCommand) Kind() common.Kind { return common.KindBulkRemove }

func (bulkRemoveCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p BulkKeysPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	responses, err := fanOut(ctx, env, req, p.Bucket, p.Keys, func(keys []string) any {
		return BulkKeysPayload{Bucket: p.Bucket, Keys: keys, OwnerID: p.OwnerID}
	})
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	removed := make([]string, 0, len(p.Keys))
	for _, resp := range responses {
		var part []string
		if err := resp.Decode(&part); err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		removed = append(removed, part...)
	}
	sort.Strings(removed)
	return common.NewResultResponse(req.ReplyTo(), removed)
}

func (bulkRemoveCommand) ExecuteOnStore(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p BulkKeysPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	removed := make([]string, 0, len(p.Keys))
	for _, key := range p.Keys {
		err := withLock(ctx, env, p.Bucket, key, p.OwnerID, func() error {
			return env.Store.Remove(p.Bucket, key)
		})
		if store.IsNotFound(err) {
			continue
		} else if err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		removed = append(removed, key)
	}
	return common.NewResultResponse(req.ReplyTo(), removed)
}
