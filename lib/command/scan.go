package command

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

func init() {
	register(rangeCommand{})
	register(queryCommand{})
	register(mapCommand{})
	register(reduceCommand{})
	register(bucketsCommand{})
}

// mergeEntries concatenates the entry lists of all responses, orders them by key and
// applies limit
func mergeEntries(responses []*common.Response, limit int) ([]store.Entry, error) {
	var merged []store.Entry
	for _, resp := range responses {
		var part []store.Entry
		if err := resp.Decode(&part); err != nil {
			return nil, err
		}
		merged = append(merged, part...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Key < merged[j].Key })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []store.Entry{}
	}
	return merged, nil
}

// --------------------------------------------------------------------------
// Range
// --------------------------------------------------------------------------

type rangeCommand struct{}

func (rangeCommand) Kind() common.Kind { return common.KindRange }

func (rangeCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p RangePayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	responses, err := broadcastLocal(ctx, env, req, p)
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	entries, err := mergeEntries(responses, p.Limit)
	return reply(req, entries, err)
}

func (rangeCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p RangePayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	entries, err := env.Store.Range(p.Bucket, p.From, p.To, p.Limit)
	return reply(req, entries, err)
}

// --------------------------------------------------------------------------
// Query
// --------------------------------------------------------------------------

type queryCommand struct{}

func (queryCommand) Kind() common.Kind { return common.KindQuery }

func (queryCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p QueryPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	if p.Field == "" {
		return ToResponse(req.ReplyTo(), badRequest("query without field"))
	}
	responses, err := broadcastLocal(ctx, env, req, p)
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	entries, err := mergeEntries(responses, p.Limit)
	return reply(req, entries, err)
}

func (queryCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p QueryPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	want, err := canonical(p.Value)
	if err != nil {
		return ToResponse(req.ReplyTo(), badRequest("invalid query value: %v", err))
	}

	entries := []store.Entry{}
	err = env.Store.Scan(p.Bucket, func(key string, value json.RawMessage) bool {
		raw, ok, _ := fieldOf(value, p.Field)
		if !ok {
			return true
		}
		if got, err := canonical(raw); err == nil && got == want {
			entries = append(entries, store.Entry{Key: key, Value: value})
		}
		return p.Limit <= 0 || len(entries) < p.Limit
	})
	return reply(req, entries, err)
}

// canonical re-encodes a JSON value so equal values compare equal as strings
func canonical(value json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	return string(data), err
}

// --------------------------------------------------------------------------
// Map
// --------------------------------------------------------------------------

type mapCommand struct{}

func (mapCommand) Kind() common.Kind { return common.KindMap }

func (mapCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p MapPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	if _, err := LookupMapper(p.Mapper); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	responses, err := broadcastLocal(ctx, env, req, p)
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	entries, err := mergeEntries(responses, 0)
	return reply(req, entries, err)
}

func (mapCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p MapPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	entries, err := mapBucket(env.Store, p.Bucket, p.Mapper)
	return reply(req, entries, err)
}

// mapBucket applies the named mapper to every document of bucket
func mapBucket(s store.Store, bucket, mapperName string) ([]store.Entry, error) {
	mapper, err := LookupMapper(mapperName)
	if err != nil {
		return nil, err
	}

	entries := []store.Entry{}
	var mapErr error
	err = s.Scan(bucket, func(key string, value json.RawMessage) bool {
		mapped, ok, err := mapper(key, value)
		if err != nil {
			mapErr = err
			return false
		}
		if ok {
			entries = append(entries, store.Entry{Key: key, Value: mapped})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return entries, mapErr
}

// --------------------------------------------------------------------------
// Reduce
// --------------------------------------------------------------------------

type reduceCommand struct{}

func (reduceCommand) Kind() common.Kind { return common.KindReduce }

func (reduceCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p ReducePayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	if _, err := LookupMapper(p.Mapper); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	reducer, err := LookupReducer(p.Reducer)
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	responses, err := broadcastLocal(ctx, env, req, p)
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	partials := make([]json.RawMessage, len(responses))
	for i, resp := range responses {
		partials[i] = resp.Result
	}
	result, err := reducer.Combine(partials)
	return reply(req, result, err)
}

func (reduceCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p ReducePayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	reducer, err := LookupReducer(p.Reducer)
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	entries, err := mapBucket(env.Store, p.Bucket, p.Mapper)
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	values := make([]json.RawMessage, len(entries))
	for i, entry := range entries {
		values[i] = entry.Value
	}
	partial, err := reducer.Reduce(values)
	return reply(req, partial, err)
}

// --------------------------------------------------------------------------
// Buckets
// --------------------------------------------------------------------------

type bucketsCommand struct{}

func (bucketsCommand) Kind() common.Kind { return common.KindBuckets }

func (bucketsCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	responses, err := broadcastLocal(ctx, env, req, struct{}{})
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	seen := make(map[string]struct{})
	for _, resp := range responses {
		var part []string
		if err := resp.Decode(&part); err != nil {
			return ToResponse(req.ReplyTo(), err)
		}
		for _, bucket := range part {
			seen[bucket] = struct{}{}
		}
	}
	buckets := make([]string, 0, len(seen))
	for bucket := range seen {
		buckets = append(buckets, bucket)
	}
	sort.Strings(buckets)
	return common.NewResultResponse(req.ReplyTo(), buckets)
}

func (bucketsCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	buckets, err := env.Store.Buckets()
	return reply(req, buckets, err)
}
