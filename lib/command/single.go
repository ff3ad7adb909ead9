package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

func init() {
	register(getCommand{})
	register(putCommand{})
	register(removeCommand{})
	register(lockAcquireCommand{})
	register(lockReleaseCommand{})
}

// withLock runs fn while holding the write lock of bucket/key. A non-empty ownerID
// that holds the lock from lock-acquire writes through it.
func withLock(ctx context.Context, env *Env, bucket, key, ownerID string, fn func() error) error {
	if env.Locks == nil {
		return fn()
	}
	unlock, err := env.Locks.LockAs(ctx, bucket, key, ownerID)
	if err != nil {
		return fmt.Errorf("failed to lock %s/%s: %w", bucket, key, err)
	}
	defer unlock()
	return fn()
}

// --------------------------------------------------------------------------
// Get
// --------------------------------------------------------------------------

type getCommand struct{}

func (getCommand) Kind() common.Kind { return common.KindGet }

func (getCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p KeyPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	return routeToOwner(ctx, env, req, p.Bucket, p.Key)
}

func (getCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p KeyPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	value, err := env.Store.Get(p.Bucket, p.Key)
	return reply(req, value, err)
}

// --------------------------------------------------------------------------
// Put
// --------------------------------------------------------------------------

type putCommand struct{}

func (putCommand) Kind() common.Kind { return common.KindPut }

func (putCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p PutPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	if err := store.ValidateDocument(p.Value); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	return routeToOwner(ctx, env, req, p.Bucket, p.Key)
}

func (putCommand) ExecuteOnStore(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p PutPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}

	var stored json.RawMessage
	err := withLock(ctx, env, p.Bucket, p.Key, p.OwnerID, func() error {
		var err error
		stored, err = putDocument(env.Store, p.Bucket, p.Key, p.Value, p.Merge)
		return err
	})
	return reply(req, stored, err)
}

// putDocument stores or merges a document and returns the stored value
func putDocument(s store.Store, bucket, key string, value json.RawMessage, merge bool) (json.RawMessage, error) {
	if merge {
		return s.Merge(bucket, key, value)
	}
	if err := s.Put(bucket, key, value); err != nil {
		return nil, err
	}
	return value, nil
}

// --------------------------------------------------------------------------
// Remove
// --------------------------------------------------------------------------

type removeCommand struct{}

func (removeCommand) Kind() common.Kind { return common.KindRemove }

func (removeCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p KeyPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	return routeToOwner(ctx, env, req, p.Bucket, p.Key)
}

func (removeCommand) ExecuteOnStore(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p KeyPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	err := withLock(ctx, env, p.Bucket, p.Key, p.OwnerID, func() error {
		return env.Store.Remove(p.Bucket, p.Key)
	})
	return reply(req, nil, err)
}

// --------------------------------------------------------------------------
// Locks
// --------------------------------------------------------------------------

type lockAcquireCommand struct{}

func (lockAcquireCommand) Kind() common.Kind { return common.KindLockAcquire }

func (lockAcquireCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p LockPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	return routeToOwner(ctx, env, req, p.Bucket, p.Key)
}

func (lockAcquireCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p LockPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	if env.Locks == nil {
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCInternal, "node has no lock manager")
	}
	ok, ownerID, err := env.Locks.AcquireLock(p.Bucket, p.Key, time.Duration(p.LeaseMillis)*time.Millisecond)
	return reply(req, LockResult{Ok: ok, OwnerID: ownerID}, err)
}

type lockReleaseCommand struct{}

func (lockReleaseCommand) Kind() common.Kind { return common.KindLockRelease }

func (lockReleaseCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p LockPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	if p.OwnerID == "" {
		return ToResponse(req.ReplyTo(), badRequest("lock-release without owner id"))
	}
	return routeToOwner(ctx, env, req, p.Bucket, p.Key)
}

func (lockReleaseCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p LockPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	if env.Locks == nil {
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCInternal, "node has no lock manager")
	}
	ok, err := env.Locks.ReleaseLock(p.Bucket, p.Key, p.OwnerID)
	return reply(req, LockResult{Ok: ok}, err)
}
