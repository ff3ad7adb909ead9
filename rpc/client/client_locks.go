package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/dDoc/lib/command"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// --------------------------------------------------------------------------
// Document Locks
// --------------------------------------------------------------------------

// AcquireLock tries to lock a document on its owning node. The lock is freed after
// lease unless released before. ok is false if the lock is held by someone else.
func (c *Client) AcquireLock(ctx context.Context, bucket, key string, lease time.Duration) (ok bool, ownerID string, err error) {
	var result command.LockResult
	payload := command.LockPayload{Bucket: bucket, Key: key, LeaseMillis: lease.Milliseconds()}
	if err := c.invoke(ctx, common.KindLockAcquire, payload, &result); err != nil {
		return false, "", err
	}
	return result.Ok, result.OwnerID, nil
}

// ReleaseLock frees a lock held by ownerID. ok is false if ownerID does not hold it.
func (c *Client) ReleaseLock(ctx context.Context, bucket, key, ownerID string) (ok bool, err error) {
	var result command.LockResult
	payload := command.LockPayload{Bucket: bucket, Key: key, OwnerID: ownerID}
	if err := c.invoke(ctx, common.KindLockRelease, payload, &result); err != nil {
		return false, err
	}
	return result.Ok, nil
}
