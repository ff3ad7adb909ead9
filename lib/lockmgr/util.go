package lockmgr

import (
	"github.com/google/uuid"
)

// generateOwnerID creates a new unique owner ID
func generateOwnerID() string {
	return uuid.NewString()
}

// lockID identifies the lock of one document
func lockID(bucket, key string) string {
	return bucket + "/" + key
}
