package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// RetrievalKey builds a deterministic cache key for a scoped retrieval.
// Keys are prefixed with the activity id so invalidation can scan per
// activity.
func RetrievalKey(activityID uuid.UUID, documentID *uuid.UUID, query string, topK int) string {
	scope := "activity"
	if documentID != nil {
		scope = documentID.String()
	}
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", activityID, scope, topK, query)))
	return activityID.String() + ":" + hex.EncodeToString(digest[:])
}
