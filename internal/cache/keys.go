package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// StatusKey identifies a provider job by the status endpoint it was polled
// on and its request id. The pair is hashed so arbitrary URLs stay short.
func StatusKey(serviceURL, requestID string) string {
	sum := sha256.Sum256([]byte(serviceURL + "\x00" + requestID))
	return fmt.Sprintf("status:%s", hex.EncodeToString(sum[:16]))
}

// RateLimitKey scopes a rate-limit counter to a caller, e.g. "user:<uid>".
func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}
