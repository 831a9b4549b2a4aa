package mergequeue

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateID returns a queue entry id of the form "<prefix>-mq-<6-char-hash>",
// derived from the operation name, current time, and random bytes, so
// retries of the same operation never collide.
func GenerateID(prefix, operationName string) string {
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes) // crypto/rand.Read only fails on a broken system
	return generateIDInternal(prefix, operationName, time.Now(), randomBytes)
}

// GenerateIDWithTime is the deterministic variant used by tests.
func GenerateIDWithTime(prefix, operationName string, timestamp time.Time) string {
	return generateIDInternal(prefix, operationName, timestamp, nil)
}

func generateIDInternal(prefix, operationName string, timestamp time.Time, randomBytes []byte) string {
	input := fmt.Sprintf("%s:%d:%x", operationName, timestamp.UnixNano(), randomBytes)
	hash := sha256.Sum256([]byte(input))
	hashStr := hex.EncodeToString(hash[:])[:6]
	return fmt.Sprintf("%s-mq-%s", prefix, hashStr)
}
