package util

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"sync"
)

// Redact returns a short stable digest of key for logs. Keys embed user ids.
func Redact(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// Locks is a fixed set of mutexes addressed by key hash. Two keys may share a
// mutex; one key always maps to the same one.
type Locks struct {
	mu [64]sync.Mutex
}

func (l *Locks) For(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.mu[h.Sum32()%uint32(len(l.mu))]
}
