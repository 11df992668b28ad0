package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ReapedLog remembers recently removed connections and why, so the
// admin endpoint can distinguish "idle-reaped" sessions from ones the
// client tore down itself. Entries age out on their own.
type ReapedLog struct {
	cache *expirable.LRU[string, string]
}

func NewReapedLog() *ReapedLog {
	return &ReapedLog{
		cache: expirable.NewLRU[string, string](512, nil, time.Hour),
	}
}

func (l *ReapedLog) Record(id uuid.UUID, reason string) {
	l.cache.Add(id.String(), reason)
}

// Snapshot returns conn id -> removal reason for the retained window.
func (l *ReapedLog) Snapshot() map[string]string {
	keys := l.cache.Keys()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if reason, ok := l.cache.Get(k); ok {
			out[k] = reason
		}
	}
	return out
}
