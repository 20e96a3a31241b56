// Package timeouts holds the per-tier deadlines used with
// context.WithTimeout across the engine.
//
// Tiers:
//   - Ping: connectivity checks (health endpoint, startup ping)
//   - Short: single-document reads
//   - Medium: list queries, outbox inspection
//   - Long: multi-collection writes, single-user reconcile
//   - Batch: a full reconcile pass, an outbox drain, a drift sweep
package timeouts

import (
	"os"
	"sync"
	"time"
)

type tier int

const (
	tierPing tier = iota
	tierShort
	tierMedium
	tierLong
	tierBatch
)

var defaults = map[tier]time.Duration{
	tierPing:   2 * time.Second,
	tierShort:  5 * time.Second,
	tierMedium: 10 * time.Second,
	tierLong:   30 * time.Second,
	tierBatch:  5 * time.Minute,
}

// Environment overrides, parsed once by ConfigureFromEnv.
var envKeys = map[tier]string{
	tierPing:   "MEMBERHUB_TIMEOUT_PING",
	tierShort:  "MEMBERHUB_TIMEOUT_SHORT",
	tierMedium: "MEMBERHUB_TIMEOUT_MEDIUM",
	tierLong:   "MEMBERHUB_TIMEOUT_LONG",
	tierBatch:  "MEMBERHUB_TIMEOUT_BATCH",
}

var (
	mu     sync.RWMutex
	values = map[tier]time.Duration{}
)

func get(t tier) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	if d, ok := values[t]; ok {
		return d
	}
	return defaults[t]
}

// Ping returns the deadline for connectivity checks.
func Ping() time.Duration { return get(tierPing) }

// Short returns the deadline for single-document reads.
func Short() time.Duration { return get(tierShort) }

// Medium returns the deadline for list queries.
func Medium() time.Duration { return get(tierMedium) }

// Long returns the deadline for multi-collection writes.
func Long() time.Duration { return get(tierLong) }

// Batch returns the deadline for full background passes. Job-lock TTLs are
// derived from it, so a raised batch deadline lengthens the locks with it.
func Batch() time.Duration { return get(tierBatch) }

// ConfigureFromEnv applies MEMBERHUB_TIMEOUT_* overrides. Unset or
// unparseable values keep the defaults. Called once at startup.
func ConfigureFromEnv() {
	mu.Lock()
	defer mu.Unlock()
	for t, key := range envKeys {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			values[t] = d
		}
	}
}
