// Package keyring rotates API credentials across calls.
package keyring

import (
	"sync"

	"github.com/throw-if-null/easel/internal/config"
)

// Rotator walks a credential pool round-robin, skipping disabled entries.
// The cursor starts before index 0 and survives across calls, so the pool
// may change between calls.
type Rotator struct {
	mu     sync.Mutex
	cursor int
}

func NewRotator() *Rotator {
	return &Rotator{cursor: -1}
}

// Next advances the cursor and returns the first enabled credential it
// lands on, probing at most len(pool) entries.
func (r *Rotator) Next(pool []config.Credential) (config.Credential, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for probes := 0; probes < len(pool); probes++ {
		if r.cursor < len(pool)-1 {
			r.cursor++
		} else {
			r.cursor = 0
		}
		if !pool[r.cursor].Disabled {
			return pool[r.cursor], true
		}
	}
	return config.Credential{}, false
}

// ListRotator rotates over a comma separated key list.
type ListRotator struct {
	mu     sync.Mutex
	cursor int
}

func NewListRotator() *ListRotator {
	return &ListRotator{}
}

// Next returns the key at the cursor and advances it. An empty list yields "".
func (r *ListRotator) Next(list string) string {
	keys := config.SplitList(list)
	if len(keys) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor >= len(keys) {
		r.cursor %= len(keys)
	}
	key := keys[r.cursor]
	r.cursor = (r.cursor + 1) % len(keys)
	return key
}
