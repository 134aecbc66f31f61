package auth

import (
	"sync"
	"time"
)

// denylist holds revoked token ids until they would have expired anyway.
type denylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func newDenylist() *denylist {
	return &denylist{revoked: make(map[string]time.Time)}
}

func (d *denylist) add(tokenID string, expires, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, exp := range d.revoked {
		if !exp.After(now) {
			delete(d.revoked, id)
		}
	}
	d.revoked[tokenID] = expires
}

func (d *denylist) contains(tokenID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.revoked[tokenID]
	return ok
}
