package jobs

import (
	"fmt"
	"sync"
	"time"
)

// DeDup implements thread safe map to register/unregister running scans in order to prevent
// the same user from starting the same scan twice
type DeDup struct {
	active  map[string]time.Time
	lock    sync.Mutex
	enabled bool
}

// NewDeDup creates DeDup. Object safe to use with default params (disabled)
func NewDeDup(enabled bool) *DeDup {
	return &DeDup{active: make(map[string]time.Time), enabled: enabled}
}

// Add key to the map, fail if already in
func (d *DeDup) Add(key string) bool {
	if !d.enabled {
		return true
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, found := d.active[key]; found {
		return false
	}
	d.active[key] = time.Now()
	return true
}

// Remove key from the map. Safe to call multiple times
func (d *DeDup) Remove(key string) {
	if !d.enabled {
		return
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.active, key)
}

// Since returns registration time of the key, zero if not active
func (d *DeDup) Since(key string) time.Time {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.active[key]
}

func dedupKey(userID int64, scanURL string) string {
	return fmt.Sprintf("%d#%s", userID, scanURL)
}
