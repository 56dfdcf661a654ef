package grantor

import (
	"sync"
	"time"

	"github.com/forgecloud/grantor/logger"
)

// credentialEntry pairs a cached credential with its insertion time so the
// sweeper can distinguish entries created while a scan was in flight.
type credentialEntry struct {
	cred    *Credential
	addedAt time.Time
}

// CredentialCache is the only shared mutable state in the service: a bounded,
// lock-guarded map of issued credentials keyed by credential id. Eviction is
// owned by the expiry sweeper; inserts over capacity evict the entry closest
// to expiry so long-lived credentials survive bursts.
type CredentialCache struct {
	mu       sync.RWMutex
	entries  map[string]credentialEntry
	capacity int
}

const defaultCacheCapacity = 4096

func NewCredentialCache(capacity int) *CredentialCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &CredentialCache{
		entries:  make(map[string]credentialEntry),
		capacity: capacity,
	}
}

func (c *CredentialCache) Put(cred *Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.capacity {
		c.evictSoonestLocked()
	}
	c.entries[cred.ID] = credentialEntry{cred: cred, addedAt: time.Now()}
}

func (c *CredentialCache) Get(id string) (*Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return e.cred, true
}

func (c *CredentialCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

func (c *CredentialCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FindByToken scans for a credential whose token material equals token.
// Used by revocation to map an opaque token back to its provider.
func (c *CredentialCache) FindByToken(token string) (*Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.cred.Token == token {
			return e.cred, true
		}
	}
	return nil, false
}

// Sweep removes entries whose expiry has elapsed. Entries added at or after
// scanStart are left alone even if already expired; they belong to the next
// sweep.
func (c *CredentialCache) Sweep(scanStart time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if !e.addedAt.Before(scanStart) {
			continue
		}
		if e.cred.Expired(scanStart) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *CredentialCache) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for id, e := range c.entries {
		if victim == "" || e.cred.ExpiresAt.Before(soonest) {
			victim = id
			soonest = e.cred.ExpiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

// ExpirySweeper periodically purges expired credentials from the cache on its
// own schedule, never blocking issuance or validation.
type ExpirySweeper struct {
	cache    *CredentialCache
	interval time.Duration
	log      logger.Logger
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

const defaultSweepInterval = time.Minute

func NewExpirySweeper(cache *CredentialCache, interval time.Duration, log logger.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &ExpirySweeper{
		cache:    cache,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to terminate it.
func (s *ExpirySweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				start := time.Now()
				if removed := s.cache.Sweep(start); removed > 0 {
					s.log.Debug("swept expired credentials", "removed", removed)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *ExpirySweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
