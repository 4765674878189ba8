package verify

import (
	"context"
	"sync"
	"time"

	conduit "github.com/conduit-ucpi/webapp-sub004"
)

// verdict is a cached terminal outcome for one record.
type verdict struct {
	result conduit.VerificationResult
	err    error
}

// VerdictCache remembers terminal verification outcomes and tracks in-flight
// runs. It enforces the at-most-one-terminal-attempt invariant: once a record
// was rejected by the security check or classified as never funded, no
// further settlement query is ever issued for it, and concurrent Verify calls
// for the same record share one poll loop instead of hammering the backend.
type VerdictCache struct {
	mu       sync.Mutex
	verdicts map[string]*verdict
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewVerdictCache creates a cache whose terminal entries live for ttl.
func NewVerdictCache(ttl time.Duration) *VerdictCache {
	return &VerdictCache{
		verdicts: make(map[string]*verdict),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// VerdictStatus is the result of checking the cache.
type VerdictStatus int

const (
	// VerdictNotFound means no cached outcome and no in-flight run; the
	// caller proceeds and is now marked in-flight.
	VerdictNotFound VerdictStatus = iota
	// VerdictCached means a terminal outcome was found.
	VerdictCached
	// VerdictInFlight means another run is currently verifying this record.
	VerdictInFlight
)

// CheckAndMark atomically checks the cache and marks recordID in-flight when
// no outcome exists yet.
func (c *VerdictCache) CheckAndMark(recordID string) (VerdictStatus, *verdict, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[recordID]; exists {
		if time.Now().Before(expiry) {
			if v, ok := c.verdicts[recordID]; ok {
				return VerdictCached, v, nil
			}
		}
		delete(c.verdicts, recordID)
		delete(c.expiry, recordID)
	}

	if done, exists := c.inFlight[recordID]; exists {
		return VerdictInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[recordID] = done
	return VerdictNotFound, nil, done
}

// WaitForVerdict blocks until the in-flight run completes or ctx is done.
func (c *VerdictCache) WaitForVerdict(ctx context.Context, recordID string, done chan struct{}) (*verdict, error) {
	select {
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.verdicts[recordID], nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete stores a terminal outcome and wakes waiters. Non-terminal
// outcomes (timeouts, cancellations) release the in-flight mark without
// caching so a later Verify may resume polling.
func (c *VerdictCache) Complete(recordID string, v *verdict, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v != nil {
		c.verdicts[recordID] = v
		c.expiry[recordID] = time.Now().Add(c.ttl)
	}
	delete(c.inFlight, recordID)
	close(done)
}
