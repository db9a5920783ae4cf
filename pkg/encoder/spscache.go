package encoder

import "sync"

// ParamSetCache holds the global latest-seen SPS and PPS for one camera,
// updated whenever the encoder surfaces them (spec.md §3: "Encoder state").
// Guarded by a small lock per spec.md §5.
type ParamSetCache struct {
	mu  sync.RWMutex
	sps []byte
	pps []byte
}

// NewParamSetCache creates an empty cache.
func NewParamSetCache() *ParamSetCache {
	return &ParamSetCache{}
}

// Update stores a non-nil SPS and/or PPS.
func (c *ParamSetCache) Update(sps, pps []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sps != nil {
		c.sps = sps
	}
	if pps != nil {
		c.pps = pps
	}
}

// Get returns the current SPS and PPS, either of which may be nil if never
// observed.
func (c *ParamSetCache) Get() (sps, pps []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sps, c.pps
}

// Ready reports whether both SPS and PPS have been observed at least once.
func (c *ParamSetCache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sps != nil && c.pps != nil
}

// Clear resets the cache, used when a camera stops so a fresh client
// re-anchors cleanly (spec.md §4.8).
func (c *ParamSetCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sps = nil
	c.pps = nil
}

// ClientCache mirrors the global ParamSetCache for one session, but only
// once the values have actually been transmitted to that client
// (spec.md §3: "Per-client SPS/PPS caches that mirror the global values
// only once they have been transmitted to that client").
type ClientCache struct {
	mu  sync.Mutex
	sps []byte
	pps []byte
}

// NewClientCache creates an empty per-client cache.
func NewClientCache() *ClientCache {
	return &ClientCache{}
}

// Empty reports whether nothing has been transmitted to this client yet.
func (c *ClientCache) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sps == nil || c.pps == nil
}

// MarkSent records that sps/pps were just transmitted to the client.
func (c *ClientCache) MarkSent(sps, pps []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sps = sps
	c.pps = pps
}

// Reset clears the per-client cache, forcing the next frame to re-send
// SPS/PPS (used on fresh PLAY / after an encoder restart).
func (c *ClientCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sps = nil
	c.pps = nil
}
