package entities

import "time"

// CacheEntry is a stored result set keyed by the normalized query hash
type CacheEntry struct {
	Key       string     `json:"key"`
	Products  []*Product `json:"products"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	HitCount  int64      `json:"hit_count"`
}

// IsFresh reports whether the entry may be reused at now
func (c *CacheEntry) IsFresh(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}
