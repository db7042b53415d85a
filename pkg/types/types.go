package types

// CacheStats represents node cache statistics
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Resident  int     `json:"resident"`
	Pinned    int     `json:"pinned"`
	Capacity  int     `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
}

// Credentials identifies the user on whose behalf a request is resolved.
type Credentials struct {
	UID    uint32   `json:"uid"`
	GID    uint32   `json:"gid"`
	Groups []uint32 `json:"groups,omitempty"`
}

// IsRoot reports whether the credentials belong to the superuser.
func (c Credentials) IsRoot() bool {
	return c.UID == 0
}

// InGroup reports whether gid is the primary or a supplementary group.
func (c Credentials) InGroup(gid uint32) bool {
	if c.GID == gid {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}
