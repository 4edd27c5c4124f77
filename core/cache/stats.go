package cache

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	// MemoryBytes approximates the footprint as the sum of key and
	// JSON-encoded value lengths.
	MemoryBytes int `json:"memory_bytes"`
}

// HitRate returns hits / (hits + misses), or 0 before the first request.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:        m.hits,
		Misses:      m.misses,
		Evictions:   m.evictions,
		Size:        len(m.entries),
		MemoryBytes: m.memBytes,
	}
}
