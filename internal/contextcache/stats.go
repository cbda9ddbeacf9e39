package contextcache

// Stats are cumulative since the manager was created. Counters are read
// independently and may be slightly out of step under concurrent use.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Errors    int64   `json:"errors"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evictions.Load(),
		Errors:    m.errors.Load(),
		Size:      m.Len(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// EstimateMemoryUsage approximates the bytes held by live entries: the key,
// the system instructions, each turn's content and timestamp, plus
// EntryOverhead per entry.
func (m *Manager) EstimateMemoryUsage() int64 {
	m.storeMu.RLock()
	defer m.storeMu.RUnlock()

	now := m.now()
	var total int64
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.RLock()
		for k, e := range sh.entries {
			if m.expired(e, now) {
				continue
			}
			total += EntryOverhead + int64(len(k)) + int64(len(e.ctx.SystemInstructions))
			for _, t := range e.ctx.RecentTurns {
				total += int64(len(t.Content)) + int64(len(t.Timestamp))
			}
		}
		sh.mu.RUnlock()
	}
	return total
}
