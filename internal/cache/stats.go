package cache

import (
	"time"
	"unicode/utf16"
)

// EntityStats is the per-entity usage breakdown.
type EntityStats struct {
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Writes     int64     `json:"writes"`
	LastAccess time.Time `json:"lastAccess,omitzero"`
	LastWrite  time.Time `json:"lastWrite,omitzero"`
}

// Stats is a snapshot of cache usage. Counters are process-local and reset by ClearAll.
type Stats struct {
	Hits          int64                  `json:"hits"`
	Misses        int64                  `json:"misses"`
	Writes        int64                  `json:"writes"`
	HitRate       float64                `json:"hitRate"`
	MemoryEntries int                    `json:"memoryEntries"`
	PendingWrites int                    `json:"pendingWrites"`
	Entities      map[string]EntityStats `json:"entities"`

	// StorageBytes is the exact UTF-8 size of every namespaced durable value.
	StorageBytes int64 `json:"storageBytes"`

	// ApproxUTF16Bytes is the same footprint measured as UTF-16 code units × 2.
	ApproxUTF16Bytes int64 `json:"approxUtf16Bytes"`
}

type statsCollector struct {
	hits     int64
	misses   int64
	writes   int64
	entities map[string]*EntityStats
}

func newStatsCollector() statsCollector {
	return statsCollector{entities: make(map[string]*EntityStats)}
}

func (s *statsCollector) entity(name string) *EntityStats {
	e, ok := s.entities[name]
	if !ok {
		e = &EntityStats{}
		s.entities[name] = e
	}
	return e
}

func (s *statsCollector) recordHit(name string, at time.Time) {
	s.hits++
	e := s.entity(name)
	e.Hits++
	e.LastAccess = at
}

func (s *statsCollector) recordMiss(name string, at time.Time) {
	s.misses++
	e := s.entity(name)
	e.Misses++
	e.LastAccess = at
}

func (s *statsCollector) recordWrite(name string, at time.Time) {
	s.writes++
	e := s.entity(name)
	e.Writes++
	e.LastWrite = at
}

func (s *statsCollector) snapshot() Stats {
	out := Stats{
		Hits:     s.hits,
		Misses:   s.misses,
		Writes:   s.writes,
		Entities: make(map[string]EntityStats, len(s.entities)),
	}
	if total := s.hits + s.misses; total > 0 {
		out.HitRate = float64(s.hits) / float64(total)
	}
	for name, e := range s.entities {
		out.Entities[name] = *e
	}
	return out
}

func utf16Bytes(s string) int64 {
	return int64(len(utf16.Encode([]rune(s)))) * 2
}
