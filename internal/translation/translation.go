// Package translation tracks per-(state, guest-PC) translation block
// metadata: generation, ELF-relative virtual address, and a byte snapshot
// taken at translation time.
package translation

import "github.com/lokegustafsson/ambacore/pkg/model"

// Record is the metadata the host reports for one translation of a guest
// basic block.
type Record struct {
	Generation uint32
	ElfVAddr   uint64
	Bytes      []byte
}

type key struct {
	state model.InternalStateId
	pc    uint64
}

// Cache is the translation-block metadata table. It runs only on the
// engine thread and carries no internal locking.
type Cache struct {
	records map[key]*Record

	// wrappedGenerations counts how many times a record's packed
	// (mod-16) generation has wrapped around; surfaced as a diagnostic,
	// never consulted by core logic.
	wrappedGenerations uint64
}

// New returns an empty translation cache.
func New() *Cache {
	return &Cache{records: make(map[key]*Record)}
}

// RecordTranslation inserts or updates the record for (state, pc). A first
// sighting gets generation 1; a re-translation increments the existing
// generation. elfVAddr and bytes are always overwritten with the latest
// values, even on re-translation.
//
// If bytes is nil (the guest memory read failed because it is symbolic or
// unmapped), the record is still created or updated, but carries an empty
// byte slice; the caller is responsible for emitting the once-per-key
// diagnostic described in the error handling design.
func (c *Cache) RecordTranslation(state model.InternalStateId, pc uint64, elfVAddr uint64, bytes []byte) *Record {
	k := key{state: state, pc: pc}
	rec, ok := c.records[k]
	if !ok {
		rec = &Record{Generation: 1}
		c.records[k] = rec
	} else {
		rec.Generation++
		if rec.Generation%16 == 0 {
			c.wrappedGenerations++
		}
	}
	rec.ElfVAddr = elfVAddr
	if bytes == nil {
		rec.Bytes = []byte{}
	} else {
		rec.Bytes = bytes
	}
	return rec
}

// Lookup returns the record for (state, pc), creating it with generation 0
// if absent. This tolerates out-of-order callbacks (execute-block-start
// observed before translate-block-start) without the core crashing.
func (c *Cache) Lookup(state model.InternalStateId, pc uint64) *Record {
	k := key{state: state, pc: pc}
	rec, ok := c.records[k]
	if !ok {
		rec = &Record{}
		c.records[k] = rec
	}
	return rec
}

// Stats describes diagnostic counters over the cache's lifetime.
type Stats struct {
	DistinctKeys       int
	WrappedGenerations uint64
}

// Stats returns the current diagnostic counters.
func (c *Cache) Stats() Stats {
	return Stats{
		DistinctKeys:       len(c.records),
		WrappedGenerations: c.wrappedGenerations,
	}
}
