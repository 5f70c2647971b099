package params

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// SnapshotEntry records the structural identity of a single parameter:
// its name and whether its data buffer is allocated.
type SnapshotEntry struct {
	Name    string
	HasData bool
}

// Snapshot is an ordered sequence of (name, hasData) pairs captured from a
// Set, sorted by name. It is used purely for structural-change comparison;
// a nil Snapshot means no snapshot has been taken yet.
type Snapshot []SnapshotEntry

// TakeSnapshot captures the structural shape of the given set.
//
// Parameters:
//   - s: Set to snapshot
//
// Returns:
//   - Snapshot: Entries in sorted-name order (never nil, may be empty)
func TakeSnapshot(s *Set) Snapshot {
	snap := make(Snapshot, 0, s.Len())
	s.Each(func(p *Parameter) {
		snap = append(snap, SnapshotEntry{Name: p.Name, HasData: p.HasData()})
	})

	return snap
}

// Equal reports whether two snapshots describe the same structure.
//
// A nil snapshot (never captured) is only equal to another nil snapshot, so
// the first comparison after startup always reports a change.
func (s Snapshot) Equal(other Snapshot) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}

	return true
}

// Fingerprint folds the snapshot into a single 64-bit xxh3 hash.
//
// Each entry's name and data-presence flag are folded using the previous
// hash as the seed, so the fingerprint is stable and order-sensitive without
// building an intermediate joined string. Used for cheap structural identity
// in logs and metrics; change detection itself always compares element-wise.
func (s Snapshot) Fingerprint() uint64 {
	var h uint64
	for _, e := range s {
		h = xxh3.HashStringSeed(e.Name, h)

		var fb [8]byte
		if e.HasData {
			binary.LittleEndian.PutUint64(fb[:], 1)
		}
		h = xxh3.HashSeed(fb[:], h)
	}

	return h
}
