package gradsync

import "github.com/tsukuba-hpcs/gradsync/params"

// changeDetector remembers the structural snapshot of the parameter set as
// of the last communication round and decides whether a new round must take
// the broadcast path.
type changeDetector struct {
	prev params.Snapshot
}

// refresh builds a fresh snapshot of set, reports whether it differs
// structurally from the remembered one, and replaces the memory with the
// fresh snapshot regardless of the result.
//
// The unconditional replacement is essential: a change is reported exactly
// once, on the first call after it happened. A nil memory (no round yet)
// always reports a change.
//
// added and removed list the parameter names that appeared or disappeared;
// both are nil on the very first call and when only data-allocation state
// flipped.
func (d *changeDetector) refresh(set *params.Set) (changed bool, added, removed []string) {
	next := params.TakeSnapshot(set)
	changed = !next.Equal(d.prev)
	if changed && d.prev != nil {
		added, removed = diffNames(d.prev, next)
	}
	d.prev = next

	return changed, added, removed
}

// reset clears the remembered snapshot so the next refresh reports a
// change. Used after a failed broadcast round: the snapshot was already
// replaced, but the world never synchronized to it.
func (d *changeDetector) reset() {
	d.prev = nil
}

// fingerprint returns the remembered snapshot's structural hash, for logs.
func (d *changeDetector) fingerprint() uint64 {
	return d.prev.Fingerprint()
}

// diffNames computes the name-level difference between two snapshots with a
// single merge pass over the sorted entries. A parameter present in both
// whose hasData flag flipped appears in neither list.
func diffNames(prev, next params.Snapshot) (added, removed []string) {
	i, j := 0, 0
	for i < len(prev) && j < len(next) {
		switch {
		case prev[i].Name == next[j].Name:
			i++
			j++
		case prev[i].Name < next[j].Name:
			removed = append(removed, prev[i].Name)
			i++
		default:
			added = append(added, next[j].Name)
			j++
		}
	}
	for ; i < len(prev); i++ {
		removed = append(removed, prev[i].Name)
	}
	for ; j < len(next); j++ {
		added = append(added, next[j].Name)
	}

	return added, removed
}
