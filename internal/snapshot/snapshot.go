// Package snapshot implements the State Snapshot Engine: byte-exact capture
// and restore of a sandbox's linear memory, tagged with a rolling checksum
// so peers can compare frame state without exchanging full memory images.
package snapshot

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Snapshot is one captured linear-memory image, tagged with the frame it
// was taken at and a checksum of its bytes.
type Snapshot struct {
	Frame    uint32
	Checksum uint64
	Memory   []byte
}

// Checksum hashes a linear-memory image. xxhash is used instead of FNV-1a
// (§4.F names either as acceptable) for a 64-bit per-frame desync checksum;
// this is the only place in the module that uses xxhash.
func Checksum(memory []byte) uint64 {
	return xxhash.Sum64(memory)
}

// Take copies memory into a freshly allocated Snapshot. The caller's slice
// is never aliased: later writes to the executor's live memory must not
// retroactively mutate a taken snapshot.
func Take(frame uint32, memory []byte) Snapshot {
	buf := make([]byte, len(memory))
	copy(buf, memory)
	return Snapshot{Frame: frame, Checksum: Checksum(buf), Memory: buf}
}

// Ring holds up to capacity snapshots, evicting the oldest when full. It
// backs the Rollback Session's LoadState(nearest_snapshot_at_or_before(...))
// lookups (§5: "Snapshot ring holds ≤ max_rollback_frames + 1").
type Ring struct {
	capacity  int
	snapshots []Snapshot
}

// NewRing creates a ring sized for capacity snapshots.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{capacity: capacity}
}

// Push records a new snapshot, evicting the oldest if at capacity.
func (r *Ring) Push(s Snapshot) {
	r.snapshots = append(r.snapshots, s)
	if len(r.snapshots) > r.capacity {
		r.snapshots = r.snapshots[len(r.snapshots)-r.capacity:]
	}
}

// NearestAtOrBefore returns the latest snapshot whose frame is ≤ frame, or
// false if none qualifies (the caller rolled back further than any
// retained snapshot, which should not happen within capacity bounds).
func (r *Ring) NearestAtOrBefore(frame uint32) (Snapshot, bool) {
	var best Snapshot
	found := false
	for _, s := range r.snapshots {
		if s.Frame <= frame && (!found || s.Frame > best.Frame) {
			best = s
			found = true
		}
	}
	return best, found
}

// Latest returns the most recently pushed snapshot.
func (r *Ring) Latest() (Snapshot, bool) {
	if len(r.snapshots) == 0 {
		return Snapshot{}, false
	}
	return r.snapshots[len(r.snapshots)-1], true
}

// Len reports how many snapshots are currently retained.
func (r *Ring) Len() int { return len(r.snapshots) }

// Load validates and applies a snapshot's bytes onto dst in place, matching
// the Sandbox Executor's load_state contract (§4.A: "bytes length must
// equal current memory size").
func Load(dst []byte, s Snapshot) error {
	if len(s.Memory) != len(dst) {
		return fmt.Errorf("snapshot size %d does not match memory size %d", len(s.Memory), len(dst))
	}
	copy(dst, s.Memory)
	return nil
}
