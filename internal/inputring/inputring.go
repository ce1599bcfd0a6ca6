// Package inputring implements the Input Ring (§4.G): a fixed-depth
// ring buffer of per-frame, per-player input samples shared by the
// Rollback Session and the NCHS input-packet codec.
package inputring

// Sample is one player's input state for one frame. Buttons is a bitmask
// over a fixed controller layout; StickX/StickY are signed analog axes.
type Sample struct {
	Buttons uint16
	StickX  int8
	StickY  int8
}

// Button bit positions within Sample.Buttons.
const (
	ButtonUp = 1 << iota
	ButtonDown
	ButtonLeft
	ButtonRight
	ButtonA
	ButtonB
	ButtonX
	ButtonY
	ButtonL
	ButtonR
	ButtonStart
)

type slot struct {
	present bool
	sample  Sample
}

// Ring holds maxFrames frames' worth of input for up to maxPlayers players.
// Frame numbers are mapped into the ring by `frame % maxFrames`; pushing a
// sample for a frame that still lives in the ring overwrites it in place
// (§4.G: "this is how remote correction works").
type Ring struct {
	maxFrames      uint32
	maxPlayers     int
	slots          [][]slot // [frame % maxFrames][player]
	confirmedFrame uint32
	hasConfirmed   bool
}

// New creates a ring sized for maxFrames frames and maxPlayers players.
func New(maxFrames uint32, maxPlayers int) *Ring {
	if maxFrames == 0 {
		maxFrames = 1
	}
	slots := make([][]slot, maxFrames)
	for i := range slots {
		slots[i] = make([]slot, maxPlayers)
	}
	return &Ring{maxFrames: maxFrames, maxPlayers: maxPlayers, slots: slots}
}

func (r *Ring) index(frame uint32) uint32 { return frame % r.maxFrames }

// Push inserts a sample for (frame, player), overwriting any existing
// sample at that slot.
func (r *Ring) Push(frame uint32, player int, sample Sample) {
	if player < 0 || player >= r.maxPlayers {
		return
	}
	r.slots[r.index(frame)][player] = slot{present: true, sample: sample}
}

// Get returns the stored sample for (frame, player), or false if nothing
// was pushed there (§8: "get(F, p) either returns the last push(F, p,
// ...) or None").
func (r *Ring) Get(frame uint32, player int) (Sample, bool) {
	if player < 0 || player >= r.maxPlayers {
		return Sample{}, false
	}
	s := r.slots[r.index(frame)][player]
	return s.sample, s.present
}

// AdvanceConfirmed raises the confirmed-frame watermark. It never regresses
// (§8: "the confirmed-frame watermark never regresses").
func (r *Ring) AdvanceConfirmed(frame uint32) {
	if !r.hasConfirmed || frame > r.confirmedFrame {
		r.confirmedFrame = frame
		r.hasConfirmed = true
	}
}

// ConfirmedFrame returns the current watermark and whether one has ever
// been set.
func (r *Ring) ConfirmedFrame() (uint32, bool) {
	return r.confirmedFrame, r.hasConfirmed
}

// Capacity reports how many distinct frames the ring can hold before it
// wraps and starts overwriting.
func (r *Ring) Capacity() uint32 { return r.maxFrames }
