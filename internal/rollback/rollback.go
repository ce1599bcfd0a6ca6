// Package rollback implements the Rollback Session (§4.H): a
// single-threaded, cooperative lockstep loop. advance_frame() never touches
// the sandbox directly — it returns a list of Requests the caller (the
// Unified Runtime) must satisfy in order before calling advance_frame()
// again. This keeps the session itself free of any dependency on the wazero
// executor, keeping policy separate from execution.
package rollback

import (
	"corewave/internal/inputring"
	"corewave/internal/snapshot"
)

// Handle identifies a player slot within a session.
type Handle uint8

// RequestKind distinguishes the host operations a Session may ask for.
type RequestKind int

const (
	RequestLoadState RequestKind = iota
	RequestAdvanceFrame
	RequestSaveState
)

// Request is one host-side action the caller must perform before the next
// call to AdvanceFrame.
type Request struct {
	Kind  RequestKind
	Frame uint32

	// Snapshot is populated for RequestLoadState.
	Snapshot snapshot.Snapshot

	// Inputs is populated for RequestAdvanceFrame: one sample per player
	// handle, indexed by Handle.
	Inputs map[Handle]inputring.Sample
}

// Event is an out-of-band notification distinct from the per-tick request
// list (§4.H Cancellation).
type Event struct {
	PeerDisconnected bool
	Handle           Handle
}

// Session drives lockstep simulation across local and remote players.
type Session struct {
	currentFrame   uint32
	confirmedFrame uint32
	predictedFrame uint32

	localPlayers []Handle
	allPlayers   []Handle

	ring      *inputring.Ring
	snapshots *snapshot.Ring

	maxRollbackFrames uint32

	lastInput map[Handle]inputring.Sample

	// realInput tracks which (player, frame) pairs hold a genuinely received
	// sample — local or remote — as opposed to a repeat-last-input guess
	// written into the ring by predictedInputs. advanceConfirmed must only
	// count these, since a guess is never "known" the way a real sample is.
	realInput map[Handle]map[uint32]struct{}

	readOnly       bool
	lastEventFrame map[Handle]uint32
	disconnected   map[Handle]bool
}

// NewSession builds a session for the given local and remote players.
// maxRollbackFrames bounds how far AdvanceFrame may need to re-simulate.
func NewSession(localPlayers, allPlayers []Handle, maxRollbackFrames uint32, ring *inputring.Ring, snapshots *snapshot.Ring) *Session {
	s := &Session{
		localPlayers:      append([]Handle(nil), localPlayers...),
		allPlayers:        append([]Handle(nil), allPlayers...),
		ring:              ring,
		snapshots:         snapshots,
		maxRollbackFrames: maxRollbackFrames,
		lastInput:         make(map[Handle]inputring.Sample),
		realInput:         make(map[Handle]map[uint32]struct{}),
		lastEventFrame:    make(map[Handle]uint32),
		disconnected:      make(map[Handle]bool),
	}
	for _, h := range allPlayers {
		s.lastInput[h] = inputring.Sample{}
		s.realInput[h] = make(map[uint32]struct{})
	}
	return s
}

// markReal records that player's sample at frame f was genuinely received
// (not guessed), and forgets entries below confirmedFrame since
// advanceConfirmed will never need to look at them again.
func (s *Session) markReal(player Handle, f uint32) {
	set := s.realInput[player]
	if set == nil {
		set = make(map[uint32]struct{})
		s.realInput[player] = set
	}
	set[f] = struct{}{}
	for frame := range set {
		if frame < s.confirmedFrame {
			delete(set, frame)
		}
	}
}

// CurrentFrame returns the next frame to be simulated.
func (s *Session) CurrentFrame() uint32 { return s.currentFrame }

// ConfirmedFrame returns the highest frame for which every player's real
// input is known.
func (s *Session) ConfirmedFrame() uint32 { return s.confirmedFrame }

// ReadOnly reports whether a peer disconnect has frozen the session (§4.H
// Cancellation: "no further AdvanceFrame requests are emitted").
func (s *Session) ReadOnly() bool { return s.readOnly }

// SetLocalInput records this tick's sampled input for a local player and
// pushes it into the input ring (§4.H step 1).
func (s *Session) SetLocalInput(player Handle, sample inputring.Sample) {
	s.ring.Push(s.currentFrame, int(player), sample)
	s.lastInput[player] = sample
	s.markReal(player, s.currentFrame)
}

// LocalPlayers returns the handles this peer drives directly.
func (s *Session) LocalPlayers() []Handle { return s.localPlayers }

// RecordSnapshot stores a SaveState result in the session's snapshot ring,
// for later LoadState(nearest_snapshot_at_or_before(...)) lookups.
func (s *Session) RecordSnapshot(snap snapshot.Snapshot) {
	s.snapshots.Push(snap)
}

// RecentInputs returns up to depth frames of this player's stored samples
// ending at frame (inclusive), oldest first, for piggy-backing on an
// outbound input packet (§4.H Transport, §6 input packet format).
func (s *Session) RecentInputs(player Handle, frame uint32, depth int) []FrameSample {
	var out []FrameSample
	for i := depth - 1; i >= 0; i-- {
		if uint32(i) > frame {
			continue
		}
		f := frame - uint32(i)
		sample, ok := s.ring.Get(f, int(player))
		if !ok {
			continue
		}
		out = append(out, FrameSample{Frame: f, Player: player, Sample: sample})
	}
	return out
}

// ReceiveRemoteInput applies one inbound (frame, player, sample) triple from
// a network packet, returning the frame a rollback must now target if the
// sample contradicts a previously-stored prediction (§4.H step 3). A
// frame already older than confirmedFrame is ignored — it can no longer
// affect anything the session has not already finalized.
func (s *Session) ReceiveRemoteInput(frame uint32, player Handle, sample inputring.Sample) (rollbackTo uint32, needsRollback bool) {
	if frame < s.confirmedFrame {
		return 0, false
	}

	prev, hadPrev := s.ring.Get(frame, int(player))
	s.ring.Push(frame, int(player), sample)
	s.lastInput[player] = sample
	s.markReal(player, frame)

	if hadPrev && prev != sample {
		return frame, true
	}
	return 0, false
}

// PeerInput registers that a peer is alive and delivering input, resetting
// its disconnect clock. The Unified Runtime calls this once per received
// packet, independent of ReceiveRemoteInput (a duplicate/stale packet still
// proves liveness).
func (s *Session) PeerInput(player Handle, atFrame uint32) {
	s.lastEventFrame[player] = atFrame
}

// CheckDisconnects compares each remote player's most recent input frame
// against nowFrame and emits a PeerDisconnected event the first time a
// player crosses disconnectTimeoutFrames with no input (§4.H
// Cancellation).
func (s *Session) CheckDisconnects(nowFrame uint32, disconnectTimeoutFrames uint32) []Event {
	var events []Event
	for _, h := range s.allPlayers {
		if s.disconnected[h] {
			continue
		}
		last, ok := s.lastEventFrame[h]
		if !ok {
			continue
		}
		if nowFrame-last >= disconnectTimeoutFrames {
			s.disconnected[h] = true
			s.readOnly = true
			events = append(events, Event{PeerDisconnected: true, Handle: h})
		}
	}
	return events
}

// predictedInputs fills in a sample for every player at frame f, using the
// stored value if present and otherwise repeating the last known sample
// (§4.H "predicted_frame ... guessed remote inputs (repeat-last-input
// policy)"). A guessed sample is written back into the ring so a later
// arrival of the real input at this frame has something to compare
// against in ReceiveRemoteInput — otherwise a misprediction could never be
// detected, since nothing would have been "previously there".
func (s *Session) predictedInputs(f uint32) map[Handle]inputring.Sample {
	out := make(map[Handle]inputring.Sample, len(s.allPlayers))
	for _, h := range s.allPlayers {
		if sample, ok := s.ring.Get(f, int(h)); ok {
			out[h] = sample
			continue
		}
		guess := s.lastInput[h]
		s.ring.Push(f, int(h), guess)
		out[h] = guess
	}
	return out
}

// AdvanceFrame runs one outer tick of the algorithm in §4.H and returns
// the host requests the caller must satisfy, in order, before calling
// AdvanceFrame again. Returns nil if the session is ReadOnly.
func (s *Session) AdvanceFrame(rollbackTo uint32, needsRollback bool) []Request {
	if s.readOnly {
		return nil
	}

	var reqs []Request

	if needsRollback {
		target := rollbackTo
		if s.currentFrame > 0 && target > s.currentFrame-1 {
			target = s.currentFrame - 1
		}

		// Snapshots are tagged with the frame they complete (step 5:
		// SaveState(current_frame) follows that frame's AdvanceFrame). To
		// redo target's own mispredicted update we need target's pre-state,
		// i.e. the snapshot completing target-1 — so look up one frame
		// earlier than target whenever target > 0.
		lookup := target
		resimStart := target
		if target > 0 {
			lookup = target - 1
		}
		snap, ok := s.snapshots.NearestAtOrBefore(lookup)
		if ok {
			if target > 0 {
				resimStart = snap.Frame + 1
			} else {
				resimStart = snap.Frame
			}
			reqs = append(reqs, Request{Kind: RequestLoadState, Frame: snap.Frame, Snapshot: snap})
			for f := resimStart; f < s.currentFrame; f++ {
				reqs = append(reqs, Request{Kind: RequestAdvanceFrame, Frame: f, Inputs: s.predictedInputs(f)})
				reqs = append(reqs, Request{Kind: RequestSaveState, Frame: f})
			}
		}
	}

	reqs = append(reqs, Request{Kind: RequestAdvanceFrame, Frame: s.currentFrame, Inputs: s.predictedInputs(s.currentFrame)})
	reqs = append(reqs, Request{Kind: RequestSaveState, Frame: s.currentFrame})

	s.advanceConfirmed()
	s.currentFrame++
	if s.currentFrame > s.predictedFrame {
		s.predictedFrame = s.currentFrame
	}
	return reqs
}

// advanceConfirmed raises confirmedFrame to the highest frame for which
// every player in allPlayers has a genuinely received sample (realInput),
// contiguous from the current confirmedFrame. A frame where some player's
// sample is only a repeat-last-input guess does not count, even though the
// ring itself holds a value there for simulation purposes.
func (s *Session) advanceConfirmed() {
	for {
		f := s.confirmedFrame
		allPresent := true
		for _, h := range s.allPlayers {
			if _, ok := s.realInput[h][f]; !ok {
				allPresent = false
				break
			}
		}
		if !allPresent {
			break
		}
		s.confirmedFrame = f + 1
		s.ring.AdvanceConfirmed(s.confirmedFrame)
	}
}

// MinRollback returns the smaller of two candidate rollback targets,
// treating "no rollback" (needsRollback=false) as +infinity.
func MinRollback(aFrame uint32, aNeeds bool, bFrame uint32, bNeeds bool) (uint32, bool) {
	if !aNeeds && !bNeeds {
		return 0, false
	}
	if !aNeeds {
		return bFrame, true
	}
	if !bNeeds {
		return aFrame, true
	}
	if aFrame < bFrame {
		return aFrame, true
	}
	return bFrame, true
}
