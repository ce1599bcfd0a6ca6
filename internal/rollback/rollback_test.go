package rollback

import (
	"testing"

	"corewave/internal/inputring"
	"corewave/internal/snapshot"
)

func newTestSession(t *testing.T) (*Session, *inputring.Ring, *snapshot.Ring) {
	t.Helper()
	ring := inputring.New(64, 2)
	snaps := snapshot.NewRing(16)
	s := NewSession([]Handle{0}, []Handle{0, 1}, 8, ring, snaps)
	return s, ring, snaps
}

// simulate walks a frame forward deterministically: checksum is a function
// of the frame number and every player's stick_x, standing in for a game's
// update().
func simulate(state uint64, inputs map[Handle]inputring.Sample, frame uint32) uint64 {
	state = state*1000003 + uint64(frame)
	for h := Handle(0); h < 2; h++ {
		state = state*31 + uint64(int64(inputs[h].StickX)+128)
	}
	return state
}

func TestAdvanceFrameWithoutRollbackProducesAdvanceThenSave(t *testing.T) {
	s, _, snaps := newTestSession(t)
	s.SetLocalInput(0, inputring.Sample{StickX: 5})
	s.ReceiveRemoteInput(0, 1, inputring.Sample{StickX: 7})

	reqs := s.AdvanceFrame(0, false)
	if len(reqs) != 2 {
		t.Fatalf("len(reqs) = %d, want 2 (advance, save)", len(reqs))
	}
	if reqs[0].Kind != RequestAdvanceFrame || reqs[0].Frame != 0 {
		t.Fatalf("reqs[0] = %+v, want AdvanceFrame(0)", reqs[0])
	}
	if reqs[1].Kind != RequestSaveState || reqs[1].Frame != 0 {
		t.Fatalf("reqs[1] = %+v, want SaveState(0)", reqs[1])
	}
	if s.CurrentFrame() != 1 {
		t.Fatalf("CurrentFrame() = %d, want 1", s.CurrentFrame())
	}

	snaps.Push(snapshot.Take(0, []byte{1, 2, 3}))
	if _, ok := snaps.NearestAtOrBefore(0); !ok {
		t.Fatalf("expected a snapshot at frame 0")
	}
}

func TestMispredictionTriggersRollbackRequest(t *testing.T) {
	s, _, snaps := newTestSession(t)

	// Frame 0: predict remote player 1 as zero input (repeat-last).
	s.SetLocalInput(0, inputring.Sample{StickX: 1})
	reqs := s.AdvanceFrame(0, false)
	state := uint64(0)
	for _, r := range reqs {
		if r.Kind == RequestAdvanceFrame {
			state = simulate(state, r.Inputs, r.Frame)
		}
	}
	snaps.Push(snapshot.Take(0, []byte{byte(state)}))

	// Frame 1 arrives predicted too.
	s.SetLocalInput(0, inputring.Sample{StickX: 2})
	s.AdvanceFrame(0, false)
	snaps.Push(snapshot.Take(1, []byte{byte(state)}))

	// Now the real input for player 1 at frame 0 arrives and differs from
	// the zero-value prediction already stored — this must force a
	// rollback to frame 0.
	rollbackTo, needsRollback := s.ReceiveRemoteInput(0, 1, inputring.Sample{StickX: 9})
	if !needsRollback {
		t.Fatalf("expected misprediction to require rollback")
	}
	if rollbackTo != 0 {
		t.Fatalf("rollbackTo = %d, want 0", rollbackTo)
	}

	reqs = s.AdvanceFrame(rollbackTo, needsRollback)
	if reqs[0].Kind != RequestLoadState || reqs[0].Frame != 0 {
		t.Fatalf("reqs[0] = %+v, want LoadState(0)", reqs[0])
	}

	// Resimulated frames must precede the new current frame's request, and
	// SaveState for each re-simulated frame must follow its AdvanceFrame.
	sawSave := map[uint32]bool{}
	for i := 1; i < len(reqs); i++ {
		if reqs[i].Kind == RequestAdvanceFrame {
			if sawSave[reqs[i].Frame] {
				t.Fatalf("AdvanceFrame(%d) emitted after its own SaveState", reqs[i].Frame)
			}
		}
		if reqs[i].Kind == RequestSaveState {
			sawSave[reqs[i].Frame] = true
		}
	}
}

func TestNoMispredictionWhenRemoteInputMatchesPrediction(t *testing.T) {
	s, ring, _ := newTestSession(t)
	ring.Push(0, 1, inputring.Sample{StickX: 3})

	_, needsRollback := s.ReceiveRemoteInput(0, 1, inputring.Sample{StickX: 3})
	if needsRollback {
		t.Fatalf("identical resample must not trigger a rollback")
	}
}

func TestConfirmedFrameAdvancesOnlyWhenAllPlayersPresent(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.SetLocalInput(0, inputring.Sample{StickX: 1})
	s.AdvanceFrame(0, false)

	if s.ConfirmedFrame() != 0 {
		t.Fatalf("ConfirmedFrame() = %d, want 0 (player 1 not yet present)", s.ConfirmedFrame())
	}

	s.ReceiveRemoteInput(0, 1, inputring.Sample{StickX: 2})
	s.advanceConfirmed()
	if s.ConfirmedFrame() != 1 {
		t.Fatalf("ConfirmedFrame() = %d, want 1 once both players present at frame 0", s.ConfirmedFrame())
	}
}

func TestDisconnectTimeoutEmitsEventAndFreezesSession(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.PeerInput(1, 0)

	if events := s.CheckDisconnects(4, 5); len(events) != 0 {
		t.Fatalf("expected no disconnect events before timeout, got %v", events)
	}

	events := s.CheckDisconnects(5, 5)
	if len(events) != 1 || !events[0].PeerDisconnected || events[0].Handle != 1 {
		t.Fatalf("expected PeerDisconnected for handle 1, got %v", events)
	}
	if !s.ReadOnly() {
		t.Fatalf("session must enter read-only state after disconnect")
	}
	if reqs := s.AdvanceFrame(0, false); reqs != nil {
		t.Fatalf("expected no requests from a read-only session, got %v", reqs)
	}
}

func TestInputPacketRoundTrip(t *testing.T) {
	history := []FrameSample{
		{Player: 0, Sample: inputring.Sample{Buttons: 0x0001, StickX: -5, StickY: 10}},
		{Player: 0, Sample: inputring.Sample{Buttons: 0x0003, StickX: 5, StickY: -10}},
	}
	data := EncodeInputPacket(42, 0, 7, history)

	decoded, err := DecodeInputPacket(data)
	if err != nil {
		t.Fatalf("DecodeInputPacket: %v", err)
	}
	if decoded.SessionID != 42 || decoded.Sender != 0 || decoded.Frame != 7 {
		t.Fatalf("decoded header = %+v", decoded)
	}
	if len(decoded.History) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(decoded.History))
	}
	if decoded.History[1].Sample != history[1].Sample {
		t.Fatalf("newest history sample = %+v, want %+v", decoded.History[1].Sample, history[1].Sample)
	}
	if decoded.History[0].Frame != 6 || decoded.History[1].Frame != 7 {
		t.Fatalf("history frame numbers = %d, %d, want 6, 7", decoded.History[0].Frame, decoded.History[1].Frame)
	}
}

func TestDecodeInputPacketRejectsBadMagic(t *testing.T) {
	data := EncodeInputPacket(1, 0, 0, nil)
	data[0] = 'X'
	if _, err := DecodeInputPacket(data); err == nil {
		t.Fatalf("expected error for corrupted magic")
	}
}

func TestDecodeInputPacketRejectsTruncated(t *testing.T) {
	data := EncodeInputPacket(1, 0, 0, []FrameSample{{Sample: inputring.Sample{}}})
	if _, err := DecodeInputPacket(data[:len(data)-2]); err == nil {
		t.Fatalf("expected error for truncated packet")
	}
}
