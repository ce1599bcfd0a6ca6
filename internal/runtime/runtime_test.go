package runtime

import (
	"context"
	"testing"

	"corewave/internal/config"
	"corewave/internal/gpu"
	"corewave/internal/inputring"
	"corewave/internal/nchs"
	"corewave/internal/rollback"
	"corewave/internal/sandbox"
	"corewave/internal/snapshot"
)

func newCounterRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, _ := newCounterRuntimeWithHost(t)
	return r
}

func newCounterRuntimeWithHost(t *testing.T) (*Runtime, *nchs.HostStateMachine) {
	t.Helper()
	ctx := context.Background()
	exec, err := sandbox.Load(ctx, counterWasm(), nil, config.DefaultLimits(), 2, nil, gpu.RenderModeRGBA8)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { exec.Close(ctx) })

	host := nchs.NewHostStateMachine(
		nchs.NetplayMetadata{ConsoleType: "corewave", TickRate: 60, MaxPlayers: 2, RomHash: 1},
		nchs.PlayerInfo{Name: "host"}, 2, []string{"127.0.0.1:7777"}, 7777,
	)
	return NewHostRuntime(exec, nil, host, 1.0/60), host
}

func beginTwoPlayerSession(r *Runtime) (*inputring.Ring, *snapshot.Ring) {
	ring := inputring.New(64, 2)
	snaps := snapshot.NewRing(16)
	start := &nchs.SessionStart{
		Players: []nchs.PlayerSlot{
			{Active: true, Handle: 0},
			{Active: true, Handle: 1},
		},
	}
	r.BeginSession(start, []rollback.Handle{0}, ring, snaps, 8)
	return ring, snaps
}

func TestBeginSessionSwitchesModeToRollback(t *testing.T) {
	r := newCounterRuntime(t)
	if r.Mode() != ModeHandshake {
		t.Fatalf("Mode() = %v, want ModeHandshake before BeginSession", r.Mode())
	}
	beginTwoPlayerSession(r)
	if r.Mode() != ModeRollback {
		t.Fatalf("Mode() = %v, want ModeRollback after BeginSession", r.Mode())
	}
}

func TestStepRollbackAdvancesCounterByOnePerFrame(t *testing.T) {
	r := newCounterRuntime(t)
	beginTwoPlayerSession(r)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := r.Step(ctx, nil, map[rollback.Handle]inputring.Sample{0: {}})
		if err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		if result.CommandBuffer == nil {
			t.Fatalf("Step %d: expected a command buffer", i)
		}
	}

	mem, err := r.exec.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	counter := uint32(mem[0]) | uint32(mem[1])<<8 | uint32(mem[2])<<16 | uint32(mem[3])<<24
	if counter != 5 {
		t.Fatalf("counter = %d, want 5 after 5 steps", counter)
	}
}

func TestStepRollbackResimulatesWithoutDoubleCounting(t *testing.T) {
	r := newCounterRuntime(t)
	beginTwoPlayerSession(r)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := r.Step(ctx, nil, map[rollback.Handle]inputring.Sample{0: {}}); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}

	// A late remote packet for player 1 at frame 1, differing from the
	// zero-value prediction already recorded there, forces a rollback to
	// frame 1: the frame-0 snapshot is loaded, frames 1 through 3 are
	// resimulated, and then the new frame 4 runs.
	history := []rollback.FrameSample{{Frame: 1, Player: 1, Sample: inputring.Sample{StickX: 9}}}
	pkt := InboundPacket{Data: rollback.EncodeInputPacket(0, 1, 1, history)}

	if _, err := r.Step(ctx, []InboundPacket{pkt}, map[rollback.Handle]inputring.Sample{0: {}}); err != nil {
		t.Fatalf("Step with rollback: %v", err)
	}

	mem, err := r.exec.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	counter := uint32(mem[0]) | uint32(mem[1])<<8 | uint32(mem[2])<<16 | uint32(mem[3])<<24
	if counter != 5 {
		t.Fatalf("counter = %d, want 5 (one increment per simulated frame, no double-count from resimulation)", counter)
	}
}

func TestStepHandshakeDispatchesJoinRequestAndReportsReady(t *testing.T) {
	r, host := newCounterRuntimeWithHost(t)
	ctx := context.Background()

	req := nchs.JoinMessage(
		nchs.NetplayMetadata{ConsoleType: "corewave", TickRate: 60, MaxPlayers: 2, RomHash: 1},
		nchs.PlayerInfo{Name: "guest"},
	)
	result, err := r.Step(ctx, []InboundPacket{{From: "10.0.0.5:1111", Data: req}}, nil)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(result.Outbound) != 2 {
		t.Fatalf("expected JoinAccept + LobbyUpdate outbound, got %d", len(result.Outbound))
	}

	readyMsg := nchs.ReadyMessage(true)
	if _, err := r.Step(ctx, []InboundPacket{{From: "10.0.0.5:1111", Data: readyMsg}}, nil); err != nil {
		t.Fatalf("Step (ready): %v", err)
	}

	if _, err := host.Start(0x42); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err = r.Step(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Step (poll ready): %v", err)
	}
	if !result.SessionJustBecameReady {
		t.Fatalf("expected SessionJustBecameReady on the poll following Start()")
	}
}
