// Package runtime implements the Unified Runtime (§4.J): a thin shell
// owning the sandbox, the rollback session, and the NCHS handshake, driving
// one outer tick of "sandbox + rollback + handshake + renderer" per Step
// call.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"corewave/internal/config"
	"corewave/internal/gpu"
	"corewave/internal/inputring"
	"corewave/internal/nchs"
	"corewave/internal/rollback"
	"corewave/internal/sandbox"
	"corewave/internal/snapshot"
)

// Mode is the runtime's current phase (§4.J step 1-2).
type Mode int

const (
	ModeHandshake Mode = iota
	ModeRollback
	ModeReadOnly
)

// InboundPacket is one received UDP datagram, tagged with its sender.
type InboundPacket struct {
	From string
	Data []byte
}

// StepResult reports what a Step produced: datagrams to send, a rendered
// command buffer (on every step in rollback mode, even when the sandbox
// drew nothing), and any session-level events worth surfacing.
type StepResult struct {
	Mode                   Mode
	Outbound               []nchs.Outbound
	HostEvents             []nchs.HostEvent
	GuestEvents            []nchs.GuestEvent
	Disconnected           []rollback.Event
	CommandBuffer          *gpu.CommandBuffer
	RenderResult           gpu.RenderFrameResult
	AudioRequests          []sandbox.AudioRequest
	SessionJustBecameReady bool
}

// Runtime composes one sandbox executor with either a host or guest NCHS
// state machine and, once the handshake finishes, a rollback session.
type Runtime struct {
	mu sync.Mutex

	exec     *sandbox.Executor
	renderer *gpu.FrameRenderer

	mode      Mode
	handshake *nchs.Session

	session      *rollback.Session
	sessionStart *nchs.SessionStart
	localPlayers []rollback.Handle

	frame               uint32
	frameBindGroupHash  uint64
	tickSeconds         float64
	disconnectTimeoutFr uint32
	historyDepth        int
}

// NewHostRuntime builds a runtime that owns the NCHS lobby as host.
func NewHostRuntime(exec *sandbox.Executor, renderer *gpu.FrameRenderer, host *nchs.HostStateMachine, tickSeconds float64) *Runtime {
	return &Runtime{
		exec:                exec,
		renderer:            renderer,
		mode:                ModeHandshake,
		handshake:           nchs.NewHostSession(host),
		tickSeconds:         tickSeconds,
		disconnectTimeoutFr: disconnectTimeoutFrames(tickSeconds),
		historyDepth:        config.HistoryDepth,
	}
}

// NewGuestRuntime builds a runtime that joins an NCHS lobby as guest.
func NewGuestRuntime(exec *sandbox.Executor, renderer *gpu.FrameRenderer, guest *nchs.GuestStateMachine, tickSeconds float64) *Runtime {
	return &Runtime{
		exec:                exec,
		renderer:            renderer,
		mode:                ModeHandshake,
		handshake:           nchs.NewGuestSession(guest),
		tickSeconds:         tickSeconds,
		disconnectTimeoutFr: disconnectTimeoutFrames(tickSeconds),
		historyDepth:        config.HistoryDepth,
	}
}

// disconnectTimeoutFrames converts the configured disconnect timeout into a
// frame count at the session's own tick rate.
func disconnectTimeoutFrames(tickSeconds float64) uint32 {
	if tickSeconds <= 0 {
		return config.DisconnectTimeoutMillis / 16
	}
	return uint32(float64(config.DisconnectTimeoutMillis) / 1000.0 / tickSeconds)
}

// Mode reports the runtime's current phase.
func (r *Runtime) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// BeginSession switches the runtime from handshake to rollback mode once
// NCHS has produced a SessionStart, wiring a freshly built rollback.Session
// around the snapshot/input rings (§4.J step 2).
func (r *Runtime) BeginSession(start *nchs.SessionStart, localPlayers []rollback.Handle, ring *inputring.Ring, snapshots *snapshot.Ring, maxRollbackFrames uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []rollback.Handle
	for _, slot := range start.Players {
		if slot.Active {
			all = append(all, rollback.Handle(slot.Handle))
		}
	}

	r.sessionStart = start
	r.localPlayers = localPlayers
	r.session = rollback.NewSession(localPlayers, all, maxRollbackFrames, ring, snapshots)
	r.mode = ModeRollback
}

// Step drives one outer tick (§4.J): poll the handshake if still in
// progress, or advance rollback + render + clear staging once live.
func (r *Runtime) Step(ctx context.Context, inbound []InboundPacket, localInputs map[rollback.Handle]inputring.Sample) (StepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result StepResult
	result.Mode = r.mode

	if r.mode == ModeHandshake {
		for _, pkt := range inbound {
			out, err := r.handshake.Dispatch(pkt.From, pkt.Data)
			if err != nil {
				return result, fmt.Errorf("dispatch handshake packet from %s: %w", pkt.From, err)
			}
			result.Outbound = append(result.Outbound, out...)
		}
		result.HostEvents, result.GuestEvents = r.handshake.Poll()
		for _, ev := range result.HostEvents {
			if ev.Ready != nil {
				result.SessionJustBecameReady = true
			}
		}
		for _, ev := range result.GuestEvents {
			if ev.Ready != nil {
				result.SessionJustBecameReady = true
			}
		}
		return result, nil
	}

	if r.mode == ModeReadOnly {
		return result, nil
	}

	return r.stepRollback(ctx, inbound, localInputs)
}

func (r *Runtime) stepRollback(ctx context.Context, inbound []InboundPacket, localInputs map[rollback.Handle]inputring.Sample) (StepResult, error) {
	var result StepResult
	result.Mode = ModeRollback

	var rollbackTo uint32
	var needsRollback bool

	for _, pkt := range inbound {
		decoded, err := rollback.DecodeInputPacket(pkt.Data)
		if err != nil {
			continue // malformed/foreign datagram, drop it: packet loss is tolerated
		}
		r.session.PeerInput(decoded.Sender, decoded.Frame)
		for _, fs := range decoded.History {
			target, needs := r.session.ReceiveRemoteInput(fs.Frame, fs.Player, fs.Sample)
			rollbackTo, needsRollback = rollback.MinRollback(rollbackTo, needsRollback, target, needs)
		}
	}

	for player, sample := range localInputs {
		r.session.SetLocalInput(player, sample)
	}

	reqs := r.session.AdvanceFrame(rollbackTo, needsRollback)
	for _, req := range reqs {
		switch req.Kind {
		case rollback.RequestLoadState:
			if err := r.exec.LoadState(req.Snapshot.Memory); err != nil {
				return result, fmt.Errorf("rollback load_state(%d): %w", req.Frame, err)
			}
		case rollback.RequestAdvanceFrame:
			for player, sample := range req.Inputs {
				r.exec.SetInput(int(player), sample)
			}
			if err := r.exec.Update(ctx, r.tickSeconds); err != nil {
				return result, fmt.Errorf("rollback advance_frame(%d): %w", req.Frame, err)
			}
		case rollback.RequestSaveState:
			bytes, err := r.exec.SaveState()
			if err != nil {
				return result, fmt.Errorf("rollback save_state(%d): %w", req.Frame, err)
			}
			r.session.RecordSnapshot(snapshot.Take(req.Frame, bytes))
		}
	}

	for _, player := range r.localPlayers {
		history := r.session.RecentInputs(player, r.frame, r.historyDepth)
		result.Outbound = append(result.Outbound, nchs.Outbound{
			Data: rollback.EncodeInputPacket(0, player, r.frame, history),
		})
	}

	result.Disconnected = r.session.CheckDisconnects(r.frame, r.disconnectTimeoutFr)
	for _, ev := range result.Disconnected {
		if ev.PeerDisconnected {
			r.mode = ModeReadOnly
		}
	}

	cmdBuf, err := r.exec.Render(ctx)
	if err != nil {
		return result, fmt.Errorf("render: %w", err)
	}
	result.CommandBuffer = cmdBuf
	result.AudioRequests = r.exec.AudioRequests()

	if r.renderer != nil {
		renderResult, err := r.renderer.RenderFrame(cmdBuf, r.frameBindGroupHash)
		if err != nil {
			return result, fmt.Errorf("render frame: %w", err)
		}
		result.RenderResult = renderResult
	}

	r.exec.ClearFrame()
	r.frame++
	return result, nil
}
