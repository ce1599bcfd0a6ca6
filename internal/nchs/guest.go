package nchs

import "fmt"

// GuestState is the guest-side state machine (§4.I: "Idle → Joining →
// Lobby → Punching → Ready (or Failed)").
type GuestState int

const (
	GuestIdle GuestState = iota
	GuestJoining
	GuestLobby
	GuestPunching
	GuestReadyState
	GuestFailed
)

// GuestEvent mirrors the session-level notifications a guest-side state
// machine surfaces to its application.
type GuestEvent struct {
	Joined       *uint8
	Rejected     *JoinRejectReason
	LobbyUpdated *[]PlayerSlot
	Ready        *SessionStart
}

// GuestStateMachine drives the guest side of NCHS.
type GuestStateMachine struct {
	state   GuestState
	handle  uint8
	lobby   []PlayerSlot
	peers   map[uint8]bool // handles this guest has successfully punched
	session *SessionStart

	pendingEvents []GuestEvent
}

// NewGuestStateMachine starts a guest in the Joining state; the caller
// sends EncodeJoinRequest on the real socket and feeds responses back via
// HandleJoinAccept/HandleJoinReject.
func NewGuestStateMachine() *GuestStateMachine {
	return &GuestStateMachine{state: GuestJoining, peers: make(map[uint8]bool)}
}

// State returns the guest's current lifecycle state.
func (g *GuestStateMachine) State() GuestState { return g.state }

// Handle returns the handle assigned by JoinAccept, valid once past
// GuestJoining.
func (g *GuestStateMachine) Handle() uint8 { return g.handle }

// HandleJoinAccept records the assigned handle and transitions to Lobby.
func (g *GuestStateMachine) HandleJoinAccept(a JoinAccept) {
	g.handle = a.Handle
	g.lobby = a.Lobby
	g.state = GuestLobby
	handle := a.Handle
	g.pendingEvents = append(g.pendingEvents, GuestEvent{Joined: &handle})
}

// HandleJoinReject transitions to Failed with the host's given reason.
func (g *GuestStateMachine) HandleJoinReject(r JoinReject) {
	g.state = GuestFailed
	reason := r.Reason
	g.pendingEvents = append(g.pendingEvents, GuestEvent{Rejected: &reason})
}

// HandleLobbyUpdate records the latest lobby roster.
func (g *GuestStateMachine) HandleLobbyUpdate(u LobbyUpdate) {
	g.lobby = u.Lobby
	lobby := append([]PlayerSlot(nil), u.Lobby...)
	g.pendingEvents = append(g.pendingEvents, GuestEvent{LobbyUpdated: &lobby})
}

// HandleSessionStart caches the session config and begins hole punching to
// every other active peer.
func (g *GuestStateMachine) HandleSessionStart(s SessionStart) []Outbound {
	g.session = &s
	g.state = GuestPunching

	var out []Outbound
	for _, slot := range s.Players {
		if slot.Active && slot.Handle != g.handle {
			out = append(out, Outbound{To: slot.Address, Data: EncodePunchHello()})
		}
	}
	return out
}

// HandlePunchAck records a completed punch with peer handle; once every
// peer in the session has acked, the guest transitions to Ready and emits
// the Ready event.
func (g *GuestStateMachine) HandlePunchAck(peerHandle uint8) {
	if g.session == nil {
		return
	}
	g.peers[peerHandle] = true

	for _, slot := range g.session.Players {
		if slot.Active && slot.Handle != g.handle && !g.peers[slot.Handle] {
			return
		}
	}
	g.state = GuestReadyState
	g.pendingEvents = append(g.pendingEvents, GuestEvent{Ready: g.session})
}

// Lobby returns the most recently known lobby roster.
func (g *GuestStateMachine) Lobby() []PlayerSlot { return g.lobby }

// Poll drains and returns queued events in emission order.
func (g *GuestStateMachine) Poll() []GuestEvent {
	events := g.pendingEvents
	g.pendingEvents = nil
	return events
}

// JoinMessage builds this guest's JoinRequest datagram.
func JoinMessage(netplay NetplayMetadata, info PlayerInfo) []byte {
	return EncodeJoinRequest(JoinRequest{Netplay: netplay, Info: info})
}

// ReadyMessage builds a GuestReady toggle datagram.
func ReadyMessage(ready bool) []byte {
	return EncodeGuestReady(GuestReady{Ready: ready})
}

// errNotInLobby is a small sentinel for a guest-side precondition check
// callers may want to surface distinctly (e.g. toggling ready before
// joining).
var errNotInLobby = fmt.Errorf("guest is not in the Lobby state")

// RequireLobby returns errNotInLobby unless the guest is currently in
// GuestLobby, the state a guest must be in before it toggles ready.
func (g *GuestStateMachine) RequireLobby() error {
	if g.state != GuestLobby {
		return errNotInLobby
	}
	return nil
}
