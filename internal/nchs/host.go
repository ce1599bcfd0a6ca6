package nchs

import (
	"fmt"
)

// HostState is the host-side state machine (§4.I: "Idle → Listening →
// Lobby → Starting → Ready").
type HostState int

const (
	HostIdle HostState = iota
	HostListening
	HostLobby
	HostStarting
	HostReady
)

// Outbound is a datagram the caller must send on the real socket.
type Outbound struct {
	To   string // empty means broadcast to every active lobby slot
	Data []byte
}

// HostEvent mirrors the session-level notifications a host-side state
// machine surfaces to its application.
type HostEvent struct {
	Listening    *uint16
	LobbyUpdated *[]PlayerSlot
	Ready        *SessionStart
}

// HostStateMachine drives the host side of NCHS purely in terms of
// messages in and Outbound datagrams out, so it can be driven by a real
// socket or by a test without either depending on the other.
type HostStateMachine struct {
	state      HostState
	netplay    NetplayMetadata
	maxPlayers int
	slots      []PlayerSlot
	addresses  []string
	port       uint16

	pendingEvents []HostEvent
	sessionStart  *SessionStart
}

// NewHostStateMachine creates a host with itself occupying handle 0.
func NewHostStateMachine(netplay NetplayMetadata, hostInfo PlayerInfo, maxPlayers int, addresses []string, port uint16) *HostStateMachine {
	h := &HostStateMachine{
		state:      HostListening,
		netplay:    netplay,
		maxPlayers: maxPlayers,
		addresses:  addresses,
		port:       port,
	}
	h.slots = append(h.slots, PlayerSlot{Active: true, Handle: 0, Info: hostInfo, Ready: false, Address: h.hostAddress()})
	h.pendingEvents = append(h.pendingEvents, HostEvent{Listening: &port})
	return h
}

func (h *HostStateMachine) hostAddress() string {
	if len(h.addresses) == 0 {
		return ""
	}
	return h.addresses[0]
}

// State returns the host's current lifecycle state.
func (h *HostStateMachine) State() HostState { return h.state }

func (h *HostStateMachine) activeCount() int {
	n := 0
	for _, s := range h.slots {
		if s.Active {
			n++
		}
	}
	return n
}

// AllReady reports whether every active guest slot (excluding the host,
// handle 0, which is implicitly ready) has set its ready flag.
func (h *HostStateMachine) AllReady() bool {
	for _, s := range h.slots {
		if s.Active && s.Handle != 0 && !s.Ready {
			return false
		}
	}
	return true
}

// PlayerCount reports the number of active lobby slots, host included.
func (h *HostStateMachine) PlayerCount() int { return h.activeCount() }

func (h *HostStateMachine) nextHandle() uint8 {
	used := make(map[uint8]bool)
	for _, s := range h.slots {
		if s.Active {
			used[s.Handle] = true
		}
	}
	for handle := uint8(1); ; handle++ {
		if !used[handle] {
			return handle
		}
	}
}

// HandleJoinRequest processes an inbound JoinRequest from fromAddr,
// applying the validation order in §4.I, and returns the JoinAccept
// or JoinReject datagram to send back plus (on success) a LobbyUpdate
// broadcast to every existing slot.
func (h *HostStateMachine) HandleJoinRequest(fromAddr string, req JoinRequest) []Outbound {
	reason, ok := ValidateJoinRequest(req.Netplay, h.netplay, h.activeCount(), h.maxPlayers, h.state)
	if !ok {
		return []Outbound{{To: fromAddr, Data: EncodeJoinReject(JoinReject{Reason: reason})}}
	}

	handle := h.nextHandle()
	h.slots = append(h.slots, PlayerSlot{Active: true, Handle: handle, Info: req.Info, Ready: false, Address: fromAddr})
	h.state = HostLobby

	out := []Outbound{{To: fromAddr, Data: EncodeJoinAccept(JoinAccept{Handle: handle, Lobby: h.snapshotSlots()})}}
	lobby := h.snapshotSlots()
	h.pendingEvents = append(h.pendingEvents, HostEvent{LobbyUpdated: &lobby})
	out = append(out, h.broadcastLobbyUpdate()...)
	return out
}

// HandleGuestReady updates a guest's ready flag and broadcasts the new
// lobby state.
func (h *HostStateMachine) HandleGuestReady(fromAddr string, msg GuestReady) []Outbound {
	for i := range h.slots {
		if h.slots[i].Active && h.slots[i].Address == fromAddr {
			h.slots[i].Ready = msg.Ready
			break
		}
	}
	lobby := h.snapshotSlots()
	h.pendingEvents = append(h.pendingEvents, HostEvent{LobbyUpdated: &lobby})
	return h.broadcastLobbyUpdate()
}

func (h *HostStateMachine) snapshotSlots() []PlayerSlot {
	return append([]PlayerSlot(nil), h.slots...)
}

func (h *HostStateMachine) broadcastLobbyUpdate() []Outbound {
	data := EncodeLobbyUpdate(LobbyUpdate{Lobby: h.snapshotSlots()})
	var out []Outbound
	for _, s := range h.slots {
		if s.Active && s.Handle != 0 {
			out = append(out, Outbound{To: s.Address, Data: data})
		}
	}
	return out
}

// Start transitions Lobby→Starting, generating randomSeed (caller-supplied
// so the state machine has no nondeterministic dependency of its own) and
// broadcasting SessionStart. The caller must only invoke this once
// AllReady() && PlayerCount() >= 2 (§4.I).
func (h *HostStateMachine) Start(randomSeed uint64) ([]Outbound, error) {
	if !h.AllReady() || h.PlayerCount() < 2 {
		return nil, fmt.Errorf("cannot start: all_ready=%v player_count=%d", h.AllReady(), h.PlayerCount())
	}
	start := SessionStart{RandomSeed: randomSeed, Players: h.snapshotSlots()}
	h.sessionStart = &start
	h.state = HostStarting

	// Ready event emission guarantee: queue it now so the very next Poll()
	// call returns it, even though punch completion (MarkReady) hasn't
	// happened yet — the application needs SessionStart to start its own
	// gameplay loop regardless of hole-punch timing.
	h.pendingEvents = append(h.pendingEvents, HostEvent{Ready: &start})

	data := EncodeSessionStart(start)
	var out []Outbound
	for _, s := range h.slots {
		if s.Active && s.Handle != 0 {
			out = append(out, Outbound{To: s.Address, Data: data})
		}
	}
	return out, nil
}

// MarkReady transitions Starting→Ready after hole punching completes.
func (h *HostStateMachine) MarkReady() {
	if h.state == HostStarting {
		h.state = HostReady
	}
}

// Poll drains and returns queued events in emission order.
func (h *HostStateMachine) Poll() []HostEvent {
	events := h.pendingEvents
	h.pendingEvents = nil
	return events
}

// Addresses returns the host's discovered reachable addresses.
func (h *HostStateMachine) Addresses() []string { return h.addresses }
