package nchs

import (
	"fmt"
	"net"
)

// Session wraps a host or guest state machine behind one poll()/handshake
// surface, the way `core/src/net/nchs/mod.rs`'s `NchsSession` wraps its own
// host/guest machines: the caller (the Unified Runtime) only ever sees
// Dispatch/Poll/TakeSocket, never the underlying machine directly, and hands the
// live socket off once the handshake completes (§4.I/§4.J handoff).
type Session struct {
	host  *HostStateMachine
	guest *GuestStateMachine
	conn  *net.UDPConn

	// sessionStart caches the guest side's SessionStart so a later PunchAck
	// can resolve its sender address back to a handle (no handle travels on
	// the wire in a punch message). hasSessionStart distinguishes "not
	// received yet" from the zero value.
	sessionStart    SessionStart
	hasSessionStart bool
}

// NewHostSession wraps a host state machine.
func NewHostSession(host *HostStateMachine) *Session { return &Session{host: host} }

// NewGuestSession wraps a guest state machine.
func NewGuestSession(guest *GuestStateMachine) *Session { return &Session{guest: guest} }

// IsHost reports whether this session is driving the host side.
func (s *Session) IsHost() bool { return s.host != nil }

// Dispatch feeds one inbound datagram to whichever machine this session
// wraps and returns any datagrams produced in response.
func (s *Session) Dispatch(from string, data []byte) ([]Outbound, error) {
	msgType, err := DecodeHeader(data)
	if err != nil {
		return nil, fmt.Errorf("dispatch packet from %s: %w", from, err)
	}

	if s.host != nil {
		switch msgType {
		case MsgJoinRequest:
			req, err := DecodeJoinRequest(data)
			if err != nil {
				return nil, err
			}
			return s.host.HandleJoinRequest(from, req), nil
		case MsgGuestReady:
			msg, err := DecodeGuestReady(data)
			if err != nil {
				return nil, err
			}
			return s.host.HandleGuestReady(from, msg), nil
		case MsgPunchHello:
			return []Outbound{{To: from, Data: EncodePunchAck()}}, nil
		}
		return nil, nil
	}

	switch msgType {
	case MsgJoinAccept:
		accept, err := DecodeJoinAccept(data)
		if err != nil {
			return nil, err
		}
		s.guest.HandleJoinAccept(accept)
	case MsgJoinReject:
		reject, err := DecodeJoinReject(data)
		if err != nil {
			return nil, err
		}
		s.guest.HandleJoinReject(reject)
	case MsgLobbyUpdate:
		update, err := DecodeLobbyUpdate(data)
		if err != nil {
			return nil, err
		}
		s.guest.HandleLobbyUpdate(update)
	case MsgSessionStart:
		start, err := DecodeSessionStart(data)
		if err != nil {
			return nil, err
		}
		s.sessionStart = start
		s.hasSessionStart = true
		return s.guest.HandleSessionStart(start), nil
	case MsgPunchHello:
		return []Outbound{{To: from, Data: EncodePunchAck()}}, nil
	case MsgPunchAck:
		if s.hasSessionStart {
			for _, slot := range s.sessionStart.Players {
				if slot.Address == from {
					s.guest.HandlePunchAck(slot.Handle)
				}
			}
		}
	}
	return nil, nil
}

// Poll drains pending events from whichever machine this session wraps,
// reporting through the unified HostEvent/GuestEvent shape the caller
// already understands.
func (s *Session) Poll() (host []HostEvent, guest []GuestEvent) {
	if s.host != nil {
		return s.host.Poll(), nil
	}
	return nil, s.guest.Poll()
}

// TakeSocket hands the live UDP connection to the caller once the
// handshake is done, mirroring `take_socket()` in the original engine: NCHS
// owns the socket only long enough to finish the handshake, then the
// Unified Runtime drives it directly for rollback traffic.
func (s *Session) TakeSocket() *net.UDPConn {
	conn := s.conn
	s.conn = nil
	return conn
}

// BindSocket attaches the UDP connection this session will hand off once
// ready.
func (s *Session) BindSocket(conn *net.UDPConn) { s.conn = conn }
