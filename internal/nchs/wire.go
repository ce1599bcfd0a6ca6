// Package nchs implements the NCHS (Nethercore Handshake) protocol (§4.I):
// a bespoke UDP session bootstrap that runs before rollback takes
// over, handling ROM compatibility validation, lobby management, and UDP
// hole punching.
package nchs

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies every NCHS datagram.
var Magic = [4]byte{'N', 'C', 'H', 'S'}

// Version is the wire protocol version this package speaks.
const Version = 1

// HeaderSize is the fixed 8-byte header on every packet (§4.I).
const HeaderSize = 8

// MessageType tags the payload that follows the header.
type MessageType uint8

const (
	MsgJoinRequest MessageType = iota
	MsgJoinAccept
	MsgJoinReject
	MsgLobbyUpdate
	MsgGuestReady
	MsgSessionStart
	MsgPunchHello
	MsgPunchAck
)

// EncodeHeader writes the 8-byte header: 4-byte magic, 1-byte version,
// 1-byte message type, 2 reserved bytes.
func EncodeHeader(msgType MessageType) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	buf[4] = Version
	buf[5] = byte(msgType)
	return buf
}

// DecodeHeader parses and validates the header prefix of a datagram.
func DecodeHeader(data []byte) (MessageType, error) {
	if len(data) < HeaderSize {
		return 0, fmt.Errorf("nchs packet too short: %d bytes", len(data))
	}
	if [4]byte{data[0], data[1], data[2], data[3]} != Magic {
		return 0, fmt.Errorf("bad nchs magic")
	}
	if data[4] != Version {
		return 0, fmt.Errorf("nchs version mismatch: got %d, want %d", data[4], Version)
	}
	return MessageType(data[5]), nil
}

// JoinRejectReason enumerates why a host refused a JoinRequest (§4.I).
type JoinRejectReason uint8

const (
	ReasonConsoleTypeMismatch JoinRejectReason = iota
	ReasonTickRateMismatch
	ReasonRomHashMismatch
	ReasonLobbyFull
	ReasonGameInProgress
	ReasonVersionMismatch
	ReasonMaxPlayersMismatch
)

func (r JoinRejectReason) String() string {
	switch r {
	case ReasonConsoleTypeMismatch:
		return "ConsoleTypeMismatch"
	case ReasonTickRateMismatch:
		return "TickRateMismatch"
	case ReasonRomHashMismatch:
		return "RomHashMismatch"
	case ReasonLobbyFull:
		return "LobbyFull"
	case ReasonGameInProgress:
		return "GameInProgress"
	case ReasonVersionMismatch:
		return "VersionMismatch"
	case ReasonMaxPlayersMismatch:
		return "MaxPlayersMismatch"
	default:
		return "Unknown"
	}
}

// PlayerInfo is the metadata a guest offers about itself in a JoinRequest,
// and that the lobby echoes back in LobbyUpdate.
type PlayerInfo struct {
	Name string
}

// PlayerSlot is one entry in the host's lobby roster.
type PlayerSlot struct {
	Active  bool
	Handle  uint8
	Info    PlayerInfo
	Ready   bool
	Address string
}

// NetplayMetadata is the ROM-derived compatibility fingerprint a guest
// presents and the host checks (§4.I validation order).
type NetplayMetadata struct {
	ConsoleType string
	TickRate    uint8
	MaxPlayers  uint8
	RomHash     uint32
}

func putString(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func getString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", 0, fmt.Errorf("string length truncated at offset %d", offset)
	}
	n := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+n > len(data) {
		return "", 0, fmt.Errorf("string body truncated at offset %d", offset)
	}
	return string(data[offset : offset+n]), offset + n, nil
}

// JoinRequest is the guest→host payload.
type JoinRequest struct {
	Netplay NetplayMetadata
	Info    PlayerInfo
}

// EncodeJoinRequest serializes a JoinRequest with its header.
func EncodeJoinRequest(r JoinRequest) []byte {
	buf := EncodeHeader(MsgJoinRequest)
	buf = putString(buf, r.Netplay.ConsoleType)
	buf = append(buf, r.Netplay.TickRate, r.Netplay.MaxPlayers)
	var hashBuf [4]byte
	binary.LittleEndian.PutUint32(hashBuf[:], r.Netplay.RomHash)
	buf = append(buf, hashBuf[:]...)
	buf = putString(buf, r.Info.Name)
	return buf
}

// DecodeJoinRequest parses a JoinRequest payload (header already verified
// and stripped by the caller via offset HeaderSize).
func DecodeJoinRequest(data []byte) (JoinRequest, error) {
	offset := HeaderSize
	console, offset, err := getString(data, offset)
	if err != nil {
		return JoinRequest{}, err
	}
	if offset+6 > len(data) {
		return JoinRequest{}, fmt.Errorf("join request truncated")
	}
	tickRate := data[offset]
	maxPlayers := data[offset+1]
	romHash := binary.LittleEndian.Uint32(data[offset+2 : offset+6])
	offset += 6
	name, _, err := getString(data, offset)
	if err != nil {
		return JoinRequest{}, err
	}
	return JoinRequest{
		Netplay: NetplayMetadata{ConsoleType: console, TickRate: tickRate, MaxPlayers: maxPlayers, RomHash: romHash},
		Info:    PlayerInfo{Name: name},
	}, nil
}

// JoinAccept is the host→guest payload on success.
type JoinAccept struct {
	Handle uint8
	Lobby  []PlayerSlot
}

// EncodeJoinAccept serializes a JoinAccept with its header.
func EncodeJoinAccept(a JoinAccept) []byte {
	buf := EncodeHeader(MsgJoinAccept)
	buf = append(buf, a.Handle, byte(len(a.Lobby)))
	for _, slot := range a.Lobby {
		buf = encodeSlot(buf, slot)
	}
	return buf
}

// DecodeJoinAccept parses a JoinAccept payload.
func DecodeJoinAccept(data []byte) (JoinAccept, error) {
	if len(data) < HeaderSize+2 {
		return JoinAccept{}, fmt.Errorf("join accept truncated")
	}
	handle := data[HeaderSize]
	count := int(data[HeaderSize+1])
	offset := HeaderSize + 2

	slots := make([]PlayerSlot, 0, count)
	for i := 0; i < count; i++ {
		slot, next, err := decodeSlot(data, offset)
		if err != nil {
			return JoinAccept{}, err
		}
		slots = append(slots, slot)
		offset = next
	}
	return JoinAccept{Handle: handle, Lobby: slots}, nil
}

func encodeSlot(buf []byte, s PlayerSlot) []byte {
	active := byte(0)
	if s.Active {
		active = 1
	}
	ready := byte(0)
	if s.Ready {
		ready = 1
	}
	buf = append(buf, active, s.Handle, ready)
	buf = putString(buf, s.Info.Name)
	buf = putString(buf, s.Address)
	return buf
}

func decodeSlot(data []byte, offset int) (PlayerSlot, int, error) {
	if offset+3 > len(data) {
		return PlayerSlot{}, 0, fmt.Errorf("lobby slot truncated at offset %d", offset)
	}
	active := data[offset] != 0
	handle := data[offset+1]
	ready := data[offset+2] != 0
	offset += 3

	name, offset, err := getString(data, offset)
	if err != nil {
		return PlayerSlot{}, 0, err
	}
	addr, offset, err := getString(data, offset)
	if err != nil {
		return PlayerSlot{}, 0, err
	}
	return PlayerSlot{Active: active, Handle: handle, Ready: ready, Info: PlayerInfo{Name: name}, Address: addr}, offset, nil
}

// JoinReject is the host→guest payload on refusal.
type JoinReject struct {
	Reason JoinRejectReason
}

// EncodeJoinReject serializes a JoinReject with its header.
func EncodeJoinReject(r JoinReject) []byte {
	buf := EncodeHeader(MsgJoinReject)
	return append(buf, byte(r.Reason))
}

// DecodeJoinReject parses a JoinReject payload.
func DecodeJoinReject(data []byte) (JoinReject, error) {
	if len(data) < HeaderSize+1 {
		return JoinReject{}, fmt.Errorf("join reject truncated")
	}
	return JoinReject{Reason: JoinRejectReason(data[HeaderSize])}, nil
}

// LobbyUpdate is the host→guests broadcast of the full lobby roster.
type LobbyUpdate struct {
	Lobby []PlayerSlot
}

// EncodeLobbyUpdate serializes a LobbyUpdate with its header.
func EncodeLobbyUpdate(u LobbyUpdate) []byte {
	buf := EncodeHeader(MsgLobbyUpdate)
	buf = append(buf, byte(len(u.Lobby)))
	for _, slot := range u.Lobby {
		buf = encodeSlot(buf, slot)
	}
	return buf
}

// DecodeLobbyUpdate parses a LobbyUpdate payload.
func DecodeLobbyUpdate(data []byte) (LobbyUpdate, error) {
	if len(data) < HeaderSize+1 {
		return LobbyUpdate{}, fmt.Errorf("lobby update truncated")
	}
	count := int(data[HeaderSize])
	offset := HeaderSize + 1

	slots := make([]PlayerSlot, 0, count)
	for i := 0; i < count; i++ {
		slot, next, err := decodeSlot(data, offset)
		if err != nil {
			return LobbyUpdate{}, err
		}
		slots = append(slots, slot)
		offset = next
	}
	return LobbyUpdate{Lobby: slots}, nil
}

// GuestReady is the guest→host ready-flag toggle.
type GuestReady struct {
	Ready bool
}

// EncodeGuestReady serializes a GuestReady with its header.
func EncodeGuestReady(r GuestReady) []byte {
	buf := EncodeHeader(MsgGuestReady)
	ready := byte(0)
	if r.Ready {
		ready = 1
	}
	return append(buf, ready)
}

// DecodeGuestReady parses a GuestReady payload.
func DecodeGuestReady(data []byte) (GuestReady, error) {
	if len(data) < HeaderSize+1 {
		return GuestReady{}, fmt.Errorf("guest ready truncated")
	}
	return GuestReady{Ready: data[HeaderSize] != 0}, nil
}

// SessionStart is the host→all broadcast that hands off to rollback.
type SessionStart struct {
	RandomSeed uint64
	Players    []PlayerSlot
}

// EncodeSessionStart serializes a SessionStart with its header.
func EncodeSessionStart(s SessionStart) []byte {
	buf := EncodeHeader(MsgSessionStart)
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], s.RandomSeed)
	buf = append(buf, seedBuf[:]...)
	buf = append(buf, byte(len(s.Players)))
	for _, slot := range s.Players {
		buf = encodeSlot(buf, slot)
	}
	return buf
}

// DecodeSessionStart parses a SessionStart payload.
func DecodeSessionStart(data []byte) (SessionStart, error) {
	if len(data) < HeaderSize+9 {
		return SessionStart{}, fmt.Errorf("session start truncated")
	}
	seed := binary.LittleEndian.Uint64(data[HeaderSize : HeaderSize+8])
	count := int(data[HeaderSize+8])
	offset := HeaderSize + 9

	slots := make([]PlayerSlot, 0, count)
	for i := 0; i < count; i++ {
		slot, next, err := decodeSlot(data, offset)
		if err != nil {
			return SessionStart{}, err
		}
		slots = append(slots, slot)
		offset = next
	}
	return SessionStart{RandomSeed: seed, Players: slots}, nil
}

// EncodePunchHello/EncodePunchAck carry no payload beyond the header; UDP
// hole punching only needs the datagram to arrive from the right address.
func EncodePunchHello() []byte { return EncodeHeader(MsgPunchHello) }
func EncodePunchAck() []byte   { return EncodeHeader(MsgPunchAck) }
