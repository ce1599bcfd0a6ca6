package rollback

import (
	"encoding/binary"
	"fmt"

	"corewave/internal/inputring"
)

// InputPacketMagic tags UDP datagrams carrying rollback input traffic,
// distinct from the NCHS handshake magic (§4.H Transport).
var InputPacketMagic = [4]byte{'C', 'W', 'I', 'P'}

// FrameSample is one player's input at one frame, as carried on the wire.
type FrameSample struct {
	Frame  uint32
	Player Handle
	Sample inputring.Sample
}

// EncodeInputPacket lays out: magic(4) + session_id(u32) + sender_handle(u8)
// + frame(u32) + count(u8) + count*(player_handle u8, buttons u16,
// stick_x i8, stick_y i8), matching §6's input packet format. history
// should hold the most recent HistoryDepth frames for the sender's local
// players, newest last; frame is the newest frame in history.
func EncodeInputPacket(sessionID uint32, sender Handle, frame uint32, history []FrameSample) []byte {
	buf := make([]byte, 0, 4+4+1+4+1+len(history)*5)
	buf = append(buf, InputPacketMagic[:]...)

	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], sessionID)
	buf = append(buf, tmp[:]...)

	buf = append(buf, byte(sender))

	binary.LittleEndian.PutUint32(tmp[:], frame)
	buf = append(buf, tmp[:]...)

	buf = append(buf, byte(len(history)))
	for _, fs := range history {
		buf = append(buf, byte(fs.Player))
		var stickBuf [2]byte
		binary.LittleEndian.PutUint16(stickBuf[:], fs.Sample.Buttons)
		buf = append(buf, stickBuf[:]...)
		buf = append(buf, byte(fs.Sample.StickX), byte(fs.Sample.StickY))
	}
	return buf
}

// DecodedInputPacket is the parsed form of an EncodeInputPacket payload.
type DecodedInputPacket struct {
	SessionID uint32
	Sender    Handle
	Frame     uint32
	History   []FrameSample
}

// DecodeInputPacket parses a datagram produced by EncodeInputPacket, back to
// front: each history entry's frame is derived as Frame-offset, oldest
// first in the returned slice matching the order they were appended.
func DecodeInputPacket(data []byte) (DecodedInputPacket, error) {
	if len(data) < 4+4+1+4+1 {
		return DecodedInputPacket{}, fmt.Errorf("input packet too short: %d bytes", len(data))
	}
	if [4]byte{data[0], data[1], data[2], data[3]} != InputPacketMagic {
		return DecodedInputPacket{}, fmt.Errorf("bad input packet magic")
	}

	out := DecodedInputPacket{}
	out.SessionID = binary.LittleEndian.Uint32(data[4:8])
	out.Sender = Handle(data[8])
	out.Frame = binary.LittleEndian.Uint32(data[9:13])
	count := int(data[13])

	offset := 14
	for i := 0; i < count; i++ {
		if offset+5 > len(data) {
			return DecodedInputPacket{}, fmt.Errorf("input packet truncated at history entry %d", i)
		}
		player := Handle(data[offset])
		buttons := binary.LittleEndian.Uint16(data[offset+1 : offset+3])
		stickX := int8(data[offset+3])
		stickY := int8(data[offset+4])
		frameForEntry := out.Frame - uint32(count-1-i)
		out.History = append(out.History, FrameSample{
			Frame:  frameForEntry,
			Player: player,
			Sample: inputring.Sample{Buttons: buttons, StickX: stickX, StickY: stickY},
		})
		offset += 5
	}
	return out, nil
}
