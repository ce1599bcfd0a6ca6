// Package rom implements the ROM container format (§3, §6): an
// immutable, self-describing binary with a metadata header, a sandbox code
// section, and an optional data pack.
package rom

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Magic is the four-byte prefix every ROM file begins with.
const Magic = "CWRM"

// FormatVersion is the only wire version this implementation emits or
// accepts.
const FormatVersion = 1

// RenderMode selects the texture-format family the GPU layer uses for this
// ROM's data pack (§9 open question: mode 0 is RGBA8, 1-3 are BC7).
type RenderMode uint8

const (
	RenderModeRGBA8 RenderMode = iota
	RenderModeBC7A
	RenderModeBC7B
	RenderModeBC7C
)

// TickRate is the fixed simulation rate a ROM runs at.
type TickRate uint8

const (
	TickRate60 TickRate = iota
	TickRate120
)

// Hz returns the tick rate in ticks per second.
func (t TickRate) Hz() float64 {
	if t == TickRate120 {
		return 120
	}
	return 60
}

// Header is the ROM's self-describing metadata (§3).
type Header struct {
	ID         string
	Title      string
	Author     string
	Version    string
	RenderMode RenderMode
	MaxPlayers uint8
	TickRate   TickRate
	ROMHash    uint32
}

// ROM is the fully parsed, immutable ROM image.
type ROM struct {
	Header Header
	Code   []byte
	Pack   *DataPack
}

// Compatible reports whether two ROMs may share a session, per §3:
// console type (implicit — single console type, always true here), tick
// rate, max_players, and rom_hash must all match.
func (h Header) Compatible(other Header) bool {
	return h.TickRate == other.TickRate &&
		h.MaxPlayers == other.MaxPlayers &&
		h.ROMHash == other.ROMHash
}

// ComputeROMHash fingerprints the code section. A 32-bit CRC is adequate
// per §9 ("collisions astronomically unlikely; widening deferred").
func ComputeROMHash(code []byte) uint32 {
	return crc32.ChecksumIEEE(code)
}

func putString(buf *[]byte, s string) {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	*buf = append(*buf, lenBuf[:]...)
	*buf = append(*buf, s...)
}

func getString(data []byte, off int) (string, int, error) {
	if off+2 > len(data) {
		return "", off, fmt.Errorf("truncated string length at offset %d", off)
	}
	n := int(binary.LittleEndian.Uint16(data[off : off+2]))
	off += 2
	if off+n > len(data) {
		return "", off, fmt.Errorf("truncated string body at offset %d", off)
	}
	return string(data[off : off+n]), off + n, nil
}

// Encode serializes a ROM to its binary wire format (§6).
func Encode(r *ROM) ([]byte, error) {
	if r.Header.MaxPlayers == 0 || r.Header.MaxPlayers > 4 {
		return nil, fmt.Errorf("invalid max_players: %d", r.Header.MaxPlayers)
	}

	var buf []byte
	buf = append(buf, Magic...)
	buf = append(buf, FormatVersion)

	putString(&buf, r.Header.ID)
	putString(&buf, r.Header.Title)
	putString(&buf, r.Header.Author)
	putString(&buf, r.Header.Version)
	buf = append(buf, byte(r.Header.RenderMode))
	buf = append(buf, r.Header.MaxPlayers)
	buf = append(buf, byte(r.Header.TickRate))

	var hashBuf [4]byte
	binary.LittleEndian.PutUint32(hashBuf[:], r.Header.ROMHash)
	buf = append(buf, hashBuf[:]...)

	var codeLenBuf [4]byte
	binary.LittleEndian.PutUint32(codeLenBuf[:], uint32(len(r.Code)))
	buf = append(buf, codeLenBuf[:]...)
	buf = append(buf, r.Code...)

	if r.Pack != nil {
		buf = append(buf, 1)
		packBytes, err := encodeDataPack(r.Pack)
		if err != nil {
			return nil, fmt.Errorf("encode data pack: %w", err)
		}
		var packLenBuf [4]byte
		binary.LittleEndian.PutUint32(packLenBuf[:], uint32(len(packBytes)))
		buf = append(buf, packLenBuf[:]...)
		buf = append(buf, packBytes...)
	} else {
		buf = append(buf, 0)
	}

	return buf, nil
}

// Decode parses a ROM from its binary wire format, validating structural
// invariants as it goes (§6: "packs are validated on load").
func Decode(data []byte) (*ROM, error) {
	if len(data) < 5 || string(data[0:4]) != Magic {
		return nil, fmt.Errorf("invalid ROM magic")
	}
	version := data[4]
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported ROM format version %d", version)
	}

	off := 5
	var h Header
	var err error

	h.ID, off, err = getString(data, off)
	if err != nil {
		return nil, err
	}
	h.Title, off, err = getString(data, off)
	if err != nil {
		return nil, err
	}
	h.Author, off, err = getString(data, off)
	if err != nil {
		return nil, err
	}
	h.Version, off, err = getString(data, off)
	if err != nil {
		return nil, err
	}

	if off+1 > len(data) {
		return nil, fmt.Errorf("truncated header: render_mode")
	}
	h.RenderMode = RenderMode(data[off])
	off++

	if off+1 > len(data) {
		return nil, fmt.Errorf("truncated header: max_players")
	}
	h.MaxPlayers = data[off]
	off++
	if h.MaxPlayers == 0 || h.MaxPlayers > 4 {
		return nil, fmt.Errorf("invalid max_players: %d", h.MaxPlayers)
	}

	if off+1 > len(data) {
		return nil, fmt.Errorf("truncated header: tick_rate")
	}
	h.TickRate = TickRate(data[off])
	off++

	if off+4 > len(data) {
		return nil, fmt.Errorf("truncated header: rom_hash")
	}
	h.ROMHash = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4

	if off+4 > len(data) {
		return nil, fmt.Errorf("truncated code length")
	}
	codeLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+codeLen > len(data) {
		return nil, fmt.Errorf("truncated code section: want %d bytes", codeLen)
	}
	code := make([]byte, codeLen)
	copy(code, data[off:off+codeLen])
	off += codeLen

	if computed := ComputeROMHash(code); computed != h.ROMHash {
		return nil, fmt.Errorf("rom_hash mismatch: header says 0x%08X, code hashes to 0x%08X", h.ROMHash, computed)
	}

	r := &ROM{Header: h, Code: code}

	if off+1 > len(data) {
		return nil, fmt.Errorf("truncated data-pack presence flag")
	}
	hasPack := data[off]
	off++

	if hasPack == 1 {
		if off+4 > len(data) {
			return nil, fmt.Errorf("truncated data-pack length")
		}
		packLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if off+packLen > len(data) {
			return nil, fmt.Errorf("truncated data-pack section: want %d bytes", packLen)
		}
		pack, err := decodeDataPack(data[off : off+packLen])
		if err != nil {
			return nil, fmt.Errorf("decode data pack: %w", err)
		}
		r.Pack = pack
	}

	return r, nil
}
