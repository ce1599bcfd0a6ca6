package rom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleROM() *ROM {
	code := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00} // fake wasm-ish prefix
	return &ROM{
		Header: Header{
			ID:         "demo.cart",
			Title:      "Demo Cart",
			Author:     "Someone",
			Version:    "1.0.0",
			RenderMode: RenderModeRGBA8,
			MaxPlayers: 2,
			TickRate:   TickRate60,
			ROMHash:    ComputeROMHash(code),
		},
		Code: code,
		Pack: &DataPack{
			Textures: []Texture{{ID: "white", Width: 1, Height: 1, Format: TextureFormatRGBA8, Data: []byte{255, 255, 255, 255}}},
			Sounds:   []Sound{{ID: "beep", Frames: []int16{0, 100, -100, 0}}},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleROM()

	encoded, err := Encode(want)
	require.NoError(t, err)

	got, err := Decode(encoded)
	require.NoError(t, err)

	require.Equal(t, want.Header, got.Header)
	require.Equal(t, want.Code, got.Code)

	reEncoded, err := Encode(got)
	require.NoError(t, err)
	require.Equal(t, encoded, reEncoded, "encode/decode is not idempotent")
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("nope"))
	require.Error(t, err, "expected error for bad magic")
}

func TestDecodeRejectsHashMismatch(t *testing.T) {
	r := sampleROM()
	r.Header.ROMHash ^= 0xFFFFFFFF
	encoded, err := Encode(r)
	require.NoError(t, err)

	_, err = Decode(encoded)
	require.Error(t, err, "expected rom_hash mismatch error")
}

func TestCompatible(t *testing.T) {
	a := Header{TickRate: TickRate60, MaxPlayers: 2, ROMHash: 1}
	b := Header{TickRate: TickRate60, MaxPlayers: 2, ROMHash: 1}
	require.True(t, a.Compatible(b))

	b.ROMHash = 2
	require.False(t, a.Compatible(b), "expected incompatible headers on rom_hash mismatch")
}

func TestDataPackLookupAndHandles(t *testing.T) {
	pack := sampleROM().Pack

	h, ok := pack.LookupTexture("white")
	require.True(t, ok)
	require.Equal(t, Handle(1), h)

	_, ok = pack.LookupTexture("missing")
	require.False(t, ok, "expected miss for unknown texture id")

	mh, ok := pack.LookupMusic("beep")
	require.True(t, ok)
	require.False(t, mh.IsTracker(), "expected sound handle, got tracker-tagged handle")

	pack.Trackers = []Tracker{{ID: "theme", InstrumentSounds: map[uint16]Handle{}}}
	pack.trackerIdx = nil // force re-index after mutating Trackers directly
	th, ok := pack.LookupMusic("theme")
	require.True(t, ok)
	require.True(t, th.IsTracker(), "expected tracker-tagged handle for theme")
	require.Equal(t, Handle(1), th.Index())
}
