package rom

import (
	"encoding/binary"
	"fmt"
	"math"
)

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

// TextureFormat tags how a texture's pixel data is encoded.
type TextureFormat uint8

const (
	TextureFormatRGBA8 TextureFormat = iota
	TextureFormatBC7
)

// Handle is a 1-indexed reference into a data pack. Zero means
// "invalid/none" (§3). Handles returned by LookupMusic for the unified music
// API (sound_play / music_play) have their high bit set when they name a
// tracker module rather than a raw sound, so the two handle spaces never
// collide.
type Handle uint16

// InvalidHandle is the zero handle.
const InvalidHandle Handle = 0

const trackerHandleBit Handle = 0x8000

// IsTracker reports whether a unified music handle names a tracker module.
func (h Handle) IsTracker() bool { return h&trackerHandleBit != 0 }

// AsTrackerHandle sets the tracker bit on a plain 1-indexed handle.
func (h Handle) AsTrackerHandle() Handle { return h | trackerHandleBit }

// Index returns the handle's underlying 1-indexed slot, stripping the
// tracker bit if present.
func (h Handle) Index() Handle { return h &^ trackerHandleBit }

// Texture is a GPU-ready image asset.
type Texture struct {
	ID     string
	Width  uint16
	Height uint16
	Format TextureFormat
	Data   []byte
}

// Mesh is packed vertex/index data ready for upload. FormatFlags encodes
// which optional attributes (UV, color, normal, skinning) the vertex bytes
// carry, mirroring the Frame Renderer's per-format packing (§4.E).
type Mesh struct {
	ID          string
	FormatFlags uint8
	VertexData  []byte
	Indices     []uint32
}

// Skeleton holds one inverse-bind matrix (3x4, row-major) per bone.
type Skeleton struct {
	ID       string
	BoneInvBind [][12]float32
}

// KeyframeSet is bone-count x frame-count animation data, 16 bytes per
// bone per frame (a compressed pos+rot+scale or dual-quaternion sample;
// the sandbox interprets the bytes, the pack just carries them).
type KeyframeSet struct {
	ID         string
	BoneCount  uint16
	FrameCount uint16
	Data       []byte
}

// GlyphMetric is one character's placement within a font atlas.
type GlyphMetric struct {
	Rune              rune
	X, Y, W, H        uint16
	AdvanceX, OffsetX int16
	OffsetY           int16
}

// Font is a bitmap atlas plus per-glyph metrics.
type Font struct {
	ID      string
	Atlas   Texture
	Glyphs  []GlyphMetric
}

// Sound is 22050Hz mono 16-bit PCM (§3).
type Sound struct {
	ID     string
	Frames []int16
}

// Tracker is pattern data for the XM-like module format, plus a mapping
// from in-module instrument index to a Sound handle (decoding the pattern
// data itself is out of scope per §1 — treated as a pure function
// owned by an external collaborator).
type Tracker struct {
	ID               string
	PatternData      []byte
	InstrumentSounds map[uint16]Handle
}

// RawBlob is an opaque byte asset.
type RawBlob struct {
	ID   string
	Data []byte
}

// DataPack is the immutable, GPU-ready asset bundle a ROM carries (§3).
// Lookup builds a lazy per-kind hash index on first use.
type DataPack struct {
	Textures  []Texture
	Meshes    []Mesh
	Skeletons []Skeleton
	Keyframes []KeyframeSet
	Fonts     []Font
	Sounds    []Sound
	Trackers  []Tracker
	Raw       []RawBlob

	textureIdx  map[string]Handle
	meshIdx     map[string]Handle
	skeletonIdx map[string]Handle
	keyframeIdx map[string]Handle
	fontIdx     map[string]Handle
	soundIdx    map[string]Handle
	trackerIdx  map[string]Handle
	rawIdx      map[string]Handle
}

func lookup[T any](cache *map[string]Handle, items []T, id func(T) string, key string) (Handle, bool) {
	if *cache == nil {
		m := make(map[string]Handle, len(items))
		for i, it := range items {
			m[id(it)] = Handle(i + 1)
		}
		*cache = m
	}
	h, ok := (*cache)[key]
	return h, ok
}

func (p *DataPack) LookupTexture(id string) (Handle, bool) {
	return lookup(&p.textureIdx, p.Textures, func(t Texture) string { return t.ID }, id)
}

func (p *DataPack) LookupMesh(id string) (Handle, bool) {
	return lookup(&p.meshIdx, p.Meshes, func(m Mesh) string { return m.ID }, id)
}

func (p *DataPack) LookupSkeleton(id string) (Handle, bool) {
	return lookup(&p.skeletonIdx, p.Skeletons, func(s Skeleton) string { return s.ID }, id)
}

func (p *DataPack) LookupKeyframes(id string) (Handle, bool) {
	return lookup(&p.keyframeIdx, p.Keyframes, func(k KeyframeSet) string { return k.ID }, id)
}

func (p *DataPack) LookupFont(id string) (Handle, bool) {
	return lookup(&p.fontIdx, p.Fonts, func(f Font) string { return f.ID }, id)
}

func (p *DataPack) LookupSound(id string) (Handle, bool) {
	return lookup(&p.soundIdx, p.Sounds, func(s Sound) string { return s.ID }, id)
}

// LookupMusic resolves an identifier against sounds first, then trackers,
// returning a handle tagged for the unified music API (§3).
func (p *DataPack) LookupMusic(id string) (Handle, bool) {
	if h, ok := p.LookupSound(id); ok {
		return h, true
	}
	if h, ok := lookup(&p.trackerIdx, p.Trackers, func(t Tracker) string { return t.ID }, id); ok {
		return h.AsTrackerHandle(), true
	}
	return InvalidHandle, false
}

func (p *DataPack) LookupRaw(id string) (Handle, bool) {
	return lookup(&p.rawIdx, p.Raw, func(r RawBlob) string { return r.ID }, id)
}

// Texture resolves a handle to its asset, or false if out of range.
func (p *DataPack) Texture(h Handle) (Texture, bool) {
	if h == InvalidHandle || int(h) > len(p.Textures) {
		return Texture{}, false
	}
	return p.Textures[h-1], true
}

func (p *DataPack) Mesh(h Handle) (Mesh, bool) {
	if h == InvalidHandle || int(h) > len(p.Meshes) {
		return Mesh{}, false
	}
	return p.Meshes[h-1], true
}

func (p *DataPack) Sound(h Handle) (Sound, bool) {
	if h == InvalidHandle || int(h) > len(p.Sounds) {
		return Sound{}, false
	}
	return p.Sounds[h-1], true
}

func (p *DataPack) Tracker(h Handle) (Tracker, bool) {
	idx := h.Index()
	if idx == InvalidHandle || int(idx) > len(p.Trackers) {
		return Tracker{}, false
	}
	return p.Trackers[idx-1], true
}

// --- wire encoding ---

func putBytes(buf *[]byte, b []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	*buf = append(*buf, lenBuf[:]...)
	*buf = append(*buf, b...)
}

func getBytes(data []byte, off int) ([]byte, int, error) {
	if off+4 > len(data) {
		return nil, off, fmt.Errorf("truncated byte-block length at %d", off)
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+n > len(data) {
		return nil, off, fmt.Errorf("truncated byte-block body at %d (want %d bytes)", off, n)
	}
	return data[off : off+n], off + n, nil
}

func encodeDataPack(p *DataPack) ([]byte, error) {
	var buf []byte

	putUint32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}

	putUint32(uint32(len(p.Textures)))
	for _, t := range p.Textures {
		var rec []byte
		putString(&rec, t.ID)
		var dims [5]byte
		binary.LittleEndian.PutUint16(dims[0:2], t.Width)
		binary.LittleEndian.PutUint16(dims[2:4], t.Height)
		dims[4] = byte(t.Format)
		rec = append(rec, dims[:]...)
		expected := int(t.Width) * int(t.Height) * 4
		if t.Format == TextureFormatBC7 {
			expected = ((int(t.Width) + 3) / 4) * ((int(t.Height) + 3) / 4) * 16
		}
		if len(t.Data) != expected && t.Format == TextureFormatRGBA8 {
			return nil, fmt.Errorf("texture %q: data size %d does not match %dx%d RGBA8", t.ID, len(t.Data), t.Width, t.Height)
		}
		putBytes(&rec, t.Data)
		putBytes(&buf, rec)
	}

	putUint32(uint32(len(p.Meshes)))
	for _, m := range p.Meshes {
		var rec []byte
		putString(&rec, m.ID)
		rec = append(rec, m.FormatFlags)
		putBytes(&rec, m.VertexData)
		idxBytes := make([]byte, len(m.Indices)*4)
		for i, idx := range m.Indices {
			binary.LittleEndian.PutUint32(idxBytes[i*4:i*4+4], idx)
		}
		putBytes(&rec, idxBytes)
		putBytes(&buf, rec)
	}

	putUint32(uint32(len(p.Skeletons)))
	for _, s := range p.Skeletons {
		var rec []byte
		putString(&rec, s.ID)
		var count [2]byte
		binary.LittleEndian.PutUint16(count[:], uint16(len(s.BoneInvBind)))
		rec = append(rec, count[:]...)
		for _, m := range s.BoneInvBind {
			for _, f := range m {
				var fb [4]byte
				binary.LittleEndian.PutUint32(fb[:], float32bits(f))
				rec = append(rec, fb[:]...)
			}
		}
		putBytes(&buf, rec)
	}

	putUint32(uint32(len(p.Keyframes)))
	for _, k := range p.Keyframes {
		var rec []byte
		putString(&rec, k.ID)
		var counts [4]byte
		binary.LittleEndian.PutUint16(counts[0:2], k.BoneCount)
		binary.LittleEndian.PutUint16(counts[2:4], k.FrameCount)
		rec = append(rec, counts[:]...)
		expected := int(k.BoneCount) * int(k.FrameCount) * 16
		if len(k.Data) != expected {
			return nil, fmt.Errorf("keyframes %q: data size %d does not match bones*frames*16=%d", k.ID, len(k.Data), expected)
		}
		putBytes(&rec, k.Data)
		putBytes(&buf, rec)
	}

	putUint32(uint32(len(p.Fonts)))
	for _, f := range p.Fonts {
		var rec []byte
		putString(&rec, f.ID)
		putString(&rec, f.Atlas.ID)
		var dims [5]byte
		binary.LittleEndian.PutUint16(dims[0:2], f.Atlas.Width)
		binary.LittleEndian.PutUint16(dims[2:4], f.Atlas.Height)
		dims[4] = byte(f.Atlas.Format)
		rec = append(rec, dims[:]...)
		putBytes(&rec, f.Atlas.Data)
		var glyphCount [2]byte
		binary.LittleEndian.PutUint16(glyphCount[:], uint16(len(f.Glyphs)))
		rec = append(rec, glyphCount[:]...)
		for _, g := range f.Glyphs {
			var gb [14]byte
			binary.LittleEndian.PutUint32(gb[0:4], uint32(g.Rune))
			binary.LittleEndian.PutUint16(gb[4:6], g.X)
			binary.LittleEndian.PutUint16(gb[6:8], g.Y)
			binary.LittleEndian.PutUint16(gb[8:10], g.W)
			binary.LittleEndian.PutUint16(gb[10:12], g.H)
			binary.LittleEndian.PutUint16(gb[12:14], uint16(g.AdvanceX))
			rec = append(rec, gb[:]...)
		}
		putBytes(&buf, rec)
	}

	putUint32(uint32(len(p.Sounds)))
	for _, s := range p.Sounds {
		var rec []byte
		putString(&rec, s.ID)
		pcm := make([]byte, len(s.Frames)*2)
		for i, f := range s.Frames {
			binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(f))
		}
		putBytes(&rec, pcm)
		putBytes(&buf, rec)
	}

	putUint32(uint32(len(p.Trackers)))
	for _, t := range p.Trackers {
		var rec []byte
		putString(&rec, t.ID)
		putBytes(&rec, t.PatternData)
		var mapCount [2]byte
		binary.LittleEndian.PutUint16(mapCount[:], uint16(len(t.InstrumentSounds)))
		rec = append(rec, mapCount[:]...)
		for inst, snd := range t.InstrumentSounds {
			var e [4]byte
			binary.LittleEndian.PutUint16(e[0:2], inst)
			binary.LittleEndian.PutUint16(e[2:4], uint16(snd))
			rec = append(rec, e[:]...)
		}
		putBytes(&buf, rec)
	}

	putUint32(uint32(len(p.Raw)))
	for _, r := range p.Raw {
		var rec []byte
		putString(&rec, r.ID)
		putBytes(&rec, r.Data)
		putBytes(&buf, rec)
	}

	return buf, nil
}

func decodeDataPack(data []byte) (*DataPack, error) {
	p := &DataPack{}
	off := 0

	readCount := func() (int, error) {
		if off+4 > len(data) {
			return 0, fmt.Errorf("truncated record count at %d", off)
		}
		n := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		return n, nil
	}

	n, err := readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		rec, next, err := getBytes(data, off)
		if err != nil {
			return nil, fmt.Errorf("texture %d: %w", i, err)
		}
		off = next
		ro := 0
		id, ro, err := getString(rec, ro)
		if err != nil {
			return nil, err
		}
		if ro+5 > len(rec) {
			return nil, fmt.Errorf("texture %q: truncated dims", id)
		}
		w := binary.LittleEndian.Uint16(rec[ro : ro+2])
		h := binary.LittleEndian.Uint16(rec[ro+2 : ro+4])
		format := TextureFormat(rec[ro+4])
		ro += 5
		pix, _, err := getBytes(rec, ro)
		if err != nil {
			return nil, err
		}
		p.Textures = append(p.Textures, Texture{ID: id, Width: w, Height: h, Format: format, Data: append([]byte(nil), pix...)})
	}

	n, err = readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		rec, next, err := getBytes(data, off)
		if err != nil {
			return nil, fmt.Errorf("mesh %d: %w", i, err)
		}
		off = next
		ro := 0
		id, ro, err := getString(rec, ro)
		if err != nil {
			return nil, err
		}
		if ro+1 > len(rec) {
			return nil, fmt.Errorf("mesh %q: truncated format flags", id)
		}
		flags := rec[ro]
		ro++
		vdata, ro2, err := getBytes(rec, ro)
		if err != nil {
			return nil, err
		}
		ro = ro2
		idxBytes, _, err := getBytes(rec, ro)
		if err != nil {
			return nil, err
		}
		if len(idxBytes)%4 != 0 {
			return nil, fmt.Errorf("mesh %q: malformed index array", id)
		}
		indices := make([]uint32, len(idxBytes)/4)
		for j := range indices {
			indices[j] = binary.LittleEndian.Uint32(idxBytes[j*4 : j*4+4])
		}
		p.Meshes = append(p.Meshes, Mesh{ID: id, FormatFlags: flags, VertexData: append([]byte(nil), vdata...), Indices: indices})
	}

	n, err = readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		rec, next, err := getBytes(data, off)
		if err != nil {
			return nil, fmt.Errorf("skeleton %d: %w", i, err)
		}
		off = next
		ro := 0
		id, ro, err := getString(rec, ro)
		if err != nil {
			return nil, err
		}
		if ro+2 > len(rec) {
			return nil, fmt.Errorf("skeleton %q: truncated bone count", id)
		}
		count := int(binary.LittleEndian.Uint16(rec[ro : ro+2]))
		ro += 2
		bones := make([][12]float32, count)
		for b := 0; b < count; b++ {
			var m [12]float32
			for f := 0; f < 12; f++ {
				if ro+4 > len(rec) {
					return nil, fmt.Errorf("skeleton %q: truncated matrix data", id)
				}
				m[f] = float32frombits(binary.LittleEndian.Uint32(rec[ro : ro+4]))
				ro += 4
			}
			bones[b] = m
		}
		p.Skeletons = append(p.Skeletons, Skeleton{ID: id, BoneInvBind: bones})
	}

	n, err = readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		rec, next, err := getBytes(data, off)
		if err != nil {
			return nil, fmt.Errorf("keyframes %d: %w", i, err)
		}
		off = next
		ro := 0
		id, ro, err := getString(rec, ro)
		if err != nil {
			return nil, err
		}
		if ro+4 > len(rec) {
			return nil, fmt.Errorf("keyframes %q: truncated counts", id)
		}
		boneCount := binary.LittleEndian.Uint16(rec[ro : ro+2])
		frameCount := binary.LittleEndian.Uint16(rec[ro+2 : ro+4])
		ro += 4
		kdata, _, err := getBytes(rec, ro)
		if err != nil {
			return nil, err
		}
		p.Keyframes = append(p.Keyframes, KeyframeSet{ID: id, BoneCount: boneCount, FrameCount: frameCount, Data: append([]byte(nil), kdata...)})
	}

	n, err = readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		rec, next, err := getBytes(data, off)
		if err != nil {
			return nil, fmt.Errorf("font %d: %w", i, err)
		}
		off = next
		ro := 0
		id, ro, err := getString(rec, ro)
		if err != nil {
			return nil, err
		}
		atlasID, ro, err := getString(rec, ro)
		if err != nil {
			return nil, err
		}
		if ro+5 > len(rec) {
			return nil, fmt.Errorf("font %q: truncated atlas dims", id)
		}
		w := binary.LittleEndian.Uint16(rec[ro : ro+2])
		h := binary.LittleEndian.Uint16(rec[ro+2 : ro+4])
		format := TextureFormat(rec[ro+4])
		ro += 5
		pix, ro2, err := getBytes(rec, ro)
		if err != nil {
			return nil, err
		}
		ro = ro2
		if ro+2 > len(rec) {
			return nil, fmt.Errorf("font %q: truncated glyph count", id)
		}
		glyphCount := int(binary.LittleEndian.Uint16(rec[ro : ro+2]))
		ro += 2
		glyphs := make([]GlyphMetric, glyphCount)
		for g := 0; g < glyphCount; g++ {
			if ro+14 > len(rec) {
				return nil, fmt.Errorf("font %q: truncated glyph record", id)
			}
			glyphs[g] = GlyphMetric{
				Rune:     rune(binary.LittleEndian.Uint32(rec[ro : ro+4])),
				X:        binary.LittleEndian.Uint16(rec[ro+4 : ro+6]),
				Y:        binary.LittleEndian.Uint16(rec[ro+6 : ro+8]),
				W:        binary.LittleEndian.Uint16(rec[ro+8 : ro+10]),
				H:        binary.LittleEndian.Uint16(rec[ro+10 : ro+12]),
				AdvanceX: int16(binary.LittleEndian.Uint16(rec[ro+12 : ro+14])),
			}
			ro += 14
		}
		p.Fonts = append(p.Fonts, Font{
			ID:     id,
			Atlas:  Texture{ID: atlasID, Width: w, Height: h, Format: format, Data: append([]byte(nil), pix...)},
			Glyphs: glyphs,
		})
	}

	n, err = readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		rec, next, err := getBytes(data, off)
		if err != nil {
			return nil, fmt.Errorf("sound %d: %w", i, err)
		}
		off = next
		ro := 0
		id, ro, err := getString(rec, ro)
		if err != nil {
			return nil, err
		}
		pcm, _, err := getBytes(rec, ro)
		if err != nil {
			return nil, err
		}
		if len(pcm)%2 != 0 {
			return nil, fmt.Errorf("sound %q: odd PCM byte length", id)
		}
		frames := make([]int16, len(pcm)/2)
		for j := range frames {
			frames[j] = int16(binary.LittleEndian.Uint16(pcm[j*2 : j*2+2]))
		}
		p.Sounds = append(p.Sounds, Sound{ID: id, Frames: frames})
	}

	n, err = readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		rec, next, err := getBytes(data, off)
		if err != nil {
			return nil, fmt.Errorf("tracker %d: %w", i, err)
		}
		off = next
		ro := 0
		id, ro, err := getString(rec, ro)
		if err != nil {
			return nil, err
		}
		pattern, ro2, err := getBytes(rec, ro)
		if err != nil {
			return nil, err
		}
		ro = ro2
		if ro+2 > len(rec) {
			return nil, fmt.Errorf("tracker %q: truncated map count", id)
		}
		mapCount := int(binary.LittleEndian.Uint16(rec[ro : ro+2]))
		ro += 2
		mapping := make(map[uint16]Handle, mapCount)
		for m := 0; m < mapCount; m++ {
			if ro+4 > len(rec) {
				return nil, fmt.Errorf("tracker %q: truncated map entry", id)
			}
			inst := binary.LittleEndian.Uint16(rec[ro : ro+2])
			snd := binary.LittleEndian.Uint16(rec[ro+2 : ro+4])
			mapping[inst] = Handle(snd)
			ro += 4
		}
		p.Trackers = append(p.Trackers, Tracker{ID: id, PatternData: append([]byte(nil), pattern...), InstrumentSounds: mapping})
	}

	n, err = readCount()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		rec, next, err := getBytes(data, off)
		if err != nil {
			return nil, fmt.Errorf("raw blob %d: %w", i, err)
		}
		off = next
		ro := 0
		id, ro, err := getString(rec, ro)
		if err != nil {
			return nil, err
		}
		blob, _, err := getBytes(rec, ro)
		if err != nil {
			return nil, err
		}
		p.Raw = append(p.Raw, RawBlob{ID: id, Data: append([]byte(nil), blob...)})
	}

	return p, nil
}
