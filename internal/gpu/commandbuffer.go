// Package gpu implements the Command Buffer, Pipeline & Resource Cache, and
// Frame Renderer (§4.C-E): per-frame draw recording, deduplicated
// transform/shading interning, and the sort-batch-blit render pipeline.
package gpu

// VertexFormat selects which optional per-vertex attributes a draw's bytes
// carry, alongside position (§4.E step 2: "position + optional UV,
// color, normal, skinning").
type VertexFormat uint8

const (
	VertexFormatPosOnly VertexFormat = iota
	VertexFormatPosUV
	VertexFormatPosUVColor
	VertexFormatPosUVColorNormal
	VertexFormatSkinned
	vertexFormatCount
)

// RenderMode mirrors rom.RenderMode without importing the rom package,
// keeping gpu usable from tests without a ROM in hand.
type RenderMode uint8

const (
	RenderModeRGBA8 RenderMode = iota
	RenderModeBC7A
	RenderModeBC7B
	RenderModeBC7C
)

// CommandKind distinguishes the three draw families the Pipeline & Resource
// Cache keys on (§4.D).
type CommandKind uint8

const (
	CommandMesh CommandKind = iota
	CommandQuad
	CommandSky
)

// TextureTuple is the four-slot texture binding a draw samples from.
type TextureTuple [4]uint32

// Command is one recorded draw (§4.C). MVPShadingIndex refers into the
// frame's interned MVP+shading pool; BaseVertex/BaseIndex/IndexCount locate
// the draw's geometry inside the per-format arenas.
type Command struct {
	Kind             CommandKind
	RenderMode       RenderMode
	VertexFormat     VertexFormat
	Viewport         uint8
	StencilMode      uint8
	Depth            bool
	Cull             uint8
	Blend            uint8
	Textures         TextureTuple
	MVPShadingIndex  uint32
	BaseVertex       uint32
	BaseIndex        uint32
	IndexCount       uint32
	InstanceCount    uint32
}

// vertexArena is one vertex-format's append-only byte arenas, rewound
// (not freed) by reset.
type vertexArena struct {
	vertexBytes []byte
	indexBytes  []byte // u16 indices, little-endian pairs
	vertexLen   int
	indexLen    int
}

func (a *vertexArena) reset() {
	a.vertexLen = 0
	a.indexLen = 0
}

// AppendVertices appends raw vertex bytes and returns the base vertex
// offset (in vertices, not bytes) a later draw can reference.
func (a *vertexArena) appendVertices(data []byte, stride int) uint32 {
	base := uint32(a.vertexLen / stride)
	a.vertexBytes = growAppend(a.vertexBytes, a.vertexLen, data)
	a.vertexLen += len(data)
	return base
}

// AppendIndices appends u16 indices and returns the base index offset.
func (a *vertexArena) appendIndices(indices []uint16) uint32 {
	base := uint32(a.indexLen / 2)
	buf := make([]byte, len(indices)*2)
	for i, idx := range indices {
		buf[i*2] = byte(idx)
		buf[i*2+1] = byte(idx >> 8)
	}
	a.indexBytes = growAppend(a.indexBytes, a.indexLen, buf)
	a.indexLen += len(buf)
	return base
}

// growAppend writes src into dst starting at offset off, growing dst's
// capacity (but never shrinking it) as needed. This is the "amortized O(1)
// append without freeing capacity" behavior §4.C requires of reset().
func growAppend(dst []byte, off int, src []byte) []byte {
	need := off + len(src)
	if cap(dst) < need {
		grown := make([]byte, need, nextPow2(need))
		copy(grown, dst[:off])
		dst = grown
	} else if len(dst) < need {
		dst = dst[:need]
	}
	copy(dst[off:need], src)
	return dst
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// CommandBuffer is the per-frame append-only recorder (§4.C). A
// CommandBuffer is reused frame to frame; reset() rewinds it without
// releasing any backing storage.
type CommandBuffer struct {
	Commands []Command
	arenas   [vertexFormatCount]vertexArena
}

// NewCommandBuffer creates an empty command buffer.
func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{}
}

// Reset clears recorded commands and rewinds every vertex-format arena to
// zero length without freeing capacity.
func (b *CommandBuffer) Reset() {
	b.Commands = b.Commands[:0]
	for i := range b.arenas {
		b.arenas[i].reset()
	}
}

// VertexStride returns the packed byte size of one vertex in the given
// format: position (3 floats) plus whichever optional attributes the
// format layers on (§4.E step 2).
func VertexStride(format VertexFormat) int {
	const (
		posBytes    = 3 * 4
		uvBytes     = 2 * 4
		colorBytes  = 4 * 1
		normalBytes = 3 * 4
		skinBytes   = 4*1 + 4*4 // bone indices + weights
	)
	switch format {
	case VertexFormatPosOnly:
		return posBytes
	case VertexFormatPosUV:
		return posBytes + uvBytes
	case VertexFormatPosUVColor:
		return posBytes + uvBytes + colorBytes
	case VertexFormatPosUVColorNormal:
		return posBytes + uvBytes + colorBytes + normalBytes
	case VertexFormatSkinned:
		return posBytes + uvBytes + colorBytes + normalBytes + skinBytes
	default:
		return posBytes
	}
}

// AppendVertices stages vertex bytes for the given format and returns the
// base vertex offset.
func (b *CommandBuffer) AppendVertices(format VertexFormat, data []byte, stride int) uint32 {
	return b.arenas[format].appendVertices(data, stride)
}

// AppendIndices stages u16 indices for the given format and returns the
// base index offset.
func (b *CommandBuffer) AppendIndices(format VertexFormat, indices []uint16) uint32 {
	return b.arenas[format].appendIndices(indices)
}

// VertexBytes returns the currently staged vertex bytes for a format
// (read-only view; length reflects the live write cursor, not capacity).
func (b *CommandBuffer) VertexBytes(format VertexFormat) []byte {
	a := &b.arenas[format]
	return a.vertexBytes[:a.vertexLen]
}

// IndexBytes returns the currently staged index bytes for a format.
func (b *CommandBuffer) IndexBytes(format VertexFormat) []byte {
	a := &b.arenas[format]
	return a.indexBytes[:a.indexLen]
}

// Append records a draw command.
func (b *CommandBuffer) Append(c Command) {
	b.Commands = append(b.Commands, c)
}

// Empty reports whether the buffer holds no draw commands (§4.E step 1
// "early out").
func (b *CommandBuffer) Empty() bool { return len(b.Commands) == 0 }
