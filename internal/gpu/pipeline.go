package gpu

// PipelineKey selects a GPU pipeline object (§4.D). Only one of the
// three shapes is meaningful per Kind; the others are zero.
type PipelineKey struct {
	Kind         CommandKind
	RenderMode   RenderMode
	VertexFormat VertexFormat
	Blend        uint8
	Depth        bool
	Cull         uint8
	Stencil      uint8
}

// RegularKey builds a PipelineKey for a mesh draw.
func RegularKey(renderMode RenderMode, vf VertexFormat, blend uint8, depth bool, cull, stencil uint8) PipelineKey {
	return PipelineKey{Kind: CommandMesh, RenderMode: renderMode, VertexFormat: vf, Blend: blend, Depth: depth, Cull: cull, Stencil: stencil}
}

// QuadKey builds a PipelineKey for batched quad draws.
func QuadKey(blend uint8, depth bool, stencil uint8) PipelineKey {
	return PipelineKey{Kind: CommandQuad, Blend: blend, Depth: depth, Stencil: stencil}
}

// SkyKey builds a PipelineKey for the sky pass.
func SkyKey(stencil uint8) PipelineKey {
	return PipelineKey{Kind: CommandSky, Stencil: stencil}
}

// Backend is the thin seam between pipeline/bind-group caching logic (pure,
// unit-testable) and an actual GPU device. A production build wires this to
// cogentcore/webgpu; tests wire it to a fake that just counts calls. This
// mirrors the host-backend split the pack's renderer examples use to keep
// pipeline-cache logic decoupled from a live device.
type Backend interface {
	CreatePipeline(key PipelineKey) (any, error)
	CreateBindGroup(textures TextureTuple) (any, error)
	CreateFrameBindGroup(hash uint64) (any, error)
}

// PipelineCache maps PipelineKey to a backend-created GPU pipeline object,
// creating lazily on first use (§4.D: "Creation is deferred until
// first use; subsequent draws at the same key reuse the pipeline").
type PipelineCache struct {
	backend   Backend
	pipelines map[PipelineKey]any
}

// NewPipelineCache creates an empty cache bound to a backend.
func NewPipelineCache(backend Backend) *PipelineCache {
	return &PipelineCache{backend: backend, pipelines: make(map[PipelineKey]any)}
}

// Get returns the pipeline for key, creating it via the backend if absent.
func (c *PipelineCache) Get(key PipelineKey) (any, error) {
	if p, ok := c.pipelines[key]; ok {
		return p, nil
	}
	p, err := c.backend.CreatePipeline(key)
	if err != nil {
		return nil, err
	}
	c.pipelines[key] = p
	return p, nil
}

// Len reports how many distinct pipelines have been created.
func (c *PipelineCache) Len() int { return len(c.pipelines) }

// InvalidTextureHandle (zero) marks an unset texture slot, and
// fallbackTextureHandle is a "looked up but missing" sentinel. The two
// bind-group fallbacks themselves (a 1x1 white texture for an unset slot,
// a 16x16 checkerboard for a handle that fails to resolve) are
// whiteTextureHandle and checkerTextureHandle below.
const (
	InvalidTextureHandle  uint32 = 0
	fallbackTextureHandle uint32 = ^uint32(0) // sentinel: "looked up but missing"
)

// ResolveTuple substitutes fallback handles for a raw texture tuple: an
// INVALID (zero) slot becomes the white texture; a slot whose handle
// `exists` reports false becomes the checkerboard.
func ResolveTuple(raw TextureTuple, exists func(uint32) bool) TextureTuple {
	var out TextureTuple
	for i, h := range raw {
		switch {
		case h == InvalidTextureHandle:
			out[i] = whiteTextureHandle
		case !exists(h):
			out[i] = checkerTextureHandle
		default:
			out[i] = h
		}
	}
	return out
}

// Well-known fallback texture handles, allocated once by the resource
// cache owner and never collide with real 1-indexed ROM handles because
// they live in a disjoint high range.
const (
	whiteTextureHandle   uint32 = 0xFFFFFFFE
	checkerTextureHandle uint32 = 0xFFFFFFFD
)

// BindGroupCache maps a resolved texture tuple to a backend bind group.
type BindGroupCache struct {
	backend    Backend
	bindGroups map[TextureTuple]any
}

// NewBindGroupCache creates an empty texture bind-group cache.
func NewBindGroupCache(backend Backend) *BindGroupCache {
	return &BindGroupCache{backend: backend, bindGroups: make(map[TextureTuple]any)}
}

// Get returns the bind group for a resolved texture tuple, creating it if
// absent.
func (c *BindGroupCache) Get(textures TextureTuple) (any, error) {
	if bg, ok := c.bindGroups[textures]; ok {
		return bg, nil
	}
	bg, err := c.backend.CreateBindGroup(textures)
	if err != nil {
		return nil, err
	}
	c.bindGroups[textures] = bg
	return bg, nil
}

// FrameBindGroupCache caches the single frame-wide bind group (storage
// buffer bindings 0-5), rebuilding only when the capacity hash changes
// (§4.D: "its hash combines the capacities of every storage buffer
// plus the current render mode").
type FrameBindGroupCache struct {
	backend   Backend
	lastHash  uint64
	bindGroup any
	valid     bool
}

// NewFrameBindGroupCache creates an empty frame bind-group cache.
func NewFrameBindGroupCache(backend Backend) *FrameBindGroupCache {
	return &FrameBindGroupCache{backend: backend}
}

// Get returns the frame bind group for the given capacity hash, rebuilding
// only when the hash has changed since the last call.
func (c *FrameBindGroupCache) Get(hash uint64) (any, error) {
	if c.valid && hash == c.lastHash {
		return c.bindGroup, nil
	}
	bg, err := c.backend.CreateFrameBindGroup(hash)
	if err != nil {
		return nil, err
	}
	c.bindGroup = bg
	c.lastHash = hash
	c.valid = true
	return bg, nil
}

// CapacityHash combines storage-buffer capacities and the active render
// mode into the frame bind-group cache key.
func CapacityHash(modelCap, viewCap, projCap, shadingCap, boneCap uint32, renderMode RenderMode) uint64 {
	h := uint64(renderMode)
	for _, v := range [5]uint32{modelCap, viewCap, projCap, shadingCap, boneCap} {
		h = h*1099511628211 ^ uint64(v)
	}
	return h
}
