package gpu

// Mat4 is a column-major 4x4 matrix, stored flat for direct upload.
type Mat4 [16]float32

// Identity4 is the identity matrix, used as the implicit "current" value
// before any push_* call (§4.B: "lazy-push on first draw").
func Identity4() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// ShadingState is the GPU-state record FFI setters mutate (§4.B GPU
// state group). It is content-hashed for interning, so it must stay a
// comparable, fixed-size value.
type ShadingState struct {
	Color          [4]float32
	BlendMode      uint8
	DepthTest      bool
	CullMode       uint8
	TextureFilter  uint8
	BoundTextures  TextureTuple
}

// MVPShadingIndices is the combined per-draw index tuple (§9:
// "Combined MVP+Shading state pool with deduplication ... 16 bytes, maps to
// vec4<u32> in WGSL").
type MVPShadingIndices struct {
	Model   uint32
	View    uint32
	Proj    uint32
	Shading uint32
}

// Pool interns content-addressed values of type T: identical values
// (by ==) return the same index. It backs every per-frame dedup table
// (model/view/proj matrices, shading states, MVP+shading tuples).
//
// Frame-scoped: callers must call Clear() at the start of each frame
// (§9: "the intern cache is frame-scoped, cleared in clear_frame").
type Pool[T comparable] struct {
	values []T
	index  map[T]uint32
}

// NewPool creates an empty interning pool.
func NewPool[T comparable]() *Pool[T] {
	return &Pool[T]{index: make(map[T]uint32)}
}

// Intern returns the index of v, inserting it if not already present.
func (p *Pool[T]) Intern(v T) uint32 {
	if idx, ok := p.index[v]; ok {
		return idx
	}
	idx := uint32(len(p.values))
	p.values = append(p.values, v)
	p.index[v] = idx
	return idx
}

// Values returns the interned values in insertion order, ready for bulk
// upload into a storage buffer.
func (p *Pool[T]) Values() []T { return p.values }

// Len reports how many distinct values have been interned this frame.
func (p *Pool[T]) Len() int { return len(p.values) }

// Clear empties the pool for the next frame without shrinking its backing
// arrays.
func (p *Pool[T]) Clear() {
	p.values = p.values[:0]
	for k := range p.index {
		delete(p.index, k)
	}
}

// FFIStaging is the per-tick host-side staging state FFI entries write
// into: current transforms, the current shading state, and the interning
// pools the Frame Renderer drains after render() returns (§4.B, §9).
// It is never part of a rollback snapshot (§9: "NOT serialized for
// rollback - only core GameState is rolled back").
type FFIStaging struct {
	Models   *Pool[Mat4]
	Views    *Pool[Mat4]
	Projs    *Pool[Mat4]
	Shadings *Pool[ShadingState]
	MVPs     *Pool[MVPShadingIndices]

	CurrentModel   Mat4
	CurrentView    Mat4
	CurrentProj    Mat4
	CurrentShading ShadingState

	modelDirty   bool
	viewDirty    bool
	projDirty    bool
	shadingDirty bool
}

// NewFFIStaging builds staging state with identity transforms and default
// shading.
func NewFFIStaging() *FFIStaging {
	return &FFIStaging{
		Models:         NewPool[Mat4](),
		Views:          NewPool[Mat4](),
		Projs:          NewPool[Mat4](),
		Shadings:       NewPool[ShadingState](),
		MVPs:           NewPool[MVPShadingIndices](),
		CurrentModel:   Identity4(),
		CurrentView:    Identity4(),
		CurrentProj:    Identity4(),
		CurrentShading: ShadingState{Color: [4]float32{1, 1, 1, 1}},
	}
}

// SetModel stages a new current model matrix (push_translate / push_rotate_y
// / push_identity all funnel through here).
func (s *FFIStaging) SetModel(m Mat4) {
	s.CurrentModel = m
	s.modelDirty = true
}

func (s *FFIStaging) SetView(m Mat4) {
	s.CurrentView = m
	s.viewDirty = true
}

func (s *FFIStaging) SetProj(m Mat4) {
	s.CurrentProj = m
	s.projDirty = true
}

// MarkShadingDirty flags that a GPU-state setter touched CurrentShading.
func (s *FFIStaging) MarkShadingDirty() {
	s.shadingDirty = true
}

// CurrentMVPShadingIndex interns the current model/view/proj/shading values
// (lazily — only on first use by a draw call, per §4.B) and returns
// the combined tuple's index.
func (s *FFIStaging) CurrentMVPShadingIndex() uint32 {
	m := s.Models.Intern(s.CurrentModel)
	v := s.Views.Intern(s.CurrentView)
	p := s.Projs.Intern(s.CurrentProj)
	sh := s.Shadings.Intern(s.CurrentShading)
	s.modelDirty, s.viewDirty, s.projDirty, s.shadingDirty = false, false, false, false
	return s.MVPs.Intern(MVPShadingIndices{Model: m, View: v, Proj: p, Shading: sh})
}

// ClearFrame resets every interning pool and the dirty flags, but keeps the
// current transform/shading values (they persist across the frame boundary
// per §4.B's "lazy-push" semantics — only the dedup tables are frame-local).
func (s *FFIStaging) ClearFrame() {
	s.Models.Clear()
	s.Views.Clear()
	s.Projs.Clear()
	s.Shadings.Clear()
	s.MVPs.Clear()
	s.modelDirty, s.viewDirty, s.projDirty, s.shadingDirty = false, false, false, false
}
