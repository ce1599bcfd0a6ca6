package gpu

import "testing"

type fakeBackend struct {
	pipelineCalls  int
	bindGroupCalls int
	frameBindCalls int
}

func (f *fakeBackend) CreatePipeline(key PipelineKey) (any, error) {
	f.pipelineCalls++
	return key, nil
}

func (f *fakeBackend) CreateBindGroup(textures TextureTuple) (any, error) {
	f.bindGroupCalls++
	return textures, nil
}

func (f *fakeBackend) CreateFrameBindGroup(hash uint64) (any, error) {
	f.frameBindCalls++
	return hash, nil
}

func TestCommandBufferResetRewindsWithoutFreeing(t *testing.T) {
	buf := NewCommandBuffer()
	data := make([]byte, 64)
	buf.AppendVertices(VertexFormatPosUV, data, 12)
	buf.Append(Command{Kind: CommandMesh})

	if buf.Empty() {
		t.Fatalf("expected non-empty buffer after append")
	}

	capBefore := cap(buf.arenas[VertexFormatPosUV].vertexBytes)
	buf.Reset()

	if !buf.Empty() {
		t.Fatalf("expected empty buffer after reset")
	}
	if len(buf.VertexBytes(VertexFormatPosUV)) != 0 {
		t.Fatalf("expected zero-length vertex view after reset")
	}
	if cap(buf.arenas[VertexFormatPosUV].vertexBytes) < capBefore {
		t.Fatalf("reset must not shrink arena capacity")
	}
}

func TestVertexStrideGrowsWithAttributes(t *testing.T) {
	prev := 0
	for _, f := range []VertexFormat{VertexFormatPosOnly, VertexFormatPosUV, VertexFormatPosUVColor, VertexFormatPosUVColorNormal, VertexFormatSkinned} {
		got := VertexStride(f)
		if got <= prev {
			t.Fatalf("VertexStride(%v) = %d, want more than previous format's %d", f, got, prev)
		}
		prev = got
	}
}

func TestPoolInterningDedupes(t *testing.T) {
	p := NewPool[Mat4]()
	a := p.Intern(Identity4())
	b := p.Intern(Identity4())
	if a != b {
		t.Fatalf("identical matrices interned to different indices: %d != %d", a, b)
	}
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}

	other := Identity4()
	other[0] = 2
	c := p.Intern(other)
	if c == a {
		t.Fatalf("distinct matrices interned to the same index")
	}
}

func TestFFIStagingClearFrameResetsPoolsNotCurrentValue(t *testing.T) {
	s := NewFFIStaging()
	m := Identity4()
	m[12] = 5
	s.SetModel(m)
	idx := s.CurrentMVPShadingIndex()
	if idx != 0 {
		t.Fatalf("first interned tuple should be index 0, got %d", idx)
	}

	s.ClearFrame()
	if s.Models.Len() != 0 {
		t.Fatalf("ClearFrame did not empty the model pool")
	}
	if s.CurrentModel != m {
		t.Fatalf("ClearFrame must not reset the current model value")
	}
}

func TestSortCommandsOrderingAndIdempotence(t *testing.T) {
	cmds := []Command{
		{Kind: CommandQuad},
		{Kind: CommandSky},
		{Kind: CommandMesh},
	}
	SortCommands(cmds)
	if cmds[0].Kind != CommandSky || cmds[1].Kind != CommandMesh || cmds[2].Kind != CommandQuad {
		t.Fatalf("sort order = %v, want sky, mesh, quad", cmds)
	}

	firstPass := append([]Command(nil), cmds...)
	SortCommands(cmds)
	if !commandsEqual(firstPass, cmds) {
		t.Fatalf("sorting twice produced a different order, sort is not idempotent")
	}
}

func commandsEqual(a, b []Command) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolveTupleFallbacks(t *testing.T) {
	exists := func(h uint32) bool { return h == 7 }
	raw := TextureTuple{0, 7, 99, 0}
	out := ResolveTuple(raw, exists)

	if out[0] != whiteTextureHandle {
		t.Fatalf("slot 0 (invalid) = %d, want white fallback", out[0])
	}
	if out[1] != 7 {
		t.Fatalf("slot 1 (resolves) = %d, want 7", out[1])
	}
	if out[2] != checkerTextureHandle {
		t.Fatalf("slot 2 (missing) = %d, want checkerboard fallback", out[2])
	}
}

func TestPipelineCacheReusesOnSameKey(t *testing.T) {
	backend := &fakeBackend{}
	cache := NewPipelineCache(backend)
	key := RegularKey(RenderModeRGBA8, VertexFormatPosUV, 0, true, 0, 0)

	if _, err := cache.Get(key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cache.Get(key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if backend.pipelineCalls != 1 {
		t.Fatalf("backend.pipelineCalls = %d, want 1 (cache should dedupe)", backend.pipelineCalls)
	}
}

func TestFrameBindGroupCacheRebuildsOnHashChange(t *testing.T) {
	backend := &fakeBackend{}
	cache := NewFrameBindGroupCache(backend)

	if _, err := cache.Get(42); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cache.Get(42); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if backend.frameBindCalls != 1 {
		t.Fatalf("frameBindCalls = %d, want 1 for unchanged hash", backend.frameBindCalls)
	}

	if _, err := cache.Get(43); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if backend.frameBindCalls != 2 {
		t.Fatalf("frameBindCalls = %d, want 2 after hash change", backend.frameBindCalls)
	}
}

func TestComputeBlitRectPixelPerfectClampsToOne(t *testing.T) {
	rect := ComputeBlitRect(ScalePixelPerfect, 256, 224, 100, 100)
	if rect.W != 256 || rect.H != 224 {
		t.Fatalf("expected scale clamped to 1 when window smaller than render target, got %+v", rect)
	}
}

func TestComputeBlitRectFitPreservesAspect(t *testing.T) {
	rect := ComputeBlitRect(ScaleFit, 256, 224, 1024, 1024)
	if rect.W*224 != rect.H*256 {
		t.Fatalf("blit rect %+v does not keep the 256:224 aspect ratio", rect)
	}
	if rect.X < 0 || rect.Y < 0 || rect.X+rect.W > 1024 || rect.Y+rect.H > 1024 {
		t.Fatalf("blit rect out of window bounds: %+v", rect)
	}
}

func TestGrowToPow2NeverShrinks(t *testing.T) {
	if got := GrowToPow2(64, 10); got != 64 {
		t.Fatalf("GrowToPow2(64, 10) = %d, want 64 (never shrink)", got)
	}
	if got := GrowToPow2(64, 100); got != 128 {
		t.Fatalf("GrowToPow2(64, 100) = %d, want 128", got)
	}
}

func TestRenderFrameEarlyOutOnEmptyBuffer(t *testing.T) {
	backend := &fakeBackend{}
	renderer := NewFrameRenderer(backend, ScaleStretch)
	buf := NewCommandBuffer()

	result, err := renderer.RenderFrame(buf, 0)
	if err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if !result.EarlyOut {
		t.Fatalf("expected early-out for an empty command buffer")
	}
}

func TestRenderFrameTracksStateChangesOnlyOnDifference(t *testing.T) {
	backend := &fakeBackend{}
	renderer := NewFrameRenderer(backend, ScaleStretch)
	buf := NewCommandBuffer()
	buf.Append(Command{Kind: CommandMesh, VertexFormat: VertexFormatPosUV})
	buf.Append(Command{Kind: CommandMesh, VertexFormat: VertexFormatPosUV})
	buf.Append(Command{Kind: CommandQuad})

	result, err := renderer.RenderFrame(buf, 7)
	if err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if result.DrawCalls != 3 {
		t.Fatalf("DrawCalls = %d, want 3", result.DrawCalls)
	}
	if result.StateChanges != 2 {
		t.Fatalf("StateChanges = %d, want 2 (first draw + the quad switch)", result.StateChanges)
	}
}
