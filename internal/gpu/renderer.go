package gpu

// ScalePolicy selects how the offscreen render target is blitted to the
// presentation window (§4.E "Scale policies").
type ScalePolicy uint8

const (
	ScaleStretch ScalePolicy = iota
	ScaleFit
	ScalePixelPerfect
)

// BlitRect is the destination rectangle (in window pixels) the offscreen
// target is blitted into.
type BlitRect struct {
	X, Y, W, H int
}

// ComputeBlitRect implements the three scale policies (§4.E).
func ComputeBlitRect(policy ScalePolicy, renderW, renderH, windowW, windowH int) BlitRect {
	switch policy {
	case ScaleFit:
		scale := minFloat(float64(windowW)/float64(renderW), float64(windowH)/float64(renderH))
		w := int(float64(renderW) * scale)
		h := int(float64(renderH) * scale)
		return BlitRect{X: (windowW - w) / 2, Y: (windowH - h) / 2, W: w, H: h}
	case ScalePixelPerfect:
		scale := minInt(windowW/renderW, windowH/renderH)
		if scale < 1 {
			scale = 1
		}
		w, h := renderW*scale, renderH*scale
		return BlitRect{X: (windowW - w) / 2, Y: (windowH - h) / 2, W: w, H: h}
	default: // ScaleStretch
		return BlitRect{X: 0, Y: 0, W: windowW, H: windowH}
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// GrowToPow2 returns the next power-of-two capacity ≥ needed, never
// returning less than current (§5: "GPU storage buffers grow
// monotonically to powers of two; a frame never shrinks them").
func GrowToPow2(current, needed uint32) uint32 {
	if needed <= current {
		return current
	}
	cap := uint32(1)
	for cap < needed {
		cap <<= 1
	}
	return cap
}

// DrawState is the subset of pipeline/bind-group selection state the frame
// renderer only re-binds on change (§4.E step 6).
type DrawState struct {
	Pipeline        PipelineKey
	FrameBindGroup  uint64
	TextureBindings TextureTuple
	VertexFormat    VertexFormat
	Viewport        uint8
	StencilMode     uint8
}

// RenderPass replays a sorted command list, reporting how many state
// changes (pipeline/bind-group/viewport/stencil switches) were required.
// This is the pure, backend-agnostic half of §4.E step 6 ("setting
// ... only on change"); the caller issues the matching backend calls.
type RenderPass struct {
	current     DrawState
	hasCurrent  bool
	StateChanges int
	DrawCalls    int
}

// Apply advances the render pass by one command, returning the DrawState it
// should be issued with and whether that state differs from the last one.
func (p *RenderPass) Apply(c Command, frameBindGroupHash uint64) (DrawState, bool) {
	next := DrawState{
		Pipeline:        pipelineKeyFor(c),
		FrameBindGroup:  frameBindGroupHash,
		TextureBindings: c.Textures,
		VertexFormat:    c.VertexFormat,
		Viewport:        c.Viewport,
		StencilMode:     c.StencilMode,
	}
	changed := !p.hasCurrent || next != p.current
	if changed {
		p.StateChanges++
	}
	p.current = next
	p.hasCurrent = true
	p.DrawCalls++
	return next, changed
}

func pipelineKeyFor(c Command) PipelineKey {
	switch c.Kind {
	case CommandQuad:
		return QuadKey(c.Blend, c.Depth, c.StencilMode)
	case CommandSky:
		return SkyKey(c.StencilMode)
	default:
		return RegularKey(c.RenderMode, c.VertexFormat, c.Blend, c.Depth, c.Cull, c.StencilMode)
	}
}

// FrameRenderer runs the per-frame pipeline described in §4.E. It owns
// the pipeline cache and bind-group caches; the actual GPU submission is
// delegated to Backend so this type stays unit-testable.
type FrameRenderer struct {
	Pipelines    *PipelineCache
	TextureBinds *BindGroupCache
	FrameBinds   *FrameBindGroupCache
	Scale        ScalePolicy
}

// NewFrameRenderer wires the three caches to a shared backend.
func NewFrameRenderer(backend Backend, scale ScalePolicy) *FrameRenderer {
	return &FrameRenderer{
		Pipelines:    NewPipelineCache(backend),
		TextureBinds: NewBindGroupCache(backend),
		FrameBinds:   NewFrameBindGroupCache(backend),
		Scale:        scale,
	}
}

// RenderFrameResult summarizes one RenderFrame call for diagnostics/tests.
type RenderFrameResult struct {
	EarlyOut     bool
	DrawCalls    int
	StateChanges int
}

// RenderFrame executes §4.E's per-frame pipeline over buf's recorded
// commands. It sorts in place (step 5), walks the sorted list tracking
// state changes (step 6), and reports an early-out if the buffer was
// empty (step 1). Actual GPU resource creation happens lazily through the
// pipeline/bind-group caches as each distinct key is first encountered.
func (r *FrameRenderer) RenderFrame(buf *CommandBuffer, frameBindGroupHash uint64) (RenderFrameResult, error) {
	if buf.Empty() {
		return RenderFrameResult{EarlyOut: true}, nil
	}

	SortCommands(buf.Commands)

	if _, err := r.FrameBinds.Get(frameBindGroupHash); err != nil {
		return RenderFrameResult{}, err
	}

	pass := &RenderPass{}
	for _, c := range buf.Commands {
		state, _ := pass.Apply(c, frameBindGroupHash)
		if _, err := r.Pipelines.Get(state.Pipeline); err != nil {
			return RenderFrameResult{}, err
		}
		if _, err := r.TextureBinds.Get(state.TextureBindings); err != nil {
			return RenderFrameResult{}, err
		}
	}

	return RenderFrameResult{DrawCalls: pass.DrawCalls, StateChanges: pass.StateChanges}, nil
}
