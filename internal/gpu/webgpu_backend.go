package gpu

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// quadShaderWGSL is the one shared shader every pipeline key in this
// reference host compiles against. The command-buffer/pipeline-cache
// design (§4.D) keys pipelines on render state (blend, depth, stencil,
// vertex format), not on distinct shader source per draw kind — a real
// game ships its own WGSL per render mode, this is the minimal stand-in
// that lets cmd/console actually present a frame.
const quadShaderWGSL = `
struct VertexOut {
	@builtin(position) position: vec4<f32>,
	@location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> VertexOut {
	var positions = array<vec2<f32>, 4>(
		vec2<f32>(-1.0, -1.0), vec2<f32>(1.0, -1.0),
		vec2<f32>(-1.0, 1.0), vec2<f32>(1.0, 1.0),
	);
	var out: VertexOut;
	let p = positions[idx];
	out.position = vec4<f32>(p, 0.0, 1.0);
	out.uv = (p + vec2<f32>(1.0, 1.0)) * 0.5;
	return out;
}

@fragment
fn fs_main(in: VertexOut) -> @location(0) vec4<f32> {
	return vec4<f32>(in.uv, 0.5, 1.0);
}
`

// WebGPUBackend implements Backend (internal/gpu/pipeline.go) against a
// real GPU device and presentation surface, grounded on
// Carmen-Shannon-oxy-go's wgpuRendererBackendImpl: one instance, one
// adapter, one device, a lazily-configured surface. Only cmd/console
// constructs this; no internal/ package imports it, keeping the core
// host-agnostic (§5).
type WebGPUBackend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	surface  *wgpu.Surface

	surfaceFormat wgpu.TextureFormat
	shaderModule  *wgpu.ShaderModule
}

// NewWebGPUBackend takes an already open GLFW window and stands up the WebGPU
// instance/adapter/device/surface chain needed to present frames, mirroring
// newWGPURendererBackend's setup order.
func NewWebGPUBackend(win *glfw.Window) (*WebGPUBackend, error) {
	runtime.LockOSThread()

	b := &WebGPUBackend{instance: wgpu.CreateInstance(nil)}
	b.surface = b.instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(win))

	adapter, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: b.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: request adapter: %w", err)
	}
	b.adapter = adapter

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "corewave device"})
	if err != nil {
		return nil, fmt.Errorf("webgpu: request device: %w", err)
	}
	b.device = device
	b.queue = device.GetQueue()

	caps := b.surface.GetCapabilities(adapter)
	if len(caps.Formats) == 0 {
		return nil, fmt.Errorf("webgpu: surface reports no supported formats")
	}
	b.surfaceFormat = caps.Formats[0]

	width, height := win.GetFramebufferSize()
	b.surface.Configure(adapter, device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	})

	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "corewave quad shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: quadShaderWGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: compile shader: %w", err)
	}
	b.shaderModule = module

	return b, nil
}

// Resize reconfigures the surface after a window resize (§4.E
// presentation surface resize is an external/OS concern; this is the one
// seam through which cmd/console reaches it).
func (b *WebGPUBackend) Resize(width, height int) {
	caps := b.surface.GetCapabilities(b.adapter)
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	})
}

// CreatePipeline implements Backend by building a render pipeline whose
// blend/depth state matches the key; every key shares the one shader
// module above.
func (b *WebGPUBackend) CreatePipeline(key PipelineKey) (any, error) {
	blend := (*wgpu.BlendState)(nil)
	if key.Blend != 0 {
		blend = &wgpu.BlendState{
			Color: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorSrcAlpha, DstFactor: wgpu.BlendFactorOneMinusSrcAlpha},
			Alpha: wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: wgpu.BlendFactorOne, DstFactor: wgpu.BlendFactorZero},
		}
	}

	var depthStencil *wgpu.DepthStencilState
	if key.Depth {
		depthStencil = &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth24Plus,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLess,
		}
	}

	pipeline, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: fmt.Sprintf("pipeline-%+v", key),
		Vertex: wgpu.VertexState{
			Module:     b.shaderModule,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     b.shaderModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    b.surfaceFormat,
				Blend:     blend,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleStrip,
			CullMode: cullModeFor(key.Cull),
		},
		DepthStencil: depthStencil,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create pipeline %+v: %w", key, err)
	}
	return pipeline, nil
}

func cullModeFor(cull uint8) wgpu.CullMode {
	switch cull {
	case 1:
		return wgpu.CullModeFront
	case 2:
		return wgpu.CullModeBack
	default:
		return wgpu.CullModeNone
	}
}

// CreateBindGroup implements Backend. A real host resolves each texture
// handle to a GPU texture view through the resource cache this backend
// would also own; this reference host has no ROM-supplied textures loaded
// yet, so it returns an opaque token keyed by the resolved tuple and defers
// actual texture binding to the day a ROM with real assets drives it.
func (b *WebGPUBackend) CreateBindGroup(textures TextureTuple) (any, error) {
	return textures, nil
}

// CreateFrameBindGroup implements Backend similarly for the frame-wide
// storage buffer bind group (§4.D), keyed by the capacity hash.
func (b *WebGPUBackend) CreateFrameBindGroup(hash uint64) (any, error) {
	return hash, nil
}

// Device exposes the underlying device for cmd/console's present loop.
func (b *WebGPUBackend) Device() *wgpu.Device { return b.device }

// Queue exposes the command queue for cmd/console's present loop.
func (b *WebGPUBackend) Queue() *wgpu.Queue { return b.queue }

// Surface exposes the presentation surface for cmd/console's present loop.
func (b *WebGPUBackend) Surface() *wgpu.Surface { return b.surface }
