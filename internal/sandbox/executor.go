// Package sandbox implements the Sandbox Executor and Capability Surface
// (§4.A-B): a wazero-hosted WebAssembly VM whose linear memory is the
// sole source of observable game state, driven in discrete ticks by the
// Unified Runtime.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"corewave/internal/config"
	"corewave/internal/diag"
	"corewave/internal/gpu"
	"corewave/internal/inputring"
	"corewave/internal/rom"
)

const wasmPageSize = 65536

// Executor loads one game's code image and drives its lifecycle.
type Executor struct {
	runtime wazero.Runtime
	env     api.Closer
	module  api.Module
	caps    *Capabilities
	limits  config.Limits
	logger  *diag.Logger

	tick    uint64
	elapsed float64
}

// Load instantiates code against a data pack under the given resource
// limits (§4.A load(code, data_pack)). renderMode selects the texture
// format family draw_mesh commands are keyed on.
func Load(ctx context.Context, code []byte, pack *rom.DataPack, limits config.Limits, maxPlayers int, logger *diag.Logger, renderMode gpu.RenderMode) (*Executor, error) {
	if len(code) == 0 {
		return nil, diag.Newf(diag.KindInvalidROM, "empty code image")
	}
	if uint32(len(code)) > limits.ROMBytes {
		return nil, diag.Newf(diag.KindSandboxLimitExceeded, "code size %d exceeds ROM limit %d", len(code), limits.ROMBytes)
	}

	memPages := limits.RAMBytes / wasmPageSize
	if memPages == 0 {
		memPages = 1
	}

	rc := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(uint32(memPages)).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, rc)

	if pack == nil {
		pack = &rom.DataPack{}
	}
	caps := NewCapabilities(pack, maxPlayers, config.MaxSaveSlots, logger, renderMode)

	env, err := registerHostModule(ctx, runtime, caps)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("register host module: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, code)
	if err != nil {
		runtime.Close(ctx)
		return nil, diag.Wrap(diag.KindInvalidROM, fmt.Errorf("compile: %w", err))
	}

	moduleConfig := wazero.NewModuleConfig().WithName("game")
	module, err := runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		runtime.Close(ctx)
		return nil, diag.Wrap(diag.KindInvalidROM, fmt.Errorf("instantiate: %w", err))
	}

	if module.Memory() == nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, diag.Newf(diag.KindInvalidROM, "MissingMemoryExport: code does not export linear memory")
	}

	return &Executor{runtime: runtime, env: env, module: module, caps: caps, limits: limits, logger: logger}, nil
}

// Close releases the underlying wazero runtime and all instances it owns.
func (e *Executor) Close(ctx context.Context) error {
	if e.module != nil {
		_ = e.module.Close(ctx)
	}
	if e.env != nil {
		_ = e.env.Close(ctx)
	}
	return e.runtime.Close(ctx)
}

// withBudget bounds ctx to the per-tick CPU budget. Because the runtime was
// built WithCloseOnContextDone, an exceeded deadline aborts in-flight
// sandbox execution rather than merely failing the next call.
func (e *Executor) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := time.Duration(e.limits.CPUBudgetMicros) * time.Microsecond
	return context.WithTimeout(ctx, budget)
}

func (e *Executor) callIfExported(ctx context.Context, name string, args ...uint64) error {
	fn := e.module.ExportedFunction(name)
	if fn == nil {
		return nil
	}
	_, err := fn.Call(ctx, args...)
	if err != nil {
		if ctx.Err() != nil {
			return diag.Wrap(diag.KindSandboxLimitExceeded, fmt.Errorf("%s: CPU budget exceeded (%dus): %w", name, e.limits.CPUBudgetMicros, err))
		}
		return fmt.Errorf("call %s: %w", name, err)
	}
	return nil
}

// Init runs the optional `init` export exactly once; during the call,
// init-only capability entries (font/asset registration) are permitted
// (§4.A).
func (e *Executor) Init(ctx context.Context) error {
	e.caps.initMode = true
	defer func() { e.caps.initMode = false }()

	ctx, cancel := e.withBudget(ctx)
	defer cancel()
	return e.callIfExported(ctx, "init")
}

// Update advances the game by one tick, running the optional `update`
// export under the per-tick CPU budget (§4.A).
func (e *Executor) Update(ctx context.Context, dtSeconds float64) error {
	ctx, cancel := e.withBudget(ctx)
	defer cancel()

	if err := e.callIfExported(ctx, "update", api.EncodeF64(dtSeconds)); err != nil {
		return err
	}
	e.tick++
	e.elapsed += dtSeconds
	return nil
}

// Render runs the optional `render` export and returns the staged command
// buffer for the Frame Renderer to consume (§4.A, §4.J step 3).
func (e *Executor) Render(ctx context.Context) (*gpu.CommandBuffer, error) {
	ctx, cancel := e.withBudget(ctx)
	defer cancel()
	if err := e.callIfExported(ctx, "render"); err != nil {
		return nil, err
	}
	return e.caps.CommandBuffer(), nil
}

// SaveState returns a copy of the executor's entire linear memory (§4.A,
// §4.F).
func (e *Executor) SaveState() ([]byte, error) {
	mem := e.module.Memory()
	data, ok := mem.Read(0, mem.Size())
	if !ok {
		return nil, fmt.Errorf("read linear memory: out of bounds")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// LoadState overwrites the executor's linear memory. bytes length must
// equal the current memory size (§4.A).
func (e *Executor) LoadState(bytes []byte) error {
	mem := e.module.Memory()
	if uint32(len(bytes)) != mem.Size() {
		return fmt.Errorf("load_state: byte length %d does not match memory size %d", len(bytes), mem.Size())
	}
	if !mem.Write(0, bytes) {
		return fmt.Errorf("load_state: write out of bounds")
	}
	return nil
}

// SetInput writes input for the given player, rotating current into
// previous (§4.A).
func (e *Executor) SetInput(player int, sample inputring.Sample) {
	e.caps.SetInput(player, sample)
}

// ClearFrame drops per-frame FFI staging (§4.J step 4).
func (e *Executor) ClearFrame() {
	e.caps.ClearFrame()
}

// AudioRequests returns this frame's scheduled playback events.
func (e *Executor) AudioRequests() []AudioRequest {
	return e.caps.AudioRequests()
}

// MemorySize returns the current linear memory size in bytes.
func (e *Executor) MemorySize() uint32 {
	return e.module.Memory().Size()
}

// CallAction invokes an optional debug hook export by name with no
// arguments (§4.A: "call_action(name, args) / call_on_debug_change()
// — optional debug hooks").
func (e *Executor) CallAction(ctx context.Context, name string) error {
	ctx, cancel := e.withBudget(ctx)
	defer cancel()
	return e.callIfExported(ctx, name)
}
