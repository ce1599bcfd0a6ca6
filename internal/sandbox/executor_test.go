package sandbox

import (
	"context"
	"testing"

	"corewave/internal/config"
	"corewave/internal/diag"
	"corewave/internal/gpu"
	"corewave/internal/rom"
)

func TestLoadRejectsMissingMemoryExport(t *testing.T) {
	ctx := context.Background()
	noMemory := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00} // header only

	_, err := Load(ctx, noMemory, nil, config.DefaultLimits(), 1, nil, gpu.RenderModeRGBA8)
	if err == nil {
		t.Fatalf("expected MissingMemoryExport error")
	}
}

func TestMemoryOnlyModuleRunsAsNoOp(t *testing.T) {
	ctx := context.Background()
	exec, err := Load(ctx, memoryOnlyWasm(), nil, config.DefaultLimits(), 1, nil, gpu.RenderModeRGBA8)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer exec.Close(ctx)

	if err := exec.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for i := 0; i < 60; i++ {
		if err := exec.Update(ctx, 1.0/60); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if _, err := exec.Render(ctx); err != nil {
		t.Fatalf("Render: %v", err)
	}
}

func TestSinglePlayerLifecycleCounterIncrementsSixty(t *testing.T) {
	ctx := context.Background()
	exec, err := Load(ctx, counterWasm(), &rom.DataPack{}, config.DefaultLimits(), 1, diag.NewLogger(100), gpu.RenderModeRGBA8)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer exec.Close(ctx)

	if err := exec.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for i := 0; i < 60; i++ {
		if err := exec.Update(ctx, 1.0/60); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}

	mem, err := exec.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got := uint32(mem[0]) | uint32(mem[1])<<8 | uint32(mem[2])<<16 | uint32(mem[3])<<24
	if got != 60 {
		t.Fatalf("counter = %d, want 60", got)
	}
}

func TestSaveModifyLoadSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	exec, err := Load(ctx, counterWasm(), &rom.DataPack{}, config.DefaultLimits(), 1, nil, gpu.RenderModeRGBA8)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer exec.Close(ctx)

	for i := 0; i < 5; i++ {
		if err := exec.Update(ctx, 1.0/60); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	first, err := exec.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	mutated := append([]byte(nil), first...)
	mutated[20] = 0xFF
	if err := exec.LoadState(mutated); err != nil {
		t.Fatalf("LoadState(mutated): %v", err)
	}
	if err := exec.LoadState(first); err != nil {
		t.Fatalf("LoadState(first): %v", err)
	}

	second, err := exec.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("save sizes differ: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("byte %d differs after save/modify/load/save: %d != %d", i, first[i], second[i])
		}
	}
}

func TestLoadStateRejectsSizeMismatch(t *testing.T) {
	ctx := context.Background()
	exec, err := Load(ctx, memoryOnlyWasm(), nil, config.DefaultLimits(), 1, nil, gpu.RenderModeRGBA8)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer exec.Close(ctx)

	if err := exec.LoadState([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for mismatched load_state size")
	}
}
