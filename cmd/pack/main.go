// Command pack builds a ROM file (.cwrm, §6) from a TOML manifest: it
// reads the sandbox's compiled wasm code, folds referenced raw assets into a
// data pack, computes the ROM hash, and writes the encoded container. It is
// a thin shell around internal/rom — the texture/mesh compressors and the
// broader asset build toolchain are named as interfaces only (§1).
package main

import (
	"flag"
	"fmt"
	"os"

	"corewave/internal/rom"
)

func main() {
	manifestPath := flag.String("manifest", "", "Path to the build manifest (TOML)")
	outPath := flag.String("output", "", "Path to write the ROM file (defaults to <id>.cwrm)")
	wasmOverride := flag.String("wasm", "", "Override the manifest's [game].wasm path")
	flag.Parse()

	if *manifestPath == "" {
		fmt.Println("Usage: pack -manifest <manifest.toml> [-output out.cwrm] [-wasm code.wasm]")
		os.Exit(1)
	}

	if err := run(*manifestPath, *outPath, *wasmOverride); err != nil {
		fmt.Fprintf(os.Stderr, "pack: %v\n", err)
		os.Exit(1)
	}
}

func run(manifestPath, outPath, wasmOverride string) error {
	manifest, err := rom.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	wasmPath, err := manifest.ResolveWASMPath(manifestPath, wasmOverride)
	if err != nil {
		return err
	}
	code, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("read wasm %q: %w", wasmPath, err)
	}

	pack, err := rom.BuildRawPack(manifestPath, manifest)
	if err != nil {
		return fmt.Errorf("build data pack: %w", err)
	}
	if len(pack.Raw) == 0 {
		pack = nil
	}

	tickRate := rom.TickRate60
	if manifest.Game.TickRate == 120 {
		tickRate = rom.TickRate120
	}

	image := &rom.ROM{
		Header: rom.Header{
			ID:         manifest.Game.ID,
			Title:      manifest.Game.Title,
			Author:     manifest.Game.Author,
			Version:    manifest.Game.Version,
			RenderMode: rom.RenderModeRGBA8,
			MaxPlayers: manifest.Game.MaxPlayers,
			TickRate:   tickRate,
			ROMHash:    rom.ComputeROMHash(code),
		},
		Code: code,
		Pack: pack,
	}

	encoded, err := rom.Encode(image)
	if err != nil {
		return fmt.Errorf("encode rom: %w", err)
	}

	if outPath == "" {
		outPath = manifest.Game.ID + ".cwrm"
	}
	if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", outPath, err)
	}

	fmt.Printf("wrote %s (%d bytes, rom_hash=%08x)\n", outPath, len(encoded), image.Header.ROMHash)
	return nil
}
