package sandbox

// Minimal hand-assembled WebAssembly modules used to ground sandbox tests
// without depending on an external toolchain to produce test fixtures.

func uleb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb128(uint32(len(content)))...)
	out = append(out, content...)
	return out
}

func vec(items ...[]byte) []byte {
	out := uleb128(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func nameBytes(s string) []byte {
	return append(uleb128(uint32(len(s))), []byte(s)...)
}

const (
	wasmFuncTag   = 0x60
	wasmTypeF64   = 0x7C
	wasmExportFn  = 0x00
	wasmExportMem = 0x02
)

// memoryOnlyWasm builds a module exporting only "memory" — no init, update,
// or render — for the §8 boundary behavior "a game with only a memory
// export runs successfully as a no-op."
func memoryOnlyWasm() []byte {
	header := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

	memSec := section(5, vec00limits(1))
	exportSec := section(7, vec(memoryExport()))

	out := append([]byte{}, header...)
	out = append(out, memSec...)
	out = append(out, exportSec...)
	return out
}

func vec00limits(minPages uint32) []byte {
	limit := append([]byte{0x00}, uleb128(minPages)...) // flag 0 = min only
	return vec(limit)
}

func memoryExport() []byte {
	return append(nameBytes("memory"), wasmExportMem, 0x00)
}

// counterWasm builds a module exporting "memory" and "update", where update
// ignores its f64 dt parameter and increments the i32 at address 0 by 1 —
// grounding the §8 scenario "a ROM whose update increments a u32 at
// memory offset 0."
func counterWasm() []byte {
	header := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

	funcType := append([]byte{wasmFuncTag}, vec([]byte{wasmTypeF64})...)
	funcType = append(funcType, 0x00) // empty result vec
	typeSec := section(1, vec(funcType))

	functionSec := section(3, vec(uleb128(0))) // func 0 uses type 0

	memSec := section(5, vec00limits(1))

	exportSec := section(7, vec(
		append(nameBytes("update"), wasmExportFn, 0x00),
		memoryExport(),
	))

	body := []byte{
		0x00,       // 0 locals
		0x41, 0x00, // i32.const 0        (store address)
		0x41, 0x00, // i32.const 0        (load address)
		0x28, 0x02, 0x00, // i32.load align=2 offset=0
		0x41, 0x01, // i32.const 1
		0x6A,       // i32.add
		0x36, 0x02, 0x00, // i32.store align=2 offset=0
		0x0B, // end
	}
	codeEntry := append(uleb128(uint32(len(body))), body...)
	codeSec := section(10, vec(codeEntry))

	out := append([]byte{}, header...)
	out = append(out, typeSec...)
	out = append(out, functionSec...)
	out = append(out, memSec...)
	out = append(out, exportSec...)
	out = append(out, codeSec...)
	return out
}
