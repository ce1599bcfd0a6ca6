package runtime

// Minimal hand-assembled WebAssembly fixture reused from the sandbox
// package's own test helpers, needed here because Runtime drives a real
// *sandbox.Executor rather than an interface seam.

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

// counterWasm builds a module exporting "memory" and "update" whose update
// export ignores its f64 dt parameter and increments the i32 at linear
// memory address 0 by 1 — deterministic state evolution independent of
// host input, enough to exercise save/load/resimulate sequencing without
// needing to hand-assemble an `env` import call.
func counterWasm() []byte {
	header := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

	funcType := append([]byte{0x60}, vec([]byte{0x7C})...) // (f64) -> ()
	funcType = append(funcType, 0x00)
	typeSec := section(1, vec(funcType))

	functionSec := section(3, vec(uleb128(0)))

	limit := append([]byte{0x00}, uleb128(1)...)
	memSec := section(5, vec(limit))

	memExport := append(nameBytes("memory"), 0x02, 0x00)
	updateExport := append(nameBytes("update"), 0x00, 0x00)
	exportSec := section(7, vec(updateExport, memExport))

	body := []byte{
		0x00,
		0x41, 0x00,
		0x41, 0x00,
		0x28, 0x02, 0x00,
		0x41, 0x01,
		0x6A,
		0x36, 0x02, 0x00,
		0x0B,
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
