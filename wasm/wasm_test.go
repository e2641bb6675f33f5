package wasm_test

import (
	"github.com/wippyai/wasm-toolkit/wasm"
)

// Test binary builders. These construct wasm binaries byte by byte so the
// tests stay independent of any encoder.

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func header() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
}

func componentHeader() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
}

func section(id byte, contents []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(contents)))...)
	return append(out, contents...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func module(sections ...[]byte) []byte {
	out := header()
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

// funcType encodes a function signature entry for the type section.
func funcType(params, results []wasm.ValType) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(len(params)))...)
	for _, p := range params {
		out = append(out, byte(p))
	}
	out = append(out, uleb(uint32(len(results)))...)
	for _, r := range results {
		out = append(out, byte(r))
	}
	return out
}

func typeSection(types ...[]byte) []byte {
	return section(1, vec(types...))
}

func funcSection(typeIdxs ...uint32) []byte {
	items := make([][]byte, len(typeIdxs))
	for i, idx := range typeIdxs {
		items[i] = uleb(idx)
	}
	return section(3, vec(items...))
}

func tableSection(tables ...[]byte) []byte {
	return section(4, vec(tables...))
}

func memorySection(mems ...[]byte) []byte {
	return section(5, vec(mems...))
}

func exportSection(exports ...[]byte) []byte {
	return section(7, vec(exports...))
}

func export(name string, kind byte, idx uint32) []byte {
	out := uleb(uint32(len(name)))
	out = append(out, name...)
	out = append(out, kind)
	return append(out, uleb(idx)...)
}

func startSection(fn uint32) []byte {
	return section(8, uleb(fn))
}

func elementSection(elems ...[]byte) []byte {
	return section(9, vec(elems...))
}

func codeSection(bodies ...[]byte) []byte {
	return section(10, vec(bodies...))
}

// body encodes one code entry with no locals.
func body(ops ...byte) []byte {
	contents := append([]byte{0x00}, ops...)
	out := uleb(uint32(len(contents)))
	return append(out, contents...)
}

func dataSection(segments ...[]byte) []byte {
	return section(11, vec(segments...))
}

func dataCountSection(count uint32) []byte {
	return section(12, uleb(count))
}

func globalSection(globals ...[]byte) []byte {
	return section(6, vec(globals...))
}
