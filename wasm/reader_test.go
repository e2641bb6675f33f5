package wasm_test

import (
	"math"
	"testing"

	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

func TestReadVarU32(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  uint32
		fails bool
	}{
		{name: "zero", input: []byte{0x00}, want: 0},
		{name: "one byte", input: []byte{0x7F}, want: 127},
		{name: "two bytes", input: []byte{0x80, 0x01}, want: 128},
		{name: "max", input: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}, want: math.MaxUint32},
		{name: "overflow bits", input: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F}, fails: true},
		{name: "too long", input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, fails: true},
		{name: "truncated", input: []byte{0x80}, fails: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := wasm.NewReader(tt.input, 0)
			got, err := r.ReadVarU32()
			if tt.fails {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadVarU32: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadVarS32(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  int32
		fails bool
	}{
		{name: "zero", input: []byte{0x00}, want: 0},
		{name: "positive", input: []byte{0x3F}, want: 63},
		{name: "negative one", input: []byte{0x7F}, want: -1},
		{name: "negative big", input: []byte{0x80, 0x7F}, want: -128},
		{name: "min", input: []byte{0x80, 0x80, 0x80, 0x80, 0x78}, want: math.MinInt32},
		{name: "max", input: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x07}, want: math.MaxInt32},
		{name: "overflow", input: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x3F}, fails: true},
		{name: "too long", input: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F}, fails: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := wasm.NewReader(tt.input, 0)
			got, err := r.ReadVarS32()
			if tt.fails {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadVarS32: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadVarU64(t *testing.T) {
	r := wasm.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}, 0)
	got, err := r.ReadVarU64()
	if err != nil {
		t.Fatalf("ReadVarU64: %v", err)
	}
	if got != math.MaxUint64 {
		t.Errorf("got %d, want max uint64", got)
	}

	r = wasm.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x02}, 0)
	if _, err := r.ReadVarU64(); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestReadString(t *testing.T) {
	input := append(uleb(5), 'h', 'e', 'l', 'l', 'o')
	r := wasm.NewReader(input, 0)
	got, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestReadStringInvalidUTF8(t *testing.T) {
	input := append(uleb(2), 0xFF, 0xFE)
	r := wasm.NewReader(input, 0)
	if _, err := r.ReadString(); err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
}

func TestReadFloats(t *testing.T) {
	r := wasm.NewReader([]byte{0x00, 0x00, 0x80, 0x3F}, 0)
	f32, err := r.ReadF32()
	if err != nil {
		t.Fatalf("ReadF32: %v", err)
	}
	if f32 != 1.0 {
		t.Errorf("got %v, want 1.0", f32)
	}

	r = wasm.NewReader([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0, 0x3F}, 0)
	f64, err := r.ReadF64()
	if err != nil {
		t.Fatalf("ReadF64: %v", err)
	}
	if f64 != 1.0 {
		t.Errorf("got %v, want 1.0", f64)
	}
}

func TestReadNaNPayloadPreserved(t *testing.T) {
	bits := uint32(0x7FC00001)
	r := wasm.NewReader([]byte{0x01, 0x00, 0xC0, 0x7F}, 0)
	f, err := r.ReadF32()
	if err != nil {
		t.Fatalf("ReadF32: %v", err)
	}
	if math.Float32bits(f) != bits {
		t.Errorf("NaN payload not preserved: got %08x, want %08x", math.Float32bits(f), bits)
	}
}

func TestReadValType(t *testing.T) {
	r := wasm.NewReader([]byte{0x7F, 0x70, 0x42}, 0)
	vt, err := r.ReadValType()
	if err != nil || vt != wasm.ValI32 {
		t.Fatalf("got %v, %v", vt, err)
	}
	vt, err = r.ReadValType()
	if err != nil || vt != wasm.ValFuncRef {
		t.Fatalf("got %v, %v", vt, err)
	}
	if _, err := r.ReadValType(); err == nil {
		t.Fatal("expected error for invalid value type")
	}
}

func TestErrorOffsetsAreAbsolute(t *testing.T) {
	// A reader over a sub-range reports offsets relative to the whole buffer.
	r := wasm.NewReader([]byte{0x80}, 100)
	_, err := r.ReadVarU32()
	if err == nil {
		t.Fatal("expected error")
	}
	if got := errors.OffsetOf(err); got != 101 {
		t.Errorf("expected offset 101, got %d", got)
	}
}

func TestSkipInitExpr(t *testing.T) {
	// i32.const 7, end, then a trailing byte that must not be consumed.
	input := []byte{0x41, 0x07, 0x0B, 0xAA}
	r := wasm.NewReader(input, 0)
	expr, err := r.SkipInitExpr()
	if err != nil {
		t.Fatalf("SkipInitExpr: %v", err)
	}
	if len(expr.Data) != 3 {
		t.Errorf("expected 3 expression bytes, got %d", len(expr.Data))
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 unread byte, got %d", r.Len())
	}
}

func TestSkipInitExprNested(t *testing.T) {
	// block end inside an expression keeps scanning to the outer end.
	input := []byte{0x02, 0x40, 0x0B, 0x0B}
	r := wasm.NewReader(input, 0)
	expr, err := r.SkipInitExpr()
	if err != nil {
		t.Fatalf("SkipInitExpr: %v", err)
	}
	if len(expr.Data) != 4 {
		t.Errorf("expected 4 expression bytes, got %d", len(expr.Data))
	}
}
