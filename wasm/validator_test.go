package wasm_test

import (
	"strings"
	"testing"

	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

func TestValidateMinimalModule(t *testing.T) {
	types, err := wasm.Validate(header())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if types.TypeCount() != 0 || types.FunctionCount() != 0 || types.MemoryCount() != 0 ||
		types.TableCount() != 0 || types.GlobalCount() != 0 || types.ElementCount() != 0 {
		t.Error("expected all counts zero for the empty module")
	}
}

func TestValidateUnknownVersion(t *testing.T) {
	_, err := wasm.Validate([]byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown binary version") {
		t.Errorf("unexpected message: %v", err)
	}
	if got := errors.OffsetOf(err); got != 4 {
		t.Errorf("expected offset 4, got %d", got)
	}
}

func TestValidateStartFunctionType(t *testing.T) {
	// (type (func (param i32))) (func (type 0)) (start 0)
	data := module(
		typeSection(funcType([]wasm.ValType{wasm.ValI32}, nil)),
		funcSection(0),
		startSection(0),
		codeSection(body(0x0B)),
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid start function type") {
		t.Errorf("unexpected message: %v", err)
	}
	if !errors.IsKind(err, errors.KindInvalid) {
		t.Errorf("expected invalid kind, got %v", err)
	}
}

func TestValidateMultipleMemories(t *testing.T) {
	mem := []byte{0x00, 0x01} // no max, min 1
	data := module(memorySection(mem, mem))

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "multiple memories") {
		t.Errorf("unexpected message: %v", err)
	}
	if !errors.IsKind(err, errors.KindLimitExceeded) {
		t.Errorf("expected limit exceeded kind, got %v", err)
	}
}

func TestValidateMultiMemoryFeature(t *testing.T) {
	mem := []byte{0x00, 0x01}
	data := module(memorySection(mem, mem))

	features := wasm.DefaultFeatures()
	features.MultiMemory = true
	_, err := wasm.NewValidatorWithFeatures(features).ValidateAll(data)
	if err != nil {
		t.Fatalf("Validate with multi-memory: %v", err)
	}
}

func TestValidateDataCountMismatch(t *testing.T) {
	data := module(
		memorySection([]byte{0x00, 0x01}),
		dataCountSection(2),
		dataSection([]byte{0x01, 0x01, 0xAA}), // one passive segment
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "data count and data section have inconsistent lengths") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateElementSegment(t *testing.T) {
	// (table 0 funcref) (elem funcref (ref.func 0)) (func)
	table := []byte{0x70, 0x00, 0x00}
	elem := []byte{0x04}                                  // flags: active, table 0, expressions
	elem = append(elem, 0x41, 0x00, 0x0B)                 // offset: i32.const 0, end
	elem = append(elem, vec([]byte{0xD2, 0x00, 0x0B})...) // ref.func 0, end

	data := module(
		typeSection(funcType(nil, nil)),
		funcSection(0),
		tableSection(table),
		elementSection(elem),
		codeSection(body(0x0B)),
	)

	types, err := wasm.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if et, ok := types.ElementAt(0); !ok || et != wasm.ValFuncRef {
		t.Errorf("expected element 0 of type funcref, got %v, %v", et, ok)
	}
	ft := types.FuncTypeAt(0)
	if ft == nil || len(ft.Params) != 0 || len(ft.Results) != 0 {
		t.Errorf("expected () -> () signature, got %+v", ft)
	}
}

func TestValidateFunctionCodeMismatch(t *testing.T) {
	data := module(
		typeSection(funcType(nil, nil)),
		funcSection(0, 0),
		codeSection(body(0x0B)),
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "function and code section have inconsistent lengths") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateFunctionSectionWithoutCode(t *testing.T) {
	data := module(
		typeSection(funcType(nil, nil)),
		funcSection(0),
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error for missing code section")
	}
}

func TestValidateSectionOutOfOrder(t *testing.T) {
	data := module(
		funcSection(),
		typeSection(funcType(nil, nil)),
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "section out of order") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateDuplicateSection(t *testing.T) {
	data := module(
		typeSection(funcType(nil, nil)),
		typeSection(funcType(nil, nil)),
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error for repeated section")
	}
	if !strings.Contains(err.Error(), "section out of order") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateDuplicateExportName(t *testing.T) {
	data := module(
		typeSection(funcType(nil, nil)),
		funcSection(0),
		exportSection(
			export("f", 0, 0),
			export("f", 0, 0),
		),
		codeSection(body(0x0B)),
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "duplicate export name") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateExportUnknownIndex(t *testing.T) {
	data := module(
		exportSection(export("f", 0, 3)),
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error for out-of-range export")
	}
}

func TestValidateTypeIndexOutOfBounds(t *testing.T) {
	data := module(
		typeSection(funcType(nil, nil)),
		funcSection(7),
		codeSection(body(0x0B)),
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error for unknown type index")
	}
}

func TestValidateGlobalInitializer(t *testing.T) {
	// (global i32 (i32.const 42))
	global := []byte{0x7F, 0x00, 0x41, 0x2A, 0x0B}
	data := module(globalSection(global))

	types, err := wasm.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	g := types.GlobalAt(0)
	if g == nil || g.ValType != wasm.ValI32 || g.Mutable {
		t.Errorf("unexpected global type: %+v", g)
	}
}

func TestValidateGlobalInitializerTypeMismatch(t *testing.T) {
	// (global i32 (i64.const 1))
	global := []byte{0x7F, 0x00, 0x42, 0x01, 0x0B}
	data := module(globalSection(global))

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error for init type mismatch")
	}
}

func TestValidateGlobalInitializerNotConstant(t *testing.T) {
	// (global i32 (local.get 0)) is not a constant expression
	global := []byte{0x7F, 0x00, 0x20, 0x00, 0x0B}
	data := module(globalSection(global))

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error for non-constant initializer")
	}
}

func TestValidateMemoryLimits(t *testing.T) {
	tests := []struct {
		name  string
		mem   []byte
		fails bool
	}{
		{name: "plain", mem: []byte{0x00, 0x01}},
		{name: "with max", mem: []byte{0x01, 0x01, 0x02}},
		{name: "max below min", mem: []byte{0x01, 0x02, 0x01}, fails: true},
		{name: "min too large", mem: append([]byte{0x00}, uleb(1<<16+1)...), fails: true},
		{name: "shared without threads", mem: []byte{0x03, 0x01, 0x02}, fails: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.Validate(module(memorySection(tt.mem)))
			if tt.fails && err == nil {
				t.Fatal("expected error")
			}
			if !tt.fails && err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestValidateIdempotent(t *testing.T) {
	data := module(
		typeSection(funcType([]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32})),
		funcSection(0),
		exportSection(export("id", 0, 0)),
		codeSection(body(0x20, 0x00, 0x0B)),
	)

	first, err := wasm.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	second, err := wasm.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if first.FunctionCount() != second.FunctionCount() || first.TypeCount() != second.TypeCount() {
		t.Error("expected identical results across runs")
	}
	if _, ok := second.ExportAt("id"); !ok {
		t.Error("expected export to survive revalidation")
	}
}

func TestValidateReferenceTypesGate(t *testing.T) {
	features := wasm.DefaultFeatures()
	features.ReferenceTypes = false

	// (table 0 externref) requires reference types
	table := []byte{0x6F, 0x00, 0x00}
	_, err := wasm.NewValidatorWithFeatures(features).ValidateAll(module(tableSection(table)))
	if err == nil {
		t.Fatal("expected error with reference types disabled")
	}
	if !errors.IsKind(err, errors.KindUnsupported) {
		t.Errorf("expected unsupported kind, got %v", err)
	}
}

func TestValidateMultiValueGate(t *testing.T) {
	features := wasm.DefaultFeatures()
	features.MultiValue = false

	data := module(typeSection(funcType(nil, []wasm.ValType{wasm.ValI32, wasm.ValI32})))
	_, err := wasm.NewValidatorWithFeatures(features).ValidateAll(data)
	if err == nil {
		t.Fatal("expected error with multi-value disabled")
	}
}

func TestValidateTagsRequireExceptions(t *testing.T) {
	tag := append([]byte{0x00}, uleb(0)...)
	data := module(
		typeSection(funcType(nil, nil)),
		section(13, vec(tag)),
	)

	_, err := wasm.Validate(data)
	if err == nil {
		t.Fatal("expected error without exceptions feature")
	}

	features := wasm.DefaultFeatures()
	features.Exceptions = true
	if _, err := wasm.NewValidatorWithFeatures(features).ValidateAll(data); err != nil {
		t.Fatalf("Validate with exceptions: %v", err)
	}
}
