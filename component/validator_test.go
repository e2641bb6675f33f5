package component_test

import (
	"strings"
	"testing"

	"github.com/wippyai/wasm-toolkit/component"
	"github.com/wippyai/wasm-toolkit/wasm"
)

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

func componentHeader() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
}

func moduleHeader() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
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

func comp(sections ...[]byte) []byte {
	out := componentHeader()
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func name(s string) []byte {
	out := []byte{0x00}
	out = append(out, uleb(uint32(len(s)))...)
	return append(out, s...)
}

// voidFuncType encodes a component functype with no params and no result.
func voidFuncType() []byte {
	return []byte{0x40, 0x00, 0x01, 0x00}
}

func TestValidateEmptyComponent(t *testing.T) {
	types, err := component.Validate(comp())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	info := types.Component()
	if info == nil {
		t.Fatal("expected component info")
	}
	if info.Types != 0 || info.Funcs != 0 || info.Modules != 0 {
		t.Errorf("expected zero counts, got %+v", info)
	}
}

func TestValidateComponentModelDisabled(t *testing.T) {
	features := wasm.DefaultFeatures()
	v := component.NewValidatorWithFeatures(features)
	p := wasm.NewParser(comp())
	payload, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := v.Payload(payload); err == nil {
		t.Fatal("expected error with component model disabled")
	}
}

func TestValidateComponentTypeSection(t *testing.T) {
	data := comp(section(7, vec(voidFuncType())))
	types, err := component.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := types.Component().Types; got != 1 {
		t.Errorf("expected 1 type, got %d", got)
	}
}

func TestValidateComponentFuncImport(t *testing.T) {
	data := comp(
		section(7, vec(voidFuncType())),
		section(10, vec(append(name("f"), 0x01, 0x00))),
	)
	types, err := component.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := types.Component().Funcs; got != 1 {
		t.Errorf("expected 1 function, got %d", got)
	}
}

func TestValidateComponentImportBadTypeIndex(t *testing.T) {
	data := comp(
		section(10, vec(append(name("f"), 0x01, 0x05))),
	)
	if _, err := component.Validate(data); err == nil {
		t.Fatal("expected error for unknown type index")
	}
}

func TestValidateComponentFuncExport(t *testing.T) {
	data := comp(
		section(7, vec(voidFuncType())),
		section(10, vec(append(name("f"), 0x01, 0x00))),
		section(11, vec(append(name("g"), 0x01, 0x00))),
	)
	types, err := component.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// The export re-indexes the function, growing the func space.
	if got := types.Component().Funcs; got != 2 {
		t.Errorf("expected 2 function entries, got %d", got)
	}
}

func TestValidateComponentDuplicateExport(t *testing.T) {
	data := comp(
		section(7, vec(voidFuncType())),
		section(10, vec(append(name("f"), 0x01, 0x00))),
		section(11, vec(
			append(name("g"), 0x01, 0x00),
			append(name("g"), 0x01, 0x00),
		)),
	)
	_, err := component.Validate(data)
	if err == nil {
		t.Fatal("expected error for duplicate export")
	}
	if !strings.Contains(err.Error(), "duplicate export name") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateComponentNestedModule(t *testing.T) {
	data := comp(section(1, moduleHeader()))
	types, err := component.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := types.Component().Modules; got != 1 {
		t.Errorf("expected 1 module, got %d", got)
	}
}

func TestValidateComponentNestedInvalidModule(t *testing.T) {
	bad := []byte{0x00, 0x61, 0x73, 0x6D, 0x09, 0x00, 0x00, 0x00}
	data := comp(section(1, bad))
	if _, err := component.Validate(data); err == nil {
		t.Fatal("expected error for invalid nested module")
	}
}

func TestValidateComponentNestedComponent(t *testing.T) {
	data := comp(section(4, componentHeader()))
	types, err := component.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := types.Component().Components; got != 1 {
		t.Errorf("expected 1 component, got %d", got)
	}
}

func TestValidateComponentStart(t *testing.T) {
	data := comp(
		section(7, vec(voidFuncType())),
		section(10, vec(append(name("f"), 0x01, 0x00))),
		section(9, append(append(uleb(0), uleb(0)...), uleb(0)...)),
	)
	if _, err := component.Validate(data); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateComponentStartBadArity(t *testing.T) {
	data := comp(
		section(7, vec(voidFuncType())),
		section(10, vec(append(name("f"), 0x01, 0x00))),
		// One argument for a zero-parameter function.
		section(9, append(append(uleb(0), vec([]byte{0x00})...), uleb(0)...)),
	)
	if _, err := component.Validate(data); err == nil {
		t.Fatal("expected error for argument arity mismatch")
	}
}

func TestValidateComponentUnusedValue(t *testing.T) {
	// A value import that nothing consumes fails at end.
	data := comp(
		section(7, vec([]byte{0x7F})), // defined type: bool
		section(10, vec(append(name("v"), 0x02, 0x00))),
	)
	_, err := component.Validate(data)
	if err == nil {
		t.Fatal("expected error for unused value")
	}
	if !strings.Contains(err.Error(), "was not used") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateComponentInstanceType(t *testing.T) {
	// An instance type exporting one function type.
	instType := []byte{0x42}
	instType = append(instType, vec(
		append([]byte{0x01}, voidFuncType()...), // type decl
		append(append([]byte{0x04}, name("f")...), 0x01, 0x00), // export decl
	)...)

	data := comp(section(7, vec(instType)))
	types, err := component.Validate(data)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := types.Component().Types; got != 1 {
		t.Errorf("expected 1 type, got %d", got)
	}
}

func TestValidateComponentMalformedSectionID(t *testing.T) {
	data := comp(section(63, []byte{}))
	if _, err := component.Validate(data); err == nil {
		t.Fatal("expected error for unknown section id")
	}
}
