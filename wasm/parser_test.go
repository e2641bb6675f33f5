package wasm_test

import (
	"testing"

	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

func TestParseMinimalModule(t *testing.T) {
	p := wasm.NewParser(header())

	payload, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	v, ok := payload.(wasm.Version)
	if !ok {
		t.Fatalf("expected Version payload, got %T", payload)
	}
	if v.Num != 1 || v.Encoding != wasm.EncodingModule {
		t.Errorf("unexpected version payload: %+v", v)
	}

	payload, err = p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	end, ok := payload.(wasm.End)
	if !ok {
		t.Fatalf("expected End payload, got %T", payload)
	}
	if end.Offset != 8 {
		t.Errorf("expected End at offset 8, got %d", end.Offset)
	}
}

func TestParseInvalidMagic(t *testing.T) {
	p := wasm.NewParser([]byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00})
	_, err := p.Next()
	if err == nil {
		t.Fatal("expected error for invalid magic")
	}
	if !errors.IsKind(err, errors.KindMalformed) {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestParseUnknownVersion(t *testing.T) {
	p := wasm.NewParser([]byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00})
	_, err := p.Next()
	if err == nil {
		t.Fatal("expected error for unknown version")
	}
	if got := errors.OffsetOf(err); got != 4 {
		t.Errorf("expected error at offset 4, got %d", got)
	}
}

func TestParseTruncatedHeader(t *testing.T) {
	p := wasm.NewParser([]byte{0x00, 0x61, 0x73})
	if _, err := p.Next(); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestParseCustomSection(t *testing.T) {
	contents := append(uleb(4), 'n', 'a', 'm', 'e')
	contents = append(contents, 0xDE, 0xAD)
	data := module(section(0, contents))

	p := wasm.NewParser(data)
	if _, err := p.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	payload, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	custom, ok := payload.(wasm.CustomSection)
	if !ok {
		t.Fatalf("expected CustomSection, got %T", payload)
	}
	if custom.Name != "name" {
		t.Errorf("expected custom section name %q, got %q", "name", custom.Name)
	}
	if len(custom.Data) != 2 {
		t.Errorf("expected 2 data bytes, got %d", len(custom.Data))
	}
}

func TestParseUnknownSectionID(t *testing.T) {
	data := module(section(55, []byte{0x01}))

	p := wasm.NewParser(data)
	if _, err := p.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	payload, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	unknown, ok := payload.(wasm.UnknownSection)
	if !ok {
		t.Fatalf("expected UnknownSection, got %T", payload)
	}
	if unknown.ID != 55 {
		t.Errorf("expected section id 55, got %d", unknown.ID)
	}
}

func TestParseSectionSizeTooLarge(t *testing.T) {
	data := append(header(), 0x01, 0xFF, 0xFF, 0x00)

	p := wasm.NewParser(data)
	if _, err := p.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := p.Next(); err == nil {
		t.Fatal("expected error for oversized section")
	}
}

func TestParseCodeSectionPayloads(t *testing.T) {
	data := module(
		typeSection(funcType(nil, nil)),
		funcSection(0),
		codeSection(body(0x0B)),
	)

	p := wasm.NewParser(data)
	var sawStart, sawEntry bool
	for {
		payload, err := p.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		switch pl := payload.(type) {
		case wasm.CodeSectionStart:
			sawStart = true
			if pl.Count != 1 {
				t.Errorf("expected 1 body, got %d", pl.Count)
			}
		case wasm.CodeSectionEntry:
			sawEntry = true
			if len(pl.Body.Code) != 1 || pl.Body.Code[0] != 0x0B {
				t.Errorf("unexpected body code: %x", pl.Body.Code)
			}
		case wasm.End:
			if !sawStart || !sawEntry {
				t.Error("missing code payloads")
			}
			return
		}
	}
}

func TestParseSectionItemCounts(t *testing.T) {
	data := module(
		typeSection(funcType(nil, nil), funcType([]wasm.ValType{wasm.ValI32}, nil)),
	)

	p := wasm.NewParser(data)
	if _, err := p.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	payload, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	ts := payload.(wasm.TypeSection)
	if ts.Reader.Count() != 2 {
		t.Fatalf("expected count 2, got %d", ts.Reader.Count())
	}
	for i := 0; !ts.Reader.EOF(); i++ {
		if _, err := ts.Reader.Read(); err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
	}
	if !ts.Reader.EOF() {
		t.Error("expected reader at EOF after count items")
	}
}

func TestParseNestedModuleSection(t *testing.T) {
	nested := header()
	data := append(componentHeader(), section(1, nested)...)

	p := wasm.NewParser(data)
	payload, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if v := payload.(wasm.Version); v.Encoding != wasm.EncodingComponent {
		t.Fatalf("expected component encoding, got %v", v.Encoding)
	}

	payload, err = p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	ms, ok := payload.(wasm.ModuleSection)
	if !ok {
		t.Fatalf("expected ModuleSection, got %T", payload)
	}

	sub, err := ms.Parser.Next()
	if err != nil {
		t.Fatalf("nested Next: %v", err)
	}
	if v := sub.(wasm.Version); v.Encoding != wasm.EncodingModule {
		t.Fatalf("expected nested module encoding, got %v", v.Encoding)
	}
}
