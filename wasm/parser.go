package wasm

import (
	"github.com/wippyai/wasm-toolkit/errors"
)

// Payload is one event produced by the Parser. Callers type-switch over the
// concrete payload types below and feed each to a Validator.
type Payload interface {
	isPayload()
}

// Version is the first payload of every parse: the decoded header.
type Version struct {
	Num      uint32
	Encoding Encoding
	Range    Range
}

// TypeSection wraps a lazily-decoded type section.
type TypeSection struct {
	Reader *TypeSectionReader
	Range  Range
}

// ImportSection wraps a lazily-decoded import section.
type ImportSection struct {
	Reader *ImportSectionReader
	Range  Range
}

// FunctionSection wraps a lazily-decoded function section.
type FunctionSection struct {
	Reader *FunctionSectionReader
	Range  Range
}

// TableSection wraps a lazily-decoded table section.
type TableSection struct {
	Reader *TableSectionReader
	Range  Range
}

// MemorySection wraps a lazily-decoded memory section.
type MemorySection struct {
	Reader *MemorySectionReader
	Range  Range
}

// GlobalSection wraps a lazily-decoded global section.
type GlobalSection struct {
	Reader *GlobalSectionReader
	Range  Range
}

// ExportSection wraps a lazily-decoded export section.
type ExportSection struct {
	Reader *ExportSectionReader
	Range  Range
}

// StartSection carries the start function index.
type StartSection struct {
	Func  uint32
	Range Range
}

// ElementSection wraps a lazily-decoded element section.
type ElementSection struct {
	Reader *ElementSectionReader
	Range  Range
}

// DataCountSection carries the declared data segment count.
type DataCountSection struct {
	Count uint32
	Range Range
}

// CodeSectionStart announces the code section before its entries are
// delivered.
type CodeSectionStart struct {
	Count uint32
	Size  uint32
	Range Range
}

// CodeSectionEntry carries one decoded function body.
type CodeSectionEntry struct {
	Body FunctionBody
}

// DataSection wraps a lazily-decoded data section.
type DataSection struct {
	Reader *DataSectionReader
	Range  Range
}

// TagSection wraps a lazily-decoded tag section.
type TagSection struct {
	Reader *TagSectionReader
	Range  Range
}

// CustomSection carries a custom section's name and contents, unvalidated.
type CustomSection struct {
	Name  string
	Data  []byte
	Range Range
}

// UnknownSection carries an unrecognized section. The validator rejects it.
type UnknownSection struct {
	ID       byte
	Contents []byte
	Range    Range
}

// ModuleSection announces a nested core module inside a component. The
// embedded parser parses the nested body; the outer parser resumes after it.
type ModuleSection struct {
	Parser *Parser
	Range  Range
}

// ComponentSection announces a nested component. The embedded parser parses
// the nested body.
type ComponentSection struct {
	Parser *Parser
	Range  Range
}

// ComponentSectionRaw carries a component-model section the core parser does
// not interpret. The component package decodes these.
type ComponentSectionRaw struct {
	ID       byte
	Contents []byte
	Range    Range
}

// End is the terminal payload.
type End struct {
	Offset int
}

func (Version) isPayload()             {}
func (TypeSection) isPayload()         {}
func (ImportSection) isPayload()       {}
func (FunctionSection) isPayload()     {}
func (TableSection) isPayload()        {}
func (MemorySection) isPayload()       {}
func (GlobalSection) isPayload()       {}
func (ExportSection) isPayload()       {}
func (StartSection) isPayload()        {}
func (ElementSection) isPayload()      {}
func (DataCountSection) isPayload()    {}
func (CodeSectionStart) isPayload()    {}
func (CodeSectionEntry) isPayload()    {}
func (DataSection) isPayload()         {}
func (TagSection) isPayload()          {}
func (CustomSection) isPayload()       {}
func (UnknownSection) isPayload()      {}
func (ModuleSection) isPayload()       {}
func (ComponentSection) isPayload()    {}
func (ComponentSectionRaw) isPayload() {}
func (End) isPayload()                 {}

// Component-model section IDs.
const (
	ComponentSectionCustom       byte = 0
	ComponentSectionCoreModule   byte = 1
	ComponentSectionCoreInstance byte = 2
	ComponentSectionCoreType     byte = 3
	ComponentSectionComponent    byte = 4
	ComponentSectionInstance     byte = 5
	ComponentSectionAlias        byte = 6
	ComponentSectionType         byte = 7
	ComponentSectionCanon        byte = 8
	ComponentSectionStart        byte = 9
	ComponentSectionImport       byte = 10
	ComponentSectionExport       byte = 11
)

type parserState byte

const (
	parserStateHeader parserState = iota
	parserStateSections
	parserStateCode
	parserStateEnd
)

// Parser is a streaming state machine over a wasm binary. Each call to Next
// returns one payload; the final payload is End.
type Parser struct {
	r             *Reader
	codeReader    *Reader
	state         parserState
	encoding      Encoding
	codeRemaining uint32
}

// NewParser creates a parser over a complete module or component binary.
func NewParser(data []byte) *Parser {
	return NewParserAt(data, 0)
}

// NewParserAt creates a parser whose window begins at the given absolute
// offset within the original buffer, used for nested modules and components.
func NewParserAt(data []byte, offset int) *Parser {
	return &Parser{r: NewReader(data, offset)}
}

// Encoding reports whether the parsed binary is a module or a component.
// Valid after the Version payload has been returned.
func (p *Parser) Encoding() Encoding {
	return p.encoding
}

// Next returns the next payload, or an error describing why parsing cannot
// continue. After End is returned, further calls keep returning End.
func (p *Parser) Next() (Payload, error) {
	switch p.state {
	case parserStateHeader:
		return p.parseHeader()
	case parserStateCode:
		return p.parseCodeEntry()
	case parserStateSections:
		return p.parseSection()
	default:
		return End{Offset: p.r.OriginalPosition()}, nil
	}
}

func (p *Parser) parseHeader() (Payload, error) {
	start := p.r.OriginalPosition()
	magic, err := p.r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, errors.Malformed(start, "magic header not detected")
	}
	versionOffset := p.r.OriginalPosition()
	version, err := p.r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	switch version {
	case ModuleVersion:
		p.encoding = EncodingModule
	case ComponentVersion:
		p.encoding = EncodingComponent
	default:
		return nil, errors.Malformed(versionOffset, "unknown binary version")
	}
	p.state = parserStateSections
	return Version{
		Num:      version,
		Encoding: p.encoding,
		Range:    Range{Start: start, End: p.r.OriginalPosition()},
	}, nil
}

func (p *Parser) parseSection() (Payload, error) {
	if p.r.EOF() {
		p.state = parserStateEnd
		return End{Offset: p.r.OriginalPosition()}, nil
	}

	idOffset := p.r.OriginalPosition()
	id, err := p.r.ReadByte()
	if err != nil {
		return nil, err
	}
	size, err := p.r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	payloadOffset := p.r.OriginalPosition()
	contents, err := p.r.ReadBytes(int(size))
	if err != nil {
		return nil, errors.Malformed(idOffset, "section size %d extends past end of input", size)
	}
	rng := Range{Start: payloadOffset, End: payloadOffset + int(size)}

	if p.encoding == EncodingComponent {
		return p.componentSection(id, contents, rng)
	}
	return p.moduleSection(id, contents, rng)
}

func (p *Parser) moduleSection(id byte, contents []byte, rng Range) (Payload, error) {
	switch id {
	case SectionCustom:
		return p.customSection(contents, rng)
	case SectionType:
		r, err := NewTypeSectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return TypeSection{Reader: r, Range: rng}, nil
	case SectionImport:
		r, err := NewImportSectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return ImportSection{Reader: r, Range: rng}, nil
	case SectionFunction:
		r, err := NewFunctionSectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return FunctionSection{Reader: r, Range: rng}, nil
	case SectionTable:
		r, err := NewTableSectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return TableSection{Reader: r, Range: rng}, nil
	case SectionMemory:
		r, err := NewMemorySectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return MemorySection{Reader: r, Range: rng}, nil
	case SectionGlobal:
		r, err := NewGlobalSectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return GlobalSection{Reader: r, Range: rng}, nil
	case SectionExport:
		r, err := NewExportSectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return ExportSection{Reader: r, Range: rng}, nil
	case SectionStart:
		r := NewReader(contents, rng.Start)
		fn, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		return StartSection{Func: fn, Range: rng}, nil
	case SectionElement:
		r, err := NewElementSectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return ElementSection{Reader: r, Range: rng}, nil
	case SectionCode:
		r := NewReader(contents, rng.Start)
		count, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		p.codeReader = r
		p.codeRemaining = count
		p.state = parserStateCode
		return CodeSectionStart{Count: count, Size: uint32(len(contents)), Range: rng}, nil
	case SectionData:
		r, err := NewDataSectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return DataSection{Reader: r, Range: rng}, nil
	case SectionDataCount:
		r := NewReader(contents, rng.Start)
		count, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		return DataCountSection{Count: count, Range: rng}, nil
	case SectionTag:
		r, err := NewTagSectionReader(contents, rng.Start)
		if err != nil {
			return nil, err
		}
		return TagSection{Reader: r, Range: rng}, nil
	default:
		return UnknownSection{ID: id, Contents: contents, Range: rng}, nil
	}
}

func (p *Parser) componentSection(id byte, contents []byte, rng Range) (Payload, error) {
	switch id {
	case ComponentSectionCustom:
		return p.customSection(contents, rng)
	case ComponentSectionCoreModule:
		return ModuleSection{Parser: NewParserAt(contents, rng.Start), Range: rng}, nil
	case ComponentSectionComponent:
		return ComponentSection{Parser: NewParserAt(contents, rng.Start), Range: rng}, nil
	case ComponentSectionCoreInstance, ComponentSectionCoreType,
		ComponentSectionInstance, ComponentSectionAlias,
		ComponentSectionType, ComponentSectionCanon,
		ComponentSectionStart, ComponentSectionImport,
		ComponentSectionExport:
		return ComponentSectionRaw{ID: id, Contents: contents, Range: rng}, nil
	default:
		return UnknownSection{ID: id, Contents: contents, Range: rng}, nil
	}
}

func (p *Parser) customSection(contents []byte, rng Range) (Payload, error) {
	r := NewReader(contents, rng.Start)
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	data, err := r.ReadBytes(r.Len())
	if err != nil {
		return nil, err
	}
	return CustomSection{Name: name, Data: data, Range: rng}, nil
}

func (p *Parser) parseCodeEntry() (Payload, error) {
	if p.codeRemaining == 0 {
		if !p.codeReader.EOF() {
			return nil, errors.Malformed(p.codeReader.OriginalPosition(), "unexpected content in the end of the code section")
		}
		p.codeReader = nil
		p.state = parserStateSections
		return p.parseSection()
	}
	p.codeRemaining--
	body, err := readFunctionBody(p.codeReader)
	if err != nil {
		return nil, err
	}
	return CodeSectionEntry{Body: body}, nil
}
