package wasm

import (
	"github.com/wippyai/wasm-toolkit/errors"
)

// sectionReader carries the pieces shared by every section reader: the
// cursor over the section payload, the declared item count, and how many
// items have been read so far.
type sectionReader struct {
	r     *Reader
	count uint32
	read  uint32
}

func newSectionReader(data []byte, offset int) (sectionReader, error) {
	r := NewReader(data, offset)
	count, err := r.ReadVarU32()
	if err != nil {
		return sectionReader{}, err
	}
	return sectionReader{r: r, count: count}, nil
}

// Count returns the item count declared in the section header.
func (s *sectionReader) Count() uint32 {
	return s.count
}

// EOF reports whether every declared item has been read.
func (s *sectionReader) EOF() bool {
	return s.read >= s.count
}

// OriginalPosition returns the cursor's absolute position in the original
// buffer.
func (s *sectionReader) OriginalPosition() int {
	return s.r.OriginalPosition()
}

// Range returns the absolute start and end of the section payload.
func (s *sectionReader) Range() Range {
	return Range{Start: s.r.originalOffset, End: s.r.originalOffset + len(s.r.buf)}
}

func (s *sectionReader) beginItem() error {
	if s.read >= s.count {
		return errors.Malformed(s.r.OriginalPosition(), "section item count exceeded")
	}
	s.read++
	return nil
}

// ensureEnd verifies the payload was fully consumed after the declared item
// count was read.
func (s *sectionReader) ensureEnd() error {
	if !s.r.EOF() {
		return errors.Malformed(s.r.OriginalPosition(), "unexpected content in the end of the section")
	}
	return nil
}

// readLimits reads a limits structure: flags byte, min, optional max.
func readLimits(r *Reader) (Limits, error) {
	flagsOffset := r.OriginalPosition()
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&^(LimitsHasMax|LimitsShared|LimitsMemory64) != 0 {
		return Limits{}, errors.Malformed(flagsOffset, "invalid limits flags 0x%02x", flags)
	}

	memory64 := flags&LimitsMemory64 != 0
	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: memory64,
	}

	if memory64 {
		l.Min, err = r.ReadVarU64()
		if err != nil {
			return Limits{}, err
		}
		if flags&LimitsHasMax != 0 {
			maxVal, err := r.ReadVarU64()
			if err != nil {
				return Limits{}, err
			}
			l.Max = &maxVal
		}
	} else {
		minVal, err := r.ReadVarU32()
		if err != nil {
			return Limits{}, err
		}
		l.Min = uint64(minVal)
		if flags&LimitsHasMax != 0 {
			maxVal, err := r.ReadVarU32()
			if err != nil {
				return Limits{}, err
			}
			max64 := uint64(maxVal)
			l.Max = &max64
		}
	}

	return l, nil
}

func readTableType(r *Reader) (TableType, error) {
	elemType, err := r.ReadRefType()
	if err != nil {
		return TableType{}, err
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elemType, Limits: limits}, nil
}

func readMemoryType(r *Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *Reader) (GlobalType, error) {
	valType, err := r.ReadValType()
	if err != nil {
		return GlobalType{}, err
	}
	mutOffset := r.OriginalPosition()
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, errors.Malformed(mutOffset, "invalid mutability byte 0x%02x", mut)
	}
	return GlobalType{ValType: valType, Mutable: mut == 1}, nil
}

func readTagType(r *Reader) (TagType, error) {
	attrOffset := r.OriginalPosition()
	attribute, err := r.ReadByte()
	if err != nil {
		return TagType{}, err
	}
	if attribute != 0 {
		return TagType{}, errors.Malformed(attrOffset, "invalid tag attribute 0x%02x", attribute)
	}
	typeIdx, err := r.ReadVarU32()
	if err != nil {
		return TagType{}, err
	}
	return TagType{Attribute: attribute, TypeIdx: typeIdx}, nil
}

// TypeSectionReader lazily decodes function signatures from a type section.
type TypeSectionReader struct {
	sectionReader
}

// NewTypeSectionReader constructs a reader over the section payload bytes,
// which begin at the given absolute offset.
func NewTypeSectionReader(data []byte, offset int) (*TypeSectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &TypeSectionReader{s}, nil
}

// Read decodes the next function signature.
func (s *TypeSectionReader) Read() (FuncType, error) {
	if err := s.beginItem(); err != nil {
		return FuncType{}, err
	}
	formOffset := s.r.OriginalPosition()
	form, err := s.r.ReadByte()
	if err != nil {
		return FuncType{}, err
	}
	if form != FuncTypeByte {
		return FuncType{}, errors.Malformed(formOffset, "expected functype (0x60), got 0x%02x", form)
	}
	params, err := readValTypeVec(s.r)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readValTypeVec(s.r)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func readValTypeVec(r *Reader) ([]ValType, error) {
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, errors.Malformed(r.OriginalPosition(), "value type count %d larger than remaining input", count)
	}
	types := make([]ValType, count)
	for i := uint32(0); i < count; i++ {
		types[i], err = r.ReadValType()
		if err != nil {
			return nil, err
		}
	}
	return types, nil
}

// ImportSectionReader lazily decodes import entries.
type ImportSectionReader struct {
	sectionReader
}

func NewImportSectionReader(data []byte, offset int) (*ImportSectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &ImportSectionReader{s}, nil
}

// Read decodes the next import entry.
func (s *ImportSectionReader) Read() (Import, error) {
	if err := s.beginItem(); err != nil {
		return Import{}, err
	}
	module, err := s.r.ReadString()
	if err != nil {
		return Import{}, err
	}
	name, err := s.r.ReadString()
	if err != nil {
		return Import{}, err
	}
	kindOffset := s.r.OriginalPosition()
	kind, err := s.r.ReadByte()
	if err != nil {
		return Import{}, err
	}

	imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

	switch kind {
	case KindFunc:
		imp.Desc.TypeIdx, err = s.r.ReadVarU32()
	case KindTable:
		var table TableType
		table, err = readTableType(s.r)
		imp.Desc.Table = &table
	case KindMemory:
		var memory MemoryType
		memory, err = readMemoryType(s.r)
		imp.Desc.Memory = &memory
	case KindGlobal:
		var global GlobalType
		global, err = readGlobalType(s.r)
		imp.Desc.Global = &global
	case KindTag:
		var tag TagType
		tag, err = readTagType(s.r)
		imp.Desc.Tag = &tag
	default:
		return Import{}, errors.Malformed(kindOffset, "invalid import kind 0x%02x", kind)
	}
	if err != nil {
		return Import{}, err
	}
	return imp, nil
}

// FunctionSectionReader lazily decodes type indices from the function
// section.
type FunctionSectionReader struct {
	sectionReader
}

func NewFunctionSectionReader(data []byte, offset int) (*FunctionSectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &FunctionSectionReader{s}, nil
}

// Read decodes the next function's type index.
func (s *FunctionSectionReader) Read() (uint32, error) {
	if err := s.beginItem(); err != nil {
		return 0, err
	}
	return s.r.ReadVarU32()
}

// TableSectionReader lazily decodes table definitions.
type TableSectionReader struct {
	sectionReader
}

func NewTableSectionReader(data []byte, offset int) (*TableSectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &TableSectionReader{s}, nil
}

// Read decodes the next table type.
func (s *TableSectionReader) Read() (TableType, error) {
	if err := s.beginItem(); err != nil {
		return TableType{}, err
	}
	return readTableType(s.r)
}

// MemorySectionReader lazily decodes memory definitions.
type MemorySectionReader struct {
	sectionReader
}

func NewMemorySectionReader(data []byte, offset int) (*MemorySectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &MemorySectionReader{s}, nil
}

// Read decodes the next memory type.
func (s *MemorySectionReader) Read() (MemoryType, error) {
	if err := s.beginItem(); err != nil {
		return MemoryType{}, err
	}
	return readMemoryType(s.r)
}

// GlobalSectionReader lazily decodes global definitions.
type GlobalSectionReader struct {
	sectionReader
}

func NewGlobalSectionReader(data []byte, offset int) (*GlobalSectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &GlobalSectionReader{s}, nil
}

// Read decodes the next global definition with its init expression.
func (s *GlobalSectionReader) Read() (Global, error) {
	if err := s.beginItem(); err != nil {
		return Global{}, err
	}
	globalType, err := readGlobalType(s.r)
	if err != nil {
		return Global{}, err
	}
	init, err := s.r.SkipInitExpr()
	if err != nil {
		return Global{}, err
	}
	return Global{Type: globalType, Init: init}, nil
}

// ExportSectionReader lazily decodes export entries.
type ExportSectionReader struct {
	sectionReader
}

func NewExportSectionReader(data []byte, offset int) (*ExportSectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &ExportSectionReader{s}, nil
}

// Read decodes the next export entry.
func (s *ExportSectionReader) Read() (Export, error) {
	if err := s.beginItem(); err != nil {
		return Export{}, err
	}
	name, err := s.r.ReadString()
	if err != nil {
		return Export{}, err
	}
	kindOffset := s.r.OriginalPosition()
	kind, err := s.r.ReadByte()
	if err != nil {
		return Export{}, err
	}
	if kind > KindTag {
		return Export{}, errors.Malformed(kindOffset, "invalid export kind 0x%02x", kind)
	}
	idx, err := s.r.ReadVarU32()
	if err != nil {
		return Export{}, err
	}
	return Export{Name: name, Kind: kind, Idx: idx}, nil
}

// ElementSectionReader lazily decodes element segments.
type ElementSectionReader struct {
	sectionReader
}

func NewElementSectionReader(data []byte, offset int) (*ElementSectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &ElementSectionReader{s}, nil
}

// Read decodes the next element segment.
//
// The flags byte encodes eight layouts (low three bits): bit0 selects
// passive-or-declared, bit1 selects an explicit table index (or declared when
// bit0 is also set), bit2 selects expression items over function indices.
func (s *ElementSectionReader) Read() (Element, error) {
	if err := s.beginItem(); err != nil {
		return Element{}, err
	}
	flagsOffset := s.r.OriginalPosition()
	flags, err := s.r.ReadVarU32()
	if err != nil {
		return Element{}, err
	}
	if flags > 7 {
		return Element{}, errors.Malformed(flagsOffset, "invalid element segment flags %d", flags)
	}

	elem := Element{Type: ValFuncRef}
	switch {
	case flags&0x01 == 0:
		elem.Kind = ElementActive
	case flags&0x02 == 0:
		elem.Kind = ElementPassive
	default:
		elem.Kind = ElementDeclared
	}

	hasTableIdx := flags&0x02 != 0 && flags&0x01 == 0
	usesExprs := flags&0x04 != 0

	if hasTableIdx {
		elem.TableIdx, err = s.r.ReadVarU32()
		if err != nil {
			return Element{}, err
		}
	}

	if elem.Kind == ElementActive {
		elem.Offset, err = s.r.SkipInitExpr()
		if err != nil {
			return Element{}, err
		}
	}

	// Flags 1-3 carry an elemkind byte, flags 5-7 a reftype.
	if flags&0x03 != 0 {
		if usesExprs {
			elem.Type, err = s.r.ReadRefType()
			if err != nil {
				return Element{}, err
			}
		} else {
			kindOffset := s.r.OriginalPosition()
			elemKind, err := s.r.ReadByte()
			if err != nil {
				return Element{}, err
			}
			if elemKind != 0x00 {
				return Element{}, errors.Malformed(kindOffset, "invalid element kind 0x%02x", elemKind)
			}
		}
	}

	vecCount, err := s.r.ReadVarU32()
	if err != nil {
		return Element{}, err
	}
	if int(vecCount) > s.r.Len() {
		return Element{}, errors.Malformed(s.r.OriginalPosition(), "element item count %d larger than remaining input", vecCount)
	}

	if usesExprs {
		elem.Exprs = make([]InitExpr, vecCount)
		for j := uint32(0); j < vecCount; j++ {
			elem.Exprs[j], err = s.r.SkipInitExpr()
			if err != nil {
				return Element{}, err
			}
		}
	} else {
		elem.FuncIdxs = make([]uint32, vecCount)
		for j := uint32(0); j < vecCount; j++ {
			elem.FuncIdxs[j], err = s.r.ReadVarU32()
			if err != nil {
				return Element{}, err
			}
		}
	}

	return elem, nil
}

// DataSectionReader lazily decodes data segments.
type DataSectionReader struct {
	sectionReader
	forbidBulkMemory bool
}

func NewDataSectionReader(data []byte, offset int) (*DataSectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &DataSectionReader{sectionReader: s}, nil
}

// ForbidBulkMemory restricts segments to the MVP layout: the leading value is
// interpreted as a memory index and must be zero.
func (s *DataSectionReader) ForbidBulkMemory(forbid bool) {
	s.forbidBulkMemory = forbid
}

// Read decodes the next data segment. The flags byte selects the layout:
// 0 = active memory 0, 1 = passive, 2 = active with explicit memory index.
func (s *DataSectionReader) Read() (Data, error) {
	if err := s.beginItem(); err != nil {
		return Data{}, err
	}
	flagsOffset := s.r.OriginalPosition()
	flags, err := s.r.ReadVarU32()
	if err != nil {
		return Data{}, err
	}

	seg := Data{}
	if s.forbidBulkMemory {
		if flags != 0 {
			return Data{}, errors.Malformed(flagsOffset, "invalid memory index %d: bulk memory not enabled", flags)
		}
	} else if flags > 2 {
		return Data{}, errors.Malformed(flagsOffset, "invalid data segment flags %d", flags)
	}

	switch flags {
	case 1:
		seg.Kind = DataPassive
	case 2:
		seg.Kind = DataActive
		seg.MemIdx, err = s.r.ReadVarU32()
		if err != nil {
			return Data{}, err
		}
	default:
		seg.Kind = DataActive
	}

	if seg.Kind == DataActive {
		seg.Offset, err = s.r.SkipInitExpr()
		if err != nil {
			return Data{}, err
		}
	}

	initLen, err := s.r.ReadVarU32()
	if err != nil {
		return Data{}, err
	}
	seg.Init, err = s.r.ReadBytes(int(initLen))
	if err != nil {
		return Data{}, err
	}

	return seg, nil
}

// TagSectionReader lazily decodes exception tags.
type TagSectionReader struct {
	sectionReader
}

func NewTagSectionReader(data []byte, offset int) (*TagSectionReader, error) {
	s, err := newSectionReader(data, offset)
	if err != nil {
		return nil, err
	}
	return &TagSectionReader{s}, nil
}

// Read decodes the next tag type.
func (s *TagSectionReader) Read() (TagType, error) {
	if err := s.beginItem(); err != nil {
		return TagType{}, err
	}
	return readTagType(s.r)
}

// readFunctionBody decodes one code-section entry: the size-prefixed body
// with its local declarations, leaving the operator bytes borrowed.
func readFunctionBody(r *Reader) (FunctionBody, error) {
	start := r.OriginalPosition()
	bodySize, err := r.ReadVarU32()
	if err != nil {
		return FunctionBody{}, err
	}
	bodyStart := r.OriginalPosition()
	bodyData, err := r.ReadBytes(int(bodySize))
	if err != nil {
		return FunctionBody{}, err
	}

	br := NewReader(bodyData, bodyStart)
	localCount, err := br.ReadVarU32()
	if err != nil {
		return FunctionBody{}, err
	}
	if int(localCount) > br.Len() {
		return FunctionBody{}, errors.Malformed(br.OriginalPosition(), "local declaration count %d larger than remaining input", localCount)
	}
	var locals []LocalDecl
	for j := uint32(0); j < localCount; j++ {
		n, err := br.ReadVarU32()
		if err != nil {
			return FunctionBody{}, err
		}
		t, err := br.ReadValType()
		if err != nil {
			return FunctionBody{}, err
		}
		locals = append(locals, LocalDecl{Count: n, ValType: t})
	}

	codeOffset := br.OriginalPosition()
	code, err := br.ReadBytes(br.Len())
	if err != nil {
		return FunctionBody{}, err
	}

	return FunctionBody{
		Locals:     locals,
		Code:       code,
		CodeOffset: codeOffset,
		Start:      start,
		End:        r.OriginalPosition(),
	}, nil
}
