package wasm

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef,
// and ValExtern.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// IsRef reports whether the value type is a reference type
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// FuncType represents a WebAssembly function signature with parameter and
// result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures have identical parameters and results
func (f *FuncType) Equal(o *FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// TableType describes a table with element type and size limits.
type TableType struct {
	ElemType ValType
	Limits   Limits
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global definition with its initializer expression.
// Init borrows from the original buffer.
type Global struct {
	Type GlobalType
	Init InitExpr
}

// TagType describes an exception handling tag.
type TagType struct {
	Attribute byte   // Tag attribute (0 = exception)
	TypeIdx   uint32 // Function type index for the tag signature
}

// Import represents an imported function, table, memory, global, or tag.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, KindGlobal, or KindTag.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	Tag     *TagType
	TypeIdx uint32
	Kind    byte
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// ElementKind distinguishes the three element segment modes.
type ElementKind byte

const (
	ElementActive ElementKind = iota
	ElementPassive
	ElementDeclared
)

// Element represents an element segment. Exactly one of FuncIdxs or Exprs is
// populated, selected by the segment's flags byte. Offset is only meaningful
// for active segments.
type Element struct {
	Kind     ElementKind
	Type     ValType
	TableIdx uint32
	Offset   InitExpr
	FuncIdxs []uint32
	Exprs    []InitExpr
}

// DataKind distinguishes passive from active data segments.
type DataKind byte

const (
	DataActive DataKind = iota
	DataPassive
)

// Data represents a data segment. Init borrows the segment payload from the
// original buffer.
type Data struct {
	Kind   DataKind
	MemIdx uint32
	Offset InitExpr
	Init   []byte
}

// LocalDecl represents a run of local variables with the same type.
type LocalDecl struct {
	Count   uint32
	ValType ValType
}

// FunctionBody represents one code-section entry. Code borrows the operator
// bytes (including the terminating end opcode) from the original buffer;
// CodeOffset is their absolute position.
type FunctionBody struct {
	Locals     []LocalDecl
	Code       []byte
	CodeOffset int
	Start      int
	End        int
}

// Range locates a payload within the original buffer.
type Range struct {
	Start int
	End   int
}
