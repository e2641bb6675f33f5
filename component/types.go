package component

import (
	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

// ValType is a component value type: a primitive byte or a type index.
type ValType struct {
	Primitive byte
	TypeIndex uint32
	IsIndex   bool
}

// Param is a named function parameter.
type Param struct {
	Name string
	Type ValType
}

// FuncType is a component-level function signature.
type FuncType struct {
	Params []Param
	Result *ValType
}

// Field is a record field.
type Field struct {
	Name string
	Type ValType
}

// Case is a variant case.
type Case struct {
	Type    *ValType
	Refines *uint32
	Name    string
}

// DefinedType is a structural component value type definition.
type DefinedType struct {
	Fields  []Field  // record
	Cases   []Case   // variant
	Types   []ValType // tuple
	Names   []string // flags, enum
	Elem    *ValType // list, option
	OK      *ValType // result
	Err     *ValType // result
	Target  uint32   // own, borrow, type reference
	Form    byte
}

// ExternDesc describes an imported or exported item inside a type
// declaration.
type ExternDesc struct {
	Sort      byte
	CoreSort  byte
	TypeIndex uint32
	HasBound  bool
	BoundKind byte
}

// Decl is one declaration inside an instance or component type.
type Decl struct {
	Type   *TypeItem   // 0x01 type
	Alias  *Alias      // 0x02 alias
	Import *DeclImport // 0x03 import (component types only)
	Export *DeclExport // 0x04 export
}

// DeclImport is an import declaration inside a component type.
type DeclImport struct {
	Name string
	Desc ExternDesc
}

// DeclExport is an export declaration inside an instance or component type.
type DeclExport struct {
	Name string
	Desc ExternDesc
}

// TypeItem is one entry of a component type section.
type TypeItem struct {
	Func      *FuncType
	Defined   *DefinedType
	Instance  []Decl
	Component []Decl
	IsInstance  bool
	IsComponent bool
	Offset    int
}

func decodeTypeSection(data []byte, offset int) ([]TypeItem, error) {
	r := wasm.NewReader(data, offset)
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	if count > wasm.MaxTypes {
		return nil, errors.LimitExceeded(offset, "types", wasm.MaxTypes)
	}

	items := make([]TypeItem, 0, count)
	for i := uint32(0); i < count; i++ {
		item, err := readTypeItem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if !r.EOF() {
		return nil, errors.Malformed(r.OriginalPosition(), "unexpected content in the end of the type section")
	}
	return items, nil
}

func readTypeItem(r *wasm.Reader) (TypeItem, error) {
	itemOffset := r.OriginalPosition()
	form, err := r.ReadByte()
	if err != nil {
		return TypeItem{}, err
	}

	item := TypeItem{Offset: itemOffset}
	switch form {
	case formFunc:
		ft, err := readComponentFuncType(r)
		if err != nil {
			return TypeItem{}, err
		}
		item.Func = ft
	case formInstance:
		decls, err := readDecls(r, false)
		if err != nil {
			return TypeItem{}, err
		}
		item.Instance = decls
		item.IsInstance = true
	case formComponent:
		decls, err := readDecls(r, true)
		if err != nil {
			return TypeItem{}, err
		}
		item.Component = decls
		item.IsComponent = true
	default:
		dt, err := readDefinedType(r, form, itemOffset)
		if err != nil {
			return TypeItem{}, err
		}
		item.Defined = dt
	}
	return item, nil
}

func readValType(r *wasm.Reader) (ValType, error) {
	offset := r.OriginalPosition()
	// Value types are encoded as s33: negative one-byte values are
	// primitives, non-negative values are type indices.
	v, err := r.ReadVarS64()
	if err != nil {
		return ValType{}, err
	}
	if v >= 0 {
		return ValType{TypeIndex: uint32(v), IsIndex: true}, nil
	}
	b := byte(v & 0x7F)
	if b < 0x68 || b > primBool {
		return ValType{}, errors.Malformed(offset, "invalid primitive value type 0x%02x", b)
	}
	return ValType{Primitive: b}, nil
}

func readComponentFuncType(r *wasm.Reader) (*FuncType, error) {
	paramCount, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	if int(paramCount) > r.Len() {
		return nil, errors.Malformed(r.OriginalPosition(), "param count %d larger than remaining input", paramCount)
	}
	params := make([]Param, 0, paramCount)
	for i := uint32(0); i < paramCount; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Name: name, Type: vt})
	}

	// The result list is a discriminated union, not a vector: 0x00 valtype
	// for one result, 0x01 0x00 for none.
	discOffset := r.OriginalPosition()
	disc, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	ft := &FuncType{Params: params}
	switch disc {
	case 0x00:
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		ft.Result = &vt
	case 0x01:
		if err := expectByte(r, 0x00); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Malformed(discOffset, "invalid result list discriminant 0x%02x", disc)
	}
	return ft, nil
}

func readDefinedType(r *wasm.Reader, form byte, offset int) (*DefinedType, error) {
	dt := &DefinedType{Form: form}
	switch form {
	case formRecord:
		count, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			name, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			vt, err := readValType(r)
			if err != nil {
				return nil, err
			}
			dt.Fields = append(dt.Fields, Field{Name: name, Type: vt})
		}
	case formVariant:
		count, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			name, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			c := Case{Name: name}
			hasType, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if hasType == 0x01 {
				vt, err := readValType(r)
				if err != nil {
					return nil, err
				}
				c.Type = &vt
			}
			hasRefines, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if hasRefines == 0x01 {
				idx, err := r.ReadVarU32()
				if err != nil {
					return nil, err
				}
				c.Refines = &idx
			}
			dt.Cases = append(dt.Cases, c)
		}
	case formList:
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		dt.Elem = &vt
	case formTuple:
		count, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			vt, err := readValType(r)
			if err != nil {
				return nil, err
			}
			dt.Types = append(dt.Types, vt)
		}
	case formFlags, formEnum:
		count, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			name, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			dt.Names = append(dt.Names, name)
		}
	case formOption:
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		dt.Elem = &vt
	case formResult:
		hasOK, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if hasOK == 0x01 {
			vt, err := readValType(r)
			if err != nil {
				return nil, err
			}
			dt.OK = &vt
		}
		hasErr, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if hasErr == 0x01 {
			vt, err := readValType(r)
			if err != nil {
				return nil, err
			}
			dt.Err = &vt
		}
	case formOwn, formBorrow:
		idx, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		dt.Target = idx
	default:
		if form >= 0x73 && form <= 0x7F {
			// Primitive defined type
			return dt, nil
		}
		return nil, errors.Malformed(offset, "invalid type form 0x%02x", form)
	}
	return dt, nil
}

// readDecls reads the declaration list of an instance or component type.
// Component types additionally allow import declarations.
func readDecls(r *wasm.Reader, allowImports bool) ([]Decl, error) {
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	decls := make([]Decl, 0, count)
	for i := uint32(0); i < count; i++ {
		kindOffset := r.OriginalPosition()
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var decl Decl
		switch kind {
		case 0x00: // core type declaration; parsed and discarded
			if err := skipCoreType(r); err != nil {
				return nil, err
			}
			continue
		case 0x01: // type
			item, err := readTypeItem(r)
			if err != nil {
				return nil, err
			}
			decl.Type = &item
		case 0x02: // alias
			alias, err := readAlias(r)
			if err != nil {
				return nil, err
			}
			decl.Alias = &alias
		case 0x03: // import declaration
			if !allowImports {
				return nil, errors.Malformed(kindOffset, "import declaration in instance type")
			}
			name, err := readImportExportName(r)
			if err != nil {
				return nil, err
			}
			desc, err := readExternDesc(r)
			if err != nil {
				return nil, err
			}
			decl.Import = &DeclImport{Name: name, Desc: desc}
		case 0x04: // export declaration
			name, err := readImportExportName(r)
			if err != nil {
				return nil, err
			}
			desc, err := readExternDesc(r)
			if err != nil {
				return nil, err
			}
			decl.Export = &DeclExport{Name: name, Desc: desc}
		default:
			return nil, errors.Malformed(kindOffset, "invalid declaration kind 0x%02x", kind)
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

func readExternDesc(r *wasm.Reader) (ExternDesc, error) {
	sortOffset := r.OriginalPosition()
	sort, err := r.ReadByte()
	if err != nil {
		return ExternDesc{}, err
	}
	desc := ExternDesc{Sort: sort}
	switch sort {
	case SortCore:
		desc.CoreSort, err = r.ReadByte()
		if err != nil {
			return ExternDesc{}, err
		}
		if desc.CoreSort != CoreSortModule {
			return ExternDesc{}, errors.Malformed(sortOffset, "invalid core sort 0x%02x in extern descriptor", desc.CoreSort)
		}
		desc.TypeIndex, err = r.ReadVarU32()
	case SortType:
		desc.HasBound = true
		desc.BoundKind, err = r.ReadByte()
		if err != nil {
			return ExternDesc{}, err
		}
		switch desc.BoundKind {
		case 0x00:
			desc.TypeIndex, err = r.ReadVarU32()
		case 0x01:
		default:
			return ExternDesc{}, errors.Malformed(sortOffset, "invalid type bound kind 0x%02x", desc.BoundKind)
		}
	case SortFunc, SortValue, SortComponent, SortInstance:
		desc.TypeIndex, err = r.ReadVarU32()
	default:
		return ExternDesc{}, errors.Malformed(sortOffset, "invalid sort 0x%02x in extern descriptor", sort)
	}
	if err != nil {
		return ExternDesc{}, err
	}
	return desc, nil
}

// skipCoreType consumes one core type: a function signature or a module
// type with its declaration list.
func skipCoreType(r *wasm.Reader) error {
	formOffset := r.OriginalPosition()
	form, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch form {
	case 0x60: // core functype
		return skipCoreFuncType(r)
	case 0x50: // core moduletype
		_, err := readCoreModuleType(r)
		return err
	default:
		return errors.Malformed(formOffset, "invalid core type form 0x%02x", form)
	}
}

func skipCoreFuncType(r *wasm.Reader) error {
	for pass := 0; pass < 2; pass++ {
		count, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < count; i++ {
			if _, err := r.ReadValType(); err != nil {
				return err
			}
		}
	}
	return nil
}
