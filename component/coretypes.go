package component

import (
	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

// CoreType is one entry of a core-type section: either a core function
// signature or a core module type.
type CoreType struct {
	Func   *wasm.FuncType
	Module *wasm.ModuleType
	Offset int
}

func decodeCoreTypes(data []byte, offset int) ([]CoreType, error) {
	r := wasm.NewReader(data, offset)
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}

	types := make([]CoreType, 0, count)
	for i := uint32(0); i < count; i++ {
		itemOffset := r.OriginalPosition()
		form, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		ct := CoreType{Offset: itemOffset}
		switch form {
		case 0x60:
			ft, err := readCoreFuncType(r)
			if err != nil {
				return nil, err
			}
			ct.Func = ft
		case 0x50:
			mt, err := readCoreModuleType(r)
			if err != nil {
				return nil, err
			}
			ct.Module = mt
		default:
			return nil, errors.Malformed(itemOffset, "invalid core type form 0x%02x", form)
		}
		types = append(types, ct)
	}
	if !r.EOF() {
		return nil, errors.Malformed(r.OriginalPosition(), "unexpected content in the end of the core type section")
	}
	return types, nil
}

func readCoreFuncType(r *wasm.Reader) (*wasm.FuncType, error) {
	var lists [2][]wasm.ValType
	for pass := 0; pass < 2; pass++ {
		count, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		if int(count) > r.Len() {
			return nil, errors.Malformed(r.OriginalPosition(), "value type count %d larger than remaining input", count)
		}
		types := make([]wasm.ValType, count)
		for i := uint32(0); i < count; i++ {
			types[i], err = r.ReadValType()
			if err != nil {
				return nil, err
			}
		}
		lists[pass] = types
	}
	return &wasm.FuncType{Params: lists[0], Results: lists[1]}, nil
}

// readCoreModuleType reads a core module type: a declaration list of
// imports, types, outer aliases, and exports. Function imports and exports
// are resolved against the module type's local core type space.
func readCoreModuleType(r *wasm.Reader) (*wasm.ModuleType, error) {
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}

	mt := &wasm.ModuleType{
		Imports: make(map[string]wasm.EntityType),
		Exports: make(map[string]wasm.EntityType),
	}
	var localTypes []*wasm.FuncType

	for i := uint32(0); i < count; i++ {
		kindOffset := r.OriginalPosition()
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch kind {
		case 0x00: // import declaration
			module, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			name, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			et, err := readCoreEntity(r, localTypes)
			if err != nil {
				return nil, err
			}
			mt.Imports[module+"\x00"+name] = et
		case 0x01: // type declaration
			if err := expectByte(r, 0x60); err != nil {
				return nil, err
			}
			ft, err := readCoreFuncType(r)
			if err != nil {
				return nil, err
			}
			localTypes = append(localTypes, ft)
		case 0x02: // outer alias of a core type
			alias, err := readAlias(r)
			if err != nil {
				return nil, err
			}
			if alias.TargetKind != AliasTargetOuter {
				return nil, errors.Malformed(kindOffset, "invalid alias in module type")
			}
			// The aliased type is opaque at this level.
			localTypes = append(localTypes, nil)
		case 0x03: // export declaration
			name, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			et, err := readCoreEntity(r, localTypes)
			if err != nil {
				return nil, err
			}
			mt.Exports[name] = et
		default:
			return nil, errors.Malformed(kindOffset, "invalid module type declaration 0x%02x", kind)
		}
	}
	return mt, nil
}

// readCoreEntity reads a core import/export descriptor within a module type.
func readCoreEntity(r *wasm.Reader, localTypes []*wasm.FuncType) (wasm.EntityType, error) {
	kindOffset := r.OriginalPosition()
	kind, err := r.ReadByte()
	if err != nil {
		return wasm.EntityType{}, err
	}
	et := wasm.EntityType{Kind: kind}
	switch kind {
	case wasm.KindFunc:
		idx, err := r.ReadVarU32()
		if err != nil {
			return wasm.EntityType{}, err
		}
		if int(idx) >= len(localTypes) {
			return wasm.EntityType{}, errors.Invalid(kindOffset, "unknown type %d in module type", idx)
		}
		et.Func = wasm.TypeID(idx)
	case wasm.KindTable:
		tt, err := readCoreTableType(r)
		if err != nil {
			return wasm.EntityType{}, err
		}
		et.Table = tt
	case wasm.KindMemory:
		mt, err := readCoreMemoryType(r)
		if err != nil {
			return wasm.EntityType{}, err
		}
		et.Memory = mt
	case wasm.KindGlobal:
		gt, err := readCoreGlobalType(r)
		if err != nil {
			return wasm.EntityType{}, err
		}
		et.Global = gt
	default:
		return wasm.EntityType{}, errors.Malformed(kindOffset, "invalid entity kind 0x%02x in module type", kind)
	}
	return et, nil
}

func readCoreTableType(r *wasm.Reader) (*wasm.TableType, error) {
	elemType, err := r.ReadRefType()
	if err != nil {
		return nil, err
	}
	limits, err := readCoreLimits(r)
	if err != nil {
		return nil, err
	}
	return &wasm.TableType{ElemType: elemType, Limits: *limits}, nil
}

func readCoreMemoryType(r *wasm.Reader) (*wasm.MemoryType, error) {
	limits, err := readCoreLimits(r)
	if err != nil {
		return nil, err
	}
	return &wasm.MemoryType{Limits: *limits}, nil
}

func readCoreGlobalType(r *wasm.Reader) (*wasm.GlobalType, error) {
	valType, err := r.ReadValType()
	if err != nil {
		return nil, err
	}
	mutOffset := r.OriginalPosition()
	mut, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if mut > 1 {
		return nil, errors.Malformed(mutOffset, "invalid mutability byte 0x%02x", mut)
	}
	return &wasm.GlobalType{ValType: valType, Mutable: mut == 1}, nil
}

func readCoreLimits(r *wasm.Reader) (*wasm.Limits, error) {
	flagsOffset := r.OriginalPosition()
	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags > 0x07 {
		return nil, errors.Malformed(flagsOffset, "invalid limits flags 0x%02x", flags)
	}
	l := &wasm.Limits{
		Shared:   flags&wasm.LimitsShared != 0,
		Memory64: flags&wasm.LimitsMemory64 != 0,
	}
	minVal, err := r.ReadVarU64()
	if err != nil {
		return nil, err
	}
	l.Min = minVal
	if flags&wasm.LimitsHasMax != 0 {
		maxVal, err := r.ReadVarU64()
		if err != nil {
			return nil, err
		}
		l.Max = &maxVal
	}
	return l, nil
}
