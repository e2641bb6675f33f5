package component

import (
	"github.com/wippyai/wasm-toolkit/errors"
	"github.com/wippyai/wasm-toolkit/wasm"
)

// externDesc sort kinds
const (
	SortCore      byte = 0x00
	SortFunc      byte = 0x01
	SortValue     byte = 0x02
	SortType      byte = 0x03
	SortComponent byte = 0x04
	SortInstance  byte = 0x05
)

// Core sorts, following the 0x00 core sort byte
const (
	CoreSortFunc     byte = 0x00
	CoreSortTable    byte = 0x01
	CoreSortMemory   byte = 0x02
	CoreSortGlobal   byte = 0x03
	CoreSortType     byte = 0x10
	CoreSortModule   byte = 0x11
	CoreSortInstance byte = 0x12
)

// Alias target kinds
const (
	AliasTargetExport     byte = 0x00 // sibling instance export
	AliasTargetCoreExport byte = 0x01 // core instance export
	AliasTargetOuter      byte = 0x02 // outer scope, by depth
)

// Canon kinds
const (
	CanonLift         byte = 0x00
	CanonLower        byte = 0x01
	CanonResourceNew  byte = 0x02
	CanonResourceDrop byte = 0x03
	CanonResourceRep  byte = 0x04
)

// Canonical option kinds
const (
	CanonOptUTF8         byte = 0x00
	CanonOptUTF16        byte = 0x01
	CanonOptCompactUTF16 byte = 0x02
	CanonOptMemory       byte = 0x03
	CanonOptRealloc      byte = 0x04
	CanonOptPostReturn   byte = 0x05
)

// Type form bytes in the component type section
const (
	formFunc      byte = 0x40
	formComponent byte = 0x41
	formInstance  byte = 0x42

	formRecord  byte = 0x72
	formVariant byte = 0x71
	formList    byte = 0x70
	formTuple   byte = 0x6F
	formFlags   byte = 0x6E
	formEnum    byte = 0x6D
	formOption  byte = 0x6B
	formResult  byte = 0x6A
	formOwn     byte = 0x69
	formBorrow  byte = 0x68

	primString byte = 0x73
	primBool   byte = 0x7F
)

// Import is one entry of a component import section.
type Import struct {
	Name       string
	ExternKind byte
	TypeIndex  uint32
	HasBound   bool
	BoundKind  byte
	Offset     int
}

// Export is one entry of a component export section.
type Export struct {
	Name      string
	Sort      byte
	CoreSort  byte
	SortIndex uint32
	Offset    int
}

// Alias is one entry of an alias section.
type Alias struct {
	Name       string
	Instance   uint32
	OuterCount uint32
	OuterIndex uint32
	Sort       byte
	CoreSort   byte
	TargetKind byte
	Offset     int
}

// CanonOption is a single canonical ABI option.
type CanonOption struct {
	Kind  byte
	Index uint32
}

// Canon is one canonical ABI definition.
type Canon struct {
	Options   []CanonOption
	FuncIndex uint32
	TypeIndex uint32
	Resource  uint32
	Kind      byte
	Offset    int
}

// Start is a component start function invocation.
type Start struct {
	Args      []uint32
	FuncIndex uint32
	Results   uint32
	Offset    int
}

// InstanceArg is one (name -> item) binding of an instantiation.
type InstanceArg struct {
	Name     string
	Sort     byte
	CoreSort byte
	Index    uint32
}

// InlineExport is one export of an inline-exports instance.
type InlineExport struct {
	Name     string
	Sort     byte
	CoreSort byte
	Index    uint32
}

// CoreInstance is one entry of a core-instance section.
type CoreInstance struct {
	Args      []InstanceArg
	Exports   []InlineExport
	ModuleIdx uint32
	Instantiate bool
	Offset    int
}

// Instance is one entry of a component instance section.
type Instance struct {
	Args         []InstanceArg
	Exports      []InlineExport
	ComponentIdx uint32
	Instantiate  bool
	Offset       int
}

// readImportExportName reads the tagged name that prefixes component imports
// and exports.
func readImportExportName(r *wasm.Reader) (string, error) {
	kindOffset := r.OriginalPosition()
	kind, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if kind != 0x00 && kind != 0x01 {
		return "", errors.Malformed(kindOffset, "invalid name tag 0x%02x", kind)
	}
	return r.ReadString()
}

func decodeImports(data []byte, offset int) ([]Import, error) {
	r := wasm.NewReader(data, offset)
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	if count > wasm.MaxExports {
		return nil, errors.LimitExceeded(offset, "imports", wasm.MaxExports)
	}

	imports := make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		itemOffset := r.OriginalPosition()
		name, err := readImportExportName(r)
		if err != nil {
			return nil, err
		}

		kindOffset := r.OriginalPosition()
		externKind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		imp := Import{Name: name, ExternKind: externKind, Offset: itemOffset}

		switch externKind {
		case SortCore:
			coreSort, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if coreSort != CoreSortModule {
				return nil, errors.Malformed(kindOffset, "invalid core sort 0x%02x in import", coreSort)
			}
			imp.TypeIndex, err = r.ReadVarU32()
			if err != nil {
				return nil, err
			}
		case SortType:
			boundKind, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			imp.HasBound = true
			imp.BoundKind = boundKind
			switch boundKind {
			case 0x00: // eq bound, type index follows
				imp.TypeIndex, err = r.ReadVarU32()
				if err != nil {
					return nil, err
				}
			case 0x01: // sub-resource bound, fresh resource
			default:
				return nil, errors.Malformed(kindOffset, "invalid type bound kind 0x%02x", boundKind)
			}
		case SortFunc, SortValue, SortComponent, SortInstance:
			imp.TypeIndex, err = r.ReadVarU32()
			if err != nil {
				return nil, err
			}
		default:
			return nil, errors.Malformed(kindOffset, "invalid import sort 0x%02x", externKind)
		}

		imports = append(imports, imp)
	}
	if !r.EOF() {
		return nil, errors.Malformed(r.OriginalPosition(), "unexpected content in the end of the import section")
	}
	return imports, nil
}

func decodeExports(data []byte, offset int) ([]Export, error) {
	r := wasm.NewReader(data, offset)
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	if count > wasm.MaxExports {
		return nil, errors.LimitExceeded(offset, "exports", wasm.MaxExports)
	}

	exports := make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		itemOffset := r.OriginalPosition()
		name, err := readImportExportName(r)
		if err != nil {
			return nil, err
		}
		sort, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		exp := Export{Name: name, Sort: sort, Offset: itemOffset}
		if sort == SortCore {
			exp.CoreSort, err = r.ReadByte()
			if err != nil {
				return nil, err
			}
		}
		exp.SortIndex, err = r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		exports = append(exports, exp)
	}
	if !r.EOF() {
		return nil, errors.Malformed(r.OriginalPosition(), "unexpected content in the end of the export section")
	}
	return exports, nil
}

func decodeAliases(data []byte, offset int) ([]Alias, error) {
	r := wasm.NewReader(data, offset)
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}

	aliases := make([]Alias, 0, count)
	for i := uint32(0); i < count; i++ {
		alias, err := readAlias(r)
		if err != nil {
			return nil, err
		}
		aliases = append(aliases, alias)
	}
	if !r.EOF() {
		return nil, errors.Malformed(r.OriginalPosition(), "unexpected content in the end of the alias section")
	}
	return aliases, nil
}

func readAlias(r *wasm.Reader) (Alias, error) {
	itemOffset := r.OriginalPosition()
	sort, err := r.ReadByte()
	if err != nil {
		return Alias{}, err
	}

	alias := Alias{Sort: sort, Offset: itemOffset}
	if sort == SortCore {
		alias.CoreSort, err = r.ReadByte()
		if err != nil {
			return Alias{}, err
		}
	}

	kindOffset := r.OriginalPosition()
	alias.TargetKind, err = r.ReadByte()
	if err != nil {
		return Alias{}, err
	}

	switch alias.TargetKind {
	case AliasTargetExport, AliasTargetCoreExport:
		alias.Instance, err = r.ReadVarU32()
		if err != nil {
			return Alias{}, err
		}
		alias.Name, err = r.ReadString()
		if err != nil {
			return Alias{}, err
		}
	case AliasTargetOuter:
		alias.OuterCount, err = r.ReadVarU32()
		if err != nil {
			return Alias{}, err
		}
		alias.OuterIndex, err = r.ReadVarU32()
		if err != nil {
			return Alias{}, err
		}
	default:
		return Alias{}, errors.Malformed(kindOffset, "invalid alias target kind 0x%02x", alias.TargetKind)
	}
	return alias, nil
}

func decodeCanons(data []byte, offset int) ([]Canon, error) {
	r := wasm.NewReader(data, offset)
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}

	canons := make([]Canon, 0, count)
	for i := uint32(0); i < count; i++ {
		itemOffset := r.OriginalPosition()
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		canon := Canon{Kind: kind, Offset: itemOffset}
		switch kind {
		case CanonLift:
			if err := expectByte(r, 0x00); err != nil {
				return nil, err
			}
			canon.FuncIndex, err = r.ReadVarU32()
			if err != nil {
				return nil, err
			}
			canon.Options, err = readCanonOptions(r)
			if err != nil {
				return nil, err
			}
			canon.TypeIndex, err = r.ReadVarU32()
			if err != nil {
				return nil, err
			}
		case CanonLower:
			if err := expectByte(r, 0x00); err != nil {
				return nil, err
			}
			canon.FuncIndex, err = r.ReadVarU32()
			if err != nil {
				return nil, err
			}
			canon.Options, err = readCanonOptions(r)
			if err != nil {
				return nil, err
			}
		case CanonResourceNew, CanonResourceDrop, CanonResourceRep:
			canon.Resource, err = r.ReadVarU32()
			if err != nil {
				return nil, err
			}
		default:
			return nil, errors.Malformed(itemOffset, "invalid canonical function kind 0x%02x", kind)
		}
		canons = append(canons, canon)
	}
	if !r.EOF() {
		return nil, errors.Malformed(r.OriginalPosition(), "unexpected content in the end of the canonical section")
	}
	return canons, nil
}

func expectByte(r *wasm.Reader, want byte) error {
	offset := r.OriginalPosition()
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != want {
		return errors.Malformed(offset, "expected byte 0x%02x, got 0x%02x", want, b)
	}
	return nil
}

func readCanonOptions(r *wasm.Reader) ([]CanonOption, error) {
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	opts := make([]CanonOption, 0, count)
	for i := uint32(0); i < count; i++ {
		kindOffset := r.OriginalPosition()
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		opt := CanonOption{Kind: kind}
		switch kind {
		case CanonOptUTF8, CanonOptUTF16, CanonOptCompactUTF16:
		case CanonOptMemory, CanonOptRealloc, CanonOptPostReturn:
			opt.Index, err = r.ReadVarU32()
			if err != nil {
				return nil, err
			}
		default:
			return nil, errors.Malformed(kindOffset, "invalid canonical option 0x%02x", kind)
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

func decodeStart(data []byte, offset int) (Start, error) {
	r := wasm.NewReader(data, offset)
	start := Start{Offset: offset}
	var err error
	start.FuncIndex, err = r.ReadVarU32()
	if err != nil {
		return Start{}, err
	}
	argCount, err := r.ReadVarU32()
	if err != nil {
		return Start{}, err
	}
	if int(argCount) > r.Len() {
		return Start{}, errors.Malformed(r.OriginalPosition(), "start argument count %d larger than remaining input", argCount)
	}
	start.Args = make([]uint32, argCount)
	for i := uint32(0); i < argCount; i++ {
		start.Args[i], err = r.ReadVarU32()
		if err != nil {
			return Start{}, err
		}
	}
	start.Results, err = r.ReadVarU32()
	if err != nil {
		return Start{}, err
	}
	if !r.EOF() {
		return Start{}, errors.Malformed(r.OriginalPosition(), "unexpected content in the end of the start section")
	}
	return start, nil
}

func decodeCoreInstances(data []byte, offset int) ([]CoreInstance, error) {
	r := wasm.NewReader(data, offset)
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}

	instances := make([]CoreInstance, 0, count)
	for i := uint32(0); i < count; i++ {
		itemOffset := r.OriginalPosition()
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		inst := CoreInstance{Offset: itemOffset}
		switch kind {
		case 0x00: // instantiate module
			inst.Instantiate = true
			inst.ModuleIdx, err = r.ReadVarU32()
			if err != nil {
				return nil, err
			}
			argCount, err := r.ReadVarU32()
			if err != nil {
				return nil, err
			}
			for j := uint32(0); j < argCount; j++ {
				name, err := r.ReadString()
				if err != nil {
					return nil, err
				}
				if err := expectByte(r, CoreSortInstance); err != nil {
					return nil, err
				}
				idx, err := r.ReadVarU32()
				if err != nil {
					return nil, err
				}
				inst.Args = append(inst.Args, InstanceArg{Name: name, Sort: SortCore, CoreSort: CoreSortInstance, Index: idx})
			}
		case 0x01: // inline exports
			exportCount, err := r.ReadVarU32()
			if err != nil {
				return nil, err
			}
			for j := uint32(0); j < exportCount; j++ {
				name, err := r.ReadString()
				if err != nil {
					return nil, err
				}
				coreSort, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				idx, err := r.ReadVarU32()
				if err != nil {
					return nil, err
				}
				inst.Exports = append(inst.Exports, InlineExport{Name: name, Sort: SortCore, CoreSort: coreSort, Index: idx})
			}
		default:
			return nil, errors.Malformed(itemOffset, "invalid core instance kind 0x%02x", kind)
		}
		instances = append(instances, inst)
	}
	if !r.EOF() {
		return nil, errors.Malformed(r.OriginalPosition(), "unexpected content in the end of the core instance section")
	}
	return instances, nil
}

func decodeInstances(data []byte, offset int) ([]Instance, error) {
	r := wasm.NewReader(data, offset)
	count, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, count)
	for i := uint32(0); i < count; i++ {
		itemOffset := r.OriginalPosition()
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		inst := Instance{Offset: itemOffset}
		switch kind {
		case 0x00: // instantiate component
			inst.Instantiate = true
			inst.ComponentIdx, err = r.ReadVarU32()
			if err != nil {
				return nil, err
			}
			argCount, err := r.ReadVarU32()
			if err != nil {
				return nil, err
			}
			for j := uint32(0); j < argCount; j++ {
				name, err := r.ReadString()
				if err != nil {
					return nil, err
				}
				sort, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				arg := InstanceArg{Name: name, Sort: sort}
				if sort == SortCore {
					arg.CoreSort, err = r.ReadByte()
					if err != nil {
						return nil, err
					}
				}
				arg.Index, err = r.ReadVarU32()
				if err != nil {
					return nil, err
				}
				inst.Args = append(inst.Args, arg)
			}
		case 0x01: // inline exports
			exportCount, err := r.ReadVarU32()
			if err != nil {
				return nil, err
			}
			for j := uint32(0); j < exportCount; j++ {
				name, err := r.ReadString()
				if err != nil {
					return nil, err
				}
				sort, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				exp := InlineExport{Name: name, Sort: sort}
				if sort == SortCore {
					exp.CoreSort, err = r.ReadByte()
					if err != nil {
						return nil, err
					}
				}
				exp.Index, err = r.ReadVarU32()
				if err != nil {
					return nil, err
				}
				inst.Exports = append(inst.Exports, exp)
			}
		default:
			return nil, errors.Malformed(itemOffset, "invalid instance kind 0x%02x", kind)
		}
		instances = append(instances, inst)
	}
	if !r.EOF() {
		return nil, errors.Malformed(r.OriginalPosition(), "unexpected content in the end of the instance section")
	}
	return instances, nil
}
