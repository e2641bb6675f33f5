package wasm

import (
	"github.com/wippyai/wasm-toolkit/errors"
)

// Instruction represents one decoded WebAssembly instruction with its
// immediates.
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm holds the block type for block, loop, if, and try instructions.
type BlockImm struct {
	Type int32 // -64=void, -1=i32, -2=i64, -3=f32, -4=f64, -5=v128, >=0=type index
}

// BranchImm holds the label index for br, br_if, rethrow, and delegate.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// MemoryIdxImm holds the memory index for memory.size and memory.grow.
type MemoryIdxImm struct {
	MemIdx uint32
}

// TableImm holds the table index for table.get and table.set.
type TableImm struct {
	TableIdx uint32
}

// I32Imm holds the constant value for i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for f32.const.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant value for f64.const.
type F64Imm struct {
	Value float64
}

// RefNullImm holds the reference type for ref.null.
type RefNullImm struct {
	Type ValType
}

// RefFuncImm holds the function index for ref.func.
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds value types for the typed select instruction.
type SelectTypeImm struct {
	Types []ValType
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// SIMDImm holds SIMD instruction immediates.
type SIMDImm struct {
	MemArg    *MemoryImm
	LaneIdx   *byte
	V128Bytes []byte
	SubOpcode uint32
}

// AtomicImm holds atomic instruction immediates.
type AtomicImm struct {
	MemArg    *MemoryImm
	SubOpcode uint32
}

// ThrowImm holds the tag index for throw and catch.
type ThrowImm struct {
	TagIdx uint32
}

// Multi-memory memarg bit flag
const memArgMultiMemBit = 0x40

// readMemArg reads a memarg. If bit 6 of the align field is set, a separate
// memory index follows.
func readMemArg(r *Reader) (MemoryImm, error) {
	alignRaw, err := r.ReadVarU32()
	if err != nil {
		return MemoryImm{}, err
	}

	var memIdx uint32
	if alignRaw&memArgMultiMemBit != 0 {
		memIdx, err = r.ReadVarU32()
		if err != nil {
			return MemoryImm{}, err
		}
	}

	offset, err := r.ReadVarU64()
	if err != nil {
		return MemoryImm{}, err
	}

	return MemoryImm{
		Align:  alignRaw & ^uint32(memArgMultiMemBit),
		Offset: offset,
		MemIdx: memIdx,
	}, nil
}

// ReadOperator decodes one instruction plus immediates from the reader.
func (r *Reader) ReadOperator() (Instruction, error) {
	opOffset := r.OriginalPosition()
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}

	instr := Instruction{Opcode: op}

	switch op {
	case OpBlock, OpLoop, OpIf, OpTry:
		bt, err := r.ReadVarS32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BlockImm{Type: bt}

	case OpCatch, OpThrow:
		tagIdx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = ThrowImm{TagIdx: tagIdx}

	case OpRethrow, OpDelegate:
		labelIdx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BranchImm{LabelIdx: labelIdx}

	case OpBr, OpBrIf:
		idx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BranchImm{LabelIdx: idx}

	case OpBrTable:
		count, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		if int(count) > r.Len() {
			return Instruction{}, errors.Malformed(opOffset, "br_table target count %d larger than remaining input", count)
		}
		labels := make([]uint32, count)
		for i := uint32(0); i < count; i++ {
			labels[i], err = r.ReadVarU32()
			if err != nil {
				return Instruction{}, err
			}
		}
		def, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case OpCall, OpReturnCall:
		idx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = CallImm{FuncIdx: idx}

	case OpCallIndirect, OpReturnCallIndirect:
		typeIdx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		tableIdx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case OpTableGet, OpTableSet:
		idx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = TableImm{TableIdx: idx}

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		memImm, err := readMemArg(r)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = memImm

	case OpMemorySize, OpMemoryGrow:
		memIdx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = MemoryIdxImm{MemIdx: memIdx}

	case OpI32Const:
		val, err := r.ReadVarS32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = I32Imm{Value: val}

	case OpI64Const:
		val, err := r.ReadVarS64()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = I64Imm{Value: val}

	case OpF32Const:
		val, err := r.ReadF32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = F32Imm{Value: val}

	case OpF64Const:
		val, err := r.ReadF64()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = F64Imm{Value: val}

	case OpRefNull:
		t, err := r.ReadRefType()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = RefNullImm{Type: t}

	case OpRefFunc:
		funcIdx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = RefFuncImm{FuncIdx: funcIdx}

	case OpSelectType:
		count, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		if int(count) > r.Len() {
			return Instruction{}, errors.Malformed(opOffset, "select type count %d larger than remaining input", count)
		}
		types := make([]ValType, count)
		for i := uint32(0); i < count; i++ {
			types[i], err = r.ReadValType()
			if err != nil {
				return Instruction{}, err
			}
		}
		instr.Imm = SelectTypeImm{Types: types}

	// Instructions with no immediates
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect,
		OpRefIsNull, OpCatchAll,
		OpI32Eqz, OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
		OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU,
		OpI64Eqz, OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU,
		OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU,
		OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge,
		OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge,
		OpI32Clz, OpI32Ctz, OpI32Popcnt, OpI32Add, OpI32Sub, OpI32Mul,
		OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU, OpI32And, OpI32Or, OpI32Xor,
		OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr,
		OpI64Clz, OpI64Ctz, OpI64Popcnt, OpI64Add, OpI64Sub, OpI64Mul,
		OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU, OpI64And, OpI64Or, OpI64Xor,
		OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr,
		OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt,
		OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign,
		OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt,
		OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign,
		OpI32WrapI64, OpI32TruncF32S, OpI32TruncF32U, OpI32TruncF64S, OpI32TruncF64U,
		OpI64ExtendI32S, OpI64ExtendI32U, OpI64TruncF32S, OpI64TruncF32U,
		OpI64TruncF64S, OpI64TruncF64U,
		OpF32ConvertI32S, OpF32ConvertI32U, OpF32ConvertI64S, OpF32ConvertI64U, OpF32DemoteF64,
		OpF64ConvertI32S, OpF64ConvertI32U, OpF64ConvertI64S, OpF64ConvertI64U, OpF64PromoteF32,
		OpI32ReinterpretF32, OpI64ReinterpretF64, OpF32ReinterpretI32, OpF64ReinterpretI64,
		OpI32Extend8S, OpI32Extend16S, OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
		// No immediate

	case OpPrefixMisc:
		imm, err := readMiscImmediate(r, opOffset)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = imm

	case OpPrefixSIMD:
		imm, err := readSIMDImmediate(r, opOffset)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = imm

	case OpPrefixAtomic:
		imm, err := readAtomicImmediate(r, opOffset)
		if err != nil {
			return Instruction{}, err
		}
		instr.Imm = imm

	default:
		return Instruction{}, errors.Malformed(opOffset, "unknown opcode: 0x%02x", op)
	}

	return instr, nil
}

func readMiscImmediate(r *Reader, opOffset int) (MiscImm, error) {
	subOp, err := r.ReadVarU32()
	if err != nil {
		return MiscImm{}, err
	}
	imm := MiscImm{SubOpcode: subOp}
	readOperands := func(n int) error {
		imm.Operands = make([]uint32, n)
		for i := 0; i < n; i++ {
			imm.Operands[i], err = r.ReadVarU32()
			if err != nil {
				return err
			}
		}
		return nil
	}

	switch subOp {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U,
		MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U,
		MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		// Saturating truncations: no operands
		return imm, nil
	case MiscMemoryInit, MiscMemoryCopy, MiscTableInit, MiscTableCopy:
		return imm, readOperands(2)
	case MiscDataDrop, MiscMemoryFill, MiscElemDrop,
		MiscTableGrow, MiscTableSize, MiscTableFill:
		return imm, readOperands(1)
	default:
		return MiscImm{}, errors.Malformed(opOffset, "unknown 0xfc sub-opcode: 0x%02x", subOp)
	}
}

func readSIMDImmediate(r *Reader, opOffset int) (SIMDImm, error) {
	subOp, err := r.ReadVarU32()
	if err != nil {
		return SIMDImm{}, err
	}

	imm := SIMDImm{SubOpcode: subOp}

	switch {
	case subOp <= SimdV128Load64Splat || subOp == SimdV128Store ||
		subOp == SimdV128Load32Zero || subOp == SimdV128Load64Zero:
		memArg, err := readMemArg(r)
		if err != nil {
			return SIMDImm{}, err
		}
		imm.MemArg = &memArg

	case subOp == SimdV128Const, subOp == SimdI8x16Shuffle:
		raw, err := r.ReadBytes(16)
		if err != nil {
			return SIMDImm{}, err
		}
		imm.V128Bytes = raw

	case subOp >= SimdI8x16ExtractLaneS && subOp <= SimdF64x2ReplaceLane:
		b, err := r.ReadByte()
		if err != nil {
			return SIMDImm{}, err
		}
		imm.LaneIdx = &b

	case subOp >= SimdV128Load8Lane && subOp <= SimdV128Store64Lane:
		memArg, err := readMemArg(r)
		if err != nil {
			return SIMDImm{}, err
		}
		imm.MemArg = &memArg
		b, err := r.ReadByte()
		if err != nil {
			return SIMDImm{}, err
		}
		imm.LaneIdx = &b

	case subOp < SimdLastOpcode || (subOp >= SimdRelaxedFirst && subOp <= SimdRelaxedLast):
		// Remaining SIMD instructions carry no immediates

	default:
		return SIMDImm{}, errors.Malformed(opOffset, "unknown 0xfd sub-opcode: 0x%02x", subOp)
	}

	return imm, nil
}

func readAtomicImmediate(r *Reader, opOffset int) (AtomicImm, error) {
	subOp, err := r.ReadVarU32()
	if err != nil {
		return AtomicImm{}, err
	}

	imm := AtomicImm{SubOpcode: subOp}

	if subOp == AtomicFence {
		// atomic.fence has a single reserved byte
		if _, err := r.ReadByte(); err != nil {
			return AtomicImm{}, err
		}
		return imm, nil
	}

	valid := subOp <= AtomicWait64 || (subOp >= AtomicI32Load && subOp <= AtomicRmwLast)
	if !valid {
		return AtomicImm{}, errors.Malformed(opOffset, "unknown 0xfe sub-opcode: 0x%02x", subOp)
	}

	memArg, err := readMemArg(r)
	if err != nil {
		return AtomicImm{}, err
	}
	imm.MemArg = &memArg
	return imm, nil
}
