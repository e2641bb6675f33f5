package wasm

import (
	"github.com/wippyai/wasm-toolkit/errors"
)

// step applies one decoded instruction to the validation state.
func (st *funcState) step(instr Instruction) error {
	switch instr.Opcode {
	case OpUnreachable:
		st.setUnreachable()
	case OpNop:

	case OpBlock, OpLoop:
		imm := instr.Imm.(BlockImm)
		in, out, err := st.blockTypes(imm.Type)
		if err != nil {
			return err
		}
		if err := st.popVals(in); err != nil {
			return err
		}
		st.pushCtrl(instr.Opcode, in, out)

	case OpIf:
		imm := instr.Imm.(BlockImm)
		in, out, err := st.blockTypes(imm.Type)
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		if err := st.popVals(in); err != nil {
			return err
		}
		st.pushCtrl(OpIf, in, out)

	case OpElse:
		frame, err := st.popCtrl()
		if err != nil {
			return err
		}
		if frame.opcode != OpIf {
			return st.invalid("else found outside of an if block")
		}
		st.pushCtrl(OpElse, frame.startTypes, frame.endTypes)

	case OpEnd:
		frame, err := st.popCtrl()
		if err != nil {
			return err
		}
		// An if without else must have matching input and output types.
		if frame.opcode == OpIf && len(frame.startTypes) != len(frame.endTypes) {
			return st.invalid("type mismatch: if block without else cannot change the stack")
		}
		if frame.opcode == OpIf {
			for i := range frame.startTypes {
				if frame.startTypes[i] != frame.endTypes[i] {
					return st.invalid("type mismatch: if block without else cannot change the stack")
				}
			}
		}
		st.pushVals(frame.endTypes)

	case OpBr:
		imm := instr.Imm.(BranchImm)
		frame, err := st.frameAt(imm.LabelIdx)
		if err != nil {
			return err
		}
		if err := st.popVals(labelTypes(frame)); err != nil {
			return err
		}
		st.setUnreachable()

	case OpBrIf:
		imm := instr.Imm.(BranchImm)
		frame, err := st.frameAt(imm.LabelIdx)
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		types := labelTypes(frame)
		if err := st.popVals(types); err != nil {
			return err
		}
		st.pushVals(types)

	case OpBrTable:
		imm := instr.Imm.(BrTableImm)
		defFrame, err := st.frameAt(imm.Default)
		if err != nil {
			return err
		}
		defTypes := labelTypes(defFrame)
		for _, label := range imm.Labels {
			frame, err := st.frameAt(label)
			if err != nil {
				return err
			}
			types := labelTypes(frame)
			if len(types) != len(defTypes) {
				return st.invalid("type mismatch: br_table target labels have inconsistent arities")
			}
			for i := range types {
				if types[i] != defTypes[i] {
					return st.invalid("type mismatch: br_table target labels have inconsistent types")
				}
			}
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		if err := st.popVals(defTypes); err != nil {
			return err
		}
		st.setUnreachable()

	case OpReturn:
		if err := st.popVals(st.fv.ty.Results); err != nil {
			return err
		}
		st.setUnreachable()

	case OpCall:
		imm := instr.Imm.(CallImm)
		ft, err := st.funcIdxType(imm.FuncIdx)
		if err != nil {
			return err
		}
		return st.checkCall(ft)

	case OpCallIndirect:
		imm := instr.Imm.(CallIndirectImm)
		table, err := st.tableAt(imm.TableIdx)
		if err != nil {
			return err
		}
		if table.ElemType != ValFuncRef {
			return st.invalid("indirect calls must go through a table of funcref")
		}
		ft, err := st.funcTypeAt(imm.TypeIdx)
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		return st.checkCall(ft)

	case OpReturnCall:
		imm := instr.Imm.(CallImm)
		ft, err := st.funcIdxType(imm.FuncIdx)
		if err != nil {
			return err
		}
		return st.checkReturnCall(ft)

	case OpReturnCallIndirect:
		imm := instr.Imm.(CallIndirectImm)
		table, err := st.tableAt(imm.TableIdx)
		if err != nil {
			return err
		}
		if table.ElemType != ValFuncRef {
			return st.invalid("indirect calls must go through a table of funcref")
		}
		ft, err := st.funcTypeAt(imm.TypeIdx)
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		return st.checkReturnCall(ft)

	case OpDrop:
		_, err := st.popVal()
		return err

	case OpSelect:
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		a, err := st.popVal()
		if err != nil {
			return err
		}
		b, err := st.popVal()
		if err != nil {
			return err
		}
		if a.known && a.t.IsRef() || b.known && b.t.IsRef() {
			return st.invalid("type mismatch: select only takes numeric or vector operands")
		}
		if a.known && b.known && a.t != b.t {
			return st.invalid("type mismatch: select operands differ, %s versus %s", a.t, b.t)
		}
		if a.known {
			st.vals = append(st.vals, a)
		} else {
			st.vals = append(st.vals, b)
		}

	case OpSelectType:
		imm := instr.Imm.(SelectTypeImm)
		if !st.fv.features.ReferenceTypes {
			return errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		if len(imm.Types) != 1 {
			return st.invalid("invalid result arity for select")
		}
		t := imm.Types[0]
		if err := st.fv.features.CheckValType(t, st.offset); err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		if err := st.popExpected(t); err != nil {
			return err
		}
		if err := st.popExpected(t); err != nil {
			return err
		}
		st.pushVal(t)

	case OpLocalGet:
		imm := instr.Imm.(LocalImm)
		t, err := st.localAt(imm.LocalIdx)
		if err != nil {
			return err
		}
		st.pushVal(t)

	case OpLocalSet:
		imm := instr.Imm.(LocalImm)
		t, err := st.localAt(imm.LocalIdx)
		if err != nil {
			return err
		}
		return st.popExpected(t)

	case OpLocalTee:
		imm := instr.Imm.(LocalImm)
		t, err := st.localAt(imm.LocalIdx)
		if err != nil {
			return err
		}
		if err := st.popExpected(t); err != nil {
			return err
		}
		st.pushVal(t)

	case OpGlobalGet:
		imm := instr.Imm.(GlobalImm)
		g, err := st.globalAt(imm.GlobalIdx)
		if err != nil {
			return err
		}
		st.pushVal(g.ValType)

	case OpGlobalSet:
		imm := instr.Imm.(GlobalImm)
		g, err := st.globalAt(imm.GlobalIdx)
		if err != nil {
			return err
		}
		if !g.Mutable {
			return st.invalid("global %d is immutable: cannot modify it with global.set", imm.GlobalIdx)
		}
		return st.popExpected(g.ValType)

	case OpTableGet:
		imm := instr.Imm.(TableImm)
		if !st.fv.features.ReferenceTypes {
			return errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		table, err := st.tableAt(imm.TableIdx)
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		st.pushVal(table.ElemType)

	case OpTableSet:
		imm := instr.Imm.(TableImm)
		if !st.fv.features.ReferenceTypes {
			return errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		table, err := st.tableAt(imm.TableIdx)
		if err != nil {
			return err
		}
		if err := st.popExpected(table.ElemType); err != nil {
			return err
		}
		return st.popExpected(ValI32)

	// Memory loads
	case OpI32Load:
		return st.load(instr.Imm.(MemoryImm), 2, ValI32)
	case OpI64Load:
		return st.load(instr.Imm.(MemoryImm), 3, ValI64)
	case OpF32Load:
		return st.load(instr.Imm.(MemoryImm), 2, ValF32)
	case OpF64Load:
		return st.load(instr.Imm.(MemoryImm), 3, ValF64)
	case OpI32Load8S, OpI32Load8U:
		return st.load(instr.Imm.(MemoryImm), 0, ValI32)
	case OpI32Load16S, OpI32Load16U:
		return st.load(instr.Imm.(MemoryImm), 1, ValI32)
	case OpI64Load8S, OpI64Load8U:
		return st.load(instr.Imm.(MemoryImm), 0, ValI64)
	case OpI64Load16S, OpI64Load16U:
		return st.load(instr.Imm.(MemoryImm), 1, ValI64)
	case OpI64Load32S, OpI64Load32U:
		return st.load(instr.Imm.(MemoryImm), 2, ValI64)

	// Memory stores
	case OpI32Store:
		return st.store(instr.Imm.(MemoryImm), 2, ValI32)
	case OpI64Store:
		return st.store(instr.Imm.(MemoryImm), 3, ValI64)
	case OpF32Store:
		return st.store(instr.Imm.(MemoryImm), 2, ValF32)
	case OpF64Store:
		return st.store(instr.Imm.(MemoryImm), 3, ValF64)
	case OpI32Store8:
		return st.store(instr.Imm.(MemoryImm), 0, ValI32)
	case OpI32Store16:
		return st.store(instr.Imm.(MemoryImm), 1, ValI32)
	case OpI64Store8:
		return st.store(instr.Imm.(MemoryImm), 0, ValI64)
	case OpI64Store16:
		return st.store(instr.Imm.(MemoryImm), 1, ValI64)
	case OpI64Store32:
		return st.store(instr.Imm.(MemoryImm), 2, ValI64)

	case OpMemorySize:
		imm := instr.Imm.(MemoryIdxImm)
		mem, err := st.memoryAt(imm.MemIdx)
		if err != nil {
			return err
		}
		st.pushVal(indexType(mem))

	case OpMemoryGrow:
		imm := instr.Imm.(MemoryIdxImm)
		mem, err := st.memoryAt(imm.MemIdx)
		if err != nil {
			return err
		}
		if err := st.popExpected(indexType(mem)); err != nil {
			return err
		}
		st.pushVal(indexType(mem))

	case OpI32Const:
		st.pushVal(ValI32)
	case OpI64Const:
		st.pushVal(ValI64)
	case OpF32Const:
		st.pushVal(ValF32)
	case OpF64Const:
		st.pushVal(ValF64)

	case OpRefNull:
		if !st.fv.features.ReferenceTypes {
			return errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		st.pushVal(instr.Imm.(RefNullImm).Type)

	case OpRefIsNull:
		if !st.fv.features.ReferenceTypes {
			return errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		v, err := st.popVal()
		if err != nil {
			return err
		}
		if v.known && !v.t.IsRef() {
			return st.invalid("type mismatch: ref.is_null requires a reference operand")
		}
		st.pushVal(ValI32)

	case OpRefFunc:
		if !st.fv.features.ReferenceTypes {
			return errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		imm := instr.Imm.(RefFuncImm)
		if int(imm.FuncIdx) >= len(st.fv.res.funcs) {
			return st.invalid("unknown function %d: function index out of bounds", imm.FuncIdx)
		}
		if _, ok := st.fv.res.declaredFuncs[imm.FuncIdx]; !ok {
			return st.invalid("undeclared function reference %d", imm.FuncIdx)
		}
		st.pushVal(ValFuncRef)

	// i32 tests and comparisons
	case OpI32Eqz:
		return st.convert(ValI32, ValI32)
	case OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
		OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU:
		return st.cmp(ValI32)

	// i64 tests and comparisons
	case OpI64Eqz:
		return st.convert(ValI64, ValI32)
	case OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU,
		OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU:
		return st.cmp(ValI64)

	case OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge:
		return st.cmp(ValF32)
	case OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge:
		return st.cmp(ValF64)

	// i32 arithmetic
	case OpI32Clz, OpI32Ctz, OpI32Popcnt:
		return st.unop(ValI32)
	case OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU,
		OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr:
		return st.binop(ValI32)

	// i64 arithmetic
	case OpI64Clz, OpI64Ctz, OpI64Popcnt:
		return st.unop(ValI64)
	case OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU,
		OpI64And, OpI64Or, OpI64Xor, OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr:
		return st.binop(ValI64)

	// f32 arithmetic
	case OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt:
		return st.unop(ValF32)
	case OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign:
		return st.binop(ValF32)

	// f64 arithmetic
	case OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt:
		return st.unop(ValF64)
	case OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign:
		return st.binop(ValF64)

	// Conversions
	case OpI32WrapI64:
		return st.convert(ValI64, ValI32)
	case OpI32TruncF32S, OpI32TruncF32U:
		return st.convert(ValF32, ValI32)
	case OpI32TruncF64S, OpI32TruncF64U:
		return st.convert(ValF64, ValI32)
	case OpI64ExtendI32S, OpI64ExtendI32U:
		return st.convert(ValI32, ValI64)
	case OpI64TruncF32S, OpI64TruncF32U:
		return st.convert(ValF32, ValI64)
	case OpI64TruncF64S, OpI64TruncF64U:
		return st.convert(ValF64, ValI64)
	case OpF32ConvertI32S, OpF32ConvertI32U:
		return st.convert(ValI32, ValF32)
	case OpF32ConvertI64S, OpF32ConvertI64U:
		return st.convert(ValI64, ValF32)
	case OpF32DemoteF64:
		return st.convert(ValF64, ValF32)
	case OpF64ConvertI32S, OpF64ConvertI32U:
		return st.convert(ValI32, ValF64)
	case OpF64ConvertI64S, OpF64ConvertI64U:
		return st.convert(ValI64, ValF64)
	case OpF64PromoteF32:
		return st.convert(ValF32, ValF64)
	case OpI32ReinterpretF32:
		return st.convert(ValF32, ValI32)
	case OpI64ReinterpretF64:
		return st.convert(ValF64, ValI64)
	case OpF32ReinterpretI32:
		return st.convert(ValI32, ValF32)
	case OpF64ReinterpretI64:
		return st.convert(ValI64, ValF64)

	// Sign extension
	case OpI32Extend8S, OpI32Extend16S:
		if !st.fv.features.SignExtension {
			return errors.Unsupported(st.offset, "sign extension operations support is not enabled")
		}
		return st.unop(ValI32)
	case OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
		if !st.fv.features.SignExtension {
			return errors.Unsupported(st.offset, "sign extension operations support is not enabled")
		}
		return st.unop(ValI64)

	// Exception handling
	case OpTry:
		if !st.fv.features.Exceptions {
			return errors.Unsupported(st.offset, "exceptions support is not enabled")
		}
		imm := instr.Imm.(BlockImm)
		in, out, err := st.blockTypes(imm.Type)
		if err != nil {
			return err
		}
		if err := st.popVals(in); err != nil {
			return err
		}
		st.pushCtrl(OpTry, in, out)

	case OpCatch:
		if !st.fv.features.Exceptions {
			return errors.Unsupported(st.offset, "exceptions support is not enabled")
		}
		imm := instr.Imm.(ThrowImm)
		tagType, err := st.tagAt(imm.TagIdx)
		if err != nil {
			return err
		}
		frame, err := st.popCtrl()
		if err != nil {
			return err
		}
		if frame.opcode != OpTry && frame.opcode != OpCatch {
			return st.invalid("catch found outside of a try block")
		}
		st.pushCtrl(OpCatch, nil, frame.endTypes)
		st.pushVals(tagType.Params)

	case OpCatchAll:
		if !st.fv.features.Exceptions {
			return errors.Unsupported(st.offset, "exceptions support is not enabled")
		}
		frame, err := st.popCtrl()
		if err != nil {
			return err
		}
		if frame.opcode != OpTry && frame.opcode != OpCatch {
			return st.invalid("catch_all found outside of a try block")
		}
		st.pushCtrl(OpCatch, nil, frame.endTypes)

	case OpThrow:
		if !st.fv.features.Exceptions {
			return errors.Unsupported(st.offset, "exceptions support is not enabled")
		}
		imm := instr.Imm.(ThrowImm)
		tagType, err := st.tagAt(imm.TagIdx)
		if err != nil {
			return err
		}
		if err := st.popVals(tagType.Params); err != nil {
			return err
		}
		st.setUnreachable()

	case OpRethrow:
		if !st.fv.features.Exceptions {
			return errors.Unsupported(st.offset, "exceptions support is not enabled")
		}
		imm := instr.Imm.(BranchImm)
		frame, err := st.frameAt(imm.LabelIdx)
		if err != nil {
			return err
		}
		if frame.opcode != OpCatch {
			return st.invalid("rethrow label must target a catch block")
		}
		st.setUnreachable()

	case OpDelegate:
		if !st.fv.features.Exceptions {
			return errors.Unsupported(st.offset, "exceptions support is not enabled")
		}
		imm := instr.Imm.(BranchImm)
		frame, err := st.popCtrl()
		if err != nil {
			return err
		}
		if frame.opcode != OpTry {
			return st.invalid("delegate found outside of a try block")
		}
		// The delegate target is relative to the frame just popped.
		if int(imm.LabelIdx) > len(st.ctrl) {
			return st.invalid("unknown label: delegate depth %d exceeds control stack height", imm.LabelIdx)
		}
		st.pushVals(frame.endTypes)

	case OpPrefixMisc:
		return st.stepMisc(instr.Imm.(MiscImm))
	case OpPrefixSIMD:
		return st.stepSIMD(instr.Imm.(SIMDImm))
	case OpPrefixAtomic:
		return st.stepAtomic(instr.Imm.(AtomicImm))

	default:
		return errors.Malformed(st.offset, "unknown opcode: 0x%02x", instr.Opcode)
	}
	return nil
}

func (st *funcState) funcIdxType(funcIdx uint32) (*FuncType, error) {
	if int(funcIdx) >= len(st.fv.res.funcs) {
		return nil, st.invalid("unknown function %d: function index out of bounds", funcIdx)
	}
	ft := st.fv.res.snapshot.FuncAt(st.fv.res.funcs[funcIdx])
	if ft == nil {
		return nil, st.invalid("function %d has no type", funcIdx)
	}
	return ft, nil
}

func (st *funcState) stepMisc(imm MiscImm) error {
	switch imm.SubOpcode {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U:
		if !st.fv.features.SaturatingFloatToInt {
			return errors.Unsupported(st.offset, "saturating float to int conversions support is not enabled")
		}
		return st.convert(ValF32, ValI32)
	case MiscI32TruncSatF64S, MiscI32TruncSatF64U:
		if !st.fv.features.SaturatingFloatToInt {
			return errors.Unsupported(st.offset, "saturating float to int conversions support is not enabled")
		}
		return st.convert(ValF64, ValI32)
	case MiscI64TruncSatF32S, MiscI64TruncSatF32U:
		if !st.fv.features.SaturatingFloatToInt {
			return errors.Unsupported(st.offset, "saturating float to int conversions support is not enabled")
		}
		return st.convert(ValF32, ValI64)
	case MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		if !st.fv.features.SaturatingFloatToInt {
			return errors.Unsupported(st.offset, "saturating float to int conversions support is not enabled")
		}
		return st.convert(ValF64, ValI64)

	case MiscMemoryInit:
		if !st.fv.features.BulkMemory {
			return errors.Unsupported(st.offset, "bulk memory support is not enabled")
		}
		if err := st.checkDataIndex(imm.Operands[0]); err != nil {
			return err
		}
		mem, err := st.memoryAt(imm.Operands[1])
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		return st.popExpected(indexType(mem))

	case MiscDataDrop:
		if !st.fv.features.BulkMemory {
			return errors.Unsupported(st.offset, "bulk memory support is not enabled")
		}
		return st.checkDataIndex(imm.Operands[0])

	case MiscMemoryCopy:
		if !st.fv.features.BulkMemory {
			return errors.Unsupported(st.offset, "bulk memory support is not enabled")
		}
		dst, err := st.memoryAt(imm.Operands[0])
		if err != nil {
			return err
		}
		src, err := st.memoryAt(imm.Operands[1])
		if err != nil {
			return err
		}
		// The length operand takes the narrower of the two index types.
		lenType := ValI32
		if dst.Limits.Memory64 && src.Limits.Memory64 {
			lenType = ValI64
		}
		if err := st.popExpected(lenType); err != nil {
			return err
		}
		if err := st.popExpected(indexType(src)); err != nil {
			return err
		}
		return st.popExpected(indexType(dst))

	case MiscMemoryFill:
		if !st.fv.features.BulkMemory {
			return errors.Unsupported(st.offset, "bulk memory support is not enabled")
		}
		mem, err := st.memoryAt(imm.Operands[0])
		if err != nil {
			return err
		}
		if err := st.popExpected(indexType(mem)); err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		return st.popExpected(indexType(mem))

	case MiscTableInit:
		if !st.fv.features.BulkMemory {
			return errors.Unsupported(st.offset, "bulk memory support is not enabled")
		}
		if err := st.checkElemIndex(imm.Operands[0]); err != nil {
			return err
		}
		table, err := st.tableAt(imm.Operands[1])
		if err != nil {
			return err
		}
		if st.fv.res.elements[imm.Operands[0]] != table.ElemType {
			return st.invalid("type mismatch: element type does not match table element type")
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		return st.popExpected(ValI32)

	case MiscElemDrop:
		if !st.fv.features.BulkMemory {
			return errors.Unsupported(st.offset, "bulk memory support is not enabled")
		}
		return st.checkElemIndex(imm.Operands[0])

	case MiscTableCopy:
		if !st.fv.features.BulkMemory {
			return errors.Unsupported(st.offset, "bulk memory support is not enabled")
		}
		dst, err := st.tableAt(imm.Operands[0])
		if err != nil {
			return err
		}
		src, err := st.tableAt(imm.Operands[1])
		if err != nil {
			return err
		}
		if dst.ElemType != src.ElemType {
			return st.invalid("type mismatch: table element types differ")
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		return st.popExpected(ValI32)

	case MiscTableGrow:
		if !st.fv.features.ReferenceTypes {
			return errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		table, err := st.tableAt(imm.Operands[0])
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		if err := st.popExpected(table.ElemType); err != nil {
			return err
		}
		st.pushVal(ValI32)
		return nil

	case MiscTableSize:
		if !st.fv.features.ReferenceTypes {
			return errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		if _, err := st.tableAt(imm.Operands[0]); err != nil {
			return err
		}
		st.pushVal(ValI32)
		return nil

	case MiscTableFill:
		if !st.fv.features.ReferenceTypes {
			return errors.Unsupported(st.offset, "reference types support is not enabled")
		}
		table, err := st.tableAt(imm.Operands[0])
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		if err := st.popExpected(table.ElemType); err != nil {
			return err
		}
		return st.popExpected(ValI32)

	default:
		return errors.Malformed(st.offset, "unknown 0xfc sub-opcode: 0x%02x", imm.SubOpcode)
	}
}

func (st *funcState) checkDataIndex(idx uint32) error {
	if !st.fv.res.sawDataCount {
		return st.invalid("data count section required")
	}
	if idx >= *st.fv.res.dataCount {
		return st.invalid("unknown data segment %d", idx)
	}
	return nil
}

func (st *funcState) checkElemIndex(idx uint32) error {
	if int(idx) >= len(st.fv.res.elements) {
		return st.invalid("unknown elem segment %d", idx)
	}
	return nil
}

func (st *funcState) stepAtomic(imm AtomicImm) error {
	if !st.fv.features.Threads {
		return errors.Unsupported(st.offset, "threads support is not enabled")
	}

	switch imm.SubOpcode {
	case AtomicFence:
		return nil

	case AtomicNotify:
		addr, err := st.checkMemArg(*imm.MemArg, 2)
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI32); err != nil {
			return err
		}
		if err := st.popExpected(addr); err != nil {
			return err
		}
		st.pushVal(ValI32)
		return nil

	case AtomicWait32, AtomicWait64:
		operand := ValI32
		align := uint32(2)
		if imm.SubOpcode == AtomicWait64 {
			operand = ValI64
			align = 3
		}
		addr, err := st.checkMemArg(*imm.MemArg, align)
		if err != nil {
			return err
		}
		if err := st.popExpected(ValI64); err != nil {
			return err
		}
		if err := st.popExpected(operand); err != nil {
			return err
		}
		if err := st.popExpected(addr); err != nil {
			return err
		}
		st.pushVal(ValI32)
		return nil
	}

	t, align := atomicShape(imm.SubOpcode)
	addr, err := st.checkMemArg(*imm.MemArg, align)
	if err != nil {
		return err
	}

	switch {
	case imm.SubOpcode >= AtomicI32Load && imm.SubOpcode <= AtomicI64Load32U:
		// Atomic loads: [addr] -> [t]
		if err := st.popExpected(addr); err != nil {
			return err
		}
		st.pushVal(t)
	case imm.SubOpcode >= AtomicI32Store && imm.SubOpcode <= AtomicI64Store32:
		// Atomic stores: [addr, t] -> []
		if err := st.popExpected(t); err != nil {
			return err
		}
		return st.popExpected(addr)
	case imm.SubOpcode >= AtomicCmpxchgFirst:
		// Compare-exchange: [addr, t, t] -> [t]
		if err := st.popExpected(t); err != nil {
			return err
		}
		if err := st.popExpected(t); err != nil {
			return err
		}
		if err := st.popExpected(addr); err != nil {
			return err
		}
		st.pushVal(t)
	default:
		// Read-modify-write: [addr, t] -> [t]
		if err := st.popExpected(t); err != nil {
			return err
		}
		if err := st.popExpected(addr); err != nil {
			return err
		}
		st.pushVal(t)
	}
	return nil
}

// atomicShape returns the value type and natural alignment (log2) for an
// atomic load, store, or RMW sub-opcode. The instruction families repeat the
// same seven-wide width pattern: i32, i64, i32/8, i32/16, i64/8, i64/16,
// i64/32.
func atomicShape(subOp uint32) (ValType, uint32) {
	var slot uint32
	switch {
	case subOp >= AtomicI32Load && subOp <= AtomicI64Load32U:
		slot = subOp - AtomicI32Load
	case subOp >= AtomicI32Store && subOp <= AtomicI64Store32:
		slot = subOp - AtomicI32Store
	case subOp >= AtomicRmwFirst && subOp <= AtomicRmwLast:
		slot = (subOp - AtomicRmwFirst) % 7
	default:
		return ValI32, 2
	}
	switch slot {
	case 0:
		return ValI32, 2
	case 1:
		return ValI64, 3
	case 2:
		return ValI32, 0
	case 3:
		return ValI32, 1
	case 4:
		return ValI64, 0
	case 5:
		return ValI64, 1
	default:
		return ValI64, 2
	}
}
